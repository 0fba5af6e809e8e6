package store

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ExpireCallback is called once for every session removed by a sweep.
type ExpireCallback func(threadID string)

// Sweeper periodically removes sessions idle for longer than the TTL.
// Start and Stop bound its goroutine; Sweep may be called directly.
type Sweeper struct {
	store    SessionStore
	ttl      time.Duration
	interval time.Duration
	onExpire ExpireCallback
	now      func() time.Time
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// SweeperConfig configures a Sweeper.
type SweeperConfig struct {
	TTL      time.Duration
	Interval time.Duration
	OnExpire ExpireCallback
	// Now defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

// NewSweeper creates a sweeper over store. It does nothing until Start.
func NewSweeper(store SessionStore, cfg SweeperConfig) *Sweeper {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Sweeper{
		store:    store,
		ttl:      cfg.TTL,
		interval: cfg.Interval,
		onExpire: cfg.OnExpire,
		now:      cfg.Now,
		logger:   cfg.Logger,
	}
}

// Start launches the background sweep loop. Calling Start twice is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	ticker := time.NewTicker(s.interval)
	go func() {
		defer close(s.done)
		defer ticker.Stop()
		s.logger.Info("Session sweeper started", "interval", s.interval, "ttl", s.ttl)

		for {
			select {
			case <-ticker.C:
				s.Sweep(ctx)
			case <-ctx.Done():
				s.logger.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Stop halts the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Sweep removes expired sessions once and returns how many were removed.
func (s *Sweeper) Sweep(ctx context.Context) int {
	cutoff := s.now().Add(-s.ttl)
	removed, err := s.store.Expire(ctx, cutoff)
	if err != nil {
		s.logger.Error("Session sweep failed", "error", err)
		return 0
	}
	if len(removed) == 0 {
		return 0
	}

	for _, threadID := range removed {
		s.logger.Info("Removed inactive session", "thread_id", threadID)
		if s.onExpire != nil {
			s.onExpire(threadID)
		}
	}
	s.logger.Info("Session sweep completed", "removed", len(removed))
	return len(removed)
}
