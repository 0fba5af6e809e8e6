package store

import (
	"context"
	"sync"
	"time"

	"github.com/afi-assist/assist-gateway/internal/domain"
)

// MemoryStore implements SessionStore with a process-local map.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	now      func() time.Time
}

// NewMemory creates an empty in-memory session store.
func NewMemory(opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	return &MemoryStore{
		sessions: make(map[string]*domain.Session),
		now:      o.now,
	}
}

// Create registers a session for a new thread.
func (m *MemoryStore) Create(_ context.Context, threadID string, user domain.UserInfo) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &domain.Session{
		ThreadID:     threadID,
		User:         user.Normalize(),
		LastActivity: m.now(),
	}
	m.sessions[threadID] = s
	return *s, nil
}

// Get returns a copy of the session, or nil if none exists.
func (m *MemoryStore) Get(_ context.Context, threadID string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[threadID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

// Touch refreshes LastActivity for an existing session.
func (m *MemoryStore) Touch(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[threadID]; ok {
		s.LastActivity = m.now()
	}
	return nil
}

// SetEmail updates or creates the session with the given email.
func (m *MemoryStore) SetEmail(_ context.Context, threadID, email string) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[threadID]
	if !ok {
		s = &domain.Session{ThreadID: threadID}
		m.sessions[threadID] = s
	}
	s.User.Email = email
	s.LastActivity = m.now()
	return *s, nil
}

// Expire removes sessions idle since before cutoff.
func (m *MemoryStore) Expire(_ context.Context, cutoff time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []string
	for id, s := range m.sessions {
		if s.LastActivity.Before(cutoff) {
			delete(m.sessions, id)
			removed = append(removed, id)
		}
	}
	return removed, nil
}

// Count returns the number of sessions held.
func (m *MemoryStore) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions), nil
}

// Close drops all sessions.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]*domain.Session)
	return nil
}

var _ SessionStore = (*MemoryStore)(nil)
