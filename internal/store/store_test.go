package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/afi-assist/assist-gateway/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a settable time source shared by a store and its sweeper.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// backends runs a test against every SessionStore implementation.
func backends(t *testing.T, fn func(t *testing.T, s SessionStore, clock *fakeClock)) {
	t.Run("memory", func(t *testing.T) {
		clock := newFakeClock()
		fn(t, NewMemory(WithClock(clock.Now)), clock)
	})
	t.Run("sqlite", func(t *testing.T) {
		clock := newFakeClock()
		s, err := NewSQLite(filepath.Join(t.TempDir(), "sessions.db"), WithClock(clock.Now))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		fn(t, s, clock)
	})
}

func TestCreateAndGet(t *testing.T) {
	backends(t, func(t *testing.T, s SessionStore, clock *fakeClock) {
		ctx := context.Background()

		created, err := s.Create(ctx, "thread_1", domain.UserInfo{Name: " Ana ", Email: "ana@example.com"})
		require.NoError(t, err)
		assert.Equal(t, "Ana", created.User.Name)

		got, err := s.Get(ctx, "thread_1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "thread_1", got.ThreadID)
		assert.Equal(t, domain.UserInfo{Name: "Ana", Email: "ana@example.com"}, got.User)
		assert.True(t, got.LastActivity.Equal(clock.Now()))
	})
}

func TestGetAbsentReturnsNil(t *testing.T) {
	backends(t, func(t *testing.T, s SessionStore, _ *fakeClock) {
		got, err := s.Get(context.Background(), "missing")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestTouchOnlyChangesLastActivity(t *testing.T) {
	backends(t, func(t *testing.T, s SessionStore, clock *fakeClock) {
		ctx := context.Background()
		_, err := s.Create(ctx, "thread_1", domain.UserInfo{Name: "Ana", Email: "ana@example.com"})
		require.NoError(t, err)

		clock.Advance(10 * time.Minute)
		require.NoError(t, s.Touch(ctx, "thread_1"))

		got, err := s.Get(ctx, "thread_1")
		require.NoError(t, err)
		assert.Equal(t, domain.UserInfo{Name: "Ana", Email: "ana@example.com"}, got.User)
		assert.True(t, got.LastActivity.Equal(clock.Now()))
	})
}

func TestTouchAbsentIsNoop(t *testing.T) {
	backends(t, func(t *testing.T, s SessionStore, _ *fakeClock) {
		ctx := context.Background()
		require.NoError(t, s.Touch(ctx, "missing"))

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestSetEmailCreatesWhenAbsent(t *testing.T) {
	backends(t, func(t *testing.T, s SessionStore, _ *fakeClock) {
		sess, err := s.SetEmail(context.Background(), "thread_2", "bo@example.com")
		require.NoError(t, err)
		assert.Equal(t, "", sess.User.Name)
		assert.Equal(t, "bo@example.com", sess.User.Email)
	})
}

func TestSetEmailPreservesName(t *testing.T) {
	backends(t, func(t *testing.T, s SessionStore, _ *fakeClock) {
		ctx := context.Background()
		_, err := s.Create(ctx, "thread_1", domain.UserInfo{Name: "Ana"})
		require.NoError(t, err)

		sess, err := s.SetEmail(ctx, "thread_1", "ana@example.com")
		require.NoError(t, err)
		assert.Equal(t, domain.UserInfo{Name: "Ana", Email: "ana@example.com"}, sess.User)
	})
}

func TestSweepRemovesOnlyIdleSessions(t *testing.T) {
	backends(t, func(t *testing.T, s SessionStore, clock *fakeClock) {
		ctx := context.Background()
		_, err := s.Create(ctx, "idle", domain.UserInfo{Name: "A"})
		require.NoError(t, err)
		_, err = s.Create(ctx, "active", domain.UserInfo{Name: "B"})
		require.NoError(t, err)

		clock.Advance(50 * time.Minute)
		require.NoError(t, s.Touch(ctx, "active"))
		clock.Advance(11 * time.Minute)

		var expired []string
		sw := NewSweeper(s, SweeperConfig{
			TTL:      time.Hour,
			Interval: time.Hour,
			Now:      clock.Now,
			OnExpire: func(id string) { expired = append(expired, id) },
		})

		assert.Equal(t, 1, sw.Sweep(ctx))
		assert.Equal(t, []string{"idle"}, expired)

		gone, err := s.Get(ctx, "idle")
		require.NoError(t, err)
		assert.Nil(t, gone)

		kept, err := s.Get(ctx, "active")
		require.NoError(t, err)
		assert.NotNil(t, kept)
	})
}

func TestSweeperStartStop(t *testing.T) {
	clock := newFakeClock()
	s := NewMemory(WithClock(clock.Now))
	_, err := s.Create(context.Background(), "idle", domain.UserInfo{})
	require.NoError(t, err)
	clock.Advance(2 * time.Hour)

	expired := make(chan string, 1)
	sw := NewSweeper(s, SweeperConfig{
		TTL:      time.Hour,
		Interval: 5 * time.Millisecond,
		Now:      clock.Now,
		OnExpire: func(id string) { expired <- id },
	})
	sw.Start(context.Background())
	sw.Start(context.Background())

	select {
	case id := <-expired:
		assert.Equal(t, "idle", id)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper never expired the idle session")
	}

	sw.Stop()
	sw.Stop()
}

func TestSQLiteClearsSessionsFromPreviousProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	ctx := context.Background()

	first, err := NewSQLite(path)
	require.NoError(t, err)
	_, err = first.Create(ctx, "thread_1", domain.UserInfo{Name: "Ana"})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := NewSQLite(path)
	require.NoError(t, err)
	defer func() { _ = second.Close() }()

	got, err := second.Get(ctx, "thread_1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestIsConflict(t *testing.T) {
	assert.False(t, isConflict(assert.AnError))
	assert.True(t, isConflict(errString("database is locked (5) (SQLITE_BUSY)")))
	assert.False(t, isConflict(nil))
}

type errString string

func (e errString) Error() string { return string(e) }
