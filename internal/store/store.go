// Package store provides the session store interface and its implementations.
package store

import (
	"context"
	"time"

	"github.com/afi-assist/assist-gateway/internal/domain"
)

// SessionStore keeps conversation identity and last-activity time per thread.
// Absent threads are not an error: Get returns (nil, nil) and Touch is a no-op.
type SessionStore interface {
	// Create registers a session for a new thread, replacing any previous one.
	Create(ctx context.Context, threadID string, user domain.UserInfo) (domain.Session, error)

	// Get retrieves the session for a thread.
	Get(ctx context.Context, threadID string) (*domain.Session, error)

	// Touch refreshes LastActivity. Identity fields are never changed.
	Touch(ctx context.Context, threadID string) error

	// SetEmail stores the email for a thread, creating the session with an
	// empty name if it does not exist and preserving the name otherwise.
	SetEmail(ctx context.Context, threadID, email string) (domain.Session, error)

	// Expire removes sessions whose LastActivity is before cutoff and returns
	// their thread IDs.
	Expire(ctx context.Context, cutoff time.Time) ([]string, error)

	// Count returns the number of live sessions.
	Count(ctx context.Context) (int, error)

	// Close releases the store's resources.
	Close() error
}

// Option configures a store implementation.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used for LastActivity.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
