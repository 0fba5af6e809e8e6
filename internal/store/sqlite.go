package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/afi-assist/assist-gateway/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements SessionStore using SQLite. The table is truncated
// when the store is opened, so sessions never outlive the process.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens (or creates) the database at dbPath and clears any
// sessions left by a previous process.
func NewSQLite(dbPath string, opts ...Option) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	o := buildOptions(opts)
	s := &SQLiteStore{db: db, now: o.now}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	res, err := db.Exec(`DELETE FROM sessions`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clear stale sessions: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		slog.Info("Cleared sessions from previous process", "count", n)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		thread_id TEXT PRIMARY KEY,
		user_name TEXT,
		user_email TEXT,
		last_activity INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_last_activity ON sessions(last_activity);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Create registers a session for a new thread.
func (s *SQLiteStore) Create(ctx context.Context, threadID string, user domain.UserInfo) (domain.Session, error) {
	sess := domain.Session{ThreadID: threadID, User: user.Normalize(), LastActivity: s.now()}
	query := `
	INSERT INTO sessions (thread_id, user_name, user_email, last_activity)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(thread_id) DO UPDATE SET
		user_name = excluded.user_name,
		user_email = excluded.user_email,
		last_activity = excluded.last_activity`

	err := withBusyRetry(ctx, "create session", func() error {
		_, err := s.db.ExecContext(ctx, query,
			threadID, nullString(sess.User.Name), nullString(sess.User.Email),
			sess.LastActivity.UnixNano(),
		)
		return err
	})
	if err != nil {
		return domain.Session{}, err
	}
	return sess, nil
}

// Get retrieves the session for a thread, or nil if none exists.
func (s *SQLiteStore) Get(ctx context.Context, threadID string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT thread_id, user_name, user_email, last_activity FROM sessions WHERE thread_id = ?`,
		threadID)

	var sess domain.Session
	var name, email sql.NullString
	var last int64
	err := row.Scan(&sess.ThreadID, &name, &email, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	sess.User = domain.UserInfo{Name: name.String, Email: email.String}
	sess.LastActivity = time.Unix(0, last)
	return &sess, nil
}

// Touch refreshes LastActivity for an existing session.
func (s *SQLiteStore) Touch(ctx context.Context, threadID string) error {
	return withBusyRetry(ctx, "touch session", func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE sessions SET last_activity = ? WHERE thread_id = ?`,
			s.now().UnixNano(), threadID)
		return err
	})
}

// SetEmail updates the email, inserting a nameless session when absent.
func (s *SQLiteStore) SetEmail(ctx context.Context, threadID, email string) (domain.Session, error) {
	query := `
	INSERT INTO sessions (thread_id, user_name, user_email, last_activity)
	VALUES (?, NULL, ?, ?)
	ON CONFLICT(thread_id) DO UPDATE SET
		user_email = excluded.user_email,
		last_activity = excluded.last_activity`

	err := withBusyRetry(ctx, "set session email", func() error {
		_, err := s.db.ExecContext(ctx, query, threadID, nullString(email), s.now().UnixNano())
		return err
	})
	if err != nil {
		return domain.Session{}, err
	}

	sess, err := s.Get(ctx, threadID)
	if err != nil {
		return domain.Session{}, err
	}
	if sess == nil {
		return domain.Session{}, fmt.Errorf("session %s vanished after update", threadID)
	}
	return *sess, nil
}

// Expire removes sessions idle since before cutoff.
func (s *SQLiteStore) Expire(ctx context.Context, cutoff time.Time) ([]string, error) {
	var removed []string
	err := withBusyRetry(ctx, "expire sessions", func() error {
		removed = removed[:0]
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		rows, err := tx.QueryContext(ctx,
			`SELECT thread_id FROM sessions WHERE last_activity < ?`, cutoff.UnixNano())
		if err != nil {
			return err
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return err
			}
			removed = append(removed, id)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM sessions WHERE last_activity < ?`, cutoff.UnixNano()); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// Count returns the number of sessions held.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// isConflict reports SQLite lock contention, which is worth retrying.
func isConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// withBusyRetry runs fn, retrying with exponential backoff while SQLite
// reports lock contention.
func withBusyRetry(ctx context.Context, op string, fn func() error) error {
	const maxRetries = 3
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if !isConflict(err) || i == maxRetries-1 {
			break
		}

		delay := baseDelay * time.Duration(1<<i) // 50ms, 100ms
		slog.Debug("SQLite busy, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

var _ SessionStore = (*SQLiteStore)(nil)
