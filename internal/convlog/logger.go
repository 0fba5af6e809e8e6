// Package convlog writes a per-thread NDJSON transcript of each conversation:
// user messages, tool calls, tool outputs and assistant replies.
package convlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Event types recorded by the gateway.
const (
	EventUserMessage    = "user_message"
	EventClientInfo     = "client_info"
	EventToolCall       = "tool_call"
	EventToolOutput     = "tool_output"
	EventAssistantReply = "assistant_reply"
	EventRunFailed      = "run_failed"
)

// Event is one transcript line.
type Event struct {
	Timestamp  string         `json:"timestamp"`
	ThreadID   string         `json:"thread_id"`
	RunID      string         `json:"run_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	ContentRaw string         `json:"content_raw,omitempty"`
	Content    string         `json:"content,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// Logger records conversation events.
type Logger interface {
	Log(event Event)
	// Forget releases any resources held for a thread.
	Forget(threadID string)
	Close() error
}

// Config holds conversation log settings.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

var errNoDir = errors.New("conversation log directory is required")

// New returns an async file logger, or a no-op logger when disabled.
func New(cfg Config, logger *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return Noop{}, nil
	}
	if cfg.Dir == "" {
		return nil, errNoDir
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create conversation log dir: %w", err)
	}

	l := &FileLogger{
		dir:    cfg.Dir,
		queue:  make(chan item, cfg.QueueSize),
		files:  make(map[string]*os.File),
		logger: logger,
		done:   make(chan struct{}),
	}
	go l.run()
	return l, nil
}

// Noop discards every event.
type Noop struct{}

func (Noop) Log(Event)     {}
func (Noop) Forget(string) {}
func (Noop) Close() error  { return nil }

type item struct {
	event  Event
	forget bool
}

// FileLogger appends events to <dir>/<thread>.ndjson from a single writer goroutine.
type FileLogger struct {
	dir    string
	queue  chan item
	logger *slog.Logger

	// files is owned by the writer goroutine.
	files map[string]*os.File

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// Log enqueues an event. Events are dropped when the queue is full.
func (l *FileLogger) Log(event Event) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if event.Content == "" && event.ContentRaw != "" {
		event.Content = cleanForReadability(event.ContentRaw)
	}
	l.enqueue(item{event: event})
}

// Forget closes the transcript file of a thread.
func (l *FileLogger) Forget(threadID string) {
	l.enqueue(item{event: Event{ThreadID: threadID}, forget: true})
}

func (l *FileLogger) enqueue(it item) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- it:
	default:
		l.logger.Warn("Conversation log queue full, dropping event",
			"thread_id", it.event.ThreadID,
			"event_type", it.event.EventType,
		)
	}
}

// Close drains the queue and closes every open file.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	<-l.done
	return nil
}

func (l *FileLogger) run() {
	defer close(l.done)
	for it := range l.queue {
		if it.forget {
			l.closeFile(it.event.ThreadID)
			continue
		}
		if err := l.write(it.event); err != nil {
			l.logger.Warn("Failed to write conversation log", "thread_id", it.event.ThreadID, "error", err)
		}
	}
	for threadID := range l.files {
		l.closeFile(threadID)
	}
}

func (l *FileLogger) write(event Event) error {
	f, err := l.file(event.ThreadID)
	if err != nil {
		return err
	}
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (l *FileLogger) file(threadID string) (*os.File, error) {
	if f, ok := l.files[threadID]; ok {
		return f, nil
	}
	path := filepath.Join(l.dir, safeName(threadID)+".ndjson")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	l.files[threadID] = f
	return f, nil
}

func (l *FileLogger) closeFile(threadID string) {
	f, ok := l.files[threadID]
	if !ok {
		return
	}
	delete(l.files, threadID)
	if err := f.Close(); err != nil {
		l.logger.Warn("Failed to close conversation log", "thread_id", threadID, "error", err)
	}
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

func safeName(threadID string) string {
	name := unsafeChars.ReplaceAllString(threadID, "_")
	if name == "" {
		return "unknown"
	}
	return name
}

var (
	controlChars = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
	blankRuns    = regexp.MustCompile(`\n{3,}`)
)

// cleanForReadability strips control characters and collapses blank runs.
func cleanForReadability(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = controlChars.ReplaceAllString(s, "")
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

var _ Logger = (*FileLogger)(nil)
