// Package orchestrator coordinates conversation threads with the agent
// service: session bookkeeping, run polling and tool-call handling.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/afi-assist/assist-gateway/internal/apperr"
	"github.com/afi-assist/assist-gateway/internal/assistant"
	"github.com/afi-assist/assist-gateway/internal/convlog"
	"github.com/afi-assist/assist-gateway/internal/domain"
	"github.com/afi-assist/assist-gateway/internal/metrics"
	"github.com/afi-assist/assist-gateway/internal/notify"
	"github.com/afi-assist/assist-gateway/internal/reply"
	"github.com/afi-assist/assist-gateway/internal/store"
)

// Notifier delivers notifications to the per-intent destinations.
type Notifier interface {
	Dispatch(ctx context.Context, intent domain.Intent, payload any) (*notify.Result, error)
	TriggerSummary(ctx context.Context, req notify.SummaryRequest) (*notify.Result, error)
}

// Config holds run timing and behaviour switches.
type Config struct {
	// PollInterval is the wait between run status checks.
	PollInterval time.Duration
	// Deadline bounds a run from creation to completion.
	Deadline time.Duration
	// CancelGrace is the pause after cancelling a stale run.
	CancelGrace time.Duration
	// SettleDelay is the pause after submitting tool outputs.
	SettleDelay time.Duration
	// AutoTrigger sends a summary notification for classified replies.
	AutoTrigger bool
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		PollInterval: time.Second,
		Deadline:     30 * time.Second,
		CancelGrace:  time.Second,
		SettleDelay:  2 * time.Second,
	}
}

// Deps are the collaborators of an Orchestrator. Client, Sessions and
// Notifier are required.
type Deps struct {
	Client   assistant.Client
	Sessions store.SessionStore
	Notifier Notifier
	ConvLog  convlog.Logger
	Metrics  *metrics.Recorder
	Renderer *reply.Renderer
	Logger   *slog.Logger
}

// Orchestrator drives conversation threads.
type Orchestrator struct {
	cfg      Config
	client   assistant.Client
	sessions store.SessionStore
	notifier Notifier
	convlog  convlog.Logger
	metrics  *metrics.Recorder
	renderer *reply.Renderer
	logger   *slog.Logger
	locks    *threadLocks
	now      func() time.Time
}

// New creates an Orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = def.Deadline
	}
	if cfg.CancelGrace < 0 {
		cfg.CancelGrace = 0
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cl := deps.ConvLog
	if cl == nil {
		cl = convlog.Noop{}
	}

	return &Orchestrator{
		cfg:      cfg,
		client:   deps.Client,
		sessions: deps.Sessions,
		notifier: deps.Notifier,
		convlog:  cl,
		metrics:  deps.Metrics,
		renderer: deps.Renderer,
		logger:   logger,
		locks:    newThreadLocks(),
		now:      time.Now,
	}
}

// Reply is the response to one user message.
type Reply struct {
	Text             string           `json:"text"`
	SessionID        string           `json:"sessionId"`
	WrapUp           *string          `json:"wrapUp"`
	Intent           *domain.Intent   `json:"intent"`
	UserInfo         *domain.UserView `json:"userInfo"`
	WebhookTriggered bool             `json:"webhookTriggered"`
	HTML             string           `json:"html,omitempty"`
}

// CreateThread opens a thread, registers its session and, when a name is
// known, tells the agent who the client is. Nothing is rolled back if the
// introduction message fails.
func (o *Orchestrator) CreateThread(ctx context.Context, user domain.UserInfo) (string, error) {
	user = user.Normalize()

	threadID, err := o.client.CreateThread(ctx)
	if err != nil {
		return "", asUpstream("threads.create", err)
	}
	o.logger.Info("Thread created", "thread_id", threadID, "has_name", user.HasName(), "has_email", user.HasEmail())

	if _, err := o.sessions.Create(ctx, threadID, user); err != nil {
		return "", fmt.Errorf("register session: %w", err)
	}
	o.refreshSessionGauge(ctx)

	if user.HasName() {
		intro := "[CLIENT INFO] Name: " + user.Name
		if user.HasEmail() {
			intro += ", Email: " + user.Email
		}
		if err := o.client.AddUserMessage(ctx, threadID, intro); err != nil {
			return "", asUpstream("messages.create", err)
		}
		o.convlog.Log(convlog.Event{
			ThreadID:   threadID,
			Direction:  "inbound",
			EventType:  convlog.EventClientInfo,
			ContentRaw: intro,
		})
	}
	return threadID, nil
}

// UpdateEmail records the client's email and forwards it to the agent.
func (o *Orchestrator) UpdateEmail(ctx context.Context, threadID, email string) (domain.Session, error) {
	threadID = strings.TrimSpace(threadID)
	email = strings.TrimSpace(email)
	if threadID == "" || email == "" {
		return domain.Session{}, apperr.Validation("Thread ID and email are required")
	}

	release, err := o.locks.acquire(ctx, threadID)
	if err != nil {
		return domain.Session{}, err
	}
	defer release()

	sess, err := o.sessions.SetEmail(ctx, threadID, email)
	if err != nil {
		return domain.Session{}, fmt.Errorf("store email: %w", err)
	}
	o.refreshSessionGauge(ctx)

	info := "[CLIENT INFO] Email: " + email
	if err := o.client.AddUserMessage(ctx, threadID, info); err != nil {
		return domain.Session{}, asUpstream("messages.create", err)
	}
	o.convlog.Log(convlog.Event{
		ThreadID:   threadID,
		Direction:  "inbound",
		EventType:  convlog.EventClientInfo,
		ContentRaw: info,
	})

	o.logger.Info("Thread email updated", "thread_id", threadID)
	return sess, nil
}

// SendMessage posts a user message, runs the assistant to completion and
// returns its parsed reply. Calls for the same thread are serialized.
func (o *Orchestrator) SendMessage(ctx context.Context, threadID, text string) (*Reply, error) {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return nil, apperr.Validation("Thread ID is required")
	}
	if strings.TrimSpace(text) == "" {
		return nil, apperr.Validation("Message is required")
	}

	release, err := o.locks.acquire(ctx, threadID)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := o.sessions.Touch(ctx, threadID); err != nil {
		o.logger.Warn("Failed to touch session", "thread_id", threadID, "error", err)
	}
	user := o.userInfo(ctx, threadID)

	o.logger.Info("Sending message", "thread_id", threadID, "message_length", len(text))
	o.convlog.Log(convlog.Event{
		ThreadID:   threadID,
		Direction:  "inbound",
		EventType:  convlog.EventUserMessage,
		ContentRaw: text,
	})

	if err := o.ensureThreadReady(ctx, threadID); err != nil {
		return nil, err
	}
	if err := o.client.AddUserMessage(ctx, threadID, text); err != nil {
		return nil, asUpstream("messages.create", err)
	}

	run, err := o.client.CreateRun(ctx, threadID)
	if err != nil {
		return nil, asUpstream("runs.create", err)
	}
	o.logger.Info("Run created", "thread_id", threadID, "run_id", run.ID, "status", run.Status)

	start := o.now()
	if err := o.awaitRun(ctx, threadID, run); err != nil {
		o.metrics.ObserveRun(runOutcome(err), o.now().Sub(start))
		o.convlog.Log(convlog.Event{
			ThreadID:   threadID,
			RunID:      run.ID,
			Direction:  "internal",
			EventType:  convlog.EventRunFailed,
			ContentRaw: err.Error(),
		})
		return nil, err
	}
	o.metrics.ObserveRun("completed", o.now().Sub(start))

	raw, err := o.client.LatestAssistantMessage(ctx, threadID)
	if err != nil {
		return nil, asUpstream("messages.list", err)
	}
	parsed := reply.Parse(raw)
	if parsed.Intent == nil && parsed.RawIntent != "" {
		o.logger.Warn("Assistant used an unknown intent", "thread_id", threadID, "intent", parsed.RawIntent)
	}

	resp := &Reply{
		Text:      parsed.DisplayText,
		SessionID: threadID,
		WrapUp:    parsed.WrapUp,
		Intent:    parsed.Intent,
	}
	if user != nil {
		view := user.View()
		resp.UserInfo = &view
	}
	if o.renderer != nil {
		resp.HTML = o.renderer.HTML(parsed.DisplayText)
	}
	if o.cfg.AutoTrigger {
		resp.WebhookTriggered = o.autoTrigger(ctx, threadID, parsed, user)
	}

	meta := map[string]any{"run_id": run.ID}
	if parsed.Intent != nil {
		meta["intent"] = string(*parsed.Intent)
	}
	if parsed.WrapUp != nil {
		meta["wrap_up"] = *parsed.WrapUp
	}
	o.convlog.Log(convlog.Event{
		ThreadID:   threadID,
		RunID:      run.ID,
		Direction:  "outbound",
		EventType:  convlog.EventAssistantReply,
		ContentRaw: raw,
		Content:    parsed.DisplayText,
		Meta:       meta,
	})
	return resp, nil
}

// Forget releases per-thread resources once a session has expired.
func (o *Orchestrator) Forget(threadID string) {
	o.convlog.Forget(threadID)
	o.metrics.IncExpiredSessions()
	o.refreshSessionGauge(context.Background())
}

// ensureThreadReady cancels any run still active on the thread so the new
// message never races an earlier turn.
func (o *Orchestrator) ensureThreadReady(ctx context.Context, threadID string) error {
	runs, err := o.client.ListRuns(ctx, threadID)
	if err != nil {
		return asUpstream("runs.list", err)
	}
	for _, run := range runs {
		if !run.Status.Active() {
			continue
		}
		o.logger.Info("Cancelling active run", "thread_id", threadID, "run_id", run.ID, "status", run.Status)
		if err := o.client.CancelRun(ctx, threadID, run.ID); err != nil {
			return asUpstream("runs.cancel", err)
		}
		return sleep(ctx, o.cfg.CancelGrace)
	}
	return nil
}

// autoTrigger sends a summary for replies that carry a known intent and
// either a wrap-up or a non-wrap intent. Failures are logged only.
func (o *Orchestrator) autoTrigger(ctx context.Context, threadID string, parsed reply.Parsed, user *domain.UserInfo) bool {
	if parsed.Intent == nil {
		return false
	}
	intent := *parsed.Intent
	if parsed.WrapUp == nil && intent == domain.IntentWrap {
		return false
	}

	summary := ""
	if parsed.WrapUp != nil {
		summary = *parsed.WrapUp
	} else {
		summary = fmt.Sprintf("Déclenchement %s automatique pour le client %s...", intent, firstRunes(parsed.DisplayText, 100))
	}
	req := notify.SummaryRequest{Intent: string(intent), Summary: summary}
	if user != nil {
		req.ClientEmail = user.Email
		req.ClientName = user.Name
	}

	res, err := o.notifier.TriggerSummary(ctx, req)
	if err != nil {
		o.logger.Error("Automatic summary notification failed", "thread_id", threadID, "intent", intent, "error", err)
		return false
	}
	return res != nil
}

func (o *Orchestrator) userInfo(ctx context.Context, threadID string) *domain.UserInfo {
	sess, err := o.sessions.Get(ctx, threadID)
	if err != nil {
		o.logger.Warn("Failed to load session", "thread_id", threadID, "error", err)
		return nil
	}
	if sess == nil {
		return nil
	}
	return &sess.User
}

func (o *Orchestrator) refreshSessionGauge(ctx context.Context) {
	if o.metrics == nil {
		return
	}
	n, err := o.sessions.Count(ctx)
	if err != nil {
		return
	}
	o.metrics.SetActiveSessions(n)
}

// asUpstream classifies errors from the agent client that are not already
// classified.
func asUpstream(op string, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.Upstream(op, err)
}

func runOutcome(err error) string {
	switch apperr.KindOf(err) {
	case apperr.KindUpstreamTimeout:
		return "timeout"
	case apperr.KindUpstream:
		return "failed"
	default:
		return "aborted"
	}
}

func firstRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
