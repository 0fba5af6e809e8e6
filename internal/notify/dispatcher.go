// Package notify delivers intent notifications to category-specific webhooks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/afi-assist/assist-gateway/internal/apperr"
	"github.com/afi-assist/assist-gateway/internal/domain"
	"github.com/afi-assist/assist-gateway/internal/metrics"
	"github.com/google/uuid"
)

const (
	// DeliveryIDHeader carries a unique ID per delivery attempt.
	DeliveryIDHeader = "X-Delivery-ID"

	defaultTimeout  = 10 * time.Second
	maxResponseBody = 1 << 20 // 1MB
)

// Result describes a completed delivery.
type Result struct {
	DeliveryID string
	Status     int
	// Body is the destination's response as JSON. Non-JSON bodies are
	// wrapped as a JSON string; empty bodies are nil.
	Body json.RawMessage
}

// Dispatcher posts JSON payloads to the destination configured per intent.
// It never retries; callers decide how to surface failures.
type Dispatcher struct {
	client       *http.Client
	destinations map[domain.Intent]string
	source       string
	metrics      *metrics.Recorder
	logger       *slog.Logger
	newID        func() string
	now          func() time.Time
}

// Config configures a Dispatcher.
type Config struct {
	// Destinations maps intent names to webhook URLs.
	Destinations map[string]string
	Timeout      time.Duration
	// Source is stamped on summary notifications.
	Source  string
	Client  *http.Client
	Metrics *metrics.Recorder
	Logger  *slog.Logger
}

// NewDispatcher creates a dispatcher. Destinations for unknown intent names
// are ignored with a warning.
func NewDispatcher(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := &http.Client{}
	if cfg.Client != nil {
		c := *cfg.Client
		client = &c
	}
	client.Timeout = timeout

	destinations := make(map[domain.Intent]string, len(cfg.Destinations))
	for name, url := range cfg.Destinations {
		intent, ok := domain.ParseIntent(name)
		if !ok {
			logger.Warn("Ignoring webhook destination for unknown intent", "intent", name)
			continue
		}
		destinations[intent] = url
	}

	return &Dispatcher{
		client:       client,
		destinations: destinations,
		source:       cfg.Source,
		metrics:      cfg.Metrics,
		logger:       logger,
		newID:        uuid.NewString,
		now:          time.Now,
	}
}

// Destination returns the configured URL for intent.
func (d *Dispatcher) Destination(intent domain.Intent) (string, bool) {
	url, ok := d.destinations[intent]
	return url, ok && url != ""
}

// Dispatch posts payload as JSON to the destination for intent.
func (d *Dispatcher) Dispatch(ctx context.Context, intent domain.Intent, payload any) (*Result, error) {
	url, ok := d.Destination(intent)
	if !ok {
		d.metrics.ObserveNotification(string(intent), "unconfigured")
		return nil, apperr.Configuration("No webhook URL configured for intent: %s", intent)
	}

	op := "notify." + string(intent)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &apperr.Error{Kind: apperr.KindInternal, Op: op, Msg: "encode payload", Err: err}
	}

	deliveryID := d.newID()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Delivery(op, 0, nil, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(DeliveryIDHeader, deliveryID)

	d.logger.Info("Delivering notification", "intent", intent, "delivery_id", deliveryID, "bytes", len(body))

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		d.metrics.ObserveNotification(string(intent), "transport_error")
		d.logger.Error("Notification delivery failed", "intent", intent, "delivery_id", deliveryID, "error", err)
		return nil, apperr.Delivery(op, 0, nil, fmt.Errorf("post webhook: %w", err))
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			d.logger.Debug("Failed to close webhook response body", "error", closeErr)
		}
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		d.metrics.ObserveNotification(string(intent), "transport_error")
		return nil, apperr.Delivery(op, resp.StatusCode, nil, fmt.Errorf("read webhook response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		d.metrics.ObserveNotification(string(intent), "rejected")
		d.logger.Error("Notification rejected by destination",
			"intent", intent,
			"delivery_id", deliveryID,
			"status", resp.StatusCode,
			"body", truncate(string(respBody), 512),
		)
		return nil, apperr.Delivery(op, resp.StatusCode, respBody,
			fmt.Errorf("webhook responded with status %d", resp.StatusCode))
	}

	d.metrics.ObserveNotification(string(intent), "delivered")
	d.logger.Info("Notification delivered",
		"intent", intent,
		"delivery_id", deliveryID,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	res := &Result{DeliveryID: deliveryID, Status: resp.StatusCode}
	if len(bytes.TrimSpace(respBody)) > 0 {
		res.Body = toJSON(respBody)
	}
	return res, nil
}

func toJSON(body []byte) json.RawMessage {
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	quoted, _ := json.Marshal(string(body))
	return quoted
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
