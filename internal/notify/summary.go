package notify

import (
	"context"
	"time"

	"github.com/afi-assist/assist-gateway/internal/domain"
)

const (
	defaultClientEmail = "unknown@client.com"
	defaultClientName  = "Unknown Client"
)

// SummaryRequest asks for a conversation summary to be sent for an intent.
type SummaryRequest struct {
	Intent      string `json:"intent"`
	Summary     string `json:"summary"`
	ClientEmail string `json:"client_email"`
	ClientName  string `json:"client_name"`
}

// SummaryPayload is the body posted for summary notifications.
type SummaryPayload struct {
	Intent      domain.Intent `json:"intent"`
	ClientEmail string        `json:"client_email"`
	ClientName  string        `json:"client_name"`
	Summary     string        `json:"summary"`
	Source      string        `json:"source"`
	Timestamp   string        `json:"timestamp"`
}

// TriggerSummary delivers a summary notification. Requests whose intent is
// not a known category are skipped: it returns (nil, nil) without any
// network call, so unclassified turns never reach a destination.
func (d *Dispatcher) TriggerSummary(ctx context.Context, req SummaryRequest) (*Result, error) {
	intent, ok := domain.ParseIntent(req.Intent)
	if !ok {
		d.logger.Info("Skipping summary notification for unrecognized intent", "intent", req.Intent)
		d.metrics.ObserveNotification("unknown", "skipped")
		return nil, nil
	}

	payload := SummaryPayload{
		Intent:      intent,
		ClientEmail: orDefault(req.ClientEmail, defaultClientEmail),
		ClientName:  orDefault(req.ClientName, defaultClientName),
		Summary:     req.Summary,
		Source:      d.source,
		Timestamp:   d.now().UTC().Format(time.RFC3339Nano),
	}
	return d.Dispatch(ctx, intent, payload)
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
