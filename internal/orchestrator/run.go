package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/afi-assist/assist-gateway/internal/apperr"
	"github.com/afi-assist/assist-gateway/internal/assistant"
	"github.com/afi-assist/assist-gateway/internal/convlog"
	"github.com/afi-assist/assist-gateway/internal/domain"
	"github.com/afi-assist/assist-gateway/internal/toolcall"
)

const cancelTimeout = 5 * time.Second

// awaitRun polls a run until it completes, answering tool calls on the way.
// The whole loop, tool calls included, is bounded by cfg.Deadline; on expiry
// the run is cancelled.
func (o *Orchestrator) awaitRun(ctx context.Context, threadID string, run *assistant.Run) error {
	pollCtx, cancel := context.WithTimeout(ctx, o.cfg.Deadline)
	defer cancel()

	current := run
	for {
		switch {
		case current.Status == assistant.RunCompleted:
			return nil
		case current.Status.Failed():
			o.logger.Error("Run ended without completing",
				"thread_id", threadID,
				"run_id", current.ID,
				"status", current.Status,
				"last_error", current.LastError,
			)
			return apperr.Upstream("runs.poll", errors.New(current.Describe()))
		case current.Status == assistant.RunRequiresAction:
			if err := o.answerToolCalls(pollCtx, threadID, current); err != nil {
				return o.abandonRun(ctx, pollCtx, threadID, run.ID, err)
			}
			if err := sleep(pollCtx, o.cfg.SettleDelay); err != nil {
				return o.abandonRun(ctx, pollCtx, threadID, run.ID, err)
			}
		default:
			if err := sleep(pollCtx, o.cfg.PollInterval); err != nil {
				return o.abandonRun(ctx, pollCtx, threadID, run.ID, err)
			}
		}

		next, err := o.client.GetRun(pollCtx, threadID, run.ID)
		if err != nil {
			return o.abandonRun(ctx, pollCtx, threadID, run.ID, asUpstream("runs.retrieve", err))
		}
		if next.Status != current.Status {
			o.logger.Debug("Run status changed", "thread_id", threadID, "run_id", run.ID, "status", next.Status)
		}
		current = next
	}
}

// abandonRun turns a poll-loop failure into the error returned to the
// caller. Deadline expiry cancels the run and becomes an upstream timeout;
// a cancelled caller also cancels the run so the thread is not left busy.
func (o *Orchestrator) abandonRun(ctx, pollCtx context.Context, threadID, runID string, cause error) error {
	timedOut := ctx.Err() == nil && errors.Is(pollCtx.Err(), context.DeadlineExceeded)
	if pollCtx.Err() == nil {
		return cause
	}

	cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
	defer cancel()
	if err := o.client.CancelRun(cancelCtx, threadID, runID); err != nil {
		o.logger.Warn("Failed to cancel run", "thread_id", threadID, "run_id", runID, "error", err)
	}

	if timedOut {
		o.logger.Error("Run timed out", "thread_id", threadID, "run_id", runID, "deadline", o.cfg.Deadline)
		return apperr.Timeout("runs.poll", "Assistant response timed out")
	}
	return fmt.Errorf("await run %s: %w", runID, ctx.Err())
}

// answerToolCalls handles every pending call in order and submits all
// outputs in one request. A failing call yields an error output for that
// call only.
func (o *Orchestrator) answerToolCalls(ctx context.Context, threadID string, run *assistant.Run) error {
	o.logger.Info("Run requires action", "thread_id", threadID, "run_id", run.ID, "tool_calls", len(run.ToolCalls))

	outputs := make([]domain.ToolOutput, 0, len(run.ToolCalls))
	for _, pending := range run.ToolCalls {
		if err := o.sessions.Touch(ctx, threadID); err != nil {
			o.logger.Warn("Failed to touch session", "thread_id", threadID, "error", err)
		}
		var user domain.UserInfo
		if u := o.userInfo(ctx, threadID); u != nil {
			user = *u
		}

		o.convlog.Log(convlog.Event{
			ThreadID:   threadID,
			RunID:      run.ID,
			Direction:  "outbound",
			EventType:  convlog.EventToolCall,
			ContentRaw: pending.Arguments,
			Meta:       map[string]any{"tool_call_id": pending.ID, "action": pending.Name},
		})

		output := o.runToolCall(ctx, threadID, pending, user)
		outputs = append(outputs, domain.ToolOutput{ToolCallID: pending.ID, Output: output})

		o.convlog.Log(convlog.Event{
			ThreadID:   threadID,
			RunID:      run.ID,
			Direction:  "inbound",
			EventType:  convlog.EventToolOutput,
			ContentRaw: output,
			Meta:       map[string]any{"tool_call_id": pending.ID, "action": pending.Name},
		})
	}

	if err := o.client.SubmitToolOutputs(ctx, threadID, run.ID, outputs); err != nil {
		return asUpstream("runs.submit_tool_outputs", err)
	}
	o.logger.Info("Tool outputs submitted", "thread_id", threadID, "run_id", run.ID, "count", len(outputs))
	return nil
}

// runToolCall returns the JSON output for one call. It never fails: every
// problem is reported to the agent inside the output.
func (o *Orchestrator) runToolCall(ctx context.Context, threadID string, pending assistant.PendingCall, user domain.UserInfo) string {
	log := o.logger.With("thread_id", threadID, "tool_call_id", pending.ID, "action", pending.Name)

	args, err := toolcall.DecodeArguments(pending.Arguments)
	if err != nil {
		log.Warn("Tool call has invalid arguments", "error", err)
		o.metrics.ObserveToolCall(pending.Name, "invalid_arguments")
		return errorOutput(pending.ID, err)
	}

	payload, err := toolcall.Normalize(domain.ToolCall{ID: pending.ID, Name: pending.Name, Arguments: args}, user)
	switch {
	case errors.Is(err, toolcall.ErrEmailRequired):
		log.Info("Tool call blocked, no client email")
		o.metrics.ObserveToolCall(pending.Name, "email_required")
		return errorOutput(pending.ID, err)
	case errors.Is(err, toolcall.ErrUnknownAction):
		log.Warn("Unknown tool call")
		o.metrics.ObserveToolCall(pending.Name, "skipped")
		return mustJSON(map[string]any{"skipped": true, "reason": "unknown action " + pending.Name})
	case err != nil:
		log.Error("Tool call normalization failed", "error", err)
		o.metrics.ObserveToolCall(pending.Name, "failed")
		return errorOutput(pending.ID, err)
	}

	res, err := o.notifier.Dispatch(ctx, payload.Intent, payload)
	if err != nil {
		log.Error("Tool call delivery failed", "intent", payload.Intent, "kind", apperr.KindOf(err), "error", err)
		o.metrics.ObserveToolCall(pending.Name, "failed")
		return errorOutput(pending.ID, err)
	}

	o.metrics.ObserveToolCall(pending.Name, "delivered")
	if res == nil {
		return `{"success":true}`
	}
	log.Info("Tool call delivered", "intent", payload.Intent, "delivery_id", res.DeliveryID, "status", res.Status)
	if len(res.Body) == 0 || string(res.Body) == "null" {
		return `{"success":true}`
	}
	return string(res.Body)
}

// errorOutput reports a failed call to the agent as {"error": message}.
func errorOutput(toolCallID string, err error) string {
	return mustJSON(map[string]string{"error": apperr.Message(apperr.ToolCall(toolCallID, err))})
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return `{"error":"failed to encode tool output"}`
	}
	return string(data)
}
