// Package assistant talks to the external agent service: threads, messages
// and runs that may pause for tool calls.
package assistant

import (
	"context"
	"fmt"

	"github.com/afi-assist/assist-gateway/internal/domain"
)

// RunStatus mirrors the agent service's run states.
type RunStatus string

const (
	RunQueued         RunStatus = "queued"
	RunInProgress     RunStatus = "in_progress"
	RunRequiresAction RunStatus = "requires_action"
	RunCancelling     RunStatus = "cancelling"
	RunCancelled      RunStatus = "cancelled"
	RunFailed         RunStatus = "failed"
	RunCompleted      RunStatus = "completed"
	RunIncomplete     RunStatus = "incomplete"
	RunExpired        RunStatus = "expired"
)

func (s RunStatus) String() string {
	return string(s)
}

// Active reports whether a run still blocks new messages on its thread.
func (s RunStatus) Active() bool {
	switch s {
	case RunQueued, RunInProgress, RunRequiresAction:
		return true
	}
	return false
}

// Failed reports whether the run ended without producing a reply.
func (s RunStatus) Failed() bool {
	switch s {
	case RunCancelled, RunFailed, RunIncomplete, RunExpired:
		return true
	}
	return false
}

// PendingCall is a tool call as the service reports it, arguments still raw JSON.
type PendingCall struct {
	ID        string
	Name      string
	Arguments string
}

// Run is a snapshot of one agent run.
type Run struct {
	ID        string
	Status    RunStatus
	ToolCalls []PendingCall
	LastError string
}

// Client is the subset of the agent service the gateway drives.
type Client interface {
	CreateThread(ctx context.Context) (string, error)
	AddUserMessage(ctx context.Context, threadID, text string) error
	ListRuns(ctx context.Context, threadID string) ([]Run, error)
	CreateRun(ctx context.Context, threadID string) (*Run, error)
	GetRun(ctx context.Context, threadID, runID string) (*Run, error)
	CancelRun(ctx context.Context, threadID, runID string) error
	SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []domain.ToolOutput) error
	// LatestAssistantMessage returns the text of the newest agent-authored message.
	LatestAssistantMessage(ctx context.Context, threadID string) (string, error)
}

// Describe formats a run for logs and error messages.
func (r *Run) Describe() string {
	if r.LastError != "" {
		return fmt.Sprintf("run %s %s: %s", r.ID, r.Status, r.LastError)
	}
	return fmt.Sprintf("run %s %s", r.ID, r.Status)
}
