package assistant

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/afi-assist/assist-gateway/internal/apperr"
	"github.com/afi-assist/assist-gateway/internal/domain"
)

var errNoAssistantMessage = errors.New("thread has no assistant message")

// OpenAIConfig holds configuration for the OpenAI Assistants client.
type OpenAIConfig struct {
	APIKey      string
	AssistantID string
	// BaseURL overrides the API endpoint, mostly for tests and proxies.
	BaseURL    string
	MaxRetries int
}

// OpenAIClient implements Client on the OpenAI Assistants API.
type OpenAIClient struct {
	client      openai.Client
	assistantID string
	logger      *slog.Logger
}

// NewOpenAIClient creates a client bound to one assistant.
func NewOpenAIClient(cfg OpenAIConfig, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIClient{
		client:      openai.NewClient(opts...),
		assistantID: cfg.AssistantID,
		logger:      logger,
	}
}

// CreateThread opens an empty conversation thread.
func (c *OpenAIClient) CreateThread(ctx context.Context) (string, error) {
	thread, err := c.client.Beta.Threads.New(ctx, openai.BetaThreadNewParams{})
	if err != nil {
		return "", upstream("threads.create", err)
	}
	return thread.ID, nil
}

// AddUserMessage appends a user-role message to the thread.
func (c *OpenAIClient) AddUserMessage(ctx context.Context, threadID, text string) error {
	_, err := c.client.Beta.Threads.Messages.New(ctx, threadID, openai.BetaThreadMessageNewParams{
		Role: openai.BetaThreadMessageNewParamsRoleUser,
		Content: openai.BetaThreadMessageNewParamsContentUnion{
			OfString: openai.String(text),
		},
	})
	if err != nil {
		return upstream("messages.create", err)
	}
	return nil
}

// ListRuns returns the most recent runs of a thread.
func (c *OpenAIClient) ListRuns(ctx context.Context, threadID string) ([]Run, error) {
	page, err := c.client.Beta.Threads.Runs.List(ctx, threadID, openai.BetaThreadRunListParams{})
	if err != nil {
		return nil, upstream("runs.list", err)
	}
	runs := make([]Run, 0, len(page.Data))
	for i := range page.Data {
		runs = append(runs, *fromRun(&page.Data[i]))
	}
	return runs, nil
}

// CreateRun starts the configured assistant on the thread.
func (c *OpenAIClient) CreateRun(ctx context.Context, threadID string) (*Run, error) {
	run, err := c.client.Beta.Threads.Runs.New(ctx, threadID, openai.BetaThreadRunNewParams{
		AssistantID: c.assistantID,
	})
	if err != nil {
		return nil, upstream("runs.create", err)
	}
	return fromRun(run), nil
}

// GetRun fetches the current state of a run.
func (c *OpenAIClient) GetRun(ctx context.Context, threadID, runID string) (*Run, error) {
	run, err := c.client.Beta.Threads.Runs.Get(ctx, threadID, runID)
	if err != nil {
		return nil, upstream("runs.retrieve", err)
	}
	return fromRun(run), nil
}

// CancelRun asks the service to cancel a run.
func (c *OpenAIClient) CancelRun(ctx context.Context, threadID, runID string) error {
	if _, err := c.client.Beta.Threads.Runs.Cancel(ctx, threadID, runID); err != nil {
		return upstream("runs.cancel", err)
	}
	return nil
}

// SubmitToolOutputs answers every pending tool call of a run in one request.
func (c *OpenAIClient) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []domain.ToolOutput) error {
	params := openai.BetaThreadRunSubmitToolOutputsParams{
		ToolOutputs: make([]openai.BetaThreadRunSubmitToolOutputsParamsToolOutput, 0, len(outputs)),
	}
	for _, out := range outputs {
		params.ToolOutputs = append(params.ToolOutputs, openai.BetaThreadRunSubmitToolOutputsParamsToolOutput{
			ToolCallID: openai.String(out.ToolCallID),
			Output:     openai.String(out.Output),
		})
	}

	if _, err := c.client.Beta.Threads.Runs.SubmitToolOutputs(ctx, threadID, runID, params); err != nil {
		return upstream("runs.submit_tool_outputs", err)
	}
	return nil
}

// LatestAssistantMessage returns the text parts of the newest assistant message.
func (c *OpenAIClient) LatestAssistantMessage(ctx context.Context, threadID string) (string, error) {
	page, err := c.client.Beta.Threads.Messages.List(ctx, threadID, openai.BetaThreadMessageListParams{
		Order: openai.BetaThreadMessageListParamsOrderDesc,
		Limit: openai.Int(20),
	})
	if err != nil {
		return "", upstream("messages.list", err)
	}

	for _, msg := range page.Data {
		if msg.Role != openai.MessageRoleAssistant {
			continue
		}
		var parts []string
		for _, content := range msg.Content {
			if content.Type == "text" {
				parts = append(parts, content.Text.Value)
			}
		}
		if len(parts) == 0 {
			c.logger.Warn("Assistant message has no text content", "thread_id", threadID, "message_id", msg.ID)
			continue
		}
		return strings.Join(parts, "\n"), nil
	}
	return "", apperr.Upstream("messages.list", errNoAssistantMessage)
}

func fromRun(r *openai.Run) *Run {
	run := &Run{
		ID:        r.ID,
		Status:    RunStatus(r.Status),
		LastError: r.LastError.Message,
	}
	for _, tc := range r.RequiredAction.SubmitToolOutputs.ToolCalls {
		run.ToolCalls = append(run.ToolCalls, PendingCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return run
}

// upstream classifies an SDK error, keeping the service's status and body.
func upstream(op string, err error) error {
	ae := apperr.Upstream(op, err)
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		ae.WithDetails(apiErr.StatusCode, []byte(apiErr.RawJSON()))
	}
	return ae
}

var _ Client = (*OpenAIClient)(nil)
