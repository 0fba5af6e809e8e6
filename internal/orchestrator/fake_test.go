package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/afi-assist/assist-gateway/internal/assistant"
	"github.com/afi-assist/assist-gateway/internal/domain"
	"github.com/afi-assist/assist-gateway/internal/notify"
)

// fakeClient is a scripted agent service. script decides the state returned
// by the nth GetRun of a run; by default runs complete on the first poll.
type fakeClient struct {
	mu sync.Mutex

	threads   int
	messages  map[string][]string
	listRuns  []assistant.Run
	created   []string
	cancelled []string
	submitted map[string][]domain.ToolOutput
	polls     map[string]int
	reply     string
	errs      map[string]error

	script func(runID string, n int) assistant.Run

	active    map[string]bool
	maxActive int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		messages:  make(map[string][]string),
		submitted: make(map[string][]domain.ToolOutput),
		polls:     make(map[string]int),
		errs:      make(map[string]error),
		active:    make(map[string]bool),
		reply:     "Bonjour !",
	}
}

func (f *fakeClient) fail(op string) error {
	return f.errs[op]
}

func (f *fakeClient) CreateThread(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("threads.create"); err != nil {
		return "", err
	}
	f.threads++
	return fmt.Sprintf("thread_%d", f.threads), nil
}

func (f *fakeClient) AddUserMessage(_ context.Context, threadID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("messages.create"); err != nil {
		return err
	}
	f.messages[threadID] = append(f.messages[threadID], text)
	return nil
}

func (f *fakeClient) ListRuns(context.Context, string) ([]assistant.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("runs.list"); err != nil {
		return nil, err
	}
	return append([]assistant.Run(nil), f.listRuns...), nil
}

func (f *fakeClient) CreateRun(context.Context, string) (*assistant.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("runs.create"); err != nil {
		return nil, err
	}
	id := fmt.Sprintf("run_%d", len(f.created)+1)
	f.created = append(f.created, id)
	f.active[id] = true
	if len(f.active) > f.maxActive {
		f.maxActive = len(f.active)
	}
	return &assistant.Run{ID: id, Status: assistant.RunQueued}, nil
}

func (f *fakeClient) GetRun(_ context.Context, _, runID string) (*assistant.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("runs.retrieve"); err != nil {
		return nil, err
	}
	n := f.polls[runID]
	f.polls[runID] = n + 1

	run := assistant.Run{ID: runID, Status: assistant.RunCompleted}
	if f.script != nil {
		run = f.script(runID, n)
		run.ID = runID
	}
	if !run.Status.Active() {
		delete(f.active, runID)
	}
	return &run, nil
}

func (f *fakeClient) CancelRun(_ context.Context, _, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, runID)
	delete(f.active, runID)
	return f.fail("runs.cancel")
}

func (f *fakeClient) SubmitToolOutputs(_ context.Context, _, runID string, outputs []domain.ToolOutput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("runs.submit_tool_outputs"); err != nil {
		return err
	}
	f.submitted[runID] = append(f.submitted[runID], outputs...)
	return nil
}

func (f *fakeClient) LatestAssistantMessage(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("messages.list"); err != nil {
		return "", err
	}
	return f.reply, nil
}

func (f *fakeClient) threadMessages(threadID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages[threadID]...)
}

var _ assistant.Client = (*fakeClient)(nil)

type dispatched struct {
	Intent  domain.Intent
	Payload any
}

// fakeNotifier records deliveries. failures maps an intent to the error
// its delivery returns.
type fakeNotifier struct {
	mu        sync.Mutex
	sent      []dispatched
	summaries []notify.SummaryRequest
	failures  map[domain.Intent]error
	body      []byte
}

func (n *fakeNotifier) Dispatch(_ context.Context, intent domain.Intent, payload any) (*notify.Result, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.failures[intent]; err != nil {
		return nil, err
	}
	n.sent = append(n.sent, dispatched{Intent: intent, Payload: payload})
	return &notify.Result{DeliveryID: "d-1", Status: 200, Body: n.body}, nil
}

func (n *fakeNotifier) TriggerSummary(_ context.Context, req notify.SummaryRequest) (*notify.Result, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := domain.ParseIntent(req.Intent); !ok {
		return nil, nil
	}
	n.summaries = append(n.summaries, req)
	return &notify.Result{DeliveryID: "d-2", Status: 200}, nil
}

var errBoom = errors.New("boom")
