package assistant

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/afi-assist/assist-gateway/internal/apperr"
	"github.com/afi-assist/assist-gateway/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   map[string]any
}

// fakeService stands in for the Assistants API, answering by path.
type fakeService struct {
	mu        sync.Mutex
	requests  []recordedRequest
	responses map[string]string
	status    map[string]int
}

func (f *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(data, &body)

	key := r.Method + " " + r.URL.Path
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Body: body})
	resp, ok := f.responses[key]
	status := f.status[key]
	f.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(resp))
}

func (f *fakeService) last() recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestClient(t *testing.T, svc *fakeService) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(svc)
	t.Cleanup(srv.Close)
	return NewOpenAIClient(OpenAIConfig{
		APIKey:      "sk-test",
		AssistantID: "asst_1",
		BaseURL:     srv.URL + "/",
	}, nil)
}

func TestCreateThread(t *testing.T) {
	svc := &fakeService{responses: map[string]string{
		"POST /threads": `{"id":"thread_abc","object":"thread","created_at":1,"metadata":{}}`,
	}}
	c := newTestClient(t, svc)

	id, err := c.CreateThread(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "thread_abc", id)
}

func TestAddUserMessageSendsRoleAndText(t *testing.T) {
	svc := &fakeService{responses: map[string]string{
		"POST /threads/thread_abc/messages": `{"id":"msg_1","object":"thread.message","role":"user","content":[]}`,
	}}
	c := newTestClient(t, svc)

	require.NoError(t, c.AddUserMessage(context.Background(), "thread_abc", "Bonjour"))
	req := svc.last()
	assert.Equal(t, "user", req.Body["role"])
	assert.Equal(t, "Bonjour", req.Body["content"])
}

func TestCreateRunUsesAssistant(t *testing.T) {
	svc := &fakeService{responses: map[string]string{
		"POST /threads/thread_abc/runs": `{"id":"run_1","object":"thread.run","status":"queued","thread_id":"thread_abc"}`,
	}}
	c := newTestClient(t, svc)

	run, err := c.CreateRun(context.Background(), "thread_abc")
	require.NoError(t, err)
	assert.Equal(t, "run_1", run.ID)
	assert.Equal(t, RunQueued, run.Status)
	assert.Equal(t, "asst_1", svc.last().Body["assistant_id"])
}

func TestGetRunMapsToolCalls(t *testing.T) {
	svc := &fakeService{responses: map[string]string{
		"GET /threads/thread_abc/runs/run_1": `{
			"id":"run_1","object":"thread.run","status":"requires_action",
			"required_action":{"type":"submit_tool_outputs","submit_tool_outputs":{"tool_calls":[
				{"id":"call_1","type":"function","function":{"name":"sendUnifiedEmail","arguments":"{\"issue\":\"x\"}"}}
			]}}
		}`,
	}}
	c := newTestClient(t, svc)

	run, err := c.GetRun(context.Background(), "thread_abc", "run_1")
	require.NoError(t, err)
	assert.Equal(t, RunRequiresAction, run.Status)
	require.Len(t, run.ToolCalls, 1)
	assert.Equal(t, PendingCall{ID: "call_1", Name: "sendUnifiedEmail", Arguments: `{"issue":"x"}`}, run.ToolCalls[0])
}

func TestListRuns(t *testing.T) {
	svc := &fakeService{responses: map[string]string{
		"GET /threads/thread_abc/runs": `{"object":"list","data":[
			{"id":"run_2","object":"thread.run","status":"in_progress"},
			{"id":"run_1","object":"thread.run","status":"failed","last_error":{"code":"server_error","message":"boom"}}
		],"has_more":false}`,
	}}
	c := newTestClient(t, svc)

	runs, err := c.ListRuns(context.Background(), "thread_abc")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.True(t, runs[0].Status.Active())
	assert.True(t, runs[1].Status.Failed())
	assert.Equal(t, "boom", runs[1].LastError)
}

func TestSubmitToolOutputs(t *testing.T) {
	svc := &fakeService{responses: map[string]string{
		"POST /threads/thread_abc/runs/run_1/submit_tool_outputs": `{"id":"run_1","object":"thread.run","status":"queued"}`,
	}}
	c := newTestClient(t, svc)

	err := c.SubmitToolOutputs(context.Background(), "thread_abc", "run_1", []domain.ToolOutput{
		{ToolCallID: "call_1", Output: `{"success":true}`},
		{ToolCallID: "call_2", Output: `{"error":"no"}`},
	})
	require.NoError(t, err)

	outputs := svc.last().Body["tool_outputs"].([]any)
	require.Len(t, outputs, 2)
	first := outputs[0].(map[string]any)
	assert.Equal(t, "call_1", first["tool_call_id"])
	assert.Equal(t, `{"success":true}`, first["output"])
}

func TestLatestAssistantMessageSkipsUserMessages(t *testing.T) {
	svc := &fakeService{responses: map[string]string{
		"GET /threads/thread_abc/messages": `{"object":"list","data":[
			{"id":"msg_3","object":"thread.message","role":"user","content":[{"type":"text","text":{"value":"later","annotations":[]}}]},
			{"id":"msg_2","object":"thread.message","role":"assistant","content":[{"type":"text","text":{"value":"Voici WRAP_UP: ok","annotations":[]}}]},
			{"id":"msg_1","object":"thread.message","role":"assistant","content":[{"type":"text","text":{"value":"older","annotations":[]}}]}
		],"has_more":false}`,
	}}
	c := newTestClient(t, svc)

	text, err := c.LatestAssistantMessage(context.Background(), "thread_abc")
	require.NoError(t, err)
	assert.Equal(t, "Voici WRAP_UP: ok", text)
}

func TestLatestAssistantMessageNoneIsUpstreamError(t *testing.T) {
	svc := &fakeService{responses: map[string]string{
		"GET /threads/thread_abc/messages": `{"object":"list","data":[],"has_more":false}`,
	}}
	c := newTestClient(t, svc)

	_, err := c.LatestAssistantMessage(context.Background(), "thread_abc")
	require.Error(t, err)
	assert.Equal(t, apperr.KindUpstream, apperr.KindOf(err))
}

func TestUpstreamErrorCarriesDetails(t *testing.T) {
	svc := &fakeService{
		responses: map[string]string{
			"POST /threads/thread_abc/runs": `{"error":{"message":"No assistant found","type":"invalid_request_error"}}`,
		},
		status: map[string]int{"POST /threads/thread_abc/runs": http.StatusNotFound},
	}
	c := newTestClient(t, svc)

	_, err := c.CreateRun(context.Background(), "thread_abc")
	require.Error(t, err)

	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apperr.KindUpstream, ae.Kind)
	assert.Equal(t, http.StatusNotFound, ae.Status)
	assert.Contains(t, string(ae.Details), "No assistant found")
}

func TestRunStatusClassification(t *testing.T) {
	for _, s := range []RunStatus{RunQueued, RunInProgress, RunRequiresAction} {
		assert.True(t, s.Active(), s)
		assert.False(t, s.Failed(), s)
	}
	for _, s := range []RunStatus{RunCancelled, RunFailed, RunIncomplete, RunExpired} {
		assert.False(t, s.Active(), s)
		assert.True(t, s.Failed(), s)
	}
	assert.False(t, RunCompleted.Active())
	assert.False(t, RunCompleted.Failed())
	assert.False(t, RunCancelling.Active())
}
