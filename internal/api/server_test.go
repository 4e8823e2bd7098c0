package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splunk-chatops/dispatcher/internal/adapters"
	"github.com/splunk-chatops/dispatcher/internal/bus"
	"github.com/splunk-chatops/dispatcher/internal/config"
	"github.com/splunk-chatops/dispatcher/internal/models"
	"github.com/splunk-chatops/dispatcher/internal/pipeline"
	"github.com/splunk-chatops/dispatcher/internal/scheduler"
	"github.com/splunk-chatops/dispatcher/internal/session"
	"github.com/splunk-chatops/dispatcher/internal/store"
	"github.com/splunk-chatops/dispatcher/internal/stream"
)

type stubLLM struct {
	available bool
	response  string
	chunks    []string
}

func (f *stubLLM) Available(ctx context.Context) bool { return f.available }
func (f *stubLLM) Call(ctx context.Context, req adapters.GenerateRequest) (string, error) {
	return f.response, nil
}
func (f *stubLLM) CallStream(ctx context.Context, req adapters.GenerateRequest) (<-chan adapters.StreamChunk, error) {
	out := make(chan adapters.StreamChunk)
	go func() {
		defer close(out)
		for _, c := range f.chunks {
			out <- adapters.StreamChunk{Text: c}
		}
	}()
	return out, nil
}

type stubRetrieval struct{}

func (stubRetrieval) Available(ctx context.Context) bool { return false }
func (stubRetrieval) Call(ctx context.Context, query string, topK int) ([]adapters.RetrievalDoc, error) {
	return nil, models.ErrUnavailable
}

type stubAnalytics struct {
	available bool
	result    adapters.AnalyticsQueryResult
}

func (f *stubAnalytics) Available(ctx context.Context) bool { return f.available }
func (f *stubAnalytics) Call(ctx context.Context, q adapters.AnalyticsQuery) (adapters.AnalyticsQueryResult, error) {
	return f.result, nil
}

type testHarness struct {
	server *Server
	store  *store.MemoryStore
	sched  *scheduler.Scheduler
}

func newTestHarness(t *testing.T, cfg *config.Config, llm adapters.LLM, analytics adapters.Analytics) *testHarness {
	t.Helper()
	st := store.NewMemoryStore()
	b := bus.New()
	registry := session.New(time.Second)
	b.Subscribe(bus.TopicEvents, func(ctx context.Context, payload any) error {
		registry.Broadcast(ctx, payload)
		return nil
	})
	sched := scheduler.New(4, 5*time.Second)
	engine := pipeline.NewEngine(st, b, llm, stubRetrieval{}, analytics, stream.New(st, b), cfg)
	server := NewServer(cfg, st, sched, engine, registry, b)
	return &testHarness{server: server, store: st, sched: sched}
}

func defaultTestConfig() *config.Config {
	return &config.Config{
		Auth:      config.AuthConfig{DefaultUser: "anonymous"},
		LLM:       config.LLMConfig{Enabled: true},
		Streaming: config.StreamingConfig{Enabled: true},
		History:   config.HistoryConfig{MaxMessages: 20},
	}
}

func (h *testHarness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

// Scenario 1's request surface half: posting a user message returns the
// stored message plus a job id, and the job reaches completed.
func TestCreateUserMessageSpawnsJob(t *testing.T) {
	h := newTestHarness(t, defaultTestConfig(),
		&stubLLM{available: true, chunks: []string{"hi ", "there"}}, &stubAnalytics{})

	rec := h.do(t, http.MethodPost, "/api/v1/conversations", CreateConversationRequest{Title: "t"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var conv models.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))

	rec = h.do(t, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/messages",
		CreateMessageRequest{Content: "hello", Role: "user"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp CreateMessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.JobID)
	assert.Equal(t, models.RoleUser, resp.Message.Role)

	require.NoError(t, h.sched.AwaitDone(context.Background(), resp.JobID))

	require.Eventually(t, func() bool {
		job, err := h.store.Jobs().Get(context.Background(), resp.JobID)
		return err == nil && job.Status == models.JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCreateAssistantMessageHasNoJob(t *testing.T) {
	h := newTestHarness(t, defaultTestConfig(), &stubLLM{}, &stubAnalytics{})

	rec := h.do(t, http.MethodPost, "/api/v1/conversations", CreateConversationRequest{})
	var conv models.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))

	rec = h.do(t, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/messages",
		CreateMessageRequest{Content: "canned answer", Role: "assistant"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp CreateMessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.JobID)
}

func TestCreateMessageValidation(t *testing.T) {
	h := newTestHarness(t, defaultTestConfig(), &stubLLM{}, &stubAnalytics{})

	rec := h.do(t, http.MethodPost, "/api/v1/conversations", CreateConversationRequest{})
	var conv models.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))

	rec = h.do(t, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/messages",
		CreateMessageRequest{Content: "", Role: "user"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/messages",
		CreateMessageRequest{Content: "x", Role: "system"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/v1/conversations/missing/messages",
		CreateMessageRequest{Content: "x", Role: "user"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetJob(t *testing.T) {
	h := newTestHarness(t, defaultTestConfig(), &stubLLM{}, &stubAnalytics{})

	job, err := h.store.Jobs().Create(context.Background(), models.JobTypeAssistantResponse,
		map[string]any{"content": "x"}, "")
	require.NoError(t, err)

	rec := h.do(t, http.MethodGet, "/api/v1/jobs/"+job.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got models.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, models.JobStatusQueued, got.Status)

	rec = h.do(t, http.MethodGet, "/api/v1/jobs/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExecuteQuery(t *testing.T) {
	analytics := &stubAnalytics{
		available: true,
		result: adapters.AnalyticsQueryResult{
			Columns:  []string{"status", "count"},
			Fields:   []string{"status", "count"},
			Rows:     [][]any{{"ok", "9"}, {"warn", "1"}},
			RowCount: 2,
		},
	}
	h := newTestHarness(t, defaultTestConfig(), &stubLLM{}, analytics)

	rec := h.do(t, http.MethodPost, "/api/v1/query",
		ExecuteQueryRequest{Query: "search | stats count by status", Earliest: "-1h", Latest: "now"})
	require.Equal(t, http.StatusOK, rec.Code)

	var result models.AnalyticsResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, models.VisualizationCategorical, result.Visualization)
	assert.Equal(t, "pie", result.PieOrBar)
	assert.NotEmpty(t, result.CachedResultID)

	// Same fingerprint returns the same cached-result id.
	rec = h.do(t, http.MethodPost, "/api/v1/query",
		ExecuteQueryRequest{Query: "search | stats count by status", Earliest: "-1h", Latest: "now"})
	var second models.AnalyticsResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.Equal(t, result.CachedResultID, second.CachedResultID)
}

func TestExecuteQueryUnavailable(t *testing.T) {
	h := newTestHarness(t, defaultTestConfig(), &stubLLM{}, &stubAnalytics{available: false})

	rec := h.do(t, http.MethodPost, "/api/v1/query", ExecuteQueryRequest{Query: "search"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDeleteConversationKeepsJobs(t *testing.T) {
	h := newTestHarness(t, defaultTestConfig(), &stubLLM{}, &stubAnalytics{})

	rec := h.do(t, http.MethodPost, "/api/v1/conversations", CreateConversationRequest{})
	var conv models.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))

	job, err := h.store.Jobs().Create(context.Background(), models.JobTypeAssistantResponse,
		map[string]any{"content": "x"}, conv.ID)
	require.NoError(t, err)

	rec = h.do(t, http.MethodDelete, "/api/v1/conversations/"+conv.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// Orphaned job remains queryable by id.
	rec = h.do(t, http.MethodGet, "/api/v1/jobs/"+job.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth(t *testing.T) {
	h := newTestHarness(t, defaultTestConfig(), &stubLLM{}, &stubAnalytics{})
	rec := h.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
