package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/research/tools"
	"github.com/mikeboe/deep-research/pkg/streaming"
)

type memStore struct {
	mu     sync.Mutex
	runs   map[uuid.UUID]*Run
	events map[uuid.UUID][]StoredEvent
}

func newMemStore() *memStore {
	return &memStore{runs: map[uuid.UUID]*Run{}, events: map[uuid.UUID][]StoredEvent{}}
}

func (m *memStore) CreateRun(_ context.Context, id uuid.UUID, query string, config json.RawMessage) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	run := &Run{ID: id, Query: query, Status: StatusPending, Config: config, CreatedAt: now, UpdatedAt: now}
	m.runs[id] = run
	cp := *run
	return &cp, nil
}

func (m *memStore) GetRun(_ context.Context, id uuid.UUID) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	cp := *run
	return &cp, nil
}

func (m *memStore) ListRuns(context.Context) ([]Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var runs []Run
	for _, r := range m.runs {
		runs = append(runs, *r)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
	return runs, nil
}

func (m *memStore) SetStatus(_ context.Context, id uuid.UUID, status RunStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[id].Status = status
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (m *memStore) FinishRun(_ context.Context, id uuid.UUID, result RunResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run := m.runs[id]
	run.Status = result.Status
	run.Title = optional(result.Title)
	run.Report = optional(result.Report)
	run.Error = optional(result.Error)
	run.State = result.State
	return nil
}

func (m *memStore) AppendEvent(_ context.Context, id uuid.UUID, evt streaming.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[id] = append(m.events[id], StoredEvent{Seq: evt.Seq, Type: string(evt.Type), Payload: evt.Marshal(), Timestamp: evt.Timestamp})
	return nil
}

func (m *memStore) ListEvents(_ context.Context, id uuid.UUID) ([]StoredEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StoredEvent(nil), m.events[id]...), nil
}

func (m *memStore) ListLogs(context.Context, uuid.UUID) ([]LogEntry, error) {
	return nil, nil
}

type staticProvider struct{}

func (staticProvider) Name() string { return "static" }

func (staticProvider) Search(_ context.Context, query string, _ int) ([]tools.Result, error) {
	return []tools.Result{{Title: "About " + query, URL: "https://example.test/" + query, Snippet: "snippet"}}, nil
}

// scriptModel answers each stage by recognising its system prompt.
func scriptModel(plan func(ctx context.Context) (string, error)) research.Model {
	return research.ModelFunc(func(ctx context.Context, system, _ string, _ float64) (string, error) {
		switch {
		case strings.HasPrefix(system, "You are a senior research strategist"):
			return plan(ctx)
		case strings.HasPrefix(system, "You write web search queries"):
			return `["battery density"]`, nil
		case strings.HasPrefix(system, "You are a research analyst"):
			return "draft", nil
		case strings.HasPrefix(system, "You are an editor"):
			return "# Battery Outlook\n\nFinal body.", nil
		}
		return "", errors.New("unexpected prompt")
	})
}

func okPlan(context.Context) (string, error) {
	return `{"clarifiedQuery": "battery outlook", "researchQuestions": ["density?"], "scope": "", "expectedSections": []}`, nil
}

type recordingIndexer struct {
	mu   sync.Mutex
	runs []string
}

func (r *recordingIndexer) IndexReport(_ context.Context, runID string, report *research.FinalReport) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, runID)
	return len(report.Citations), nil
}

func newTestService(model research.Model) (*Service, *memStore) {
	store := newMemStore()
	factory := func(opts research.Options) *research.Engine {
		return research.NewEngine(model, research.NewDispatcher(staticProvider{}), opts)
	}
	svc := NewService(store, streaming.NewManager(64), factory, research.Options{MaxIterations: 1})
	return svc, store
}

func newRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(svc, NewMCPHandler(svc)).RegisterRoutes(r)
	return r
}

func do(r http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func waitForStatus(t *testing.T, store *memStore, id uuid.UUID, want RunStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		run, err := store.GetRun(context.Background(), id)
		return err == nil && run.Status == want
	}, 5*time.Second, 10*time.Millisecond)
}

func createRun(t *testing.T, r http.Handler, query string) Run {
	t.Helper()
	w := do(r, http.MethodPost, "/api/research", `{"query": "`+query+`"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var run Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	return run
}

func TestRunCompletesAndIsIndexed(t *testing.T) {
	svc, store := newTestService(scriptModel(okPlan))
	indexer := &recordingIndexer{}
	svc.Indexer = indexer
	r := newRouter(svc)

	run := createRun(t, r, "battery outlook")
	assert.Equal(t, StatusPending, run.Status)
	waitForStatus(t, store, run.ID, StatusCompleted)

	w := do(r, http.MethodGet, "/api/research/"+run.ID.String(), "")
	require.Equal(t, http.StatusOK, w.Code)
	var got Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.NotNil(t, got.Title)
	assert.Equal(t, "Battery Outlook", *got.Title)
	assert.Nil(t, got.Error)
	assert.NotEmpty(t, got.State)

	w = do(r, http.MethodGet, "/api/research/"+run.ID.String()+"/events", "")
	require.Equal(t, http.StatusOK, w.Code)
	var events []StoredEvent
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	require.NotEmpty(t, events)
	assert.Equal(t, string(research.EventComplete), events[len(events)-1].Type)
	for i, e := range events {
		assert.Equal(t, uint64(i+1), e.Seq)
	}

	indexer.mu.Lock()
	assert.Equal(t, []string{run.ID.String()}, indexer.runs)
	indexer.mu.Unlock()

	w = do(r, http.MethodPost, "/api/research/"+run.ID.String()+"/cancel", "")
	assert.Equal(t, http.StatusConflict, w.Code, "finished runs cannot be cancelled")
}

func TestCancelRun(t *testing.T) {
	blocking := func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	svc, store := newTestService(scriptModel(blocking))
	indexer := &recordingIndexer{}
	svc.Indexer = indexer
	r := newRouter(svc)

	run := createRun(t, r, "slow question")
	waitForStatus(t, store, run.ID, StatusRunning)

	w := do(r, http.MethodPost, "/api/research/"+run.ID.String()+"/cancel", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	waitForStatus(t, store, run.ID, StatusCancelled)

	events, _ := store.ListEvents(context.Background(), run.ID)
	for _, e := range events {
		assert.NotEqual(t, string(research.EventError), e.Type, "cancellation is not reported as an error event")
	}
	got, _ := store.GetRun(context.Background(), run.ID)
	require.NotNil(t, got.Error)
	assert.Empty(t, indexer.runs)
}

func TestFailedRun(t *testing.T) {
	failing := func(context.Context) (string, error) { return "", errors.New("model unavailable") }
	svc, store := newTestService(scriptModel(failing))
	r := newRouter(svc)

	run := createRun(t, r, "doomed")
	waitForStatus(t, store, run.ID, StatusFailed)

	got, _ := store.GetRun(context.Background(), run.ID)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "model unavailable")

	events, _ := store.ListEvents(context.Background(), run.ID)
	var errorEvents int
	for _, e := range events {
		if e.Type == string(research.EventError) {
			errorEvents++
		}
	}
	assert.Equal(t, 1, errorEvents)
}

func TestRequestValidation(t *testing.T) {
	svc, _ := newTestService(scriptModel(okPlan))
	r := newRouter(svc)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"Empty query", http.MethodPost, "/api/research", `{"query": "   "}`, http.StatusBadRequest},
		{"Malformed body", http.MethodPost, "/api/research", `{`, http.StatusBadRequest},
		{"Invalid uuid", http.MethodGet, "/api/research/nope", "", http.StatusBadRequest},
		{"Unknown run", http.MethodGet, "/api/research/" + uuid.NewString(), "", http.StatusNotFound},
		{"Cancel unknown run", http.MethodPost, "/api/research/" + uuid.NewString() + "/cancel", "", http.StatusConflict},
		{"Ask without chat", http.MethodPost, "/api/research/" + uuid.NewString() + "/ask", `{"question": "why?"}`, http.StatusServiceUnavailable},
		{"Empty list", http.MethodGet, "/api/research", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestStreamReplaysAfterLastEventID(t *testing.T) {
	svc, store := newTestService(scriptModel(okPlan))
	r := newRouter(svc)

	run := createRun(t, r, "battery outlook")
	waitForStatus(t, store, run.ID, StatusCompleted)
	require.Eventually(t, func() bool { return svc.Streams.Done(run.ID.String()) }, time.Second, 5*time.Millisecond)

	w := do(r, http.MethodGet, "/api/research/"+run.ID.String()+"/stream", "", "Last-Event-ID", "2")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.NotContains(t, body, "id: 1\n")
	assert.NotContains(t, body, "id: 2\n")
	assert.Contains(t, body, "id: 3\n")
	assert.Contains(t, body, "event: complete\n")
}

func TestStreamFallsBackToStoredEvents(t *testing.T) {
	svc, store := newTestService(scriptModel(okPlan))
	r := newRouter(svc)

	run := createRun(t, r, "battery outlook")
	waitForStatus(t, store, run.ID, StatusCompleted)
	require.Eventually(t, func() bool { return svc.Streams.Done(run.ID.String()) }, time.Second, 5*time.Millisecond)
	svc.Streams.Forget(run.ID.String())

	w := do(r, http.MethodGet, "/api/research/"+run.ID.String()+"/stream", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "id: 1\n")
	assert.Contains(t, w.Body.String(), "event: complete\n")
}

func TestShutdownCancelsActiveRuns(t *testing.T) {
	blocking := func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	svc, store := newTestService(scriptModel(blocking))
	run, err := svc.CreateRun(context.Background(), CreateRunRequest{Query: "slow"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Shutdown(ctx))

	got, _ := store.GetRun(context.Background(), run.ID)
	assert.Equal(t, StatusCancelled, got.Status)
}

func TestOutcome(t *testing.T) {
	state := research.NewState("q", 1)
	state.FinalReport = &research.FinalReport{Title: "T", Content: "# T"}

	res := outcome(state, nil)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "T", res.Title)
	assert.NotEmpty(t, res.State)

	res = outcome(state, research.ErrCancelled)
	assert.Equal(t, StatusCancelled, res.Status)
	assert.Empty(t, res.Title)

	res = outcome(nil, errors.New("boom"))
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "boom", res.Error)
	assert.Nil(t, res.State)
}

func TestFinishedRunHistoryIsReleased(t *testing.T) {
	svc, store := newTestService(scriptModel(okPlan))
	svc.HistoryRetention = 20 * time.Millisecond
	r := newRouter(svc)

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		ids = append(ids, createRun(t, r, "battery outlook").ID)
	}
	for _, id := range ids {
		waitForStatus(t, store, id, StatusCompleted)
	}
	for _, id := range ids {
		key := id.String()
		require.Eventually(t, func() bool { return len(svc.Streams.ReplaySince(key, 0)) == 0 }, 2*time.Second, 5*time.Millisecond)
	}

	w := do(r, http.MethodGet, "/api/research/"+ids[0].String()+"/stream", "", "Last-Event-ID", "1")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.NotContains(t, body, "id: 1\n")
	assert.Contains(t, body, "id: 2\n")
	assert.Contains(t, body, "event: complete\n")
}
