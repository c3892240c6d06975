package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mikeboe/deep-research/pkg/chat"
	"github.com/mikeboe/deep-research/pkg/metrics"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/streaming"
)

var (
	// ErrEmptyQuery rejects a run without a question.
	ErrEmptyQuery = errors.New("query must not be empty")
	// ErrRunNotActive is returned when cancelling a run that is not executing.
	ErrRunNotActive = errors.New("run is not active")
	// ErrRunNotCompleted is returned for follow-up questions on unfinished runs.
	ErrRunNotCompleted = errors.New("run has not completed")
	// ErrChatUnavailable is returned when no follow-up agent is configured.
	ErrChatUnavailable = errors.New("follow-up questions are not configured")
)

const indexTimeout = 2 * time.Minute

// DefaultHistoryRetention is how long a finished run's live event history
// stays in memory; later stream requests replay from the store.
const DefaultHistoryRetention = time.Minute

// EngineFactory builds a research engine for one run.
type EngineFactory func(opts research.Options) *research.Engine

// ReportIndexer stores a finished report for follow-up questions.
type ReportIndexer interface {
	IndexReport(ctx context.Context, runID string, report *research.FinalReport) (int, error)
}

// Asker answers follow-up questions about a run.
type Asker interface {
	Ask(ctx context.Context, q chat.Question) (iter.Seq2[chat.StreamEvent, error], error)
}

type Service struct {
	Store     Store
	Streams   *streaming.Manager
	NewEngine EngineFactory
	Defaults  research.Options
	Indexer   ReportIndexer
	Chat      Asker
	// LogHandler returns the slog handler for a run; defaults to slog.Default's.
	LogHandler func(runID uuid.UUID) slog.Handler
	// HistoryRetention overrides DefaultHistoryRetention when positive.
	HistoryRetention time.Duration

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
	wg      sync.WaitGroup
}

func NewService(store Store, streams *streaming.Manager, factory EngineFactory, defaults research.Options) *Service {
	return &Service{
		Store:     store,
		Streams:   streams,
		NewEngine: factory,
		Defaults:  defaults,
		cancels:   make(map[uuid.UUID]context.CancelFunc),
	}
}

type CreateRunRequest struct {
	Query                 string `json:"query"`
	MaxIterations         int    `json:"maxIterations,omitempty"`
	MaxConcurrentSearches int    `json:"maxConcurrentSearches,omitempty"`
}

func (s *Service) options(req CreateRunRequest) research.Options {
	opts := s.Defaults
	if req.MaxIterations > 0 {
		opts.MaxIterations = req.MaxIterations
	}
	if req.MaxConcurrentSearches > 0 {
		opts.MaxConcurrentSearches = req.MaxConcurrentSearches
	}
	return opts
}

// CreateRun records a pending run and starts its background worker.
func (s *Service) CreateRun(ctx context.Context, req CreateRunRequest) (*Run, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	opts := s.options(req)
	configJSON, err := json.Marshal(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to encode run config: %w", err)
	}

	run, err := s.Store.CreateRun(ctx, uuid.New(), query, configJSON)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[run.ID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runWorker(runCtx, run.ID, query, opts)

	return run, nil
}

func (s *Service) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	return s.Store.GetRun(ctx, id)
}

func (s *Service) ListRuns(ctx context.Context) ([]Run, error) {
	return s.Store.ListRuns(ctx)
}

func (s *Service) GetRunEvents(ctx context.Context, id uuid.UUID) ([]StoredEvent, error) {
	return s.Store.ListEvents(ctx, id)
}

func (s *Service) GetRunLogs(ctx context.Context, id uuid.UUID) ([]LogEntry, error) {
	return s.Store.ListLogs(ctx, id)
}

// CancelRun signals the run's worker to stop at the next checkpoint.
func (s *Service) CancelRun(id uuid.UUID) error {
	s.mu.Lock()
	cancel, ok := s.cancels[id]
	s.mu.Unlock()
	if !ok {
		return ErrRunNotActive
	}
	cancel()
	return nil
}

// Shutdown cancels every active run and waits for the workers to record
// their outcome, or for ctx to expire.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ask streams an answer to a follow-up question about a completed run.
func (s *Service) Ask(ctx context.Context, id uuid.UUID, question string) (iter.Seq2[chat.StreamEvent, error], error) {
	if s.Chat == nil {
		return nil, ErrChatUnavailable
	}
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuery
	}
	run, err := s.Store.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.Status != StatusCompleted {
		return nil, ErrRunNotCompleted
	}
	title := run.Query
	if run.Title != nil {
		title = *run.Title
	}
	return s.Chat.Ask(ctx, chat.Question{RunID: id.String(), ReportTitle: title, Text: question})
}

func (s *Service) logger(id uuid.UUID) *slog.Logger {
	if s.LogHandler != nil {
		return slog.New(s.LogHandler(id))
	}
	return slog.Default().With("run_id", id.String())
}

func (s *Service) runWorker(ctx context.Context, id uuid.UUID, query string, opts research.Options) {
	defer s.wg.Done()

	// bookkeeping outlives cancellation of the run itself
	bg := context.Background()
	logger := s.logger(id)
	finished := metrics.RunStarted()

	if err := s.Store.SetStatus(bg, id, StatusRunning); err != nil {
		logger.Error("Failed to mark run as running", "error", err)
	}

	engine := s.NewEngine(opts)
	engine.Logger = logger
	engine.Emit = func(evt research.Event) {
		metrics.Observe(evt)
		published := s.Streams.Publish(id.String(), evt)
		if err := s.Store.AppendEvent(bg, id, published); err != nil {
			logger.Warn("Failed to persist event", "type", evt.Type, "error", err)
		}
	}

	state, runErr := engine.Run(ctx, query)
	s.release(id)
	result := outcome(state, runErr)

	if result.Status == StatusCompleted && s.Indexer != nil {
		indexCtx, cancel := context.WithTimeout(bg, indexTimeout)
		if _, err := s.Indexer.IndexReport(indexCtx, id.String(), state.FinalReport); err != nil {
			logger.Error("Failed to index report", "error", err)
		}
		cancel()
	}

	if err := s.Store.FinishRun(bg, id, result); err != nil {
		logger.Error("Failed to save run outcome", "error", err)
	}
	s.Streams.Finish(id.String())
	s.forgetLater(id.String())
	finished(string(result.Status))
	logger.Info("Run finished", "status", result.Status)
}

// forgetLater drops the run's stream history once the retention window ends.
func (s *Service) forgetLater(key string) {
	retain := s.HistoryRetention
	if retain <= 0 {
		retain = DefaultHistoryRetention
	}
	time.AfterFunc(retain, func() { s.Streams.Forget(key) })
}

// release drops the run's cancel func once the engine has returned.
func (s *Service) release(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.cancels[id]; ok {
		cancel()
		delete(s.cancels, id)
	}
}

// outcome maps an engine result to the stored run result.
func outcome(state *research.ResearchState, err error) RunResult {
	var result RunResult
	if state != nil {
		if b, mErr := json.Marshal(state); mErr == nil {
			result.State = b
		}
	}

	switch {
	case err == nil:
		result.Status = StatusCompleted
		if state != nil && state.FinalReport != nil {
			result.Title = state.FinalReport.Title
			result.Report = state.FinalReport.Content
		}
	case research.IsCancellation(err):
		result.Status = StatusCancelled
		result.Error = err.Error()
	default:
		result.Status = StatusFailed
		result.Error = err.Error()
	}
	return result
}
