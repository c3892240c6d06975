package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	DefaultMaxIterations   = 3
	DefaultResultsPerQuery = 5
)

// Options configures a research run.
type Options struct {
	MaxIterations         int `json:"maxIterations"`
	MaxConcurrentSearches int `json:"maxConcurrentSearches"`
	ResultsPerQuery       int `json:"resultsPerQuery"`
}

func (o Options) withDefaults() Options {
	if o.MaxIterations <= 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.ResultsPerQuery <= 0 {
		o.ResultsPerQuery = DefaultResultsPerQuery
	}
	return o
}

// Engine drives a research run through its phases: plan, search, draft,
// refine, finalize. A run is strictly sequential apart from the batched
// search fan-out, and ctx is the run's cancellation signal.
type Engine struct {
	Model   Model
	Search  *Dispatcher
	Options Options
	Emit    Emitter
	Logger  *slog.Logger
	Now     func() time.Time
}

// NewEngine wires an engine from its collaborators.
func NewEngine(model Model, search *Dispatcher, opts Options) *Engine {
	return &Engine{
		Model:   model,
		Search:  search,
		Options: opts,
		Logger:  slog.Default(),
	}
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) emit(evt Event) {
	if e.Emit == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = e.now()
	}
	e.Emit(evt)
}

// Run researches query end to end. The returned state is always non-nil and
// reflects everything gathered before a failure. Cancellation is reported
// as an error wrapping ErrCancelled without an error event.
func (e *Engine) Run(ctx context.Context, query string) (*ResearchState, error) {
	opts := e.Options.withDefaults()
	state := NewState(query, opts.MaxIterations)

	e.logger().Info("Starting research", "query", query, "max_iterations", opts.MaxIterations)
	if e.Search == nil || !e.Search.Available() {
		e.logger().Warn("No search backend available, findings will be empty")
	}

	err := e.run(ctx, state)
	if err == nil {
		return state, nil
	}

	state.advance(PhaseError)
	if IsCancellation(err) || ctx.Err() != nil {
		if !errors.Is(err, ErrCancelled) {
			err = fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		state.Error = err.Error()
		e.logger().Info("Research cancelled", "findings", len(state.Findings))
		return state, err
	}

	state.Error = err.Error()
	e.logger().Error("Research failed", "error", err)
	e.emit(Event{Type: EventError, Error: err.Error()})
	return state, err
}

func (e *Engine) run(ctx context.Context, state *ResearchState) error {
	if err := e.enter(ctx, state, PhasePlanning, "Planning research strategy"); err != nil {
		return err
	}
	plan, err := e.planResearch(ctx, state.UserQuery)
	if err != nil {
		return err
	}
	state.Plan = plan

	queries, err := e.generateSearchQueries(ctx, plan)
	if err != nil {
		return err
	}
	state.TotalSearches = len(queries)
	e.emit(Event{Type: EventAnalysisUpdate, Message: fmt.Sprintf("Generated %d search queries", len(queries))})

	if err := e.enter(ctx, state, PhaseSearching, fmt.Sprintf("Running %d searches", len(queries))); err != nil {
		return err
	}
	if err := e.runSearches(ctx, state, queries); err != nil {
		return err
	}

	if err := e.enter(ctx, state, PhaseDrafting, "Writing initial draft"); err != nil {
		return err
	}
	draft, err := e.generateDraftReport(ctx, plan, state.Findings)
	if err != nil {
		return err
	}
	state.DraftReport = draft
	e.emit(Event{Type: EventDraftUpdate, Draft: draft})

	if state.MaxIterations > 1 {
		if err := e.enter(ctx, state, PhaseRefining, "Reviewing draft for information gaps"); err != nil {
			return err
		}
		if err := e.refine(ctx, state); err != nil {
			return err
		}
	}

	if err := e.enter(ctx, state, PhaseFinalizing, "Compiling final report"); err != nil {
		return err
	}
	report, err := e.generateFinalReport(ctx, state)
	if err != nil {
		return err
	}
	state.FinalReport = report
	e.emit(Event{Type: EventFinalReport, Report: report})

	state.advance(PhaseComplete)
	e.emit(Event{Type: EventPhaseChange, Phase: PhaseComplete, Message: "Research complete"})
	e.emit(Event{Type: EventComplete, State: state})
	e.logger().Info("Research complete", "findings", len(state.Findings), "citations", len(report.Citations))
	return nil
}

// enter checks for cancellation, then moves the state into phase.
func (e *Engine) enter(ctx context.Context, state *ResearchState, phase Phase, message string) error {
	if err := checkCancelled(ctx); err != nil {
		return err
	}
	if state.advance(phase) {
		e.logger().Info("Entering phase", "phase", phase)
		e.emit(Event{Type: EventPhaseChange, Phase: phase, Message: message})
	}
	return nil
}

// runSearches executes one search round and records its findings.
func (e *Engine) runSearches(ctx context.Context, state *ResearchState, queries []string) error {
	// the dispatcher may be shared across runs; log through this run's logger
	search := &Dispatcher{Now: e.Now}
	if e.Search != nil {
		d := *e.Search
		search = &d
	}
	search.Logger = e.logger()
	opts := e.Options.withDefaults()
	findings, err := search.Execute(ctx, queries, SearchOptions{
		MaxConcurrent: opts.MaxConcurrentSearches,
		MaxResults:    opts.ResultsPerQuery,
		OnProgress: func(completed, total int, currentQuery string) {
			e.emit(Event{Type: EventSearchProgress, Completed: completed, Total: total, CurrentQuery: currentQuery})
		},
	})
	if err != nil {
		return err
	}

	state.appendFindings(findings)
	for i := range findings {
		e.emit(Event{Type: EventSearchResult, Finding: &findings[i]})
	}
	return nil
}
