package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mikeboe/deep-research/pkg/research"
)

var (
	// Run metrics
	RunsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deep_research_runs_started_total",
			Help: "Total number of research runs started",
		},
	)

	RunsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_runs_finished_total",
			Help: "Total number of research runs finished, by status",
		},
		[]string{"status"},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deep_research_run_duration_seconds",
			Help:    "Research run duration in seconds",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"status"},
	)

	ActiveRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "deep_research_active_runs",
			Help: "Number of research runs currently executing",
		},
	)

	// Phase metrics
	PhaseTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_phase_transitions_total",
			Help: "Total number of phase transitions, by target phase",
		},
		[]string{"phase"},
	)

	RefinementPasses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deep_research_refinement_passes_total",
			Help: "Total number of draft refinement passes",
		},
	)

	// Search metrics
	Searches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_searches_total",
			Help: "Total number of search queries executed, by outcome",
		},
		[]string{"outcome"},
	)

	SourcesPerSearch = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deep_research_sources_per_search",
			Help:    "Number of sources returned per search query",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
		},
	)

	ReportCitations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deep_research_report_citations",
			Help:    "Number of citations in final reports",
			Buckets: []float64{0, 5, 10, 20, 40, 80},
		},
	)
)

// Observe updates counters from a single engine event.
func Observe(evt research.Event) {
	switch evt.Type {
	case research.EventPhaseChange:
		PhaseTransitions.WithLabelValues(string(evt.Phase)).Inc()
	case research.EventSearchResult:
		if evt.Finding == nil {
			return
		}
		n := len(evt.Finding.Sources)
		outcome := "with_results"
		if n == 0 {
			outcome = "empty"
		}
		Searches.WithLabelValues(outcome).Inc()
		SourcesPerSearch.Observe(float64(n))
	case research.EventRefinementUpdate:
		RefinementPasses.Inc()
	case research.EventFinalReport:
		if evt.Report != nil {
			ReportCitations.Observe(float64(len(evt.Report.Citations)))
		}
	}
}

// RunStarted records the start of a run and returns a func recording its
// end with the given status.
func RunStarted() func(status string) {
	start := time.Now()
	RunsStarted.Inc()
	ActiveRuns.Inc()
	return func(status string) {
		ActiveRuns.Dec()
		RunsFinished.WithLabelValues(status).Inc()
		RunDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}
}
