package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/mikeboe/deep-research/pkg/research"
)

func TestObserveSearchResults(t *testing.T) {
	withResults := testutil.ToFloat64(Searches.WithLabelValues("with_results"))
	empty := testutil.ToFloat64(Searches.WithLabelValues("empty"))

	Observe(research.Event{Type: research.EventSearchResult, Finding: &research.ResearchFinding{
		Sources: []research.ResearchSource{{URL: "https://a.test"}},
	}})
	Observe(research.Event{Type: research.EventSearchResult, Finding: &research.ResearchFinding{}})
	Observe(research.Event{Type: research.EventSearchResult})

	assert.Equal(t, withResults+1, testutil.ToFloat64(Searches.WithLabelValues("with_results")))
	assert.Equal(t, empty+1, testutil.ToFloat64(Searches.WithLabelValues("empty")))
}

func TestObservePhasesAndRefinement(t *testing.T) {
	drafting := testutil.ToFloat64(PhaseTransitions.WithLabelValues("drafting"))
	passes := testutil.ToFloat64(RefinementPasses)

	Observe(research.Event{Type: research.EventPhaseChange, Phase: research.PhaseDrafting})
	Observe(research.Event{Type: research.EventRefinementUpdate, Iteration: 1})

	assert.Equal(t, drafting+1, testutil.ToFloat64(PhaseTransitions.WithLabelValues("drafting")))
	assert.Equal(t, passes+1, testutil.ToFloat64(RefinementPasses))
}

func TestRunStarted(t *testing.T) {
	active := testutil.ToFloat64(ActiveRuns)
	cancelled := testutil.ToFloat64(RunsFinished.WithLabelValues("cancelled"))

	done := RunStarted()
	assert.Equal(t, active+1, testutil.ToFloat64(ActiveRuns))
	done("cancelled")

	assert.Equal(t, active, testutil.ToFloat64(ActiveRuns))
	assert.Equal(t, cancelled+1, testutil.ToFloat64(RunsFinished.WithLabelValues("cancelled")))
}
