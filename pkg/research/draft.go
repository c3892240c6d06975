package research

import (
	"context"
	"fmt"
)

// maxGapSearches caps the searches run per refinement pass.
const maxGapSearches = 5

// Refinement is the reviewer's verdict on a draft.
type Refinement struct {
	InformationGaps   []string `json:"informationGaps"`
	SuggestedSearches []string `json:"suggestedSearches"`
}

// Converged reports whether the reviewer asked for nothing more.
func (r Refinement) Converged() bool {
	return len(r.InformationGaps) == 0 || len(r.SuggestedSearches) == 0
}

// generateDraftReport writes a draft from every finding gathered so far.
func (e *Engine) generateDraftReport(ctx context.Context, plan *ResearchPlan, findings []ResearchFinding) (*DraftReport, error) {
	e.logger().Info("Generating draft", "findings", len(findings))

	text, err := e.Model.Generate(ctx, withTemporal(draftSystemPrompt, e.now()), draftUserPrompt(plan, findings), draftTemperature)
	if err != nil {
		return nil, fmt.Errorf("draft generation failed: %w", err)
	}
	return &DraftReport{
		Content:               text,
		Iteration:             1,
		InformationGaps:       []string{},
		RefinementSuggestions: []string{},
	}, nil
}

// refineDraft asks the reviewer for gaps and searches that would close them.
func (e *Engine) refineDraft(ctx context.Context, state *ResearchState, draft *DraftReport) (Refinement, error) {
	text, err := e.Model.Generate(ctx, withTemporal(refineSystemPrompt, e.now()), refineUserPrompt(state.Plan, draft.Content), refineTemperature)
	if err != nil {
		return Refinement{}, fmt.Errorf("refinement failed: %w", err)
	}

	var r Refinement
	if err := decodeStructured("refinement", text, &r); err != nil {
		return Refinement{}, err
	}

	e.emit(Event{
		Type:          EventRefinementUpdate,
		Iteration:     state.Iteration,
		MaxIterations: state.MaxIterations,
		Gaps:          r.InformationGaps,
	})
	return r, nil
}

// refine runs up to MaxIterations-1 critique passes. A pass that reports no
// gaps or no searches ends the loop; otherwise the suggested searches are
// run and the draft is rebuilt from the whole finding set.
func (e *Engine) refine(ctx context.Context, state *ResearchState) error {
	passes := state.MaxIterations - 1
	for i := 0; i < passes; i++ {
		if err := checkCancelled(ctx); err != nil {
			return err
		}
		state.Iteration = i + 1
		e.logger().Info("Starting refinement pass", "iteration", state.Iteration, "max", state.MaxIterations)

		r, err := e.refineDraft(ctx, state, state.DraftReport)
		if err != nil {
			return err
		}
		if r.Converged() {
			e.logger().Info("Draft converged", "iteration", state.Iteration)
			e.emit(Event{Type: EventAnalysisUpdate, Message: "No further information gaps found"})
			return nil
		}

		searches := r.SuggestedSearches
		if len(searches) > maxGapSearches {
			searches = searches[:maxGapSearches]
		}
		e.emit(Event{
			Type:    EventAnalysisUpdate,
			Message: fmt.Sprintf("Found %d information gaps, running %d follow-up searches", len(r.InformationGaps), len(searches)),
		})

		if err := e.runSearches(ctx, state, searches); err != nil {
			return err
		}

		draft, err := e.generateDraftReport(ctx, state.Plan, state.Findings)
		if err != nil {
			return err
		}
		state.DraftReport = draft.revised(i+2, r.InformationGaps)
		e.emit(Event{Type: EventDraftUpdate, Draft: state.DraftReport})
	}
	return nil
}
