package research

import (
	"context"
	"fmt"
)

// maxSearchQueries caps the initial query set.
const maxSearchQueries = 15

// planResearch asks the model for a structured plan of attack for query.
func (e *Engine) planResearch(ctx context.Context, query string) (*ResearchPlan, error) {
	e.logger().Info("Starting planning phase", "query", query)

	text, err := e.Model.Generate(ctx, withTemporal(planSystemPrompt, e.now()), planUserPrompt(query), planTemperature)
	if err != nil {
		return nil, fmt.Errorf("planning failed: %w", err)
	}

	var plan ResearchPlan
	if err := decodeStructured("plan", text, &plan); err != nil {
		return nil, err
	}
	plan.OriginalQuery = query

	e.logger().Info("Research plan ready", "questions", len(plan.ResearchQuestions), "sections", len(plan.ExpectedSections))
	return &plan, nil
}

// generateSearchQueries asks for queries one research question at a time,
// then keeps the first maxSearchQueries distinct strings in discovery order.
// Queries are compared verbatim: no case folding, no trimming.
func (e *Engine) generateSearchQueries(ctx context.Context, plan *ResearchPlan) ([]string, error) {
	var all []string
	for _, question := range plan.ResearchQuestions {
		if err := checkCancelled(ctx); err != nil {
			return nil, err
		}
		text, err := e.Model.Generate(ctx, withTemporal(querySystemPrompt, e.now()), queryUserPrompt(plan, question), queryTemperature)
		if err != nil {
			return nil, fmt.Errorf("query generation failed: %w", err)
		}
		var queries []string
		if err := decodeStructured("search queries", text, &queries); err != nil {
			return nil, err
		}
		all = append(all, queries...)
	}

	queries := dedupeQueries(all, maxSearchQueries)
	e.logger().Info("Generated queries", "raw", len(all), "kept", len(queries))
	return queries, nil
}

func dedupeQueries(queries []string, limit int) []string {
	seen := make(map[string]bool, len(queries))
	out := make([]string, 0, min(len(queries), limit))
	for _, q := range queries {
		if seen[q] {
			continue
		}
		seen[q] = true
		out = append(out, q)
		if len(out) == limit {
			break
		}
	}
	return out
}
