package research

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

var titlePattern = regexp.MustCompile(`(?m)^#[ \t]+(.+?)[ \t]*$`)

// uniqueSources flattens the sources of all findings, keeping the first
// occurrence of each URL.
func uniqueSources(findings []ResearchFinding) []ResearchSource {
	seen := make(map[string]bool)
	sources := []ResearchSource{}
	for _, f := range findings {
		for _, src := range f.Sources {
			if seen[src.URL] {
				continue
			}
			seen[src.URL] = true
			sources = append(sources, src)
		}
	}
	return sources
}

// extractTitle returns the text of the first level-one heading, or fallback.
func extractTitle(content, fallback string) string {
	if m := titlePattern.FindStringSubmatch(content); m != nil {
		return strings.TrimSpace(m[1])
	}
	return fallback
}

// generateFinalReport polishes the latest draft into the final report. The
// citation list is the full deduplicated source pool.
func (e *Engine) generateFinalReport(ctx context.Context, state *ResearchState) (*FinalReport, error) {
	sources := uniqueSources(state.Findings)
	e.logger().Info("Compiling final report", "sources", len(sources))

	draft := ""
	if state.DraftReport != nil {
		draft = state.DraftReport.Content
	}
	text, err := e.Model.Generate(ctx, withTemporal(finalSystemPrompt, e.now()), finalUserPrompt(state.Plan, draft, sources), finalizeTemperature)
	if err != nil {
		return nil, fmt.Errorf("final report failed: %w", err)
	}

	report := &FinalReport{
		Title:       extractTitle(text, state.Plan.ClarifiedQuery),
		Content:     text,
		Citations:   sources,
		GeneratedAt: e.now(),
	}
	e.logger().Info("Final report generated", "title", report.Title, "length", len(text))
	return report, nil
}
