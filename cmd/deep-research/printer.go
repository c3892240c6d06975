package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/mikeboe/deep-research/pkg/research"
)

// printer renders engine events as terminal progress lines.
type printer struct {
	out io.Writer

	phase  *color.Color
	info   *color.Color
	dim    *color.Color
	good   *color.Color
	warn   *color.Color
	failed *color.Color
}

func newPrinter(out io.Writer) *printer {
	return &printer{
		out:    out,
		phase:  color.New(color.FgCyan, color.Bold),
		info:   color.New(color.FgWhite),
		dim:    color.New(color.Faint),
		good:   color.New(color.FgGreen),
		warn:   color.New(color.FgYellow),
		failed: color.New(color.FgRed, color.Bold),
	}
}

var phaseLabels = map[research.Phase]string{
	research.PhasePlanning:   "Planning",
	research.PhaseSearching:  "Searching",
	research.PhaseDrafting:   "Drafting",
	research.PhaseRefining:   "Refining",
	research.PhaseFinalizing: "Finalizing",
	research.PhaseComplete:   "Complete",
}

func (p *printer) Handle(evt research.Event) {
	switch evt.Type {
	case research.EventPhaseChange:
		label := phaseLabels[evt.Phase]
		if label == "" {
			label = string(evt.Phase)
		}
		p.phase.Fprintf(p.out, "\n▸ %s", label)
		p.dim.Fprintf(p.out, "  %s\n", evt.Message)
	case research.EventAnalysisUpdate:
		p.info.Fprintf(p.out, "  %s\n", evt.Message)
	case research.EventSearchProgress:
		p.dim.Fprintf(p.out, "  [%d/%d] %s\n", evt.Completed, evt.Total, evt.CurrentQuery)
	case research.EventSearchResult:
		if evt.Finding != nil && len(evt.Finding.Sources) == 0 {
			p.warn.Fprintf(p.out, "  no results for %q\n", evt.Finding.Query)
		}
	case research.EventDraftUpdate:
		if evt.Draft != nil {
			p.good.Fprintf(p.out, "  draft %d ready (%d words)\n", evt.Draft.Iteration, len(strings.Fields(evt.Draft.Content)))
		}
	case research.EventRefinementUpdate:
		p.info.Fprintf(p.out, "  pass %d/%d: %d gaps\n", evt.Iteration, evt.MaxIterations, len(evt.Gaps))
		for _, gap := range evt.Gaps {
			p.dim.Fprintf(p.out, "    - %s\n", gap)
		}
	case research.EventError:
		p.failed.Fprintf(p.out, "\n✗ %s\n", evt.Error)
	}
}

func (p *printer) Report(report *research.FinalReport) {
	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, renderMarkdown(report))
}

func (p *printer) Saved(path string, report *research.FinalReport) {
	p.good.Fprintf(p.out, "\n✓ %q saved to %s (%d sources)\n", report.Title, path, len(report.Citations))
}

func (p *printer) Cancelled(findings int) {
	p.warn.Fprintf(p.out, "\nResearch cancelled after %d searches.\n", findings)
}

// renderMarkdown appends a numbered source list to the report body.
func renderMarkdown(report *research.FinalReport) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimRight(report.Content, "\n"))
	if len(report.Citations) > 0 {
		sb.WriteString("\n\n## Sources\n\n")
		for i, c := range report.Citations {
			title := c.Title
			if title == "" {
				title = c.URL
			}
			fmt.Fprintf(&sb, "%d. [%s](%s)\n", i+1, title, c.URL)
		}
	}
	return sb.String()
}
