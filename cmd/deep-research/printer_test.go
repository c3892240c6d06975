package main

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"github.com/mikeboe/deep-research/pkg/research"
)

func TestRenderMarkdown(t *testing.T) {
	report := &research.FinalReport{
		Title:   "T",
		Content: "# T\n\nBody.\n\n",
		Citations: []research.ResearchSource{
			{URL: "https://a.test", Title: "A"},
			{URL: "https://b.test"},
		},
	}
	assert.Equal(t, "# T\n\nBody.\n\n## Sources\n\n1. [A](https://a.test)\n2. [https://b.test](https://b.test)\n", renderMarkdown(report))

	assert.Equal(t, "# T", renderMarkdown(&research.FinalReport{Content: "# T\n"}))
}

func TestPrinterHandle(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	p := newPrinter(&buf)

	p.Handle(research.Event{Type: research.EventPhaseChange, Phase: research.PhaseSearching, Message: "Running 2 searches"})
	p.Handle(research.Event{Type: research.EventSearchProgress, Completed: 1, Total: 2, CurrentQuery: "q1"})
	p.Handle(research.Event{Type: research.EventSearchResult, Finding: &research.ResearchFinding{Query: "q2", Sources: []research.ResearchSource{}}})
	p.Handle(research.Event{Type: research.EventRefinementUpdate, Iteration: 1, MaxIterations: 3, Gaps: []string{"costs"}})

	out := buf.String()
	assert.Contains(t, out, "▸ Searching  Running 2 searches")
	assert.Contains(t, out, "[1/2] q1")
	assert.Contains(t, out, `no results for "q2"`)
	assert.Contains(t, out, "pass 1/3: 1 gaps")
	assert.Contains(t, out, "- costs")
}
