package research

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"Plain JSON", `{"a":1}`, `{"a":1}`},
		{"Fenced with language", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"Fenced without language", "```\n[\"x\"]\n```", `["x"]`},
		{"Surrounding whitespace", "\n  ```json\n{}\n```  \n", `{}`},
		{"Leading fence only", "```json\n{}", `{}`},
		{"Prose before fence is kept", "Sure!\n```json\n{}\n```", "Sure!\n```json\n{}"},
		{"Single line with language", "```json {\"a\":1}```", `{"a":1}`},
		{"Single line language glued to payload", "```json[1,2]```", `[1,2]`},
		{"Single line without language", "```{\"a\":1}```", `{"a":1}`},
		{"Bare word is not a language tag", "```true```", "true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripCodeFence(tt.input))
		})
	}
}

func TestDecodeStructuredReportsStage(t *testing.T) {
	var out Refinement
	err := decodeStructured("refinement", "not json", &out)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "refinement", perr.Stage)
	assert.Equal(t, "not json", perr.Raw)
	assert.Contains(t, err.Error(), "refinement")
}

func TestExtractTitle(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"First line heading", "# Report Title\n\nBody", "Report Title"},
		{"Heading after preamble", "Intro line\n\n# Later Title  \nmore", "Later Title"},
		{"Level two is ignored", "## Section\ntext", "fallback"},
		{"Hash without space", "#hashtag\n", "fallback"},
		{"First of several", "# One\n# Two", "One"},
		{"Windows line endings", "# Crlf Title\r\nBody", "Crlf Title"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractTitle(tt.content, "fallback"))
		})
	}
}

func TestUniqueSourcesKeepsFirstOccurrence(t *testing.T) {
	findings := []ResearchFinding{
		{Query: "one", Sources: []ResearchSource{
			{URL: "https://x.test/a", Title: "earlier"},
			{URL: "https://x.test/b", Title: "b"},
		}},
		{Query: "two", Sources: nil},
		{Query: "three", Sources: []ResearchSource{
			{URL: "https://x.test/a", Title: "later"},
			{URL: "https://x.test/c", Title: "c"},
		}},
	}

	got := uniqueSources(findings)
	require.Len(t, got, 3)
	assert.Equal(t, "earlier", got[0].Title)
	assert.Equal(t, "https://x.test/b", got[1].URL)
	assert.Equal(t, "https://x.test/c", got[2].URL)
}

func TestStateAdvance(t *testing.T) {
	s := NewState("q", 3)
	assert.True(t, s.advance(PhasePlanning))
	assert.True(t, s.advance(PhaseDrafting))
	assert.False(t, s.advance(PhaseSearching), "must not move backwards")
	assert.False(t, s.advance(PhaseDrafting))
	assert.Equal(t, PhaseDrafting, s.CurrentPhase)

	assert.True(t, s.advance(PhaseError))
	assert.False(t, s.advance(PhaseComplete), "error is terminal")
	assert.Equal(t, PhaseError, s.CurrentPhase)
}

func TestDraftRevisedDoesNotAlias(t *testing.T) {
	original := &DraftReport{Content: "c", Iteration: 1, InformationGaps: []string{}}
	gaps := []string{"gap"}
	revised := original.revised(3, gaps)
	gaps[0] = "mutated"

	assert.Equal(t, 1, original.Iteration)
	assert.Empty(t, original.InformationGaps)
	assert.Equal(t, 3, revised.Iteration)
	assert.Equal(t, []string{"gap"}, revised.InformationGaps)
	assert.Equal(t, "c", revised.Content)
}

func TestIsCancellation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"Sentinel", ErrCancelled, true},
		{"Wrapped context cancel", fmt.Errorf("plan: %w", context.Canceled), true},
		{"Run deadline via checkpoint", fmt.Errorf("%w: %w", ErrCancelled, context.DeadlineExceeded), true},
		{"Collaborator timeout", fmt.Errorf("search: %w", context.DeadlineExceeded), false},
		{"Plain failure", errors.New("model unavailable"), false},
		{"Nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsCancellation(tt.err))
		})
	}
}

func TestDecodeStructuredSingleLineFence(t *testing.T) {
	var out Refinement
	require.NoError(t, decodeStructured("refinement", "```json {\"informationGaps\": [\"g\"], \"suggestedSearches\": []}```", &out))
	assert.Equal(t, []string{"g"}, out.InformationGaps)
}
