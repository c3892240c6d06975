package research

import (
	"fmt"
	"strings"
	"time"
)

// Sampling temperatures per stage.
const (
	planTemperature     = 0.3
	queryTemperature    = 0.5
	draftTemperature    = 0.7
	refineTemperature   = 0.3
	finalizeTemperature = 0.5
)

// TemporalContext renders the date line injected into every instruction.
func TemporalContext(now time.Time) string {
	u := now.UTC()
	return fmt.Sprintf("Current date: %s (%s UTC). Prefer recent information and say so when sources may be outdated.",
		u.Format("Monday, January 2, 2006"), u.Format("15:04"))
}

const planSystemPrompt = `You are a senior research strategist.
Break the user's request into a focused research plan.

Respond with a JSON object only, using this structure:
{
  "clarifiedQuery": "the request restated precisely",
  "researchQuestions": ["3-5 concrete questions that together answer the request"],
  "scope": "what is in and out of scope",
  "expectedSections": ["section headings the final report should contain"]
}`

const querySystemPrompt = `You write web search queries.
Given a research question, produce 2-4 short, specific search engine queries that would surface authoritative sources for it.

Respond with a JSON array of strings only, for example: ["query one", "query two"]`

const draftSystemPrompt = `You are a research analyst writing a report draft in Markdown.
Use only the findings provided. Cite sources inline as [Title](URL).
Follow the expected sections of the plan and note where evidence is thin.`

const refineSystemPrompt = `You are a critical reviewer of research drafts.
Identify information gaps that weaken the draft and the web searches that would close them.
If the draft already answers the research plan well, return empty lists.

Respond with a JSON object only, using this structure:
{
  "informationGaps": ["missing or weak points"],
  "suggestedSearches": ["search queries that would fill the gaps"]
}`

const finalSystemPrompt = `You are an editor producing the final version of a research report in Markdown.
Start with a single level-one heading holding the report title.
Polish structure and prose, keep every supported claim, and cite sources inline as [Title](URL).
End with a "Sources" section listing the sources you relied on.`

func withTemporal(system string, now time.Time) string {
	return system + "\n\n" + TemporalContext(now)
}

func planUserPrompt(query string) string {
	return fmt.Sprintf("Research request:\n%s", query)
}

func queryUserPrompt(plan *ResearchPlan, question string) string {
	return fmt.Sprintf("Overall topic: %s\nScope: %s\n\nResearch question:\n%s",
		plan.ClarifiedQuery, plan.Scope, question)
}

func formatPlan(plan *ResearchPlan) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Topic: %s\n", plan.ClarifiedQuery)
	fmt.Fprintf(&sb, "Scope: %s\n", plan.Scope)
	sb.WriteString("Research questions:\n")
	for _, q := range plan.ResearchQuestions {
		fmt.Fprintf(&sb, "- %s\n", q)
	}
	sb.WriteString("Expected sections:\n")
	for _, s := range plan.ExpectedSections {
		fmt.Fprintf(&sb, "- %s\n", s)
	}
	return sb.String()
}

// formatFindings serializes every finding as its query followed by a bullet
// list of sources.
func formatFindings(findings []ResearchFinding) string {
	var sb strings.Builder
	for _, f := range findings {
		fmt.Fprintf(&sb, "### Query: %s\n", f.Query)
		if len(f.Sources) == 0 {
			sb.WriteString("- (no results)\n\n")
			continue
		}
		for _, src := range f.Sources {
			fmt.Fprintf(&sb, "- [%s](%s): %s\n", src.Title, src.URL, src.Snippet)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func draftUserPrompt(plan *ResearchPlan, findings []ResearchFinding) string {
	return fmt.Sprintf("## Research plan\n%s\n## Findings\n%s", formatPlan(plan), formatFindings(findings))
}

func refineUserPrompt(plan *ResearchPlan, draft string) string {
	return fmt.Sprintf("## Research plan\n%s\n## Current draft\n%s", formatPlan(plan), draft)
}

func finalUserPrompt(plan *ResearchPlan, draft string, sources []ResearchSource) string {
	var sb strings.Builder
	for i, src := range sources {
		fmt.Fprintf(&sb, "%d. %s - %s\n", i+1, src.Title, src.URL)
	}
	return fmt.Sprintf("## Research plan\n%s\n## Latest draft\n%s\n\n## Available sources\n%s",
		formatPlan(plan), draft, sb.String())
}
