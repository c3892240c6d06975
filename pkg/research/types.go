package research

import "time"

// Phase is one named state of a research run.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhasePlanning   Phase = "planning"
	PhaseSearching  Phase = "searching"
	PhaseDrafting   Phase = "drafting"
	PhaseRefining   Phase = "refining"
	PhaseFinalizing Phase = "finalizing"
	PhaseComplete   Phase = "complete"
	PhaseError      Phase = "error"
)

var phaseOrder = map[Phase]int{
	PhaseIdle:       0,
	PhasePlanning:   1,
	PhaseSearching:  2,
	PhaseDrafting:   3,
	PhaseRefining:   4,
	PhaseFinalizing: 5,
	PhaseComplete:   6,
}

// Terminal reports whether no further transitions are possible.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseError
}

// ResearchSource is a single search hit, normalized across backends.
type ResearchSource struct {
	URL            string   `json:"url"`
	Title          string   `json:"title"`
	Snippet        string   `json:"snippet"`
	RelevanceScore *float64 `json:"relevanceScore,omitempty"`
}

// ResearchFinding is the outcome of one executed search query.
// Summary is reserved and left empty by the engine.
type ResearchFinding struct {
	Query     string           `json:"query"`
	Sources   []ResearchSource `json:"sources"`
	Summary   string           `json:"summary"`
	Timestamp time.Time        `json:"timestamp"`
}

// ResearchPlan is produced once per run by the planning phase.
type ResearchPlan struct {
	OriginalQuery     string   `json:"originalQuery"`
	ClarifiedQuery    string   `json:"clarifiedQuery"`
	ResearchQuestions []string `json:"researchQuestions"`
	Scope             string   `json:"scope"`
	ExpectedSections  []string `json:"expectedSections"`
}

// DraftReport is replaced wholesale on every regeneration.
type DraftReport struct {
	Content               string   `json:"content"`
	Iteration             int      `json:"iteration"`
	InformationGaps       []string `json:"informationGaps"`
	RefinementSuggestions []string `json:"refinementSuggestions"`
}

// revised returns a copy of d stamped with a new iteration and gap list.
func (d DraftReport) revised(iteration int, gaps []string) *DraftReport {
	d.Iteration = iteration
	d.InformationGaps = append([]string(nil), gaps...)
	d.RefinementSuggestions = append([]string(nil), d.RefinementSuggestions...)
	return &d
}

// FinalReport is the terminal artifact of a successful run.
type FinalReport struct {
	Title       string           `json:"title"`
	Content     string           `json:"content"`
	Citations   []ResearchSource `json:"citations"`
	GeneratedAt time.Time        `json:"generatedAt"`
}

// ResearchState is the aggregate owned by a single run. Only the engine's
// sequential driver writes to it; search tasks hand results back instead.
type ResearchState struct {
	UserQuery         string            `json:"userQuery"`
	Plan              *ResearchPlan     `json:"plan,omitempty"`
	Findings          []ResearchFinding `json:"findings"`
	TotalSearches     int               `json:"totalSearches"`
	CompletedSearches int               `json:"completedSearches"`
	DraftReport       *DraftReport      `json:"draftReport,omitempty"`
	FinalReport       *FinalReport      `json:"finalReport,omitempty"`
	CurrentPhase      Phase             `json:"currentPhase"`
	Iteration         int               `json:"iteration"`
	MaxIterations     int               `json:"maxIterations"`
	Error             string            `json:"error,omitempty"`
}

// NewState returns an idle state for query.
func NewState(query string, maxIterations int) *ResearchState {
	return &ResearchState{
		UserQuery:     query,
		Findings:      []ResearchFinding{},
		CurrentPhase:  PhaseIdle,
		MaxIterations: maxIterations,
	}
}

// advance moves the state to p. Phases only move forward; error is reachable
// from any non-terminal phase. It reports whether the phase actually changed.
func (s *ResearchState) advance(p Phase) bool {
	if s.CurrentPhase.Terminal() {
		return false
	}
	if p == PhaseError {
		s.CurrentPhase = PhaseError
		return true
	}
	if phaseOrder[p] <= phaseOrder[s.CurrentPhase] {
		return false
	}
	s.CurrentPhase = p
	return true
}

// appendFindings records a completed search round.
func (s *ResearchState) appendFindings(findings []ResearchFinding) {
	s.Findings = append(s.Findings, findings...)
	s.CompletedSearches = len(s.Findings)
}
