package research

import "time"

// EventType tags the payload carried by an Event.
type EventType string

const (
	EventPhaseChange      EventType = "phase_change"
	EventSearchProgress   EventType = "search_progress"
	EventSearchResult     EventType = "search_result"
	EventAnalysisUpdate   EventType = "analysis_update"
	EventDraftUpdate      EventType = "draft_update"
	EventRefinementUpdate EventType = "refinement_update"
	EventFinalReport      EventType = "final_report"
	EventError            EventType = "error"
	EventComplete         EventType = "complete"
)

// Event is a progress notification emitted by the engine. Only the fields
// belonging to Type are populated.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// phase_change
	Phase Phase `json:"phase,omitempty"`
	// phase_change, analysis_update
	Message string `json:"message,omitempty"`

	// search_progress
	Completed    int    `json:"completed,omitempty"`
	Total        int    `json:"total,omitempty"`
	CurrentQuery string `json:"currentQuery,omitempty"`

	// search_result
	Finding *ResearchFinding `json:"finding,omitempty"`

	// draft_update
	Draft *DraftReport `json:"draft,omitempty"`

	// refinement_update
	Iteration     int      `json:"iteration,omitempty"`
	MaxIterations int      `json:"maxIterations,omitempty"`
	Gaps          []string `json:"gaps,omitempty"`

	// final_report
	Report *FinalReport `json:"report,omitempty"`

	// error
	Error string `json:"error,omitempty"`

	// complete
	State *ResearchState `json:"state,omitempty"`
}

// Emitter receives events synchronously. Implementations must keep up; the
// engine does not buffer or retry delivery.
type Emitter func(Event)
