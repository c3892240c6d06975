// Package tools holds the web search backends used by the research engine.
package tools

import (
	"context"
	"net/http"
	"time"
)

// Result is a single hit returned by a search backend. Score is zero when
// the backend does not rank its results.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score,omitempty"`
}

// Provider executes a query against one search backend.
type Provider interface {
	// Name identifies the backend. It drives the concurrency policy.
	Name() string
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

// Availability is implemented by providers that need credentials.
type Availability interface {
	Available() bool
}

// IsAvailable reports whether p can serve queries.
func IsAvailable(p Provider) bool {
	if p == nil {
		return false
	}
	if a, ok := p.(Availability); ok {
		return a.Available()
	}
	return true
}

const defaultMaxResults = 5

func clampResults(n int) int {
	if n <= 0 {
		return defaultMaxResults
	}
	return n
}

func defaultClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}
