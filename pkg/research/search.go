package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mikeboe/deep-research/pkg/research/tools"
)

var errNoBackend = errors.New("no search backend available")

// SearchOptions tunes one call to Dispatcher.Execute.
type SearchOptions struct {
	// MaxConcurrent is the requested cap; the backend policy may lower it.
	MaxConcurrent int
	// MaxResults is the per-query result limit.
	MaxResults int
	// OnProgress is called once per query after its batch settles.
	OnProgress func(completed, total int, currentQuery string)
}

// Dispatcher fans queries out to the first available search backend in
// batches and turns the hits into findings.
type Dispatcher struct {
	Backends []tools.Provider
	Policy   *tools.Policy
	Logger   *slog.Logger
	Now      func() time.Time
}

// NewDispatcher returns a dispatcher over backends using the default policy.
func NewDispatcher(backends ...tools.Provider) *Dispatcher {
	return &Dispatcher{Backends: backends, Policy: tools.DefaultPolicy()}
}

// Available reports whether any backend can serve queries.
func (d *Dispatcher) Available() bool {
	return d.active() != nil
}

func (d *Dispatcher) active() tools.Provider {
	if d == nil {
		return nil
	}
	for _, b := range d.Backends {
		if tools.IsAvailable(b) {
			return b
		}
	}
	return nil
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// EffectiveConcurrency is the batch size Execute will use for requested.
func (d *Dispatcher) EffectiveConcurrency(requested int) int {
	b := d.active()
	if b == nil {
		return 1
	}
	return d.Policy.Concurrency(b.Name(), requested)
}

// Execute runs queries in consecutive batches. Each batch is dispatched
// concurrently and fully settles before the next one starts; cancellation
// is checked between batches only. A failed query yields a finding with no
// sources, while a cancelled query aborts the whole call.
func (d *Dispatcher) Execute(ctx context.Context, queries []string, opts SearchOptions) ([]ResearchFinding, error) {
	backend := d.active()
	size := d.EffectiveConcurrency(opts.MaxConcurrent)
	total := len(queries)

	findings := make([]ResearchFinding, 0, total)
	completed := 0
	for start := 0; start < total; start += size {
		if err := checkCancelled(ctx); err != nil {
			return nil, err
		}
		end := min(start+size, total)
		batch := queries[start:end]

		results := make([][]ResearchSource, len(batch))
		var g errgroup.Group
		for i, query := range batch {
			g.Go(func() error {
				sources, err := d.searchOne(ctx, backend, query, opts.MaxResults)
				if err != nil {
					return err
				}
				results[i] = sources
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		for i, query := range batch {
			completed++
			if opts.OnProgress != nil {
				opts.OnProgress(completed, total, query)
			}
			findings = append(findings, ResearchFinding{
				Query:     query,
				Sources:   results[i],
				Timestamp: d.now(),
			})
		}
	}
	return findings, nil
}

func (d *Dispatcher) searchOne(ctx context.Context, backend tools.Provider, query string, maxResults int) ([]ResearchSource, error) {
	if backend == nil {
		d.logger().Warn("Search skipped", "query", query, "error", errNoBackend)
		return []ResearchSource{}, nil
	}

	raw, err := backend.Search(ctx, query, maxResults)
	if err != nil {
		if IsCancellation(err) || ctx.Err() != nil {
			return nil, fmt.Errorf("%w: search %q: %w", ErrCancelled, query, err)
		}
		d.logger().Warn("Search failed", "backend", backend.Name(), "query", query, "error", err)
		return []ResearchSource{}, nil
	}

	sources := make([]ResearchSource, 0, len(raw))
	for _, r := range raw {
		src := ResearchSource{
			URL:     strings.TrimSpace(r.URL),
			Title:   strings.TrimSpace(r.Title),
			Snippet: strings.TrimSpace(r.Snippet),
		}
		if r.Score > 0 {
			score := r.Score
			src.RelevanceScore = &score
		}
		sources = append(sources, src)
	}
	d.logger().Debug("Search succeeded", "backend", backend.Name(), "query", query, "count", len(sources))
	return sources, nil
}
