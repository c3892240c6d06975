package research

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/deep-research/pkg/research/tools"
)

func tenQueries() []string {
	queries := make([]string, 10)
	for i := range queries {
		queries[i] = fmt.Sprintf("query %d", i)
	}
	return queries
}

func TestDispatcherBoundsConcurrency(t *testing.T) {
	provider := &fakeProvider{name: "fake", delay: 20 * time.Millisecond}
	d := NewDispatcher(provider)

	var progress []int
	findings, err := d.Execute(context.Background(), tenQueries(), SearchOptions{
		MaxConcurrent: 3,
		OnProgress: func(completed, total int, _ string) {
			assert.Equal(t, 10, total)
			progress = append(progress, completed)
		},
	})
	require.NoError(t, err)

	assert.LessOrEqual(t, provider.peak.Load(), int32(3))
	assert.Equal(t, int32(10), provider.calls.Load())
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, progress)
	require.Len(t, findings, 10)
	for i, f := range findings {
		assert.Equal(t, fmt.Sprintf("query %d", i), f.Query)
		assert.Len(t, f.Sources, 1)
		assert.Empty(t, f.Summary)
	}
}

func TestDispatcherSerializesRateLimitedBackends(t *testing.T) {
	for _, name := range []string{"duckduckgo", "brave", "arxiv"} {
		t.Run(name, func(t *testing.T) {
			provider := &fakeProvider{name: name, delay: 5 * time.Millisecond}
			d := NewDispatcher(provider)

			assert.Equal(t, 1, d.EffectiveConcurrency(8))
			_, err := d.Execute(context.Background(), tenQueries()[:4], SearchOptions{MaxConcurrent: 8})
			require.NoError(t, err)
			assert.Equal(t, int32(1), provider.peak.Load())
		})
	}
}

func TestDispatcherDefaultConcurrency(t *testing.T) {
	d := NewDispatcher(&fakeProvider{name: "tavily"})
	assert.Equal(t, tools.DefaultConcurrency, d.EffectiveConcurrency(0))
	assert.Equal(t, 6, d.EffectiveConcurrency(6))
}

func TestDispatcherFailedQueryYieldsEmptyFinding(t *testing.T) {
	provider := &fakeProvider{name: "fake", results: func(query string) ([]tools.Result, error) {
		if query == "query 1" {
			return nil, errors.New("http 500")
		}
		return []tools.Result{{Title: query, URL: "https://x.test/" + query, Score: 0.7}}, nil
	}}
	d := NewDispatcher(provider)

	findings, err := d.Execute(context.Background(), tenQueries()[:3], SearchOptions{MaxConcurrent: 3})
	require.NoError(t, err)
	require.Len(t, findings, 3)
	assert.NotNil(t, findings[1].Sources)
	assert.Empty(t, findings[1].Sources)
	require.NotNil(t, findings[0].Sources[0].RelevanceScore)
	assert.InDelta(t, 0.7, *findings[0].Sources[0].RelevanceScore, 1e-9)
}

func TestDispatcherCancelledBeforeBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	provider := &fakeProvider{name: "fake"}

	var progressCalls int
	findings, err := NewDispatcher(provider).Execute(ctx, tenQueries(), SearchOptions{
		OnProgress: func(int, int, string) { progressCalls++ },
	})
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Nil(t, findings)
	assert.Zero(t, provider.calls.Load())
	assert.Zero(t, progressCalls)
}

func TestDispatcherStopsBetweenBatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	provider := &fakeProvider{name: "fake"}

	_, err := NewDispatcher(provider).Execute(ctx, tenQueries(), SearchOptions{
		MaxConcurrent: 2,
		OnProgress: func(completed, _ int, _ string) {
			if completed == 2 {
				cancel()
			}
		},
	})
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, int32(2), provider.calls.Load())
}

func TestDispatcherCancellationInsideSearchAborts(t *testing.T) {
	provider := &fakeProvider{name: "fake", results: func(query string) ([]tools.Result, error) {
		if query == "query 2" {
			return nil, fmt.Errorf("request aborted: %w", context.Canceled)
		}
		return nil, nil
	}}

	findings, err := NewDispatcher(provider).Execute(context.Background(), tenQueries(), SearchOptions{MaxConcurrent: 3})
	require.Error(t, err)
	assert.True(t, IsCancellation(err))
	assert.Nil(t, findings)
	// the batch in flight settles but nothing after it starts
	assert.Equal(t, int32(3), provider.calls.Load())
}

type keyedProvider struct {
	fakeProvider
	key string
}

func (k *keyedProvider) Available() bool { return k.key != "" }

func TestDispatcherUsesFirstAvailableBackend(t *testing.T) {
	missing := &keyedProvider{fakeProvider: fakeProvider{name: "tavily"}}
	fallback := &fakeProvider{name: "fake"}
	d := NewDispatcher(missing, fallback)

	require.True(t, d.Available())
	_, err := d.Execute(context.Background(), []string{"a"}, SearchOptions{})
	require.NoError(t, err)
	assert.Zero(t, missing.calls.Load())
	assert.Equal(t, int32(1), fallback.calls.Load())
}

func TestDispatcherWithoutBackends(t *testing.T) {
	d := NewDispatcher()
	assert.False(t, d.Available())

	findings, err := d.Execute(context.Background(), []string{"a", "b"}, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, findings, 2)
	assert.Empty(t, findings[0].Sources)
}
