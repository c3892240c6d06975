package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MAX_ITERATIONS", "")
	t.Setenv("SEARCH_PROVIDER", "")
	t.Setenv("COLLECTION_NAME", "")

	cfg := Load()
	assert.Equal(t, 3, cfg.MaxIterations)
	assert.Equal(t, "tavily", cfg.SearchProvider)
	assert.Equal(t, "research_sources", cfg.CollectionName)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MAX_ITERATIONS", "5")
	t.Setenv("MAX_CONCURRENT_SEARCHES", "not-a-number")
	t.Setenv("LLM_PROVIDER", "anthropic")

	cfg := Load()
	assert.Equal(t, 5, cfg.MaxIterations)
	assert.Equal(t, 3, cfg.MaxConcurrentSearches, "invalid ints fall back to the default")
	assert.Equal(t, "anthropic", cfg.LLMProvider)
}
