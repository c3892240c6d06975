// Package app assembles a research engine from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/research/tools"
)

// Options derives engine options from configuration.
func Options(cfg *config.Config) research.Options {
	return research.Options{
		MaxIterations:         cfg.MaxIterations,
		MaxConcurrentSearches: cfg.MaxConcurrentSearches,
		ResultsPerQuery:       cfg.ResultsPerQuery,
	}
}

// Dispatcher builds the search dispatcher: the configured provider first,
// then the web fallbacks, paced by the search policy.
func Dispatcher(cfg *config.Config) (*research.Dispatcher, error) {
	backends, err := tools.Chain(cfg.SearchProvider, tools.Keys{Tavily: cfg.TavilyApiKey, Brave: cfg.BraveApiKey})
	if err != nil {
		return nil, err
	}
	policy, err := tools.LoadPolicy(cfg.SearchPolicyPath)
	if err != nil {
		return nil, err
	}
	d := research.NewDispatcher(backends...)
	d.Policy = policy
	return d, nil
}

// Factory is a reusable engine constructor sharing one model and dispatcher.
type Factory struct {
	Model  research.Model
	Search *research.Dispatcher
}

// NewFactory connects to the configured model provider and search backends.
func NewFactory(ctx context.Context, cfg *config.Config) (*Factory, error) {
	model, err := clients.FromConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create model client: %w", err)
	}
	search, err := Dispatcher(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create search dispatcher: %w", err)
	}
	slog.Info("Research engine ready", "llm_provider", cfg.LLMProvider, "search_provider", cfg.SearchProvider)
	return &Factory{Model: model, Search: search}, nil
}

// Engine returns a fresh engine for one run.
func (f *Factory) Engine(opts research.Options) *research.Engine {
	return research.NewEngine(f.Model, f.Search, opts)
}
