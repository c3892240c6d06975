package clients

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/deep-research/pkg/config"
)

// LLM adapts any langchaingo model to the research engine's Model.
type LLM struct {
	Model llms.Model
}

// Generate sends one system + user exchange and returns the first choice.
func (l *LLM) Generate(ctx context.Context, system, user string, temperature float64) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}

	resp, err := l.Model.GenerateContent(ctx, messages, llms.WithTemperature(temperature))
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}
	return resp.Choices[0].Content, nil
}

// FromConfig picks the provider named by LLM_PROVIDER.
func FromConfig(ctx context.Context, cfg *config.Config) (*LLM, error) {
	model := ModelType(cfg.ReasoningModel)

	switch strings.ToLower(cfg.LLMProvider) {
	case "", "google", "gemini":
		llm, err := GoogleAI(ctx, cfg.GoogleApiKey, model)
		if err != nil {
			return nil, err
		}
		return &LLM{Model: llm}, nil
	case "anthropic", "claude":
		llm, err := AnthropicAI(cfg.AnthropicApiKey, model)
		if err != nil {
			return nil, err
		}
		return &LLM{Model: llm}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %q", cfg.LLMProvider)
	}
}
