package clients

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/deep-research/pkg/config"
)

type fakeModel struct {
	messages []llms.MessageContent
	opts     llms.CallOptions
	resp     *llms.ContentResponse
	err      error
}

func (f *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	for _, o := range options {
		o(&f.opts)
	}
	return f.resp, f.err
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestLLMGenerate(t *testing.T) {
	fake := &fakeModel{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "answer"}, {Content: "ignored"}}}}
	llm := &LLM{Model: fake}

	out, err := llm.Generate(context.Background(), "be brief", "what?", 0.3)
	require.NoError(t, err)
	assert.Equal(t, "answer", out)

	require.Len(t, fake.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, fake.messages[0].Role)
	assert.Equal(t, llms.TextContent{Text: "be brief"}, fake.messages[0].Parts[0])
	assert.Equal(t, llms.ChatMessageTypeHuman, fake.messages[1].Role)
	assert.InDelta(t, 0.3, fake.opts.Temperature, 1e-9)
}

func TestLLMGenerateErrors(t *testing.T) {
	llm := &LLM{Model: &fakeModel{resp: &llms.ContentResponse{}}}
	_, err := llm.Generate(context.Background(), "s", "u", 0.5)
	assert.ErrorContains(t, err, "no choices")

	boom := errors.New("quota exceeded")
	llm = &LLM{Model: &fakeModel{err: boom}}
	_, err = llm.Generate(context.Background(), "s", "u", 0.5)
	assert.ErrorIs(t, err, boom)
}

func TestFromConfigRejectsUnknownProvider(t *testing.T) {
	_, err := FromConfig(context.Background(), &config.Config{LLMProvider: "mystery"})
	assert.ErrorContains(t, err, "unknown llm provider")

	_, err = FromConfig(context.Background(), &config.Config{LLMProvider: "anthropic"})
	assert.ErrorContains(t, err, "ANTHROPIC_API_KEY")
}
