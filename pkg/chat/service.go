// Package chat answers follow-up questions about a finished research run
// with an agent that can search the run's indexed sources.
package chat

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/google/uuid"
	"google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	"google.golang.org/adk/model"
	"google.golang.org/adk/model/gemini"
	"google.golang.org/adk/runner"
	"google.golang.org/adk/session"
	"google.golang.org/adk/tool"
	"google.golang.org/genai"

	"github.com/mikeboe/deep-research/pkg/vectorstore"
)

const (
	appName   = "deep-research"
	agentName = "research_followup"
	userID    = "user"
)

// StreamEvent represents a single event in the answer stream
type StreamEvent struct {
	Type    string `json:"type"` // "content", "tool_call", "tool_result", "error", "done"
	Payload any    `json:"payload"`
}

// Question is a follow-up question about one run.
type Question struct {
	RunID       string
	ReportTitle string
	Text        string
}

type Service struct {
	Model    model.LLM
	Index    Index
	Embedder vectorstore.Embedder
}

// NewService creates the follow-up service backed by a Gemini model.
func NewService(ctx context.Context, modelName, apiKey string, index Index, embedder vectorstore.Embedder) (*Service, error) {
	modelClient, err := gemini.NewModel(ctx, modelName, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create model: %w", err)
	}
	return &Service{Model: modelClient, Index: index, Embedder: embedder}, nil
}

func instruction(q Question) string {
	return fmt.Sprintf(`You answer follow-up questions about a completed research report titled %q.
ALWAYS call search_sources before answering. Base every claim on the retrieved content and cite
the source URL in brackets after the claim. If the sources do not cover the question, say so.`, q.ReportTitle)
}

// Ask runs the agent for one question and streams its output.
func (s *Service) Ask(ctx context.Context, q Question) (iter.Seq2[StreamEvent, error], error) {
	followup, err := llmagent.New(llmagent.Config{
		Name:        agentName,
		Model:       s.Model,
		Description: "Answers questions grounded in a research run's sources.",
		Instruction: instruction(q),
		Toolsets: []tool.Toolset{
			&RunToolset{Index: s.Index, Embedder: s.Embedder, RunID: q.RunID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}

	sessionSvc := session.InMemoryService()
	sessionID := uuid.NewString()
	if _, err := sessionSvc.Create(ctx, &session.CreateRequest{
		AppName:   appName,
		UserID:    userID,
		SessionID: sessionID,
	}); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	r, err := runner.New(runner.Config{
		AppName:        appName,
		Agent:          followup,
		SessionService: sessionSvc,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create runner: %w", err)
	}

	userContent := &genai.Content{
		Role:  "user",
		Parts: []*genai.Part{{Text: q.Text}},
	}

	return func(yield func(StreamEvent, error) bool) {
		slog.Info("Starting follow-up agent", "run_id", q.RunID)
		runCfg := agent.RunConfig{StreamingMode: agent.StreamingModeSSE}

		for event, err := range r.Run(ctx, userID, sessionID, userContent, runCfg) {
			if err != nil {
				slog.Error("Agent runner error", "error", err)
				yield(StreamEvent{Type: "error", Payload: err.Error()}, err)
				return
			}
			if event.LLMResponse.Content == nil {
				continue
			}
			for _, part := range event.LLMResponse.Content.Parts {
				if evt, ok := partEvent(part); ok {
					if !yield(evt, nil) {
						return
					}
				}
			}
		}

		yield(StreamEvent{Type: "done", Payload: "done"}, nil)
	}, nil
}

func partEvent(part *genai.Part) (StreamEvent, bool) {
	switch {
	case part == nil:
		return StreamEvent{}, false
	case part.Text != "":
		return StreamEvent{Type: "content", Payload: part.Text}, true
	case part.FunctionCall != nil:
		slog.Info("Agent tool call", "tool", part.FunctionCall.Name)
		return StreamEvent{Type: "tool_call", Payload: part.FunctionCall}, true
	case part.FunctionResponse != nil:
		return StreamEvent{Type: "tool_result", Payload: part.FunctionResponse}, true
	}
	return StreamEvent{}, false
}
