package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type StartResearchInput struct {
	Query         string `json:"query" jsonschema:"the research question"`
	MaxIterations int    `json:"maxIterations,omitempty" jsonschema:"maximum draft iterations, default 3"`
}

type StartResearchOutput struct {
	RunID  string    `json:"runId"`
	Status RunStatus `json:"status"`
}

type RunInput struct {
	RunID string `json:"runId" jsonschema:"id returned by start_research"`
}

type GetResearchOutput struct {
	RunID  string    `json:"runId"`
	Query  string    `json:"query"`
	Status RunStatus `json:"status"`
	Title  string    `json:"title,omitempty"`
	Report string    `json:"report,omitempty"`
	Error  string    `json:"error,omitempty"`
}

type CancelResearchOutput struct {
	RunID      string `json:"runId"`
	Cancelling bool   `json:"cancelling"`
}

// NewMCPServer exposes run management as MCP tools.
func NewMCPServer(s *Service) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "deep-research", Version: "1.0.0"}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "start_research",
		Description: "Start a deep research run on a question. Returns the run id; poll get_research for the report.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in StartResearchInput) (*mcp.CallToolResult, StartResearchOutput, error) {
		run, err := s.CreateRun(ctx, CreateRunRequest{Query: in.Query, MaxIterations: in.MaxIterations})
		if err != nil {
			return nil, StartResearchOutput{}, err
		}
		return nil, StartResearchOutput{RunID: run.ID.String(), Status: run.Status}, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_research",
		Description: "Get the status of a research run and, once completed, its final report.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in RunInput) (*mcp.CallToolResult, GetResearchOutput, error) {
		id, err := uuid.Parse(in.RunID)
		if err != nil {
			return nil, GetResearchOutput{}, fmt.Errorf("invalid run id: %w", err)
		}
		run, err := s.GetRun(ctx, id)
		if err != nil {
			return nil, GetResearchOutput{}, err
		}
		out := GetResearchOutput{RunID: in.RunID, Query: run.Query, Status: run.Status}
		if run.Title != nil {
			out.Title = *run.Title
		}
		if run.Report != nil {
			out.Report = *run.Report
		}
		if run.Error != nil {
			out.Error = *run.Error
		}
		return nil, out, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "cancel_research",
		Description: "Cancel a running research run.",
	}, func(_ context.Context, _ *mcp.CallToolRequest, in RunInput) (*mcp.CallToolResult, CancelResearchOutput, error) {
		id, err := uuid.Parse(in.RunID)
		if err != nil {
			return nil, CancelResearchOutput{}, fmt.Errorf("invalid run id: %w", err)
		}
		if err := s.CancelRun(id); err != nil {
			return nil, CancelResearchOutput{}, err
		}
		return nil, CancelResearchOutput{RunID: in.RunID, Cancelling: true}, nil
	})

	return server
}

// NewMCPHandler serves the MCP server over streamable HTTP.
func NewMCPHandler(s *Service) http.Handler {
	server := NewMCPServer(s)
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil)
}
