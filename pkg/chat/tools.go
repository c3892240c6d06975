package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/adk/agent"
	"google.golang.org/adk/tool"
	"google.golang.org/adk/tool/functiontool"

	"github.com/mikeboe/deep-research/pkg/vectorstore"
)

// Index is the read side of the vector store used by the follow-up agent.
type Index interface {
	SimilaritySearch(ctx context.Context, queryEmbedding []float32, topK int, runID string) ([]vectorstore.SimilaritySearchResult, error)
	ListRun(ctx context.Context, runID, kind string) ([]vectorstore.Document, error)
}

// RunToolset exposes one research run's indexed sources to the agent.
type RunToolset struct {
	Index    Index
	Embedder vectorstore.Embedder
	RunID    string
}

func (t *RunToolset) Name() string {
	return "run_sources"
}

func (t *RunToolset) Tools(ctx agent.ReadonlyContext) ([]tool.Tool, error) {
	searchTool, err := functiontool.New[SearchSourcesArgs, SearchSourcesResp](
		functiontool.Config{
			Name:        "search_sources",
			Description: "Semantic search over the sources and report of the current research run.",
		},
		t.searchSourcesTool,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create search tool: %w", err)
	}

	listTool, err := functiontool.New[ListSourcesArgs, ListSourcesResp](
		functiontool.Config{
			Name:        "list_sources",
			Description: "List every source cited by the current research run.",
		},
		t.listSourcesTool,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create list tool: %w", err)
	}

	return []tool.Tool{searchTool, listTool}, nil
}

type SearchSourcesArgs struct {
	Query string `json:"query" description:"What to look for"`
	TopK  int    `json:"topK,omitempty" description:"Number of results to return (default 5)"`
}

type SearchSourcesResp struct {
	Results string `json:"results"`
}

func (t *RunToolset) searchSourcesTool(ctx tool.Context, args SearchSourcesArgs) (SearchSourcesResp, error) {
	return t.SearchSources(ctx, args)
}

// SearchSources embeds the query and returns the closest documents of the run.
func (t *RunToolset) SearchSources(ctx context.Context, args SearchSourcesArgs) (SearchSourcesResp, error) {
	if args.TopK <= 0 {
		args.TopK = 5
	}
	slog.Info("Search sources", "run_id", t.RunID, "query", args.Query, "topK", args.TopK)

	queryEmbedding, err := t.Embedder.EmbedText(ctx, args.Query)
	if err != nil {
		return SearchSourcesResp{}, fmt.Errorf("failed to generate query embedding: %w", err)
	}
	results, err := t.Index.SimilaritySearch(ctx, queryEmbedding, args.TopK, t.RunID)
	if err != nil {
		return SearchSourcesResp{}, fmt.Errorf("failed to search: %w", err)
	}

	docs := make([]vectorstore.Document, len(results))
	for i, r := range results {
		docs[i] = r.Document
	}
	return SearchSourcesResp{Results: formatDocuments(docs)}, nil
}

type ListSourcesArgs struct{}

type ListSourcesResp struct {
	Sources string `json:"sources"`
}

func (t *RunToolset) listSourcesTool(ctx tool.Context, _ ListSourcesArgs) (ListSourcesResp, error) {
	return t.ListSources(ctx)
}

// ListSources returns the run's citations as a numbered list.
func (t *RunToolset) ListSources(ctx context.Context) (ListSourcesResp, error) {
	docs, err := t.Index.ListRun(ctx, t.RunID, vectorstore.KindSource)
	if err != nil {
		return ListSourcesResp{}, fmt.Errorf("failed to list sources: %w", err)
	}
	var sb strings.Builder
	for i, d := range docs {
		fmt.Fprintf(&sb, "%d. %s (%s)\n", i+1, d.Title(), d.URL())
	}
	return ListSourcesResp{Sources: sb.String()}, nil
}

// formatDocuments renders search hits as labelled blocks the model can cite.
func formatDocuments(docs []vectorstore.Document) string {
	blocks := make([]string, 0, len(docs))
	for _, d := range docs {
		var sb strings.Builder
		if url := d.URL(); url != "" {
			fmt.Fprintf(&sb, "[Source]: %s\n", url)
		} else {
			sb.WriteString("[Source]: final report\n")
		}
		if title := d.Title(); title != "" {
			fmt.Fprintf(&sb, "[Title]: %s\n", title)
		}
		fmt.Fprintf(&sb, "[Content]: %s", d.Content)
		blocks = append(blocks, sb.String())
	}
	return strings.Join(blocks, "\n\n")
}
