package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mikeboe/deep-research/pkg/research"
)

// Embedder turns texts into vectors, one per text.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Splitter chunks report content.
type Splitter interface {
	SplitText(text string) ([]string, error)
}

// Store is the subset of PGVectorStore the indexer writes to. ReplaceRun
// must leave the previous documents in place when it fails.
type Store interface {
	ReplaceRun(ctx context.Context, runID string, docs []Document) error
}

// Indexer writes a finished run's citations and report chunks to the store.
type Indexer struct {
	Store    Store
	Embedder Embedder
	Splitter Splitter
	Logger   *slog.Logger
}

// IndexReport replaces whatever was indexed for runID with the citations
// and report chunks of report. It returns the number of documents written.
func (ix *Indexer) IndexReport(ctx context.Context, runID string, report *research.FinalReport) (int, error) {
	if report == nil {
		return 0, nil
	}
	docs, err := buildDocuments(runID, report, ix.Splitter)
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	vecs, err := ix.Embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("failed to embed documents: %w", err)
	}
	if len(vecs) != len(docs) {
		return 0, fmt.Errorf("expected %d embeddings, got %d", len(docs), len(vecs))
	}
	for i := range docs {
		docs[i].Embedding = vecs[i]
	}

	if err := ix.Store.ReplaceRun(ctx, runID, docs); err != nil {
		return 0, err
	}

	logger := ix.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("Indexed research run", "run_id", runID, "documents", len(docs))
	return len(docs), nil
}

func buildDocuments(runID string, report *research.FinalReport, splitter Splitter) ([]Document, error) {
	var docs []Document
	for i, c := range report.Citations {
		content := strings.TrimSpace(strings.Join([]string{c.Title, c.Snippet}, "\n\n"))
		if content == "" {
			continue
		}
		docs = append(docs, Document{
			Content: content,
			Metadata: map[string]any{
				"run_id": runID,
				"kind":   KindSource,
				"url":    c.URL,
				"title":  c.Title,
				"index":  i,
			},
		})
	}

	if strings.TrimSpace(report.Content) == "" {
		return docs, nil
	}
	chunks := []string{report.Content}
	if splitter != nil {
		var err error
		chunks, err = splitter.SplitText(report.Content)
		if err != nil {
			return nil, fmt.Errorf("failed to split report: %w", err)
		}
	}
	for i, chunk := range chunks {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		docs = append(docs, Document{
			Content: chunk,
			Metadata: map[string]any{
				"run_id": runID,
				"kind":   KindReport,
				"title":  report.Title,
				"chunk":  i,
			},
		})
	}
	return docs, nil
}
