package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Document kinds stored in the metadata "kind" field.
const (
	KindSource = "source"
	KindReport = "report"
)

// Document represents an indexed piece of a research run
type Document struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata"`
	Embedding []float32      `json:"embedding,omitempty"`
}

// RunID returns the run the document belongs to.
func (d Document) RunID() string { return metaString(d.Metadata, "run_id") }

// URL returns the source URL, empty for report chunks.
func (d Document) URL() string { return metaString(d.Metadata, "url") }

// Title returns the source or report title.
func (d Document) Title() string { return metaString(d.Metadata, "title") }

func metaString(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// PGVectorStore handles pgvector operations
type PGVectorStore struct {
	pool      *pgxpool.Pool
	tableName string
}

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-zA-Z0-9_]{0,62}$`)

// isValidTableName validates that a table name contains only safe characters.
// Postgres identifiers are at most 63 characters.
func isValidTableName(name string) bool {
	return tableNamePattern.MatchString(name)
}

// NewPGVectorStore creates a new PGVector store
func NewPGVectorStore(pool *pgxpool.Pool, tableName string) (*PGVectorStore, error) {
	if !isValidTableName(tableName) {
		return nil, fmt.Errorf("invalid table name %q: must contain only alphanumeric characters and underscores, start with a letter or underscore, and be 1-63 characters long", tableName)
	}
	return &PGVectorStore{
		pool:      pool,
		tableName: tableName,
	}, nil
}

func (vs *PGVectorStore) table() string {
	return pgx.Identifier{vs.tableName}.Sanitize()
}

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// ReplaceRun swaps the documents indexed for runID for docs in a single
// transaction, so a failed insert keeps the previous index.
func (vs *PGVectorStore) ReplaceRun(ctx context.Context, runID string, docs []Document) error {
	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := vs.deleteRun(ctx, tx, runID); err != nil {
		return err
	}
	if err := vs.insertDocuments(ctx, tx, docs); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit documents for run %s: %w", runID, err)
	}
	return nil
}

func (vs *PGVectorStore) insertDocuments(ctx context.Context, db execer, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (content, metadata, embedding)
		VALUES ($1, $2, $3)
	`, vs.table())

	batch := &pgx.Batch{}
	for _, doc := range docs {
		metadataJSON, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		batch.Queue(query, doc.Content, metadataJSON, pgvector.NewVector(doc.Embedding))
	}

	br := db.SendBatch(ctx, batch)
	defer br.Close()

	for range docs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to insert document: %w", err)
		}
	}
	return br.Close()
}

func (vs *PGVectorStore) deleteRun(ctx context.Context, db execer, runID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE metadata->>'run_id' = $1`, vs.table())
	if _, err := db.Exec(ctx, query, runID); err != nil {
		return fmt.Errorf("failed to delete documents for run %s: %w", runID, err)
	}
	return nil
}

// SimilaritySearchResult represents a search result with score
type SimilaritySearchResult struct {
	Document Document
	Score    float64
}

// SimilaritySearch returns the topK documents of runID closest to the query
// embedding. An empty runID searches every run.
func (vs *PGVectorStore) SimilaritySearch(ctx context.Context, queryEmbedding []float32, topK int, runID string) ([]SimilaritySearchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	embedding := pgvector.NewVector(queryEmbedding)

	query := fmt.Sprintf(`
		SELECT id, content, metadata, 1 - (embedding <=> $1) AS similarity
		FROM %s
		WHERE ($2 = '' OR metadata->>'run_id' = $2)
		ORDER BY embedding <=> $1
		LIMIT $3
	`, vs.table())

	rows, err := vs.pool.Query(ctx, query, embedding, runID, topK)
	if err != nil {
		return nil, fmt.Errorf("failed to execute similarity search: %w", err)
	}
	defer rows.Close()

	var results []SimilaritySearchResult
	for rows.Next() {
		var doc Document
		var metadataJSON []byte
		var similarity float64

		if err := rows.Scan(&doc.ID, &doc.Content, &metadataJSON, &similarity); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if err := json.Unmarshal(metadataJSON, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
		results = append(results, SimilaritySearchResult{Document: doc, Score: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return results, nil
}

// ListRun returns the documents of runID with the given kind, in insertion
// order. An empty kind lists every document of the run.
func (vs *PGVectorStore) ListRun(ctx context.Context, runID, kind string) ([]Document, error) {
	query := fmt.Sprintf(`
		SELECT id, content, metadata
		FROM %s
		WHERE metadata->>'run_id' = $1 AND ($2 = '' OR metadata->>'kind' = $2)
		ORDER BY created_at ASC
	`, vs.table())

	rows, err := vs.pool.Query(ctx, query, runID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var documents []Document
	for rows.Next() {
		var doc Document
		var metadataJSON []byte

		if err := rows.Scan(&doc.ID, &doc.Content, &metadataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if err := json.Unmarshal(metadataJSON, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
		documents = append(documents, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return documents, nil
}
