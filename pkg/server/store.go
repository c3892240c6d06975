package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/streaming"
)

// ErrRunNotFound is returned when no run has the requested id.
var ErrRunNotFound = errors.New("run not found")

type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the run has stopped for good.
func (s RunStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

type Run struct {
	ID        uuid.UUID       `json:"id"`
	Query     string          `json:"query"`
	Status    RunStatus       `json:"status"`
	Title     *string         `json:"title,omitempty"`
	Report    *string         `json:"report,omitempty"`
	Error     *string         `json:"error,omitempty"`
	State     json.RawMessage `json:"state,omitempty"`
	Config    json.RawMessage `json:"config"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// RunResult is what a worker records when a run terminates.
type RunResult struct {
	Status RunStatus
	Title  string
	Report string
	Error  string
	State  json.RawMessage
}

type StoredEvent struct {
	Seq       uint64          `json:"seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

type LogEntry struct {
	ID        int             `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata"`
}

// Store persists runs, their events and their logs.
type Store interface {
	CreateRun(ctx context.Context, id uuid.UUID, query string, config json.RawMessage) (*Run, error)
	GetRun(ctx context.Context, id uuid.UUID) (*Run, error)
	ListRuns(ctx context.Context) ([]Run, error)
	SetStatus(ctx context.Context, id uuid.UUID, status RunStatus) error
	FinishRun(ctx context.Context, id uuid.UUID, result RunResult) error
	AppendEvent(ctx context.Context, id uuid.UUID, evt streaming.Event) error
	ListEvents(ctx context.Context, id uuid.UUID) ([]StoredEvent, error)
	ListLogs(ctx context.Context, id uuid.UUID) ([]LogEntry, error)
}

// PGStore is the Postgres-backed Store.
type PGStore struct {
	DB *database.PostgresDB
}

func NewPGStore(db *database.PostgresDB) *PGStore {
	return &PGStore{DB: db}
}

const runColumns = `id, query, status, title, report, error, state, config, created_at, updated_at`

func scanRun(row pgx.Row) (*Run, error) {
	run := &Run{}
	var state, config []byte
	err := row.Scan(&run.ID, &run.Query, &run.Status, &run.Title, &run.Report, &run.Error,
		&state, &config, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}
	run.State, run.Config = state, config
	return run, nil
}

func (s *PGStore) CreateRun(ctx context.Context, id uuid.UUID, query string, config json.RawMessage) (*Run, error) {
	row := s.DB.Pool.QueryRow(ctx, `
		INSERT INTO research_runs (id, query, status, config)
		VALUES ($1, $2, 'pending', $3)
		RETURNING `+runColumns, id, query, config)
	run, err := scanRun(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

func (s *PGStore) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	row := s.DB.Pool.QueryRow(ctx, `SELECT `+runColumns+` FROM research_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

func (s *PGStore) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.DB.Pool.Query(ctx, `
		SELECT id, query, status, title, NULL::text, error, NULL::jsonb, config, created_at, updated_at
		FROM research_runs
		ORDER BY created_at DESC
		LIMIT 50
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func (s *PGStore) SetStatus(ctx context.Context, id uuid.UUID, status RunStatus) error {
	_, err := s.DB.Pool.Exec(ctx,
		"UPDATE research_runs SET status = $2, updated_at = NOW() WHERE id = $1", id, status)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	return nil
}

func (s *PGStore) FinishRun(ctx context.Context, id uuid.UUID, result RunResult) error {
	_, err := s.DB.Pool.Exec(ctx, `
		UPDATE research_runs
		SET status = $2, title = NULLIF($3, ''), report = NULLIF($4, ''), error = NULLIF($5, ''),
			state = $6, updated_at = NOW()
		WHERE id = $1
	`, id, result.Status, result.Title, result.Report, result.Error, result.State)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

func (s *PGStore) AppendEvent(ctx context.Context, id uuid.UUID, evt streaming.Event) error {
	_, err := s.DB.Pool.Exec(ctx, `
		INSERT INTO research_events (run_id, seq, type, payload, timestamp)
		VALUES ($1, $2, $3, $4, $5)
	`, id, int64(evt.Seq), string(evt.Type), evt.Marshal(), evt.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

func (s *PGStore) ListEvents(ctx context.Context, id uuid.UUID) ([]StoredEvent, error) {
	rows, err := s.DB.Pool.Query(ctx, `
		SELECT seq, type, payload, timestamp
		FROM research_events
		WHERE run_id = $1
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	var events []StoredEvent
	for rows.Next() {
		var e StoredEvent
		var seq int64
		var payload []byte
		if err := rows.Scan(&seq, &e.Type, &payload, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Seq, e.Payload = uint64(seq), payload
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *PGStore) ListLogs(ctx context.Context, id uuid.UUID) ([]LogEntry, error) {
	rows, err := s.DB.Pool.Query(ctx, `
		SELECT id, timestamp, level, message, metadata
		FROM research_logs
		WHERE run_id = $1
		ORDER BY id ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	defer rows.Close()

	var logs []LogEntry
	for rows.Next() {
		var l LogEntry
		var metadata []byte
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.Level, &l.Message, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan log: %w", err)
		}
		l.Metadata = metadata
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
