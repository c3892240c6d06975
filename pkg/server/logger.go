package server

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mikeboe/deep-research/pkg/database"
)

// DBLogHandler is a slog.Handler that writes a run's records to
// research_logs and forwards them to Next, if set.
type DBLogHandler struct {
	DB    *database.PostgresDB
	RunID uuid.UUID
	Level slog.Level
	Next  slog.Handler

	attrs []slog.Attr
}

func NewDBLogHandler(db *database.PostgresDB, runID uuid.UUID, next slog.Handler) *DBLogHandler {
	return &DBLogHandler{
		DB:    db,
		RunID: runID,
		Level: slog.LevelInfo,
		Next:  next,
	}
}

func (h *DBLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if level >= h.Level {
		return true
	}
	return h.Next != nil && h.Next.Enabled(ctx, level)
}

func (h *DBLogHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.Next != nil && h.Next.Enabled(ctx, r.Level) {
		_ = h.Next.Handle(ctx, r.Clone())
	}
	if r.Level < h.Level {
		return nil
	}

	metaJSON, err := json.Marshal(recordAttrs(h.attrs, r))
	if err != nil {
		metaJSON = []byte("{}")
	}

	// logs must persist after the run's context is cancelled
	_, err = h.DB.Pool.Exec(context.Background(), `
		INSERT INTO research_logs (run_id, timestamp, level, message, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`, h.RunID, r.Time, r.Level.String(), r.Message, metaJSON)
	return err
}

func (h *DBLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	if h.Next != nil {
		clone.Next = h.Next.WithAttrs(attrs)
	}
	return &clone
}

// WithGroup is not reflected in the stored metadata, which stays flat.
func (h *DBLogHandler) WithGroup(name string) slog.Handler {
	clone := *h
	if h.Next != nil {
		clone.Next = h.Next.WithGroup(name)
	}
	return &clone
}

// recordAttrs flattens handler and record attributes into a JSON-ready map.
func recordAttrs(base []slog.Attr, r slog.Record) map[string]any {
	attrs := make(map[string]any, len(base)+r.NumAttrs())
	add := func(a slog.Attr) bool {
		v := a.Value.Resolve()
		switch v.Kind() {
		case slog.KindAny:
			if err, ok := v.Any().(error); ok {
				attrs[a.Key] = err.Error()
				return true
			}
			attrs[a.Key] = v.Any()
		case slog.KindDuration:
			attrs[a.Key] = v.Duration().String()
		default:
			attrs[a.Key] = v.Any()
		}
		return true
	}
	for _, a := range base {
		add(a)
	}
	r.Attrs(add)
	return attrs
}
