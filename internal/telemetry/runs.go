package telemetry

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Run kinds.
const (
	RunKindRebuild = "rebuild"
	RunKindUpdate  = "update"
	RunKindRemove  = "remove"
	RunKindCompact = "compact"
)

// Run is one recorded indexing operation.
type Run struct {
	ID           int64         `json:"id"`
	Kind         string        `json:"kind"`
	Folders      []string      `json:"folders"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration_ns"`
	Total        uint64        `json:"total"`
	Processed    uint64        `json:"processed"`
	Indexed      uint64        `json:"indexed"`
	FilenameOnly uint64        `json:"filename_only"`
	Errored      uint64        `json:"errored"`
	Removed      uint64        `json:"removed"`
	Cancelled    bool          `json:"cancelled"`
	Error        string        `json:"error,omitempty"`
}

// RunStore persists indexing run history.
type RunStore interface {
	RecordRun(ctx context.Context, run Run) error
	RecentRuns(ctx context.Context, limit int) ([]Run, error)
}

// RecordRun appends an indexing run to the history.
func (s *SQLiteStore) RecordRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO index_runs (kind, folders, started_at, duration_ms, total, processed,
			indexed, filename_only, errored, removed, cancelled, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.Kind,
		strings.Join(run.Folders, "\n"),
		run.StartedAt.UnixMilli(),
		run.Duration.Milliseconds(),
		int64(run.Total),
		int64(run.Processed),
		int64(run.Indexed),
		int64(run.FilenameOnly),
		int64(run.Errored),
		int64(run.Removed),
		boolToInt(run.Cancelled),
		run.Error,
	)
	if err != nil {
		return fmt.Errorf("insert index run: %w", err)
	}
	return nil
}

// RecentRuns returns the newest runs first.
func (s *SQLiteStore) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, folders, started_at, duration_ms, total, processed,
			indexed, filename_only, errored, removed, cancelled, error
		FROM index_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query index runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r                                 Run
			folders                           string
			started, durationMS               int64
			total, processed, indexed         int64
			filenameOnly, errored, removed, c int64
		)
		if err := rows.Scan(&r.ID, &r.Kind, &folders, &started, &durationMS, &total, &processed,
			&indexed, &filenameOnly, &errored, &removed, &c, &r.Error); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if folders != "" {
			r.Folders = strings.Split(folders, "\n")
		}
		r.StartedAt = time.UnixMilli(started)
		r.Duration = time.Duration(durationMS) * time.Millisecond
		r.Total = uint64(total)
		r.Processed = uint64(processed)
		r.Indexed = uint64(indexed)
		r.FilenameOnly = uint64(filenameOnly)
		r.Errored = uint64(errored)
		r.Removed = uint64(removed)
		r.Cancelled = c != 0
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
