package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mschirtzinger/sketchd/internal/sketchsync"
)

// Run is one journaled sync.
type Run struct {
	ID            string    `json:"id" yaml:"id"`
	Sketch        string    `json:"sketch" yaml:"sketch"`
	Dir           string    `json:"dir" yaml:"dir"`
	StartedAt     time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt    time.Time `json:"finished_at" yaml:"finished_at"`
	Pulled        int       `json:"pulled" yaml:"pulled"`
	Pushed        int       `json:"pushed" yaml:"pushed"`
	DeletedLocal  int       `json:"deleted_local" yaml:"deleted_local"`
	DeletedRemote int       `json:"deleted_remote" yaml:"deleted_remote"`
	Conflicts     int       `json:"conflicts" yaml:"conflicts"`
	Error         string    `json:"error,omitempty" yaml:"error,omitempty"`
}

// Failed reports whether the run ended with an error.
func (r Run) Failed() bool {
	return r.Error != ""
}

// RunFilter selects journaled runs. Zero fields match everything.
type RunFilter struct {
	Sketch string
	Since  time.Time
	Limit  int
}

// Record journals a finished sync. Recording the same run twice overwrites it.
func (s *Store) Record(ctx context.Context, report sketchsync.Report) error {
	id := report.RunID
	if id == "" {
		return fmt.Errorf("cannot record sync of %s without a run id", report.Sketch)
	}
	var errText sql.NullString
	if msg := report.ErrorMessage(); msg != "" {
		errText = sql.NullString{String: msg, Valid: true}
	}

	query := `
		INSERT INTO sync_runs (id, sketch, dir, started_at, finished_at, pulled, pushed,
			deleted_local, deleted_remote, conflicts, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			sketch = excluded.sketch,
			dir = excluded.dir,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			pulled = excluded.pulled,
			pushed = excluded.pushed,
			deleted_local = excluded.deleted_local,
			deleted_remote = excluded.deleted_remote,
			conflicts = excluded.conflicts,
			error = excluded.error
	`
	_, err := s.conn.ExecContext(ctx, query,
		id, report.Sketch, report.Dir,
		report.Started.UnixMilli(), report.Finished.UnixMilli(),
		report.Pulled, report.Pushed, report.DeletedLocal, report.DeletedRemote, report.Conflicts,
		errText,
	)
	if err != nil {
		return fmt.Errorf("failed to record sync run %s: %w", id, err)
	}
	return nil
}

// Runs returns journaled runs matching filter, most recent first.
func (s *Store) Runs(ctx context.Context, filter RunFilter) ([]Run, error) {
	var (
		where []string
		args  []any
	)
	if filter.Sketch != "" {
		where = append(where, "sketch = ?")
		args = append(args, filter.Sketch)
	}
	if !filter.Since.IsZero() {
		where = append(where, "started_at >= ?")
		args = append(args, filter.Since.UnixMilli())
	}

	query := `SELECT id, sketch, dir, started_at, finished_at, pulled, pushed,
		deleted_local, deleted_remote, conflicts, error FROM sync_runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r                 Run
			started, finished int64
			errText           sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Sketch, &r.Dir, &started, &finished, &r.Pulled, &r.Pushed,
			&r.DeletedLocal, &r.DeletedRemote, &r.Conflicts, &errText); err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		r.StartedAt = time.UnixMilli(started)
		r.FinishedAt = time.UnixMilli(finished)
		r.Error = errText.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// PruneRuns deletes runs that started before cutoff and returns how many
// were removed.
func (s *Store) PruneRuns(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM sync_runs WHERE started_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune sync runs: %w", err)
	}
	return res.RowsAffected()
}

var _ sketchsync.Reporter = (*Store)(nil)
