package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/signals-agent/internal/catalog"
	"github.com/lib/pq"
)

// ErrSyncInProgress is returned when a run cannot start because another one
// is already in progress.
var ErrSyncInProgress = errors.New("a sync run is already in progress")

// StartRun appends a new in_progress sync run. The partial unique index on
// sync_runs enforces at most one in-progress run even across processes.
func (r *CatalogRepo) StartRun(ctx context.Context) (*catalog.SyncRun, error) {
	run := &catalog.SyncRun{
		ID:        uuid.New().String(),
		StartedAt: time.Now().UTC(),
		Status:    catalog.StatusInProgress,
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_runs (id, started_at, status)
		VALUES ($1, $2, $3)
	`, run.ID, run.StartedAt, run.Status)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, ErrSyncInProgress
		}
		return nil, fmt.Errorf("start sync run: %w", err)
	}
	return run, nil
}

// RecoverStaleRuns seals as failed any in_progress run older than olderThan.
// A crashed process can never seal its own run, and an unsealed row trips the
// single-in-progress index on every later StartRun. Callers hold the sync
// lock, so a surviving run this old cannot exist.
func (r *CatalogRepo) RecoverStaleRuns(ctx context.Context, olderThan time.Duration) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sync_runs
		SET completed_at = NOW(),
		    status = $1,
		    error_message = $2
		WHERE status = $3
		  AND started_at < NOW() - $4 * INTERVAL '1 second'
	`, catalog.StatusFailed, "run abandoned, process exited before sealing", catalog.StatusInProgress, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("recover stale sync runs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// SealRun finishes a run exactly once: sets its terminal status, counts and
// duration. Sealed runs are never mutated again.
func (r *CatalogRepo) SealRun(ctx context.Context, runID, status string, totalSegments int, duration time.Duration, errMsg *string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sync_runs
		SET completed_at = NOW(),
		    status = $2,
		    total_segments = $3,
		    duration_seconds = $4,
		    error_message = $5
		WHERE id = $1 AND status = $6
	`, runID, status, totalSegments, duration.Seconds(), errMsg, catalog.StatusInProgress)
	if err != nil {
		return fmt.Errorf("seal sync run %s: %w", runID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("sync run %s was not in progress", runID)
	}
	return nil
}

const syncRunColumns = `id, started_at, completed_at, status, total_segments, duration_seconds, error_message`

func scanSyncRun(row *sql.Row) (*catalog.SyncRun, error) {
	var run catalog.SyncRun
	err := row.Scan(&run.ID, &run.StartedAt, &run.CompletedAt, &run.Status,
		&run.TotalSegments, &run.DurationSeconds, &run.ErrorMessage)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}

// LatestRun returns the most recent run regardless of outcome, or nil when
// no sync has ever run.
func (r *CatalogRepo) LatestRun(ctx context.Context) (*catalog.SyncRun, error) {
	run, err := scanSyncRun(r.db.QueryRowContext(ctx, `
		SELECT `+syncRunColumns+`
		FROM sync_runs
		ORDER BY started_at DESC
		LIMIT 1
	`))
	if err != nil {
		return nil, fmt.Errorf("latest sync run: %w", err)
	}
	return run, nil
}

// LastSuccessfulRun returns the most recent successful run; its
// completed_at is the authoritative catalog freshness timestamp.
func (r *CatalogRepo) LastSuccessfulRun(ctx context.Context) (*catalog.SyncRun, error) {
	run, err := scanSyncRun(r.db.QueryRowContext(ctx, `
		SELECT `+syncRunColumns+`
		FROM sync_runs
		WHERE status = $1
		ORDER BY completed_at DESC
		LIMIT 1
	`, catalog.StatusSuccess))
	if err != nil {
		return nil, fmt.Errorf("last successful sync run: %w", err)
	}
	return run, nil
}
