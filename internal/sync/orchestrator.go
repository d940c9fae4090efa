// Package sync drives the catalog refresh pipeline: remote fetch, batch
// normalization and the all-or-nothing replace of the local catalog store.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ignite/signals-agent/internal/catalog"
	"github.com/ignite/signals-agent/internal/config"
	"github.com/ignite/signals-agent/internal/pkg/distlock"
	"github.com/ignite/signals-agent/internal/pkg/logger"
)

// ErrAlreadyRunning is returned when a sync is requested while another run
// is in progress. Callers may retry after the active run finishes.
var ErrAlreadyRunning = errors.New("catalog sync already running")

// Pipeline states, in order of progress through one run.
const (
	StateIdle              = "idle"
	StateCheckingFreshness = "checking_freshness"
	StateFetching          = "fetching"
	StateIngesting         = "ingesting"
	StateCommitting        = "committing"
)

// ReplaceTx is the write transaction of one catalog replace.
type ReplaceTx interface {
	InsertBatch(ctx context.Context, records []catalog.SegmentRecord) error
	Commit() error
	Rollback() error
}

// Store is the catalog store surface the orchestrator writes through.
type Store interface {
	BeginReplace(ctx context.Context) (ReplaceTx, error)
	StartRun(ctx context.Context) (*catalog.SyncRun, error)
	SealRun(ctx context.Context, runID, status string, totalSegments int, duration time.Duration, errMsg *string) error
	RecoverStaleRuns(ctx context.Context, olderThan time.Duration) (int, error)
	LastSuccessfulRun(ctx context.Context) (*catalog.SyncRun, error)
}

// Snapshotter exports a summary of a committed catalog; optional.
type Snapshotter interface {
	Save(ctx context.Context, run *catalog.SyncRun, providers map[string]int) error
}

// Options configures one sync request.
type Options struct {
	// Force runs the pipeline regardless of catalog freshness.
	Force bool
	// Limit caps the number of records fetched; 0 means the whole catalog.
	// Intended for testing against large remote catalogs.
	Limit int
}

// Result is the outcome of one sync request.
type Result struct {
	Run     *catalog.SyncRun
	Skipped bool
}

// Orchestrator runs the sync pipeline as one logical, all-or-nothing
// operation. Exactly one run may be active at a time; concurrent requests
// are rejected with ErrAlreadyRunning.
type Orchestrator struct {
	store       Store
	newProvider func() catalog.Provider
	newLock     func() distlock.Lock
	snapshots   Snapshotter
	cfg         config.SyncConfig

	state atomic.Value // string
}

// NewOrchestrator wires the pipeline. newProvider and newLock are factories:
// each run acquires its own remote client and lock, nothing is shared across
// runs. snapshots may be nil.
func NewOrchestrator(store Store, newProvider func() catalog.Provider, newLock func() distlock.Lock, snapshots Snapshotter, cfg config.SyncConfig) *Orchestrator {
	o := &Orchestrator{
		store:       store,
		newProvider: newProvider,
		newLock:     newLock,
		snapshots:   snapshots,
		cfg:         cfg,
	}
	o.state.Store(StateIdle)
	return o
}

// State reports the pipeline's current state for the operational surface.
func (o *Orchestrator) State() string {
	return o.state.Load().(string)
}

func (o *Orchestrator) setState(s string) {
	o.state.Store(s)
}

// Run executes one sync. On any unrecoverable error the open transaction is
// rolled back, the run is sealed as failed (or cancelled) and the previous
// catalog remains live and queryable.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Result, error) {
	lock := o.newLock()
	acquired, err := lock.TryAcquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire sync lock: %w", err)
	}
	if !acquired {
		return nil, ErrAlreadyRunning
	}
	defer lock.Release(context.WithoutCancel(ctx))
	defer o.setState(StateIdle)

	// While we hold the lock, any in_progress row older than the lock TTL
	// was left by a crashed process; unsealed it would block StartRun
	// forever.
	if ttl := o.cfg.LockTTL(); ttl > 0 {
		n, err := o.store.RecoverStaleRuns(ctx, ttl)
		if err != nil {
			return nil, fmt.Errorf("recover stale sync runs: %w", err)
		}
		if n > 0 {
			logger.Warn("sealed stale runs left by a crashed process", "count", n)
		}
	}

	o.setState(StateCheckingFreshness)
	lastSuccess, err := o.store.LastSuccessfulRun(ctx)
	if err != nil {
		return nil, fmt.Errorf("check catalog freshness: %w", err)
	}
	if !opts.Force && o.isFresh(lastSuccess) {
		logger.Info("catalog is fresh, skipping sync",
			"last_success", lastSuccess.CompletedAt.UTC().Format(time.RFC3339),
			"max_age", o.cfg.MaxAge().String())
		return &Result{Run: lastSuccess, Skipped: true}, nil
	}

	run, err := o.store.StartRun(ctx)
	if err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			return nil, ErrAlreadyRunning
		}
		return nil, fmt.Errorf("start sync run: %w", err)
	}

	log := logger.With("run_id", run.ID)
	log.Info("starting catalog sync", "force", opts.Force, "limit", opts.Limit)

	total, providers, runErr := o.ingest(ctx, opts, log)

	duration := time.Since(run.StartedAt)
	if runErr != nil {
		status := catalog.StatusFailed
		if errors.Is(runErr, context.Canceled) {
			status = catalog.StatusCancelled
		}
		msg := truncateErr(runErr)
		if sealErr := o.store.SealRun(context.WithoutCancel(ctx), run.ID, status, 0, duration, &msg); sealErr != nil {
			log.Error("failed to seal sync run", "error", sealErr)
		}
		log.Error("catalog sync did not complete, previous catalog remains live",
			"status", status, "error", runErr, "duration", duration.String())
		return nil, runErr
	}

	// Seal with a non-cancellable context: the catalog is already committed
	// and a cancel landing here must not orphan the in_progress row.
	if err := o.store.SealRun(context.WithoutCancel(ctx), run.ID, catalog.StatusSuccess, total, duration, nil); err != nil {
		return nil, fmt.Errorf("seal sync run: %w", err)
	}
	completed := time.Now().UTC()
	run.Status = catalog.StatusSuccess
	run.TotalSegments = total
	run.DurationSeconds = duration.Seconds()
	run.CompletedAt = &completed

	log.Info("catalog sync complete",
		"total_segments", total,
		"providers", len(providers),
		"duration", duration.String())

	if o.snapshots != nil {
		if err := o.snapshots.Save(context.WithoutCancel(ctx), run, providers); err != nil {
			// Export is best-effort; the committed catalog is already live.
			log.Warn("snapshot export failed", "error", err)
		}
	}

	return &Result{Run: run}, nil
}

// ingest streams pages into one replace transaction. Returns the committed
// record total and per-provider counts, or the error that aborted the run
// (after rolling back).
func (o *Orchestrator) ingest(ctx context.Context, opts Options, log *logger.Logger) (int, map[string]int, error) {
	o.setState(StateFetching)

	provider := o.newProvider()

	tx, err := o.store.BeginReplace(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("begin catalog replace: %w", err)
	}
	// Rollback after commit is a no-op; this covers every early return.
	defer tx.Rollback()

	total := 0
	providers := make(map[string]int)
	gaps := make(map[string]int)

	batcher := catalog.NewBatcher(o.cfg.BatchSize, func(ctx context.Context, batch []catalog.SegmentRecord) error {
		o.setState(StateIngesting)
		if err := tx.InsertBatch(ctx, batch); err != nil {
			return err
		}
		total += len(batch)
		o.setState(StateFetching)
		return nil
	})

	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return 0, nil, err
		}

		page, err := provider.FetchPage(ctx, cursor, o.cfg.PageSize)
		if err != nil {
			return 0, nil, fmt.Errorf("fetch catalog page: %w", err)
		}
		if len(page.Records) == 0 {
			break
		}

		records := page.Records
		if opts.Limit > 0 && total+batcher.Pending()+len(records) > opts.Limit {
			remaining := opts.Limit - total - batcher.Pending()
			if remaining <= 0 {
				break
			}
			records = records[:remaining]
		}

		for _, rec := range records {
			providers[rec.ProviderName]++
			for _, g := range rec.FieldGaps {
				gaps[g]++
			}
		}
		if err := batcher.Add(ctx, records...); err != nil {
			return 0, nil, fmt.Errorf("insert segment batch: %w", err)
		}

		if opts.Limit > 0 && total+batcher.Pending() >= opts.Limit {
			log.Info("record limit reached, stopping fetch", "limit", opts.Limit)
			break
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	if err := batcher.Flush(ctx); err != nil {
		return 0, nil, fmt.Errorf("flush final batch: %w", err)
	}

	for field, n := range gaps {
		log.Debug("optional field missing on some records", "field", field, "records", n)
	}

	o.setState(StateCommitting)
	if err := tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("commit catalog replace: %w", err)
	}
	return total, providers, nil
}

// isFresh reports whether the last successful run is recent enough to skip
// a non-forced sync.
func (o *Orchestrator) isFresh(lastSuccess *catalog.SyncRun) bool {
	if lastSuccess == nil || lastSuccess.CompletedAt == nil {
		return false
	}
	return time.Since(*lastSuccess.CompletedAt) < o.cfg.MaxAge()
}

func truncateErr(err error) string {
	msg := err.Error()
	if len(msg) > 1000 {
		msg = msg[:1000] + "..."
	}
	return msg
}
