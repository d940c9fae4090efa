// Package postgres implements the local catalog store: the segments table,
// its full-text search projection and the sync_runs audit log.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ignite/signals-agent/internal/catalog"
	"github.com/lib/pq"
)

// ErrNotFound is returned when a requested segment does not exist.
var ErrNotFound = errors.New("segment not found")

// CatalogRepo is the catalog store. The sync orchestrator is its only
// writer; the query paths are read-only and safe for unbounded concurrent
// readers.
type CatalogRepo struct{ db *sql.DB }

// NewCatalogRepo creates a Postgres-backed catalog store.
func NewCatalogRepo(db *sql.DB) *CatalogRepo { return &CatalogRepo{db: db} }

// DB exposes the underlying handle for components that share the
// connection pool (advisory locks, health checks).
func (r *CatalogRepo) DB() *sql.DB { return r.db }

// ReplaceTx is one full-replace write transaction. The prior catalog is
// deleted inside the transaction that receives the new data, so a crash
// before Commit leaves the store in its pre-sync state, never empty and
// never mixed.
type ReplaceTx struct {
	tx *sql.Tx
}

// BeginReplace opens the exclusive write transaction for a catalog replace
// and clears the prior snapshot within it. Readers outside the transaction
// continue to see the last committed catalog until Commit.
func (r *CatalogRepo) BeginReplace(ctx context.Context) (*ReplaceTx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin replace: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM segments`); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("clear prior catalog: %w", err)
	}
	return &ReplaceTx{tx: tx}, nil
}

const insertColumns = 14

// InsertBatch inserts one batch of normalized records into the open
// transaction. The search index entry is a generated column of the same
// row, so every inserted segment is indexed before Commit by construction.
func (t *ReplaceTx) InsertBatch(ctx context.Context, records []catalog.SegmentRecord) error {
	if len(records) == 0 {
		return nil
	}

	placeholders := make([]string, 0, len(records))
	args := make([]interface{}, 0, len(records)*insertColumns)
	for i, rec := range records {
		base := i * insertColumns
		ph := make([]string, insertColumns)
		for j := range ph {
			ph[j] = fmt.Sprintf("$%d", base+j+1)
		}
		placeholders = append(placeholders, "("+strings.Join(ph, ", ")+")")

		var raw interface{}
		if len(rec.RawPayload) > 0 {
			raw = string(rec.RawPayload)
		}
		args = append(args,
			rec.SegmentID, rec.Name, rec.Description, rec.ProviderName,
			rec.SegmentType, pq.Array(rec.Categories), rec.ReachCount,
			rec.CoveragePct, rec.HasCoverageData, rec.HasPricing,
			rec.CPMPrice, rec.IsFree, rec.SearchText, raw,
		)
	}

	query := `
		INSERT INTO segments (
			segment_id, name, description, provider_name, segment_type,
			categories, reach_count, coverage_pct, has_coverage_data,
			has_pricing, cpm_price, is_free, search_text, raw_payload
		) VALUES ` + strings.Join(placeholders, ", ")

	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert segment batch: %w", err)
	}
	return nil
}

// Commit makes the new catalog visible. Atomic from a reader's perspective.
func (t *ReplaceTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit catalog replace: %w", err)
	}
	return nil
}

// Rollback discards the replace; the previous catalog remains live.
func (t *ReplaceTx) Rollback() error {
	err := t.tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback catalog replace: %w", err)
	}
	return nil
}

const segmentColumns = `
	segment_id, name, description, provider_name, segment_type,
	categories, reach_count, coverage_pct, has_coverage_data,
	has_pricing, cpm_price, is_free, raw_payload`

func scanSegment(row interface {
	Scan(dest ...interface{}) error
}, rec *catalog.SegmentRecord, relevance bool) error {
	var cats pq.StringArray
	var raw []byte
	dest := []interface{}{
		&rec.SegmentID, &rec.Name, &rec.Description, &rec.ProviderName,
		&rec.SegmentType, &cats, &rec.ReachCount, &rec.CoveragePct,
		&rec.HasCoverageData, &rec.HasPricing, &rec.CPMPrice, &rec.IsFree,
		&raw,
	}
	if relevance {
		dest = append(dest, &rec.RelevanceScore)
	}
	if err := row.Scan(dest...); err != nil {
		return err
	}
	rec.Categories = cats
	rec.RawPayload = raw
	return nil
}

// GetByID returns one segment by its marketplace id.
func (r *CatalogRepo) GetByID(ctx context.Context, segmentID string) (*catalog.SegmentRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+segmentColumns+` FROM segments WHERE segment_id = $1`,
		segmentID,
	)
	var rec catalog.SegmentRecord
	if err := scanSegment(row, &rec, false); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get segment %s: %w", segmentID, err)
	}
	return &rec, nil
}

// SegmentsByCategory returns segments whose category list contains the
// given category. A plain equality scan, independent of the search index.
func (r *CatalogRepo) SegmentsByCategory(ctx context.Context, category string, limit int) ([]catalog.SegmentRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+segmentColumns+`
		 FROM segments
		 WHERE $1 = ANY(categories)
		 ORDER BY segment_id ASC
		 LIMIT $2`,
		category, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("segments by category: %w", err)
	}
	defer rows.Close()

	var out []catalog.SegmentRecord
	for rows.Next() {
		var rec catalog.SegmentRecord
		if err := scanSegment(rows, &rec, false); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CatalogChecksum returns the committed record count and an order-independent
// checksum over segment ids. Used to verify replace atomicity.
func (r *CatalogRepo) CatalogChecksum(ctx context.Context) (int, string, error) {
	var count int
	var checksum sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), md5(COALESCE(string_agg(segment_id, ',' ORDER BY segment_id), ''))
		FROM segments
	`).Scan(&count, &checksum)
	if err != nil {
		return 0, "", fmt.Errorf("catalog checksum: %w", err)
	}
	return count, checksum.String, nil
}

// Statistics summarizes the committed catalog and the latest sync outcome.
func (r *CatalogRepo) Statistics(ctx context.Context) (*catalog.Statistics, error) {
	stats := &catalog.Statistics{}

	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE has_pricing),
		       COUNT(*) FILTER (WHERE reach_count IS NOT NULL)
		FROM segments
	`).Scan(&stats.TotalSegments, &stats.SegmentsPricing, &stats.SegmentsReach)
	if err != nil {
		return nil, fmt.Errorf("catalog counts: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT provider_name, COUNT(*) AS cnt
		FROM segments
		GROUP BY provider_name
		ORDER BY cnt DESC, provider_name ASC
		LIMIT 10
	`)
	if err != nil {
		return nil, fmt.Errorf("top providers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var pc catalog.ProviderCount
		if err := rows.Scan(&pc.Provider, &pc.Count); err != nil {
			return nil, fmt.Errorf("scan provider count: %w", err)
		}
		stats.TopProviders = append(stats.TopProviders, pc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	latest, err := r.LatestRun(ctx)
	if err != nil {
		return nil, err
	}
	stats.LatestRun = latest

	lastSuccess, err := r.LastSuccessfulRun(ctx)
	if err != nil {
		return nil, err
	}
	if lastSuccess != nil {
		stats.LastSuccessAt = lastSuccess.CompletedAt
	}

	return stats, nil
}
