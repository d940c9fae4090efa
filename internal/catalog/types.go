// Package catalog defines the domain model for marketplace signal segments
// and the capability interface every marketplace provider adapter implements.
package catalog

import (
	"context"
	"time"
)

// SegmentRecord is one normalized marketplace targeting segment.
// CoveragePct is a rough, capped estimate derived from ReachCount; the
// HasCoverageData flag distinguishes "we computed a number" from "unknown".
// A nil CoveragePct is never the same thing as zero coverage.
type SegmentRecord struct {
	SegmentID    string   `json:"segment_id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	ProviderName string   `json:"provider_name"`
	SegmentType  string   `json:"segment_type"`
	Categories   []string `json:"categories"`

	ReachCount      *int64   `json:"reach_count"`
	CoveragePct     *float64 `json:"coverage_percentage"`
	HasCoverageData bool     `json:"has_coverage_data"`

	// HasPricing is true only when the source carried an explicit priced
	// offer; a segment priced at an explicit CPM of 0 is still "priced".
	HasPricing bool     `json:"has_pricing"`
	CPMPrice   *float64 `json:"cpm_price"`
	IsFree     bool     `json:"is_free"`

	// SearchText is the only field the search index reads: name,
	// description, provider and categories concatenated.
	SearchText string `json:"-"`

	// RawPayload is the original record verbatim, retained for
	// traceability and re-derivation if normalization rules change.
	RawPayload []byte `json:"-"`

	// FieldGaps lists the optional source fields that were absent or
	// unusable during normalization. Not persisted.
	FieldGaps []string `json:"-"`

	// RelevanceScore is populated on search results only.
	RelevanceScore float64 `json:"relevance_score,omitempty"`
}

// Sync run statuses.
const (
	StatusInProgress = "in_progress"
	StatusSuccess    = "success"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// SyncRun is one execution of the sync pipeline. Rows are append-only:
// created at sync start, sealed exactly once at sync end.
type SyncRun struct {
	ID              string     `json:"id"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at"`
	Status          string     `json:"status"`
	TotalSegments   int        `json:"total_segments"`
	DurationSeconds float64    `json:"duration_seconds"`
	ErrorMessage    *string    `json:"error_message"`
}

// ProviderCount is one entry of the top-providers statistic.
type ProviderCount struct {
	Provider string `json:"provider"`
	Count    int    `json:"count"`
}

// Statistics summarizes the committed catalog and the latest sync outcome.
// When the latest run failed, LastSuccessAt tells callers how stale the
// catalog they are being served actually is.
type Statistics struct {
	TotalSegments    int             `json:"total_segments"`
	SegmentsPricing  int             `json:"segments_with_pricing"`
	SegmentsReach    int             `json:"segments_with_reach"`
	TopProviders     []ProviderCount `json:"top_providers"`
	LatestRun        *SyncRun        `json:"latest_run"`
	LastSuccessAt    *time.Time      `json:"last_success_at"`
}

// Page is one page of normalized records from a provider.
// An empty NextCursor means end of catalog.
type Page struct {
	Records    []SegmentRecord
	NextCursor string
}

// Provider is the capability interface a marketplace adapter implements:
// authenticate (internally, as needed), fetch one page at a time, normalize.
// FetchPage must never advance past a rate-limited page and must surface a
// page-level error once its retry budget is exhausted.
type Provider interface {
	Name() string
	FetchPage(ctx context.Context, cursor string, limit int) (*Page, error)
}
