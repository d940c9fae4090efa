// Package api exposes the local catalog over HTTP: search, segment lookup,
// statistics and sync control. Queries never touch the remote marketplace.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/signals-agent/internal/catalog"
	"github.com/ignite/signals-agent/internal/pkg/logger"
	"github.com/ignite/signals-agent/internal/repository/postgres"
	syncer "github.com/ignite/signals-agent/internal/sync"
)

// CatalogReader is the read surface of the catalog store the handlers use.
type CatalogReader interface {
	Search(ctx context.Context, q postgres.SearchQuery) ([]catalog.SegmentRecord, error)
	GetByID(ctx context.Context, segmentID string) (*catalog.SegmentRecord, error)
	SegmentsByCategory(ctx context.Context, category string, limit int) ([]catalog.SegmentRecord, error)
	Statistics(ctx context.Context) (*catalog.Statistics, error)
	LatestRun(ctx context.Context) (*catalog.SyncRun, error)
	LastSuccessfulRun(ctx context.Context) (*catalog.SyncRun, error)
}

// SyncRunner triggers and inspects catalog syncs.
type SyncRunner interface {
	Run(ctx context.Context, opts syncer.Options) (*syncer.Result, error)
	State() string
}

// SignalsService holds the handler dependencies.
type SignalsService struct {
	reader  CatalogReader
	runner  SyncRunner
	pinger  func(ctx context.Context) error
	maxAge  time.Duration
	started time.Time
}

// NewSignalsService creates the handler set. pinger checks store liveness
// for the health endpoint and may be nil.
func NewSignalsService(reader CatalogReader, runner SyncRunner, pinger func(ctx context.Context) error, maxAge time.Duration) *SignalsService {
	return &SignalsService{
		reader:  reader,
		runner:  runner,
		pinger:  pinger,
		maxAge:  maxAge,
		started: time.Now(),
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

const defaultSearchLimit = 50

// HandleSearch answers catalog search queries.
//
//	GET /api/signals/search?q=luxury+auto&categories=Automotive&providers=Acme&max_cpm=5&min_coverage=1&limit=25
func (s *SignalsService) HandleSearch(w http.ResponseWriter, r *http.Request) {
	q := postgres.SearchQuery{
		Text:  r.URL.Query().Get("q"),
		Limit: defaultSearchLimit,
	}

	if v := r.URL.Query().Get("categories"); v != "" {
		q.Categories = splitCSV(v)
	}
	if v := r.URL.Query().Get("providers"); v != "" {
		q.Providers = splitCSV(v)
	}
	if v := r.URL.Query().Get("max_cpm"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			respondError(w, http.StatusBadRequest, "max_cpm must be a non-negative number")
			return
		}
		q.MaxCPM = &f
	}
	if v := r.URL.Query().Get("min_coverage"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			respondError(w, http.StatusBadRequest, "min_coverage must be a non-negative number")
			return
		}
		q.MinCoverage = &f
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			respondError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		q.Limit = n
	}

	results, err := s.reader.Search(r.Context(), q)
	if err != nil {
		logger.Error("search failed", "error", err)
		respondError(w, http.StatusInternalServerError, "search failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"query":   q.Text,
		"count":   len(results),
		"results": results,
	})
}

// HandleGetSegment returns one segment by its marketplace ID.
//
//	GET /api/signals/{id}
func (s *SignalsService) HandleGetSegment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.reader.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			respondError(w, http.StatusNotFound, "segment not found")
			return
		}
		logger.Error("segment lookup failed", "segment_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "segment lookup failed")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// HandleCategory lists segments tagged with a category, coverage-ranked.
//
//	GET /api/signals/categories/{category}
func (s *SignalsService) HandleCategory(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	limit := defaultSearchLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			respondError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	results, err := s.reader.SegmentsByCategory(r.Context(), category, limit)
	if err != nil {
		logger.Error("category listing failed", "category", category, "error", err)
		respondError(w, http.StatusInternalServerError, "category listing failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"category": category,
		"count":    len(results),
		"results":  results,
	})
}

// HandleStats reports catalog-level statistics and the latest sync outcome.
//
//	GET /api/stats
func (s *SignalsService) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.reader.Statistics(r.Context())
	if err != nil {
		logger.Error("statistics failed", "error", err)
		respondError(w, http.StatusInternalServerError, "statistics failed")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// HandleTriggerSync starts a catalog sync in the background. Responds 202
// when the run was accepted and 409 when another run is already active.
//
//	POST /api/sync?force=true&limit=500
func (s *SignalsService) HandleTriggerSync(w http.ResponseWriter, r *http.Request) {
	opts := syncer.Options{
		Force: r.URL.Query().Get("force") == "true",
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		opts.Limit = n
	}

	if s.runner.State() != syncer.StateIdle {
		respondError(w, http.StatusConflict, "a sync is already running")
		return
	}

	go func() {
		// The run outlives the HTTP request.
		if _, err := s.runner.Run(context.Background(), opts); err != nil && !errors.Is(err, syncer.ErrAlreadyRunning) {
			logger.Error("triggered sync failed", "error", err)
		}
	}()

	respondJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
	})
}

// HandleSyncStatus reports the pipeline state, the most recent run and how
// stale the committed catalog is.
//
//	GET /api/sync/status
func (s *SignalsService) HandleSyncStatus(w http.ResponseWriter, r *http.Request) {
	latest, err := s.reader.LatestRun(r.Context())
	if err != nil {
		logger.Error("sync status failed", "error", err)
		respondError(w, http.StatusInternalServerError, "sync status failed")
		return
	}
	lastSuccess, err := s.reader.LastSuccessfulRun(r.Context())
	if err != nil {
		logger.Error("sync status failed", "error", err)
		respondError(w, http.StatusInternalServerError, "sync status failed")
		return
	}

	resp := map[string]interface{}{
		"state":      s.runner.State(),
		"latest_run": latest,
		"stale":      true,
	}
	if lastSuccess != nil && lastSuccess.CompletedAt != nil {
		age := time.Since(*lastSuccess.CompletedAt)
		resp["last_success_at"] = lastSuccess.CompletedAt
		resp["catalog_age"] = age.Truncate(time.Second).String()
		resp["stale"] = age >= s.maxAge
	}
	respondJSON(w, http.StatusOK, resp)
}

// HandleHealth reports process and store liveness.
//
//	GET /health
func (s *SignalsService) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	httpStatus := http.StatusOK
	checks := map[string]string{}

	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.pinger(ctx); err != nil {
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
			checks["database"] = "down"
		} else {
			checks["database"] = "up"
		}
	}

	respondJSON(w, httpStatus, map[string]interface{}{
		"status": status,
		"uptime": time.Since(s.started).Truncate(time.Second).String(),
		"checks": checks,
	})
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
