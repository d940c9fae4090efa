package sync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/signals-agent/internal/pkg/logger"
)

// Scheduler triggers periodic catalog syncs in the background. Each tick
// delegates to the orchestrator, which enforces freshness and single-flight
// on its own; an interval tick against a fresh catalog is a cheap skip.
type Scheduler struct {
	orch     *Orchestrator
	interval time.Duration

	// Stats
	totalTicks    int64
	totalSynced   int64
	totalSkipped  int64
	totalFailures int64

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
}

// NewScheduler creates a scheduler that syncs every interval.
func NewScheduler(orch *Orchestrator, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		orch:     orch,
		interval: interval,
	}
}

// Start begins the background sync loop. Safe to call more than once.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	logger.Info("sync scheduler starting", "interval", s.interval.String())

	s.wg.Add(1)
	go s.loop()
}

// Stop gracefully stops the scheduler, waiting for an in-flight sync to
// roll back or commit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()

	logger.Info("sync scheduler stopped",
		"ticks", atomic.LoadInt64(&s.totalTicks),
		"synced", atomic.LoadInt64(&s.totalSynced),
		"skipped", atomic.LoadInt64(&s.totalSkipped),
		"failures", atomic.LoadInt64(&s.totalFailures))
}

// IsRunning reports whether the background loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Stats returns scheduler counters for the operational surface.
func (s *Scheduler) Stats() map[string]int64 {
	return map[string]int64{
		"total_ticks":    atomic.LoadInt64(&s.totalTicks),
		"total_synced":   atomic.LoadInt64(&s.totalSynced),
		"total_skipped":  atomic.LoadInt64(&s.totalSkipped),
		"total_failures": atomic.LoadInt64(&s.totalFailures),
	}
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Sync immediately on start so a cold deployment has a catalog before
	// the first interval elapses.
	s.tick()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	atomic.AddInt64(&s.totalTicks, 1)

	res, err := s.orch.Run(s.ctx, Options{})
	switch {
	case err == nil && res.Skipped:
		atomic.AddInt64(&s.totalSkipped, 1)
	case err == nil:
		atomic.AddInt64(&s.totalSynced, 1)
	case errors.Is(err, ErrAlreadyRunning):
		atomic.AddInt64(&s.totalSkipped, 1)
		logger.Debug("scheduled sync skipped, another run active")
	case errors.Is(err, context.Canceled):
		// Shutdown in progress.
	default:
		atomic.AddInt64(&s.totalFailures, 1)
		logger.Error("scheduled sync failed", "error", err)
	}
}
