// MetricDeck - Analytics Property Dashboard and Sync Engine
// Copyright 2026 MetricDeck Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricdeck/metricdeck

package sync

import (
	"context"
	gosync "sync"
	"time"

	"github.com/metricdeck/metricdeck/internal/logging"
	"github.com/metricdeck/metricdeck/internal/metrics"
	"github.com/metricdeck/metricdeck/internal/models"
)

// DefaultAutoSyncInterval is used when a start request carries no interval.
const DefaultAutoSyncInterval = 60 * time.Second

// Scheduler drives the single process-wide auto-sync job.
//
// Starting a job replaces any active one: the previous timer is canceled and
// drained before the new job is armed, so at most one schedule ever runs. Each
// job fires an immediate refresh and then repeats at its interval until
// stopped. Iteration failures are absorbed by the coordinator's per-property
// error handling and never terminate the schedule.
//
// Scheduler implements suture.Service; the supervisor's context bounds every
// job's lifetime.
type Scheduler struct {
	coord *Coordinator

	mu     gosync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a Scheduler bound to the coordinator.
func NewScheduler(coord *Coordinator) *Scheduler {
	return &Scheduler{coord: coord}
}

// Start arms the auto-sync job for the given properties and date range,
// replacing any active job. A non-positive interval falls back to
// DefaultAutoSyncInterval. The first refresh runs before Start returns, so
// a Stop immediately after Start still observes exactly one fetch.
func (s *Scheduler) Start(accessToken string, propertyIDs []string, dateRange models.DateRange, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultAutoSyncInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.coord.setAutoSyncActive(true)

	logging.Info().
		Int("properties", len(propertyIDs)).
		Str("date_range", dateRange.String()).
		Dur("interval", interval).
		Msg("auto-sync started")

	s.refresh(ctx, accessToken, propertyIDs, dateRange)
	go s.run(ctx, done, accessToken, propertyIDs, dateRange, interval)
}

// Stop cancels the active job, if any. Safe to call repeatedly.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
	s.coord.setAutoSyncActive(false)
	logging.Info().Msg("auto-sync stopped")
}

// Active reports whether a job is currently scheduled.
func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}, accessToken string, propertyIDs []string, dateRange models.DateRange, interval time.Duration) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh(ctx, accessToken, propertyIDs, dateRange)
		}
	}
}

// refresh runs one auto-sync iteration. Per-property failures are already
// recorded by the coordinator; nothing here can fail the schedule.
func (s *Scheduler) refresh(ctx context.Context, accessToken string, propertyIDs []string, dateRange models.DateRange) {
	if ctx.Err() != nil {
		return
	}
	metrics.AutoSyncIterations.Inc()
	result := s.coord.BatchFetch(ctx, accessToken, propertyIDs, dateRange, false)
	if len(result.Errors) > 0 {
		logging.Warn().Int("failed", len(result.Errors)).Msg("auto-sync iteration had failures")
	}
}

// Serve ties the scheduler's lifetime to the supervision tree: when the
// supervisor shuts down, the active job stops with it.
func (s *Scheduler) Serve(ctx context.Context) error {
	<-ctx.Done()
	s.Stop()
	return ctx.Err()
}

func (s *Scheduler) String() string { return "autosync-scheduler" }
