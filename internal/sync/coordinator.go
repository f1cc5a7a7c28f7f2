// MetricDeck - Analytics Property Dashboard and Sync Engine
// Copyright 2026 MetricDeck Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricdeck/metricdeck

// Package sync coordinates analytics data synchronization: batch fetches from
// the upstream provider through the retry engine, cache write-through, update
// fan-out, and the auto-sync schedule.
package sync

import (
	"context"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/metricdeck/metricdeck/internal/cache"
	"github.com/metricdeck/metricdeck/internal/classify"
	"github.com/metricdeck/metricdeck/internal/ga"
	"github.com/metricdeck/metricdeck/internal/logging"
	"github.com/metricdeck/metricdeck/internal/metrics"
	"github.com/metricdeck/metricdeck/internal/models"
	"github.com/metricdeck/metricdeck/internal/retry"
)

// defaultConcurrency bounds how many properties fetch in parallel during one
// batch.
const defaultConcurrency = 4

// Coordinator orchestrates fetches for batches of properties.
//
// A batch is partial-failure tolerant: each property succeeds or fails on its
// own, successful results are written through to the cache and fanned out to
// listeners, and failures are recorded per property for status reporting.
type Coordinator struct {
	fetcher     ga.Fetcher
	store       *cache.Store
	registry    *Registry
	policy      retry.Policy
	concurrency int

	mu         gosync.RWMutex
	lastErrors map[string]*models.ErrorDetail

	autoSyncActive atomic.Bool
}

// CoordinatorOption adjusts a Coordinator at construction.
type CoordinatorOption func(*Coordinator)

// WithRetryPolicy overrides the default retry policy for upstream fetches.
func WithRetryPolicy(p retry.Policy) CoordinatorOption {
	return func(c *Coordinator) { c.policy = p }
}

// WithConcurrency bounds parallel per-property fetches within one batch.
func WithConcurrency(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// NewCoordinator wires a Coordinator to its upstream fetcher, cache store and
// listener registry.
func NewCoordinator(fetcher ga.Fetcher, store *cache.Store, registry *Registry, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		fetcher:     fetcher,
		store:       store,
		registry:    registry,
		policy:      retry.DefaultPolicy(),
		concurrency: defaultConcurrency,
		lastErrors:  make(map[string]*models.ErrorDetail),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BatchResult is the outcome of one batch fetch: data for the properties that
// produced a result (fresh or cached) and the classified failure for each one
// that did not.
type BatchResult struct {
	Data   map[string]*models.AnalyticsData `json:"data"`
	Errors map[string]*models.ErrorDetail   `json:"errors,omitempty"`
}

// BatchFetch fetches analytics for the given properties over one date range.
//
// Unless forceRefresh is set, a fresh cache entry satisfies a property without
// touching the upstream. Properties are fetched concurrently, each through its
// own retry loop; one property's failure never aborts the others.
func (c *Coordinator) BatchFetch(ctx context.Context, accessToken string, propertyIDs []string, dateRange models.DateRange, forceRefresh bool) *BatchResult {
	started := time.Now()
	result := &BatchResult{
		Data:   make(map[string]*models.AnalyticsData, len(propertyIDs)),
		Errors: make(map[string]*models.ErrorDetail),
	}

	var (
		resultMu gosync.Mutex
		wg       gosync.WaitGroup
		sem      = make(chan struct{}, c.concurrency)
	)

	for _, propertyID := range dedupe(propertyIDs) {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			data, detail := c.fetchOne(ctx, accessToken, id, dateRange, forceRefresh)

			resultMu.Lock()
			defer resultMu.Unlock()
			if detail != nil {
				result.Errors[id] = detail
				return
			}
			result.Data[id] = data
		}(propertyID)
	}
	wg.Wait()

	metrics.SyncDuration.Observe(time.Since(started).Seconds())
	logging.Info().
		Int("requested", len(propertyIDs)).
		Int("succeeded", len(result.Data)).
		Int("failed", len(result.Errors)).
		Bool("force_refresh", forceRefresh).
		Dur("elapsed", time.Since(started)).
		Msg("batch fetch complete")
	return result
}

// fetchOne resolves a single property: cache reuse, upstream fetch through the
// retry engine, write-through and notification.
func (c *Coordinator) fetchOne(ctx context.Context, accessToken, propertyID string, dateRange models.DateRange, forceRefresh bool) (*models.AnalyticsData, *models.ErrorDetail) {
	if !forceRefresh {
		if entry, ok := c.store.Get(propertyID, dateRange); ok && !entry.Stale(time.Now()) {
			metrics.SyncProperties.WithLabelValues("cache_hit").Inc()
			return entry.Data, nil
		}
	}

	started := time.Now()
	data, err := retry.Do(ctx, "fetch_report", c.policy, func(ctx context.Context) (*models.AnalyticsData, error) {
		return c.fetcher.FetchReport(ctx, accessToken, propertyID, dateRange)
	})
	if err != nil {
		classified := classify.Classify(err)
		metrics.RecordFetch(time.Since(started), string(classified.Type))
		metrics.SyncProperties.WithLabelValues("failure").Inc()
		logging.Warn().
			Str("property_id", propertyID).
			Str("error_type", string(classified.Type)).
			Msg("property fetch failed")

		detail := classified.Detail()
		c.mu.Lock()
		c.lastErrors[propertyID] = detail
		c.mu.Unlock()
		return nil, detail
	}

	metrics.RecordFetch(time.Since(started), "")
	metrics.SyncProperties.WithLabelValues("success").Inc()

	c.mu.Lock()
	delete(c.lastErrors, propertyID)
	c.mu.Unlock()

	if !c.store.Put(propertyID, dateRange, data) {
		// A fresher fetch landed while this one was in flight. The cache
		// kept the newer entry; return it and skip the notification so
		// listeners never see an older snapshot after a newer one.
		if entry, ok := c.store.Get(propertyID, dateRange); ok {
			return entry.Data, nil
		}
		return data, nil
	}
	c.registry.Notify(models.UpdateEvent{
		PropertyID: propertyID,
		DateRange:  dateRange,
		Timestamp:  time.Now(),
		RowCount:   data.RowCount,
		HasData:    data.HasData(),
	})
	return data, nil
}

// SyncStatus computes the per-property view from the cache and the recorded
// failures. With no IDs it covers every property the coordinator has seen.
func (c *Coordinator) SyncStatus(propertyIDs ...string) map[string]models.SyncStatus {
	if len(propertyIDs) == 0 {
		propertyIDs = c.knownProperties()
	}

	autoSync := c.autoSyncActive.Load()
	now := time.Now()
	statuses := make(map[string]models.SyncStatus, len(propertyIDs))

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, id := range propertyIDs {
		status := models.SyncStatus{PropertyID: id, AutoSyncActive: autoSync}
		if entry, ok := c.store.Latest(id); ok {
			fetchedAt := entry.FetchedAt
			status.LastSyncedAt = &fetchedAt
			status.IsStale = entry.Stale(now)
		}
		status.LastError = c.lastErrors[id]
		statuses[id] = status
	}
	return statuses
}

// CacheStats reports the cache store snapshot.
func (c *Coordinator) CacheStats() models.CacheStats {
	return c.store.Stats()
}

// ClearCache drops cached entries and recorded failures for the given
// properties, or for all of them when none are named.
func (c *Coordinator) ClearCache(propertyIDs ...string) {
	c.store.Clear(propertyIDs...)

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(propertyIDs) == 0 {
		c.lastErrors = make(map[string]*models.ErrorDetail)
		return
	}
	for _, id := range propertyIDs {
		delete(c.lastErrors, id)
	}
}

// setAutoSyncActive is flipped by the scheduler as its job starts and stops.
func (c *Coordinator) setAutoSyncActive(active bool) {
	c.autoSyncActive.Store(active)
	if active {
		metrics.AutoSyncActive.Set(1)
	} else {
		metrics.AutoSyncActive.Set(0)
	}
}

// knownProperties is the union of cached properties and those with a recorded
// failure.
func (c *Coordinator) knownProperties() []string {
	ids := c.store.PropertyIDs()
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for id := range c.lastErrors {
		if _, ok := seen[id]; !ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
