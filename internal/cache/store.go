// MetricDeck - Analytics Property Dashboard and Sync Engine
// Copyright 2026 MetricDeck Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricdeck/metricdeck

// Package cache holds the most recent successful analytics result per
// (property, date range) key.
//
// Entries are replaced wholesale on refresh and carry staleness metadata:
// an entry past its TTL is reported stale but remains servable as
// last-known-good until explicitly cleared. Writes are keyed-monotonic - a
// slow fetch that finishes after a fresher one cannot overwrite it.
package cache

import (
	"sync"
	"time"

	"github.com/metricdeck/metricdeck/internal/metrics"
	"github.com/metricdeck/metricdeck/internal/models"
)

// Key identifies one cache entry.
type Key struct {
	PropertyID string
	DateRange  string
}

// NewKey builds a Key from a property ID and date range.
func NewKey(propertyID string, dr models.DateRange) Key {
	return Key{PropertyID: propertyID, DateRange: dr.String()}
}

// Entry is one cached result with its staleness metadata.
type Entry struct {
	Data      *models.AnalyticsData
	FetchedAt time.Time
	TTL       time.Duration
}

// Stale reports whether the entry has outlived its TTL at the given time.
func (e Entry) Stale(now time.Time) bool {
	return now.Sub(e.FetchedAt) > e.TTL
}

// Store is a thread-safe in-memory cache of analytics results.
type Store struct {
	mu         sync.RWMutex
	entries    map[Key]Entry
	defaultTTL time.Duration
}

// New creates a Store with the given default TTL for entries written without
// an explicit one.
func New(defaultTTL time.Duration) *Store {
	return &Store{
		entries:    make(map[Key]Entry),
		defaultTTL: defaultTTL,
	}
}

// Get returns the entry for the key, stale or not. The second return value
// is false when no entry exists.
func (s *Store) Get(propertyID string, dr models.DateRange) (Entry, bool) {
	s.mu.RLock()
	entry, ok := s.entries[NewKey(propertyID, dr)]
	s.mu.RUnlock()

	if ok {
		metrics.CacheHits.Inc()
	} else {
		metrics.CacheMisses.Inc()
	}
	return entry, ok
}

// Put stores data under its key with the default TTL, replacing any existing
// entry wholesale. A write whose FetchedAt is not newer than the stored
// entry's is rejected and the method returns false: per-key writes are
// linearized by fetch time, last fetch wins.
func (s *Store) Put(propertyID string, dr models.DateRange, data *models.AnalyticsData) bool {
	return s.PutWithTTL(propertyID, dr, data, s.defaultTTL)
}

// PutWithTTL is Put with a caller-chosen TTL.
func (s *Store) PutWithTTL(propertyID string, dr models.DateRange, data *models.AnalyticsData, ttl time.Duration) bool {
	fetchedAt := data.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now()
	}

	key := NewKey(propertyID, dr)
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.entries[key]; ok && !fetchedAt.After(current.FetchedAt) {
		metrics.CacheStaleWrites.Inc()
		return false
	}

	s.entries[key] = Entry{Data: data, FetchedAt: fetchedAt, TTL: ttl}
	metrics.CacheEntries.Set(float64(len(s.entries)))
	return true
}

// Stats returns a snapshot of the store.
func (s *Store) Stats() models.CacheStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	stats := models.CacheStats{EntryCount: len(s.entries)}
	for _, e := range s.entries {
		if e.Stale(now) {
			stats.StaleCount++
		}
		if age := now.Sub(e.FetchedAt); age > stats.OldestEntryAge {
			stats.OldestEntryAge = age
		}
	}
	return stats
}

// Clear removes entries for the given property IDs across all date ranges,
// or every entry when no IDs are given.
func (s *Store) Clear(propertyIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(propertyIDs) == 0 {
		removed := len(s.entries)
		s.entries = make(map[Key]Entry)
		metrics.CacheEvictions.Add(float64(removed))
		metrics.CacheEntries.Set(0)
		return
	}

	wanted := make(map[string]struct{}, len(propertyIDs))
	for _, id := range propertyIDs {
		wanted[id] = struct{}{}
	}

	removed := 0
	for key := range s.entries {
		if _, ok := wanted[key.PropertyID]; ok {
			delete(s.entries, key)
			removed++
		}
	}
	metrics.CacheEvictions.Add(float64(removed))
	metrics.CacheEntries.Set(float64(len(s.entries)))
}

// Latest returns the most recently fetched entry for a property across all
// date ranges, used to compute per-property sync status.
func (s *Store) Latest(propertyID string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best Entry
	found := false
	for key, e := range s.entries {
		if key.PropertyID != propertyID {
			continue
		}
		if !found || e.FetchedAt.After(best.FetchedAt) {
			best = e
			found = true
		}
	}
	return best, found
}

// PropertyIDs returns the distinct property IDs currently cached.
func (s *Store) PropertyIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	ids := make([]string, 0, len(s.entries))
	for key := range s.entries {
		if _, ok := seen[key.PropertyID]; ok {
			continue
		}
		seen[key.PropertyID] = struct{}{}
		ids = append(ids, key.PropertyID)
	}
	return ids
}
