// MetricDeck - Analytics Property Dashboard and Sync Engine
// Copyright 2026 MetricDeck Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricdeck/metricdeck

// Package models defines the shared data types exchanged between the sync
// engine, the upstream Google Analytics client, and the API layer.
package models

import "time"

// Property is an analytics data source (a tracked site or app) identified by
// a stable GA4 property ID.
type Property struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
}

// MetricRow is one row of a GA4 report: a date dimension plus the standard
// dashboard metrics.
type MetricRow struct {
	Date        string  `json:"date"`
	Sessions    int64   `json:"sessions"`
	ActiveUsers int64   `json:"activeUsers"`
	PageViews   int64   `json:"screenPageViews"`
	BounceRate  float64 `json:"bounceRate"`
}

// AnalyticsData is the payload returned by the upstream provider for one
// (property, date range) pair. The row set is opaque to the sync engine; only
// RowCount is inspected for update notifications.
type AnalyticsData struct {
	PropertyID string      `json:"propertyId"`
	DateRange  DateRange   `json:"dateRange"`
	Rows       []MetricRow `json:"rows"`
	RowCount   int         `json:"rowCount"`
	FetchedAt  time.Time   `json:"fetchedAt"`
}

// HasData reports whether the payload contains at least one row.
func (d *AnalyticsData) HasData() bool {
	return d != nil && d.RowCount > 0
}

// ErrorDetail is the wire representation of a classified failure attached to
// a property's sync status.
type ErrorDetail struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// SyncStatus is the per-property view computed on demand from the cache store
// and the scheduler. It is never persisted separately.
type SyncStatus struct {
	PropertyID     string       `json:"propertyId"`
	LastSyncedAt   *time.Time   `json:"lastSyncedAt,omitempty"`
	IsStale        bool         `json:"isStale"`
	LastError      *ErrorDetail `json:"lastError,omitempty"`
	AutoSyncActive bool         `json:"autoSyncActive"`
}

// CacheStats is a point-in-time snapshot of the cache store.
type CacheStats struct {
	EntryCount     int           `json:"entryCount"`
	StaleCount     int           `json:"staleCount"`
	OldestEntryAge time.Duration `json:"oldestEntryAge"`
}

// UpdateEvent is emitted to registered listeners whenever a property's cached
// data changes.
type UpdateEvent struct {
	PropertyID string    `json:"propertyId"`
	DateRange  DateRange `json:"dateRange"`
	Timestamp  time.Time `json:"timestamp"`
	RowCount   int       `json:"rowCount"`
	HasData    bool      `json:"hasData"`
}

// Heartbeat is the periodic status frame pushed to live connections while
// they remain open.
type Heartbeat struct {
	Timestamp  time.Time             `json:"timestamp"`
	SyncStatus map[string]SyncStatus `json:"syncStatus"`
	CacheStats CacheStats            `json:"cacheStats"`
}
