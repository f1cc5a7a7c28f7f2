// MetricDeck - Analytics Property Dashboard and Sync Engine
// Copyright 2026 MetricDeck Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricdeck/metricdeck

package sync

import (
	"context"
	"errors"
	gosync "sync"
	"testing"
	"time"

	"github.com/metricdeck/metricdeck/internal/cache"
	"github.com/metricdeck/metricdeck/internal/classify"
	"github.com/metricdeck/metricdeck/internal/models"
	"github.com/metricdeck/metricdeck/internal/retry"
)

var testRange = models.DateRange{StartDate: "7daysAgo", EndDate: "today"}

// stubFetcher fakes the upstream provider with per-property behavior.
type stubFetcher struct {
	mu      gosync.Mutex
	calls   map[string]int
	failing map[string]error
	fetched chan string
	stampAt time.Time // overrides FetchedAt on results when set
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{
		calls:   make(map[string]int),
		failing: make(map[string]error),
	}
}

func (f *stubFetcher) FetchReport(_ context.Context, _, propertyID string, dateRange models.DateRange) (*models.AnalyticsData, error) {
	f.mu.Lock()
	f.calls[propertyID]++
	err := f.failing[propertyID]
	fetchedAt := f.stampAt
	f.mu.Unlock()

	if f.fetched != nil {
		f.fetched <- propertyID
	}
	if err != nil {
		return nil, err
	}
	if fetchedAt.IsZero() {
		fetchedAt = time.Now()
	}
	return &models.AnalyticsData{
		PropertyID: propertyID,
		DateRange:  dateRange,
		Rows:       []models.MetricRow{{Date: "20260801", Sessions: 10}},
		RowCount:   1,
		FetchedAt:  fetchedAt,
	}, nil
}

func (f *stubFetcher) stamp(at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stampAt = at
}

func (f *stubFetcher) callCount(propertyID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[propertyID]
}

func (f *stubFetcher) fail(propertyID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[propertyID] = err
}

func (f *stubFetcher) recover(propertyID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failing, propertyID)
}

// singleAttempt keeps failing tests fast: no backoff waits.
var singleAttempt = retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: time.Millisecond}

func newTestCoordinator(f *stubFetcher) (*Coordinator, *Registry) {
	registry := NewRegistry()
	coord := NewCoordinator(f, cache.New(time.Minute), registry, WithRetryPolicy(singleAttempt))
	return coord, registry
}

func TestBatchFetchPartialFailure(t *testing.T) {
	fetcher := newStubFetcher()
	fetcher.fail("bad", errors.New("HTTP 401 unauthorized"))
	coord, _ := newTestCoordinator(fetcher)

	result := coord.BatchFetch(context.Background(), "tok", []string{"good", "bad"}, testRange, false)

	if _, ok := result.Data["good"]; !ok {
		t.Error("healthy property should return data")
	}
	detail, ok := result.Errors["bad"]
	if !ok {
		t.Fatal("failing property should carry an error")
	}
	if detail.Type != string(classify.TypeAuthentication) {
		t.Errorf("error type = %s, want authentication", detail.Type)
	}
	if detail.Retryable {
		t.Error("auth failure must not be marked retryable")
	}
}

func TestBatchFetchUsesFreshCache(t *testing.T) {
	fetcher := newStubFetcher()
	coord, _ := newTestCoordinator(fetcher)

	coord.BatchFetch(context.Background(), "tok", []string{"p1"}, testRange, false)
	coord.BatchFetch(context.Background(), "tok", []string{"p1"}, testRange, false)

	if got := fetcher.callCount("p1"); got != 1 {
		t.Errorf("upstream called %d times, want 1 (second batch served from cache)", got)
	}
}

func TestBatchFetchForceRefreshBypassesCache(t *testing.T) {
	fetcher := newStubFetcher()
	coord, _ := newTestCoordinator(fetcher)

	coord.BatchFetch(context.Background(), "tok", []string{"p1"}, testRange, false)
	coord.BatchFetch(context.Background(), "tok", []string{"p1"}, testRange, true)

	if got := fetcher.callCount("p1"); got != 2 {
		t.Errorf("upstream called %d times, want 2 with forceRefresh", got)
	}
}

func TestBatchFetchDeduplicatesProperties(t *testing.T) {
	fetcher := newStubFetcher()
	coord, _ := newTestCoordinator(fetcher)

	result := coord.BatchFetch(context.Background(), "tok", []string{"p1", "p1", "p1"}, testRange, false)

	if got := fetcher.callCount("p1"); got != 1 {
		t.Errorf("upstream called %d times for duplicated id, want 1", got)
	}
	if len(result.Data) != 1 {
		t.Errorf("result carries %d entries, want 1", len(result.Data))
	}
}

func TestBatchFetchNotifiesListeners(t *testing.T) {
	fetcher := newStubFetcher()
	coord, registry := newTestCoordinator(fetcher)
	sub := &recordingSubscriber{}
	registry.Add(sub)

	coord.BatchFetch(context.Background(), "tok", []string{"p1"}, testRange, false)

	events := sub.snapshot()
	if len(events) != 1 {
		t.Fatalf("listener received %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.PropertyID != "p1" || ev.RowCount != 1 || !ev.HasData {
		t.Errorf("unexpected event payload: %+v", ev)
	}
	if ev.Timestamp.IsZero() {
		t.Error("event timestamp should be stamped")
	}
}

func TestBatchFetchCacheHitDoesNotNotify(t *testing.T) {
	fetcher := newStubFetcher()
	coord, registry := newTestCoordinator(fetcher)
	sub := &recordingSubscriber{}
	registry.Add(sub)

	coord.BatchFetch(context.Background(), "tok", []string{"p1"}, testRange, false)
	coord.BatchFetch(context.Background(), "tok", []string{"p1"}, testRange, false)

	if got := len(sub.snapshot()); got != 1 {
		t.Errorf("listener received %d events, want 1 (cache reuse is not an update)", got)
	}
}

func TestBatchFetchStaleResultNotDelivered(t *testing.T) {
	fetcher := newStubFetcher()
	coord, registry := newTestCoordinator(fetcher)
	sub := &recordingSubscriber{}
	registry.Add(sub)

	coord.BatchFetch(context.Background(), "tok", []string{"p1"}, testRange, false)

	// A slow fetch finishing now with an older timestamp: the cache keeps
	// the newer entry, listeners see no second event, and the caller gets
	// the fresher snapshot back.
	fetcher.stamp(time.Now().Add(-time.Minute))
	result := coord.BatchFetch(context.Background(), "tok", []string{"p1"}, testRange, true)

	if got := fetcher.callCount("p1"); got != 2 {
		t.Fatalf("upstream called %d times, want 2 with forceRefresh", got)
	}
	if got := len(sub.snapshot()); got != 1 {
		t.Errorf("listener received %d events, want 1 (rejected write must not notify)", got)
	}
	data, ok := result.Data["p1"]
	if !ok {
		t.Fatal("batch should still return data for the property")
	}
	if data.FetchedAt.Before(time.Now().Add(-30 * time.Second)) {
		t.Errorf("caller received the stale snapshot, FetchedAt = %v", data.FetchedAt)
	}

	entry, ok := coord.store.Get("p1", testRange)
	if !ok {
		t.Fatal("cache entry should survive the rejected write")
	}
	if entry.Data != data {
		t.Error("caller should receive the cached (newer) snapshot")
	}
}

func TestSyncStatusReflectsOutcomes(t *testing.T) {
	fetcher := newStubFetcher()
	fetcher.fail("bad", errors.New("connection refused"))
	coord, _ := newTestCoordinator(fetcher)

	coord.BatchFetch(context.Background(), "tok", []string{"good", "bad"}, testRange, false)
	statuses := coord.SyncStatus()

	good, ok := statuses["good"]
	if !ok {
		t.Fatal("expected status for good")
	}
	if good.LastSyncedAt == nil {
		t.Error("synced property should carry LastSyncedAt")
	}
	if good.IsStale {
		t.Error("freshly synced property should not be stale")
	}
	if good.LastError != nil {
		t.Errorf("synced property should carry no error, got %+v", good.LastError)
	}

	bad, ok := statuses["bad"]
	if !ok {
		t.Fatal("expected status for bad")
	}
	if bad.LastSyncedAt != nil {
		t.Error("never-synced property should carry no LastSyncedAt")
	}
	if bad.LastError == nil || bad.LastError.Type != string(classify.TypeNetwork) {
		t.Errorf("unexpected lastError: %+v", bad.LastError)
	}
}

func TestSyncStatusErrorClearedOnRecovery(t *testing.T) {
	fetcher := newStubFetcher()
	fetcher.fail("p1", errors.New("connection refused"))
	coord, _ := newTestCoordinator(fetcher)

	coord.BatchFetch(context.Background(), "tok", []string{"p1"}, testRange, false)
	if coord.SyncStatus("p1")["p1"].LastError == nil {
		t.Fatal("expected recorded failure before recovery")
	}

	fetcher.recover("p1")
	coord.BatchFetch(context.Background(), "tok", []string{"p1"}, testRange, true)

	status := coord.SyncStatus("p1")["p1"]
	if status.LastError != nil {
		t.Errorf("recovery should clear lastError, got %+v", status.LastError)
	}
	if status.LastSyncedAt == nil {
		t.Error("recovered property should carry LastSyncedAt")
	}
}

func TestClearCacheDropsStateSelectively(t *testing.T) {
	fetcher := newStubFetcher()
	fetcher.fail("bad", errors.New("connection refused"))
	coord, _ := newTestCoordinator(fetcher)

	coord.BatchFetch(context.Background(), "tok", []string{"good", "bad"}, testRange, false)
	coord.ClearCache("good", "bad")

	if got := coord.CacheStats().EntryCount; got != 0 {
		t.Errorf("entry count after clear = %d, want 0", got)
	}
	if status := coord.SyncStatus("bad")["bad"]; status.LastError != nil {
		t.Error("clear should also drop the recorded failure")
	}
}
