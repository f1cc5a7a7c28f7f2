// MetricDeck - Analytics Property Dashboard and Sync Engine
// Copyright 2026 MetricDeck Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricdeck/metricdeck

package sync

import (
	gosync "sync"
	"testing"
	"time"

	"github.com/metricdeck/metricdeck/internal/models"
)

type recordingSubscriber struct {
	mu     gosync.Mutex
	events []models.UpdateEvent
}

func (r *recordingSubscriber) OnUpdate(event models.UpdateEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingSubscriber) snapshot() []models.UpdateEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.UpdateEvent, len(r.events))
	copy(out, r.events)
	return out
}

func event(propertyID string, rows int) models.UpdateEvent {
	return models.UpdateEvent{
		PropertyID: propertyID,
		DateRange:  models.DateRange{StartDate: "7daysAgo", EndDate: "today"},
		Timestamp:  time.Now(),
		RowCount:   rows,
		HasData:    rows > 0,
	}
}

func TestRegistryDeliversToAll(t *testing.T) {
	r := NewRegistry()
	a := &recordingSubscriber{}
	b := &recordingSubscriber{}
	r.Add(a)
	r.Add(b)

	r.Notify(event("p1", 3))

	if got := len(a.snapshot()); got != 1 {
		t.Errorf("subscriber a received %d events, want 1", got)
	}
	if got := len(b.snapshot()); got != 1 {
		t.Errorf("subscriber b received %d events, want 1", got)
	}

	ev := a.snapshot()[0]
	if ev.PropertyID != "p1" || ev.RowCount != 3 || !ev.HasData {
		t.Errorf("unexpected event payload: %+v", ev)
	}
}

func TestRegistryPropertyFilter(t *testing.T) {
	r := NewRegistry()
	filtered := &recordingSubscriber{}
	all := &recordingSubscriber{}
	r.Add(filtered, "p1")
	r.Add(all)

	r.Notify(event("p1", 1))
	r.Notify(event("p2", 2))

	if got := len(filtered.snapshot()); got != 1 {
		t.Errorf("filtered subscriber received %d events, want 1", got)
	}
	if got := len(all.snapshot()); got != 2 {
		t.Errorf("unfiltered subscriber received %d events, want 2", got)
	}
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry()
	sub := &recordingSubscriber{}
	handle := r.Add(sub)

	if !r.Remove(handle) {
		t.Error("Remove of a live handle should report true")
	}
	if r.Remove(handle) {
		t.Error("Remove of a dead handle should report false")
	}
	if r.Count() != 0 {
		t.Errorf("count = %d, want 0", r.Count())
	}

	r.Notify(event("p1", 1))
	if got := len(sub.snapshot()); got != 0 {
		t.Errorf("removed subscriber received %d events, want 0", got)
	}
}

func TestRegistryPanicIsolation(t *testing.T) {
	r := NewRegistry()
	calm := &recordingSubscriber{}
	r.Add(SubscriberFunc(func(models.UpdateEvent) {
		panic("listener bug")
	}))
	r.Add(calm)

	// Must not propagate the panic to the caller.
	r.Notify(event("p1", 1))
	r.Notify(event("p1", 2))

	if got := len(calm.snapshot()); got != 2 {
		t.Errorf("healthy subscriber received %d events, want 2", got)
	}
	if r.Count() != 2 {
		t.Error("a panicking subscriber must stay registered")
	}
}

func TestRegistryPerPropertyOrdering(t *testing.T) {
	r := NewRegistry()
	sub := &recordingSubscriber{}
	r.Add(sub)

	var wg gosync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			r.Notify(event("p1", n))
		}(i)
	}
	wg.Wait()

	events := sub.snapshot()
	if len(events) != 50 {
		t.Fatalf("received %d events, want 50", len(events))
	}
	seen := make(map[int]bool, 50)
	for _, ev := range events {
		if seen[ev.RowCount] {
			t.Fatalf("event %d delivered twice", ev.RowCount)
		}
		seen[ev.RowCount] = true
	}
}

func TestRegistryQueuedNotifySeesLateSubscriber(t *testing.T) {
	r := NewRegistry()
	gate := make(chan struct{})
	entered := make(chan struct{}, 2)
	r.Add(SubscriberFunc(func(models.UpdateEvent) {
		entered <- struct{}{}
		<-gate
	}))

	first := make(chan struct{})
	go func() {
		r.Notify(event("p1", 1))
		close(first)
	}()
	<-entered // first delivery in flight, property lock held

	second := make(chan struct{})
	go func() {
		r.Notify(event("p1", 2))
		close(second)
	}()
	// Let the second Notify queue on the property lock before the
	// subscriber is added.
	time.Sleep(20 * time.Millisecond)

	late := &recordingSubscriber{}
	r.Add(late)
	close(gate)
	<-first
	<-second

	events := late.snapshot()
	if len(events) != 1 || events[0].RowCount != 2 {
		t.Fatalf("late subscriber saw %+v, want only the queued event", events)
	}
}

func TestSubscriberFunc(t *testing.T) {
	var got models.UpdateEvent
	SubscriberFunc(func(ev models.UpdateEvent) { got = ev }).OnUpdate(event("p9", 7))
	if got.PropertyID != "p9" || got.RowCount != 7 {
		t.Errorf("adapter did not pass the event through: %+v", got)
	}
}
