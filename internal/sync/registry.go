// MetricDeck - Analytics Property Dashboard and Sync Engine
// Copyright 2026 MetricDeck Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricdeck/metricdeck

package sync

import (
	"sync"

	"github.com/google/uuid"

	"github.com/metricdeck/metricdeck/internal/logging"
	"github.com/metricdeck/metricdeck/internal/metrics"
	"github.com/metricdeck/metricdeck/internal/models"
)

// Subscriber receives update events for cached analytics data.
//
// OnUpdate is invoked synchronously from Notify; implementations that block
// delay delivery for other subscribers of the same property only.
type Subscriber interface {
	OnUpdate(event models.UpdateEvent)
}

// SubscriberFunc adapts a plain function to the Subscriber interface.
type SubscriberFunc func(event models.UpdateEvent)

func (f SubscriberFunc) OnUpdate(event models.UpdateEvent) { f(event) }

type subscription struct {
	subscriber Subscriber
	filter     map[string]struct{} // nil = all properties
}

func (s *subscription) wants(propertyID string) bool {
	if s.filter == nil {
		return true
	}
	_, ok := s.filter[propertyID]
	return ok
}

// Registry fans update events out to registered subscribers.
//
// Delivery for a single property is serialized so subscribers observe that
// property's updates in order; events for different properties may interleave
// freely. A panicking subscriber is logged and skipped, never unregistered,
// and never disturbs other subscribers or the caller.
type Registry struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]*subscription

	propMu    sync.Mutex
	propLocks map[string]*sync.Mutex
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		subs:      make(map[uuid.UUID]*subscription),
		propLocks: make(map[string]*sync.Mutex),
	}
}

// Add registers a subscriber and returns its handle. With no property IDs the
// subscriber receives every event; otherwise only events for the listed
// properties.
func (r *Registry) Add(sub Subscriber, propertyIDs ...string) uuid.UUID {
	entry := &subscription{subscriber: sub}
	if len(propertyIDs) > 0 {
		entry.filter = make(map[string]struct{}, len(propertyIDs))
		for _, id := range propertyIDs {
			entry.filter[id] = struct{}{}
		}
	}

	handle := uuid.New()
	r.mu.Lock()
	r.subs[handle] = entry
	count := len(r.subs)
	r.mu.Unlock()

	metrics.ListenerCount.Set(float64(count))
	logging.Debug().Str("handle", handle.String()).Int("listeners", count).Msg("update listener registered")
	return handle
}

// Remove unregisters a subscriber. Removing an unknown handle is a no-op and
// returns false.
func (r *Registry) Remove(handle uuid.UUID) bool {
	r.mu.Lock()
	_, ok := r.subs[handle]
	delete(r.subs, handle)
	count := len(r.subs)
	r.mu.Unlock()

	if ok {
		metrics.ListenerCount.Set(float64(count))
		logging.Debug().Str("handle", handle.String()).Int("listeners", count).Msg("update listener removed")
	}
	return ok
}

// Count returns the number of registered subscribers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Notify delivers the event to every subscriber interested in its property.
// Concurrent Notify calls for the same property are serialized; calls for
// different properties proceed independently.
func (r *Registry) Notify(event models.UpdateEvent) {
	lock := r.propertyLock(event.PropertyID)
	lock.Lock()
	defer lock.Unlock()

	// Target selection happens under the property lock, so racing Notify
	// calls pick their subscribers in the same order they deliver.
	r.mu.RLock()
	targets := make([]Subscriber, 0, len(r.subs))
	for _, entry := range r.subs {
		if entry.wants(event.PropertyID) {
			targets = append(targets, entry.subscriber)
		}
	}
	r.mu.RUnlock()

	for _, sub := range targets {
		r.deliver(sub, event)
	}
}

// deliver invokes one subscriber, converting a panic into a logged metric.
func (r *Registry) deliver(sub Subscriber, event models.UpdateEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.NotificationPanics.Inc()
			logging.Error().
				Interface("panic", rec).
				Str("property_id", event.PropertyID).
				Msg("update listener panicked")
		}
	}()
	sub.OnUpdate(event)
	metrics.NotificationsTotal.Inc()
}

func (r *Registry) propertyLock(propertyID string) *sync.Mutex {
	r.propMu.Lock()
	defer r.propMu.Unlock()
	lock, ok := r.propLocks[propertyID]
	if !ok {
		lock = &sync.Mutex{}
		r.propLocks[propertyID] = lock
	}
	return lock
}
