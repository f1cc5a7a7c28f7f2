// MetricDeck - Analytics Property Dashboard and Sync Engine
// Copyright 2026 MetricDeck Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricdeck/metricdeck

package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/metricdeck/metricdeck/internal/logging"
	"github.com/metricdeck/metricdeck/internal/metrics"
	"github.com/metricdeck/metricdeck/internal/models"
	syncengine "github.com/metricdeck/metricdeck/internal/sync"
	"github.com/metricdeck/metricdeck/internal/websocket"
)

// sseEventBuffer bounds the per-connection queue. A consumer that falls this
// far behind loses events; the next heartbeat restores an authoritative view.
const sseEventBuffer = 64

// Events handles GET /api/v1/events: a Server-Sent Events stream of update
// events for the requested properties (all of them when no propertyId
// parameter is given) plus a periodic heartbeat with sync status and cache
// statistics. Closing the connection removes the registration.
func (h *Handler) Events(status websocket.StatusProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		events := make(chan models.UpdateEvent, sseEventBuffer)
		handle := h.registry.Add(syncengine.SubscriberFunc(func(ev models.UpdateEvent) {
			select {
			case events <- ev:
			default:
				// Queue full; drop. Heartbeats carry the current state.
			}
		}), r.URL.Query()["propertyId"]...)
		defer h.registry.Remove(handle)

		metrics.SSEConnections.Inc()
		defer metrics.SSEConnections.Dec()
		logging.Debug().Str("handle", handle.String()).Msg("sse stream opened")

		heartbeat := time.NewTicker(websocket.HeartbeatPeriod)
		defer heartbeat.Stop()

		for {
			select {
			case <-r.Context().Done():
				logging.Debug().Str("handle", handle.String()).Msg("sse stream closed")
				return

			case ev := <-events:
				if err := writeSSE(w, "update", ev); err != nil {
					return
				}
				flusher.Flush()

			case <-heartbeat.C:
				hb := models.Heartbeat{
					Timestamp:  time.Now(),
					SyncStatus: status.SyncStatus(),
					CacheStats: status.CacheStats(),
				}
				if err := writeSSE(w, "heartbeat", hb); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
