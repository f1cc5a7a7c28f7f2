// MetricDeck - Analytics Property Dashboard and Sync Engine
// Copyright 2026 MetricDeck Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricdeck/metricdeck

// Package websocket pushes live analytics updates to browser dashboards.
//
// The Hub subscribes to the update listener registry and fans events out to
// connected clients, each of which may narrow its stream to a set of property
// IDs. Every 30 seconds the hub also pushes a heartbeat frame carrying the
// current sync status and cache statistics so an idle dashboard stays current.
package websocket

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/metricdeck/metricdeck/internal/logging"
	"github.com/metricdeck/metricdeck/internal/metrics"
	"github.com/metricdeck/metricdeck/internal/models"
)

// Message types pushed over a connection.
const (
	MessageTypeUpdate    = "update"
	MessageTypeHeartbeat = "heartbeat"
	MessageTypePing      = "ping"
	MessageTypePong      = "pong"
	MessageTypeSubscribe = "subscribe"
)

// HeartbeatPeriod is how often idle connections receive a status frame.
const HeartbeatPeriod = 30 * time.Second

// Message is one frame on the wire. PropertyID is set for update frames and
// drives client-side filtering; PropertyIDs carries a subscribe request's
// filter.
type Message struct {
	Type        string   `json:"type"`
	PropertyID  string   `json:"propertyId,omitempty"`
	PropertyIDs []string `json:"propertyIds,omitempty"`
	Data        any      `json:"data,omitempty"`
}

// StatusProvider supplies the payload for heartbeat frames.
type StatusProvider interface {
	SyncStatus(propertyIDs ...string) map[string]models.SyncStatus
	CacheStats() models.CacheStats
}

// Hub maintains the set of active clients and routes frames to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client
	status     StatusProvider
	mu         sync.RWMutex
}

// NewHub creates a Hub whose heartbeats are built from status.
func NewHub(status StatusProvider) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		status:     status,
	}
}

// OnUpdate satisfies the listener registry's subscriber contract: each cache
// update becomes one update frame. A full broadcast queue drops the frame -
// the next heartbeat carries the authoritative state anyway.
func (h *Hub) OnUpdate(event models.UpdateEvent) {
	msg := Message{Type: MessageTypeUpdate, PropertyID: event.PropertyID, Data: event}
	select {
	case h.broadcast <- msg:
	default:
		logging.Warn().Str("property_id", event.PropertyID).Msg("websocket broadcast queue full, dropping update")
	}
}

// Serve runs the hub until the context ends. Designed for suture supervision:
// on shutdown every client is closed and ctx.Err() is returned so the
// supervisor sees a clean exit.
//
// Lifecycle events are drained before broadcasts so client state is
// consistent when a frame is routed.
func (h *Hub) Serve(ctx context.Context) error {
	heartbeat := time.NewTicker(HeartbeatPeriod)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.addClient(client)
			continue
		case client := <-h.Unregister:
			h.removeClient(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.addClient(client)
		case client := <-h.Unregister:
			h.removeClient(client)
		case msg := <-h.broadcast:
			h.route(msg)
		case <-heartbeat.C:
			h.route(h.heartbeatFrame())
		}
	}
}

func (h *Hub) String() string { return "websocket-hub" }

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WSConnections.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("websocket client connected")
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WSConnections.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("websocket client disconnected")
}

// heartbeatFrame snapshots sync status and cache stats for all clients.
func (h *Hub) heartbeatFrame() Message {
	return Message{
		Type: MessageTypeHeartbeat,
		Data: models.Heartbeat{
			Timestamp:  time.Now(),
			SyncStatus: h.status.SyncStatus(),
			CacheStats: h.status.CacheStats(),
		},
	}
}

// route delivers a frame to every interested client. Clients are walked in
// connection order so delivery is deterministic; a client with a full send
// buffer is dropped rather than allowed to stall the others.
func (h *Hub) route(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })

	var toRemove []*Client
	for _, client := range clients {
		if msg.Type == MessageTypeUpdate && !client.wants(msg.PropertyID) {
			continue
		}
		select {
		case client.send <- msg:
		default:
			toRemove = append(toRemove, client)
		}
	}

	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
		logging.Warn().Msg("dropping slow websocket client")
	}
	if len(toRemove) > 0 {
		metrics.WSConnections.Set(float64(len(h.clients)))
	}
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// shutdown closes every client before the hub exits.
func (h *Hub) shutdown(ctx context.Context) {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })
	for _, client := range clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.mu.Unlock()

	metrics.WSConnections.Set(0)
	reason := "context_canceled"
	if ctx.Err() == context.DeadlineExceeded {
		reason = "context_deadline"
	}
	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", reason).
		Int("clients_closed", len(clients)).
		Msg("websocket hub stopped")
}
