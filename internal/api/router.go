// MetricDeck - Analytics Property Dashboard and Sync Engine
// Copyright 2026 MetricDeck Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricdeck/metricdeck

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/metricdeck/metricdeck/internal/config"
	"github.com/metricdeck/metricdeck/internal/websocket"
)

// Router assembles the HTTP surface.
type Router struct {
	cfg     *config.Config
	handler *Handler
	hub     *websocket.Hub
	status  websocket.StatusProvider
}

// NewRouter wires the router from its collaborators. status feeds SSE
// heartbeats; the hub serves websocket upgrades and drives its own.
func NewRouter(cfg *config.Config, handler *Handler, hub *websocket.Hub, status websocket.StatusProvider) *Router {
	return &Router{cfg: cfg, handler: handler, hub: hub, status: status}
}

// Handler builds the chi route tree.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   rt.cfg.Security.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		if !rt.cfg.Security.RateLimitDisabled {
			r.Use(httprate.LimitByIP(rt.cfg.Security.RateLimitReqs, rt.cfg.Security.RateLimitWindow))
		}
		r.Use(PrometheusMetrics)

		r.Post("/analytics/batch", rt.handler.BatchFetch)
		r.Get("/sync/status", rt.handler.SyncStatus)
		r.Get("/cache/stats", rt.handler.CacheStats)
		r.Delete("/cache", rt.handler.ClearCache)
		r.Post("/autosync/start", rt.handler.AutoSyncStart)
		r.Post("/autosync/stop", rt.handler.AutoSyncStop)
		r.Get("/properties", rt.handler.Properties)
		r.Get("/health", rt.handler.Health)

		// Live feeds are long-lived connections; the per-IP limiter above
		// still gates how often they can be (re)opened.
		r.Get("/events", rt.handler.Events(rt.status))
		r.Get("/ws", rt.hub.HandleConnection)
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

// Server builds the http.Server for the route tree. Read/write timeouts stay
// off the live-feed routes by bounding only headers and idle time.
func (rt *Router) Server() *http.Server {
	return &http.Server{
		Addr:              rt.cfg.Server.Addr(),
		Handler:           rt.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
