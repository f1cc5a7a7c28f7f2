// MetricDeck - Analytics Property Dashboard and Sync Engine
// Copyright 2026 MetricDeck Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricdeck/metricdeck

// Package main is the entry point for the MetricDeck server.
//
// MetricDeck is the backend of a Google Analytics property dashboard: it
// synchronizes report data for batches of GA4 properties, caches the results
// in memory with staleness tracking, retries transient upstream failures, and
// pushes live updates to dashboards over WebSocket and SSE.
//
// Startup order:
//
//  1. Configuration (koanf: defaults, optional YAML file, MD_ env vars)
//  2. Logging (zerolog, configured level and format)
//  3. Upstream GA client with rate limiting and a circuit breaker
//  4. Cache store, listener registry, sync coordinator, auto-sync scheduler
//  5. WebSocket hub, subscribed to the registry
//  6. HTTP API (chi)
//
// The scheduler, the hub and the HTTP server run under a suture supervisor;
// SIGINT/SIGTERM cancel the tree and the server drains for
// server.shutdown_timeout before exiting.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/metricdeck/metricdeck/internal/api"
	"github.com/metricdeck/metricdeck/internal/cache"
	"github.com/metricdeck/metricdeck/internal/config"
	"github.com/metricdeck/metricdeck/internal/ga"
	"github.com/metricdeck/metricdeck/internal/logging"
	"github.com/metricdeck/metricdeck/internal/retry"
	syncengine "github.com/metricdeck/metricdeck/internal/sync"
	ws "github.com/metricdeck/metricdeck/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("addr", cfg.Server.Addr()).
		Dur("cache_ttl", cfg.Sync.CacheTTL).
		Dur("sync_interval", cfg.Sync.Interval).
		Msg("starting metricdeck")

	// Upstream client: rate-limited HTTP with a circuit breaker in front.
	client := ga.NewClient(ga.Config{
		DataBaseURL:       cfg.GA.DataURL,
		AdminBaseURL:      cfg.GA.AdminURL,
		Timeout:           cfg.GA.Timeout,
		RequestsPerSecond: cfg.GA.RequestsPerSecond,
	})
	breaker := ga.NewBreakerClient(client)

	// Sync engine.
	store := cache.New(cfg.Sync.CacheTTL)
	registry := syncengine.NewRegistry()
	coordinator := syncengine.NewCoordinator(breaker, store, registry,
		syncengine.WithRetryPolicy(retry.Policy{
			MaxAttempts: cfg.Sync.Retry.MaxAttempts,
			BaseDelay:   cfg.Sync.Retry.BaseDelay,
			Multiplier:  cfg.Sync.Retry.Multiplier,
			Jitter:      cfg.Sync.Retry.Jitter,
			MaxDelay:    cfg.Sync.Retry.MaxDelay,
		}),
		syncengine.WithConcurrency(cfg.Sync.Concurrency),
	)
	scheduler := syncengine.NewScheduler(coordinator)

	// Live update fan-out: the hub is a registry subscriber like any other.
	hub := ws.NewHub(coordinator)
	registry.Add(hub)

	handler := api.NewHandler(coordinator, scheduler, breaker, registry)
	router := api.NewRouter(cfg, handler, hub, coordinator)
	server := router.Server()

	// Supervision tree.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hook := (&sutureslog.Handler{Logger: logging.Slog()}).MustHook()
	tree := suture.New("metricdeck", suture.Spec{
		EventHook:        hook,
		FailureThreshold: 5,
		FailureBackoff:   15 * time.Second,
		Timeout:          cfg.Server.ShutdownTimeout,
	})
	tree.Add(hub)
	tree.Add(scheduler)
	tree.Add(newHTTPService(server, cfg.Server.ShutdownTimeout))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor error")
		}
	}

	logging.Info().Msg("metricdeck stopped")
}

// httpService adapts http.Server's blocking ListenAndServe to suture's
// context-aware Serve.
type httpService struct {
	server          *http.Server
	shutdownTimeout time.Duration
}

func newHTTPService(server *http.Server, shutdownTimeout time.Duration) *httpService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &httpService{server: server, shutdownTimeout: shutdownTimeout}
}

func (h *httpService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err

	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer shutdownCancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			logging.Error().Err(err).Msg("http server shutdown error")
		}
		return ctx.Err()
	}
}

func (h *httpService) String() string { return "http-server" }
