// MetricDeck - Analytics Property Dashboard and Sync Engine
// Copyright 2026 MetricDeck Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricdeck/metricdeck

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/metricdeck/metricdeck/internal/logging"
	"github.com/metricdeck/metricdeck/internal/metrics"
)

// RequestLogger logs one structured line per request with the chi request ID.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logging.Info().
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", time.Since(started)).
			Str("remote", r.RemoteAddr).
			Msg("http request")
	})
}

// PrometheusMetrics records request counts and latency per route pattern.
// The chi route pattern keeps label cardinality bounded regardless of path
// parameters.
func PrometheusMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		endpoint := chi.RouteContext(r.Context()).RoutePattern()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.RecordAPIRequest(r.Method, endpoint, strconv.Itoa(ww.Status()), time.Since(started))
	})
}
