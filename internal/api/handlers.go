// MetricDeck - Analytics Property Dashboard and Sync Engine
// Copyright 2026 MetricDeck Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricdeck/metricdeck

// Package api exposes the sync engine over HTTP: batch fetches, sync status,
// cache management, auto-sync control, property listing and the live update
// feeds (SSE and WebSocket).
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/go-playground/validator/v10"

	"github.com/metricdeck/metricdeck/internal/classify"
	"github.com/metricdeck/metricdeck/internal/ga"
	"github.com/metricdeck/metricdeck/internal/logging"
	"github.com/metricdeck/metricdeck/internal/models"
	syncengine "github.com/metricdeck/metricdeck/internal/sync"
)

// SyncService is the coordinator surface the handlers consume.
type SyncService interface {
	BatchFetch(ctx context.Context, accessToken string, propertyIDs []string, dateRange models.DateRange, forceRefresh bool) *syncengine.BatchResult
	SyncStatus(propertyIDs ...string) map[string]models.SyncStatus
	CacheStats() models.CacheStats
	ClearCache(propertyIDs ...string)
}

// AutoSync is the scheduler surface the handlers consume.
type AutoSync interface {
	Start(accessToken string, propertyIDs []string, dateRange models.DateRange, interval time.Duration)
	Stop()
	Active() bool
}

// Handler carries the wired dependencies for all API endpoints.
type Handler struct {
	svc      SyncService
	autosync AutoSync
	lister   ga.Lister
	registry *syncengine.Registry
	validate *validator.Validate
}

// NewHandler wires a Handler.
func NewHandler(svc SyncService, autosync AutoSync, lister ga.Lister, registry *syncengine.Registry) *Handler {
	v := validator.New()
	// Date expressions accept YYYY-MM-DD, NdaysAgo, today and yesterday.
	_ = v.RegisterValidation("garange", func(fl validator.FieldLevel) bool {
		return models.ValidDateExpr(fl.Field().String())
	})
	return &Handler{
		svc:      svc,
		autosync: autosync,
		lister:   lister,
		registry: registry,
		validate: v,
	}
}

// errorResponse is the wire shape of every failed request.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Type        string   `json:"type"`
	Message     string   `json:"message"`
	Suggestions []string `json:"suggestions,omitempty"`
	CanRetry    bool     `json:"canRetry"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Error().Err(err).Msg("failed to encode response")
	}
}

// writeClassifiedError maps a classified failure to a status code and a
// user-facing message with recovery suggestions.
func writeClassifiedError(w http.ResponseWriter, c *classify.Classified) {
	msg := classify.UserMessage(c)
	status := http.StatusBadGateway
	switch c.Type {
	case classify.TypeAuthentication:
		status = http.StatusUnauthorized
	case classify.TypeValidation:
		status = http.StatusBadRequest
	case classify.TypeRateLimit:
		status = http.StatusTooManyRequests
	case classify.TypeTimeout:
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, errorResponse{Error: errorBody{
		Type:        string(c.Type),
		Message:     msg.Text,
		Suggestions: msg.Suggestions,
		CanRetry:    msg.CanRetry,
	}})
}

func writeValidationError(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: errorBody{
		Type:     string(classify.TypeValidation),
		Message:  message,
		CanRetry: false,
	}})
}

// bearerToken extracts the upstream access token. The token is opaque here -
// session handling lives with the caller.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func requireToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	token := bearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: errorBody{
			Type:    string(classify.TypeAuthentication),
			Message: "missing bearer token",
		}})
		return "", false
	}
	return token, true
}

type batchRequest struct {
	PropertyIDs  []string         `json:"propertyIds" validate:"required,min=1,max=50,dive,required"`
	DateRange    models.DateRange `json:"dateRange"`
	ForceRefresh bool             `json:"forceRefresh"`
}

// BatchFetch handles POST /api/v1/analytics/batch.
func (h *Handler) BatchFetch(w http.ResponseWriter, r *http.Request) {
	token, ok := requireToken(w, r)
	if !ok {
		return
	}

	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "malformed request body: "+err.Error())
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeValidationError(w, "invalid batch request: "+err.Error())
		return
	}
	if err := req.DateRange.Validate(); err != nil {
		writeValidationError(w, err.Error())
		return
	}

	result := h.svc.BatchFetch(r.Context(), token, req.PropertyIDs, req.DateRange, req.ForceRefresh)
	writeJSON(w, http.StatusOK, result)
}

// SyncStatus handles GET /api/v1/sync/status?propertyId=...
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	statuses := h.svc.SyncStatus(r.URL.Query()["propertyId"]...)
	writeJSON(w, http.StatusOK, map[string]any{"syncStatus": statuses})
}

// CacheStats handles GET /api/v1/cache/stats.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.CacheStats())
}

// ClearCache handles DELETE /api/v1/cache?propertyId=...
// Without propertyId parameters the whole cache is dropped.
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	ids := r.URL.Query()["propertyId"]
	h.svc.ClearCache(ids...)
	writeJSON(w, http.StatusOK, map[string]any{"cleared": true, "propertyIds": ids})
}

type autoSyncStartRequest struct {
	PropertyIDs     []string         `json:"propertyIds" validate:"required,min=1,max=50,dive,required"`
	DateRange       models.DateRange `json:"dateRange"`
	IntervalSeconds int              `json:"intervalSeconds" validate:"omitempty,min=1"`
}

// AutoSyncStart handles POST /api/v1/autosync/start. Starting while a job is
// active replaces it.
func (h *Handler) AutoSyncStart(w http.ResponseWriter, r *http.Request) {
	token, ok := requireToken(w, r)
	if !ok {
		return
	}

	var req autoSyncStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "malformed request body: "+err.Error())
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeValidationError(w, "invalid auto-sync request: "+err.Error())
		return
	}
	if err := req.DateRange.Validate(); err != nil {
		writeValidationError(w, err.Error())
		return
	}

	h.autosync.Start(token, req.PropertyIDs, req.DateRange, time.Duration(req.IntervalSeconds)*time.Second)
	writeJSON(w, http.StatusOK, map[string]any{"active": true})
}

// AutoSyncStop handles POST /api/v1/autosync/stop. Idempotent.
func (h *Handler) AutoSyncStop(w http.ResponseWriter, r *http.Request) {
	h.autosync.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"active": false})
}

// Properties handles GET /api/v1/properties.
func (h *Handler) Properties(w http.ResponseWriter, r *http.Request) {
	token, ok := requireToken(w, r)
	if !ok {
		return
	}

	properties, err := h.lister.ListProperties(r.Context(), token)
	if err != nil {
		writeClassifiedError(w, classify.Classify(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"properties": properties})
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"autoSyncActive": h.autosync.Active(),
		"listeners":      h.registry.Count(),
		"cache":          h.svc.CacheStats(),
	})
}
