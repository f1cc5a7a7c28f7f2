// MetricDeck - Analytics Property Dashboard and Sync Engine
// Copyright 2026 MetricDeck Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricdeck/metricdeck

package ga

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/metricdeck/metricdeck/internal/classify"
	"github.com/metricdeck/metricdeck/internal/models"
)

var testRange = models.DateRange{StartDate: "2026-08-01", EndDate: "2026-08-07"}

func newTestClient(dataURL, adminURL string) *Client {
	return NewClient(Config{
		DataBaseURL:       dataURL,
		AdminBaseURL:      adminURL,
		RequestsPerSecond: 1000,
	})
}

func TestFetchReportParsesRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if !strings.HasSuffix(r.URL.Path, "/v1beta/properties/123:runReport") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q, want bearer token", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"rows": [
				{"dimensionValues":[{"value":"20260801"}],"metricValues":[{"value":"120"},{"value":"80"},{"value":"340"},{"value":"0.42"}]},
				{"dimensionValues":[{"value":"20260802"}],"metricValues":[{"value":"95"},{"value":"61"},{"value":"270"},{"value":"0.5"}]}
			],
			"rowCount": 2
		}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, srv.URL)
	data, err := c.FetchReport(context.Background(), "tok", "123", testRange)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if data.PropertyID != "123" {
		t.Errorf("propertyID = %q, want 123", data.PropertyID)
	}
	if data.RowCount != 2 || len(data.Rows) != 2 {
		t.Fatalf("rowCount = %d, rows = %d, want 2 each", data.RowCount, len(data.Rows))
	}
	first := data.Rows[0]
	if first.Date != "20260801" || first.Sessions != 120 || first.ActiveUsers != 80 || first.PageViews != 340 {
		t.Errorf("unexpected first row: %+v", first)
	}
	if first.BounceRate != 0.42 {
		t.Errorf("bounceRate = %v, want 0.42", first.BounceRate)
	}
	if data.FetchedAt.IsZero() {
		t.Error("FetchedAt should be stamped")
	}
}

func TestFetchReportEmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, srv.URL)
	data, err := c.FetchReport(context.Background(), "tok", "123", testRange)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if data.HasData() {
		t.Error("empty report should have no data")
	}
	if data.RowCount != 0 {
		t.Errorf("rowCount = %d, want 0", data.RowCount)
	}
}

func TestFetchReportErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   classify.Type
	}{
		{"unauthorized", http.StatusUnauthorized, classify.TypeAuthentication},
		{"forbidden", http.StatusForbidden, classify.TypeAuthentication},
		{"rate limited", http.StatusTooManyRequests, classify.TypeRateLimit},
		{"bad request", http.StatusBadRequest, classify.TypeValidation},
		{"internal error", http.StatusInternalServerError, classify.TypeNetwork},
		{"bad gateway", http.StatusBadGateway, classify.TypeNetwork},
		{"unavailable", http.StatusServiceUnavailable, classify.TypeNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "upstream says no", tt.status)
			}))
			defer srv.Close()

			c := newTestClient(srv.URL, srv.URL)
			_, err := c.FetchReport(context.Background(), "tok", "123", testRange)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := classify.Classify(err); got.Type != tt.want {
				t.Errorf("classified %q as %s, want %s", err, got.Type, tt.want)
			}
		})
	}
}

func TestListPropertiesPagination(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q, want bearer token", got)
		}
		switch r.URL.Query().Get("pageToken") {
		case "":
			_, _ = w.Write([]byte(`{
				"accountSummaries": [{"propertySummaries": [
					{"property":"properties/111","displayName":"Site A"},
					{"property":"properties/222","displayName":"Site B"}
				]}],
				"nextPageToken": "page2"
			}`))
		case "page2":
			_, _ = w.Write([]byte(`{
				"accountSummaries": [{"propertySummaries": [
					{"property":"properties/333","displayName":"Site C"}
				]}]
			}`))
		default:
			t.Errorf("unexpected pageToken %q", r.URL.Query().Get("pageToken"))
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, srv.URL)
	props, err := c.ListProperties(context.Background(), "tok")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("made %d requests, want 2", calls)
	}
	if len(props) != 3 {
		t.Fatalf("got %d properties, want 3", len(props))
	}
	if props[0].ID != "111" || props[0].DisplayName != "Site A" {
		t.Errorf("unexpected first property: %+v", props[0])
	}
	if props[2].ID != "333" {
		t.Errorf("unexpected last property: %+v", props[2])
	}
}

func TestListPropertiesAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "token expired", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, srv.URL)
	_, err := c.ListProperties(context.Background(), "stale")
	if err == nil {
		t.Fatal("expected error")
	}
	if got := classify.Classify(err); got.Type != classify.TypeAuthentication {
		t.Errorf("classified as %s, want %s", got.Type, classify.TypeAuthentication)
	}
}

func TestBreakerClientPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"rowCount": 1, "rows": [{"dimensionValues":[{"value":"20260801"}],"metricValues":[{"value":"5"},{"value":"3"},{"value":"9"},{"value":"0.1"}]}]}`))
	}))
	defer srv.Close()

	b := NewBreakerClient(newTestClient(srv.URL, srv.URL))
	data, err := b.FetchReport(context.Background(), "tok", "123", testRange)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !data.HasData() {
		t.Error("expected data through the breaker")
	}
	if got := b.State(); got != "closed" {
		t.Errorf("breaker state = %q, want closed", got)
	}
}

func TestTrimPropertyPrefix(t *testing.T) {
	if got := trimPropertyPrefix("properties/42"); got != "42" {
		t.Errorf("got %q, want 42", got)
	}
	if got := trimPropertyPrefix("42"); got != "42" {
		t.Errorf("got %q, want unchanged 42", got)
	}
}
