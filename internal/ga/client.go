// MetricDeck - Analytics Property Dashboard and Sync Engine
// Copyright 2026 MetricDeck Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricdeck/metricdeck

// Package ga is the upstream Google Analytics client: GA4 Data API report
// fetches and Admin API property listing.
//
// The client performs no retries itself - failures are returned with enough
// context (HTTP status indicators in the message) for the classifier, and
// the retry engine above it decides what to do. A token-bucket limiter paces
// requests to stay under GA quotas independently of retry behavior.
package ga

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/metricdeck/metricdeck/internal/models"
)

// maxErrorBodySize caps how much of an error response body is read back for
// diagnostics.
const maxErrorBodySize = 64 * 1024

// Fetcher is the upstream provider consumed by the sync coordinator.
type Fetcher interface {
	FetchReport(ctx context.Context, accessToken, propertyID string, dateRange models.DateRange) (*models.AnalyticsData, error)
}

// Lister enumerates the properties an access token can see.
type Lister interface {
	ListProperties(ctx context.Context, accessToken string) ([]models.Property, error)
}

// Config configures the client endpoints and pacing.
type Config struct {
	// DataBaseURL is the GA4 Data API base (default https://analyticsdata.googleapis.com).
	DataBaseURL string

	// AdminBaseURL is the GA4 Admin API base (default https://analyticsadmin.googleapis.com).
	AdminBaseURL string

	// Timeout bounds a single HTTP request. Default 30s.
	Timeout time.Duration

	// RequestsPerSecond paces outgoing calls. Default 10.
	RequestsPerSecond float64
}

// Client talks to the GA4 APIs over HTTP with bearer-token auth.
type Client struct {
	dataBaseURL  string
	adminBaseURL string
	httpClient   *http.Client
	limiter      *rate.Limiter
}

// NewClient creates a Client from cfg, applying defaults for zero values.
func NewClient(cfg Config) *Client {
	if cfg.DataBaseURL == "" {
		cfg.DataBaseURL = "https://analyticsdata.googleapis.com"
	}
	if cfg.AdminBaseURL == "" {
		cfg.AdminBaseURL = "https://analyticsadmin.googleapis.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	return &Client{
		dataBaseURL:  cfg.DataBaseURL,
		adminBaseURL: cfg.AdminBaseURL,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		limiter:      rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)),
	}
}

// runReport request/response wire shapes (GA4 Data API v1beta subset).

type reportRequest struct {
	DateRanges []wireDateRange `json:"dateRanges"`
	Dimensions []wireName      `json:"dimensions"`
	Metrics    []wireName      `json:"metrics"`
}

type wireDateRange struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

type wireName struct {
	Name string `json:"name"`
}

type reportResponse struct {
	Rows []struct {
		DimensionValues []struct {
			Value string `json:"value"`
		} `json:"dimensionValues"`
		MetricValues []struct {
			Value string `json:"value"`
		} `json:"metricValues"`
	} `json:"rows"`
	RowCount int `json:"rowCount"`
}

// reportMetrics is the fixed metric set the dashboard charts.
var reportMetrics = []wireName{
	{Name: "sessions"},
	{Name: "activeUsers"},
	{Name: "screenPageViews"},
	{Name: "bounceRate"},
}

// FetchReport runs the standard dashboard report for one property and date
// range.
func (c *Client) FetchReport(ctx context.Context, accessToken, propertyID string, dateRange models.DateRange) (*models.AnalyticsData, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(reportRequest{
		DateRanges: []wireDateRange{{StartDate: dateRange.StartDate, EndDate: dateRange.EndDate}},
		Dimensions: []wireName{{Name: "date"}},
		Metrics:    reportMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding report request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/properties/%s:runReport", c.dataBaseURL, propertyID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating report request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("report request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("runReport", resp)
	}

	var report reportResponse
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("decoding report response: %w", err)
	}

	return toAnalyticsData(propertyID, dateRange, &report), nil
}

func toAnalyticsData(propertyID string, dateRange models.DateRange, report *reportResponse) *models.AnalyticsData {
	rows := make([]models.MetricRow, 0, len(report.Rows))
	for _, r := range report.Rows {
		var row models.MetricRow
		if len(r.DimensionValues) > 0 {
			row.Date = r.DimensionValues[0].Value
		}
		for i, mv := range r.MetricValues {
			switch i {
			case 0:
				row.Sessions, _ = strconv.ParseInt(mv.Value, 10, 64)
			case 1:
				row.ActiveUsers, _ = strconv.ParseInt(mv.Value, 10, 64)
			case 2:
				row.PageViews, _ = strconv.ParseInt(mv.Value, 10, 64)
			case 3:
				row.BounceRate, _ = strconv.ParseFloat(mv.Value, 64)
			}
		}
		rows = append(rows, row)
	}

	count := report.RowCount
	if count == 0 {
		count = len(rows)
	}
	return &models.AnalyticsData{
		PropertyID: propertyID,
		DateRange:  dateRange,
		Rows:       rows,
		RowCount:   count,
		FetchedAt:  time.Now(),
	}
}

// accountSummaries wire shape (Admin API v1beta subset).
type accountSummariesResponse struct {
	AccountSummaries []struct {
		PropertySummaries []struct {
			Property    string `json:"property"` // "properties/123456"
			DisplayName string `json:"displayName"`
		} `json:"propertySummaries"`
	} `json:"accountSummaries"`
	NextPageToken string `json:"nextPageToken"`
}

// ListProperties enumerates all properties visible to the token, following
// pagination.
func (c *Client) ListProperties(ctx context.Context, accessToken string) ([]models.Property, error) {
	var properties []models.Property
	pageToken := ""

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		url := c.adminBaseURL + "/v1beta/accountSummaries?pageSize=200"
		if pageToken != "" {
			url += "&pageToken=" + pageToken
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
		if err != nil {
			return nil, fmt.Errorf("creating accountSummaries request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("accountSummaries request failed: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			err := statusError("accountSummaries", resp)
			_ = resp.Body.Close()
			return nil, err
		}

		var page accountSummariesResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&page)
		_ = resp.Body.Close()
		if decodeErr != nil {
			return nil, fmt.Errorf("decoding accountSummaries response: %w", decodeErr)
		}

		for _, account := range page.AccountSummaries {
			for _, p := range account.PropertySummaries {
				properties = append(properties, models.Property{
					ID:          trimPropertyPrefix(p.Property),
					DisplayName: p.DisplayName,
				})
			}
		}

		if page.NextPageToken == "" {
			return properties, nil
		}
		pageToken = page.NextPageToken
	}
}

func trimPropertyPrefix(resourceName string) string {
	const prefix = "properties/"
	if len(resourceName) > len(prefix) && resourceName[:len(prefix)] == prefix {
		return resourceName[len(prefix):]
	}
	return resourceName
}

// statusError renders a non-200 response as an error whose message carries
// the indicators the classifier keys on (status code plus a category word).
func statusError(op string, resp *http.Response) error {
	body := readBodyForError(resp.Body)
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s: unauthorized (HTTP %d): %s", op, resp.StatusCode, body)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%s: rate limit exceeded (HTTP 429): %s", op, body)
	case http.StatusBadRequest:
		return fmt.Errorf("%s: invalid request (HTTP 400): %s", op, body)
	default:
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%s: upstream unavailable (HTTP %d): %s", op, resp.StatusCode, body)
		}
		return fmt.Errorf("%s: upstream returned %d: %s", op, resp.StatusCode, body)
	}
}

// readBodyForError reads at most maxErrorBodySize bytes of the body for
// inclusion in an error message.
func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	return body
}
