// MetricDeck - Analytics Property Dashboard and Sync Engine
// Copyright 2026 MetricDeck Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricdeck/metricdeck

package ga

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/metricdeck/metricdeck/internal/logging"
	"github.com/metricdeck/metricdeck/internal/metrics"
	"github.com/metricdeck/metricdeck/internal/models"
)

// BreakerClient wraps an upstream Fetcher/Lister with a circuit breaker so a
// broken or slow GA backend sheds load quickly instead of tying up every sync
// worker in timeouts.
//
// The breaker uses real time (via sony/gobreaker) for its interval and
// timeout calculations. Tests exercise the wrapped client directly or drive
// the breaker through its fallbacks.
type BreakerClient struct {
	client interface {
		Fetcher
		Lister
	}
	cb   *gobreaker.CircuitBreaker[any]
	name string
}

// NewBreakerClient wraps client with a circuit breaker. Configuration:
// - Max 3 concurrent requests in half-open state
// - 1 minute measurement window
// - 2 minute timeout before attempting recovery
// - Opens after 60% failure rate with minimum 10 requests
func NewBreakerClient(client *Client) *BreakerClient {
	cbName := "ga-api"

	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0) // 0 = closed

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			if failureRatio >= 0.6 {
				logging.Warn().
					Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", failureRatio*100).
					Msg("[CIRCUIT BREAKER] Opening circuit")
				return true
			}
			return false
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)
			logging.Info().Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] State transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})

	return &BreakerClient{client: client, cb: cb, name: cbName}
}

// execute runs one upstream call through the breaker and records the outcome.
func (b *BreakerClient) execute(fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
			logging.Warn().Err(err).Msg("[CIRCUIT BREAKER] Request rejected")
		} else {
			metrics.CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()
		}
		return nil, err
	}
	metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
	return result, nil
}

// FetchReport runs a report fetch through the breaker.
func (b *BreakerClient) FetchReport(ctx context.Context, accessToken, propertyID string, dateRange models.DateRange) (*models.AnalyticsData, error) {
	result, err := b.execute(func() (any, error) {
		return b.client.FetchReport(ctx, accessToken, propertyID, dateRange)
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.AnalyticsData), nil
}

// ListProperties runs a property listing through the breaker.
func (b *BreakerClient) ListProperties(ctx context.Context, accessToken string) ([]models.Property, error) {
	result, err := b.execute(func() (any, error) {
		return b.client.ListProperties(ctx, accessToken)
	})
	if err != nil {
		return nil, err
	}
	return result.([]models.Property), nil
}

// State returns the breaker's current state name for status reporting.
func (b *BreakerClient) State() string {
	return stateToString(b.cb.State())
}

func stateToString(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
