// MetricDeck - Analytics Property Dashboard and Sync Engine
// Copyright 2026 MetricDeck Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricdeck/metricdeck

// Package retry executes operations under a bounded retry policy with
// exponential backoff and jitter.
//
// The engine consults the error classifier after every failure: retryable
// failures (network, timeout, rate limit) are absorbed silently until the
// attempt budget runs out, non-retryable ones (authentication, validation,
// unknown) surface immediately after a single attempt. Backoff waits are
// local to the calling goroutine and cancellable through the context, so
// concurrent retry loops never block each other.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/metricdeck/metricdeck/internal/classify"
	"github.com/metricdeck/metricdeck/internal/logging"
	"github.com/metricdeck/metricdeck/internal/metrics"
)

// Policy configures one retry loop. The zero value is usable: zero fields
// fall back to the defaults below.
type Policy struct {
	// MaxAttempts is the total number of invocations, including the first.
	MaxAttempts int

	// BaseDelay is the wait before the second attempt.
	BaseDelay time.Duration

	// Multiplier scales the delay per attempt (exponential backoff).
	Multiplier float64

	// Jitter is the upper bound of the random addition to each delay.
	Jitter time.Duration

	// MaxDelay caps a single backoff wait.
	MaxDelay time.Duration
}

// DefaultPolicy returns the standard policy: 3 attempts, 500ms base delay
// doubling per attempt, up to 250ms of jitter, 30s cap.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		Multiplier:  2,
		Jitter:      250 * time.Millisecond,
		MaxDelay:    30 * time.Second,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	return p
}

// delay computes the backoff before attempt+1 (attempt is 1-based).
func (p Policy) delay(attempt int) time.Duration {
	d := time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1)))
	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	if p.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(p.Jitter)))
	}
	return d
}

// Do invokes fn until it succeeds, fails non-retryably, or exhausts the
// attempt budget. The returned error on failure is always a
// *classify.Classified matching the last failure.
//
// The operation name labels retry metrics and log lines; it carries no
// behavior.
func Do[T any](ctx context.Context, operation string, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	p = p.withDefaults()

	var last *classify.Classified
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, classify.Classify(err)
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		last = classify.Classify(err)
		if !last.Retryable {
			logging.Debug().
				Str("operation", operation).
				Str("error_type", string(last.Type)).
				Msg("failure is not retryable, giving up")
			return zero, last
		}

		if attempt == p.MaxAttempts {
			break
		}

		wait := p.delay(attempt)
		metrics.RecordRetry(operation, string(last.Type))
		logging.Warn().
			Str("operation", operation).
			Str("error_type", string(last.Type)).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("retryable failure, backing off")

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return zero, classify.Classify(ctx.Err())
		}
	}

	metrics.RetryExhausted.WithLabelValues(operation).Inc()
	logging.Warn().
		Str("operation", operation).
		Str("error_type", string(last.Type)).
		Int("attempts", p.MaxAttempts).
		Msg("retry budget exhausted")
	return zero, last
}
