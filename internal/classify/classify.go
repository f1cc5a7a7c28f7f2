// MetricDeck - Analytics Property Dashboard and Sync Engine
// Copyright 2026 MetricDeck Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricdeck/metricdeck

// Package classify maps arbitrary failures from the upstream analytics
// provider into a small typed taxonomy with a retryability verdict.
//
// Classification is deterministic and side-effect free: the retry engine and
// the API layer both rely on the same verdict for the same error. The
// retryable flag is a pure function of the error type - authentication and
// validation failures are never retried, transient transport failures always
// are, and anything unrecognized fails safe as non-retryable.
package classify

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/metricdeck/metricdeck/internal/models"
)

// Type is the error category assigned by Classify.
type Type string

const (
	TypeNetwork        Type = "network"
	TypeAuthentication Type = "authentication"
	TypeTimeout        Type = "timeout"
	TypeRateLimit      Type = "rateLimit"
	TypeValidation     Type = "validation"
	TypeUnknown        Type = "unknown"
)

// Retryable reports whether failures of this type may be retried.
// Unknown failures are not retried: blindly retrying an unrecognized error
// can loop forever against a permanently broken upstream.
func (t Type) Retryable() bool {
	switch t {
	case TypeNetwork, TypeTimeout, TypeRateLimit:
		return true
	default:
		return false
	}
}

// Classified is a failure annotated with its category. It wraps the original
// error and satisfies the error interface, so it travels through normal error
// returns and errors.As extraction.
type Classified struct {
	Type            Type
	Retryable       bool
	OriginalMessage string
	cause           error
}

func (c *Classified) Error() string {
	return string(c.Type) + ": " + c.OriginalMessage
}

// Unwrap exposes the original error for errors.Is/errors.As chains.
func (c *Classified) Unwrap() error {
	return c.cause
}

// Detail converts the classification to its wire representation.
func (c *Classified) Detail() *models.ErrorDetail {
	return &models.ErrorDetail{
		Type:      string(c.Type),
		Message:   c.OriginalMessage,
		Retryable: c.Retryable,
	}
}

// indicator tables checked in order; first match wins. Authentication is
// checked before network so "fetch failed: 401 unauthorized" classifies as
// an auth failure rather than a transport one.
var (
	authIndicators      = []string{"unauthorized", "authentication", "invalid credentials", "401", "403", "permission denied", "token expired"}
	rateLimitIndicators = []string{"rate limit", "429", "quota", "too many requests"}
	timeoutIndicators   = []string{"timeout", "timed out", "deadline exceeded"}
	networkIndicators   = []string{"network", "connection", "fetch failed", "no such host", "broken pipe", "refused", "reset by peer", "unavailable", "502", "503", "504"}
	validateIndicators  = []string{"validation", "invalid request", "malformed", "bad request", "400"}
)

// Classify assigns a type to err. Already-classified errors pass through
// unchanged so repeated classification is idempotent.
func Classify(err error) *Classified {
	if err == nil {
		return nil
	}

	var already *Classified
	if errors.As(err, &already) {
		return already
	}

	t := typeOf(err)
	return &Classified{
		Type:            t,
		Retryable:       t.Retryable(),
		OriginalMessage: err.Error(),
		cause:           err,
	}
}

func typeOf(err error) Type {
	// Sentinel and net-level checks first: these are more reliable than
	// message text.
	if errors.Is(err, context.DeadlineExceeded) {
		return TypeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return TypeTimeout
		}
		return TypeNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case matchAny(msg, authIndicators):
		return TypeAuthentication
	case matchAny(msg, rateLimitIndicators):
		return TypeRateLimit
	case matchAny(msg, timeoutIndicators):
		return TypeTimeout
	case matchAny(msg, networkIndicators):
		return TypeNetwork
	case matchAny(msg, validateIndicators):
		return TypeValidation
	}
	return TypeUnknown
}

func matchAny(msg string, indicators []string) bool {
	for _, s := range indicators {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
