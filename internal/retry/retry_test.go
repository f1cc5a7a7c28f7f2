// MetricDeck - Analytics Property Dashboard and Sync Engine
// Copyright 2026 MetricDeck Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricdeck/metricdeck

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/metricdeck/metricdeck/internal/classify"
)

// fastPolicy keeps test backoffs in the low milliseconds.
func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		Multiplier:  2,
		Jitter:      time.Millisecond,
		MaxDelay:    50 * time.Millisecond,
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), "test", fastPolicy(3), func(context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" {
		t.Errorf("got %q, want %q", got, "ok")
	}
	if calls != 1 {
		t.Errorf("operation invoked %d times, want 1", calls)
	}
}

func TestDoRetriesThenSucceeds(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), "test", fastPolicy(3), func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("connection refused")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Errorf("got %d, want 42", got)
	}
	if calls != 3 {
		t.Errorf("operation invoked %d times, want 3", calls)
	}
}

func TestDoNonRetryableFailsImmediately(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), "test", fastPolicy(3), func(context.Context) (string, error) {
		calls++
		return "", errors.New("HTTP 401 unauthorized")
	})
	if calls != 1 {
		t.Errorf("non-retryable failure invoked operation %d times, want 1", calls)
	}

	var c *classify.Classified
	if !errors.As(err, &c) {
		t.Fatal("error should be a *classify.Classified")
	}
	if c.Type != classify.TypeAuthentication {
		t.Errorf("error type = %s, want %s", c.Type, classify.TypeAuthentication)
	}
}

func TestDoExhaustsBudget(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), "test", fastPolicy(4), func(context.Context) (string, error) {
		calls++
		return "", errors.New("rate limit exceeded")
	})
	if calls != 4 {
		t.Errorf("operation invoked %d times, want maxAttempts=4", calls)
	}

	var c *classify.Classified
	if !errors.As(err, &c) {
		t.Fatal("error should be a *classify.Classified")
	}
	if c.Type != classify.TypeRateLimit {
		t.Errorf("error type = %s, want %s", c.Type, classify.TypeRateLimit)
	}
}

func TestDoContextCanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := Policy{MaxAttempts: 5, BaseDelay: time.Hour, Multiplier: 2, MaxDelay: time.Hour}

	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, "test", p, func(context.Context) (string, error) {
			calls++
			return "", errors.New("network unreachable")
		})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error after cancellation")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after context cancellation")
	}
	if calls != 1 {
		t.Errorf("operation invoked %d times before cancellation, want 1", calls)
	}
}

func TestDoContextAlreadyCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := Do(ctx, "test", fastPolicy(3), func(context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	if err == nil {
		t.Fatal("expected error for pre-canceled context")
	}
	if calls != 0 {
		t.Errorf("operation invoked %d times with canceled context, want 0", calls)
	}
}

func TestPolicyDelayGrowth(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second}.withDefaults()

	d1 := p.delay(1)
	if d1 != 100*time.Millisecond {
		t.Errorf("delay(1) = %v, want 100ms", d1)
	}
	d3 := p.delay(3)
	if d3 != 400*time.Millisecond {
		t.Errorf("delay(3) = %v, want 400ms", d3)
	}
	// Past the cap.
	if d := p.delay(10); d != time.Second {
		t.Errorf("delay(10) = %v, want cap of 1s", d)
	}
}

func TestPolicyDelayJitterBounded(t *testing.T) {
	p := Policy{BaseDelay: 10 * time.Millisecond, Multiplier: 2, Jitter: 5 * time.Millisecond, MaxDelay: time.Second}
	for i := 0; i < 100; i++ {
		d := p.delay(1)
		if d < 10*time.Millisecond || d >= 15*time.Millisecond {
			t.Fatalf("jittered delay %v outside [10ms, 15ms)", d)
		}
	}
}

func TestPolicyWithDefaults(t *testing.T) {
	p := Policy{}.withDefaults()
	d := DefaultPolicy()
	if p.MaxAttempts != d.MaxAttempts || p.BaseDelay != d.BaseDelay || p.Multiplier != d.Multiplier || p.MaxDelay != d.MaxDelay {
		t.Errorf("zero policy should pick up defaults, got %+v", p)
	}
}
