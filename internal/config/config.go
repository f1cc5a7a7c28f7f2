// MetricDeck - Analytics Property Dashboard and Sync Engine
// Copyright 2026 MetricDeck Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricdeck/metricdeck

// Package config loads the service configuration with layered sources:
// built-in defaults, an optional YAML file, then MD_-prefixed environment
// variables. Precedence: ENV > file > defaults.
package config

import (
	"fmt"
	"time"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	GA       GAConfig       `koanf:"ga"`
	Sync     SyncConfig     `koanf:"sync"`
	Security SecurityConfig `koanf:"security"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Timeout         time.Duration `koanf:"timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GAConfig configures the upstream Google Analytics client.
type GAConfig struct {
	DataURL           string        `koanf:"data_url"`
	AdminURL          string        `koanf:"admin_url"`
	Timeout           time.Duration `koanf:"timeout"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
}

// SyncConfig configures the sync engine: cache staleness, auto-sync cadence,
// batch concurrency and the retry policy for upstream fetches.
type SyncConfig struct {
	CacheTTL    time.Duration `koanf:"cache_ttl"`
	Interval    time.Duration `koanf:"interval"`
	Concurrency int           `koanf:"concurrency"`
	Retry       RetryConfig   `koanf:"retry"`
}

// RetryConfig mirrors the retry engine's policy knobs.
type RetryConfig struct {
	MaxAttempts int           `koanf:"max_attempts"`
	BaseDelay   time.Duration `koanf:"base_delay"`
	Multiplier  float64       `koanf:"multiplier"`
	Jitter      time.Duration `koanf:"jitter"`
	MaxDelay    time.Duration `koanf:"max_delay"`
}

// SecurityConfig configures API rate limiting and CORS.
type SecurityConfig struct {
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns the built-in defaults, applied before file and env
// layers.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8480,
			Timeout:         30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		GA: GAConfig{
			DataURL:           "https://analyticsdata.googleapis.com",
			AdminURL:          "https://analyticsadmin.googleapis.com",
			Timeout:           30 * time.Second,
			RequestsPerSecond: 10,
		},
		Sync: SyncConfig{
			CacheTTL:    5 * time.Minute,
			Interval:    60 * time.Second,
			Concurrency: 4,
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   500 * time.Millisecond,
				Multiplier:  2,
				Jitter:      250 * time.Millisecond,
				MaxDelay:    30 * time.Second,
			},
		},
		Security: SecurityConfig{
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.GA.DataURL == "" || c.GA.AdminURL == "" {
		return fmt.Errorf("ga.data_url and ga.admin_url must be set")
	}
	if c.GA.RequestsPerSecond <= 0 {
		return fmt.Errorf("ga.requests_per_second must be positive, got %v", c.GA.RequestsPerSecond)
	}
	if c.Sync.CacheTTL <= 0 {
		return fmt.Errorf("sync.cache_ttl must be positive, got %v", c.Sync.CacheTTL)
	}
	if c.Sync.Interval < time.Second {
		return fmt.Errorf("sync.interval %v below 1s floor", c.Sync.Interval)
	}
	if c.Sync.Concurrency < 1 {
		return fmt.Errorf("sync.concurrency must be at least 1, got %d", c.Sync.Concurrency)
	}
	if c.Sync.Retry.MaxAttempts < 1 {
		return fmt.Errorf("sync.retry.max_attempts must be at least 1, got %d", c.Sync.Retry.MaxAttempts)
	}
	if c.Sync.Retry.Multiplier < 1 {
		return fmt.Errorf("sync.retry.multiplier must be >= 1, got %v", c.Sync.Retry.Multiplier)
	}
	if !c.Security.RateLimitDisabled {
		if c.Security.RateLimitReqs < 1 {
			return fmt.Errorf("security.rate_limit_reqs must be at least 1, got %d", c.Security.RateLimitReqs)
		}
		if c.Security.RateLimitWindow <= 0 {
			return fmt.Errorf("security.rate_limit_window must be positive, got %v", c.Security.RateLimitWindow)
		}
	}
	return nil
}
