// MetricDeck - Analytics Property Dashboard and Sync Engine
// Copyright 2026 MetricDeck Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricdeck/metricdeck

package logging

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// Slog returns an *slog.Logger backed by the global zerolog logger. It exists
// for libraries that speak slog, such as the suture event hook.
func Slog() *slog.Logger {
	return slog.New(&zerologHandler{logger: Logger()})
}

// zerologHandler forwards slog records to zerolog.
type zerologHandler struct {
	logger zerolog.Logger
	attrs  []slog.Attr
	group  string
}

func (h *zerologHandler) Enabled(_ context.Context, level slog.Level) bool {
	return levelToZerolog(level) >= zerolog.GlobalLevel()
}

func (h *zerologHandler) Handle(_ context.Context, rec slog.Record) error {
	ev := h.logger.WithLevel(levelToZerolog(rec.Level))
	for _, a := range h.attrs {
		ev = appendAttr(ev, h.group, a)
	}
	rec.Attrs(func(a slog.Attr) bool {
		ev = appendAttr(ev, h.group, a)
		return true
	})
	ev.Msg(rec.Message)
	return nil
}

func (h *zerologHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &zerologHandler{logger: h.logger, attrs: merged, group: h.group}
}

func (h *zerologHandler) WithGroup(name string) slog.Handler {
	prefix := name
	if h.group != "" {
		prefix = h.group + "." + name
	}
	return &zerologHandler{logger: h.logger, attrs: h.attrs, group: prefix}
}

func appendAttr(ev *zerolog.Event, group string, a slog.Attr) *zerolog.Event {
	key := a.Key
	if group != "" {
		key = group + "." + key
	}
	return ev.Interface(key, a.Value.Any())
}

func levelToZerolog(level slog.Level) zerolog.Level {
	switch {
	case level >= slog.LevelError:
		return zerolog.ErrorLevel
	case level >= slog.LevelWarn:
		return zerolog.WarnLevel
	case level >= slog.LevelInfo:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}
