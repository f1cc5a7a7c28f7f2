// MetricDeck - Analytics Property Dashboard and Sync Engine
// Copyright 2026 MetricDeck Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricdeck/metricdeck

package models

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateRange is an inclusive start/end window. Both bounds accept the GA4
// report formats: absolute YYYY-MM-DD, relative NdaysAgo, "today" and
// "yesterday".
type DateRange struct {
	StartDate string `json:"startDate" validate:"required,garange"`
	EndDate   string `json:"endDate" validate:"required,garange"`
}

var (
	absoluteDateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	relativeDateRe = regexp.MustCompile(`^(\d+)daysAgo$`)
)

// ValidDateExpr reports whether s is one of the accepted date expressions.
func ValidDateExpr(s string) bool {
	switch {
	case s == "today", s == "yesterday":
		return true
	case relativeDateRe.MatchString(s):
		return true
	case absoluteDateRe.MatchString(s):
		_, err := time.Parse("2006-01-02", s)
		return err == nil
	}
	return false
}

// Validate checks both bounds of the range.
func (r DateRange) Validate() error {
	if !ValidDateExpr(r.StartDate) {
		return fmt.Errorf("invalid start date %q", r.StartDate)
	}
	if !ValidDateExpr(r.EndDate) {
		return fmt.Errorf("invalid end date %q", r.EndDate)
	}
	// ISO dates order lexicographically; relative expressions are resolved
	// upstream and not comparable here.
	if absoluteDateRe.MatchString(r.StartDate) && absoluteDateRe.MatchString(r.EndDate) && r.StartDate > r.EndDate {
		return fmt.Errorf("start date %q after end date %q", r.StartDate, r.EndDate)
	}
	return nil
}

// Resolve converts a date expression to an absolute date relative to now.
// Absolute expressions pass through unchanged.
func Resolve(expr string, now time.Time) string {
	switch {
	case expr == "today":
		return now.Format("2006-01-02")
	case expr == "yesterday":
		return now.AddDate(0, 0, -1).Format("2006-01-02")
	case relativeDateRe.MatchString(expr):
		m := relativeDateRe.FindStringSubmatch(expr)
		n, _ := strconv.Atoi(m[1])
		return now.AddDate(0, 0, -n).Format("2006-01-02")
	}
	return expr
}

// String renders the range as "start..end", used in cache keys and logs.
func (r DateRange) String() string {
	var b strings.Builder
	b.WriteString(r.StartDate)
	b.WriteString("..")
	b.WriteString(r.EndDate)
	return b.String()
}
