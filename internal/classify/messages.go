// MetricDeck - Analytics Property Dashboard and Sync Engine
// Copyright 2026 MetricDeck Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metricdeck/metricdeck

package classify

// Message is the user-facing presentation of a classified failure.
type Message struct {
	Text        string   `json:"message"`
	Suggestions []string `json:"suggestions"`
	CanRetry    bool     `json:"canRetry"`
}

// userMessages is the static presentation table keyed by error type.
// Every retryable type carries at least one actionable suggestion.
var userMessages = map[Type]Message{
	TypeNetwork: {
		Text: "Could not reach Google Analytics.",
		Suggestions: []string{
			"Check your internet connection.",
			"Retry in a few seconds.",
		},
		CanRetry: true,
	},
	TypeAuthentication: {
		Text: "Your Google Analytics session is no longer valid.",
		Suggestions: []string{
			"Sign in again to refresh your access.",
			"Confirm the account has access to this property.",
		},
		CanRetry: false,
	},
	TypeTimeout: {
		Text: "Google Analytics took too long to respond.",
		Suggestions: []string{
			"Retry the request.",
			"Narrow the date range to reduce the report size.",
		},
		CanRetry: true,
	},
	TypeRateLimit: {
		Text: "Google Analytics is throttling requests for this property.",
		Suggestions: []string{
			"Wait a minute before retrying.",
			"Reduce the auto-sync frequency.",
		},
		CanRetry: true,
	},
	TypeValidation: {
		Text: "The request was rejected as invalid.",
		Suggestions: []string{
			"Check the property ID and date range.",
		},
		CanRetry: false,
	},
	TypeUnknown: {
		Text: "Something went wrong while fetching analytics data.",
		Suggestions: []string{
			"Try again; contact support if the problem persists.",
		},
		CanRetry: false,
	},
}

// UserMessage returns the presentation for a classified failure. A nil
// classification maps to the unknown entry.
func UserMessage(c *Classified) Message {
	if c == nil {
		return userMessages[TypeUnknown]
	}
	if m, ok := userMessages[c.Type]; ok {
		return m
	}
	return userMessages[TypeUnknown]
}
