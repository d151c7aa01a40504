//
// Tencent is pleased to support the open source community by making trpc-agent-core available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-core is licensed under the Apache License Version 2.0.
//
//

// Package overflow detects context-window overflow from provider errors and
// shrinks oversized tool output to fit the window.
package overflow

import (
	"regexp"
	"strings"
)

// Classification is the overflow verdict for one provider error message.
type Classification struct {
	// Definite means the message matched a known provider overflow phrase.
	// Trust it for an automatic truncate-and-retry cycle.
	Definite bool

	// Likely means a broader heuristic matched. Gate a single retry on it,
	// never a loop.
	Likely bool
}

// ShouldRetry reports whether one truncation-and-retry cycle is warranted.
func (c Classification) ShouldRetry() bool {
	return c.Definite || c.Likely
}

// definitePhrases are overflow strings providers are known to emit.
var definitePhrases = []string{
	"context_length_exceeded",
	"context length exceeded",
	"maximum context length",
	"prompt is too long",
	"input is too long",
	"exceeds the maximum number of tokens",
	"input token count exceeds",
	"context window exceeded",
}

// falsePositivePhrases mark errors that mention limits without being
// overflow: rate limiting, quota, billing, and auth failures.
var falsePositivePhrases = []string{
	"rate limit",
	"rate_limit",
	"ratelimit",
	"quota",
	"billing",
	"authentication",
	"unauthorized",
	"api key",
	"permission denied",
}

var likelyPattern = regexp.MustCompile(
	`(?i)(context|prompt|input|token)s?[^.]{0,60}?(too long|too large|exceed|maximum|limit)`)

// Classify inspects a provider error message and reports whether it signals
// context-window overflow. False-positive phrases are checked first, so a
// rate-limit error mentioning "limit" classifies as neither definite nor
// likely.
func Classify(errorMessage string) Classification {
	lower := strings.ToLower(errorMessage)
	for _, phrase := range falsePositivePhrases {
		if strings.Contains(lower, phrase) {
			return Classification{}
		}
	}
	for _, phrase := range definitePhrases {
		if strings.Contains(lower, phrase) {
			return Classification{Definite: true, Likely: true}
		}
	}
	if likelyPattern.MatchString(errorMessage) {
		return Classification{Likely: true}
	}
	return Classification{}
}
