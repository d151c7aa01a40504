//
// Tencent is pleased to support the open source community by making trpc-agent-core available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-core is licensed under the Apache License Version 2.0.
//
//

package overflow

import (
	"fmt"
	"strings"
)

const (
	// approxCharsPerToken is the character estimate behind the tool-result
	// budget. Counting real tokens here would need a provider round trip.
	approxCharsPerToken = 4

	// toolResultSharePercent is the share of the estimated character budget
	// granted to a single tool result.
	toolResultSharePercent = 30

	// maxToolResultCeiling caps the tool-result budget for very large
	// context windows.
	maxToolResultCeiling = 100_000

	// minSplitBudget is the smallest budget worth splitting into head and
	// tail. Below it truncation keeps the head only.
	minSplitBudget = 200

	// headSharePercent splits the available budget between head and tail.
	headSharePercent = 70

	// newlineSnapRadius is how far a cut point may move to land after a
	// newline.
	newlineSnapRadius = 200
)

// MaxToolResultChars returns the character budget for one tool result given
// the model's context window in tokens. Unknown windows (<= 0) get the
// absolute ceiling.
func MaxToolResultChars(contextWindowTokens int) int {
	if contextWindowTokens <= 0 {
		return maxToolResultCeiling
	}
	budget := contextWindowTokens * approxCharsPerToken * toolResultSharePercent / 100
	if budget > maxToolResultCeiling {
		budget = maxToolResultCeiling
	}
	return budget
}

// TruncateToolResult shrinks content to at most budget characters, keeping
// roughly 70% head and 30% tail around a marker that states the original and
// retained sizes. Cut points move up to newlineSnapRadius characters to land
// after a newline, keeping structured output readable. Budgets below
// minSplitBudget keep the head only.
func TruncateToolResult(content string, budget int) string {
	if budget <= 0 {
		return ""
	}
	if len(content) <= budget {
		return content
	}
	if budget < minSplitBudget {
		return content[:budget]
	}

	// Reserve marker space using the worst-case digit count.
	reserve := len(truncationMarker(len(content), len(content)))
	available := budget - reserve
	if available < minSplitBudget {
		return content[:budget]
	}

	head := available * headSharePercent / 100
	tail := available - head

	headEnd := snapBack(content, head)
	tailStart := snapForward(content, len(content)-tail)

	kept := headEnd + (len(content) - tailStart)
	return content[:headEnd] + truncationMarker(kept, len(content)) + content[tailStart:]
}

func truncationMarker(kept, original int) string {
	return fmt.Sprintf("\n[... output truncated: kept %d of %d chars ...]\n", kept, original)
}

// snapBack moves the cut left onto the position after the nearest newline
// within the snap radius, or keeps it unchanged.
func snapBack(content string, cut int) int {
	lo := cut - newlineSnapRadius
	if lo < 0 {
		lo = 0
	}
	if idx := strings.LastIndexByte(content[lo:cut], '\n'); idx >= 0 {
		return lo + idx + 1
	}
	return cut
}

// snapForward moves the cut right onto the position after the nearest
// newline within the snap radius, or keeps it unchanged.
func snapForward(content string, cut int) int {
	hi := cut + newlineSnapRadius
	if hi > len(content) {
		hi = len(content)
	}
	if idx := strings.IndexByte(content[cut:hi], '\n'); idx >= 0 {
		return cut + idx + 1
	}
	return cut
}
