//
// Tencent is pleased to support the open source community by making trpc-agent-core available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-core is licensed under the Apache License Version 2.0.
//
//

// Package promptcache places provider cache markers on the conversation log.
//
// Providers reuse cached prefix computation when the request carries cache
// markers. Marker styles differ per provider family: some take an inline
// hint on an existing text block, others take a dedicated cache-point block
// inserted as a sibling. Both styles share one backward-pass algorithm here,
// parametrized by Placement.
package promptcache

import (
	"trpc.group/trpc-go/trpc-agent-core/model"
)

// Placement selects the marker style of the target provider family.
type Placement string

const (
	// PlacementInline annotates the last text block of the last two
	// user messages with an ephemeral cache hint.
	PlacementInline Placement = "inline"

	// PlacementSibling inserts a cache-point block after the last
	// non-empty text block of the last two non-tool messages, appending
	// one when the message has no text block.
	PlacementSibling Placement = "sibling"
)

// maxFreshMarkers bounds cache invalidation cost per provider call.
const maxFreshMarkers = 2

// Inject returns a log with fresh cache markers on the newest eligible
// messages and every stale marker removed, in one backward pass. Calling it
// again on its own output yields the same placement, and it removes the
// other placement's markers as well, so switching providers mid-conversation
// needs no extra strip step.
//
// Only messages that change are cloned; untouched messages are shared with
// the input.
func Inject(messages []model.Message, placement Placement) []model.Message {
	result := make([]model.Message, len(messages))
	copy(result, messages)

	marked := 0
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		stale := hasMarker(msg)
		if !stale && (marked >= maxFreshMarkers || !eligible(msg, placement)) {
			continue
		}

		clone := msg.Clone()
		stripMarkers(&clone)
		if marked < maxFreshMarkers && eligible(clone, placement) && applyMarker(&clone, placement) {
			marked++
		} else if !stale {
			// Nothing stripped and nothing applied: keep the shared copy.
			continue
		}
		result[i] = clone
	}
	return result
}

// Strip returns a log with every cache marker of either placement removed.
// Messages without markers are shared with the input.
func Strip(messages []model.Message) []model.Message {
	result := make([]model.Message, len(messages))
	copy(result, messages)
	for i, msg := range messages {
		if !hasMarker(msg) {
			continue
		}
		clone := msg.Clone()
		stripMarkers(&clone)
		result[i] = clone
	}
	return result
}

// eligible reports whether a message may receive a fresh marker.
func eligible(msg model.Message, placement Placement) bool {
	switch placement {
	case PlacementSibling:
		return msg.Role != model.RoleTool && (hasText(msg) || len(msg.ToolCalls) > 0)
	default:
		return msg.Role == model.RoleUser && hasText(msg)
	}
}

func hasText(msg model.Message) bool {
	if msg.Content != "" {
		return true
	}
	for _, part := range msg.ContentParts {
		if part.Type == model.ContentTypeText && part.Text != nil && *part.Text != "" {
			return true
		}
	}
	return false
}

func hasMarker(msg model.Message) bool {
	for _, part := range msg.ContentParts {
		if part.Type == model.ContentTypeCachePoint || part.CacheControl != nil {
			return true
		}
	}
	return false
}

// stripMarkers removes cache-point blocks and inline cache hints in place.
func stripMarkers(msg *model.Message) {
	if len(msg.ContentParts) == 0 {
		return
	}
	parts := msg.ContentParts[:0]
	for _, part := range msg.ContentParts {
		if part.Type == model.ContentTypeCachePoint {
			continue
		}
		part.CacheControl = nil
		parts = append(parts, part)
	}
	msg.ContentParts = parts
}

// applyMarker places one fresh marker on the message and reports whether it
// succeeded. Plain string content is promoted to a single text block first,
// so the marker has a block to attach to.
func applyMarker(msg *model.Message, placement Placement) bool {
	if len(msg.ContentParts) == 0 && msg.Content != "" {
		msg.ContentParts = []model.ContentPart{model.NewTextPart(msg.Content)}
		msg.Content = ""
	}

	if placement == PlacementSibling {
		at := len(msg.ContentParts)
		for i := len(msg.ContentParts) - 1; i >= 0; i-- {
			part := msg.ContentParts[i]
			if part.Type == model.ContentTypeText && part.Text != nil && *part.Text != "" {
				at = i + 1
				break
			}
		}
		marker := model.NewCachePointPart()
		msg.ContentParts = append(msg.ContentParts[:at],
			append([]model.ContentPart{marker}, msg.ContentParts[at:]...)...)
		return true
	}

	for i := len(msg.ContentParts) - 1; i >= 0; i-- {
		if msg.ContentParts[i].Type == model.ContentTypeText {
			msg.ContentParts[i].CacheControl = &model.CacheControl{Type: model.CacheControlEphemeral}
			return true
		}
	}
	return false
}
