//
// Tencent is pleased to support the open source community by making trpc-agent-core available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-core is licensed under the Apache License Version 2.0.
//
//

package promptcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-agent-core/model"
)

func countMarkers(messages []model.Message) int {
	count := 0
	for _, msg := range messages {
		if hasMarker(msg) {
			count++
		}
	}
	return count
}

func TestInjectInlineMarksLastTwoUserMessages(t *testing.T) {
	log := []model.Message{
		model.NewUserMessage("first question"),
		model.NewAssistantMessage("first answer"),
		model.NewUserMessage("second question"),
		model.NewAssistantMessage("second answer"),
		model.NewUserMessage("third question"),
	}

	result := Inject(log, PlacementInline)
	require.Len(t, result, len(log))

	assert.False(t, hasMarker(result[0]), "oldest user message stays unmarked")
	assert.False(t, hasMarker(result[1]))
	assert.True(t, hasMarker(result[2]))
	assert.False(t, hasMarker(result[3]), "assistant messages are not inline targets")
	assert.True(t, hasMarker(result[4]))

	// Plain content is promoted to a text block carrying the hint.
	require.Len(t, result[4].ContentParts, 1)
	part := result[4].ContentParts[0]
	assert.Equal(t, model.ContentTypeText, part.Type)
	require.NotNil(t, part.Text)
	assert.Equal(t, "third question", *part.Text)
	require.NotNil(t, part.CacheControl)
	assert.Equal(t, model.CacheControlEphemeral, part.CacheControl.Type)
	assert.Empty(t, result[4].Content, "promoted content moves into the block")
}

func TestInjectInlineMarksLastTextBlockOnly(t *testing.T) {
	log := []model.Message{
		{
			Role: model.RoleUser,
			ContentParts: []model.ContentPart{
				model.NewTextPart("part one"),
				model.NewTextPart("part two"),
			},
		},
	}

	result := Inject(log, PlacementInline)
	require.Len(t, result[0].ContentParts, 2)
	assert.Nil(t, result[0].ContentParts[0].CacheControl)
	require.NotNil(t, result[0].ContentParts[1].CacheControl)
}

func TestInjectSiblingTargetsNonToolMessages(t *testing.T) {
	callMsg := model.Message{
		Role: model.RoleAssistant,
		ToolCalls: []model.ToolCall{
			{ID: "call-1", Type: "function", Function: model.FunctionDefinitionParam{Name: "search"}},
		},
	}
	log := []model.Message{
		model.NewUserMessage("question"),
		callMsg,
		model.NewToolMessage("call-1", "result payload"),
		model.NewAssistantMessage("answer"),
	}

	result := Inject(log, PlacementSibling)

	assert.False(t, hasMarker(result[0]), "only the newest two eligible messages are marked")
	assert.True(t, hasMarker(result[1]), "tool-call message takes a cache point")
	assert.False(t, hasMarker(result[2]), "tool results are never marked")
	assert.True(t, hasMarker(result[3]))

	// The text message gets the cache point after its text block.
	require.Len(t, result[3].ContentParts, 2)
	assert.Equal(t, model.ContentTypeText, result[3].ContentParts[0].Type)
	assert.Equal(t, model.ContentTypeCachePoint, result[3].ContentParts[1].Type)

	// The tool-call message has no text block, so the cache point is appended.
	require.Len(t, result[1].ContentParts, 1)
	assert.Equal(t, model.ContentTypeCachePoint, result[1].ContentParts[0].Type)
}

func TestInjectSkipsEmptyMessages(t *testing.T) {
	log := []model.Message{
		model.NewUserMessage("real question"),
		{Role: model.RoleAssistant},
		{Role: model.RoleUser},
	}

	t.Run("inline", func(t *testing.T) {
		result := Inject(log, PlacementInline)
		assert.True(t, hasMarker(result[0]))
		assert.False(t, hasMarker(result[1]))
		assert.False(t, hasMarker(result[2]))
	})

	t.Run("sibling", func(t *testing.T) {
		result := Inject(log, PlacementSibling)
		assert.True(t, hasMarker(result[0]))
		assert.False(t, hasMarker(result[1]))
		assert.False(t, hasMarker(result[2]))
	})
}

func TestInjectRemovesStaleMarkers(t *testing.T) {
	log := []model.Message{
		model.NewUserMessage("one"),
		model.NewUserMessage("two"),
		model.NewUserMessage("three"),
		model.NewUserMessage("four"),
	}

	first := Inject(log, PlacementInline)
	require.Equal(t, 2, countMarkers(first))

	// The log grows; the old markers must move to the new tail.
	grown := append(first, model.NewUserMessage("five"))
	second := Inject(grown, PlacementInline)

	require.Equal(t, 2, countMarkers(second))
	assert.False(t, hasMarker(second[2]), "marker on message three went stale")
	assert.True(t, hasMarker(second[3]))
	assert.True(t, hasMarker(second[4]))
}

func TestInjectSwitchesProviderFamilies(t *testing.T) {
	log := []model.Message{
		model.NewUserMessage("one"),
		model.NewAssistantMessage("two"),
		model.NewUserMessage("three"),
	}

	inline := Inject(log, PlacementInline)
	require.Equal(t, 2, countMarkers(inline))

	switched := Inject(inline, PlacementSibling)
	require.Equal(t, 2, countMarkers(switched))
	for _, msg := range switched {
		for _, part := range msg.ContentParts {
			assert.Nil(t, part.CacheControl, "inline hints must not survive the switch")
		}
	}
	assert.True(t, hasMarker(switched[1]))
	assert.True(t, hasMarker(switched[2]))
}

func TestStripRemovesAllMarkers(t *testing.T) {
	log := Inject([]model.Message{
		model.NewUserMessage("one"),
		model.NewAssistantMessage("two"),
		model.NewUserMessage("three"),
	}, PlacementInline)
	require.NotZero(t, countMarkers(log))

	stripped := Strip(log)
	assert.Zero(t, countMarkers(stripped))

	// Stripping is idempotent and shares untouched messages.
	again := Strip(stripped)
	assert.Equal(t, stripped, again)
}

func TestInjectSharesUntouchedMessages(t *testing.T) {
	untouched := model.Message{
		Role:         model.RoleAssistant,
		ContentParts: []model.ContentPart{model.NewTextPart("answer")},
	}
	log := []model.Message{
		untouched,
		model.NewUserMessage("question"),
	}

	result := Inject(log, PlacementInline)
	assert.Same(t, &log[0].ContentParts[0], &result[0].ContentParts[0],
		"unchanged messages share their blocks with the input")
	assert.True(t, hasMarker(result[1]))
	assert.Empty(t, log[1].ContentParts, "input log must not be mutated")
}
