//
// Tencent is pleased to support the open source community by making trpc-agent-core available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-core is licensed under the Apache License Version 2.0.
//
//

package history

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-agent-core/model"
)

// buildToolHeavyLog creates a log of rounds, each an assistant tool call
// followed by a large tool result, oldest first.
func buildToolHeavyLog(rounds int, resultSize int) []model.Message {
	log := make([]model.Message, 0, rounds*2)
	for i := 0; i < rounds; i++ {
		callID := "call-" + string(rune('a'+i))
		log = append(log, model.Message{
			ID:   "assistant-" + string(rune('a'+i)),
			Role: model.RoleAssistant,
			ToolCalls: []model.ToolCall{
				{ID: callID, Type: "function", Function: model.FunctionDefinitionParam{Name: "search"}},
			},
		})
		result := model.NewToolMessage(callID, strings.Repeat("x", resultSize))
		result.ID = "result-" + string(rune('a'+i))
		log = append(log, result)
	}
	return log
}

func TestPruneDisabledByDefault(t *testing.T) {
	log := buildToolHeavyLog(10, 5000)
	pruned := Prune(log, PruningSettings{})
	require.Len(t, pruned, len(log))
	for i := range log {
		assert.Equal(t, log[i].Content, pruned[i].Content)
	}
}

func TestPruneHardClearsOldest(t *testing.T) {
	log := buildToolHeavyLog(10, 5000)
	settings := PruningSettings{
		Enabled:            true,
		ProtectRecentTurns: 2,
		SoftTrimRatio:      0.5,
		HardClearRatio:     0.9,
		MinPrunableChars:   100,
	}
	pruned := Prune(log, settings)
	require.Len(t, pruned, len(log))

	// Oldest tool result sits at index 1 of 20, age 0.95 >= 0.9.
	assert.Equal(t, defaultClearedPlaceholder, pruned[1].Content)
	// Its assistant tool call is untouched.
	assert.Equal(t, log[0].ID, pruned[0].ID)
	assert.Len(t, pruned[0].ToolCalls, 1)
}

func TestPruneSoftTrimsMiddle(t *testing.T) {
	log := buildToolHeavyLog(10, 5000)
	settings := PruningSettings{
		Enabled:            true,
		ProtectRecentTurns: 2,
		SoftTrimRatio:      0.5,
		HardClearRatio:     0.95,
		MinPrunableChars:   100,
		SoftTrimHeadChars:  200,
		SoftTrimTailChars:  100,
	}
	pruned := Prune(log, settings)

	// Index 5 of 20 is a tool result at age 0.75: soft-trim band.
	trimmed := pruned[5].Content
	assert.Less(t, len(trimmed), 5000)
	assert.Contains(t, trimmed, "chars trimmed")
	assert.True(t, strings.HasPrefix(trimmed, strings.Repeat("x", 200)))
	assert.True(t, strings.HasSuffix(trimmed, strings.Repeat("x", 100)))
}

func TestPruneProtectsRecentTurns(t *testing.T) {
	log := buildToolHeavyLog(10, 5000)
	settings := PruningSettings{
		Enabled:            true,
		ProtectRecentTurns: 10,
		SoftTrimRatio:      0.1,
		HardClearRatio:     0.2,
		MinPrunableChars:   100,
	}
	pruned := Prune(log, settings)

	// Every round is inside the protected window: nothing changes.
	for i := range log {
		assert.Equal(t, log[i].Content, pruned[i].Content, "index %d", i)
	}
}

func TestPruneSkipsSmallResults(t *testing.T) {
	log := buildToolHeavyLog(10, 50)
	settings := PruningSettings{
		Enabled:            true,
		ProtectRecentTurns: 1,
		SoftTrimRatio:      0.1,
		HardClearRatio:     0.2,
		MinPrunableChars:   1000,
	}
	pruned := Prune(log, settings)
	for i := range log {
		assert.Equal(t, log[i].Content, pruned[i].Content, "index %d", i)
	}
}

func TestPruneNeverTouchesConversation(t *testing.T) {
	log := []model.Message{
		model.NewSystemMessage(strings.Repeat("s", 10000)),
		model.NewUserMessage(strings.Repeat("u", 10000)),
		model.NewAssistantMessage(strings.Repeat("a", 10000)),
		model.NewUserMessage("latest question"),
		model.NewAssistantMessage("latest answer"),
	}
	settings := PruningSettings{
		Enabled:            true,
		ProtectRecentTurns: 1,
		SoftTrimRatio:      0.1,
		HardClearRatio:     0.2,
		MinPrunableChars:   10,
	}
	pruned := Prune(log, settings)
	for i := range log {
		assert.Equal(t, log[i].Content, pruned[i].Content, "index %d", i)
	}
}

func TestPruneLeavesInputUntouched(t *testing.T) {
	log := buildToolHeavyLog(10, 5000)
	original := log[1].Content
	settings := PruningSettings{
		Enabled:            true,
		ProtectRecentTurns: 2,
		SoftTrimRatio:      0.5,
		HardClearRatio:     0.9,
		MinPrunableChars:   100,
	}
	pruned := Prune(log, settings)
	assert.NotEqual(t, log[1].Content, pruned[1].Content)
	assert.Equal(t, original, log[1].Content, "input log must not be mutated")
}

func TestPruningSettingsNormalize(t *testing.T) {
	t.Run("fills defaults", func(t *testing.T) {
		s := PruningSettings{Enabled: true}.Normalize()
		assert.Equal(t, defaultProtectRecentTurns, s.ProtectRecentTurns)
		assert.Equal(t, defaultSoftTrimRatio, s.SoftTrimRatio)
		assert.Equal(t, defaultHardClearRatio, s.HardClearRatio)
		assert.Equal(t, defaultMinPrunableChars, s.MinPrunableChars)
		assert.Equal(t, defaultClearedPlaceholder, s.ClearedPlaceholder)
	})

	t.Run("keeps overrides", func(t *testing.T) {
		s := PruningSettings{Enabled: true, ProtectRecentTurns: 7, SoftTrimRatio: 0.3}.Normalize()
		assert.Equal(t, 7, s.ProtectRecentTurns)
		assert.Equal(t, 0.3, s.SoftTrimRatio)
	})

	t.Run("hard ratio never below soft ratio", func(t *testing.T) {
		s := PruningSettings{Enabled: true, SoftTrimRatio: 0.8, HardClearRatio: 0.4}.Normalize()
		assert.GreaterOrEqual(t, s.HardClearRatio, s.SoftTrimRatio)
	})
}
