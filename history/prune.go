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
	"fmt"

	"trpc.group/trpc-go/trpc-agent-core/model"
)

// PruningSettings configures position-based pruning of old tool results.
// The zero value disables pruning; call Normalize to fill defaults.
type PruningSettings struct {
	// Enabled turns pruning on. Pruning is opt-in.
	Enabled bool

	// ProtectRecentTurns is the number of most recent assistant turns whose
	// messages are never pruned.
	ProtectRecentTurns int

	// SoftTrimRatio is the age ratio (0..1, 1 = oldest) beyond which a tool
	// result is trimmed to the head/tail char budgets.
	SoftTrimRatio float64

	// HardClearRatio is the age ratio beyond which a tool result is replaced
	// with the placeholder entirely. Must be >= SoftTrimRatio.
	HardClearRatio float64

	// MinPrunableChars is the size below which a tool result is never
	// pruned.
	MinPrunableChars int

	// SoftTrimHeadChars and SoftTrimTailChars are the char budgets kept at
	// the head and tail of a soft-trimmed tool result.
	SoftTrimHeadChars int
	SoftTrimTailChars int

	// ClearedPlaceholder replaces the content of hard-cleared tool results.
	ClearedPlaceholder string
}

// Pruning defaults.
const (
	defaultProtectRecentTurns = 3
	defaultSoftTrimRatio      = 0.6
	defaultHardClearRatio     = 0.9
	defaultMinPrunableChars   = 2000
	defaultSoftTrimHeadChars  = 1000
	defaultSoftTrimTailChars  = 400
	defaultClearedPlaceholder = "[old tool result removed to reclaim context]"
)

// Normalize returns a copy with every unset field filled from the defaults.
// Explicit overrides are kept as provided.
func (s PruningSettings) Normalize() PruningSettings {
	if s.ProtectRecentTurns <= 0 {
		s.ProtectRecentTurns = defaultProtectRecentTurns
	}
	if s.SoftTrimRatio <= 0 {
		s.SoftTrimRatio = defaultSoftTrimRatio
	}
	if s.HardClearRatio <= 0 {
		s.HardClearRatio = defaultHardClearRatio
	}
	if s.HardClearRatio < s.SoftTrimRatio {
		s.HardClearRatio = s.SoftTrimRatio
	}
	if s.MinPrunableChars <= 0 {
		s.MinPrunableChars = defaultMinPrunableChars
	}
	if s.SoftTrimHeadChars <= 0 {
		s.SoftTrimHeadChars = defaultSoftTrimHeadChars
	}
	if s.SoftTrimTailChars <= 0 {
		s.SoftTrimTailChars = defaultSoftTrimTailChars
	}
	if s.ClearedPlaceholder == "" {
		s.ClearedPlaceholder = defaultClearedPlaceholder
	}
	return s
}

// Prune applies position-based pruning to the log and returns a new log.
// Only tool-result messages are candidates; messages inside the protected
// recent assistant turns and tool results below the size threshold are kept
// as is. Messages that change are cloned, untouched ones are shared.
//
// Age is positional: the oldest message has age 1, the newest approaches 0.
// Tool results older than HardClearRatio are replaced with the placeholder;
// those between SoftTrimRatio and HardClearRatio keep only the head/tail
// char budgets.
func Prune(messages []model.Message, settings PruningSettings) []model.Message {
	if !settings.Enabled || len(messages) == 0 {
		return messages
	}
	settings = settings.Normalize()

	protectedFrom := protectedStart(messages, settings.ProtectRecentTurns)

	result := make([]model.Message, len(messages))
	copy(result, messages)

	n := len(messages)
	for i, msg := range messages {
		if i >= protectedFrom {
			break
		}
		if msg.Role != model.RoleTool {
			continue
		}
		if len(msg.Content) < settings.MinPrunableChars {
			continue
		}

		age := float64(n-i) / float64(n)
		switch {
		case age >= settings.HardClearRatio:
			pruned := msg.Clone()
			pruned.Content = settings.ClearedPlaceholder
			result[i] = pruned
		case age >= settings.SoftTrimRatio:
			pruned := msg.Clone()
			pruned.Content = softTrim(msg.Content, settings.SoftTrimHeadChars, settings.SoftTrimTailChars)
			result[i] = pruned
		}
	}
	return result
}

// protectedStart returns the index of the first message belonging to the
// most recent protectTurns assistant turns. Everything at or after that
// index is protected.
func protectedStart(messages []model.Message, protectTurns int) int {
	turns := 0
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == model.RoleAssistant {
			turns++
			if turns >= protectTurns {
				return i
			}
		}
	}
	return 0
}

// softTrim keeps the head and tail char budgets of the content and joins
// them with a marker stating how much was dropped.
func softTrim(content string, headChars, tailChars int) string {
	if len(content) <= headChars+tailChars {
		return content
	}
	dropped := len(content) - headChars - tailChars
	return fmt.Sprintf("%s\n[... %d chars trimmed ...]\n%s",
		content[:headChars], dropped, content[len(content)-tailChars:])
}
