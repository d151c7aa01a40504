//
// Tencent is pleased to support the open source community by making trpc-agent-core available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-core is licensed under the Apache License Version 2.0.
//
//

// Package history implements the conversation log reducer: the single
// mutation path for the message log shared by every agent in a run.
package history

import (
	"fmt"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-agent-core/model"
)

// RemoveAllID is the removal target that clears the whole log.
const RemoveAllID = model.RemoveAllID

// Merge folds incoming messages into the existing log and returns the new
// authoritative log. The result never shares mutable structure with either
// input.
//
// Rules, applied per incoming message in order:
//   - A remove-all sentinel discards everything merged so far; only messages
//     after it in the same batch survive.
//   - A removal sentinel deletes the message with the matching ID, or fails
//     with ErrUnknownRemovalTarget when no such message exists.
//   - A message whose ID matches an existing one overwrites it in place.
//   - Anything else is appended.
//
// Messages without an ID are assigned a fresh one. Tool-result messages must
// answer a tool call already present in the log, otherwise the merge fails
// with ErrOrphanToolResult.
func Merge(existing, incoming []model.Message) ([]model.Message, error) {
	log := make([]model.Message, 0, len(existing)+len(incoming))
	removed := make([]bool, 0, len(existing)+len(incoming))
	index := make(map[string]int, len(existing))

	for _, msg := range existing {
		msg = canonicalize(msg)
		index[msg.ID] = len(log)
		log = append(log, msg)
		removed = append(removed, false)
	}

	for _, msg := range incoming {
		msg = canonicalize(msg)

		if msg.IsRemoveAll() {
			log = log[:0]
			removed = removed[:0]
			index = make(map[string]int)
			continue
		}

		if msg.IsRemoval() {
			pos, ok := index[msg.ID]
			if !ok {
				return nil, fmt.Errorf("%w: %q", ErrUnknownRemovalTarget, msg.ID)
			}
			removed[pos] = true
			delete(index, msg.ID)
			continue
		}

		if msg.Role == model.RoleTool && msg.ToolID != "" {
			carryForwardArtifact(&msg, log, removed)
		}

		if pos, ok := index[msg.ID]; ok {
			if err := validateToolLinkage(msg, log[:pos], removed[:pos]); err != nil {
				return nil, err
			}
			log[pos] = msg
			continue
		}

		if err := validateToolLinkage(msg, log, removed); err != nil {
			return nil, err
		}
		index[msg.ID] = len(log)
		log = append(log, msg)
		removed = append(removed, false)
	}

	result := make([]model.Message, 0, len(log))
	for i, msg := range log {
		if !removed[i] {
			result = append(result, msg)
		}
	}
	return result, nil
}

// canonicalize clones the message and assigns an ID when absent.
// Removal sentinels keep their ID untouched: it is the removal target.
func canonicalize(msg model.Message) model.Message {
	msg = msg.Clone()
	if msg.ID == "" && !msg.IsRemoval() {
		msg.ID = uuid.New().String()
	}
	return msg
}

// carryForwardArtifact adopts the artifact of a log entry answering the same
// tool call when the incoming tool result lacks one. Coercion layers upstream
// can drop side-channel payloads; this keeps them attached across merges.
func carryForwardArtifact(msg *model.Message, log []model.Message, removed []bool) {
	if msg.Artifact != nil {
		return
	}
	for i, entry := range log {
		if removed[i] {
			continue
		}
		if entry.Role == model.RoleTool && entry.ToolID == msg.ToolID && entry.Artifact != nil {
			msg.Artifact = entry.Artifact
			return
		}
	}
}

// validateToolLinkage ensures a tool-result message answers a tool call
// present earlier in the log.
func validateToolLinkage(msg model.Message, earlier []model.Message, removed []bool) error {
	if msg.Role != model.RoleTool || msg.ToolID == "" {
		return nil
	}
	for i, entry := range earlier {
		if removed[i] {
			continue
		}
		for _, call := range entry.ToolCalls {
			if call.ID == msg.ToolID {
				return nil
			}
		}
	}
	return fmt.Errorf("%w: %q", ErrOrphanToolResult, msg.ToolID)
}
