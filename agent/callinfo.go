//
// Tencent is pleased to support the open source community by making trpc-agent-core available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-core is licensed under the Apache License Version 2.0.
//
//

package agent

import (
	"context"
)

// CallInfo carries the metadata of one tool dispatch: which invocation and
// engine step issued it, the provider call ID, and the per-tool invocation
// ordinal within the turn. Tools read it from their context.
type CallInfo struct {
	// InvocationID identifies the turn.
	InvocationID string

	// AgentName is the agent that issued the call.
	AgentName string

	// Step is the engine step ordinal within the turn.
	Step int

	// CallID is the provider-assigned tool call ID.
	CallID string

	// Ordinal is the per-tool invocation ordinal within the turn, starting
	// at 1.
	Ordinal int
}

type callInfoKey struct{}

// NewCallContext returns a context carrying the dispatch metadata.
func NewCallContext(ctx context.Context, info CallInfo) context.Context {
	return context.WithValue(ctx, callInfoKey{}, info)
}

// CallInfoFromContext returns the dispatch metadata from the context.
func CallInfoFromContext(ctx context.Context) (CallInfo, bool) {
	info, ok := ctx.Value(callInfoKey{}).(CallInfo)
	return info, ok
}
