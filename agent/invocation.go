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
	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-agent-core/artifact"
	"trpc.group/trpc-go/trpc-agent-core/model"
)

// Command routes control to other agents. Tools that hand off produce one
// with a single target; the engine coalesces the Commands of a batch into one
// aggregating every routing target, and the host decides which agent runs
// next.
type Command struct {
	// TargetAgents are the agents to transfer control to, in tool-call
	// order.
	TargetAgents []string

	// Messages are folded into the log before a target agent runs.
	Messages []model.Message
}

// RouteTo builds a Command routing to a single agent.
func RouteTo(agentName string, messages ...model.Message) *Command {
	return &Command{
		TargetAgents: []string{agentName},
		Messages:     messages,
	}
}

// Invocation identifies one engine step: which agent ran, under which
// invocation, and at which step ordinal within the turn.
type Invocation struct {
	// AgentName is the name of the agent that is being invoked.
	AgentName string

	// InvocationID is the ID of the invocation.
	InvocationID string

	// Step is the engine step ordinal within the turn, starting at 1.
	Step int

	// Model is the model that is being used for the invocation.
	Model model.Model

	// ArtifactService stores tool output side channels, may be nil.
	ArtifactService artifact.Service
}

// NewInvocation creates an invocation with a generated ID.
func NewInvocation(agentName string, opts ...InvocationOption) *Invocation {
	inv := &Invocation{
		AgentName:    agentName,
		InvocationID: uuid.New().String(),
		Step:         1,
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// InvocationOption configures an Invocation.
type InvocationOption func(*Invocation)

// WithInvocationModel sets the model for the invocation.
func WithInvocationModel(m model.Model) InvocationOption {
	return func(inv *Invocation) {
		inv.Model = m
	}
}

// WithArtifactService sets the artifact service for the invocation.
func WithArtifactService(svc artifact.Service) InvocationOption {
	return func(inv *Invocation) {
		inv.ArtifactService = svc
	}
}

// NextStep returns a copy of the invocation advanced to the next engine
// step.
func (inv *Invocation) NextStep() *Invocation {
	next := *inv
	next.Step++
	return &next
}
