//
// Tencent is pleased to support the open source community by making trpc-agent-core available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-core is licensed under the Apache License Version 2.0.
//
//

// Package transfer provides the transfer_to_agent hand-off tool. Calling it
// yields a routing Command the engine passes through to the host instead of
// a tool-result message.
package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"trpc.group/trpc-go/trpc-agent-core/agent"
	"trpc.group/trpc-go/trpc-agent-core/model"
	"trpc.group/trpc-go/trpc-agent-core/tool"
)

const (
	// ToolName is the name of the transfer_to_agent tool.
	ToolName = "transfer_to_agent"
	// FieldAgentName is the name of the agent_name field.
	FieldAgentName = "agent_name"
	// FieldMessage is the name of the message field.
	FieldMessage = "message"
)

// Target describes one agent control can be handed to.
type Target struct {
	// Name is the agent name used in routing Commands.
	Name string
	// Description tells the model when this agent is the right recipient.
	Description string
}

// Request is the argument structure of the transfer_to_agent tool.
type Request struct {
	// AgentName is the name of the target agent to transfer to.
	AgentName string `json:"agent_name"`
	// Message is an optional message delivered to the target agent.
	Message string `json:"message,omitempty"`
}

// Tool implements the transfer_to_agent hand-off.
type Tool struct {
	targets []Target
}

// New creates a transfer tool over the given hand-off targets.
func New(targets []Target) *Tool {
	return &Tool{targets: targets}
}

func (t *Tool) findTarget(name string) *Target {
	for i := range t.targets {
		if t.targets[i].Name == name {
			return &t.targets[i]
		}
	}
	return nil
}

func (t *Tool) targetNames() []string {
	names := make([]string, len(t.targets))
	for i, target := range t.targets {
		names[i] = target.Name
	}
	return names
}

// Declaration implements the tool.Tool interface. The schema lists every
// valid target so the model picks by name.
func (t *Tool) Declaration() *tool.Declaration {
	var lines []string
	for _, target := range t.targets {
		lines = append(lines, fmt.Sprintf("- %s: %s", target.Name, target.Description))
	}

	schema := &tool.Schema{
		Type: "object",
		Properties: map[string]*tool.Schema{
			FieldAgentName: {
				Type: "string",
				Description: fmt.Sprintf(
					"Name of the agent to transfer control to.\n\nAvailable agents:\n%s\n\nValid agent names: %v",
					strings.Join(lines, "\n"), t.targetNames()),
			},
			FieldMessage: {
				Type:        "string",
				Description: "Optional message to pass to the target agent",
			},
		},
		Required: []string{FieldAgentName},
	}

	return &tool.Declaration{
		Name:        ToolName,
		Description: "Transfer control to another agent. This will hand over the conversation to the specified agent.",
		InputSchema: schema,
	}
}

// Call implements the tool.CallableTool interface. A valid target yields an
// *agent.Command; an unknown target yields an error the model can correct.
func (t *Tool) Call(_ context.Context, jsonArgs []byte) (any, error) {
	var req Request
	if err := json.Unmarshal(jsonArgs, &req); err != nil {
		return nil, fmt.Errorf("invalid transfer request: %w", err)
	}

	target := t.findTarget(req.AgentName)
	if target == nil {
		return nil, fmt.Errorf("agent %q not found, available agents: %v",
			req.AgentName, t.targetNames())
	}

	if req.Message != "" {
		return agent.RouteTo(target.Name, model.NewUserMessage(req.Message)), nil
	}
	return agent.RouteTo(target.Name), nil
}
