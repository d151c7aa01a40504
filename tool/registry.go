//
// Tencent is pleased to support the open source community by making trpc-agent-core available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-core is licensed under the Apache License Version 2.0.
//
//

package tool

// RegistryEntry describes how a registered tool may be bound to models.
// Tools without a registry entry are bound unconditionally.
type RegistryEntry struct {
	// Name is the tool name the entry applies to.
	Name string `json:"name"`

	// Description explains the tool for binding surfaces that list entries.
	Description string `json:"description,omitempty"`

	// ParametersSchema is the JSON schema of the tool arguments.
	ParametersSchema *Schema `json:"parametersSchema,omitempty"`

	// DeferLoading excludes the tool from default model binding until it has
	// been discovered via tool search.
	DeferLoading bool `json:"deferLoading,omitempty"`

	// AllowedCallers lists the agent names permitted to call the tool
	// directly. Empty means every agent.
	AllowedCallers []string `json:"allowedCallers,omitempty"`
}

// DirectlyCallable reports whether the given agent may call the tool
// directly.
func (e *RegistryEntry) DirectlyCallable(agentName string) bool {
	if e == nil || len(e.AllowedCallers) == 0 {
		return true
	}
	for _, caller := range e.AllowedCallers {
		if caller == agentName {
			return true
		}
	}
	return false
}

// Registry maps tool names to binding entries. Both the budget accountant
// and the execution engine read it; tool-search components drive the
// discovered set kept on the agent context.
type Registry map[string]*RegistryEntry

// Entry returns the entry for the named tool, or nil when the tool has none.
func (r Registry) Entry(name string) *RegistryEntry {
	if r == nil {
		return nil
	}
	return r[name]
}
