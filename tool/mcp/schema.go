//
// Tencent is pleased to support the open source community by making trpc-agent-core available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-core is licensed under the Apache License Version 2.0.
//
//

package mcp

import (
	"encoding/json"

	"trpc.group/trpc-go/trpc-agent-core/log"
	"trpc.group/trpc-go/trpc-agent-core/tool"
)

// convertSchema converts the input schema reported by an MCP server into the
// local schema representation. Unknown or malformed schemas degrade to a bare
// object schema so the tool stays callable.
func convertSchema(mcpSchema any) *tool.Schema {
	fallback := &tool.Schema{Type: "object"}
	if mcpSchema == nil {
		return fallback
	}

	data, err := json.Marshal(mcpSchema)
	if err != nil {
		log.Debugf("marshal mcp tool schema: %v", err)
		return fallback
	}

	var schema tool.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		log.Debugf("unmarshal mcp tool schema: %v", err)
		return fallback
	}
	if schema.Type == "" {
		schema.Type = "object"
	}
	return &schema
}
