//
// Tencent is pleased to support the open source community by making trpc-agent-core available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-core is licensed under the Apache License Version 2.0.
//
//

package transfer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-agent-core/agent"
	"trpc.group/trpc-go/trpc-agent-core/model"
)

func newTestTool() *Tool {
	return New([]Target{
		{Name: "researcher", Description: "Digs through sources"},
		{Name: "writer", Description: "Drafts the final answer"},
	})
}

func TestDeclarationListsTargets(t *testing.T) {
	decl := newTestTool().Declaration()

	assert.Equal(t, ToolName, decl.Name)
	require.Contains(t, decl.InputSchema.Properties, FieldAgentName)
	desc := decl.InputSchema.Properties[FieldAgentName].Description
	assert.Contains(t, desc, "researcher: Digs through sources")
	assert.Contains(t, desc, "writer: Drafts the final answer")
	assert.Equal(t, []string{FieldAgentName}, decl.InputSchema.Required)
}

func TestCallReturnsCommand(t *testing.T) {
	tr := newTestTool()

	t.Run("with message", func(t *testing.T) {
		out, err := tr.Call(context.Background(),
			[]byte(`{"agent_name":"writer","message":"draft the summary"}`))
		require.NoError(t, err)

		cmd, ok := out.(*agent.Command)
		require.True(t, ok, "transfer must yield a routing command")
		assert.Equal(t, []string{"writer"}, cmd.TargetAgents)
		require.Len(t, cmd.Messages, 1)
		assert.Equal(t, model.RoleUser, cmd.Messages[0].Role)
		assert.Equal(t, "draft the summary", cmd.Messages[0].Content)
	})

	t.Run("without message", func(t *testing.T) {
		out, err := tr.Call(context.Background(), []byte(`{"agent_name":"researcher"}`))
		require.NoError(t, err)

		cmd, ok := out.(*agent.Command)
		require.True(t, ok)
		assert.Equal(t, []string{"researcher"}, cmd.TargetAgents)
		assert.Empty(t, cmd.Messages)
	})

	t.Run("unknown target", func(t *testing.T) {
		_, err := tr.Call(context.Background(), []byte(`{"agent_name":"nobody"}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), `"nobody" not found`)
		assert.Contains(t, err.Error(), "researcher")
	})

	t.Run("malformed arguments", func(t *testing.T) {
		_, err := tr.Call(context.Background(), []byte(`{"agent_name":`))
		assert.Error(t, err)
	})
}
