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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"trpc.group/trpc-go/trpc-agent-core/model"
	"trpc.group/trpc-go/trpc-agent-core/tool"
)

// charCounter counts one token per content byte, keeping budget math exact.
type charCounter struct{}

func (charCounter) CountTokens(_ context.Context, msg model.Message) (int, error) {
	return len(msg.Content), nil
}

func (c charCounter) CountTokensRange(ctx context.Context, messages []model.Message, start, end int) (int, error) {
	total := 0
	for i := start; i < end; i++ {
		tokens, _ := c.CountTokens(ctx, messages[i])
		total += tokens
	}
	return total, nil
}

type declTool struct {
	name string
}

func (t declTool) Declaration() *tool.Declaration {
	return &tool.Declaration{Name: t.name, Description: "test tool"}
}

func TestTokenBudgetBreakdown(t *testing.T) {
	ctx := context.Background()
	c := NewContext("researcher",
		WithMaxContextTokens(100),
		WithTokenCounter(charCounter{}),
		WithSystemPrompt("0123456789"),          // 10 tokens
		WithAdditionalInstructions("01234"),     // 5 tokens, 17 joined
	)
	require.NoError(t, c.SetSummary(ctx, "0123456789")) // 10 tokens

	c.StartTokenCalculation(ctx)
	require.NoError(t, c.AwaitTokenCalculation())

	b := c.TokenBudget()
	assert.Equal(t, 100, b.MaxContextTokens)
	assert.Equal(t, 10, b.SystemMessageTokens)
	assert.Equal(t, len(c.Instructions()), b.InstructionTokens,
		"accounting covers the joined text the model receives")
	assert.Equal(t, 17, b.InstructionTokens)
	assert.Equal(t, 0, b.ToolSchemaTokens)
	assert.Equal(t, 10, b.SummaryTokens)
	assert.Equal(t, 73, b.AvailableForMessages)
}

func TestTokenBudgetNeverNegative(t *testing.T) {
	ctx := context.Background()
	c := NewContext("researcher",
		WithMaxContextTokens(5),
		WithTokenCounter(charCounter{}),
		WithSystemPrompt("this system prompt alone blows the budget"),
	)
	c.StartTokenCalculation(ctx)
	require.NoError(t, c.AwaitTokenCalculation())

	b := c.TokenBudget()
	assert.Equal(t, 0, b.AvailableForMessages)
	assert.Greater(t, b.InstructionTokens, b.MaxContextTokens)
}

func TestTokenBudgetNonNegativityProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		c := NewContext("researcher",
			WithMaxContextTokens(rapid.IntRange(1, 200).Draw(rt, "max")),
			WithTokenCounter(charCounter{}),
			WithSystemPrompt(rapid.StringMatching(`[a-z]{0,300}`).Draw(rt, "prompt")),
		)
		summary := rapid.StringMatching(`[a-z]{0,300}`).Draw(rt, "summary")
		require.NoError(rt, c.SetSummary(ctx, summary))

		c.StartTokenCalculation(ctx)
		require.NoError(rt, c.AwaitTokenCalculation())
		assert.GreaterOrEqual(rt, c.TokenBudget().AvailableForMessages, 0)
	})
}

func TestToolSchemaTokensCounted(t *testing.T) {
	ctx := context.Background()
	c := NewContext("researcher",
		WithTokenCounter(model.NewSimpleTokenCounter()),
		WithTools([]tool.Tool{declTool{name: "search"}, declTool{name: "fetch"}}),
	)
	c.StartTokenCalculation(ctx)
	require.NoError(t, c.AwaitTokenCalculation())
	assert.Positive(t, c.TokenBudget().ToolSchemaTokens)
}

func TestToolSchemaTokensCountBoundOnly(t *testing.T) {
	ctx := context.Background()
	c := NewContext("researcher",
		WithTokenCounter(model.NewSimpleTokenCounter()),
		WithRegistry(tool.Registry{
			"scanner": {Name: "scanner", DeferLoading: true},
		}),
		WithTools([]tool.Tool{declTool{name: "scanner"}}),
	)

	c.StartTokenCalculation(ctx)
	require.NoError(t, c.AwaitTokenCalculation())
	require.Empty(t, c.ToolsForBinding())
	assert.Zero(t, c.TokenBudget().ToolSchemaTokens,
		"an unbound schema is not in the prompt")

	c.Discover("scanner")
	c.StartTokenCalculation(ctx)
	require.NoError(t, c.AwaitTokenCalculation())
	assert.Positive(t, c.TokenBudget().ToolSchemaTokens)
}

func TestAwaitWithoutStartIsNoop(t *testing.T) {
	c := NewContext("researcher")
	assert.NoError(t, c.AwaitTokenCalculation())
}

func TestResetPreservesDurableSummary(t *testing.T) {
	ctx := context.Background()
	c := NewContext("researcher",
		WithMaxContextTokens(100),
		WithTokenCounter(charCounter{}),
		WithMinStreamInterval(time.Millisecond),
	)
	require.NoError(t, c.SetSummary(ctx, "summary of earlier turns"))
	c.MarkToolUsed("search")
	require.NoError(t, c.WaitStream(ctx))
	require.False(t, c.LastStreamCall().IsZero())

	c.Reset()

	assert.Equal(t, "summary of earlier turns", c.Summary(),
		"summary must survive reset")
	assert.Equal(t, len("summary of earlier turns"), c.TokenBudget().SummaryTokens,
		"summary tokens must survive reset")
	assert.Empty(t, c.ToolUsage(), "usage counters are turn-scoped")
	assert.True(t, c.LastStreamCall().IsZero(), "stream timestamp is turn-scoped")
}

func TestToolsForBinding(t *testing.T) {
	registry := tool.Registry{
		"blocked": {Name: "blocked", AllowedCallers: []string{"other-agent"}},
		"open":    {Name: "open"},
		"hidden":  {Name: "hidden", DeferLoading: true},
	}
	c := NewContext("researcher",
		WithRegistry(registry),
		WithTools([]tool.Tool{
			declTool{name: "blocked"},
			declTool{name: "open"},
			declTool{name: "hidden"},
			declTool{name: "unregistered"},
		}),
	)

	names := func() []string {
		var out []string
		for _, t := range c.ToolsForBinding() {
			out = append(out, t.Declaration().Name)
		}
		return out
	}

	t.Run("before discovery", func(t *testing.T) {
		assert.Equal(t, []string{"open", "unregistered"}, names())
	})

	t.Run("after discovery", func(t *testing.T) {
		c.Discover("hidden")
		assert.True(t, c.Discovered("hidden"))
		assert.Equal(t, []string{"hidden", "open", "unregistered"}, names())
	})
}

func TestWaitStreamSpacesCalls(t *testing.T) {
	ctx := context.Background()
	interval := 30 * time.Millisecond
	c := NewContext("researcher", WithMinStreamInterval(interval))

	start := time.Now()
	require.NoError(t, c.WaitStream(ctx))
	require.NoError(t, c.WaitStream(ctx))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, interval,
		"second call must wait out the minimum interval")
	assert.False(t, c.LastStreamCall().IsZero())
}

func TestWaitStreamHonorsCancellation(t *testing.T) {
	c := NewContext("researcher", WithMinStreamInterval(10*time.Second))
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.WaitStream(ctx))

	cancel()
	assert.Error(t, c.WaitStream(ctx))
}

func TestWaitStreamWithoutIntervalNeverBlocks(t *testing.T) {
	c := NewContext("researcher")
	for i := 0; i < 5; i++ {
		require.NoError(t, c.WaitStream(context.Background()))
	}
}

func TestMarkToolUsed(t *testing.T) {
	c := NewContext("researcher")
	c.MarkToolUsed("search")
	c.MarkToolUsed("search")
	c.MarkToolUsed("fetch")

	usage := c.ToolUsage()
	assert.Equal(t, 2, usage["search"])
	assert.Equal(t, 1, usage["fetch"])

	usage["search"] = 99
	assert.Equal(t, 2, c.ToolUsage()["search"], "returned map is a copy")
}

func TestFitMessagesKeepsNewestSuffix(t *testing.T) {
	ctx := context.Background()
	c := NewContext("researcher",
		WithMaxContextTokens(20),
		WithTokenCounter(charCounter{}),
	)
	messages := []model.Message{
		{ID: "sys", Role: model.RoleSystem, Content: "sss"},       // 3
		{ID: "u1", Role: model.RoleUser, Content: "aaaaa"},        // 5
		{ID: "a1", Role: model.RoleAssistant, Content: "bbbbb"},   // 5
		{ID: "u2", Role: model.RoleUser, Content: "ccccc"},        // 5
		{ID: "a2", Role: model.RoleAssistant, Content: "ddddd"},   // 5
	}

	fitted, err := c.FitMessages(ctx, messages)
	require.NoError(t, err)

	var ids []string
	for _, msg := range fitted {
		ids = append(ids, msg.ID)
	}
	assert.Equal(t, []string{"sys", "a1", "u2", "a2"}, ids,
		"system message kept, oldest conversation dropped")
}

func TestFitMessagesNeverOpensOnToolResult(t *testing.T) {
	ctx := context.Background()
	c := NewContext("researcher",
		WithMaxContextTokens(12),
		WithTokenCounter(charCounter{}),
	)
	callMsg := model.Message{
		ID: "call", Role: model.RoleAssistant, Content: "aaaaaaaaaa", // 10
		ToolCalls: []model.ToolCall{{ID: "t1", Type: "function"}},
	}
	result := model.NewToolMessage("t1", "bbbbb") // 5
	result.ID = "result"
	final := model.Message{ID: "final", Role: model.RoleAssistant, Content: "ccccc"} // 5

	fitted, err := c.FitMessages(ctx, []model.Message{callMsg, result, final})
	require.NoError(t, err)

	require.Len(t, fitted, 1, "orphaned tool result must not open the window")
	assert.Equal(t, "final", fitted[0].ID)
}

func TestFitMessagesEverythingFits(t *testing.T) {
	ctx := context.Background()
	c := NewContext("researcher",
		WithMaxContextTokens(1000),
		WithTokenCounter(charCounter{}),
	)
	messages := []model.Message{
		{ID: "u1", Role: model.RoleUser, Content: "hello"},
		{ID: "a1", Role: model.RoleAssistant, Content: "hi"},
	}
	fitted, err := c.FitMessages(ctx, messages)
	require.NoError(t, err)
	assert.Len(t, fitted, len(messages))
}
