//
// Tencent is pleased to support the open source community by making trpc-agent-core available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-core is licensed under the Apache License Version 2.0.
//
//

package gemini

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-core/model"
	"trpc.group/trpc-go/trpc-agent-core/tool"
)

type stubTool struct {
	decl *tool.Declaration
}

func (s stubTool) Declaration() *tool.Declaration { return s.decl }

func TestNew(t *testing.T) {
	t.Run("requires an api key", func(t *testing.T) {
		t.Setenv(GoogleAPIKeyEnv, "")
		_, err := New(context.Background(), "gemini-2.0-flash")
		require.Error(t, err)
	})

	t.Run("with api key", func(t *testing.T) {
		m, err := New(context.Background(), "gemini-2.0-flash", WithAPIKey("test-key"))
		require.NoError(t, err)
		assert.Equal(t, "gemini-2.0-flash", m.Info().Name)
		assert.Equal(t, 0, m.Info().ContextWindowTokens)
	})

	t.Run("with environment api key", func(t *testing.T) {
		t.Setenv(GoogleAPIKeyEnv, "env-key")
		m, err := New(context.Background(), "gemini-2.0-flash")
		require.NoError(t, err)
		assert.NotNil(t, m)
	})

	t.Run("with context window", func(t *testing.T) {
		m, err := New(context.Background(), "gemini-2.0-flash",
			WithAPIKey("test-key"),
			WithContextWindowTokens(1048576),
		)
		require.NoError(t, err)
		assert.Equal(t, 1048576, m.Info().ContextWindowTokens)
	})
}

func TestGenerateContentNilRequest(t *testing.T) {
	m, err := New(context.Background(), "gemini-2.0-flash", WithAPIKey("test-key"))
	require.NoError(t, err)

	_, err = m.GenerateContent(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request cannot be nil")
}

func TestConvertMessages(t *testing.T) {
	messages := []model.Message{
		model.NewSystemMessage("first instruction"),
		model.NewSystemMessage("second instruction"),
		model.NewUserMessage("hi"),
		{
			Role:    model.RoleAssistant,
			Content: "hello there",
			ToolCalls: []model.ToolCall{{
				ID:   "call-1",
				Type: "function",
				Function: model.FunctionDefinitionParam{
					Name:      "hello",
					Arguments: []byte(`{"place":"moon"}`),
				},
			}},
		},
		model.NewToolMessage("call-1", "tool response"),
		{Role: "unknown", Content: "still visible"},
	}

	contents, system := convertMessages(messages)

	require.NotNil(t, system)
	require.Len(t, system.Parts, 1)
	assert.Equal(t, "first instruction\n\nsecond instruction", system.Parts[0].Text)

	require.Len(t, contents, 4)

	assert.Equal(t, "user", string(contents[0].Role))
	require.Len(t, contents[0].Parts, 1)
	assert.Equal(t, "hi", contents[0].Parts[0].Text)

	assert.Equal(t, "model", string(contents[1].Role))
	require.Len(t, contents[1].Parts, 2)
	assert.Equal(t, "hello there", contents[1].Parts[0].Text)
	call := contents[1].Parts[1].FunctionCall
	require.NotNil(t, call)
	assert.Equal(t, "call-1", call.ID)
	assert.Equal(t, "hello", call.Name)
	assert.Equal(t, map[string]any{"place": "moon"}, call.Args)

	assert.Equal(t, "user", string(contents[2].Role))
	require.Len(t, contents[2].Parts, 1)
	result := contents[2].Parts[0].FunctionResponse
	require.NotNil(t, result)
	assert.Equal(t, "call-1", result.ID)
	assert.Equal(t, "hello", result.Name)
	assert.Equal(t, map[string]any{"output": "tool response"}, result.Response)

	assert.Equal(t, "user", string(contents[3].Role))
	assert.Equal(t, "still visible", contents[3].Parts[0].Text)
}

func TestConvertMessagesSkipsEmpty(t *testing.T) {
	messages := []model.Message{
		{Role: model.RoleAssistant},
		{Role: model.RoleUser},
	}
	contents, system := convertMessages(messages)
	assert.Nil(t, system)
	assert.Empty(t, contents)
}

func TestMessageText(t *testing.T) {
	t.Run("plain content", func(t *testing.T) {
		assert.Equal(t, "hello", messageText(model.NewUserMessage("hello")))
	})

	t.Run("content parts override content", func(t *testing.T) {
		msg := model.Message{
			Role: model.RoleUser,
			ContentParts: []model.ContentPart{
				model.NewTextPart("part one "),
				model.NewCachePointPart(),
				model.NewTextPart("part two"),
			},
		}
		assert.Equal(t, "part one part two", messageText(msg))
	})
}

func TestParseCallArgs(t *testing.T) {
	assert.Equal(t, map[string]any{}, parseCallArgs(nil))
	assert.Equal(t, map[string]any{}, parseCallArgs([]byte("not json")))
	assert.Equal(t, map[string]any{"a": float64(1)}, parseCallArgs([]byte(`{"a":1}`)))
}

func TestResponsePayload(t *testing.T) {
	t.Run("error result", func(t *testing.T) {
		msg := model.NewToolMessage("call-1", "boom")
		msg.ToolStatus = model.ToolStatusError
		assert.Equal(t, map[string]any{"error": "boom"}, responsePayload(msg))
	})

	t.Run("structured result passes through", func(t *testing.T) {
		msg := model.NewToolMessage("call-1", `{"ok":true,"count":2}`)
		assert.Equal(t, map[string]any{"ok": true, "count": float64(2)}, responsePayload(msg))
	})

	t.Run("plain text is wrapped", func(t *testing.T) {
		msg := model.NewToolMessage("call-1", "42 degrees")
		assert.Equal(t, map[string]any{"output": "42 degrees"}, responsePayload(msg))
	})
}

func TestConvertTools(t *testing.T) {
	tools := map[string]tool.Tool{
		"search": stubTool{decl: &tool.Declaration{
			Name:        "search",
			Description: "Searches the index",
			InputSchema: &tool.Schema{
				Type:     "object",
				Required: []string{"query"},
				Properties: map[string]*tool.Schema{
					"query": {Type: "string", Description: "Search query"},
					"limit": {Type: "integer"},
					"tags":  {Type: "array", Items: &tool.Schema{Type: "string"}},
				},
			},
		}},
	}

	converted := convertTools(tools)
	require.Len(t, converted, 1)
	require.Len(t, converted[0].FunctionDeclarations, 1)

	decl := converted[0].FunctionDeclarations[0]
	assert.Equal(t, "search", decl.Name)
	assert.Equal(t, "Searches the index", decl.Description)

	schema := decl.Parameters
	require.NotNil(t, schema)
	assert.Equal(t, genai.TypeObject, schema.Type)
	assert.Equal(t, []string{"query"}, schema.Required)
	assert.Equal(t, genai.TypeString, schema.Properties["query"].Type)
	assert.Equal(t, "Search query", schema.Properties["query"].Description)
	assert.Equal(t, genai.TypeInteger, schema.Properties["limit"].Type)
	assert.Equal(t, genai.TypeArray, schema.Properties["tags"].Type)
	require.NotNil(t, schema.Properties["tags"].Items)
	assert.Equal(t, genai.TypeString, schema.Properties["tags"].Items.Type)
}

func TestConvertSchemaNil(t *testing.T) {
	schema := convertSchema(nil)
	require.NotNil(t, schema)
	assert.Equal(t, genai.TypeObject, schema.Type)
}

func TestBuildConfig(t *testing.T) {
	t.Run("request parameters", func(t *testing.T) {
		m := &Model{name: "gemini-2.0-flash"}
		maxTokens := 512
		temperature := 0.7
		request := &model.Request{
			GenerationConfig: model.GenerationConfig{
				MaxTokens:   &maxTokens,
				Temperature: &temperature,
				Stop:        []string{"END"},
			},
		}
		system := genai.NewContentFromText("be brief", genai.RoleUser)

		config := m.buildConfig(request, system)
		assert.Equal(t, int32(512), config.MaxOutputTokens)
		require.NotNil(t, config.Temperature)
		assert.InDelta(t, 0.7, float64(*config.Temperature), 1e-6)
		assert.Equal(t, []string{"END"}, config.StopSequences)
		require.NotNil(t, config.SystemInstruction)
		assert.Equal(t, "be brief", config.SystemInstruction.Parts[0].Text)
	})

	t.Run("defaults survive unless overridden", func(t *testing.T) {
		m := &Model{
			name: "gemini-2.0-flash",
			generateContentConfig: &genai.GenerateContentConfig{
				Temperature:   float32Ptr(0.2),
				StopSequences: []string{"HALT"},
			},
		}

		config := m.buildConfig(&model.Request{}, nil)
		require.NotNil(t, config.Temperature)
		assert.InDelta(t, 0.2, float64(*config.Temperature), 1e-6)
		assert.Equal(t, []string{"HALT"}, config.StopSequences)

		temperature := 0.9
		config = m.buildConfig(&model.Request{
			GenerationConfig: model.GenerationConfig{Temperature: &temperature},
		}, nil)
		assert.InDelta(t, 0.9, float64(*config.Temperature), 1e-6)
	})
}

func TestAbsorb(t *testing.T) {
	t.Run("text and usage", func(t *testing.T) {
		g := &generation{}
		textDelta, reasoningDelta := g.absorb(&genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{
				Content: &genai.Content{
					Role:  "model",
					Parts: []*genai.Part{{Text: "Hello"}},
				},
			}},
		})
		assert.Equal(t, "Hello", textDelta)
		assert.Empty(t, reasoningDelta)

		textDelta, _ = g.absorb(&genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{
				Content: &genai.Content{
					Role:  "model",
					Parts: []*genai.Part{{Text: ", world"}},
				},
				FinishReason: genai.FinishReasonStop,
			}},
			UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
				PromptTokenCount:     10,
				CandidatesTokenCount: 5,
				TotalTokenCount:      15,
			},
		})
		assert.Equal(t, ", world", textDelta)
		assert.Equal(t, "Hello, world", g.text)
		assert.Equal(t, genai.FinishReasonStop, g.finish)
		require.NotNil(t, g.usage)
		assert.Equal(t, 10, g.usage.PromptTokens)
		assert.Equal(t, 5, g.usage.CompletionTokens)
		assert.Equal(t, 15, g.usage.TotalTokens)
	})

	t.Run("thought parts accumulate as reasoning", func(t *testing.T) {
		g := &generation{}
		textDelta, reasoningDelta := g.absorb(&genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{
				Content: &genai.Content{
					Role: "model",
					Parts: []*genai.Part{
						{Text: "thinking hard", Thought: true},
						{Text: "the answer"},
					},
				},
			}},
		})
		assert.Equal(t, "the answer", textDelta)
		assert.Equal(t, "thinking hard", reasoningDelta)
		assert.Equal(t, "thinking hard", g.reasoning)
	})

	t.Run("function calls are collected", func(t *testing.T) {
		g := &generation{}
		textDelta, _ := g.absorb(&genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{
				Content: &genai.Content{
					Role: "model",
					Parts: []*genai.Part{{FunctionCall: &genai.FunctionCall{
						Name: "calculator",
						Args: map[string]any{"operation": "add"},
					}}},
				},
			}},
		})
		assert.Empty(t, textDelta)
		require.Len(t, g.toolCalls, 1)
		assert.Equal(t, "auto_call_0", g.toolCalls[0].ID)
		assert.Equal(t, "calculator", g.toolCalls[0].Function.Name)
		assert.JSONEq(t, `{"operation":"add"}`, string(g.toolCalls[0].Function.Arguments))
	})

	t.Run("nil response is ignored", func(t *testing.T) {
		g := &generation{}
		textDelta, reasoningDelta := g.absorb(nil)
		assert.Empty(t, textDelta)
		assert.Empty(t, reasoningDelta)
	})
}

func TestConvertFunctionCall(t *testing.T) {
	t.Run("keeps provider id", func(t *testing.T) {
		call := convertFunctionCall(&genai.FunctionCall{
			ID:   "fc-1",
			Name: "lookup",
			Args: map[string]any{"key": "value"},
		}, 2)
		assert.Equal(t, "fc-1", call.ID)
		require.NotNil(t, call.Index)
		assert.Equal(t, 2, *call.Index)
		assert.JSONEq(t, `{"key":"value"}`, string(call.Function.Arguments))
	})

	t.Run("nil args become empty object", func(t *testing.T) {
		call := convertFunctionCall(&genai.FunctionCall{Name: "lookup"}, 0)
		assert.Equal(t, "auto_call_0", call.ID)
		assert.JSONEq(t, `{}`, string(call.Function.Arguments))
	})
}

func TestFinalResponse(t *testing.T) {
	m := &Model{name: "gemini-2.0-flash"}

	t.Run("plain answer is done", func(t *testing.T) {
		g := &generation{
			text:   "final answer",
			finish: genai.FinishReasonStop,
			usage:  &model.Usage{PromptTokens: 7, CompletionTokens: 3, TotalTokens: 10},
		}
		response := m.finalResponse("resp-1", g)

		assert.Equal(t, "resp-1", response.ID)
		assert.Equal(t, model.ObjectTypeChatCompletion, response.Object)
		assert.Equal(t, "gemini-2.0-flash", response.Model)
		assert.True(t, response.Done)
		assert.False(t, response.IsPartial)
		require.Len(t, response.Choices, 1)
		assert.Equal(t, "final answer", response.Choices[0].Message.Content)
		require.NotNil(t, response.Choices[0].FinishReason)
		assert.Equal(t, "stop", *response.Choices[0].FinishReason)
		require.NotNil(t, response.Usage)
		assert.Equal(t, 10, response.Usage.TotalTokens)
	})

	t.Run("tool calls are not done", func(t *testing.T) {
		idx := 0
		g := &generation{
			finish: genai.FinishReasonStop,
			toolCalls: []model.ToolCall{{
				Index:    &idx,
				ID:       "fc-1",
				Type:     "function",
				Function: model.FunctionDefinitionParam{Name: "calculator", Arguments: []byte(`{}`)},
			}},
		}
		response := m.finalResponse("resp-2", g)

		assert.False(t, response.Done)
		require.NotNil(t, response.Choices[0].FinishReason)
		assert.Equal(t, "tool_calls", *response.Choices[0].FinishReason)
		require.Len(t, response.Choices[0].Message.ToolCalls, 1)
	})

	t.Run("reasoning content is carried", func(t *testing.T) {
		g := &generation{text: "answer", reasoning: "step by step"}
		response := m.finalResponse("resp-3", g)
		assert.Equal(t, "step by step", response.Choices[0].Message.ReasoningContent)
	})
}

func TestMapFinishReason(t *testing.T) {
	tests := []struct {
		name   string
		reason genai.FinishReason
		want   string
	}{
		{"empty", "", ""},
		{"stop", genai.FinishReasonStop, "stop"},
		{"max tokens", genai.FinishReasonMaxTokens, "length"},
		{"safety passes through", genai.FinishReasonSafety, string(genai.FinishReasonSafety)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mapFinishReason(tt.reason))
		})
	}
}

func TestGenerateContentIntegration(t *testing.T) {
	apiKey := os.Getenv(GoogleAPIKeyEnv)
	if apiKey == "" {
		t.Skip("GOOGLE_API_KEY not set")
	}

	m, err := New(context.Background(), "gemini-2.0-flash", WithAPIKey(apiKey))
	require.NoError(t, err)

	request := &model.Request{
		Messages: []model.Message{model.NewUserMessage("Say hi in one word.")},
	}
	responses, err := m.GenerateContent(context.Background(), request)
	require.NoError(t, err)

	var final *model.Response
	for response := range responses {
		require.Nil(t, response.Error)
		if response.Done {
			final = response
		}
	}
	require.NotNil(t, final)
	require.NotEmpty(t, final.Choices)
	assert.NotEmpty(t, final.Choices[0].Message.Content)
}
