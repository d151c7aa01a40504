//
// Tencent is pleased to support the open source community by making trpc-agent-core available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-core is licensed under the Apache License Version 2.0.
//
//

package summary

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-agent-core/model"
)

type fakeModel struct {
	request *fakeRequest
	chunks  []string
	callErr error
	respErr *model.ResponseError
}

type fakeRequest struct {
	prompt string
	stream bool
}

func (f *fakeModel) GenerateContent(_ context.Context, request *model.Request) (<-chan *model.Response, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}
	f.request = &fakeRequest{stream: request.Stream}
	if len(request.Messages) > 0 {
		f.request.prompt = request.Messages[0].Content
	}

	ch := make(chan *model.Response, len(f.chunks)+1)
	if f.respErr != nil {
		ch <- &model.Response{Error: f.respErr, Done: true}
	} else {
		for i, chunk := range f.chunks {
			ch <- &model.Response{
				Choices: []model.Choice{{Message: model.Message{Role: model.RoleAssistant, Content: chunk}}},
				Done:    i == len(f.chunks)-1,
			}
		}
	}
	close(ch)
	return ch, nil
}

func (f *fakeModel) Info() model.Info {
	return model.Info{Name: "fake-summarizer"}
}

func chatLog() []model.Message {
	return []model.Message{
		model.NewSystemMessage("You are concise."),
		model.NewUserMessage("What is the capital of France?"),
		model.NewAssistantMessage("Paris."),
		model.NewUserMessage("And its population?"),
	}
}

func TestSummarize(t *testing.T) {
	t.Run("builds prompt from conversation", func(t *testing.T) {
		m := &fakeModel{chunks: []string{"User asked about ", "Paris."}}
		s := NewSummarizer(m)

		got, err := s.Summarize(context.Background(), chatLog())
		require.NoError(t, err)
		assert.Equal(t, "User asked about Paris.", got)

		require.NotNil(t, m.request)
		assert.False(t, m.request.stream)
		assert.Contains(t, m.request.prompt, "user: What is the capital of France?")
		assert.Contains(t, m.request.prompt, "assistant: Paris.")
		assert.NotContains(t, m.request.prompt, "You are concise.",
			"instructions are not conversation")
		assert.NotContains(t, m.request.prompt, conversationTextPlaceholder)
	})

	t.Run("word cap goes into prompt", func(t *testing.T) {
		m := &fakeModel{chunks: []string{"short"}}
		s := NewSummarizer(m, WithMaxSummaryWords(50))

		_, err := s.Summarize(context.Background(), chatLog())
		require.NoError(t, err)
		assert.Contains(t, m.request.prompt, "within 50 words")
	})

	t.Run("custom prompt", func(t *testing.T) {
		m := &fakeModel{chunks: []string{"ok"}}
		s := NewSummarizer(m, WithPrompt("Condense this:\n{conversation_text}"))

		_, err := s.Summarize(context.Background(), chatLog())
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(m.request.prompt, "Condense this:"))
	})

	t.Run("no model", func(t *testing.T) {
		s := NewSummarizer(nil)
		_, err := s.Summarize(context.Background(), chatLog())
		assert.Error(t, err)
	})

	t.Run("empty conversation", func(t *testing.T) {
		s := NewSummarizer(&fakeModel{chunks: []string{"x"}})
		_, err := s.Summarize(context.Background(), []model.Message{
			model.NewSystemMessage("instructions only"),
		})
		assert.Error(t, err)
	})

	t.Run("call error", func(t *testing.T) {
		callErr := errors.New("dial tcp: connection refused")
		s := NewSummarizer(&fakeModel{callErr: callErr})
		_, err := s.Summarize(context.Background(), chatLog())
		assert.ErrorIs(t, err, callErr)
	})

	t.Run("response error", func(t *testing.T) {
		s := NewSummarizer(&fakeModel{respErr: &model.ResponseError{Message: "overloaded"}})
		_, err := s.Summarize(context.Background(), chatLog())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "overloaded")
	})

	t.Run("text block fallback", func(t *testing.T) {
		m := &fakeModel{chunks: []string{"ok"}}
		s := NewSummarizer(m)

		structured := model.Message{Role: model.RoleUser}
		structured.ContentParts = []model.ContentPart{model.NewTextPart("structured question")}

		_, err := s.Summarize(context.Background(), []model.Message{structured})
		require.NoError(t, err)
		assert.Contains(t, m.request.prompt, "user: structured question")
	})
}

func TestShouldSummarize(t *testing.T) {
	t.Run("empty log never summarizes", func(t *testing.T) {
		s := NewSummarizer(&fakeModel{})
		assert.False(t, s.ShouldSummarize(nil))
	})

	t.Run("no checks means any non-empty log", func(t *testing.T) {
		s := NewSummarizer(&fakeModel{})
		assert.True(t, s.ShouldSummarize(chatLog()))
	})

	t.Run("message threshold", func(t *testing.T) {
		s := NewSummarizer(&fakeModel{}, WithMessageThreshold(10))
		assert.False(t, s.ShouldSummarize(chatLog()))

		long := make([]model.Message, 0, 12)
		for i := 0; i < 12; i++ {
			long = append(long, model.NewUserMessage("hi"))
		}
		assert.True(t, s.ShouldSummarize(long))
	})

	t.Run("token threshold", func(t *testing.T) {
		s := NewSummarizer(&fakeModel{}, WithTokenThreshold(100))
		assert.False(t, s.ShouldSummarize([]model.Message{model.NewUserMessage("hi")}))
		assert.True(t, s.ShouldSummarize([]model.Message{
			model.NewUserMessage(strings.Repeat("wordy ", 200)),
		}))
	})

	t.Run("all checks must pass", func(t *testing.T) {
		s := NewSummarizer(&fakeModel{},
			WithMessageThreshold(2),
			WithTokenThreshold(1_000_000))
		assert.False(t, s.ShouldSummarize(chatLog()))
	})
}

func TestCheckerComposition(t *testing.T) {
	yes := Checker(func([]model.Message) bool { return true })
	no := Checker(func([]model.Message) bool { return false })
	log := chatLog()

	assert.True(t, ChecksAll([]Checker{yes, yes})(log))
	assert.False(t, ChecksAll([]Checker{yes, no})(log))
	assert.True(t, ChecksAny([]Checker{no, yes})(log))
	assert.False(t, ChecksAny([]Checker{no, no})(log))
}
