//
// Tencent is pleased to support the open source community by making trpc-agent-core available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-core is licensed under the Apache License Version 2.0.
//
//

// Package summary produces the durable conversation summary that survives a
// context reset. The summarizer condenses a message log through a model call;
// checker predicates decide when a log has grown enough to be worth it.
package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"trpc.group/trpc-go/trpc-agent-core/model"
)

const (
	// conversationTextPlaceholder is replaced with the extracted conversation.
	conversationTextPlaceholder = "{conversation_text}"
	// maxSummaryWordsPlaceholder is replaced with the configured word cap.
	maxSummaryWordsPlaceholder = "{max_summary_words}"
)

// defaultPrompt builds the summarization prompt. The word cap instruction is
// included only when a cap is configured.
func defaultPrompt(maxWords int) string {
	basePrompt := "Analyze the following conversation between a user and an " +
		"assistant, and provide a concise summary focusing on important " +
		"information that would be helpful for future interactions. Keep the " +
		"summary concise and to the point. Only include relevant information. " +
		"Do not make anything up."

	if maxWords > 0 {
		basePrompt += " Please keep the summary within " + maxSummaryWordsPlaceholder + " words."
	}

	return basePrompt + "\n\n" +
		"<conversation>\n" + conversationTextPlaceholder + "\n" +
		"</conversation>\n\n" +
		"Summary:"
}

// Summarizer condenses a message log into a short durable summary.
type Summarizer struct {
	model           model.Model
	prompt          string
	checks          []Checker
	maxSummaryWords int
}

// NewSummarizer creates a summarizer backed by the given model.
func NewSummarizer(m model.Model, opts ...Option) *Summarizer {
	s := &Summarizer{model: m}
	for _, opt := range opts {
		opt(s)
	}
	if s.prompt == "" {
		s.prompt = defaultPrompt(s.maxSummaryWords)
	}
	return s
}

// ShouldSummarize reports whether the log passed every configured check. An
// empty log never summarizes; with no checks configured, any non-empty log
// does.
func (s *Summarizer) ShouldSummarize(messages []model.Message) bool {
	if len(messages) == 0 {
		return false
	}
	for _, check := range s.checks {
		if !check(messages) {
			return false
		}
	}
	return true
}

// Summarize generates a summary of the given messages. The input log is not
// modified; callers store the result on their agent context.
func (s *Summarizer) Summarize(ctx context.Context, messages []model.Message) (string, error) {
	if s.model == nil {
		return "", errors.New("no model configured for summarization")
	}
	conversationText := extractConversationText(messages)
	if conversationText == "" {
		return "", fmt.Errorf("no conversation text to summarize (messages=%d)", len(messages))
	}
	return s.generateSummary(ctx, conversationText)
}

// extractConversationText flattens the log into "role: content" lines.
// System messages are instructions rather than conversation and are skipped.
func extractConversationText(messages []model.Message) string {
	var parts []string
	for _, msg := range messages {
		if msg.Role == model.RoleSystem {
			continue
		}
		content := messageText(msg)
		if content == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", msg.Role, strings.TrimSpace(content)))
	}
	return strings.Join(parts, "\n")
}

// messageText returns the plain content, falling back to the text blocks of a
// structured message.
func messageText(msg model.Message) string {
	if msg.Content != "" {
		return msg.Content
	}
	var texts []string
	for _, part := range msg.ContentParts {
		if part.Text != nil && *part.Text != "" {
			texts = append(texts, *part.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func (s *Summarizer) generateSummary(ctx context.Context, conversationText string) (string, error) {
	prompt := strings.Replace(s.prompt, conversationTextPlaceholder, conversationText, 1)
	if s.maxSummaryWords > 0 {
		prompt = strings.Replace(prompt, maxSummaryWordsPlaceholder, fmt.Sprintf("%d", s.maxSummaryWords), 1)
	} else {
		prompt = strings.Replace(prompt, maxSummaryWordsPlaceholder, "", 1)
	}

	request := &model.Request{
		Messages: []model.Message{model.NewUserMessage(prompt)},
		GenerationConfig: model.GenerationConfig{
			Stream: false,
		},
	}

	responseChan, err := s.model.GenerateContent(ctx, request)
	if err != nil {
		return "", fmt.Errorf("generate summary: %w", err)
	}

	var summary strings.Builder
	for response := range responseChan {
		if response.Error != nil {
			return "", fmt.Errorf("model error during summarization: %s", response.Error.Message)
		}
		if len(response.Choices) > 0 {
			summary.WriteString(response.Choices[0].Message.Content)
		}
		if response.Done {
			break
		}
	}

	result := strings.TrimSpace(summary.String())
	if result == "" {
		return "", fmt.Errorf("generated empty summary (input_chars=%d)", len(conversationText))
	}
	return result, nil
}
