//
// Tencent is pleased to support the open source community by making trpc-agent-core available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-core is licensed under the Apache License Version 2.0.
//
//

package summary

// Option configures a Summarizer.
type Option func(*Summarizer)

// WithPrompt sets a custom summarization prompt. The prompt must include the
// placeholder {conversation_text}, which is replaced with the extracted
// conversation.
func WithPrompt(prompt string) Option {
	return func(s *Summarizer) {
		if prompt != "" {
			s.prompt = prompt
		}
	}
}

// WithMaxSummaryWords caps the summary length. The cap goes into the prompt
// to guide generation; the output is never truncated. A value <= 0 means no
// cap.
func WithMaxSummaryWords(maxWords int) Option {
	return func(s *Summarizer) {
		if maxWords > 0 {
			s.maxSummaryWords = maxWords
		}
	}
}

// WithMessageThreshold adds a message-count check.
func WithMessageThreshold(messageCount int) Option {
	return func(s *Summarizer) {
		s.checks = append(s.checks, CheckMessageThreshold(messageCount))
	}
}

// WithTokenThreshold adds an estimated-token-total check.
func WithTokenThreshold(tokenCount int) Option {
	return func(s *Summarizer) {
		s.checks = append(s.checks, CheckTokenThreshold(tokenCount))
	}
}

// WithChecksAll appends one composite check requiring all the given checks.
func WithChecksAll(checks ...Checker) Option {
	return func(s *Summarizer) {
		if len(checks) > 0 {
			s.checks = append(s.checks, ChecksAll(checks))
		}
	}
}

// WithChecksAny appends one composite check passing when any given check
// passes.
func WithChecksAny(checks ...Checker) Option {
	return func(s *Summarizer) {
		if len(checks) > 0 {
			s.checks = append(s.checks, ChecksAny(checks))
		}
	}
}
