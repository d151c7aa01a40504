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

	"trpc.group/trpc-go/trpc-agent-core/model"
)

// Checker decides whether a message log should be summarized. Multiple
// checkers compose with ChecksAll (AND) or ChecksAny (OR).
type Checker func(messages []model.Message) bool

// CheckMessageThreshold triggers once the log holds more than the given
// number of messages.
func CheckMessageThreshold(messageCount int) Checker {
	return func(messages []model.Message) bool {
		return len(messages) > messageCount
	}
}

// CheckTokenThreshold triggers once the estimated token total of the log
// exceeds the given count. The estimate is coarse but cheap enough to run on
// every turn.
func CheckTokenThreshold(tokenCount int) Checker {
	counter := model.NewSimpleTokenCounter()
	return func(messages []model.Message) bool {
		total, err := counter.CountTokensRange(context.Background(), messages, 0, len(messages))
		if err != nil {
			return false
		}
		return total > tokenCount
	}
}

// ChecksAll composes checkers with AND logic.
func ChecksAll(checks []Checker) Checker {
	return func(messages []model.Message) bool {
		for _, check := range checks {
			if !check(messages) {
				return false
			}
		}
		return true
	}
}

// ChecksAny composes checkers with OR logic.
func ChecksAny(checks []Checker) Checker {
	return func(messages []model.Message) bool {
		for _, check := range checks {
			if check(messages) {
				return true
			}
		}
		return false
	}
}
