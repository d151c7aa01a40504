//
// Tencent is pleased to support the open source community by making trpc-agent-core available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-core is licensed under the Apache License Version 2.0.
//
//

package flow

import "errors"

var (
	// ErrNoAssistantMessage reports that the engine input carried no
	// assistant message to execute tool calls from.
	ErrNoAssistantMessage = errors.New("no assistant message in response")

	// ErrNoModel reports that the invocation carries no model to call.
	ErrNoModel = errors.New("invocation has no model")

	// ErrNoAgentContext reports a missing agent context.
	ErrNoAgentContext = errors.New("agent context is required")

	// ErrMaxStepsExceeded reports that the turn loop hit its step ceiling
	// without the model finishing.
	ErrMaxStepsExceeded = errors.New("turn exceeded maximum engine steps")

	// ErrToolNotFound reports a tool call naming no resolvable tool. It only
	// escapes Execute when error containment is off.
	ErrToolNotFound = errors.New("tool not found")
)
