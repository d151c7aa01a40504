//
// Tencent is pleased to support the open source community by making trpc-agent-core available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-core is licensed under the Apache License Version 2.0.
//
//

package history

import "errors"

var (
	// ErrUnknownRemovalTarget indicates a removal message targeting an ID
	// that is not present in the log. This is a caller programming error and
	// is never ignored.
	ErrUnknownRemovalTarget = errors.New("removal target not found in log")

	// ErrOrphanToolResult indicates a tool-result message whose ToolID does
	// not reference a tool call earlier in the log.
	ErrOrphanToolResult = errors.New("tool result references unknown tool call")
)
