//
// Tencent is pleased to support the open source community by making trpc-agent-core available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-core is licensed under the Apache License Version 2.0.
//
//

// Package function wraps plain Go functions as callable tools, deriving the
// input and output JSON schemas from the function's types.
package function

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	itool "trpc.group/trpc-go/trpc-agent-core/internal/tool"
	"trpc.group/trpc-go/trpc-agent-core/tool"
)

// Func is the shape a wrapped function must have.
type Func[I, O any] func(ctx context.Context, input I) (O, error)

// Tool implements tool.CallableTool for one wrapped function.
type Tool[I, O any] struct {
	name         string
	description  string
	inputSchema  *tool.Schema
	outputSchema *tool.Schema
	fn           Func[I, O]
}

// Option configures a function tool.
type Option func(*options)

type options struct {
	name        string
	description string
}

// WithName sets the tool name the model calls it by.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithDescription sets the tool description shown to the model.
func WithDescription(description string) Option {
	return func(o *options) {
		o.description = description
	}
}

// New wraps fn as a callable tool. The input schema is derived by reflection
// from I, the output schema from O.
func New[I, O any](fn Func[I, O], opts ...Option) *Tool[I, O] {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	var (
		emptyI I
		emptyO O
	)
	return &Tool[I, O]{
		name:         o.name,
		description:  o.description,
		fn:           fn,
		inputSchema:  itool.GenerateJSONSchema(reflect.TypeOf(emptyI)),
		outputSchema: itool.GenerateJSONSchema(reflect.TypeOf(emptyO)),
	}
}

// Call unmarshals the JSON arguments into I and invokes the wrapped
// function. Empty arguments invoke it with the zero value.
func (t *Tool[I, O]) Call(ctx context.Context, jsonArgs []byte) (any, error) {
	var input I
	if len(jsonArgs) > 0 {
		if err := json.Unmarshal(jsonArgs, &input); err != nil {
			return nil, fmt.Errorf("tool %s: malformed arguments: %w", t.name, err)
		}
	}
	output, err := t.fn(ctx, input)
	if err != nil {
		return nil, err
	}
	return output, nil
}

// Declaration returns the tool's metadata and schemas.
func (t *Tool[I, O]) Declaration() *tool.Declaration {
	return &tool.Declaration{
		Name:         t.name,
		Description:  t.description,
		InputSchema:  t.inputSchema,
		OutputSchema: t.outputSchema,
	}
}
