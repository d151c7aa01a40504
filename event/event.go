//
// Tencent is pleased to support the open source community by making trpc-agent-core available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-core is licensed under the Apache License Version 2.0.
//
//

// Package event provides the event stream emitted by a running turn.
package event

import (
	"time"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-agent-core/agent"
	"trpc.group/trpc-go/trpc-agent-core/model"
)

// Event is one element of the stream a turn produces: a model response or
// tool outcome stamped with who produced it and in which invocation.
type Event struct {
	// Response is the base struct for all model response functionality.
	*model.Response

	// InvocationID is the invocation ID of the event.
	InvocationID string `json:"invocationId"`

	// Author is the name of the agent that produced the event.
	Author string `json:"author"`

	// ID is the unique identifier of the event.
	ID string `json:"id"`

	// Timestamp is the timestamp of the event.
	Timestamp time.Time `json:"timestamp"`

	// Step is the ordinal of the engine step that produced the event,
	// starting at 1 for the first model call of the turn.
	Step int `json:"step,omitempty"`

	// Command carries the routing hand-off produced by tool execution, for
	// the host graph executor. Nil for ordinary events.
	Command *agent.Command `json:"command,omitempty"`
}

// Clone creates a deep copy of the event.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Response = e.Response.Clone()
	return &clone
}

// Option is a function that can be used to configure the Event.
type Option func(*Event)

// WithResponse sets the response for the event.
func WithResponse(response *model.Response) Option {
	return func(e *Event) {
		e.Response = response
	}
}

// WithObject sets the object for the event.
func WithObject(o string) Option {
	return func(e *Event) {
		e.Object = o
	}
}

// WithStep sets the engine step ordinal for the event.
func WithStep(step int) Option {
	return func(e *Event) {
		e.Step = step
	}
}

// WithCommand attaches a routing hand-off to the event.
func WithCommand(cmd *agent.Command) Option {
	return func(e *Event) {
		e.Command = cmd
	}
}

// New creates a new Event with generated ID and timestamp.
func New(invocationID, author string, opts ...Option) *Event {
	e := &Event{
		Response:     &model.Response{},
		ID:           uuid.New().String(),
		Timestamp:    time.Now(),
		InvocationID: invocationID,
		Author:       author,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewErrorEvent creates a new error Event with the specified error details.
func NewErrorEvent(invocationID, author, errorType, errorMessage string) *Event {
	return &Event{
		Response: &model.Response{
			Object: model.ObjectTypeError,
			Done:   true,
			Error: &model.ResponseError{
				Type:    errorType,
				Message: errorMessage,
			},
		},
		ID:           uuid.New().String(),
		Timestamp:    time.Now(),
		InvocationID: invocationID,
		Author:       author,
	}
}

// NewResponseEvent creates a new Event from a model Response.
func NewResponseEvent(invocationID, author string, response *model.Response) *Event {
	return &Event{
		Response:     response,
		ID:           uuid.New().String(),
		Timestamp:    time.Now(),
		InvocationID: invocationID,
		Author:       author,
	}
}
