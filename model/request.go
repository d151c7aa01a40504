//
// Tencent is pleased to support the open source community by making trpc-agent-core available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-core is licensed under the Apache License Version 2.0.
//
//

package model

import (
	"trpc.group/trpc-go/trpc-agent-core/artifact"
	"trpc.group/trpc-go/trpc-agent-core/tool"
)

// Role represents the role of a message author.
type Role string

// Role constants for message authors. RoleRemove marks a removal sentinel
// that is consumed by the conversation reducer and never persisted.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleRemove    Role = "remove"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// IsValid checks if the role is one of the defined constants.
func (r Role) IsValid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool, RoleRemove:
		return true
	default:
		return false
	}
}

// RemoveAllID is the distinguished removal target: a removal message carrying
// this ID truncates the conversation log to everything merged after it.
const RemoveAllID = "__remove_all__"

// ContentType identifies the type of a content part.
type ContentType string

// Content part type constants.
const (
	ContentTypeText ContentType = "text"
	// ContentTypeCachePoint is a standalone cache boundary inserted between
	// sibling parts. Providers that cache by boundary block (Bedrock family)
	// consume it; all others ignore it.
	ContentTypeCachePoint ContentType = "cache_point"
)

// CacheControlEphemeral is the only cache control type currently defined.
const CacheControlEphemeral = "ephemeral"

// CacheControl is an inline prompt-cache annotation attached to a content
// part. Providers that cache by annotated prefix (Anthropic family) consume
// it; all others ignore it.
type CacheControl struct {
	Type string `json:"type"`
}

// ContentPart is one typed block of message content.
type ContentPart struct {
	Type ContentType `json:"type"`

	// Text is set for ContentTypeText parts.
	Text *string `json:"text,omitempty"`

	// CacheControl marks this part as a cache prefix boundary.
	CacheControl *CacheControl `json:"cache_control,omitempty"`
}

// NewTextPart creates a plain text content part.
func NewTextPart(text string) ContentPart {
	return ContentPart{Type: ContentTypeText, Text: &text}
}

// NewCachePointPart creates a standalone cache boundary part.
func NewCachePointPart() ContentPart {
	return ContentPart{Type: ContentTypeCachePoint}
}

// Tool result status values carried on tool-result messages.
const (
	ToolStatusSuccess = "success"
	ToolStatusError   = "error"
)

// Message represents a single message in a conversation.
//
// Messages are immutable by convention: subsystems that need to alter one
// clone it first and return a new log rather than mutating in place.
type Message struct {
	// ID uniquely identifies the message within a conversation log.
	// The reducer assigns one when absent. For removal messages the ID is
	// the removal target.
	ID string `json:"id,omitempty"`

	// Role is the role of the message author.
	Role Role `json:"role"`

	// Content is the plain text content.
	Content string `json:"content"`

	// ReasoningContent carries provider reasoning output when present.
	ReasoningContent string `json:"reasoning_content,omitempty"`

	// ContentParts is the ordered multimodal content. When set it takes
	// precedence over Content for providers that support parts.
	ContentParts []ContentPart `json:"content_parts,omitempty"`

	// ToolID links a tool-result message to the tool call it answers.
	ToolID string `json:"tool_id,omitempty"`

	// ToolStatus marks a tool-result message as success or error.
	// Empty is treated as success.
	ToolStatus string `json:"tool_status,omitempty"`

	// ToolCalls holds the calls requested by an assistant message.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// Artifact is a structured side-channel payload attached to a
	// tool-result message. It is never serialized into provider requests.
	Artifact *artifact.Artifact `json:"-"`

	// Metadata carries provider response metadata (usage counts, stop
	// reasons) that should travel with the message.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) Message {
	return Message{
		Role:    RoleSystem,
		Content: content,
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return Message{
		Role:    RoleUser,
		Content: content,
	}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) Message {
	return Message{
		Role:    RoleAssistant,
		Content: content,
	}
}

// NewToolMessage creates a tool-result message answering the given call.
func NewToolMessage(toolID, content string) Message {
	return Message{
		Role:    RoleTool,
		ToolID:  toolID,
		Content: content,
	}
}

// NewRemovalMessage creates a removal sentinel targeting the given ID.
func NewRemovalMessage(targetID string) Message {
	return Message{
		Role: RoleRemove,
		ID:   targetID,
	}
}

// NewRemoveAllMessage creates the removal sentinel that clears the whole log.
func NewRemoveAllMessage() Message {
	return NewRemovalMessage(RemoveAllID)
}

// IsRemoval reports whether the message is a removal sentinel.
func (m Message) IsRemoval() bool {
	return m.Role == RoleRemove
}

// IsRemoveAll reports whether the message is the remove-all sentinel.
func (m Message) IsRemoveAll() bool {
	return m.Role == RoleRemove && m.ID == RemoveAllID
}

// Clone returns a copy that shares no mutable structure with the receiver.
// Artifact payloads are shared: they are write-once side channels.
func (m Message) Clone() Message {
	clone := m
	if m.ContentParts != nil {
		clone.ContentParts = make([]ContentPart, len(m.ContentParts))
		for i, part := range m.ContentParts {
			clone.ContentParts[i] = part
			if part.Text != nil {
				text := *part.Text
				clone.ContentParts[i].Text = &text
			}
			if part.CacheControl != nil {
				cc := *part.CacheControl
				clone.ContentParts[i].CacheControl = &cc
			}
		}
	}
	if m.ToolCalls != nil {
		clone.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		copy(clone.ToolCalls, m.ToolCalls)
	}
	if m.Metadata != nil {
		clone.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			clone.Metadata[k] = v
		}
	}
	return clone
}

// GenerationConfig contains configuration for text generation.
type GenerationConfig struct {
	// MaxTokens is the maximum number of tokens to generate.
	MaxTokens *int `json:"max_tokens,omitempty"`

	// Temperature controls randomness (0.0 to 2.0).
	Temperature *float64 `json:"temperature,omitempty"`

	// TopP controls nucleus sampling (0.0 to 1.0).
	TopP *float64 `json:"top_p,omitempty"`

	// Stream indicates whether to stream the response.
	Stream bool `json:"stream"`

	// Stop sequences where the API will stop generating further tokens.
	Stop []string `json:"stop,omitempty"`

	// PresencePenalty penalizes new tokens based on their existing frequency.
	PresencePenalty *float64 `json:"presence_penalty,omitempty"`

	// FrequencyPenalty penalizes new tokens based on their frequency in the text so far.
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`

	// ReasoningEffort limits the reasoning effort for reasoning models.
	// Supported values: "low", "medium", "high".
	ReasoningEffort *string `json:"reasoning_effort,omitempty"`
}

// Request is the request to the model.
type Request struct {
	// Messages is the conversation window visible to this call.
	Messages []Message `json:"messages"`

	// GenerationConfig contains the generation parameters.
	GenerationConfig `json:",inline"`

	Tools map[string]tool.Tool `json:"-"` // Tools are not serialized, handled separately
}

// ToolCall represents a call to a tool (function) in the model response.
type ToolCall struct {
	// Type of the tool. Currently, only `function` is supported.
	Type string `json:"type"`
	// Function definition for the tool.
	Function FunctionDefinitionParam `json:"function,omitempty"`
	// The ID of the tool call returned by the model.
	ID string `json:"id,omitempty"`

	// Index is the index of the tool call in the message for streaming responses.
	Index *int `json:"index,omitempty"`
}

// FunctionDefinitionParam describes the function invoked by a tool call.
type FunctionDefinitionParam struct {
	// The name of the function to be called. Must be a-z, A-Z, 0-9, or contain
	// underscores and dashes, with a maximum length of 64.
	Name string `json:"name"`
	// Whether to enable strict schema adherence when generating the function
	// call. If set to true, the model will follow the exact schema defined in
	// the `parameters` field.
	Strict bool `json:"strict,omitempty"`
	// A description of what the function does, used by the model to choose
	// when and how to call the function.
	Description string `json:"description,omitempty"`

	// Arguments to pass to the function, json-encoded.
	Arguments []byte `json:"arguments,omitempty"`
}
