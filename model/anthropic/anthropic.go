//
// Tencent is pleased to support the open source community by making trpc-agent-core available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-core is licensed under the Apache License Version 2.0.
//
//

// Package anthropic provides a model implementation backed by the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"

	"trpc.group/trpc-go/trpc-agent-core/model"
	"trpc.group/trpc-go/trpc-agent-core/tool"
)

const (
	functionToolType = "function"

	// defaultChannelBufferSize is the default response channel buffer size.
	defaultChannelBufferSize = 256

	// defaultMaxTokens caps generation when the request does not set a
	// limit. The Messages API rejects requests without max_tokens.
	defaultMaxTokens = 4096
)

// Model implements the model.Model interface for the Anthropic Messages API.
// Inline cache hints on text parts are forwarded as cache_control markers;
// cache-point sibling parts belong to boundary-block providers and are
// dropped here.
type Model struct {
	client                  anthropic.Client
	name                    string
	baseURL                 string
	apiKey                  string
	contextWindowTokens     int
	channelBufferSize       int
	maxTokens               int
	messageRequestCallback  MessageRequestCallbackFunc
	messageResponseCallback MessageResponseCallbackFunc
	streamEventCallback     StreamEventCallbackFunc
}

// MessageRequestCallbackFunc is called before sending a message request.
type MessageRequestCallbackFunc func(
	ctx context.Context,
	request *anthropic.MessageNewParams,
)

// MessageResponseCallbackFunc is called after receiving a non-streaming
// message response.
type MessageResponseCallbackFunc func(
	ctx context.Context,
	request *anthropic.MessageNewParams,
	response *anthropic.Message,
)

// StreamEventCallbackFunc is called after receiving a streaming event.
type StreamEventCallbackFunc func(
	ctx context.Context,
	request *anthropic.MessageNewParams,
	event *anthropic.MessageStreamEventUnion,
)

// options contains configuration options for creating a Model.
type options struct {
	APIKey                  string
	BaseURL                 string
	ContextWindowTokens     int
	ChannelBufferSize       int
	MaxTokens               int
	Transport               http.RoundTripper
	MessageRequestCallback  MessageRequestCallbackFunc
	MessageResponseCallback MessageResponseCallbackFunc
	StreamEventCallback     StreamEventCallbackFunc
	AnthropicOptions        []anthropicopt.RequestOption
}

// Option is a function that configures an Anthropic model.
type Option func(*options)

// WithAPIKey sets the API key for the Anthropic client.
func WithAPIKey(key string) Option {
	return func(opts *options) {
		opts.APIKey = key
	}
}

// WithBaseURL sets the base URL for Anthropic-compatible APIs.
func WithBaseURL(url string) Option {
	return func(opts *options) {
		opts.BaseURL = url
	}
}

// WithContextWindowTokens declares the model's context window size so the
// runtime can budget tokens and size tool results.
func WithContextWindowTokens(tokens int) Option {
	return func(opts *options) {
		opts.ContextWindowTokens = tokens
	}
}

// WithChannelBufferSize sets the response channel buffer size.
func WithChannelBufferSize(size int) Option {
	return func(opts *options) {
		if size <= 0 {
			size = defaultChannelBufferSize
		}
		opts.ChannelBufferSize = size
	}
}

// WithDefaultMaxTokens sets the max_tokens value used when a request does
// not carry one.
func WithDefaultMaxTokens(tokens int) Option {
	return func(opts *options) {
		if tokens > 0 {
			opts.MaxTokens = tokens
		}
	}
}

// WithTransport sets the HTTP transport for the underlying client.
func WithTransport(transport http.RoundTripper) Option {
	return func(opts *options) {
		opts.Transport = transport
	}
}

// WithMessageRequestCallback sets the function called before sending a
// message request.
func WithMessageRequestCallback(fn MessageRequestCallbackFunc) Option {
	return func(opts *options) {
		opts.MessageRequestCallback = fn
	}
}

// WithMessageResponseCallback sets the function called after receiving a
// non-streaming message response.
func WithMessageResponseCallback(fn MessageResponseCallbackFunc) Option {
	return func(opts *options) {
		opts.MessageResponseCallback = fn
	}
}

// WithStreamEventCallback sets the function called after receiving a
// streaming event.
func WithStreamEventCallback(fn StreamEventCallbackFunc) Option {
	return func(opts *options) {
		opts.StreamEventCallback = fn
	}
}

// WithAnthropicOptions passes request options through to the Anthropic
// client.
func WithAnthropicOptions(anthropicOpts ...anthropicopt.RequestOption) Option {
	return func(opts *options) {
		opts.AnthropicOptions = append(opts.AnthropicOptions, anthropicOpts...)
	}
}

// New creates a new Anthropic model.
func New(name string, opts ...Option) *Model {
	o := &options{
		ChannelBufferSize: defaultChannelBufferSize,
		MaxTokens:         defaultMaxTokens,
	}
	for _, opt := range opts {
		opt(o)
	}

	var clientOpts []anthropicopt.RequestOption
	if o.APIKey != "" {
		clientOpts = append(clientOpts, anthropicopt.WithAPIKey(o.APIKey))
	}
	if o.BaseURL != "" {
		clientOpts = append(clientOpts, anthropicopt.WithBaseURL(o.BaseURL))
	}
	if o.Transport != nil {
		clientOpts = append(clientOpts, anthropicopt.WithHTTPClient(&http.Client{Transport: o.Transport}))
	}
	clientOpts = append(clientOpts, o.AnthropicOptions...)

	return &Model{
		client:                  anthropic.NewClient(clientOpts...),
		name:                    name,
		baseURL:                 o.BaseURL,
		apiKey:                  o.APIKey,
		contextWindowTokens:     o.ContextWindowTokens,
		channelBufferSize:       o.ChannelBufferSize,
		maxTokens:               o.MaxTokens,
		messageRequestCallback:  o.MessageRequestCallback,
		messageResponseCallback: o.MessageResponseCallback,
		streamEventCallback:     o.StreamEventCallback,
	}
}

// Info implements the model.Model interface.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:                m.name,
		ContextWindowTokens: m.contextWindowTokens,
	}
}

// GenerateContent implements the model.Model interface.
func (m *Model) GenerateContent(
	ctx context.Context,
	request *model.Request,
) (<-chan *model.Response, error) {
	if request == nil {
		return nil, errors.New("request cannot be nil")
	}

	responseChan := make(chan *model.Response, m.channelBufferSize)

	messages, systemBlocks := m.convertMessages(request.Messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.name),
		Messages:  messages,
		MaxTokens: int64(m.maxTokens),
		Tools:     m.convertTools(request.Tools),
	}
	if len(systemBlocks) > 0 {
		params.System = systemBlocks
	}
	if request.MaxTokens != nil {
		params.MaxTokens = int64(*request.MaxTokens)
	}
	if request.Temperature != nil {
		params.Temperature = anthropic.Float(*request.Temperature)
	}
	if request.TopP != nil {
		params.TopP = anthropic.Float(*request.TopP)
	}
	if len(request.Stop) > 0 {
		params.StopSequences = request.Stop
	}
	// The Messages API has no penalty or reasoning-effort parameters, so
	// those request fields are not forwarded.

	go func() {
		defer close(responseChan)

		if m.messageRequestCallback != nil {
			m.messageRequestCallback(ctx, &params)
		}

		if request.Stream {
			m.handleStreamingResponse(ctx, params, responseChan)
		} else {
			m.handleNonStreamingResponse(ctx, params, responseChan)
		}
	}()

	return responseChan, nil
}

// convertMessages converts our Message format to Anthropic's format. System
// messages are returned separately: the Messages API takes them as a request
// parameter, not as conversation turns.
func (m *Model) convertMessages(messages []model.Message) ([]anthropic.MessageParam, []anthropic.TextBlockParam) {
	var systemBlocks []anthropic.TextBlockParam
	result := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			systemBlocks = append(systemBlocks, m.convertSystemBlocks(msg)...)
		case model.RoleAssistant:
			blocks := m.convertContentBlocks(msg)
			for _, call := range msg.ToolCalls {
				blocks = append(blocks, toolUseBlock(call))
			}
			if len(blocks) == 0 {
				continue
			}
			result = append(result, anthropic.NewAssistantMessage(blocks...))
		case model.RoleTool:
			// Tool results travel as user turns on this API.
			result = append(result, anthropic.NewUserMessage(toolResultBlock(msg)))
		default: // Default to user message if role is unknown.
			blocks := m.convertContentBlocks(msg)
			if len(blocks) == 0 {
				continue
			}
			result = append(result, anthropic.NewUserMessage(blocks...))
		}
	}

	return result, systemBlocks
}

// convertSystemBlocks converts a system message into system text blocks,
// keeping inline cache hints.
func (m *Model) convertSystemBlocks(msg model.Message) []anthropic.TextBlockParam {
	var blocks []anthropic.TextBlockParam
	if msg.Content != "" {
		blocks = append(blocks, anthropic.TextBlockParam{Text: msg.Content})
	}
	for _, part := range msg.ContentParts {
		if part.Type != model.ContentTypeText || part.Text == nil {
			continue
		}
		block := anthropic.TextBlockParam{Text: *part.Text}
		if part.CacheControl != nil {
			block.CacheControl = anthropic.NewCacheControlEphemeralParam()
		}
		blocks = append(blocks, block)
	}
	return blocks
}

// convertContentBlocks converts message content to content blocks. Inline
// cache hints become cache_control markers, cache-point parts are dropped.
func (m *Model) convertContentBlocks(msg model.Message) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion
	if msg.Content != "" {
		blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
	}
	for _, part := range msg.ContentParts {
		if part.Type != model.ContentTypeText || part.Text == nil {
			continue
		}
		block := anthropic.NewTextBlock(*part.Text)
		if part.CacheControl != nil && block.OfText != nil {
			block.OfText.CacheControl = anthropic.NewCacheControlEphemeralParam()
		}
		blocks = append(blocks, block)
	}
	return blocks
}

// toolUseBlock converts an assistant tool call into a tool_use block.
func toolUseBlock(call model.ToolCall) anthropic.ContentBlockParamUnion {
	input := json.RawMessage(call.Function.Arguments)
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	return anthropic.ContentBlockParamUnion{
		OfToolUse: &anthropic.ToolUseBlockParam{
			ID:    call.ID,
			Name:  call.Function.Name,
			Input: input,
		},
	}
}

// toolResultBlock converts a tool-result message into a tool_result block.
func toolResultBlock(msg model.Message) anthropic.ContentBlockParamUnion {
	block := anthropic.ToolResultBlockParam{
		ToolUseID: msg.ToolID,
	}
	if msg.ToolStatus == model.ToolStatusError {
		block.IsError = anthropic.Bool(true)
	}
	if msg.Content != "" {
		block.Content = []anthropic.ToolResultBlockParamContentUnion{
			{OfText: &anthropic.TextBlockParam{Text: msg.Content}},
		}
	}
	return anthropic.ContentBlockParamUnion{OfToolResult: &block}
}

func (m *Model) convertTools(tools map[string]tool.Tool) []anthropic.ToolUnionParam {
	var result []anthropic.ToolUnionParam
	for _, t := range tools {
		declaration := t.Declaration()
		inputSchema := anthropic.ToolInputSchemaParam{}
		if schema := declaration.InputSchema; schema != nil {
			if len(schema.Properties) > 0 {
				inputSchema.Properties = schema.Properties
			}
			inputSchema.Required = schema.Required
		}
		toolParam := anthropic.ToolUnionParamOfTool(inputSchema, declaration.Name)
		if declaration.Description != "" && toolParam.OfTool != nil {
			toolParam.OfTool.Description = anthropic.String(declaration.Description)
		}
		result = append(result, toolParam)
	}
	return result
}

// handleStreamingResponse handles streaming message responses.
func (m *Model) handleStreamingResponse(
	ctx context.Context,
	params anthropic.MessageNewParams,
	responseChan chan<- *model.Response,
) {
	stream := m.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			m.sendError(ctx, responseChan, model.ErrorTypeStreamError,
				fmt.Sprintf("accumulate stream event: %v", err))
			return
		}

		if m.streamEventCallback != nil {
			m.streamEventCallback(ctx, &params, &event)
		}

		partial := m.createPartialResponse(event, &message)
		if partial == nil {
			continue
		}
		select {
		case responseChan <- partial:
		case <-ctx.Done():
			return
		}
	}
	if err := stream.Err(); err != nil {
		m.sendError(ctx, responseChan, model.ErrorTypeStreamError, err.Error())
		return
	}

	select {
	case responseChan <- m.createFinalResponse(&message):
	case <-ctx.Done():
	}
}

// createPartialResponse converts one stream event into a partial response,
// or nil for events with nothing visible to surface. Tool-use input deltas
// are assembled in the final response only.
func (m *Model) createPartialResponse(
	event anthropic.MessageStreamEventUnion,
	message *anthropic.Message,
) *model.Response {
	var delta model.Message
	var finishReason *string

	switch event.Type {
	case "content_block_delta":
		switch event.Delta.Type {
		case "text_delta":
			delta = model.Message{
				Role:    model.RoleAssistant,
				Content: event.Delta.Text,
			}
		case "thinking_delta":
			delta = model.Message{
				Role:             model.RoleAssistant,
				ReasoningContent: event.Delta.Thinking,
			}
		default:
			return nil
		}
	case "message_delta":
		if event.Delta.StopReason == "" {
			return nil
		}
		reason := mapStopReason(anthropic.StopReason(event.Delta.StopReason))
		finishReason = &reason
		delta = model.Message{Role: model.RoleAssistant}
	default:
		return nil
	}

	modelName := string(message.Model)
	if modelName == "" {
		modelName = m.name
	}

	return &model.Response{
		ID:        message.ID,
		Object:    model.ObjectTypeChatCompletionChunk,
		Model:     modelName,
		Timestamp: time.Now(),
		Done:      false,
		IsPartial: true,
		Choices: []model.Choice{{
			Delta:        delta,
			FinishReason: finishReason,
		}},
	}
}

// createFinalResponse creates the final response from the accumulated
// message.
func (m *Model) createFinalResponse(message *anthropic.Message) *model.Response {
	var textContent string
	var reasoningContent string
	var toolCalls []model.ToolCall

	for _, block := range message.Content {
		switch block.Type {
		case "text":
			textContent += block.Text
		case "thinking":
			reasoningContent += block.Thinking
		case "tool_use":
			index := len(toolCalls)
			// Synthesize a stable ID when the provider omits one so
			// results pair up.
			id := block.ID
			if id == "" {
				id = fmt.Sprintf("auto_call_%d", index)
			}
			toolCalls = append(toolCalls, model.ToolCall{
				Index: &index,
				ID:    id,
				Type:  functionToolType,
				Function: model.FunctionDefinitionParam{
					Name:      block.Name,
					Arguments: []byte(block.Input),
				},
			})
		}
	}

	hasToolCall := len(toolCalls) > 0
	modelName := string(message.Model)
	if modelName == "" {
		modelName = m.name
	}

	response := &model.Response{
		ID:        message.ID,
		Object:    model.ObjectTypeChatCompletion,
		Created:   time.Now().Unix(),
		Model:     modelName,
		Timestamp: time.Now(),
		Done:      !hasToolCall,
		IsPartial: false,
		Choices: []model.Choice{{
			Message: model.Message{
				Role:             model.RoleAssistant,
				Content:          textContent,
				ReasoningContent: reasoningContent,
				ToolCalls:        toolCalls,
			},
		}},
	}
	if reason := mapStopReason(message.StopReason); reason != "" {
		response.Choices[0].FinishReason = &reason
	}
	if usage := convertUsage(message.Usage); usage != nil {
		response.Usage = usage
	}
	return response
}

// handleNonStreamingResponse handles non-streaming message responses.
func (m *Model) handleNonStreamingResponse(
	ctx context.Context,
	params anthropic.MessageNewParams,
	responseChan chan<- *model.Response,
) {
	message, err := m.client.Messages.New(ctx, params)
	if m.messageResponseCallback != nil {
		m.messageResponseCallback(ctx, &params, message)
	}
	if err != nil {
		m.sendError(ctx, responseChan, model.ErrorTypeAPIError, err.Error())
		return
	}

	select {
	case responseChan <- m.createFinalResponse(message):
	case <-ctx.Done():
	}
}

// sendError sends an error response preserving the provider message
// verbatim.
func (m *Model) sendError(
	ctx context.Context,
	responseChan chan<- *model.Response,
	errorType string,
	message string,
) {
	errorResponse := &model.Response{
		Error: &model.ResponseError{
			Message: message,
			Type:    errorType,
		},
		Timestamp: time.Now(),
		Done:      true,
	}
	select {
	case responseChan <- errorResponse:
	case <-ctx.Done():
	}
}

// mapStopReason normalizes Anthropic stop reasons to the finish reasons the
// rest of the runtime expects.
func mapStopReason(reason anthropic.StopReason) string {
	switch reason {
	case anthropic.StopReasonEndTurn, anthropic.StopReasonStopSequence:
		return "stop"
	case anthropic.StopReasonMaxTokens:
		return "length"
	case anthropic.StopReasonToolUse:
		return "tool_calls"
	default:
		return string(reason)
	}
}

func convertUsage(usage anthropic.Usage) *model.Usage {
	if usage.InputTokens == 0 && usage.OutputTokens == 0 {
		return nil
	}
	return &model.Usage{
		PromptTokens:     int(usage.InputTokens),
		CompletionTokens: int(usage.OutputTokens),
		TotalTokens:      int(usage.InputTokens + usage.OutputTokens),
	}
}
