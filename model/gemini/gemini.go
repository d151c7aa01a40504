//
// Tencent is pleased to support the open source community by making trpc-agent-core available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-core is licensed under the Apache License Version 2.0.
//
//

// Package gemini provides a model implementation backed by the Google Gemini API.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-core/model"
	"trpc.group/trpc-go/trpc-agent-core/tool"
)

const (
	functionToolType = "function"

	defaultChannelBufferSize = 256

	// GoogleAPIKeyEnv is the environment variable consulted when no API key
	// option is provided.
	GoogleAPIKeyEnv = "GOOGLE_API_KEY"
)

// Model implements the model.Model interface using the Gemini API.
//
// Cache markers carried by messages are dropped during conversion: Gemini
// applies implicit prefix caching and has no per-block cache annotations.
type Model struct {
	client                *genai.Client
	name                  string
	contextWindowTokens   int
	channelBufferSize     int
	generateContentConfig *genai.GenerateContentConfig
}

type options struct {
	apiKey                string
	contextWindowTokens   int
	channelBufferSize     int
	clientConfig          *genai.ClientConfig
	generateContentConfig *genai.GenerateContentConfig
}

// Option configures the Gemini model.
type Option func(*options)

// WithAPIKey sets the API key. Falls back to GOOGLE_API_KEY when unset.
func WithAPIKey(key string) Option {
	return func(o *options) {
		o.apiKey = key
	}
}

// WithContextWindowTokens declares the model's context window size so budget
// accounting can size prompts. Zero means unknown.
func WithContextWindowTokens(n int) Option {
	return func(o *options) {
		o.contextWindowTokens = n
	}
}

// WithChannelBufferSize sets the response channel buffer size.
func WithChannelBufferSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.channelBufferSize = size
		}
	}
}

// WithClientConfig supplies a full client configuration, for example to use
// the Vertex AI backend. It takes precedence over WithAPIKey.
func WithClientConfig(cfg *genai.ClientConfig) Option {
	return func(o *options) {
		o.clientConfig = cfg
	}
}

// WithGenerateContentConfig sets default generation parameters applied to
// every request. Per-request parameters override matching fields.
func WithGenerateContentConfig(cfg *genai.GenerateContentConfig) Option {
	return func(o *options) {
		o.generateContentConfig = cfg
	}
}

// New creates a Gemini model. The context is used for client construction
// only, not for subsequent calls.
func New(ctx context.Context, name string, opts ...Option) (*Model, error) {
	o := &options{
		channelBufferSize: defaultChannelBufferSize,
	}
	for _, opt := range opts {
		opt(o)
	}

	cfg := o.clientConfig
	if cfg == nil {
		apiKey := o.apiKey
		if apiKey == "" {
			apiKey = os.Getenv(GoogleAPIKeyEnv)
		}
		if apiKey == "" {
			return nil, errors.New("gemini: API key is required (set WithAPIKey or GOOGLE_API_KEY)")
		}
		cfg = &genai.ClientConfig{
			APIKey:  apiKey,
			Backend: genai.BackendGeminiAPI,
		}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Model{
		client:                client,
		name:                  name,
		contextWindowTokens:   o.contextWindowTokens,
		channelBufferSize:     o.channelBufferSize,
		generateContentConfig: o.generateContentConfig,
	}, nil
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
	contents, system := convertMessages(request.Messages)
	config := m.buildConfig(request, system)

	responseChan := make(chan *model.Response, m.channelBufferSize)
	go func() {
		defer close(responseChan)
		if request.Stream {
			m.handleStreamingResponse(ctx, contents, config, responseChan)
			return
		}
		m.handleNonStreamingResponse(ctx, contents, config, responseChan)
	}()
	return responseChan, nil
}

// convertMessages translates the request log into Gemini contents plus an
// optional system instruction. System messages never become turns on this
// API, and tool results travel as user turns carrying function responses.
func convertMessages(messages []model.Message) ([]*genai.Content, *genai.Content) {
	var (
		contents   []*genai.Content
		systemText string
	)
	// Function responses must echo the declaration name, which only the
	// originating call carries.
	callNames := make(map[string]string)

	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			if text := messageText(msg); text != "" {
				if systemText != "" {
					systemText += "\n\n"
				}
				systemText += text
			}
		case model.RoleAssistant:
			var parts []*genai.Part
			if text := messageText(msg); text != "" {
				parts = append(parts, genai.NewPartFromText(text))
			}
			for _, call := range msg.ToolCalls {
				if call.ID != "" {
					callNames[call.ID] = call.Function.Name
				}
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   call.ID,
					Name: call.Function.Name,
					Args: parseCallArgs(call.Function.Arguments),
				}})
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: parts})
		case model.RoleTool:
			part := &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       msg.ToolID,
				Name:     callNames[msg.ToolID],
				Response: responsePayload(msg),
			}}
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{part},
			})
		default:
			text := messageText(msg)
			if text == "" {
				continue
			}
			contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
		}
	}

	var system *genai.Content
	if systemText != "" {
		system = genai.NewContentFromText(systemText, genai.RoleUser)
	}
	return contents, system
}

// messageText flattens a message to plain text, ignoring cache markers and
// non-text parts.
func messageText(msg model.Message) string {
	if len(msg.ContentParts) == 0 {
		return msg.Content
	}
	var text string
	for _, part := range msg.ContentParts {
		if part.Type != model.ContentTypeText || part.Text == nil {
			continue
		}
		text += *part.Text
	}
	return text
}

// parseCallArgs decodes recorded call arguments for replay. Malformed or
// empty arguments degrade to an empty object rather than failing the turn.
func parseCallArgs(raw []byte) map[string]any {
	args := make(map[string]any)
	if len(raw) == 0 {
		return args
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return map[string]any{}
	}
	return args
}

// responsePayload shapes a tool result for the function response part.
// JSON object results pass through structurally, everything else is wrapped.
func responsePayload(msg model.Message) map[string]any {
	if msg.ToolStatus == model.ToolStatusError {
		return map[string]any{"error": msg.Content}
	}
	var structured map[string]any
	if err := json.Unmarshal([]byte(msg.Content), &structured); err == nil && structured != nil {
		return structured
	}
	return map[string]any{"output": msg.Content}
}

// buildConfig merges the model's default generation config with per-request
// parameters.
func (m *Model) buildConfig(request *model.Request, system *genai.Content) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if m.generateContentConfig != nil {
		clone := *m.generateContentConfig
		config = &clone
	}
	if system != nil {
		config.SystemInstruction = system
	}
	if request.MaxTokens != nil {
		config.MaxOutputTokens = int32(*request.MaxTokens)
	}
	if request.Temperature != nil {
		config.Temperature = float32Ptr(*request.Temperature)
	}
	if request.TopP != nil {
		config.TopP = float32Ptr(*request.TopP)
	}
	if request.PresencePenalty != nil {
		config.PresencePenalty = float32Ptr(*request.PresencePenalty)
	}
	if request.FrequencyPenalty != nil {
		config.FrequencyPenalty = float32Ptr(*request.FrequencyPenalty)
	}
	if len(request.Stop) > 0 {
		config.StopSequences = request.Stop
	}
	if len(request.Tools) > 0 {
		config.Tools = convertTools(request.Tools)
	}
	return config
}

func float32Ptr(v float64) *float32 {
	f := float32(v)
	return &f
}

// convertTools bundles every declaration into a single genai tool.
func convertTools(tools map[string]tool.Tool) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decl := t.Declaration()
		if decl == nil {
			continue
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        decl.Name,
			Description: decl.Description,
			Parameters:  convertSchema(decl.InputSchema),
		})
	}
	if len(declarations) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// convertSchema maps a tool schema onto the genai schema model.
func convertSchema(s *tool.Schema) *genai.Schema {
	if s == nil {
		return &genai.Schema{Type: genai.TypeObject}
	}
	out := &genai.Schema{
		Description: s.Description,
		Required:    s.Required,
	}
	switch s.Type {
	case "string":
		out.Type = genai.TypeString
	case "number":
		out.Type = genai.TypeNumber
	case "integer":
		out.Type = genai.TypeInteger
	case "boolean":
		out.Type = genai.TypeBoolean
	case "array":
		out.Type = genai.TypeArray
		if s.Items != nil {
			out.Items = convertSchema(s.Items)
		}
	default:
		out.Type = genai.TypeObject
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = convertSchema(prop)
		}
	}
	return out
}

// generation accumulates model output across stream chunks until the final
// response can be assembled.
type generation struct {
	text      string
	reasoning string
	toolCalls []model.ToolCall
	usage     *model.Usage
	finish    genai.FinishReason
}

// absorb folds one API response into the accumulated state and reports the
// visible text and reasoning deltas it contributed.
func (g *generation) absorb(response *genai.GenerateContentResponse) (textDelta, reasoningDelta string) {
	if response == nil {
		return "", ""
	}
	if len(response.Candidates) > 0 {
		candidate := response.Candidates[0]
		if candidate.Content != nil {
			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}
				switch {
				case part.FunctionCall != nil:
					g.toolCalls = append(g.toolCalls, convertFunctionCall(part.FunctionCall, len(g.toolCalls)))
				case part.Thought && part.Text != "":
					reasoningDelta += part.Text
				case part.Text != "":
					textDelta += part.Text
				}
			}
		}
		if candidate.FinishReason != "" {
			g.finish = candidate.FinishReason
		}
	}
	if meta := response.UsageMetadata; meta != nil {
		g.usage = &model.Usage{
			PromptTokens:     int(meta.PromptTokenCount),
			CompletionTokens: int(meta.CandidatesTokenCount),
			TotalTokens:      int(meta.TotalTokenCount),
		}
	}
	g.text += textDelta
	g.reasoning += reasoningDelta
	return textDelta, reasoningDelta
}

// convertFunctionCall maps a function call part to a tool call, synthesizing
// an identifier when the API omits one.
func convertFunctionCall(fc *genai.FunctionCall, index int) model.ToolCall {
	args, err := json.Marshal(fc.Args)
	if err != nil || fc.Args == nil {
		args = []byte("{}")
	}
	id := fc.ID
	if id == "" {
		id = fmt.Sprintf("auto_call_%d", index)
	}
	idx := index
	return model.ToolCall{
		Index: &idx,
		ID:    id,
		Type:  functionToolType,
		Function: model.FunctionDefinitionParam{
			Name:      fc.Name,
			Arguments: args,
		},
	}
}

func (m *Model) handleStreamingResponse(
	ctx context.Context,
	contents []*genai.Content,
	config *genai.GenerateContentConfig,
	responseChan chan<- *model.Response,
) {
	responseID := uuid.New().String()
	g := &generation{}

	for response, err := range m.client.Models.GenerateContentStream(ctx, m.name, contents, config) {
		if err != nil {
			m.sendError(ctx, responseChan, model.ErrorTypeStreamError, err.Error())
			return
		}
		textDelta, reasoningDelta := g.absorb(response)
		if textDelta == "" && reasoningDelta == "" {
			continue
		}
		partial := &model.Response{
			ID:        responseID,
			Object:    model.ObjectTypeChatCompletionChunk,
			Created:   time.Now().Unix(),
			Model:     m.name,
			Timestamp: time.Now(),
			Done:      false,
			IsPartial: true,
			Choices: []model.Choice{{
				Index: 0,
				Delta: model.Message{
					Role:             model.RoleAssistant,
					Content:          textDelta,
					ReasoningContent: reasoningDelta,
				},
			}},
		}
		select {
		case responseChan <- partial:
		case <-ctx.Done():
			return
		}
	}

	select {
	case responseChan <- m.finalResponse(responseID, g):
	case <-ctx.Done():
	}
}

func (m *Model) handleNonStreamingResponse(
	ctx context.Context,
	contents []*genai.Content,
	config *genai.GenerateContentConfig,
	responseChan chan<- *model.Response,
) {
	response, err := m.client.Models.GenerateContent(ctx, m.name, contents, config)
	if err != nil {
		m.sendError(ctx, responseChan, model.ErrorTypeAPIError, err.Error())
		return
	}
	g := &generation{}
	g.absorb(response)
	select {
	case responseChan <- m.finalResponse(uuid.New().String(), g):
	case <-ctx.Done():
	}
}

// finalResponse assembles the terminal response from accumulated output.
func (m *Model) finalResponse(responseID string, g *generation) *model.Response {
	message := model.Message{
		Role:             model.RoleAssistant,
		Content:          g.text,
		ReasoningContent: g.reasoning,
		ToolCalls:        g.toolCalls,
	}
	hasToolCall := len(g.toolCalls) > 0

	finishReason := mapFinishReason(g.finish)
	if hasToolCall {
		finishReason = "tool_calls"
	}

	response := &model.Response{
		ID:        responseID,
		Object:    model.ObjectTypeChatCompletion,
		Created:   time.Now().Unix(),
		Model:     m.name,
		Timestamp: time.Now(),
		Done:      !hasToolCall,
		IsPartial: false,
		Usage:     g.usage,
		Choices: []model.Choice{{
			Index:   0,
			Message: message,
		}},
	}
	if finishReason != "" {
		response.Choices[0].FinishReason = &finishReason
	}
	return response
}

// mapFinishReason normalizes Gemini finish reasons onto the shared vocabulary.
func mapFinishReason(reason genai.FinishReason) string {
	switch reason {
	case "":
		return ""
	case genai.FinishReasonStop:
		return "stop"
	case genai.FinishReasonMaxTokens:
		return "length"
	default:
		return string(reason)
	}
}

// sendError delivers an API failure as a structured error response,
// preserving the provider message verbatim.
func (m *Model) sendError(
	ctx context.Context,
	responseChan chan<- *model.Response,
	errorType string,
	message string,
) {
	errorResponse := &model.Response{
		Object:    model.ObjectTypeError,
		Created:   time.Now().Unix(),
		Model:     m.name,
		Timestamp: time.Now(),
		Done:      true,
		Error: &model.ResponseError{
			Message: message,
			Type:    errorType,
		},
	}
	select {
	case responseChan <- errorResponse:
	case <-ctx.Done():
	}
}
