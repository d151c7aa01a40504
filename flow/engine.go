//
// Tencent is pleased to support the open source community by making trpc-agent-core available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-core is licensed under the Apache License Version 2.0.
//
//

// Package flow runs turns: it wires the history reducer, pruning, budget
// accounting, cache marker injection, and the model call into a loop, and
// executes the tool calls each model response requests.
package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"

	"trpc.group/trpc-go/trpc-agent-core/agent"
	"trpc.group/trpc-go/trpc-agent-core/artifact"
	"trpc.group/trpc-go/trpc-agent-core/log"
	"trpc.group/trpc-go/trpc-agent-core/model"
	"trpc.group/trpc-go/trpc-agent-core/overflow"
	"trpc.group/trpc-go/trpc-agent-core/telemetry"
	"trpc.group/trpc-go/trpc-agent-core/tool"
)

const (
	// ErrorToolNotFound is the result content for a call naming no known tool.
	ErrorToolNotFound = "Error: tool not found"
	// ErrorToolExecution is the result content prefix for a failed tool call.
	ErrorToolExecution = "Error: tool execution failed"
	// ErrorMarshalResult is the result content for an unmarshalable result.
	ErrorMarshalResult = "Error: failed to marshal result"

	// correctiveHint tells the model how to recover from a failed call.
	correctiveHint = "Please fix the arguments or choose a different tool, then try again."

	// serverToolCallPrefix marks tool calls the provider executed server-side.
	serverToolCallPrefix = "srvtoolu_"

	defaultParallelism = 4
)

// ToolErrorCallback observes contained tool failures. It runs isolated: a
// panic inside it is logged and never escalated.
type ToolErrorCallback func(ctx context.Context, call model.ToolCall, err error)

// ToolSetGenerator replaces the runtime tool set for one engine invocation,
// keyed on the assistant message's tool calls. Returning nil keeps the agent
// context's tools.
type ToolSetGenerator func(calls []model.ToolCall) map[string]tool.CallableTool

// Outcome is the engine's output for one assistant response: the tool-result
// messages in original call order, plus the coalesced routing Command when
// any tool handed off.
type Outcome struct {
	// Messages is the new state delta, in tool-call order.
	Messages []model.Message

	// Command aggregates every routing target produced by the batch. Nil
	// when no tool routed.
	Command *agent.Command
}

// Engine executes the tool calls of one assistant response: concurrent
// dispatch, per-call containment, and routing Command coalescing.
type Engine struct {
	parallelism   int
	containErrors bool
	onToolError   ToolErrorCallback
	toolSetFor    ToolSetGenerator
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithParallelism bounds the dispatch pool size.
func WithParallelism(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.parallelism = n
		}
	}
}

// WithoutErrorContainment makes tool failures abort the batch instead of
// turning into error-status result messages.
func WithoutErrorContainment() EngineOption {
	return func(e *Engine) {
		e.containErrors = false
	}
}

// WithToolErrorCallback registers a callback observing contained failures.
func WithToolErrorCallback(cb ToolErrorCallback) EngineOption {
	return func(e *Engine) {
		e.onToolError = cb
	}
}

// WithToolSetGenerator installs a per-invocation tool set generator for
// just-in-time tool loading.
func WithToolSetGenerator(gen ToolSetGenerator) EngineOption {
	return func(e *Engine) {
		e.toolSetFor = gen
	}
}

// NewEngine creates a tool execution engine. Error containment is on by
// default.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		parallelism:   defaultParallelism,
		containErrors: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// dispatchResult is the outcome of one tool dispatch. Exactly one of message,
// command, or err is meaningful.
type dispatchResult struct {
	message model.Message
	command *agent.Command
	err     error
}

// Execute runs the tool calls of the assistant message in rsp against the
// given log. Calls already answered in the log and server-executed calls are
// skipped; the rest dispatch concurrently with per-call containment. A nil
// response or one without an assistant message is fatal.
func (e *Engine) Execute(
	ctx context.Context,
	invocation *agent.Invocation,
	agentCtx *agent.Context,
	messages []model.Message,
	rsp *model.Response,
) (*Outcome, error) {
	if agentCtx == nil {
		return nil, ErrNoAgentContext
	}
	assistant, err := assistantMessage(rsp)
	if err != nil {
		return nil, err
	}

	pending := pendingCalls(messages, assistant.ToolCalls)
	if len(pending) == 0 {
		return &Outcome{}, nil
	}

	var toolset map[string]tool.CallableTool
	if e.toolSetFor != nil {
		toolset = e.toolSetFor(assistant.ToolCalls)
	}

	results := make([]dispatchResult, len(pending))
	pool, err := ants.NewPool(e.parallelism)
	if err != nil {
		return nil, fmt.Errorf("create dispatch pool: %w", err)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for i, call := range pending {
		wg.Add(1)
		index, tc := i, call
		if submitErr := pool.Submit(func() {
			defer wg.Done()
			results[index] = e.dispatch(ctx, invocation, agentCtx, toolset, tc)
		}); submitErr != nil {
			wg.Done()
			results[index] = dispatchResult{err: fmt.Errorf("submit dispatch for %s: %w", tc.Function.Name, submitErr)}
		}
	}
	wg.Wait()

	// Cancellation of the surrounding engine is always re-raised.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outcome := &Outcome{}
	var targets []string
	var routed []model.Message
	for _, r := range results {
		if r.err != nil {
			return nil, r.err
		}
		if r.command != nil {
			targets = append(targets, r.command.TargetAgents...)
			routed = append(routed, r.command.Messages...)
			continue
		}
		outcome.Messages = append(outcome.Messages, r.message)
	}
	if len(targets) > 0 {
		outcome.Command = &agent.Command{TargetAgents: targets, Messages: routed}
	}
	return outcome, nil
}

// dispatch runs a single tool call with panic recovery and containment.
func (e *Engine) dispatch(
	ctx context.Context,
	invocation *agent.Invocation,
	agentCtx *agent.Context,
	toolset map[string]tool.CallableTool,
	call model.ToolCall,
) (res dispatchResult) {
	ctx, span := telemetry.Tracer.Start(ctx,
		fmt.Sprintf("%s %s", telemetry.SpanNamePrefixExecuteTool, call.Function.Name))
	defer span.End()

	var declaration *tool.Declaration
	defer func() {
		if res.err == nil && res.command == nil {
			telemetry.TraceToolCall(span, declaration, call.Function.Arguments, res.message)
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("tool %s panicked (id=%s, agent=%s): %v",
				call.Function.Name, call.ID, agentCtx.AgentName(), r)
			res = e.contain(ctx, call, fmt.Errorf("tool panic: %v", r))
		}
	}()

	callable, found := lookupTool(toolset, agentCtx, call.Function.Name)
	if !found {
		log.Errorf("tool %s not found (agent=%s)", call.Function.Name, agentCtx.AgentName())
		notFound := fmt.Errorf("%w: %q", ErrToolNotFound, call.Function.Name)
		if !e.containErrors {
			return dispatchResult{err: notFound}
		}
		e.notifyToolError(ctx, call, notFound)
		return dispatchResult{message: errorResult(call, ErrorToolNotFound)}
	}
	declaration = callable.Declaration()

	ordinal := agentCtx.MarkToolUsed(call.Function.Name)
	callCtx := agent.NewCallContext(ctx, agent.CallInfo{
		InvocationID: invocation.InvocationID,
		AgentName:    agentCtx.AgentName(),
		Step:         invocation.Step,
		CallID:       call.ID,
		Ordinal:      ordinal,
	})

	log.Debugf("executing tool %s (ordinal=%d) with args: %s",
		call.Function.Name, ordinal, string(call.Function.Arguments))

	result, err := callable.Call(callCtx, call.Function.Arguments)
	if err != nil {
		return e.contain(ctx, call, err)
	}
	return e.wrapResult(ctx, invocation, call, result)
}

// contain converts a tool failure into an error-status result message when
// containment is on. Cancellation is re-raised, never swallowed.
func (e *Engine) contain(ctx context.Context, call model.ToolCall, err error) dispatchResult {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return dispatchResult{err: ctxErr}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return dispatchResult{err: err}
	}
	if !e.containErrors {
		return dispatchResult{err: err}
	}

	log.Errorf("tool %s failed (id=%s): %v", call.Function.Name, call.ID, err)
	e.notifyToolError(ctx, call, err)
	return dispatchResult{message: errorResult(call, fmt.Sprintf("%s: %v. %s", ErrorToolExecution, err, correctiveHint))}
}

// notifyToolError runs the error callback isolated from the dispatch.
func (e *Engine) notifyToolError(ctx context.Context, call model.ToolCall, err error) {
	if e.onToolError == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("tool error callback panicked for %s: %v", call.Function.Name, r)
		}
	}()
	e.onToolError(ctx, call, err)
}

// wrapResult turns a tool's return value into a result message or routing
// command. Ready-made tool messages and Commands pass through; strings become
// the result content; everything else is JSON-marshaled.
func (e *Engine) wrapResult(
	ctx context.Context,
	invocation *agent.Invocation,
	call model.ToolCall,
	result any,
) dispatchResult {
	switch v := result.(type) {
	case *agent.Command:
		return dispatchResult{command: v}
	case agent.Command:
		return dispatchResult{command: &v}
	case model.Message:
		if v.Role == model.RoleTool {
			if v.ToolID == "" {
				v.ToolID = call.ID
			}
			if v.ToolStatus == "" {
				v.ToolStatus = model.ToolStatusSuccess
			}
			e.saveArtifact(ctx, invocation, call, &v)
			return dispatchResult{message: e.truncate(invocation, v)}
		}
	case string:
		return dispatchResult{message: e.truncate(invocation, successResult(call, v))}
	}

	raw, err := json.Marshal(result)
	if err != nil {
		log.Errorf("failed to marshal result of %s: %v", call.Function.Name, err)
		return dispatchResult{message: errorResult(call, ErrorMarshalResult)}
	}
	return dispatchResult{message: e.truncate(invocation, successResult(call, string(raw)))}
}

// saveArtifact persists the side-channel payload of a tool result when an
// artifact service is configured. Failures are logged, not escalated.
func (e *Engine) saveArtifact(ctx context.Context, invocation *agent.Invocation, call model.ToolCall, msg *model.Message) {
	if msg.Artifact == nil || invocation == nil || invocation.ArtifactService == nil {
		return
	}
	name := msg.Artifact.Name
	if name == "" {
		name = call.ID
	}
	runInfo := artifact.RunInfo{
		AppName: invocation.AgentName,
		RunID:   invocation.InvocationID,
	}
	if _, err := invocation.ArtifactService.SaveArtifact(ctx, runInfo, name, msg.Artifact); err != nil {
		log.Errorf("failed to save artifact %s of tool %s: %v", name, call.Function.Name, err)
	}
}

// truncate applies the ingestion-time size cap to a result message.
func (e *Engine) truncate(invocation *agent.Invocation, msg model.Message) model.Message {
	window := 0
	if invocation != nil && invocation.Model != nil {
		window = invocation.Model.Info().ContextWindowTokens
	}
	budget := overflow.MaxToolResultChars(window)
	if len(msg.Content) > budget {
		msg.Content = overflow.TruncateToolResult(msg.Content, budget)
	}
	return msg
}

// pendingCalls filters out calls already answered in the log and calls the
// provider executed server-side.
func pendingCalls(messages []model.Message, calls []model.ToolCall) []model.ToolCall {
	answered := make(map[string]struct{})
	for _, msg := range messages {
		if msg.Role == model.RoleTool && msg.ToolID != "" {
			answered[msg.ToolID] = struct{}{}
		}
	}

	pending := make([]model.ToolCall, 0, len(calls))
	for _, call := range calls {
		if _, ok := answered[call.ID]; ok {
			continue
		}
		if strings.HasPrefix(call.ID, serverToolCallPrefix) {
			continue
		}
		pending = append(pending, call)
	}
	return pending
}

// lookupTool resolves a tool name against the generated tool set, falling
// back to the agent context's tools.
func lookupTool(toolset map[string]tool.CallableTool, agentCtx *agent.Context, name string) (tool.CallableTool, bool) {
	if toolset != nil {
		t, ok := toolset[name]
		return t, ok && t != nil
	}
	t, ok := agentCtx.Tool(name)
	if !ok {
		return nil, false
	}
	callable, ok := t.(tool.CallableTool)
	return callable, ok
}

// assistantMessage extracts the assistant message driving the engine.
func assistantMessage(rsp *model.Response) (model.Message, error) {
	if rsp == nil || len(rsp.Choices) == 0 {
		return model.Message{}, ErrNoAssistantMessage
	}
	msg := rsp.Choices[0].Message
	if msg.Role != model.RoleAssistant {
		return model.Message{}, fmt.Errorf("%w: got role %q", ErrNoAssistantMessage, msg.Role)
	}
	return msg, nil
}

// successResult builds a success-status tool result for the given call.
func successResult(call model.ToolCall, content string) model.Message {
	msg := model.NewToolMessage(call.ID, content)
	msg.ToolStatus = model.ToolStatusSuccess
	return msg
}

// errorResult builds an error-status tool result for the given call.
func errorResult(call model.ToolCall, content string) model.Message {
	msg := model.NewToolMessage(call.ID, content)
	msg.ToolStatus = model.ToolStatusError
	return msg
}
