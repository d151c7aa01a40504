//
// Tencent is pleased to support the open source community by making trpc-agent-core available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-core is licensed under the Apache License Version 2.0.
//
//

package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-agent-core/agent"
	"trpc.group/trpc-go/trpc-agent-core/event"
	"trpc.group/trpc-go/trpc-agent-core/history"
	"trpc.group/trpc-go/trpc-agent-core/log"
	"trpc.group/trpc-go/trpc-agent-core/model"
	"trpc.group/trpc-go/trpc-agent-core/overflow"
	"trpc.group/trpc-go/trpc-agent-core/promptcache"
	"trpc.group/trpc-go/trpc-agent-core/telemetry"
	"trpc.group/trpc-go/trpc-agent-core/tool"
)

const (
	defaultChannelBufferSize = 256

	// defaultMaxSteps bounds the model-call/tool-execution loop of one turn.
	defaultMaxSteps = 50

	// summaryPrefix introduces the durable summary inside the system message.
	summaryPrefix = "Summary of the conversation so far:\n"
)

// Flow drives one agent turn: it assembles the provider request from the
// conversation log, calls the model, executes the requested tools through the
// engine, folds the results back into the log, and repeats until the model
// answers without tool calls or a tool routes to another agent.
type Flow struct {
	engine            *Engine
	channelBufferSize int
	maxSteps          int
	pruning           *history.PruningSettings
	placement         promptcache.Placement
}

// Option configures a Flow.
type Option func(*Flow)

// WithEngine replaces the default tool execution engine.
func WithEngine(e *Engine) Option {
	return func(f *Flow) {
		if e != nil {
			f.engine = e
		}
	}
}

// WithChannelBufferSize sets the event channel buffer size.
func WithChannelBufferSize(n int) Option {
	return func(f *Flow) {
		if n > 0 {
			f.channelBufferSize = n
		}
	}
}

// WithMaxSteps caps the number of engine steps in one turn.
func WithMaxSteps(n int) Option {
	return func(f *Flow) {
		if n > 0 {
			f.maxSteps = n
		}
	}
}

// WithPruning enables log pruning during request assembly.
func WithPruning(settings history.PruningSettings) Option {
	return func(f *Flow) {
		settings.Enabled = true
		normalized := settings.Normalize()
		f.pruning = &normalized
	}
}

// WithCachePlacement enables prompt-cache marker injection for the given
// provider family. Injection runs last in request assembly, after pruning
// and budget fitting.
func WithCachePlacement(p promptcache.Placement) Option {
	return func(f *Flow) {
		f.placement = p
	}
}

// New creates a Flow with a default engine.
func New(opts ...Option) *Flow {
	f := &Flow{
		engine:            NewEngine(),
		channelBufferSize: defaultChannelBufferSize,
		maxSteps:          defaultMaxSteps,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Run executes the turn loop and streams its events. The seed messages pass
// through the reducer first, so removal sentinels and duplicate IDs resolve
// before the first model call. The returned channel closes when the turn
// ends; errors surface as error events.
func (f *Flow) Run(
	ctx context.Context,
	invocation *agent.Invocation,
	agentCtx *agent.Context,
	seed []model.Message,
) (<-chan *event.Event, error) {
	if invocation == nil || invocation.Model == nil {
		return nil, ErrNoModel
	}
	if agentCtx == nil {
		return nil, ErrNoAgentContext
	}
	messages, err := history.Merge(nil, seed)
	if err != nil {
		return nil, fmt.Errorf("merge seed messages: %w", err)
	}

	eventChan := make(chan *event.Event, f.channelBufferSize)
	go func() {
		defer close(eventChan)
		f.loop(ctx, invocation, agentCtx, messages, eventChan)
	}()
	return eventChan, nil
}

// loop runs engine steps until the turn produces a final response, routes,
// fails, or hits the step cap.
func (f *Flow) loop(
	ctx context.Context,
	invocation *agent.Invocation,
	agentCtx *agent.Context,
	messages []model.Message,
	eventChan chan<- *event.Event,
) {
	inv := invocation
	for {
		if inv.Step > f.maxSteps {
			log.Errorf("turn for agent %s exceeded %d steps", inv.AgentName, f.maxSteps)
			f.emit(ctx, eventChan, event.NewErrorEvent(
				inv.InvocationID, inv.AgentName, model.ErrorTypeFlowError, ErrMaxStepsExceeded.Error()))
			return
		}

		updated, done, err := f.runOneStep(ctx, inv, agentCtx, messages, eventChan)
		messages = updated
		if err != nil {
			// Client-side cancellation ends the turn without an error event.
			if errors.Is(err, context.Canceled) {
				log.Debugf("turn canceled for agent %s, exiting", inv.AgentName)
				return
			}
			log.Errorf("step %d failed for agent %s: %v", inv.Step, inv.AgentName, err)
			f.emit(ctx, eventChan, event.NewErrorEvent(
				inv.InvocationID, inv.AgentName, model.ErrorTypeFlowError, err.Error()))
			return
		}
		if done {
			return
		}
		inv = inv.NextStep()
	}
}

// runOneStep performs one model call and executes its tool calls. It returns
// the updated log and whether the turn is over. A model error classified as
// context overflow triggers one tool-result truncation pass and a single
// retry.
func (f *Flow) runOneStep(
	ctx context.Context,
	inv *agent.Invocation,
	agentCtx *agent.Context,
	messages []model.Message,
	eventChan chan<- *event.Event,
) ([]model.Message, bool, error) {
	request, err := f.buildRequest(ctx, agentCtx, messages)
	if err != nil {
		return messages, false, err
	}

	final, err := f.callModel(ctx, inv, agentCtx, request, eventChan)
	var oerr *overflowError
	if errors.As(err, &oerr) {
		if !oerr.definite {
			log.Warnf("treating model error as context overflow for agent %s: %s", inv.AgentName, oerr.message)
		}
		messages = shrinkToolResults(messages, contextWindow(inv))
		if request, err = f.buildRequest(ctx, agentCtx, messages); err != nil {
			return messages, false, err
		}
		final, err = f.callModel(ctx, inv, agentCtx, request, eventChan)
		if errors.As(err, &oerr) {
			return messages, false, fmt.Errorf("context overflow persists after truncation: %s", oerr.message)
		}
	}
	if err != nil {
		return messages, false, err
	}

	assistant, err := assistantMessage(final)
	if err != nil {
		return messages, false, err
	}
	messages, err = history.Merge(messages, []model.Message{assistant})
	if err != nil {
		return messages, false, fmt.Errorf("merge assistant message: %w", err)
	}
	if len(assistant.ToolCalls) == 0 {
		return messages, true, nil
	}

	outcome, err := f.engine.Execute(ctx, inv, agentCtx, messages, final)
	if err != nil {
		return messages, false, err
	}
	if len(outcome.Messages) > 0 {
		messages, err = history.Merge(messages, outcome.Messages)
		if err != nil {
			return messages, false, fmt.Errorf("merge tool results: %w", err)
		}
		f.emit(ctx, eventChan, toolResponseEvent(inv, outcome.Messages))
	}
	if outcome.Command != nil {
		f.emit(ctx, eventChan, transferEvent(inv, outcome.Command))
		return messages, true, nil
	}
	return messages, false, nil
}

// buildRequest assembles the provider request: prune, account tokens, fit the
// log to the remaining budget, prepend the system message, then inject cache
// markers last.
func (f *Flow) buildRequest(
	ctx context.Context,
	agentCtx *agent.Context,
	messages []model.Message,
) (*model.Request, error) {
	working := messages
	if f.pruning != nil {
		working = history.Prune(working, *f.pruning)
	}

	agentCtx.StartTokenCalculation(ctx)
	if err := agentCtx.AwaitTokenCalculation(); err != nil {
		return nil, fmt.Errorf("token accounting: %w", err)
	}
	fit, err := agentCtx.FitMessages(ctx, working)
	if err != nil {
		return nil, fmt.Errorf("fit messages: %w", err)
	}

	outbound := make([]model.Message, 0, len(fit)+1)
	if sys := f.systemMessage(agentCtx); sys != "" {
		outbound = append(outbound, model.NewSystemMessage(sys))
	}
	outbound = append(outbound, fit...)
	if f.placement != "" {
		outbound = promptcache.Inject(outbound, f.placement)
	}

	tools := make(map[string]tool.Tool)
	for _, t := range agentCtx.ToolsForBinding() {
		if decl := t.Declaration(); decl != nil {
			tools[decl.Name] = t
		}
	}

	request := &model.Request{
		Messages: outbound,
		Tools:    tools,
	}
	request.Stream = true
	return request, nil
}

// systemMessage composes the instructions and the durable summary.
func (f *Flow) systemMessage(agentCtx *agent.Context) string {
	sys := agentCtx.Instructions()
	if summary := agentCtx.Summary(); summary != "" {
		if sys != "" {
			sys += "\n\n"
		}
		sys += summaryPrefix + summary
	}
	return sys
}

// callModel streams one model call, emitting chunk events, and returns the
// final aggregated response. Error responses classified as overflow come
// back as *overflowError.
func (f *Flow) callModel(
	ctx context.Context,
	inv *agent.Invocation,
	agentCtx *agent.Context,
	request *model.Request,
	eventChan chan<- *event.Event,
) (*model.Response, error) {
	if err := agentCtx.WaitStream(ctx); err != nil {
		return nil, err
	}
	ctx, span := telemetry.Tracer.Start(ctx, telemetry.SpanNameCallModel)
	defer span.End()

	responseChan, err := inv.Model.GenerateContent(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}

	var final *model.Response
	for response := range responseChan {
		if response == nil {
			continue
		}
		if response.Error != nil {
			if verdict := overflow.Classify(response.Error.Message); verdict.ShouldRetry() {
				return nil, &overflowError{message: response.Error.Message, definite: verdict.Definite}
			}
			return nil, fmt.Errorf("model error: %s", response.Error.Message)
		}
		f.emit(ctx, eventChan, event.New(inv.InvocationID, inv.AgentName,
			event.WithResponse(response), event.WithStep(inv.Step)))
		if !response.IsPartial {
			final = response
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	if final == nil {
		return nil, errors.New("model stream ended without a final response")
	}
	telemetry.TraceModelCall(span, inv, request, final)
	return final, nil
}

// emit sends an event unless the context is already done.
func (f *Flow) emit(ctx context.Context, eventChan chan<- *event.Event, e *event.Event) bool {
	select {
	case eventChan <- e:
		return true
	case <-ctx.Done():
		return false
	}
}

// overflowError marks a model error classified as context overflow.
type overflowError struct {
	message  string
	definite bool
}

func (e *overflowError) Error() string {
	return "context overflow: " + e.message
}

// shrinkToolResults truncates every tool result above the ingestion cap.
// When all results already fit the cap, it halves the cap so the retry
// actually shrinks the prompt.
func shrinkToolResults(messages []model.Message, contextWindowTokens int) []model.Message {
	budget := overflow.MaxToolResultChars(contextWindowTokens)
	oversized := false
	for _, msg := range messages {
		if msg.Role == model.RoleTool && len(msg.Content) > budget {
			oversized = true
			break
		}
	}
	if !oversized {
		budget /= 2
	}

	out := make([]model.Message, len(messages))
	copy(out, messages)
	for i := range out {
		if out[i].Role == model.RoleTool && len(out[i].Content) > budget {
			out[i].Content = overflow.TruncateToolResult(out[i].Content, budget)
		}
	}
	return out
}

func contextWindow(inv *agent.Invocation) int {
	if inv == nil || inv.Model == nil {
		return 0
	}
	return inv.Model.Info().ContextWindowTokens
}

// toolResponseEvent bundles the tool results of one engine step into a
// single event.
func toolResponseEvent(inv *agent.Invocation, results []model.Message) *event.Event {
	now := time.Now()
	choices := make([]model.Choice, len(results))
	for i, msg := range results {
		choices[i] = model.Choice{Index: i, Message: msg}
	}
	rsp := &model.Response{
		ID:        uuid.New().String(),
		Object:    model.ObjectTypeToolResponse,
		Created:   now.Unix(),
		Choices:   choices,
		Timestamp: now,
	}
	return event.New(inv.InvocationID, inv.AgentName,
		event.WithResponse(rsp), event.WithStep(inv.Step))
}

// transferEvent carries the coalesced routing command to the host executor.
func transferEvent(inv *agent.Invocation, cmd *agent.Command) *event.Event {
	now := time.Now()
	rsp := &model.Response{
		ID:        uuid.New().String(),
		Object:    model.ObjectTypeTransfer,
		Created:   now.Unix(),
		Done:      true,
		Timestamp: now,
	}
	return event.New(inv.InvocationID, inv.AgentName,
		event.WithResponse(rsp), event.WithStep(inv.Step), event.WithCommand(cmd))
}
