//
// Tencent is pleased to support the open source community by making trpc-agent-core available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-core is licensed under the Apache License Version 2.0.
//
//

// Package agent holds the per-agent execution context: the token budget
// accountant, tool binding rules, and stream pacing shared by every turn an
// agent runs.
package agent

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"trpc.group/trpc-go/trpc-agent-core/model"
	"trpc.group/trpc-go/trpc-agent-core/tool"
)

// defaultMaxContextTokens is assumed when the model's window is unknown.
const defaultMaxContextTokens = 128_000

// Breakdown is the token budget snapshot of one agent context.
type Breakdown struct {
	// MaxContextTokens is the model's context window.
	MaxContextTokens int `json:"maxContextTokens"`

	// InstructionTokens covers the system prompt plus appended additional
	// instructions.
	InstructionTokens int `json:"instructionTokens"`

	// SystemMessageTokens covers the system prompt alone.
	SystemMessageTokens int `json:"systemMessageTokens"`

	// ToolSchemaTokens covers the JSON schemas of every bound tool.
	ToolSchemaTokens int `json:"toolSchemaTokens"`

	// SummaryTokens covers the durable conversation summary.
	SummaryTokens int `json:"summaryTokens"`

	// AvailableForMessages is what remains for conversation messages,
	// never negative.
	AvailableForMessages int `json:"availableForMessages"`
}

// Context owns the mutable per-agent state a turn reads: token accounting,
// the tool registry view, per-tool usage, and stream-call pacing. One Context
// serves one agent; the zero value is not usable, construct with NewContext.
type Context struct {
	agentName              string
	maxContextTokens       int
	counter                model.TokenCounter
	registry               tool.Registry
	tools                  map[string]tool.Tool
	systemPrompt           string
	additionalInstructions string
	minStreamInterval      time.Duration

	mu                  sync.Mutex
	calc                *errgroup.Group
	instructionTokens   int
	systemMessageTokens int
	toolSchemaTokens    int
	summary             string
	summaryTokens       int
	messageTokens       map[string]int
	toolUsage           map[string]int
	discovered          map[string]struct{}
	lastStreamCall      time.Time
	limiter             *rate.Limiter
}

// Option configures a Context.
type Option func(*Context)

// WithMaxContextTokens sets the model's context window in tokens.
func WithMaxContextTokens(tokens int) Option {
	return func(c *Context) {
		if tokens > 0 {
			c.maxContextTokens = tokens
		}
	}
}

// WithTokenCounter sets the token counter used for all accounting.
func WithTokenCounter(counter model.TokenCounter) Option {
	return func(c *Context) {
		if counter != nil {
			c.counter = counter
		}
	}
}

// WithRegistry sets the tool registry consulted for binding decisions.
func WithRegistry(registry tool.Registry) Option {
	return func(c *Context) {
		c.registry = registry
	}
}

// WithTools sets the tools available to the agent.
func WithTools(tools []tool.Tool) Option {
	return func(c *Context) {
		for _, t := range tools {
			if t == nil {
				continue
			}
			c.tools[t.Declaration().Name] = t
		}
	}
}

// WithSystemPrompt sets the agent's system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(c *Context) {
		c.systemPrompt = prompt
	}
}

// WithAdditionalInstructions appends instructions to the system prompt for
// accounting purposes.
func WithAdditionalInstructions(instructions string) Option {
	return func(c *Context) {
		c.additionalInstructions = instructions
	}
}

// WithMinStreamInterval enforces a minimum spacing between provider stream
// calls made on behalf of this agent.
func WithMinStreamInterval(interval time.Duration) Option {
	return func(c *Context) {
		c.minStreamInterval = interval
	}
}

// NewContext creates the execution context for one agent.
func NewContext(agentName string, opts ...Option) *Context {
	c := &Context{
		agentName:        agentName,
		maxContextTokens: defaultMaxContextTokens,
		counter:          model.NewSimpleTokenCounter(),
		tools:            make(map[string]tool.Tool),
		messageTokens:    make(map[string]int),
		toolUsage:        make(map[string]int),
		discovered:       make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.minStreamInterval > 0 {
		c.limiter = rate.NewLimiter(rate.Every(c.minStreamInterval), 1)
	}
	return c
}

// AgentName returns the name of the agent this context serves.
func (c *Context) AgentName() string {
	return c.agentName
}

// Instructions returns the full instruction text for the next model call:
// the system prompt with the additional instructions appended.
func (c *Context) Instructions() string {
	if c.additionalInstructions == "" {
		return c.systemPrompt
	}
	if c.systemPrompt == "" {
		return c.additionalInstructions
	}
	return c.systemPrompt + "\n\n" + c.additionalInstructions
}

// StartTokenCalculation launches the asynchronous token accounting pass:
// instruction tokens, tool schema tokens, and summary tokens are counted
// concurrently. Callers that need a trustworthy budget must call
// AwaitTokenCalculation before reading TokenBudget.
func (c *Context) StartTokenCalculation(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)

	c.mu.Lock()
	c.calc = g
	summary := c.summary
	c.mu.Unlock()

	g.Go(func() error {
		system, err := c.countText(gctx, c.systemPrompt)
		if err != nil {
			return err
		}
		instruction := system
		if c.additionalInstructions != "" {
			// Count the joined text the model actually receives.
			instruction, err = c.countText(gctx, c.Instructions())
			if err != nil {
				return err
			}
		}
		c.mu.Lock()
		c.systemMessageTokens = system
		c.instructionTokens = instruction
		c.mu.Unlock()
		return nil
	})

	g.Go(func() error {
		total := 0
		for _, t := range c.ToolsForBinding() {
			schema, err := schemaText(t)
			if err != nil {
				return err
			}
			tokens, err := c.countText(gctx, schema)
			if err != nil {
				return err
			}
			total += tokens
		}
		c.mu.Lock()
		c.toolSchemaTokens = total
		c.mu.Unlock()
		return nil
	})

	g.Go(func() error {
		tokens, err := c.countText(gctx, summary)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.summaryTokens = tokens
		c.mu.Unlock()
		return nil
	})
}

// AwaitTokenCalculation blocks until the in-flight token accounting pass
// completes and returns its first error. It is a no-op when no pass was
// started.
func (c *Context) AwaitTokenCalculation() error {
	c.mu.Lock()
	g := c.calc
	c.mu.Unlock()
	if g == nil {
		return nil
	}
	return g.Wait()
}

// TokenBudget returns the current budget snapshot. The snapshot is only
// consistent after AwaitTokenCalculation.
func (c *Context) TokenBudget() Breakdown {
	c.mu.Lock()
	defer c.mu.Unlock()

	available := c.maxContextTokens - (c.instructionTokens + c.toolSchemaTokens + c.summaryTokens)
	if available < 0 {
		available = 0
	}
	return Breakdown{
		MaxContextTokens:     c.maxContextTokens,
		InstructionTokens:    c.instructionTokens,
		SystemMessageTokens:  c.systemMessageTokens,
		ToolSchemaTokens:     c.toolSchemaTokens,
		SummaryTokens:        c.summaryTokens,
		AvailableForMessages: available,
	}
}

// Reset clears turn-scoped state: the per-message token map, per-tool usage,
// and the stream-call timestamp. The durable summary and its token count
// survive, as does the discovered-tool set.
func (c *Context) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.messageTokens = make(map[string]int)
	c.toolUsage = make(map[string]int)
	c.lastStreamCall = time.Time{}
	if c.minStreamInterval > 0 {
		c.limiter = rate.NewLimiter(rate.Every(c.minStreamInterval), 1)
	}
}

// SetSummary stores the durable conversation summary and counts its tokens.
// The summary survives Reset.
func (c *Context) SetSummary(ctx context.Context, text string) error {
	tokens, err := c.countText(ctx, text)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.summary = text
	c.summaryTokens = tokens
	c.mu.Unlock()
	return nil
}

// Summary returns the durable conversation summary.
func (c *Context) Summary() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summary
}

// ToolsForBinding returns the tools to bind for the next model call, sorted
// by name. A tool without a registry entry is always bound. A tool with an
// entry is bound when this agent may call it directly and the tool is either
// not deferred or already discovered.
func (c *Context) ToolsForBinding() []tool.Tool {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]tool.Tool, 0, len(c.tools))
	for name, t := range c.tools {
		entry := c.registry.Entry(name)
		if entry == nil {
			out = append(out, t)
			continue
		}
		if !entry.DirectlyCallable(c.agentName) {
			continue
		}
		if entry.DeferLoading {
			if _, ok := c.discovered[name]; !ok {
				continue
			}
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Declaration().Name < out[j].Declaration().Name
	})
	return out
}

// Tool returns the named tool, bound or not, and whether it exists.
func (c *Context) Tool(name string) (tool.Tool, bool) {
	t, ok := c.tools[name]
	return t, ok
}

// Tools returns every registered tool sorted by name, bound or not.
func (c *Context) Tools() []tool.Tool {
	return c.sortedTools()
}

// Discover marks a deferred tool as discovered, making it eligible for
// binding from the next model call on. Discovery is durable across turns.
func (c *Context) Discover(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discovered[name] = struct{}{}
}

// Discovered reports whether the named tool has been discovered.
func (c *Context) Discovered(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.discovered[name]
	return ok
}

// MarkToolUsed increments the usage counter of the named tool for this turn
// and returns the new count, the per-tool invocation ordinal of the call
// being dispatched.
func (c *Context) MarkToolUsed(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toolUsage[name]++
	return c.toolUsage[name]
}

// ToolUsage returns a copy of the per-tool usage counters of this turn.
func (c *Context) ToolUsage() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]int, len(c.toolUsage))
	for name, count := range c.toolUsage {
		out[name] = count
	}
	return out
}

// WaitStream blocks until the minimum stream interval has passed since the
// previous provider call, then records the call time. It returns early with
// the context's error on cancellation.
func (c *Context) WaitStream(ctx context.Context) error {
	c.mu.Lock()
	limiter := c.limiter
	c.mu.Unlock()

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.lastStreamCall = time.Now()
	c.mu.Unlock()
	return nil
}

// LastStreamCall returns the time of the most recent provider call, or the
// zero time when none happened since the last Reset.
func (c *Context) LastStreamCall() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastStreamCall
}

// MinStreamInterval returns the enforced spacing between provider calls.
// Zero means no pacing.
func (c *Context) MinStreamInterval() time.Duration {
	return c.minStreamInterval
}

// MessageTokens counts tokens for one message, memoized by message ID for
// the duration of the turn.
func (c *Context) MessageTokens(ctx context.Context, msg model.Message) (int, error) {
	if msg.ID != "" {
		c.mu.Lock()
		cached, ok := c.messageTokens[msg.ID]
		c.mu.Unlock()
		if ok {
			return cached, nil
		}
	}
	tokens, err := c.counter.CountTokens(ctx, msg)
	if err != nil {
		return 0, err
	}
	if msg.ID != "" {
		c.mu.Lock()
		c.messageTokens[msg.ID] = tokens
		c.mu.Unlock()
	}
	return tokens, nil
}

// FitMessages keeps the newest messages whose combined token count fits
// AvailableForMessages. A leading system message is always kept, and the
// window never opens on a tool result whose call fell outside it.
func (c *Context) FitMessages(ctx context.Context, messages []model.Message) ([]model.Message, error) {
	if len(messages) == 0 {
		return messages, nil
	}
	budget := c.TokenBudget().AvailableForMessages

	head := 0
	result := make([]model.Message, 0, len(messages))
	if messages[0].Role == model.RoleSystem {
		result = append(result, messages[0])
		head = 1
		tokens, err := c.MessageTokens(ctx, messages[0])
		if err != nil {
			return nil, err
		}
		budget -= tokens
	}

	// Walk backward to find the longest suffix that fits.
	start := len(messages)
	remaining := budget
	for i := len(messages) - 1; i >= head; i-- {
		tokens, err := c.MessageTokens(ctx, messages[i])
		if err != nil {
			return nil, err
		}
		if tokens > remaining {
			break
		}
		remaining -= tokens
		start = i
	}

	// Never open the window on a tool result: its call is outside.
	for start < len(messages) && messages[start].Role == model.RoleTool {
		start++
	}
	return append(result, messages[start:]...), nil
}

func (c *Context) countText(ctx context.Context, text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	return c.counter.CountTokens(ctx, model.NewSystemMessage(text))
}

func (c *Context) sortedTools() []tool.Tool {
	out := make([]tool.Tool, 0, len(c.tools))
	for _, t := range c.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Declaration().Name < out[j].Declaration().Name
	})
	return out
}

// schemaText renders the token-countable text of one tool declaration.
func schemaText(t tool.Tool) (string, error) {
	decl := t.Declaration()
	if decl == nil {
		return "", nil
	}
	raw, err := json.Marshal(decl)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
