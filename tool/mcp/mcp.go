//
// Tencent is pleased to support the open source community by making trpc-agent-core available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-core is licensed under the Apache License Version 2.0.
//
//

// Package mcp exposes the tools of an MCP server as callable tools. Loaded
// tools register as deferred registry entries, keeping them out of model
// binding until a search component discovers them.
package mcp

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	mcp "trpc.group/trpc-go/trpc-mcp-go"

	"trpc.group/trpc-go/trpc-agent-core/log"
	"trpc.group/trpc-go/trpc-agent-core/tool"
)

// Transport names accepted by ConnectionConfig.
const (
	TransportStreamable = "streamable"
	TransportSSE        = "sse"
	TransportStdio      = "stdio"
)

var defaultClientInfo = mcp.Implementation{
	Name:    "trpc-agent-core",
	Version: "1.0.0",
}

// ConnectionConfig defines how to reach an MCP server.
type ConnectionConfig struct {
	// Transport is one of "streamable" (default), "sse", or "stdio".
	Transport string `json:"transport"`

	// ServerURL is the endpoint for streamable and SSE transports.
	ServerURL string `json:"server_url,omitempty"`
	// Headers are extra HTTP headers for streamable and SSE transports.
	Headers map[string]string `json:"headers,omitempty"`

	// Command and Args spawn the server for the stdio transport.
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`

	// Timeout bounds each MCP operation when the caller's context carries
	// no deadline.
	Timeout time.Duration `json:"timeout,omitempty"`

	// ClientInfo identifies this client to the server.
	ClientInfo mcp.Implementation `json:"client_info,omitempty"`
}

// Option configures a ToolSet.
type Option func(*options)

type options struct {
	clientOptions []mcp.ClientOption
	allowedTools  map[string]struct{}
}

// WithClientOptions passes options through to the underlying MCP client.
func WithClientOptions(opts ...mcp.ClientOption) Option {
	return func(o *options) {
		o.clientOptions = append(o.clientOptions, opts...)
	}
}

// WithAllowedTools restricts the set to the named tools.
func WithAllowedTools(names ...string) Option {
	return func(o *options) {
		if o.allowedTools == nil {
			o.allowedTools = make(map[string]struct{}, len(names))
		}
		for _, name := range names {
			o.allowedTools[name] = struct{}{}
		}
	}
}

// session is the slice of the MCP connection the toolset needs.
type session interface {
	listTools(ctx context.Context) ([]mcp.Tool, error)
	callTool(ctx context.Context, name string, args map[string]any) ([]mcp.Content, error)
	close() error
}

// ToolSet loads tools from one MCP server on first use.
type ToolSet struct {
	opts    options
	session session

	mu     sync.Mutex
	tools  []tool.CallableTool
	loaded bool
}

// NewToolSet creates a toolset over the configured MCP server. No connection
// happens until Tools or Register is called.
func NewToolSet(config ConnectionConfig, opts ...Option) *ToolSet {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	return &ToolSet{
		opts:    o,
		session: newSessionManager(config, o.clientOptions),
	}
}

// Tools connects on first call and returns the server's tools wrapped as
// callable tools, filtered to the allowed set when one was configured.
func (s *ToolSet) Tools(ctx context.Context) ([]tool.CallableTool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded {
		return s.tools, nil
	}
	listed, err := s.session.listTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp toolset: %w", err)
	}

	tools := make([]tool.CallableTool, 0, len(listed))
	for _, t := range listed {
		if s.opts.allowedTools != nil {
			if _, ok := s.opts.allowedTools[t.Name]; !ok {
				continue
			}
		}
		tools = append(tools, newServerTool(t, s.session))
	}
	s.tools = tools
	s.loaded = true
	log.Debugf("mcp toolset loaded %d tools", len(tools))
	return tools, nil
}

// Register loads the tools and adds a deferred registry entry for each, so
// they bind only after discovery. The entries carry the given allowed
// callers. It returns the loaded tools for binding into an agent context.
func (s *ToolSet) Register(ctx context.Context, registry tool.Registry, allowedCallers ...string) ([]tool.CallableTool, error) {
	tools, err := s.Tools(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tools {
		decl := t.Declaration()
		registry[decl.Name] = &tool.RegistryEntry{
			Name:             decl.Name,
			Description:      decl.Description,
			ParametersSchema: decl.InputSchema,
			DeferLoading:     true,
			AllowedCallers:   allowedCallers,
		}
	}
	return tools, nil
}

// Close tears down the MCP connection.
func (s *ToolSet) Close() error {
	return s.session.close()
}

// serverTool adapts one MCP tool to tool.CallableTool.
type serverTool struct {
	name        string
	description string
	inputSchema *tool.Schema
	session     session
}

func newServerTool(t mcp.Tool, session session) *serverTool {
	st := &serverTool{
		name:        t.Name,
		description: t.Description,
		session:     session,
	}
	if t.InputSchema != nil {
		st.inputSchema = convertSchema(t.InputSchema)
	}
	return st
}

// Declaration implements the tool.Tool interface.
func (t *serverTool) Declaration() *tool.Declaration {
	return &tool.Declaration{
		Name:        t.name,
		Description: t.description,
		InputSchema: t.inputSchema,
	}
}

// Call implements the tool.CallableTool interface. The server's text content
// blocks are joined into one string result.
func (t *serverTool) Call(ctx context.Context, jsonArgs []byte) (any, error) {
	args, err := decodeArguments(jsonArgs)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", t.name, err)
	}
	contents, err := t.session.callTool(ctx, t.name, args)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", t.name, err)
	}
	return flattenContent(contents), nil
}

// flattenContent joins text content blocks; other block kinds are skipped.
func flattenContent(contents []mcp.Content) string {
	var texts []string
	for _, content := range contents {
		if text, ok := content.(mcp.TextContent); ok {
			texts = append(texts, text.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func headersFromConfig(config ConnectionConfig) []mcp.ClientOption {
	if len(config.Headers) == 0 {
		return nil
	}
	headers := http.Header{}
	for k, v := range config.Headers {
		headers.Set(k, v)
	}
	return []mcp.ClientOption{mcp.WithHTTPHeaders(headers)}
}
