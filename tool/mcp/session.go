//
// Tencent is pleased to support the open source community by making trpc-agent-core available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-core is licensed under the Apache License Version 2.0.
//
//

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	mcp "trpc.group/trpc-go/trpc-mcp-go"

	"trpc.group/trpc-go/trpc-agent-core/log"
)

// sessionManager owns the MCP client connection. It connects lazily and
// initializes the session once.
type sessionManager struct {
	config        ConnectionConfig
	clientOptions []mcp.ClientOption

	mu          sync.Mutex
	client      mcp.Connector
	initialized bool
}

func newSessionManager(config ConnectionConfig, clientOptions []mcp.ClientOption) *sessionManager {
	return &sessionManager{
		config:        config,
		clientOptions: clientOptions,
	}
}

// connect creates and initializes the client. Callers hold m.mu.
func (m *sessionManager) connect(ctx context.Context) error {
	if m.initialized {
		return nil
	}

	client, err := m.createClient()
	if err != nil {
		return fmt.Errorf("create mcp client: %w", err)
	}

	initCtx, cancel := m.opCtx(ctx)
	defer cancel()
	initResp, err := client.Initialize(initCtx, &mcp.InitializeRequest{})
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			log.Errorf("close mcp client after failed initialize: %v", closeErr)
		}
		return fmt.Errorf("initialize mcp session: %w", err)
	}
	log.Debugf("mcp session initialized, server %s %s",
		initResp.ServerInfo.Name, initResp.ServerInfo.Version)

	m.client = client
	m.initialized = true
	return nil
}

func (m *sessionManager) createClient() (mcp.Connector, error) {
	clientInfo := m.config.ClientInfo
	if clientInfo.Name == "" {
		clientInfo = defaultClientInfo
	}

	switch m.config.Transport {
	case TransportStdio:
		return mcp.NewStdioClient(mcp.StdioTransportConfig{
			ServerParams: mcp.StdioServerParameters{
				Command: m.config.Command,
				Args:    m.config.Args,
			},
			Timeout: m.config.Timeout,
		}, clientInfo)
	case TransportSSE:
		opts := append(headersFromConfig(m.config), m.clientOptions...)
		return mcp.NewSSEClient(m.config.ServerURL, clientInfo, opts...)
	case TransportStreamable, "":
		opts := append(headersFromConfig(m.config), m.clientOptions...)
		return mcp.NewClient(m.config.ServerURL, clientInfo, opts...)
	default:
		return nil, fmt.Errorf("unsupported mcp transport: %s", m.config.Transport)
	}
}

// opCtx applies the configured timeout when the incoming context carries no
// deadline.
func (m *sessionManager) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.config.Timeout > 0 {
		if _, hasDeadline := ctx.Deadline(); !hasDeadline {
			return context.WithTimeout(ctx, m.config.Timeout)
		}
	}
	return ctx, func() {}
}

func (m *sessionManager) listTools(ctx context.Context) ([]mcp.Tool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.connect(ctx); err != nil {
		return nil, err
	}

	listCtx, cancel := m.opCtx(ctx)
	defer cancel()
	resp, err := m.client.ListTools(listCtx, &mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list mcp tools: %w", err)
	}
	return resp.Tools, nil
}

func (m *sessionManager) callTool(ctx context.Context, name string, args map[string]any) ([]mcp.Content, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.connect(ctx); err != nil {
		return nil, err
	}

	callCtx, cancel := m.opCtx(ctx)
	defer cancel()
	req := &mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	resp, err := m.client.CallTool(callCtx, req)
	if err != nil {
		return nil, fmt.Errorf("call mcp tool %s: %w", name, err)
	}
	return resp.Content, nil
}

func (m *sessionManager) close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client == nil {
		return nil
	}
	err := m.client.Close()
	m.client = nil
	m.initialized = false
	if err != nil {
		return fmt.Errorf("close mcp client: %w", err)
	}
	return nil
}

func decodeArguments(jsonArgs []byte) (map[string]any, error) {
	if len(jsonArgs) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(jsonArgs, &args); err != nil {
		return nil, fmt.Errorf("malformed arguments: %w", err)
	}
	return args, nil
}
