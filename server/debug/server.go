//
// Tencent is pleased to support the open source community by making trpc-agent-core available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-core is licensed under the Apache License Version 2.0.
//
//

// Package debug provides an HTTP server exposing the live state of agent
// contexts: token budgets, tool binding decisions, and per-turn usage.
package debug

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"trpc.group/trpc-go/trpc-agent-core/agent"
	"trpc.group/trpc-go/trpc-agent-core/log"
)

// Server exposes HTTP endpoints for inspecting registered agent contexts.
type Server struct {
	router *mux.Router

	mu       sync.RWMutex
	contexts map[string]*agent.Context
}

// New creates a debug server over the given agent contexts. Contexts are
// keyed by their agent name; later registrations replace earlier ones.
func New(contexts ...*agent.Context) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		contexts: make(map[string]*agent.Context),
	}
	for _, agentCtx := range contexts {
		if agentCtx != nil {
			s.contexts[agentCtx.AgentName()] = agentCtx
		}
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Length", "Content-Type"},
	})
	s.router.Use(c.Handler)
	s.registerRoutes()
	return s
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler { return s.router }

// Register adds or replaces an agent context under its agent name.
func (s *Server) Register(agentCtx *agent.Context) {
	if agentCtx == nil {
		return
	}
	s.mu.Lock()
	s.contexts[agentCtx.AgentName()] = agentCtx
	s.mu.Unlock()
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/list-agents", s.handleListAgents).Methods(http.MethodGet)
	s.router.HandleFunc("/agents/{agentName}", s.handleAgent).Methods(http.MethodGet)
	s.router.HandleFunc("/agents/{agentName}/budget", s.handleBudget).Methods(http.MethodGet)
	s.router.HandleFunc("/agents/{agentName}/tools", s.handleTools).Methods(http.MethodGet)
	s.router.HandleFunc("/agents/{agentName}/usage", s.handleUsage).Methods(http.MethodGet)
}

// ---- Handlers -----------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	log.Debugf("handleListAgents called: path=%s", r.URL.Path)
	s.mu.RLock()
	names := make([]string, 0, len(s.contexts))
	for name := range s.contexts {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)
	s.writeJSON(w, names)
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	agentCtx, ok := s.lookup(r)
	if !ok {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, agentView{
		Name:    agentCtx.AgentName(),
		Summary: agentCtx.Summary(),
		Budget:  s.freshBudget(r, agentCtx),
		Tools:   toolViews(agentCtx),
	})
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	agentCtx, ok := s.lookup(r)
	if !ok {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, s.freshBudget(r, agentCtx))
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	agentCtx, ok := s.lookup(r)
	if !ok {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, toolViews(agentCtx))
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	agentCtx, ok := s.lookup(r)
	if !ok {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}
	view := usageView{ToolUsage: agentCtx.ToolUsage()}
	if last := agentCtx.LastStreamCall(); !last.IsZero() {
		view.LastStreamCall = last.Format(time.RFC3339Nano)
	}
	s.writeJSON(w, view)
}

// ---- Views --------------------------------------------------------------

// agentView is the JSON projection of one agent context.
type agentView struct {
	Name    string          `json:"name"`
	Summary string          `json:"summary,omitempty"`
	Budget  agent.Breakdown `json:"budget"`
	Tools   []toolView      `json:"tools"`
}

// toolView is the JSON projection of one registered tool.
type toolView struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Bound       bool   `json:"bound"`
	Discovered  bool   `json:"discovered"`
	CallCount   int    `json:"callCount"`
}

// usageView is the JSON projection of the per-turn usage counters.
type usageView struct {
	ToolUsage      map[string]int `json:"toolUsage"`
	LastStreamCall string         `json:"lastStreamCall,omitempty"`
}

// freshBudget forces an accounting pass so the snapshot reflects the current
// prompt, tool set, and summary.
func (s *Server) freshBudget(r *http.Request, agentCtx *agent.Context) agent.Breakdown {
	agentCtx.StartTokenCalculation(r.Context())
	if err := agentCtx.AwaitTokenCalculation(); err != nil {
		log.Errorf("token accounting for %s failed: %v", agentCtx.AgentName(), err)
	}
	return agentCtx.TokenBudget()
}

func toolViews(agentCtx *agent.Context) []toolView {
	bound := make(map[string]struct{})
	for _, t := range agentCtx.ToolsForBinding() {
		bound[t.Declaration().Name] = struct{}{}
	}
	usage := agentCtx.ToolUsage()

	all := agentCtx.Tools()
	views := make([]toolView, 0, len(all))
	for _, t := range all {
		decl := t.Declaration()
		if decl == nil {
			continue
		}
		_, isBound := bound[decl.Name]
		views = append(views, toolView{
			Name:        decl.Name,
			Description: decl.Description,
			Bound:       isBound,
			Discovered:  agentCtx.Discovered(decl.Name),
			CallCount:   usage[decl.Name],
		})
	}
	return views
}

// ---- helpers ------------------------------------------------------------

func (s *Server) lookup(r *http.Request) (*agent.Context, bool) {
	name := mux.Vars(r)["agentName"]
	s.mu.RLock()
	defer s.mu.RUnlock()
	agentCtx, ok := s.contexts[name]
	return agentCtx, ok
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
