// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/saltyskip/cthulu/internal/api/handlers"
	"github.com/saltyskip/cthulu/internal/api/middleware"
	"github.com/saltyskip/cthulu/internal/api/version"
	"github.com/saltyskip/cthulu/internal/auth"
	"github.com/saltyskip/cthulu/internal/domain"
	"github.com/saltyskip/cthulu/internal/events"
	"github.com/saltyskip/cthulu/internal/importer"
	"github.com/saltyskip/cthulu/internal/session"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Host    string
	Port    int
	TLSCert string // Path to TLS certificate file
	TLSKey  string // Path to TLS private key file
}

// Dependencies holds every collaborator the HTTP surface needs, wired by
// cmd/cthulu. Each field is the narrowest seam the handler package
// actually requires (see internal/api/handlers/*.go), not the concrete
// type, so this package never forces a specific backend choice (e.g.
// VMs may be nil when VM_MANAGER_URL is unset).
type Dependencies struct {
	Bus events.EventBus

	Flows   handlers.ResourceStore[domain.Flow]
	Agents  handlers.ResourceStore[domain.Agent]
	Prompts handlers.ResourceStore[domain.SavedPrompt]

	Runner  handlers.FlowRunner
	History handlers.RunHistory

	Scheduler handlers.ActiveFlowLister

	Sandbox handlers.SandboxProvider
	VMs     handlers.VMLeaseManager // nil when no microVM backend configured

	Sessions *session.Manager
	Importer *importer.Importer

	Tokens *auth.Store

	Version string
}

// NewRouter builds the full cthulu HTTP surface (spec.md §6) on top of
// deps, wiring one handler per resource family exactly as
// internal/app/app.go's composition root wires the teacher's handlers.
func NewRouter(deps Dependencies) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(version.Middleware)

	flowHandler := handlers.NewFlowHandler(deps.Flows, deps.Bus, deps.Runner, deps.History)
	r.HandleFunc("/api/flows", flowHandler.List).Methods("GET")
	r.HandleFunc("/api/flows", flowHandler.Create).Methods("POST")
	r.HandleFunc("/api/flows/{id}", flowHandler.Get).Methods("GET")
	r.HandleFunc("/api/flows/{id}", flowHandler.Update).Methods("PUT")
	r.HandleFunc("/api/flows/{id}", flowHandler.Delete).Methods("DELETE")
	r.HandleFunc("/api/flows/{id}/trigger", flowHandler.Trigger).Methods("POST")
	r.HandleFunc("/api/flows/{id}/runs", flowHandler.Runs).Methods("GET")
	r.HandleFunc("/api/flows/{id}/runs/live", flowHandler.RunsLive).Methods("GET")

	agentHandler := handlers.NewAgentHandler(deps.Agents, deps.Bus)
	r.HandleFunc("/api/agents", agentHandler.List).Methods("GET")
	r.HandleFunc("/api/agents", agentHandler.Create).Methods("POST")
	r.HandleFunc("/api/agents/{id}", agentHandler.Get).Methods("GET")
	r.HandleFunc("/api/agents/{id}", agentHandler.Update).Methods("PUT")
	r.HandleFunc("/api/agents/{id}", agentHandler.Delete).Methods("DELETE")

	promptHandler := handlers.NewPromptHandler(deps.Prompts, deps.Bus)
	r.HandleFunc("/api/prompts", promptHandler.List).Methods("GET")
	r.HandleFunc("/api/prompts", promptHandler.Create).Methods("POST")
	r.HandleFunc("/api/prompts/{id}", promptHandler.Get).Methods("GET")
	r.HandleFunc("/api/prompts/{id}", promptHandler.Update).Methods("PUT")
	r.HandleFunc("/api/prompts/{id}", promptHandler.Delete).Methods("DELETE")

	changeHandler := handlers.NewChangeHandler(deps.Bus)
	r.HandleFunc("/api/changes", changeHandler.Live).Methods("GET")

	schedulerHandler := handlers.NewSchedulerHandler(deps.Scheduler, deps.Flows)
	r.HandleFunc("/api/scheduler/status", schedulerHandler.Status).Methods("GET")
	r.HandleFunc("/api/flows/{id}/schedule", schedulerHandler.Schedule).Methods("GET")
	r.HandleFunc("/api/validate/cron", schedulerHandler.ValidateCron).Methods("POST")

	sandboxHandler := handlers.NewSandboxHandler(deps.Sandbox, deps.VMs)
	r.HandleFunc("/api/sandbox/info", sandboxHandler.Info).Methods("GET")
	r.HandleFunc("/api/sandbox/list", sandboxHandler.List).Methods("GET")
	r.HandleFunc("/api/sandbox/vm/{flow_id}/{node_id}", sandboxHandler.CreateVM).Methods("POST")
	r.HandleFunc("/api/sandbox/vm/{flow_id}/{node_id}", sandboxHandler.GetVM).Methods("GET")
	r.HandleFunc("/api/sandbox/vm/{flow_id}/{node_id}", sandboxHandler.DeleteVM).Methods("DELETE")

	authHandler := handlers.NewAuthHandler(deps.Tokens, deps.Sessions, vmInjector(deps.VMs))
	r.HandleFunc("/api/auth/token-status", authHandler.TokenStatus).Methods("GET")
	r.HandleFunc("/api/auth/refresh-token", authHandler.RefreshToken).Methods("POST")

	if deps.Sessions != nil {
		terminalHandler := handlers.NewTerminalHandler(deps.Sessions)
		r.HandleFunc("/ws", terminalHandler.Connect).Methods("GET")
		r.HandleFunc("/api/agents/{id}/terminal", terminalHandler.Connect).Methods("GET")
	}

	if deps.Importer != nil {
		templateHandler := handlers.NewTemplateHandler(deps.Importer, nil)
		r.HandleFunc("/api/templates/import", templateHandler.ImportYAML).Methods("POST")
		r.HandleFunc("/api/templates/import/github", templateHandler.ImportGithubURL).Methods("POST")
	}

	r.PathPrefix("/debug/pprof/").Handler(http.HandlerFunc(pprof.Index))

	return r
}

// vmInjector narrows a handlers.VMLeaseManager down to the
// handlers.VMInjector the auth handler needs, returning nil (not a
// non-nil interface wrapping a nil pointer) when vms itself is nil.
func vmInjector(vms handlers.VMLeaseManager) handlers.VMInjector {
	if vms == nil {
		return nil
	}
	injector, ok := vms.(handlers.VMInjector)
	if !ok {
		return nil
	}
	return injector
}

// Server represents the API server.
type Server struct {
	router *mux.Router
	cfg    ServerConfig
	server *http.Server
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig, deps Dependencies) *Server {
	return &Server{
		router: NewRouter(deps),
		cfg:    cfg,
	}
}

// Router returns the underlying router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ListenAndServe starts the server. If TLS is configured (tls_cert and
// tls_key), uses HTTPS; a missing cert or key file is an error (no files
// are generated).
func (s *Server) ListenAndServe() error {
	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	tlsEnabled, err := CheckTLSConfig(s.cfg.TLSCert, s.cfg.TLSKey)
	if err != nil {
		return fmt.Errorf("TLS configuration error: %w", err)
	}

	if tlsEnabled {
		certPath := expandPath(s.cfg.TLSCert)
		keyPath := expandPath(s.cfg.TLSKey)
		log.Printf("API server listening on https://%s (TLS enabled)", addr)
		return s.server.ListenAndServeTLS(certPath, keyPath)
	}

	log.Printf("API server listening on http://%s", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	log.Println("Shutting down API server...")

	shutdownCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	return s.server.Shutdown(shutdownCtx)
}
