// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Command cthulu is the workflow-orchestration backend's composition
// root: it loads configuration, wires the Resource Store, File Watcher,
// Change Bus, Run History, Process State, Sandbox Provider, Executor
// Resolver, Flow Runner, Scheduler, Interactive Session Manager, Template
// Importer, and OAuth token store together, then serves the HTTP surface
// until a shutdown signal arrives.
//
// Grounded on internal/app/app.go's New/Initialize/Start/Run/Shutdown
// lifecycle shape and cmd/trellis/main.go's flag/config-discovery flow,
// narrowed to cthulu's domain and reordered per spec.md §9's shutdown
// sequence (stop scheduler, then the session pool, then flush state).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/saltyskip/cthulu/internal/api"
	"github.com/saltyskip/cthulu/internal/auth"
	"github.com/saltyskip/cthulu/internal/config"
	"github.com/saltyskip/cthulu/internal/cthulupath"
	"github.com/saltyskip/cthulu/internal/domain"
	"github.com/saltyskip/cthulu/internal/events"
	"github.com/saltyskip/cthulu/internal/history"
	"github.com/saltyskip/cthulu/internal/importer"
	"github.com/saltyskip/cthulu/internal/runner"
	"github.com/saltyskip/cthulu/internal/sandbox"
	"github.com/saltyskip/cthulu/internal/sandbox/hostjail"
	"github.com/saltyskip/cthulu/internal/sandbox/microvm"
	"github.com/saltyskip/cthulu/internal/scheduler"
	"github.com/saltyskip/cthulu/internal/session"
	"github.com/saltyskip/cthulu/internal/state"
	"github.com/saltyskip/cthulu/internal/store"
	"github.com/saltyskip/cthulu/internal/watcher"
)

const version = "0.1.0"

func main() {
	var (
		configPath  string
		host        string
		port        int
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "Path to cthulu.hjson (default: auto-detect in cwd)")
	flag.StringVar(&configPath, "c", "", "Path to cthulu.hjson (short)")
	flag.StringVar(&host, "host", "", "Bind address (overrides config/env)")
	flag.IntVar(&port, "port", 0, "Listen port (overrides config/env)")
	flag.BoolVar(&showVersion, "version", false, "Show version")
	flag.Parse()

	if showVersion {
		fmt.Printf("cthulu %s\n", version)
		os.Exit(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, configPath, host, port); err != nil {
		log.Fatalf("cthulu: %v", err)
	}
}

func run(ctx context.Context, configPath, hostOverride string, portOverride int) error {
	if configPath == "" {
		loader := config.NewLoader()
		if found, ok := loader.FindConfig(); ok {
			configPath = found
		}
	}

	loader := config.NewLoader()
	cfg, err := loader.LoadWithDefaults(ctx, configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if hostOverride != "" {
		cfg.BindAddress = hostOverride
	}
	if portOverride > 0 {
		cfg.Port = portOverride
	}
	if cfg.ClaudeCodeOAuthToken == "" {
		cfg.ClaudeCodeOAuthToken = auth.ReadOAuthToken()
	}

	dataDir := cfg.DataDir
	if dataDir == "" {
		base, err := cthulupath.Base()
		if err != nil {
			return fmt.Errorf("resolve data directory: %w", err)
		}
		dataDir = base
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory %s: %w", dataDir, err)
	}
	log.Printf("Using data directory: %s", dataDir)

	bus := events.NewMemoryEventBus(events.MemoryBusConfig{
		HistoryMaxEvents: 1000,
		HistoryMaxAge:    24 * time.Hour,
	})
	defer bus.Close()

	flows := store.New[domain.Flow](cthulupath.Flows(dataDir))
	agents := store.New[domain.Agent](cthulupath.Agents(dataDir))
	prompts := store.New[domain.SavedPrompt](cthulupath.Prompts(dataDir))

	// The three resource directories are independent, so load them
	// concurrently; a load failure is a startup warning, never fatal
	// (store.LoadAll's own "not found is not an error" posture), so each
	// goroutine swallows its error into a log line rather than failing
	// the group.
	var loadGroup errgroup.Group
	for _, ld := range []struct {
		name string
		load func() error
	}{
		{"flows", flows.LoadAll},
		{"agents", agents.LoadAll},
		{"prompts", prompts.LoadAll},
	} {
		ld := ld
		loadGroup.Go(func() error {
			if err := ld.load(); err != nil {
				log.Printf("Warning: failed to load %s: %v", ld.name, err)
			}
			return nil
		})
	}
	loadGroup.Wait()

	resourceWatcher, err := watcher.NewResourceWatcher(bus)
	if err != nil {
		return fmt.Errorf("create resource watcher: %w", err)
	}
	if err := resourceWatcher.Watch(domain.ResourceFlow, flows); err != nil {
		log.Printf("Warning: failed to watch flows directory: %v", err)
	}
	if err := resourceWatcher.Watch(domain.ResourceAgent, agents); err != nil {
		log.Printf("Warning: failed to watch agents directory: %v", err)
	}
	if err := resourceWatcher.Watch(domain.ResourcePrompt, prompts); err != nil {
		log.Printf("Warning: failed to watch prompts directory: %v", err)
	}
	resourceWatcher.Start(ctx)
	defer resourceWatcher.Close()

	hist := history.New()

	stateStore, err := state.Open(cthulupath.Sessions(dataDir))
	if err != nil {
		return fmt.Errorf("open session state: %w", err)
	}

	jailProvider := hostjail.NewProvider(filepath.Join(dataDir, "sandboxes"))
	var sandboxProvider sandbox.Provider = jailProvider
	var vmBackend *microvm.Backend
	if cfg.VMManagerURL != "" {
		client := microvm.NewClient(cfg.VMManagerURL, &http.Client{Timeout: 30 * time.Second})
		vmBackend = microvm.NewBackend(client, stateStore)
		sandboxProvider = microvm.NewProvider(vmBackend)
		log.Printf("Sandbox backend: microvm (%s)", cfg.VMManagerURL)
	} else {
		log.Printf("Sandbox backend: host_jail (%s)", filepath.Join(dataDir, "sandboxes"))
	}

	executorResolver := newExecutorResolver(agents, jailProvider, vmBackend, dataDir)

	flowRunner := runner.New(flows, hist, bus, executorResolver, newHTTPSourceResolver(), newHTTPSinkDispatcher())

	sched := scheduler.New(flows, flowRunner, nil)
	sched.Start(ctx)

	sessions := session.New(stateStore)

	imp := importer.New(flows)

	tokens := auth.NewStore(cfg.ClaudeCodeOAuthToken)

	deps := api.Dependencies{
		Bus:       bus,
		Flows:     flows,
		Agents:    agents,
		Prompts:   prompts,
		Runner:    flowRunner,
		History:   hist,
		Scheduler: sched,
		Sandbox:   sandboxProvider,
		VMs:       vmLeaseManager(vmBackend),
		Sessions:  sessions,
		Importer:  imp,
		Tokens:    tokens,
		Version:   version,
	}

	server := api.NewServer(api.ServerConfig{Host: cfg.BindAddress, Port: cfg.Port}, deps)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, shutting down...", sig)
	case err := <-serverErr:
		log.Printf("API server error: %v", err)
	case <-ctx.Done():
		log.Printf("Context cancelled, shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown order per spec.md §9: stop accepting new work, stop the
	// scheduler so no new run starts, drop the session pool so stale
	// subprocesses/PTYs die, then the state store (already flushed
	// synchronously on every mutation) and event bus close last.
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down API server: %v", err)
	}
	sched.Shutdown()
	sessions.StopAll()

	log.Println("Shutdown complete")
	return nil
}

// vmLeaseManager narrows *microvm.Backend down to api.Dependencies.VMs,
// returning a true nil (not a non-nil interface wrapping a nil pointer)
// when no microVM backend is configured.
func vmLeaseManager(vms *microvm.Backend) interface {
	GetOrCreateVM(ctx context.Context, flowID, nodeID, tier, apiKey, persistedVMID string) (domain.VmInfo, error)
	GetNodeVM(flowID, nodeID string) (domain.VmInfo, bool)
	DestroyNodeVM(ctx context.Context, flowID, nodeID string) error
	AllVMs() []domain.VmInfo
	InjectCredentials(ctx context.Context, vm domain.VmInfo, token, credentialsJSON string) error
} {
	if vms == nil {
		return nil
	}
	return vms
}
