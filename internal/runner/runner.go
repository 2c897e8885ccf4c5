// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package runner implements the Flow Runner (spec component F): it turns
// a Flow definition plus a trigger event into a recorded FlowRun, walking
// the node graph in topological order, dispatching each node by
// node_type × kind, enforcing a per-executor-node wall-clock ceiling, and
// streaming structured events to the change bus as it goes.
//
// Grounded on internal/workflow/runner.go's RealRunner.RunWithOptions:
// run asynchronously on a decoupled background context (with a watcher
// goroutine propagating the caller's cancellation into it), per-step
// context.WithTimeout, and event emission around the run's lifecycle.
package runner

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/saltyskip/cthulu/internal/domain"
	"github.com/saltyskip/cthulu/internal/events"
	"github.com/saltyskip/cthulu/internal/executor"
	"github.com/saltyskip/cthulu/internal/history"
)

// NodeTimeout is the hard wall-clock ceiling for one executor node, per
// spec.md §4.F step 6. A var, not a const, so tests can shrink it.
var NodeTimeout = 15 * time.Minute

// SourceResolver fetches content for a source node, producing a text
// blob. Implemented by the RSS/scrape/spreadsheet adapters, which are
// collaborators outside the core per spec.md §1.
type SourceResolver interface {
	Resolve(ctx context.Context, flow domain.Flow, node domain.Node) (string, error)
}

// SinkDispatcher delivers an executor node's final text to a sink node's
// configured endpoint (chat webhook, document database, ...).
type SinkDispatcher interface {
	Dispatch(ctx context.Context, flow domain.Flow, node domain.Node, text string) error
}

// ResolvedExecutor is what ExecutorResolver hands back for one executor
// node: a fully configured Executor strategy plus the working directory
// to run it in.
type ResolvedExecutor struct {
	Executor   executor.Executor
	WorkingDir string
}

// ExecutorResolver selects and configures the Executor strategy (local,
// sandboxed, or remote-VM) for an executor node, including provisioning
// or reusing a sandbox handle as needed. This is a seam: the concrete
// selection logic (reading node.Config's sandbox kind, agent reference,
// and permissions) is wired at the top of the program.
type ExecutorResolver interface {
	ResolveExecutor(ctx context.Context, flow domain.Flow, node domain.Node) (ResolvedExecutor, error)
}

// FlowStore is the subset of the Resource Store the runner needs to
// re-read a flow's live definition.
type FlowStore interface {
	Get(id string) (domain.Flow, bool)
}

// Runner walks a Flow's node graph to completion, per spec.md §4.F.
type Runner struct {
	store     FlowStore
	history   *history.RunHistory
	bus       events.EventBus
	executors ExecutorResolver
	sources   SourceResolver
	sinks     SinkDispatcher

	mu      sync.Mutex
	cancels map[string]context.CancelFunc // run id -> cancel
}

// New creates a Runner. sources/sinks may be nil if the flow never uses
// source/sink nodes in practice; a nil resolver surfaces as a run
// failure on the first node that needs it, not a panic.
func New(store FlowStore, hist *history.RunHistory, bus events.EventBus, executors ExecutorResolver, sources SourceResolver, sinks SinkDispatcher) *Runner {
	return &Runner{
		store:     store,
		history:   hist,
		bus:       bus,
		executors: executors,
		sources:   sources,
		sinks:     sinks,
		cancels:   make(map[string]context.CancelFunc),
	}
}

// Run validates flow and, on success, records a running FlowRun and
// starts executing it on a background goroutine, returning without
// waiting for it to finish; cancellation of ctx is forwarded into the
// run. It implements scheduler.Runner so the Scheduler can invoke it
// directly.
//
// A validation failure prevents the run from starting — no FlowRun is
// recorded — matching spec.md §4.F's "failure semantics" paragraph.
func (r *Runner) Run(ctx context.Context, flow domain.Flow) error {
	order, err := validate(flow)
	if err != nil {
		return err
	}

	run := domain.FlowRun{
		ID:        uuid.New().String(),
		FlowID:    flow.ID,
		Status:    domain.RunRunning,
		StartedAt: time.Now(),
	}
	r.history.AddRun(run)
	r.emitRunEvent(ctx, flow.ID, run.ID, nil, domain.EventRunStarted, "run started")

	runCtx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.cancels[run.ID] = cancel
	r.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	go func() {
		defer func() {
			cancel()
			r.mu.Lock()
			delete(r.cancels, run.ID)
			r.mu.Unlock()
		}()
		r.execute(runCtx, flow, run.ID, order)
	}()

	return nil
}

// Cancel cancels an in-flight run's context: the node currently
// executing sees its context canceled, no later node starts, and the run
// is marked failed. Nodes that already completed keep their results.
func (r *Runner) Cancel(runID string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[runID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// outputs accumulates each node's textual output within one run, keyed
// by node id, so downstream nodes can read their predecessors' output.
type outputs struct {
	mu   sync.Mutex
	data map[string]string
}

func (o *outputs) set(nodeID, text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.data[nodeID] = text
}

func (o *outputs) inputFor(flow domain.Flow, nodeID string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var combined string
	for _, edge := range flow.Edges {
		if edge.Target != nodeID {
			continue
		}
		if text, ok := o.data[edge.Source]; ok {
			if combined != "" {
				combined += "\n\n"
			}
			combined += text
		}
	}
	return combined
}

func (r *Runner) execute(ctx context.Context, flow domain.Flow, runID string, order []domain.Node) {
	out := &outputs{data: make(map[string]string)}

	for _, node := range order {
		if ctx.Err() != nil {
			r.failRun(ctx, flow.ID, runID, "", "run canceled")
			return
		}

		r.startNode(ctx, flow.ID, runID, node.ID)

		nodeCtx := ctx
		var cancelNode context.CancelFunc
		if node.NodeType == domain.NodeExecutor {
			nodeCtx, cancelNode = context.WithTimeout(ctx, NodeTimeout)
		}

		result, err := r.dispatch(nodeCtx, flow, node, out)
		if cancelNode != nil {
			cancelNode()
		}

		if err != nil {
			message := err.Error()
			if nodeCtx.Err() == context.DeadlineExceeded {
				message = fmt.Sprintf("node %s exceeded its %s timeout", node.ID, NodeTimeout)
			}
			r.finishNode(flow.ID, runID, node.ID, domain.RunFailed, "", 0, 0)
			r.emitRunEvent(ctx, flow.ID, runID, &node.ID, domain.EventNodeFailed, message)
			r.failRun(ctx, flow.ID, runID, node.ID, message)
			return
		}

		out.set(node.ID, result.text)
		r.finishNode(flow.ID, runID, node.ID, domain.RunSuccess, result.text, result.costUSD, result.numTurns)
		r.emitRunEvent(ctx, flow.ID, runID, &node.ID, domain.EventNodeCompleted, "node completed")
	}

	finished := time.Now()
	r.history.UpdateRun(flow.ID, runID, func(run *domain.FlowRun) {
		run.Status = domain.RunSuccess
		run.FinishedAt = &finished
	})
	r.emitRunEvent(ctx, flow.ID, runID, nil, domain.EventRunCompleted, "run completed")
}

// nodeOutcome is what dispatch hands back for one node: its textual
// output plus, for executor nodes, the cost/turns the CLI reported on
// its `result` event (zero for source/sink nodes, which have no such
// concept).
type nodeOutcome struct {
	text     string
	costUSD  float64
	numTurns uint64
}

// dispatch executes one node by node_type × kind, per spec.md §4.F step 5.
func (r *Runner) dispatch(ctx context.Context, flow domain.Flow, node domain.Node, out *outputs) (nodeOutcome, error) {
	switch node.NodeType {
	case domain.NodeSource:
		if r.sources == nil {
			return nodeOutcome{}, fmt.Errorf("runner: no source resolver configured for node %s", node.ID)
		}
		text, err := r.sources.Resolve(ctx, flow, node)
		if err != nil {
			return nodeOutcome{}, err
		}
		return nodeOutcome{text: text}, nil

	case domain.NodeExecutor:
		if r.executors == nil {
			return nodeOutcome{}, fmt.Errorf("runner: no executor resolver configured for node %s", node.ID)
		}
		resolved, err := r.executors.ResolveExecutor(ctx, flow, node)
		if err != nil {
			return nodeOutcome{}, err
		}
		prompt := buildPrompt(flow, node, out.inputFor(flow, node.ID))
		res, err := resolved.Executor.Execute(ctx, prompt, resolved.WorkingDir)
		if err != nil {
			return nodeOutcome{}, err
		}
		return nodeOutcome{text: res.Text, costUSD: res.CostUSD, numTurns: res.NumTurns}, nil

	case domain.NodeSink:
		if r.sinks == nil {
			return nodeOutcome{}, fmt.Errorf("runner: no sink dispatcher configured for node %s", node.ID)
		}
		text := out.inputFor(flow, node.ID)
		if err := r.sinks.Dispatch(ctx, flow, node, text); err != nil {
			return nodeOutcome{}, err
		}
		return nodeOutcome{text: text}, nil

	default:
		return nodeOutcome{}, fmt.Errorf("runner: unhandled node type %q for node %s", node.NodeType, node.ID)
	}
}

// buildPrompt assembles an executor node's prompt from the flow's
// name/description plus upstream input, per spec.md §4.F step 4.
func buildPrompt(flow domain.Flow, node domain.Node, input string) string {
	prompt := fmt.Sprintf("Flow: %s\n%s\n\n", flow.Name, flow.Description)
	if input != "" {
		prompt += input + "\n\n"
	}
	if task, ok := node.Config["prompt"].(string); ok && task != "" {
		prompt += task
	}
	return prompt
}

func (r *Runner) startNode(ctx context.Context, flowID, runID, nodeID string) {
	started := time.Now()
	r.history.UpdateRun(flowID, runID, func(run *domain.FlowRun) {
		run.NodeRuns = append(run.NodeRuns, domain.NodeRun{
			NodeID:    nodeID,
			Status:    domain.RunRunning,
			StartedAt: started,
		})
	})
	r.emitRunEvent(ctx, flowID, runID, &nodeID, domain.EventNodeStarted, "node started")
}

func (r *Runner) finishNode(flowID, runID, nodeID string, status domain.RunStatus, text string, cost float64, turns uint64) {
	finished := time.Now()
	preview := text
	if len(preview) > domain.OutputPreviewLen {
		preview = preview[:domain.OutputPreviewLen]
	}
	r.history.UpdateRun(flowID, runID, func(run *domain.FlowRun) {
		for i := range run.NodeRuns {
			if run.NodeRuns[i].NodeID == nodeID && run.NodeRuns[i].Status == domain.RunRunning {
				run.NodeRuns[i].Status = status
				run.NodeRuns[i].FinishedAt = &finished
				run.NodeRuns[i].Output = text
				run.NodeRuns[i].CostUSD = cost
				run.NodeRuns[i].NumTurns = turns
				if text != "" {
					run.NodeRuns[i].OutputPreview = &preview
				}
				return
			}
		}
	})
}

func (r *Runner) failRun(ctx context.Context, flowID, runID, nodeID, message string) {
	finished := time.Now()
	r.history.UpdateRun(flowID, runID, func(run *domain.FlowRun) {
		run.Status = domain.RunFailed
		run.FinishedAt = &finished
		run.Error = &message
	})
	var nodePtr *string
	if nodeID != "" {
		nodePtr = &nodeID
	}
	r.emitRunEvent(ctx, flowID, runID, nodePtr, domain.EventRunFailed, message)
}

func (r *Runner) emitRunEvent(ctx context.Context, flowID, runID string, nodeID *string, eventType domain.RunEventType, message string) {
	if r.bus == nil {
		return
	}
	event := domain.RunEvent{
		FlowID:    flowID,
		RunID:     runID,
		Timestamp: time.Now(),
		NodeID:    nodeID,
		EventType: eventType,
		Message:   message,
	}
	r.bus.Publish(ctx, events.Event{
		ID:        uuid.New().String(),
		Type:      events.TypeRunEventPrefix + flowID,
		Timestamp: event.Timestamp,
		Payload:   event,
	})
}

// validate checks flow per spec.md §4.F step 1 and returns the
// non-trigger nodes in topological order, ties broken by node id.
func validate(flow domain.Flow) ([]domain.Node, error) {
	var triggerCount int
	nodeByID := make(map[string]domain.Node, len(flow.Nodes))
	for _, n := range flow.Nodes {
		nodeByID[n.ID] = n
		if n.NodeType == domain.NodeTrigger {
			triggerCount++
		}
	}
	if triggerCount != 1 {
		return nil, fmt.Errorf("runner: flow %s must have exactly one trigger node, found %d", flow.ID, triggerCount)
	}

	inDegree := make(map[string]int, len(flow.Nodes))
	adjacency := make(map[string][]string, len(flow.Nodes))
	for id := range nodeByID {
		inDegree[id] = 0
	}
	for _, e := range flow.Edges {
		if _, ok := nodeByID[e.Source]; !ok {
			return nil, fmt.Errorf("runner: edge %s references unknown source node %s", e.ID, e.Source)
		}
		if _, ok := nodeByID[e.Target]; !ok {
			return nil, fmt.Errorf("runner: edge %s references unknown target node %s", e.ID, e.Target)
		}
		adjacency[e.Source] = append(adjacency[e.Source], e.Target)
		inDegree[e.Target]++
	}

	var ready []string
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}

	var order []string
	for len(ready) > 0 {
		sort.Strings(ready)
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		targets := append([]string(nil), adjacency[next]...)
		sort.Strings(targets)
		for _, target := range targets {
			inDegree[target]--
			if inDegree[target] == 0 {
				ready = append(ready, target)
			}
		}
	}

	if len(order) != len(nodeByID) {
		return nil, fmt.Errorf("runner: flow %s's node graph contains a cycle", flow.ID)
	}

	result := make([]domain.Node, 0, len(order))
	for _, id := range order {
		node := nodeByID[id]
		if node.NodeType == domain.NodeTrigger {
			continue
		}
		result = append(result, node)
	}
	return result, nil
}
