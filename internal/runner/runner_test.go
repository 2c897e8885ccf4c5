// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saltyskip/cthulu/internal/domain"
	"github.com/saltyskip/cthulu/internal/events"
	"github.com/saltyskip/cthulu/internal/executor"
	"github.com/saltyskip/cthulu/internal/history"
)

type stubFlowStore struct {
	flows map[string]domain.Flow
}

func (s stubFlowStore) Get(id string) (domain.Flow, bool) {
	f, ok := s.flows[id]
	return f, ok
}

type stubSource struct{ text string }

func (s stubSource) Resolve(ctx context.Context, flow domain.Flow, node domain.Node) (string, error) {
	return s.text, nil
}

type stubSink struct {
	received chan string
}

func (s *stubSink) Dispatch(ctx context.Context, flow domain.Flow, node domain.Node, text string) error {
	s.received <- text
	return nil
}

type stubExecutor struct {
	result executor.Result
	err    error
	delay  time.Duration
}

func (s stubExecutor) Execute(ctx context.Context, prompt, workingDir string) (executor.Result, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return executor.Result{}, ctx.Err()
		}
	}
	if s.err != nil {
		return executor.Result{}, s.err
	}
	return s.result, nil
}

func (s stubExecutor) ExecuteStreaming(ctx context.Context, prompt, workingDir string, sink executor.LineSink) (executor.Result, error) {
	return s.Execute(ctx, prompt, workingDir)
}

type stubExecutorResolver struct {
	executors map[string]executor.Executor
}

func (r stubExecutorResolver) ResolveExecutor(ctx context.Context, flow domain.Flow, node domain.Node) (ResolvedExecutor, error) {
	ex, ok := r.executors[node.ID]
	if !ok {
		return ResolvedExecutor{}, fmt.Errorf("no executor configured for node %s", node.ID)
	}
	return ResolvedExecutor{Executor: ex, WorkingDir: "/workspace"}, nil
}

func simpleFlow() domain.Flow {
	return domain.Flow{
		ID:   "f1",
		Name: "demo flow",
		Nodes: []domain.Node{
			{ID: "trigger", NodeType: domain.NodeTrigger},
			{ID: "source", NodeType: domain.NodeSource},
			{ID: "exec", NodeType: domain.NodeExecutor},
			{ID: "sink", NodeType: domain.NodeSink},
		},
		Edges: []domain.Edge{
			{ID: "e1", Source: "trigger", Target: "source"},
			{ID: "e2", Source: "source", Target: "exec"},
			{ID: "e3", Source: "exec", Target: "sink"},
		},
	}
}

func waitForTerminal(t *testing.T, hist *history.RunHistory, flowID, runID string) domain.FlowRun {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, r := range hist.GetRuns(flowID) {
			if r.ID == runID && r.Status != domain.RunRunning {
				return r
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s/%s did not reach a terminal status in time", flowID, runID)
	return domain.FlowRun{}
}

func newTestRunner(t *testing.T, flow domain.Flow, resolver ExecutorResolver, sink SinkDispatcher) (*Runner, *history.RunHistory, events.EventBus) {
	hist := history.New()
	bus := events.NewMemoryEventBus(events.MemoryBusConfig{})
	t.Cleanup(func() { bus.Close() })
	store := stubFlowStore{flows: map[string]domain.Flow{flow.ID: flow}}
	r := New(store, hist, bus, resolver, stubSource{text: "source output"}, sink)
	return r, hist, bus
}

func TestRunner_Run_SuccessfulMultiNodeRun(t *testing.T) {
	flow := simpleFlow()
	sink := &stubSink{received: make(chan string, 1)}
	resolver := stubExecutorResolver{executors: map[string]executor.Executor{
		"exec": stubExecutor{result: executor.Result{Text: "executor output", CostUSD: 0.5, NumTurns: 2}},
	}}
	r, hist, bus := newTestRunner(t, flow, resolver, sink)

	stream, subID, err := bus.(*events.MemoryEventBus).SubscribeStream("run_event.f1", 32)
	require.NoError(t, err)
	defer bus.Unsubscribe(subID)

	require.NoError(t, r.Run(context.Background(), flow))

	select {
	case text := <-sink.received:
		assert.Equal(t, "executor output", text)
	case <-time.After(2 * time.Second):
		t.Fatal("sink never received dispatched text")
	}

	var run domain.FlowRun
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		runs := hist.GetRuns("f1")
		if len(runs) == 1 && runs[0].Status != domain.RunRunning {
			run = runs[0]
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, domain.RunSuccess, run.Status)
	require.Len(t, run.NodeRuns, 3)
	for _, nr := range run.NodeRuns {
		assert.Equal(t, domain.RunSuccess, nr.Status)
	}

	var execNode domain.NodeRun
	for _, nr := range run.NodeRuns {
		if nr.NodeID == "exec" {
			execNode = nr
		}
	}
	assert.Equal(t, 0.5, execNode.CostUSD)
	assert.EqualValues(t, 2, execNode.NumTurns)

	var sawRunCompleted bool
	for i := 0; i < 20; i++ {
		select {
		case d := <-stream:
			if d.Event.Type == "" {
				continue
			}
			if re, ok := d.Event.Payload.(domain.RunEvent); ok && re.EventType == domain.EventRunCompleted {
				sawRunCompleted = true
			}
		case <-time.After(200 * time.Millisecond):
		}
		if sawRunCompleted {
			break
		}
	}
	assert.True(t, sawRunCompleted, "expected a run_completed event on the bus")
}

func TestRunner_Run_NoTriggerNode_ReturnsValidationError_NoRunRecorded(t *testing.T) {
	flow := simpleFlow()
	flow.Nodes[0].NodeType = domain.NodeSource

	r, hist, _ := newTestRunner(t, flow, stubExecutorResolver{}, &stubSink{received: make(chan string, 1)})
	err := r.Run(context.Background(), flow)
	require.Error(t, err)
	assert.Empty(t, hist.GetRuns("f1"))
}

func TestRunner_Run_CyclicGraph_ReturnsValidationError(t *testing.T) {
	flow := simpleFlow()
	flow.Edges = append(flow.Edges, domain.Edge{ID: "back", Source: "sink", Target: "source"})

	r, hist, _ := newTestRunner(t, flow, stubExecutorResolver{}, &stubSink{received: make(chan string, 1)})
	err := r.Run(context.Background(), flow)
	require.Error(t, err)
	assert.Empty(t, hist.GetRuns("f1"))
}

func TestRunner_Run_DanglingEdge_ReturnsValidationError(t *testing.T) {
	flow := simpleFlow()
	flow.Edges = append(flow.Edges, domain.Edge{ID: "bad", Source: "exec", Target: "does-not-exist"})

	r, hist, _ := newTestRunner(t, flow, stubExecutorResolver{}, &stubSink{received: make(chan string, 1)})
	err := r.Run(context.Background(), flow)
	require.Error(t, err)
	assert.Empty(t, hist.GetRuns("f1"))
}

func TestRunner_Run_NodeFailure_ShortCircuitsRemainingNodes(t *testing.T) {
	flow := simpleFlow()
	sink := &stubSink{received: make(chan string, 1)}
	resolver := stubExecutorResolver{executors: map[string]executor.Executor{
		"exec": stubExecutor{err: assert.AnError},
	}}
	r, hist, _ := newTestRunner(t, flow, resolver, sink)

	require.NoError(t, r.Run(context.Background(), flow))

	var run domain.FlowRun
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		runs := hist.GetRuns("f1")
		if len(runs) == 1 && runs[0].Status != domain.RunRunning {
			run = runs[0]
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, domain.RunFailed, run.Status)
	require.NotNil(t, run.Error)

	select {
	case <-sink.received:
		t.Fatal("sink should never have been dispatched after the executor node failed")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRunner_Run_NodeTimeout_FailsRun(t *testing.T) {
	flow := simpleFlow()
	sink := &stubSink{received: make(chan string, 1)}
	resolver := stubExecutorResolver{executors: map[string]executor.Executor{
		"exec": stubExecutor{delay: 50 * time.Millisecond},
	}}
	r, hist, bus := newTestRunner(t, flow, resolver, sink)
	_ = bus

	orig := NodeTimeout
	NodeTimeout = 10 * time.Millisecond
	t.Cleanup(func() { NodeTimeout = orig })

	require.NoError(t, r.Run(context.Background(), flow))

	var run domain.FlowRun
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		runs := hist.GetRuns("f1")
		if len(runs) == 1 && runs[0].Status != domain.RunRunning {
			run = runs[0]
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, domain.RunFailed, run.Status)
}
