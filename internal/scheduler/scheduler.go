// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package scheduler implements the Scheduler (spec component E): one
// cooperative task per enabled flow that has a trigger node, driving
// cron and github-pr wakes, with cooperative cancellation and
// restart-on-edit semantics.
//
// Grounded on the poll-loop-with-graceful-shutdown shape of
// other_examples/75ba7fe8_viant-agently__cmd-agently-scheduler_run.go.go
// (interval parse, watchdog goroutine, signal-driven teardown), adapted
// from a single watchdog process into one task per flow per spec.md §4.E.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/saltyskip/cthulu/internal/domain"
)

const defaultGithubPollInterval = 60 * time.Second

// cronParser accepts standard 5-field cron plus an optional leading
// seconds field, matching spec.md §4.E's "cron-plus-seconds expression".
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// FlowStore is the subset of store.Store[domain.Flow] the scheduler
// needs to read flows fresh on each wake and on restart.
type FlowStore interface {
	Get(id string) (domain.Flow, bool)
	List() []domain.Flow
}

// Runner invokes a flow for one trigger firing. The scheduler does not
// wait for the run to finish; it is fire-and-forget per flow wake,
// matching spec.md §4.E ("invokes the runner; loops").
type Runner interface {
	Run(ctx context.Context, flow domain.Flow) error
}

// GithubPRPoller is the thin seam for the github-pr trigger kind; OAuth
// credential retrieval and the actual GitHub API call are out of scope
// (spec.md §1) and left to the caller's implementation.
type GithubPRPoller interface {
	Poll(ctx context.Context, repository string) ([]domain.PullRequest, error)
}

type task struct {
	flowID string
	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler holds a flow_id → task handle registry and drives one
// cooperative goroutine per enabled, triggered flow.
type Scheduler struct {
	store    FlowStore
	runner   Runner
	prPoller GithubPRPoller

	mu    sync.Mutex
	tasks map[string]*task
}

// New creates a Scheduler. prPoller may be nil if no flow uses the
// github-pr trigger kind.
func New(store FlowStore, runner Runner, prPoller GithubPRPoller) *Scheduler {
	return &Scheduler{
		store:    store,
		runner:   runner,
		prPoller: prPoller,
		tasks:    make(map[string]*task),
	}
}

// Start scans the store and starts a task for every enabled flow with a
// trigger node.
func (s *Scheduler) Start(ctx context.Context) {
	for _, flow := range s.store.List() {
		s.startFlowLocked(ctx, flow)
	}
}

// RestartFlow cancels any existing task for flowID, re-reads the flow
// from the store, and starts a fresh task if it is enabled and has a
// trigger node.
func (s *Scheduler) RestartFlow(ctx context.Context, flowID string) {
	s.stopFlow(flowID)

	flow, ok := s.store.Get(flowID)
	if !ok {
		return
	}
	s.startFlowLocked(ctx, flow)
}

// ActiveFlowIDs returns the ids of flows with a registered task, for
// observability.
func (s *Scheduler) ActiveFlowIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown cancels every registered task and waits for each to observe
// cancellation. An in-flight runner invocation is allowed to complete;
// cancellation is only checked between sleeps and between invocations.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	tasks := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.tasks = make(map[string]*task)
	s.mu.Unlock()

	for _, t := range tasks {
		t.cancel()
		<-t.done
	}
}

func (s *Scheduler) stopFlow(flowID string) {
	s.mu.Lock()
	t, ok := s.tasks[flowID]
	if ok {
		delete(s.tasks, flowID)
	}
	s.mu.Unlock()

	if ok {
		t.cancel()
		<-t.done
	}
}

func (s *Scheduler) startFlowLocked(ctx context.Context, flow domain.Flow) {
	if !flow.Enabled {
		return
	}
	node, ok := flow.TriggerNode()
	if !ok {
		return
	}

	taskCtx, cancel := context.WithCancel(ctx)
	t := &task{flowID: flow.ID, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.tasks[flow.ID] = t
	s.mu.Unlock()

	switch node.Kind {
	case "cron":
		schedule, ok := configString(node.Config, "schedule")
		if !ok {
			log.Printf("[scheduler] flow %s: cron trigger missing schedule, registering without a wake", flow.ID)
			close(t.done)
			return
		}
		sched, err := cronParser.Parse(schedule)
		if err != nil {
			log.Printf("[scheduler] flow %s: invalid cron schedule %q: %v", flow.ID, schedule, err)
			close(t.done)
			return
		}
		go s.runCron(taskCtx, t, flow.ID, sched)
	case "github-pr":
		repo, _ := configString(node.Config, "repository")
		interval := defaultGithubPollInterval
		if secs, ok := configNumber(node.Config, "poll_interval"); ok && secs > 0 {
			interval = time.Duration(secs * float64(time.Second))
		}
		go s.runGithubPR(taskCtx, t, flow.ID, repo, interval)
	default:
		// Registered but manual-trigger only: no periodic wake.
		close(t.done)
	}
}

// runCron computes the next fire time from "now" on every iteration, so
// a missed wake (e.g. laptop sleep) never produces a catch-up burst —
// only the next scheduled instant fires.
func (s *Scheduler) runCron(ctx context.Context, t *task, flowID string, sched cron.Schedule) {
	defer close(t.done)

	for {
		next := sched.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if ctx.Err() != nil {
			return
		}
		s.invoke(ctx, flowID)
	}
}

func (s *Scheduler) runGithubPR(ctx context.Context, t *task, flowID, repository string, interval time.Duration) {
	defer close(t.done)

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if ctx.Err() != nil {
			return
		}
		s.pollGithubPR(ctx, flowID, repository)
		timer.Reset(interval)
	}
}

// pollGithubPR invokes the runner once for every PR the poller returns on
// this tick. PRs are not deduplicated across ticks, so a PR that is still
// returned on the next poll runs the flow again.
func (s *Scheduler) pollGithubPR(ctx context.Context, flowID, repository string) {
	if s.prPoller == nil {
		return
	}
	prs, err := s.prPoller.Poll(ctx, repository)
	if err != nil {
		log.Printf("[scheduler] flow %s: github-pr poll failed: %v", flowID, err)
		return
	}
	for range prs {
		s.invoke(ctx, flowID)
	}
}

func (s *Scheduler) invoke(ctx context.Context, flowID string) {
	flow, ok := s.store.Get(flowID)
	if !ok {
		log.Printf("[scheduler] flow %s: no longer exists, skipping wake", flowID)
		return
	}
	// The task's cancellation is detached so a run already started by this
	// wake completes even if the task is stopped or restarted.
	if err := s.runner.Run(context.WithoutCancel(ctx), flow); err != nil {
		log.Printf("[scheduler] flow %s: run failed: %v", flowID, err)
	}
}

// NextFireTimes parses expr with the same cron-plus-optional-seconds
// grammar startFlowLocked uses for the "cron" trigger kind, and returns
// its next n fire times strictly increasing from now. Backs
// POST /api/validate/cron (spec.md §6).
func NextFireTimes(expr string, n int) ([]time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, n)
	next := time.Now()
	for i := 0; i < n; i++ {
		next = sched.Next(next)
		out = append(out, next)
	}
	return out, nil
}

func configString(cfg map[string]interface{}, key string) (string, bool) {
	v, ok := cfg[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func configNumber(cfg map[string]interface{}, key string) (float64, bool) {
	v, ok := cfg[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
