// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package events implements the Change Bus and Run Event stream (spec
// components C and L): a process-wide multi-producer multi-subscriber
// channel with a bounded buffer per subscriber. On overflow a subscriber
// is told how many events it missed (Lagged) and continues from the next
// live event — it is never dropped.
package events

import (
	"context"
	"time"
)

// Event is an immutable record published on the bus. Payload carries
// either a domain.ResourceChangeEvent or a domain.RunEvent, boxed so the
// bus stays domain-agnostic, matching the teacher's map[string]interface{}
// payload idiom generalized to a single boxed value.
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Event type strings. ResourceChange events are published with the plain
// "resource_change" type (the resource type travels in the payload); run
// events as "run_event.<flow_id>" so SSE subscribers can filter per-flow
// with a single pattern.
const (
	TypeResourceChange = "resource_change"
	TypeRunEventPrefix = "run_event."
)

// EventHandler processes events delivered to a callback-style subscription.
type EventHandler func(ctx context.Context, event Event) error

// SubscriptionID uniquely identifies a subscription.
type SubscriptionID string

// EventFilter restricts a History query.
type EventFilter struct {
	Types []string
	Since time.Time
	Until time.Time
	Limit int
}

// Delivery is one item handed to a streaming subscriber: either a live
// Event, or — when the subscriber's buffer overflowed — a Lagged notice
// reporting how many events were skipped before delivery resumed.
type Delivery struct {
	Event  Event
	Lagged int
}

// EventBus is the core pub/sub system shared by the Change Bus and the
// Run Event stream.
type EventBus interface {
	// Publish emits an event to all matching subscribers.
	Publish(ctx context.Context, event Event) error

	// Subscribe registers a synchronous handler for events matching pattern.
	Subscribe(pattern string, handler EventHandler) (SubscriptionID, error)

	// SubscribeAsync registers an async handler with a buffered channel.
	SubscribeAsync(pattern string, handler EventHandler, bufferSize int) (SubscriptionID, error)

	// SubscribeStream registers a streaming subscriber (used by HTTP
	// server-sent-event handlers) that is never dropped on overflow: it
	// receives Lagged(n) deliveries instead. backlog sizes its channel.
	SubscribeStream(pattern string, backlog int) (<-chan Delivery, SubscriptionID, error)

	// Unsubscribe removes a subscription.
	Unsubscribe(id SubscriptionID) error

	// History retrieves past events matching filter.
	History(filter EventFilter) ([]Event, error)

	// Close shuts down the event bus gracefully.
	Close() error
}
