// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryBusConfig configures a MemoryEventBus.
type MemoryBusConfig struct {
	HistoryMaxEvents int
	HistoryMaxAge    time.Duration
}

type subscription struct {
	id      SubscriptionID
	pattern CompiledPattern

	// Callback-style subscription (Subscribe/SubscribeAsync).
	handler   EventHandler
	async     bool
	handlerCh chan Event
	stopCh    chan struct{}

	// Streaming subscription (SubscribeStream). Never dropped: on
	// overflow, lagged is bumped instead of discarding silently, and the
	// next successful delivery is preceded by a Lagged notice.
	streamCh chan Delivery
	lagged   atomic.Int64
}

// MemoryEventBus is an in-process EventBus.
type MemoryEventBus struct {
	mu            sync.RWMutex
	subscriptions map[SubscriptionID]*subscription
	history       *EventHistory
	matcher       *PatternMatcher
	closed        atomic.Bool
	wg            sync.WaitGroup
	nextID        uint64
}

// NewMemoryEventBus creates a new in-process event bus.
func NewMemoryEventBus(cfg MemoryBusConfig) *MemoryEventBus {
	return &MemoryEventBus{
		subscriptions: make(map[SubscriptionID]*subscription),
		history: NewEventHistory(EventHistoryConfig{
			MaxEvents: cfg.HistoryMaxEvents,
			MaxAge:    cfg.HistoryMaxAge,
		}),
		matcher: NewPatternMatcher(),
	}
}

func (b *MemoryEventBus) generateID() string {
	id := atomic.AddUint64(&b.nextID, 1)
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	return fmt.Sprintf("%d-%s", id, hex.EncodeToString(buf[:]))
}

// Publish fills in defaults, records the event in history, then fans it
// out to every matching subscriber without holding the subscription lock
// during delivery.
func (b *MemoryEventBus) Publish(ctx context.Context, event Event) error {
	if b.closed.Load() {
		return fmt.Errorf("events: bus closed")
	}
	if event.ID == "" {
		event.ID = b.generateID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if err := b.history.Add(event); err != nil {
		return err
	}

	b.mu.RLock()
	subs := make([]*subscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		if sub.pattern.Match(event.Type) {
			subs = append(subs, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		switch {
		case sub.streamCh != nil:
			deliverStream(sub, Delivery{Event: event})
		case sub.async:
			select {
			case sub.handlerCh <- event:
			default:
				log.Printf("events: dropping event %s for async subscriber %s (buffer full)", event.Type, sub.id)
			}
		default:
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Printf("events: subscriber %s panicked: %v", sub.id, r)
					}
				}()
				if err := sub.handler(ctx, event); err != nil {
					log.Printf("events: subscriber %s returned error: %v", sub.id, err)
				}
			}()
		}
	}

	return nil
}

// deliverStream implements the never-dropped overflow policy: if the
// subscriber's channel is full, it bumps a lag counter instead of
// discarding the event; the next successful send carries a Lagged notice
// first, so the subscriber always learns it missed events rather than
// silently losing them.
func deliverStream(sub *subscription, d Delivery) {
	if n := sub.lagged.Load(); n > 0 {
		select {
		case sub.streamCh <- Delivery{Lagged: int(n)}:
			sub.lagged.Add(-n)
		default:
			sub.lagged.Add(1)
			return
		}
	}
	select {
	case sub.streamCh <- d:
	default:
		sub.lagged.Add(1)
	}
}

// Subscribe registers a synchronous handler invoked on the publisher's
// goroutine for every matching event.
func (b *MemoryEventBus) Subscribe(pattern string, handler EventHandler) (SubscriptionID, error) {
	compiled, err := b.matcher.Compile(pattern)
	if err != nil {
		return "", err
	}
	id := SubscriptionID(b.generateID())
	sub := &subscription{id: id, pattern: compiled, handler: handler}

	b.mu.Lock()
	b.subscriptions[id] = sub
	b.mu.Unlock()
	return id, nil
}

// SubscribeAsync registers a handler drained from a buffered channel on
// its own goroutine, so a slow handler cannot block the publisher.
func (b *MemoryEventBus) SubscribeAsync(pattern string, handler EventHandler, bufferSize int) (SubscriptionID, error) {
	compiled, err := b.matcher.Compile(pattern)
	if err != nil {
		return "", err
	}
	if bufferSize <= 0 {
		bufferSize = 100
	}
	id := SubscriptionID(b.generateID())
	sub := &subscription{
		id:        id,
		pattern:   compiled,
		handler:   handler,
		async:     true,
		handlerCh: make(chan Event, bufferSize),
		stopCh:    make(chan struct{}),
	}

	b.mu.Lock()
	b.subscriptions[id] = sub
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case event := <-sub.handlerCh:
				func() {
					defer func() {
						if r := recover(); r != nil {
							log.Printf("events: async subscriber %s panicked: %v", id, r)
						}
					}()
					if err := handler(context.Background(), event); err != nil {
						log.Printf("events: async subscriber %s returned error: %v", id, err)
					}
				}()
			case <-sub.stopCh:
				return
			}
		}
	}()

	return id, nil
}

// SubscribeStream registers a streaming subscriber whose channel the
// caller drains directly (the HTTP server-sent-event handlers do this).
// It is never garbage-collected for being slow; it is only removed by an
// explicit Unsubscribe when the HTTP client goes away.
func (b *MemoryEventBus) SubscribeStream(pattern string, backlog int) (<-chan Delivery, SubscriptionID, error) {
	compiled, err := b.matcher.Compile(pattern)
	if err != nil {
		return nil, "", err
	}
	if backlog <= 0 {
		backlog = 64
	}
	id := SubscriptionID(b.generateID())
	sub := &subscription{
		id:       id,
		pattern:  compiled,
		streamCh: make(chan Delivery, backlog),
	}

	b.mu.Lock()
	b.subscriptions[id] = sub
	b.mu.Unlock()

	return sub.streamCh, id, nil
}

// Unsubscribe removes a subscription. For an async subscription this
// stops its drain goroutine; for a stream subscription the channel is
// simply abandoned (the slot is garbage-collected here).
func (b *MemoryEventBus) Unsubscribe(id SubscriptionID) error {
	b.mu.Lock()
	sub, ok := b.subscriptions[id]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("events: unknown subscription %s", id)
	}
	delete(b.subscriptions, id)
	b.mu.Unlock()

	if sub.stopCh != nil {
		close(sub.stopCh)
	}
	return nil
}

// History delegates to the bounded event history.
func (b *MemoryEventBus) History(filter EventFilter) ([]Event, error) {
	return b.history.Query(filter)
}

// Close stops all subscriptions and releases history.
func (b *MemoryEventBus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	b.mu.Lock()
	subs := b.subscriptions
	b.subscriptions = make(map[SubscriptionID]*subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		if sub.stopCh != nil {
			close(sub.stopCh)
		}
	}
	b.wg.Wait()
	return b.history.Close()
}
