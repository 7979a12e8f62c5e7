package event

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// BusConfig configures bus behavior.
type BusConfig struct {
	// Logger receives per-handler failure logs. Default: slog.Default().
	Logger *slog.Logger

	// DeduplicateTTL enables deduplication by event ID with the given TTL.
	// Default: 0 (disabled)
	DeduplicateTTL time.Duration

	// OnError is called when a handler returns an error or panics.
	// Handler failures never propagate to the emitter.
	OnError func(evt *Event, subscriptionID string, err error)
}

// Bus distributes events to subscriptions in priority order.
//
// Emit is synchronous: it returns only after every subscription for the
// event's type has been invoked. Subscriptions with a lower priority
// number run first; within a tier, registration order applies; a tier
// must fully settle (success or failure) before the next tier starts.
type Bus struct {
	config BusConfig
	logger *slog.Logger

	mu            sync.RWMutex
	subscriptions map[string]*subscription
	byType        map[string][]*subscription // event type -> subscriptions, registration order
	wildcards     []*subscription            // subscriptions for all events

	dedupeMu    sync.Mutex
	dedupeCache map[string]time.Time

	nextID  atomic.Int64
	closed  atomic.Bool
	closeCh chan struct{}
}

// NewBus creates a bus.
func NewBus(config BusConfig) *Bus {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	bus := &Bus{
		config:        config,
		logger:        logger,
		subscriptions: make(map[string]*subscription),
		byType:        make(map[string][]*subscription),
		closeCh:       make(chan struct{}),
	}

	if config.DeduplicateTTL > 0 {
		bus.dedupeCache = make(map[string]time.Time)
		go bus.cleanupDedupe()
	}

	return bus
}

// Subscription is a registered handler that can be removed or paused.
type Subscription interface {
	// ID returns the subscription identifier.
	ID() string

	// Unsubscribe removes the subscription. Subsequent emits skip it.
	Unsubscribe()

	// Pause temporarily stops delivery.
	Pause()

	// Resume continues delivery after pause.
	Resume()

	// IsPaused returns true if the subscription is paused.
	IsPaused() bool
}

type subscription struct {
	id       string
	types    []string // empty = all types
	priority int
	handler  Handler
	paused   atomic.Bool
	bus      *Bus
}

// Subscribe registers a handler for the given event types with a
// priority tier. Lower priority numbers are delivered first.
func (b *Bus) Subscribe(types []string, priority int, handler Handler) Subscription {
	return b.subscribe(types, priority, handler)
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(priority int, handler Handler) Subscription {
	return b.subscribe(nil, priority, handler)
}

func (b *Bus) subscribe(types []string, priority int, handler Handler) *subscription {
	if b.closed.Load() {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{
		id:       fmt.Sprintf("sub-%d", b.nextID.Add(1)),
		types:    types,
		priority: priority,
		handler:  handler,
		bus:      b,
	}

	b.subscriptions[sub.id] = sub

	if len(types) == 0 {
		b.wildcards = append(b.wildcards, sub)
	} else {
		for _, t := range types {
			b.byType[t] = append(b.byType[t], sub)
		}
	}

	return sub
}

// Emit delivers an event to all matching subscriptions and returns once
// every one of them has been invoked. A failing handler is logged and
// reported via OnError; it never blocks sibling handlers or the emitter.
func (b *Bus) Emit(ctx context.Context, evt *Event) error {
	if b.closed.Load() {
		return &BusError{Event: evt, Message: "bus is closed"}
	}

	if b.config.DeduplicateTTL > 0 {
		if b.isDuplicate(evt) {
			return nil // silently skip duplicates
		}
	}

	b.mu.RLock()
	subs := b.matching(evt.Type)
	b.mu.RUnlock()

	for _, tier := range tiers(subs) {
		for _, sub := range tier {
			if sub.paused.Load() {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			b.invoke(ctx, sub, evt)
		}
	}

	return nil
}

// invoke runs one handler, isolating errors and panics.
func (b *Bus) invoke(ctx context.Context, sub *subscription, evt *Event) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("handler panic: %v", r)
			b.reportHandlerError(evt, sub.id, err)
		}
	}()

	if err := sub.handler.Handle(ctx, evt); err != nil {
		b.reportHandlerError(evt, sub.id, err)
	}
}

func (b *Bus) reportHandlerError(evt *Event, subID string, err error) {
	b.logger.Error("event handler failed",
		slog.String("event_type", evt.Type),
		slog.String("event_id", evt.ID()),
		slog.String("subscription_id", subID),
		slog.String("error", err.Error()),
	)
	if b.config.OnError != nil {
		b.config.OnError(evt, subID, err)
	}
}

// matching returns all subscriptions for an event type in registration
// order. Callers must hold b.mu.
func (b *Bus) matching(eventType string) []*subscription {
	subs := make([]*subscription, 0, len(b.byType[eventType])+len(b.wildcards))
	subs = append(subs, b.byType[eventType]...)
	subs = append(subs, b.wildcards...)
	return subs
}

// tiers groups subscriptions by priority, lowest first, preserving
// registration order within each tier.
func tiers(subs []*subscription) [][]*subscription {
	byPriority := make(map[int][]*subscription)
	for _, sub := range subs {
		byPriority[sub.priority] = append(byPriority[sub.priority], sub)
	}

	priorities := make([]int, 0, len(byPriority))
	for p := range byPriority {
		priorities = append(priorities, p)
	}
	sort.Ints(priorities)

	ordered := make([][]*subscription, 0, len(priorities))
	for _, p := range priorities {
		ordered = append(ordered, byPriority[p])
	}
	return ordered
}

// SubscriptionCount returns the number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscriptions)
}

// Close shuts down the bus. Subsequent emits fail.
func (b *Bus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil // already closed
	}
	close(b.closeCh)
	return nil
}

// ID returns the subscription identifier.
func (s *subscription) ID() string { return s.id }

// Unsubscribe removes the subscription.
func (s *subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	delete(s.bus.subscriptions, s.id)
	s.bus.wildcards = remove(s.bus.wildcards, s.id)
	for _, t := range s.types {
		s.bus.byType[t] = remove(s.bus.byType[t], s.id)
	}
}

func remove(subs []*subscription, id string) []*subscription {
	for i, sub := range subs {
		if sub.id == id {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}

// Pause temporarily stops delivery.
func (s *subscription) Pause() {
	s.paused.Store(true)
}

// Resume continues delivery after pause.
func (s *subscription) Resume() {
	s.paused.Store(false)
}

// IsPaused returns true if the subscription is paused.
func (s *subscription) IsPaused() bool {
	return s.paused.Load()
}

// Deduplication helpers

func (b *Bus) isDuplicate(evt *Event) bool {
	b.dedupeMu.Lock()
	defer b.dedupeMu.Unlock()

	if _, exists := b.dedupeCache[evt.ID()]; exists {
		return true
	}
	b.dedupeCache[evt.ID()] = time.Now()
	return false
}

func (b *Bus) cleanupDedupe() {
	ticker := time.NewTicker(b.config.DeduplicateTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.dedupeMu.Lock()
			cutoff := time.Now().Add(-b.config.DeduplicateTTL)
			for id, ts := range b.dedupeCache {
				if ts.Before(cutoff) {
					delete(b.dedupeCache, id)
				}
			}
			b.dedupeMu.Unlock()

		case <-b.closeCh:
			return
		}
	}
}
