// Package event provides the typed notification primitives that connect
// the storefront modules: an immutable module event type and a pub/sub
// bus with priority-ordered, isolated delivery.
//
// Events describe a mutation of a business entity (a product was updated,
// a sale was created) and carry a correlation ID so that the cache layers
// downstream can group related work.
package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Operation is the kind of mutation an event describes.
type Operation string

// Mutation operations.
const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether the operation is one of the known mutations.
func (o Operation) Valid() bool {
	switch o {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// Metadata contains the identifying fields of an event.
type Metadata struct {
	EventID       string    `json:"id"`
	CorrelationID string    `json:"correlation_id"`
	Timestamp     time.Time `json:"timestamp"`
	Priority      int       `json:"priority,omitempty"`
}

// Event is a single module notification. Events are immutable once
// emitted - any derived notification is a new event.
type Event struct {
	Type      string    `json:"type"`
	Module    string    `json:"module"`
	Operation Operation `json:"operation"`
	EntityID  string    `json:"entity_id,omitempty"`
	Data      any       `json:"data,omitempty"`
	Meta      Metadata  `json:"metadata"`

	cachedBytes []byte
}

// ID returns the unique event identifier.
func (e *Event) ID() string { return e.Meta.EventID }

// CorrelationID returns the correlation ID grouping related events.
func (e *Event) CorrelationID() string { return e.Meta.CorrelationID }

// Timestamp returns when the event was created.
func (e *Event) Timestamp() time.Time { return e.Meta.Timestamp }

// DataBytes returns the serialized payload. The result is cached.
func (e *Event) DataBytes() []byte {
	if e.cachedBytes == nil {
		// Best effort - errors are ignored for diagnostic use
		e.cachedBytes, _ = json.Marshal(e.Data)
	}
	return e.cachedBytes
}

// Option configures event creation.
type Option func(*eventConfig)

type eventConfig struct {
	id            string
	correlationID string
	timestamp     time.Time
	priority      int
}

// WithEventID sets a specific event ID (default: auto-generated UUID).
func WithEventID(id string) Option {
	return func(cfg *eventConfig) {
		cfg.id = id
	}
}

// WithCorrelationID sets the correlation ID grouping related events.
func WithCorrelationID(id string) Option {
	return func(cfg *eventConfig) {
		cfg.correlationID = id
	}
}

// WithTimestamp sets a specific timestamp (default: time.Now()).
func WithTimestamp(t time.Time) Option {
	return func(cfg *eventConfig) {
		cfg.timestamp = t
	}
}

// WithPriority sets the event priority hint carried in metadata.
func WithPriority(p int) Option {
	return func(cfg *eventConfig) {
		cfg.priority = p
	}
}

// New creates an event for a mutation of the given module's entity.
func New(eventType, module string, op Operation, entityID string, data any, opts ...Option) *Event {
	cfg := &eventConfig{
		id:        uuid.New().String(),
		timestamp: time.Now(),
	}

	for _, opt := range opts {
		opt(cfg)
	}

	// If no correlation ID, this event is the root of its chain
	if cfg.correlationID == "" {
		cfg.correlationID = cfg.id
	}

	return &Event{
		Type:      eventType,
		Module:    module,
		Operation: op,
		EntityID:  entityID,
		Data:      data,
		Meta: Metadata{
			EventID:       cfg.id,
			CorrelationID: cfg.correlationID,
			Timestamp:     cfg.timestamp,
			Priority:      cfg.priority,
		},
	}
}

// NewFromParent creates an event caused by a parent event, inheriting
// its correlation ID.
func NewFromParent(parent *Event, eventType, module string, op Operation, entityID string, data any, opts ...Option) *Event {
	parentOpts := []Option{WithCorrelationID(parent.CorrelationID())}
	return New(eventType, module, op, entityID, data, append(parentOpts, opts...)...)
}

// Handler processes a single event. Handlers may block; the bus waits
// for every handler in a priority tier before starting the next tier.
type Handler interface {
	Handle(ctx context.Context, evt *Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, evt *Event) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, evt *Event) error {
	return f(ctx, evt)
}
