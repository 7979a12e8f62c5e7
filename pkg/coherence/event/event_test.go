package event_test

import (
	"testing"
	"time"

	"github.com/storekeep/coherence/pkg/coherence/event"
)

func TestNewEvent(t *testing.T) {
	evt := event.New("product.updated", "products", event.OpUpdate, "p-1", map[string]any{"price": 12.5})

	if evt.Type != "product.updated" {
		t.Errorf("expected type product.updated, got %s", evt.Type)
	}
	if evt.Module != "products" {
		t.Errorf("expected module products, got %s", evt.Module)
	}
	if evt.Operation != event.OpUpdate {
		t.Errorf("expected operation update, got %s", evt.Operation)
	}
	if evt.ID() == "" {
		t.Error("expected auto-generated event ID")
	}
	if evt.CorrelationID() != evt.ID() {
		t.Errorf("root event should use its own ID as correlation ID, got %s", evt.CorrelationID())
	}
	if evt.Timestamp().IsZero() {
		t.Error("expected non-zero timestamp")
	}
}

func TestNewEventOptions(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	evt := event.New("sale.created", "sales", event.OpCreate, "s-1", nil,
		event.WithEventID("evt-42"),
		event.WithCorrelationID("corr-7"),
		event.WithTimestamp(ts),
		event.WithPriority(2),
	)

	if evt.ID() != "evt-42" {
		t.Errorf("expected event ID evt-42, got %s", evt.ID())
	}
	if evt.CorrelationID() != "corr-7" {
		t.Errorf("expected correlation ID corr-7, got %s", evt.CorrelationID())
	}
	if !evt.Timestamp().Equal(ts) {
		t.Errorf("expected timestamp %v, got %v", ts, evt.Timestamp())
	}
	if evt.Meta.Priority != 2 {
		t.Errorf("expected priority 2, got %d", evt.Meta.Priority)
	}
}

func TestNewFromParent(t *testing.T) {
	parent := event.New("sale.created", "sales", event.OpCreate, "s-1", nil)
	child := event.NewFromParent(parent, "inventory.adjusted", "inventory", event.OpUpdate, "i-9", nil)

	if child.CorrelationID() != parent.CorrelationID() {
		t.Errorf("child should inherit correlation ID %s, got %s",
			parent.CorrelationID(), child.CorrelationID())
	}
	if child.ID() == parent.ID() {
		t.Error("child must have its own event ID")
	}
}

func TestOperationValid(t *testing.T) {
	for _, op := range []event.Operation{event.OpCreate, event.OpUpdate, event.OpDelete} {
		if !op.Valid() {
			t.Errorf("expected %s to be valid", op)
		}
	}
	if event.Operation("upsert").Valid() {
		t.Error("expected upsert to be invalid")
	}
}

func TestDataBytes(t *testing.T) {
	evt := event.New("product.updated", "products", event.OpUpdate, "p-1", map[string]any{"name": "mug"})

	first := evt.DataBytes()
	if len(first) == 0 {
		t.Fatal("expected serialized payload")
	}
	second := evt.DataBytes()
	if &first[0] != &second[0] {
		t.Error("expected cached payload bytes on second call")
	}
}
