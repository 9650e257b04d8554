package emit

import (
	"context"
	"errors"
	"testing"

	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/store/memstore"
)

func TestOutboxBroadcasterAppendsEntry(t *testing.T) {
	ms := memstore.New()
	n := 0
	b := NewOutboxBroadcaster(ms, func() string { n++; return "evt-1" })

	b.Emit(context.Background(), "WORK_CHECKED_OUT", map[string]interface{}{
		"instance_id": "inst-1", "uow_id": "uow-1", "role_id": "role-1",
	})

	entries, err := ms.PendingEvents(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 pending event, got %d", len(entries))
	}
	if entries[0].Message != "WORK_CHECKED_OUT" || entries[0].UOWID != "uow-1" {
		t.Errorf("unexpected entry: %+v", entries[0])
	}
}

func TestDrainerDeliversAndAcksPendingEvents(t *testing.T) {
	ms := memstore.New()
	b := NewOutboxBroadcaster(ms, func() string { return "evt-1" })
	b.Emit(context.Background(), "WORK_SUBMITTED", map[string]interface{}{"instance_id": "inst-1", "uow_id": "uow-1"})

	buffered := NewBufferedEmitter()
	d := NewDrainer(ms, []Emitter{buffered}, 0, 0)

	d.drainOnce(context.Background())

	history := buffered.GetHistory("inst-1")
	if len(history) != 1 {
		t.Fatalf("expected 1 delivered event, got %d", len(history))
	}
	if history[0].EventType != "WORK_SUBMITTED" {
		t.Errorf("unexpected event type: %q", history[0].EventType)
	}

	pending, err := ms.PendingEvents(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected drained events to be acked, got %d still pending", len(pending))
	}
}

func TestDrainerNoOpWhenOutboxEmpty(t *testing.T) {
	ms := memstore.New()
	buffered := NewBufferedEmitter()
	d := NewDrainer(ms, []Emitter{buffered}, 0, 0)

	d.drainOnce(context.Background())

	if len(buffered.GetHistory("inst-1")) != 0 {
		t.Fatal("expected no events delivered from an empty outbox")
	}
}

type erroringSink struct{ err error }

func (e erroringSink) Emit(Event)                               {}
func (e erroringSink) EmitBatch(context.Context, []Event) error { return e.err }
func (e erroringSink) Flush(context.Context) error              { return e.err }

func TestDrainerLeavesEventsPendingOnSinkFailure(t *testing.T) {
	ms := memstore.New()
	b := NewOutboxBroadcaster(ms, func() string { return "evt-1" })
	b.Emit(context.Background(), "WORK_FAILED", map[string]interface{}{"instance_id": "inst-1"})

	d := NewDrainer(ms, []Emitter{erroringSink{err: errors.New("sink down")}}, 0, 0)
	d.drainOnce(context.Background())

	pending, err := ms.PendingEvents(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected the event to remain pending after a sink failure, got %d", len(pending))
	}
}
