package emit

import (
	"context"
	"log"
	"time"

	"github.com/sony/gobreaker"

	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/model"
)

// OutboxAppender is the write side of the transactional outbox
// (store.TelemetryOutbox.Append), narrowed so this package doesn't need to
// import pkg/workflow/store.
type OutboxAppender interface {
	Append(ctx context.Context, entry model.InteractionLogEntry) error
}

// OutboxBroadcaster implements engine.Broadcaster by writing every emitted
// event into the transactional outbox instead of fanning out directly. The
// event only becomes visible to downstream sinks once Drainer picks it up,
// so a broadcaster-side failure never loses telemetry that a committed UOW
// transition already recorded.
type OutboxBroadcaster struct {
	appender OutboxAppender
	idGen    func() string
}

// NewOutboxBroadcaster wires appender (typically the same store.Store passed
// to the engine) with an id generator for outbox rows.
func NewOutboxBroadcaster(appender OutboxAppender, idGen func() string) *OutboxBroadcaster {
	return &OutboxBroadcaster{appender: appender, idGen: idGen}
}

// Emit satisfies engine.Broadcaster. It never returns an error to the
// caller: a failed outbox write is logged and dropped rather than blocking
// the UOW transition that triggered it.
func (b *OutboxBroadcaster) Emit(ctx context.Context, eventType string, payload map[string]interface{}) {
	entry := model.InteractionLogEntry{
		ID:         b.idGen(),
		InstanceID: stringField(payload, "instance_id"),
		UOWID:      stringField(payload, "uow_id"),
		RoleID:     stringField(payload, "role_id"),
		LogType:    model.LogTelemetry,
		Message:    eventType,
		Detail:     payload,
	}
	if err := b.appender.Append(ctx, entry); err != nil {
		log.Printf("emit: outbox append failed for %s: %v", eventType, err)
	}
}

func stringField(payload map[string]interface{}, key string) string {
	if payload == nil {
		return ""
	}
	v, _ := payload[key].(string)
	return v
}

// OutboxReader is the read/ack side of the transactional outbox
// (store.TelemetryOutbox.PendingEvents/MarkEventsEmitted).
type OutboxReader interface {
	PendingEvents(ctx context.Context, limit int) ([]model.InteractionLogEntry, error)
	MarkEventsEmitted(ctx context.Context, ids []string) error
}

// Drainer polls the outbox on an interval and forwards pending entries to a
// set of Emitter sinks, guarded by a circuit breaker so a sink outage
// (e.g. an unreachable OTel collector) leaves the undelivered entries
// pending in the outbox, to be retried on a later tick, rather than
// blocking the engine.
type Drainer struct {
	reader    OutboxReader
	sinks     []Emitter
	breaker   *gobreaker.CircuitBreaker
	interval  time.Duration
	batchSize int
}

// NewDrainer builds a Drainer polling reader every interval, delivering up
// to batchSize pending events per tick to sinks.
func NewDrainer(reader OutboxReader, sinks []Emitter, interval time.Duration, batchSize int) *Drainer {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	settings := gobreaker.Settings{
		Name:    "telemetry_outbox_drain",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("emit: drainer circuit %s: %s -> %s", name, from, to)
		},
	}
	return &Drainer{
		reader:    reader,
		sinks:     sinks,
		breaker:   gobreaker.NewCircuitBreaker(settings),
		interval:  interval,
		batchSize: batchSize,
	}
}

// Run polls until ctx is cancelled. It is meant to be launched in its own
// goroutine by cmd/chameleond at startup.
func (d *Drainer) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.drainOnce(ctx)
		}
	}
}

func (d *Drainer) drainOnce(ctx context.Context) {
	entries, err := d.reader.PendingEvents(ctx, d.batchSize)
	if err != nil {
		log.Printf("emit: drainer read failed: %v", err)
		return
	}
	if len(entries) == 0 {
		return
	}

	events := make([]Event, 0, len(entries))
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		events = append(events, Event{
			InstanceID: entry.InstanceID,
			UOWID:      entry.UOWID,
			RoleID:     entry.RoleID,
			EventType:  entry.Message,
			Payload:    entry.Detail,
		})
		ids = append(ids, entry.ID)
	}

	_, err = d.breaker.Execute(func() (interface{}, error) {
		return nil, d.deliver(ctx, events)
	})
	if err != nil {
		log.Printf("emit: drainer delivery failed, leaving %d events pending: %v", len(events), err)
		return
	}

	if err := d.reader.MarkEventsEmitted(ctx, ids); err != nil {
		log.Printf("emit: drainer ack failed: %v", err)
	}
}

func (d *Drainer) deliver(ctx context.Context, events []Event) error {
	var firstErr error
	for _, sink := range d.sinks {
		if err := sink.EmitBatch(ctx, events); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
