// Package emit implements the telemetry/broadcast layer of spec.md §4.7: a
// transactional-outbox writer plus pluggable downstream sinks (log, buffered,
// JSON-lines file, OpenTelemetry span). Grounded on the teacher's
// graph/emit/{emitter,event,log,buffered,otel}.go — the Emitter contract and
// Event shape are domain-adapted (RunID/NodeID -> InstanceID/RoleID), the
// sink implementations kept largely as-is.
package emit

import "context"

// Event is one telemetry/shadow-error/token-movement record (spec.md §4.7).
type Event struct {
	InstanceID string
	UOWID      string
	RoleID     string
	EventType  string
	Payload    map[string]interface{}
}

// Emitter is a downstream telemetry sink. Implementations must not block
// the caller for long and must not panic.
type Emitter interface {
	Emit(event Event)
	EmitBatch(ctx context.Context, events []Event) error
	Flush(ctx context.Context) error
}

// MultiEmitter fans a single event out to every wrapped Emitter.
type MultiEmitter struct {
	sinks []Emitter
}

// NewMultiEmitter wires multiple sinks (e.g. log + otel) as a single Emitter.
func NewMultiEmitter(sinks ...Emitter) *MultiEmitter {
	return &MultiEmitter{sinks: sinks}
}

func (m *MultiEmitter) Emit(event Event) {
	for _, s := range m.sinks {
		s.Emit(event)
	}
}

func (m *MultiEmitter) EmitBatch(ctx context.Context, events []Event) error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.EmitBatch(ctx, events); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *MultiEmitter) Flush(ctx context.Context) error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Flush(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
