package emit

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter implements Emitter by creating an OpenTelemetry span per event,
// grounded on graph/emit/otel.go. Spans represent points in time rather than
// durations and are ended immediately after their attributes are set.
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter builds an OTelEmitter over tracer (e.g. otel.Tracer("chameleon")).
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

func (o *OTelEmitter) Emit(event Event) {
	ctx := context.Background()
	_, span := o.tracer.Start(ctx, event.EventType)
	defer span.End()

	o.setAttributes(span, event)
}

func (o *OTelEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, event := range events {
		o.Emit(event)
	}
	return nil
}

func (o *OTelEmitter) setAttributes(span trace.Span, event Event) {
	span.SetAttributes(
		attribute.String("chameleon.instance_id", event.InstanceID),
		attribute.String("chameleon.uow_id", event.UOWID),
		attribute.String("chameleon.role_id", event.RoleID),
	)

	for key, value := range event.Payload {
		attrKey := "chameleon.payload." + key
		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String(attrKey, v))
		case int:
			span.SetAttributes(attribute.Int(attrKey, v))
		case int64:
			span.SetAttributes(attribute.Int64(attrKey, v))
		case float64:
			span.SetAttributes(attribute.Float64(attrKey, v))
		case bool:
			span.SetAttributes(attribute.Bool(attrKey, v))
		default:
			span.SetAttributes(attribute.String(attrKey, fmt.Sprintf("%v", v)))
		}
	}

	if errMsg, ok := event.Payload["error"].(string); ok {
		span.SetStatus(codes.Error, errMsg)
		span.RecordError(fmt.Errorf("%s", errMsg))
	}
}

// Flush force-flushes the global tracer provider if it supports it.
func (o *OTelEmitter) Flush(ctx context.Context) error {
	tp := otel.GetTracerProvider()

	type flusher interface {
		ForceFlush(context.Context) error
	}

	if f, ok := tp.(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}
