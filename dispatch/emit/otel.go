package emit

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter turns events into OpenTelemetry spans. Each event becomes a
// point-in-time span named after the event message, carrying the run id,
// step, node id and the event metadata as attributes under the
// "schedula." namespace; error metadata marks the span status.
//
// Wire it to a configured tracer provider:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
//	emitter := emit.NewOTelEmitter(otel.Tracer("schedula"))
//	dsp := dispatch.New(dispatch.WithEmitter(emitter))
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates an OTelEmitter over the given tracer.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit records the event as an immediately-ended span.
func (o *OTelEmitter) Emit(event Event) {
	o.span(context.Background(), event)
}

// EmitBatch records every event as a span; the span processor batches the
// export.
func (o *OTelEmitter) EmitBatch(ctx context.Context, events []Event) error {
	for _, e := range events {
		o.span(ctx, e)
	}
	return nil
}

// Flush forces the globally registered tracer provider (otel.SetTracerProvider)
// to export pending spans, when it supports that (the SDK provider does,
// the noop one does not).
func (o *OTelEmitter) Flush(ctx context.Context) error {
	type flusher interface {
		ForceFlush(context.Context) error
	}
	if f, ok := otel.GetTracerProvider().(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}

func (o *OTelEmitter) span(ctx context.Context, event Event) {
	_, span := o.tracer.Start(ctx, event.Msg)
	defer span.End()

	span.SetAttributes(
		attribute.String("schedula.run_id", event.RunID),
		attribute.Int("schedula.step", event.Step),
		attribute.String("schedula.node_id", event.NodeID),
	)
	for _, key := range metaKeys(event.Meta) {
		setAttr(span, "schedula."+key, event.Meta[key])
	}
	if msg, ok := event.Meta["error"].(string); ok {
		span.SetStatus(codes.Error, msg)
		span.RecordError(fmt.Errorf("%s", msg))
	}
}

func metaKeys(meta map[string]any) []string {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	return keys
}

func setAttr(span trace.Span, key string, value any) {
	switch v := value.(type) {
	case string:
		span.SetAttributes(attribute.String(key, v))
	case int:
		span.SetAttributes(attribute.Int(key, v))
	case int64:
		span.SetAttributes(attribute.Int64(key, v))
	case float64:
		span.SetAttributes(attribute.Float64(key, v))
	case bool:
		span.SetAttributes(attribute.Bool(key, v))
	case time.Duration:
		span.SetAttributes(attribute.Int64(key, v.Milliseconds()))
	default:
		span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
	}
}
