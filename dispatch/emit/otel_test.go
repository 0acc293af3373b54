package emit

import (
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestOTelEmitter(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	emitter := NewOTelEmitter(tp.Tracer("schedula-test"))

	emitter.Emit(Event{
		RunID:  "run-1",
		Step:   2,
		NodeID: "c",
		Msg:    "node_visit",
		Meta:   map[string]any{"dist": 2.0, "kind": "data"},
	})
	emitter.Emit(Event{
		RunID: "run-1",
		Msg:   "node_error",
		Meta:  map[string]any{"error": "boom"},
	})

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("recorded %d spans, want 2", len(spans))
	}
	if spans[0].Name() != "node_visit" {
		t.Errorf("span name = %q, want node_visit", spans[0].Name())
	}
	attrs := map[string]any{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	if attrs["schedula.run_id"] != "run-1" {
		t.Errorf("run_id attribute = %v", attrs["schedula.run_id"])
	}
	if attrs["schedula.dist"] != 2.0 {
		t.Errorf("dist attribute = %v", attrs["schedula.dist"])
	}
	if spans[1].Status().Description != "boom" {
		t.Errorf("error span status = %+v, want boom", spans[1].Status())
	}
}

func TestOTelEmitter_Batch(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	emitter := NewOTelEmitter(tp.Tracer("schedula-test"))

	events := []Event{{Msg: "a"}, {Msg: "b"}, {Msg: "c"}}
	if err := emitter.EmitBatch(context.Background(), events); err != nil {
		t.Fatalf("batch: %v", err)
	}
	if got := len(recorder.Ended()); got != 3 {
		t.Errorf("recorded %d spans, want 3", got)
	}
}
