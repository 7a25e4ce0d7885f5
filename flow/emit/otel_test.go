package emit

import (
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestOTelEmitterRecordsSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	e := NewOTelEmitter(provider.Tracer("test"))
	e.Emit(Event{
		RunID: "r1",
		Seq:   3,
		Node:  "Planner",
		Msg:   "executor_completed",
		Meta:  map[string]any{"duration_ms": int64(12)},
	})
	e.Emit(Event{
		RunID: "r1",
		Seq:   4,
		Msg:   "workflow_failed",
		Meta:  map[string]any{"error": "boom"},
	})

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	if spans[0].Name != "executor_completed" {
		t.Errorf("span name = %q, want executor_completed", spans[0].Name)
	}
	attrs := map[string]any{}
	for _, kv := range spans[0].Attributes {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	if attrs["run_id"] != "r1" || attrs["node"] != "Planner" {
		t.Errorf("span attributes = %v", attrs)
	}
	if attrs["duration_ms"] != int64(12) {
		t.Errorf("duration_ms attribute = %v", attrs["duration_ms"])
	}

	if spans[1].Status.Description != "boom" {
		t.Errorf("error span status = %+v", spans[1].Status)
	}
	if len(spans[1].Events) == 0 {
		t.Error("error span recorded no exception event")
	}
}
