package services_test

import (
	"context"
	"testing"

	"tonearm/internal/services"
)

func TestContextAnnotationsRoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithTaskID(ctx, "task-1")
	ctx = services.WithBatchID(ctx, "batch-1")
	ctx = services.WithStage(ctx, "fetch")
	ctx = services.WithRequestID(ctx, "req-1")

	if v, ok := services.TaskIDFromContext(ctx); !ok || v != "task-1" {
		t.Fatalf("task id = %q %v", v, ok)
	}
	if v, ok := services.BatchIDFromContext(ctx); !ok || v != "batch-1" {
		t.Fatalf("batch id = %q %v", v, ok)
	}
	if v, ok := services.StageFromContext(ctx); !ok || v != "fetch" {
		t.Fatalf("stage = %q %v", v, ok)
	}
	if v, ok := services.RequestIDFromContext(ctx); !ok || v != "req-1" {
		t.Fatalf("request id = %q %v", v, ok)
	}
}

func TestEmptyValuesAreNotStored(t *testing.T) {
	ctx := services.WithTaskID(context.Background(), "")
	if _, ok := services.TaskIDFromContext(ctx); ok {
		t.Fatal("empty task id should not annotate context")
	}
	if _, ok := services.BatchIDFromContext(context.Background()); ok {
		t.Fatal("unannotated context should report absence")
	}
}
