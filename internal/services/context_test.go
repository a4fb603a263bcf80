package services_test

import (
	"context"
	"testing"

	"vidflow/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithTaskID(ctx, "task-1")
	ctx = services.WithStage(ctx, "download")
	ctx = services.WithAttempt(ctx, 2)
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.TaskIDFromContext(ctx); !ok || id != "task-1" {
		t.Fatalf("unexpected task id: %v %v", id, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "download" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if attempt, ok := services.AttemptFromContext(ctx); !ok || attempt != 2 {
		t.Fatalf("unexpected attempt: %v %v", attempt, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStage(ctx, "")
	ctx = services.WithTaskID(ctx, "")
	ctx = services.WithAttempt(ctx, 0)
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected blank stage to be ignored")
	}
	if _, ok := services.TaskIDFromContext(ctx); ok {
		t.Fatal("expected blank task id to be ignored")
	}
	if _, ok := services.AttemptFromContext(ctx); ok {
		t.Fatal("expected zero attempt to be ignored")
	}
}
