package services_test

import (
	"context"
	"testing"

	"ytauto/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithJobID(ctx, "job-1")
	ctx = services.WithLine(ctx, "horror")
	ctx = services.WithStage(ctx, "script")
	ctx = services.WithProvider(ctx, "openrouter")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.JobIDFromContext(ctx); !ok || id != "job-1" {
		t.Fatalf("unexpected job id: %v %v", id, ok)
	}
	if line, ok := services.LineFromContext(ctx); !ok || line != "horror" {
		t.Fatalf("unexpected line: %v %v", line, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "script" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if p, ok := services.ProviderFromContext(ctx); !ok || p != "openrouter" {
		t.Fatalf("unexpected provider: %v %v", p, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestStageBlankPreservesContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStage(ctx, "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
}
