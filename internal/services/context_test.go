package services_test

import (
	"context"
	"testing"

	"faststart/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithFileKey(ctx, "/videos/a.mp4")
	ctx = services.WithStage(ctx, "scan")
	ctx = services.WithRequestID(ctx, "req-123")

	if key, ok := services.FileKeyFromContext(ctx); !ok || key != "/videos/a.mp4" {
		t.Fatalf("unexpected file key: %v %v", key, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "scan" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStage(ctx, "")
	ctx = services.WithFileKey(ctx, "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
	if _, ok := services.FileKeyFromContext(ctx); ok {
		t.Fatal("expected no file key value")
	}
}
