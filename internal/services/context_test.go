package services_test

import (
	"context"
	"testing"

	"keyredeem/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithRunID(ctx, "run-123")
	ctx = services.WithKey(ctx, "abc", "Game A")

	if rid, ok := services.RunIDFromContext(ctx); !ok || rid != "run-123" {
		t.Fatalf("unexpected run id: %v %v", rid, ok)
	}
	gamekey, name, ok := services.KeyFromContext(ctx)
	if !ok || gamekey != "abc" || name != "Game A" {
		t.Fatalf("unexpected key: %q %q %v", gamekey, name, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithRunID(ctx, "")
	ctx = services.WithKey(ctx, "", "")
	if _, ok := services.RunIDFromContext(ctx); ok {
		t.Fatal("expected no run id")
	}
	if _, _, ok := services.KeyFromContext(ctx); ok {
		t.Fatal("expected no key")
	}
}
