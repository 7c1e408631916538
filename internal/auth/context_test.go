package auth

import (
	"context"
	"testing"
)

func TestActorRoundTrip(t *testing.T) {
	ctx := ContextWithActor(context.Background(), "ops@example.com")
	actor, ok := ActorFromContext(ctx)
	if !ok || actor != "ops@example.com" {
		t.Fatalf("actor not carried through context: %q, %v", actor, ok)
	}
}

func TestActorAbsent(t *testing.T) {
	if _, ok := ActorFromContext(context.Background()); ok {
		t.Fatalf("unexpected actor on empty context")
	}
	if _, ok := ActorFromContext(nil); ok {
		t.Fatalf("unexpected actor on nil context")
	}
}

func TestEmptyActorIgnored(t *testing.T) {
	ctx := ContextWithActor(context.Background(), "")
	if _, ok := ActorFromContext(ctx); ok {
		t.Fatalf("empty actor must not be reported as present")
	}
}
