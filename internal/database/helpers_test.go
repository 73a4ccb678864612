package database

import (
	"context"
	"testing"
	"time"
)

type ctxKey struct{}

func TestDetachOutlivesCaller(t *testing.T) {
	parent, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "req-1"))
	cancel()

	ctx, release := Detach(parent)
	defer release()

	if err := ctx.Err(); err != nil {
		t.Fatalf("detached context inherited cancellation: %v", err)
	}
	if got := ctx.Value(ctxKey{}); got != "req-1" {
		t.Errorf("expected request values to survive, got %v", got)
	}
	deadline, ok := ctx.Deadline()
	if !ok || time.Until(deadline) > WriteTimeout {
		t.Errorf("expected a deadline within %s, got %v", WriteTimeout, deadline)
	}
}
