package orchestrator

import (
	"context"
	"testing"
	"time"
)

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	pool := NewWorkerPool(1)

	release1, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error acquiring first slot: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := pool.Acquire(ctx); err == nil {
		t.Fatal("expected second acquire to block until the context deadline, got no error")
	}

	release1()

	release2, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error acquiring slot after release: %v", err)
	}
	release2()
}

func TestNewWorkerPoolDefaultsToOneSlotForNonPositiveSize(t *testing.T) {
	pool := NewWorkerPool(0)
	release, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	release()
}
