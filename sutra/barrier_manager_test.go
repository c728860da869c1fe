package sutra

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sutra-kernel/sutra/core"
)

func TestBarrierManager_ReleasesAllAtRequiredCount(t *testing.T) {
	m := NewBarrierManager()
	if err := m.Create("start", 3); err != nil {
		t.Fatalf("create: %v", err)
	}

	ctx := context.Background()
	var wg sync.WaitGroup
	results := make(chan error, 2)
	for _, agent := range []string{"a", "b"} {
		wg.Add(1)
		go func(agent string) {
			defer wg.Done()
			results <- m.Arrive(ctx, "start", agent)
		}(agent)
	}

	time.Sleep(10 * time.Millisecond) // let a and b block

	// The third arrival completes its own call immediately (§4.2 edge case).
	if err := m.Arrive(ctx, "start", "c"); err != nil {
		t.Fatalf("third arrival: %v", err)
	}

	wg.Wait()
	close(results)
	for err := range results {
		if err != nil {
			t.Fatalf("waiting arrival returned error: %v", err)
		}
	}

	// A future arrival returns immediately too.
	if err := m.Arrive(ctx, "start", "d"); err != nil {
		t.Fatalf("future arrival: %v", err)
	}
}

func TestBarrierManager_IdempotentArrival(t *testing.T) {
	m := NewBarrierManager()
	if err := m.Create("b", 2); err != nil {
		t.Fatalf("create: %v", err)
	}
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- m.Arrive(ctx, "b", "a") }()
	time.Sleep(5 * time.Millisecond)

	// Repeated arrival by the same agent does not double-count.
	go func() { _ = m.Arrive(ctx, "b", "a") }()
	time.Sleep(5 * time.Millisecond)

	select {
	case <-done:
		t.Fatal("barrier released with only one distinct arrival")
	default:
	}

	if err := m.Arrive(ctx, "b", "c"); err != nil {
		t.Fatalf("second distinct arrival: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("first waiter: %v", err)
	}
}

func TestBarrierManager_DuplicateCreate(t *testing.T) {
	m := NewBarrierManager()
	if err := m.Create("b", 1); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := m.Create("b", 1)
	if !core.IsKind(err, core.KindDuplicate) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestBarrierManager_Destroy(t *testing.T) {
	m := NewBarrierManager()
	if err := m.Create("b", 2); err != nil {
		t.Fatalf("create: %v", err)
	}
	ctx := context.Background()
	errC := make(chan error, 1)
	go func() { errC <- m.Arrive(ctx, "b", "a") }()
	time.Sleep(5 * time.Millisecond)

	m.Destroy()

	select {
	case err := <-errC:
		if !core.IsKind(err, core.KindDisposed) {
			t.Fatalf("expected disposed error, got %v", err)
		}
	case <-time.After(50 * time.Millisecond):
		t.Fatal("waiter was not released by destroy")
	}
}
