package sutra

import (
	"context"
	"testing"
	"time"

	"github.com/sutra-kernel/sutra/core"
)

func TestSemaphoreManager_AcquireRelease(t *testing.T) {
	m := NewSemaphoreManager()
	if err := m.Create("pool", 2); err != nil {
		t.Fatalf("create: %v", err)
	}
	ctx := context.Background()

	if err := m.Acquire(ctx, "pool", "a"); err != nil {
		t.Fatalf("a acquire: %v", err)
	}
	if err := m.Acquire(ctx, "pool", "b"); err != nil {
		t.Fatalf("b acquire: %v", err)
	}

	acquired := make(chan error, 1)
	go func() { acquired <- m.Acquire(ctx, "pool", "c") }()
	time.Sleep(10 * time.Millisecond)

	select {
	case <-acquired:
		t.Fatal("c should not have acquired a permit yet")
	default:
	}

	if err := m.Release("pool", "a"); err != nil {
		t.Fatalf("release: %v", err)
	}

	select {
	case err := <-acquired:
		if err != nil {
			t.Fatalf("c acquire: %v", err)
		}
	case <-time.After(50 * time.Millisecond):
		t.Fatal("c did not acquire after release")
	}
}

func TestSemaphoreManager_StrictFIFOEvenWithFreePermit(t *testing.T) {
	m := NewSemaphoreManager()
	if err := m.Create("pool", 1); err != nil {
		t.Fatalf("create: %v", err)
	}
	ctx := context.Background()
	if err := m.Acquire(ctx, "pool", "a"); err != nil {
		t.Fatalf("a acquire: %v", err)
	}

	firstWaiter := make(chan error, 1)
	go func() { firstWaiter <- m.Acquire(ctx, "pool", "b") }()
	time.Sleep(10 * time.Millisecond)

	if err := m.Release("pool", "a"); err != nil {
		t.Fatalf("release: %v", err)
	}

	// A fresh acquirer arriving right as the permit frees up must still
	// queue behind b (§4.3 fairness), not race ahead of it.
	secondWaiter := make(chan error, 1)
	go func() { secondWaiter <- m.Acquire(ctx, "pool", "c") }()

	select {
	case err := <-firstWaiter:
		if err != nil {
			t.Fatalf("b acquire: %v", err)
		}
	case <-time.After(50 * time.Millisecond):
		t.Fatal("b did not acquire")
	}

	select {
	case <-secondWaiter:
		t.Fatal("c should still be queued behind b")
	default:
	}

	if err := m.Release("pool", "b"); err != nil {
		t.Fatalf("release b: %v", err)
	}
	select {
	case err := <-secondWaiter:
		if err != nil {
			t.Fatalf("c acquire: %v", err)
		}
	case <-time.After(50 * time.Millisecond):
		t.Fatal("c did not acquire after b released")
	}
}

func TestSemaphoreManager_Destroy(t *testing.T) {
	m := NewSemaphoreManager()
	if err := m.Create("pool", 1); err != nil {
		t.Fatalf("create: %v", err)
	}
	ctx := context.Background()
	if err := m.Acquire(ctx, "pool", "a"); err != nil {
		t.Fatalf("a acquire: %v", err)
	}
	waitErr := make(chan error, 1)
	go func() { waitErr <- m.Acquire(ctx, "pool", "b") }()
	time.Sleep(5 * time.Millisecond)

	m.Destroy()

	select {
	case err := <-waitErr:
		if !core.IsKind(err, core.KindDisposed) {
			t.Fatalf("expected disposed error, got %v", err)
		}
	case <-time.After(50 * time.Millisecond):
		t.Fatal("waiter was not rejected by destroy")
	}
}
