package sutra

import (
	"context"
	"testing"
	"time"

	"github.com/sutra-kernel/sutra/core"
)

func TestLockManager_AcquireRelease(t *testing.T) {
	m := NewLockManager(nil)
	ctx := context.Background()

	lock, err := m.Acquire(ctx, "db", "a", 0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if lock.Holder != "a" {
		t.Fatalf("expected holder a, got %s", lock.Holder)
	}
	if !m.IsLocked("db") {
		t.Fatal("expected db to be locked")
	}
	if err := m.Release("db", "a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if m.IsLocked("db") {
		t.Fatal("expected db to be unlocked")
	}
}

func TestLockManager_Reentrant(t *testing.T) {
	m := NewLockManager(nil)
	ctx := context.Background()

	first, err := m.Acquire(ctx, "db", "a", 0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	second, err := m.Acquire(ctx, "db", "a", 0)
	if err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	if second.Holder != first.Holder || second.AcquiredAt != first.AcquiredAt {
		t.Fatalf("expected identical lock on re-entrant acquire, got %+v vs %+v", first, second)
	}
}

// TestLockManager_S2 is scenario S2 from spec.md §8.
func TestLockManager_S2(t *testing.T) {
	m := NewLockManager(nil)
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "db", "a", 0); err != nil {
		t.Fatalf("a acquire: %v", err)
	}

	resultC := make(chan error, 1)
	go func() {
		_, err := m.Acquire(ctx, "db", "b", 50*time.Millisecond)
		resultC <- err
	}()

	time.Sleep(10 * time.Millisecond)
	if err := m.Release("db", "a"); err != nil {
		t.Fatalf("a release: %v", err)
	}

	select {
	case err := <-resultC:
		if err != nil {
			t.Fatalf("expected b to acquire without timeout, got %v", err)
		}
	case <-time.After(15 * time.Millisecond):
		t.Fatal("b did not acquire within 15ms")
	}
}

func TestLockManager_FIFOFairness(t *testing.T) {
	m := NewLockManager(nil)
	ctx := context.Background()
	if _, err := m.Acquire(ctx, "r", "holder", 0); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	const n = 5
	order := make(chan string, n)
	started := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		agent := string(rune('a' + i))
		go func(agent string) {
			started <- struct{}{}
			if _, err := m.Acquire(ctx, "r", agent, 0); err == nil {
				order <- agent
			}
		}(agent)
		<-started // serialize enqueue order
		time.Sleep(2 * time.Millisecond)
	}

	if err := m.Release("r", "holder"); err != nil {
		t.Fatalf("release holder: %v", err)
	}

	var got []string
	for i := 0; i < n; i++ {
		agent := <-order
		got = append(got, agent)
		if err := m.Release("r", agent); err != nil {
			t.Fatalf("release %s: %v", agent, err)
		}
	}

	for i, agent := range got {
		expected := string(rune('a' + i))
		if agent != expected {
			t.Fatalf("expected FIFO order, position %d: got %s want %s (%v)", i, agent, expected, got)
		}
	}
}

func TestLockManager_TimeoutReleasesSlot(t *testing.T) {
	m := NewLockManager(nil)
	ctx := context.Background()
	if _, err := m.Acquire(ctx, "r", "holder", 0); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	_, err := m.Acquire(ctx, "r", "waiter", 10*time.Millisecond)
	if !core.IsKind(err, core.KindTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}

	snap := m.Snapshot()
	if len(snap["r"].Waiters) != 0 {
		t.Fatalf("expected no waiters after timeout, got %v", snap["r"].Waiters)
	}
}

func TestLockManager_ReleaseByNonHolder(t *testing.T) {
	m := NewLockManager(nil)
	ctx := context.Background()
	if _, err := m.Acquire(ctx, "r", "a", 0); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	err := m.Release("r", "b")
	if !core.IsKind(err, core.KindDenied) {
		t.Fatalf("expected denied error, got %v", err)
	}
}

func TestLockManager_ForceRelease(t *testing.T) {
	m := NewLockManager(nil)
	ctx := context.Background()
	if _, err := m.Acquire(ctx, "r", "a", 0); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := m.ForceRelease("r"); err != nil {
		t.Fatalf("force release: %v", err)
	}
	if m.IsLocked("r") {
		t.Fatal("expected r to be unlocked after force release")
	}
}

func TestLockManager_Destroy(t *testing.T) {
	m := NewLockManager(nil)
	ctx := context.Background()
	if _, err := m.Acquire(ctx, "r", "a", 0); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		_, err := m.Acquire(ctx, "r", "b", 0)
		waitErr <- err
	}()
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

	if _, err := m.Acquire(ctx, "other", "a", 0); !core.IsKind(err, core.KindDisposed) {
		t.Fatalf("expected disposed error after destroy, got %v", err)
	}
}
