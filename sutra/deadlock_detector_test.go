package sutra

import (
	"context"
	"testing"
	"time"
)

// TestDeadlockDetector_S3 is scenario S3 from spec.md §8: a holds x and
// waits on y; b holds y and waits on x. Detect must report the two-agent
// cycle, and Resolve must force-release the victim's locks.
func TestDeadlockDetector_S3(t *testing.T) {
	locks := NewLockManager(nil)
	ctx := context.Background()

	if _, err := locks.Acquire(ctx, "x", "a", 0); err != nil {
		t.Fatalf("a acquire x: %v", err)
	}
	if _, err := locks.Acquire(ctx, "y", "b", 0); err != nil {
		t.Fatalf("b acquire y: %v", err)
	}

	aWaits := make(chan struct{})
	bWaits := make(chan struct{})
	go func() {
		close(aWaits)
		_, _ = locks.Acquire(ctx, "y", "a", 0)
	}()
	go func() {
		close(bWaits)
		_, _ = locks.Acquire(ctx, "x", "b", 0)
	}()
	<-aWaits
	<-bWaits
	// Give both goroutines time to register as waiters.
	time.Sleep(20 * time.Millisecond)

	detector := NewDeadlockDetector(locks)
	cycles := detector.Detect()
	if len(cycles) == 0 {
		t.Fatal("expected at least one cycle to be detected")
	}

	found := false
	for _, c := range cycles {
		members := map[string]bool{}
		for _, agent := range c.Cycle {
			members[agent] = true
		}
		if members["a"] && members["b"] {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a cycle containing both a and b, got %+v", cycles)
	}

	victim, released := detector.Resolve(cycles[0])
	if victim != "a" && victim != "b" {
		t.Fatalf("expected victim to be a or b, got %q", victim)
	}
	if len(released) == 0 {
		t.Fatal("expected at least one lock released from the victim")
	}
}

func TestDeadlockDetector_NoCycle(t *testing.T) {
	locks := NewLockManager(nil)
	ctx := context.Background()
	if _, err := locks.Acquire(ctx, "x", "a", 0); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	detector := NewDeadlockDetector(locks)
	if cycles := detector.Detect(); len(cycles) != 0 {
		t.Fatalf("expected no cycles, got %+v", cycles)
	}
}
