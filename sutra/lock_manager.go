package sutra

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sutra-kernel/sutra/core"
	"github.com/sutra-kernel/sutra/metrics"
)

// Lock is a named re-entrant resource lock. At most one Lock exists per
// resource at any time (spec.md §3 invariant).
type Lock struct {
	Resource   string
	Holder     string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// waiter is one agent suspended inside LockManager.Acquire.
type waiter struct {
	agentID string
	ttl     time.Duration // lock expiry applied when this waiter is granted
	granted chan struct{} // closed when this waiter becomes the holder
	done    chan struct{} // closed to signal the waiter has left the queue
}

type lockEntry struct {
	lock  Lock
	queue []*waiter // strict FIFO; never contains the holder
}

// LockManager implements spec.md §4.1: named re-entrant locks with FIFO
// wait queues, timeouts, and forced release for deadlock resolution.
type LockManager struct {
	mu       sync.Mutex
	locks    map[string]*lockEntry
	log      core.Logger
	metrics  *metrics.KernelMetrics
	disposed bool
}

// SetMetrics installs the kernel metrics instrument. Nil is a valid no-op
// value (the default), matching the teacher's optional-instrumentation
// convention (framework/metrics/setup.go).
func (m *LockManager) SetMetrics(km *metrics.KernelMetrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = km
}

// DefaultLockTTL is used when Acquire is not given an explicit expiry via
// AcquireWithTTL; cleanupExpired() only acts on locks past ExpiresAt.
const DefaultLockTTL = 5 * time.Minute

// NewLockManager constructs an empty LockManager.
func NewLockManager(log core.Logger) *LockManager {
	if log == nil {
		log = core.NopLogger()
	}
	return &LockManager{locks: make(map[string]*lockEntry), log: log}
}

// Acquire grants resource to agentID, waiting up to timeout (zero means
// wait indefinitely, bounded by ctx) if it is already held by another
// agent. A re-acquire by the current holder returns immediately (§4.1
// re-entrancy) and never consumes a queue slot.
func (m *LockManager) Acquire(ctx context.Context, resource, agentID string, timeout time.Duration) (Lock, error) {
	return m.acquire(ctx, resource, agentID, timeout, DefaultLockTTL)
}

// AcquireWithTTL is Acquire with an explicit lock expiry, consumed by
// cleanupExpired and the deadlock detector's victim-selection heuristic.
func (m *LockManager) AcquireWithTTL(ctx context.Context, resource, agentID string, timeout, ttl time.Duration) (Lock, error) {
	return m.acquire(ctx, resource, agentID, timeout, ttl)
}

func (m *LockManager) acquire(ctx context.Context, resource, agentID string, timeout, ttl time.Duration) (Lock, error) {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return Lock{}, core.NewErrorf(core.KindDisposed, "lock manager destroyed")
	}

	now := time.Now()
	entry, exists := m.locks[resource]
	if !exists {
		lock := Lock{Resource: resource, Holder: agentID, AcquiredAt: now, ExpiresAt: now.Add(ttl)}
		m.locks[resource] = &lockEntry{lock: lock}
		km := m.metrics
		m.mu.Unlock()
		if km != nil {
			km.RecordLockAcquire(ctx, resource, 0)
		}
		return lock, nil
	}

	if entry.lock.Holder == agentID {
		// Re-entrant: same holder, same lock, no queue slot consumed.
		lock := entry.lock
		km := m.metrics
		m.mu.Unlock()
		if km != nil {
			km.RecordLockAcquire(ctx, resource, 0)
		}
		return lock, nil
	}

	w := &waiter{agentID: agentID, ttl: ttl, granted: make(chan struct{}), done: make(chan struct{})}
	entry.queue = append(entry.queue, w)
	waitStart := now
	m.mu.Unlock()

	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case <-w.granted:
		m.mu.Lock()
		lock := m.locks[resource].lock
		km := m.metrics
		m.mu.Unlock()
		if km != nil {
			km.RecordLockAcquire(ctx, resource, time.Since(waitStart))
		}
		return lock, nil
	case <-timeoutC:
		m.mu.Lock()
		select {
		case <-w.granted:
			// Race with release: the waiter was already granted the lock.
			lock := m.locks[resource].lock
			km := m.metrics
			m.mu.Unlock()
			if km != nil {
				km.RecordLockAcquire(ctx, resource, time.Since(waitStart))
			}
			return lock, nil
		default:
		}
		m.removeFromQueue(resource, w)
		km := m.metrics
		m.mu.Unlock()
		if km != nil {
			km.RecordLockTimeout(ctx, resource)
		}
		m.log.Warn("lock acquire timed out", zap.String("resource", resource), zap.String("agent", agentID), zap.Duration("timeout", timeout))
		return Lock{}, core.NewErrorf(core.KindTimeout, "acquire %q timed out after %s", resource, timeout)
	case <-ctx.Done():
		m.mu.Lock()
		select {
		case <-w.granted:
			m.mu.Unlock()
			lock := m.locks[resource].lock
			return lock, nil
		default:
		}
		m.removeFromQueue(resource, w)
		m.mu.Unlock()
		return Lock{}, core.Wrap(ctx.Err(), core.KindCancelled, "acquire "+resource+" cancelled")
	case <-w.done:
		// Destroy() rejected every waiter.
		return Lock{}, core.NewErrorf(core.KindDisposed, "lock manager destroyed while waiting for %q", resource)
	}
}

// removeFromQueue deletes w from resource's wait queue. Caller holds m.mu.
func (m *LockManager) removeFromQueue(resource string, w *waiter) {
	entry, ok := m.locks[resource]
	if !ok {
		return
	}
	for i, q := range entry.queue {
		if q == w {
			entry.queue = append(entry.queue[:i], entry.queue[i+1:]...)
			return
		}
	}
}

// Release releases resource held by agentID. If waiters are queued, the
// head is granted the lock (FIFO, §5); otherwise the entry is destroyed.
func (m *LockManager) Release(resource, agentID string) error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return core.NewErrorf(core.KindDisposed, "lock manager destroyed")
	}
	entry, exists := m.locks[resource]
	if !exists {
		m.mu.Unlock()
		return core.NewErrorf(core.KindUnknown, "no lock held on %q", resource)
	}
	if entry.lock.Holder != agentID {
		m.mu.Unlock()
		return core.NewErrorf(core.KindDenied, "agent %q is not the holder of %q", agentID, resource)
	}
	m.grantNextLocked(resource, entry)
	m.mu.Unlock()
	return nil
}

// grantNextLocked advances resource's lock to the next FIFO waiter, or
// deletes the entry if the queue is empty. Caller holds m.mu.
func (m *LockManager) grantNextLocked(resource string, entry *lockEntry) {
	for len(entry.queue) > 0 {
		next := entry.queue[0]
		entry.queue = entry.queue[1:]
		now := time.Now()
		entry.lock = Lock{Resource: resource, Holder: next.agentID, AcquiredAt: now, ExpiresAt: now.Add(next.ttl)}
		close(next.granted)
		return
	}
	delete(m.locks, resource)
}

// IsLocked reports whether resource currently has a holder.
func (m *LockManager) IsLocked(resource string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.locks[resource]
	return exists
}

// ForceRelease releases resource regardless of holder, granting the lock to
// the next waiter if any. Used exclusively by DeadlockDetector's victim
// resolution (§4.6).
func (m *LockManager) ForceRelease(resource string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, exists := m.locks[resource]
	if !exists {
		return core.NewErrorf(core.KindUnknown, "no lock held on %q", resource)
	}
	m.grantNextLocked(resource, entry)
	return nil
}

// CleanupExpired releases every lock whose ExpiresAt has elapsed, granting
// to the next waiter as Release would.
func (m *LockManager) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	released := 0
	for resource, entry := range m.locks {
		if now.After(entry.lock.ExpiresAt) || now.Equal(entry.lock.ExpiresAt) {
			m.grantNextLocked(resource, entry)
			released++
		}
	}
	return released
}

// Snapshot returns a read-only view of the lock table for DeadlockDetector,
// mapping resource -> (holder, waiting agent IDs in FIFO order).
func (m *LockManager) Snapshot() map[string]LockSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]LockSnapshot, len(m.locks))
	for resource, entry := range m.locks {
		waiters := make([]string, len(entry.queue))
		for i, w := range entry.queue {
			waiters[i] = w.agentID
		}
		out[resource] = LockSnapshot{
			Holder:    entry.lock.Holder,
			ExpiresAt: entry.lock.ExpiresAt,
			Waiters:   waiters,
		}
	}
	return out
}

// LockSnapshot is the read-only projection DeadlockDetector consumes.
type LockSnapshot struct {
	Holder    string
	ExpiresAt time.Time
	Waiters   []string
}

// Destroy rejects every pending waiter and clears the lock table. Safe to
// call multiple times.
func (m *LockManager) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return
	}
	m.disposed = true
	for _, entry := range m.locks {
		for _, w := range entry.queue {
			close(w.done)
		}
	}
	m.locks = make(map[string]*lockEntry)
}
