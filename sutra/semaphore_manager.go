package sutra

import (
	"context"
	"sync"

	"github.com/sutra-kernel/sutra/core"
	"github.com/sutra-kernel/sutra/metrics"
)

// semWaiter is one agent suspended inside SemaphoreManager.Acquire, in
// strict FIFO order (§4.3 fairness).
type semWaiter struct {
	agentID string
	grant   chan struct{}
	done    chan struct{}
}

type semaphore struct {
	maxPermits     int
	currentPermits int
	queue          []*semWaiter
}

// SemaphoreManager implements spec.md §4.3: counting semaphores with fair
// FIFO permit queues.
type SemaphoreManager struct {
	mu         sync.Mutex
	semaphores map[string]*semaphore
	metrics    *metrics.KernelMetrics
	disposed   bool
}

// NewSemaphoreManager constructs an empty SemaphoreManager.
func NewSemaphoreManager() *SemaphoreManager {
	return &SemaphoreManager{semaphores: make(map[string]*semaphore)}
}

// SetMetrics installs the kernel metrics instrument. Nil is a valid no-op
// value (the default).
func (m *SemaphoreManager) SetMetrics(km *metrics.KernelMetrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = km
}

// Create registers name with the given permit count. Fails with Duplicate
// if name already exists.
func (m *SemaphoreManager) Create(name string, permits int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return core.NewErrorf(core.KindDisposed, "semaphore manager destroyed")
	}
	if permits < 1 {
		return core.NewErrorf(core.KindProtocol, "semaphore %q requires a positive permit count", name)
	}
	if _, exists := m.semaphores[name]; exists {
		return core.NewErrorf(core.KindDuplicate, "semaphore %q already exists", name)
	}
	m.semaphores[name] = &semaphore{maxPermits: permits, currentPermits: permits}
	return nil
}

// Acquire takes one permit of name for agentID. If a permit is available
// and the queue is empty, it is granted immediately; otherwise agentID is
// enqueued in strict FIFO order even if a permit became available in the
// same instant (§4.3 fairness).
func (m *SemaphoreManager) Acquire(ctx context.Context, name, agentID string) error {
	m.mu.Lock()
	s, exists := m.semaphores[name]
	if !exists {
		m.mu.Unlock()
		return core.NewErrorf(core.KindUnknown, "no semaphore named %q", name)
	}

	if len(s.queue) == 0 && s.currentPermits > 0 {
		s.currentPermits--
		m.mu.Unlock()
		return nil
	}

	w := &semWaiter{agentID: agentID, grant: make(chan struct{}), done: make(chan struct{})}
	s.queue = append(s.queue, w)
	km := m.metrics
	m.mu.Unlock()
	if km != nil {
		km.RecordSemaphoreWait(ctx, name)
	}

	select {
	case <-w.grant:
		return nil
	case <-ctx.Done():
		m.mu.Lock()
		select {
		case <-w.grant:
			m.mu.Unlock()
			return nil
		default:
		}
		for i, q := range s.queue {
			if q == w {
				s.queue = append(s.queue[:i], s.queue[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
		return core.Wrap(ctx.Err(), core.KindCancelled, "acquire "+name+" cancelled")
	case <-w.done:
		return core.NewErrorf(core.KindDisposed, "semaphore manager destroyed while waiting for %q", name)
	}
}

// Release returns agentID's permit to name. If a waiter is queued, the
// permit passes directly to the head of the queue (no counter change);
// otherwise currentPermits is incremented, capped at maxPermits.
func (m *SemaphoreManager) Release(name, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, exists := m.semaphores[name]
	if !exists {
		return core.NewErrorf(core.KindUnknown, "no semaphore named %q", name)
	}

	if len(s.queue) > 0 {
		next := s.queue[0]
		s.queue = s.queue[1:]
		close(next.grant)
		return nil
	}

	if s.currentPermits < s.maxPermits {
		s.currentPermits++
	}
	return nil
}

// Destroy rejects every pending waiter across all semaphores and clears
// the table.
func (m *SemaphoreManager) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return
	}
	m.disposed = true
	for _, s := range m.semaphores {
		for _, w := range s.queue {
			close(w.done)
		}
	}
	m.semaphores = make(map[string]*semaphore)
}
