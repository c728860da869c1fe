package sutra

import (
	"context"
	"sync"

	"github.com/sutra-kernel/sutra/core"
	"github.com/sutra-kernel/sutra/metrics"
)

// barrier is a named rendezvous point: required arrivals release every
// waiter (spec.md §3, §4.2).
type barrier struct {
	required int
	arrived  map[string]struct{}
	released bool
	waiters  []chan struct{}
}

// BarrierManager implements spec.md §4.2.
type BarrierManager struct {
	mu       sync.Mutex
	barriers map[string]*barrier
	metrics  *metrics.KernelMetrics
	disposed bool
}

// NewBarrierManager constructs an empty BarrierManager.
func NewBarrierManager() *BarrierManager {
	return &BarrierManager{barriers: make(map[string]*barrier)}
}

// SetMetrics installs the kernel metrics instrument. Nil is a valid no-op
// value (the default).
func (m *BarrierManager) SetMetrics(km *metrics.KernelMetrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = km
}

// Create registers a new barrier requiring `required` arrivals. Fails with
// Duplicate if name already exists.
func (m *BarrierManager) Create(name string, required int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return core.NewErrorf(core.KindDisposed, "barrier manager destroyed")
	}
	if required < 1 {
		return core.NewErrorf(core.KindProtocol, "barrier %q requires a positive count", name)
	}
	if _, exists := m.barriers[name]; exists {
		return core.NewErrorf(core.KindDuplicate, "barrier %q already exists", name)
	}
	m.barriers[name] = &barrier{required: required, arrived: make(map[string]struct{})}
	return nil
}

// Arrive adds agentID to name's arrived set. Once required arrivals are
// reached, every blocked observer (and this call, if it is the Nth
// arrival) completes; future arrivals return immediately (§4.2 edge
// cases). A repeat arrival by the same agent is idempotent.
func (m *BarrierManager) Arrive(ctx context.Context, name, agentID string) error {
	m.mu.Lock()
	b, exists := m.barriers[name]
	if !exists {
		m.mu.Unlock()
		return core.NewErrorf(core.KindUnknown, "no barrier named %q", name)
	}

	b.arrived[agentID] = struct{}{}
	if b.released || len(b.arrived) >= b.required {
		justReleased := !b.released
		b.released = true
		waiters := b.waiters
		b.waiters = nil
		km := m.metrics
		m.mu.Unlock()
		for _, w := range waiters {
			close(w)
		}
		if justReleased && km != nil {
			km.RecordBarrierRelease(ctx, name)
		}
		return nil
	}

	wait := make(chan struct{})
	b.waiters = append(b.waiters, wait)
	m.mu.Unlock()

	select {
	case <-wait:
		m.mu.Lock()
		disposed := m.disposed
		m.mu.Unlock()
		if disposed {
			return core.NewErrorf(core.KindDisposed, "barrier manager destroyed while waiting at %q", name)
		}
		return nil
	case <-ctx.Done():
		return core.Wrap(ctx.Err(), core.KindCancelled, "arrive at "+name+" cancelled")
	}
}

// Destroy releases every waiting observer across all barriers without
// satisfying their required count, and clears the barrier table.
func (m *BarrierManager) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return
	}
	m.disposed = true
	for _, b := range m.barriers {
		for _, w := range b.waiters {
			close(w)
		}
	}
	m.barriers = make(map[string]*barrier)
}
