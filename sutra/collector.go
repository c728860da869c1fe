package sutra

import (
	"context"
	"sync"
	"time"

	"github.com/sutra-kernel/sutra/core"
)

// ResultCollector aggregates partial results from `expected` agents and
// resolves every observer once results+errors reaches expected (spec.md
// §3, §4.4). Submissions after completion return without error but are
// not recorded and do not reopen the collector (the source keeps promoting resolvers from submitError
// too; the spec preserves this intentionally — spec.md §9).
type ResultCollector struct {
	mu        sync.Mutex
	id        string
	expected  int
	results   map[string]interface{}
	errs      map[string]error
	observers []chan struct{}
	done      bool
	disposed  bool
}

func newResultCollector(id string, expected int) *ResultCollector {
	return &ResultCollector{
		id:       id,
		expected: expected,
		results:  make(map[string]interface{}),
		errs:     make(map[string]error),
	}
}

// checkCompleteLocked resolves every observer once the total submission
// count reaches expected. Caller holds c.mu.
func (c *ResultCollector) checkCompleteLocked() {
	if c.done || len(c.results)+len(c.errs) < c.expected {
		return
	}
	c.done = true
	observers := c.observers
	c.observers = nil
	for _, o := range observers {
		close(o)
	}
}

// SubmitResult records a successful payload from agentID.
func (c *ResultCollector) SubmitResult(agentID string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return
	}
	c.results[agentID] = value
	c.checkCompleteLocked()
}

// SubmitError records a failed submission from agentID. Errors count
// toward expected exactly like successes (§9 design notes).
func (c *ResultCollector) SubmitError(agentID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return
	}
	c.errs[agentID] = err
	c.checkCompleteLocked()
}

// WaitForAll blocks until the collector completes or timeout/ctx elapses,
// then returns a copy of the successful-results map (errors are tracked
// separately via Errors()).
func (c *ResultCollector) WaitForAll(ctx context.Context, timeout time.Duration) (map[string]interface{}, error) {
	c.mu.Lock()
	if c.done {
		out := cloneResults(c.results)
		c.mu.Unlock()
		return out, nil
	}
	if c.disposed {
		c.mu.Unlock()
		return nil, core.NewErrorf(core.KindDisposed, "collector %q destroyed", c.id)
	}
	obs := make(chan struct{})
	c.observers = append(c.observers, obs)
	c.mu.Unlock()

	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case <-obs:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.disposed && !c.done {
			return nil, core.NewErrorf(core.KindDisposed, "collector %q destroyed", c.id)
		}
		return cloneResults(c.results), nil
	case <-timeoutC:
		return nil, core.NewErrorf(core.KindTimeout, "collector %q timed out after %s", c.id, timeout)
	case <-ctx.Done():
		return nil, core.Wrap(ctx.Err(), core.KindCancelled, "wait for collector "+c.id+" cancelled")
	}
}

// Errors returns a copy of the per-agent failures recorded so far.
func (c *ResultCollector) Errors() map[string]error {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]error, len(c.errs))
	for k, v := range c.errs {
		out[k] = v
	}
	return out
}

// Done reports whether the collector has reached its expected count.
func (c *ResultCollector) Done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *ResultCollector) destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	c.disposed = true
	observers := c.observers
	c.observers = nil
	for _, o := range observers {
		close(o)
	}
}

func cloneResults(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// CreateCollector registers a new ResultCollector requiring `expected`
// submissions. Returns its opaque ID.
func (m *SharedMemoryManager) CreateCollector(expected int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return "", core.NewErrorf(core.KindDisposed, "shared memory manager destroyed")
	}
	if expected < 1 {
		return "", core.NewErrorf(core.KindProtocol, "collector requires a positive expected count")
	}
	id := newID()
	m.collectors[id] = newResultCollector(id, expected)
	return id, nil
}

func (m *SharedMemoryManager) collector(id string) (*ResultCollector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, exists := m.collectors[id]
	if !exists {
		return nil, core.NewErrorf(core.KindUnknown, "no collector %q", id)
	}
	return c, nil
}

// SubmitResult records agentID's successful payload against collector id.
func (m *SharedMemoryManager) SubmitResult(id, agentID string, value interface{}) error {
	c, err := m.collector(id)
	if err != nil {
		return err
	}
	c.SubmitResult(agentID, value)
	return nil
}

// SubmitError records agentID's failure against collector id.
func (m *SharedMemoryManager) SubmitError(id, agentID string, submitErr error) error {
	c, err := m.collector(id)
	if err != nil {
		return err
	}
	c.SubmitError(agentID, submitErr)
	return nil
}

// WaitForAll blocks until collector id completes or timeout elapses.
func (m *SharedMemoryManager) WaitForAll(ctx context.Context, id string, timeout time.Duration) (map[string]interface{}, error) {
	c, err := m.collector(id)
	if err != nil {
		return nil, err
	}
	return c.WaitForAll(ctx, timeout)
}
