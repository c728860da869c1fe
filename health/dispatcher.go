// Package health dispatches the four health events the kernel recognizes
// but does not act on: actuation (throttling an agent, triggering a
// guna-shift workflow, paging an operator) is the caller's responsibility.
// Nothing in the kernel calls Dispatch: a health-producing component
// outside it raises the events, and registered handlers decide what
// happens next.
package health

import (
	"context"
	"sync"

	"github.com/sutra-kernel/sutra/core"
)

// Dispatcher fans a health event out to every registered
// core.HealthEventHandler. A handler's error or panic is logged and does
// not abort the remaining handlers; Dispatch itself returns nothing.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers []core.HealthEventHandler
	log      core.Logger
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher(log core.Logger) *Dispatcher {
	if log == nil {
		log = core.NopLogger()
	}
	return &Dispatcher{log: log}
}

// Register adds a handler that will be invoked on every future Dispatch
// call.
func (d *Dispatcher) Register(handler core.HealthEventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, handler)
}

// Dispatch invokes every registered handler with event and payload, via
// core.InvokeCallback so a panicking or misbehaving handler cannot break
// the caller that raised the event.
func (d *Dispatcher) Dispatch(ctx context.Context, event core.HealthEvent, payload map[string]interface{}) {
	d.mu.RLock()
	handlers := make([]core.HealthEventHandler, len(d.handlers))
	copy(handlers, d.handlers)
	d.mu.RUnlock()

	for _, handler := range handlers {
		handler := handler
		core.InvokeCallback(d.log, string(event), func() error {
			return handler(ctx, event, payload)
		})
	}
}
