package sutra

import (
	"sync"
	"time"

	"github.com/sutra-kernel/sutra/core"
)

// InputRequest is an outbound request for human/parent input, awaiting an
// inbound response correlated by RequestID (spec.md §3, §4.7; "Sandesha"
// after the source's input-request router).
type InputRequest struct {
	RequestID string
	AgentID   string
	Prompt    string
	Choices   []string
	InputType string
	TimeoutMs int64
	CreatedAt time.Time
}

type sandeshaPending struct {
	req     InputRequest
	resultC chan interface{}
	timer   *time.Timer
}

// SandeshaRouter implements spec.md §4.7: correlates outbound InputRequest
// events to inbound responses, with a per-request timeout and a bounded
// pending set.
type SandeshaRouter struct {
	mu       sync.Mutex
	pending  map[string]*sandeshaPending
	maxSize  int
	log      core.Logger
	disposed bool
}

// NewSandeshaRouter constructs a router bounded to maxPending outstanding
// requests (default 10 per spec.md §4.7).
func NewSandeshaRouter(maxPending int, log core.Logger) *SandeshaRouter {
	if maxPending <= 0 {
		maxPending = 10
	}
	if log == nil {
		log = core.NopLogger()
	}
	return &SandeshaRouter{pending: make(map[string]*sandeshaPending), maxSize: maxPending, log: log}
}

// Request registers req and blocks until Respond is called with a matching
// requestId or the request's own timeout elapses. Rejects with Full if the
// pending set is already at capacity.
func (r *SandeshaRouter) Request(req InputRequest, timeout time.Duration) (interface{}, error) {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return nil, core.NewErrorf(core.KindDisposed, "sandesha router destroyed")
	}
	if len(r.pending) >= r.maxSize {
		r.mu.Unlock()
		return nil, core.NewErrorf(core.KindFull, "pending request set at capacity %d", r.maxSize)
	}

	p := &sandeshaPending{req: req, resultC: make(chan interface{}, 1)}
	r.pending[req.RequestID] = p
	r.mu.Unlock()

	if timeout <= 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	timer := time.AfterFunc(timeout, func() {
		r.mu.Lock()
		cur, exists := r.pending[req.RequestID]
		if exists && cur == p {
			delete(r.pending, req.RequestID)
		}
		r.mu.Unlock()
		if exists && cur == p {
			select {
			case p.resultC <- timeoutMarker{}:
			default:
			}
		}
	})
	p.timer = timer

	result := <-p.resultC
	switch result.(type) {
	case timeoutMarker:
		return nil, core.NewErrorf(core.KindTimeout, "input request %q timed out", req.RequestID)
	case disposedMarker:
		return nil, core.NewErrorf(core.KindDisposed, "sandesha router destroyed while awaiting %q", req.RequestID)
	default:
		return result, nil
	}
}

type timeoutMarker struct{}

// Respond resolves the pending request matching requestID with value.
// Returns Unknown if no such request is pending (already resolved or never
// existed) — per spec.md §3, a request is resolved exactly once.
func (r *SandeshaRouter) Respond(requestID string, value interface{}) error {
	r.mu.Lock()
	p, exists := r.pending[requestID]
	if exists {
		delete(r.pending, requestID)
	}
	r.mu.Unlock()
	if !exists {
		return core.NewErrorf(core.KindUnknown, "no pending input request %q", requestID)
	}
	p.timer.Stop()
	select {
	case p.resultC <- value:
	default:
	}
	return nil
}

// PendingCount reports how many InputRequests are currently outstanding.
func (r *SandeshaRouter) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Destroy cancels every pending timer and rejects every outstanding
// observer with a Disposed error.
func (r *SandeshaRouter) Destroy() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed {
		return
	}
	r.disposed = true
	for id, p := range r.pending {
		p.timer.Stop()
		select {
		case p.resultC <- disposedMarker{}:
		default:
		}
		delete(r.pending, id)
	}
}

type disposedMarker struct{}
