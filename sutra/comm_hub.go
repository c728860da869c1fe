package sutra

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sutra-kernel/sutra/core"
	"github.com/sutra-kernel/sutra/metrics"
	"github.com/sutra-kernel/sutra/observability"
)

// pendingReply is a registered request() awaiting its correlated reply.
type pendingReply struct {
	resultC chan Envelope
	done    chan struct{}
}

// HubStats is the snapshot getStats() (§4.5) returns.
type HubStats struct {
	TotalMessages   int64
	ActiveChannels  int
	PendingReplies  int
	LocksHeld       int
	RegionsActive   int
}

// CommHub is the kernel's pub/sub + request/reply core, composing the four
// managers (spec.md §4.5). It owns channels and the pending-reply table,
// and runs a periodic TTL sweep.
type CommHub struct {
	cfg     HubConfig
	log     core.Logger
	metrics *metrics.KernelMetrics
	tracer  trace.Tracer

	Locks    *LockManager
	Barriers *BarrierManager
	Sems     *SemaphoreManager
	Memory   *SharedMemoryManager
	Deadlock *DeadlockDetector
	Sandesha *SandeshaRouter

	mu       sync.Mutex
	channels map[string]*channel
	pending  map[string]*pendingReply
	total    int64

	sweepStop chan struct{}
	sweepDone chan struct{}

	disposed bool
}

// NewCommHub constructs a hub and starts its periodic sweep.
func NewCommHub(cfg HubConfig) *CommHub {
	if cfg.Logger == nil {
		cfg.Logger = core.NopLogger()
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = DefaultHubConfig().MaxHistory
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultHubConfig().SweepInterval
	}
	if cfg.MaxPendingRequests <= 0 {
		cfg.MaxPendingRequests = DefaultHubConfig().MaxPendingRequests
	}

	h := &CommHub{
		cfg:       cfg,
		log:       cfg.Logger,
		tracer:    trace.NewNoopTracerProvider().Tracer("sutra"),
		Locks:     NewLockManager(cfg.Logger),
		Barriers:  NewBarrierManager(),
		Sems:      NewSemaphoreManager(),
		Memory:    NewSharedMemoryManager(cfg.Logger),
		channels:  make(map[string]*channel),
		pending:   make(map[string]*pendingReply),
		sweepStop: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	h.Deadlock = NewDeadlockDetector(h.Locks)
	h.Sandesha = NewSandeshaRouter(cfg.MaxPendingRequests, cfg.Logger)

	if cfg.Metrics != nil {
		h.SetMetrics(cfg.Metrics)
	}

	go h.sweepLoop()
	return h
}

// SetMetrics installs the kernel metrics instrument on the hub and
// propagates it to every delegate manager, so a single KernelMetrics
// instance covers message delivery, lock contention, barrier releases,
// semaphore waits, and deadlock resolutions (spec.md §2 component table).
func (h *CommHub) SetMetrics(km *metrics.KernelMetrics) {
	h.mu.Lock()
	h.metrics = km
	h.mu.Unlock()
	h.Locks.SetMetrics(km)
	h.Barriers.SetMetrics(km)
	h.Sems.SetMetrics(km)
	h.Deadlock.SetMetrics(km)
}

// Tracer returns the tracer installed via SetTracer (a no-op tracer by
// default), for composite patterns to start their own spans from.
func (h *CommHub) Tracer() trace.Tracer {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tracer
}

// SetTracer installs the tracer every Send/Request call and composite
// pattern invocation spans from (spec.md §2's observability component).
// A nil tracer is ignored; the default is a no-op tracer.
func (h *CommHub) SetTracer(t trace.Tracer) {
	if t == nil {
		return
	}
	h.mu.Lock()
	h.tracer = t
	h.mu.Unlock()
}

func (h *CommHub) sweepLoop() {
	defer close(h.sweepDone)
	ticker := time.NewTicker(h.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.sweep()
		case <-h.sweepStop:
			return
		}
	}
}

// sweep evicts expired envelopes from channel histories, force-releases
// expired locks, and evicts expired regions (§4.5).
func (h *CommHub) sweep() {
	now := time.Now()
	h.mu.Lock()
	chans := make([]*channel, 0, len(h.channels))
	for _, c := range h.channels {
		chans = append(chans, c)
	}
	h.mu.Unlock()

	evicted := 0
	for _, c := range chans {
		evicted += c.evictExpired(now)
	}
	releasedLocks := h.Locks.CleanupExpired()
	evictedRegions := h.Memory.CleanupRegions()

	if evicted > 0 || releasedLocks > 0 || evictedRegions > 0 {
		h.log.Debug("sweep completed",
			zap.Int("envelopesEvicted", evicted),
			zap.Int("locksReleased", releasedLocks),
			zap.Int("regionsEvicted", evictedRegions),
		)
	}
}

// UnsubscribeHandle removes a subscription and, if it leaves the channel
// with no subscribers, destroys the channel entirely.
type UnsubscribeHandle func()

// Subscribe registers handler for agentID on topic, creating the channel
// if needed. Fails with Full if creating it would exceed MaxChannels.
func (h *CommHub) Subscribe(agentID, topic string, handler func(Envelope)) (UnsubscribeHandle, error) {
	h.mu.Lock()
	if h.disposed {
		h.mu.Unlock()
		return nil, core.NewErrorf(core.KindDisposed, "hub destroyed")
	}
	c, exists := h.channels[topic]
	created := false
	if !exists {
		if h.cfg.MaxChannels > 0 && len(h.channels) >= h.cfg.MaxChannels {
			h.mu.Unlock()
			return nil, core.NewErrorf(core.KindFull, "max channel count %d reached", h.cfg.MaxChannels)
		}
		c = newChannel(topic, h.cfg.MaxHistory)
		h.channels[topic] = c
		created = true
	}
	km := h.metrics
	h.mu.Unlock()

	if created && km != nil {
		km.SetActiveChannels(context.Background(), 1)
	}

	c.subscribe(agentID, handler)

	return func() {
		empty := c.unsubscribe(agentID)
		if empty {
			h.mu.Lock()
			removed := false
			if cur, ok := h.channels[topic]; ok && cur == c && cur.subscriberCount() == 0 {
				delete(h.channels, topic)
				removed = true
			}
			km := h.metrics
			h.mu.Unlock()
			if removed && km != nil {
				km.SetActiveChannels(context.Background(), -1)
			}
		}
	}, nil
}

// Send assigns env an ID (preassignedID if non-empty) and timestamp, then
// delivers it per spec.md §4.5: correlates against a pending reply first,
// else broadcasts or unicasts to topic subscribers, then appends to
// history. The whole call is wrapped in a span named for the topic.
func (h *CommHub) Send(ctx context.Context, env Envelope, preassignedID string) (Envelope, error) {
	var result Envelope
	err := observability.TraceSend(ctx, h.Tracer(), env.Topic, func(spanCtx context.Context) error {
		var sendErr error
		result, sendErr = h.doSend(spanCtx, env, preassignedID)
		return sendErr
	})
	return result, err
}

func (h *CommHub) doSend(ctx context.Context, env Envelope, preassignedID string) (Envelope, error) {
	h.mu.Lock()
	if h.disposed {
		h.mu.Unlock()
		return Envelope{}, core.NewErrorf(core.KindDisposed, "hub destroyed")
	}
	h.mu.Unlock()

	if preassignedID != "" {
		env.ID = preassignedID
	} else if env.ID == "" {
		env.ID = newID()
	}
	env.Timestamp = time.Now()

	if h.cfg.Policy != nil && env.Topic != "" {
		args := policyArgs(env.Payload)
		decision, err := h.cfg.Policy.Check(ctx, env.Topic, args)
		if err != nil {
			return Envelope{}, core.Wrap(err, core.KindProtocol, "policy check failed")
		}
		if !decision.Allowed {
			h.deliverDenied(env, decision.Reason)
			return Envelope{}, core.NewErrorf(core.KindDenied, "policy denied topic %q: %s", env.Topic, decision.Reason)
		}
	}

	// replyTo correlation takes priority over broadcast/history (§4.5).
	if env.ReplyTo != "" {
		h.mu.Lock()
		p, exists := h.pending[env.ReplyTo]
		if exists {
			delete(h.pending, env.ReplyTo)
		}
		h.mu.Unlock()
		if exists {
			select {
			case p.resultC <- env:
			default:
			}
			close(p.done)
			return env, nil
		}
	}

	h.mu.Lock()
	c, exists := h.channels[env.Topic]
	h.mu.Unlock()

	if exists {
		var handlers map[string]handlerFunc
		if env.To == Broadcast {
			handlers = c.snapshotHandlers()
			delete(handlers, env.From)
		} else {
			all := c.snapshotHandlers()
			if hFn, ok := all[env.To]; ok {
				handlers = map[string]handlerFunc{env.To: hFn}
			}
		}
		for _, hFn := range handlers {
			handler := hFn
			core.InvokeCallback(h.log, "subscriber."+env.Topic, func() error {
				handler(env)
				return nil
			})
			if h.metrics != nil {
				h.metrics.RecordDelivery(ctx, env.Topic)
			}
		}
		c.appendHistory(env)
	}

	h.mu.Lock()
	h.total++
	h.mu.Unlock()

	return env, nil
}

func policyArgs(payload interface{}) map[string]interface{} {
	if m, ok := payload.(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{"payload": payload}
}

// deliverDenied sends an error envelope back to env.From instead of
// delivering env to its intended subscriber (§6 policy hook contract).
func (h *CommHub) deliverDenied(env Envelope, reason string) {
	h.mu.Lock()
	c, exists := h.channels[env.Topic]
	h.mu.Unlock()
	if !exists {
		return
	}
	handlers := c.snapshotHandlers()
	handler, ok := handlers[env.From]
	if !ok {
		return
	}
	denied := Envelope{
		ID: newID(), Timestamp: time.Now(), From: "policy", To: env.From,
		Topic: env.Topic, Priority: PriorityHigh, ReplyTo: env.ID,
		Payload: map[string]interface{}{"error": "denied", "reason": reason},
	}
	core.InvokeCallback(h.log, "subscriber.denied", func() error {
		handler(denied)
		return nil
	})
}

// Request pre-assigns a message ID and registers a pending-reply entry
// BEFORE calling Send, because the subscriber may reply synchronously
// during delivery (spec.md §4.5, §9: this is the fixed flow; the source's
// register-after-send ordering was a bug and must not be replicated).
func (h *CommHub) Request(ctx context.Context, to, topic string, payload interface{}, from string, timeout time.Duration) (Envelope, error) {
	var result Envelope
	err := observability.TraceRequest(ctx, h.Tracer(), to, topic, func(spanCtx context.Context) error {
		var reqErr error
		result, reqErr = h.doRequest(spanCtx, to, topic, payload, from, timeout)
		return reqErr
	})
	return result, err
}

func (h *CommHub) doRequest(ctx context.Context, to, topic string, payload interface{}, from string, timeout time.Duration) (Envelope, error) {
	id := newID()
	p := &pendingReply{resultC: make(chan Envelope, 1), done: make(chan struct{})}

	h.mu.Lock()
	if h.disposed {
		h.mu.Unlock()
		return Envelope{}, core.NewErrorf(core.KindDisposed, "hub destroyed")
	}
	h.pending[id] = p
	h.mu.Unlock()

	env := Envelope{ID: id, From: from, To: to, Topic: topic, Payload: payload, Priority: PriorityNormal}
	if _, err := h.Send(ctx, env, id); err != nil {
		h.mu.Lock()
		delete(h.pending, id)
		h.mu.Unlock()
		return Envelope{}, err
	}

	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case reply := <-p.resultC:
		return reply, nil
	case <-timeoutC:
		h.mu.Lock()
		delete(h.pending, id)
		h.mu.Unlock()
		return Envelope{}, core.NewErrorf(core.KindTimeout, "request %q to %q timed out after %s", topic, to, timeout)
	case <-ctx.Done():
		h.mu.Lock()
		delete(h.pending, id)
		h.mu.Unlock()
		return Envelope{}, core.Wrap(ctx.Err(), core.KindCancelled, "request cancelled")
	case <-p.done:
		// Closed either by a reply (resultC is already buffered and would
		// have won the select above) or by Destroy, which closes every
		// pending entry's done channel without a reply (§5: Destroy is an
		// implicit cancellation for every outstanding waiter).
		select {
		case reply := <-p.resultC:
			return reply, nil
		default:
			return Envelope{}, core.NewErrorf(core.KindDisposed, "hub destroyed while awaiting reply to %q", topic)
		}
	}
}

// Reply sends an envelope whose ReplyTo == originalID and To == broadcast;
// Send's pending-reply check performs the correlation.
func (h *CommHub) Reply(ctx context.Context, originalID, from string, payload interface{}) (Envelope, error) {
	env := Envelope{From: from, To: Broadcast, Payload: payload, ReplyTo: originalID, Priority: PriorityNormal}
	return h.Send(ctx, env, "")
}

// Broadcast is a convenience wrapper for Send with To == wildcard.
func (h *CommHub) Broadcast(ctx context.Context, from, topic string, payload interface{}) (Envelope, error) {
	env := Envelope{From: from, To: Broadcast, Topic: topic, Payload: payload, Priority: PriorityNormal}
	return h.Send(ctx, env, "")
}

// GetMessages scans channel histories for envelopes addressed to agentID
// (directly or via broadcast), optionally filtered by topic and since,
// dropping expired envelopes, sorted by (priority, timestamp) ascending.
func (h *CommHub) GetMessages(agentID string, topic string, since time.Time) []Envelope {
	h.mu.Lock()
	var chans []*channel
	if topic != "" {
		if c, ok := h.channels[topic]; ok {
			chans = []*channel{c}
		}
	} else {
		for _, c := range h.channels {
			chans = append(chans, c)
		}
	}
	h.mu.Unlock()

	now := time.Now()
	var out []Envelope
	for _, c := range chans {
		for _, env := range c.snapshotHistory() {
			if env.Expired(now) {
				continue
			}
			if env.To != agentID && env.To != Broadcast {
				continue
			}
			if !since.IsZero() && !env.Timestamp.After(since) {
				continue
			}
			out = append(out, env)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Stats returns a point-in-time snapshot of hub activity.
func (h *CommHub) Stats() HubStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HubStats{
		TotalMessages:  h.total,
		ActiveChannels: len(h.channels),
		PendingReplies: len(h.pending),
		LocksHeld:      len(h.Locks.Snapshot()),
		RegionsActive:  h.Memory.RegionCount(),
	}
}

// Destroy is idempotent: it cancels the sweep timer, rejects all pending
// replies and lock/barrier/semaphore waiters, and clears all state.
// Afterward Subscribe, Send, Request and the wrappers built on them fail
// with Disposed; GetMessages and Stats return no error and report the
// cleared state.
func (h *CommHub) Destroy(ctx context.Context) error {
	h.mu.Lock()
	if h.disposed {
		h.mu.Unlock()
		return nil
	}
	h.disposed = true
	close(h.sweepStop)
	pending := h.pending
	h.pending = make(map[string]*pendingReply)
	h.channels = make(map[string]*channel)
	h.mu.Unlock()

	for _, p := range pending {
		close(p.done)
	}

	h.Locks.Destroy()
	h.Barriers.Destroy()
	h.Sems.Destroy()
	h.Memory.Destroy()
	h.Sandesha.Destroy()

	select {
	case <-h.sweepDone:
	case <-ctx.Done():
		return core.Wrap(ctx.Err(), core.KindCancelled, "hub destroy")
	}
	return nil
}
