package sutra

import (
	"context"
	"testing"
	"time"

	"github.com/sutra-kernel/sutra/core"
)

// TestCommHub_S1 is scenario S1 from spec.md §8: subscribe, send, deliver.
func TestCommHub_S1(t *testing.T) {
	h := NewCommHub(DefaultHubConfig())
	defer h.Destroy(context.Background())

	received := make(chan Envelope, 1)
	unsub, err := h.Subscribe("b", "greet", func(env Envelope) {
		received <- env
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsub()

	sent, err := h.Send(context.Background(), Envelope{From: "a", To: "b", Topic: "greet", Payload: "hi"}, "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if sent.ID == "" {
		t.Fatal("expected send to assign an ID")
	}

	select {
	case env := <-received:
		if env.Payload != "hi" {
			t.Fatalf("expected payload hi, got %v", env.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive the envelope")
	}
}

// TestCommHub_S5 is scenario S5 from spec.md §8: request/reply correlation,
// with the reply registered before Send per the fixed ordering (§9).
func TestCommHub_S5(t *testing.T) {
	h := NewCommHub(DefaultHubConfig())
	defer h.Destroy(context.Background())

	_, err := h.Subscribe("worker", "job", func(env Envelope) {
		go func() {
			_, _ = h.Reply(context.Background(), env.ID, "worker", "done")
		}()
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	reply, err := h.Request(context.Background(), "worker", "job", "start", "client", time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if reply.Payload != "done" {
		t.Fatalf("expected reply payload done, got %v", reply.Payload)
	}
}

// TestCommHub_S6 is scenario S6 from spec.md §8: a request with no
// subscriber to answer it times out.
func TestCommHub_S6(t *testing.T) {
	h := NewCommHub(DefaultHubConfig())
	defer h.Destroy(context.Background())

	_, err := h.Request(context.Background(), "nobody", "job", "start", "client", 20*time.Millisecond)
	if !core.IsKind(err, core.KindTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestCommHub_Broadcast(t *testing.T) {
	h := NewCommHub(DefaultHubConfig())
	defer h.Destroy(context.Background())

	recvA := make(chan Envelope, 1)
	recvB := make(chan Envelope, 1)
	unsubA, _ := h.Subscribe("a", "topic", func(env Envelope) { recvA <- env })
	unsubB, _ := h.Subscribe("b", "topic", func(env Envelope) { recvB <- env })
	defer unsubA()
	defer unsubB()

	if _, err := h.Broadcast(context.Background(), "a", "topic", "hi"); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	select {
	case <-recvB:
	case <-time.After(time.Second):
		t.Fatal("b did not receive broadcast")
	}
	select {
	case <-recvA:
		t.Fatal("sender should not receive its own broadcast")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestCommHub_PolicyDenies(t *testing.T) {
	policy := policyFunc(func(ctx context.Context, toolName string, args map[string]interface{}) (core.PolicyDecision, error) {
		return core.PolicyDecision{Allowed: false, Reason: "blocked"}, nil
	})
	h := NewCommHub(DefaultHubConfig().WithPolicy(policy))
	defer h.Destroy(context.Background())

	denied := make(chan Envelope, 1)
	unsub, _ := h.Subscribe("a", "restricted", func(env Envelope) { denied <- env })
	defer unsub()

	_, err := h.Send(context.Background(), Envelope{From: "a", To: "b", Topic: "restricted", Payload: "x"}, "")
	if !core.IsKind(err, core.KindDenied) {
		t.Fatalf("expected denied error, got %v", err)
	}

	select {
	case env := <-denied:
		if env.From != "policy" {
			t.Fatalf("expected denial notice from policy, got %q", env.From)
		}
	case <-time.After(time.Second):
		t.Fatal("sender was not notified of denial")
	}
}

func TestCommHub_GetMessagesFiltersAndSorts(t *testing.T) {
	h := NewCommHub(DefaultHubConfig())
	defer h.Destroy(context.Background())

	unsub, _ := h.Subscribe("listener", "topic", func(Envelope) {})
	defer unsub()

	low := Envelope{From: "a", To: "listener", Topic: "topic", Payload: "low", Priority: PriorityLow}
	high := Envelope{From: "a", To: "listener", Topic: "topic", Payload: "high", Priority: PriorityHigh}
	if _, err := h.Send(context.Background(), low, ""); err != nil {
		t.Fatalf("send low: %v", err)
	}
	if _, err := h.Send(context.Background(), high, ""); err != nil {
		t.Fatalf("send high: %v", err)
	}

	msgs := h.GetMessages("listener", "topic", time.Time{})
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Priority != PriorityHigh || msgs[1].Priority != PriorityLow {
		t.Fatalf("expected high-priority message first, got %v then %v", msgs[0].Priority, msgs[1].Priority)
	}
}

func TestCommHub_DestroyRejectsSubsequentOps(t *testing.T) {
	h := NewCommHub(DefaultHubConfig())
	if err := h.Destroy(context.Background()); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if err := h.Destroy(context.Background()); err != nil {
		t.Fatalf("destroy should be idempotent, got %v", err)
	}

	if _, err := h.Subscribe("a", "topic", func(Envelope) {}); !core.IsKind(err, core.KindDisposed) {
		t.Fatalf("expected disposed error from subscribe after destroy, got %v", err)
	}
	if _, err := h.Send(context.Background(), Envelope{From: "a", To: "b", Topic: "t"}, ""); !core.IsKind(err, core.KindDisposed) {
		t.Fatalf("expected disposed error from send after destroy, got %v", err)
	}
}

func TestCommHub_DestroyCancelsInFlightRequest(t *testing.T) {
	h := NewCommHub(DefaultHubConfig())

	// No subscriber ever replies on "topic", and the timeout is long enough
	// that only Destroy (not the timeout branch) can end the wait.
	errC := make(chan error, 1)
	go func() {
		_, err := h.Request(context.Background(), "nobody", "topic", "payload", "a", time.Minute)
		errC <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := h.Destroy(context.Background()); err != nil {
		t.Fatalf("destroy: %v", err)
	}

	select {
	case err := <-errC:
		if !core.IsKind(err, core.KindDisposed) {
			t.Fatalf("expected disposed error from in-flight request after destroy, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("request did not unblock after hub destroy")
	}
}

func TestCommHub_MaxChannelsFull(t *testing.T) {
	h := NewCommHub(DefaultHubConfig().WithMaxChannels(1))
	defer h.Destroy(context.Background())

	unsub, err := h.Subscribe("a", "first", func(Envelope) {})
	if err != nil {
		t.Fatalf("subscribe first: %v", err)
	}
	defer unsub()

	if _, err := h.Subscribe("a", "second", func(Envelope) {}); !core.IsKind(err, core.KindFull) {
		t.Fatalf("expected full error on second channel, got %v", err)
	}
}

type policyFunc func(ctx context.Context, toolName string, args map[string]interface{}) (core.PolicyDecision, error)

func (f policyFunc) Check(ctx context.Context, toolName string, args map[string]interface{}) (core.PolicyDecision, error) {
	return f(ctx, toolName, args)
}
