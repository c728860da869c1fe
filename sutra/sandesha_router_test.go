package sutra

import (
	"testing"
	"time"

	"github.com/sutra-kernel/sutra/core"
)

func TestSandeshaRouter_RequestRespond(t *testing.T) {
	r := NewSandeshaRouter(10, nil)

	resultC := make(chan interface{}, 1)
	errC := make(chan error, 1)
	go func() {
		val, err := r.Request(InputRequest{RequestID: "req-1", AgentID: "a", Prompt: "continue?"}, time.Second)
		if err != nil {
			errC <- err
			return
		}
		resultC <- val
	}()

	// Give Request time to register before responding.
	time.Sleep(10 * time.Millisecond)
	if err := r.Respond("req-1", "yes"); err != nil {
		t.Fatalf("respond: %v", err)
	}

	select {
	case val := <-resultC:
		if val != "yes" {
			t.Fatalf("expected yes, got %v", val)
		}
	case err := <-errC:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(time.Second):
		t.Fatal("request did not resolve")
	}
}

func TestSandeshaRouter_Timeout(t *testing.T) {
	r := NewSandeshaRouter(10, nil)
	_, err := r.Request(InputRequest{RequestID: "req-2", AgentID: "a"}, 20*time.Millisecond)
	if !core.IsKind(err, core.KindTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestSandeshaRouter_RespondUnknown(t *testing.T) {
	r := NewSandeshaRouter(10, nil)
	err := r.Respond("nonexistent", "value")
	if !core.IsKind(err, core.KindUnknown) {
		t.Fatalf("expected unknown error, got %v", err)
	}
}

func TestSandeshaRouter_Full(t *testing.T) {
	r := NewSandeshaRouter(1, nil)

	go func() {
		_, _ = r.Request(InputRequest{RequestID: "first", AgentID: "a"}, time.Second)
	}()
	time.Sleep(10 * time.Millisecond)

	_, err := r.Request(InputRequest{RequestID: "second", AgentID: "b"}, time.Second)
	if !core.IsKind(err, core.KindFull) {
		t.Fatalf("expected full error, got %v", err)
	}
	_ = r.Respond("first", "done")
}

func TestSandeshaRouter_Destroy(t *testing.T) {
	r := NewSandeshaRouter(10, nil)

	errC := make(chan error, 1)
	go func() {
		_, err := r.Request(InputRequest{RequestID: "req-3", AgentID: "a"}, time.Second)
		errC <- err
	}()
	time.Sleep(10 * time.Millisecond)

	r.Destroy()

	select {
	case err := <-errC:
		if !core.IsKind(err, core.KindDisposed) {
			t.Fatalf("expected disposed error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pending request was not rejected by destroy")
	}

	if _, err := r.Request(InputRequest{RequestID: "req-4", AgentID: "a"}, time.Second); !core.IsKind(err, core.KindDisposed) {
		t.Fatalf("expected disposed error after destroy, got %v", err)
	}
}
