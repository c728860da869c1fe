package patterns

import (
	"context"
	"testing"
	"time"

	"github.com/sutra-kernel/sutra/sutra"
)

func TestFanOut_CollectsAllReplies(t *testing.T) {
	hub := sutra.NewCommHub(sutra.DefaultHubConfig())
	defer hub.Destroy(context.Background())

	agents := []string{"a", "b", "c"}
	for _, agent := range agents {
		agent := agent
		unsub, err := hub.Subscribe(agent, "work", func(env sutra.Envelope) {
			_, _ = hub.Send(context.Background(), sutra.Envelope{
				From: agent, To: sutra.Broadcast, Topic: "work.response", Payload: agent + "-done",
			}, "")
		})
		if err != nil {
			t.Fatalf("subscribe %s: %v", agent, err)
		}
		defer unsub()
	}

	results, err := FanOut(context.Background(), hub, "coordinator", "work", "task", agents, time.Second)
	if err != nil {
		t.Fatalf("fanout: %v", err)
	}
	if len(results) != len(agents) {
		t.Fatalf("expected %d results, got %d", len(agents), len(results))
	}
	for _, agent := range agents {
		if results[agent] != agent+"-done" {
			t.Fatalf("expected result %q for %s, got %v", agent+"-done", agent, results[agent])
		}
	}
}

func TestFanOut_EmptyAgentsReturnsImmediately(t *testing.T) {
	hub := sutra.NewCommHub(sutra.DefaultHubConfig())
	defer hub.Destroy(context.Background())

	results, err := FanOut(context.Background(), hub, "coordinator", "work", "task", nil, time.Second)
	if err != nil {
		t.Fatalf("fanout: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %v", results)
	}
}

func TestFanOut_TimeoutOnMissingReply(t *testing.T) {
	hub := sutra.NewCommHub(sutra.DefaultHubConfig())
	defer hub.Destroy(context.Background())

	// No subscriber ever replies on "work.response".
	_, err := FanOut(context.Background(), hub, "coordinator", "work", "task", []string{"a"}, 30*time.Millisecond)
	if err == nil {
		t.Fatal("expected a timeout error")
	}
}
