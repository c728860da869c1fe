package patterns

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sutra-kernel/sutra/sutra"
)

func TestGossip_DeliversToBoundedFanout(t *testing.T) {
	hub := sutra.NewCommHub(sutra.DefaultHubConfig())
	defer hub.Destroy(context.Background())

	var mu sync.Mutex
	received := map[string]bool{}

	peers := []string{"p1", "p2", "p3", "p4"}
	for _, peer := range peers {
		peer := peer
		unsub, err := hub.Subscribe(peer, "rumor", func(env sutra.Envelope) {
			mu.Lock()
			received[peer] = true
			mu.Unlock()
		})
		if err != nil {
			t.Fatalf("subscribe %s: %v", peer, err)
		}
		defer unsub()
	}

	if err := Gossip(context.Background(), hub, "seed", "rumor", "news", peers, 2); err != nil {
		t.Fatalf("gossip: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	count := len(received)
	mu.Unlock()
	if count != 2 {
		t.Fatalf("expected exactly 2 peers to receive the rumor, got %d (%v)", count, received)
	}
}

func TestGossip_FanoutClampedToPeerCount(t *testing.T) {
	hub := sutra.NewCommHub(sutra.DefaultHubConfig())
	defer hub.Destroy(context.Background())

	var mu sync.Mutex
	received := map[string]bool{}

	peers := []string{"p1", "p2"}
	for _, peer := range peers {
		peer := peer
		unsub, err := hub.Subscribe(peer, "rumor", func(env sutra.Envelope) {
			mu.Lock()
			received[peer] = true
			mu.Unlock()
		})
		if err != nil {
			t.Fatalf("subscribe %s: %v", peer, err)
		}
		defer unsub()
	}

	// fanout larger than the peer set clamps to len(peers).
	if err := Gossip(context.Background(), hub, "seed", "rumor", "news", peers, 10); err != nil {
		t.Fatalf("gossip: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	count := len(received)
	mu.Unlock()
	if count != len(peers) {
		t.Fatalf("expected all %d peers to receive the rumor, got %d", len(peers), count)
	}
}

func TestGossip_ZeroFanoutMeansAllPeers(t *testing.T) {
	hub := sutra.NewCommHub(sutra.DefaultHubConfig())
	defer hub.Destroy(context.Background())

	var mu sync.Mutex
	received := map[string]bool{}

	peers := []string{"p1", "p2", "p3"}
	for _, peer := range peers {
		peer := peer
		unsub, err := hub.Subscribe(peer, "rumor", func(env sutra.Envelope) {
			mu.Lock()
			received[peer] = true
			mu.Unlock()
		})
		if err != nil {
			t.Fatalf("subscribe %s: %v", peer, err)
		}
		defer unsub()
	}

	if err := Gossip(context.Background(), hub, "seed", "rumor", "news", peers, 0); err != nil {
		t.Fatalf("gossip: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	count := len(received)
	mu.Unlock()
	if count != len(peers) {
		t.Fatalf("expected all %d peers to receive the rumor with fanout=0, got %d", len(peers), count)
	}
}

func TestGossip_NoPeers(t *testing.T) {
	hub := sutra.NewCommHub(sutra.DefaultHubConfig())
	defer hub.Destroy(context.Background())

	if err := Gossip(context.Background(), hub, "seed", "rumor", "news", nil, 3); err != nil {
		t.Fatalf("expected no error with empty peer set, got %v", err)
	}
}
