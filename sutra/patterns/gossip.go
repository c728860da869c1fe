package patterns

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/sutra-kernel/sutra/sutra"
)

// Gossip spreads value to at most fanout of peers per round, chosen at
// random (spec.md §4.8: "gossip spreads a value by bounded-fanout
// broadcasts"). It performs a single round; repeated calls across agents
// that themselves gossip onward converge the value across the peer set.
func Gossip(ctx context.Context, hub *sutra.CommHub, from, topic string, value interface{}, peers []string, fanout int) error {
	if fanout <= 0 || fanout > len(peers) {
		fanout = len(peers)
	}

	shuffled := append([]string{}, peers...)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	for _, peer := range shuffled[:fanout] {
		env := sutra.Envelope{From: from, To: peer, Topic: topic, Payload: value, Priority: sutra.PriorityLow}
		if _, err := hub.Send(ctx, env, ""); err != nil {
			return fmt.Errorf("gossip: send to %s: %w", peer, err)
		}
	}
	return nil
}
