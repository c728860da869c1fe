package patterns

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sutra-kernel/sutra/sutra"
)

func TestMapReduce_MapsThenReduces(t *testing.T) {
	hub := sutra.NewCommHub(sutra.DefaultHubConfig())
	defer hub.Destroy(context.Background())

	mappers := []string{"m1", "m2"}
	for _, m := range mappers {
		m := m
		unsub, err := hub.Subscribe(m, "map", func(env sutra.Envelope) {
			inputs, _ := env.Payload.(map[string]interface{})
			n, _ := inputs[m].(int)
			_, _ = hub.Send(context.Background(), sutra.Envelope{
				From: m, To: sutra.Broadcast, Topic: "map.response", Payload: n * 2,
			}, "")
		})
		if err != nil {
			t.Fatalf("subscribe %s: %v", m, err)
		}
		defer unsub()
	}

	unsubReduce, err := hub.Subscribe("reducer", "reduce", func(env sutra.Envelope) {
		mapped, _ := env.Payload.(map[string]interface{})
		total := 0
		for _, v := range mapped {
			n, _ := v.(int)
			total += n
		}
		_, _ = hub.Reply(context.Background(), env.ID, "reducer", total)
	})
	if err != nil {
		t.Fatalf("subscribe reducer: %v", err)
	}
	defer unsubReduce()

	inputs := map[string]interface{}{"m1": 3, "m2": 4}
	result, err := MapReduce(context.Background(), hub, "coordinator", "map", inputs, mappers, "reducer", "reduce", time.Second)
	if err != nil {
		t.Fatalf("mapreduce: %v", err)
	}
	if result != 14 {
		t.Fatalf("expected 14 (3*2 + 4*2), got %v", result)
	}
}

func TestMapReduce_MapStageFailurePropagates(t *testing.T) {
	hub := sutra.NewCommHub(sutra.DefaultHubConfig())
	defer hub.Destroy(context.Background())

	_, err := MapReduce(context.Background(), hub, "coordinator", "map", nil, []string{"absent"}, "reducer", "reduce", 20*time.Millisecond)
	if err == nil {
		t.Fatal("expected an error when no mapper replies")
	}
	if got := fmt.Sprintf("%v", err); got == "" {
		t.Fatal("expected a non-empty error message")
	}
}
