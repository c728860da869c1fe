// Package patterns implements the composite operations of spec.md §4.8:
// pure compositions of the sutra kernel's primitives. Each pattern is a
// single file, mirroring how framework/saga splits builder.go / step.go /
// orchestrator.go instead of one large file.
package patterns

import (
	"context"
	"fmt"
	"time"

	"github.com/sutra-kernel/sutra/observability"
	"github.com/sutra-kernel/sutra/sutra"
)

// responseTopic is the convention every pattern in this package uses for
// correlating fan-out replies: the task topic suffixed with ".response".
func responseTopic(topic string) string { return topic + ".response" }

// FanOut broadcasts task on topic to agentIDs, creates a collector
// expecting one result per agent, and waits for all of them (or timeout).
// The whole call is wrapped in a "fanout" span.
func FanOut(ctx context.Context, hub *sutra.CommHub, from, topic string, task interface{}, agentIDs []string, timeout time.Duration) (map[string]interface{}, error) {
	var result map[string]interface{}
	err := observability.TracePattern(ctx, hub.Tracer(), "fanout", func(ctx context.Context) error {
		var fanOutErr error
		result, fanOutErr = doFanOut(ctx, hub, from, topic, task, agentIDs, timeout)
		return fanOutErr
	})
	return result, err
}

func doFanOut(ctx context.Context, hub *sutra.CommHub, from, topic string, task interface{}, agentIDs []string, timeout time.Duration) (map[string]interface{}, error) {
	if len(agentIDs) == 0 {
		return map[string]interface{}{}, nil
	}

	collectorID, err := hub.Memory.CreateCollector(len(agentIDs))
	if err != nil {
		return nil, fmt.Errorf("fanOut: create collector: %w", err)
	}

	replyTopic := responseTopic(topic)
	unsubs := make([]sutra.UnsubscribeHandle, 0, len(agentIDs))
	for _, agentID := range agentIDs {
		agentID := agentID
		unsub, err := hub.Subscribe(agentID+".fanout-collector", replyTopic, func(env sutra.Envelope) {
			if env.From != agentID {
				return
			}
			if errPayload, ok := env.Payload.(error); ok {
				_ = hub.Memory.SubmitError(collectorID, agentID, errPayload)
				return
			}
			_ = hub.Memory.SubmitResult(collectorID, agentID, env.Payload)
		})
		if err != nil {
			return nil, fmt.Errorf("fanOut: subscribe %s: %w", agentID, err)
		}
		unsubs = append(unsubs, unsub)
	}
	defer func() {
		for _, u := range unsubs {
			u()
		}
	}()

	if _, err := hub.Broadcast(ctx, from, topic, task); err != nil {
		return nil, fmt.Errorf("fanOut: broadcast: %w", err)
	}

	return hub.Memory.WaitForAll(ctx, collectorID, timeout)
}
