package patterns

import (
	"context"
	"fmt"
	"time"

	"github.com/sutra-kernel/sutra/observability"
	"github.com/sutra-kernel/sutra/sutra"
)

// MapReduce fans task inputs out to mapperIDs on topic, then sends the
// aggregated map results to reducerID as a single request (spec.md §4.8).
// The whole call is wrapped in a "mapreduce" span.
func MapReduce(ctx context.Context, hub *sutra.CommHub, from, mapTopic string, inputs map[string]interface{}, mapperIDs []string, reducerID, reduceTopic string, timeout time.Duration) (interface{}, error) {
	var result interface{}
	err := observability.TracePattern(ctx, hub.Tracer(), "mapreduce", func(ctx context.Context) error {
		var mrErr error
		result, mrErr = doMapReduce(ctx, hub, from, mapTopic, inputs, mapperIDs, reducerID, reduceTopic, timeout)
		return mrErr
	})
	return result, err
}

func doMapReduce(ctx context.Context, hub *sutra.CommHub, from, mapTopic string, inputs map[string]interface{}, mapperIDs []string, reducerID, reduceTopic string, timeout time.Duration) (interface{}, error) {
	mapped, err := FanOut(ctx, hub, from, mapTopic, inputs, mapperIDs, timeout)
	if err != nil {
		return nil, fmt.Errorf("mapReduce: map stage: %w", err)
	}

	reply, err := hub.Request(ctx, reducerID, reduceTopic, mapped, from, timeout)
	if err != nil {
		return nil, fmt.Errorf("mapReduce: reduce stage: %w", err)
	}
	return reply.Payload, nil
}
