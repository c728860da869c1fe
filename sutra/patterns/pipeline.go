package patterns

import (
	"context"
	"fmt"
	"time"

	"github.com/sutra-kernel/sutra/observability"
	"github.com/sutra-kernel/sutra/sutra"
)

// Stage is one step of a Pipeline: the agent to request and the topic to
// request it on.
type Stage struct {
	AgentID string
	Topic   string
}

// Pipeline threads input through a sequence of agent requests, each
// consuming the previous stage's output (spec.md §4.8). The whole call is
// wrapped in a "pipeline" span.
func Pipeline(ctx context.Context, hub *sutra.CommHub, from string, stages []Stage, input interface{}, timeout time.Duration) (interface{}, error) {
	var result interface{}
	err := observability.TracePattern(ctx, hub.Tracer(), "pipeline", func(ctx context.Context) error {
		var pipelineErr error
		result, pipelineErr = doPipeline(ctx, hub, from, stages, input, timeout)
		return pipelineErr
	})
	return result, err
}

func doPipeline(ctx context.Context, hub *sutra.CommHub, from string, stages []Stage, input interface{}, timeout time.Duration) (interface{}, error) {
	current := input
	for i, stage := range stages {
		reply, err := hub.Request(ctx, stage.AgentID, stage.Topic, current, from, timeout)
		if err != nil {
			return nil, fmt.Errorf("pipeline: stage %d (%s/%s): %w", i, stage.AgentID, stage.Topic, err)
		}
		current = reply.Payload
	}
	return current, nil
}
