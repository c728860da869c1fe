package patterns

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"

	"github.com/sutra-kernel/sutra/observability"
)

// SagaStep is one forward action plus its compensation, grounded on the
// teacher's SagaStep interface (framework/saga/step.go) but trimmed to the
// composite-pattern contract spec.md §4.8 names: execute in order,
// compensate prior successes in reverse on any failure.
type SagaStep struct {
	Name       string
	Execute    func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// SagaResult reports which steps ran and, on failure, which were
// compensated.
type SagaResult struct {
	Completed    []string
	Compensated  []string
	FailedStep   string
	FailureCause error
}

// Saga executes steps in order. On any step failure it runs the
// compensating action of every prior successful step in reverse order
// (spec.md §4.8). The whole call is wrapped in a "saga" span; Saga has no
// CommHub to read an installed tracer from, so it uses the process-global
// TracerProvider that TracingManager installs (a no-op provider otherwise).
func Saga(ctx context.Context, steps []SagaStep) SagaResult {
	var result SagaResult
	_ = observability.TracePattern(ctx, otel.Tracer("sutra"), "saga", func(ctx context.Context) error {
		result = doSaga(ctx, steps)
		if result.FailedStep != "" {
			return result.FailureCause
		}
		return nil
	})
	return result
}

func doSaga(ctx context.Context, steps []SagaStep) SagaResult {
	result := SagaResult{}

	for _, step := range steps {
		if err := step.Execute(ctx); err != nil {
			result.FailedStep = step.Name
			result.FailureCause = err
			compensate(ctx, steps, result.Completed, &result)
			return result
		}
		result.Completed = append(result.Completed, step.Name)
	}
	return result
}

func compensate(ctx context.Context, steps []SagaStep, completed []string, result *SagaResult) {
	byName := make(map[string]SagaStep, len(steps))
	for _, s := range steps {
		byName[s.Name] = s
	}
	for i := len(completed) - 1; i >= 0; i-- {
		step, ok := byName[completed[i]]
		if !ok || step.Compensate == nil {
			continue
		}
		if err := step.Compensate(ctx); err != nil {
			// A failed compensation is recorded but does not stop the
			// unwind of the remaining prior steps.
			result.FailureCause = fmt.Errorf("%w; compensation of %s also failed: %v", result.FailureCause, step.Name, err)
			continue
		}
		result.Compensated = append(result.Compensated, step.Name)
	}
}
