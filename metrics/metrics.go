// Package metrics instruments the sutra kernel with OpenTelemetry.
package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// KernelMetrics collects counters and histograms for kernel operations:
// message delivery, lock contention, barrier/semaphore waits, and deadlock
// resolutions.
type KernelMetrics struct {
	meter metric.Meter

	messagesSent     metric.Int64Counter
	messagesDelivered metric.Int64Counter
	sendDuration     metric.Float64Histogram

	lockWaitDuration metric.Float64Histogram
	lockAcquired     metric.Int64Counter
	lockTimedOut     metric.Int64Counter

	barrierReleases metric.Int64Counter
	semaphoreWaits  metric.Int64Counter

	deadlocksDetected metric.Int64Counter
	deadlockVictims   metric.Int64Counter

	activeChannels metric.Int64UpDownCounter

	customMu sync.RWMutex
	custom   map[string]interface{}
}

// NewKernelMetrics creates a KernelMetrics instance registered against the
// global otel MeterProvider under the "sutra" meter name.
func NewKernelMetrics() (*KernelMetrics, error) {
	meter := otel.Meter("sutra")

	messagesSent, err := meter.Int64Counter(
		"sutra_messages_sent_total",
		metric.WithDescription("Total envelopes submitted via Send"),
	)
	if err != nil {
		return nil, err
	}

	messagesDelivered, err := meter.Int64Counter(
		"sutra_messages_delivered_total",
		metric.WithDescription("Total envelopes delivered to a subscriber handler"),
	)
	if err != nil {
		return nil, err
	}

	sendDuration, err := meter.Float64Histogram(
		"sutra_send_duration_seconds",
		metric.WithDescription("Time spent in CommHub.Send, including policy checks and delivery"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	lockWaitDuration, err := meter.Float64Histogram(
		"sutra_lock_wait_duration_seconds",
		metric.WithDescription("Time an agent spent waiting to acquire a lock"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	lockAcquired, err := meter.Int64Counter(
		"sutra_lock_acquired_total",
		metric.WithDescription("Total successful lock acquisitions"),
	)
	if err != nil {
		return nil, err
	}

	lockTimedOut, err := meter.Int64Counter(
		"sutra_lock_timeout_total",
		metric.WithDescription("Total lock acquisitions that timed out"),
	)
	if err != nil {
		return nil, err
	}

	barrierReleases, err := meter.Int64Counter(
		"sutra_barrier_releases_total",
		metric.WithDescription("Total barriers that reached their required arrival count"),
	)
	if err != nil {
		return nil, err
	}

	semaphoreWaits, err := meter.Int64Counter(
		"sutra_semaphore_waits_total",
		metric.WithDescription("Total semaphore acquisitions that had to queue"),
	)
	if err != nil {
		return nil, err
	}

	deadlocksDetected, err := meter.Int64Counter(
		"sutra_deadlocks_detected_total",
		metric.WithDescription("Total deadlock cycles found by the detector"),
	)
	if err != nil {
		return nil, err
	}

	deadlockVictims, err := meter.Int64Counter(
		"sutra_deadlock_victims_total",
		metric.WithDescription("Total agents force-released as deadlock victims"),
	)
	if err != nil {
		return nil, err
	}

	activeChannels, err := meter.Int64UpDownCounter(
		"sutra_active_channels",
		metric.WithDescription("Current number of subscribed topics"),
	)
	if err != nil {
		return nil, err
	}

	return &KernelMetrics{
		meter:             meter,
		messagesSent:      messagesSent,
		messagesDelivered: messagesDelivered,
		sendDuration:      sendDuration,
		lockWaitDuration:  lockWaitDuration,
		lockAcquired:      lockAcquired,
		lockTimedOut:      lockTimedOut,
		barrierReleases:   barrierReleases,
		semaphoreWaits:    semaphoreWaits,
		deadlocksDetected: deadlocksDetected,
		deadlockVictims:   deadlockVictims,
		activeChannels:    activeChannels,
		custom:            make(map[string]interface{}),
	}, nil
}

// RecordSend records one Send call, its topic and whether it succeeded.
func (m *KernelMetrics) RecordSend(ctx context.Context, topic string, duration time.Duration, success bool) {
	attrs := []attribute.KeyValue{
		attribute.String("topic", topic),
		attribute.Bool("success", success),
	}
	m.messagesSent.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.sendDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordDelivery records one handler invocation for a delivered envelope.
func (m *KernelMetrics) RecordDelivery(ctx context.Context, topic string) {
	m.messagesDelivered.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

// RecordLockAcquire records a successful lock acquisition and how long the
// agent waited for it.
func (m *KernelMetrics) RecordLockAcquire(ctx context.Context, resource string, waited time.Duration) {
	attrs := metric.WithAttributes(attribute.String("resource", resource))
	m.lockAcquired.Add(ctx, 1, attrs)
	m.lockWaitDuration.Record(ctx, waited.Seconds(), attrs)
}

// RecordLockTimeout records a lock acquisition that gave up waiting.
func (m *KernelMetrics) RecordLockTimeout(ctx context.Context, resource string) {
	m.lockTimedOut.Add(ctx, 1, metric.WithAttributes(attribute.String("resource", resource)))
}

// RecordBarrierRelease records a barrier reaching its required arrival count.
func (m *KernelMetrics) RecordBarrierRelease(ctx context.Context, name string) {
	m.barrierReleases.Add(ctx, 1, metric.WithAttributes(attribute.String("barrier", name)))
}

// RecordSemaphoreWait records a semaphore acquisition that had to queue.
func (m *KernelMetrics) RecordSemaphoreWait(ctx context.Context, name string) {
	m.semaphoreWaits.Add(ctx, 1, metric.WithAttributes(attribute.String("semaphore", name)))
}

// RecordDeadlock records a detected cycle and, if resolved, its victim.
func (m *KernelMetrics) RecordDeadlock(ctx context.Context, cycleLen int, victim string) {
	m.deadlocksDetected.Add(ctx, 1, metric.WithAttributes(attribute.Int("cycle_length", cycleLen)))
	if victim != "" {
		m.deadlockVictims.Add(ctx, 1, metric.WithAttributes(attribute.String("victim", victim)))
	}
}

// SetActiveChannels reports the current subscribed-topic count as a gauge
// delta relative to the last reported value.
func (m *KernelMetrics) SetActiveChannels(ctx context.Context, delta int64) {
	m.activeChannels.Add(ctx, delta)
}

// Register attaches an arbitrary named metric instrument for callers that
// need instrumentation beyond the built-in set.
func (m *KernelMetrics) Register(name string, instrument interface{}) {
	m.customMu.Lock()
	defer m.customMu.Unlock()
	m.custom[name] = instrument
}
