package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/sutra-kernel/sutra/core"
	"github.com/sutra-kernel/sutra/sutra"
)

// KafkaConfig configures the Kafka bridge.
type KafkaConfig struct {
	Brokers       []string
	TopicPrefix   string
	GroupID       string
	BatchTimeout  time.Duration
}

// DefaultKafkaConfig returns sane defaults for local development.
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Brokers:      []string{"localhost:9092"},
		TopicPrefix:  "sutra",
		GroupID:      "sutra-bridge",
		BatchTimeout: 10 * time.Millisecond,
	}
}

// KafkaBridge relays envelopes between a local sutra.CommHub and Kafka
// topics, one kafka.Reader per inbound topic and a single shared writer for
// outbound relays.
type KafkaBridge struct {
	config KafkaConfig
	writer *kafka.Writer
	hub    *sutra.CommHub
	log    core.Logger

	mu      sync.Mutex
	readers map[string]*kafka.Reader
}

// NewKafkaBridge builds a KafkaBridge wired to hub.
func NewKafkaBridge(config KafkaConfig, hub *sutra.CommHub, log core.Logger) *KafkaBridge {
	if log == nil {
		log = core.NopLogger()
	}
	return &KafkaBridge{
		config: config,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(config.Brokers...),
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: config.BatchTimeout,
		},
		hub:     hub,
		log:     log,
		readers: make(map[string]*kafka.Reader),
	}
}

func (b *KafkaBridge) kafkaTopic(topic string) string {
	return b.config.TopicPrefix + "." + topic
}

// RelayOutbound subscribes the local hub to topic and republishes every
// envelope it sees to the matching Kafka topic.
func (b *KafkaBridge) RelayOutbound(agentID, topic string) (sutra.UnsubscribeHandle, error) {
	kafkaTopic := b.kafkaTopic(topic)
	return b.hub.Subscribe(agentID, topic, func(env sutra.Envelope) {
		payload, err := json.Marshal(env.ToWire())
		if err != nil {
			b.log.Warn("kafka bridge: marshal envelope", zap.Error(err))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.writer.WriteMessages(ctx, kafka.Message{Topic: kafkaTopic, Value: payload}); err != nil {
			b.log.Warn("kafka bridge: write", zap.String("topic", kafkaTopic), zap.Error(err))
		}
	})
}

// RelayInbound starts a background reader consuming the Kafka topic that
// mirrors topic and injecting every message into the local hub as a Send
// call. It runs until ctx is cancelled.
func (b *KafkaBridge) RelayInbound(ctx context.Context, topic string) {
	kafkaTopic := b.kafkaTopic(topic)
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: b.config.Brokers,
		GroupID: b.config.GroupID,
		Topic:   kafkaTopic,
	})

	b.mu.Lock()
	b.readers[kafkaTopic] = reader
	b.mu.Unlock()

	go func() {
		for {
			msg, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				b.log.Warn("kafka bridge: read", zap.String("topic", kafkaTopic), zap.Error(err))
				continue
			}

			var wire sutra.WireEnvelope
			if err := json.Unmarshal(msg.Value, &wire); err != nil {
				b.log.Warn("kafka bridge: unmarshal envelope", zap.Error(err))
				continue
			}
			env := sutra.Envelope{From: wire.From, To: wire.To, Topic: wire.Topic, Payload: wire.Payload}
			if _, err := b.hub.Send(ctx, env, wire.ID); err != nil {
				b.log.Warn("kafka bridge: send into hub", zap.Error(err))
			}
		}
	}()
}

// Close closes the writer and every reader the bridge opened.
func (b *KafkaBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var firstErr error
	for topic, reader := range b.readers {
		if err := reader.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close reader %s: %w", topic, err)
		}
	}
	b.readers = make(map[string]*kafka.Reader)

	if err := b.writer.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close writer: %w", err)
	}
	return firstErr
}
