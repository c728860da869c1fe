package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sutra-kernel/sutra/core"
	"github.com/sutra-kernel/sutra/sutra"
)

// RedisConfig configures the Redis bridge.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string
}

// DefaultRedisConfig returns sane defaults for local development.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		ChannelPrefix: "sutra",
	}
}

// RedisBridge relays envelopes between a local sutra.CommHub and Redis
// pub/sub channels.
type RedisBridge struct {
	config RedisConfig
	client *redis.Client
	hub    *sutra.CommHub
	log    core.Logger

	mu   sync.Mutex
	subs map[string]*redis.PubSub
}

// NewRedisBridge connects to Redis and builds a bridge for hub.
func NewRedisBridge(config RedisConfig, hub *sutra.CommHub, log core.Logger) (*RedisBridge, error) {
	if log == nil {
		log = core.NopLogger()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis bridge: ping: %w", err)
	}

	return &RedisBridge{
		config: config,
		client: client,
		hub:    hub,
		log:    log,
		subs:   make(map[string]*redis.PubSub),
	}, nil
}

func (b *RedisBridge) channel(topic string) string {
	return b.config.ChannelPrefix + ":" + topic
}

// RelayOutbound subscribes the local hub to topic and republishes every
// envelope it sees on the matching Redis channel.
func (b *RedisBridge) RelayOutbound(agentID, topic string) (sutra.UnsubscribeHandle, error) {
	channel := b.channel(topic)
	return b.hub.Subscribe(agentID, topic, func(env sutra.Envelope) {
		payload, err := json.Marshal(env.ToWire())
		if err != nil {
			b.log.Warn("redis bridge: marshal envelope", zap.Error(err))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
			b.log.Warn("redis bridge: publish", zap.String("channel", channel), zap.Error(err))
		}
	})
}

// RelayInbound subscribes to a Redis channel and injects every message it
// receives into the local hub as a Send call. It runs until ctx is
// cancelled.
func (b *RedisBridge) RelayInbound(ctx context.Context, topic string) {
	channel := b.channel(topic)
	pubsub := b.client.Subscribe(ctx, channel)

	b.mu.Lock()
	b.subs[channel] = pubsub
	b.mu.Unlock()

	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var wire sutra.WireEnvelope
				if err := json.Unmarshal([]byte(msg.Payload), &wire); err != nil {
					b.log.Warn("redis bridge: unmarshal envelope", zap.Error(err))
					continue
				}
				env := sutra.Envelope{From: wire.From, To: wire.To, Topic: wire.Topic, Payload: wire.Payload}
				if _, err := b.hub.Send(ctx, env, wire.ID); err != nil {
					b.log.Warn("redis bridge: send into hub", zap.Error(err))
				}
			}
		}
	}()
}

// Close closes every Redis subscription and the client connection.
func (b *RedisBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var firstErr error
	for channel, sub := range b.subs {
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close subscription %s: %w", channel, err)
		}
	}
	b.subs = make(map[string]*redis.PubSub)

	if err := b.client.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
