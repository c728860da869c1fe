// Package bridge relays envelopes between a local sutra.CommHub and a
// remote message broker. A bridge is a collaborator that wraps the kernel,
// the way spec.md §9 describes any future remote transport: local
// semantics and lock/barrier/region state never leave the process, only
// envelopes bound for Send/Broadcast cross the wire.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/sutra-kernel/sutra/core"
	"github.com/sutra-kernel/sutra/sutra"
)

// NATSConfig configures the NATS bridge.
type NATSConfig struct {
	URL               string
	SubjectPrefix     string
	MaxReconnects     int
	ReconnectWait     time.Duration
	ConnectionTimeout time.Duration
}

// DefaultNATSConfig returns sane defaults for local development.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:               "nats://localhost:4222",
		SubjectPrefix:     "sutra",
		MaxReconnects:     10,
		ReconnectWait:     2 * time.Second,
		ConnectionTimeout: 5 * time.Second,
	}
}

// NATSBridge republishes every envelope the local hub delivers to remote
// subscribers of the same topic under a NATS subject, and forwards incoming
// NATS messages back into the hub as a Send call.
type NATSBridge struct {
	config NATSConfig
	conn   *nats.Conn
	hub    *sutra.CommHub
	log    core.Logger

	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NewNATSBridge connects to NATS and builds a bridge for hub.
func NewNATSBridge(config NATSConfig, hub *sutra.CommHub, log core.Logger) (*NATSBridge, error) {
	if log == nil {
		log = core.NopLogger()
	}
	conn, err := nats.Connect(config.URL,
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.Timeout(config.ConnectionTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("nats bridge: connect: %w", err)
	}

	return &NATSBridge{
		config: config,
		conn:   conn,
		hub:    hub,
		log:    log,
		subs:   make(map[string]*nats.Subscription),
	}, nil
}

func (b *NATSBridge) subject(topic string) string {
	return strings.Join([]string{b.config.SubjectPrefix, topic}, ".")
}

// RelayOutbound subscribes the local hub to topic and republishes every
// envelope it sees on the matching NATS subject.
func (b *NATSBridge) RelayOutbound(agentID, topic string) (sutra.UnsubscribeHandle, error) {
	subject := b.subject(topic)
	return b.hub.Subscribe(agentID, topic, func(env sutra.Envelope) {
		payload, err := json.Marshal(env.ToWire())
		if err != nil {
			b.log.Warn("nats bridge: marshal envelope", zap.Error(err))
			return
		}
		if err := b.conn.Publish(subject, payload); err != nil {
			b.log.Warn("nats bridge: publish", zap.String("subject", subject), zap.Error(err))
		}
	})
}

// RelayInbound subscribes to a NATS subject and injects every message it
// receives into the local hub as a Send call.
func (b *NATSBridge) RelayInbound(ctx context.Context, topic string) error {
	subject := b.subject(topic)

	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		var wire sutra.WireEnvelope
		if err := json.Unmarshal(msg.Data, &wire); err != nil {
			b.log.Warn("nats bridge: unmarshal envelope", zap.Error(err))
			return
		}
		env := sutra.Envelope{
			From:    wire.From,
			To:      wire.To,
			Topic:   wire.Topic,
			Payload: wire.Payload,
		}
		if _, err := b.hub.Send(ctx, env, wire.ID); err != nil {
			b.log.Warn("nats bridge: send into hub", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("nats bridge: subscribe %s: %w", subject, err)
	}

	b.mu.Lock()
	b.subs[subject] = sub
	b.mu.Unlock()
	return nil
}

// Close drains all NATS subscriptions and closes the connection.
func (b *NATSBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for subject, sub := range b.subs {
		if err := sub.Drain(); err != nil {
			b.log.Warn("nats bridge: drain", zap.String("subject", subject), zap.Error(err))
		}
	}
	b.subs = make(map[string]*nats.Subscription)
	b.conn.Close()
	return nil
}
