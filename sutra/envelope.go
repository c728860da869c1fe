// Package sutra implements the Inter-Agent Communication Substrate: the
// in-process coordination kernel (CommHub and its delegate managers) that
// lets many cooperating agents pass messages, share state, synchronize, and
// aggregate partial results.
package sutra

import (
	"time"

	"github.com/google/uuid"
)

// Priority orders envelopes within getMessages. Lower numeric value sorts
// first: high < normal < low.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityNormal
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

// Broadcast is the wildcard recipient meaning "every subscriber of the
// topic except the sender."
const Broadcast = "*"

// Envelope is the immutable unit of message passing. Exactly one Envelope
// is produced per call to CommHub.Send.
type Envelope struct {
	ID        string
	Timestamp time.Time
	From      string
	To        string
	Topic     string
	Payload   interface{}
	Priority  Priority
	TTL       time.Duration // zero means no expiry
	ReplyTo   string        // empty when this envelope is not a reply
}

// Expired reports whether the envelope's TTL has elapsed as of now.
func (e Envelope) Expired(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return now.After(e.Timestamp.Add(e.TTL))
}

// WireEnvelope is the on-the-wire representation spec.md §6 normatively
// fixes for serialization at boundaries (logging, bridges, transports):
// {id, timestamp, from, to, topic, payload, priority, ttl?, replyTo?}.
type WireEnvelope struct {
	ID        string      `json:"id"`
	Timestamp int64       `json:"timestamp"`
	From      string      `json:"from"`
	To        string      `json:"to"`
	Topic     string      `json:"topic"`
	Payload   interface{} `json:"payload"`
	Priority  string      `json:"priority"`
	TTLMs     *int64      `json:"ttl,omitempty"`
	ReplyTo   *string     `json:"replyTo,omitempty"`
}

// ToWire converts an Envelope to its normative wire representation.
func (e Envelope) ToWire() WireEnvelope {
	w := WireEnvelope{
		ID:        e.ID,
		Timestamp: e.Timestamp.UnixMilli(),
		From:      e.From,
		To:        e.To,
		Topic:     e.Topic,
		Payload:   e.Payload,
		Priority:  e.Priority.String(),
	}
	if e.TTL > 0 {
		ms := e.TTL.Milliseconds()
		w.TTLMs = &ms
	}
	if e.ReplyTo != "" {
		w.ReplyTo = &e.ReplyTo
	}
	return w
}

func newID() string {
	return uuid.New().String()
}
