// Package egress hands gateway messages to the broker.
//
// Callers never wait on the broker: Publish copies the message into a
// bounded queue and drops it with a warning when the queue is full. Topic
// and payload sizes are static limits of the device; exceeding them is a
// programming error and panics.
package egress

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/danmuck/serialgw/internal/observability"
	"github.com/rs/zerolog/log"
)

const (
	MaxTopicBytes     = 64
	MaxPayloadBytes   = 1023
	DefaultQueueDepth = 8
)

// Publisher is the narrow contract the gateway depends on.
type Publisher interface {
	Publish(topic string, payload []byte)
}

// Sink delivers one message to the broker. *nats.Conn satisfies it.
type Sink interface {
	Publish(subject string, data []byte) error
}

type Message struct {
	Topic   string
	Payload []byte
}

// CheckLimits panics when topic or payload exceed the static limits.
func CheckLimits(topic string, payload []byte) {
	if len(topic) > MaxTopicBytes {
		panic(fmt.Sprintf("egress: topic too big (%d > %d bytes): %q", len(topic), MaxTopicBytes, topic))
	}
	if len(payload) > MaxPayloadBytes {
		panic(fmt.Sprintf("egress: payload too big (%d > %d bytes) for %q", len(payload), MaxPayloadBytes, topic))
	}
}

// Queue is the asynchronous, best-effort Publisher.
type Queue struct {
	ch        chan Message
	published atomic.Uint64
	dropped   atomic.Uint64
}

func NewQueue(depth int) *Queue {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	return &Queue{ch: make(chan Message, depth)}
}

func (q *Queue) Publish(topic string, payload []byte) {
	CheckLimits(topic, payload)
	msg := Message{Topic: topic, Payload: append([]byte(nil), payload...)}
	select {
	case q.ch <- msg:
	default:
		q.dropped.Add(1)
		observability.RecordEgress("dropped")
		log.Warn().Str("topic", topic).Int("bytes", len(payload)).Msg("egress queue full, message dropped")
	}
}

// Run forwards queued messages to sink until ctx is done. A failed delivery
// is logged and the message is lost; the broker client owns reconnection.
func (q *Queue) Run(ctx context.Context, sink Sink) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-q.ch:
			if err := sink.Publish(msg.Topic, msg.Payload); err != nil {
				observability.RecordEgress("failed")
				log.Error().Err(err).Str("topic", msg.Topic).Msg("egress publish failed")
				continue
			}
			q.published.Add(1)
			observability.RecordEgress("published")
		}
	}
}

func (q *Queue) Len() int          { return len(q.ch) }
func (q *Queue) Published() uint64 { return q.published.Load() }
func (q *Queue) Dropped() uint64   { return q.dropped.Load() }
