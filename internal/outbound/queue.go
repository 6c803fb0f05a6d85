// Package outbound carries packets from producers to the connected client.
//
// The queue outlives connections: packets sent while no client is attached
// wait for the next one. Send blocks while the queue is full; it never drops.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

const (
	DefaultCapacity = 2
	// MaxPayloadBytes mirrors the serial bridge's 64 byte packet slot.
	MaxPayloadBytes = 63
	MaxTopicBytes   = 64
)

var (
	ErrPacketTooLarge = errors.New("outbound: packet too large")
	ErrTopicTooLong   = errors.New("outbound: topic too long")
	ErrEmptyPacket    = errors.New("outbound: empty packet")
)

// Packet is consumed exactly once by the connection loop. Topic records
// where the packet came from and is informational.
type Packet struct {
	Topic   string
	Payload []byte
}

type Queue struct {
	ch       chan Packet
	accepted atomic.Uint64
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{ch: make(chan Packet, capacity)}
}

// Send validates and copies p, then waits for room in the queue.
func (q *Queue) Send(ctx context.Context, p Packet) error {
	if len(p.Payload) == 0 {
		return ErrEmptyPacket
	}
	if len(p.Payload) > MaxPayloadBytes {
		return fmt.Errorf("%w: %d > %d bytes", ErrPacketTooLarge, len(p.Payload), MaxPayloadBytes)
	}
	if len(p.Topic) > MaxTopicBytes {
		return fmt.Errorf("%w: %d > %d bytes", ErrTopicTooLong, len(p.Topic), MaxTopicBytes)
	}
	p.Payload = append([]byte(nil), p.Payload...)
	select {
	case q.ch <- p:
		q.accepted.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// C is the single consumer's receive side.
func (q *Queue) C() <-chan Packet {
	return q.ch
}

func (q *Queue) Len() int         { return len(q.ch) }
func (q *Queue) Cap() int         { return cap(q.ch) }
func (q *Queue) Accepted() uint64 { return q.accepted.Load() }
