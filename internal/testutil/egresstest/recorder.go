// Package egresstest records published messages in memory.
package egresstest

import (
	"sync"
	"testing"
	"time"

	"github.com/danmuck/serialgw/internal/egress"
)

type Recorder struct {
	mu     sync.Mutex
	msgs   []egress.Message
	notify chan struct{}
}

func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{}, 1)}
}

// Publish enforces the same static limits as the real queue.
func (r *Recorder) Publish(topic string, payload []byte) {
	egress.CheckLimits(topic, payload)
	r.mu.Lock()
	r.msgs = append(r.msgs, egress.Message{Topic: topic, Payload: append([]byte(nil), payload...)})
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *Recorder) Messages() []egress.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]egress.Message(nil), r.msgs...)
}

// OnTopic returns the messages published to topic, in order.
func (r *Recorder) OnTopic(topic string) []egress.Message {
	var out []egress.Message
	for _, m := range r.Messages() {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// WaitFor blocks until at least n messages were published to topic.
func (r *Recorder) WaitFor(t *testing.T, topic string, n int, timeout time.Duration) []egress.Message {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if got := r.OnTopic(topic); len(got) >= n {
			return got
		}
		select {
		case <-r.notify:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatalf("timed out waiting for %d messages on %q, have %d", n, topic, len(r.OnTopic(topic)))
		}
	}
}
