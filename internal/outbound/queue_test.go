package outbound

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/serialgw/internal/testutil/testlog"
)

func TestSendValidates(t *testing.T) {
	testlog.Start(t)
	q := NewQueue(2)
	ctx := context.Background()
	if err := q.Send(ctx, Packet{}); !errors.Is(err, ErrEmptyPacket) {
		t.Fatalf("expected ErrEmptyPacket, got %v", err)
	}
	if err := q.Send(ctx, Packet{Payload: make([]byte, MaxPayloadBytes+1)}); !errors.Is(err, ErrPacketTooLarge) {
		t.Fatalf("expected ErrPacketTooLarge, got %v", err)
	}
	long := make([]byte, MaxTopicBytes+1)
	for i := range long {
		long[i] = 't'
	}
	if err := q.Send(ctx, Packet{Topic: string(long), Payload: []byte("x")}); !errors.Is(err, ErrTopicTooLong) {
		t.Fatalf("expected ErrTopicTooLong, got %v", err)
	}
	if q.Len() != 0 {
		t.Fatalf("rejected packets must not be queued")
	}
}

func TestSendBlocksWhenFullUntilDrained(t *testing.T) {
	testlog.Start(t)
	q := NewQueue(2)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := q.Send(ctx, Packet{Payload: []byte{byte('a' + i)}}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	sent := make(chan error, 1)
	go func() { sent <- q.Send(ctx, Packet{Payload: []byte("c")}) }()
	select {
	case err := <-sent:
		t.Fatalf("third send should block, returned %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	first := <-q.C()
	if string(first.Payload) != "a" {
		t.Fatalf("fifo violated: %q", first.Payload)
	}
	if err := <-sent; err != nil {
		t.Fatalf("blocked send: %v", err)
	}
	if got := string((<-q.C()).Payload) + string((<-q.C()).Payload); got != "bc" {
		t.Fatalf("unexpected order: %q", got)
	}
}

func TestSendHonorsContext(t *testing.T) {
	testlog.Start(t)
	q := NewQueue(1)
	if err := q.Send(context.Background(), Packet{Payload: []byte("a")}); err != nil {
		t.Fatalf("send: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Send(ctx, Packet{Payload: []byte("b")}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if q.Accepted() != 1 {
		t.Fatalf("accepted got=%d", q.Accepted())
	}
}

func TestSendCopiesPayloadAndSupportsManyProducers(t *testing.T) {
	testlog.Start(t)
	q := NewQueue(DefaultCapacity)
	buf := []byte("x")
	if err := q.Send(context.Background(), Packet{Payload: buf}); err != nil {
		t.Fatalf("send: %v", err)
	}
	buf[0] = 'y'
	if got := <-q.C(); string(got.Payload) != "x" {
		t.Fatalf("payload aliased producer buffer")
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = q.Send(context.Background(), Packet{Payload: []byte{byte(i)}})
		}(i)
	}
	seen := 0
	for seen < 8 {
		<-q.C()
		seen++
	}
	wg.Wait()
}
