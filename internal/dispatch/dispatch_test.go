package dispatch

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/danmuck/serialgw/internal/egress"
	"github.com/danmuck/serialgw/internal/protocol/frame"
	"github.com/danmuck/serialgw/internal/testutil/egresstest"
	"github.com/danmuck/serialgw/internal/testutil/testlog"
	"github.com/danmuck/serialgw/internal/testutil/wiretest"
)

const prefix = "iot/acme/pcb/gw1"

func newDispatcher(t *testing.T) (*Dispatcher, *egresstest.Recorder) {
	t.Helper()
	rec := egresstest.NewRecorder()
	d, err := New(prefix, rec)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return d, rec
}

func TestDispatchWellFormedFrame(t *testing.T) {
	testlog.Start(t)
	d, rec := newDispatcher(t)
	buf := wiretest.Frame{Version: 1, MsgID: 7, Channel: "a", CType: "t", Payload: []byte("hi")}.Bytes()
	f, err := frame.Parse(buf, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	topic, err := d.Dispatch(f)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if topic != prefix+"/data/a" {
		t.Fatalf("topic got=%q", topic)
	}
	msgs := rec.Messages()
	if len(msgs) != 1 || msgs[0].Topic != prefix+"/data/a" || string(msgs[0].Payload) != "hi" {
		t.Fatalf("unexpected egress: %+v", msgs)
	}
}

func TestTopicBoundary(t *testing.T) {
	testlog.Start(t)
	d, rec := newDispatcher(t)
	room := egress.MaxTopicBytes - len(prefix+"/data/")
	topic, err := d.Topic([]byte(strings.Repeat("c", room)))
	if err != nil || len(topic) != egress.MaxTopicBytes {
		t.Fatalf("channel filling the topic should fit: len=%d err=%v", len(topic), err)
	}
	_, err = d.Dispatch(frame.Parsed{Channel: []byte(strings.Repeat("c", room+1)), Payload: []byte("x")})
	if !errors.Is(err, ErrTopicTooLong) {
		t.Fatalf("expected ErrTopicTooLong, got %v", err)
	}
	if len(rec.Messages()) != 0 {
		t.Fatalf("oversized topic must not reach egress")
	}
}

func TestDispatchRawAndLog(t *testing.T) {
	testlog.Start(t)
	d, rec := newDispatcher(t)
	d.DispatchRaw([]byte("line\n"))
	d.Log(strings.Repeat("L", 2000))
	msgs := rec.Messages()
	if len(msgs) != 2 || msgs[0].Topic != prefix+"/data" || string(msgs[0].Payload) != "line\n" {
		t.Fatalf("unexpected raw dispatch: %+v", msgs)
	}
	if msgs[1].Topic != prefix+"/logs" || len(msgs[1].Payload) != egress.MaxPayloadBytes {
		t.Fatalf("log should be clipped to the egress limit: topic=%q len=%d", msgs[1].Topic, len(msgs[1].Payload))
	}
}

func TestNewRejectsBadPrefix(t *testing.T) {
	testlog.Start(t)
	if _, err := New("  /", egresstest.NewRecorder()); !errors.Is(err, ErrInvalidPrefix) {
		t.Fatalf("expected ErrInvalidPrefix, got %v", err)
	}
	if _, err := New(strings.Repeat("p", MaxPrefixBytes+1), egresstest.NewRecorder()); !errors.Is(err, ErrInvalidPrefix) {
		t.Fatalf("expected ErrInvalidPrefix for long prefix, got %v", err)
	}
	d, err := New("iot/x/", egresstest.NewRecorder())
	if err != nil || d.Prefix() != "iot/x" {
		t.Fatalf("trailing slash should be trimmed: %v %q", err, d.Prefix())
	}
}

func TestLongestPrefixKeepsFixedTopicsInBounds(t *testing.T) {
	testlog.Start(t)
	if MaxPrefixBytes != egress.MaxTopicBytes-len(EchoReplySegment) {
		t.Fatalf("max prefix got=%d", MaxPrefixBytes)
	}
	rec := egresstest.NewRecorder()
	long := strings.Repeat("p", MaxPrefixBytes)
	d, err := New(long, rec)
	if err != nil {
		t.Fatalf("prefix at the limit should be accepted: %v", err)
	}
	// The recorder panics on any topic over egress.MaxTopicBytes.
	d.Publish(EchoReplySegment, []byte("pong"))
	d.Log("hello")
	d.DispatchRaw([]byte("x\n"))
	egress.Announce(rec, d.Prefix())
	if _, err := d.Topic([]byte("c")); err != nil {
		t.Fatalf("one byte channel should fit: %v", err)
	}
	if got := len(rec.Messages()); got != 5 {
		t.Fatalf("messages got=%d", got)
	}
}

func TestTopicConcurrentCallers(t *testing.T) {
	testlog.Start(t)
	d, _ := newDispatcher(t)
	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ch := fmt.Sprintf("ch%02d", i)
			for j := 0; j < 200; j++ {
				got, err := d.Topic([]byte(ch))
				if err != nil || got != prefix+"/data/"+ch {
					errs <- fmt.Errorf("caller %d got=%q err=%v", i, got, err)
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}
