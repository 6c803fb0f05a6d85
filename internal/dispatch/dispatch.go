// Package dispatch turns decoded frames into egress messages.
package dispatch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/serialgw/internal/egress"
	"github.com/danmuck/serialgw/internal/protocol/frame"
)

const (
	DataSegment      = "/data"
	LogsSegment      = "/logs"
	EchoReplySegment = "/echo/reply"
)

// MaxPrefixBytes leaves room under egress.MaxTopicBytes for every fixed
// suffix published below the prefix, plus a one byte data channel.
const MaxPrefixBytes = egress.MaxTopicBytes - max(
	len(DataSegment)+2,
	len(LogsSegment),
	len(EchoReplySegment),
	len(egress.ConnectionSuffix),
)

var (
	ErrTopicTooLong  = errors.New("dispatch: topic too long")
	ErrInvalidPrefix = errors.New("dispatch: invalid topic prefix")
)

// Dispatcher owns the topic prefix of one gateway, e.g. iot/<org>/pcb/<id>.
type Dispatcher struct {
	prefix string
	pub    egress.Publisher
}

func New(prefix string, pub egress.Publisher) (*Dispatcher, error) {
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return nil, ErrInvalidPrefix
	}
	if len(prefix) > MaxPrefixBytes {
		return nil, fmt.Errorf("%w: %q is longer than %d bytes", ErrInvalidPrefix, prefix, MaxPrefixBytes)
	}
	return &Dispatcher{prefix: prefix, pub: pub}, nil
}

func (d *Dispatcher) Prefix() string { return d.prefix }

// Topic builds prefix + "/data/" + channel in a stack buffer bounded by
// egress.MaxTopicBytes. Safe for concurrent use.
func (d *Dispatcher) Topic(channel []byte) (string, error) {
	if len(d.prefix)+len(DataSegment)+1+len(channel) > egress.MaxTopicBytes {
		return "", fmt.Errorf("%w: channel %q", ErrTopicTooLong, channel)
	}
	var buf [egress.MaxTopicBytes]byte
	n := copy(buf[:], d.prefix)
	n += copy(buf[n:], DataSegment)
	buf[n] = '/'
	n++
	n += copy(buf[n:], channel)
	return string(buf[:n]), nil
}

// Dispatch forwards a parsed frame's payload under its channel topic.
func (d *Dispatcher) Dispatch(f frame.Parsed) (string, error) {
	topic, err := d.Topic(f.Channel)
	if err != nil {
		return "", err
	}
	d.pub.Publish(topic, f.Payload)
	return topic, nil
}

// DispatchRaw forwards a legacy record under the static data topic.
func (d *Dispatcher) DispatchRaw(payload []byte) string {
	topic := d.prefix + DataSegment
	d.pub.Publish(topic, payload)
	return topic
}

// Log publishes an informational line to the gateway's log topic.
func (d *Dispatcher) Log(msg string) {
	if len(msg) > egress.MaxPayloadBytes {
		msg = msg[:egress.MaxPayloadBytes]
	}
	d.pub.Publish(d.prefix+LogsSegment, []byte(msg))
}

// Publish sends payload to prefix+suffix for collaborators that share the
// gateway's topic tree.
func (d *Dispatcher) Publish(suffix string, payload []byte) {
	d.pub.Publish(d.prefix+suffix, payload)
}
