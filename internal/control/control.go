// Package control routes downlink broker messages into the gateway.
//
// Two subjects under the gateway prefix are handled: rpc/tcp payloads are
// queued for the connected serial client, and echo payloads are published
// back on echo/reply.
package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/serialgw/internal/dispatch"
	"github.com/danmuck/serialgw/internal/outbound"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const (
	RPCSuffix       = "/rpc/tcp"
	EchoSuffix      = "/echo"
	EchoReplySuffix = dispatch.EchoReplySegment

	// MaxInboundBytes is the largest downlink message the gateway accepts.
	MaxInboundBytes    = 1023
	DefaultSendTimeout = 5 * time.Second
)

var ErrMessageTooLarge = errors.New("control: message too large")

// Handler receives one downlink message.
type Handler func(subject string, data []byte)

// Subscriber attaches a handler to a subject and returns its cancel func.
type Subscriber interface {
	Subscribe(subject string, h Handler) (func() error, error)
}

// NATSSubscriber adapts a NATS connection to Subscriber.
type NATSSubscriber struct {
	Conn *nats.Conn
}

func (n NATSSubscriber) Subscribe(subject string, h Handler) (func() error, error) {
	sub, err := n.Conn.Subscribe(subject, func(m *nats.Msg) {
		h(m.Subject, m.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	return sub.Unsubscribe, nil
}

type Config struct {
	SendTimeout time.Duration
}

type Service struct {
	disp *dispatch.Dispatcher
	out  *outbound.Queue
	cfg  Config
}

func New(disp *dispatch.Dispatcher, out *outbound.Queue, cfg Config) *Service {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	return &Service{disp: disp, out: out, cfg: cfg}
}

// Subjects lists the subjects Start subscribes to.
func (s *Service) Subjects() []string {
	return []string{s.disp.Prefix() + RPCSuffix, s.disp.Prefix() + EchoSuffix}
}

// Start subscribes both handlers. The returned stop func unsubscribes them.
// Handlers run on the subscriber's goroutine and use ctx for queue waits.
func (s *Service) Start(ctx context.Context, sub Subscriber) (func(), error) {
	var cancels []func() error
	stop := func() {
		for _, c := range cancels {
			if err := c(); err != nil {
				log.Warn().Err(err).Msg("control unsubscribe failed")
			}
		}
	}
	rpc, echo := s.Subjects()[0], s.Subjects()[1]
	handlers := map[string]Handler{
		rpc: func(subject string, data []byte) {
			if err := s.HandleRPC(ctx, subject, data); err != nil {
				log.Warn().Err(err).Str("subject", subject).Int("bytes", len(data)).Msg("rpc message rejected")
			}
		},
		echo: func(subject string, data []byte) {
			if err := s.HandleEcho(data); err != nil {
				log.Warn().Err(err).Str("subject", subject).Int("bytes", len(data)).Msg("echo message rejected")
			}
		},
	}
	for _, subject := range []string{rpc, echo} {
		c, err := sub.Subscribe(subject, handlers[subject])
		if err != nil {
			stop()
			return nil, err
		}
		cancels = append(cancels, c)
		log.Info().Str("subject", subject).Msg("control subscribed")
	}
	return stop, nil
}

// HandleRPC queues data for the serial client, waiting at most SendTimeout
// for room in the outbound queue.
func (s *Service) HandleRPC(ctx context.Context, subject string, data []byte) error {
	if err := checkSize(data); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()
	return s.out.Send(ctx, outbound.Packet{Topic: subject, Payload: data})
}

func (s *Service) HandleEcho(data []byte) error {
	if err := checkSize(data); err != nil {
		return err
	}
	s.disp.Publish(EchoReplySuffix, data)
	return nil
}

func checkSize(data []byte) error {
	if len(data) > MaxInboundBytes {
		return fmt.Errorf("%w: %d > %d bytes", ErrMessageTooLarge, len(data), MaxInboundBytes)
	}
	return nil
}
