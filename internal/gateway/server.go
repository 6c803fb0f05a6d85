package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/serialgw/internal/dispatch"
	"github.com/danmuck/serialgw/internal/observability"
	"github.com/danmuck/serialgw/internal/outbound"
	"github.com/danmuck/serialgw/internal/protocol/framing"
	"github.com/danmuck/serialgw/internal/registry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrMissingDeps = errors.New("gateway: missing dependencies")

// State is the phase of the connection loop.
type State string

const (
	StateIdle      State = "idle"
	StateListening State = "listening"
	StateAccepted  State = "accepted"
	StateServing   State = "serving"
	StateClosing   State = "closing"
	StateStopped   State = "stopped"
)

const registryTimeout = 2 * time.Second

// Deps are the collaborators shared by every connection.
type Deps struct {
	Outbound   *outbound.Queue
	Dispatcher *dispatch.Dispatcher
	Registry   registry.Store
}

type counters struct {
	connections   atomic.Uint64
	framesDecoded atomic.Uint64
	framesDropped atomic.Uint64
	bytesIn       atomic.Uint64
	packetsOut    atomic.Uint64
}

// Status is a point-in-time snapshot of the connection loop.
type Status struct {
	GatewayID     string `json:"gateway_id"`
	State         State  `json:"state"`
	Framing       string `json:"framing"`
	ListenAddr    string `json:"listen_addr"`
	Remote        string `json:"remote,omitempty"`
	ConnID        string `json:"conn_id,omitempty"`
	Connections   uint64 `json:"connections"`
	FramesDecoded uint64 `json:"frames_decoded"`
	FramesDropped uint64 `json:"frames_dropped"`
	BytesIn       uint64 `json:"bytes_in"`
	PacketsOut    uint64 `json:"packets_out"`
	OutboundDepth int    `json:"outbound_depth"`
}

// Server serves one serial-bridge client at a time.
type Server struct {
	cfg  Config
	deps Deps
	rng  *rand.Rand

	mu     sync.RWMutex
	state  State
	addr   net.Addr
	remote string
	connID string

	seq   atomic.Uint64
	stats counters
}

func New(cfg Config, deps Deps) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Outbound == nil || deps.Dispatcher == nil {
		return nil, fmt.Errorf("%w: outbound queue and dispatcher are required", ErrMissingDeps)
	}
	if deps.Registry == nil {
		deps.Registry = registry.Nop{}
	}
	framingMode, _ := ParseFraming(string(cfg.Framing))
	cfg.Framing = framingMode
	return &Server{
		cfg:   cfg,
		deps:  deps,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		state: StateIdle,
	}, nil
}

// Run listens on cfg.ListenAddr and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("gateway listen %s: %w", s.cfg.ListenAddr, err)
	}
	log.Info().Str("addr", ln.Addr().String()).Str("framing", string(s.cfg.Framing)).Msg("gateway listening")
	return s.Serve(ctx, ln)
}

// Serve runs the connection loop on an existing listener. Accept errors back
// off and retry; Serve returns nil once ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	defer s.setState(StateStopped, "", "")

	attempt := 0
	for {
		s.setState(StateListening, "", "")
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			attempt++
			delay := NextBackoffDelay(s.cfg.AcceptBackoff, attempt, s.rng)
			log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("gateway accept failed")
			if !sleepCtx(ctx, delay) {
				return nil
			}
			continue
		}
		attempt = 0
		s.handle(ctx, conn)
		if !sleepCtx(ctx, s.cfg.CloseBackoff) {
			return nil
		}
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	connID := fmt.Sprintf("%s-%d", s.cfg.GatewayID, s.seq.Add(1))
	logger := log.With().Str("conn_id", connID).Str("remote", remote).Logger()

	s.setState(StateAccepted, remote, connID)
	s.stats.connections.Add(1)
	observability.RecordConnection("accepted")
	logger.Info().Msg("accepted tcp connection")
	s.deps.Dispatcher.Log("Accepted tcp connection: " + remote)
	s.updateRegistry(ctx, logger, "register", func(ctx context.Context) error {
		return s.deps.Registry.Register(ctx, registry.Entry{
			GatewayID: s.cfg.GatewayID,
			ConnID:    connID,
			Remote:    remote,
			Framing:   string(s.cfg.Framing),
		})
	})

	err := s.serveConn(ctx, conn, logger)

	s.setState(StateClosing, remote, connID)
	_ = conn.Close()
	reason := closeReason(err)
	observability.RecordConnection(reason)
	logger.Info().Err(err).Str("reason", reason).Msg("connection closed")
	s.updateRegistry(ctx, logger, "remove", func(ctx context.Context) error {
		return s.deps.Registry.Remove(ctx, s.cfg.GatewayID)
	})
}

// serveConn multiplexes inbound chunks, outbound packets and shutdown. The
// reader goroutine owns the read buffer; it hands one chunk at a time to this
// loop and waits until the chunk has been decoded before reading again.
func (s *Server) serveConn(ctx context.Context, conn net.Conn, logger zerolog.Logger) error {
	dec, err := newDecoder(s.cfg, s.deps.Dispatcher, &s.stats, logger)
	if err != nil {
		return err
	}
	s.setState(StateServing, conn.RemoteAddr().String(), s.currentConnID())

	chunks := make(chan []byte)
	resume := make(chan struct{})
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go s.readLoop(conn, chunks, resume, readErr, done)

	lastTouch := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case chunk := <-chunks:
			s.stats.bytesIn.Add(uint64(len(chunk)))
			err := dec.Feed(chunk)
			if err != nil {
				return err
			}
			resume <- struct{}{}
			if s.cfg.RegistryTouchInterval > 0 && time.Since(lastTouch) >= s.cfg.RegistryTouchInterval {
				lastTouch = time.Now()
				s.updateRegistry(ctx, logger, "touch", func(ctx context.Context) error {
					return s.deps.Registry.Touch(ctx, s.cfg.GatewayID)
				})
			}
		case pkt := <-s.deps.Outbound.C():
			if s.cfg.WriteTimeout > 0 {
				_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			}
			n, err := conn.Write(pkt.Payload)
			if err != nil {
				return fmt.Errorf("write outbound packet: %w", err)
			}
			s.stats.packetsOut.Add(1)
			observability.RecordOutboundWrite(n)
			logger.Debug().Str("topic", pkt.Topic).Int("bytes", n).Msg("outbound packet written")
		}
	}
}

func (s *Server) readLoop(conn net.Conn, chunks chan<- []byte, resume <-chan struct{}, readErr chan<- error, done <-chan struct{}) {
	buf := make([]byte, s.cfg.ReadBufferSize)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		n, err := conn.Read(buf)
		if n > 0 {
			select {
			case chunks <- buf[:n]:
			case <-done:
				return
			}
			select {
			case <-resume:
			case <-done:
				return
			}
		}
		if err != nil {
			readErr <- err
			return
		}
	}
}

func (s *Server) updateRegistry(ctx context.Context, logger zerolog.Logger, op string, fn func(context.Context) error) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), registryTimeout)
	defer cancel()
	if err := fn(rctx); err != nil {
		logger.Warn().Err(err).Str("op", op).Msg("registry update failed")
	}
}

func closeReason(err error) string {
	switch {
	case err == nil:
		return "closed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "shutdown"
	case errors.Is(err, os.ErrDeadlineExceeded):
		return "idle_timeout"
	case errors.Is(err, io.EOF):
		return "peer_closed"
	case errors.Is(err, framing.ErrLineOverflow):
		return "line_overflow"
	default:
		return "transport_error"
	}
}

func (s *Server) setState(state State, remote, connID string) {
	s.mu.Lock()
	s.state = state
	s.remote = remote
	s.connID = connID
	s.mu.Unlock()
}

func (s *Server) currentConnID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connID
}

// Addr is the bound listener address, or nil before Serve starts.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

func (s *Server) Config() Config { return s.cfg }

func (s *Server) Status() Status {
	s.mu.RLock()
	st := Status{
		GatewayID: s.cfg.GatewayID,
		State:     s.state,
		Framing:   string(s.cfg.Framing),
		Remote:    s.remote,
		ConnID:    s.connID,
	}
	if s.addr != nil {
		st.ListenAddr = s.addr.String()
	}
	s.mu.RUnlock()
	st.Connections = s.stats.connections.Load()
	st.FramesDecoded = s.stats.framesDecoded.Load()
	st.FramesDropped = s.stats.framesDropped.Load()
	st.BytesIn = s.stats.bytesIn.Load()
	st.PacketsOut = s.stats.packetsOut.Load()
	st.OutboundDepth = s.deps.Outbound.Len()
	return st
}
