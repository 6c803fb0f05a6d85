package gateway

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/serialgw/internal/egress"
	"github.com/danmuck/serialgw/internal/protocol/frame"
)

// Framing selects how the inbound byte stream is split into messages.
type Framing string

const (
	FramingCOBS Framing = "cobs"
	FramingLine Framing = "line"
)

func ParseFraming(raw string) (Framing, error) {
	switch Framing(strings.ToLower(strings.TrimSpace(raw))) {
	case FramingCOBS, "":
		return FramingCOBS, nil
	case FramingLine, "legacy":
		return FramingLine, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFraming, raw)
	}
}

var (
	ErrUnknownFraming = errors.New("gateway: unknown framing")
	ErrInvalidConfig  = errors.New("gateway: invalid config")
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

type Config struct {
	GatewayID       string
	ListenAddr      string
	Framing         Framing
	IdleTimeout     time.Duration
	WriteTimeout    time.Duration
	CloseBackoff    time.Duration
	AcceptBackoff   BackoffConfig
	ReadBufferSize  int
	FrameBufferSize int
	LineBufferSize  int
	Limits          frame.Limits
	// RegistryTouchInterval bounds how often activity is reported to the
	// connection registry.
	RegistryTouchInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		GatewayID:      "gw",
		ListenAddr:     ":10001",
		Framing:        FramingCOBS,
		IdleTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		CloseBackoff:   time.Second,
		ReadBufferSize: 1024,
		// Largest frame: 15 header bytes, two 255 byte strings and a full
		// payload, plus one stuffing byte per 254.
		FrameBufferSize: 1600,
		LineBufferSize:  egress.MaxPayloadBytes,
		Limits:          frame.DefaultLimits(),
		AcceptBackoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
		RegistryTouchInterval: 30 * time.Second,
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("%w: missing listen addr", ErrInvalidConfig)
	}
	if _, err := ParseFraming(string(c.Framing)); err != nil {
		return err
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("%w: idle timeout must be positive", ErrInvalidConfig)
	}
	if c.ReadBufferSize <= 0 || c.FrameBufferSize <= 0 || c.LineBufferSize <= 0 {
		return fmt.Errorf("%w: buffer sizes must be positive", ErrInvalidConfig)
	}
	if c.LineBufferSize > egress.MaxPayloadBytes {
		return fmt.Errorf("%w: line buffer %d exceeds egress payload limit %d", ErrInvalidConfig, c.LineBufferSize, egress.MaxPayloadBytes)
	}
	if c.Limits.MaxPayloadBytes <= 0 || c.Limits.MaxPayloadBytes > egress.MaxPayloadBytes {
		return fmt.Errorf("%w: max payload %d outside 1..%d", ErrInvalidConfig, c.Limits.MaxPayloadBytes, egress.MaxPayloadBytes)
	}
	return nil
}
