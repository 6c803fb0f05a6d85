package gateway

import (
	"errors"
	"fmt"

	"github.com/danmuck/serialgw/internal/dispatch"
	"github.com/danmuck/serialgw/internal/observability"
	"github.com/danmuck/serialgw/internal/protocol/cobs"
	"github.com/danmuck/serialgw/internal/protocol/frame"
	"github.com/danmuck/serialgw/internal/protocol/framing"
	"github.com/rs/zerolog"
)

// ErrFrameOverflow reports a stuffed body that outgrew the frame buffer.
var ErrFrameOverflow = errors.New("gateway: frame exceeds buffer")

// Decoder turns inbound chunks into dispatched messages. Feed returns an
// error only when the connection can no longer be used.
type Decoder interface {
	Feed(p []byte) error
	Framing() Framing
}

// newDecoder builds the per-connection decoder for cfg.Framing.
func newDecoder(cfg Config, disp *dispatch.Dispatcher, stats *counters, logger zerolog.Logger) (Decoder, error) {
	framingMode, err := ParseFraming(string(cfg.Framing))
	if err != nil {
		return nil, err
	}
	switch framingMode {
	case FramingLine:
		acc, err := framing.NewLineAccumulator(cfg.LineBufferSize)
		if err != nil {
			return nil, err
		}
		return &lineDecoder{acc: acc, disp: disp, stats: stats, logger: logger}, nil
	default:
		asm, err := framing.NewAssembler(cfg.FrameBufferSize)
		if err != nil {
			return nil, err
		}
		return &stuffedDecoder{asm: asm, limits: cfg.Limits, disp: disp, stats: stats, logger: logger}, nil
	}
}

type stuffedDecoder struct {
	asm    *framing.Assembler
	limits frame.Limits
	disp   *dispatch.Dispatcher
	stats  *counters
	logger zerolog.Logger
}

func (d *stuffedDecoder) Framing() Framing { return FramingCOBS }

func (d *stuffedDecoder) Feed(p []byte) error {
	for len(p) > 0 {
		n, ev := d.asm.Feed(p)
		p = p[n:]
		switch ev {
		case framing.EventReady:
			d.handle(d.asm.Body())
			d.asm.Reset()
		case framing.EventOverflow:
			d.drop(fmt.Errorf("%w: capacity %d", ErrFrameOverflow, d.asm.Cap()))
		}
	}
	return nil
}

// handle decodes body in place, so the payload handed to the dispatcher
// aliases the assembler buffer until Reset.
func (d *stuffedDecoder) handle(body []byte) {
	n, err := cobs.Decode(body)
	if err != nil {
		d.drop(err)
		return
	}
	f, err := frame.Parse(body[:n], d.limits)
	if err != nil {
		d.drop(err)
		return
	}
	topic, err := d.disp.Dispatch(f)
	if err != nil {
		d.drop(err)
		return
	}
	d.stats.framesDecoded.Add(1)
	observability.RecordFrameDecoded(string(FramingCOBS))
	d.logger.Debug().
		Uint32("msg_id", f.MsgID).
		Str("topic", topic).
		Str("ctype", f.ContentType()).
		Int("bytes", len(f.Payload)).
		Msg("frame dispatched")
}

func (d *stuffedDecoder) drop(err error) {
	kind := ErrorKind(err)
	d.stats.framesDropped.Add(1)
	observability.RecordFrameDropped(kind)
	d.logger.Warn().Err(err).Str("kind", kind).Msg("frame dropped")
}

type lineDecoder struct {
	acc    *framing.LineAccumulator
	disp   *dispatch.Dispatcher
	stats  *counters
	logger zerolog.Logger
}

func (d *lineDecoder) Framing() Framing { return FramingLine }

func (d *lineDecoder) Feed(p []byte) error {
	for len(p) > 0 {
		n, ready, err := d.acc.Feed(p)
		p = p[n:]
		if err != nil {
			d.stats.framesDropped.Add(1)
			observability.RecordFrameDropped(ErrorKind(err))
			return fmt.Errorf("%w: %d bytes buffered", err, d.acc.Len())
		}
		if !ready {
			continue
		}
		topic := d.disp.DispatchRaw(d.acc.Line())
		d.stats.framesDecoded.Add(1)
		observability.RecordFrameDecoded(string(FramingLine))
		d.logger.Debug().Str("topic", topic).Int("bytes", d.acc.Len()).Msg("line dispatched")
		d.acc.Reset()
	}
	return nil
}

// ErrorKind maps a decode failure onto a short label for logs and metrics.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrFrameOverflow):
		return "overflow"
	case errors.Is(err, framing.ErrLineOverflow):
		return "line_overflow"
	case errors.Is(err, cobs.ErrZeroByte):
		return "cobs_zero_byte"
	case errors.Is(err, cobs.ErrUnexpectedEOF):
		return "cobs_truncated"
	case errors.Is(err, frame.ErrUnsupportedVersion):
		return "unsupported_version"
	case errors.Is(err, frame.ErrLengthMismatch):
		return "length_mismatch"
	case errors.Is(err, frame.ErrChannelTooLong),
		errors.Is(err, frame.ErrCTypeTooLong),
		errors.Is(err, frame.ErrPayloadLengthMismatch):
		return "field_overrun"
	case errors.Is(err, frame.ErrInvalidChannelUTF8), errors.Is(err, frame.ErrInvalidCTypeUTF8):
		return "invalid_utf8"
	case errors.Is(err, frame.ErrPayloadTooLarge):
		return "payload_too_large"
	case errors.Is(err, frame.ErrCRCMismatch):
		return "crc_mismatch"
	case errors.Is(err, dispatch.ErrTopicTooLong):
		return "topic_too_long"
	default:
		return "other"
	}
}
