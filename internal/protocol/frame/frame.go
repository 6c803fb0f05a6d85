package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/danmuck/serialgw/internal/protocol/checksum"
)

const (
	Version uint8 = 1

	// MinLen is the decoded size of a frame with empty channel, ctype and payload.
	MinLen = 1 + 2 + 4 + 1 + 1 + 2 + 4

	offDeclaredLen = 1
	offMsgID       = 3
	offChannelLen  = 7
	crcLen         = 4
)

var (
	ErrUnsupportedVersion    = errors.New("frame: unsupported version")
	ErrLengthMismatch        = errors.New("frame: length mismatch")
	ErrChannelTooLong        = errors.New("frame: channel runs past end of frame")
	ErrCTypeTooLong          = errors.New("frame: content type runs past end of frame")
	ErrInvalidChannelUTF8    = errors.New("frame: channel is not valid utf-8")
	ErrInvalidCTypeUTF8      = errors.New("frame: content type is not valid utf-8")
	ErrPayloadLengthMismatch = errors.New("frame: payload runs past end of frame")
	ErrPayloadTooLarge       = errors.New("frame: payload too large")
	ErrCRCMismatch           = errors.New("frame: crc mismatch")
)

// CRCMismatchError carries both checksums. Expected is the value carried by
// the frame trailer, Actual is the value computed over the received bytes.
type CRCMismatchError struct {
	Expected uint32
	Actual   uint32
}

func (e *CRCMismatchError) Error() string {
	return fmt.Sprintf("%v: expected=0x%08X actual=0x%08X", ErrCRCMismatch, e.Expected, e.Actual)
}

func (e *CRCMismatchError) Unwrap() error {
	return ErrCRCMismatch
}

// Limits constrains what Parse accepts.
type Limits struct {
	MaxPayloadBytes int
}

// DefaultLimits keeps payloads within what one egress message can carry.
func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: 1023}
}

// Parsed is a view into a decoded frame buffer. Channel, CType and Payload
// alias that buffer and are only valid until the buffer is reused.
type Parsed struct {
	Version uint8
	MsgID   uint32
	Channel []byte
	CType   []byte
	Payload []byte
}

func (p Parsed) ChannelName() string {
	return string(p.Channel)
}

func (p Parsed) ContentType() string {
	return string(p.CType)
}

// Parse validates an unstuffed frame and returns a view into it. Every bound
// is checked before any field is sliced.
func Parse(buf []byte, limits Limits) (Parsed, error) {
	if len(buf) == 0 {
		return Parsed{}, fmt.Errorf("%w: empty frame", ErrLengthMismatch)
	}
	if buf[0] != Version {
		return Parsed{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, buf[0])
	}
	if len(buf) < offMsgID {
		return Parsed{}, fmt.Errorf("%w: %d bytes", ErrLengthMismatch, len(buf))
	}
	declared := int(binary.LittleEndian.Uint16(buf[offDeclaredLen:offMsgID]))
	if declared != len(buf)-1 {
		return Parsed{}, fmt.Errorf("%w: declared=%d decoded=%d", ErrLengthMismatch, declared, len(buf))
	}
	if len(buf) < offChannelLen {
		return Parsed{}, fmt.Errorf("%w: short header", ErrLengthMismatch)
	}
	msgID := binary.LittleEndian.Uint32(buf[offMsgID:offChannelLen])

	pos := offChannelLen
	channel, pos, err := shortString(buf, pos, ErrChannelTooLong, ErrInvalidChannelUTF8)
	if err != nil {
		return Parsed{}, err
	}
	ctype, pos, err := shortString(buf, pos, ErrCTypeTooLong, ErrInvalidCTypeUTF8)
	if err != nil {
		return Parsed{}, err
	}

	if pos+2 > len(buf) {
		return Parsed{}, fmt.Errorf("%w: missing payload length", ErrPayloadLengthMismatch)
	}
	payloadLen := int(binary.LittleEndian.Uint16(buf[pos : pos+2]))
	pos += 2
	if len(buf)-pos < payloadLen+crcLen {
		return Parsed{}, fmt.Errorf("%w: payload_len=%d remaining=%d", ErrPayloadLengthMismatch, payloadLen, len(buf)-pos)
	}
	if payloadLen > limits.MaxPayloadBytes {
		return Parsed{}, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, payloadLen, limits.MaxPayloadBytes)
	}
	payload := buf[pos : pos+payloadLen]
	pos += payloadLen
	if pos+crcLen != len(buf) {
		return Parsed{}, fmt.Errorf("%w: %d trailing bytes", ErrLengthMismatch, len(buf)-pos-crcLen)
	}

	expected := binary.LittleEndian.Uint32(buf[pos:])
	if actual := checksum.MPEG2(buf[:pos]); actual != expected {
		return Parsed{}, &CRCMismatchError{Expected: expected, Actual: actual}
	}

	return Parsed{
		Version: buf[0],
		MsgID:   msgID,
		Channel: channel,
		CType:   ctype,
		Payload: payload,
	}, nil
}

// shortString reads a u8 length prefix and that many utf-8 bytes at pos.
func shortString(buf []byte, pos int, errBounds, errUTF8 error) ([]byte, int, error) {
	if pos >= len(buf) {
		return nil, pos, fmt.Errorf("%w: missing length", errBounds)
	}
	n := int(buf[pos])
	pos++
	if n > len(buf)-pos {
		return nil, pos, fmt.Errorf("%w: len=%d remaining=%d", errBounds, n, len(buf)-pos)
	}
	s := buf[pos : pos+n]
	if !utf8.Valid(s) {
		return nil, pos, errUTF8
	}
	return s, pos + n, nil
}
