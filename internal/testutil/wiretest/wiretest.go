// Package wiretest builds wire fixtures for tests. The gateway itself only
// decodes; the stuffer and frame builder here follow the published COBS
// algorithm and the frame layout independently of the decoder code.
package wiretest

import (
	"encoding/binary"

	"github.com/danmuck/serialgw/internal/protocol/checksum"
)

// Frame describes one frame to encode. DeclaredLen and CRC override the
// computed values when set, so tests can build corrupt frames.
type Frame struct {
	Version     uint8
	MsgID       uint32
	Channel     string
	CType       string
	Payload     []byte
	DeclaredLen *uint16
	CRC         *uint32
	Trailing    []byte
}

// Bytes returns the unstuffed frame.
func (f Frame) Bytes() []byte {
	out := []byte{f.Version, 0, 0}
	out = binary.LittleEndian.AppendUint32(out, f.MsgID)
	out = append(out, byte(len(f.Channel)))
	out = append(out, f.Channel...)
	out = append(out, byte(len(f.CType)))
	out = append(out, f.CType...)
	out = binary.LittleEndian.AppendUint16(out, uint16(len(f.Payload)))
	out = append(out, f.Payload...)

	total := len(out) + 4 + len(f.Trailing)
	declared := uint16(total - 1)
	if f.DeclaredLen != nil {
		declared = *f.DeclaredLen
	}
	binary.LittleEndian.PutUint16(out[1:3], declared)

	crc := checksum.MPEG2(out)
	if f.CRC != nil {
		crc = *f.CRC
	}
	out = binary.LittleEndian.AppendUint32(out, crc)
	return append(out, f.Trailing...)
}

// Stuffed returns the COBS-encoded frame without delimiters.
func (f Frame) Stuffed() []byte {
	return Stuff(f.Bytes())
}

// Stuff COBS-encodes src. The result contains no zero bytes.
func Stuff(src []byte) []byte {
	out := make([]byte, 1, len(src)+len(src)/254+2)
	codeAt, code := 0, byte(1)
	for _, b := range src {
		if b == 0 {
			out[codeAt] = code
			codeAt, code = len(out), 1
			out = append(out, 0)
			continue
		}
		out = append(out, b)
		code++
		if code == 0xFF {
			out[codeAt] = code
			codeAt, code = len(out), 1
			out = append(out, 0)
		}
	}
	out[codeAt] = code
	return out
}

// Stream wraps each stuffed body in its own pair of delimiters:
// 00 b1 00 00 b2 00 ...
func Stream(bodies ...[]byte) []byte {
	var out []byte
	for _, b := range bodies {
		out = append(out, 0)
		out = append(out, b...)
		out = append(out, 0)
	}
	return out
}

func U16(v uint16) *uint16 { return &v }

func U32(v uint32) *uint32 { return &v }
