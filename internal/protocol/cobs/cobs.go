// Package cobs decodes consistent-overhead byte stuffing in place.
//
// A stuffed body is a sequence of blocks. Each block starts with a code byte
// c (1..255) followed by c-1 literal bytes; every block except a 0xFF block
// and the final block stands for a trailing zero that the encoder removed.
// Only decoding lives here; senders own the encoder.
package cobs

import "errors"

var (
	ErrZeroByte      = errors.New("cobs: zero length code")
	ErrUnexpectedEOF = errors.New("cobs: block runs past end of input")
)

// MaxBlock is the longest literal run a single code byte can describe.
const MaxBlock = 0xFE

// Decode unstuffs buf in place and returns the decoded length. The decoded
// bytes occupy buf[:n]; the write cursor never overtakes the read cursor.
func Decode(buf []byte) (int, error) {
	r, w := 0, 0
	for r < len(buf) {
		code := buf[r]
		if code == 0 {
			return w, ErrZeroByte
		}
		r++
		n := int(code) - 1
		if r+n > len(buf) {
			return w, ErrUnexpectedEOF
		}
		copy(buf[w:], buf[r:r+n])
		w += n
		r += n
		if code != 0xFF && r < len(buf) {
			buf[w] = 0
			w++
		}
	}
	return w, nil
}
