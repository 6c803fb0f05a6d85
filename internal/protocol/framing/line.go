package framing

import "errors"

const Newline byte = 0x0A

var ErrLineOverflow = errors.New("framing: line exceeds buffer before newline")

// LineAccumulator is the legacy newline-delimited framing. The newline is
// part of the record. There is no resynchronization: once the buffer is full
// without a newline the stream is unusable.
type LineAccumulator struct {
	buf []byte
	n   int
}

func NewLineAccumulator(capacity int) (*LineAccumulator, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	return &LineAccumulator{buf: make([]byte, capacity)}, nil
}

// Feed consumes p up to and including the first newline. ready reports a
// complete record available from Line until Reset.
func (l *LineAccumulator) Feed(p []byte) (consumed int, ready bool, err error) {
	for i, b := range p {
		if l.n >= len(l.buf) {
			return i, false, ErrLineOverflow
		}
		l.buf[l.n] = b
		l.n++
		if b == Newline {
			return i + 1, true, nil
		}
	}
	return len(p), false, nil
}

func (l *LineAccumulator) Line() []byte {
	return l.buf[:l.n]
}

func (l *LineAccumulator) Reset() {
	l.n = 0
}

func (l *LineAccumulator) Len() int { return l.n }
