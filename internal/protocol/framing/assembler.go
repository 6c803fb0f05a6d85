// Package framing finds message boundaries in a raw byte stream.
//
// Two strategies exist: Assembler collects zero-delimited stuffed bodies,
// LineAccumulator collects newline-terminated records. Both own one fixed
// buffer for the life of a connection and never grow it.
package framing

import "errors"

const Delimiter byte = 0x00

// Event is what a Feed call stopped on.
type Event int

const (
	EventNone Event = iota
	EventReady
	EventOverflow
)

func (e Event) String() string {
	switch e {
	case EventReady:
		return "ready"
	case EventOverflow:
		return "overflow"
	default:
		return "none"
	}
}

var ErrInvalidCapacity = errors.New("framing: capacity must be positive")

// Assembler accumulates the stuffed body between two delimiters.
type Assembler struct {
	buf        []byte
	n          int
	collecting bool
}

func NewAssembler(capacity int) (*Assembler, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	return &Assembler{buf: make([]byte, capacity)}, nil
}

// Feed consumes p until it runs out or an event fires, and reports how many
// bytes it took. On EventReady the body stays in place until Reset; the
// caller feeds p[consumed:] afterwards. On EventOverflow the assembler has
// already re-armed and skips to the next delimiter.
func (a *Assembler) Feed(p []byte) (int, Event) {
	for i, b := range p {
		if !a.collecting {
			if b == Delimiter {
				a.collecting = true
				a.n = 0
			}
			continue
		}
		if b == Delimiter {
			if a.n == 0 {
				continue
			}
			return i + 1, EventReady
		}
		if a.n >= len(a.buf) {
			a.collecting = false
			a.n = 0
			return i + 1, EventOverflow
		}
		a.buf[a.n] = b
		a.n++
	}
	return len(p), EventNone
}

// Body returns the collected stuffed body. It is only meaningful after
// EventReady and aliases the assembler's buffer.
func (a *Assembler) Body() []byte {
	return a.buf[:a.n]
}

// Reset drops the current body and waits for a fresh opening delimiter, so
// every frame on the wire carries its own leading zero.
func (a *Assembler) Reset() {
	a.n = 0
	a.collecting = false
}

func (a *Assembler) Len() int         { return a.n }
func (a *Assembler) Cap() int         { return len(a.buf) }
func (a *Assembler) Collecting() bool { return a.collecting }
