package bc

import "encoding/binary"

// ScanState is the verdict of Check on a buffered stream prefix.
type ScanState uint8

const (
	// Done: the buffer holds a whole number of messages, possibly zero.
	Done ScanState = iota
	// NeedOneMore: the walk stalled inside a truncated detect window; the
	// exact need is unknowable until at least one more byte arrives.
	NeedOneMore
	// NeedMore: the buffer is short by a known byte count.
	NeedMore
	// NoMagic: the cursor stopped on bytes that are not a message start.
	NoMagic
)

func (s ScanState) String() string {
	switch s {
	case Done:
		return "done"
	case NeedOneMore:
		return "need-one-more"
	case NeedMore:
		return "need-more"
	}
	return "no-magic"
}

// Completeness pairs a ScanState with its NeedMore shortfall.
type Completeness struct {
	State ScanState
	// Shortfall is how many bytes are missing. Meaningful only when State
	// is NeedMore.
	Shortfall int
}

// Check walks buf message by message and reports whether it frames cleanly.
// The walk restarts from scratch on every call; stream code buffers bytes
// and re-Checks as they arrive. There is no resynchronization: the first
// non-boundary byte poisons the whole verdict.
func Check(buf []byte) Completeness {
	for cur := buf; len(cur) > 0; {
		if len(cur) < DetectLen {
			return Completeness{State: NeedOneMore}
		}
		hdrLen, ok := DetectHeader(cur)
		if !ok {
			return Completeness{State: NoMagic}
		}
		if len(cur) < hdrLen {
			return Completeness{State: NeedMore, Shortfall: hdrLen - len(cur)}
		}
		frame := hdrLen + int(binary.LittleEndian.Uint32(cur[8:12]))
		if len(cur) < frame {
			return Completeness{State: NeedMore, Shortfall: frame - len(cur)}
		}
		cur = cur[frame:]
	}
	return Completeness{State: Done}
}

// Message is one decoded protocol message.
type Message struct {
	Header Header
	Body   Body
}

// Scanner steps a cursor through a buffer of back to back messages. Next
// stops cleanly at the first position that does not start a whole message,
// so callers normally run Check first and only scan buffers that came back
// Done; any trailing bytes are discarded in silence.
type Scanner struct {
	buf []byte
	msg Message
}

// NewScanner returns a Scanner positioned at the start of buf.
func NewScanner(buf []byte) *Scanner {
	return &Scanner{buf: buf}
}

// Next decodes the message under the cursor and advances past it. It
// returns false when the buffer is exhausted or the cursor is not on a
// complete message.
func (s *Scanner) Next() bool {
	hdrLen, ok := DetectHeader(s.buf)
	if !ok {
		return false
	}
	hdr := DecodeHeader(s.buf)
	frame := hdrLen + int(hdr.BodyLen)
	if frame > len(s.buf) {
		return false
	}
	s.msg = Message{Header: hdr, Body: DecodeBody(hdr, s.buf[hdrLen:frame])}
	s.buf = s.buf[frame:]
	return true
}

// Message returns the message decoded by the last successful Next.
func (s *Scanner) Message() Message { return s.msg }

// Rest returns the bytes the cursor has not consumed.
func (s *Scanner) Rest() []byte { return s.buf }
