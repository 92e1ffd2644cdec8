// Package assembly reconstructs framed messages from TCP segments and
// transport datagrams.
package assembly

import (
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/tcpassembly"

	"firestige.xyz/argus/internal/bc"
	"firestige.xyz/argus/internal/log"
	"firestige.xyz/argus/internal/metrics"
)

// StreamHandler receives every message recovered from one TCP stream
// direction. Flows identify the direction, seen is the capture time of the
// segment that completed the message, and messages arrive in stream order.
type StreamHandler func(net, transport gopacket.Flow, seen time.Time, msg bc.Message)

// StreamFactory builds the per-direction streams for tcpassembly.
type StreamFactory struct {
	handler StreamHandler
	log     log.Logger
}

func NewStreamFactory(handler StreamHandler) *StreamFactory {
	return &StreamFactory{handler: handler, log: log.GetLogger()}
}

func (f *StreamFactory) New(net, transport gopacket.Flow) tcpassembly.Stream {
	return &tcpStream{
		net:       net,
		transport: transport,
		handler:   f.handler,
		log: f.log.WithFields(map[string]interface{}{
			"net":       net.String(),
			"transport": transport.String(),
		}),
	}
}

// tcpStream buffers one direction of a connection until the bytes frame
// cleanly, then scans the messages out. The protocol has no marker to hunt
// for after a framing error, so the first bad byte abandons the direction.
type tcpStream struct {
	net, transport gopacket.Flow
	handler        StreamHandler
	log            log.Logger

	buf      []byte
	seen     time.Time
	poisoned bool
}

func (s *tcpStream) Reassembled(segments []tcpassembly.Reassembly) {
	for _, seg := range segments {
		if !seg.Seen.IsZero() {
			s.seen = seg.Seen
		}
		if seg.Skip != 0 {
			// Bytes went missing; whatever frame position the buffer had
			// went with them. Drop the buffer and let the next segment
			// prove it sits on a message boundary.
			s.buf = nil
			s.log.WithField("skip", seg.Skip).Debug("stream gap, buffer dropped")
		}
		if s.poisoned || len(seg.Bytes) == 0 {
			continue
		}
		s.buf = append(s.buf, seg.Bytes...)
	}
	if s.poisoned || len(s.buf) == 0 {
		return
	}

	switch c := bc.Check(s.buf); c.State {
	case bc.Done:
		s.flush()
	case bc.NoMagic:
		s.poison()
	}
	// NeedMore and NeedOneMore wait for the next segment.
}

func (s *tcpStream) ReassemblyComplete() {
	if s.poisoned || len(s.buf) == 0 {
		return
	}
	// Stream closed mid-message. The tail can never complete.
	metrics.DecodeErrorsTotal.WithLabelValues("truncated-stream").Inc()
	s.log.WithField("bytes", len(s.buf)).Debug("stream closed with partial message")
	s.buf = nil
}

// flush scans the buffered messages out and starts a fresh buffer. The
// emitted bodies alias the old buffer, which is never touched again.
func (s *tcpStream) flush() {
	scanner := bc.NewScanner(s.buf)
	for scanner.Next() {
		msg := scanner.Message()
		metrics.MessagesTotal.WithLabelValues("tcp", msg.Header.Class()).Inc()
		if s.handler != nil {
			s.handler(s.net, s.transport, s.seen, msg)
		}
	}
	s.buf = nil
}

func (s *tcpStream) poison() {
	s.poisoned = true
	s.buf = nil
	metrics.PoisonedStreamsTotal.Inc()
	metrics.DecodeErrorsTotal.WithLabelValues("no-magic").Inc()
	s.log.Warn("framing lost, direction abandoned")
}
