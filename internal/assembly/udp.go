package assembly

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/patrickmn/go-cache"

	"firestige.xyz/argus/internal/bc"
	"firestige.xyz/argus/internal/log"
	"firestige.xyz/argus/internal/metrics"
)

// Origin identifies the datagram behind an event: its network and transport
// flows and the capture time. Messages completed across several datagrams
// carry the origin of the datagram that completed them.
type Origin struct {
	Net, Transport gopacket.Flow
	Seen           time.Time
}

// Events receives what the reassembler recovers from datagrams. Nil
// callbacks are skipped.
type Events struct {
	// Message fires once per framed message recovered from the data class.
	Message func(o Origin, connID int32, msg bc.Message)
	// Discovery fires per discovery datagram with the deciphered payload.
	Discovery func(o Origin, pkt *bc.Discovery, plain []byte)
	// Ack fires per acknowledgment datagram.
	Ack func(o Origin, pkt *bc.Ack)
}

// Options bound the fragment store. Zero values pick the defaults.
type Options struct {
	// TTL is how long an unconsumed fragment may wait for its run to
	// complete before it is evicted.
	TTL time.Duration
	// Cleanup is the eviction sweep interval.
	Cleanup time.Duration
}

const (
	defaultFragmentTTL     = 30 * time.Second
	defaultCleanupInterval = 10 * time.Second
)

// fragmentRecord is one stored data-class payload with the completeness
// verdict of its own bytes. messageID keeps the sequence number the record
// was stored under.
type fragmentRecord struct {
	payload   []byte
	comp      bc.Completeness
	messageID uint32
}

// Reassembler rebuilds the framed message stream from data-class datagrams
// and hands discovery and ack datagrams straight through. The fragment
// store evicts on TTL; an expired fragment simply stalls its run.
//
// Not safe for concurrent use. The decode stage owns one instance.
type Reassembler struct {
	events Events
	store  *cache.Cache
	log    log.Logger
}

func NewReassembler(events Events, opts Options) *Reassembler {
	if opts.TTL <= 0 {
		opts.TTL = defaultFragmentTTL
	}
	if opts.Cleanup <= 0 {
		opts.Cleanup = defaultCleanupInterval
	}
	store := cache.New(opts.TTL, opts.Cleanup)
	store.OnEvicted(func(string, interface{}) {
		metrics.FragmentsActive.Dec()
	})
	return &Reassembler{
		events: events,
		store:  store,
		log:    log.GetLogger(),
	}
}

// Handle decodes one datagram and routes it by class.
func (r *Reassembler) Handle(o Origin, datagram []byte) {
	pkt, err := bc.DecodeUDP(datagram)
	if err != nil {
		metrics.DecodeErrorsTotal.WithLabelValues(udpErrorReason(err)).Inc()
		if r.log.IsDebugEnabled() {
			r.log.WithError(err).WithField("bytes", len(datagram)).Debug("datagram dropped")
		}
		return
	}

	switch p := pkt.(type) {
	case *bc.Discovery:
		metrics.UDPDatagramsTotal.WithLabelValues("discovery").Inc()
		if r.events.Discovery != nil {
			r.events.Discovery(o, p, bc.UDPCrypt(p.Payload, p.TID))
		}
	case *bc.Ack:
		metrics.UDPDatagramsTotal.WithLabelValues("ack").Inc()
		if r.events.Ack != nil {
			r.events.Ack(o, p)
		}
	case *bc.Data:
		metrics.UDPDatagramsTotal.WithLabelValues("data").Inc()
		r.handleData(o, p)
	}
}

// CloseConnection evicts every fragment a connection still holds. Wired to
// the disconnect exchange; TTL eviction covers connections that vanish.
func (r *Reassembler) CloseConnection(connID int32) {
	prefix := fmt.Sprintf("%d/", connID)
	for key := range r.store.Items() {
		if strings.HasPrefix(key, prefix) {
			r.store.Delete(key)
		}
	}
}

// Pending returns how many fragments are waiting in the store.
func (r *Reassembler) Pending() int {
	return r.store.ItemCount()
}

// handleData stores the fragment and tries to complete a reassembly run.
//
// Every fragment is checked on its own bytes: a fragment opening on a
// message boundary verdicts Done or NeedMore, a continuation fragment
// verdicts NoMagic. Walking back through NoMagic records therefore finds
// the fragment that opened the run.
func (r *Reassembler) handleData(o Origin, p *bc.Data) {
	key := fragmentKey(p.ConnectionID, p.Seq)

	rec, found := r.getRecord(key)
	if found && rec.comp.State == bc.Done {
		// Retransmit of an already dispatched fragment.
		return
	}
	if !found {
		payload := append([]byte(nil), p.Payload...)
		rec = &fragmentRecord{
			payload:   payload,
			comp:      bc.Check(payload),
			messageID: p.Seq,
		}
		metrics.FragmentsActive.Inc()
	}
	// Known retransmits refresh their TTL so a live run is not swept away
	// under the retransmitting sender.
	r.store.Set(key, rec, cache.DefaultExpiration)

	r.tryDispatch(o, p.ConnectionID, p.Seq, rec)
}

// tryDispatch walks back from seq to the start of the reassembly run and
// dispatches it if the bytes are all there. Missing fragments leave the
// store untouched; the arrival that fills the hole retries the same walk.
func (r *Reassembler) tryDispatch(o Origin, connID int32, seq uint32, rec *fragmentRecord) {
	start, startSeq := rec, seq
	for start.comp.State == bc.NoMagic {
		if startSeq == 0 {
			return
		}
		prev, ok := r.getRecord(fragmentKey(connID, startSeq-1))
		if !ok {
			return
		}
		start, startSeq = prev, startSeq-1
	}

	switch start.comp.State {
	case bc.Done:
		// A self-contained fragment dispatches alone, and only on its own
		// arrival. A later walk-back landing on it belongs to bytes that
		// can never attach to anything.
		if start.messageID == seq {
			r.dispatch(o, connID, start.payload)
		}
	case bc.NeedMore:
		target := len(start.payload) + start.comp.Shortfall
		run := append([]byte(nil), start.payload...)
		for next := startSeq + 1; len(run) < target; next++ {
			frag, ok := r.getRecord(fragmentKey(connID, next))
			if !ok {
				return
			}
			run = append(run, frag.payload...)
		}
		start.comp = bc.Completeness{State: bc.Done}
		r.store.Set(fragmentKey(connID, startSeq), start, cache.DefaultExpiration)
		r.dispatch(o, connID, run)
	case bc.NeedOneMore:
		// A run opening inside a truncated detect window has not been
		// observed on the wire; wait rather than guess.
	}
}

func (r *Reassembler) dispatch(o Origin, connID int32, buf []byte) {
	scanner := bc.NewScanner(buf)
	for scanner.Next() {
		msg := scanner.Message()
		metrics.MessagesTotal.WithLabelValues("udp", msg.Header.Class()).Inc()
		if r.events.Message != nil {
			r.events.Message(o, connID, msg)
		}
	}
	if rest := scanner.Rest(); len(rest) > 0 {
		metrics.DecodeErrorsTotal.WithLabelValues("trailing-bytes").Inc()
		r.log.WithFields(map[string]interface{}{
			"conn":  connID,
			"bytes": len(rest),
		}).Debug("run carried undecodable trailing bytes")
	}
}

func (r *Reassembler) getRecord(key string) (*fragmentRecord, bool) {
	v, ok := r.store.Get(key)
	if !ok {
		return nil, false
	}
	return v.(*fragmentRecord), true
}

func fragmentKey(connID int32, seq uint32) string {
	return fmt.Sprintf("%d/%d", connID, seq)
}

func udpErrorReason(err error) string {
	switch {
	case errors.Is(err, bc.ErrNoMagic):
		return "udp-no-magic"
	case errors.Is(err, bc.ErrShortDatagram):
		return "udp-short"
	case errors.Is(err, bc.ErrUnknownUDPClass):
		return "udp-unknown-class"
	}
	return "udp-decode"
}
