// Package pipeline wires a capture source, the protocol decode stages and
// the configured sinks into one run. One goroutine reads packets off the
// source, one decodes and emits; all stream and fragment state belongs to
// the decode goroutine, so the protocol layer needs no locking.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/gopacket"

	"firestige.xyz/argus/internal/assembly"
	"firestige.xyz/argus/internal/bc"
	"firestige.xyz/argus/internal/capture"
	"firestige.xyz/argus/internal/log"
	"firestige.xyz/argus/internal/metrics"
	"firestige.xyz/argus/internal/sink"
)

const (
	defaultQueueSize     = 4096
	defaultFlushInterval = 30 * time.Second
)

// Config assembles one pipeline run.
type Config struct {
	// Name labels the run in logs and metrics, "live" or "file".
	Name   string
	Source capture.Source
	Sinks  []sink.Sink

	// QueueSize bounds the raw packet channel between the capture and
	// decode goroutines.
	QueueSize int

	// Fragment store bounds, handed to the datagram reassembler.
	FragmentTTL     time.Duration
	FragmentCleanup time.Duration

	// KeepPayload carries decoded section plaintext into sink records.
	KeepPayload bool

	// FlushInterval is how often idle TCP connections are closed out
	// during live capture. Zero picks the default.
	FlushInterval time.Duration
}

type rawPacket struct {
	data []byte
	ci   gopacket.CaptureInfo
}

// Pipeline is one capture-decode-emit run.
type Pipeline struct {
	cfg   Config
	log   log.Logger
	stats Stats
}

// New validates cfg and builds the pipeline. The source must not be
// started yet; Run owns its lifecycle.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("argus: pipeline requires a capture source")
	}
	if len(cfg.Sinks) == 0 {
		return nil, fmt.Errorf("argus: pipeline requires at least one sink")
	}
	if cfg.Name == "" {
		cfg.Name = "capture"
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	return &Pipeline{
		cfg:   cfg,
		log:   log.GetLogger().WithField("pipeline", cfg.Name),
		stats: newStats(),
	}, nil
}

// Run captures and decodes until ctx is cancelled or the source reports
// EOF, then flushes whatever the assemblers still hold and stops the
// sinks. It blocks for the whole run.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.startSinks(ctx); err != nil {
		return err
	}

	if err := p.cfg.Source.Start(ctx); err != nil {
		p.stopSinks()
		return err
	}

	reassembler := assembly.NewReassembler(assembly.Events{
		Message:   p.onUDPMessage,
		Discovery: p.onDiscovery,
		Ack:       p.onAck,
	}, assembly.Options{
		TTL:     p.cfg.FragmentTTL,
		Cleanup: p.cfg.FragmentCleanup,
	})

	demux := capture.NewDemux(
		p.cfg.Source.LinkType(),
		assembly.NewStreamFactory(p.onTCPMessage),
		func(net, transport gopacket.Flow, seen time.Time, datagram []byte) {
			reassembler.Handle(assembly.Origin{Net: net, Transport: transport, Seen: seen}, datagram)
		},
	)

	queue := make(chan rawPacket, p.cfg.QueueSize)
	captureCtx, stopCapture := context.WithCancel(ctx)
	defer stopCapture()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(queue)
		p.captureLoop(captureCtx, queue)
	}()

	p.log.Info("pipeline started")
	p.decodeLoop(ctx, queue, demux)

	// Tear down back to front: stop the reader, discard what it had in
	// flight, close out the stream assemblers (which can still emit), then
	// flush the sinks.
	stopCapture()
	dropped := 0
	for range queue {
		dropped++
	}
	wg.Wait()
	if dropped > 0 {
		metrics.CaptureDropsTotal.WithLabelValues(p.cfg.Name, "shutdown").Add(float64(dropped))
	}
	if err := p.cfg.Source.Stop(); err != nil {
		p.log.WithError(err).Warn("capture source stop failed")
	}

	demux.Close()
	p.stopSinks()

	p.log.WithFields(map[string]interface{}{
		"packets":  p.stats.Packets,
		"messages": p.stats.TCPMessages + p.stats.UDPMessages,
		"pending":  reassembler.Pending(),
	}).Info("pipeline stopped")
	return nil
}

// Stats returns the run counters. Call it after Run has returned; the
// decode goroutine owns the counters while the pipeline is live.
func (p *Pipeline) Stats() Stats { return p.stats }

// captureLoop pulls packets off the source into the queue until the
// source is exhausted or ctx is cancelled.
func (p *Pipeline) captureLoop(ctx context.Context, queue chan<- rawPacket) {
	for {
		if ctx.Err() != nil {
			return
		}
		data, ci, err := p.cfg.Source.ReadPacket()
		if err != nil {
			if errors.Is(err, io.EOF) {
				p.log.Debug("capture source exhausted")
				return
			}
			if ctx.Err() != nil {
				return
			}
			// Poll timeouts and transient ring errors land here; the next
			// read usually succeeds.
			continue
		}

		// The ring reuses its buffers once ReadPacket returns again, so the
		// queue needs a stable copy.
		stable := make([]byte, len(data))
		copy(stable, data)

		select {
		case queue <- rawPacket{data: stable, ci: ci}:
			metrics.CapturePacketsTotal.WithLabelValues(p.cfg.Name).Inc()
		case <-ctx.Done():
			return
		}
	}
}

// decodeLoop drains the queue through the demultiplexer and periodically
// closes out idle TCP connections; on long captures connections vanish
// without FINs and would otherwise pin their buffers forever.
func (p *Pipeline) decodeLoop(ctx context.Context, queue <-chan rawPacket, demux *capture.Demux) {
	flush := time.NewTicker(p.cfg.FlushInterval)
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-queue:
			if !ok {
				return
			}
			p.stats.Packets++
			if err := demux.HandlePacket(pkt.data, pkt.ci); err != nil {
				p.stats.LayerErrors++
				metrics.DecodeErrorsTotal.WithLabelValues("layer-decode").Inc()
				if p.log.IsDebugEnabled() {
					p.log.WithError(err).Debug("packet layer decode failed")
				}
			}
		case <-flush.C:
			demux.FlushOlderThan(time.Now().Add(-2 * p.cfg.FlushInterval))
		}
	}
}

func (p *Pipeline) onTCPMessage(net, transport gopacket.Flow, seen time.Time, msg bc.Message) {
	p.stats.TCPMessages++
	p.stats.countType(msg.Header.MessageType)
	p.emit(&sink.Record{
		Timestamp: seen,
		Transport: "tcp",
		Src:       endpoint(net.Src(), transport.Src()),
		Dst:       endpoint(net.Dst(), transport.Dst()),
		Kind:      sink.KindMessage,
		Message:   sink.NewMessageRecord(msg, p.cfg.KeepPayload),
	})
}

func (p *Pipeline) onUDPMessage(o assembly.Origin, connID int32, msg bc.Message) {
	p.stats.UDPMessages++
	p.stats.countType(msg.Header.MessageType)
	rec := sink.NewMessageRecord(msg, p.cfg.KeepPayload)
	rec.ConnID = connID
	p.emit(&sink.Record{
		Timestamp: o.Seen,
		Transport: "udp",
		Src:       endpoint(o.Net.Src(), o.Transport.Src()),
		Dst:       endpoint(o.Net.Dst(), o.Transport.Dst()),
		Kind:      sink.KindMessage,
		Message:   rec,
	})
}

func (p *Pipeline) onDiscovery(o assembly.Origin, pkt *bc.Discovery, plain []byte) {
	p.stats.Discoveries++
	p.emit(&sink.Record{
		Timestamp: o.Seen,
		Transport: "udp",
		Src:       endpoint(o.Net.Src(), o.Transport.Src()),
		Dst:       endpoint(o.Net.Dst(), o.Transport.Dst()),
		Kind:      sink.KindDiscovery,
		Discovery: &sink.DiscoveryRecord{
			TID:      pkt.TID,
			Checksum: pkt.Checksum,
			Body:     sink.NewSectionRecord(bc.PlainSection(plain), p.cfg.KeepPayload),
		},
	})
}

func (p *Pipeline) onAck(o assembly.Origin, pkt *bc.Ack) {
	p.stats.Acks++
	p.emit(&sink.Record{
		Timestamp: o.Seen,
		Transport: "udp",
		Src:       endpoint(o.Net.Src(), o.Transport.Src()),
		Dst:       endpoint(o.Net.Dst(), o.Transport.Dst()),
		Kind:      sink.KindAck,
		Ack: &sink.AckRecord{
			ConnID:  pkt.ConnectionID,
			Group:   pkt.Group,
			LastAck: pkt.LastAck,
		},
	})
}

func (p *Pipeline) emit(rec *sink.Record) {
	for _, s := range p.cfg.Sinks {
		if err := s.Emit(rec); err != nil {
			metrics.SinkErrorsTotal.WithLabelValues(s.Name()).Inc()
			p.log.WithError(err).WithField("sink", s.Name()).Warn("record emit failed")
			continue
		}
		metrics.SinkEmittedTotal.WithLabelValues(s.Name()).Inc()
	}
}

func (p *Pipeline) startSinks(ctx context.Context) error {
	for i, s := range p.cfg.Sinks {
		if err := s.Start(ctx); err != nil {
			for _, started := range p.cfg.Sinks[:i] {
				started.Stop()
			}
			return fmt.Errorf("argus: start sink %s: %w", s.Name(), err)
		}
	}
	return nil
}

func (p *Pipeline) stopSinks() {
	for _, s := range p.cfg.Sinks {
		if err := s.Flush(); err != nil {
			p.log.WithError(err).WithField("sink", s.Name()).Warn("sink flush failed")
		}
		if err := s.Stop(); err != nil {
			p.log.WithError(err).WithField("sink", s.Name()).Warn("sink stop failed")
		}
	}
}

func endpoint(host, port gopacket.Endpoint) string {
	return host.String() + ":" + port.String()
}
