// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CapturePacketsTotal counts packets pulled off the capture source.
	CapturePacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_capture_packets_total",
			Help: "Total number of packets captured",
		},
		[]string{"source"},
	)

	// CaptureDropsTotal counts packets dropped before decoding.
	CaptureDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_capture_drops_total",
			Help: "Total number of packets dropped during capture",
		},
		[]string{"source", "stage"},
	)

	// MessagesTotal counts fully decoded protocol messages.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_messages_total",
			Help: "Total number of decoded messages",
		},
		[]string{"transport", "class"},
	)

	// UDPDatagramsTotal counts transport datagrams by class.
	UDPDatagramsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_udp_datagrams_total",
			Help: "Total number of transport datagrams seen per class",
		},
		[]string{"class"},
	)

	// DecodeErrorsTotal counts framing and decode failures.
	DecodeErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_decode_errors_total",
			Help: "Total number of decode failures",
		},
		[]string{"reason"},
	)

	// FragmentsActive tracks datagram fragments waiting for reassembly.
	FragmentsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "argus_fragments_active",
			Help: "Number of datagram fragments held for reassembly",
		},
	)

	// PoisonedStreamsTotal counts stream directions abandoned after losing
	// the frame boundary.
	PoisonedStreamsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_poisoned_streams_total",
			Help: "Total number of stream directions abandoned after a framing error",
		},
	)

	// SinkEmittedTotal counts records handed to each sink.
	SinkEmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_sink_emitted_total",
			Help: "Total number of records emitted per sink",
		},
		[]string{"sink"},
	)

	// SinkErrorsTotal counts emit failures per sink.
	SinkErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_sink_errors_total",
			Help: "Total number of sink errors",
		},
		[]string{"sink"},
	)
)
