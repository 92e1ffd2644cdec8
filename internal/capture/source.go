// Package capture pulls raw packets from a live interface or a pcap file
// and demultiplexes them into the protocol decode path.
package capture

import (
	"context"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Source is one packet provider. ReadPacket returns packets in capture
// order until io.EOF (file replay) or Stop.
type Source interface {
	Start(ctx context.Context) error
	ReadPacket() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
	Stop() error
}
