package capture

import (
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/tcpassembly"

	"firestige.xyz/argus/internal/bc"
)

// UDPHandler receives Baichuan datagrams off the wire. Non-Baichuan UDP
// traffic never reaches it.
type UDPHandler func(net, transport gopacket.Flow, seen time.Time, datagram []byte)

// Demux splits captured packets between the TCP reassembler and the UDP
// handler. It is not safe for concurrent use; run it from a single decode
// goroutine.
type Demux struct {
	parser  *gopacket.DecodingLayerParser
	eth     layers.Ethernet
	ip4     layers.IPv4
	tcp     layers.TCP
	udp     layers.UDP
	payload gopacket.Payload
	decoded []gopacket.LayerType

	assembler  *tcpassembly.Assembler
	udpHandler UDPHandler
}

func NewDemux(linkType layers.LinkType, factory tcpassembly.StreamFactory, udpHandler UDPHandler) *Demux {
	d := &Demux{
		assembler:  tcpassembly.NewAssembler(tcpassembly.NewStreamPool(factory)),
		udpHandler: udpHandler,
	}

	first := layers.LayerTypeEthernet
	if linkType == layers.LinkTypeRaw || linkType == layers.LinkTypeIPv4 {
		first = layers.LayerTypeIPv4
	}
	d.parser = gopacket.NewDecodingLayerParser(first,
		&d.eth, &d.ip4, &d.tcp, &d.udp, &d.payload)
	d.parser.IgnoreUnsupported = true
	return d
}

// HandlePacket decodes one captured frame and routes its payload. Frames
// that are not IPv4 TCP or UDP are ignored.
func (d *Demux) HandlePacket(data []byte, ci gopacket.CaptureInfo) error {
	if err := d.parser.DecodeLayers(data, &d.decoded); err != nil {
		return err
	}

	haveIP4 := false
	for _, t := range d.decoded {
		switch t {
		case layers.LayerTypeIPv4:
			haveIP4 = true
		case layers.LayerTypeTCP:
			if haveIP4 {
				d.assembler.AssembleWithTimestamp(d.ip4.NetworkFlow(), &d.tcp, ci.Timestamp)
			}
		case layers.LayerTypeUDP:
			if haveIP4 && bc.DetectUDP(d.udp.Payload) {
				datagram := make([]byte, len(d.udp.Payload))
				copy(datagram, d.udp.Payload)
				d.udpHandler(d.ip4.NetworkFlow(), d.udp.TransportFlow(), ci.Timestamp, datagram)
			}
		}
	}
	return nil
}

// FlushOlderThan closes out TCP connections idle since t, surfacing any
// partially buffered streams.
func (d *Demux) FlushOlderThan(t time.Time) {
	d.assembler.FlushOlderThan(t)
}

// Close flushes every tracked TCP connection.
func (d *Demux) Close() {
	d.assembler.FlushAll()
}
