package capture

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/tcpassembly"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	srcMAC = net.HardwareAddr{0x02, 0xab, 0x00, 0x00, 0x00, 0x01}
	dstMAC = net.HardwareAddr{0x02, 0xab, 0x00, 0x00, 0x00, 0x02}
	srcIP  = net.IP{10, 0, 0, 5}
	dstIP  = net.IP{10, 0, 0, 9}
)

// recordingStream captures everything the assembler delivers.
type recordingStream struct {
	chunks   [][]byte
	skips    []int
	complete bool
}

func (s *recordingStream) Reassembled(rs []tcpassembly.Reassembly) {
	for _, r := range rs {
		s.skips = append(s.skips, r.Skip)
		s.chunks = append(s.chunks, append([]byte(nil), r.Bytes...))
	}
}

func (s *recordingStream) ReassemblyComplete() { s.complete = true }

type recordingFactory struct {
	streams []*recordingStream
}

func (f *recordingFactory) New(net, transport gopacket.Flow) tcpassembly.Stream {
	s := &recordingStream{}
	f.streams = append(f.streams, s)
	return s
}

type udpEvent struct {
	net       gopacket.Flow
	transport gopacket.Flow
	datagram  []byte
}

func collectUDP(events *[]udpEvent) UDPHandler {
	return func(n, tr gopacket.Flow, seen time.Time, datagram []byte) {
		*events = append(*events, udpEvent{net: n, transport: tr, datagram: datagram})
	}
}

func serializeFrame(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ls...))
	return append([]byte(nil), buf.Bytes()...)
}

func udpPacket(t *testing.T, withEth bool, datagram []byte) []byte {
	t.Helper()
	ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: srcIP, DstIP: dstIP}
	udp := &layers.UDP{SrcPort: 31000, DstPort: 31001}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	if !withEth {
		return serializeFrame(t, ip, udp, gopacket.Payload(datagram))
	}
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	return serializeFrame(t, eth, ip, udp, gopacket.Payload(datagram))
}

func tcpPacket(t *testing.T, payload []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolTCP, SrcIP: srcIP, DstIP: dstIP}
	tcp := &layers.TCP{SrcPort: 9000, DstPort: 40000, Seq: 5000, ACK: true, PSH: true, Window: 65535}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
	return serializeFrame(t, eth, ip, tcp, gopacket.Payload(payload))
}

// ackBytes is the smallest self-describing Baichuan UDP datagram.
func ackBytes(connID int32, lastAck uint32) []byte {
	b := make([]byte, 28)
	binary.LittleEndian.PutUint32(b[0:4], 0x2A87CF20)
	binary.LittleEndian.PutUint32(b[4:8], uint32(connID))
	binary.LittleEndian.PutUint32(b[16:20], lastAck)
	return b
}

func TestDemuxRoutesBaichuanUDP(t *testing.T) {
	var events []udpEvent
	d := NewDemux(layers.LinkTypeEthernet, &recordingFactory{}, collectUDP(&events))

	ci := gopacket.CaptureInfo{Timestamp: time.Now()}
	require.NoError(t, d.HandlePacket(udpPacket(t, true, ackBytes(7, 12)), ci))

	require.Len(t, events, 1)
	assert.Equal(t, "10.0.0.5", events[0].net.Src().String())
	assert.Equal(t, "10.0.0.9", events[0].net.Dst().String())
	assert.Equal(t, "31000", events[0].transport.Src().String())
	assert.Equal(t, ackBytes(7, 12), events[0].datagram)
}

func TestDemuxSkipsForeignUDP(t *testing.T) {
	var events []udpEvent
	d := NewDemux(layers.LinkTypeEthernet, &recordingFactory{}, collectUDP(&events))

	ci := gopacket.CaptureInfo{Timestamp: time.Now()}
	require.NoError(t, d.HandlePacket(udpPacket(t, true, []byte("M-SEARCH * HTTP/1.1\r\n")), ci))
	require.NoError(t, d.HandlePacket(udpPacket(t, true, []byte{0x2A}), ci))

	assert.Empty(t, events)
}

func TestDemuxFeedsTCPAssembler(t *testing.T) {
	factory := &recordingFactory{}
	d := NewDemux(layers.LinkTypeEthernet, factory, collectUDP(&[]udpEvent{}))

	payload := []byte("0123456789abcdef0123")
	ci := gopacket.CaptureInfo{Timestamp: time.Now()}
	require.NoError(t, d.HandlePacket(tcpPacket(t, payload), ci))

	require.Len(t, factory.streams, 1)

	// Without a SYN the segment sits buffered until the flush on Close,
	// which delivers it with an unknown skip.
	d.Close()
	s := factory.streams[0]
	assert.True(t, s.complete)
	require.NotEmpty(t, s.skips)
	assert.Equal(t, -1, s.skips[0])

	var got []byte
	for _, c := range s.chunks {
		got = append(got, c...)
	}
	assert.Equal(t, payload, got)
}

func TestDemuxRawLinkType(t *testing.T) {
	var events []udpEvent
	d := NewDemux(layers.LinkTypeRaw, &recordingFactory{}, collectUDP(&events))

	ci := gopacket.CaptureInfo{Timestamp: time.Now()}
	require.NoError(t, d.HandlePacket(udpPacket(t, false, ackBytes(3, 9)), ci))

	require.Len(t, events, 1)
	assert.Equal(t, ackBytes(3, 9), events[0].datagram)
}

func TestDemuxIgnoresNonIPv4(t *testing.T) {
	var events []udpEvent
	factory := &recordingFactory{}
	d := NewDemux(layers.LinkTypeEthernet, factory, collectUDP(&events))

	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeARP}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   []byte(srcMAC),
		SourceProtAddress: srcIP.To4(),
		DstHwAddress:      []byte{0, 0, 0, 0, 0, 0},
		DstProtAddress:    dstIP.To4(),
	}
	frame := serializeFrame(t, eth, arp)

	ci := gopacket.CaptureInfo{Timestamp: time.Now()}
	require.NoError(t, d.HandlePacket(frame, ci))

	assert.Empty(t, events)
	assert.Empty(t, factory.streams)

	// Truncated garbage is a decode error, not a crash.
	assert.Error(t, d.HandlePacket([]byte{0x01, 0x02}, ci))
}
