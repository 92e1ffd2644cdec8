package pipeline

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/argus/internal/bc"
	"firestige.xyz/argus/internal/sink"
)

var testBase = time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)

// stubSource replays canned frames and then reports EOF, the shape of a
// file replay.
type stubSource struct {
	frames [][]byte
	idx    int
}

func (s *stubSource) Start(ctx context.Context) error { return nil }

func (s *stubSource) ReadPacket() ([]byte, gopacket.CaptureInfo, error) {
	if s.idx >= len(s.frames) {
		return nil, gopacket.CaptureInfo{}, io.EOF
	}
	data := s.frames[s.idx]
	s.idx++
	ci := gopacket.CaptureInfo{
		Timestamp:     testBase.Add(time.Duration(s.idx) * time.Millisecond),
		CaptureLength: len(data),
		Length:        len(data),
	}
	return data, ci, nil
}

func (s *stubSource) LinkType() layers.LinkType { return layers.LinkTypeEthernet }
func (s *stubSource) Stop() error               { return nil }

// memSink collects emitted records. Emit runs on the decode goroutine and
// assertions happen after Run returns; the lock covers the hand-off.
type memSink struct {
	mu      sync.Mutex
	records []*sink.Record
	started bool
	flushed bool
	stopped bool
}

func (m *memSink) Name() string { return "mem" }

func (m *memSink) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = true
	return nil
}

func (m *memSink) Emit(rec *sink.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memSink) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushed = true
	return nil
}

func (m *memSink) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	return nil
}

func (m *memSink) byKind(kind string) []*sink.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*sink.Record
	for _, rec := range m.records {
		if rec.Kind == kind {
			out = append(out, rec)
		}
	}
	return out
}

// bcFrame builds one whole framed message with a 20 byte 0x6614 header.
func bcFrame(msgType uint32, body []byte) []byte {
	b := make([]byte, 20+len(body))
	binary.LittleEndian.PutUint32(b[0:4], bc.Magic)
	binary.LittleEndian.PutUint32(b[4:8], msgType)
	binary.LittleEndian.PutUint32(b[8:12], uint32(len(body)))
	binary.LittleEndian.PutUint16(b[18:20], 0x6614)
	copy(b[20:], body)
	return b
}

func bcDiscoveryDatagram(tid uint32, plain []byte) []byte {
	payload := bc.UDPCrypt(plain, tid)
	b := make([]byte, 20+len(payload))
	binary.LittleEndian.PutUint32(b[0:4], 0x2A87CF3A)
	binary.LittleEndian.PutUint32(b[4:8], uint32(len(payload)))
	binary.LittleEndian.PutUint32(b[12:16], tid)
	copy(b[20:], payload)
	return b
}

func bcAckDatagram(connID int32, lastAck uint32) []byte {
	b := make([]byte, 28)
	binary.LittleEndian.PutUint32(b[0:4], 0x2A87CF20)
	binary.LittleEndian.PutUint32(b[4:8], uint32(connID))
	binary.LittleEndian.PutUint32(b[16:20], lastAck)
	return b
}

func bcDataDatagram(connID int32, seq uint32, payload []byte) []byte {
	b := make([]byte, 20+len(payload))
	binary.LittleEndian.PutUint32(b[0:4], 0x2A87CF10)
	binary.LittleEndian.PutUint32(b[4:8], uint32(connID))
	binary.LittleEndian.PutUint32(b[12:16], seq)
	binary.LittleEndian.PutUint32(b[16:20], uint32(len(payload)))
	copy(b[20:], payload)
	return b
}

var (
	camMAC    = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	clientMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
	camIP     = net.IP{192, 168, 1, 10}
	clientIP  = net.IP{192, 168, 1, 20}
)

func serialize(t *testing.T, ip *layers.IPv4, transport gopacket.SerializableLayer, payload []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: camMAC, DstMAC: clientMAC, EthernetType: layers.EthernetTypeIPv4}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	err := gopacket.SerializeLayers(buf, opts, eth, ip, transport, gopacket.Payload(payload))
	require.NoError(t, err)
	return append([]byte(nil), buf.Bytes()...)
}

func udpFrame(t *testing.T, srcPort, dstPort uint16, datagram []byte) []byte {
	ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: camIP, DstIP: clientIP}
	udp := &layers.UDP{SrcPort: layers.UDPPort(srcPort), DstPort: layers.UDPPort(dstPort)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	return serialize(t, ip, udp, datagram)
}

func tcpFrame(t *testing.T, seq uint32, syn bool, payload []byte) []byte {
	ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolTCP, SrcIP: camIP, DstIP: clientIP}
	tcp := &layers.TCP{
		SrcPort: 9000,
		DstPort: 40000,
		Seq:     seq,
		SYN:     syn,
		ACK:     !syn,
		PSH:     len(payload) > 0,
		Window:  65535,
	}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
	return serialize(t, ip, tcp, payload)
}

func runPipeline(t *testing.T, frames [][]byte) (*memSink, Stats) {
	t.Helper()
	out := &memSink{}
	p, err := New(Config{
		Name:   "test",
		Source: &stubSource{frames: frames},
		Sinks:  []sink.Sink{out},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Run(ctx))
	return out, p.Stats()
}

func TestNewRequiresSourceAndSink(t *testing.T) {
	_, err := New(Config{Sinks: []sink.Sink{&memSink{}}})
	assert.Error(t, err)

	_, err = New(Config{Source: &stubSource{}})
	assert.Error(t, err)
}

func TestRunDecodesUDPTraffic(t *testing.T) {
	plain := []byte(`<?xml version="1.0" encoding="UTF-8" ?><P2P><C2D_C><uid>CAM0123</uid></C2D_C></P2P>`)
	frames := [][]byte{
		udpFrame(t, 2015, 2015, bcDiscoveryDatagram(0x88F2, plain)),
		udpFrame(t, 31000, 31001, bcDataDatagram(7, 0, bcFrame(93, nil))),
		udpFrame(t, 31000, 31001, bcAckDatagram(7, 0)),
	}

	out, stats := runPipeline(t, frames)

	disc := out.byKind(sink.KindDiscovery)
	require.Len(t, disc, 1)
	assert.Equal(t, "udp", disc[0].Transport)
	assert.Equal(t, "192.168.1.10:2015", disc[0].Src)
	assert.Equal(t, "192.168.1.20:2015", disc[0].Dst)
	assert.Equal(t, uint32(0x88F2), disc[0].Discovery.TID)
	require.NotNil(t, disc[0].Discovery.Body)
	assert.Equal(t, "xml", disc[0].Discovery.Body.Kind)
	assert.Equal(t, "C2D_C", disc[0].Discovery.Body.XMLRoot)

	msgs := out.byKind(sink.KindMessage)
	require.Len(t, msgs, 1)
	assert.Equal(t, "ping", msgs[0].Message.TypeName)
	assert.Equal(t, int32(7), msgs[0].Message.ConnID)

	acks := out.byKind(sink.KindAck)
	require.Len(t, acks, 1)
	assert.Equal(t, int32(7), acks[0].Ack.ConnID)

	assert.Equal(t, uint64(3), stats.Packets)
	assert.Equal(t, uint64(1), stats.UDPMessages)
	assert.Equal(t, uint64(1), stats.Discoveries)
	assert.Equal(t, uint64(1), stats.Acks)
}

func TestRunDecodesTCPStream(t *testing.T) {
	frame := bcFrame(1, []byte(`<?xml version="1.0" encoding="UTF-8" ?><body><LoginUser/></body>`))
	// The SYN pins the sequence base so the assembler delivers the two
	// data segments in order.
	frames := [][]byte{
		tcpFrame(t, 1000, true, nil),
		tcpFrame(t, 1001, false, frame[:30]),
		tcpFrame(t, 1031, false, frame[30:]),
	}

	out, stats := runPipeline(t, frames)

	msgs := out.byKind(sink.KindMessage)
	require.Len(t, msgs, 1)
	assert.Equal(t, "tcp", msgs[0].Transport)
	assert.Equal(t, "192.168.1.10:9000", msgs[0].Src)
	assert.Equal(t, "192.168.1.20:40000", msgs[0].Dst)
	assert.Equal(t, "login", msgs[0].Message.TypeName)
	require.NotNil(t, msgs[0].Message.Meta)
	assert.Equal(t, "xml", msgs[0].Message.Meta.Kind)

	assert.Equal(t, uint64(1), stats.TCPMessages)
	counts := stats.TypeCounts()
	require.Len(t, counts, 1)
	assert.Equal(t, "login", counts[0].Name)
	assert.Equal(t, uint64(1), counts[0].Count)
}

func TestRunIgnoresForeignTraffic(t *testing.T) {
	frames := [][]byte{
		// DNS sized noise without the transport magic.
		udpFrame(t, 5353, 5353, []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07}),
	}

	out, stats := runPipeline(t, frames)

	out.mu.Lock()
	defer out.mu.Unlock()
	assert.Empty(t, out.records)
	assert.Equal(t, uint64(1), stats.Packets)
	assert.Zero(t, stats.Messages())
}

func TestRunManagesSinkLifecycle(t *testing.T) {
	out, _ := runPipeline(t, nil)

	out.mu.Lock()
	defer out.mu.Unlock()
	assert.True(t, out.started, "sink never started")
	assert.True(t, out.flushed, "sink never flushed")
	assert.True(t, out.stopped, "sink never stopped")
}

func TestRunStopsOnContextCancel(t *testing.T) {
	out := &memSink{}
	p, err := New(Config{
		Name: "test",
		// idleSource never reports EOF, the live capture shape.
		Source: &idleSource{},
		Sinks:  []sink.Sink{out},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// idleSource parks every read briefly and returns a retriable error, like
// an idle AF_PACKET ring hitting its poll timeout.
type idleSource struct{}

func (s *idleSource) Start(ctx context.Context) error { return nil }

func (s *idleSource) ReadPacket() ([]byte, gopacket.CaptureInfo, error) {
	time.Sleep(5 * time.Millisecond)
	return nil, gopacket.CaptureInfo{}, errTimeout
}

func (s *idleSource) LinkType() layers.LinkType { return layers.LinkTypeEthernet }
func (s *idleSource) Stop() error               { return nil }

type timeoutError struct{}

func (timeoutError) Error() string { return "poll timeout" }

var errTimeout = timeoutError{}
