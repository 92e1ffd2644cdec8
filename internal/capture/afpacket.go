package capture

import (
	"context"
	"fmt"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"
)

// LiveOptions configures an AF_PACKET capture ring.
type LiveOptions struct {
	Device    string
	SnapLen   int
	BufferMB  int
	TimeoutMs int
	// FanoutID spreads one interface's traffic across processes sharing the
	// id; zero disables fanout.
	FanoutID uint16
	// Filter is a pcap filter expression compiled onto the socket.
	Filter string
}

// LiveSource captures packets from a network interface through an
// AF_PACKET v3 ring.
type LiveSource struct {
	opts      LiveOptions
	frameSize int
	blockSize int
	numBlocks int
	handle    *afpacket.TPacket
}

// NewLiveSource validates opts and sizes the ring; the socket opens on
// Start.
func NewLiveSource(opts LiveOptions) (*LiveSource, error) {
	if opts.Device == "" {
		return nil, fmt.Errorf("argus: live capture requires a device")
	}
	frameSize, blockSize, numBlocks, err := ringLayout(opts.BufferMB, opts.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, err
	}
	return &LiveSource{
		opts:      opts,
		frameSize: frameSize,
		blockSize: blockSize,
		numBlocks: numBlocks,
	}, nil
}

func (s *LiveSource) Start(ctx context.Context) error {
	handle, err := afpacket.NewTPacket(
		afpacket.OptInterface(s.opts.Device),
		afpacket.OptFrameSize(s.frameSize),
		afpacket.OptBlockSize(s.blockSize),
		afpacket.OptNumBlocks(s.numBlocks),
		afpacket.OptPollTimeout(s.opts.TimeoutMs),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return fmt.Errorf("argus: open af_packet on %s: %w", s.opts.Device, err)
	}

	if s.opts.FanoutID > 0 {
		if err := handle.SetFanout(afpacket.FanoutHashWithDefrag, s.opts.FanoutID); err != nil {
			handle.Close()
			return fmt.Errorf("argus: set fanout: %w", err)
		}
	}
	if s.opts.Filter != "" {
		raw, err := CompileFilter(s.opts.Filter, s.opts.SnapLen)
		if err != nil {
			handle.Close()
			return err
		}
		if err := handle.SetBPF(raw); err != nil {
			handle.Close()
			return fmt.Errorf("argus: set bpf: %w", err)
		}
	}

	s.handle = handle
	return nil
}

func (s *LiveSource) ReadPacket() ([]byte, gopacket.CaptureInfo, error) {
	return s.handle.ReadPacketData()
}

func (s *LiveSource) LinkType() layers.LinkType {
	return layers.LinkTypeEthernet
}

func (s *LiveSource) Stop() error {
	if s.handle != nil {
		s.handle.Close()
		s.handle = nil
	}
	return nil
}

// Stats reports ring counters since the last call.
func (s *LiveSource) Stats() (received, dropped uint64, err error) {
	if s.handle == nil {
		return 0, 0, fmt.Errorf("argus: live source not started")
	}
	_, v3, err := s.handle.SocketStats()
	if err != nil {
		return 0, 0, err
	}
	return uint64(v3.Packets()), uint64(v3.Drops()), nil
}

// ringLayout sizes the AF_PACKET ring. The kernel wants the block size
// divisible by both the page size and the frame size; power-of-two frames
// satisfy that trivially, and with TPACKET_V3 the frame size only caps a
// single packet while blocks pack packets tightly.
func ringLayout(bufferMB, snapLen, pageSize int) (frameSize, blockSize, numBlocks int, err error) {
	// TPACKET3_HDRLEN plus the packet data must fit one frame.
	const tpacketHdrLen = 52

	if bufferMB <= 0 {
		return 0, 0, 0, fmt.Errorf("argus: ring buffer must be positive, got %dMB", bufferMB)
	}
	if snapLen <= 0 {
		return 0, 0, 0, fmt.Errorf("argus: snap length must be positive, got %d", snapLen)
	}

	frameSize = pageSize
	for frameSize < tpacketHdrLen+snapLen {
		frameSize *= 2
	}

	const targetBlockSize = 1 << 20
	blockSize = frameSize
	if blockSize < targetBlockSize {
		blockSize = targetBlockSize
	}

	numBlocks = bufferMB * 1024 * 1024 / blockSize
	if numBlocks < 1 {
		numBlocks = 1
	}
	return frameSize, blockSize, numBlocks, nil
}
