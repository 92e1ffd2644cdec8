package capture

import (
	"context"
	"fmt"
	"io"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

// FileSource replays packets from a pcap capture file.
type FileSource struct {
	path   string
	filter string
	handle *pcap.Handle
}

// NewFileSource builds a replay source for path. filter is an optional BPF
// expression applied while reading.
func NewFileSource(path, filter string) *FileSource {
	return &FileSource{path: path, filter: filter}
}

func (s *FileSource) Start(ctx context.Context) error {
	handle, err := pcap.OpenOffline(s.path)
	if err != nil {
		return fmt.Errorf("argus: open pcap file %s: %w", s.path, err)
	}
	if s.filter != "" {
		if err := handle.SetBPFFilter(s.filter); err != nil {
			handle.Close()
			return fmt.Errorf("argus: set bpf filter: %w", err)
		}
	}
	s.handle = handle
	return nil
}

func (s *FileSource) ReadPacket() ([]byte, gopacket.CaptureInfo, error) {
	if s.handle == nil {
		return nil, gopacket.CaptureInfo{}, fmt.Errorf("argus: file source not started")
	}
	data, ci, err := s.handle.ReadPacketData()
	if err != nil {
		if err == io.EOF {
			return nil, gopacket.CaptureInfo{}, io.EOF
		}
		return nil, gopacket.CaptureInfo{}, fmt.Errorf("argus: read packet: %w", err)
	}
	return data, ci, nil
}

func (s *FileSource) LinkType() layers.LinkType {
	if s.handle == nil {
		return layers.LinkTypeEthernet
	}
	return s.handle.LinkType()
}

func (s *FileSource) Stop() error {
	if s.handle != nil {
		s.handle.Close()
		s.handle = nil
	}
	return nil
}
