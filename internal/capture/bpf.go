package capture

import (
	"fmt"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"
)

// CompileFilter compiles a pcap filter expression into raw BPF instructions
// suitable for an AF_PACKET socket.
func CompileFilter(filter string, snapLen int) ([]bpf.RawInstruction, error) {
	pcapBPF, err := pcap.CompileBPFFilter(layers.LinkTypeEthernet, snapLen, filter)
	if err != nil {
		return nil, fmt.Errorf("argus: compile bpf filter: %w", err)
	}
	raw := make([]bpf.RawInstruction, len(pcapBPF))
	for i, ins := range pcapBPF {
		raw[i] = bpf.RawInstruction{Op: ins.Code, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	return raw, nil
}
