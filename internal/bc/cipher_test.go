package bc

import (
	"bytes"
	"testing"
)

func TestXMLCryptKnownVectors(t *testing.T) {
	tests := []struct {
		name   string
		in     []byte
		offset uint8
		want   []byte
	}{
		{
			name:   "zero byte offset zero",
			in:     []byte{0x00},
			offset: 0,
			want:   []byte{0x1F},
		},
		{
			name:   "offset rotates key and mixes into output",
			in:     []byte{0xAB},
			offset: 1,
			want:   []byte{0x87},
		},
		{
			name:   "xml prolog offset zero",
			in:     []byte("<?xml"),
			offset: 0,
			want:   []byte{0x23, 0x12, 0x44, 0x26, 0x36},
		},
		{
			name:   "empty input",
			in:     []byte{},
			offset: 42,
			want:   []byte{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := XMLCrypt(tt.in, tt.offset)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("XMLCrypt() = % x, want % x", got, tt.want)
			}
		})
	}
}

func TestXMLCryptRoundTrip(t *testing.T) {
	// Lengths straddle the 8 byte key period, including odd tails.
	plain := []byte("<?xml version=\"1.0\" encoding=\"UTF-8\" ?><body><LoginUser version=\"1.1\"/></body>")

	for offset := 0; offset < 256; offset++ {
		for _, n := range []int{0, 1, 5, 7, 8, 9, 31, len(plain)} {
			in := plain[:n]
			enc := XMLCrypt(in, uint8(offset))
			dec := XMLCrypt(enc, uint8(offset))
			if !bytes.Equal(dec, in) {
				t.Fatalf("round trip broken at offset=%d len=%d", offset, n)
			}
		}
	}
}

func TestXMLCryptDoesNotMutateInput(t *testing.T) {
	in := []byte("<?xml")
	saved := append([]byte(nil), in...)
	XMLCrypt(in, 3)
	if !bytes.Equal(in, saved) {
		t.Errorf("input mutated: % x", in)
	}
}

func TestUDPCryptKnownVectors(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		tid  uint32
		want []byte
	}{
		{
			name: "two full key words tid zero",
			in:   make([]byte, 8),
			tid:  0,
			want: []byte{0x4B, 0x3C, 0x2D, 0x1F, 0xFF, 0x78, 0x69, 0x5A},
		},
		{
			name: "tid increments every key word",
			in:   make([]byte, 8),
			tid:  1,
			want: []byte{0x4C, 0x3C, 0x2D, 0x1F, 0x00, 0x79, 0x69, 0x5A},
		},
		{
			name: "partial trailing word stops at input length",
			in:   make([]byte, 5),
			tid:  0,
			want: []byte{0x4B, 0x3C, 0x2D, 0x1F, 0xFF},
		},
		{
			name: "tid addition wraps",
			in:   make([]byte, 1),
			tid:  0xFFFFFFFF,
			want: []byte{0x4A},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := UDPCrypt(tt.in, tt.tid)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("UDPCrypt() = % x, want % x", got, tt.want)
			}
		})
	}
}

func TestUDPCryptRoundTrip(t *testing.T) {
	payload := []byte("<P2P><C2D_T><sid>512</sid><conn>map</conn><cid>123</cid><mtu>1350</mtu></C2D_T></P2P>")

	for _, tid := range []uint32{0, 1, 0x88F2, 0xDEADBEEF, 0xFFFFFFFF} {
		for n := 0; n <= len(payload); n++ {
			in := payload[:n]
			if got := UDPCrypt(UDPCrypt(in, tid), tid); !bytes.Equal(got, in) {
				t.Fatalf("round trip broken at tid=%#x len=%d", tid, n)
			}
		}
	}
}
