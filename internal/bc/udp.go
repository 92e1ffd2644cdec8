package bc

import (
	"encoding/binary"
	"fmt"
)

// udpMagic occupies the high three bytes of the first header word; the low
// byte is the datagram class.
const udpMagic = 0x2A87CF

// UDP datagram classes.
const (
	classDiscovery uint8 = 0x3A
	classAck       uint8 = 0x20
	classData      uint8 = 0x10
)

// A UDPPacket is one decoded datagram. The concrete types are Discovery,
// Ack and Data.
type UDPPacket interface {
	isUDPPacket()
}

// Discovery is a class 0x3a datagram: camera discovery, connection setup
// and keepalive exchanges. Payload is still ciphered; UDPCrypt with TID
// recovers the plaintext.
type Discovery struct {
	TID      uint32
	Checksum uint32
	Payload  []byte
}

// Ack is a class 0x20 datagram acknowledging received data sequences. The
// payload after the header is a per sequence receipt map for everything
// past LastAck.
type Ack struct {
	ConnectionID int32
	Group        uint32
	LastAck      uint32
	Payload      []byte
}

// Data is a class 0x10 datagram carrying one fragment of the framed stream
// for a connection. Seq orders fragments; payload boundaries are arbitrary
// byte splits with no relation to message boundaries.
type Data struct {
	ConnectionID int32
	Seq          uint32
	Payload      []byte
}

func (*Discovery) isUDPPacket() {}
func (*Ack) isUDPPacket()       {}
func (*Data) isUDPPacket()      {}

// DecodeUDP decodes one datagram.
//
// Class layouts (little endian):
//
//	0x3a discovery, 20 byte header:
//	    0   u32  magic | class
//	    4   u32  payload size
//	    8   u32  unknown
//	    12  u32  tid
//	    16  u32  checksum
//	0x20 ack, 28 byte header:
//	    0   u32  magic | class
//	    4   i32  connection id
//	    8   u32  unknown
//	    12  u32  group
//	    16  u32  last acked sequence
//	    20  u32  unknown
//	    24  u32  payload size
//	0x10 data, 20 byte header:
//	    0   u32  magic | class
//	    4   i32  connection id
//	    8   u32  unknown
//	    12  u32  sequence
//	    16  u32  payload size
//
// Datagrams without the magic are not Baichuan traffic and come back as
// ErrNoMagic; a known magic with an unrecognized class byte reports
// ErrUnknownUDPClass. Truncated payloads are clamped, never an error.
func DecodeUDP(datagram []byte) (UDPPacket, error) {
	if len(datagram) < 4 {
		return nil, ErrShortDatagram
	}
	first := binary.LittleEndian.Uint32(datagram[0:4])
	if first>>8 != udpMagic {
		return nil, ErrNoMagic
	}

	switch uint8(first) {
	case classDiscovery:
		if len(datagram) < 20 {
			return nil, ErrShortDatagram
		}
		return &Discovery{
			TID:      binary.LittleEndian.Uint32(datagram[12:16]),
			Checksum: binary.LittleEndian.Uint32(datagram[16:20]),
			Payload:  clamp(datagram[20:], binary.LittleEndian.Uint32(datagram[4:8])),
		}, nil

	case classAck:
		if len(datagram) < 28 {
			return nil, ErrShortDatagram
		}
		return &Ack{
			ConnectionID: int32(binary.LittleEndian.Uint32(datagram[4:8])),
			Group:        binary.LittleEndian.Uint32(datagram[12:16]),
			LastAck:      binary.LittleEndian.Uint32(datagram[16:20]),
			Payload:      clamp(datagram[28:], binary.LittleEndian.Uint32(datagram[24:28])),
		}, nil

	case classData:
		if len(datagram) < 20 {
			return nil, ErrShortDatagram
		}
		return &Data{
			ConnectionID: int32(binary.LittleEndian.Uint32(datagram[4:8])),
			Seq:          binary.LittleEndian.Uint32(datagram[12:16]),
			Payload:      clamp(datagram[20:], binary.LittleEndian.Uint32(datagram[16:20])),
		}, nil
	}

	return nil, fmt.Errorf("%w 0x%02x", ErrUnknownUDPClass, uint8(first))
}

// DetectUDP reports whether a datagram carries the transport magic. Cheap
// pre filter for captures that see mixed UDP traffic.
func DetectUDP(datagram []byte) bool {
	return len(datagram) >= 4 &&
		binary.LittleEndian.Uint32(datagram[0:4])>>8 == udpMagic
}

// clamp trims a declared payload size to the bytes actually present.
func clamp(rest []byte, size uint32) []byte {
	if uint32(len(rest)) > size {
		return rest[:size]
	}
	return rest
}
