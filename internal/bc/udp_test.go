package bc

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildDiscovery(tid, checksum uint32, payload []byte) []byte {
	b := make([]byte, 20+len(payload))
	binary.LittleEndian.PutUint32(b[0:4], udpMagic<<8|uint32(classDiscovery))
	binary.LittleEndian.PutUint32(b[4:8], uint32(len(payload)))
	binary.LittleEndian.PutUint32(b[12:16], tid)
	binary.LittleEndian.PutUint32(b[16:20], checksum)
	copy(b[20:], payload)
	return b
}

func buildAck(connID int32, group, lastAck uint32, payload []byte) []byte {
	b := make([]byte, 28+len(payload))
	binary.LittleEndian.PutUint32(b[0:4], udpMagic<<8|uint32(classAck))
	binary.LittleEndian.PutUint32(b[4:8], uint32(connID))
	binary.LittleEndian.PutUint32(b[12:16], group)
	binary.LittleEndian.PutUint32(b[16:20], lastAck)
	binary.LittleEndian.PutUint32(b[24:28], uint32(len(payload)))
	copy(b[28:], payload)
	return b
}

func buildData(connID int32, seq uint32, payload []byte) []byte {
	b := make([]byte, 20+len(payload))
	binary.LittleEndian.PutUint32(b[0:4], udpMagic<<8|uint32(classData))
	binary.LittleEndian.PutUint32(b[4:8], uint32(connID))
	binary.LittleEndian.PutUint32(b[12:16], seq)
	binary.LittleEndian.PutUint32(b[16:20], uint32(len(payload)))
	copy(b[20:], payload)
	return b
}

func TestDecodeUDPDiscovery(t *testing.T) {
	const tid = 0x88F2
	plaintext := []byte(xmlBody)
	ciphered := UDPCrypt(plaintext, tid)

	pkt, err := DecodeUDP(buildDiscovery(tid, 0xCAFEBABE, ciphered))
	require.NoError(t, err)
	d, ok := pkt.(*Discovery)
	require.True(t, ok, "packet type %T", pkt)

	assert.Equal(t, uint32(tid), d.TID)
	assert.Equal(t, uint32(0xCAFEBABE), d.Checksum)
	assert.Equal(t, ciphered, d.Payload, "payload must stay ciphered")
	assert.Equal(t, plaintext, UDPCrypt(d.Payload, d.TID))
}

func TestDecodeUDPAck(t *testing.T) {
	receipts := []byte{1, 0, 1, 1}

	pkt, err := DecodeUDP(buildAck(-3, 1000, 41, receipts))
	require.NoError(t, err)
	a, ok := pkt.(*Ack)
	require.True(t, ok, "packet type %T", pkt)

	assert.Equal(t, int32(-3), a.ConnectionID)
	assert.Equal(t, uint32(1000), a.Group)
	assert.Equal(t, uint32(41), a.LastAck)
	assert.Equal(t, receipts, a.Payload)
}

func TestDecodeUDPData(t *testing.T) {
	pkt, err := DecodeUDP(buildData(0x4F6B12, 7, []byte("fragment")))
	require.NoError(t, err)
	d, ok := pkt.(*Data)
	require.True(t, ok, "packet type %T", pkt)

	assert.Equal(t, int32(0x4F6B12), d.ConnectionID)
	assert.Equal(t, uint32(7), d.Seq)
	assert.Equal(t, []byte("fragment"), d.Payload)
}

func TestDecodeUDPClampsPayload(t *testing.T) {
	// Declared size smaller than the bytes on the wire wins.
	short := buildData(1, 1, []byte("ABCDEFGH"))
	binary.LittleEndian.PutUint32(short[16:20], 4)
	pkt, err := DecodeUDP(short)
	require.NoError(t, err)
	assert.Equal(t, []byte("ABCD"), pkt.(*Data).Payload)

	// Declared size past the datagram end yields what is actually there.
	long := buildData(1, 1, []byte("ABCDEFGH"))
	binary.LittleEndian.PutUint32(long[16:20], 100)
	pkt, err = DecodeUDP(long)
	require.NoError(t, err)
	assert.Equal(t, []byte("ABCDEFGH"), pkt.(*Data).Payload)
}

func TestDecodeUDPErrors(t *testing.T) {
	unknown := make([]byte, 4)
	binary.LittleEndian.PutUint32(unknown, udpMagic<<8|0x99)

	tests := []struct {
		name     string
		datagram []byte
		want     error
	}{
		{"empty", nil, ErrShortDatagram},
		{"three bytes", []byte{0x3A, 0xCF, 0x87}, ErrShortDatagram},
		{"wrong magic", []byte{0x3A, 0xAA, 0xBB, 0xCC}, ErrNoMagic},
		{"unknown class", unknown, ErrUnknownUDPClass},
		{"discovery header cut", buildDiscovery(1, 2, nil)[:19], ErrShortDatagram},
		{"ack header cut", buildAck(1, 2, 3, nil)[:27], ErrShortDatagram},
		{"data header cut", buildData(1, 2, nil)[:19], ErrShortDatagram},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkt, err := DecodeUDP(tt.datagram)
			assert.Nil(t, pkt)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDecodeUDPUnknownClassNamesIt(t *testing.T) {
	unknown := make([]byte, 4)
	binary.LittleEndian.PutUint32(unknown, udpMagic<<8|0x99)

	_, err := DecodeUDP(unknown)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0x99")
}

func TestDetectUDP(t *testing.T) {
	unknown := make([]byte, 4)
	binary.LittleEndian.PutUint32(unknown, udpMagic<<8|0x99)

	assert.True(t, DetectUDP(buildData(1, 0, nil)))
	// Detection is only about the magic; the class is judged by DecodeUDP.
	assert.True(t, DetectUDP(unknown))
	assert.False(t, DetectUDP([]byte{0x10, 0xCF, 0x87}))
	assert.False(t, DetectUDP([]byte{0x10, 0x00, 0x00, 0x00}))
}
