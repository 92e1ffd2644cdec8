package bc

import "encoding/binary"

const (
	// Magic opens every TCP framed message.
	Magic uint32 = 0x0ABCDEF0

	// DetectLen is the shortest prefix DetectHeader can judge: through the
	// class tag at offset 18.
	DetectLen = 20
)

// Class tags. The tag at offset 18 selects the header layout; 0x6514 is the
// only tag whose body still uses the legacy fixed field scheme. 0x6614 keeps
// the short header but carries a modern body.
const (
	tagLegacy    uint16 = 0x6514
	tagModern    uint16 = 0x6614
	tagModernExt uint16 = 0x6414
	tagModernAlt uint16 = 0x0000 // extended header, newer firmwares
)

// Header is the fixed layout preamble of one TCP framed message.
//
// Wire layout (little endian):
//
//	offset  size  field
//	0       4     magic 0x0ABCDEF0
//	4       4     message type
//	8       4     body length
//	12      1     channel id (doubles as the XML cipher offset)
//	13      1     stream id (0 = HD, 1 = SD)
//	14      1     unknown
//	15      1     message handle
//	16      2     status code (24 byte layouts) / encrypt flag (20 byte layouts)
//	18      2     class tag
//	20      4     binary offset (24 byte layouts only, 0 = absent)
type Header struct {
	Magic       uint32
	MessageType uint32
	BodyLen     uint32
	ChannelID   uint8
	StreamID    uint8
	Unknown     uint8
	Handle      uint8
	ClassTag    uint16

	// StatusCode is carried by the 24 byte layouts only.
	StatusCode uint16
	// EncryptXML is the encryption flag byte of the 20 byte layouts. It is
	// advisory; section classification always probes the bytes themselves.
	EncryptXML bool
	// BinOffset is the start of the binary section within the body. Nil when
	// the layout has no offset field or the field is zero.
	BinOffset *uint32

	// Len is the encoded header length implied by ClassTag.
	Len int
}

// DetectHeader reports whether buf starts with a plausible message header
// and the header length implied by its class tag. It needs DetectLen bytes;
// shorter input is never a match, and neither is an unknown class tag.
func DetectHeader(buf []byte) (int, bool) {
	if len(buf) < DetectLen {
		return 0, false
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != Magic {
		return 0, false
	}
	switch binary.LittleEndian.Uint16(buf[18:20]) {
	case tagLegacy, tagModern:
		return 20, true
	case tagModernExt, tagModernAlt:
		return 24, true
	}
	return 0, false
}

// DecodeHeader decodes the header at the start of buf. The caller must have
// established via DetectHeader that buf holds the full header.
func DecodeHeader(buf []byte) Header {
	h := Header{
		Magic:       binary.LittleEndian.Uint32(buf[0:4]),
		MessageType: binary.LittleEndian.Uint32(buf[4:8]),
		BodyLen:     binary.LittleEndian.Uint32(buf[8:12]),
		ChannelID:   buf[12],
		StreamID:    buf[13],
		Unknown:     buf[14],
		Handle:      buf[15],
		ClassTag:    binary.LittleEndian.Uint16(buf[18:20]),
	}
	switch h.ClassTag {
	case tagLegacy, tagModern:
		h.Len = 20
		h.EncryptXML = buf[16] != 0
	default:
		h.Len = 24
		h.StatusCode = binary.LittleEndian.Uint16(buf[16:18])
		if off := binary.LittleEndian.Uint32(buf[20:24]); off != 0 {
			h.BinOffset = &off
		}
	}
	return h
}

// Legacy reports whether the body uses the legacy fixed field scheme.
func (h Header) Legacy() bool { return h.ClassTag == tagLegacy }

// Class returns the scheme label implied by the class tag.
func (h Header) Class() string {
	if h.Legacy() {
		return "legacy"
	}
	return "modern"
}

// Stream returns the label of the stream id.
func (h Header) Stream() string {
	switch h.StreamID {
	case 0:
		return "HD"
	case 1:
		return "SD"
	}
	return "unknown"
}

// TypeName returns the catalog name of the message type.
func (h Header) TypeName() string { return MessageTypeName(h.MessageType) }

// FrameLen returns header plus body length in bytes.
func (h Header) FrameLen() int { return h.Len + int(h.BodyLen) }
