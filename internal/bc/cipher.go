package bc

// Shared key material. Every firmware generation uses the same tables: the
// byte table drives the XML section cipher, the word table is the byte key
// split in half and byte rotated, used by the UDP transport cipher.
var (
	xmlKey = [8]byte{0x1F, 0x2D, 0x3C, 0x4B, 0x5A, 0x69, 0x78, 0xFF}

	udpKey = [8]uint32{
		0x1F2D3C4B, 0x5A6978FF, 0x2D3C4B1F, 0x6978FF5A,
		0x3C4B1F2D, 0x78FF5A69, 0x4B1F2D3C, 0xFF5A6978,
	}
)

// xmlProlog is the probe string used to recognize XML sections.
var xmlProlog = []byte("<?xml")

// XMLCrypt applies the byte level XOR cipher used for XML body sections.
// offset is the channel id of the enclosing message; it both rotates the
// key table and mixes into every output byte. The cipher is its own
// inverse, the same call encrypts and decrypts.
func XMLCrypt(data []byte, offset uint8) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ xmlKey[(i+int(offset))%len(xmlKey)] ^ offset
	}
	return out
}

// UDPCrypt applies the word level XOR cipher used for discovery payloads.
// tid is the transmission id from the datagram header; each key word is
// incremented by it before use. Data byte i XORs against byte i%4 of the
// little endian key word (i/4)%8, so output length always equals input
// length even when the tail is a partial word. Self inverse.
func UDPCrypt(data []byte, tid uint32) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		word := udpKey[(i/4)%len(udpKey)] + tid
		out[i] = b ^ byte(word>>(8*(i%4)))
	}
	return out
}
