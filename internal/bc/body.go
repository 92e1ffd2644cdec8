package bc

import "bytes"

// legacyLoginLen is the combined size of the two credential fields at the
// front of a legacy login body.
const legacyLoginLen = 64

// SectionKind classifies one body section after the cipher probe.
type SectionKind int

const (
	SectionOpaque SectionKind = iota
	SectionXML
	SectionEncryptedXML
)

func (k SectionKind) String() string {
	switch k {
	case SectionXML:
		return "xml"
	case SectionEncryptedXML:
		return "encrypted-xml"
	}
	return "opaque"
}

// Section is one classified slice of a message body. Payload holds plaintext
// for both XML kinds; opaque sections carry the wire bytes untouched.
type Section struct {
	Kind    SectionKind
	Payload []byte
}

// LegacyLogin holds the two fixed credential fields of a legacy login body.
// Cameras send them as NUL padded 32 byte fields, usually uppercase MD5 hex.
type LegacyLogin struct {
	Username string
	Password string
}

// Body is the decoded payload of one message. At most one of Login or the
// section fields is populated; a zero length body leaves all of them nil.
type Body struct {
	Login *LegacyLogin

	// Meta is the leading section of a modern body. Binary is the trailing
	// section, present only when the header carries a binary offset smaller
	// than the body length. The two are classified independently.
	Meta   *Section
	Binary *Section
}

// DecodeBody decodes body according to hdr. body holds exactly hdr.BodyLen
// bytes; callers that buffered less must not call this. The decode never
// reads past the slice and never fails, unclassifiable content is opaque.
func DecodeBody(hdr Header, body []byte) Body {
	if len(body) == 0 {
		return Body{}
	}
	if hdr.Legacy() {
		return decodeLegacyBody(hdr, body)
	}
	return decodeModernBody(hdr, body)
}

// decodeLegacyBody handles the fixed field scheme. Only the login shape has
// a known layout; everything else is a single probed section.
func decodeLegacyBody(hdr Header, body []byte) Body {
	if hdr.MessageType == 1 && len(body) >= legacyLoginLen {
		return Body{Login: &LegacyLogin{
			Username: cstring(body[:32]),
			Password: cstring(body[32:legacyLoginLen]),
		}}
	}
	return Body{Meta: classify(body, hdr.ChannelID)}
}

// decodeModernBody splits the body at the binary offset and classifies each
// part on its own. A missing offset means the whole body is the meta section.
func decodeModernBody(hdr Header, body []byte) Body {
	metaLen := len(body)
	if hdr.BinOffset != nil && int(*hdr.BinOffset) < metaLen {
		metaLen = int(*hdr.BinOffset)
	}

	var b Body
	if metaLen > 0 {
		b.Meta = classify(body[:metaLen], hdr.ChannelID)
	}
	if rest := body[metaLen:]; len(rest) > 0 {
		b.Binary = classify(rest, hdr.ChannelID)
	}
	return b
}

// classify applies the probe order the protocol demands: decrypt the first
// five bytes and look for an XML prolog, then check the plaintext, then give
// up and call the section opaque. Encrypted hits are decrypted in full.
func classify(section []byte, offset uint8) *Section {
	if bytes.Equal(XMLCrypt(prefix(section, len(xmlProlog)), offset), xmlProlog) {
		return &Section{Kind: SectionEncryptedXML, Payload: XMLCrypt(section, offset)}
	}
	if bytes.HasPrefix(section, xmlProlog) {
		return &Section{Kind: SectionXML, Payload: section}
	}
	return &Section{Kind: SectionOpaque, Payload: section}
}

// PlainSection wraps bytes that already are plaintext, labeling them XML
// when they open with the prolog. Discovery payloads land here after the
// transport cipher; the XML probe contract does not apply to them.
func PlainSection(data []byte) *Section {
	if bytes.HasPrefix(data, xmlProlog) {
		return &Section{Kind: SectionXML, Payload: data}
	}
	return &Section{Kind: SectionOpaque, Payload: data}
}

func prefix(b []byte, n int) []byte {
	if len(b) < n {
		return b
	}
	return b[:n]
}

// cstring cuts a fixed field at its first NUL.
func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
