package sink

import (
	"bytes"
	"encoding/xml"
	"time"

	"firestige.xyz/argus/internal/bc"
)

// Record kinds.
const (
	KindMessage   = "message"
	KindDiscovery = "discovery"
	KindAck       = "ack"
)

// Record is the envelope handed to sinks: one framed message, discovery
// exchange or acknowledgment, with its transport context. Exactly one of
// Message, Discovery and Ack is set, matching Kind.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Transport string    `json:"transport"` // "tcp" or "udp"
	Src       string    `json:"src"`
	Dst       string    `json:"dst"`
	Kind      string    `json:"kind"`

	Message   *MessageRecord   `json:"message,omitempty"`
	Discovery *DiscoveryRecord `json:"discovery,omitempty"`
	Ack       *AckRecord       `json:"ack,omitempty"`
}

// MessageRecord carries the decoded header fields and body section
// summaries of one framed message.
type MessageRecord struct {
	Class      string `json:"class"`
	Type       uint32 `json:"type"`
	TypeName   string `json:"type_name"`
	Channel    uint8  `json:"channel"`
	Stream     string `json:"stream"`
	Handle     uint8  `json:"handle"`
	StatusCode uint16 `json:"status_code,omitempty"`
	Encrypted  bool   `json:"encrypted,omitempty"`
	BodyLen    uint32 `json:"body_len"`

	// ConnID is the transport connection id for messages reassembled from
	// datagrams; zero for stream transport.
	ConnID int32 `json:"conn_id,omitempty"`

	// Username is set for legacy logins. The password field is decoded but
	// never surfaced; captures get shared.
	Username string `json:"username,omitempty"`

	Meta   *SectionRecord `json:"meta,omitempty"`
	Binary *SectionRecord `json:"binary,omitempty"`
}

// SectionRecord summarizes one classified body section.
type SectionRecord struct {
	Kind    string `json:"kind"`
	Len     int    `json:"len"`
	XMLRoot string `json:"xml_root,omitempty"`
	// Payload holds the section plaintext when payload retention is on.
	Payload []byte `json:"payload,omitempty"`
}

// DiscoveryRecord is one deciphered discovery datagram.
type DiscoveryRecord struct {
	TID      uint32         `json:"tid"`
	Checksum uint32         `json:"checksum"`
	Body     *SectionRecord `json:"body,omitempty"`
}

// AckRecord is one acknowledgment datagram; LastAck feeds loss diagnostics.
type AckRecord struct {
	ConnID  int32  `json:"conn_id"`
	Group   uint32 `json:"group"`
	LastAck uint32 `json:"last_ack"`
}

// NewMessageRecord summarizes a decoded message. keepPayload carries the
// section plaintext into the record; otherwise only lengths and the XML
// root element survive.
func NewMessageRecord(msg bc.Message, keepPayload bool) *MessageRecord {
	h := msg.Header
	rec := &MessageRecord{
		Class:      h.Class(),
		Type:       h.MessageType,
		TypeName:   h.TypeName(),
		Channel:    h.ChannelID,
		Stream:     h.Stream(),
		Handle:     h.Handle,
		StatusCode: h.StatusCode,
		Encrypted:  h.EncryptXML,
		BodyLen:    h.BodyLen,
	}
	if msg.Body.Login != nil {
		rec.Username = msg.Body.Login.Username
	}
	rec.Meta = NewSectionRecord(msg.Body.Meta, keepPayload)
	rec.Binary = NewSectionRecord(msg.Body.Binary, keepPayload)
	return rec
}

// NewSectionRecord summarizes one classified section; nil in, nil out.
func NewSectionRecord(sec *bc.Section, keepPayload bool) *SectionRecord {
	if sec == nil {
		return nil
	}
	rec := &SectionRecord{
		Kind:    sec.Kind.String(),
		Len:     len(sec.Payload),
		XMLRoot: xmlRoot(sec),
	}
	if keepPayload {
		rec.Payload = sec.Payload
	}
	return rec
}

// xmlRoot extracts the labeling element of an XML section. The core hands
// plaintext out without parsing it; this is the record layer peeking at the
// leading tags, nothing more. Camera XML wraps everything in <body> (and
// discovery exchanges in <P2P>), so the wrapper's first child is the name
// that actually tells payloads apart.
func xmlRoot(sec *bc.Section) string {
	if sec.Kind == bc.SectionOpaque {
		return ""
	}
	dec := xml.NewDecoder(bytes.NewReader(sec.Payload))
	root := ""
	for {
		tok, err := dec.Token()
		if err != nil {
			return root
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if root != "" || (start.Name.Local != "body" && start.Name.Local != "P2P") {
			return start.Name.Local
		}
		root = start.Name.Local
	}
}
