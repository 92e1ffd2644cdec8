package bc

import "errors"

var (
	// ErrNoMagic reports bytes that do not start with a protocol magic.
	ErrNoMagic = errors.New("argus: no magic at cursor")

	// ErrShortDatagram reports a UDP datagram shorter than its class header.
	ErrShortDatagram = errors.New("argus: datagram shorter than header")

	// ErrUnknownUDPClass reports a datagram with a valid magic but a class
	// byte outside the known set.
	ErrUnknownUDPClass = errors.New("argus: unknown udp class")
)
