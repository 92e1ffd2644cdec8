// Package bc implements the Baichuan camera control protocol wire format:
// header detection and decoding for the TCP framing, the XML and UDP
// transport ciphers, body section classification, stream completeness
// checking and the per-class UDP datagram headers.
//
// The package is pure codec. It holds no connection state and performs no
// I/O; stream buffering and datagram reassembly live in internal/assembly.
package bc
