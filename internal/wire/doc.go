// Package wire implements the wire-protocol codec for MoQ Transport
// (draft-ietf-moq-transport-15): the QUIC varint encoding, the control
// message framing and parameter codec, the datagram/subgroup/fetch
// data-stream object framing, and the LOC header extension container.
//
// This package contains no session or relay logic; those higher-level
// concerns live in [github.com/moqtgo/moqt/internal/session] and
// [github.com/moqtgo/moqt/internal/relay].
package wire
