// Package transport abstracts the two ways a MoQ Transport session can
// run: natively over QUIC, or over WebTransport (HTTP/3 CONNECT). The
// session and relay packages depend only on [Connection] and [Stream],
// never on quic-go or webtransport-go directly.
package transport

import (
	"context"
	"io"
)

// SendStream is a unidirectional, write-only QUIC stream used to deliver
// one subgroup or fetch stream's objects.
type SendStream interface {
	io.Writer
	io.Closer
	// CancelWrite aborts the stream with an application error code,
	// used when a subscription is cancelled mid-delivery.
	CancelWrite(errorCode uint64)
}

// ReceiveStream is a unidirectional, read-only QUIC stream.
type ReceiveStream interface {
	io.Reader
	// CancelRead aborts reading with an application error code.
	CancelRead(errorCode uint64)
}

// Stream is a bidirectional QUIC stream, used for the control stream.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
}

// Connection is one established MoQ Transport connection, reachable over
// either transport mode.
type Connection interface {
	// OpenControlStreamSync opens the bidirectional control stream. The
	// client side calls this once at session start; the server side
	// calls AcceptControlStream instead.
	OpenControlStreamSync(ctx context.Context) (Stream, error)

	// AcceptControlStream blocks for the client's incoming control
	// stream. Server-side counterpart to OpenControlStreamSync.
	AcceptControlStream(ctx context.Context) (Stream, error)

	// OpenUniStreamSync opens a new unidirectional send stream for a
	// subgroup or fetch stream.
	OpenUniStreamSync(ctx context.Context) (SendStream, error)

	// AcceptUniStream blocks for the peer's next incoming unidirectional
	// stream.
	AcceptUniStream(ctx context.Context) (ReceiveStream, error)

	// SendDatagram sends one unreliable, unordered datagram.
	SendDatagram(data []byte) error

	// ReceiveDatagram blocks for the next incoming datagram.
	ReceiveDatagram(ctx context.Context) ([]byte, error)

	// CloseWithError tears down the connection, delivering an
	// application error code and reason string to the peer.
	CloseWithError(code uint64, reason string) error

	// Context is cancelled when the connection closes, for either end.
	Context() context.Context
}
