package transport

import (
	"context"

	"github.com/quic-go/quic-go"
)

// QUICConnection adapts a native quic-go [quic.Connection] to
// [Connection], for a MoQ Transport session running directly over QUIC
// rather than WebTransport.
type QUICConnection struct {
	conn quic.Connection
}

// NewQUICConnection wraps an established QUIC connection.
func NewQUICConnection(conn quic.Connection) *QUICConnection {
	return &QUICConnection{conn: conn}
}

func (c *QUICConnection) OpenControlStreamSync(ctx context.Context) (Stream, error) {
	s, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return quicStream{s}, nil
}

func (c *QUICConnection) AcceptControlStream(ctx context.Context) (Stream, error) {
	s, err := c.conn.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	return quicStream{s}, nil
}

func (c *QUICConnection) OpenUniStreamSync(ctx context.Context) (SendStream, error) {
	s, err := c.conn.OpenUniStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return quicSendStream{s}, nil
}

func (c *QUICConnection) AcceptUniStream(ctx context.Context) (ReceiveStream, error) {
	s, err := c.conn.AcceptUniStream(ctx)
	if err != nil {
		return nil, err
	}
	return quicReceiveStream{s}, nil
}

func (c *QUICConnection) SendDatagram(data []byte) error {
	return c.conn.SendDatagram(data)
}

func (c *QUICConnection) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	return c.conn.ReceiveDatagram(ctx)
}

func (c *QUICConnection) CloseWithError(code uint64, reason string) error {
	return c.conn.CloseWithError(quic.ApplicationErrorCode(code), reason)
}

func (c *QUICConnection) Context() context.Context {
	return c.conn.Context()
}

type quicStream struct {
	quic.Stream
}

type quicSendStream struct {
	quic.SendStream
}

func (s quicSendStream) CancelWrite(errorCode uint64) {
	s.SendStream.CancelWrite(quic.StreamErrorCode(errorCode))
}

type quicReceiveStream struct {
	quic.ReceiveStream
}

func (s quicReceiveStream) CancelRead(errorCode uint64) {
	s.ReceiveStream.CancelRead(quic.StreamErrorCode(errorCode))
}
