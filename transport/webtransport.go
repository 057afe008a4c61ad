package transport

import (
	"context"

	"github.com/quic-go/webtransport-go"
)

// WebTransportConnection adapts a [webtransport.Session] to [Connection],
// for a MoQ Transport session running over WebTransport (HTTP/3 CONNECT),
// the transport mode a browser client speaks.
type WebTransportConnection struct {
	session *webtransport.Session
}

// NewWebTransportConnection wraps an already-upgraded WebTransport session.
func NewWebTransportConnection(session *webtransport.Session) *WebTransportConnection {
	return &WebTransportConnection{session: session}
}

// OpenControlStreamSync opens the bidirectional control stream. MoQ over
// WebTransport always has the client open it first.
func (c *WebTransportConnection) OpenControlStreamSync(ctx context.Context) (Stream, error) {
	s, err := c.session.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (c *WebTransportConnection) AcceptControlStream(ctx context.Context) (Stream, error) {
	s, err := c.session.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (c *WebTransportConnection) OpenUniStreamSync(ctx context.Context) (SendStream, error) {
	s, err := c.session.OpenUniStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return wtSendStream{s}, nil
}

func (c *WebTransportConnection) AcceptUniStream(ctx context.Context) (ReceiveStream, error) {
	s, err := c.session.AcceptUniStream(ctx)
	if err != nil {
		return nil, err
	}
	return wtReceiveStream{s}, nil
}

func (c *WebTransportConnection) SendDatagram(data []byte) error {
	return c.session.SendDatagram(data)
}

func (c *WebTransportConnection) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	return c.session.ReceiveDatagram(ctx)
}

func (c *WebTransportConnection) CloseWithError(code uint64, reason string) error {
	return c.session.CloseWithError(webtransport.SessionErrorCode(code), reason)
}

func (c *WebTransportConnection) Context() context.Context {
	return c.session.Context()
}

type wtSendStream struct {
	webtransport.SendStream
}

func (s wtSendStream) CancelWrite(errorCode uint64) {
	s.SendStream.CancelWrite(webtransport.StreamErrorCode(errorCode))
}

type wtReceiveStream struct {
	webtransport.ReceiveStream
}

func (s wtReceiveStream) CancelRead(errorCode uint64) {
	s.ReceiveStream.CancelRead(webtransport.StreamErrorCode(errorCode))
}
