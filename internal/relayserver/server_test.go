package relayserver

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/moqtgo/moqt/internal/relay"
	"github.com/moqtgo/moqt/internal/session"
	"github.com/moqtgo/moqt/internal/wire"
	"github.com/moqtgo/moqt/transport"
)

type fakeSendStream struct {
	buf      bytes.Buffer
	closed   bool
	canceled bool
}

func (s *fakeSendStream) Write(p []byte) (int, error) { return s.buf.Write(p) }
func (s *fakeSendStream) Close() error                 { s.closed = true; return nil }
func (s *fakeSendStream) CancelWrite(uint64)           { s.canceled = true }

type fakeReceiveStream struct {
	r *bytes.Reader
}

func (s *fakeReceiveStream) Read(p []byte) (int, error) { return s.r.Read(p) }
func (s *fakeReceiveStream) CancelRead(uint64)          {}

type fakeConn struct {
	control        net.Conn
	opened         []*fakeSendStream
	incomingUni    chan transport.ReceiveStream
	closeCode      uint64
	closeReason    string
}

func newFakeConn(control net.Conn) *fakeConn {
	return &fakeConn{control: control, incomingUni: make(chan transport.ReceiveStream, 4)}
}

func (c *fakeConn) OpenControlStreamSync(context.Context) (transport.Stream, error) { return nil, nil }
func (c *fakeConn) AcceptControlStream(context.Context) (transport.Stream, error) {
	return c.control, nil
}
func (c *fakeConn) OpenUniStreamSync(context.Context) (transport.SendStream, error) {
	s := &fakeSendStream{}
	c.opened = append(c.opened, s)
	return s, nil
}
func (c *fakeConn) AcceptUniStream(ctx context.Context) (transport.ReceiveStream, error) {
	select {
	case rs := <-c.incomingUni:
		return rs, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
func (c *fakeConn) SendDatagram([]byte) error                       { return nil }
func (c *fakeConn) ReceiveDatagram(context.Context) ([]byte, error) { return nil, nil }
func (c *fakeConn) CloseWithError(code uint64, reason string) error {
	c.closeCode, c.closeReason = code, reason
	return nil
}
func (c *fakeConn) Context() context.Context { return context.Background() }

func pushSubgroupStream(c *fakeConn, header wire.SubgroupHeader, objs []wire.SubgroupObject) {
	var buf []byte
	h, _ := wire.EncodeSubgroupHeader(header)
	buf = append(buf, h...)
	for _, o := range objs {
		buf = append(buf, wire.EncodeSubgroupObject(o, false)...)
	}
	c.incomingUni <- &fakeReceiveStream{r: bytes.NewReader(buf)}
}

func TestHandleConnectionServesSubscribeAgainstPublishedTrack(t *testing.T) {
	t.Parallel()

	table := relay.NewTable(nil)
	track, _ := table.Publish(wire.TrackNamespace{"live"}, "video", 7)
	track.Forward(1, 0, 0, wire.SubgroupObject{Payload: []byte("cached")})

	srv := NewServer(table, 100)

	clientControl, serverControl := net.Pipe()
	defer clientControl.Close()

	conn := newFakeConn(serverControl)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.HandleConnection(ctx, conn)

	client := session.New(session.Config{ID: "client", Role: session.RoleClient, Control: clientControl, LocalMaxRequestID: 100})
	if err := client.SetupAsClient(ctx, "", []uint64{wire.Version}); err != nil {
		t.Fatalf("client setup: %v", err)
	}
	go client.Run(ctx)

	ok, err := client.Subscribe(ctx, wire.TrackNamespace{"live"}, "video", 0, wire.Location{}, wire.Location{}, nil)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if ok.TrackAlias != 7 {
		t.Fatalf("TrackAlias = %d, want 7", ok.TrackAlias)
	}
	if !ok.ContentExists {
		t.Fatal("expected ContentExists for a track with a forwarded object")
	}
	if ok.LargestGroup != 1 {
		t.Fatalf("LargestGroup = %d, want 1", ok.LargestGroup)
	}

	deadline := time.Now().Add(time.Second)
	for len(conn.opened) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if len(conn.opened) != 1 {
		t.Fatalf("expected one replayed stream opened on the subscriber's connection, got %d", len(conn.opened))
	}
}

func TestHandleConnectionServesPublishAndForwardsObjects(t *testing.T) {
	t.Parallel()

	table := relay.NewTable(nil)
	srv := NewServer(table, 100)

	clientControl, serverControl := net.Pipe()
	defer clientControl.Close()

	conn := newFakeConn(serverControl)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.HandleConnection(ctx, conn)

	client := session.New(session.Config{ID: "client", Role: session.RoleClient, Control: clientControl, LocalMaxRequestID: 100})
	if err := client.SetupAsClient(ctx, "", []uint64{wire.Version}); err != nil {
		t.Fatalf("client setup: %v", err)
	}
	go client.Run(ctx)

	pubOK, err := client.Publish(ctx, 42, wire.TrackNamespace{"live"}, "video", nil)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	_ = pubOK

	deadline := time.Now().Add(time.Second)
	var track *relay.Track
	for time.Now().Before(deadline) {
		if tr, ok := table.Lookup(wire.TrackNamespace{"live"}, "video"); ok {
			track = tr
			break
		}
		time.Sleep(time.Millisecond)
	}
	if track == nil {
		t.Fatal("expected track to be published on the relay table")
	}

	recv := newRecordingSubscriber("recv")
	track.AddSubscriber(recv)

	pushSubgroupStream(conn, wire.SubgroupHeader{Type: 0x14, TrackAlias: 42, GroupID: 3, SubgroupID: 0},
		[]wire.SubgroupObject{{ObjectIDDelta: 0, Payload: []byte("hello")}})

	deadline = time.Now().Add(time.Second)
	for len(recv.received) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if len(recv.received) != 1 {
		t.Fatalf("expected one forwarded object, got %d", len(recv.received))
	}
	if string(recv.received[0]) != "hello" {
		t.Fatalf("forwarded payload = %q, want %q", recv.received[0], "hello")
	}
}

type recordingSubscriber struct {
	id       string
	received [][]byte
}

func newRecordingSubscriber(id string) *recordingSubscriber {
	return &recordingSubscriber{id: id}
}

func (r *recordingSubscriber) ID() string { return r.id }
func (r *recordingSubscriber) SendObject(groupID, subgroupID uint64, obj wire.SubgroupObject) error {
	r.received = append(r.received, obj.Payload)
	return nil
}
func (r *recordingSubscriber) Close(uint64, string) {}
