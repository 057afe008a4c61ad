package transport

import (
	"testing"
	"time"

	"github.com/quic-go/quic-go"
)

// fakeQUICStream implements quic.Stream for exercising quicStream,
// quicSendStream and quicReceiveStream without a real QUIC connection. The
// method set mirrors internal/distribution/moq_session_test.go's
// mockControlStream, which implements the sibling webtransport.Stream
// interface the same way.
type fakeQUICStream struct {
	writeErr    error
	written     []byte
	cancelWrite quic.StreamErrorCode
	cancelRead  quic.StreamErrorCode
	wroteCancel bool
	readCancel  bool
}

func (f *fakeQUICStream) Read(p []byte) (int, error) { return 0, nil }
func (f *fakeQUICStream) Write(p []byte) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.written = append(f.written, p...)
	return len(p), nil
}
func (f *fakeQUICStream) Close() error { return nil }
func (f *fakeQUICStream) CancelWrite(code quic.StreamErrorCode) {
	f.wroteCancel = true
	f.cancelWrite = code
}
func (f *fakeQUICStream) CancelRead(code quic.StreamErrorCode) {
	f.readCancel = true
	f.cancelRead = code
}
func (f *fakeQUICStream) SetDeadline(time.Time) error      { return nil }
func (f *fakeQUICStream) SetReadDeadline(time.Time) error  { return nil }
func (f *fakeQUICStream) SetWriteDeadline(time.Time) error { return nil }
func (f *fakeQUICStream) StreamID() quic.StreamID          { return 0 }

var (
	_ quic.Stream        = (*fakeQUICStream)(nil)
	_ quic.SendStream    = (*fakeQUICStream)(nil)
	_ quic.ReceiveStream = (*fakeQUICStream)(nil)
)

func TestQuicSendStreamCancelWriteTranslatesCode(t *testing.T) {
	t.Parallel()
	fake := &fakeQUICStream{}
	s := quicSendStream{fake}

	s.CancelWrite(42)

	if !fake.wroteCancel {
		t.Fatal("expected CancelWrite to reach the underlying stream")
	}
	if fake.cancelWrite != 42 {
		t.Fatalf("cancelWrite code = %d, want 42", fake.cancelWrite)
	}
}

func TestQuicReceiveStreamCancelReadTranslatesCode(t *testing.T) {
	t.Parallel()
	fake := &fakeQUICStream{}
	s := quicReceiveStream{fake}

	s.CancelRead(7)

	if !fake.readCancel {
		t.Fatal("expected CancelRead to reach the underlying stream")
	}
	if fake.cancelRead != 7 {
		t.Fatalf("cancelRead code = %d, want 7", fake.cancelRead)
	}
}

func TestQuicStreamWritePassesThrough(t *testing.T) {
	t.Parallel()
	fake := &fakeQUICStream{}
	s := quicStream{fake}

	n, err := s.Write([]byte("hello"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != 5 {
		t.Fatalf("n = %d, want 5", n)
	}
	if string(fake.written) != "hello" {
		t.Fatalf("written = %q, want %q", fake.written, "hello")
	}
}
