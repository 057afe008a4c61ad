// Package session implements the MoQ Transport per-connection state
// machine: the CLIENT_SETUP/SERVER_SETUP handshake, request-ID
// allocation and flow control, the awaiter registry that resolves
// SUBSCRIBE/PUBLISH/FETCH/namespace requests, and GOAWAY-driven shutdown.
//
// This package contains no transport or relay logic; those concerns live
// in [github.com/moqtgo/moqt/transport] and
// [github.com/moqtgo/moqt/internal/relay].
package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/moqtgo/moqt/internal/wire"
)

// Role identifies which side of the handshake this session plays.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// State is the session's position in the MoQ Transport lifecycle.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateSetup
	StateEstablished
	StateGoAway
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateSetup:
		return "setup"
	case StateEstablished:
		return "established"
	case StateGoAway:
		return "goaway"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ControlStream is the bidirectional byte stream a Session speaks its
// control protocol over. A transport.Stream satisfies this directly.
type ControlStream interface {
	io.Reader
	io.Writer
}

// Handler receives requests and events the peer sends to this session.
// Implementations reply using the Session methods (RespondOK,
// RespondError, SendSubscribeOK, ...). Every method is called from the
// session's single read-loop goroutine, so a Handler that blocks blocks
// all further message processing for this session.
type Handler interface {
	HandleSubscribe(ctx context.Context, s *Session, sub wire.Subscribe)
	HandleSubscribeUpdate(s *Session, su wire.SubscribeUpdate)
	HandleUnsubscribe(s *Session, u wire.Unsubscribe)
	HandlePublish(ctx context.Context, s *Session, p wire.Publish)
	HandlePublishDone(s *Session, pd wire.PublishDone)
	HandleFetch(ctx context.Context, s *Session, f wire.Fetch)
	HandleFetchCancel(s *Session, fc wire.FetchCancel)
	HandleTrackStatusRequest(ctx context.Context, s *Session, ts wire.TrackStatus)
	HandlePublishNamespace(ctx context.Context, s *Session, pn wire.PublishNamespace)
	HandlePublishNamespaceDone(s *Session, pd wire.PublishNamespaceDone)
	HandlePublishNamespaceCancel(s *Session, pc wire.PublishNamespaceCancel)
	HandleSubscribeNamespace(ctx context.Context, s *Session, sn wire.SubscribeNamespace)
	HandleUnsubscribeNamespace(s *Session, un wire.UnsubscribeNamespace)
	HandleGoAway(s *Session, ga wire.GoAway)
}

// NopHandler implements Handler with no-op methods. Embed it to satisfy
// the interface while overriding only the requests a particular endpoint
// cares about.
type NopHandler struct{}

func (NopHandler) HandleSubscribe(context.Context, *Session, wire.Subscribe)             {}
func (NopHandler) HandleSubscribeUpdate(*Session, wire.SubscribeUpdate)                  {}
func (NopHandler) HandleUnsubscribe(*Session, wire.Unsubscribe)                          {}
func (NopHandler) HandlePublish(context.Context, *Session, wire.Publish)                  {}
func (NopHandler) HandlePublishDone(*Session, wire.PublishDone)                           {}
func (NopHandler) HandleFetch(context.Context, *Session, wire.Fetch)                      {}
func (NopHandler) HandleFetchCancel(*Session, wire.FetchCancel)                           {}
func (NopHandler) HandleTrackStatusRequest(context.Context, *Session, wire.TrackStatus)    {}
func (NopHandler) HandlePublishNamespace(context.Context, *Session, wire.PublishNamespace) {}
func (NopHandler) HandlePublishNamespaceDone(*Session, wire.PublishNamespaceDone)          {}
func (NopHandler) HandlePublishNamespaceCancel(*Session, wire.PublishNamespaceCancel)      {}
func (NopHandler) HandleSubscribeNamespace(context.Context, *Session, wire.SubscribeNamespace) {}
func (NopHandler) HandleUnsubscribeNamespace(*Session, wire.UnsubscribeNamespace)          {}
func (NopHandler) HandleGoAway(*Session, wire.GoAway)                                      {}

// Config holds the parameters for creating a new Session.
type Config struct {
	ID      string
	Role    Role
	Control ControlStream
	Handler Handler

	// LocalMaxRequestID is the request-ID ceiling this endpoint
	// advertises to the peer during setup.
	LocalMaxRequestID uint64
}

// Session manages one MoQ Transport connection's control-stream state
// machine. It is safe for concurrent use: outbound request methods may
// be called from any goroutine while Run's read loop dispatches inbound
// messages to Handler.
type Session struct {
	id      string
	role    Role
	log     *slog.Logger
	control ControlStream
	reader  *bufio.Reader
	handler Handler

	controlMu sync.Mutex // serializes writes to control

	mu               sync.Mutex
	state            State
	nextRequestID    uint64
	localMaxRequest  uint64
	peerMaxRequestID uint64
	nextTrackAlias   uint64

	awaiters *awaiterTable
}

// New creates a Session in StateIdle. Call SetupAsClient or
// SetupAsServer before Run.
func New(cfg Config) *Session {
	nextID := uint64(0)
	if cfg.Role == RoleServer {
		nextID = 1
	}
	handler := cfg.Handler
	if handler == nil {
		handler = NopHandler{}
	}
	return &Session{
		id:              cfg.ID,
		role:            cfg.Role,
		log:             slog.With("session", cfg.ID),
		control:         cfg.Control,
		reader:          bufio.NewReader(cfg.Control),
		handler:         handler,
		state:           StateIdle,
		nextRequestID:   nextID,
		localMaxRequest: cfg.LocalMaxRequestID,
		awaiters:        newAwaiterTable(),
	}
}

// ID returns this session's identifier.
func (s *Session) ID() string { return s.id }

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) writeControl(msgType uint64, payload []byte) error {
	s.controlMu.Lock()
	defer s.controlMu.Unlock()
	return wire.WriteControlMsg(s.control, msgType, payload)
}

// SetupAsClient sends CLIENT_SETUP and blocks for SERVER_SETUP.
func (s *Session) SetupAsClient(ctx context.Context, path string, supportedVersions []uint64) error {
	if s.role != RoleClient {
		return ErrUnexpectedRole
	}
	s.setState(StateConnecting)

	cs := wire.ClientSetup{
		SupportedVersions: supportedVersions,
		Path:              path,
		HasPath:           path != "",
		MaxRequestID:      s.localMaxRequest,
	}
	if err := s.writeControl(wire.MsgClientSetup, wire.SerializeClientSetup(cs)); err != nil {
		return fmt.Errorf("write CLIENT_SETUP: %w", err)
	}
	s.setState(StateSetup)

	msgType, payload, err := wire.ReadControlMsg(s.reader)
	if err != nil {
		return fmt.Errorf("read SERVER_SETUP: %w", err)
	}
	if msgType != wire.MsgServerSetup {
		return &ProtocolError{Reason: fmt.Sprintf("expected SERVER_SETUP, got %#x", msgType)}
	}
	ss, err := wire.ParseServerSetup(payload)
	if err != nil {
		return fmt.Errorf("parse SERVER_SETUP: %w", err)
	}

	s.mu.Lock()
	s.peerMaxRequestID = ss.MaxRequestID
	s.mu.Unlock()
	s.setState(StateEstablished)
	return nil
}

// SetupAsServer blocks for CLIENT_SETUP, validates the offered version
// list contains wire.Version, and replies with SERVER_SETUP. It returns
// the path the client requested, if any.
func (s *Session) SetupAsServer(ctx context.Context) (path string, err error) {
	if s.role != RoleServer {
		return "", ErrUnexpectedRole
	}
	s.setState(StateConnecting)

	msgType, payload, err := wire.ReadControlMsg(s.reader)
	if err != nil {
		return "", fmt.Errorf("read CLIENT_SETUP: %w", err)
	}
	if msgType != wire.MsgClientSetup {
		return "", &ProtocolError{Reason: fmt.Sprintf("expected CLIENT_SETUP, got %#x", msgType)}
	}
	cs, err := wire.ParseClientSetup(payload)
	if err != nil {
		return "", fmt.Errorf("parse CLIENT_SETUP: %w", err)
	}

	versionOK := false
	for _, v := range cs.SupportedVersions {
		if v == wire.Version {
			versionOK = true
			break
		}
	}
	if !versionOK {
		return "", fmt.Errorf("no compatible version (client offered %v)", cs.SupportedVersions)
	}

	s.mu.Lock()
	s.peerMaxRequestID = cs.MaxRequestID
	s.mu.Unlock()
	s.setState(StateSetup)

	ss := wire.ServerSetup{SelectedVersion: wire.Version, MaxRequestID: s.localMaxRequest}
	if err := s.writeControl(wire.MsgServerSetup, wire.SerializeServerSetup(ss)); err != nil {
		return "", fmt.Errorf("write SERVER_SETUP: %w", err)
	}
	s.setState(StateEstablished)

	if cs.HasPath {
		return cs.Path, nil
	}
	return "", nil
}

// allocateRequestID reserves the next local request id, enforcing the
// flow-control invariant that it never exceed the peer's advertised
// ceiling. When the ceiling is reached it advises the peer with
// REQUESTS_BLOCKED before reporting exhaustion, so a peer watching for
// that advisory knows to raise its MAX_REQUEST_ID rather than treating
// the stall as an error on this end. Once the session has entered GOAWAY
// or CLOSED it refuses every new request with ErrWrongState.
func (s *Session) allocateRequestID() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateGoAway || s.state == StateClosed {
		return 0, ErrWrongState
	}
	if s.nextRequestID > s.peerMaxRequestID {
		if err := s.writeControl(wire.MsgRequestsBlocked, wire.SerializeRequestsBlocked(s.peerMaxRequestID)); err != nil {
			s.log.Warn("send requests blocked failed", "error", err)
		}
		return 0, ErrRequestIDExhausted
	}
	id := s.nextRequestID
	s.nextRequestID += 2
	return id, nil
}

// RaiseLocalMaxRequestID sends MAX_REQUEST_ID raising the ceiling this
// endpoint grants the peer. id must strictly exceed the previous value.
func (s *Session) RaiseLocalMaxRequestID(id uint64) error {
	s.mu.Lock()
	if id <= s.localMaxRequest {
		s.mu.Unlock()
		return fmt.Errorf("max request id %d must exceed current %d", id, s.localMaxRequest)
	}
	s.localMaxRequest = id
	s.mu.Unlock()
	return s.writeControl(wire.MsgMaxRequestID, wire.SerializeMaxRequestID(id))
}

// Run starts the control-message read loop and blocks until ctx is
// canceled or the read loop ends (the control stream fails or closes, or
// a protocol violation arrives). If ctx is canceled while the session is
// established it first sends GOAWAY; on either exit it closes the control
// stream and resolves every outstanding awaiter with ErrSessionClosed.
func (s *Session) Run(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- s.readLoop(ctx) }()

	select {
	case <-ctx.Done():
	case err := <-done:
		s.teardown()
		return err
	}

	s.mu.Lock()
	wasEstablished := s.state == StateEstablished
	s.mu.Unlock()
	if wasEstablished {
		_ = s.writeControl(wire.MsgGoAway, wire.SerializeGoAway(wire.GoAway{}))
	}
	s.teardown()
	<-done // wait for readLoop to notice the closed stream and return
	return ctx.Err()
}

// Close tears down the underlying control stream, if it supports
// closing, unblocking any goroutine still reading from it.
func (s *Session) Close() error {
	if closer, ok := s.control.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (s *Session) teardown() {
	s.setState(StateClosed)
	_ = s.Close()
	s.mu.Lock()
	s.awaiters.resolveAll(ErrSessionClosed)
	s.mu.Unlock()
}

func (s *Session) readLoop(ctx context.Context) error {
	for {
		msgType, payload, err := wire.ReadControlMsg(s.reader)
		if err != nil {
			return err
		}
		if err := s.dispatch(ctx, msgType, payload); err != nil {
			var perr *ProtocolError
			if isProtocolError(err, &perr) {
				s.log.Warn("protocol violation", "error", perr)
				return perr
			}
			s.log.Warn("control message error", "type", fmt.Sprintf("%#x", msgType), "error", err)
		}
	}
}

func isProtocolError(err error, target **ProtocolError) bool {
	pe, ok := err.(*ProtocolError)
	if ok {
		*target = pe
	}
	return ok
}

func (s *Session) dispatch(ctx context.Context, msgType uint64, payload []byte) error {
	switch msgType {
	case wire.MsgSubscribe:
		sub, err := wire.ParseSubscribe(payload)
		if err != nil {
			return err
		}
		s.handler.HandleSubscribe(ctx, s, sub)

	case wire.MsgSubscribeOK:
		sok, err := wire.ParseSubscribeOK(payload)
		if err != nil {
			return err
		}
		s.resolveAwaiter(sok.RequestID, &sok, nil)

	case wire.MsgSubscribeUpdate:
		su, err := wire.ParseSubscribeUpdate(payload)
		if err != nil {
			return err
		}
		s.handler.HandleSubscribeUpdate(s, su)

	case wire.MsgUnsubscribe:
		u, err := wire.ParseUnsubscribe(payload)
		if err != nil {
			return err
		}
		s.handler.HandleUnsubscribe(s, u)

	case wire.MsgPublish:
		p, err := wire.ParsePublish(payload)
		if err != nil {
			return err
		}
		s.handler.HandlePublish(ctx, s, p)

	case wire.MsgPublishOK:
		ok, err := wire.ParsePublishOK(payload)
		if err != nil {
			return err
		}
		s.resolveAwaiter(ok.RequestID, &ok, nil)

	case wire.MsgPublishDone:
		pd, err := wire.ParsePublishDone(payload)
		if err != nil {
			return err
		}
		s.handler.HandlePublishDone(s, pd)

	case wire.MsgFetch:
		f, err := wire.ParseFetch(payload)
		if err != nil {
			return err
		}
		s.handler.HandleFetch(ctx, s, f)

	case wire.MsgFetchOK:
		ok, err := wire.ParseFetchOK(payload)
		if err != nil {
			return err
		}
		s.resolveAwaiter(ok.RequestID, &ok, nil)

	case wire.MsgFetchCancel:
		fc, err := wire.ParseFetchCancel(payload)
		if err != nil {
			return err
		}
		s.handler.HandleFetchCancel(s, fc)

	case wire.MsgTrackStatus:
		ts, err := wire.ParseTrackStatus(payload)
		if err != nil {
			return err
		}
		s.handler.HandleTrackStatusRequest(ctx, s, ts)

	case wire.MsgRequestOK:
		ok, err := wire.ParseRequestOK(payload)
		if err != nil {
			return err
		}
		s.resolveAwaiter(ok.RequestID, &ok, nil)

	case wire.MsgRequestError:
		re, err := wire.ParseRequestError(payload)
		if err != nil {
			return err
		}
		s.resolveAwaiter(re.RequestID, nil, &wire.ParseError{Field: "request", Err: fmt.Errorf("%s (code %#x)", re.ReasonPhrase, re.ErrorCode)})

	case wire.MsgPublishNamespace:
		pn, err := wire.ParsePublishNamespace(payload)
		if err != nil {
			return err
		}
		s.handler.HandlePublishNamespace(ctx, s, pn)

	case wire.MsgPublishNamespaceDone:
		pd, err := wire.ParsePublishNamespaceDone(payload)
		if err != nil {
			return err
		}
		s.handler.HandlePublishNamespaceDone(s, pd)

	case wire.MsgPublishNamespaceCancel:
		pc, err := wire.ParsePublishNamespaceCancel(payload)
		if err != nil {
			return err
		}
		s.handler.HandlePublishNamespaceCancel(s, pc)

	case wire.MsgSubscribeNamespace:
		sn, err := wire.ParseSubscribeNamespace(payload)
		if err != nil {
			return err
		}
		s.handler.HandleSubscribeNamespace(ctx, s, sn)

	case wire.MsgUnsubscribeNamespace:
		un, err := wire.ParseUnsubscribeNamespace(payload)
		if err != nil {
			return err
		}
		s.handler.HandleUnsubscribeNamespace(s, un)

	case wire.MsgGoAway:
		ga, err := wire.ParseGoAway(payload)
		if err != nil {
			return err
		}
		s.setState(StateGoAway)
		s.handler.HandleGoAway(s, ga)

	case wire.MsgMaxRequestID:
		mr, err := wire.ParseMaxRequestID(payload)
		if err != nil {
			return err
		}
		s.mu.Lock()
		if mr.RequestID <= s.peerMaxRequestID {
			s.mu.Unlock()
			return &ProtocolError{Reason: fmt.Sprintf("MAX_REQUEST_ID %d did not strictly increase past %d", mr.RequestID, s.peerMaxRequestID)}
		}
		s.peerMaxRequestID = mr.RequestID
		s.mu.Unlock()

	case wire.MsgRequestsBlocked:
		_, err := wire.ParseRequestsBlocked(payload)
		if err != nil {
			return err
		}
		s.log.Debug("peer reported REQUESTS_BLOCKED")

	case wire.MsgClientSetup, wire.MsgServerSetup:
		return &ProtocolError{Reason: "SETUP message received after handshake completed"}

	default:
		return &ProtocolError{Reason: fmt.Sprintf("unknown message type %#x", msgType)}
	}
	return nil
}

func (s *Session) resolveAwaiter(requestID uint64, ok any, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.awaiters.resolve(requestID, ok, err) {
		s.log.Debug("response for unknown request id", "request_id", requestID)
	}
}
