// Package relayserver wires internal/session and internal/relay together
// into a MoQ Transport relay endpoint: every accepted transport.Connection
// becomes one session.Session, and SUBSCRIBE/PUBLISH requests against it
// are served from a shared relay.Table.
package relayserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/moqtgo/moqt/internal/relay"
	"github.com/moqtgo/moqt/internal/session"
	"github.com/moqtgo/moqt/internal/wire"
	"github.com/moqtgo/moqt/transport"
)

// Server accepts MoQT connections and serves them against a shared track
// table, playing the role distribution.Server plays for the teacher's
// video-relay product.
type Server struct {
	table             *relay.Table
	localMaxRequestID uint64
	log               *slog.Logger

	nextConnID atomic.Uint64
}

// NewServer creates a Server backed by table.
func NewServer(table *relay.Table, localMaxRequestID uint64) *Server {
	return &Server{
		table:             table,
		localMaxRequestID: localMaxRequestID,
		log:               slog.With("component", "relayserver"),
	}
}

// HandleConnection runs the MoQT server handshake and control loop for one
// accepted connection until it closes. Intended as the handle callback
// passed to transport.NewListener.
func (srv *Server) HandleConnection(ctx context.Context, conn transport.Connection) {
	connID := srv.nextConnID.Add(1)
	id := fmt.Sprintf("conn-%d", connID)
	log := srv.log.With("conn", id)

	control, err := conn.AcceptControlStream(ctx)
	if err != nil {
		log.Warn("accept control stream failed", "error", err)
		_ = conn.CloseWithError(1, "control stream error")
		return
	}

	h := &handler{
		srv:        srv,
		conn:       conn,
		log:        log,
		published:  make(map[uint64]*relay.Track),
		subscribed: make(map[uint64]*relay.Track),
		byAlias:    make(map[uint64]*relay.Track),
	}

	s := session.New(session.Config{
		ID:                id,
		Role:              session.RoleServer,
		Control:           control,
		Handler:           h,
		LocalMaxRequestID: srv.localMaxRequestID,
	})
	h.session = s

	if _, err := s.SetupAsServer(ctx); err != nil {
		log.Warn("setup failed", "error", err)
		_ = conn.CloseWithError(5, "setup failed")
		return
	}
	log.Info("session established")

	// One loop demuxes every uni stream this connection opens across all of
	// its published tracks, since a single MoQT session may publish more
	// than one track and AcceptUniStream has no per-track variant.
	go h.acceptObjectStreams(ctx)

	if err := s.Run(ctx); err != nil {
		log.Debug("session ended", "error", err)
	}
}

// handler implements session.Handler against one connection's relay
// subscriptions and publications.
type handler struct {
	session.NopHandler

	srv     *Server
	conn    transport.Connection
	session *session.Session
	log     *slog.Logger

	published  map[uint64]*relay.Track // requestID -> track, for PUBLISH_DONE / teardown
	subscribed map[uint64]*relay.Track // requestID -> track, for UNSUBSCRIBE

	aliasMu sync.RWMutex
	byAlias map[uint64]*relay.Track // track alias -> track, for routing accepted uni streams
}

func (h *handler) HandleSubscribe(ctx context.Context, s *session.Session, sub wire.Subscribe) {
	track, ok := h.srv.table.Lookup(sub.Namespace, sub.TrackName)
	if !ok {
		if err := s.RespondError(sub.RequestID, wire.ErrorCodeInternal, "track not found"); err != nil {
			h.log.Warn("respond error failed", "error", err)
		}
		return
	}

	ep := relay.NewEndpoint(fmt.Sprintf("%s-sub-%d", s.ID(), sub.RequestID), track.Alias(), h.conn)
	track.AddSubscriber(ep)
	h.subscribed[sub.RequestID] = track

	ok2 := wire.SubscribeOK{
		RequestID:  sub.RequestID,
		TrackAlias: track.Alias(),
		GroupOrder: wire.GroupOrderDefault,
	}
	if loc, has := track.LargestLocation(); has {
		ok2.ContentExists = true
		ok2.LargestGroup = loc.Group
		ok2.LargestObj = loc.Object
	}
	if err := s.SendSubscribeOK(ok2); err != nil {
		h.log.Warn("send subscribe ok failed", "error", err)
	}
}

func (h *handler) HandleUnsubscribe(s *session.Session, u wire.Unsubscribe) {
	track, ok := h.subscribed[u.RequestID]
	if !ok {
		return
	}
	delete(h.subscribed, u.RequestID)
	track.RemoveSubscriber(fmt.Sprintf("%s-sub-%d", s.ID(), u.RequestID))
}

func (h *handler) HandlePublish(ctx context.Context, s *session.Session, p wire.Publish) {
	track, created := h.srv.table.Publish(p.Namespace, p.TrackName, p.TrackAlias)
	if !created {
		if err := s.RespondError(p.RequestID, wire.ErrorCodeDuplicateTrackAlias, "track already published"); err != nil {
			h.log.Warn("respond error failed", "error", err)
		}
		return
	}
	h.published[p.RequestID] = track

	h.aliasMu.Lock()
	h.byAlias[p.TrackAlias] = track
	h.aliasMu.Unlock()

	if err := s.SendPublishOK(wire.PublishOK{RequestID: p.RequestID, Forward: true, GroupOrder: wire.GroupOrderDefault}); err != nil {
		h.log.Warn("send publish ok failed", "error", err)
		return
	}
}

func (h *handler) HandlePublishDone(s *session.Session, pd wire.PublishDone) {
	track, ok := h.published[pd.RequestID]
	if !ok {
		return
	}
	delete(h.published, pd.RequestID)

	h.aliasMu.Lock()
	delete(h.byAlias, track.Alias())
	h.aliasMu.Unlock()

	h.srv.table.Unpublish(track.Namespace(), track.Name(), pd.StatusCode, pd.ReasonPhrase)
}

func (h *handler) HandleFetch(ctx context.Context, s *session.Session, f wire.Fetch) {
	if err := s.RespondError(f.RequestID, wire.ErrorCodeInternal, "fetch not supported by this relay"); err != nil {
		h.log.Warn("respond error failed", "error", err)
	}
}

func (h *handler) HandlePublishNamespace(ctx context.Context, s *session.Session, pn wire.PublishNamespace) {
	if err := s.RespondOK(pn.RequestID, nil); err != nil {
		h.log.Warn("respond ok failed", "error", err)
	}
}

// acceptObjectStreams accepts every uni stream this connection opens and
// routes each to the track its header names, until the connection closes.
// One loop serves every published track since accepted streams for
// different tracks are interleaved on the same connection.
func (h *handler) acceptObjectStreams(ctx context.Context) {
	for {
		rs, err := h.conn.AcceptUniStream(ctx)
		if err != nil {
			return
		}
		go h.readSubgroupStream(rs)
	}
}

func (h *handler) readSubgroupStream(rs transport.ReceiveStream) {
	data, err := readAll(rs)
	if err != nil {
		h.log.Debug("read subgroup stream failed", "error", err)
		return
	}

	header, n, err := wire.DecodeSubgroupHeader(data)
	if err != nil {
		h.log.Warn("decode subgroup header failed", "error", err)
		return
	}

	h.aliasMu.RLock()
	track, ok := h.byAlias[header.TrackAlias]
	h.aliasMu.RUnlock()
	if !ok {
		h.log.Warn("subgroup stream for unknown track alias", "alias", header.TrackAlias)
		return
	}

	// SubgroupHeaderType's extensions-present flag is its low bit; mirrors
	// the encoding relay.Endpoint's subgroupHeaderType always produces.
	extPresent := byte(header.Type)&0x01 == 0x01
	subgroupID := header.SubgroupID
	needsFirstObjectID := header.Type.NeedsFirstObjectSubgroupID()
	offset := n
	objectID := uint64(0)
	first := true
	for offset < len(data) {
		obj, consumed, err := wire.DecodeSubgroupObject(data, offset, extPresent)
		if err != nil {
			h.log.Warn("decode subgroup object failed", "error", err)
			return
		}
		if first {
			objectID = obj.ObjectIDDelta
			if needsFirstObjectID {
				subgroupID = objectID
			}
			first = false
		} else {
			objectID += obj.ObjectIDDelta
		}
		track.Forward(header.GroupID, subgroupID, objectID, obj)
		offset = consumed
	}
}

func readAll(rs transport.ReceiveStream) ([]byte, error) {
	var buf []byte
	chunk := make([]byte, 4096)
	for {
		n, err := rs.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return buf, nil
			}
			return buf, err
		}
	}
}
