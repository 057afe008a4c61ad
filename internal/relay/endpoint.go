package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/moqtgo/moqt/internal/wire"
	"github.com/moqtgo/moqt/transport"
)

// Endpoint adapts a subscribing session's [transport.Connection] to
// [Subscriber], opening one outbound uni stream per (group, subgroup) pair
// lazily on that pair's first object and closing it once the group's last
// object has been written — directly generalizing the
// currentStream/closeStream bookkeeping in a live session's per-track write
// loop from one media track to arbitrary (group, subgroup) keys.
type Endpoint struct {
	id         string
	trackAlias uint64
	conn       transport.Connection
	log        *slog.Logger

	mu      sync.Mutex
	streams map[streamKey]transport.SendStream
}

type streamKey struct {
	groupID, subgroupID uint64
}

// NewEndpoint wraps conn as a Subscriber forwarding trackAlias's objects.
func NewEndpoint(id string, trackAlias uint64, conn transport.Connection) *Endpoint {
	return &Endpoint{
		id:         id,
		trackAlias: trackAlias,
		conn:       conn,
		log:        slog.With("component", "relay.endpoint", "subscriber", id),
		streams:    make(map[streamKey]transport.SendStream),
	}
}

func (e *Endpoint) ID() string { return e.id }

// SendObject writes obj to the outbound stream for (groupID, subgroupID),
// opening it first if this is the pair's first object. The stream is
// closed once obj.EndOfGroup is set, matching the no-interleaving
// invariant: exactly one open stream per subgroup at a time.
func (e *Endpoint) SendObject(groupID, subgroupID uint64, obj wire.SubgroupObject) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := streamKey{groupID, subgroupID}
	stream, ok := e.streams[key]
	if !ok {
		s, err := e.conn.OpenUniStreamSync(context.Background())
		if err != nil {
			return fmt.Errorf("relay: open subgroup stream: %w", err)
		}
		header, err := wire.EncodeSubgroupHeader(wire.SubgroupHeader{
			Type:       subgroupHeaderType(obj),
			TrackAlias: e.trackAlias,
			GroupID:    groupID,
			SubgroupID: subgroupID,
		})
		if err != nil {
			s.Close()
			return fmt.Errorf("relay: encode subgroup header: %w", err)
		}
		if _, err := s.Write(header); err != nil {
			s.Close()
			return fmt.Errorf("relay: write subgroup header: %w", err)
		}
		e.streams[key] = s
		stream = s
	}

	extPresent := len(obj.Extensions) > 0
	if _, err := stream.Write(wire.EncodeSubgroupObject(obj, extPresent)); err != nil {
		delete(e.streams, key)
		return fmt.Errorf("relay: write subgroup object: %w", err)
	}

	if obj.EndOfGroup {
		stream.Close()
		delete(e.streams, key)
	}
	return nil
}

// Close aborts every still-open outbound stream and tears down the
// underlying connection.
func (e *Endpoint) Close(statusCode uint64, reason string) {
	e.mu.Lock()
	for key, s := range e.streams {
		s.CancelWrite(statusCode)
		delete(e.streams, key)
	}
	e.mu.Unlock()

	e.log.Info("closing subscriber endpoint", "reason", reason)
	_ = e.conn.CloseWithError(statusCode, reason)
}

// subgroupHeaderType picks the header encoding that always carries an
// explicit subgroup id and a priority byte (0x14/0x15 in draft-15's
// registry), since the relay forwards arbitrary (group, subgroup) pairs
// rather than relying on the zero/first-object shorthand encodings a
// single-subgroup-per-group publisher could use.
func subgroupHeaderType(obj wire.SubgroupObject) wire.SubgroupHeaderType {
	if len(obj.Extensions) > 0 {
		return wire.SubgroupHeaderType(0x15)
	}
	return wire.SubgroupHeaderType(0x14)
}
