// Package relay holds the track table and fan-out logic a MoQ relay or
// origin uses to distribute one publisher's objects to many subscribers.
// Table and Track have no transport dependency: callers implement
// [Subscriber] however their session/stream plumbing works. [Endpoint] is
// the package's Subscriber backed by a transport.Connection.
package relay

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/moqtgo/moqt/internal/wire"
)

// groupCacheSize bounds how many trailing groups a Track keeps around for
// late-joining subscribers that ask for the latest group or object.
const groupCacheSize = 2

// Table is the registry of published tracks, keyed by (namespace, track
// name). It is safe for concurrent use.
type Table struct {
	log    *slog.Logger
	mu     sync.RWMutex
	tracks map[string]*Track
}

// NewTable creates an empty Table. If log is nil, slog.Default() is used.
func NewTable(log *slog.Logger) *Table {
	if log == nil {
		log = slog.Default()
	}
	return &Table{
		log:    log.With("component", "relay-table"),
		tracks: make(map[string]*Track),
	}
}

func trackKey(ns wire.TrackNamespace, name string) string {
	return strings.Join(ns, "\x00") + "\x01" + name
}

// Publish registers a new track under (ns, name) with the given track
// alias. Returns the Track and true, or nil and false if one is already
// published under that identity.
func (t *Table) Publish(ns wire.TrackNamespace, name string, alias uint64) (*Track, bool) {
	key := trackKey(ns, name)

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.tracks[key]; exists {
		t.log.Warn("track already published, rejecting duplicate", "namespace", ns, "name", name)
		return nil, false
	}

	tr := &Track{
		log:         t.log.With("namespace", fmt.Sprint(ns), "track", name),
		namespace:   ns,
		name:        name,
		alias:       alias,
		subscribers: make(map[string]Subscriber),
	}
	t.tracks[key] = tr
	t.log.Info("track published", "namespace", ns, "name", name, "alias", alias)
	return tr, true
}

// Unpublish removes a track, closing every remaining subscriber with the
// given status so they know the source went away.
func (t *Table) Unpublish(ns wire.TrackNamespace, name string, statusCode uint64, reason string) {
	key := trackKey(ns, name)

	t.mu.Lock()
	tr, ok := t.tracks[key]
	if ok {
		delete(t.tracks, key)
	}
	t.mu.Unlock()

	if !ok {
		return
	}
	tr.closeAllSubscribers(statusCode, reason)
	t.log.Info("track unpublished", "namespace", ns, "name", name)
}

// Lookup returns the Track for (ns, name), if published.
func (t *Table) Lookup(ns wire.TrackNamespace, name string) (*Track, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tr, ok := t.tracks[trackKey(ns, name)]
	return tr, ok
}

// List returns every currently published track.
func (t *Table) List() []*Track {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tracks := make([]*Track, 0, len(t.tracks))
	for _, tr := range t.tracks {
		tracks = append(tracks, tr)
	}
	return tracks
}

// Track is one published track's subscriber set and trailing-group cache.
type Track struct {
	log       *slog.Logger
	namespace wire.TrackNamespace
	name      string
	alias     uint64

	mu          sync.RWMutex
	subscribers map[string]Subscriber

	cacheMu     sync.RWMutex
	groups      []cachedGroup
	largestLoc  wire.Location
	hasLargest  bool
}

type cachedGroup struct {
	groupID uint64
	objects []cachedObject
}

type cachedObject struct {
	subgroupID uint64
	obj        wire.SubgroupObject
}

// Namespace returns the track's namespace tuple.
func (tr *Track) Namespace() wire.TrackNamespace { return tr.namespace }

// Name returns the track's name within its namespace.
func (tr *Track) Name() string { return tr.name }

// Alias returns the track alias objects on this track carry on the wire.
func (tr *Track) Alias() uint64 { return tr.alias }

// LargestLocation reports the (group, object) of the most recent object
// forwarded through this track, for SUBSCRIBE_OK's ContentExists fields.
func (tr *Track) LargestLocation() (wire.Location, bool) {
	tr.cacheMu.RLock()
	defer tr.cacheMu.RUnlock()
	return tr.largestLoc, tr.hasLargest
}

// SubscriberCount returns the number of currently registered subscribers.
func (tr *Track) SubscriberCount() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.subscribers)
}
