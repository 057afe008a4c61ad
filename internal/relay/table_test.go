package relay

import (
	"testing"

	"github.com/moqtgo/moqt/internal/wire"
)

func TestPublishAndLookup(t *testing.T) {
	t.Parallel()
	tbl := NewTable(nil)
	ns := wire.TrackNamespace{"live", "camera"}

	tr, ok := tbl.Publish(ns, "video", 7)
	if !ok {
		t.Fatal("expected Publish to succeed")
	}
	if tr.Alias() != 7 {
		t.Fatalf("alias = %d, want 7", tr.Alias())
	}

	got, found := tbl.Lookup(ns, "video")
	if !found || got != tr {
		t.Fatal("Lookup did not return the published track")
	}
}

func TestPublishDuplicateRejected(t *testing.T) {
	t.Parallel()
	tbl := NewTable(nil)
	ns := wire.TrackNamespace{"live"}

	if _, ok := tbl.Publish(ns, "video", 1); !ok {
		t.Fatal("first publish should succeed")
	}
	if _, ok := tbl.Publish(ns, "video", 2); ok {
		t.Fatal("duplicate publish should be rejected")
	}
}

func TestUnpublishRemovesTrackAndClosesSubscribers(t *testing.T) {
	t.Parallel()
	tbl := NewTable(nil)
	ns := wire.TrackNamespace{"live"}
	tr, _ := tbl.Publish(ns, "video", 1)

	sub := newFakeSubscriber("viewer-1")
	tr.AddSubscriber(sub)

	tbl.Unpublish(ns, "video", wire.ErrorCodeInternal, "source gone")

	if _, found := tbl.Lookup(ns, "video"); found {
		t.Fatal("track should be gone after Unpublish")
	}
	if !sub.closed {
		t.Fatal("subscriber should have been closed")
	}
	if sub.closeReason != "source gone" {
		t.Fatalf("close reason = %q, want %q", sub.closeReason, "source gone")
	}
}

func TestListReturnsAllPublishedTracks(t *testing.T) {
	t.Parallel()
	tbl := NewTable(nil)
	tbl.Publish(wire.TrackNamespace{"a"}, "x", 1)
	tbl.Publish(wire.TrackNamespace{"b"}, "y", 2)

	tracks := tbl.List()
	if len(tracks) != 2 {
		t.Fatalf("List returned %d tracks, want 2", len(tracks))
	}
}

func TestTrackKeyDistinguishesNamespaceBoundaries(t *testing.T) {
	t.Parallel()
	// {"a", "b"}/"c" must not collide with {"a"}/"bc" or similar joins.
	k1 := trackKey(wire.TrackNamespace{"a", "b"}, "c")
	k2 := trackKey(wire.TrackNamespace{"a"}, "bc")
	if k1 == k2 {
		t.Fatalf("distinct namespace/name pairs produced the same key %q", k1)
	}
}
