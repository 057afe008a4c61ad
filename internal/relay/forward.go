package relay

import "github.com/moqtgo/moqt/internal/wire"

// Subscriber is the interface a relay-side subscriber handle must
// implement to receive forwarded objects. Implementations typically wrap
// a per-(group,subgroup) outbound stream opened lazily on first object,
// the way a live session opens its data streams.
type Subscriber interface {
	ID() string
	SendObject(groupID, subgroupID uint64, obj wire.SubgroupObject) error
	Close(statusCode uint64, reason string)
}

// AddSubscriber replays the cached trailing groups to sub, then registers
// it for live forwarding. Replay happens before registration so Forward
// cannot interleave a live object ahead of the replay.
func (tr *Track) AddSubscriber(sub Subscriber) {
	tr.replayCache(sub)

	tr.mu.Lock()
	tr.subscribers[sub.ID()] = sub
	tr.mu.Unlock()

	tr.log.Info("subscriber added", "subscriber", sub.ID(), "subscribers", tr.SubscriberCount())
}

// RemoveSubscriber unregisters a subscriber by ID. It does not close the
// subscriber; the caller owns that lifecycle.
func (tr *Track) RemoveSubscriber(id string) {
	tr.mu.Lock()
	delete(tr.subscribers, id)
	tr.mu.Unlock()

	tr.log.Info("subscriber removed", "subscriber", id, "subscribers", tr.SubscriberCount())
}

func (tr *Track) replayCache(sub Subscriber) {
	tr.cacheMu.RLock()
	defer tr.cacheMu.RUnlock()

	for _, g := range tr.groups {
		for _, co := range g.objects {
			if err := sub.SendObject(g.groupID, co.subgroupID, co.obj); err != nil {
				tr.log.Warn("cache replay failed", "subscriber", sub.ID(), "error", err)
				return
			}
		}
	}
}

// Forward delivers obj to every registered subscriber and appends it to
// the trailing-group cache, evicting groups older than groupCacheSize.
// objectID is the object's absolute position within its group, tracked
// separately from obj.ObjectIDDelta since that field is relative to the
// previous object on the same subgroup stream, not an absolute index.
func (tr *Track) Forward(groupID, subgroupID, objectID uint64, obj wire.SubgroupObject) {
	tr.appendCache(groupID, subgroupID, objectID, obj)

	tr.mu.RLock()
	defer tr.mu.RUnlock()
	for _, sub := range tr.subscribers {
		if err := sub.SendObject(groupID, subgroupID, obj); err != nil {
			tr.log.Warn("forward failed", "subscriber", sub.ID(), "error", err)
		}
	}
}

func (tr *Track) appendCache(groupID, subgroupID, objectID uint64, obj wire.SubgroupObject) {
	tr.cacheMu.Lock()
	defer tr.cacheMu.Unlock()

	tr.largestLoc = wire.Location{Group: groupID, Object: objectID}
	tr.hasLargest = true

	if n := len(tr.groups); n > 0 && tr.groups[n-1].groupID == groupID {
		tr.groups[n-1].objects = append(tr.groups[n-1].objects, cachedObject{subgroupID: subgroupID, obj: obj})
		return
	}

	tr.groups = append(tr.groups, cachedGroup{
		groupID: groupID,
		objects: []cachedObject{{subgroupID: subgroupID, obj: obj}},
	})
	if len(tr.groups) > groupCacheSize {
		tr.groups = tr.groups[len(tr.groups)-groupCacheSize:]
	}
}

// closeAllSubscribers closes and clears every registered subscriber, used
// when the track is unpublished.
func (tr *Track) closeAllSubscribers(statusCode uint64, reason string) {
	tr.mu.Lock()
	subs := make([]Subscriber, 0, len(tr.subscribers))
	for _, sub := range tr.subscribers {
		subs = append(subs, sub)
	}
	tr.subscribers = make(map[string]Subscriber)
	tr.mu.Unlock()

	for _, sub := range subs {
		sub.Close(statusCode, reason)
	}
}
