package session

// requestResult is the value delivered to a caller blocked on a pending
// request, once the peer resolves it with a success or error response.
type requestResult struct {
	ok  any // *wire.SubscribeOK, *wire.PublishOK, *wire.FetchOK, or *wire.RequestOK
	err error
}

// awaiterTable maps an outstanding local request id to the one-shot
// channel its eventual response will be delivered on. It mirrors a
// future-per-request-id registry, expressed with channels since nothing
// here needs an async/await runtime.
type awaiterTable struct {
	pending map[uint64]chan requestResult
}

func newAwaiterTable() *awaiterTable {
	return &awaiterTable{pending: make(map[uint64]chan requestResult)}
}

// register creates the channel a caller will block on for requestID.
// resolve removes the entry itself; a caller that stops waiting before
// resolve fires must call forget to avoid leaking the map entry.
func (t *awaiterTable) register(requestID uint64) chan requestResult {
	ch := make(chan requestResult, 1)
	t.pending[requestID] = ch
	return ch
}

func (t *awaiterTable) forget(requestID uint64) {
	delete(t.pending, requestID)
}

// resolve delivers a result to the awaiter for requestID, if one is
// registered. It reports whether a waiter was found.
func (t *awaiterTable) resolve(requestID uint64, ok any, err error) bool {
	ch, found := t.pending[requestID]
	if !found {
		return false
	}
	ch <- requestResult{ok: ok, err: err}
	delete(t.pending, requestID)
	return true
}

// resolveAll delivers err to every outstanding awaiter, used when the
// session closes out from under them.
func (t *awaiterTable) resolveAll(err error) {
	for id, ch := range t.pending {
		ch <- requestResult{err: err}
		delete(t.pending, id)
	}
}
