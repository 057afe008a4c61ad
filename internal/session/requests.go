package session

import (
	"context"
	"fmt"

	"github.com/moqtgo/moqt/internal/wire"
)

// Subscribe sends SUBSCRIBE and blocks for SUBSCRIBE_OK or a
// REQUEST_ERROR naming this request id.
func (s *Session) Subscribe(ctx context.Context, namespace wire.TrackNamespace, trackName string, filterType uint64, start, end wire.Location, params []wire.Parameter) (wire.SubscribeOK, error) {
	id, err := s.allocateRequestID()
	if err != nil {
		return wire.SubscribeOK{}, err
	}
	sub := wire.Subscribe{
		RequestID:  id,
		Namespace:  namespace,
		TrackName:  trackName,
		GroupOrder: wire.GroupOrderDefault,
		FilterType: filterType,
		StartGroup: start.Group,
		StartObj:   start.Object,
		EndGroup:   end.Group,
		Parameters: params,
	}
	res, err := s.issue(ctx, id, wire.MsgSubscribe, wire.SerializeSubscribe(sub))
	if err != nil {
		return wire.SubscribeOK{}, err
	}
	sok, ok := res.(*wire.SubscribeOK)
	if !ok {
		return wire.SubscribeOK{}, &ProtocolError{Reason: "SUBSCRIBE resolved with unexpected response type"}
	}
	return *sok, nil
}

// Unsubscribe sends UNSUBSCRIBE for a previously granted subscription.
// It does not wait for any response; the peer may still deliver objects
// already in flight.
func (s *Session) Unsubscribe(requestID uint64) error {
	return s.writeControl(wire.MsgUnsubscribe, wire.SerializeUnsubscribe(wire.Unsubscribe{RequestID: requestID}))
}

// Publish sends PUBLISH, offering trackAlias for the named track, and
// blocks for PUBLISH_OK or REQUEST_ERROR.
func (s *Session) Publish(ctx context.Context, trackAlias uint64, namespace wire.TrackNamespace, trackName string, params []wire.Parameter) (wire.PublishOK, error) {
	id, err := s.allocateRequestID()
	if err != nil {
		return wire.PublishOK{}, err
	}
	p := wire.Publish{
		RequestID:  id,
		TrackAlias: trackAlias,
		Namespace:  namespace,
		TrackName:  trackName,
		Parameters: params,
	}
	res, err := s.issue(ctx, id, wire.MsgPublish, wire.SerializePublish(p))
	if err != nil {
		return wire.PublishOK{}, err
	}
	ok, valid := res.(*wire.PublishOK)
	if !valid {
		return wire.PublishOK{}, &ProtocolError{Reason: "PUBLISH resolved with unexpected response type"}
	}
	return *ok, nil
}

// Fetch sends FETCH for a bounded object range and blocks for FETCH_OK
// or REQUEST_ERROR.
func (s *Session) Fetch(ctx context.Context, namespace wire.TrackNamespace, trackName string, start, end wire.Location, params []wire.Parameter) (wire.FetchOK, error) {
	id, err := s.allocateRequestID()
	if err != nil {
		return wire.FetchOK{}, err
	}
	f := wire.Fetch{
		RequestID:  id,
		Namespace:  namespace,
		TrackName:  trackName,
		Start:      start,
		End:        end,
		Parameters: params,
	}
	res, err := s.issue(ctx, id, wire.MsgFetch, wire.SerializeFetch(f))
	if err != nil {
		return wire.FetchOK{}, err
	}
	ok, valid := res.(*wire.FetchOK)
	if !valid {
		return wire.FetchOK{}, &ProtocolError{Reason: "FETCH resolved with unexpected response type"}
	}
	return *ok, nil
}

// FetchCancel aborts an in-flight FETCH.
func (s *Session) FetchCancel(requestID uint64) error {
	return s.writeControl(wire.MsgFetchCancel, wire.SerializeFetchCancel(wire.FetchCancel{RequestID: requestID}))
}

// PublishNamespace announces a namespace and blocks for the generic
// REQUEST_OK/REQUEST_ERROR response.
func (s *Session) PublishNamespace(ctx context.Context, namespace wire.TrackNamespace, params []wire.Parameter) (wire.RequestOK, error) {
	id, err := s.allocateRequestID()
	if err != nil {
		return wire.RequestOK{}, err
	}
	pn := wire.PublishNamespace{RequestID: id, Namespace: namespace, Parameters: params}
	res, err := s.issue(ctx, id, wire.MsgPublishNamespace, wire.SerializePublishNamespace(pn))
	if err != nil {
		return wire.RequestOK{}, err
	}
	ok, valid := res.(*wire.RequestOK)
	if !valid {
		return wire.RequestOK{}, &ProtocolError{Reason: "PUBLISH_NAMESPACE resolved with unexpected response type"}
	}
	return *ok, nil
}

// PublishNamespaceCancel withdraws an announced namespace.
func (s *Session) PublishNamespaceCancel(requestID uint64) error {
	return s.writeControl(wire.MsgPublishNamespaceCancel, wire.SerializePublishNamespaceCancel(wire.PublishNamespaceCancel{RequestID: requestID}))
}

// SubscribeNamespace registers interest in PUBLISH_NAMESPACE
// announcements under a prefix, blocking for REQUEST_OK/REQUEST_ERROR.
func (s *Session) SubscribeNamespace(ctx context.Context, prefix wire.TrackNamespace, params []wire.Parameter) (wire.RequestOK, error) {
	id, err := s.allocateRequestID()
	if err != nil {
		return wire.RequestOK{}, err
	}
	sn := wire.SubscribeNamespace{RequestID: id, NamespacePrefix: prefix, Parameters: params}
	res, err := s.issue(ctx, id, wire.MsgSubscribeNamespace, wire.SerializeSubscribeNamespace(sn))
	if err != nil {
		return wire.RequestOK{}, err
	}
	ok, valid := res.(*wire.RequestOK)
	if !valid {
		return wire.RequestOK{}, &ProtocolError{Reason: "SUBSCRIBE_NAMESPACE resolved with unexpected response type"}
	}
	return *ok, nil
}

// UnsubscribeNamespace cancels a prior SubscribeNamespace registration.
func (s *Session) UnsubscribeNamespace(requestID uint64) error {
	return s.writeControl(wire.MsgUnsubscribeNamespace, wire.SerializeUnsubscribeNamespace(wire.UnsubscribeNamespace{RequestID: requestID}))
}

// issue registers an awaiter for id, writes msgType/payload, and blocks
// until the response arrives or ctx is done.
func (s *Session) issue(ctx context.Context, id uint64, msgType uint64, payload []byte) (any, error) {
	s.mu.Lock()
	resultCh := s.awaiters.register(id)
	s.mu.Unlock()

	if err := s.writeControl(msgType, payload); err != nil {
		s.mu.Lock()
		s.awaiters.forget(id)
		s.mu.Unlock()
		return nil, fmt.Errorf("write request: %w", err)
	}

	select {
	case res := <-resultCh:
		return res.ok, res.err
	case <-ctx.Done():
		s.mu.Lock()
		s.awaiters.forget(id)
		s.mu.Unlock()
		return nil, ctx.Err()
	}
}

// ---- responder helpers: reply to a request delivered to Handler -----------

// RespondOK sends the generic REQUEST_OK for a namespace-family request.
func (s *Session) RespondOK(requestID uint64, params []wire.Parameter) error {
	return s.writeControl(wire.MsgRequestOK, wire.SerializeRequestOK(wire.RequestOK{RequestID: requestID, Parameters: params}))
}

// RespondError sends REQUEST_ERROR rejecting any outstanding request.
func (s *Session) RespondError(requestID, errorCode uint64, reason string) error {
	re := wire.RequestError{RequestID: requestID, ErrorCode: errorCode, ReasonPhrase: reason}
	return s.writeControl(wire.MsgRequestError, wire.SerializeRequestError(re))
}

// SendSubscribeOK grants a SUBSCRIBE request.
func (s *Session) SendSubscribeOK(ok wire.SubscribeOK) error {
	return s.writeControl(wire.MsgSubscribeOK, wire.SerializeSubscribeOK(ok))
}

// SendPublishOK grants a PUBLISH request.
func (s *Session) SendPublishOK(ok wire.PublishOK) error {
	return s.writeControl(wire.MsgPublishOK, wire.SerializePublishOK(ok))
}

// SendPublishDone announces a published track has stopped.
func (s *Session) SendPublishDone(pd wire.PublishDone) error {
	return s.writeControl(wire.MsgPublishDone, wire.SerializePublishDone(pd))
}

// SendFetchOK grants a FETCH request.
func (s *Session) SendFetchOK(ok wire.FetchOK) error {
	return s.writeControl(wire.MsgFetchOK, wire.SerializeFetchOK(ok))
}

// SendTrackStatus reports a track's current status in reply to a
// TRACK_STATUS request, or unsolicited.
func (s *Session) SendTrackStatus(ts wire.TrackStatus) error {
	return s.writeControl(wire.MsgTrackStatus, wire.SerializeTrackStatus(ts))
}

// SendPublishNamespaceDone withdraws a namespace this endpoint announced.
func (s *Session) SendPublishNamespaceDone(pd wire.PublishNamespaceDone) error {
	return s.writeControl(wire.MsgPublishNamespaceDone, wire.SerializePublishNamespaceDone(pd))
}

// SendRequestsBlocked advises the peer this endpoint wants a higher
// request-ID ceiling than it currently has.
func (s *Session) SendRequestsBlocked(maxID uint64) error {
	return s.writeControl(wire.MsgRequestsBlocked, wire.SerializeRequestsBlocked(maxID))
}

// NextTrackAlias allocates a locally-unique track alias for an outbound
// PUBLISH or a SUBSCRIBE_OK this endpoint grants.
func (s *Session) NextTrackAlias() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTrackAlias++
	return s.nextTrackAlias
}
