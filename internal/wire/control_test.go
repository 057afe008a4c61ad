package wire

import (
	"bytes"
	"testing"
)

func TestControlMsgRoundTrip(t *testing.T) {
	t.Parallel()
	payload := []byte("hello")
	var buf bytes.Buffer
	if err := WriteControlMsg(&buf, MsgClientSetup, payload); err != nil {
		t.Fatal(err)
	}

	msgType, got, err := ReadControlMsg(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if msgType != MsgClientSetup {
		t.Fatalf("message type = %#x, want %#x", msgType, MsgClientSetup)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload = %q, want %q", got, payload)
	}
}

func TestControlMsgEmptyPayload(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	if err := WriteControlMsg(&buf, MsgGoAway, nil); err != nil {
		t.Fatal(err)
	}

	msgType, got, err := ReadControlMsg(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if msgType != MsgGoAway {
		t.Fatalf("message type = %#x, want %#x", msgType, MsgGoAway)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty payload, got %d bytes", len(got))
	}
}

func TestControlMsgTooLarge(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	err := WriteControlMsg(&buf, MsgGoAway, make([]byte, 0x10000))
	if err != ErrPayloadTooLarge {
		t.Fatalf("err = %v, want ErrPayloadTooLarge", err)
	}
}

func TestControlMsgTruncatedType(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	_, _, err := ReadControlMsg(&buf)
	if err == nil {
		t.Fatal("expected error on empty input")
	}
}

func TestClientSetupRoundTrip(t *testing.T) {
	t.Parallel()
	cs := ClientSetup{
		SupportedVersions: []uint64{Version},
		Path:              "/moq",
		HasPath:           true,
		MaxRequestID:      100,
	}
	got, err := ParseClientSetup(SerializeClientSetup(cs))
	if err != nil {
		t.Fatal(err)
	}
	if len(got.SupportedVersions) != 1 || got.SupportedVersions[0] != Version {
		t.Fatalf("versions = %v, want [%#x]", got.SupportedVersions, Version)
	}
	if !got.HasPath || got.Path != "/moq" {
		t.Fatalf("path = %q (has=%v), want /moq", got.Path, got.HasPath)
	}
	if got.MaxRequestID != 100 {
		t.Fatalf("max request id = %d, want 100", got.MaxRequestID)
	}
}

func TestClientSetupPreservesUnknownParams(t *testing.T) {
	t.Parallel()
	cs := ClientSetup{
		SupportedVersions: []uint64{Version},
		UnknownParams:     []Parameter{{Type: 0x07, Value: []byte("prism/1.0")}},
	}
	got, err := ParseClientSetup(SerializeClientSetup(cs))
	if err != nil {
		t.Fatal(err)
	}
	if len(got.UnknownParams) != 1 || string(got.UnknownParams[0].Value) != "prism/1.0" {
		t.Fatalf("unknown params = %v, want preserved moqt_implementation", got.UnknownParams)
	}
}

func TestServerSetupRoundTrip(t *testing.T) {
	t.Parallel()
	ss := ServerSetup{SelectedVersion: Version, MaxRequestID: 50}
	got, err := ParseServerSetup(SerializeServerSetup(ss))
	if err != nil {
		t.Fatal(err)
	}
	if got.SelectedVersion != Version || got.MaxRequestID != 50 {
		t.Fatalf("got %+v, want %+v", got, ss)
	}
}

func TestSubscribeRoundTripAbsoluteRange(t *testing.T) {
	t.Parallel()
	s := Subscribe{
		RequestID:  4,
		Namespace:  TrackNamespace{"prism", "stream-1"},
		TrackName:  "video",
		Priority:   10,
		GroupOrder: GroupOrderAscending,
		Forward:    1,
		FilterType: FilterAbsoluteRange,
		StartGroup: 5,
		StartObj:   0,
		EndGroup:   10,
	}
	got, err := ParseSubscribe(SerializeSubscribe(s))
	if err != nil {
		t.Fatal(err)
	}
	if got.RequestID != s.RequestID || got.TrackName != s.TrackName {
		t.Fatalf("got %+v, want %+v", got, s)
	}
	if len(got.Namespace) != 2 || got.Namespace[1] != "stream-1" {
		t.Fatalf("namespace = %v", got.Namespace)
	}
	if got.StartGroup != 5 || got.EndGroup != 10 {
		t.Fatalf("range = [%d,%d], want [5,10]", got.StartGroup, got.EndGroup)
	}
}

func TestSubscribeOKContentExists(t *testing.T) {
	t.Parallel()
	sok := SubscribeOK{
		RequestID:     4,
		TrackAlias:    7,
		Expires:       0,
		GroupOrder:    GroupOrderAscending,
		ContentExists: true,
		LargestGroup:  3,
		LargestObj:    2,
	}
	got, err := ParseSubscribeOK(SerializeSubscribeOK(sok))
	if err != nil {
		t.Fatal(err)
	}
	if !got.ContentExists || got.LargestGroup != 3 || got.LargestObj != 2 {
		t.Fatalf("got %+v, want %+v", got, sok)
	}
}

func TestSubscribeOKNoContent(t *testing.T) {
	t.Parallel()
	sok := SubscribeOK{RequestID: 1, TrackAlias: 2, ContentExists: false}
	got, err := ParseSubscribeOK(SerializeSubscribeOK(sok))
	if err != nil {
		t.Fatal(err)
	}
	if got.ContentExists {
		t.Fatal("expected ContentExists = false")
	}
}

func TestRequestErrorRoundTrip(t *testing.T) {
	t.Parallel()
	re := RequestError{RequestID: 9, ErrorCode: ErrorCodeProtocolViolation, ReasonPhrase: "bad namespace"}
	got, err := ParseRequestError(SerializeRequestError(re))
	if err != nil {
		t.Fatal(err)
	}
	if got != re {
		t.Fatalf("got %+v, want %+v", got, re)
	}
}

func TestFetchRoundTrip(t *testing.T) {
	t.Parallel()
	f := Fetch{
		RequestID: 3,
		Namespace: TrackNamespace{"prism", "s1"},
		TrackName: "video",
		Start:     Location{Group: 1, Object: 0},
		End:       Location{Group: 5, Object: 9},
	}
	got, err := ParseFetch(SerializeFetch(f))
	if err != nil {
		t.Fatal(err)
	}
	if got.Start != f.Start || got.End != f.End {
		t.Fatalf("got range [%v,%v], want [%v,%v]", got.Start, got.End, f.Start, f.End)
	}
}

func TestTrackStatusRoundTrip(t *testing.T) {
	t.Parallel()
	ts := TrackStatus{
		RequestID:  1,
		StatusCode: TrackStatusInProgress,
		Namespace:  TrackNamespace{"prism"},
		TrackName:  "video",
	}
	got, err := ParseTrackStatus(SerializeTrackStatus(ts))
	if err != nil {
		t.Fatal(err)
	}
	if got.StatusCode != TrackStatusInProgress {
		t.Fatalf("status code = %d, want %d", got.StatusCode, TrackStatusInProgress)
	}
}

func TestPublishNamespaceFamily(t *testing.T) {
	t.Parallel()

	pn := PublishNamespace{RequestID: 1, Namespace: TrackNamespace{"prism"}}
	gotPN, err := ParsePublishNamespace(SerializePublishNamespace(pn))
	if err != nil {
		t.Fatal(err)
	}
	if len(gotPN.Namespace) != 1 || gotPN.Namespace[0] != "prism" {
		t.Fatalf("namespace = %v", gotPN.Namespace)
	}

	pd := PublishNamespaceDone{RequestID: 1, StatusCode: 0, ReasonPhrase: "done"}
	gotPD, err := ParsePublishNamespaceDone(SerializePublishNamespaceDone(pd))
	if err != nil {
		t.Fatal(err)
	}
	if gotPD.ReasonPhrase != "done" {
		t.Fatalf("reason phrase = %q, want done", gotPD.ReasonPhrase)
	}
}

func TestParameterParityRoundTrip(t *testing.T) {
	t.Parallel()
	s := Subscribe{
		RequestID: 1,
		Namespace: TrackNamespace{"a"},
		TrackName: "t",
		Parameters: []Parameter{
			{Type: ParamDeliveryTimeout, Value: AppendVarInt(nil, 5000)},
			{Type: ParamAuthorizationToken, Value: []byte("tok")},
		},
	}
	got, err := ParseSubscribe(SerializeSubscribe(s))
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Parameters) != 2 {
		t.Fatalf("got %d parameters, want 2", len(got.Parameters))
	}
	p, ok := findParam(got.Parameters, ParamDeliveryTimeout)
	if !ok {
		t.Fatal("missing delivery_timeout parameter")
	}
	v, err := p.VarIntValue()
	if err != nil || v != 5000 {
		t.Fatalf("delivery_timeout = %d, err %v, want 5000", v, err)
	}
	p, ok = findParam(got.Parameters, ParamAuthorizationToken)
	if !ok || string(p.Value) != "tok" {
		t.Fatalf("authorization_token = %q (ok=%v), want tok", p.Value, ok)
	}
}

func TestUnknownMessageTypeIsCallerResponsibility(t *testing.T) {
	t.Parallel()
	// ReadControlMsg itself never rejects a type; dispatch on unknown
	// types is the session layer's job (it must treat it as fatal, not
	// silently skip it).
	var buf bytes.Buffer
	if err := WriteControlMsg(&buf, 0x7f, nil); err != nil {
		t.Fatal(err)
	}
	msgType, _, err := ReadControlMsg(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if msgType != 0x7f {
		t.Fatalf("message type = %#x, want 0x7f", msgType)
	}
}
