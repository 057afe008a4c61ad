package wire

import (
	"bytes"
	"testing"
)

func TestDatagramTypePredicates(t *testing.T) {
	t.Parallel()
	cases := []struct {
		typ          DatagramType
		hasObjectID  bool
		hasExt       bool
		hasPriority  bool
		isEndOfGroup bool
		hasStatus    bool
	}{
		{DatagramObjectIDPriorityPayload, true, false, true, false, false},
		{DatagramObjectIDPriorityExtPayload, true, true, true, false, false},
		{DatagramObjectIDPriorityEndPayload, true, false, true, true, false},
		{DatagramNoObjectIDPriorityPayload, false, false, true, false, false},
		{DatagramObjectIDNoPriorityPayload, true, false, false, false, false},
		{DatagramNoObjectIDNoPriorityPayload, false, false, false, false, false},
		{DatagramObjectIDPriorityStatus, true, false, true, false, true},
		{DatagramNoObjectIDNoPriorityExtStatus, false, true, false, false, true},
	}
	for _, c := range cases {
		if got := c.typ.hasObjectID(); got != c.hasObjectID {
			t.Errorf("type %#x hasObjectID = %v, want %v", byte(c.typ), got, c.hasObjectID)
		}
		if got := c.typ.hasExtensions(); got != c.hasExt {
			t.Errorf("type %#x hasExtensions = %v, want %v", byte(c.typ), got, c.hasExt)
		}
		if got := c.typ.hasPriority(); got != c.hasPriority {
			t.Errorf("type %#x hasPriority = %v, want %v", byte(c.typ), got, c.hasPriority)
		}
		if got := c.typ.isEndOfGroup(); got != c.isEndOfGroup {
			t.Errorf("type %#x isEndOfGroup = %v, want %v", byte(c.typ), got, c.isEndOfGroup)
		}
		if got := c.typ.hasStatus(); got != c.hasStatus {
			t.Errorf("type %#x hasStatus = %v, want %v", byte(c.typ), got, c.hasStatus)
		}
	}
}

func TestObjectDatagramRoundTripPayload(t *testing.T) {
	t.Parallel()
	d := ObjectDatagram{
		Type:       DatagramObjectIDPriorityExtPayload,
		TrackAlias: 7,
		GroupID:    1,
		ObjectID:   3,
		Priority:   128,
		Extensions: ObjectExtensions{LocExtCaptureTimestamp: AppendVarInt(nil, 1000)},
		Payload:    []byte("frame-data"),
	}
	enc, err := EncodeObjectDatagram(d)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeObjectDatagram(enc)
	if err != nil {
		t.Fatal(err)
	}
	if got.TrackAlias != d.TrackAlias || got.GroupID != d.GroupID || got.ObjectID != d.ObjectID {
		t.Fatalf("got %+v, want %+v", got, d)
	}
	if !bytes.Equal(got.Payload, d.Payload) {
		t.Fatalf("payload = %q, want %q", got.Payload, d.Payload)
	}
	ts, ok := got.Extensions[LocExtCaptureTimestamp]
	if !ok {
		t.Fatal("missing capture timestamp extension")
	}
	v, _, _ := ParseVarInt(ts)
	if v != 1000 {
		t.Fatalf("capture timestamp = %d, want 1000", v)
	}
}

func TestObjectDatagramRoundTripStatus(t *testing.T) {
	t.Parallel()
	d := ObjectDatagram{
		Type:       DatagramObjectIDPriorityStatus,
		TrackAlias: 1,
		GroupID:    2,
		ObjectID:   0,
		Priority:   0,
		Status:     ObjectStatusEndOfTrack,
	}
	enc, err := EncodeObjectDatagram(d)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeObjectDatagram(enc)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != ObjectStatusEndOfTrack {
		t.Fatalf("status = %d, want %d", got.Status, ObjectStatusEndOfTrack)
	}
}

func TestUnknownDatagramType(t *testing.T) {
	t.Parallel()
	_, err := DecodeObjectDatagram([]byte{0x1f})
	if err == nil {
		t.Fatal("expected error for unregistered datagram type")
	}
}

func TestSubgroupHeaderRoundTripPresent(t *testing.T) {
	t.Parallel()
	h := SubgroupHeader{
		Type:       SubgroupHeaderType(0x1d),
		TrackAlias: 9,
		GroupID:    4,
		SubgroupID: 2,
		Priority:   50,
	}
	enc, err := EncodeSubgroupHeader(h)
	if err != nil {
		t.Fatal(err)
	}
	got, n, err := DecodeSubgroupHeader(enc)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(enc) {
		t.Fatalf("consumed %d, want %d", n, len(enc))
	}
	if got.SubgroupID != 2 || got.Priority != 50 {
		t.Fatalf("got %+v, want %+v", got, h)
	}
}

func TestSubgroupObjectRoundTripPayload(t *testing.T) {
	t.Parallel()
	o := SubgroupObject{ObjectIDDelta: 1, Payload: []byte("abc")}
	enc := EncodeSubgroupObject(o, false)
	got, n, err := DecodeSubgroupObject(enc, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(enc) {
		t.Fatalf("consumed %d, want %d", n, len(enc))
	}
	if !bytes.Equal(got.Payload, o.Payload) {
		t.Fatalf("payload = %q, want %q", got.Payload, o.Payload)
	}
}

func TestSubgroupObjectRoundTripEndOfGroup(t *testing.T) {
	t.Parallel()
	o := SubgroupObject{ObjectIDDelta: 2, EndOfGroup: true}
	enc := EncodeSubgroupObject(o, false)
	got, _, err := DecodeSubgroupObject(enc, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if !got.EndOfGroup {
		t.Fatal("expected EndOfGroup = true")
	}
}

func TestSubgroupObjectRoundTripExplicitNormalStatus(t *testing.T) {
	t.Parallel()
	o := SubgroupObject{ObjectIDDelta: 3, HasStatus: true, Status: ObjectStatusNormal}
	enc := EncodeSubgroupObject(o, false)
	if len(enc) < 2 {
		t.Fatalf("encoded %d bytes, want at least a payload_length and a status byte", len(enc))
	}
	got, n, err := DecodeSubgroupObject(enc, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(enc) {
		t.Fatalf("consumed %d, want %d", n, len(enc))
	}
	if !got.HasStatus || got.Status != ObjectStatusNormal {
		t.Fatalf("got HasStatus=%v Status=%d, want HasStatus=true Status=%d", got.HasStatus, got.Status, ObjectStatusNormal)
	}
	if len(got.Payload) != 0 {
		t.Fatalf("payload = %q, want empty", got.Payload)
	}
}

func TestFetchHeaderRoundTrip(t *testing.T) {
	t.Parallel()
	h := FetchHeader{RequestID: 42}
	enc := EncodeFetchHeader(h)
	got, _, err := DecodeFetchHeader(enc)
	if err != nil {
		t.Fatal(err)
	}
	if got.RequestID != 42 {
		t.Fatalf("request id = %d, want 42", got.RequestID)
	}
}

func TestFetchObjectSequenceDeltaEncoding(t *testing.T) {
	t.Parallel()
	objects := []FetchObject{
		{GroupID: 1, SubgroupID: 0, ObjectID: 0, Priority: 10, Payload: []byte("a")},
		{GroupID: 1, SubgroupID: 0, ObjectID: 1, Priority: 10, Payload: []byte("b")},
		{GroupID: 1, SubgroupID: 0, ObjectID: 2, Priority: 10, EndOfGroup: true},
		{GroupID: 2, SubgroupID: 0, ObjectID: 0, Priority: 10, Payload: []byte("c")},
	}

	var stream []byte
	var prior FetchPriorState
	for i, o := range objects {
		stream = append(stream, EncodeFetchObject(o, prior, i == 0)...)
		prior = FetchPriorState{GroupID: o.GroupID, SubgroupID: o.SubgroupID, ObjectID: o.ObjectID, Priority: o.Priority}
	}

	var got []FetchObject
	prior = FetchPriorState{}
	offset := 0
	for i := range objects {
		o, next, err := DecodeFetchObject(stream, offset, prior, i == 0)
		if err != nil {
			t.Fatalf("object %d: %v", i, err)
		}
		got = append(got, o)
		prior = FetchPriorState{GroupID: o.GroupID, SubgroupID: o.SubgroupID, ObjectID: o.ObjectID, Priority: o.Priority}
		offset = next
	}

	for i, want := range objects {
		if got[i].GroupID != want.GroupID || got[i].ObjectID != want.ObjectID || got[i].EndOfGroup != want.EndOfGroup {
			t.Fatalf("object %d = %+v, want %+v", i, got[i], want)
		}
		if !bytes.Equal(got[i].Payload, want.Payload) {
			t.Fatalf("object %d payload = %q, want %q", i, got[i].Payload, want.Payload)
		}
	}
}

func TestFetchObjectFirstObjectMustBeExplicit(t *testing.T) {
	t.Parallel()
	// flags byte with no bits set: first object with every field implicit.
	stream := []byte{0x00, 0x00}
	_, _, err := DecodeFetchObject(stream, 0, FetchPriorState{}, true)
	if err == nil {
		t.Fatal("expected error for first object with implicit fields")
	}
}
