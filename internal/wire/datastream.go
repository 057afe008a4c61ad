package wire

import "fmt"

// Object status codes carried in place of a payload when an object has
// no data of its own (draft-15 §9.8.1).
const (
	ObjectStatusNormal           uint64 = 0x0
	ObjectStatusDoesNotExist     uint64 = 0x1
	ObjectStatusEndOfGroup       uint64 = 0x3
	ObjectStatusEndOfTrack       uint64 = 0x4
)

// DatagramType is the one-byte header of an OBJECT_DATAGRAM stream,
// encoding four independent feature flags as bit tests rather than an
// explicit enum of 24 cases (draft-15 §9.8.2). Keeping the byte opaque
// and testing bits directly is what the draft's own registry does.
type DatagramType byte

const (
	DatagramObjectIDPriorityPayload           DatagramType = 0x00
	DatagramObjectIDPriorityExtPayload        DatagramType = 0x01
	DatagramObjectIDPriorityEndPayload        DatagramType = 0x02
	DatagramObjectIDPriorityEndExtPayload     DatagramType = 0x03
	DatagramNoObjectIDPriorityPayload         DatagramType = 0x04
	DatagramNoObjectIDPriorityExtPayload      DatagramType = 0x05
	DatagramNoObjectIDPriorityEndPayload      DatagramType = 0x06
	DatagramNoObjectIDPriorityEndExtPayload   DatagramType = 0x07
	DatagramObjectIDNoPriorityPayload         DatagramType = 0x08
	DatagramObjectIDNoPriorityExtPayload      DatagramType = 0x09
	DatagramObjectIDNoPriorityEndPayload      DatagramType = 0x0a
	DatagramObjectIDNoPriorityEndExtPayload   DatagramType = 0x0b
	DatagramNoObjectIDNoPriorityPayload       DatagramType = 0x0c
	DatagramNoObjectIDNoPriorityExtPayload    DatagramType = 0x0d
	DatagramNoObjectIDNoPriorityEndPayload    DatagramType = 0x0e
	DatagramNoObjectIDNoPriorityEndExtPayload DatagramType = 0x0f

	DatagramObjectIDPriorityStatus           DatagramType = 0x20
	DatagramObjectIDPriorityExtStatus        DatagramType = 0x21
	DatagramNoObjectIDPriorityStatus         DatagramType = 0x24
	DatagramNoObjectIDPriorityExtStatus      DatagramType = 0x25
	DatagramObjectIDNoPriorityStatus         DatagramType = 0x28
	DatagramObjectIDNoPriorityExtStatus      DatagramType = 0x29
	DatagramNoObjectIDNoPriorityStatus       DatagramType = 0x2c
	DatagramNoObjectIDNoPriorityExtStatus    DatagramType = 0x2d
)

func (t DatagramType) valid() bool {
	v := byte(t)
	if v <= 0x0f {
		return true
	}
	switch v {
	case 0x20, 0x21, 0x24, 0x25, 0x28, 0x29, 0x2c, 0x2d:
		return true
	}
	return false
}

// hasObjectID reports whether the header carries an explicit object_id
// field, rather than implying object_id == 0.
func (t DatagramType) hasObjectID() bool {
	return byte(t)&0x04 == 0
}

func (t DatagramType) hasExtensions() bool {
	return byte(t)&0x01 == 0x01
}

func (t DatagramType) hasPriority() bool {
	v := byte(t)
	return v < 0x08 || (v >= 0x20 && v <= 0x25)
}

func (t DatagramType) isEndOfGroup() bool {
	return byte(t)&0x02 == 0x02
}

func (t DatagramType) hasStatus() bool {
	return byte(t)&0x20 == 0x20
}

// ObjectExtensions holds MoQ object header extensions, keyed by
// extension type. Even types carry an inline varint value (stored as
// its canonical encoding); odd types carry an opaque byte string. This
// is the same parity rule used by control-message Parameters.
type ObjectExtensions map[uint64][]byte

func parseObjectExtensions(r *byteReader) (ObjectExtensions, error) {
	totalLen, err := r.readVarInt()
	if err != nil {
		return nil, &ParseError{Field: "extensions_length", Err: err}
	}
	if totalLen == 0 {
		return nil, nil
	}
	raw, err := r.readN(int(totalLen))
	if err != nil {
		return nil, &ParseError{Field: "extensions", Err: err}
	}

	sub := newByteReader(raw)
	exts := make(ObjectExtensions)
	for !sub.atEnd() {
		typ, err := sub.readVarInt()
		if err != nil {
			return nil, &ParseError{Field: "extension_type", Err: err}
		}
		if typ%2 == 1 {
			val, err := sub.readVarIntBytes()
			if err != nil {
				return nil, &ParseError{Field: "extension_value", Err: err}
			}
			exts[typ] = val
		} else {
			v, err := sub.readVarInt()
			if err != nil {
				return nil, &ParseError{Field: "extension_value", Err: err}
			}
			exts[typ] = AppendVarInt(nil, v)
		}
	}
	return exts, nil
}

func appendObjectExtensions(buf []byte, exts ObjectExtensions) []byte {
	if len(exts) == 0 {
		return AppendVarInt(buf, 0)
	}
	var body []byte
	for typ, val := range exts {
		body = AppendVarInt(body, typ)
		if typ%2 == 0 {
			body = append(body, val...)
		} else {
			body = appendVarIntBytes(body, val)
		}
	}
	buf = AppendVarInt(buf, uint64(len(body)))
	buf = append(buf, body...)
	return buf
}

// ObjectDatagram is a complete MoQ object carried on its own QUIC
// datagram (draft-15 §9.8.2).
type ObjectDatagram struct {
	Type          DatagramType
	TrackAlias    uint64
	GroupID       uint64
	ObjectID      uint64
	Priority      byte
	Extensions    ObjectExtensions
	Status        uint64
	EndOfGroup    bool
	Payload       []byte
}

// EncodeObjectDatagram serializes d for a QUIC DATAGRAM frame.
func EncodeObjectDatagram(d ObjectDatagram) ([]byte, error) {
	if !d.Type.valid() {
		return nil, ErrUnknownDatagramType
	}
	var buf []byte
	buf = AppendVarInt(buf, uint64(d.Type))
	buf = AppendVarInt(buf, d.TrackAlias)
	buf = AppendVarInt(buf, d.GroupID)
	if d.Type.hasObjectID() {
		buf = AppendVarInt(buf, d.ObjectID)
	}
	if d.Type.hasPriority() {
		buf = append(buf, d.Priority)
	}
	if d.Type.hasExtensions() {
		buf = appendObjectExtensions(buf, d.Extensions)
	}
	if d.Type.hasStatus() {
		buf = AppendVarInt(buf, d.Status)
	} else {
		buf = append(buf, d.Payload...)
	}
	return buf, nil
}

// DecodeObjectDatagram parses one QUIC DATAGRAM frame's payload.
func DecodeObjectDatagram(data []byte) (ObjectDatagram, error) {
	r := newByteReader(data)
	var d ObjectDatagram

	typ, err := r.readVarInt()
	if err != nil {
		return d, &ParseError{Field: "datagram_type", Err: err}
	}
	d.Type = DatagramType(typ)
	if !d.Type.valid() {
		return d, fmt.Errorf("datagram type %#x: %w", typ, ErrUnknownDatagramType)
	}

	if d.TrackAlias, err = r.readVarInt(); err != nil {
		return d, &ParseError{Field: "track_alias", Err: err}
	}
	if d.GroupID, err = r.readVarInt(); err != nil {
		return d, &ParseError{Field: "group_id", Err: err}
	}
	if d.Type.hasObjectID() {
		if d.ObjectID, err = r.readVarInt(); err != nil {
			return d, &ParseError{Field: "object_id", Err: err}
		}
	}
	if d.Type.hasPriority() {
		if d.Priority, err = r.readByte(); err != nil {
			return d, &ParseError{Field: "priority", Err: err}
		}
	}
	if d.Type.hasExtensions() {
		if d.Extensions, err = parseObjectExtensions(r); err != nil {
			return d, err
		}
	}
	d.EndOfGroup = d.Type.isEndOfGroup()
	if d.Type.hasStatus() {
		if d.Status, err = r.readVarInt(); err != nil {
			return d, &ParseError{Field: "object_status", Err: err}
		}
	} else {
		d.Payload = r.remaining()
	}
	return d, nil
}

// SubgroupHeaderType is the one-byte header of a SUBGROUP_HEADER stream,
// encoding the subgroup-id addressing mode and two feature flags as bit
// tests (draft-15 §9.8.3).
type SubgroupHeaderType byte

const (
	subgroupModeZero        = 0
	subgroupModeFirstObject = 1
	subgroupModePresent     = 2
)

func (t SubgroupHeaderType) valid() bool {
	v := byte(t)
	return (v >= 0x10 && v <= 0x1d) || (v >= 0x30 && v <= 0x3d)
}

func (t SubgroupHeaderType) subgroupIDMode() int {
	switch byte(t) & 0x0f {
	case 0x00, 0x01, 0x08, 0x09:
		return subgroupModeZero
	case 0x02, 0x03, 0x0a, 0x0b:
		return subgroupModeFirstObject
	default:
		return subgroupModePresent
	}
}

func (t SubgroupHeaderType) hasExtensions() bool {
	return byte(t)&0x01 == 0x01
}

func (t SubgroupHeaderType) hasPriority() bool {
	return byte(t) < 0x30
}

func (t SubgroupHeaderType) containsEndOfGroup() bool {
	return byte(t)&0x0f >= 0x08
}

// NeedsFirstObjectSubgroupID reports whether this header type leaves
// SubgroupID at zero on decode because the real subgroup id is the
// stream's first object id (draft-15 §9.8.3's "First Object" mode). The
// caller is responsible for making that substitution once it has decoded
// the first object.
func (t SubgroupHeaderType) NeedsFirstObjectSubgroupID() bool {
	return t.subgroupIDMode() == subgroupModeFirstObject
}

// SubgroupHeader opens a subgroup stream: one QUIC stream carrying every
// object of one (group, subgroup) pair in order.
type SubgroupHeader struct {
	Type       SubgroupHeaderType
	TrackAlias uint64
	GroupID    uint64
	SubgroupID uint64 // meaningful only when Type.subgroupIDMode() == subgroupModePresent
	Priority   byte
}

func EncodeSubgroupHeader(h SubgroupHeader) ([]byte, error) {
	if !h.Type.valid() {
		return nil, ErrUnknownSubgroupType
	}
	var buf []byte
	buf = AppendVarInt(buf, uint64(h.Type))
	buf = AppendVarInt(buf, h.TrackAlias)
	buf = AppendVarInt(buf, h.GroupID)
	if h.Type.subgroupIDMode() == subgroupModePresent {
		buf = AppendVarInt(buf, h.SubgroupID)
	}
	if h.Type.hasPriority() {
		buf = append(buf, h.Priority)
	}
	return buf, nil
}

// DecodeSubgroupHeader parses the fixed header that opens a subgroup
// stream. When the mode is subgroupModeFirstObject, SubgroupID is left
// at zero; the caller must fill it in from the stream's first object id.
func DecodeSubgroupHeader(data []byte) (SubgroupHeader, int, error) {
	r := newByteReader(data)
	var h SubgroupHeader

	typ, err := r.readVarInt()
	if err != nil {
		return h, 0, &ParseError{Field: "subgroup_type", Err: err}
	}
	h.Type = SubgroupHeaderType(typ)
	if !h.Type.valid() {
		return h, 0, fmt.Errorf("subgroup header type %#x: %w", typ, ErrUnknownSubgroupType)
	}
	if h.TrackAlias, err = r.readVarInt(); err != nil {
		return h, 0, &ParseError{Field: "track_alias", Err: err}
	}
	if h.GroupID, err = r.readVarInt(); err != nil {
		return h, 0, &ParseError{Field: "group_id", Err: err}
	}
	if h.Type.subgroupIDMode() == subgroupModePresent {
		if h.SubgroupID, err = r.readVarInt(); err != nil {
			return h, 0, &ParseError{Field: "subgroup_id", Err: err}
		}
	}
	if h.Type.hasPriority() {
		if h.Priority, err = r.readByte(); err != nil {
			return h, 0, &ParseError{Field: "priority", Err: err}
		}
	}
	return h, r.pos, nil
}

// SubgroupObject is one object within a subgroup stream, encoded as a
// delta from the previous object's id. A zero-length payload always
// carries an explicit object_status on the wire (draft-15 §9.8.1), so
// HasStatus reports whether Status was set explicitly (including
// ObjectStatusNormal) rather than Payload just happening to be empty;
// it is what lets a decoded object round-trip through Encode without
// the zero value of Status being mistaken for "no status at all".
type SubgroupObject struct {
	ObjectIDDelta uint64
	Extensions    ObjectExtensions
	HasStatus     bool
	Status        uint64
	EndOfGroup    bool
	Payload       []byte
}

// EncodeSubgroupObject serializes o. extensionsPresent must match the
// value the stream's SubgroupHeader.Type.hasExtensions() reported.
func EncodeSubgroupObject(o SubgroupObject, extensionsPresent bool) []byte {
	var buf []byte
	buf = AppendVarInt(buf, o.ObjectIDDelta)
	if extensionsPresent {
		buf = appendObjectExtensions(buf, o.Extensions)
	}
	if len(o.Payload) == 0 {
		buf = AppendVarInt(buf, 0)
		status := o.Status
		if o.EndOfGroup && !o.HasStatus {
			status = ObjectStatusEndOfGroup
		}
		buf = AppendVarInt(buf, status)
		return buf
	}
	buf = AppendVarInt(buf, uint64(len(o.Payload)))
	buf = append(buf, o.Payload...)
	return buf
}

// DecodeSubgroupObject parses one object starting at data[offset],
// returning the object and the offset of the next one.
func DecodeSubgroupObject(data []byte, offset int, extensionsPresent bool) (SubgroupObject, int, error) {
	r := &byteReader{data: data, pos: offset}
	var o SubgroupObject

	delta, err := r.readVarInt()
	if err != nil {
		return o, 0, &ParseError{Field: "object_id_delta", Err: err}
	}
	o.ObjectIDDelta = delta

	if extensionsPresent {
		if o.Extensions, err = parseObjectExtensions(r); err != nil {
			return o, 0, err
		}
	}

	payloadLen, err := r.readVarInt()
	if err != nil {
		return o, 0, &ParseError{Field: "payload_length", Err: err}
	}
	if payloadLen == 0 {
		status, err := r.readVarInt()
		if err != nil {
			return o, 0, &ParseError{Field: "object_status", Err: err}
		}
		o.HasStatus = true
		o.Status = status
		o.EndOfGroup = status == ObjectStatusEndOfGroup
	} else {
		payload, err := r.readN(int(payloadLen))
		if err != nil {
			return o, 0, &ParseError{Field: "payload", Err: err}
		}
		o.Payload = payload
	}
	return o, r.pos, nil
}

// FetchHeader opens a fetch stream (draft-15 §9.8.4, stream type 0x05).
type FetchHeader struct {
	RequestID uint64
}

const FetchStreamType uint64 = 0x05

func EncodeFetchHeader(h FetchHeader) []byte {
	var buf []byte
	buf = AppendVarInt(buf, FetchStreamType)
	buf = AppendVarInt(buf, h.RequestID)
	return buf
}

func DecodeFetchHeader(data []byte) (FetchHeader, int, error) {
	r := newByteReader(data)
	typ, err := r.readVarInt()
	if err != nil {
		return FetchHeader{}, 0, &ParseError{Field: "stream_type", Err: err}
	}
	if typ != FetchStreamType {
		return FetchHeader{}, 0, fmt.Errorf("fetch stream type %#x: %w", typ, ErrUnknownSubgroupType)
	}
	reqID, err := r.readVarInt()
	if err != nil {
		return FetchHeader{}, 0, &ParseError{Field: "request_id", Err: err}
	}
	return FetchHeader{RequestID: reqID}, r.pos, nil
}

// Fetch serialization flags: a bitmask describing which fields a
// FetchObject carries explicitly versus inherits from the running prior
// object state (draft-15 §9.8.4).
const (
	fetchFlagSubgroupZero       byte = 0x00
	fetchFlagSubgroupPrior      byte = 0x01
	fetchFlagSubgroupPriorPlus1 byte = 0x02
	fetchFlagSubgroupPresent    byte = 0x03
	fetchFlagObjectIDPresent    byte = 0x04
	fetchFlagGroupIDPresent     byte = 0x08
	fetchFlagPriorityPresent    byte = 0x10
	fetchFlagExtensionsPresent  byte = 0x20
)

// FetchObject is one object on a fetch stream. Unset fields fall back to
// the prior object's state; the first object on the stream must set
// every field explicitly. As with SubgroupObject, HasStatus reports
// whether Status was set explicitly (including ObjectStatusNormal),
// since a zero-length payload always carries an explicit object_status
// on the wire and that can't be inferred from Status's zero value alone.
type FetchObject struct {
	GroupID    uint64
	SubgroupID uint64
	ObjectID   uint64
	Priority   byte
	Extensions ObjectExtensions
	HasStatus  bool
	Status     uint64
	EndOfGroup bool
	Payload    []byte
}

// FetchPriorState tracks the running values a fetch stream's decode (and
// matching encode) falls back to for unset fields.
type FetchPriorState struct {
	GroupID    uint64
	SubgroupID uint64
	ObjectID   uint64
	Priority   byte
}

// EncodeFetchObject serializes o relative to prior, choosing the
// shortest delta representation available. first must be true only for
// the stream's first object.
func EncodeFetchObject(o FetchObject, prior FetchPriorState, first bool) []byte {
	var flags byte
	var buf []byte

	switch {
	case first || o.GroupID != prior.GroupID:
		flags |= fetchFlagGroupIDPresent
	}
	switch {
	case first:
		flags |= fetchFlagSubgroupPresent
	case o.SubgroupID == prior.SubgroupID:
		flags |= fetchFlagSubgroupPrior
	case o.SubgroupID == prior.SubgroupID+1:
		flags |= fetchFlagSubgroupPriorPlus1
	case o.SubgroupID == 0:
		flags |= fetchFlagSubgroupZero
	default:
		flags |= fetchFlagSubgroupPresent
	}
	if first || o.ObjectID != prior.ObjectID+1 {
		flags |= fetchFlagObjectIDPresent
	}
	if first || o.Priority != prior.Priority {
		flags |= fetchFlagPriorityPresent
	}
	if len(o.Extensions) > 0 {
		flags |= fetchFlagExtensionsPresent
	}

	buf = append(buf, flags)
	if flags&fetchFlagGroupIDPresent != 0 {
		buf = AppendVarInt(buf, o.GroupID)
	}
	if flags&fetchFlagSubgroupPresent != 0 {
		buf = AppendVarInt(buf, o.SubgroupID)
	}
	if flags&fetchFlagObjectIDPresent != 0 {
		buf = AppendVarInt(buf, o.ObjectID)
	}
	if flags&fetchFlagPriorityPresent != 0 {
		buf = append(buf, o.Priority)
	}
	if flags&fetchFlagExtensionsPresent != 0 {
		buf = appendObjectExtensions(buf, o.Extensions)
	}

	if len(o.Payload) == 0 {
		buf = AppendVarInt(buf, 0)
		status := o.Status
		if o.EndOfGroup && !o.HasStatus {
			status = ObjectStatusEndOfGroup
		}
		buf = AppendVarInt(buf, status)
		return buf
	}
	buf = AppendVarInt(buf, uint64(len(o.Payload)))
	buf = append(buf, o.Payload...)
	return buf
}

// DecodeFetchObject parses one object starting at data[offset] against
// the running prior state, returning the object and the offset of the
// next one. first must be true only for the stream's first object;
// a first object that omits a field required to be explicit returns
// ErrFirstObjectFieldsMissing.
func DecodeFetchObject(data []byte, offset int, prior FetchPriorState, first bool) (FetchObject, int, error) {
	r := &byteReader{data: data, pos: offset}
	var o FetchObject

	flags, err := r.readByte()
	if err != nil {
		return o, 0, &ParseError{Field: "flags", Err: err}
	}

	if flags&fetchFlagGroupIDPresent != 0 {
		if o.GroupID, err = r.readVarInt(); err != nil {
			return o, 0, &ParseError{Field: "group_id", Err: err}
		}
	} else {
		if first {
			return o, 0, fmt.Errorf("group_id: %w", ErrFirstObjectFieldsMissing)
		}
		o.GroupID = prior.GroupID
	}

	switch flags & 0x03 {
	case 0x00:
		o.SubgroupID = 0
	case 0x01:
		if first {
			return o, 0, fmt.Errorf("subgroup_id: %w", ErrFirstObjectFieldsMissing)
		}
		o.SubgroupID = prior.SubgroupID
	case 0x02:
		if first {
			return o, 0, fmt.Errorf("subgroup_id: %w", ErrFirstObjectFieldsMissing)
		}
		o.SubgroupID = prior.SubgroupID + 1
	case 0x03:
		if o.SubgroupID, err = r.readVarInt(); err != nil {
			return o, 0, &ParseError{Field: "subgroup_id", Err: err}
		}
	}

	if flags&fetchFlagObjectIDPresent != 0 {
		if o.ObjectID, err = r.readVarInt(); err != nil {
			return o, 0, &ParseError{Field: "object_id", Err: err}
		}
	} else {
		if first {
			return o, 0, fmt.Errorf("object_id: %w", ErrFirstObjectFieldsMissing)
		}
		o.ObjectID = prior.ObjectID + 1
	}

	if flags&fetchFlagPriorityPresent != 0 {
		if o.Priority, err = r.readByte(); err != nil {
			return o, 0, &ParseError{Field: "priority", Err: err}
		}
	} else {
		if first {
			return o, 0, fmt.Errorf("priority: %w", ErrFirstObjectFieldsMissing)
		}
		o.Priority = prior.Priority
	}

	if flags&fetchFlagExtensionsPresent != 0 {
		if o.Extensions, err = parseObjectExtensions(r); err != nil {
			return o, 0, err
		}
	}

	payloadLen, err := r.readVarInt()
	if err != nil {
		return o, 0, &ParseError{Field: "payload_length", Err: err}
	}
	if payloadLen == 0 {
		status, err := r.readVarInt()
		if err != nil {
			return o, 0, &ParseError{Field: "object_status", Err: err}
		}
		o.HasStatus = true
		o.Status = status
		o.EndOfGroup = status == ObjectStatusEndOfGroup
	} else {
		payload, err := r.readN(int(payloadLen))
		if err != nil {
			return o, 0, &ParseError{Field: "payload", Err: err}
		}
		o.Payload = payload
	}
	return o, r.pos, nil
}
