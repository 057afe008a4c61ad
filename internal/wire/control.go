package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/quic-go/quic-go/quicvarint"
)

// MoQ Transport draft-15 control message type IDs (draft-ietf-moq-transport-15 §9).
const (
	MsgSubscribeUpdate         uint64 = 0x02
	MsgSubscribe               uint64 = 0x03
	MsgSubscribeOK             uint64 = 0x04
	MsgRequestError            uint64 = 0x05
	MsgPublishNamespace        uint64 = 0x06
	MsgRequestOK               uint64 = 0x07
	MsgPublishNamespaceDone    uint64 = 0x09
	MsgUnsubscribe             uint64 = 0x0a
	MsgPublishDone             uint64 = 0x0b
	MsgPublishNamespaceCancel  uint64 = 0x0c
	MsgTrackStatus             uint64 = 0x0d
	MsgGoAway                  uint64 = 0x10
	MsgSubscribeNamespace      uint64 = 0x11
	MsgUnsubscribeNamespace    uint64 = 0x14
	MsgMaxRequestID            uint64 = 0x15
	MsgFetch                   uint64 = 0x16
	MsgFetchCancel             uint64 = 0x17
	MsgFetchOK                 uint64 = 0x18
	MsgRequestsBlocked         uint64 = 0x1a
	MsgPublish                 uint64 = 0x1d
	MsgPublishOK               uint64 = 0x1e
	MsgClientSetup             uint64 = 0x20
	MsgServerSetup             uint64 = 0x21
)

// Version is the MoQ Transport version this package speaks:
// draft-15 uses 0xff000000 + the draft number.
const Version uint64 = 0xff00000f

// Setup parameter keys (draft-15 §6.2). These occupy a namespace distinct
// from the per-request parameter keys below.
const (
	SetupParamPath                 uint64 = 0x01 // odd  -> length-prefixed byte string
	SetupParamMaxRequestID         uint64 = 0x02 // even -> varint value
	SetupParamMaxAuthTokenCacheSize uint64 = 0x04 // even -> varint value
	SetupParamAuthority            uint64 = 0x05 // odd  -> length-prefixed byte string
	SetupParamMOQTImplementation   uint64 = 0x07 // odd  -> length-prefixed byte string
)

// Per-request parameter keys (draft-15 §9), shared by SUBSCRIBE, PUBLISH,
// FETCH, and the namespace request family. The parity of the key still
// decides the value encoding: even -> varint, odd -> byte string.
const (
	ParamAuthorizationToken uint64 = 0x03 // odd  -> length-prefixed byte string
	ParamDeliveryTimeout    uint64 = 0x02 // even -> varint value
	ParamMaxCacheDuration   uint64 = 0x04 // even -> varint value
	ParamExpires            uint64 = 0x08 // even -> varint value
	ParamLargestObject      uint64 = 0x09 // odd  -> length-prefixed byte string (Location)
	ParamPublisherPriority  uint64 = 0x0e // even -> varint value
	ParamForward            uint64 = 0x10 // even -> varint value
	ParamSubscriberPriority uint64 = 0x20 // even -> varint value
	ParamSubscriptionFilter uint64 = 0x21 // odd  -> length-prefixed byte string
	ParamGroupOrder         uint64 = 0x22 // even -> varint value
	ParamDynamicGroups      uint64 = 0x30 // even -> varint value
)

// Application error codes (draft-15 §9.3).
const (
	ErrorCodeNone                    uint64 = 0x0
	ErrorCodeInternal                uint64 = 0x1
	ErrorCodeUnauthorized            uint64 = 0x2
	ErrorCodeProtocolViolation       uint64 = 0x3
	ErrorCodeDuplicateTrackAlias     uint64 = 0x4
	ErrorCodeParameterLengthMismatch uint64 = 0x5
	ErrorCodeTooManySubscribers      uint64 = 0x6
	ErrorCodeGoAwayTimeout           uint64 = 0x10
)

// Track status codes carried by TRACK_STATUS (draft-15 §9.7).
const (
	TrackStatusInProgress        uint64 = 0x0
	TrackStatusDoesNotExist      uint64 = 0x1
	TrackStatusNoObjects         uint64 = 0x2
	TrackStatusGroupDoesNotExist uint64 = 0x3
)

// Subscribe/Fetch filter types (draft-15 §9.4).
const (
	FilterLatestGroup   uint64 = 0x01
	FilterLatestObject  uint64 = 0x02
	FilterAbsoluteStart uint64 = 0x03
	FilterAbsoluteRange uint64 = 0x04
)

// Group order values (draft-15 §9.4). GroupOrderDefault asks the
// publisher to use its own natural order.
const (
	GroupOrderDefault    byte = 0x00
	GroupOrderAscending  byte = 0x01
	GroupOrderDescending byte = 0x02
)

// Parameter is a single key/value pair from a SETUP or per-request
// parameter list. Value holds the canonical encoding already: for an
// even Type it is the raw bytes of the varint value (no extra length
// prefix); for an odd Type it is the opaque byte string itself.
type Parameter struct {
	Type  uint64
	Value []byte
}

// IsVarInt reports whether this parameter carries an inline varint value
// rather than a length-prefixed byte string, per the even/odd parity rule
// shared by Parameters and ObjectExtensions.
func (p Parameter) IsVarInt() bool {
	return p.Type%2 == 0
}

// VarIntValue decodes Value as a varint. It is only meaningful when
// IsVarInt reports true.
func (p Parameter) VarIntValue() (uint64, error) {
	v, _, err := ParseVarInt(p.Value)
	if err != nil {
		return 0, &ParseError{Field: "parameter_value", Err: err}
	}
	return v, nil
}

// TrackNamespace is an ordered tuple of opaque namespace path elements.
type TrackNamespace []string

// Location identifies an object by (group, object) pair, used by FETCH
// ranges and the LargestObject parameter.
type Location struct {
	Group  uint64
	Object uint64
}

// ReadControlMsg reads one MoQ control message from a control stream.
// Wire format: [message_type (varint)] [message_length (uint16 big-endian)] [payload].
func ReadControlMsg(r io.Reader) (uint64, []byte, error) {
	br, ok := r.(io.ByteReader)
	if !ok {
		bufr := bufio.NewReader(r)
		br = bufr
		r = bufr
	}

	msgType, err := quicvarint.Read(br)
	if err != nil {
		return 0, nil, fmt.Errorf("read message type: %w", err)
	}

	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, fmt.Errorf("read message length: %w", err)
	}
	length := binary.BigEndian.Uint16(lenBuf[:])

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, fmt.Errorf("read message payload: %w", err)
		}
	}

	return msgType, payload, nil
}

// WriteControlMsg writes a MoQ control message as a single Write call so
// it lands atomically on the stream even without external synchronization.
func WriteControlMsg(w io.Writer, msgType uint64, payload []byte) error {
	if len(payload) > 0xffff {
		return ErrPayloadTooLarge
	}
	var buf []byte
	buf = AppendVarInt(buf, msgType)

	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(payload)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, payload...)

	_, err := w.Write(buf)
	return err
}

// ---- generic parameter / namespace helpers -------------------------------

func parseParameters(r *byteReader) ([]Parameter, error) {
	count, err := r.readVarInt()
	if err != nil {
		return nil, &ParseError{Field: "num_params", Err: err}
	}
	params := make([]Parameter, 0, count)
	for i := uint64(0); i < count; i++ {
		key, err := r.readVarInt()
		if err != nil {
			return nil, &ParseError{Field: "param_key", Err: err}
		}
		if key%2 == 1 {
			val, err := r.readVarIntBytes()
			if err != nil {
				return nil, &ParseError{Field: "param_value", Err: err}
			}
			params = append(params, Parameter{Type: key, Value: val})
		} else {
			val, err := r.readVarInt()
			if err != nil {
				return nil, &ParseError{Field: "param_value", Err: err}
			}
			params = append(params, Parameter{Type: key, Value: AppendVarInt(nil, val)})
		}
	}
	return params, nil
}

func appendParameters(buf []byte, params []Parameter) []byte {
	buf = AppendVarInt(buf, uint64(len(params)))
	for _, p := range params {
		buf = AppendVarInt(buf, p.Type)
		if p.IsVarInt() {
			buf = append(buf, p.Value...)
		} else {
			buf = appendVarIntBytes(buf, p.Value)
		}
	}
	return buf
}

func findParam(params []Parameter, t uint64) (Parameter, bool) {
	for _, p := range params {
		if p.Type == t {
			return p, true
		}
	}
	return Parameter{}, false
}

func parseNamespace(r *byteReader) (TrackNamespace, error) {
	count, err := r.readVarInt()
	if err != nil {
		return nil, fmt.Errorf("read namespace tuple count: %w", err)
	}
	parts := make([]string, count)
	for i := uint64(0); i < count; i++ {
		b, err := r.readVarIntBytes()
		if err != nil {
			return nil, fmt.Errorf("read namespace element %d: %w", i, err)
		}
		parts[i] = string(b)
	}
	return TrackNamespace(parts), nil
}

func appendNamespace(buf []byte, ns TrackNamespace) []byte {
	buf = AppendVarInt(buf, uint64(len(ns)))
	for _, p := range ns {
		buf = appendVarIntBytes(buf, []byte(p))
	}
	return buf
}

func appendLocation(buf []byte, l Location) []byte {
	buf = AppendVarInt(buf, l.Group)
	buf = AppendVarInt(buf, l.Object)
	return buf
}

func (r *byteReader) readLocation() (Location, error) {
	g, err := r.readVarInt()
	if err != nil {
		return Location{}, fmt.Errorf("read location group: %w", err)
	}
	o, err := r.readVarInt()
	if err != nil {
		return Location{}, fmt.Errorf("read location object: %w", err)
	}
	return Location{Group: g, Object: o}, nil
}

// ---- CLIENT_SETUP / SERVER_SETUP ------------------------------------------

// ClientSetup is the first message sent by a MoQ client on the control
// stream. Recognized setup parameters are flattened into typed fields;
// anything else is preserved in UnknownParams so a relay can forward it
// unmodified.
type ClientSetup struct {
	SupportedVersions []uint64

	Path         string
	HasPath      bool
	Authority    string
	HasAuthority bool
	MaxRequestID uint64

	UnknownParams []Parameter
}

// ServerSetup is the response to a ClientSetup, echoing the chosen version.
type ServerSetup struct {
	SelectedVersion uint64
	MaxRequestID    uint64
	UnknownParams   []Parameter
}

// ParseClientSetup parses a CLIENT_SETUP payload.
func ParseClientSetup(data []byte) (ClientSetup, error) {
	r := newByteReader(data)
	var cs ClientSetup

	numVersions, err := r.readVarInt()
	if err != nil {
		return cs, &ParseError{Field: "num_versions", Err: err}
	}
	cs.SupportedVersions = make([]uint64, numVersions)
	for i := uint64(0); i < numVersions; i++ {
		v, err := r.readVarInt()
		if err != nil {
			return cs, &ParseError{Field: "version", Err: err}
		}
		cs.SupportedVersions[i] = v
	}

	numParams, err := r.readVarInt()
	if err != nil {
		return cs, &ParseError{Field: "num_params", Err: err}
	}
	for i := uint64(0); i < numParams; i++ {
		key, err := r.readVarInt()
		if err != nil {
			return cs, &ParseError{Field: "param_key", Err: err}
		}
		if key%2 == 1 {
			val, err := r.readVarIntBytes()
			if err != nil {
				return cs, &ParseError{Field: "param_value", Err: err}
			}
			switch key {
			case SetupParamPath:
				cs.Path = string(val)
				cs.HasPath = true
			case SetupParamAuthority:
				cs.Authority = string(val)
				cs.HasAuthority = true
			default:
				cs.UnknownParams = append(cs.UnknownParams, Parameter{Type: key, Value: val})
			}
		} else {
			val, err := r.readVarInt()
			if err != nil {
				return cs, &ParseError{Field: "param_value", Err: err}
			}
			switch key {
			case SetupParamMaxRequestID:
				cs.MaxRequestID = val
			default:
				cs.UnknownParams = append(cs.UnknownParams, Parameter{Type: key, Value: AppendVarInt(nil, val)})
			}
		}
	}

	return cs, nil
}

// SerializeClientSetup serializes a CLIENT_SETUP payload.
func SerializeClientSetup(cs ClientSetup) []byte {
	var buf []byte
	buf = AppendVarInt(buf, uint64(len(cs.SupportedVersions)))
	for _, v := range cs.SupportedVersions {
		buf = AppendVarInt(buf, v)
	}

	n := uint64(len(cs.UnknownParams))
	if cs.HasPath {
		n++
	}
	if cs.HasAuthority {
		n++
	}
	if cs.MaxRequestID > 0 {
		n++
	}
	buf = AppendVarInt(buf, n)

	if cs.HasPath {
		buf = AppendVarInt(buf, SetupParamPath)
		buf = appendVarIntBytes(buf, []byte(cs.Path))
	}
	if cs.HasAuthority {
		buf = AppendVarInt(buf, SetupParamAuthority)
		buf = appendVarIntBytes(buf, []byte(cs.Authority))
	}
	if cs.MaxRequestID > 0 {
		buf = AppendVarInt(buf, SetupParamMaxRequestID)
		buf = AppendVarInt(buf, cs.MaxRequestID)
	}
	for _, p := range cs.UnknownParams {
		buf = AppendVarInt(buf, p.Type)
		if p.IsVarInt() {
			buf = append(buf, p.Value...)
		} else {
			buf = appendVarIntBytes(buf, p.Value)
		}
	}
	return buf
}

// ParseServerSetup parses a SERVER_SETUP payload.
func ParseServerSetup(data []byte) (ServerSetup, error) {
	r := newByteReader(data)
	var ss ServerSetup

	var err error
	ss.SelectedVersion, err = r.readVarInt()
	if err != nil {
		return ss, &ParseError{Field: "selected_version", Err: err}
	}

	numParams, err := r.readVarInt()
	if err != nil {
		return ss, &ParseError{Field: "num_params", Err: err}
	}
	for i := uint64(0); i < numParams; i++ {
		key, err := r.readVarInt()
		if err != nil {
			return ss, &ParseError{Field: "param_key", Err: err}
		}
		if key%2 == 1 {
			val, err := r.readVarIntBytes()
			if err != nil {
				return ss, &ParseError{Field: "param_value", Err: err}
			}
			ss.UnknownParams = append(ss.UnknownParams, Parameter{Type: key, Value: val})
		} else {
			val, err := r.readVarInt()
			if err != nil {
				return ss, &ParseError{Field: "param_value", Err: err}
			}
			if key == SetupParamMaxRequestID {
				ss.MaxRequestID = val
			} else {
				ss.UnknownParams = append(ss.UnknownParams, Parameter{Type: key, Value: AppendVarInt(nil, val)})
			}
		}
	}
	return ss, nil
}

// SerializeServerSetup serializes a SERVER_SETUP payload.
func SerializeServerSetup(ss ServerSetup) []byte {
	var buf []byte
	buf = AppendVarInt(buf, ss.SelectedVersion)

	n := uint64(len(ss.UnknownParams)) + 1 // +1 for MaxRequestID, always sent
	buf = AppendVarInt(buf, n)
	buf = AppendVarInt(buf, SetupParamMaxRequestID)
	buf = AppendVarInt(buf, ss.MaxRequestID)
	for _, p := range ss.UnknownParams {
		buf = AppendVarInt(buf, p.Type)
		if p.IsVarInt() {
			buf = append(buf, p.Value...)
		} else {
			buf = appendVarIntBytes(buf, p.Value)
		}
	}
	return buf
}

// ---- GOAWAY / request-ID flow control --------------------------------------

// GoAway signals a graceful session shutdown, optionally redirecting the
// client to a new session URI.
type GoAway struct {
	NewSessionURI string
}

func ParseGoAway(data []byte) (GoAway, error) {
	r := newByteReader(data)
	uri, err := r.readVarIntBytes()
	if err != nil {
		return GoAway{}, &ParseError{Field: "new_session_uri", Err: err}
	}
	return GoAway{NewSessionURI: string(uri)}, nil
}

func SerializeGoAway(ga GoAway) []byte {
	return appendVarIntBytes(nil, []byte(ga.NewSessionURI))
}

// MaxRequestIDMsg raises the sender's advertised request-ID ceiling.
type MaxRequestIDMsg struct {
	RequestID uint64
}

func ParseMaxRequestID(data []byte) (MaxRequestIDMsg, error) {
	r := newByteReader(data)
	id, err := r.readVarInt()
	if err != nil {
		return MaxRequestIDMsg{}, &ParseError{Field: "request_id", Err: err}
	}
	return MaxRequestIDMsg{RequestID: id}, nil
}

func SerializeMaxRequestID(reqID uint64) []byte {
	return AppendVarInt(nil, reqID)
}

// RequestsBlocked is an advisory sent when the local endpoint wants to
// allocate a request ID beyond its current ceiling.
type RequestsBlocked struct {
	MaximumRequestID uint64
}

func ParseRequestsBlocked(data []byte) (RequestsBlocked, error) {
	r := newByteReader(data)
	id, err := r.readVarInt()
	if err != nil {
		return RequestsBlocked{}, &ParseError{Field: "maximum_request_id", Err: err}
	}
	return RequestsBlocked{MaximumRequestID: id}, nil
}

func SerializeRequestsBlocked(maxID uint64) []byte {
	return AppendVarInt(nil, maxID)
}

// ---- generic request resolution: REQUEST_OK / REQUEST_ERROR ----------------

// RequestOK is the generic success response used to resolve FETCH-less,
// SUBSCRIBE-less requests (namespace announce/subscribe operations).
type RequestOK struct {
	RequestID  uint64
	Parameters []Parameter
}

func ParseRequestOK(data []byte) (RequestOK, error) {
	r := newByteReader(data)
	var ok RequestOK
	var err error
	ok.RequestID, err = r.readVarInt()
	if err != nil {
		return ok, &ParseError{Field: "request_id", Err: err}
	}
	ok.Parameters, err = parseParameters(r)
	if err != nil {
		return ok, err
	}
	return ok, nil
}

func SerializeRequestOK(ok RequestOK) []byte {
	buf := AppendVarInt(nil, ok.RequestID)
	return appendParameters(buf, ok.Parameters)
}

// RequestError is the single error response used to reject any
// outstanding request, of whichever type.
type RequestError struct {
	RequestID    uint64
	ErrorCode    uint64
	ReasonPhrase string
}

func ParseRequestError(data []byte) (RequestError, error) {
	r := newByteReader(data)
	var re RequestError
	var err error
	re.RequestID, err = r.readVarInt()
	if err != nil {
		return re, &ParseError{Field: "request_id", Err: err}
	}
	re.ErrorCode, err = r.readVarInt()
	if err != nil {
		return re, &ParseError{Field: "error_code", Err: err}
	}
	reason, err := r.readVarIntBytes()
	if err != nil {
		return re, &ParseError{Field: "reason_phrase", Err: err}
	}
	re.ReasonPhrase = string(reason)
	return re, nil
}

func SerializeRequestError(re RequestError) []byte {
	var buf []byte
	buf = AppendVarInt(buf, re.RequestID)
	buf = AppendVarInt(buf, re.ErrorCode)
	buf = appendVarIntBytes(buf, []byte(re.ReasonPhrase))
	return buf
}

// ---- SUBSCRIBE family -------------------------------------------------------

// Subscribe requests delivery of a track, identified by namespace and name.
type Subscribe struct {
	RequestID  uint64
	Namespace  TrackNamespace
	TrackName  string
	Priority   byte
	GroupOrder byte
	Forward    byte
	FilterType uint64
	StartGroup uint64 // AbsoluteStart / AbsoluteRange only
	StartObj   uint64 // AbsoluteStart / AbsoluteRange only
	EndGroup   uint64 // AbsoluteRange only
	Parameters []Parameter
}

func ParseSubscribe(data []byte) (Subscribe, error) {
	r := newByteReader(data)
	var s Subscribe

	var err error
	s.RequestID, err = r.readVarInt()
	if err != nil {
		return s, &ParseError{Field: "request_id", Err: err}
	}
	s.Namespace, err = parseNamespace(r)
	if err != nil {
		return s, &ParseError{Field: "namespace", Err: err}
	}
	trackName, err := r.readVarIntBytes()
	if err != nil {
		return s, &ParseError{Field: "track_name", Err: err}
	}
	s.TrackName = string(trackName)

	s.Priority, err = r.readByte()
	if err != nil {
		return s, &ParseError{Field: "priority", Err: err}
	}
	s.GroupOrder, err = r.readByte()
	if err != nil {
		return s, &ParseError{Field: "group_order", Err: err}
	}
	s.Forward, err = r.readByte()
	if err != nil {
		return s, &ParseError{Field: "forward", Err: err}
	}
	s.FilterType, err = r.readVarInt()
	if err != nil {
		return s, &ParseError{Field: "filter_type", Err: err}
	}

	switch s.FilterType {
	case FilterAbsoluteStart:
		if s.StartGroup, err = r.readVarInt(); err != nil {
			return s, &ParseError{Field: "start_group", Err: err}
		}
		if s.StartObj, err = r.readVarInt(); err != nil {
			return s, &ParseError{Field: "start_object", Err: err}
		}
	case FilterAbsoluteRange:
		if s.StartGroup, err = r.readVarInt(); err != nil {
			return s, &ParseError{Field: "start_group", Err: err}
		}
		if s.StartObj, err = r.readVarInt(); err != nil {
			return s, &ParseError{Field: "start_object", Err: err}
		}
		if s.EndGroup, err = r.readVarInt(); err != nil {
			return s, &ParseError{Field: "end_group", Err: err}
		}
	}

	s.Parameters, err = parseParameters(r)
	if err != nil {
		return s, err
	}
	return s, nil
}

func SerializeSubscribe(s Subscribe) []byte {
	var buf []byte
	buf = AppendVarInt(buf, s.RequestID)
	buf = appendNamespace(buf, s.Namespace)
	buf = appendVarIntBytes(buf, []byte(s.TrackName))
	buf = append(buf, s.Priority, s.GroupOrder, s.Forward)
	buf = AppendVarInt(buf, s.FilterType)
	switch s.FilterType {
	case FilterAbsoluteStart:
		buf = AppendVarInt(buf, s.StartGroup)
		buf = AppendVarInt(buf, s.StartObj)
	case FilterAbsoluteRange:
		buf = AppendVarInt(buf, s.StartGroup)
		buf = AppendVarInt(buf, s.StartObj)
		buf = AppendVarInt(buf, s.EndGroup)
	}
	buf = appendParameters(buf, s.Parameters)
	return buf
}

// SubscribeOK confirms a subscription and hands back the track alias the
// data plane will use to refer to this track.
type SubscribeOK struct {
	RequestID     uint64
	TrackAlias    uint64
	Expires       uint64
	GroupOrder    byte
	ContentExists bool
	LargestGroup  uint64 // only when ContentExists
	LargestObj    uint64 // only when ContentExists
	Parameters    []Parameter
}

func ParseSubscribeOK(data []byte) (SubscribeOK, error) {
	r := newByteReader(data)
	var sok SubscribeOK
	var err error

	if sok.RequestID, err = r.readVarInt(); err != nil {
		return sok, &ParseError{Field: "request_id", Err: err}
	}
	if sok.TrackAlias, err = r.readVarInt(); err != nil {
		return sok, &ParseError{Field: "track_alias", Err: err}
	}
	if sok.Expires, err = r.readVarInt(); err != nil {
		return sok, &ParseError{Field: "expires", Err: err}
	}
	if sok.GroupOrder, err = r.readByte(); err != nil {
		return sok, &ParseError{Field: "group_order", Err: err}
	}
	contentExists, err := r.readByte()
	if err != nil {
		return sok, &ParseError{Field: "content_exists", Err: err}
	}
	sok.ContentExists = contentExists != 0
	if sok.ContentExists {
		if sok.LargestGroup, err = r.readVarInt(); err != nil {
			return sok, &ParseError{Field: "largest_group", Err: err}
		}
		if sok.LargestObj, err = r.readVarInt(); err != nil {
			return sok, &ParseError{Field: "largest_object", Err: err}
		}
	}
	sok.Parameters, err = parseParameters(r)
	if err != nil {
		return sok, err
	}
	return sok, nil
}

func SerializeSubscribeOK(sok SubscribeOK) []byte {
	var buf []byte
	buf = AppendVarInt(buf, sok.RequestID)
	buf = AppendVarInt(buf, sok.TrackAlias)
	buf = AppendVarInt(buf, sok.Expires)
	buf = append(buf, sok.GroupOrder)
	if sok.ContentExists {
		buf = append(buf, 1)
		buf = AppendVarInt(buf, sok.LargestGroup)
		buf = AppendVarInt(buf, sok.LargestObj)
	} else {
		buf = append(buf, 0)
	}
	buf = appendParameters(buf, sok.Parameters)
	return buf
}

// SubscribeUpdate narrows or extends an existing subscription's range.
type SubscribeUpdate struct {
	RequestID  uint64
	StartGroup uint64
	StartObj   uint64
	EndGroup   uint64
	Priority   byte
	Forward    byte
	Parameters []Parameter
}

func ParseSubscribeUpdate(data []byte) (SubscribeUpdate, error) {
	r := newByteReader(data)
	var su SubscribeUpdate
	var err error
	if su.RequestID, err = r.readVarInt(); err != nil {
		return su, &ParseError{Field: "request_id", Err: err}
	}
	if su.StartGroup, err = r.readVarInt(); err != nil {
		return su, &ParseError{Field: "start_group", Err: err}
	}
	if su.StartObj, err = r.readVarInt(); err != nil {
		return su, &ParseError{Field: "start_object", Err: err}
	}
	if su.EndGroup, err = r.readVarInt(); err != nil {
		return su, &ParseError{Field: "end_group", Err: err}
	}
	if su.Priority, err = r.readByte(); err != nil {
		return su, &ParseError{Field: "priority", Err: err}
	}
	if su.Forward, err = r.readByte(); err != nil {
		return su, &ParseError{Field: "forward", Err: err}
	}
	su.Parameters, err = parseParameters(r)
	if err != nil {
		return su, err
	}
	return su, nil
}

func SerializeSubscribeUpdate(su SubscribeUpdate) []byte {
	var buf []byte
	buf = AppendVarInt(buf, su.RequestID)
	buf = AppendVarInt(buf, su.StartGroup)
	buf = AppendVarInt(buf, su.StartObj)
	buf = AppendVarInt(buf, su.EndGroup)
	buf = append(buf, su.Priority, su.Forward)
	buf = appendParameters(buf, su.Parameters)
	return buf
}

// Unsubscribe cancels a subscription previously granted by SUBSCRIBE_OK.
type Unsubscribe struct {
	RequestID uint64
}

func ParseUnsubscribe(data []byte) (Unsubscribe, error) {
	r := newByteReader(data)
	id, err := r.readVarInt()
	if err != nil {
		return Unsubscribe{}, &ParseError{Field: "request_id", Err: err}
	}
	return Unsubscribe{RequestID: id}, nil
}

func SerializeUnsubscribe(u Unsubscribe) []byte {
	return AppendVarInt(nil, u.RequestID)
}

// ---- PUBLISH family ---------------------------------------------------------

// Publish offers to push a track to the peer without waiting for a
// SUBSCRIBE, used by publish-initiated (as opposed to subscribe-initiated)
// delivery.
type Publish struct {
	RequestID  uint64
	TrackAlias uint64
	Namespace  TrackNamespace
	TrackName  string
	Parameters []Parameter
}

func ParsePublish(data []byte) (Publish, error) {
	r := newByteReader(data)
	var p Publish
	var err error
	if p.RequestID, err = r.readVarInt(); err != nil {
		return p, &ParseError{Field: "request_id", Err: err}
	}
	if p.TrackAlias, err = r.readVarInt(); err != nil {
		return p, &ParseError{Field: "track_alias", Err: err}
	}
	if p.Namespace, err = parseNamespace(r); err != nil {
		return p, &ParseError{Field: "namespace", Err: err}
	}
	trackName, err := r.readVarIntBytes()
	if err != nil {
		return p, &ParseError{Field: "track_name", Err: err}
	}
	p.TrackName = string(trackName)
	p.Parameters, err = parseParameters(r)
	if err != nil {
		return p, err
	}
	return p, nil
}

func SerializePublish(p Publish) []byte {
	var buf []byte
	buf = AppendVarInt(buf, p.RequestID)
	buf = AppendVarInt(buf, p.TrackAlias)
	buf = appendNamespace(buf, p.Namespace)
	buf = appendVarIntBytes(buf, []byte(p.TrackName))
	buf = appendParameters(buf, p.Parameters)
	return buf
}

// PublishOK is the subscriber's grant of a PUBLISH request, specifying
// the range and forwarding behavior it wants from the publisher.
type PublishOK struct {
	RequestID          uint64
	Forward            byte
	SubscriberPriority byte
	GroupOrder         byte
	FilterType         uint64
	StartGroup         uint64
	StartObj           uint64
	EndGroup           uint64
	Parameters         []Parameter
}

func ParsePublishOK(data []byte) (PublishOK, error) {
	r := newByteReader(data)
	var ok PublishOK
	var err error
	if ok.RequestID, err = r.readVarInt(); err != nil {
		return ok, &ParseError{Field: "request_id", Err: err}
	}
	if ok.Forward, err = r.readByte(); err != nil {
		return ok, &ParseError{Field: "forward", Err: err}
	}
	if ok.SubscriberPriority, err = r.readByte(); err != nil {
		return ok, &ParseError{Field: "subscriber_priority", Err: err}
	}
	if ok.GroupOrder, err = r.readByte(); err != nil {
		return ok, &ParseError{Field: "group_order", Err: err}
	}
	if ok.FilterType, err = r.readVarInt(); err != nil {
		return ok, &ParseError{Field: "filter_type", Err: err}
	}
	switch ok.FilterType {
	case FilterAbsoluteStart:
		if ok.StartGroup, err = r.readVarInt(); err != nil {
			return ok, &ParseError{Field: "start_group", Err: err}
		}
		if ok.StartObj, err = r.readVarInt(); err != nil {
			return ok, &ParseError{Field: "start_object", Err: err}
		}
	case FilterAbsoluteRange:
		if ok.StartGroup, err = r.readVarInt(); err != nil {
			return ok, &ParseError{Field: "start_group", Err: err}
		}
		if ok.StartObj, err = r.readVarInt(); err != nil {
			return ok, &ParseError{Field: "start_object", Err: err}
		}
		if ok.EndGroup, err = r.readVarInt(); err != nil {
			return ok, &ParseError{Field: "end_group", Err: err}
		}
	}
	ok.Parameters, err = parseParameters(r)
	if err != nil {
		return ok, err
	}
	return ok, nil
}

func SerializePublishOK(ok PublishOK) []byte {
	var buf []byte
	buf = AppendVarInt(buf, ok.RequestID)
	buf = append(buf, ok.Forward, ok.SubscriberPriority, ok.GroupOrder)
	buf = AppendVarInt(buf, ok.FilterType)
	switch ok.FilterType {
	case FilterAbsoluteStart:
		buf = AppendVarInt(buf, ok.StartGroup)
		buf = AppendVarInt(buf, ok.StartObj)
	case FilterAbsoluteRange:
		buf = AppendVarInt(buf, ok.StartGroup)
		buf = AppendVarInt(buf, ok.StartObj)
		buf = AppendVarInt(buf, ok.EndGroup)
	}
	buf = appendParameters(buf, ok.Parameters)
	return buf
}

// PublishDone signals the publisher has stopped sending a published track.
type PublishDone struct {
	RequestID    uint64
	StatusCode   uint64
	ReasonPhrase string
}

func ParsePublishDone(data []byte) (PublishDone, error) {
	r := newByteReader(data)
	var pd PublishDone
	var err error
	if pd.RequestID, err = r.readVarInt(); err != nil {
		return pd, &ParseError{Field: "request_id", Err: err}
	}
	if pd.StatusCode, err = r.readVarInt(); err != nil {
		return pd, &ParseError{Field: "status_code", Err: err}
	}
	reason, err := r.readVarIntBytes()
	if err != nil {
		return pd, &ParseError{Field: "reason_phrase", Err: err}
	}
	pd.ReasonPhrase = string(reason)
	return pd, nil
}

func SerializePublishDone(pd PublishDone) []byte {
	var buf []byte
	buf = AppendVarInt(buf, pd.RequestID)
	buf = AppendVarInt(buf, pd.StatusCode)
	buf = appendVarIntBytes(buf, []byte(pd.ReasonPhrase))
	return buf
}

// ---- FETCH family ------------------------------------------------------------

// Fetch requests a bounded range of already-published objects over a
// dedicated fetch stream, independent of any live subscription.
type Fetch struct {
	RequestID  uint64
	Namespace  TrackNamespace
	TrackName  string
	Start      Location
	End        Location
	Parameters []Parameter
}

func ParseFetch(data []byte) (Fetch, error) {
	r := newByteReader(data)
	var f Fetch
	var err error
	if f.RequestID, err = r.readVarInt(); err != nil {
		return f, &ParseError{Field: "request_id", Err: err}
	}
	if f.Namespace, err = parseNamespace(r); err != nil {
		return f, &ParseError{Field: "namespace", Err: err}
	}
	trackName, err := r.readVarIntBytes()
	if err != nil {
		return f, &ParseError{Field: "track_name", Err: err}
	}
	f.TrackName = string(trackName)
	if f.Start, err = r.readLocation(); err != nil {
		return f, &ParseError{Field: "start", Err: err}
	}
	if f.End, err = r.readLocation(); err != nil {
		return f, &ParseError{Field: "end", Err: err}
	}
	f.Parameters, err = parseParameters(r)
	if err != nil {
		return f, err
	}
	return f, nil
}

func SerializeFetch(f Fetch) []byte {
	var buf []byte
	buf = AppendVarInt(buf, f.RequestID)
	buf = appendNamespace(buf, f.Namespace)
	buf = appendVarIntBytes(buf, []byte(f.TrackName))
	buf = appendLocation(buf, f.Start)
	buf = appendLocation(buf, f.End)
	buf = appendParameters(buf, f.Parameters)
	return buf
}

// FetchOK confirms a FETCH and reports the largest object the fetch
// stream will deliver.
type FetchOK struct {
	RequestID  uint64
	GroupOrder byte
	EndOfTrack bool
	End        Location
	Parameters []Parameter
}

func ParseFetchOK(data []byte) (FetchOK, error) {
	r := newByteReader(data)
	var ok FetchOK
	var err error
	if ok.RequestID, err = r.readVarInt(); err != nil {
		return ok, &ParseError{Field: "request_id", Err: err}
	}
	if ok.GroupOrder, err = r.readByte(); err != nil {
		return ok, &ParseError{Field: "group_order", Err: err}
	}
	eot, err := r.readByte()
	if err != nil {
		return ok, &ParseError{Field: "end_of_track", Err: err}
	}
	ok.EndOfTrack = eot != 0
	if ok.End, err = r.readLocation(); err != nil {
		return ok, &ParseError{Field: "end", Err: err}
	}
	ok.Parameters, err = parseParameters(r)
	if err != nil {
		return ok, err
	}
	return ok, nil
}

func SerializeFetchOK(ok FetchOK) []byte {
	var buf []byte
	buf = AppendVarInt(buf, ok.RequestID)
	buf = append(buf, ok.GroupOrder)
	if ok.EndOfTrack {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = appendLocation(buf, ok.End)
	buf = appendParameters(buf, ok.Parameters)
	return buf
}

// FetchCancel aborts an in-progress FETCH.
type FetchCancel struct {
	RequestID uint64
}

func ParseFetchCancel(data []byte) (FetchCancel, error) {
	r := newByteReader(data)
	id, err := r.readVarInt()
	if err != nil {
		return FetchCancel{}, &ParseError{Field: "request_id", Err: err}
	}
	return FetchCancel{RequestID: id}, nil
}

func SerializeFetchCancel(fc FetchCancel) []byte {
	return AppendVarInt(nil, fc.RequestID)
}

// ---- TRACK_STATUS ------------------------------------------------------------

// TrackStatus reports the current state of a track without subscribing
// to it. StatusCode is a draft-15 §9.7 addition this package requires
// explicitly, since it isn't optional in a useful status report.
type TrackStatus struct {
	RequestID  uint64
	StatusCode uint64
	Namespace  TrackNamespace
	TrackName  string
	Parameters []Parameter
}

func ParseTrackStatus(data []byte) (TrackStatus, error) {
	r := newByteReader(data)
	var ts TrackStatus
	var err error
	if ts.RequestID, err = r.readVarInt(); err != nil {
		return ts, &ParseError{Field: "request_id", Err: err}
	}
	if ts.StatusCode, err = r.readVarInt(); err != nil {
		return ts, &ParseError{Field: "status_code", Err: err}
	}
	if ts.Namespace, err = parseNamespace(r); err != nil {
		return ts, &ParseError{Field: "namespace", Err: err}
	}
	trackName, err := r.readVarIntBytes()
	if err != nil {
		return ts, &ParseError{Field: "track_name", Err: err}
	}
	ts.TrackName = string(trackName)
	ts.Parameters, err = parseParameters(r)
	if err != nil {
		return ts, err
	}
	return ts, nil
}

func SerializeTrackStatus(ts TrackStatus) []byte {
	var buf []byte
	buf = AppendVarInt(buf, ts.RequestID)
	buf = AppendVarInt(buf, ts.StatusCode)
	buf = appendNamespace(buf, ts.Namespace)
	buf = appendVarIntBytes(buf, []byte(ts.TrackName))
	buf = appendParameters(buf, ts.Parameters)
	return buf
}

// ---- namespace announce family -----------------------------------------------

// PublishNamespace announces that a namespace is available for
// subscription, independent of any specific track.
type PublishNamespace struct {
	RequestID  uint64
	Namespace  TrackNamespace
	Parameters []Parameter
}

func ParsePublishNamespace(data []byte) (PublishNamespace, error) {
	r := newByteReader(data)
	var pn PublishNamespace
	var err error
	if pn.RequestID, err = r.readVarInt(); err != nil {
		return pn, &ParseError{Field: "request_id", Err: err}
	}
	if pn.Namespace, err = parseNamespace(r); err != nil {
		return pn, &ParseError{Field: "namespace", Err: err}
	}
	pn.Parameters, err = parseParameters(r)
	if err != nil {
		return pn, err
	}
	return pn, nil
}

func SerializePublishNamespace(pn PublishNamespace) []byte {
	var buf []byte
	buf = AppendVarInt(buf, pn.RequestID)
	buf = appendNamespace(buf, pn.Namespace)
	buf = appendParameters(buf, pn.Parameters)
	return buf
}

// PublishNamespaceDone withdraws a previously announced namespace.
type PublishNamespaceDone struct {
	RequestID    uint64
	StatusCode   uint64
	ReasonPhrase string
}

func ParsePublishNamespaceDone(data []byte) (PublishNamespaceDone, error) {
	r := newByteReader(data)
	var pd PublishNamespaceDone
	var err error
	if pd.RequestID, err = r.readVarInt(); err != nil {
		return pd, &ParseError{Field: "request_id", Err: err}
	}
	if pd.StatusCode, err = r.readVarInt(); err != nil {
		return pd, &ParseError{Field: "status_code", Err: err}
	}
	reason, err := r.readVarIntBytes()
	if err != nil {
		return pd, &ParseError{Field: "reason_phrase", Err: err}
	}
	pd.ReasonPhrase = string(reason)
	return pd, nil
}

func SerializePublishNamespaceDone(pd PublishNamespaceDone) []byte {
	var buf []byte
	buf = AppendVarInt(buf, pd.RequestID)
	buf = AppendVarInt(buf, pd.StatusCode)
	buf = appendVarIntBytes(buf, []byte(pd.ReasonPhrase))
	return buf
}

// PublishNamespaceCancel rejects or aborts a PUBLISH_NAMESPACE request.
type PublishNamespaceCancel struct {
	RequestID uint64
}

func ParsePublishNamespaceCancel(data []byte) (PublishNamespaceCancel, error) {
	r := newByteReader(data)
	id, err := r.readVarInt()
	if err != nil {
		return PublishNamespaceCancel{}, &ParseError{Field: "request_id", Err: err}
	}
	return PublishNamespaceCancel{RequestID: id}, nil
}

func SerializePublishNamespaceCancel(pc PublishNamespaceCancel) []byte {
	return AppendVarInt(nil, pc.RequestID)
}

// SubscribeNamespace requests notification of PUBLISH_NAMESPACE
// announcements under a namespace prefix.
type SubscribeNamespace struct {
	RequestID       uint64
	NamespacePrefix TrackNamespace
	Parameters      []Parameter
}

func ParseSubscribeNamespace(data []byte) (SubscribeNamespace, error) {
	r := newByteReader(data)
	var sn SubscribeNamespace
	var err error
	if sn.RequestID, err = r.readVarInt(); err != nil {
		return sn, &ParseError{Field: "request_id", Err: err}
	}
	if sn.NamespacePrefix, err = parseNamespace(r); err != nil {
		return sn, &ParseError{Field: "namespace_prefix", Err: err}
	}
	sn.Parameters, err = parseParameters(r)
	if err != nil {
		return sn, err
	}
	return sn, nil
}

func SerializeSubscribeNamespace(sn SubscribeNamespace) []byte {
	var buf []byte
	buf = AppendVarInt(buf, sn.RequestID)
	buf = appendNamespace(buf, sn.NamespacePrefix)
	buf = appendParameters(buf, sn.Parameters)
	return buf
}

// UnsubscribeNamespace cancels a SubscribeNamespace registration.
type UnsubscribeNamespace struct {
	RequestID uint64
}

func ParseUnsubscribeNamespace(data []byte) (UnsubscribeNamespace, error) {
	r := newByteReader(data)
	id, err := r.readVarInt()
	if err != nil {
		return UnsubscribeNamespace{}, &ParseError{Field: "request_id", Err: err}
	}
	return UnsubscribeNamespace{RequestID: id}, nil
}

func SerializeUnsubscribeNamespace(un UnsubscribeNamespace) []byte {
	return AppendVarInt(nil, un.RequestID)
}
