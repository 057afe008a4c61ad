package wire

// LOC header extension IDs (draft-ietf-moq-loc-01). These reuse the
// generic ObjectExtensions container; this file only fills in typed
// accessors for the registered subset this library speaks.
const (
	LocExtCaptureTimestamp  uint64 = 2  // even: varint microseconds
	LocExtVideoFrameMarking uint64 = 4  // even: varint, RFC 9626 bit layout
	LocExtAudioLevel        uint64 = 6  // even: varint, RFC 6464 bit layout
	LocExtVideoConfig       uint64 = 13 // odd: opaque codec config bytes
)

// RFC 9626 video frame marking bit layout, packed into a single varint:
//
//	bit 0: independent   (S)
//	bit 1: discardable   (D)
//	bit 2: base_layer_sync (B)
//	bits 3-5: temporal_id (T)
//	bits 6-7: spatial_id  (L)
type VideoFrameMarking struct {
	Independent    bool
	Discardable    bool
	BaseLayerSync  bool
	TemporalID     uint8 // 3 bits
	SpatialID      uint8 // 2 bits
}

func (m VideoFrameMarking) encode() uint64 {
	var v uint64
	if m.Independent {
		v |= 0x01
	}
	if m.Discardable {
		v |= 0x02
	}
	if m.BaseLayerSync {
		v |= 0x04
	}
	v |= uint64(m.TemporalID&0x07) << 3
	v |= uint64(m.SpatialID&0x03) << 6
	return v
}

func decodeVideoFrameMarking(v uint64) VideoFrameMarking {
	return VideoFrameMarking{
		Independent:   v&0x01 != 0,
		Discardable:   v&0x02 != 0,
		BaseLayerSync: v&0x04 != 0,
		TemporalID:    uint8((v >> 3) & 0x07),
		SpatialID:     uint8((v >> 6) & 0x03),
	}
}

// RFC 6464 audio level bit layout, packed into a single varint:
//
//	bit 7: voice_activity
//	bits 0-6: level (0-127, higher is quieter)
type AudioLevel struct {
	VoiceActivity bool
	Level         uint8 // 7 bits
}

func (a AudioLevel) encode() uint64 {
	var v uint64
	if a.VoiceActivity {
		v |= 0x80
	}
	v |= uint64(a.Level & 0x7f)
	return v
}

func decodeAudioLevel(v uint64) AudioLevel {
	return AudioLevel{
		VoiceActivity: v&0x80 != 0,
		Level:         uint8(v & 0x7f),
	}
}

// LOCExtensions is the decoded, typed view of a registered LOC extension
// set. Fields are nil/zero-value when the corresponding extension was
// absent from the object; use the Has* flags to distinguish absence from
// a legitimate zero value.
type LOCExtensions struct {
	HasCaptureTimestamp bool
	CaptureTimestampUs  uint64

	HasVideoFrameMarking bool
	VideoFrameMarking    VideoFrameMarking

	HasAudioLevel bool
	AudioLevel    AudioLevel

	HasVideoConfig bool
	VideoConfig    []byte // opaque codec decoder-config bytes; this package never parses them
}

// ParseLOCExtensions extracts the registered LOC extensions from a
// generic ObjectExtensions map, leaving any unrecognized extension type
// untouched in exts.
func ParseLOCExtensions(exts ObjectExtensions) (LOCExtensions, error) {
	var loc LOCExtensions

	if raw, ok := exts[LocExtCaptureTimestamp]; ok {
		v, _, err := ParseVarInt(raw)
		if err != nil {
			return loc, &ParseError{Field: "capture_timestamp", Err: err}
		}
		loc.HasCaptureTimestamp = true
		loc.CaptureTimestampUs = v
	}
	if raw, ok := exts[LocExtVideoFrameMarking]; ok {
		v, _, err := ParseVarInt(raw)
		if err != nil {
			return loc, &ParseError{Field: "video_frame_marking", Err: err}
		}
		loc.HasVideoFrameMarking = true
		loc.VideoFrameMarking = decodeVideoFrameMarking(v)
	}
	if raw, ok := exts[LocExtAudioLevel]; ok {
		v, _, err := ParseVarInt(raw)
		if err != nil {
			return loc, &ParseError{Field: "audio_level", Err: err}
		}
		loc.HasAudioLevel = true
		loc.AudioLevel = decodeAudioLevel(v)
	}
	if raw, ok := exts[LocExtVideoConfig]; ok {
		loc.HasVideoConfig = true
		loc.VideoConfig = raw
	}
	return loc, nil
}

// AppendLOCExtensions merges the set LOC fields of loc into exts
// (allocating it if nil) and returns it.
func AppendLOCExtensions(exts ObjectExtensions, loc LOCExtensions) ObjectExtensions {
	if exts == nil {
		exts = make(ObjectExtensions)
	}
	if loc.HasCaptureTimestamp {
		exts[LocExtCaptureTimestamp] = AppendVarInt(nil, loc.CaptureTimestampUs)
	}
	if loc.HasVideoFrameMarking {
		exts[LocExtVideoFrameMarking] = AppendVarInt(nil, loc.VideoFrameMarking.encode())
	}
	if loc.HasAudioLevel {
		exts[LocExtAudioLevel] = AppendVarInt(nil, loc.AudioLevel.encode())
	}
	if loc.HasVideoConfig {
		exts[LocExtVideoConfig] = loc.VideoConfig
	}
	return exts
}
