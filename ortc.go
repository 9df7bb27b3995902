package sfu

import (
	"fmt"
	"strings"

	"github.com/rtckit/sfu/h264"
)

// dynamicPayloadTypes is the ordered pool the room assigns dynamic payload
// types from, in allocation order.
var dynamicPayloadTypes = [...]byte{
	96, 97, 98, 99, 100, 101, 102, 103, 104, 105, 106, 107, 108, 109, 110,
	111, 112, 113, 114, 115, 116, 117, 118, 119, 120, 121, 122, 123, 124,
	125, 126, 127,
}

type matchOptions struct {
	strict bool
	modify bool
}

// validateRtpCapabilities checks RtpCapabilities. It may modify given data
// by adding missing fields with default values.
func validateRtpCapabilities(params *RtpCapabilities) (err error) {
	for _, codec := range params.Codecs {
		if err = validateRtpCodecCapability(codec); err != nil {
			return
		}
	}

	for _, ext := range params.HeaderExtensions {
		if err = validateRtpHeaderExtension(ext); err != nil {
			return
		}
	}

	return
}

func validateRtpCodecCapability(codec *RtpCodecCapability) (err error) {
	mimeType := strings.ToLower(codec.MimeType)

	// mimeType is mandatory.
	if !strings.HasPrefix(mimeType, "audio/") && !strings.HasPrefix(mimeType, "video/") {
		return NewTypeError("invalid codec.mimeType")
	}

	codec.Kind = MediaKind(strings.Split(mimeType, "/")[0])

	// clockRate is mandatory.
	if codec.ClockRate == 0 {
		return NewTypeError("missing codec.clockRate")
	}

	// channels is optional. If unset, set it to 1 (just if audio).
	if codec.Kind == MediaKindAudio && codec.Channels == 0 {
		codec.Channels = 1
	}

	for _, fb := range codec.RtcpFeedback {
		if err = validateRtcpFeedback(fb); err != nil {
			return
		}
	}

	return
}

func validateRtcpFeedback(fb RtcpFeedback) error {
	if len(fb.Type) == 0 {
		return NewTypeError("missing fb.type")
	}
	return nil
}

func validateRtpHeaderExtension(ext *RtpHeaderExtension) (err error) {
	if len(ext.Kind) > 0 && ext.Kind != MediaKindAudio && ext.Kind != MediaKindVideo {
		return NewTypeError("invalid ext.kind")
	}

	// uri is mandatory.
	if len(ext.Uri) == 0 {
		return NewTypeError("missing ext.uri")
	}

	// preferredId is mandatory.
	if ext.PreferredId == 0 {
		return NewTypeError("missing ext.preferredId")
	}

	// direction is optional. If unset set it to sendrecv.
	if len(ext.Direction) == 0 {
		ext.Direction = DirectionSendrecv
	}

	return
}

// validateRtpParameters checks RtpParameters. It may modify given data by
// adding missing fields with default values.
func validateRtpParameters(params *RtpParameters) (err error) {
	if len(params.Codecs) == 0 {
		return NewTypeError("missing params.codecs")
	}

	for _, codec := range params.Codecs {
		if err = validateRtpCodecParameters(codec); err != nil {
			return
		}
	}

	for _, ext := range params.HeaderExtensions {
		if len(ext.Uri) == 0 {
			return NewTypeError("missing ext.uri")
		}
		if ext.Id == 0 {
			return NewTypeError("missing ext.id")
		}
	}

	if params.Rtcp.ReducedSize == nil {
		params.Rtcp.ReducedSize = Bool(true)
	}

	return
}

func validateRtpCodecParameters(codec *RtpCodecParameters) (err error) {
	mimeType := strings.ToLower(codec.MimeType)

	// mimeType is mandatory.
	if !strings.HasPrefix(mimeType, "audio/") && !strings.HasPrefix(mimeType, "video/") {
		return NewTypeError("invalid codec.mimeType")
	}

	// clockRate is mandatory.
	if codec.ClockRate == 0 {
		return NewTypeError("missing codec.clockRate")
	}

	// channels is optional. If unset, set it to 1 (just if audio).
	if strings.HasPrefix(mimeType, "audio/") && codec.Channels == 0 {
		codec.Channels = 1
	}

	for _, fb := range codec.RtcpFeedback {
		if err = validateRtcpFeedback(fb); err != nil {
			return
		}
	}

	return
}

// generateRoomRtpCapabilities builds the room capabilities for the given
// media codecs based on the process-wide supported capabilities table, and
// assigns payload types: codecs declaring a static payload type keep it,
// the rest draw from the dynamic pool in allocation order.
func generateRoomRtpCapabilities(mediaCodecs []*RtpCodecCapability) (caps RtpCapabilities, err error) {
	if len(mediaCodecs) == 0 {
		err = NewTypeError("mediaCodecs cannot be empty")
		return
	}

	supported := GetSupportedRtpCapabilities()

	caps.HeaderExtensions = supported.HeaderExtensions

	pool := make([]byte, len(dynamicPayloadTypes))
	copy(pool, dynamicPayloadTypes[:])

	takePayloadType := func(preferred byte) (byte, bool) {
		if preferred > 0 {
			for i, pt := range pool {
				if pt == preferred {
					pool = append(pool[:i], pool[i+1:]...)
					return preferred, true
				}
			}
		}
		if len(pool) == 0 {
			return 0, false
		}
		pt := pool[0]
		pool = pool[1:]
		return pt, true
	}

	for _, mediaCodec := range mediaCodecs {
		if err = validateRtpCodecCapability(mediaCodec); err != nil {
			return
		}
		matchedSupportedCodec, matched := findMatchedCodec(mediaCodec, supported.Codecs, matchOptions{})

		if !matched {
			err = NewUnsupportedError("media codec not supported [mimeType:%s]", mediaCodec.MimeType)
			return
		}
		codec := &RtpCodecCapability{}

		if err = clone(matchedSupportedCodec, codec); err != nil {
			return
		}

		// Merge the caller's codec parameters and feedback over the
		// supported defaults.
		if err = override(&codec.Parameters, mediaCodec.Parameters); err != nil {
			return
		}
		if len(mediaCodec.RtcpFeedback) > 0 {
			codec.RtcpFeedback = mediaCodec.RtcpFeedback
		}

		preferred := mediaCodec.PreferredPayloadType

		switch {
		case preferred > 0 && isStaticPayloadType(preferred):
			// Static payload types are preserved as declared.
			codec.PreferredPayloadType = preferred

		case preferred == 0 && codec.PreferredPayloadType > 0 && isStaticPayloadType(codec.PreferredPayloadType):
			// Static assignment from the supported table is preserved.

		case preferred == 0 && strings.EqualFold(codec.MimeType, "audio/PCMU"):
			// PCMU's static payload type is the zero value.
			codec.PreferredPayloadType = 0

		default:
			// Unset or conflicting preferences draw the first unused
			// value from the dynamic pool.
			pt, ok := takePayloadType(preferred)
			if !ok {
				err = NewUnsupportedError("cannot allocate more dynamic payload types")
				return
			}
			codec.PreferredPayloadType = pt
		}

		for _, capCodec := range caps.Codecs {
			if capCodec.PreferredPayloadType == codec.PreferredPayloadType {
				err = NewTypeError("duplicated codec.preferredPayloadType %d", codec.PreferredPayloadType)
				return
			}
		}

		caps.Codecs = append(caps.Codecs, codec)

		// Add an RTX codec if video.
		if codec.Kind == MediaKindVideo {
			pt, ok := takePayloadType(0)
			if !ok {
				err = NewUnsupportedError("cannot allocate more dynamic payload types")
				return
			}

			caps.Codecs = append(caps.Codecs, &RtpCodecCapability{
				Kind:                 codec.Kind,
				MimeType:             fmt.Sprintf("%s/rtx", codec.Kind),
				PreferredPayloadType: pt,
				ClockRate:            codec.ClockRate,
				Parameters: RtpCodecSpecificParameters{
					Apt: codec.PreferredPayloadType,
				},
				RtcpFeedback: []RtcpFeedback{},
			})
		}
	}

	return
}

// isStaticPayloadType reports whether pt belongs to the static assignment
// range of RFC 3551.
func isStaticPayloadType(pt byte) bool {
	return pt < 96
}

// intersectRtpCapabilities computes a peer's negotiated capabilities: the
// subset of roomCaps the peer can handle. The result preserves the room's
// codec order and adopts the room's payload types and header extension ids;
// RTCP feedback is the intersection of both sets. An RTX codec is kept only
// when the media codec its apt points to matched and the peer itself offers
// an RTX codec for its counterpart.
func intersectRtpCapabilities(roomCaps, peerCaps RtpCapabilities) (RtpCapabilities, error) {
	var negotiated RtpCapabilities

	// Map room media codec PT -> matching peer codec, filled on match.
	matchedPeerCodec := map[byte]*RtpCodecCapability{}

	for _, roomCodec := range roomCaps.Codecs {
		if roomCodec.isRtxCodec() {
			continue
		}
		var peerCodec *RtpCodecCapability

		for _, offered := range peerCaps.Codecs {
			if offered.isRtxCodec() {
				continue
			}
			if matchCodecCapabilities(offered, roomCodec, matchOptions{strict: true}) {
				peerCodec = offered
				break
			}
		}
		if peerCodec == nil {
			continue
		}
		matchedPeerCodec[roomCodec.PreferredPayloadType] = peerCodec

		codec := &RtpCodecCapability{}
		if err := clone(roomCodec, codec); err != nil {
			return RtpCapabilities{}, err
		}

		// The room's payload type wins; the peer's preferred PT is
		// discarded. Feedback is reduced to what both sides support.
		codec.RtcpFeedback = intersectRtcpFeedback(roomCodec.RtcpFeedback, peerCodec.RtcpFeedback)

		negotiated.Codecs = append(negotiated.Codecs, codec)
	}

	if len(negotiated.Codecs) == 0 {
		return RtpCapabilities{}, NewUnsupportedError("no compatible media codecs")
	}

	// Second pass for RTX codecs, so apt chains resolve against codecs that
	// matched above.
	for _, roomCodec := range roomCaps.Codecs {
		if !roomCodec.isRtxCodec() {
			continue
		}
		peerMediaCodec, ok := matchedPeerCodec[roomCodec.Parameters.Apt]
		if !ok {
			continue
		}

		// The peer must offer an RTX codec whose apt refers to its own
		// matched media codec.
		peerHasRtx := false
		for _, offered := range peerCaps.Codecs {
			if offered.isRtxCodec() && offered.Parameters.Apt == peerMediaCodec.PreferredPayloadType {
				peerHasRtx = true
				break
			}
		}
		if !peerHasRtx {
			continue
		}

		codec := &RtpCodecCapability{}
		if err := clone(roomCodec, codec); err != nil {
			return RtpCapabilities{}, err
		}

		negotiated.Codecs = append(negotiated.Codecs, codec)
	}

	// Header extensions intersect by URI and kind; the room's id wins.
	for _, roomExt := range roomCaps.HeaderExtensions {
		for _, peerExt := range peerCaps.HeaderExtensions {
			if roomExt.Uri != peerExt.Uri {
				continue
			}
			if len(peerExt.Kind) > 0 && roomExt.Kind != peerExt.Kind {
				continue
			}
			ext := &RtpHeaderExtension{}
			if err := clone(roomExt, ext); err != nil {
				return RtpCapabilities{}, err
			}
			negotiated.HeaderExtensions = append(negotiated.HeaderExtensions, ext)
			break
		}
	}

	// Order restored below; RTX entries follow their media codec.
	negotiated.Codecs = sortCodecsInRoomOrder(negotiated.Codecs, roomCaps.Codecs)

	return negotiated, nil
}

// sortCodecsInRoomOrder reorders codecs to follow roomCodecs' order.
func sortCodecsInRoomOrder(codecs, roomCodecs []*RtpCodecCapability) []*RtpCodecCapability {
	ordered := make([]*RtpCodecCapability, 0, len(codecs))

	for _, roomCodec := range roomCodecs {
		for _, codec := range codecs {
			if codec.PreferredPayloadType == roomCodec.PreferredPayloadType {
				ordered = append(ordered, codec)
				break
			}
		}
	}

	return ordered
}

func intersectRtcpFeedback(a, b []RtcpFeedback) []RtcpFeedback {
	out := []RtcpFeedback{}

	for _, fb := range a {
		for _, other := range b {
			if fb.Type == other.Type && fb.Parameter == other.Parameter {
				out = append(out, fb)
				break
			}
		}
	}

	return out
}

// validateParametersAgainstCapabilities checks that every codec payload
// type and every header extension id in params appears in the peer's
// negotiated capabilities.
func validateParametersAgainstCapabilities(params *RtpParameters, caps RtpCapabilities) error {
	for _, codec := range params.Codecs {
		capCodec := capabilityCodecByPayloadType(caps, codec.PayloadType)
		if capCodec == nil {
			return NewUnsupportedError("unsupported codec [mimeType:%s, payloadType:%d]", codec.MimeType, codec.PayloadType)
		}
		if !strings.EqualFold(capCodec.MimeType, codec.MimeType) || capCodec.ClockRate != codec.ClockRate {
			return NewUnsupportedError("codec does not match capability codec [payloadType:%d]", codec.PayloadType)
		}
	}

	for _, ext := range params.HeaderExtensions {
		found := false
		for _, capExt := range caps.HeaderExtensions {
			if capExt.PreferredId == ext.Id && capExt.Uri == ext.Uri {
				found = true
				break
			}
		}
		if !found {
			return NewUnsupportedError("unsupported header extension [uri:%s, id:%d]", ext.Uri, ext.Id)
		}
	}

	return nil
}

func capabilityCodecByPayloadType(caps RtpCapabilities, pt byte) *RtpCodecCapability {
	for _, codec := range caps.Codecs {
		if codec.PreferredPayloadType == pt {
			return codec
		}
	}
	return nil
}

func findMatchedCodec(aCodec interface{}, bCodecs []*RtpCodecCapability, options matchOptions) (codec *RtpCodecCapability, matched bool) {
	var cap *RtpCodecCapability

	switch c := aCodec.(type) {
	case *RtpCodecCapability:
		cap = c
	case *RtpCodecParameters:
		cap = &RtpCodecCapability{
			MimeType:   c.MimeType,
			ClockRate:  c.ClockRate,
			Channels:   c.Channels,
			Parameters: c.Parameters,
		}
	}

	for _, bCodec := range bCodecs {
		if matchCodecCapabilities(cap, bCodec, options) {
			return bCodec, true
		}
	}
	return
}

// matchCodecCapabilities applies the codec matching rule: MIME name
// (case-insensitive), clock rate, audio channel count and the
// codec-specific parameter rules (H264 profile compatibility, opus
// useinbandfec).
func matchCodecCapabilities(aCodec, bCodec *RtpCodecCapability, options matchOptions) bool {
	aMimeType := strings.ToLower(aCodec.MimeType)
	bMimeType := strings.ToLower(bCodec.MimeType)

	if aMimeType != bMimeType {
		return false
	}

	if aCodec.ClockRate != bCodec.ClockRate {
		return false
	}

	if strings.HasPrefix(aMimeType, "audio/") &&
		aCodec.Channels > 0 &&
		bCodec.Channels > 0 &&
		aCodec.Channels != bCodec.Channels {
		return false
	}

	switch aMimeType {
	case "video/h264":
		aParameters, bParameters := aCodec.Parameters, bCodec.Parameters

		if aParameters.PacketizationMode != bParameters.PacketizationMode {
			return false
		}

		if options.strict {
			if !h264.IsSameProfile(aParameters.ProfileLevelId, bParameters.ProfileLevelId) {
				return false
			}
			selectedProfileLevelId, err := h264.GenerateProfileLevelIdForAnswer(
				aParameters.Parameters, bParameters.Parameters)
			if err != nil {
				return false
			}

			if options.modify {
				aParameters.ProfileLevelId = selectedProfileLevelId
				aCodec.Parameters = aParameters
			}
		}

	case "audio/opus":
		if aCodec.Parameters.Useinbandfec != bCodec.Parameters.Useinbandfec {
			return false
		}
	}

	return true
}
