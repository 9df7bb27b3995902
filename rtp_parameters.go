package sfu

import (
	"strings"

	"github.com/rtckit/sfu/h264"
)

// RtpCapabilities define what the room or an endpoint can receive at media
// level.
type RtpCapabilities struct {
	// Codecs is the supported media and RTX codecs.
	Codecs []*RtpCodecCapability `json:"codecs,omitempty"`

	// HeaderExtensions is the supported RTP header extensions.
	HeaderExtensions []*RtpHeaderExtension `json:"headerExtensions,omitempty"`

	// FecMechanisms is the supported FEC mechanisms.
	FecMechanisms []string `json:"fecMechanisms,omitempty"`
}

// Media kind ("audio" or "video").
type MediaKind string

const (
	MediaKindAudio MediaKind = "audio"
	MediaKindVideo MediaKind = "video"
)

// RtpCodecCapability provides information on the capabilities of a codec
// within the RTP capabilities. The codecs the room supports and their
// settings live in supported_rtp_capabilities.go.
type RtpCodecCapability struct {
	// Kind is the media kind.
	Kind MediaKind `json:"kind"`

	// MimeType is the codec MIME media type/subtype (e.g. 'audio/opus', 'video/VP8').
	MimeType string `json:"mimeType"`

	// PreferredPayloadType is the RTP payload type assigned to this codec.
	// Codecs in the static range (PCMU, PCMA, G722...) declare theirs; the
	// rest get one from the dynamic pool at room bootstrap.
	PreferredPayloadType byte `json:"preferredPayloadType"`

	// ClockRate is the codec clock rate expressed in Hertz.
	ClockRate int `json:"clockRate"`

	// Channels is the number of channels supported (e.g. 2 for stereo).
	// Just for audio. Default 1.
	Channels int `json:"channels,omitempty"`

	// Parameters are the codec-specific parameters. Some of them (such as
	// 'packetization-mode' and 'profile-level-id' in H264) are critical for
	// codec matching.
	Parameters RtpCodecSpecificParameters `json:"parameters,omitempty"`

	// RtcpFeedback is the transport layer and codec-specific feedback
	// messages for this codec.
	RtcpFeedback []RtcpFeedback `json:"rtcpFeedback,omitempty"`
}

func (r RtpCodecCapability) isRtxCodec() bool {
	return strings.HasSuffix(strings.ToLower(r.MimeType), "/rtx")
}

// Direction of RTP header extension.
type RtpHeaderExtensionDirection string

const (
	DirectionSendrecv RtpHeaderExtensionDirection = "sendrecv"
	DirectionSendonly RtpHeaderExtensionDirection = "sendonly"
	DirectionRecvonly RtpHeaderExtensionDirection = "recvonly"
	DirectionInactive RtpHeaderExtensionDirection = "inactive"
)

// RtpHeaderExtension provides information relating to supported header
// extensions.
type RtpHeaderExtension struct {
	// Kind is the media kind. If empty, it is valid for all kinds.
	Kind MediaKind `json:"kind"`

	// URI of the RTP header extension, as defined in RFC 8285.
	Uri string `json:"uri"`

	// PreferredId is the numeric identifier that goes in the RTP packet.
	// Must be unique.
	PreferredId int `json:"preferredId"`

	// PreferredEncrypt if true, it is preferred that the value in the
	// header be encrypted as per RFC 6904. Default false.
	PreferredEncrypt bool `json:"preferredEncrypt,omitempty"`

	Direction RtpHeaderExtensionDirection `json:"direction,omitempty"`
}

// RtpParameters describe a media stream as declared by a receiver or as
// rewritten for a sender: the codecs and header extensions in use, the
// transmitted encodings (SSRCs) and the RTCP settings.
type RtpParameters struct {
	// MID RTP extension value as defined in the BUNDLE specification.
	Mid string `json:"mid,omitempty"`

	// Codecs defines media and RTX codecs in use.
	Codecs []*RtpCodecParameters `json:"codecs"`

	// HeaderExtensions is the RTP header extensions in use.
	HeaderExtensions []RtpHeaderExtensionParameters `json:"headerExtensions,omitempty"`

	// Encodings is the transmitted RTP streams and their settings.
	Encodings []RtpEncodingParameters `json:"encodings,omitempty"`

	// Rtcp is the parameters used for RTCP.
	Rtcp RtcpParameters `json:"rtcp,omitempty"`
}

// RtpCodecParameters provides information on codec settings within the RTP
// parameters.
type RtpCodecParameters struct {
	// MimeType is the codec MIME media type/subtype (e.g. 'audio/opus', 'video/VP8').
	MimeType string `json:"mimeType"`

	// PayloadType is the value that goes in the RTP payload type field.
	// Must be unique.
	PayloadType byte `json:"payloadType"`

	// ClockRate is the codec clock rate expressed in Hertz.
	ClockRate int `json:"clockRate"`

	// Channels is the number of channels supported. Just for audio. Default 1.
	Channels int `json:"channels,omitempty"`

	// Parameters are codec-specific parameters available for signaling.
	Parameters RtpCodecSpecificParameters `json:"parameters,omitempty"`

	// RtcpFeedback is the transport layer and codec-specific feedback
	// messages for this codec.
	RtcpFeedback []RtcpFeedback `json:"rtcpFeedback,omitempty"`
}

func (r RtpCodecParameters) isRtxCodec() bool {
	return strings.HasSuffix(strings.ToLower(r.MimeType), "/rtx")
}

// RtpCodecSpecificParameters are the codec-specific parameters available
// for signaling. Some of them (such as 'packetization-mode' and
// 'profile-level-id' in H264) are critical for codec matching.
type RtpCodecSpecificParameters struct {
	h264.Parameters        // used by the H264 codec
	ProfileId       *uint8 `json:"profile-id,omitempty"`   // used by VP9
	Apt             byte   `json:"apt,omitempty"`          // used by RTX codecs
	SpropStereo     uint8  `json:"sprop-stereo,omitempty"` // used by opus, 1 or 0
	Useinbandfec    uint8  `json:"useinbandfec,omitempty"` // used by opus, 1 or 0
	Usedtx          uint8  `json:"usedtx,omitempty"`       // used by opus, 1 or 0
	Maxplaybackrate uint32 `json:"maxplaybackrate,omitempty"`
	Minptime        uint8  `json:"minptime,omitempty"`
}

// RtcpFeedback provides information on RTCP feedback messages for a
// specific codec. Those messages can be transport layer feedback messages
// or codec-specific feedback messages.
type RtcpFeedback struct {
	// Type is the RTCP feedback type ("nack", "ccm", "goog-remb"...).
	Type string `json:"type"`

	// Parameter is the RTCP feedback parameter ("pli", "fir"...).
	Parameter string `json:"parameter,omitempty"`
}

// RtpEncodingParameters provides information relating to an encoding, which
// represents a media RTP stream and its associated RTX stream (if any).
type RtpEncodingParameters struct {
	// SSRC of media.
	Ssrc uint32 `json:"ssrc,omitempty"`

	// RID RTP extension value. Must be unique.
	Rid string `json:"rid,omitempty"`

	// CodecPayloadType is the codec payload type this encoding affects.
	// If unset, the first media codec is chosen.
	CodecPayloadType byte `json:"codecPayloadType,omitempty"`

	// RTX stream information. It must contain a numeric ssrc field
	// indicating the RTX SSRC.
	Rtx *RtpEncodingRtx `json:"rtx,omitempty"`

	// Dtx indicates whether discontinuous RTP transmission is used.
	Dtx bool `json:"dtx,omitempty"`
}

// RtpEncodingRtx represents the associated RTX stream for an RTP stream.
type RtpEncodingRtx struct {
	Ssrc uint32 `json:"ssrc"`
}

// RtpHeaderExtensionParameters defines an RTP header extension within the
// RTP parameters.
type RtpHeaderExtensionParameters struct {
	// URI of the RTP header extension, as defined in RFC 8285.
	Uri string `json:"uri"`

	// Id is the numeric identifier that goes in the RTP packet. Must be unique.
	Id int `json:"id"`

	// Encrypt if true, the value in the header is encrypted as per RFC 6904.
	Encrypt bool `json:"encrypt,omitempty"`
}

// RtcpParameters provides information on RTCP settings within the RTP
// parameters. If no cname is given in a receiver's RTP parameters, the
// receiver generates a random one, and every sender derived from that
// receiver carries the same cname in its parameters.
type RtcpParameters struct {
	// Cname is the Canonical Name (CNAME) used by RTCP (e.g. in SDES messages).
	Cname string `json:"cname,omitempty"`

	// ReducedSize defines whether reduced size RTCP (RFC 5506) is
	// configured (if true) or compound RTCP as specified in RFC 3550 (if
	// false). Default true.
	ReducedSize *bool `json:"reducedSize,omitempty"`

	// Mux defines whether RTCP-mux is used. Default true.
	Mux *bool `json:"mux,omitempty"`
}
