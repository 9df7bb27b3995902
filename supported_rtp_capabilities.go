package sfu

import "github.com/rtckit/sfu/h264"

var supportedRtpCapabilities = RtpCapabilities{
	Codecs: []*RtpCodecCapability{
		{
			Kind:      MediaKindAudio,
			MimeType:  "audio/opus",
			ClockRate: 48000,
			Channels:  2,
			RtcpFeedback: []RtcpFeedback{
				{Type: "transport-cc"},
			},
		},
		{
			Kind:                 MediaKindAudio,
			MimeType:             "audio/PCMU",
			PreferredPayloadType: 0,
			ClockRate:            8000,
			RtcpFeedback: []RtcpFeedback{
				{Type: "transport-cc"},
			},
		},
		{
			Kind:                 MediaKindAudio,
			MimeType:             "audio/PCMA",
			PreferredPayloadType: 8,
			ClockRate:            8000,
			RtcpFeedback: []RtcpFeedback{
				{Type: "transport-cc"},
			},
		},
		{
			Kind:                 MediaKindAudio,
			MimeType:             "audio/G722",
			PreferredPayloadType: 9,
			ClockRate:            8000,
			RtcpFeedback: []RtcpFeedback{
				{Type: "transport-cc"},
			},
		},
		{
			Kind:      MediaKindVideo,
			MimeType:  "video/VP8",
			ClockRate: 90000,
			RtcpFeedback: []RtcpFeedback{
				{Type: "nack"},
				{Type: "nack", Parameter: "pli"},
				{Type: "nack", Parameter: "sli"},
				{Type: "nack", Parameter: "rpsi"},
				{Type: "ccm", Parameter: "fir"},
				{Type: "goog-remb"},
				{Type: "transport-cc"},
			},
		},
		{
			Kind:      MediaKindVideo,
			MimeType:  "video/VP9",
			ClockRate: 90000,
			RtcpFeedback: []RtcpFeedback{
				{Type: "nack"},
				{Type: "nack", Parameter: "pli"},
				{Type: "ccm", Parameter: "fir"},
				{Type: "goog-remb"},
				{Type: "transport-cc"},
			},
		},
		{
			Kind:      MediaKindVideo,
			MimeType:  "video/H264",
			ClockRate: 90000,
			Parameters: RtpCodecSpecificParameters{
				Parameters: h264.Parameters{
					PacketizationMode:     1,
					ProfileLevelId:        "42e01f",
					LevelAsymmetryAllowed: 1,
				},
			},
			RtcpFeedback: []RtcpFeedback{
				{Type: "nack"},
				{Type: "nack", Parameter: "pli"},
				{Type: "nack", Parameter: "sli"},
				{Type: "nack", Parameter: "rpsi"},
				{Type: "ccm", Parameter: "fir"},
				{Type: "goog-remb"},
				{Type: "transport-cc"},
			},
		},
		{
			Kind:      MediaKindVideo,
			MimeType:  "video/H264",
			ClockRate: 90000,
			Parameters: RtpCodecSpecificParameters{
				Parameters: h264.Parameters{
					ProfileLevelId:        "42e01f",
					LevelAsymmetryAllowed: 1,
				},
			},
			RtcpFeedback: []RtcpFeedback{
				{Type: "nack"},
				{Type: "nack", Parameter: "pli"},
				{Type: "nack", Parameter: "sli"},
				{Type: "nack", Parameter: "rpsi"},
				{Type: "ccm", Parameter: "fir"},
				{Type: "goog-remb"},
				{Type: "transport-cc"},
			},
		},
	},
	HeaderExtensions: []*RtpHeaderExtension{
		{
			Kind:        MediaKindAudio,
			Uri:         "urn:ietf:params:rtp-hdrext:sdes:mid",
			PreferredId: 1,
			Direction:   DirectionSendrecv,
		},
		{
			Kind:        MediaKindVideo,
			Uri:         "urn:ietf:params:rtp-hdrext:sdes:mid",
			PreferredId: 1,
			Direction:   DirectionSendrecv,
		},
		{
			Kind:        MediaKindAudio,
			Uri:         "urn:ietf:params:rtp-hdrext:ssrc-audio-level",
			PreferredId: 10,
			Direction:   DirectionSendrecv,
		},
		{
			Kind:        MediaKindVideo,
			Uri:         "urn:3gpp:video-orientation",
			PreferredId: 11,
			Direction:   DirectionSendrecv,
		},
		{
			Kind:        MediaKindVideo,
			Uri:         "urn:ietf:params:rtp-hdrext:toffset",
			PreferredId: 12,
			Direction:   DirectionSendrecv,
		},
		{
			Kind:        MediaKindAudio,
			Uri:         "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time",
			PreferredId: 4,
			Direction:   DirectionSendrecv,
		},
		{
			Kind:        MediaKindVideo,
			Uri:         "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time",
			PreferredId: 4,
			Direction:   DirectionSendrecv,
		},
		{
			Kind:        MediaKindAudio,
			Uri:         "http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01",
			PreferredId: 5,
			Direction:   DirectionRecvonly,
		},
		{
			Kind:        MediaKindVideo,
			Uri:         "http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01",
			PreferredId: 5,
			Direction:   DirectionSendrecv,
		},
	},
}

// GetSupportedRtpCapabilities returns a deep copy of the process-wide
// supported capabilities table.
func GetSupportedRtpCapabilities() (caps RtpCapabilities) {
	clone(supportedRtpCapabilities, &caps)
	return
}
