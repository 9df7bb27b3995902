package sfu

import "encoding/json"

// internalData carries the target identifiers of a request.
type internalData struct {
	RoomId        uint32 `json:"roomId,omitempty"`
	PeerId        uint32 `json:"peerId,omitempty"`
	RtpReceiverId uint32 `json:"rtpReceiverId,omitempty"`
	RtpSenderId   uint32 `json:"rtpSenderId,omitempty"`
}

// ChannelRequest is one control-plane request as read from the channel.
type ChannelRequest struct {
	Id       int64           `json:"id"`
	Method   string          `json:"method"`
	Internal internalData    `json:"internal,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// channelResponse is the accepted/rejected reply to a request.
type channelResponse struct {
	Id       int64       `json:"id"`
	Accepted bool        `json:"accepted,omitempty"`
	Error    string      `json:"error,omitempty"`
	Reason   string      `json:"reason,omitempty"`
	Data     interface{} `json:"data,omitempty"`
}

// channelNotification pushes a state change without a matching request.
type channelNotification struct {
	TargetId uint32      `json:"targetId"`
	Event    string      `json:"event"`
	Data     interface{} `json:"data,omitempty"`
}

// Request bodies.

type createRoomRequest struct {
	RoomOptions
}

type createPeerRequest struct {
	// Reserved for future per-peer settings.
}

type setPeerCapabilitiesRequest struct {
	Capabilities RtpCapabilities `json:"capabilities"`
}

type createRtpReceiverRequest struct {
	Kind MediaKind `json:"kind"`
}

type setRtpReceiverParametersRequest struct {
	RtpParameters RtpParameters `json:"rtpParameters"`
}

// Notification bodies.

// NewRtpSenderNotification announces an outbound stream built for a
// subscriber peer.
type NewRtpSenderNotification struct {
	SenderId      uint32        `json:"rtpSenderId"`
	PeerId        uint32        `json:"peerId"` // publishing peer
	RtpReceiverId uint32        `json:"rtpReceiverId"`
	Kind          MediaKind     `json:"kind"`
	RtpParameters RtpParameters `json:"rtpParameters"`
}

// EntityClosedNotification names the receiver or sender that went away.
type EntityClosedNotification struct {
	Id uint32 `json:"id"`
}

// Dump bodies.

type WorkerDump struct {
	RoomIds []uint32 `json:"roomIds"`
}

type RoomDump struct {
	RoomId uint32       `json:"roomId"`
	Peers  []PeerDump   `json:"peers"`
	FanOut []FanOutDump `json:"mapRtpReceiverRtpSenders"`
}

type PeerDump struct {
	PeerId       uint32           `json:"peerId"`
	State        string           `json:"state"`
	RtpReceivers []RtpStreamDump  `json:"rtpReceivers"`
	RtpSenders   []RtpSenderDump  `json:"rtpSenders"`
	Capabilities *RtpCapabilities `json:"capabilities,omitempty"`
}

type RtpStreamDump struct {
	Id    uint32    `json:"id"`
	Kind  MediaKind `json:"kind"`
	State string    `json:"state"`
	Ssrc  uint32    `json:"ssrc,omitempty"`
}

type RtpSenderDump struct {
	Id   uint32    `json:"id"`
	Kind MediaKind `json:"kind"`
	Ssrc uint32    `json:"ssrc"`
}

type FanOutDump struct {
	PeerId        uint32         `json:"peerId"`
	RtpReceiverId uint32         `json:"rtpReceiverId"`
	RtpSenders    []SenderRefDump `json:"rtpSenders"`
}

type SenderRefDump struct {
	PeerId      uint32 `json:"peerId"`
	RtpSenderId uint32 `json:"rtpSenderId"`
}
