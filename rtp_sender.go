package sfu

import (
	"errors"

	"github.com/go-logr/logr"
)

// RtpSenderState tracks the sender lifecycle.
type RtpSenderState int

const (
	RtpSenderInactive RtpSenderState = iota
	RtpSenderActive
	RtpSenderClosed
)

func (s RtpSenderState) String() string {
	switch s {
	case RtpSenderInactive:
		return "inactive"
	case RtpSenderActive:
		return "active"
	default:
		return "closed"
	}
}

// rtpSenderListener is implemented by the owning (subscriber) Peer.
type rtpSenderListener interface {
	onRtpSenderClosed(sender *RtpSender)
}

// RtpSender owns one outbound RTP stream as negotiated with one subscriber
// peer. It rewrites SSRC and payload type on the way out; sequence numbers,
// timestamps, markers and extension bytes pass through unchanged. The
// association back to the publishing receiver lives in the room's fan-out
// maps, not here.
type RtpSender struct {
	id       uint32
	kind     MediaKind
	logger   logr.Logger
	peer     *Peer // subscriber
	listener rtpSenderListener
	state    RtpSenderState
	params   RtpParameters
	ssrc     uint32

	// payloadTypeMap translates the publishing receiver's payload types to
	// the ones negotiated with the subscriber. Identity under the room's
	// deterministic assignment, but kept explicit.
	payloadTypeMap map[byte]byte
}

func newRtpSender(peer *Peer, listener rtpSenderListener, id uint32, kind MediaKind, params RtpParameters, ssrc uint32, payloadTypeMap map[byte]byte) *RtpSender {
	logger := NewLogger("RtpSender")

	logger.V(1).Info("constructor", "senderId", id, "kind", kind, "ssrc", ssrc)

	return &RtpSender{
		id:             id,
		kind:           kind,
		logger:         logger,
		peer:           peer,
		listener:       listener,
		state:          RtpSenderActive,
		params:         params,
		ssrc:           ssrc,
		payloadTypeMap: payloadTypeMap,
	}
}

func (s *RtpSender) Id() uint32 {
	return s.id
}

func (s *RtpSender) Kind() MediaKind {
	return s.kind
}

func (s *RtpSender) Peer() *Peer {
	return s.peer
}

func (s *RtpSender) Ssrc() uint32 {
	return s.ssrc
}

func (s *RtpSender) State() RtpSenderState {
	return s.state
}

func (s *RtpSender) Closed() bool {
	return s.state == RtpSenderClosed
}

func (s *RtpSender) RtpParameters() RtpParameters {
	return s.params
}

// HasSsrc reports whether ssrc belongs to this outbound stream.
func (s *RtpSender) HasSsrc(ssrc uint32) bool {
	return ssrc == s.ssrc
}

// Route rewrites packet for this subscriber and hands it to the transport.
// The rewrite happens in place and is undone before returning, so the same
// view can be routed to the next sender.
func (s *RtpSender) Route(packet *RtpPacket) {
	if s.state != RtpSenderActive {
		return
	}

	origSsrc := packet.Ssrc()
	origPayloadType := packet.PayloadType()

	packet.SetSsrc(s.ssrc)
	if mapped, ok := s.payloadTypeMap[origPayloadType]; ok {
		packet.SetPayloadType(mapped)
	}

	if err := s.peer.transport.SendRtp(packet.Raw()); err != nil {
		if errors.Is(err, ErrWouldBlock) {
			s.logger.V(1).Info("transport busy, RTP packet dropped", "senderId", s.id)
		} else {
			s.logger.Error(err, "RTP send failed", "senderId", s.id)
		}
	}

	packet.SetSsrc(origSsrc)
	packet.SetPayloadType(origPayloadType)
}

// ForwardSenderReport relays the publisher's SR to the subscriber with
// this outbound stream's SSRC. Report blocks describe the publisher's
// receive side and are not meaningful here, so they are stripped.
func (s *RtpSender) ForwardSenderReport(sr *SenderReportPacket) {
	if s.state != RtpSenderActive {
		return
	}

	forwarded := *sr
	forwarded.Ssrc = s.ssrc
	forwarded.Reports = nil

	if err := s.peer.transport.SendRtcp(SerializeRtcp(&forwarded)); err != nil {
		s.logger.V(1).Info("sender report dropped", "senderId", s.id, "error", err)
	}
}

// ForwardBye tells the subscriber this outbound stream is over.
func (s *RtpSender) ForwardBye(reason string) {
	if s.state != RtpSenderActive {
		return
	}

	bye := &ByePacket{Ssrcs: []uint32{s.ssrc}, Reason: reason}

	if err := s.peer.transport.SendRtcp(SerializeRtcp(bye)); err != nil {
		s.logger.V(1).Info("BYE dropped", "senderId", s.id, "error", err)
	}
}

// Close removes the sender from the fan-out; called on subscriber close
// and on publisher-side receiver close. Idempotent.
func (s *RtpSender) Close() {
	if s.state == RtpSenderClosed {
		return
	}
	s.state = RtpSenderClosed

	s.logger.V(1).Info("close", "senderId", s.id)

	s.listener.onRtpSenderClosed(s)
}
