package sfu

import (
	"github.com/elliotchance/orderedmap/v2"
	"github.com/go-logr/logr"
)

// PeerState tracks the peer lifecycle.
type PeerState int

const (
	PeerJoining PeerState = iota
	PeerActive
	PeerClosed
)

func (s PeerState) String() string {
	switch s {
	case PeerJoining:
		return "joining"
	case PeerActive:
		return "active"
	default:
		return "closed"
	}
}

// peerListener is implemented by the owning Room. Only the room may act
// across peers; everything a peer cannot resolve locally goes up through
// this interface.
type peerListener interface {
	onPeerCapabilities(peer *Peer, offered RtpCapabilities) (RtpCapabilities, error)
	onPeerRtpReceiverParameters(peer *Peer, receiver *RtpReceiver) error
	onPeerRtpReceiverClosed(peer *Peer, receiver *RtpReceiver)
	onPeerRtpSenderClosed(peer *Peer, sender *RtpSender)
	onPeerRtpPacket(peer *Peer, receiver *RtpReceiver, packet *RtpPacket)
	onPeerRtcpSenderReport(peer *Peer, receiver *RtpReceiver, sr *SenderReportPacket)
	onPeerRtcpReceiverReport(peer *Peer, sender *RtpSender, report ReportBlock)
	onPeerRtcpSdesChunk(peer *Peer, receiver *RtpReceiver, chunk SdesChunk)
	onPeerRtcpBye(peer *Peer, receiver *RtpReceiver, bye *ByePacket)
	onPeerRtcpFeedbackPs(peer *Peer, sender *RtpSender, packet *FeedbackPsPacket)
	onPeerRtcpFeedbackRtp(peer *Peer, sender *RtpSender, packet *FeedbackRtpPacket)
	onPeerClosed(peer *Peer)
}

// Peer holds one participant's negotiated capabilities plus its receivers
// and senders, and dispatches RTCP arriving on its transport to the right
// child.
type Peer struct {
	id        uint32
	logger    logr.Logger
	listener  peerListener
	transport Transport
	state     PeerState

	// capabilities is the negotiated view, nil until SetCapabilities
	// succeeds and immutable afterwards.
	capabilities *RtpCapabilities

	receivers *orderedmap.OrderedMap[uint32, *RtpReceiver]
	senders   *orderedmap.OrderedMap[uint32, *RtpSender]

	retransmissionOptions RetransmissionOptions
}

func newPeer(listener peerListener, id uint32, transport Transport, retransmissionOptions RetransmissionOptions) *Peer {
	logger := NewLogger("Peer")

	logger.V(1).Info("constructor", "peerId", id)

	return &Peer{
		id:                    id,
		logger:                logger,
		listener:              listener,
		transport:             transport,
		receivers:             orderedmap.NewOrderedMap[uint32, *RtpReceiver](),
		senders:               orderedmap.NewOrderedMap[uint32, *RtpSender](),
		retransmissionOptions: retransmissionOptions,
	}
}

func (p *Peer) Id() uint32 {
	return p.id
}

func (p *Peer) State() PeerState {
	return p.state
}

func (p *Peer) Closed() bool {
	return p.state == PeerClosed
}

// Capabilities returns the negotiated capabilities, nil before negotiation.
func (p *Peer) Capabilities() *RtpCapabilities {
	return p.capabilities
}

// SetCapabilities reconciles the peer's offered capabilities with the
// room's and records the result. It may be called once; the negotiated
// view is immutable thereafter.
func (p *Peer) SetCapabilities(offered RtpCapabilities) (RtpCapabilities, error) {
	if p.state == PeerClosed {
		return RtpCapabilities{}, ErrPeerClosed
	}
	if p.capabilities != nil {
		return RtpCapabilities{}, NewInvalidStateError("peer capabilities already set")
	}
	if err := validateRtpCapabilities(&offered); err != nil {
		return RtpCapabilities{}, err
	}

	// The room intersects, stores the result on this peer, and builds
	// senders for every receiver the peer can subscribe to.
	return p.listener.onPeerCapabilities(p, offered)
}

// CreateRtpReceiver declares a new inbound stream. The receiver awaits
// parameters until SetParameters activates it.
func (p *Peer) CreateRtpReceiver(id uint32, kind MediaKind) (*RtpReceiver, error) {
	if p.state == PeerClosed {
		return nil, ErrPeerClosed
	}
	if p.capabilities == nil {
		return nil, NewInvalidStateError("peer capabilities are not set")
	}
	if kind != MediaKindAudio && kind != MediaKindVideo {
		return nil, NewTypeError("invalid kind %q", kind)
	}
	if _, exists := p.receivers.Get(id); exists {
		return nil, NewTypeError("rtpReceiver %d already exists", id)
	}

	receiver := newRtpReceiver(p, p, id, kind, p.retransmissionOptions)
	p.receivers.Set(id, receiver)

	return receiver, nil
}

// RtpReceiver returns the receiver with the given id.
func (p *Peer) RtpReceiver(id uint32) (*RtpReceiver, bool) {
	return p.receivers.Get(id)
}

// RtpSender returns the sender with the given id.
func (p *Peer) RtpSender(id uint32) (*RtpSender, bool) {
	return p.senders.Get(id)
}

// RtpReceivers lists receivers in creation order.
func (p *Peer) RtpReceivers() []*RtpReceiver {
	receivers := make([]*RtpReceiver, 0, p.receivers.Len())
	for el := p.receivers.Front(); el != nil; el = el.Next() {
		receivers = append(receivers, el.Value)
	}
	return receivers
}

// RtpSenders lists senders in creation order.
func (p *Peer) RtpSenders() []*RtpSender {
	senders := make([]*RtpSender, 0, p.senders.Len())
	for el := p.senders.Front(); el != nil; el = el.Next() {
		senders = append(senders, el.Value)
	}
	return senders
}

// receiverBySsrc finds the receiver owning ssrc, RTX streams included.
func (p *Peer) receiverBySsrc(ssrc uint32) *RtpReceiver {
	for el := p.receivers.Front(); el != nil; el = el.Next() {
		if el.Value.HasSsrc(ssrc) {
			return el.Value
		}
	}
	return nil
}

// senderBySsrc finds the sender owning ssrc.
func (p *Peer) senderBySsrc(ssrc uint32) *RtpSender {
	for el := p.senders.Front(); el != nil; el = el.Next() {
		if el.Value.HasSsrc(ssrc) {
			return el.Value
		}
	}
	return nil
}

// HandleRtpPacket accepts raw RTP from the peer's transport. data is not
// retained after the call. Malformed packets are logged and dropped.
func (p *Peer) HandleRtpPacket(data []byte) {
	if p.state == PeerClosed {
		return
	}

	packet, err := ParseRtpPacket(data)
	if err != nil {
		p.logger.V(1).Info("RTP packet dropped", "peerId", p.id, "error", err)
		return
	}

	receiver := p.receiverBySsrc(packet.Ssrc())
	if receiver == nil {
		p.logger.V(1).Info("no receiver for RTP packet, dropped", "peerId", p.id, "ssrc", packet.Ssrc())
		return
	}

	if receiver.OnRtpPacket(packet) == nil {
		return
	}

	p.listener.onPeerRtpPacket(p, receiver, packet)
}

// HandleRtcpPacket accepts raw compound RTCP from the peer's transport and
// dispatches each sub-packet: SR, BYE and SDES go to receivers matched by
// SSRC; RR and feedback go to senders matched by SSRC.
func (p *Peer) HandleRtcpPacket(data []byte) {
	if p.state == PeerClosed {
		return
	}

	packets, err := ParseRtcpCompound(data)
	if err != nil {
		p.logger.V(1).Info("RTCP packet dropped", "peerId", p.id, "error", err)
		return
	}

	for _, packet := range packets {
		switch packet := packet.(type) {
		case *SenderReportPacket:
			if receiver := p.receiverBySsrc(packet.Ssrc); receiver != nil {
				receiver.OnSenderReport(packet)
				p.listener.onPeerRtcpSenderReport(p, receiver, packet)
			}

		case *ReceiverReportPacket:
			for _, report := range packet.Reports {
				if sender := p.senderBySsrc(report.Ssrc); sender != nil {
					p.listener.onPeerRtcpReceiverReport(p, sender, report)
				}
			}

		case *SdesPacket:
			for _, chunk := range packet.Chunks {
				if receiver := p.receiverBySsrc(chunk.Ssrc); receiver != nil {
					receiver.OnSdesChunk(chunk)
					p.listener.onPeerRtcpSdesChunk(p, receiver, chunk)
				}
			}

		case *ByePacket:
			for _, ssrc := range packet.Ssrcs {
				if receiver := p.receiverBySsrc(ssrc); receiver != nil {
					p.listener.onPeerRtcpBye(p, receiver, packet)
				}
			}

		case *FeedbackPsPacket:
			if sender := p.senderBySsrc(packet.MediaSsrc); sender != nil {
				p.listener.onPeerRtcpFeedbackPs(p, sender, packet)
			}

		case *FeedbackRtpPacket:
			if sender := p.senderBySsrc(packet.MediaSsrc); sender != nil {
				p.listener.onPeerRtcpFeedbackRtp(p, sender, packet)
			}
		}
	}
}

// Close tears the peer down: senders first, then receivers, then the peer
// itself. Idempotent; reentrant calls unwind as no-ops.
func (p *Peer) Close() {
	if p.state == PeerClosed {
		return
	}
	p.state = PeerClosed

	p.logger.V(1).Info("close", "peerId", p.id)

	for _, sender := range p.RtpSenders() {
		sender.Close()
	}
	for _, receiver := range p.RtpReceivers() {
		receiver.Close()
	}

	p.listener.onPeerClosed(p)
}

// onRtpReceiverParameters implements rtpReceiverListener.
func (p *Peer) onRtpReceiverParameters(receiver *RtpReceiver) error {
	return p.listener.onPeerRtpReceiverParameters(p, receiver)
}

// onRtpReceiverClosed implements rtpReceiverListener.
func (p *Peer) onRtpReceiverClosed(receiver *RtpReceiver) {
	p.receivers.Delete(receiver.Id())
	p.listener.onPeerRtpReceiverClosed(p, receiver)
}

// onRtpSenderClosed implements rtpSenderListener.
func (p *Peer) onRtpSenderClosed(sender *RtpSender) {
	p.senders.Delete(sender.Id())
	p.listener.onPeerRtpSenderClosed(p, sender)
}
