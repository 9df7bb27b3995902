package sfu

import (
	"github.com/go-logr/logr"
)

// RtpReceiverState tracks the receiver lifecycle.
type RtpReceiverState int

const (
	RtpReceiverAwaitingParameters RtpReceiverState = iota
	RtpReceiverActive
	RtpReceiverClosed
)

func (s RtpReceiverState) String() string {
	switch s {
	case RtpReceiverAwaitingParameters:
		return "awaiting-parameters"
	case RtpReceiverActive:
		return "active"
	default:
		return "closed"
	}
}

// rtpReceiverListener is implemented by the owning Peer.
type rtpReceiverListener interface {
	onRtpReceiverParameters(receiver *RtpReceiver) error
	onRtpReceiverClosed(receiver *RtpReceiver)
}

// RtpReceiver owns one inbound RTP stream: its negotiated parameters, the
// bounded retransmission history resolving NACKs, and the RTCP feedback
// path back toward the publishing endpoint.
type RtpReceiver struct {
	id       uint32
	kind     MediaKind
	logger   logr.Logger
	peer     *Peer // owning peer, relation only
	listener rtpReceiverListener
	state    RtpReceiverState
	params   RtpParameters
	history  *RetransmissionBuffer

	// Last sender report seen for this stream, kept for RTCP correlation.
	lastSrNtpSec  uint32
	lastSrNtpFrac uint32
	lastSrRtpTs   uint32

	// FIR command sequence number (RFC 5104 §4.3.1.2).
	firSeqNr byte
}

func newRtpReceiver(peer *Peer, listener rtpReceiverListener, id uint32, kind MediaKind, options RetransmissionOptions) *RtpReceiver {
	logger := NewLogger("RtpReceiver")

	logger.V(1).Info("constructor", "receiverId", id, "kind", kind)

	return &RtpReceiver{
		id:       id,
		kind:     kind,
		logger:   logger,
		peer:     peer,
		listener: listener,
		history:  NewRetransmissionBuffer(options),
	}
}

func (r *RtpReceiver) Id() uint32 {
	return r.id
}

func (r *RtpReceiver) Kind() MediaKind {
	return r.kind
}

func (r *RtpReceiver) Peer() *Peer {
	return r.peer
}

func (r *RtpReceiver) State() RtpReceiverState {
	return r.state
}

func (r *RtpReceiver) Closed() bool {
	return r.state == RtpReceiverClosed
}

// RtpParameters returns the parameters currently applied. Only meaningful
// while Active.
func (r *RtpReceiver) RtpParameters() RtpParameters {
	return r.params
}

// Ssrc returns the primary media SSRC, 0 before parameters are set.
func (r *RtpReceiver) Ssrc() uint32 {
	if len(r.params.Encodings) == 0 {
		return 0
	}
	return r.params.Encodings[0].Ssrc
}

// HasSsrc reports whether ssrc belongs to this receiver's stream, RTX
// included.
func (r *RtpReceiver) HasSsrc(ssrc uint32) bool {
	for _, encoding := range r.params.Encodings {
		if encoding.Ssrc == ssrc {
			return true
		}
		if encoding.Rtx != nil && encoding.Rtx.Ssrc == ssrc {
			return true
		}
	}
	return false
}

// SetParameters validates params against the owning peer's negotiated
// capabilities and applies them, activating the receiver. Re-application
// while Active replaces the parameters atomically; rejection leaves the
// previous state untouched.
func (r *RtpReceiver) SetParameters(params RtpParameters) error {
	if r.state == RtpReceiverClosed {
		return ErrRtpReceiverClosed
	}
	if err := validateRtpParameters(&params); err != nil {
		return err
	}
	if r.peer.capabilities == nil {
		return NewInvalidStateError("peer capabilities are not set")
	}
	if err := validateParametersAgainstCapabilities(&params, *r.peer.capabilities); err != nil {
		return err
	}
	if len(params.Encodings) == 0 || params.Encodings[0].Ssrc == 0 {
		return NewTypeError("missing encodings[0].ssrc")
	}

	if len(params.Rtcp.Cname) == 0 {
		params.Rtcp.Cname = generateCname()
	}

	previous := r.params
	previousState := r.state

	r.params = params
	r.state = RtpReceiverActive

	// The room reacts by building or updating senders; a failure there
	// rejects the whole operation.
	if err := r.listener.onRtpReceiverParameters(r); err != nil {
		// The room may have closed us on a resource failure; only a live
		// receiver rolls back.
		if r.state != RtpReceiverClosed {
			r.params = previous
			r.state = previousState
		}
		return err
	}

	r.logger.V(1).Info("parameters applied", "receiverId", r.id, "ssrc", r.Ssrc())

	return nil
}

// OnRtpPacket records packet into the retransmission history and returns
// it for fan-out, or nil when the receiver cannot route.
func (r *RtpReceiver) OnRtpPacket(packet *RtpPacket) *RtpPacket {
	if r.state != RtpReceiverActive {
		return nil
	}
	r.history.Append(packet)

	return packet
}

// OnNack resolves the sequence numbers named by items from the history,
// appending the found packets to scratch (cleared by the caller) and
// returning it. History misses and aged-out packets are skipped.
func (r *RtpReceiver) OnNack(items []NackItem, scratch []*RtpPacket) []*RtpPacket {
	if r.state != RtpReceiverActive {
		return scratch
	}

	latest, seen := r.history.Latest()

	for _, item := range items {
		for _, seq := range item.LostSequenceNumbers() {
			// A request beyond the newest received packet is spurious.
			if !seen || seqNumBefore(latest, seq) {
				continue
			}
			if packet := r.history.Get(seq); packet != nil {
				scratch = append(scratch, packet)
			}
		}
	}

	return scratch
}

// RequestKeyFrame asks the publishing endpoint for a keyframe on behalf of
// a subscriber, as PLI or FIR depending on feedbackType.
func (r *RtpReceiver) RequestKeyFrame(feedbackType PsFeedbackType) {
	if r.state != RtpReceiverActive {
		return
	}

	packet := &FeedbackPsPacket{
		FeedbackType: feedbackType,
		MediaSsrc:    r.Ssrc(),
	}
	if feedbackType == PsFeedbackFir {
		r.firSeqNr++
		packet.Fir = []FirItem{{Ssrc: r.Ssrc(), SeqNr: r.firSeqNr}}
	}

	if err := r.peer.transport.SendRtcp(SerializeRtcp(packet)); err != nil {
		r.logger.V(1).Info("keyframe request dropped", "error", err)
	}
}

// ForwardFeedback relays payload-specific feedback (SLI, RPSI, AFB) from
// a subscriber to the publishing endpoint, retargeted at this stream's
// SSRC.
func (r *RtpReceiver) ForwardFeedback(packet *FeedbackPsPacket) {
	if r.state != RtpReceiverActive {
		return
	}

	forwarded := *packet
	forwarded.MediaSsrc = r.Ssrc()

	if err := r.peer.transport.SendRtcp(SerializeRtcp(&forwarded)); err != nil {
		r.logger.V(1).Info("feedback dropped", "error", err)
	}
}

// OnSenderReport stores the publisher's SR timing for later correlation.
func (r *RtpReceiver) OnSenderReport(sr *SenderReportPacket) {
	if r.state != RtpReceiverActive {
		return
	}
	r.lastSrNtpSec = sr.NtpSec
	r.lastSrNtpFrac = sr.NtpFrac
	r.lastSrRtpTs = sr.RtpTs
}

// OnReceiverReport relays one subscriber's quality report about this
// stream back to the publishing endpoint.
func (r *RtpReceiver) OnReceiverReport(report ReportBlock) {
	if r.state != RtpReceiverActive {
		return
	}

	rr := &ReceiverReportPacket{Reports: []ReportBlock{report}}
	rr.Reports[0].Ssrc = r.Ssrc()

	if err := r.peer.transport.SendRtcp(SerializeRtcp(rr)); err != nil {
		r.logger.V(1).Info("receiver report dropped", "error", err)
	}
}

// OnSdesChunk records the source description announced for this stream.
func (r *RtpReceiver) OnSdesChunk(chunk SdesChunk) {
	if r.state != RtpReceiverActive {
		return
	}
	for _, item := range chunk.Items {
		if item.Type == SdesCname && len(item.Value) > 0 {
			r.params.Rtcp.Cname = item.Value
		}
	}
}

// Close transitions to Closed; every input afterwards is a no-op. It is
// idempotent.
func (r *RtpReceiver) Close() {
	if r.state == RtpReceiverClosed {
		return
	}
	// Mark first so reentrant calls unwind as no-ops.
	r.state = RtpReceiverClosed

	r.logger.V(1).Info("close", "receiverId", r.id)

	r.history.Clear()
	r.listener.onRtpReceiverClosed(r)
}
