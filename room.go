package sfu

import (
	"github.com/elliotchance/orderedmap/v2"
	"github.com/go-logr/logr"
)

// RoomState tracks the room lifecycle. Closed is terminal.
type RoomState int

const (
	RoomOpen RoomState = iota
	RoomClosed
)

// maxSsrcAttempts bounds the redraws when a generated outbound SSRC
// collides with one already active in the room.
const maxSsrcAttempts = 20

// roomListener is implemented by the owning Worker.
type roomListener interface {
	onRoomClosed(room *Room)
}

// RoomOptions configure a new room.
type RoomOptions struct {
	// MediaCodecs is the room media codec list. Capabilities are derived
	// from it at creation time and frozen.
	MediaCodecs []*RtpCodecCapability `json:"mediaCodecs,omitempty"`

	// Retransmission bounds every receiver's packet history.
	Retransmission RetransmissionOptions `json:"retransmission,omitempty"`
}

// Room owns peers, runs capability reconciliation and routes every data
// and control packet across them. The receiver→senders fan-out map and its
// inverse are mutated only here and always together.
type Room struct {
	id       uint32
	logger   logr.Logger
	listener roomListener
	notifier *Notifier
	state    RoomState

	capabilities RtpCapabilities

	peers *orderedmap.OrderedMap[uint32, *Peer]

	mapReceiverSenders *orderedmap.OrderedMap[*RtpReceiver, *orderedmap.OrderedMap[*RtpSender, struct{}]]
	mapSenderReceiver  map[*RtpSender]*RtpReceiver

	// ssrcs is the set of SSRCs active in the room, receiver and sender
	// side both; the per-entity slices remember what to release.
	ssrcs         map[uint32]struct{}
	receiverSsrcs map[*RtpReceiver][]uint32
	senderSsrcs   map[*RtpSender][]uint32

	// retransmissionScratch is reused across NACK resolutions and cleared
	// before each use.
	retransmissionScratch []*RtpPacket

	retransmissionOptions RetransmissionOptions
	nextSenderId          uint32
}

// NewRoom creates a room with frozen capabilities derived from
// options.MediaCodecs.
func NewRoom(listener roomListener, notifier *Notifier, id uint32, options RoomOptions) (*Room, error) {
	logger := NewLogger("Room")

	capabilities, err := generateRoomRtpCapabilities(options.MediaCodecs)
	if err != nil {
		return nil, err
	}

	logger.V(1).Info("constructor", "roomId", id)

	return &Room{
		id:                    id,
		logger:                logger,
		listener:              listener,
		notifier:              notifier,
		capabilities:          capabilities,
		peers:                 orderedmap.NewOrderedMap[uint32, *Peer](),
		mapReceiverSenders:    orderedmap.NewOrderedMap[*RtpReceiver, *orderedmap.OrderedMap[*RtpSender, struct{}]](),
		mapSenderReceiver:     map[*RtpSender]*RtpReceiver{},
		ssrcs:                 map[uint32]struct{}{},
		receiverSsrcs:         map[*RtpReceiver][]uint32{},
		senderSsrcs:           map[*RtpSender][]uint32{},
		retransmissionOptions: options.Retransmission,
	}, nil
}

func (r *Room) Id() uint32 {
	return r.id
}

func (r *Room) Closed() bool {
	return r.state == RoomClosed
}

// Capabilities returns the room's frozen capabilities.
func (r *Room) Capabilities() RtpCapabilities {
	return r.capabilities
}

// CreatePeer admits a new participant. The peer joins without capabilities
// and must negotiate them via SetCapabilities before declaring streams.
func (r *Room) CreatePeer(id uint32, transport Transport) (*Peer, error) {
	if r.state == RoomClosed {
		return nil, ErrRoomClosed
	}
	if transport == nil {
		return nil, NewTypeError("missing transport")
	}
	if _, exists := r.peers.Get(id); exists {
		return nil, NewTypeError("peer %d already exists", id)
	}

	peer := newPeer(r, id, transport, r.retransmissionOptions)
	r.peers.Set(id, peer)

	return peer, nil
}

// Peer returns the peer with the given id.
func (r *Room) Peer(id uint32) (*Peer, bool) {
	return r.peers.Get(id)
}

// Peers lists peers in admission order.
func (r *Room) Peers() []*Peer {
	peers := make([]*Peer, 0, r.peers.Len())
	for el := r.peers.Front(); el != nil; el = el.Next() {
		peers = append(peers, el.Value)
	}
	return peers
}

// RtpSendersFor lists the senders fed by receiver, in creation order.
func (r *Room) RtpSendersFor(receiver *RtpReceiver) []*RtpSender {
	set, ok := r.mapReceiverSenders.Get(receiver)
	if !ok {
		return nil
	}
	senders := make([]*RtpSender, 0, set.Len())
	for el := set.Front(); el != nil; el = el.Next() {
		senders = append(senders, el.Key)
	}
	return senders
}

// RtpReceiverFor returns the receiver feeding sender, nil when the sender
// is not part of the fan-out.
func (r *Room) RtpReceiverFor(sender *RtpSender) *RtpReceiver {
	return r.mapSenderReceiver[sender]
}

// Close closes every peer and makes the room terminal.
func (r *Room) Close() {
	if r.state == RoomClosed {
		return
	}
	r.state = RoomClosed

	r.logger.V(1).Info("close", "roomId", r.id)

	for _, peer := range r.Peers() {
		peer.Close()
	}

	r.notifier.Emit(r.id, "roomclosed", nil)
	r.listener.onRoomClosed(r)
}

// allocateSsrc draws an SSRC not yet active in the room and registers it.
// Exhausting the redraw budget is a resource failure the caller surfaces.
func (r *Room) allocateSsrc() (uint32, error) {
	for attempt := 0; attempt < maxSsrcAttempts; attempt++ {
		candidate := generateSsrc()
		if _, taken := r.ssrcs[candidate]; taken {
			continue
		}
		r.ssrcs[candidate] = struct{}{}
		return candidate, nil
	}
	return 0, NewUnsupportedError("SSRC allocation failed after %d attempts", maxSsrcAttempts)
}

func (r *Room) registerSsrcs(ssrcs []uint32) error {
	for i, ssrc := range ssrcs {
		if _, taken := r.ssrcs[ssrc]; taken {
			for _, registered := range ssrcs[:i] {
				delete(r.ssrcs, registered)
			}
			return NewTypeError("ssrc %d already in use", ssrc)
		}
		r.ssrcs[ssrc] = struct{}{}
	}
	return nil
}

func (r *Room) releaseSsrcs(ssrcs []uint32) {
	for _, ssrc := range ssrcs {
		delete(r.ssrcs, ssrc)
	}
}

func parametersSsrcs(params RtpParameters) []uint32 {
	var ssrcs []uint32
	for _, encoding := range params.Encodings {
		if encoding.Ssrc != 0 {
			ssrcs = append(ssrcs, encoding.Ssrc)
		}
		if encoding.Rtx != nil && encoding.Rtx.Ssrc != 0 {
			ssrcs = append(ssrcs, encoding.Rtx.Ssrc)
		}
	}
	return ssrcs
}

// onPeerCapabilities implements peerListener: intersect, store, and build
// senders toward the new peer for every stream already published.
func (r *Room) onPeerCapabilities(peer *Peer, offered RtpCapabilities) (RtpCapabilities, error) {
	if r.state == RoomClosed {
		return RtpCapabilities{}, ErrRoomClosed
	}

	negotiated, err := intersectRtpCapabilities(r.capabilities, offered)
	if err != nil {
		return RtpCapabilities{}, err
	}

	stored := negotiated
	peer.capabilities = &stored
	peer.state = PeerActive

	for el := r.peers.Front(); el != nil; el = el.Next() {
		other := el.Value
		if other == peer {
			continue
		}
		for _, receiver := range other.RtpReceivers() {
			if receiver.State() != RtpReceiverActive {
				continue
			}
			if err := r.createRtpSender(receiver, peer); err != nil {
				// Resource exhaustion closes the affected peer.
				r.logger.Error(err, "sender construction failed, closing peer", "peerId", peer.Id())
				peer.Close()
				return RtpCapabilities{}, err
			}
		}
	}

	return negotiated, nil
}

// onPeerRtpReceiverParameters implements peerListener. First activation
// registers the stream's SSRCs and fans senders out to every subscribing
// peer; re-application updates derived senders in place.
func (r *Room) onPeerRtpReceiverParameters(peer *Peer, receiver *RtpReceiver) error {
	if r.state == RoomClosed {
		return ErrRoomClosed
	}

	newSsrcs := parametersSsrcs(receiver.RtpParameters())
	oldSsrcs := r.receiverSsrcs[receiver]

	r.releaseSsrcs(oldSsrcs)
	if err := r.registerSsrcs(newSsrcs); err != nil {
		// Restore the previous registration; the receiver reverts too.
		if restoreErr := r.registerSsrcs(oldSsrcs); restoreErr != nil {
			panic(restoreErr)
		}
		return err
	}
	r.receiverSsrcs[receiver] = newSsrcs

	if _, exists := r.mapReceiverSenders.Get(receiver); exists {
		// Parameters replaced while active: refresh derived senders. The
		// refresh may close a now-incompatible sender, so iterate a copy.
		for _, sender := range r.RtpSendersFor(receiver) {
			r.refreshRtpSender(sender, receiver)
		}
		return nil
	}

	r.mapReceiverSenders.Set(receiver, orderedmap.NewOrderedMap[*RtpSender, struct{}]())

	for el := r.peers.Front(); el != nil; el = el.Next() {
		subscriber := el.Value
		if subscriber == peer || subscriber.State() != PeerActive {
			continue
		}
		if err := r.createRtpSender(receiver, subscriber); err != nil {
			r.logger.Error(err, "sender construction failed, closing receiver",
				"peerId", peer.Id(), "receiverId", receiver.Id())
			receiver.Close()
			return err
		}
	}

	return nil
}

// senderParameters derives the RTP parameters a sender uses toward a
// subscriber from the publishing receiver's parameters and the
// subscriber's negotiated capabilities. The boolean is false when the
// subscriber cannot handle any of the receiver's media codecs.
func (r *Room) senderParameters(receiver *RtpReceiver, subscriber *Peer) (RtpParameters, map[byte]byte, bool) {
	receiverParams := receiver.RtpParameters()
	caps := *subscriber.Capabilities()

	var params RtpParameters
	payloadTypeMap := map[byte]byte{}

	var mediaCodec *RtpCodecParameters

	for _, codec := range receiverParams.Codecs {
		if codec.isRtxCodec() {
			continue
		}
		for _, capCodec := range caps.Codecs {
			if capCodec.isRtxCodec() {
				continue
			}
			if matchCodecCapabilities(&RtpCodecCapability{
				MimeType:   codec.MimeType,
				ClockRate:  codec.ClockRate,
				Channels:   codec.Channels,
				Parameters: codec.Parameters,
			}, capCodec, matchOptions{}) {
				senderCodec := &RtpCodecParameters{
					MimeType:     capCodec.MimeType,
					PayloadType:  capCodec.PreferredPayloadType,
					ClockRate:    capCodec.ClockRate,
					Channels:     capCodec.Channels,
					Parameters:   codec.Parameters, // keep the publisher's parameters
					RtcpFeedback: capCodec.RtcpFeedback,
				}
				params.Codecs = append(params.Codecs, senderCodec)
				payloadTypeMap[codec.PayloadType] = senderCodec.PayloadType
				if mediaCodec == nil {
					mediaCodec = codec
				}
				break
			}
		}
	}

	if mediaCodec == nil {
		return RtpParameters{}, nil, false
	}

	// Map the publisher's RTX codec when the subscriber negotiated one for
	// the matched media codec.
	for _, codec := range receiverParams.Codecs {
		if !codec.isRtxCodec() {
			continue
		}
		mappedMediaPt, ok := payloadTypeMap[codec.Parameters.Apt]
		if !ok {
			continue
		}
		for _, capCodec := range caps.Codecs {
			if capCodec.isRtxCodec() && capCodec.Parameters.Apt == mappedMediaPt {
				params.Codecs = append(params.Codecs, &RtpCodecParameters{
					MimeType:     capCodec.MimeType,
					PayloadType:  capCodec.PreferredPayloadType,
					ClockRate:    capCodec.ClockRate,
					Parameters:   RtpCodecSpecificParameters{Apt: mappedMediaPt},
					RtcpFeedback: capCodec.RtcpFeedback,
				})
				payloadTypeMap[codec.PayloadType] = capCodec.PreferredPayloadType
				break
			}
		}
	}

	// Header extensions the subscriber negotiated keep their room ids.
	for _, ext := range receiverParams.HeaderExtensions {
		for _, capExt := range caps.HeaderExtensions {
			if capExt.Uri == ext.Uri && capExt.PreferredId == ext.Id {
				params.HeaderExtensions = append(params.HeaderExtensions, ext)
				break
			}
		}
	}

	params.Rtcp = RtcpParameters{
		Cname:       receiverParams.Rtcp.Cname,
		ReducedSize: Bool(true),
		Mux:         Bool(true),
	}

	return params, payloadTypeMap, true
}

// createRtpSender builds the sender feeding receiver's media to
// subscriber, if their capabilities are compatible, and inserts it into
// both fan-out maps atomically.
func (r *Room) createRtpSender(receiver *RtpReceiver, subscriber *Peer) error {
	params, payloadTypeMap, compatible := r.senderParameters(receiver, subscriber)
	if !compatible {
		return nil
	}

	ssrc, err := r.allocateSsrc()
	if err != nil {
		return err
	}
	allocated := []uint32{ssrc}

	encoding := RtpEncodingParameters{Ssrc: ssrc}

	hasRtx := false
	for _, codec := range params.Codecs {
		if codec.isRtxCodec() {
			hasRtx = true
			break
		}
	}
	if hasRtx && len(receiver.RtpParameters().Encodings) > 0 && receiver.RtpParameters().Encodings[0].Rtx != nil {
		rtxSsrc, err := r.allocateSsrc()
		if err != nil {
			r.releaseSsrcs(allocated)
			return err
		}
		allocated = append(allocated, rtxSsrc)
		encoding.Rtx = &RtpEncodingRtx{Ssrc: rtxSsrc}
	}
	params.Encodings = []RtpEncodingParameters{encoding}

	r.nextSenderId++
	sender := newRtpSender(subscriber, subscriber, r.nextSenderId, receiver.Kind(), params, ssrc, payloadTypeMap)
	subscriber.senders.Set(sender.Id(), sender)
	r.senderSsrcs[sender] = allocated

	// Both fan-out maps change together; a sender is in exactly one set.
	set, ok := r.mapReceiverSenders.Get(receiver)
	if !ok {
		set = orderedmap.NewOrderedMap[*RtpSender, struct{}]()
		r.mapReceiverSenders.Set(receiver, set)
	}
	set.Set(sender, struct{}{})
	r.mapSenderReceiver[sender] = receiver

	r.notifier.Emit(subscriber.Id(), "newrtpsender", &NewRtpSenderNotification{
		SenderId:      sender.Id(),
		PeerId:        receiver.Peer().Id(),
		RtpReceiverId: receiver.Id(),
		Kind:          sender.Kind(),
		RtpParameters: sender.RtpParameters(),
	})

	return nil
}

// refreshRtpSender re-derives an existing sender's parameters after its
// receiver replaced parameters in place. The outbound SSRC is preserved.
func (r *Room) refreshRtpSender(sender *RtpSender, receiver *RtpReceiver) {
	params, payloadTypeMap, compatible := r.senderParameters(receiver, sender.Peer())
	if !compatible {
		sender.Close()
		return
	}
	params.Encodings = sender.params.Encodings

	sender.params = params
	sender.payloadTypeMap = payloadTypeMap
}

// onPeerRtpReceiverClosed implements peerListener: dependent senders die
// with the receiver.
func (r *Room) onPeerRtpReceiverClosed(peer *Peer, receiver *RtpReceiver) {
	for _, sender := range r.RtpSendersFor(receiver) {
		sender.Close()
	}
	r.mapReceiverSenders.Delete(receiver)

	r.releaseSsrcs(r.receiverSsrcs[receiver])
	delete(r.receiverSsrcs, receiver)

	r.notifier.Emit(peer.Id(), "rtpreceiverclosed", &EntityClosedNotification{Id: receiver.Id()})
}

// onPeerRtpSenderClosed implements peerListener: drop the sender from both
// fan-out maps and release its SSRCs.
func (r *Room) onPeerRtpSenderClosed(peer *Peer, sender *RtpSender) {
	if receiver, ok := r.mapSenderReceiver[sender]; ok {
		if set, ok := r.mapReceiverSenders.Get(receiver); ok {
			set.Delete(sender)
		}
		delete(r.mapSenderReceiver, sender)
	}

	r.releaseSsrcs(r.senderSsrcs[sender])
	delete(r.senderSsrcs, sender)

	r.notifier.Emit(peer.Id(), "rtpsenderclosed", &EntityClosedNotification{Id: sender.Id()})
}

// onPeerRtpPacket implements peerListener: fan the packet out to every
// sender fed by the receiver, in insertion order.
func (r *Room) onPeerRtpPacket(peer *Peer, receiver *RtpReceiver, packet *RtpPacket) {
	set, ok := r.mapReceiverSenders.Get(receiver)
	if !ok {
		return
	}
	for el := set.Front(); el != nil; el = el.Next() {
		el.Key.Route(packet)
	}
}

// onPeerRtcpSenderReport implements peerListener: the publisher's SR
// reaches every subscriber rewritten to the sender's SSRC.
func (r *Room) onPeerRtcpSenderReport(peer *Peer, receiver *RtpReceiver, sr *SenderReportPacket) {
	for _, sender := range r.RtpSendersFor(receiver) {
		sender.ForwardSenderReport(sr)
	}
}

// onPeerRtcpReceiverReport implements peerListener: a subscriber's quality
// report goes back to the stream's publisher.
func (r *Room) onPeerRtcpReceiverReport(peer *Peer, sender *RtpSender, report ReportBlock) {
	if receiver := r.mapSenderReceiver[sender]; receiver != nil {
		receiver.OnReceiverReport(report)
	}
}

// onPeerRtcpSdesChunk implements peerListener.
func (r *Room) onPeerRtcpSdesChunk(peer *Peer, receiver *RtpReceiver, chunk SdesChunk) {
	r.logger.V(1).Info("SDES chunk", "peerId", peer.Id(), "ssrc", chunk.Ssrc)
}

// onPeerRtcpBye implements peerListener: subscribers hear the goodbye with
// their sender's SSRC.
func (r *Room) onPeerRtcpBye(peer *Peer, receiver *RtpReceiver, bye *ByePacket) {
	for _, sender := range r.RtpSendersFor(receiver) {
		sender.ForwardBye(bye.Reason)
	}
}

// onPeerRtcpFeedbackPs implements peerListener: keyframe requests and
// other payload-specific feedback travel from the subscriber's sender to
// the publishing receiver.
func (r *Room) onPeerRtcpFeedbackPs(peer *Peer, sender *RtpSender, packet *FeedbackPsPacket) {
	receiver := r.mapSenderReceiver[sender]
	if receiver == nil {
		return
	}

	switch packet.FeedbackType {
	case PsFeedbackPli, PsFeedbackFir:
		receiver.RequestKeyFrame(packet.FeedbackType)
	default:
		receiver.ForwardFeedback(packet)
	}
}

// onPeerRtcpFeedbackRtp implements peerListener: NACKs resolve against the
// receiver's history and the found packets are retransmitted through the
// requesting sender. The scratch container is shared across calls.
func (r *Room) onPeerRtcpFeedbackRtp(peer *Peer, sender *RtpSender, packet *FeedbackRtpPacket) {
	receiver := r.mapSenderReceiver[sender]
	if receiver == nil {
		return
	}

	if packet.FeedbackType != RtpFeedbackNack {
		r.logger.V(1).Info("unhandled RTPFB feedback", "type", packet.FeedbackType)
		return
	}

	r.retransmissionScratch = receiver.OnNack(packet.Nacks, r.retransmissionScratch[:0])
	for _, retransmit := range r.retransmissionScratch {
		sender.Route(retransmit)
	}
}

// onPeerClosed implements peerListener.
func (r *Room) onPeerClosed(peer *Peer) {
	r.peers.Delete(peer.Id())
	r.notifier.Emit(peer.Id(), "peerclosed", nil)
}
