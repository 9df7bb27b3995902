package sfu

import (
	"encoding/json"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/frostbyte73/core"
	"github.com/go-logr/logr"
	version "github.com/hashicorp/go-version"
)

// ProtocolVersion is the control-plane protocol this core speaks.
const ProtocolVersion = "1.0.0"

// minProtocolVersion is the oldest embedder protocol still accepted.
const minProtocolVersion = "1.0.0"

// TransportProvider hands the worker the packet transport for a peer. The
// transport layer itself (ICE/DTLS/SRTP, sockets) is the embedder's.
type TransportProvider interface {
	TransportFor(roomId, peerId uint32) (Transport, error)
}

// WorkerOptions configure a worker.
type WorkerOptions struct {
	// ProtocolVersion is the control-plane protocol version the embedder
	// announces. Empty skips the check.
	ProtocolVersion string

	// Transports resolves peer transports. Mandatory.
	Transports TransportProvider
}

// Worker owns rooms and serves the control plane: every recognized request
// method targets the worker itself, a room, a peer, or one of a peer's
// receivers or senders.
type Worker struct {
	logger     logr.Logger
	channel    *Channel
	notifier   *Notifier
	transports TransportProvider
	rooms      *orderedmap.OrderedMap[uint32, *Room]
	closed     core.Fuse
}

// NewWorker wires a worker to its control channel. The channel is started;
// requests flow as soon as the embedder writes them.
func NewWorker(channel *Channel, options WorkerOptions) (*Worker, error) {
	logger := NewLogger("Worker")

	if len(options.ProtocolVersion) > 0 {
		if err := checkProtocolVersion(options.ProtocolVersion); err != nil {
			return nil, err
		}
	}
	if options.Transports == nil {
		return nil, NewTypeError("missing options.Transports")
	}

	w := &Worker{
		logger:     logger,
		channel:    channel,
		notifier:   NewNotifier(channel),
		transports: options.Transports,
		rooms:      orderedmap.NewOrderedMap[uint32, *Room](),
		closed:     core.NewFuse(),
	}

	channel.SetRequestHandler(w.HandleRequest)
	channel.Start()

	logger.V(1).Info("constructor", "protocolVersion", ProtocolVersion)

	return w, nil
}

// checkProtocolVersion gates embedders announcing a protocol this core no
// longer (or not yet) speaks.
func checkProtocolVersion(announced string) error {
	v, err := version.NewVersion(announced)
	if err != nil {
		return NewTypeError("invalid protocol version %q", announced)
	}
	constraint, err := version.NewConstraint(">= " + minProtocolVersion)
	if err != nil {
		return err
	}
	if !constraint.Check(v) {
		return NewUnsupportedError("protocol version %s not supported, need %s", announced, constraint)
	}
	return nil
}

func (w *Worker) Notifier() *Notifier {
	return w.notifier
}

func (w *Worker) Closed() bool {
	return w.closed.IsBroken()
}

// Room returns the room with the given id.
func (w *Worker) Room(id uint32) (*Room, bool) {
	return w.rooms.Get(id)
}

// Close closes every room and the channel.
func (w *Worker) Close() {
	w.closed.Once(func() {
		w.logger.V(1).Info("close")

		for el := w.rooms.Front(); el != nil; el = el.Next() {
			el.Value.Close()
		}
		w.channel.Close()
	})
}

// onRoomClosed implements roomListener.
func (w *Worker) onRoomClosed(room *Room) {
	w.rooms.Delete(room.Id())
}

// HandleRequest resolves one control-plane request. The returned body goes
// into the accepted response; an error rejects the request with its
// message as the reason.
func (w *Worker) HandleRequest(request *ChannelRequest) (interface{}, error) {
	if w.Closed() {
		return nil, NewInvalidStateError("worker is closed")
	}

	switch request.Method {
	case "dump":
		return w.dump(), nil

	case "createRoom":
		return w.createRoom(request)

	case "closeRoom":
		room, err := w.roomFromRequest(request)
		if err != nil {
			return nil, err
		}
		room.Close()
		return nil, nil

	case "dumpRoom":
		room, err := w.roomFromRequest(request)
		if err != nil {
			return nil, err
		}
		return w.dumpRoom(room), nil

	case "getCapabilities":
		room, err := w.roomFromRequest(request)
		if err != nil {
			return nil, err
		}
		return room.Capabilities(), nil

	case "createPeer":
		return w.createPeer(request)

	case "closePeer":
		peer, err := w.peerFromRequest(request)
		if err != nil {
			return nil, err
		}
		peer.Close()
		return nil, nil

	case "dumpPeer":
		peer, err := w.peerFromRequest(request)
		if err != nil {
			return nil, err
		}
		return dumpPeer(peer), nil

	case "setPeerCapabilities":
		peer, err := w.peerFromRequest(request)
		if err != nil {
			return nil, err
		}
		body := setPeerCapabilitiesRequest{}
		if err := json.Unmarshal(request.Data, &body); err != nil {
			return nil, NewTypeError("invalid request body: %s", err)
		}
		negotiated, err := peer.SetCapabilities(body.Capabilities)
		if err != nil {
			return nil, err
		}
		return negotiated, nil

	case "createRtpReceiver":
		peer, err := w.peerFromRequest(request)
		if err != nil {
			return nil, err
		}
		if request.Internal.RtpReceiverId == 0 {
			return nil, NewTypeError("missing internal.rtpReceiverId")
		}
		body := createRtpReceiverRequest{}
		if err := json.Unmarshal(request.Data, &body); err != nil {
			return nil, NewTypeError("invalid request body: %s", err)
		}
		if _, err := peer.CreateRtpReceiver(request.Internal.RtpReceiverId, body.Kind); err != nil {
			return nil, err
		}
		return nil, nil

	case "setRtpReceiverParameters":
		receiver, err := w.receiverFromRequest(request)
		if err != nil {
			return nil, err
		}
		body := setRtpReceiverParametersRequest{}
		if err := json.Unmarshal(request.Data, &body); err != nil {
			return nil, NewTypeError("invalid request body: %s", err)
		}
		if err := receiver.SetParameters(body.RtpParameters); err != nil {
			return nil, err
		}
		return receiver.RtpParameters(), nil

	case "closeRtpReceiver":
		receiver, err := w.receiverFromRequest(request)
		if err != nil {
			return nil, err
		}
		receiver.Close()
		return nil, nil

	case "closeRtpSender":
		sender, err := w.senderFromRequest(request)
		if err != nil {
			return nil, err
		}
		sender.Close()
		return nil, nil

	default:
		return nil, NewTypeError("unknown method %q", request.Method)
	}
}

func (w *Worker) createRoom(request *ChannelRequest) (interface{}, error) {
	if request.Internal.RoomId == 0 {
		return nil, NewTypeError("missing internal.roomId")
	}
	if _, exists := w.rooms.Get(request.Internal.RoomId); exists {
		return nil, NewTypeError("room %d already exists", request.Internal.RoomId)
	}

	body := createRoomRequest{}
	if err := json.Unmarshal(request.Data, &body); err != nil {
		return nil, NewTypeError("invalid request body: %s", err)
	}

	room, err := NewRoom(w, w.notifier, request.Internal.RoomId, body.RoomOptions)
	if err != nil {
		return nil, err
	}
	w.rooms.Set(room.Id(), room)

	return room.Capabilities(), nil
}

func (w *Worker) createPeer(request *ChannelRequest) (interface{}, error) {
	room, err := w.roomFromRequest(request)
	if err != nil {
		return nil, err
	}
	if request.Internal.PeerId == 0 {
		return nil, NewTypeError("missing internal.peerId")
	}

	transport, err := w.transports.TransportFor(room.Id(), request.Internal.PeerId)
	if err != nil {
		return nil, err
	}

	if _, err := room.CreatePeer(request.Internal.PeerId, transport); err != nil {
		return nil, err
	}
	return nil, nil
}

func (w *Worker) roomFromRequest(request *ChannelRequest) (*Room, error) {
	room, ok := w.rooms.Get(request.Internal.RoomId)
	if !ok {
		return nil, NewUnknownEntityError("room %d not found", request.Internal.RoomId)
	}
	return room, nil
}

func (w *Worker) peerFromRequest(request *ChannelRequest) (*Peer, error) {
	room, err := w.roomFromRequest(request)
	if err != nil {
		return nil, err
	}
	peer, ok := room.Peer(request.Internal.PeerId)
	if !ok {
		return nil, NewUnknownEntityError("peer %d not found", request.Internal.PeerId)
	}
	return peer, nil
}

func (w *Worker) receiverFromRequest(request *ChannelRequest) (*RtpReceiver, error) {
	peer, err := w.peerFromRequest(request)
	if err != nil {
		return nil, err
	}
	receiver, ok := peer.RtpReceiver(request.Internal.RtpReceiverId)
	if !ok {
		return nil, NewUnknownEntityError("rtpReceiver %d not found", request.Internal.RtpReceiverId)
	}
	return receiver, nil
}

func (w *Worker) senderFromRequest(request *ChannelRequest) (*RtpSender, error) {
	peer, err := w.peerFromRequest(request)
	if err != nil {
		return nil, err
	}
	sender, ok := peer.RtpSender(request.Internal.RtpSenderId)
	if !ok {
		return nil, NewUnknownEntityError("rtpSender %d not found", request.Internal.RtpSenderId)
	}
	return sender, nil
}

func (w *Worker) dump() WorkerDump {
	dump := WorkerDump{RoomIds: []uint32{}}
	for el := w.rooms.Front(); el != nil; el = el.Next() {
		dump.RoomIds = append(dump.RoomIds, el.Key)
	}
	return dump
}

func (w *Worker) dumpRoom(room *Room) RoomDump {
	dump := RoomDump{RoomId: room.Id(), Peers: []PeerDump{}, FanOut: []FanOutDump{}}

	for _, peer := range room.Peers() {
		dump.Peers = append(dump.Peers, dumpPeer(peer))

		for _, receiver := range peer.RtpReceivers() {
			entry := FanOutDump{
				PeerId:        peer.Id(),
				RtpReceiverId: receiver.Id(),
				RtpSenders:    []SenderRefDump{},
			}
			for _, sender := range room.RtpSendersFor(receiver) {
				entry.RtpSenders = append(entry.RtpSenders, SenderRefDump{
					PeerId:      sender.Peer().Id(),
					RtpSenderId: sender.Id(),
				})
			}
			dump.FanOut = append(dump.FanOut, entry)
		}
	}

	return dump
}

func dumpPeer(peer *Peer) PeerDump {
	dump := PeerDump{
		PeerId:       peer.Id(),
		State:        peer.State().String(),
		RtpReceivers: []RtpStreamDump{},
		RtpSenders:   []RtpSenderDump{},
		Capabilities: peer.Capabilities(),
	}
	for _, receiver := range peer.RtpReceivers() {
		dump.RtpReceivers = append(dump.RtpReceivers, RtpStreamDump{
			Id:    receiver.Id(),
			Kind:  receiver.Kind(),
			State: receiver.State().String(),
			Ssrc:  receiver.Ssrc(),
		})
	}
	for _, sender := range peer.RtpSenders() {
		dump.RtpSenders = append(dump.RtpSenders, RtpSenderDump{
			Id:   sender.Id(),
			Kind: sender.Kind(),
			Ssrc: sender.Ssrc(),
		})
	}
	return dump
}
