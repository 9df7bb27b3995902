package sfu

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtckit/sfu/netcodec"
)

type fakeTransportProvider struct {
	transports map[uint32]*fakeTransport
}

func (p *fakeTransportProvider) TransportFor(roomId, peerId uint32) (Transport, error) {
	transport, ok := p.transports[peerId]
	if !ok {
		transport = &fakeTransport{}
		p.transports[peerId] = transport
	}
	return transport, nil
}

// embedder drives the worker the way a supervising process would: requests
// in, responses and notifications out, over a length-prefixed pipe pair.
type embedder struct {
	t             *testing.T
	codec         netcodec.Codec
	nextId        int64
	notifications []channelNotification
}

type embedderMessage struct {
	Id       int64           `json:"id,omitempty"`
	Accepted bool            `json:"accepted,omitempty"`
	Error    string          `json:"error,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	TargetId uint32          `json:"targetId,omitempty"`
	Event    string          `json:"event,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

func newWorkerUnderTest(t *testing.T, provider TransportProvider) (*Worker, *embedder) {
	t.Helper()

	toWorkerR, toWorkerW := io.Pipe()
	fromWorkerR, fromWorkerW := io.Pipe()

	workerCodec := netcodec.NewNetLVCodec(fromWorkerW, toWorkerR, binary.LittleEndian)
	embedderCodec := netcodec.NewNetLVCodec(toWorkerW, fromWorkerR, binary.LittleEndian)

	channel := NewChannel(workerCodec)
	worker, err := NewWorker(channel, WorkerOptions{
		ProtocolVersion: ProtocolVersion,
		Transports:      provider,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		// Drop the embedder end first so late worker writes fail fast
		// instead of blocking on the pipe.
		embedderCodec.Close()
		worker.Close()
	})

	return worker, &embedder{t: t, codec: embedderCodec}
}

// request sends one request and waits for its response, collecting any
// notifications that arrive first.
func (e *embedder) request(method string, internal internalData, data interface{}) embedderMessage {
	e.t.Helper()

	e.nextId++
	payload, err := json.Marshal(map[string]interface{}{
		"id":       e.nextId,
		"method":   method,
		"internal": internal,
		"data":     data,
	})
	require.NoError(e.t, err)
	require.NoError(e.t, e.codec.WritePayload(payload))

	deadline := time.After(2 * time.Second)
	response := make(chan embedderMessage, 1)

	go func() {
		for {
			raw, err := e.codec.ReadPayload()
			if err != nil {
				return
			}
			message := embedderMessage{}
			if err := json.Unmarshal(raw, &message); err != nil {
				continue
			}
			if message.Id == 0 {
				e.notifications = append(e.notifications, channelNotification{
					TargetId: message.TargetId,
					Event:    message.Event,
					Data:     message.Data,
				})
				continue
			}
			response <- message
			return
		}
	}()

	select {
	case message := <-response:
		require.Equal(e.t, e.nextId, message.Id)
		return message
	case <-deadline:
		e.t.Fatal("no response from worker")
		return embedderMessage{}
	}
}

func (e *embedder) mustAccept(method string, internal internalData, data interface{}) embedderMessage {
	e.t.Helper()

	message := e.request(method, internal, data)
	require.True(e.t, message.Accepted, "request %s rejected: %s", method, message.Reason)
	return message
}

func TestWorkerRequestFlow(t *testing.T) {
	provider := &fakeTransportProvider{transports: map[uint32]*fakeTransport{}}
	worker, embedder := newWorkerUnderTest(t, provider)

	// createRoom answers with the room capabilities.
	response := embedder.mustAccept("createRoom", internalData{RoomId: 1}, RoomOptions{
		MediaCodecs: testMediaCodecs,
	})
	caps := RtpCapabilities{}
	require.NoError(t, json.Unmarshal(response.Data, &caps))
	require.Len(t, caps.Codecs, 3) // opus, VP8, VP8 rtx

	embedder.mustAccept("createPeer", internalData{RoomId: 1, PeerId: 1}, nil)

	// setPeerCapabilities answers with the negotiated subset.
	response = embedder.mustAccept("setPeerCapabilities", internalData{RoomId: 1, PeerId: 1},
		setPeerCapabilitiesRequest{Capabilities: opusVp8Caps()})
	negotiated := RtpCapabilities{}
	require.NoError(t, json.Unmarshal(response.Data, &negotiated))
	require.Len(t, negotiated.Codecs, 2)

	embedder.mustAccept("createRtpReceiver", internalData{RoomId: 1, PeerId: 1, RtpReceiverId: 11},
		createRtpReceiverRequest{Kind: MediaKindVideo})

	embedder.mustAccept("setRtpReceiverParameters", internalData{RoomId: 1, PeerId: 1, RtpReceiverId: 11},
		setRtpReceiverParametersRequest{RtpParameters: RtpParameters{
			Codecs: []*RtpCodecParameters{
				{MimeType: "video/VP8", PayloadType: 101, ClockRate: 90000},
			},
			Encodings: []RtpEncodingParameters{{Ssrc: 0xAAAA}},
		}})

	// A second subscribing peer gets a newrtpsender notification.
	embedder.mustAccept("createPeer", internalData{RoomId: 1, PeerId: 2}, nil)
	embedder.mustAccept("setPeerCapabilities", internalData{RoomId: 1, PeerId: 2},
		setPeerCapabilitiesRequest{Capabilities: vp8OnlyCaps()})

	require.NotEmpty(t, embedder.notifications)
	notification := embedder.notifications[len(embedder.notifications)-1]
	assert.Equal(t, "newrtpsender", notification.Event)
	assert.EqualValues(t, 2, notification.TargetId)

	// The fan-out shows up in the dump.
	response = embedder.mustAccept("dumpRoom", internalData{RoomId: 1}, nil)
	dump := RoomDump{}
	require.NoError(t, json.Unmarshal(response.Data, &dump))
	require.Len(t, dump.FanOut, 1)
	require.Len(t, dump.FanOut[0].RtpSenders, 1)
	assert.EqualValues(t, 2, dump.FanOut[0].RtpSenders[0].PeerId)

	// Worker-wide dump lists the room.
	response = embedder.mustAccept("dump", internalData{}, nil)
	workerDump := WorkerDump{}
	require.NoError(t, json.Unmarshal(response.Data, &workerDump))
	assert.Equal(t, []uint32{1}, workerDump.RoomIds)

	// Data now flows end to end through the transports.
	room, ok := worker.Room(1)
	require.True(t, ok)
	peerA, ok := room.Peer(1)
	require.True(t, ok)

	peerA.HandleRtpPacket(rtpBytes(t, 101, 1, 0xAAAA, 0x42))
	require.Len(t, provider.transports[2].rtp, 1)

	// closePeer detaches the subscriber.
	embedder.mustAccept("closePeer", internalData{RoomId: 1, PeerId: 2}, nil)
	peerA.HandleRtpPacket(rtpBytes(t, 101, 2, 0xAAAA, 0x43))
	assert.Len(t, provider.transports[2].rtp, 1)
}

func TestWorkerRequestRejections(t *testing.T) {
	provider := &fakeTransportProvider{transports: map[uint32]*fakeTransport{}}
	_, embedder := newWorkerUnderTest(t, provider)

	t.Run("unknown method", func(t *testing.T) {
		response := embedder.request("bogusMethod", internalData{}, nil)
		assert.False(t, response.Accepted)
		assert.NotEmpty(t, response.Reason)
	})

	t.Run("unknown room", func(t *testing.T) {
		response := embedder.request("closeRoom", internalData{RoomId: 404}, nil)
		assert.False(t, response.Accepted)
	})

	t.Run("unknown peer", func(t *testing.T) {
		embedder.mustAccept("createRoom", internalData{RoomId: 1}, RoomOptions{MediaCodecs: testMediaCodecs})

		response := embedder.request("closePeer", internalData{RoomId: 1, PeerId: 404}, nil)
		assert.False(t, response.Accepted)
	})

	t.Run("invalid receiver parameters are rejected with a reason", func(t *testing.T) {
		embedder.mustAccept("createPeer", internalData{RoomId: 1, PeerId: 1}, nil)
		embedder.mustAccept("setPeerCapabilities", internalData{RoomId: 1, PeerId: 1},
			setPeerCapabilitiesRequest{Capabilities: opusVp8Caps()})
		embedder.mustAccept("createRtpReceiver", internalData{RoomId: 1, PeerId: 1, RtpReceiverId: 11},
			createRtpReceiverRequest{Kind: MediaKindVideo})

		response := embedder.request("setRtpReceiverParameters", internalData{RoomId: 1, PeerId: 1, RtpReceiverId: 11},
			setRtpReceiverParametersRequest{RtpParameters: RtpParameters{
				Codecs: []*RtpCodecParameters{
					{MimeType: "video/VP8", PayloadType: 77, ClockRate: 90000},
				},
				Encodings: []RtpEncodingParameters{{Ssrc: 0xAAAA}},
			}})
		assert.False(t, response.Accepted)
		assert.NotEmpty(t, response.Reason)
	})

	t.Run("duplicated room", func(t *testing.T) {
		response := embedder.request("createRoom", internalData{RoomId: 1}, RoomOptions{MediaCodecs: testMediaCodecs})
		assert.False(t, response.Accepted)
	})
}

func TestWorkerProtocolVersionGate(t *testing.T) {
	toWorkerR, _ := io.Pipe()
	_, fromWorkerW := io.Pipe()
	codec := netcodec.NewNetLVCodec(fromWorkerW, toWorkerR, binary.LittleEndian)

	_, err := NewWorker(NewChannel(codec), WorkerOptions{
		ProtocolVersion: "0.9.0",
		Transports:      &fakeTransportProvider{transports: map[uint32]*fakeTransport{}},
	})
	assert.Error(t, err)

	_, err = NewWorker(NewChannel(codec), WorkerOptions{
		ProtocolVersion: "not-a-version",
		Transports:      &fakeTransportProvider{transports: map[uint32]*fakeTransport{}},
	})
	assert.Error(t, err)
}
