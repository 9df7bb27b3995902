package sfu

import (
	"encoding/json"

	"github.com/frostbyte73/core"
	"github.com/go-logr/logr"

	"github.com/rtckit/sfu/netcodec"
)

// maxMessageLen bounds a single channel payload.
const maxMessageLen = 4194304

// Channel is the server side of the control-plane message channel: it
// reads length-prefixed requests from the embedder, hands them to the
// registered handler, and writes responses and notifications back.
type Channel struct {
	logger  logr.Logger
	codec   netcodec.Codec
	closed  core.Fuse
	handler func(request *ChannelRequest) (interface{}, error)
}

func NewChannel(codec netcodec.Codec) *Channel {
	logger := NewLogger("Channel")

	logger.V(1).Info("constructor")

	return &Channel{
		logger: logger,
		codec:  codec,
		closed: core.NewFuse(),
	}
}

// SetRequestHandler registers the function resolving requests. The handler
// returns the accepted-response body, or an error that becomes a
// rejection. Must be called before Start.
func (c *Channel) SetRequestHandler(handler func(request *ChannelRequest) (interface{}, error)) {
	c.handler = handler
}

// Start begins reading requests.
func (c *Channel) Start() {
	go c.runReadLoop()
}

func (c *Channel) Close() error {
	var err error
	c.closed.Once(func() {
		c.logger.V(1).Info("close")
		err = c.codec.Close()
	})
	return err
}

func (c *Channel) Closed() bool {
	return c.closed.IsBroken()
}

func (c *Channel) runReadLoop() {
	defer c.Close()

	for {
		payload, err := c.codec.ReadPayload()
		if err != nil {
			if !c.Closed() {
				c.logger.Error(err, "channel read failed")
			}
			return
		}
		c.processPayload(payload)
	}
}

func (c *Channel) processPayload(payload []byte) {
	request := &ChannelRequest{}

	if err := json.Unmarshal(payload, request); err != nil {
		c.logger.Error(err, "received request is not valid JSON")
		return
	}
	if request.Id == 0 || len(request.Method) == 0 {
		c.logger.Error(nil, "received request without id or method")
		return
	}

	c.logger.V(1).Info("request", "method", request.Method, "id", request.Id)

	if c.handler == nil {
		c.reject(request.Id, "no request handler")
		return
	}

	data, err := c.handler(request)
	if err != nil {
		c.logger.V(1).Info("request failed", "method", request.Method, "id", request.Id, "reason", err.Error())
		c.reject(request.Id, err.Error())
		return
	}
	c.accept(request.Id, data)
}

func (c *Channel) accept(id int64, data interface{}) {
	c.write(channelResponse{Id: id, Accepted: true, Data: data})
}

func (c *Channel) reject(id int64, reason string) {
	c.write(channelResponse{Id: id, Error: "Error", Reason: reason})
}

// Notify pushes a state change without a matching request.
func (c *Channel) Notify(targetId uint32, event string, data interface{}) {
	c.write(channelNotification{TargetId: targetId, Event: event, Data: data})
}

func (c *Channel) write(message interface{}) {
	if c.Closed() {
		return
	}
	payload, err := json.Marshal(message)
	if err != nil {
		c.logger.Error(err, "message marshal failed")
		return
	}
	if len(payload) > maxMessageLen {
		c.logger.Error(nil, "message too big, dropped", "len", len(payload))
		return
	}
	if err := c.codec.WritePayload(payload); err != nil {
		c.logger.Error(err, "channel write failed")
	}
}
