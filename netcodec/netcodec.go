// Package netcodec frames the byte stream the control-plane channel runs
// over. Two framings are provided: a binary length-value codec (4-byte
// length prefix in a caller-chosen byte order) and a netstring codec.
package netcodec

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"strconv"
	"sync"
)

// Codec reads and writes framed payloads over a byte stream.
type Codec interface {
	WritePayload(payload []byte) error
	ReadPayload() ([]byte, error)
	Close() error
}

// NewNetLVCodec returns a codec framing each payload with a 4-byte length
// prefix in the given byte order.
func NewNetLVCodec(w io.WriteCloser, r io.ReadCloser, order binary.ByteOrder) Codec {
	return &netLVCodec{w: w, r: r, order: order}
}

type netLVCodec struct {
	mu    sync.Mutex
	w     io.WriteCloser
	r     io.ReadCloser
	order binary.ByteOrder
}

func (c *netLVCodec) WritePayload(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := binary.Write(c.w, c.order, uint32(len(payload))); err != nil {
		return err
	}
	_, err := c.w.Write(payload)
	return err
}

func (c *netLVCodec) ReadPayload() ([]byte, error) {
	var length uint32
	if err := binary.Read(c.r, c.order, &length); err != nil {
		return nil, err
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func (c *netLVCodec) Close() error {
	werr := c.w.Close()
	rerr := c.r.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

const (
	netstringSeparator byte = ':'
	netstringEnd       byte = ','
)

// NewNetStringCodec returns a codec framing each payload as a netstring
// ("<len>:<payload>,").
func NewNetStringCodec(w io.WriteCloser, r io.ReadCloser) Codec {
	return &netStringCodec{w: w, r: bufio.NewReader(r), rc: r}
}

type netStringCodec struct {
	mu sync.Mutex
	w  io.WriteCloser
	r  *bufio.Reader
	rc io.ReadCloser
}

func (c *netStringCodec) WritePayload(payload []byte) error {
	length := strconv.Itoa(len(payload))

	buffer := make([]byte, 0, len(length)+len(payload)+2)
	buffer = append(buffer, length...)
	buffer = append(buffer, netstringSeparator)
	buffer = append(buffer, payload...)
	buffer = append(buffer, netstringEnd)

	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.w.Write(buffer)
	return err
}

func (c *netStringCodec) ReadPayload() ([]byte, error) {
	head, err := c.r.ReadString(netstringSeparator)
	if err != nil {
		return nil, err
	}
	if len(head) < 2 {
		return nil, errors.New("netstring: missing length")
	}
	length, err := strconv.Atoi(head[:len(head)-1])
	if err != nil {
		return nil, err
	}
	payload := make([]byte, length)
	if _, err = io.ReadFull(c.r, payload); err != nil {
		return nil, err
	}
	end, err := c.r.ReadByte()
	if err != nil {
		return nil, err
	}
	if end != netstringEnd {
		return nil, errors.New("netstring: invalid terminator")
	}
	return payload, nil
}

func (c *netStringCodec) Close() error {
	werr := c.w.Close()
	rerr := c.rc.Close()
	if werr != nil {
		return werr
	}
	return rerr
}
