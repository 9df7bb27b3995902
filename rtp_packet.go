package sfu

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const RtpHeaderSize = 12

// ErrMalformedRtp is wrapped by every RTP parse failure.
var ErrMalformedRtp = errors.New("malformed RTP packet")

// IsRtp reports whether data looks like an RTP packet. Following RFC 5761,
// bytes whose second octet falls in the RTCP packet type range are not RTP,
// so the check can demux RTP and RTCP sharing a socket.
func IsRtp(data []byte) bool {
	return len(data) >= RtpHeaderSize &&
		data[0]>>6 == 2 &&
		!(data[1] >= 192 && data[1] <= 223)
}

// RtpPacket is a parsed view over one RTP packet. The view borrows the
// buffer given to ParseRtpPacket until Serialize moves it onto an owned
// buffer; interior sections are tracked as offsets so cloning only needs a
// bytewise copy.
type RtpPacket struct {
	raw           []byte
	owned         bool
	csrcCount     int
	extOffset     int // offset of the 4-byte extension header, -1 if absent
	extValueLen   int // extension value bytes (32-bit words * 4)
	payloadOffset int
	payloadLen    int
	padding       int
}

// ParseRtpPacket validates data and returns a view borrowing it. The
// returned packet is only valid while data is.
func ParseRtpPacket(data []byte) (*RtpPacket, error) {
	if len(data) < RtpHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is below the minimum header size", ErrMalformedRtp, len(data))
	}
	if version := data[0] >> 6; version != 2 {
		return nil, fmt.Errorf("%w: invalid version %d", ErrMalformedRtp, version)
	}

	p := &RtpPacket{
		raw:       data,
		csrcCount: int(data[0] & 0x0f),
		extOffset: -1,
	}
	pos := RtpHeaderSize

	if p.csrcCount > 0 {
		csrcListSize := p.csrcCount * 4

		if len(data) < pos+csrcListSize {
			return nil, fmt.Errorf("%w: not enough space for the announced CSRC list", ErrMalformedRtp)
		}
		pos += csrcListSize
	}

	if hasExtension := data[0]&0x10 != 0; hasExtension {
		// The extension header is at least 4 bytes.
		if len(data) < pos+4 {
			return nil, fmt.Errorf("%w: not enough space for the announced extension header", ErrMalformedRtp)
		}
		p.extOffset = pos

		// The 16-bit length field counts 32-bit words in the extension,
		// excluding the four-octet extension header itself.
		p.extValueLen = int(binary.BigEndian.Uint16(data[pos+2:])) * 4

		if len(data) < pos+4+p.extValueLen {
			return nil, fmt.Errorf("%w: not enough space for the announced extension value", ErrMalformedRtp)
		}
		pos += 4 + p.extValueLen
	}

	p.payloadOffset = pos
	p.payloadLen = len(data) - pos

	if hasPadding := data[0]&0x20 != 0; hasPadding {
		if p.payloadLen == 0 {
			return nil, fmt.Errorf("%w: padding bit is set but no space for a padding byte", ErrMalformedRtp)
		}
		p.padding = int(data[len(data)-1])
		if p.padding == 0 {
			return nil, fmt.Errorf("%w: padding byte cannot be 0", ErrMalformedRtp)
		}
		if p.payloadLen < p.padding {
			return nil, fmt.Errorf("%w: padding octets exceed the available payload space", ErrMalformedRtp)
		}
		p.payloadLen -= p.padding
	}

	extSize := 0
	if p.extOffset >= 0 {
		extSize = 4 + p.extValueLen
	}
	invariant(len(data) == RtpHeaderSize+p.csrcCount*4+extSize+p.payloadLen+p.padding,
		"computed RTP packet length does not match received length")

	return p, nil
}

func (p *RtpPacket) Raw() []byte {
	return p.raw
}

func (p *RtpPacket) Length() int {
	return len(p.raw)
}

func (p *RtpPacket) HasPadding() bool {
	return p.raw[0]&0x20 != 0
}

func (p *RtpPacket) Padding() int {
	return p.padding
}

func (p *RtpPacket) HasMarker() bool {
	return p.raw[1]&0x80 != 0
}

func (p *RtpPacket) PayloadType() byte {
	return p.raw[1] & 0x7f
}

func (p *RtpPacket) SetPayloadType(pt byte) {
	p.raw[1] = p.raw[1]&0x80 | pt&0x7f
}

func (p *RtpPacket) SequenceNumber() uint16 {
	return binary.BigEndian.Uint16(p.raw[2:])
}

func (p *RtpPacket) SetSequenceNumber(seq uint16) {
	binary.BigEndian.PutUint16(p.raw[2:], seq)
}

func (p *RtpPacket) Timestamp() uint32 {
	return binary.BigEndian.Uint32(p.raw[4:])
}

func (p *RtpPacket) SetTimestamp(ts uint32) {
	binary.BigEndian.PutUint32(p.raw[4:], ts)
}

func (p *RtpPacket) Ssrc() uint32 {
	return binary.BigEndian.Uint32(p.raw[8:])
}

func (p *RtpPacket) SetSsrc(ssrc uint32) {
	binary.BigEndian.PutUint32(p.raw[8:], ssrc)
}

func (p *RtpPacket) CsrcCount() int {
	return p.csrcCount
}

func (p *RtpPacket) Csrc(i int) uint32 {
	return binary.BigEndian.Uint32(p.raw[RtpHeaderSize+i*4:])
}

func (p *RtpPacket) HasExtensionHeader() bool {
	return p.extOffset >= 0
}

// ExtensionHeaderId returns the 16-bit profile field of the extension
// header, 0 when absent.
func (p *RtpPacket) ExtensionHeaderId() uint16 {
	if p.extOffset < 0 {
		return 0
	}
	return binary.BigEndian.Uint16(p.raw[p.extOffset:])
}

// ExtensionHeaderLength returns the extension value size in bytes.
func (p *RtpPacket) ExtensionHeaderLength() int {
	return p.extValueLen
}

// ExtensionHeader returns the full extension region (4-byte header plus
// value), preserved byte-for-byte.
func (p *RtpPacket) ExtensionHeader() []byte {
	if p.extOffset < 0 {
		return nil
	}
	return p.raw[p.extOffset : p.extOffset+4+p.extValueLen]
}

func (p *RtpPacket) Payload() []byte {
	return p.raw[p.payloadOffset : p.payloadOffset+p.payloadLen]
}

// Serialize lays the packet out into a freshly allocated owned buffer and
// retargets the view onto it.
func (p *RtpPacket) Serialize() {
	length := RtpHeaderSize + p.csrcCount*4 + p.payloadLen + p.padding
	if p.extOffset >= 0 {
		length += 4 + p.extValueLen
	}
	raw := make([]byte, length)

	pos := copy(raw, p.raw[:RtpHeaderSize+p.csrcCount*4])

	if p.extOffset >= 0 {
		pos += copy(raw[pos:], p.ExtensionHeader())
	}

	pos += copy(raw[pos:], p.Payload())

	if p.padding > 0 {
		raw[pos+p.padding-1] = byte(p.padding)
		pos += p.padding
	}

	invariant(pos == length, "serialized RTP packet length mismatch")

	p.raw = raw
	p.owned = true
	if p.extOffset >= 0 {
		p.extOffset = RtpHeaderSize + p.csrcCount*4
	}
	p.payloadOffset = length - p.payloadLen - p.padding
}

// Clone copies the packet into buffer and returns a new view over it. The
// caller keeps ownership of buffer; the view stays valid while the buffer
// does.
func (p *RtpPacket) Clone(buffer []byte) (*RtpPacket, error) {
	if len(buffer) < len(p.raw) {
		return nil, fmt.Errorf("clone buffer too small: %d < %d", len(buffer), len(p.raw))
	}
	copy(buffer, p.raw)

	clone := *p
	clone.raw = buffer[:len(p.raw)]
	clone.owned = false

	return &clone, nil
}
