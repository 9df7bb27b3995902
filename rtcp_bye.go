package sfu

import (
	"encoding/binary"
	"fmt"
)

// ByePacket is an RTCP BYE (RFC 3550 §6.6): count SSRCs followed by an
// optional reason (1-byte length plus UTF-8 bytes, padded to a 32-bit
// boundary).
type ByePacket struct {
	Ssrcs  []uint32
	Reason string
}

func parseByePacket(body []byte, count byte) (*ByePacket, error) {
	if len(body) < int(count)*4 {
		return nil, fmt.Errorf("%w: BYE with %d SSRCs does not fit in %d bytes", ErrMalformedRtcp, count, len(body))
	}
	p := &ByePacket{}

	for i := 0; i < int(count); i++ {
		p.Ssrcs = append(p.Ssrcs, binary.BigEndian.Uint32(body[i*4:]))
	}

	// The reason, when present, immediately follows the SSRC list.
	rest := body[int(count)*4:]
	if len(rest) > 0 {
		length := int(rest[0])
		if 1+length > len(rest) {
			return nil, fmt.Errorf("%w: BYE reason length %d overruns the packet", ErrMalformedRtcp, length)
		}
		p.Reason = string(rest[1 : 1+length])
	}

	return p, nil
}

func (p *ByePacket) Type() RtcpType {
	return RtcpTypeBye
}

func (p *ByePacket) Count() byte {
	return byte(len(p.Ssrcs))
}

func (p *ByePacket) Size() int {
	size := RtcpCommonHeaderSize + len(p.Ssrcs)*4
	if len(p.Reason) > 0 {
		size = wordAlign(size + 1 + len(p.Reason))
	}
	return size
}

func (p *ByePacket) serializeTo(buf []byte) {
	writeRtcpHeader(buf, p.Count(), RtcpTypeBye, p.Size())
	pos := RtcpCommonHeaderSize

	for _, ssrc := range p.Ssrcs {
		binary.BigEndian.PutUint32(buf[pos:], ssrc)
		pos += 4
	}

	if len(p.Reason) > 0 {
		buf[pos] = byte(len(p.Reason))
		copy(buf[pos+1:], p.Reason)
	}
}
