package sfu

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const RtcpCommonHeaderSize = 4

// ErrMalformedRtcp is wrapped by every RTCP parse failure.
var ErrMalformedRtcp = errors.New("malformed RTCP packet")

var rtcpLogger = NewLogger("rtcp")

// RtcpType is the RTCP packet type carried in the common header.
type RtcpType byte

const (
	RtcpTypeSR    RtcpType = 200
	RtcpTypeRR    RtcpType = 201
	RtcpTypeSdes  RtcpType = 202
	RtcpTypeBye   RtcpType = 203
	RtcpTypeRtpfb RtcpType = 205
	RtcpTypePsfb  RtcpType = 206
)

// IsRtcp reports whether data looks like an RTCP packet (RFC 5761 demux:
// the byte holding the packet type falls in 192..223).
func IsRtcp(data []byte) bool {
	return len(data) >= RtcpCommonHeaderSize &&
		data[0]>>6 == 2 &&
		data[1] >= 192 && data[1] <= 223
}

// RtcpPacket is one sub-packet of a compound RTCP packet.
type RtcpPacket interface {
	// Type returns the RTCP packet type.
	Type() RtcpType

	// Count returns the value of the 5-bit count/format field of the
	// common header: report or chunk count for SR/RR/SDES/BYE, feedback
	// message type for PSFB/RTPFB.
	Count() byte

	// Size returns the serialized size in bytes, including the common
	// header and zero padding up to a 32-bit boundary.
	Size() int

	// serializeTo writes exactly Size() bytes into buf.
	serializeTo(buf []byte)
}

// writeRtcpHeader fills the 4-byte common header. size is the full packet
// size in bytes and must be a multiple of 4; pad bytes are accounted inside
// the declared length, the padding bit stays unset.
func writeRtcpHeader(buf []byte, count byte, typ RtcpType, size int) {
	invariant(size%4 == 0, "RTCP packet size %d is not 32-bit aligned", size)

	buf[0] = 2<<6 | count&0x1f
	buf[1] = byte(typ)
	binary.BigEndian.PutUint16(buf[2:], uint16(size/4-1))
}

// ParseRtcpCompound iterates the 4-byte-aligned sub-packets of a compound
// RTCP packet. Sub-packets of unknown type are skipped with a warning;
// anything that overruns the buffer aborts the parse.
func ParseRtcpCompound(data []byte) ([]RtcpPacket, error) {
	var packets []RtcpPacket

	for len(data) > 0 {
		if len(data) < RtcpCommonHeaderSize {
			return nil, fmt.Errorf("%w: %d trailing bytes do not fit a common header", ErrMalformedRtcp, len(data))
		}
		if version := data[0] >> 6; version != 2 {
			return nil, fmt.Errorf("%w: invalid version %d", ErrMalformedRtcp, version)
		}

		count := data[0] & 0x1f
		typ := RtcpType(data[1])
		size := (int(binary.BigEndian.Uint16(data[2:])) + 1) * 4

		if size > len(data) {
			return nil, fmt.Errorf("%w: announced length %d overruns the remaining %d bytes", ErrMalformedRtcp, size, len(data))
		}
		body := data[RtcpCommonHeaderSize:size]

		var (
			packet RtcpPacket
			err    error
		)
		switch typ {
		case RtcpTypeSR:
			packet, err = parseSenderReport(body, count)
		case RtcpTypeRR:
			packet, err = parseReceiverReportPacket(body, count)
		case RtcpTypeSdes:
			packet, err = parseSdesPacket(body, count)
		case RtcpTypeBye:
			packet, err = parseByePacket(body, count)
		case RtcpTypePsfb:
			packet, err = parseFeedbackPsPacket(body, count)
		case RtcpTypeRtpfb:
			packet, err = parseFeedbackRtpPacket(body, count)
		default:
			rtcpLogger.V(1).Info("unknown RTCP packet type, sub-packet ignored", "type", typ)
		}
		if err != nil {
			return nil, err
		}
		if packet != nil {
			packets = append(packets, packet)
		}
		data = data[size:]
	}

	return packets, nil
}

// SerializeRtcpCompound lays out the given packets back to back into one
// owned buffer.
func SerializeRtcpCompound(packets []RtcpPacket) []byte {
	size := 0
	for _, packet := range packets {
		size += packet.Size()
	}
	buf := make([]byte, size)

	pos := 0
	for _, packet := range packets {
		packet.serializeTo(buf[pos : pos+packet.Size()])
		pos += packet.Size()
	}

	return buf
}

// SerializeRtcp serializes a single packet.
func SerializeRtcp(packet RtcpPacket) []byte {
	buf := make([]byte, packet.Size())
	packet.serializeTo(buf)
	return buf
}

// wordAlign rounds size up to the next multiple of 4.
func wordAlign(size int) int {
	return (size + 3) &^ 3
}
