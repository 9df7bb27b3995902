package sfu

import (
	"encoding/binary"
	"fmt"
)

const reportBlockSize = 24

// ReportBlock is the 24-byte reception report block shared by SR and RR.
type ReportBlock struct {
	Ssrc         uint32
	FractionLost byte
	TotalLost    int32 // 24-bit signed on the wire
	LastSeq      uint32
	Jitter       uint32
	LastSr       uint32
	DelaySinceSr uint32
}

func parseReportBlock(data []byte) ReportBlock {
	totalLost := int32(data[5])<<16 | int32(data[6])<<8 | int32(data[7])
	if totalLost&0x800000 != 0 {
		totalLost -= 0x1000000
	}

	return ReportBlock{
		Ssrc:         binary.BigEndian.Uint32(data),
		FractionLost: data[4],
		TotalLost:    totalLost,
		LastSeq:      binary.BigEndian.Uint32(data[8:]),
		Jitter:       binary.BigEndian.Uint32(data[12:]),
		LastSr:       binary.BigEndian.Uint32(data[16:]),
		DelaySinceSr: binary.BigEndian.Uint32(data[20:]),
	}
}

func (b ReportBlock) serializeTo(buf []byte) {
	binary.BigEndian.PutUint32(buf, b.Ssrc)
	buf[4] = b.FractionLost
	totalLost := uint32(b.TotalLost) & 0xffffff
	buf[5] = byte(totalLost >> 16)
	buf[6] = byte(totalLost >> 8)
	buf[7] = byte(totalLost)
	binary.BigEndian.PutUint32(buf[8:], b.LastSeq)
	binary.BigEndian.PutUint32(buf[12:], b.Jitter)
	binary.BigEndian.PutUint32(buf[16:], b.LastSr)
	binary.BigEndian.PutUint32(buf[20:], b.DelaySinceSr)
}

// SenderReportPacket is an RTCP SR (RFC 3550 §6.4.1).
type SenderReportPacket struct {
	Ssrc        uint32
	NtpSec      uint32
	NtpFrac     uint32
	RtpTs       uint32
	PacketCount uint32
	OctetCount  uint32
	Reports     []ReportBlock
}

func parseSenderReport(body []byte, count byte) (*SenderReportPacket, error) {
	if len(body) < 24+int(count)*reportBlockSize {
		return nil, fmt.Errorf("%w: sender report with %d blocks does not fit in %d bytes", ErrMalformedRtcp, count, len(body))
	}
	sr := &SenderReportPacket{
		Ssrc:        binary.BigEndian.Uint32(body),
		NtpSec:      binary.BigEndian.Uint32(body[4:]),
		NtpFrac:     binary.BigEndian.Uint32(body[8:]),
		RtpTs:       binary.BigEndian.Uint32(body[12:]),
		PacketCount: binary.BigEndian.Uint32(body[16:]),
		OctetCount:  binary.BigEndian.Uint32(body[20:]),
	}
	for i := 0; i < int(count); i++ {
		sr.Reports = append(sr.Reports, parseReportBlock(body[24+i*reportBlockSize:]))
	}

	return sr, nil
}

func (p *SenderReportPacket) Type() RtcpType {
	return RtcpTypeSR
}

func (p *SenderReportPacket) Count() byte {
	return byte(len(p.Reports))
}

func (p *SenderReportPacket) Size() int {
	return RtcpCommonHeaderSize + 24 + len(p.Reports)*reportBlockSize
}

func (p *SenderReportPacket) serializeTo(buf []byte) {
	writeRtcpHeader(buf, p.Count(), RtcpTypeSR, p.Size())
	binary.BigEndian.PutUint32(buf[4:], p.Ssrc)
	binary.BigEndian.PutUint32(buf[8:], p.NtpSec)
	binary.BigEndian.PutUint32(buf[12:], p.NtpFrac)
	binary.BigEndian.PutUint32(buf[16:], p.RtpTs)
	binary.BigEndian.PutUint32(buf[20:], p.PacketCount)
	binary.BigEndian.PutUint32(buf[24:], p.OctetCount)
	for i, report := range p.Reports {
		report.serializeTo(buf[28+i*reportBlockSize:])
	}
}

// ReceiverReportPacket is an RTCP RR (RFC 3550 §6.4.2).
type ReceiverReportPacket struct {
	Ssrc    uint32
	Reports []ReportBlock
}

func parseReceiverReportPacket(body []byte, count byte) (*ReceiverReportPacket, error) {
	if len(body) < 4+int(count)*reportBlockSize {
		return nil, fmt.Errorf("%w: receiver report with %d blocks does not fit in %d bytes", ErrMalformedRtcp, count, len(body))
	}
	rr := &ReceiverReportPacket{
		Ssrc: binary.BigEndian.Uint32(body),
	}
	for i := 0; i < int(count); i++ {
		rr.Reports = append(rr.Reports, parseReportBlock(body[4+i*reportBlockSize:]))
	}

	return rr, nil
}

func (p *ReceiverReportPacket) Type() RtcpType {
	return RtcpTypeRR
}

func (p *ReceiverReportPacket) Count() byte {
	return byte(len(p.Reports))
}

func (p *ReceiverReportPacket) Size() int {
	return RtcpCommonHeaderSize + 4 + len(p.Reports)*reportBlockSize
}

func (p *ReceiverReportPacket) serializeTo(buf []byte) {
	writeRtcpHeader(buf, p.Count(), RtcpTypeRR, p.Size())
	binary.BigEndian.PutUint32(buf[4:], p.Ssrc)
	for i, report := range p.Reports {
		report.serializeTo(buf[8+i*reportBlockSize:])
	}
}
