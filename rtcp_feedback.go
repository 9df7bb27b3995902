package sfu

import (
	"encoding/binary"
	"fmt"
)

const feedbackHeaderSize = 8 // sender SSRC + media SSRC

// PsFeedbackType is the FMT field of a payload-specific feedback packet
// (RFC 4585 §6.3).
type PsFeedbackType byte

const (
	PsFeedbackPli  PsFeedbackType = 1
	PsFeedbackSli  PsFeedbackType = 2
	PsFeedbackRpsi PsFeedbackType = 3
	PsFeedbackFir  PsFeedbackType = 4 // RFC 5104 §4.3.1
	PsFeedbackAfb  PsFeedbackType = 15
)

// RtpFeedbackType is the FMT field of a transport-layer feedback packet
// (RFC 4585 §6.2).
type RtpFeedbackType byte

const (
	RtpFeedbackNack  RtpFeedbackType = 1
	RtpFeedbackTmmbr RtpFeedbackType = 3
	RtpFeedbackTmmbn RtpFeedbackType = 4
)

// NackItem is one (pid, bitmask) pair: bit i of the bitmask marks a loss
// at sequence number pid+i.
type NackItem struct {
	Pid     uint16
	Bitmask uint16
}

// LostSequenceNumbers expands the pair into the sequence numbers it names.
func (n NackItem) LostSequenceNumbers() []uint16 {
	var seqs []uint16
	for bit := 0; bit < 16; bit++ {
		if n.Bitmask&(1<<bit) != 0 {
			seqs = append(seqs, n.Pid+uint16(bit))
		}
	}
	return seqs
}

// SliItem is one slice loss indication entry.
type SliItem struct {
	First     uint16 // 13 bits
	Number    uint16 // 13 bits
	PictureId byte   // 6 bits
}

// RpsiItem carries a reference picture selection indication bitstring.
type RpsiItem struct {
	PayloadType byte
	BitString   []byte
}

// FirItem is one full intra request entry (RFC 5104 §4.3.1.1).
type FirItem struct {
	Ssrc  uint32
	SeqNr byte
}

// FeedbackPsPacket is an RTCP PSFB. The FCI region is decoded according to
// the feedback type; AFB and unknown types keep their FCI raw in Data.
type FeedbackPsPacket struct {
	FeedbackType PsFeedbackType
	SenderSsrc   uint32
	MediaSsrc    uint32
	Sli          []SliItem
	Rpsi         *RpsiItem
	Fir          []FirItem
	Data         []byte
}

func parseFeedbackPsPacket(body []byte, count byte) (*FeedbackPsPacket, error) {
	if len(body) < feedbackHeaderSize {
		return nil, fmt.Errorf("%w: PSFB without feedback header", ErrMalformedRtcp)
	}
	p := &FeedbackPsPacket{
		FeedbackType: PsFeedbackType(count),
		SenderSsrc:   binary.BigEndian.Uint32(body),
		MediaSsrc:    binary.BigEndian.Uint32(body[4:]),
	}
	fci := body[feedbackHeaderSize:]

	switch p.FeedbackType {
	case PsFeedbackPli:
		// PLI has no FCI.

	case PsFeedbackSli:
		if len(fci)%4 != 0 {
			return nil, fmt.Errorf("%w: SLI FCI size %d is not a multiple of 4", ErrMalformedRtcp, len(fci))
		}
		for pos := 0; pos < len(fci); pos += 4 {
			entry := binary.BigEndian.Uint32(fci[pos:])
			p.Sli = append(p.Sli, SliItem{
				First:     uint16(entry >> 19),
				Number:    uint16(entry >> 6 & 0x1fff),
				PictureId: byte(entry & 0x3f),
			})
		}

	case PsFeedbackRpsi:
		if len(fci) < 2 {
			return nil, fmt.Errorf("%w: RPSI FCI too short", ErrMalformedRtcp)
		}
		paddingBits := int(fci[0])
		if paddingBits%8 != 0 || paddingBits/8 > len(fci)-2 {
			return nil, fmt.Errorf("%w: invalid RPSI padding %d bits", ErrMalformedRtcp, paddingBits)
		}
		p.Rpsi = &RpsiItem{
			PayloadType: fci[1] & 0x7f,
			BitString:   append([]byte(nil), fci[2:len(fci)-paddingBits/8]...),
		}

	case PsFeedbackFir:
		if len(fci)%8 != 0 {
			return nil, fmt.Errorf("%w: FIR FCI size %d is not a multiple of 8", ErrMalformedRtcp, len(fci))
		}
		for pos := 0; pos < len(fci); pos += 8 {
			p.Fir = append(p.Fir, FirItem{
				Ssrc:  binary.BigEndian.Uint32(fci[pos:]),
				SeqNr: fci[pos+4],
			})
		}

	default:
		// AFB (e.g. REMB) and unknown formats pass through untouched.
		p.Data = append([]byte(nil), fci...)
	}

	return p, nil
}

func (p *FeedbackPsPacket) Type() RtcpType {
	return RtcpTypePsfb
}

func (p *FeedbackPsPacket) Count() byte {
	return byte(p.FeedbackType)
}

func (p *FeedbackPsPacket) Size() int {
	size := RtcpCommonHeaderSize + feedbackHeaderSize

	switch p.FeedbackType {
	case PsFeedbackPli:
	case PsFeedbackSli:
		size += len(p.Sli) * 4
	case PsFeedbackRpsi:
		if p.Rpsi != nil {
			size = wordAlign(size + 2 + len(p.Rpsi.BitString))
		}
	case PsFeedbackFir:
		size += len(p.Fir) * 8
	default:
		size += len(p.Data)
	}

	return wordAlign(size)
}

func (p *FeedbackPsPacket) serializeTo(buf []byte) {
	writeRtcpHeader(buf, p.Count(), RtcpTypePsfb, p.Size())
	binary.BigEndian.PutUint32(buf[4:], p.SenderSsrc)
	binary.BigEndian.PutUint32(buf[8:], p.MediaSsrc)
	pos := RtcpCommonHeaderSize + feedbackHeaderSize

	switch p.FeedbackType {
	case PsFeedbackPli:

	case PsFeedbackSli:
		for _, item := range p.Sli {
			entry := uint32(item.First)<<19 | uint32(item.Number&0x1fff)<<6 | uint32(item.PictureId&0x3f)
			binary.BigEndian.PutUint32(buf[pos:], entry)
			pos += 4
		}

	case PsFeedbackRpsi:
		if p.Rpsi != nil {
			padding := p.Size() - pos - 2 - len(p.Rpsi.BitString)
			buf[pos] = byte(padding * 8)
			buf[pos+1] = p.Rpsi.PayloadType & 0x7f
			copy(buf[pos+2:], p.Rpsi.BitString)
		}

	case PsFeedbackFir:
		for _, item := range p.Fir {
			binary.BigEndian.PutUint32(buf[pos:], item.Ssrc)
			buf[pos+4] = item.SeqNr
			pos += 8
		}

	default:
		copy(buf[pos:], p.Data)
	}
}

// FeedbackRtpPacket is an RTCP RTPFB. NACK FCI is decoded into items;
// TMMBR/TMMBN and unknown formats keep their FCI raw in Data.
type FeedbackRtpPacket struct {
	FeedbackType RtpFeedbackType
	SenderSsrc   uint32
	MediaSsrc    uint32
	Nacks        []NackItem
	Data         []byte
}

func parseFeedbackRtpPacket(body []byte, count byte) (*FeedbackRtpPacket, error) {
	if len(body) < feedbackHeaderSize {
		return nil, fmt.Errorf("%w: RTPFB without feedback header", ErrMalformedRtcp)
	}
	p := &FeedbackRtpPacket{
		FeedbackType: RtpFeedbackType(count),
		SenderSsrc:   binary.BigEndian.Uint32(body),
		MediaSsrc:    binary.BigEndian.Uint32(body[4:]),
	}
	fci := body[feedbackHeaderSize:]

	switch p.FeedbackType {
	case RtpFeedbackNack:
		if len(fci)%4 != 0 {
			return nil, fmt.Errorf("%w: NACK FCI size %d is not a multiple of 4", ErrMalformedRtcp, len(fci))
		}
		for pos := 0; pos < len(fci); pos += 4 {
			p.Nacks = append(p.Nacks, NackItem{
				Pid:     binary.BigEndian.Uint16(fci[pos:]),
				Bitmask: binary.BigEndian.Uint16(fci[pos+2:]),
			})
		}

	default:
		p.Data = append([]byte(nil), fci...)
	}

	return p, nil
}

func (p *FeedbackRtpPacket) Type() RtcpType {
	return RtcpTypeRtpfb
}

func (p *FeedbackRtpPacket) Count() byte {
	return byte(p.FeedbackType)
}

func (p *FeedbackRtpPacket) Size() int {
	size := RtcpCommonHeaderSize + feedbackHeaderSize

	if p.FeedbackType == RtpFeedbackNack {
		size += len(p.Nacks) * 4
	} else {
		size += len(p.Data)
	}

	return wordAlign(size)
}

func (p *FeedbackRtpPacket) serializeTo(buf []byte) {
	writeRtcpHeader(buf, p.Count(), RtcpTypeRtpfb, p.Size())
	binary.BigEndian.PutUint32(buf[4:], p.SenderSsrc)
	binary.BigEndian.PutUint32(buf[8:], p.MediaSsrc)
	pos := RtcpCommonHeaderSize + feedbackHeaderSize

	if p.FeedbackType == RtpFeedbackNack {
		for _, item := range p.Nacks {
			binary.BigEndian.PutUint16(buf[pos:], item.Pid)
			binary.BigEndian.PutUint16(buf[pos+2:], item.Bitmask)
			pos += 4
		}
	} else {
		copy(buf[pos:], p.Data)
	}
}
