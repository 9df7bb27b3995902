package sfu

import (
	"encoding/binary"
	"fmt"
)

// SdesItemType identifies one source description item (RFC 3550 §6.5).
type SdesItemType byte

const (
	SdesCname SdesItemType = 1
	SdesName  SdesItemType = 2
	SdesEmail SdesItemType = 3
	SdesPhone SdesItemType = 4
	SdesLoc   SdesItemType = 5
	SdesTool  SdesItemType = 6
	SdesNote  SdesItemType = 7
	SdesPriv  SdesItemType = 8
)

type SdesItem struct {
	Type  SdesItemType
	Value string
}

// SdesChunk groups the items describing one SSRC.
type SdesChunk struct {
	Ssrc  uint32
	Items []SdesItem
}

// chunkSize returns the chunk's wire size: SSRC, items, the null terminator
// and padding up to the next 32-bit boundary.
func (c SdesChunk) chunkSize() int {
	size := 4
	for _, item := range c.Items {
		size += 2 + len(item.Value)
	}
	return wordAlign(size + 1)
}

// SdesPacket is an RTCP SDES (RFC 3550 §6.5).
type SdesPacket struct {
	Chunks []SdesChunk
}

func parseSdesPacket(body []byte, count byte) (*SdesPacket, error) {
	p := &SdesPacket{}

	for i := 0; i < int(count); i++ {
		if len(body) < 4 {
			return nil, fmt.Errorf("%w: SDES chunk %d does not fit", ErrMalformedRtcp, i)
		}
		chunk := SdesChunk{Ssrc: binary.BigEndian.Uint32(body)}
		pos := 4

		for {
			if pos >= len(body) {
				return nil, fmt.Errorf("%w: SDES chunk without terminator", ErrMalformedRtcp)
			}
			itemType := SdesItemType(body[pos])
			if itemType == 0 {
				// Null terminator. The chunk is padded to the next
				// 32-bit boundary, terminator included.
				pos = wordAlign(pos + 1)
				break
			}
			if pos+2 > len(body) || pos+2+int(body[pos+1]) > len(body) {
				return nil, fmt.Errorf("%w: SDES item overruns its chunk", ErrMalformedRtcp)
			}
			length := int(body[pos+1])
			chunk.Items = append(chunk.Items, SdesItem{
				Type:  itemType,
				Value: string(body[pos+2 : pos+2+length]),
			})
			pos += 2 + length
		}

		p.Chunks = append(p.Chunks, chunk)
		if pos > len(body) {
			pos = len(body)
		}
		body = body[pos:]
	}

	return p, nil
}

func (p *SdesPacket) Type() RtcpType {
	return RtcpTypeSdes
}

func (p *SdesPacket) Count() byte {
	return byte(len(p.Chunks))
}

func (p *SdesPacket) Size() int {
	size := RtcpCommonHeaderSize
	for _, chunk := range p.Chunks {
		size += chunk.chunkSize()
	}
	return size
}

func (p *SdesPacket) serializeTo(buf []byte) {
	writeRtcpHeader(buf, p.Count(), RtcpTypeSdes, p.Size())
	pos := RtcpCommonHeaderSize

	for _, chunk := range p.Chunks {
		binary.BigEndian.PutUint32(buf[pos:], chunk.Ssrc)
		itemPos := pos + 4
		for _, item := range chunk.Items {
			buf[itemPos] = byte(item.Type)
			buf[itemPos+1] = byte(len(item.Value))
			copy(buf[itemPos+2:], item.Value)
			itemPos += 2 + len(item.Value)
		}
		// Null terminator; the remaining pad bytes are already zero.
		buf[itemPos] = 0
		pos += chunk.chunkSize()
	}
}
