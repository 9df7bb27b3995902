package sfu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRtcpByeRoundTrip(t *testing.T) {
	bye := &ByePacket{
		Ssrcs:  []uint32{1000, 2000},
		Reason: "bye",
	}

	data := SerializeRtcp(bye)
	assert.Zero(t, len(data)%4)

	packets, err := ParseRtcpCompound(data)
	require.NoError(t, err)
	require.Len(t, packets, 1)

	parsed, ok := packets[0].(*ByePacket)
	require.True(t, ok)
	assert.Equal(t, bye.Ssrcs, parsed.Ssrcs)
	assert.Equal(t, bye.Reason, parsed.Reason)

	// Serializing the parse result reproduces the bytes.
	assert.Equal(t, data, SerializeRtcp(parsed))
}

func TestRtcpSenderReportRoundTrip(t *testing.T) {
	sr := &SenderReportPacket{
		Ssrc:        0xAAAA,
		NtpSec:      0x11223344,
		NtpFrac:     0x55667788,
		RtpTs:       90000,
		PacketCount: 123,
		OctetCount:  4567,
		Reports: []ReportBlock{
			{
				Ssrc:         0xBBBB,
				FractionLost: 12,
				TotalLost:    -5,
				LastSeq:      70000,
				Jitter:       33,
				LastSr:       44,
				DelaySinceSr: 55,
			},
		},
	}

	data := SerializeRtcp(sr)
	packets, err := ParseRtcpCompound(data)
	require.NoError(t, err)
	require.Len(t, packets, 1)

	parsed := packets[0].(*SenderReportPacket)
	assert.Equal(t, sr, parsed)
	assert.Equal(t, data, SerializeRtcp(parsed))
}

func TestRtcpReceiverReportRoundTrip(t *testing.T) {
	rr := &ReceiverReportPacket{
		Ssrc: 0xCCCC,
		Reports: []ReportBlock{
			{Ssrc: 0xAAAA, FractionLost: 1, TotalLost: 7, LastSeq: 100, Jitter: 2, LastSr: 3, DelaySinceSr: 4},
			{Ssrc: 0xBBBB, TotalLost: 0, LastSeq: 200},
		},
	}

	data := SerializeRtcp(rr)
	packets, err := ParseRtcpCompound(data)
	require.NoError(t, err)
	require.Len(t, packets, 1)

	parsed := packets[0].(*ReceiverReportPacket)
	assert.Equal(t, rr, parsed)
	assert.Equal(t, data, SerializeRtcp(parsed))
}

func TestRtcpSdesRoundTrip(t *testing.T) {
	sdes := &SdesPacket{
		Chunks: []SdesChunk{
			{
				Ssrc: 0x1234,
				Items: []SdesItem{
					{Type: SdesCname, Value: "user@host"},
					{Type: SdesTool, Value: "sfu"},
				},
			},
		},
	}

	data := SerializeRtcp(sdes)
	assert.Zero(t, len(data)%4)

	packets, err := ParseRtcpCompound(data)
	require.NoError(t, err)
	require.Len(t, packets, 1)

	parsed := packets[0].(*SdesPacket)
	assert.Equal(t, sdes, parsed)
}

func TestRtcpFeedbackRoundTrip(t *testing.T) {
	t.Run("PLI", func(t *testing.T) {
		pli := &FeedbackPsPacket{
			FeedbackType: PsFeedbackPli,
			SenderSsrc:   0x1111,
			MediaSsrc:    0x2222,
		}

		data := SerializeRtcp(pli)
		assert.Len(t, data, 12)

		packets, err := ParseRtcpCompound(data)
		require.NoError(t, err)
		require.Len(t, packets, 1)
		assert.Equal(t, pli, packets[0])
	})

	t.Run("FIR", func(t *testing.T) {
		fir := &FeedbackPsPacket{
			FeedbackType: PsFeedbackFir,
			SenderSsrc:   0x1111,
			MediaSsrc:    0x2222,
			Fir:          []FirItem{{Ssrc: 0x3333, SeqNr: 9}},
		}

		data := SerializeRtcp(fir)
		packets, err := ParseRtcpCompound(data)
		require.NoError(t, err)
		require.Len(t, packets, 1)
		assert.Equal(t, fir, packets[0])
	})

	t.Run("SLI", func(t *testing.T) {
		sli := &FeedbackPsPacket{
			FeedbackType: PsFeedbackSli,
			SenderSsrc:   0x1111,
			MediaSsrc:    0x2222,
			Sli:          []SliItem{{First: 100, Number: 200, PictureId: 30}},
		}

		data := SerializeRtcp(sli)
		packets, err := ParseRtcpCompound(data)
		require.NoError(t, err)
		require.Len(t, packets, 1)
		assert.Equal(t, sli, packets[0])
	})

	t.Run("NACK", func(t *testing.T) {
		nack := &FeedbackRtpPacket{
			FeedbackType: RtpFeedbackNack,
			SenderSsrc:   0x1111,
			MediaSsrc:    0x2222,
			Nacks: []NackItem{
				{Pid: 105, Bitmask: 0x0003},
				{Pid: 200, Bitmask: 0x8001},
			},
		}

		data := SerializeRtcp(nack)
		packets, err := ParseRtcpCompound(data)
		require.NoError(t, err)
		require.Len(t, packets, 1)
		assert.Equal(t, nack, packets[0])
	})
}

func TestNackItemLostSequenceNumbers(t *testing.T) {
	assert.Equal(t, []uint16{105, 106}, NackItem{Pid: 105, Bitmask: 0x0003}.LostSequenceNumbers())
	assert.Equal(t, []uint16{200, 215}, NackItem{Pid: 200, Bitmask: 0x8001}.LostSequenceNumbers())
	assert.Empty(t, NackItem{Pid: 1, Bitmask: 0}.LostSequenceNumbers())

	// Wraps around the 16-bit space.
	assert.Equal(t, []uint16{65535, 0}, NackItem{Pid: 65535, Bitmask: 0x0003}.LostSequenceNumbers())
}

func TestParseRtcpCompound(t *testing.T) {
	t.Run("multiple sub-packets", func(t *testing.T) {
		data := SerializeRtcpCompound([]RtcpPacket{
			&SenderReportPacket{Ssrc: 1, RtpTs: 2},
			&SdesPacket{Chunks: []SdesChunk{{Ssrc: 1, Items: []SdesItem{{Type: SdesCname, Value: "a"}}}}},
			&ByePacket{Ssrcs: []uint32{1}},
		})

		packets, err := ParseRtcpCompound(data)
		require.NoError(t, err)
		require.Len(t, packets, 3)
		assert.IsType(t, &SenderReportPacket{}, packets[0])
		assert.IsType(t, &SdesPacket{}, packets[1])
		assert.IsType(t, &ByePacket{}, packets[2])
	})

	t.Run("unknown packet type is skipped", func(t *testing.T) {
		unknown := []byte{0x80, 0xCF, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01} // type 207
		data := append(unknown, SerializeRtcp(&ByePacket{Ssrcs: []uint32{7}})...)

		packets, err := ParseRtcpCompound(data)
		require.NoError(t, err)
		require.Len(t, packets, 1)
		assert.IsType(t, &ByePacket{}, packets[0])
	})

	t.Run("announced length overruns buffer", func(t *testing.T) {
		data := []byte{0x80, 0xC8, 0x00, 0x10, 0x00, 0x00, 0x00, 0x01}

		_, err := ParseRtcpCompound(data)
		assert.ErrorIs(t, err, ErrMalformedRtcp)
	})

	t.Run("bad version", func(t *testing.T) {
		data := []byte{0x40, 0xC8, 0x00, 0x00}

		_, err := ParseRtcpCompound(data)
		assert.ErrorIs(t, err, ErrMalformedRtcp)
	})

	t.Run("truncated BYE reason", func(t *testing.T) {
		bye := &ByePacket{Ssrcs: []uint32{1}}
		data := SerializeRtcp(bye)
		// Claim a reason longer than the packet.
		data[2] = 0x00
		data[3] = 0x02
		data = append(data, 0xFF, 0x00, 0x00, 0x00)

		_, err := ParseRtcpCompound(data)
		assert.ErrorIs(t, err, ErrMalformedRtcp)
	})
}
