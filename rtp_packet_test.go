package sfu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRtpPacket(t *testing.T) {
	t.Run("minimal packet", func(t *testing.T) {
		data := []byte{
			0x80, 0x60, 0x00, 0x01,
			0x00, 0x00, 0x00, 0x02,
			0x00, 0x00, 0x00, 0x03,
			0xAA, 0xBB,
		}

		packet, err := ParseRtpPacket(data)
		require.NoError(t, err)

		assert.False(t, packet.HasPadding())
		assert.False(t, packet.HasMarker())
		assert.False(t, packet.HasExtensionHeader())
		assert.EqualValues(t, 96, packet.PayloadType())
		assert.EqualValues(t, 1, packet.SequenceNumber())
		assert.EqualValues(t, 2, packet.Timestamp())
		assert.EqualValues(t, 3, packet.Ssrc())
		assert.Equal(t, []byte{0xAA, 0xBB}, packet.Payload())
		assert.Equal(t, 0, packet.Padding())
		assert.Equal(t, len(data), packet.Length())
	})

	t.Run("padding", func(t *testing.T) {
		data := []byte{
			0xA0, 0x60, 0x00, 0x01,
			0x00, 0x00, 0x00, 0x02,
			0x00, 0x00, 0x00, 0x03,
			0x00, 0x00, 0x03,
		}

		packet, err := ParseRtpPacket(data)
		require.NoError(t, err)

		assert.True(t, packet.HasPadding())
		assert.Empty(t, packet.Payload())
		assert.Equal(t, 3, packet.Padding())
	})

	t.Run("zero padding byte", func(t *testing.T) {
		data := []byte{
			0xA0, 0x60, 0x00, 0x01,
			0x00, 0x00, 0x00, 0x02,
			0x00, 0x00, 0x00, 0x03,
			0xAA, 0xBB, 0x00,
		}

		_, err := ParseRtpPacket(data)
		assert.ErrorIs(t, err, ErrMalformedRtp)
	})

	t.Run("padding bigger than payload", func(t *testing.T) {
		data := []byte{
			0xA0, 0x60, 0x00, 0x01,
			0x00, 0x00, 0x00, 0x02,
			0x00, 0x00, 0x00, 0x03,
			0x00, 0x05,
		}

		_, err := ParseRtpPacket(data)
		assert.ErrorIs(t, err, ErrMalformedRtp)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := ParseRtpPacket([]byte{0x80, 0x60, 0x00})
		assert.ErrorIs(t, err, ErrMalformedRtp)
	})

	t.Run("bad version", func(t *testing.T) {
		data := make([]byte, RtpHeaderSize)
		data[0] = 0x40

		_, err := ParseRtpPacket(data)
		assert.ErrorIs(t, err, ErrMalformedRtp)
	})

	t.Run("truncated CSRC list", func(t *testing.T) {
		data := []byte{
			0x82, 0x60, 0x00, 0x01,
			0x00, 0x00, 0x00, 0x02,
			0x00, 0x00, 0x00, 0x03,
			0x00, 0x00, 0x00, 0x04,
		}

		_, err := ParseRtpPacket(data)
		assert.ErrorIs(t, err, ErrMalformedRtp)
	})

	t.Run("csrc list and extension header", func(t *testing.T) {
		data := []byte{
			0x91, 0xE1, 0x00, 0x07,
			0x00, 0x00, 0x00, 0x08,
			0x00, 0x00, 0x00, 0x09,
			0x00, 0x00, 0x00, 0x05, // CSRC
			0xBE, 0xDE, 0x00, 0x01, // extension header
			0x11, 0x22, 0x33, 0x44, // extension value
			0xAA,
		}

		packet, err := ParseRtpPacket(data)
		require.NoError(t, err)

		assert.Equal(t, 1, packet.CsrcCount())
		assert.EqualValues(t, 5, packet.Csrc(0))
		assert.True(t, packet.HasExtensionHeader())
		assert.EqualValues(t, 0xBEDE, packet.ExtensionHeaderId())
		assert.Equal(t, 4, packet.ExtensionHeaderLength())
		assert.Equal(t, []byte{0xBE, 0xDE, 0x00, 0x01, 0x11, 0x22, 0x33, 0x44}, packet.ExtensionHeader())
		assert.Equal(t, []byte{0xAA}, packet.Payload())
		assert.True(t, packet.HasMarker())
		assert.EqualValues(t, 0x61, packet.PayloadType())
	})

	t.Run("truncated extension value", func(t *testing.T) {
		data := []byte{
			0x90, 0x60, 0x00, 0x01,
			0x00, 0x00, 0x00, 0x02,
			0x00, 0x00, 0x00, 0x03,
			0xBE, 0xDE, 0x00, 0x02,
			0x11, 0x22, 0x33, 0x44,
		}

		_, err := ParseRtpPacket(data)
		assert.ErrorIs(t, err, ErrMalformedRtp)
	})
}

func TestRtpPacketSerialize(t *testing.T) {
	data := []byte{
		0x90, 0xE1, 0x00, 0x07,
		0x00, 0x00, 0x00, 0x08,
		0x00, 0x00, 0x00, 0x09,
		0xBE, 0xDE, 0x00, 0x01,
		0x11, 0x22, 0x33, 0x44,
		0xAA, 0xBB, 0xCC,
	}

	packet, err := ParseRtpPacket(data)
	require.NoError(t, err)

	packet.Serialize()

	// The owned buffer is byte-identical and reparses to the same packet.
	assert.Equal(t, data, packet.Raw())

	reparsed, err := ParseRtpPacket(packet.Raw())
	require.NoError(t, err)
	assert.Equal(t, packet.Payload(), reparsed.Payload())
	assert.Equal(t, packet.ExtensionHeader(), reparsed.ExtensionHeader())

	// Mutations after Serialize stay within the owned buffer.
	packet.SetSsrc(0xCAFE)
	assert.EqualValues(t, 9, reparsedSsrc(t, data))
	assert.EqualValues(t, 0xCAFE, packet.Ssrc())
}

func reparsedSsrc(t *testing.T, data []byte) uint32 {
	packet, err := ParseRtpPacket(data)
	require.NoError(t, err)
	return packet.Ssrc()
}

func TestRtpPacketSerializeWithPadding(t *testing.T) {
	data := []byte{
		0xA0, 0x60, 0x00, 0x01,
		0x00, 0x00, 0x00, 0x02,
		0x00, 0x00, 0x00, 0x03,
		0xAA, 0xBB, 0x00, 0x03,
	}

	packet, err := ParseRtpPacket(data)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA}, packet.Payload())
	assert.Equal(t, 3, packet.Padding())

	packet.Serialize()

	assert.Equal(t, len(data), packet.Length())
	assert.EqualValues(t, 3, packet.Raw()[len(data)-1])

	reparsed, err := ParseRtpPacket(packet.Raw())
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA}, reparsed.Payload())
	assert.Equal(t, 3, reparsed.Padding())
}

func TestRtpPacketClone(t *testing.T) {
	data := []byte{
		0x80, 0x60, 0x00, 0x01,
		0x00, 0x00, 0x00, 0x02,
		0x00, 0x00, 0x00, 0x03,
		0xAA, 0xBB,
	}

	packet, err := ParseRtpPacket(data)
	require.NoError(t, err)

	buffer := make([]byte, len(data))
	cloned, err := packet.Clone(buffer)
	require.NoError(t, err)

	assert.Equal(t, packet.Raw(), cloned.Raw())
	assert.Equal(t, data, buffer)

	// The clone is independent of the original buffer.
	cloned.SetSsrc(0xDEAD)
	assert.EqualValues(t, 3, packet.Ssrc())
	assert.EqualValues(t, 0xDEAD, cloned.Ssrc())

	_, err = packet.Clone(make([]byte, 4))
	assert.Error(t, err)
}

func TestRtpPacketMutators(t *testing.T) {
	data := []byte{
		0x80, 0xE0, 0x00, 0x01,
		0x00, 0x00, 0x00, 0x02,
		0x00, 0x00, 0x00, 0x03,
		0xAA,
	}

	packet, err := ParseRtpPacket(data)
	require.NoError(t, err)

	packet.SetPayloadType(101)
	packet.SetSequenceNumber(1000)
	packet.SetTimestamp(123456)
	packet.SetSsrc(0xAAAA)

	assert.EqualValues(t, 101, packet.PayloadType())
	assert.True(t, packet.HasMarker())
	assert.EqualValues(t, 1000, packet.SequenceNumber())
	assert.EqualValues(t, 123456, packet.Timestamp())
	assert.EqualValues(t, 0xAAAA, packet.Ssrc())
}

func TestIsRtp(t *testing.T) {
	rtp := []byte{
		0x80, 0x60, 0x00, 0x01,
		0x00, 0x00, 0x00, 0x02,
		0x00, 0x00, 0x00, 0x03,
	}
	assert.True(t, IsRtp(rtp))
	assert.False(t, IsRtcp(rtp))

	rtcp := []byte{0x80, 0xC8, 0x00, 0x06}
	assert.True(t, IsRtcp(rtcp))
	assert.False(t, IsRtp(rtcp))

	assert.False(t, IsRtp([]byte{0x80}))
}
