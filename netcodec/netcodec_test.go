package netcodec

import (
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipePair(newCodec func(w io.WriteCloser, r io.ReadCloser) Codec) (a, b Codec) {
	aToB_r, aToB_w := io.Pipe()
	bToA_r, bToA_w := io.Pipe()

	return newCodec(aToB_w, bToA_r), newCodec(bToA_w, aToB_r)
}

func testRoundTrip(t *testing.T, a, b Codec) {
	t.Helper()

	payloads := [][]byte{
		[]byte("hello"),
		[]byte(`{"id":1,"method":"createRoom"}`),
		make([]byte, 4096),
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, want := range payloads {
			got, err := b.ReadPayload()
			assert.NoError(t, err)
			assert.Equal(t, want, got)
		}
	}()

	for _, payload := range payloads {
		require.NoError(t, a.WritePayload(payload))
	}
	<-done
}

func TestNetLVCodec(t *testing.T) {
	a, b := pipePair(func(w io.WriteCloser, r io.ReadCloser) Codec {
		return NewNetLVCodec(w, r, binary.LittleEndian)
	})
	testRoundTrip(t, a, b)
}

func TestNetStringCodec(t *testing.T) {
	a, b := pipePair(func(w io.WriteCloser, r io.ReadCloser) Codec {
		return NewNetStringCodec(w, r)
	})
	testRoundTrip(t, a, b)
}

func TestNetStringCodecRejectsGarbage(t *testing.T) {
	r, w := io.Pipe()
	codec := NewNetStringCodec(nopWriteCloser{}, r)

	go func() {
		w.Write([]byte("5:hello!")) // wrong terminator
		w.Close()
	}()

	_, err := codec.ReadPayload()
	assert.Error(t, err)
}

type nopWriteCloser struct{}

func (nopWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (nopWriteCloser) Close() error                { return nil }
