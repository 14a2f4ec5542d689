package codec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePayload() []byte {
	b := NewBuffer(0)
	for i := 0; i < 2000; i++ {
		b.PutUint32(uint32(i % 17))
		b.PutFloat32(float32(i) * 0.5)
	}
	return b.Bytes()
}

func TestFrameRoundTrip(t *testing.T) {
	payload := samplePayload()

	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		t.Run(c.String(), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteFrame(&buf, 1, c, payload))

			version, got, err := ReadFrame(&buf, 1)
			require.NoError(t, err)
			assert.Equal(t, uint16(1), version)
			assert.Equal(t, payload, got)
		})
	}
}

func TestFrameRejectsCorruption(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, 1, CompressionNone, samplePayload()))
	data := buf.Bytes()

	t.Run("magic", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[0] = 'X'
		_, _, err := ReadFrame(bytes.NewReader(bad), 1)
		assert.True(t, errors.Is(err, ErrInvalidMagic))
	})

	t.Run("version", func(t *testing.T) {
		_, _, err := ReadFrame(bytes.NewReader(data), 0)
		assert.True(t, errors.Is(err, ErrUnsupportedVersion))
	})

	t.Run("checksum", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[len(bad)-1] ^= 0xff
		_, _, err := ReadFrame(bytes.NewReader(bad), 1)
		assert.True(t, errors.Is(err, ErrChecksumMismatch))
	})

	t.Run("truncated", func(t *testing.T) {
		_, _, err := ReadFrame(bytes.NewReader(data[:len(data)/2]), 1)
		assert.True(t, errors.Is(err, ErrTruncated))

		_, _, err = ReadFrame(bytes.NewReader(data[:5]), 1)
		assert.True(t, errors.Is(err, ErrTruncated))
	})
}

func TestBufferReader(t *testing.T) {
	b := NewBuffer(16)
	b.PutUint8(7)
	b.PutUint16(300)
	b.PutUint64(1 << 40)
	b.PutInt32(-5)
	b.PutFloat64(2.5)
	b.PutBool(true)
	b.PutString("l2sqr")
	b.PutFloat32s([]float32{1, 2})
	b.PutInt32s([]int32{-1, 1})
	b.PutUint32s([]uint32{9})

	r := NewReader(b.Bytes())
	assert.Equal(t, uint8(7), r.Uint8())
	assert.Equal(t, uint16(300), r.Uint16())
	assert.Equal(t, uint64(1<<40), r.Uint64())
	assert.Equal(t, int32(-5), r.Int32())
	assert.Equal(t, 2.5, r.Float64())
	assert.True(t, r.Bool())
	assert.Equal(t, "l2sqr", r.String())
	assert.Equal(t, []float32{1, 2}, r.Float32s())
	assert.Equal(t, []int32{-1, 1}, r.Int32s())
	assert.Equal(t, []uint32{9}, r.Uint32s())
	require.NoError(t, r.Err())
	assert.Zero(t, r.Remaining())

	// reading past the end is sticky
	assert.Zero(t, r.Uint32())
	assert.ErrorIs(t, r.Err(), ErrShortBuffer)
}

func TestParseCompression(t *testing.T) {
	c, err := ParseCompression("ZSTD")
	require.NoError(t, err)
	assert.Equal(t, CompressionZSTD, c)

	_, err = ParseCompression("snappy")
	assert.Error(t, err)
}
