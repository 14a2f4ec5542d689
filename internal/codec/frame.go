// Package codec frames binary index snapshots: a fixed header carrying a
// magic number, format version, compression type and checksum, followed by
// an optionally compressed payload.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the payload compression algorithm
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZSTD Compression = 2
)

// String returns the configuration name of c
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// ParseCompression maps a configuration name to a Compression
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	default:
		return CompressionNone, fmt.Errorf("unknown compression %q", s)
	}
}

// Magic identifies index snapshot files
var Magic = [4]byte{'L', 'A', 'P', 'G'}

const headerSize = 4 + 2 + 1 + 1 + 8 + 8 + 8

// maxPayload bounds allocations driven by a corrupt header
const maxPayload = 1 << 38

var (
	ErrInvalidMagic       = errors.New("invalid magic number")
	ErrUnsupportedVersion = errors.New("unsupported format version")
	ErrChecksumMismatch   = errors.New("checksum mismatch")
	ErrTruncated          = errors.New("truncated file")
)

// header precedes the payload.
// Layout: [magic 4][version u16][compression u8][reserved u8]
// [uncompressed size u64][stored size u64][xxhash64 of payload u64]
type header struct {
	Version          uint16
	Compression      Compression
	UncompressedSize uint64
	StoredSize       uint64
	Checksum         uint64
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() (*zstd.Encoder, error) {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
}

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil)
}

// compress returns the stored bytes and the compression actually applied.
// Incompressible payloads are stored raw.
func compress(data []byte, c Compression) ([]byte, Compression, error) {
	switch c {
	case CompressionNone:
		return data, CompressionNone, nil
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, c, fmt.Errorf("lz4 compress: %w", err)
		}
		if n == 0 || n >= len(data) {
			return data, CompressionNone, nil
		}
		return buf[:n], CompressionLZ4, nil
	case CompressionZSTD:
		enc, err := getZstdEncoder()
		if err != nil {
			return nil, c, fmt.Errorf("zstd encoder: %w", err)
		}
		out := enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
		return out, CompressionZSTD, nil
	default:
		return nil, c, fmt.Errorf("unknown compression %d", c)
	}
}

func decompress(stored []byte, h header) ([]byte, error) {
	switch h.Compression {
	case CompressionNone:
		return stored, nil
	case CompressionLZ4:
		out := make([]byte, h.UncompressedSize)
		n, err := lz4.UncompressBlock(stored, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		return out[:n], nil
	case CompressionZSTD:
		dec, err := getZstdDecoder()
		if err != nil {
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(stored, make([]byte, 0, h.UncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown compression %d", h.Compression)
	}
}

// WriteFrame writes payload to w with the given format version
func WriteFrame(w io.Writer, version uint16, c Compression, payload []byte) error {
	stored, applied, err := compress(payload, c)
	if err != nil {
		return err
	}

	var hdr [headerSize]byte
	copy(hdr[0:4], Magic[:])
	binary.LittleEndian.PutUint16(hdr[4:], version)
	hdr[6] = byte(applied)
	binary.LittleEndian.PutUint64(hdr[8:], uint64(len(payload)))
	binary.LittleEndian.PutUint64(hdr[16:], uint64(len(stored)))
	binary.LittleEndian.PutUint64(hdr[24:], xxhash.Sum64(payload))

	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if _, err := w.Write(stored); err != nil {
		return fmt.Errorf("failed to write payload: %w", err)
	}
	return nil
}

// ReadFrame reads a frame and verifies its checksum. Versions above
// maxVersion are rejected.
func ReadFrame(r io.Reader, maxVersion uint16) (uint16, []byte, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, nil, ErrTruncated
		}
		return 0, nil, fmt.Errorf("failed to read header: %w", err)
	}
	if [4]byte(hdr[0:4]) != Magic {
		return 0, nil, ErrInvalidMagic
	}

	h := header{
		Version:          binary.LittleEndian.Uint16(hdr[4:]),
		Compression:      Compression(hdr[6]),
		UncompressedSize: binary.LittleEndian.Uint64(hdr[8:]),
		StoredSize:       binary.LittleEndian.Uint64(hdr[16:]),
		Checksum:         binary.LittleEndian.Uint64(hdr[24:]),
	}
	if h.Version == 0 || h.Version > maxVersion {
		return h.Version, nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}

	if h.StoredSize > maxPayload || h.UncompressedSize > maxPayload {
		return h.Version, nil, ErrChecksumMismatch
	}

	stored, err := io.ReadAll(io.LimitReader(r, int64(h.StoredSize)))
	if err != nil {
		return h.Version, nil, fmt.Errorf("failed to read payload: %w", err)
	}
	if uint64(len(stored)) != h.StoredSize {
		return h.Version, nil, ErrTruncated
	}

	payload, err := decompress(stored, h)
	if err != nil {
		return h.Version, nil, err
	}
	if uint64(len(payload)) != h.UncompressedSize || xxhash.Sum64(payload) != h.Checksum {
		return h.Version, nil, ErrChecksumMismatch
	}
	return h.Version, payload, nil
}
