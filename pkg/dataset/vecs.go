package dataset

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// ReadFvecs loads a TEXMEX .fvecs file: each record is a little-endian
// int32 dimension followed by that many float32 values. limit <= 0 reads
// the whole file.
func ReadFvecs(path string, limit int) (*Memory, error) {
	rows, dim, err := readVecs(path, limit, 4, func(b []byte, out []float32) {
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
		}
	})
	if err != nil {
		return nil, err
	}
	return NewMemory(dim, rows)
}

// ReadBvecs loads a .bvecs file (uint8 components) as float32 vectors
func ReadBvecs(path string, limit int) (*Memory, error) {
	rows, dim, err := readVecs(path, limit, 1, func(b []byte, out []float32) {
		for i := range out {
			out[i] = float32(b[i])
		}
	})
	if err != nil {
		return nil, err
	}
	return NewMemory(dim, rows)
}

func readVecs(path string, limit, width int, decode func([]byte, []float32)) ([][]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 1<<20)
	var rows [][]float32
	dim := -1
	var buf []byte
	for limit <= 0 || len(rows) < limit {
		var d int32
		if err := binary.Read(r, binary.LittleEndian, &d); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, 0, fmt.Errorf("failed to read dimension of record %d: %w", len(rows), err)
		}
		if d <= 0 {
			return nil, 0, fmt.Errorf("record %d has invalid dimension %d", len(rows), d)
		}
		if dim < 0 {
			dim = int(d)
			buf = make([]byte, dim*width)
		} else if int(d) != dim {
			return nil, 0, fmt.Errorf("record %d dimension mismatch: expected %d, got %d", len(rows), dim, d)
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, 0, fmt.Errorf("failed to read record %d: %w", len(rows), err)
		}
		v := make([]float32, dim)
		decode(buf, v)
		rows = append(rows, v)
	}
	if dim < 0 {
		return nil, 0, fmt.Errorf("%s contains no vectors", path)
	}
	return rows, dim, nil
}

// WriteFvecs writes ds in .fvecs format
func WriteFvecs(path string, ds Dataset) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	var b [4]byte
	for i := 0; i < ds.Len(); i++ {
		v := ds.Vector(uint32(i))
		binary.LittleEndian.PutUint32(b[:], uint32(len(v)))
		w.Write(b[:])
		for _, x := range v {
			binary.LittleEndian.PutUint32(b[:], math.Float32bits(x))
			w.Write(b[:])
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// Truth holds exact neighbor lists, one per query
type Truth [][]uint32

// GroundTruth returns the neighbor list of query q
func (t Truth) GroundTruth(q int) []uint32 {
	if q < 0 || q >= len(t) {
		return nil
	}
	return t[q]
}

// ReadIvecs loads an .ivecs ground-truth file
func ReadIvecs(path string) (Truth, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var out Truth
	for {
		var d int32
		if err := binary.Read(r, binary.LittleEndian, &d); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to read ground truth %d: %w", len(out), err)
		}
		if d < 0 {
			return nil, fmt.Errorf("ground truth %d has invalid length %d", len(out), d)
		}
		ids := make([]int32, d)
		if err := binary.Read(r, binary.LittleEndian, ids); err != nil {
			return nil, fmt.Errorf("failed to read ground truth %d: %w", len(out), err)
		}
		row := make([]uint32, d)
		for i, id := range ids {
			row[i] = uint32(id)
		}
		out = append(out, row)
	}
	return out, nil
}

// WriteIvecs writes ground truth in .ivecs format
func WriteIvecs(path string, truth Truth) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	for _, row := range truth {
		binary.Write(w, binary.LittleEndian, int32(len(row)))
		for _, id := range row {
			binary.Write(w, binary.LittleEndian, int32(id))
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// Open loads a dataset file chosen by extension: .fvecs, .bvecs or
// .parquet. limit <= 0 reads every vector.
func Open(path string, limit int) (*Memory, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".fvecs":
		return ReadFvecs(path, limit)
	case ".bvecs":
		return ReadBvecs(path, limit)
	case ".parquet":
		m, err := ReadParquet(path)
		if err != nil || limit <= 0 || limit >= m.Len() {
			return m, err
		}
		return Slice(m, 0, limit)
	default:
		return nil, fmt.Errorf("unsupported dataset format %q (want .fvecs, .bvecs or .parquet)", ext)
	}
}
