package dataset

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/parquet-go/parquet-go"
)

// VectorRecord is the Parquet row layout: an id column and a vector column
type VectorRecord struct {
	ID     int32     `parquet:"id"`
	Vector []float32 `parquet:"vector"`
}

// ReadParquet loads vectors from a Parquet file with id and vector columns.
// Rows are ordered by id; ids must be dense and start at 0.
func ReadParquet(path string) (*Memory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet %s: %w", path, err)
	}

	pr := parquet.NewGenericReader[VectorRecord](pf)
	defer pr.Close()

	records := make([]VectorRecord, pr.NumRows())
	n, err := pr.Read(records)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read parquet rows: %w", err)
	}
	records = records[:n]
	if len(records) == 0 {
		return nil, fmt.Errorf("%s contains no vectors", path)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	rows := make([][]float32, len(records))
	for i, rec := range records {
		if int(rec.ID) != i {
			return nil, fmt.Errorf("parquet ids are not dense: expected %d, got %d", i, rec.ID)
		}
		rows[i] = rec.Vector
	}
	return NewMemory(len(rows[0]), rows)
}

// WriteParquet writes ds as zstd-compressed Parquet
func WriteParquet(path string, ds Dataset) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	pw := parquet.NewGenericWriter[VectorRecord](f, parquet.Compression(&parquet.Zstd))
	records := make([]VectorRecord, ds.Len())
	for i := range records {
		records[i] = VectorRecord{ID: int32(i), Vector: ds.Vector(uint32(i))}
	}
	if _, err := pw.Write(records); err != nil {
		pw.Close()
		f.Close()
		return fmt.Errorf("failed to write parquet rows: %w", err)
	}
	if err := pw.Close(); err != nil {
		f.Close()
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return f.Close()
}
