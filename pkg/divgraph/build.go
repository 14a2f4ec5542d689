package divgraph

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"
)

// Build inserts every dataset vector that is not yet in the index, using
// Options.Threads workers
func (idx *Index) Build() error {
	var pending []uint32
	for id := 0; id < idx.ds.Len(); id++ {
		if !idx.Contains(uint32(id)) {
			pending = append(pending, uint32(id))
		}
	}
	if len(pending) == 0 {
		return nil
	}

	start := time.Now()
	idx.logger.Info("building index",
		slog.Int("points", len(pending)),
		slog.Int("threads", idx.opts.Threads),
		slog.Int("efC", idx.opts.EfConstruction),
		slog.Int("max_degree", idx.opts.MaxDegree))

	// The first point is linked on its own so that every worker starts from
	// a non-empty graph.
	if idx.Len() == 0 {
		if err := idx.Insert(pending[0]); err != nil {
			return fmt.Errorf("build: %w", err)
		}
		pending = pending[1:]
	}

	step := len(pending) / 10
	if step < 1 {
		step = 1
	}
	var next atomic.Int64
	next.Store(int64(step))

	result := idx.BatchInsert(pending, idx.opts.Threads, func(processed, total int) {
		mark := next.Load()
		if int64(processed) >= mark && next.CompareAndSwap(mark, mark+int64(step)) {
			idx.logger.Info("build progress",
				slog.Int("processed", processed),
				slog.Int("total", total),
				slog.Duration("elapsed", time.Since(start)))
		}
	})

	elapsed := time.Since(start)
	idx.recorder.ObserveBuild(elapsed, idx.Len())
	idx.logger.Info("index built",
		slog.Int("nodes", idx.Len()),
		slog.Duration("duration", elapsed),
		slog.Int("roots", idx.entries.rootCount()))

	if err := result.Err(); err != nil {
		return fmt.Errorf("build: %w", err)
	}
	return nil
}

// BuildIndex creates an index over ds and inserts every vector
func BuildIndex(ds Dataset, opts Options) (*Index, error) {
	idx, err := New(ds, opts)
	if err != nil {
		return nil, err
	}
	if err := idx.Build(); err != nil {
		return nil, err
	}
	return idx, nil
}

// BuildOrLoad loads the snapshot at path when reuse is set and the file
// exists; otherwise it builds a fresh index and, if path is not empty,
// saves it there. A snapshot that exists but cannot be loaded is an error
// unless opts.RebuildOnLoadError is set.
func BuildOrLoad(ds Dataset, opts Options, path string, reuse bool) (*Index, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	logger := opts.withDefaults().Logger

	if reuse && path != "" {
		if _, statErr := os.Stat(path); statErr == nil {
			idx, err := Load(path, ds, opts)
			if err == nil {
				return idx, nil
			}
			if !opts.RebuildOnLoadError {
				return nil, err
			}
			logger.Warn("failed to load index, rebuilding", slog.String("path", path), slog.Any("error", err))
		} else if !errors.Is(statErr, os.ErrNotExist) {
			return nil, &PersistenceError{Op: "load", Path: path, Err: statErr}
		}
	}

	idx, err := BuildIndex(ds, opts)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := idx.Save(path); err != nil {
			return nil, err
		}
	}
	return idx, nil
}
