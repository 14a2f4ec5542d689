package divgraph

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio"

	"github.com/therealutkarshpriyadarshi/lshapg/internal/codec"
	"github.com/therealutkarshpriyadarshi/lshapg/internal/parallel"
	"github.com/therealutkarshpriyadarshi/lshapg/pkg/lsh"
	"github.com/therealutkarshpriyadarshi/lshapg/pkg/metric"
)

// formatVersion is the snapshot layout written by Save
const formatVersion = 1

// Save writes a snapshot of the index to path, replacing any existing file
// atomically. Inserts are blocked while the snapshot is taken.
func (idx *Index) Save(path string) (err error) {
	start := time.Now()
	defer func() {
		idx.recorder.ObservePersist("save", time.Since(start), err)
	}()

	idx.snapshotMu.Lock()
	payload := idx.encode()
	idx.snapshotMu.Unlock()

	pf, err := renameio.TempFile(filepath.Dir(path), path)
	if err != nil {
		return &PersistenceError{Op: "save", Path: path, Err: err}
	}
	defer pf.Cleanup()

	if err := codec.WriteFrame(pf, formatVersion, idx.opts.Compression, payload); err != nil {
		return &PersistenceError{Op: "save", Path: path, Err: err}
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return &PersistenceError{Op: "save", Path: path, Err: err}
	}

	idx.logger.Info("index saved",
		slog.String("path", path),
		slog.Int("nodes", idx.Len()),
		slog.Int("bytes", len(payload)),
		slog.String("compression", idx.opts.Compression.String()),
		slog.Duration("duration", time.Since(start)))
	return nil
}

func (idx *Index) encode() []byte {
	o := idx.opts
	b := codec.NewBuffer(64 + idx.Len()*(16+o.MaxDegree*9+o.L*o.K*8))

	b.PutUint32(uint32(idx.dim))
	b.PutString(idx.metric.Name)
	b.PutFloat64(o.C)
	b.PutUint32(uint32(o.TopK))
	b.PutUint32(uint32(o.L))
	b.PutUint32(uint32(o.K))
	b.PutFloat64(o.W)
	b.PutUint64(o.Seed)
	b.PutUint32(uint32(o.EfConstruction))
	b.PutUint32(uint32(idx.Ef()))
	b.PutFloat64(o.PC)
	b.PutFloat64(o.PQ)
	b.PutFloat64(o.Beta)
	b.PutUint32(uint32(o.MaxDegree))
	b.PutBool(o.KeepPruned)

	proj, offsets := idx.hasher.Projections()
	b.PutFloat32s(proj)
	b.PutFloat32s(offsets)

	b.PutUint64(idx.order.Load())
	b.PutUint64(uint64(idx.comparisons.Load()))
	b.PutUint64(uint64(idx.inserts.Load()))

	roots, extras, next := idx.entries.state()
	b.PutUint32s(roots)
	b.PutUint32s(extras)
	b.PutUint32(uint32(next))

	b.PutUint32(uint32(idx.Len()))
	idx.nodes.each(func(n *node) {
		b.PutUint32(n.id)
		b.PutUint64(n.order)
		b.PutInt32s(n.sig.Codes)
		b.PutFloat32s(n.sig.Proj)
		list := n.neighbors()
		b.PutUint16(uint16(len(list)))
		for _, nb := range list {
			b.PutUint32(nb.ID)
			b.PutFloat32(nb.Dist)
			b.PutBool(nb.Pinned)
		}
	})
	return b.Bytes()
}

// Load reads a snapshot written by Save and attaches it to ds. The
// structural parameters stored in the file (L, K, W, seed, c, max degree,
// metric) must match opts; runtime settings such as threads, logger and
// recorder are taken from opts, and the default ef saved with the snapshot
// replaces opts.Ef. Every failure is a *PersistenceError.
func Load(path string, ds Dataset, opts Options) (idx *Index, err error) {
	start := time.Now()
	if ds == nil {
		return nil, configErrorf("dataset", "nil")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	defer func() {
		opts.withDefaults().Recorder.ObservePersist("load", time.Since(start), err)
	}()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &PersistenceError{Op: "load", Path: path, Err: err}
	}
	_, payload, err := codec.ReadFrame(bytes.NewReader(data), formatVersion)
	if err != nil {
		return nil, &PersistenceError{Op: "load", Path: path, Err: err}
	}

	idx, err = decode(payload, ds, opts)
	if err != nil {
		return nil, &PersistenceError{Op: "load", Path: path, Err: err}
	}

	idx.recorder.SetNodes(idx.Len())
	idx.logger.Info("index loaded",
		slog.String("path", path),
		slog.Int("nodes", idx.Len()),
		slog.Duration("duration", time.Since(start)))
	return idx, nil
}

var errIncompatible = errors.New("incompatible snapshot")

func mismatch(field string, stored, active any) error {
	return fmt.Errorf("%w: %s is %v in the file but %v in the active configuration", errIncompatible, field, stored, active)
}

func decode(payload []byte, ds Dataset, opts Options) (*Index, error) {
	r := codec.NewReader(payload)

	dim := int(r.Uint32())
	metricName := r.String()
	c := r.Float64()
	r.Uint32() // k at save time
	l := int(r.Uint32())
	k := int(r.Uint32())
	w := r.Float64()
	seed := r.Uint64()
	r.Uint32() // efC at save time
	ef := int(r.Uint32())
	r.Float64() // pC at save time
	r.Float64() // pQ at save time
	r.Float64() // beta at save time
	maxDegree := int(r.Uint32())
	r.Bool() // keep-pruned at save time
	if err := r.Err(); err != nil {
		return nil, err
	}

	switch {
	case dim != ds.Dim():
		return nil, mismatch("dimension", dim, ds.Dim())
	case l != opts.L:
		return nil, mismatch("L", l, opts.L)
	case k != opts.K:
		return nil, mismatch("K", k, opts.K)
	case w != opts.W:
		return nil, mismatch("W", w, opts.W)
	case seed != opts.Seed:
		return nil, mismatch("seed", seed, opts.Seed)
	case c != opts.C:
		return nil, mismatch("c", c, opts.C)
	case maxDegree != opts.MaxDegree:
		return nil, mismatch("max degree", maxDegree, opts.MaxDegree)
	}
	m, err := metric.ByName(metricName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errIncompatible, err)
	}
	if active := opts.withDefaults().Metric.Name; active != m.Name {
		return nil, mismatch("metric", m.Name, active)
	}

	proj := r.Float32s()
	offsets := r.Float32s()
	if err := r.Err(); err != nil {
		return nil, err
	}
	hasher, err := lsh.Restore(dim, opts.LSHParams(), proj, offsets)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errIncompatible, err)
	}

	idx := newIndex(ds, opts, hasher)
	if ef >= opts.TopK {
		idx.ef.Store(int64(ef))
	}
	idx.order.Store(r.Uint64())
	idx.comparisons.Store(int64(r.Uint64()))
	idx.inserts.Store(int64(r.Uint64()))

	roots := r.Uint32s()
	extras := r.Uint32s()
	next := int(r.Uint32())
	if len(extras) > 0 && next >= len(extras) {
		next = 0
	}
	idx.entries.restore(roots, extras, next)

	count := int(r.Uint32())
	functions := l * k
	for i := 0; i < count; i++ {
		id := r.Uint32()
		n := newNode(id, lsh.Signature{})
		n.order = r.Uint64()
		n.sig.Codes = r.Int32s()
		n.sig.Proj = r.Float32s()
		degree := int(r.Uint16())
		if err := r.Err(); err != nil {
			return nil, err
		}
		if int(id) >= ds.Len() {
			return nil, fmt.Errorf("%w: node %d outside dataset of %d vectors", errIncompatible, id, ds.Len())
		}
		if len(n.sig.Codes) != functions || len(n.sig.Proj) != functions {
			return nil, fmt.Errorf("node %d has a malformed signature", id)
		}
		if degree > maxDegree {
			return nil, fmt.Errorf("node %d has degree %d above the bound %d", id, degree, maxDegree)
		}

		list := make([]neighbor, degree)
		for j := range list {
			list[j] = neighbor{ID: r.Uint32(), Dist: r.Float32(), Pinned: r.Bool()}
		}
		n.setNeighbors(list)
		n.settled.Store(true)
		if !idx.nodes.publish(n) {
			return nil, fmt.Errorf("node %d appears twice", id)
		}
		idx.tables.Add(id, n.sig)
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after the last node", r.Remaining())
	}

	// every edge and entry point must refer to a loaded node
	err = parallel.ForErr(idx.nodes.capacity(), opts.Threads, func(_, i int) error {
		n := idx.nodes.get(uint32(i))
		if n == nil {
			return nil
		}
		for _, nb := range n.neighbors() {
			if nb.ID == n.id || idx.nodes.get(nb.ID) == nil {
				return fmt.Errorf("node %d has an invalid edge to %d", n.id, nb.ID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, id := range idx.entries.snapshot() {
		if idx.nodes.get(id) == nil {
			return nil, fmt.Errorf("entry point %d is not a node", id)
		}
	}
	if idx.Len() > 0 && idx.entries.rootCount() == 0 {
		return nil, errors.New("snapshot has nodes but no entry point")
	}
	return idx, nil
}
