package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/coder/hnsw"

	"github.com/therealutkarshpriyadarshi/lshapg/pkg/dataset"
	"github.com/therealutkarshpriyadarshi/lshapg/pkg/divgraph"
	"github.com/therealutkarshpriyadarshi/lshapg/pkg/metric"
)

// row is one line of the evaluation table. Per-query averages throughout.
type row struct {
	Algorithm string
	K, Ef     int
	Time      time.Duration
	Recall    float64
	Cost      float64 // distance computations
	CPQ1      float64 // nodes visited
	CPQ2      float64 // LSH candidates
	Pruning   float64 // share of neighbors skipped by the projected-distance test
}

func evaluateDivGraph(idx *divgraph.Index, queries *dataset.Memory, truth dataset.Truth, k int, ladder []int) []row {
	rows := make([]row, 0, len(ladder))
	for _, ef := range ladder {
		if ef < k {
			continue
		}
		r := row{Algorithm: "divGraph", K: k, Ef: ef}
		var pruned, examined int64

		start := time.Now()
		for q := 0; q < queries.Len(); q++ {
			res, st, err := idx.Search(queries.Vector(uint32(q)), k, ef)
			if err != nil {
				continue
			}
			r.Recall += dataset.Recall(divgraph.IDs(res), truth.GroundTruth(q), k)
			r.Cost += float64(st.Comparisons)
			r.CPQ1 += float64(st.Visited)
			r.CPQ2 += float64(st.LSHCandidates)
			pruned += int64(st.Pruned)
			examined += int64(st.Pruned) + st.Comparisons
		}
		r.Time = time.Since(start)

		r.average(queries.Len())
		if examined > 0 {
			r.Pruning = float64(pruned) / float64(examined)
		}
		rows = append(rows, r)
	}
	return rows
}

func (r *row) average(n int) {
	if n == 0 {
		return
	}
	f := float64(n)
	r.Time /= time.Duration(n)
	r.Recall /= f
	r.Cost /= f
	r.CPQ1 /= f
	r.CPQ2 /= f
}

// hnswBaseline is a coder/hnsw graph over the same vectors, with the
// distance function wrapped to count comparisons
type hnswBaseline struct {
	graph *hnsw.Graph[uint32]
	calls atomic.Int64
}

func buildHNSW(base *dataset.Memory, m metric.Metric, degree, efc int) *hnswBaseline {
	b := &hnswBaseline{graph: hnsw.NewGraph[uint32]()}
	b.graph.M = max(degree/2, 4)
	b.graph.EfSearch = efc
	b.graph.Distance = func(x, y []float32) float32 {
		b.calls.Add(1)
		return m.Fn(x, y)
	}

	for id := 0; id < base.Len(); id++ {
		b.graph.Add(hnsw.MakeNode(uint32(id), base.Vector(uint32(id))))
	}
	return b
}

func (b *hnswBaseline) evaluate(queries *dataset.Memory, truth dataset.Truth, k int, ladder []int) []row {
	rows := make([]row, 0, len(ladder))
	for _, ef := range ladder {
		if ef < k {
			continue
		}
		b.graph.EfSearch = ef
		r := row{Algorithm: "HNSW", K: k, Ef: ef}

		b.calls.Store(0)
		start := time.Now()
		for q := 0; q < queries.Len(); q++ {
			nodes := b.graph.Search(queries.Vector(uint32(q)), k)
			ids := make([]uint32, len(nodes))
			for i, n := range nodes {
				ids[i] = n.Key
			}
			r.Recall += dataset.Recall(ids, truth.GroundTruth(q), k)
		}
		r.Time = time.Since(start)
		r.Cost = float64(b.calls.Load())

		r.average(queries.Len())
		rows = append(rows, r)
	}
	return rows
}

const rule = "******************************************************************************************************"

func printTable(w io.Writer, rows []row) {
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "%-18s%-8s%-7s%-13s%-12s%-12s%-12s%-11s%-12s\n",
		"Algorithm", "k", "ef", "Time(ms)", "Recall", "Cost", "CPQ1", "CPQ2", "Pruning")
	fmt.Fprintln(w, rule)
	for _, r := range rows {
		fmt.Fprintf(w, "%-18s%-8d%-7d%-13.4f%-12.4f%-12.1f%-12.1f%-11.1f%-12.4f\n",
			r.Algorithm, r.K, r.Ef, float64(r.Time.Microseconds())/1000, r.Recall, r.Cost, r.CPQ1, r.CPQ2, r.Pruning)
	}
}

func writeCSV(path string, rows []row) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	w.Write([]string{"algorithm", "k", "ef", "time_ms", "recall", "cost", "cpq1", "cpq2", "pruning"})
	for _, r := range rows {
		w.Write([]string{
			r.Algorithm,
			strconv.Itoa(r.K),
			strconv.Itoa(r.Ef),
			strconv.FormatFloat(float64(r.Time.Microseconds())/1000, 'f', 4, 64),
			strconv.FormatFloat(r.Recall, 'f', 4, 64),
			strconv.FormatFloat(r.Cost, 'f', 1, 64),
			strconv.FormatFloat(r.CPQ1, 'f', 1, 64),
			strconv.FormatFloat(r.CPQ2, 'f', 1, 64),
			strconv.FormatFloat(r.Pruning, 'f', 4, 64),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
