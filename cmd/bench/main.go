// Command bench builds a divGraph index over a dataset, replays the
// incremental-insert experiment and reports recall and cost over an ef
// ladder, optionally next to an HNSW baseline.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/lshapg/pkg/dataset"
	"github.com/therealutkarshpriyadarshi/lshapg/pkg/divgraph"
	"github.com/therealutkarshpriyadarshi/lshapg/pkg/metric"
	"github.com/therealutkarshpriyadarshi/lshapg/pkg/observability"
)

type benchConfig struct {
	base    string
	queries string
	truth   string
	limit   int

	n, nq, dim, clusters int
	seed                 uint64

	index   string
	reuse   bool
	metric  string
	c       float64
	k       int
	l, kf   int
	w       float64
	threads int
	efc     int
	pc, pq  float64
	beta    float64
	degree  int

	ladder      []int
	batchSize   int
	incremental bool
	baseline    bool
	csv         string
}

func main() {
	cfg := benchConfig{}
	var ladder, logLevel string

	flag.StringVar(&cfg.base, "base", "", "base vectors (.fvecs, .bvecs, .parquet); synthetic data when empty")
	flag.StringVar(&cfg.queries, "queries", "", "query vectors; the first -nq base vectors when empty")
	flag.StringVar(&cfg.truth, "truth", "", "ground truth (.ivecs); computed by brute force when empty")
	flag.IntVar(&cfg.limit, "limit", 0, "read at most this many base vectors (0 reads all)")
	flag.IntVar(&cfg.n, "n", 20000, "synthetic base size")
	flag.IntVar(&cfg.nq, "nq", 100, "number of queries")
	flag.IntVar(&cfg.dim, "dim", 64, "synthetic dimension")
	flag.IntVar(&cfg.clusters, "clusters", 32, "synthetic cluster count (0 draws uniform vectors)")
	flag.Uint64Var(&cfg.seed, "seed", 1, "random seed")

	flag.StringVar(&cfg.index, "index", "", "index snapshot path; saved after a fresh build")
	flag.BoolVar(&cfg.reuse, "reuse", false, "load -index instead of building when it exists")
	flag.StringVar(&cfg.metric, "metric", "l2sqr", "distance metric (l2sqr, l2, ip, cosine)")
	flag.Float64Var(&cfg.c, "c", 1.5, "approximation factor")
	flag.IntVar(&cfg.k, "k", 50, "neighbors per query")
	flag.IntVar(&cfg.l, "L", 2, "hash tables")
	flag.IntVar(&cfg.kf, "K", 18, "hash functions per table")
	flag.Float64Var(&cfg.w, "W", 1.0, "bucket width")
	flag.IntVar(&cfg.threads, "T", runtime.NumCPU(), "construction threads")
	flag.IntVar(&cfg.efc, "efc", 80, "construction beam width")
	flag.Float64Var(&cfg.pc, "pc", 0.95, "construction pruning confidence")
	flag.Float64Var(&cfg.pq, "pq", 0.9, "query pruning confidence")
	flag.Float64Var(&cfg.beta, "beta", 0.1, "LSH seed weight")
	flag.IntVar(&cfg.degree, "degree", 24, "maximum out-degree")

	flag.StringVar(&ladder, "ef", "50,60,80,100,150,200,300,400", "comma-separated query beam widths")
	flag.IntVar(&cfg.batchSize, "batch", 3000, "incremental experiment batch size")
	flag.BoolVar(&cfg.incremental, "incremental", true, "run the incremental-insert experiment")
	flag.BoolVar(&cfg.baseline, "hnsw", true, "evaluate an HNSW baseline on the same data")
	flag.StringVar(&cfg.csv, "csv", "", "also write the evaluation table to this CSV file")
	flag.StringVar(&logLevel, "log-level", "info", "log level")
	flag.Parse()

	level, err := observability.ParseLogLevel(logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger, _ := observability.NewLogger(observability.LoggerConfig{Level: level, Output: os.Stderr})

	cfg.ladder, err = parseLadder(ladder)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -ef: %v\n", err)
		os.Exit(2)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("benchmark failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg benchConfig, logger *slog.Logger) error {
	m, err := metric.ByName(cfg.metric)
	if err != nil {
		return err
	}

	fmt.Println("*** Loading dataset ***")
	start := time.Now()
	base, queries, truth, err := prepare(cfg, m)
	if err != nil {
		return err
	}
	prepTime := time.Since(start)
	fmt.Printf("Base: %d x %d, queries: %d, k = %d (%.2fs)\n", base.Len(), base.Dim(), queries.Len(), cfg.k, prepTime.Seconds())

	opts := divgraph.DefaultOptions()
	opts.C = cfg.c
	opts.TopK = cfg.k
	opts.L, opts.K, opts.W = cfg.l, cfg.kf, cfg.w
	opts.Seed = cfg.seed
	opts.Threads = cfg.threads
	opts.EfConstruction = cfg.efc
	opts.Ef = max(cfg.efc, cfg.k)
	opts.PC, opts.PQ = cfg.pc, cfg.pq
	opts.Beta = cfg.beta
	opts.MaxDegree = cfg.degree
	opts.Metric = m
	opts.Logger = logger

	fmt.Println("\n*** Graph Construction ***")
	fmt.Printf("c = %g, L = %d, K = %d, W = %g, T = %d, efC = %d, pC = %g, pQ = %g, degree = %d\n",
		opts.C, opts.L, opts.K, opts.W, opts.Threads, opts.EfConstruction, opts.PC, opts.PQ, opts.MaxDegree)

	start = time.Now()
	idx, err := divgraph.BuildOrLoad(base, opts, cfg.index, cfg.reuse)
	if err != nil {
		return err
	}
	buildTime := time.Since(start)
	fmt.Printf("Graph ready in %.2fs: %s\n", buildTime.Seconds(), idx.Stats())

	var incTime time.Duration
	if cfg.incremental {
		fmt.Println("\n*** Incremental Graph Construction ***")
		incTime, err = incremental(base, opts, cfg)
		if err != nil {
			return err
		}
	}

	fmt.Println("\n*** Evaluating Graph ***")
	rows := evaluateDivGraph(idx, queries, truth, cfg.k, cfg.ladder)

	if cfg.baseline {
		start = time.Now()
		hnswIdx := buildHNSW(base, m, cfg.degree, cfg.efc)
		logger.Info("hnsw baseline built", slog.Duration("duration", time.Since(start)))
		rows = append(rows, hnswIdx.evaluate(queries, truth, cfg.k, cfg.ladder)...)
	}

	printTable(os.Stdout, rows)
	if cfg.csv != "" {
		if err := writeCSV(cfg.csv, rows); err != nil {
			return err
		}
		fmt.Printf("\nTable written to %s\n", cfg.csv)
	}

	st := idx.Stats()
	fmt.Println("\n*** Summary ***")
	fmt.Printf("Total Preprocessing Time: %.2fs\n", prepTime.Seconds())
	fmt.Printf("Total Graph Construction Time: %.2fs\n", buildTime.Seconds())
	if cfg.incremental {
		fmt.Printf("Incremental Construction Time: %.2fs\n", incTime.Seconds())
	}
	fmt.Printf("Searches: %d, fallbacks: %d, comparisons: %d\n", st.Searches, st.Fallbacks, st.Comparisons)
	fmt.Printf("Current ef value: %d\n", idx.Ef())
	return nil
}

// prepare loads or generates the base set, queries and ground truth
func prepare(cfg benchConfig, m metric.Metric) (base, queries *dataset.Memory, truth dataset.Truth, err error) {
	switch {
	case cfg.base != "":
		base, err = dataset.Open(cfg.base, cfg.limit)
	case cfg.clusters > 0:
		base = dataset.Clustered(cfg.n+cfg.nq, cfg.dim, cfg.clusters, 1, cfg.seed)
	default:
		base = dataset.Uniform(cfg.n+cfg.nq, cfg.dim, cfg.seed)
	}
	if err != nil {
		return nil, nil, nil, err
	}

	if cfg.queries != "" {
		queries, err = dataset.Open(cfg.queries, cfg.nq)
		if err != nil {
			return nil, nil, nil, err
		}
	} else {
		// hold out the tail of the base set as queries
		nq := min(cfg.nq, base.Len()/2)
		if queries, err = dataset.Slice(base, base.Len()-nq, base.Len()); err != nil {
			return nil, nil, nil, err
		}
		if base, err = dataset.Slice(base, 0, base.Len()-nq); err != nil {
			return nil, nil, nil, err
		}
	}
	if queries.Dim() != base.Dim() {
		return nil, nil, nil, &divgraph.DimensionError{Expected: base.Dim(), Actual: queries.Dim()}
	}

	if cfg.truth != "" {
		truth, err = dataset.ReadIvecs(cfg.truth)
		if err != nil {
			return nil, nil, nil, err
		}
		if len(truth) < queries.Len() {
			return nil, nil, nil, fmt.Errorf("ground truth has %d lists for %d queries", len(truth), queries.Len())
		}
		return base, queries, truth, nil
	}
	return base, queries, dataset.BruteForce(base, queries, cfg.k, m, cfg.threads), nil
}

// incremental inserts a shuffled id list into a fresh index in batches and
// reports the throughput of each batch
func incremental(base *dataset.Memory, opts divgraph.Options, cfg benchConfig) (time.Duration, error) {
	opts.Logger = nil
	idx, err := divgraph.New(base, opts)
	if err != nil {
		return 0, err
	}

	ids := dataset.Shuffled(base.Len(), cfg.seed)
	start := time.Now()
	total := 0
	for lo, batch := 0, 1; lo < len(ids); lo, batch = lo+cfg.batchSize, batch+1 {
		hi := min(lo+cfg.batchSize, len(ids))
		fmt.Printf("%s - Processing batch %d...\n", time.Now().Format(time.DateTime), batch)

		res := idx.BatchInsert(ids[lo:hi], opts.Threads, nil)
		if err := res.Err(); err != nil {
			return 0, err
		}
		total += res.SuccessCount
		fmt.Printf("%s - Batch completed in %.3f milliseconds. Total inserted: %d\n",
			time.Now().Format(time.DateTime), float64(res.Duration.Microseconds())/1000, total)
	}
	elapsed := time.Since(start)
	fmt.Printf("Incremental Time: %.2fs (%.0f inserts/s)\n", elapsed.Seconds(), float64(total)/elapsed.Seconds())
	return elapsed, nil
}

func parseLadder(s string) ([]int, error) {
	var out []int
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		ef, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		if ef < 1 {
			return nil, fmt.Errorf("ef %d must be positive", ef)
		}
		out = append(out, ef)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty ladder")
	}
	return out, nil
}
