package observability

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/therealutkarshpriyadarshi/lshapg/pkg/divgraph"
)

// Metrics holds all Prometheus metrics for the index service. It
// implements divgraph.Recorder so an index can report into it directly.
type Metrics struct {
	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestErrors   *prometheus.CounterVec

	// Index operation metrics
	InsertsTotal   *prometheus.CounterVec
	InsertDuration prometheus.Histogram
	BuildsTotal    prometheus.Counter
	BuildDuration  prometheus.Histogram
	IndexNodes     prometheus.Gauge

	// Search metrics
	SearchLatency     prometheus.Histogram
	SearchComparisons prometheus.Histogram
	SearchVisited     prometheus.Histogram
	SearchPruned      prometheus.Counter
	SearchFallbacks   prometheus.Counter
	SearchResultSize  prometheus.Histogram
	LSHCandidates     prometheus.Histogram

	// Persistence metrics
	PersistTotal    *prometheus.CounterVec
	PersistDuration *prometheus.HistogramVec

	// Cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
	CacheSize   prometheus.Gauge

	// System metrics
	GoroutinesCount prometheus.Gauge
	MemoryUsage     prometheus.Gauge
}

var _ divgraph.Recorder = (*Metrics)(nil)

// NewMetrics creates the metrics and registers them with reg. A nil reg
// uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lshapg_requests_total",
				Help: "Total number of requests by method and status",
			},
			[]string{"method", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lshapg_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"method"},
		),
		RequestErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lshapg_request_errors_total",
				Help: "Total number of request errors by method and error type",
			},
			[]string{"method", "error_type"},
		),

		InsertsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lshapg_inserts_total",
				Help: "Total number of insert operations by status",
			},
			[]string{"status"},
		),
		InsertDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lshapg_insert_duration_seconds",
				Help:    "Insert latency in seconds",
				Buckets: []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05, .1},
			},
		),
		BuildsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "lshapg_builds_total",
				Help: "Total number of index builds",
			},
		),
		BuildDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lshapg_build_duration_seconds",
				Help:    "Index build duration in seconds",
				Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 300, 900, 3600},
			},
		),
		IndexNodes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "lshapg_index_nodes",
				Help: "Number of vectors linked into the graph",
			},
		),

		SearchLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lshapg_search_latency_seconds",
				Help:    "Search latency in seconds",
				Buckets: []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05, .1, .25},
			},
		),
		SearchComparisons: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lshapg_search_comparisons",
				Help:    "Exact distance computations per search",
				Buckets: prometheus.ExponentialBuckets(16, 2, 12),
			},
		),
		SearchVisited: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lshapg_search_visited",
				Help:    "Nodes visited per search",
				Buckets: prometheus.ExponentialBuckets(16, 2, 12),
			},
		),
		SearchPruned: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "lshapg_search_pruned_total",
				Help: "Neighbors skipped by the projected-distance test",
			},
		),
		SearchFallbacks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "lshapg_search_fallbacks_total",
				Help: "Searches seeded only from entry points because no LSH bucket matched",
			},
		),
		SearchResultSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lshapg_search_result_size",
				Help:    "Number of results returned by search",
				Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
			},
		),
		LSHCandidates: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lshapg_lsh_candidates",
				Help:    "LSH candidates used to seed each search",
				Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64},
			},
		),

		PersistTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lshapg_persist_total",
				Help: "Total number of save and load operations by status",
			},
			[]string{"op", "status"},
		),
		PersistDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lshapg_persist_duration_seconds",
				Help:    "Save and load duration in seconds",
				Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60},
			},
			[]string{"op"},
		),

		CacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "lshapg_cache_hits_total",
				Help: "Total number of cache hits",
			},
		),
		CacheMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "lshapg_cache_misses_total",
				Help: "Total number of cache misses",
			},
		),
		CacheSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "lshapg_cache_size",
				Help: "Current number of entries in cache",
			},
		),

		GoroutinesCount: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "lshapg_goroutines",
				Help: "Current number of goroutines",
			},
		),
		MemoryUsage: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "lshapg_memory_bytes",
				Help: "Heap memory in use in bytes",
			},
		),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordRequest records a request with duration and status
func (m *Metrics) RecordRequest(method, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, status).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordError records an error
func (m *Metrics) RecordError(method, errorType string) {
	m.RequestErrors.WithLabelValues(method, errorType).Inc()
}

// ErrorType classifies an index error for the error_type label
func ErrorType(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, divgraph.ErrConfiguration):
		return "configuration"
	case errors.Is(err, divgraph.ErrNotFound):
		return "not_found"
	case errors.Is(err, divgraph.ErrDimensionMismatch):
		return "dimension_mismatch"
	case errors.Is(err, divgraph.ErrAlreadyInserted):
		return "already_inserted"
	case errors.Is(err, divgraph.ErrPersistence):
		return "persistence"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "internal"
	}
}

// ObserveInsert records one insert
func (m *Metrics) ObserveInsert(d time.Duration, err error) {
	m.InsertsTotal.WithLabelValues(status(err)).Inc()
	m.InsertDuration.Observe(d.Seconds())
}

// ObserveSearch records one search and its cost
func (m *Metrics) ObserveSearch(d time.Duration, st divgraph.SearchStats) {
	m.SearchLatency.Observe(d.Seconds())
	m.SearchComparisons.Observe(float64(st.Comparisons))
	m.SearchVisited.Observe(float64(st.Visited))
	m.SearchPruned.Add(float64(st.Pruned))
	m.LSHCandidates.Observe(float64(st.LSHCandidates))
	if st.Fallback {
		m.SearchFallbacks.Inc()
	}
}

// ObserveBuild records a completed build
func (m *Metrics) ObserveBuild(d time.Duration, nodes int) {
	m.BuildsTotal.Inc()
	m.BuildDuration.Observe(d.Seconds())
	m.IndexNodes.Set(float64(nodes))
}

// ObservePersist records a save or load
func (m *Metrics) ObservePersist(op string, d time.Duration, err error) {
	m.PersistTotal.WithLabelValues(op, status(err)).Inc()
	m.PersistDuration.WithLabelValues(op).Observe(d.Seconds())
}

// SetNodes updates the node gauge
func (m *Metrics) SetNodes(n int) {
	m.IndexNodes.Set(float64(n))
}

// RecordSearchResults records the size of a result set
func (m *Metrics) RecordSearchResults(n int) {
	m.SearchResultSize.Observe(float64(n))
}

// RecordCacheHit records a cache hit
func (m *Metrics) RecordCacheHit() {
	m.CacheHits.Inc()
}

// RecordCacheMiss records a cache miss
func (m *Metrics) RecordCacheMiss() {
	m.CacheMisses.Inc()
}

// UpdateCacheSize updates cache size
func (m *Metrics) UpdateCacheSize(size int) {
	m.CacheSize.Set(float64(size))
}

// UpdateRuntime samples goroutine count and heap usage
func (m *Metrics) UpdateRuntime() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.GoroutinesCount.Set(float64(runtime.NumGoroutine()))
	m.MemoryUsage.Set(float64(ms.HeapAlloc))
}

// CollectRuntime calls UpdateRuntime every interval until ctx is done
func (m *Metrics) CollectRuntime(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.UpdateRuntime()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.UpdateRuntime()
		}
	}
}
