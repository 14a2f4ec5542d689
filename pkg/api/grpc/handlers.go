package grpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/therealutkarshpriyadarshi/lshapg/pkg/cache"
	"github.com/therealutkarshpriyadarshi/lshapg/pkg/divgraph"
	"github.com/therealutkarshpriyadarshi/lshapg/pkg/observability"
)

// Search implements the Search RPC
func (s *Server) Search(ctx context.Context, req *SearchRequest) (*SearchResponse, error) {
	start := time.Now()

	k, ef, err := s.searchParams(req.K, req.Ef)
	if err != nil {
		return nil, s.fail("Search", err)
	}
	if len(req.Vector) != s.index.Dim() {
		return nil, s.fail("Search", &divgraph.DimensionError{Expected: s.index.Dim(), Actual: len(req.Vector)})
	}

	key := cache.QueryKey(req.Vector, k, ef)
	if !req.NoCache {
		if results, ok := s.cache.Get(key); ok {
			return s.searchResponse(results, divgraph.SearchStats{}, true, start), nil
		}
	}

	gen := s.cache.Generation()
	results, st, err := s.index.Search(req.Vector, k, ef)
	if err != nil {
		return nil, s.fail("Search", err)
	}
	s.cache.Put(key, gen, results)

	return s.searchResponse(results, st, false, start), nil
}

// SearchByID implements the SearchByID RPC
func (s *Server) SearchByID(ctx context.Context, req *SearchByIDRequest) (*SearchResponse, error) {
	start := time.Now()

	k, ef, err := s.searchParams(req.K, req.Ef)
	if err != nil {
		return nil, s.fail("SearchByID", err)
	}
	results, st, err := s.index.SearchID(req.ID, k, ef)
	if err != nil {
		return nil, s.fail("SearchByID", err)
	}
	return s.searchResponse(results, st, false, start), nil
}

// searchParams fills in the index defaults for zero k and ef
func (s *Server) searchParams(k, ef int) (int, int, error) {
	if k < 0 || ef < 0 {
		return 0, 0, &divgraph.ConfigError{Field: "k", Reason: fmt.Sprintf("k=%d ef=%d (must be >= 0)", k, ef)}
	}
	if k == 0 {
		k = s.index.Options().TopK
	}
	if ef == 0 {
		ef = s.index.Ef()
	}
	if ef < k {
		ef = k
	}
	return k, ef, nil
}

func (s *Server) searchResponse(results []divgraph.Result, st divgraph.SearchStats, cached bool, start time.Time) *SearchResponse {
	resp := &SearchResponse{
		Results: make([]SearchResult, len(results)),
		Stats: SearchStats{
			Comparisons:   st.Comparisons,
			Visited:       st.Visited,
			Hops:          st.Hops,
			Pruned:        st.Pruned,
			LSHCandidates: st.LSHCandidates,
			Fallback:      st.Fallback,
		},
		Cached:    cached,
		LatencyMs: float64(time.Since(start).Microseconds()) / 1000,
	}
	for i, r := range results {
		resp.Results[i] = SearchResult{ID: r.ID, Distance: r.Distance}
	}
	if s.metrics != nil {
		s.metrics.RecordSearchResults(len(results))
	}
	return resp
}

// Insert implements the Insert RPC
func (s *Server) Insert(ctx context.Context, req *InsertRequest) (*InsertResponse, error) {
	var id uint32
	switch {
	case req.ID != nil && len(req.Vector) > 0:
		return nil, status.Error(codes.InvalidArgument, "set either vector or id, not both")
	case req.ID != nil:
		id = *req.ID
	default:
		var err error
		if id, err = s.appendVector(req.Vector); err != nil {
			return nil, s.fail("Insert", err)
		}
	}

	if err := s.index.Insert(id); err != nil {
		if req.ID == nil {
			s.logger.Warn("appended vector was not linked",
				slog.Any("orphan_id", id),
				slog.Any("error", err))
		}
		return nil, s.fail("Insert", err)
	}
	s.cache.Invalidate()

	return &InsertResponse{ID: id}, nil
}

// BatchInsert implements the BatchInsert RPC
func (s *Server) BatchInsert(ctx context.Context, req *BatchInsertRequest) (*BatchInsertResponse, error) {
	if len(req.Vectors) == 0 && len(req.IDs) == 0 {
		return nil, status.Error(codes.InvalidArgument, "no vectors or ids to insert")
	}
	if req.Threads < 0 {
		return nil, s.fail("BatchInsert", &divgraph.ConfigError{Field: "T", Reason: fmt.Sprintf("%d (must be >= 0)", req.Threads)})
	}

	ids := make([]uint32, 0, len(req.Vectors)+len(req.IDs))
	for i, vec := range req.Vectors {
		if len(vec) != s.index.Dim() {
			return nil, s.fail("BatchInsert", fmt.Errorf("vector %d: %w", i, &divgraph.DimensionError{Expected: s.index.Dim(), Actual: len(vec)}))
		}
	}
	for _, vec := range req.Vectors {
		id, err := s.appendVector(vec)
		if err != nil {
			return nil, s.fail("BatchInsert", err)
		}
		ids = append(ids, id)
	}
	appended := len(ids)
	ids = append(ids, req.IDs...)

	result := s.index.BatchInsert(ids, req.Threads, nil)
	if result.SuccessCount > 0 {
		s.cache.Invalidate()
	}
	if result.FailureCount > 0 {
		var orphans []uint32
		for _, id := range ids[:appended] {
			if !s.index.Contains(id) {
				orphans = append(orphans, id)
			}
		}
		s.logger.Warn("batch insert had failures",
			slog.Int("inserted", result.SuccessCount),
			slog.Int("failed", result.FailureCount),
			slog.Any("orphan_ids", orphans),
			slog.Any("first_error", result.Errors[0]))
	}

	resp := &BatchInsertResponse{
		IDs:        ids,
		Inserted:   result.SuccessCount,
		Failed:     result.FailureCount,
		DurationMs: float64(result.Duration.Microseconds()) / 1000,
	}
	for _, err := range result.Errors {
		resp.Errors = append(resp.Errors, err.Error())
	}
	return resp, nil
}

func (s *Server) appendVector(vec []float32) (uint32, error) {
	if s.data == nil {
		return 0, status.Error(codes.FailedPrecondition, "the dataset is read-only; insert stored vectors by id")
	}
	if len(vec) != s.index.Dim() {
		return 0, &divgraph.DimensionError{Expected: s.index.Dim(), Actual: len(vec)}
	}
	return s.data.Append(vec)
}

// Stats implements the Stats RPC
func (s *Server) Stats(ctx context.Context, req *StatsRequest) (*StatsResponse, error) {
	st := s.index.Stats()
	cs := s.cache.Stats()
	opts := s.index.Options()

	return &StatsResponse{
		Nodes:         st.Nodes,
		DatasetSize:   s.index.Dataset().Len(),
		Dimensions:    s.index.Dim(),
		Metric:        opts.Metric.Name,
		Edges:         st.Edges,
		AvgDegree:     st.AvgDegree,
		MaxDegree:     st.MaxDegree,
		EntryPoints:   st.EntryPoints,
		Buckets:       st.Buckets,
		Ef:            s.index.Ef(),
		TopK:          opts.TopK,
		Comparisons:   st.Comparisons,
		Searches:      st.Searches,
		Fallbacks:     st.Fallbacks,
		CacheHits:     cs.Hits,
		CacheMisses:   cs.Misses,
		CacheHitRate:  cs.HitRate,
		UptimeSeconds: s.Uptime().Seconds(),
	}, nil
}

// Save implements the Save RPC
func (s *Server) Save(ctx context.Context, req *SaveRequest) (*SaveResponse, error) {
	start := time.Now()
	path, err := s.snapshotPath(req.Path)
	if err != nil {
		return nil, s.fail("Save", err)
	}
	if err := s.index.Save(path); err != nil {
		return nil, s.fail("Save", err)
	}
	return &SaveResponse{Path: path, DurationMs: float64(time.Since(start).Microseconds()) / 1000}, nil
}

// snapshotPath resolves a client-supplied snapshot path. Relative paths are
// taken from the data directory and the result must stay inside it.
func (s *Server) snapshotPath(p string) (string, error) {
	if p == "" {
		return s.config.Storage.IndexPath(), nil
	}
	root := filepath.Clean(s.config.Storage.DataDir)
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	p = filepath.Clean(p)

	rel, err := filepath.Rel(root, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", status.Errorf(codes.InvalidArgument, "snapshot path %q is outside the data directory", p)
	}
	return p, nil
}

// SetEf implements the SetEf RPC
func (s *Server) SetEf(ctx context.Context, req *SetEfRequest) (*SetEfResponse, error) {
	if err := s.index.SetEf(req.Ef); err != nil {
		return nil, s.fail("SetEf", err)
	}
	s.logger.Info("default ef changed", slog.Int("ef", req.Ef))
	return &SetEfResponse{Ef: s.index.Ef()}, nil
}

// fail records err against method and converts it to a status error
func (s *Server) fail(method string, err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	if s.metrics != nil {
		s.metrics.RecordError(method, observability.ErrorType(err))
	}
	return toStatus(err)
}

// toStatus maps index errors onto gRPC codes
func toStatus(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, divgraph.ErrConfiguration), errors.Is(err, divgraph.ErrDimensionMismatch):
		code = codes.InvalidArgument
	case errors.Is(err, divgraph.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, divgraph.ErrAlreadyInserted):
		code = codes.AlreadyExists
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}
