package grpc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified name of the Index service
const ServiceName = "lshapg.v1.Index"

// SearchRequest asks for the k nearest neighbors of Vector. Zero K and Ef
// use the index defaults.
type SearchRequest struct {
	Vector  []float32 `json:"vector"`
	K       int       `json:"k,omitempty"`
	Ef      int       `json:"ef,omitempty"`
	NoCache bool      `json:"no_cache,omitempty"`
}

// SearchByIDRequest searches with a stored vector as the query
type SearchByIDRequest struct {
	ID uint32 `json:"id"`
	K  int    `json:"k,omitempty"`
	Ef int    `json:"ef,omitempty"`
}

// SearchResult is one neighbor
type SearchResult struct {
	ID       uint32  `json:"id"`
	Distance float32 `json:"distance"`
}

// SearchStats reports the work done by one search
type SearchStats struct {
	Comparisons   int64 `json:"comparisons"`
	Visited       int   `json:"visited"`
	Hops          int   `json:"hops"`
	Pruned        int   `json:"pruned"`
	LSHCandidates int   `json:"lsh_candidates"`
	Fallback      bool  `json:"fallback"`
}

// SearchResponse holds the neighbors, closest first
type SearchResponse struct {
	Results   []SearchResult `json:"results"`
	Stats     SearchStats    `json:"stats"`
	Cached    bool           `json:"cached,omitempty"`
	LatencyMs float64        `json:"latency_ms"`
}

// InsertRequest appends Vector to the dataset and links it. When ID is
// set instead, the vector already stored under that id is linked. If
// linking fails after the append, the row stays in the dataset unlinked
// and can be retried by id.
type InsertRequest struct {
	Vector []float32 `json:"vector,omitempty"`
	ID     *uint32   `json:"id,omitempty"`
}

// InsertResponse carries the id the vector was linked under
type InsertResponse struct {
	ID uint32 `json:"id"`
}

// BatchInsertRequest appends Vectors and links them together with the
// stored vectors listed in IDs. Appended rows that fail to link stay in
// the dataset and are logged as orphans.
type BatchInsertRequest struct {
	Vectors [][]float32 `json:"vectors,omitempty"`
	IDs     []uint32    `json:"ids,omitempty"`
	Threads int         `json:"threads,omitempty"`
}

// BatchInsertResponse reports a batch; a failed id does not fail the call
type BatchInsertResponse struct {
	IDs        []uint32 `json:"ids"`
	Inserted   int      `json:"inserted"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors,omitempty"`
	DurationMs float64  `json:"duration_ms"`
}

type StatsRequest struct{}

type StatsResponse struct {
	Nodes         int     `json:"nodes"`
	DatasetSize   int     `json:"dataset_size"`
	Dimensions    int     `json:"dimensions"`
	Metric        string  `json:"metric"`
	Edges         int     `json:"edges"`
	AvgDegree     float64 `json:"avg_degree"`
	MaxDegree     int     `json:"max_degree"`
	EntryPoints   int     `json:"entry_points"`
	Buckets       int     `json:"buckets"`
	Ef            int     `json:"ef"`
	TopK          int     `json:"k"`
	Comparisons   int64   `json:"comparisons"`
	Searches      int64   `json:"searches"`
	Fallbacks     int64   `json:"fallbacks"`
	CacheHits     int64   `json:"cache_hits"`
	CacheMisses   int64   `json:"cache_misses"`
	CacheHitRate  float64 `json:"cache_hit_rate"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// SaveRequest writes a snapshot to Path, or to the configured index file
// when Path is empty. Path is resolved against the data directory and
// must not leave it.
type SaveRequest struct {
	Path string `json:"path,omitempty"`
}

type SaveResponse struct {
	Path       string  `json:"path"`
	DurationMs float64 `json:"duration_ms"`
}

// SetEfRequest changes the default query beam width
type SetEfRequest struct {
	Ef int `json:"ef"`
}

type SetEfResponse struct {
	Ef int `json:"ef"`
}

// IndexServer is the server API of the Index service
type IndexServer interface {
	Search(context.Context, *SearchRequest) (*SearchResponse, error)
	SearchByID(context.Context, *SearchByIDRequest) (*SearchResponse, error)
	Insert(context.Context, *InsertRequest) (*InsertResponse, error)
	BatchInsert(context.Context, *BatchInsertRequest) (*BatchInsertResponse, error)
	Stats(context.Context, *StatsRequest) (*StatsResponse, error)
	Save(context.Context, *SaveRequest) (*SaveResponse, error)
	SetEf(context.Context, *SetEfRequest) (*SetEfResponse, error)
}

func unary[Req, Resp any](method string, call func(IndexServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(IndexServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(IndexServer), ctx, req.(*Req))
			})
		},
	}
}

// ServiceDesc describes the Index service for grpc.Server.RegisterService
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IndexServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Search", IndexServer.Search),
		unary("SearchByID", IndexServer.SearchByID),
		unary("Insert", IndexServer.Insert),
		unary("BatchInsert", IndexServer.BatchInsert),
		unary("Stats", IndexServer.Stats),
		unary("Save", IndexServer.Save),
		unary("SetEf", IndexServer.SetEf),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "lshapg/v1/index",
}

// RegisterIndexServer registers srv on s
func RegisterIndexServer(s grpc.ServiceRegistrar, srv IndexServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client calls the Index service
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func invoke[Resp any](ctx context.Context, c *Client, method string, req any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Search(ctx context.Context, req *SearchRequest, opts ...grpc.CallOption) (*SearchResponse, error) {
	return invoke[SearchResponse](ctx, c, "Search", req, opts)
}

func (c *Client) SearchByID(ctx context.Context, req *SearchByIDRequest, opts ...grpc.CallOption) (*SearchResponse, error) {
	return invoke[SearchResponse](ctx, c, "SearchByID", req, opts)
}

func (c *Client) Insert(ctx context.Context, req *InsertRequest, opts ...grpc.CallOption) (*InsertResponse, error) {
	return invoke[InsertResponse](ctx, c, "Insert", req, opts)
}

func (c *Client) BatchInsert(ctx context.Context, req *BatchInsertRequest, opts ...grpc.CallOption) (*BatchInsertResponse, error) {
	return invoke[BatchInsertResponse](ctx, c, "BatchInsert", req, opts)
}

func (c *Client) Stats(ctx context.Context, req *StatsRequest, opts ...grpc.CallOption) (*StatsResponse, error) {
	return invoke[StatsResponse](ctx, c, "Stats", req, opts)
}

func (c *Client) Save(ctx context.Context, req *SaveRequest, opts ...grpc.CallOption) (*SaveResponse, error) {
	return invoke[SaveResponse](ctx, c, "Save", req, opts)
}

func (c *Client) SetEf(ctx context.Context, req *SetEfRequest, opts ...grpc.CallOption) (*SetEfResponse, error) {
	return invoke[SetEfResponse](ctx, c, "SetEf", req, opts)
}
