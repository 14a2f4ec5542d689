package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/encoding/protojson"

	grpcapi "github.com/therealutkarshpriyadarshi/lshapg/pkg/api/grpc"
	"github.com/therealutkarshpriyadarshi/lshapg/pkg/dataset"
)

const (
	version = "1.0.0"
)

var (
	serverAddr string
	token      string
	timeout    time.Duration
)

func main() {
	if len(os.Args) < 2 {
		showUsage()
		os.Exit(1)
	}

	serverAddr = "localhost:50051"
	timeout = 30 * time.Second
	token = os.Getenv("LSHAPG_TOKEN")

	command := os.Args[1]

	switch command {
	case "search":
		handleSearch(os.Args[2:])
	case "search-id":
		handleSearchID(os.Args[2:])
	case "insert":
		handleInsert(os.Args[2:])
	case "batch-insert":
		handleBatchInsert(os.Args[2:])
	case "stats":
		handleStats(os.Args[2:])
	case "save":
		handleSave(os.Args[2:])
	case "set-ef":
		handleSetEf(os.Args[2:])
	case "health":
		handleHealth(os.Args[2:])
	case "version":
		fmt.Printf("lshapg-cli version %s\n", version)
	case "help", "-h", "--help":
		showUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		showUsage()
		os.Exit(1)
	}
}

// newFlagSet registers the connection flags every command accepts
func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.StringVar(&serverAddr, "server", serverAddr, "gRPC server address")
	fs.StringVar(&token, "token", token, "JWT bearer token (default $LSHAPG_TOKEN)")
	fs.DurationVar(&timeout, "timeout", timeout, "request timeout")
	return fs
}

func handleSearch(args []string) {
	fs := newFlagSet("search")
	var (
		queryStr = fs.String("query", "", "query vector as JSON array (required)")
		k        = fs.Int("k", 0, "number of results (0 uses the server default)")
		ef       = fs.Int("ef", 0, "beam width (0 uses the server default)")
		noCache  = fs.Bool("no-cache", false, "bypass the result cache")
	)
	fs.Parse(args)

	if *queryStr == "" {
		fmt.Println("Error: -query is required")
		fs.Usage()
		os.Exit(1)
	}
	query := parseVector("query", *queryStr)

	client, conn := connectToServer()
	defer conn.Close()
	ctx, cancel := requestContext()
	defer cancel()

	resp, err := client.Search(ctx, &grpcapi.SearchRequest{Vector: query, K: *k, Ef: *ef, NoCache: *noCache})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	displaySearchResults(resp)
}

func handleSearchID(args []string) {
	fs := newFlagSet("search-id")
	var (
		id = fs.Uint("id", 0, "id of a stored vector to use as the query")
		k  = fs.Int("k", 0, "number of results (0 uses the server default)")
		ef = fs.Int("ef", 0, "beam width (0 uses the server default)")
	)
	fs.Parse(args)

	client, conn := connectToServer()
	defer conn.Close()
	ctx, cancel := requestContext()
	defer cancel()

	resp, err := client.SearchByID(ctx, &grpcapi.SearchByIDRequest{ID: uint32(*id), K: *k, Ef: *ef})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	displaySearchResults(resp)
}

func handleInsert(args []string) {
	fs := newFlagSet("insert")
	var (
		vectorStr = fs.String("vector", "", "vector as JSON array")
		id        = fs.Int64("id", -1, "link the stored vector with this id instead")
	)
	fs.Parse(args)

	req := &grpcapi.InsertRequest{}
	switch {
	case *vectorStr != "" && *id >= 0:
		fmt.Println("Error: -vector and -id are mutually exclusive")
		os.Exit(1)
	case *vectorStr != "":
		req.Vector = parseVector("vector", *vectorStr)
	case *id >= 0:
		v := uint32(*id)
		req.ID = &v
	default:
		fmt.Println("Error: one of -vector or -id is required")
		fs.Usage()
		os.Exit(1)
	}

	client, conn := connectToServer()
	defer conn.Close()
	ctx, cancel := requestContext()
	defer cancel()

	resp, err := client.Insert(ctx, req)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Inserted vector with ID: %d\n", resp.ID)
}

func handleBatchInsert(args []string) {
	fs := newFlagSet("batch-insert")
	var (
		file    = fs.String("file", "", "fvecs, bvecs or parquet file of vectors to append (required)")
		limit   = fs.Int("limit", 0, "read at most this many vectors (0 reads all)")
		chunk   = fs.Int("chunk", 1000, "vectors per request")
		threads = fs.Int("threads", 0, "server-side insert threads (0 uses the index default)")
	)
	fs.Parse(args)

	if *file == "" {
		fmt.Println("Error: -file is required")
		fs.Usage()
		os.Exit(1)
	}
	if *chunk < 1 {
		fmt.Println("Error: -chunk must be positive")
		os.Exit(1)
	}

	data, err := dataset.Open(*file, *limit)
	if err != nil {
		fmt.Printf("Error reading %s: %v\n", *file, err)
		os.Exit(1)
	}

	client, conn := connectToServer()
	defer conn.Close()

	start := time.Now()
	inserted, failed := 0, 0
	for lo := 0; lo < data.Len(); lo += *chunk {
		hi := min(lo+*chunk, data.Len())
		vectors := make([][]float32, 0, hi-lo)
		for i := lo; i < hi; i++ {
			vectors = append(vectors, data.Vector(uint32(i)))
		}

		ctx, cancel := requestContext()
		resp, err := client.BatchInsert(ctx, &grpcapi.BatchInsertRequest{Vectors: vectors, Threads: *threads})
		cancel()
		if err != nil {
			fmt.Printf("Error after %d vectors: %v\n", lo, err)
			os.Exit(1)
		}
		inserted += resp.Inserted
		failed += resp.Failed
		for _, e := range resp.Errors {
			fmt.Printf("  ! %s\n", e)
		}
		fmt.Printf("  %d/%d sent\n", hi, data.Len())
	}

	fmt.Printf("✓ Inserted %d vector(s), %d failed, in %s\n", inserted, failed, time.Since(start).Round(time.Millisecond))
	if failed > 0 {
		os.Exit(1)
	}
}

func handleStats(args []string) {
	fs := newFlagSet("stats")
	asJSON := fs.Bool("json", false, "print the raw JSON response")
	fs.Parse(args)

	client, conn := connectToServer()
	defer conn.Close()
	ctx, cancel := requestContext()
	defer cancel()

	resp, err := client.Stats(ctx, &grpcapi.StatsRequest{})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if *asJSON {
		out, _ := json.MarshalIndent(resp, "", "  ")
		fmt.Println(string(out))
		return
	}

	fmt.Println("Index Statistics:")
	fmt.Printf("  Nodes:          %d of %d vectors\n", resp.Nodes, resp.DatasetSize)
	fmt.Printf("  Dimensions:     %d (%s)\n", resp.Dimensions, resp.Metric)
	fmt.Printf("  Edges:          %d (avg degree %.2f, max %d)\n", resp.Edges, resp.AvgDegree, resp.MaxDegree)
	fmt.Printf("  Entry points:   %d\n", resp.EntryPoints)
	fmt.Printf("  LSH buckets:    %d\n", resp.Buckets)
	fmt.Printf("  k / ef:         %d / %d\n", resp.TopK, resp.Ef)
	fmt.Printf("  Searches:       %d (%d fallbacks, %d comparisons)\n", resp.Searches, resp.Fallbacks, resp.Comparisons)
	fmt.Printf("  Cache:          %d hits, %d misses (%.1f%%)\n", resp.CacheHits, resp.CacheMisses, resp.CacheHitRate*100)
	fmt.Printf("  Uptime:         %s\n", time.Duration(resp.UptimeSeconds*float64(time.Second)).Round(time.Second))
}

func handleSave(args []string) {
	fs := newFlagSet("save")
	path := fs.String("path", "", "snapshot path inside the server data directory (default: configured index file)")
	fs.Parse(args)

	client, conn := connectToServer()
	defer conn.Close()
	ctx, cancel := requestContext()
	defer cancel()

	resp, err := client.Save(ctx, &grpcapi.SaveRequest{Path: *path})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Saved index to %s (%.1fms)\n", resp.Path, resp.DurationMs)
}

func handleSetEf(args []string) {
	fs := newFlagSet("set-ef")
	ef := fs.Int("ef", 0, "new default beam width (required)")
	fs.Parse(args)

	if *ef <= 0 {
		fmt.Println("Error: -ef must be positive")
		fs.Usage()
		os.Exit(1)
	}

	client, conn := connectToServer()
	defer conn.Close()
	ctx, cancel := requestContext()
	defer cancel()

	resp, err := client.SetEf(ctx, &grpcapi.SetEfRequest{Ef: *ef})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ ef set to %d\n", resp.Ef)
}

func handleHealth(args []string) {
	fs := newFlagSet("health")
	fs.Parse(args)

	conn := dial()
	defer conn.Close()
	ctx, cancel := requestContext()
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: grpcapi.ServiceName})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(protojson.Format(resp))
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		os.Exit(1)
	}
}

func dial() *grpc.ClientConn {
	conn, err := grpc.NewClient(serverAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		fmt.Printf("Failed to connect to server at %s: %v\n", serverAddr, err)
		os.Exit(1)
	}
	return conn
}

func connectToServer() (*grpcapi.Client, *grpc.ClientConn) {
	conn := dial()
	return grpcapi.NewClient(conn), conn
}

// requestContext applies the timeout and attaches the bearer token
func requestContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	if token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
	}
	return ctx, cancel
}

func parseVector(name, s string) []float32 {
	var vector []float32
	if err := json.Unmarshal([]byte(s), &vector); err != nil {
		fmt.Printf("Error parsing %s: %v\n", name, err)
		os.Exit(1)
	}
	return vector
}

func displaySearchResults(resp *grpcapi.SearchResponse) {
	cached := ""
	if resp.Cached {
		cached = ", cached"
	}
	fmt.Printf("Found %d results (search took %.2fms%s)\n\n", len(resp.Results), resp.LatencyMs, cached)

	for i, result := range resp.Results {
		fmt.Printf("%3d. id=%-10d distance=%.6f\n", i+1, result.ID, result.Distance)
	}

	st := resp.Stats
	if !resp.Cached {
		fallback := ""
		if st.Fallback {
			fallback = " fallback"
		}
		fmt.Printf("\n%d comparisons, %d visited, %d hops, %d pruned, %d LSH candidates%s\n",
			st.Comparisons, st.Visited, st.Hops, st.Pruned, st.LSHCandidates, fallback)
	}
}

func showUsage() {
	fmt.Println(strings.TrimSpace(`
lshapg CLI - Client for the lshapg divGraph search server

Usage:
  lshapg-cli <command> [options]

Commands:
  search          Search for the nearest neighbors of a vector
  search-id       Search using a stored vector as the query
  insert          Append and index one vector
  batch-insert    Append and index vectors from a file
  stats           Show index statistics
  save            Write an index snapshot on the server
  set-ef          Change the default query beam width
  health          Check server health
  version         Show version
  help            Show this help message

Common Options:
  -server ADDRESS   gRPC server address (default: localhost:50051)
  -token TOKEN      JWT bearer token (default: $LSHAPG_TOKEN)
  -timeout DURATION Request timeout (default: 30s)

Examples:

  # Search for similar vectors
  lshapg-cli search -query '[0.15, 0.25, 0.35]' -k 10 -ef 80

  # Insert a vector
  lshapg-cli insert -vector '[0.1, 0.2, 0.3]'

  # Load a file in chunks
  lshapg-cli batch-insert -file data/sift_learn.fvecs -chunk 5000

  # Raise recall at query time (admin token)
  lshapg-cli set-ef -ef 200 -token "$ADMIN_TOKEN"

  # Snapshot the index
  lshapg-cli save
`))
}
