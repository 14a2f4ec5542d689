package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/therealutkarshpriyadarshi/lshapg/pkg/divgraph"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	// Test Server defaults
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Expected host 0.0.0.0, got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 50051 {
		t.Errorf("Expected port 50051, got %d", cfg.Server.Port)
	}
	if cfg.Server.MaxConnections != 1000 {
		t.Errorf("Expected max connections 1000, got %d", cfg.Server.MaxConnections)
	}
	if cfg.Server.RequestTimeout != 30*time.Second {
		t.Errorf("Expected request timeout 30s, got %v", cfg.Server.RequestTimeout)
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("Expected shutdown timeout 10s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Server.EnableTLS {
		t.Error("Expected TLS disabled by default")
	}

	// Test Index defaults
	if cfg.Index.C != 1.5 {
		t.Errorf("Expected c=1.5, got %v", cfg.Index.C)
	}
	if cfg.Index.TopK != 50 {
		t.Errorf("Expected k=50, got %d", cfg.Index.TopK)
	}
	if cfg.Index.Tables != 2 || cfg.Index.HashFunctions != 18 {
		t.Errorf("Expected L=2 K=18, got L=%d K=%d", cfg.Index.Tables, cfg.Index.HashFunctions)
	}
	if cfg.Index.EfConstruction != 80 {
		t.Errorf("Expected efC=80, got %d", cfg.Index.EfConstruction)
	}
	if cfg.Index.MaxDegree != 24 {
		t.Errorf("Expected max degree 24, got %d", cfg.Index.MaxDegree)
	}
	if cfg.Index.Metric != "l2sqr" {
		t.Errorf("Expected metric l2sqr, got %s", cfg.Index.Metric)
	}
	if cfg.Index.Compression != "zstd" {
		t.Errorf("Expected zstd compression, got %s", cfg.Index.Compression)
	}

	// Test Cache defaults
	if !cfg.Cache.Enabled {
		t.Error("Expected cache enabled by default")
	}
	if cfg.Cache.Capacity != 1000 {
		t.Errorf("Expected cache capacity 1000, got %d", cfg.Cache.Capacity)
	}
	if cfg.Cache.TTL != 5*time.Minute {
		t.Errorf("Expected cache TTL 5m, got %v", cfg.Cache.TTL)
	}

	// Test Storage defaults
	if cfg.Storage.DataDir != "./data" {
		t.Errorf("Expected data dir ./data, got %s", cfg.Storage.DataDir)
	}
	if !cfg.Storage.Reuse {
		t.Error("Expected index reuse enabled by default")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
}

func setEnv(t *testing.T, vars map[string]string) {
	t.Helper()
	for k, v := range vars {
		t.Setenv(k, v)
	}
}

func TestLoadFromEnv(t *testing.T) {
	setEnv(t, map[string]string{
		"LSHAPG_SERVER_HOST":          "localhost",
		"LSHAPG_SERVER_PORT":          "9090",
		"LSHAPG_SERVER_ENABLE_TLS":    "true",
		"LSHAPG_SERVER_CERT_FILE":     "/path/to/cert.pem",
		"LSHAPG_SERVER_KEY_FILE":      "/path/to/key.pem",
		"LSHAPG_INDEX_TABLES":         "4",
		"LSHAPG_INDEX_HASH_FUNCTIONS": "12",
		"LSHAPG_INDEX_EF":             "120",
		"LSHAPG_INDEX_PQ":             "0.8",
		"LSHAPG_INDEX_METRIC":         "cosine",
		"LSHAPG_CACHE_ENABLED":        "false",
		"LSHAPG_CACHE_TTL":            "10m",
		"LSHAPG_STORAGE_DATA_DIR":     "/var/lib/lshapg",
		"LSHAPG_REST_CORS_ORIGINS":    "https://a.example,https://b.example",
	})

	cfg := Default()
	if err := LoadFromEnv(cfg); err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}

	if cfg.Server.Host != "localhost" {
		t.Errorf("Expected host localhost, got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Server.EnableTLS || cfg.Server.CertFile != "/path/to/cert.pem" || cfg.Server.KeyFile != "/path/to/key.pem" {
		t.Errorf("Unexpected TLS settings: %+v", cfg.Server)
	}
	if cfg.Index.Tables != 4 || cfg.Index.HashFunctions != 12 {
		t.Errorf("Expected L=4 K=12, got L=%d K=%d", cfg.Index.Tables, cfg.Index.HashFunctions)
	}
	if cfg.Index.Ef != 120 {
		t.Errorf("Expected ef 120, got %d", cfg.Index.Ef)
	}
	if cfg.Index.PQ != 0.8 {
		t.Errorf("Expected pQ 0.8, got %v", cfg.Index.PQ)
	}
	if cfg.Index.Metric != "cosine" {
		t.Errorf("Expected cosine metric, got %s", cfg.Index.Metric)
	}
	if cfg.Cache.Enabled {
		t.Error("Expected cache disabled")
	}
	if cfg.Cache.TTL != 10*time.Minute {
		t.Errorf("Expected cache TTL 10m, got %v", cfg.Cache.TTL)
	}
	if cfg.Storage.DataDir != "/var/lib/lshapg" {
		t.Errorf("Expected data dir /var/lib/lshapg, got %s", cfg.Storage.DataDir)
	}
	if len(cfg.REST.CORSOrigins) != 2 || cfg.REST.CORSOrigins[1] != "https://b.example" {
		t.Errorf("Unexpected CORS origins: %v", cfg.REST.CORSOrigins)
	}

	// untouched fields keep their defaults
	if cfg.Index.EfConstruction != 80 {
		t.Errorf("Expected efC to keep default 80, got %d", cfg.Index.EfConstruction)
	}
}

func TestLoadFromEnvInvalid(t *testing.T) {
	t.Setenv("LSHAPG_SERVER_PORT", "not-a-number")

	if err := LoadFromEnv(Default()); err == nil {
		t.Error("Expected error for invalid port")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lshapg.yaml")
	content := `
index:
  dimensions: 96
  tables: 3
  hash_functions: 10
  ef: 64
  top_k: 10
  compression: lz4
server:
  port: 6000
rest:
  enabled: false
storage:
  dataset: /data/deep1m.fvecs
  dataset_limit: 100000
log:
  level: debug
  format: json
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Index.Dimensions != 96 || cfg.Index.Tables != 3 || cfg.Index.HashFunctions != 10 {
		t.Errorf("Unexpected index section: %+v", cfg.Index)
	}
	if cfg.Index.TopK != 10 || cfg.Index.Ef != 64 {
		t.Errorf("Expected k=10 ef=64, got k=%d ef=%d", cfg.Index.TopK, cfg.Index.Ef)
	}
	if cfg.Server.Port != 6000 {
		t.Errorf("Expected port 6000, got %d", cfg.Server.Port)
	}
	if cfg.REST.Enabled {
		t.Error("Expected REST disabled")
	}
	if cfg.Storage.Dataset != "/data/deep1m.fvecs" || cfg.Storage.DatasetLimit != 100000 {
		t.Errorf("Unexpected storage section: %+v", cfg.Storage)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Unexpected log section: %+v", cfg.Log)
	}

	// defaults survive for keys the file leaves out
	if cfg.Index.EfConstruction != 80 || cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Expected defaults for unset keys, got efC=%d host=%s", cfg.Index.EfConstruction, cfg.Server.Host)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lshapg.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 6000\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	t.Setenv("LSHAPG_SERVER_PORT", "7000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("Expected environment to win with port 7000, got %d", cfg.Server.Port)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [not, a, map"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Expected error for malformed YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"valid config", func(c *Config) {}, ""},
		{"invalid port (too low)", func(c *Config) { c.Server.Port = 0 }, "invalid port"},
		{"invalid port (too high)", func(c *Config) { c.Server.Port = 70000 }, "invalid port"},
		{"invalid max connections", func(c *Config) { c.Server.MaxConnections = 0 }, "max connections"},
		{"TLS without cert", func(c *Config) { c.Server.EnableTLS = true }, "TLS enabled"},
		{"invalid REST port", func(c *Config) { c.REST.Port = -1 }, "REST port"},
		{"k above efC", func(c *Config) { c.Index.TopK = 100; c.Index.Ef = 100 }, "efC"},
		{"zero tables", func(c *Config) { c.Index.Tables = 0 }, "invalid L"},
		{"unknown metric", func(c *Config) { c.Index.Metric = "hamming" }, "unknown metric"},
		{"unknown compression", func(c *Config) { c.Index.Compression = "gzip" }, "unknown compression"},
		{"no dimensions", func(c *Config) { c.Index.Dimensions = 0 }, "dimensions"},
		{"empty data dir", func(c *Config) { c.Storage.DataDir = "" }, "data directory"},
		{"unknown log level", func(c *Config) { c.Log.Level = "loud" }, "log level"},
		{"auth without secret", func(c *Config) { c.Auth.Enabled = true }, "JWT secret"},
		{"rate limit without rate", func(c *Config) { c.RateLimit.Enabled = true; c.RateLimit.RequestsPerSec = 0 }, "rate limit"},
		{"invalid cache capacity", func(c *Config) { c.Cache.Capacity = 0 }, "cache capacity"},
		{"cache disabled with zero capacity", func(c *Config) { c.Cache.Enabled = false; c.Cache.Capacity = 0 }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestIndexOptions(t *testing.T) {
	cfg := Default()
	cfg.Index.Metric = "l2"
	cfg.Index.Compression = "lz4"
	cfg.Index.Patience = 5

	opts, err := cfg.Index.Options()
	if err != nil {
		t.Fatalf("Options failed: %v", err)
	}
	if opts.Metric.Name != "l2" {
		t.Errorf("Expected l2 metric, got %s", opts.Metric.Name)
	}
	if opts.Compression != divgraph.CompressionLZ4 {
		t.Errorf("Expected lz4, got %v", opts.Compression)
	}
	if opts.L != 2 || opts.K != 18 || opts.W != 1.0 {
		t.Errorf("Unexpected LSH parameters: L=%d K=%d W=%v", opts.L, opts.K, opts.W)
	}
	if opts.Patience != 5 || opts.Dim != 128 {
		t.Errorf("Unexpected options: %+v", opts)
	}
	if err := opts.Validate(); err != nil {
		t.Errorf("Converted options should be valid: %v", err)
	}
}

func TestAddress(t *testing.T) {
	cfg := Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 8080

	if addr := cfg.Server.Address(); addr != "127.0.0.1:8080" {
		t.Errorf("Expected address 127.0.0.1:8080, got %s", addr)
	}
	if addr := cfg.REST.Address(); addr != "0.0.0.0:8080" {
		t.Errorf("Expected REST address 0.0.0.0:8080, got %s", addr)
	}
}

func TestIndexPath(t *testing.T) {
	s := StorageConfig{DataDir: "/data", IndexFile: "sift_divGraph"}
	if got := s.IndexPath(); got != filepath.Join("/data", "sift_divGraph") {
		t.Errorf("Unexpected index path %s", got)
	}
	s.IndexFile = "/abs/index"
	if got := s.IndexPath(); got != "/abs/index" {
		t.Errorf("Expected absolute index file to be kept, got %s", got)
	}
}
