// Package config loads the server configuration from defaults, an optional
// YAML file and LSHAPG_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/therealutkarshpriyadarshi/lshapg/internal/codec"
	"github.com/therealutkarshpriyadarshi/lshapg/pkg/divgraph"
	"github.com/therealutkarshpriyadarshi/lshapg/pkg/metric"
	"github.com/therealutkarshpriyadarshi/lshapg/pkg/observability"
)

// EnvPrefix is the prefix of every environment variable read by LoadFromEnv
const EnvPrefix = "LSHAPG"

// Config holds all server configuration
type Config struct {
	Index     IndexConfig     `yaml:"index" split_words:"true"`
	Server    ServerConfig    `yaml:"server" split_words:"true"`
	REST      RESTConfig      `yaml:"rest" split_words:"true"`
	Storage   StorageConfig   `yaml:"storage" split_words:"true"`
	Log       LogConfig       `yaml:"log" split_words:"true"`
	Auth      AuthConfig      `yaml:"auth" split_words:"true"`
	RateLimit RateLimitConfig `yaml:"rate_limit" split_words:"true"`
	Cache     CacheConfig     `yaml:"cache" split_words:"true"`
}

// IndexConfig holds the divGraph index parameters
type IndexConfig struct {
	// Dimensions of 0 takes the dataset dimension
	Dimensions     int     `yaml:"dimensions" split_words:"true"`
	Metric         string  `yaml:"metric" split_words:"true"`
	C              float64 `yaml:"c" split_words:"true"`
	TopK           int     `yaml:"top_k" split_words:"true"`
	// LSH shape: L tables of K functions with bucket width W
	Tables         int     `yaml:"tables" split_words:"true"`
	HashFunctions  int     `yaml:"hash_functions" split_words:"true"`
	BucketWidth    float64 `yaml:"bucket_width" split_words:"true"`
	Seed           uint64  `yaml:"seed" split_words:"true"`
	Threads        int     `yaml:"threads" split_words:"true"`
	EfConstruction int     `yaml:"ef_construction" split_words:"true"`
	Ef             int     `yaml:"ef" split_words:"true"`
	PC             float64 `yaml:"p_c" split_words:"true"`
	PQ             float64 `yaml:"p_q" split_words:"true"`
	Beta           float64 `yaml:"beta" split_words:"true"`
	MaxDegree      int     `yaml:"max_degree" split_words:"true"`
	KeepPruned     bool    `yaml:"keep_pruned" split_words:"true"`
	Patience       int     `yaml:"patience" split_words:"true"`
	EntryRefresh   int     `yaml:"entry_refresh" split_words:"true"`
	MaxEntryPoints int     `yaml:"max_entry_points" split_words:"true"`
	Compression    string  `yaml:"compression" split_words:"true"`
}

// ServerConfig holds gRPC server configuration
type ServerConfig struct {
	Host            string        `yaml:"host" split_words:"true"`
	Port            int           `yaml:"port" split_words:"true"`
	MaxConnections  int           `yaml:"max_connections" split_words:"true"` // max concurrent streams
	MaxRecvMsgSize  int           `yaml:"max_recv_msg_size" split_words:"true"`
	RequestTimeout  time.Duration `yaml:"request_timeout" split_words:"true"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" split_words:"true"`
	EnableTLS       bool          `yaml:"enable_tls" split_words:"true"`
	CertFile        string        `yaml:"cert_file" split_words:"true"`
	KeyFile         string        `yaml:"key_file" split_words:"true"`
	Reflection      bool          `yaml:"reflection" split_words:"true"`
}

// RESTConfig holds the HTTP gateway configuration
type RESTConfig struct {
	Enabled     bool     `yaml:"enabled" split_words:"true"`
	Host        string   `yaml:"host" split_words:"true"`
	Port        int      `yaml:"port" split_words:"true"`
	CORSOrigins []string `yaml:"cors_origins" split_words:"true"`
}

// StorageConfig says where vectors come from and where the index lives
type StorageConfig struct {
	DataDir string `yaml:"data_dir" split_words:"true"`

	// Dataset is an fvecs, bvecs or parquet file loaded at startup. Empty
	// starts from an empty dataset of Index.Dimensions.
	Dataset      string `yaml:"dataset" split_words:"true"`
	DatasetLimit int    `yaml:"dataset_limit" split_words:"true"`

	IndexFile          string `yaml:"index_file" split_words:"true"`
	Reuse              bool   `yaml:"reuse" split_words:"true"`
	RebuildOnLoadError bool   `yaml:"rebuild_on_load_error" split_words:"true"`
	SaveOnShutdown     bool   `yaml:"save_on_shutdown" split_words:"true"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level" split_words:"true"`
	Format string `yaml:"format" split_words:"true"`
}

// AuthConfig holds JWT authentication configuration
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled" split_words:"true"`
	JWTSecret string `yaml:"jwt_secret" split_words:"true"`
}

// RateLimitConfig holds per-client rate limiting configuration
type RateLimitConfig struct {
	Enabled        bool    `yaml:"enabled" split_words:"true"`
	RequestsPerSec float64 `yaml:"requests_per_sec" split_words:"true"`
	Burst          int     `yaml:"burst" split_words:"true"`
}

// CacheConfig holds query cache configuration
type CacheConfig struct {
	Enabled  bool          `yaml:"enabled" split_words:"true"`
	Capacity int           `yaml:"capacity" split_words:"true"`
	TTL      time.Duration `yaml:"ttl" split_words:"true"`
}

// Default returns default configuration
func Default() *Config {
	opts := divgraph.DefaultOptions()
	return &Config{
		Index: IndexConfig{
			Dimensions:     128,
			Metric:         opts.Metric.Name,
			C:              opts.C,
			TopK:           opts.TopK,
			Tables:         opts.L,
			HashFunctions:  opts.K,
			BucketWidth:    opts.W,
			Seed:           opts.Seed,
			Threads:        runtime.NumCPU(),
			EfConstruction: opts.EfConstruction,
			Ef:             opts.Ef,
			PC:             opts.PC,
			PQ:             opts.PQ,
			Beta:           opts.Beta,
			MaxDegree:      opts.MaxDegree,
			KeepPruned:     opts.KeepPruned,
			MaxEntryPoints: opts.MaxEntryPoints,
			Compression:    opts.Compression.String(),
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            50051,
			MaxConnections:  1000,
			MaxRecvMsgSize:  64 << 20,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			Reflection:      true,
		},
		REST: RESTConfig{
			Enabled:     true,
			Host:        "0.0.0.0",
			Port:        8080,
			CORSOrigins: []string{"*"},
		},
		Storage: StorageConfig{
			DataDir:        "./data",
			IndexFile:      "index_divGraph",
			Reuse:          true,
			SaveOnShutdown: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSec: 100,
			Burst:          200,
		},
		Cache: CacheConfig{
			Enabled:  true,
			Capacity: 1000,
			TTL:      5 * time.Minute,
		},
	}
}

// LoadFromFile overlays the YAML file at path onto cfg
func LoadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// LoadFromEnv overlays LSHAPG_* environment variables onto cfg. Names are
// the upper-cased field path, for example LSHAPG_SERVER_PORT,
// LSHAPG_INDEX_EF_CONSTRUCTION or LSHAPG_RATE_LIMIT_REQUESTS_PER_SEC.
func LoadFromEnv(cfg *Config) error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	return nil
}

// Load builds the configuration from defaults, the optional file at path
// and the environment, then validates it
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := LoadFromFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Server validation
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.MaxConnections < 1 {
		return fmt.Errorf("invalid max connections: %d (must be > 0)", c.Server.MaxConnections)
	}
	if c.Server.EnableTLS {
		if c.Server.CertFile == "" || c.Server.KeyFile == "" {
			return fmt.Errorf("TLS enabled but cert or key file not specified")
		}
	}
	if c.REST.Enabled && (c.REST.Port < 1 || c.REST.Port > 65535) {
		return fmt.Errorf("invalid REST port: %d (must be 1-65535)", c.REST.Port)
	}

	// Index validation
	if c.Index.Dimensions < 0 {
		return fmt.Errorf("invalid dimensions: %d (must be >= 0)", c.Index.Dimensions)
	}
	if c.Storage.Dataset == "" && c.Index.Dimensions == 0 {
		return errors.New("dimensions must be set when no dataset file is configured")
	}
	opts, err := c.Index.Options()
	if err != nil {
		return err
	}
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("index: %w", err)
	}

	// Storage validation
	if c.Storage.DataDir == "" {
		return fmt.Errorf("data directory not specified")
	}
	if c.Storage.DatasetLimit < 0 {
		return fmt.Errorf("invalid dataset limit: %d (must be >= 0)", c.Storage.DatasetLimit)
	}

	if _, err := observability.ParseLogLevel(c.Log.Level); err != nil {
		return err
	}
	if _, err := observability.ParseLogFormat(c.Log.Format); err != nil {
		return err
	}

	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return errors.New("auth enabled but no JWT secret specified")
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSec <= 0 || c.RateLimit.Burst < 1) {
		return fmt.Errorf("invalid rate limit: %v req/s with burst %d", c.RateLimit.RequestsPerSec, c.RateLimit.Burst)
	}

	// Cache validation
	if c.Cache.Enabled && c.Cache.Capacity < 1 {
		return fmt.Errorf("invalid cache capacity: %d (must be > 0)", c.Cache.Capacity)
	}
	return nil
}

// Options converts the index section into divgraph options. Logger and
// Recorder are left for the caller.
func (c IndexConfig) Options() (divgraph.Options, error) {
	m, err := metric.ByName(c.Metric)
	if err != nil {
		return divgraph.Options{}, fmt.Errorf("index: %w", err)
	}
	comp, err := codec.ParseCompression(c.Compression)
	if err != nil {
		return divgraph.Options{}, fmt.Errorf("index: %w", err)
	}

	return divgraph.Options{
		Dim:            c.Dimensions,
		C:              c.C,
		TopK:           c.TopK,
		L:              c.Tables,
		K:              c.HashFunctions,
		W:              c.BucketWidth,
		Seed:           c.Seed,
		Threads:        c.Threads,
		EfConstruction: c.EfConstruction,
		Ef:             c.Ef,
		PC:             c.PC,
		PQ:             c.PQ,
		Beta:           c.Beta,
		MaxDegree:      c.MaxDegree,
		KeepPruned:     c.KeepPruned,
		Patience:       c.Patience,
		EntryRefresh:   c.EntryRefresh,
		MaxEntryPoints: c.MaxEntryPoints,
		Compression:    comp,
		Metric:         m,
	}, nil
}

// IndexPath returns the location of the index snapshot
func (c *StorageConfig) IndexPath() string {
	if filepath.IsAbs(c.IndexFile) {
		return c.IndexFile
	}
	return filepath.Join(c.DataDir, c.IndexFile)
}

// Address returns the server address (host:port)
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Address returns the REST gateway address (host:port)
func (c *RESTConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
