package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	grpcserver "github.com/therealutkarshpriyadarshi/lshapg/pkg/api/grpc"
	"github.com/therealutkarshpriyadarshi/lshapg/pkg/api/middleware"
	"github.com/therealutkarshpriyadarshi/lshapg/pkg/api/rest"
	"github.com/therealutkarshpriyadarshi/lshapg/pkg/config"
	"github.com/therealutkarshpriyadarshi/lshapg/pkg/dataset"
	"github.com/therealutkarshpriyadarshi/lshapg/pkg/divgraph"
	"github.com/therealutkarshpriyadarshi/lshapg/pkg/observability"
)

var (
	version = "1.0.0"
	commit  = "dev"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "show version and exit")
		configFile  = flag.String("config", "", "path to YAML configuration file (optional)")
		envFile     = flag.String("env-file", ".env", "dotenv file loaded before reading LSHAPG_* variables")
		host        = flag.String("host", "", "gRPC host (overrides config/env)")
		port        = flag.Int("port", 0, "gRPC port (overrides config/env)")
		datasetPath = flag.String("dataset", "", "fvecs, bvecs or parquet file to serve (overrides config/env)")
	)
	flag.Usage = showUsage
	flag.Parse()

	if *showVersion {
		fmt.Printf("lshapg server v%s (commit: %s)\n", version, commit)
		return
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *datasetPath != "" {
		cfg.Storage.Dataset = *datasetPath
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	level, _ := observability.ParseLogLevel(cfg.Log.Level)
	format, _ := observability.ParseLogFormat(cfg.Log.Format)
	logger, _ := observability.NewLogger(observability.LoggerConfig{Level: level, Format: format})
	slog.SetDefault(logger)

	logger.Info("starting lshapg server", slog.String("version", version), slog.String("commit", commit))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go metrics.CollectRuntime(ctx, 15*time.Second)

	data, err := loadDataset(cfg, logger)
	if err != nil {
		return err
	}

	opts, err := cfg.Index.Options()
	if err != nil {
		return err
	}
	opts.Logger = logger
	opts.Recorder = metrics
	opts.RebuildOnLoadError = cfg.Storage.RebuildOnLoadError

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	var idx *divgraph.Index
	err = observability.LogOperation(logger, "build_or_load", func() error {
		idx, err = divgraph.BuildOrLoad(data, opts, cfg.Storage.IndexPath(), cfg.Storage.Reuse)
		return err
	}, slog.String("path", cfg.Storage.IndexPath()), slog.Int("vectors", data.Len()))
	if err != nil {
		return err
	}
	logger.Info("index ready", slog.String("stats", idx.Stats().String()))

	server, err := grpcserver.NewServer(cfg, idx, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	if err := server.Start(); err != nil {
		return err
	}

	var gateway *rest.Server
	if cfg.REST.Enabled {
		gateway, err = rest.NewServer(rest.Config{
			Address:     cfg.REST.Address(),
			GRPCAddress: grpcTarget(cfg),
			CORSOrigins: cfg.REST.CORSOrigins,
			Auth: middleware.AuthConfig{
				Enabled:     cfg.Auth.Enabled,
				JWTSecret:   cfg.Auth.JWTSecret,
				PublicPaths: []string{"/v1/health", "/metrics"},
				AdminPaths:  []string{"/v1/save", "/v1/ef"},
			},
			RateLimit: middleware.RateLimitConfig{
				Enabled:        cfg.RateLimit.Enabled,
				RequestsPerSec: cfg.RateLimit.RequestsPerSec,
				Burst:          cfg.RateLimit.Burst,
			},
			Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		}, logger)
		if err != nil {
			server.Stop()
			return err
		}
		go func() {
			if err := gateway.Start(); err != nil {
				logger.Error("REST gateway failed", slog.Any("error", err))
				stop()
			}
		}()
	}

	logger.Info("server is ready", slog.String("grpc", cfg.Server.Address()), slog.Bool("rest", cfg.REST.Enabled))
	<-ctx.Done()
	logger.Info("shutdown signal received")

	if gateway != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		if err := gateway.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping REST gateway", slog.Any("error", err))
		}
		cancel()
	}
	server.Stop()

	if cfg.Storage.SaveOnShutdown {
		if err := idx.Save(cfg.Storage.IndexPath()); err != nil {
			return err
		}
	}
	logger.Info("server stopped")
	return nil
}

// loadDataset opens the configured dataset file, or starts empty
func loadDataset(cfg *config.Config, logger *slog.Logger) (*dataset.Memory, error) {
	if cfg.Storage.Dataset == "" {
		logger.Info("no dataset configured, starting empty", slog.Int("dimensions", cfg.Index.Dimensions))
		return dataset.NewMemory(cfg.Index.Dimensions, nil)
	}

	start := time.Now()
	data, err := dataset.Open(cfg.Storage.Dataset, cfg.Storage.DatasetLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset: %w", err)
	}
	logger.Info("dataset loaded",
		slog.String("path", cfg.Storage.Dataset),
		slog.Int("vectors", data.Len()),
		slog.Int("dimensions", data.Dim()),
		slog.Duration("duration", time.Since(start)))
	return data, nil
}

// grpcTarget is the address the gateway dials; a wildcard host is
// reached over loopback
func grpcTarget(cfg *config.Config) string {
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("%s:%d", host, cfg.Server.Port)
}

func showUsage() {
	fmt.Fprintln(os.Stderr, `lshapg server - divGraph approximate nearest-neighbor search over gRPC and REST

Usage:
  lshapg-server [options]

Options:`)
	flag.PrintDefaults()
	fmt.Fprintln(os.Stderr, `
Environment variables (LSHAPG_ prefix, see pkg/config):
  LSHAPG_SERVER_PORT              gRPC port
  LSHAPG_REST_PORT                REST gateway port
  LSHAPG_STORAGE_DATASET          dataset file (.fvecs, .bvecs, .parquet)
  LSHAPG_STORAGE_INDEX_FILE       index snapshot file name
  LSHAPG_INDEX_DIMENSIONS         dimension when starting empty
  LSHAPG_INDEX_EF_CONSTRUCTION    construction beam width
  LSHAPG_INDEX_EF                 default query beam width
  LSHAPG_AUTH_ENABLED             require JWT bearer tokens
  LSHAPG_LOG_LEVEL                debug, info, warn or error

Examples:
  lshapg-server -dataset data/sift_base.fvecs
  LSHAPG_INDEX_DIMENSIONS=384 lshapg-server -config config.yaml`)
}
