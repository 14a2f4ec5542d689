package grpc

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/therealutkarshpriyadarshi/lshapg/pkg/api/middleware"
	"github.com/therealutkarshpriyadarshi/lshapg/pkg/cache"
	"github.com/therealutkarshpriyadarshi/lshapg/pkg/config"
	"github.com/therealutkarshpriyadarshi/lshapg/pkg/divgraph"
	"github.com/therealutkarshpriyadarshi/lshapg/pkg/observability"
)

// Appender is a dataset that can grow while it is indexed
type Appender interface {
	Append(vec []float32) (uint32, error)
}

// Server serves one divGraph index over gRPC
type Server struct {
	config     *config.Config
	index      *divgraph.Index
	data       Appender // nil when the dataset is read-only
	cache      *cache.Results
	logger     *slog.Logger
	access     *observability.AccessLogger
	metrics    *observability.Metrics
	limiter    *middleware.RateLimiter
	health     *health.Server
	grpcServer *grpc.Server
	listener   net.Listener
	startTime  time.Time
	shutdownMu sync.Mutex
	isShutdown bool
}

// NewServer creates a server for idx. metrics may be nil.
func NewServer(cfg *config.Config, idx *divgraph.Index, logger *slog.Logger, metrics *observability.Metrics) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if idx == nil {
		return nil, fmt.Errorf("index is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Server{
		config:    cfg,
		index:     idx,
		logger:    logger.With(slog.String("component", "grpc")),
		access:    observability.NewAccessLogger(logger),
		metrics:   metrics,
		health:    health.NewServer(),
		startTime: time.Now(),
	}
	if app, ok := idx.Dataset().(Appender); ok {
		s.data = app
	}

	capacity := 0
	if cfg.Cache.Enabled {
		capacity = cfg.Cache.Capacity
	}
	var obs cache.Observer
	if metrics != nil {
		obs = metrics
	}
	s.cache = cache.NewResults(capacity, cfg.Cache.TTL, obs)

	s.limiter = middleware.NewRateLimiter(middleware.RateLimitConfig{
		Enabled:        cfg.RateLimit.Enabled,
		RequestsPerSec: cfg.RateLimit.RequestsPerSec,
		Burst:          cfg.RateLimit.Burst,
	})

	opts, err := s.serverOptions()
	if err != nil {
		s.limiter.Stop()
		return nil, err
	}
	s.grpcServer = grpc.NewServer(opts...)
	RegisterIndexServer(s.grpcServer, s)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	if cfg.Server.Reflection {
		reflection.Register(s.grpcServer)
	}
	return s, nil
}

// AuthConfig returns the access rules applied to gRPC methods
func AuthConfig(cfg config.AuthConfig) middleware.AuthConfig {
	return middleware.AuthConfig{
		Enabled:     cfg.Enabled,
		JWTSecret:   cfg.JWTSecret,
		PublicPaths: []string{"/grpc.health.v1.Health/", "/grpc.reflection."},
		AdminPaths: []string{
			"/" + ServiceName + "/Save",
			"/" + ServiceName + "/SetEf",
		},
	}
}

func (s *Server) serverOptions() ([]grpc.ServerOption, error) {
	var opts []grpc.ServerOption

	if s.config.Server.EnableTLS {
		cert, err := tls.LoadX509KeyPair(s.config.Server.CertFile, s.config.Server.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS certificates: %w", err)
		}
		creds := credentials.NewTLS(&tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		})
		opts = append(opts, grpc.Creds(creds))
	}

	kaParams := keepalive.ServerParameters{
		MaxConnectionIdle: 15 * time.Minute,
		Time:              5 * time.Minute,
		Timeout:           20 * time.Second,
	}
	opts = append(opts,
		grpc.KeepaliveParams(kaParams),
		grpc.MaxConcurrentStreams(uint32(s.config.Server.MaxConnections)),
		grpc.MaxRecvMsgSize(s.config.Server.MaxRecvMsgSize),
		grpc.ChainUnaryInterceptor(
			s.observeInterceptor,
			middleware.UnaryRateLimitInterceptor(s.limiter),
			middleware.UnaryAuthInterceptor(AuthConfig(s.config.Auth)),
			s.timeoutInterceptor,
		),
	)
	return opts, nil
}

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Server.Address())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Server.Address(), err)
	}
	return s.Serve(listener)
}

// Serve serves on listener in the background
func (s *Server) Serve(listener net.Listener) error {
	s.listener = listener

	s.logger.Info("gRPC server listening",
		slog.String("address", listener.Addr().String()),
		slog.Bool("tls", s.config.Server.EnableTLS),
		slog.Int("nodes", s.index.Len()))

	go func() {
		if err := s.grpcServer.Serve(listener); err != nil {
			s.logger.Error("gRPC server error", slog.Any("error", err))
		}
	}()
	return nil
}

// Stop gracefully shuts down the server, forcing it after the configured
// shutdown timeout
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()

	if s.isShutdown {
		return nil
	}

	s.logger.Info("shutting down gRPC server")
	s.health.Shutdown()
	s.limiter.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		s.logger.Info("gRPC server stopped gracefully")
	case <-ctx.Done():
		s.logger.Warn("shutdown timeout exceeded, forcing stop")
		s.grpcServer.Stop()
	}

	s.isShutdown = true
	return nil
}

// Index returns the served index
func (s *Server) Index() *divgraph.Index {
	return s.index
}

// Uptime returns server uptime
func (s *Server) Uptime() time.Duration {
	return time.Since(s.startTime)
}
