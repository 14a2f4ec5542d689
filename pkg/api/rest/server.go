package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/therealutkarshpriyadarshi/lshapg/pkg/api/middleware"
	"github.com/therealutkarshpriyadarshi/lshapg/pkg/observability"
)

// Config holds the REST gateway configuration
type Config struct {
	Address     string
	GRPCAddress string
	CORSOrigins []string
	Auth        middleware.AuthConfig
	RateLimit   middleware.RateLimitConfig

	// Metrics, when set, is served at /metrics
	Metrics http.Handler
}

// Server is an HTTP/JSON gateway in front of the gRPC Index service
type Server struct {
	config     Config
	handler    *Handler
	httpServer *http.Server
	grpcConn   *grpc.ClientConn
	limiter    *middleware.RateLimiter
	mux        *http.ServeMux
	logger     *slog.Logger
	access     *observability.AccessLogger
}

// NewServer dials the gRPC server and creates the gateway
func NewServer(config Config, logger *slog.Logger) (*Server, error) {
	conn, err := grpc.NewClient(
		config.GRPCAddress,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to gRPC server: %w", err)
	}
	return NewServerWithConn(config, conn, logger), nil
}

// NewServerWithConn creates the gateway over an existing connection, which
// the server closes on Stop
func NewServerWithConn(config Config, conn *grpc.ClientConn, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	server := &Server{
		config:   config,
		handler:  NewHandler(conn),
		grpcConn: conn,
		limiter:  middleware.NewRateLimiter(config.RateLimit),
		mux:      http.NewServeMux(),
		logger:   logger.With(slog.String("component", "rest")),
		access:   observability.NewAccessLogger(logger),
	}
	server.setupRoutes()

	server.httpServer = &http.Server{
		Addr:         config.Address,
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/v1/health", s.handler.HealthCheck)
	s.mux.HandleFunc("/v1/stats", s.handler.GetStats)

	s.mux.HandleFunc("/v1/search", s.handler.Search)
	s.mux.HandleFunc("/v1/search/id", s.handler.SearchByID)

	s.mux.HandleFunc("/v1/vectors", s.handler.Insert)
	s.mux.HandleFunc("/v1/vectors/batch", s.handler.BatchInsert)

	s.mux.HandleFunc("/v1/save", s.handler.Save)
	s.mux.HandleFunc("/v1/ef", s.handler.SetEf)

	if s.config.Metrics != nil {
		s.mux.Handle("/metrics", s.config.Metrics)
	}
}

// Handler returns the routes wrapped in the middleware chain
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.mux

	// innermost first: auth runs last
	handler = middleware.AuthMiddleware(s.config.Auth)(handler)
	handler = middleware.RateLimitMiddleware(s.limiter)(handler)
	handler = corsMiddleware(s.config.CORSOrigins)(handler)
	handler = s.loggingMiddleware(handler)
	return handler
}

// Start serves until Stop is called
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}
	return s.Serve(listener)
}

// Serve serves on listener until Stop is called
func (s *Server) Serve(listener net.Listener) error {
	s.logger.Info("REST gateway listening",
		slog.String("address", listener.Addr().String()),
		slog.String("grpc_address", s.config.GRPCAddress))

	if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve HTTP: %w", err)
	}
	return nil
}

// Stop gracefully stops the server and closes the gRPC connection
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down REST gateway")
	s.limiter.Stop()

	err := s.httpServer.Shutdown(ctx)
	if cerr := s.grpcConn.Close(); cerr != nil {
		s.logger.Warn("error closing gRPC connection", slog.Any("error", cerr))
	}
	return err
}

// loggingMiddleware writes one access log line per request
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.access.LogAccess(r.Method, r.URL.Path, fmt.Sprint(wrapped.statusCode), time.Since(start),
			slog.String("client_ip", middleware.ClientIP(r)))
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// corsMiddleware adds CORS headers
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			if len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*") {
				allowed = true
				origin = "*"
			} else {
				allowed = slices.Contains(allowedOrigins, origin)
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Max-Age", "3600")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
