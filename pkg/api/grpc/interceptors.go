package grpc

import (
	"context"
	"log/slog"
	"path"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/therealutkarshpriyadarshi/lshapg/pkg/api/middleware"
)

// observeInterceptor records request metrics and writes the access log
func (s *Server) observeInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	duration := time.Since(start)

	code := status.Code(err)
	method := path.Base(info.FullMethod)
	if s.metrics != nil {
		s.metrics.RecordRequest(method, code.String(), duration)
	}
	s.access.LogAccess("grpc", info.FullMethod, code.String(), duration,
		slog.String("peer", middleware.PeerKey(ctx)))
	return resp, err
}

// timeoutInterceptor bounds each call by the configured request timeout.
// Calls arriving with an expired deadline are rejected before any work.
func (s *Server) timeoutInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if s.config.Server.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Server.RequestTimeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return nil, toStatus(err)
	}
	return handler(ctx, req)
}
