package middleware

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// UnaryAuthInterceptor validates the bearer token in the "authorization"
// metadata of every call
func UnaryAuthInterceptor(config AuthConfig) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		claims, err := config.Authenticate(info.FullMethod, firstValue(ctx, "authorization"))
		switch {
		case errors.Is(err, ErrForbidden):
			return nil, status.Error(codes.PermissionDenied, err.Error())
		case err != nil:
			return nil, status.Error(codes.Unauthenticated, err.Error())
		case claims != nil:
			ctx = WithClaims(ctx, claims)
		}
		return handler(ctx, req)
	}
}

// UnaryRateLimitInterceptor rejects calls over the client's rate with
// ResourceExhausted
func UnaryRateLimitInterceptor(limiter *RateLimiter) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !limiter.Enabled() {
			return handler(ctx, req)
		}
		key := PeerKey(ctx)
		if !limiter.Allow(key) {
			return nil, status.Errorf(codes.ResourceExhausted, "rate limit exceeded for %s", key)
		}
		return handler(ctx, req)
	}
}

// PeerKey identifies the caller: the forwarded client address when a
// proxy set one, otherwise the peer host
func PeerKey(ctx context.Context) string {
	if forwarded := firstValue(ctx, "x-forwarded-for"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		addr := p.Addr.String()
		if i := strings.LastIndexByte(addr, ':'); i > 0 {
			return addr[:i]
		}
		return addr
	}
	return "unknown"
}

func firstValue(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}
