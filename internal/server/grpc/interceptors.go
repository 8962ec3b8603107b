package grpcserver

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/and161185/tvkeeper/internal/authctx"
	"github.com/and161185/tvkeeper/internal/errs"
	"github.com/and161185/tvkeeper/internal/token"
)

// Authenticator validates the raw authorization value of a request.
type Authenticator interface {
	Authenticate(ctx context.Context, header string) (token.Claims, error)
}

// DefaultPublic are methods reachable without a token.
var DefaultPublic = []string{
	healthpb.Health_Check_FullMethodName,
	healthpb.Health_Watch_FullMethodName,
}

// LoggingUnary returns a unary server interceptor for structured logging.
func LoggingUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		code := status.Code(err)

		var remote string
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			remote = p.Addr.String()
		}

		// metadata only, never payloads
		log.Info("grpc",
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("dur", time.Since(start)),
			zap.String("peer", remote),
		)
		return resp, err
	}
}

// RecoverUnary returns a unary server interceptor that recovers from panics.
func RecoverUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic",
					zap.Any("reason", r),
					zap.ByteString("stack", debug.Stack()),
					zap.String("method", info.FullMethod),
				)
				err = status.Error(codes.Internal, "internal")
			}
		}()
		return next(ctx, req)
	}
}

// AuthUnary authenticates every call outside the public set and stores the
// claims in the handler context. Health methods are always public.
func AuthUnary(auth Authenticator, log *zap.Logger, public ...string) grpc.UnaryServerInterceptor {
	open := make(map[string]struct{}, len(DefaultPublic)+len(public))
	for _, m := range DefaultPublic {
		open[m] = struct{}{}
	}
	for _, m := range public {
		open[m] = struct{}{}
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if _, ok := open[info.FullMethod]; ok {
			return next(ctx, req)
		}
		if auth == nil {
			return nil, status.Error(codes.Unauthenticated, "authentication required")
		}

		claims, err := auth.Authenticate(ctx, authorization(ctx))
		if err != nil {
			if errors.Is(err, errs.ErrUnauthenticated) || errors.Is(err, errs.ErrRevoked) {
				return nil, status.Error(codes.Unauthenticated, "authentication required")
			}
			log.Error("authenticate", zap.String("method", info.FullMethod), zap.Error(err))
			return nil, status.Error(codes.Internal, "internal")
		}
		return next(authctx.WithClaims(ctx, claims), req)
	}
}

// authorization returns the first "authorization" metadata value, or "".
func authorization(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get("authorization"); len(v) > 0 {
		return v[0]
	}
	return ""
}
