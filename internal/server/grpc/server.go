// Package grpcserver builds the gRPC listener: health, the guarded session
// service, reflection in dev mode, and the interceptor chain guarding every
// unary call.
package grpcserver

import (
	"context"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Options configures Server.
type Options struct {
	Auth Authenticator
	// Session registers tvkeeper.v1.Session when set.
	Session SessionAuth
	Logger  *zap.Logger
	// Creds enables TLS when set.
	Creds credentials.TransportCredentials
	// Public lists extra full method names reachable without a token.
	Public []string
	// Dev registers server reflection.
	Dev bool
}

// Server wraps grpc.Server together with its health service.
type Server struct {
	srv    *grpc.Server
	health *health.Server
	log    *zap.Logger
}

// New constructs the server and registers health, the session service when
// configured, and reflection in dev mode.
func New(o Options) *Server {
	log := o.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("grpc")

	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			RecoverUnary(log),
			LoggingUnary(log),
			AuthUnary(o.Auth, log, o.Public...),
		),
	}
	if o.Creds != nil {
		opts = append(opts, grpc.Creds(o.Creds))
	}
	s := grpc.NewServer(opts...)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	if o.Session != nil {
		RegisterSession(s, o.Session, log)
	}
	if o.Dev {
		reflection.Register(s)
	}
	return &Server{srv: s, health: hs, log: log}
}

// GRPC exposes the underlying server for registering further services.
func (s *Server) GRPC() *grpc.Server { return s.srv }

// Serve accepts connections on lis until Shutdown.
func (s *Server) Serve(lis net.Listener) error {
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.log.Info("listening", zap.String("addr", lis.Addr().String()))
	return s.srv.Serve(lis)
}

// Shutdown reports NOT_SERVING, then drains in-flight calls until ctx expires.
func (s *Server) Shutdown(ctx context.Context) {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.srv.Stop()
	}
}
