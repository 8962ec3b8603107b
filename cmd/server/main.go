// Command tvkeeper-server serves the authentication API over HTTP and gRPC.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/grpc/credentials"

	"github.com/and161185/tvkeeper/internal/config"
	pkgcrypto "github.com/and161185/tvkeeper/internal/crypto"
	"github.com/and161185/tvkeeper/internal/metrics"
	"github.com/and161185/tvkeeper/internal/migrate"
	"github.com/and161185/tvkeeper/internal/repository/postgres"
	"github.com/and161185/tvkeeper/internal/revocation"
	grpcserver "github.com/and161185/tvkeeper/internal/server/grpc"
	httpserver "github.com/and161185/tvkeeper/internal/server/http"
	"github.com/and161185/tvkeeper/internal/service"
	"github.com/and161185/tvkeeper/internal/token"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg.Dev)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("http", cfg.HTTP.Addr),
		zap.String("grpc", cfg.GRPC.Addr),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// run wires the components and blocks until ctx is cancelled or a listener fails.
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if err := migrate.Up(ctx, cfg.DB.DSN, logger); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}

	db, err := postgres.Open(ctx, cfg.DB.DSN, cfg.DB.MaxConns, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	users := postgres.NewUserRepo(db)

	hasher := pkgcrypto.NewHasher(pkgcrypto.Params{
		Memory:  cfg.Argon2.Memory,
		Time:    cfg.Argon2.Time,
		Threads: cfg.Argon2.Threads,
	})
	codec, err := token.NewCodec([]byte(cfg.JWT.Secret), cfg.JWT.TTL)
	if err != nil {
		return err
	}

	registry := revocation.New(
		revocation.WithDefaultTTL(cfg.Revocation.DefaultTTL),
		revocation.WithSweepInterval(cfg.Revocation.SweepInterval),
		revocation.WithLogger(logger),
	)
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		registry.Run(sweepCtx)
	}()
	defer func() {
		stopSweep()
		<-sweepDone
	}()

	m := metrics.New(registry.Size)
	auth, err := service.NewAuthService(users, hasher, codec, registry,
		service.WithLogger(logger),
		service.WithMetrics(m),
		service.WithRehashTimeout(cfg.Rehash.Timeout),
	)
	if err != nil {
		return err
	}
	defer auth.Wait()

	if err := auth.EnsureAdmin(ctx, cfg.Bootstrap.AdminEmail, cfg.Bootstrap.AdminPassword); err != nil {
		return err
	}

	if !cfg.Dev {
		gin.SetMode(gin.ReleaseMode)
	}
	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpserver.NewRouter(httpserver.Options{Auth: auth, Logger: logger, Metrics: m.Handler()}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	var grpcSrv *grpcserver.Server
	if cfg.GRPC.Addr != "" {
		opts := grpcserver.Options{Auth: auth, Session: auth, Logger: logger, Dev: cfg.Dev}
		if cfg.TLS.Cert != "" {
			creds, err := credentials.NewServerTLSFromFile(cfg.TLS.Cert, cfg.TLS.Key)
			if err != nil {
				return fmt.Errorf("load TLS cert/key: %w", err)
			}
			opts.Creds = creds
		}
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcSrv = grpcserver.New(opts)
		go func() {
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTP.Addr), zap.Bool("tls", cfg.TLS.Cert != ""))
		var err error
		if cfg.TLS.Cert != "" {
			err = httpSrv.ListenAndServeTLS(cfg.TLS.Cert, cfg.TLS.Key)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if grpcSrv != nil {
		grpcSrv.Shutdown(shutdownCtx)
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	return runErr
}
