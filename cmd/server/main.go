// Command safefolder-server starts the Safe Folder gRPC server.
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/safe-folder/internal/api"
	"github.com/and161185/safe-folder/internal/blob"
	"github.com/and161185/safe-folder/internal/config"
	pkgcrypto "github.com/and161185/safe-folder/internal/crypto"
	"github.com/and161185/safe-folder/internal/crypto/envelope"
	"github.com/and161185/safe-folder/internal/limiter"
	"github.com/and161185/safe-folder/internal/mail"
	"github.com/and161185/safe-folder/internal/metrics"
	"github.com/and161185/safe-folder/internal/migrate"
	"github.com/and161185/safe-folder/internal/repository"
	"github.com/and161185/safe-folder/internal/repository/memory"
	"github.com/and161185/safe-folder/internal/repository/postgres"
	grpcserver "github.com/and161185/safe-folder/internal/server/grpc"
	"github.com/and161185/safe-folder/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration, wires storage and services, and serves gRPC until a signal arrives.
func main() {
	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := newLogger(cfg.Dev)
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
		zap.String("algorithm", cfg.Algorithm),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Keys
	master, err := envelope.MasterKeyFromSecret(cfg.SecretKey, cfg.KDFIterations)
	if err != nil {
		logger.Fatal("master key", zap.Error(err))
	}
	alg, err := pkgcrypto.ParseAlgorithm(cfg.Algorithm)
	if err != nil {
		logger.Fatal("algorithm", zap.Error(err))
	}
	env, err := envelope.New(master, alg)
	if err != nil {
		logger.Fatal("envelope", zap.Error(err))
	}
	signKey, err := pkgcrypto.DeriveSubkey([]byte(cfg.SecretKey), "access-token")
	if err != nil {
		logger.Fatal("signing key", zap.Error(err))
	}

	// Storage
	store, lim, closeDB := openStore(ctx, cfg, logger)
	defer closeDB()
	blobs := openBlobs(ctx, cfg, logger)

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Services
	creds, err := service.NewCredentialLedger(pkgcrypto.NewArgon2Hasher(pkgcrypto.DefaultArgon2))
	if err != nil {
		logger.Fatal("credential ledger", zap.Error(err))
	}
	authSvc := service.NewAuthService(store, creds,
		service.NewChallengeManager(cfg.RegistrationTTL, cfg.LoginCodeTTL, m),
		service.NewSessionIssuer(signKey, cfg.AccessTTL, cfg.RefreshTTL),
		lim, newMailer(cfg, logger), logger, m)
	fileSvc := service.NewFileService(store.Files(), blobs, env, cfg.MaxFileSize, logger, m)

	// gRPC server with interceptors
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			grpcserver.RecoverUnary(logger),
			grpcserver.LoggingUnary(logger),
			grpcserver.MetricsUnary(m),
			grpcserver.AuthUnary(authSvc),
		),
		grpc.ChainStreamInterceptor(
			grpcserver.RecoverStream(logger),
			grpcserver.LoggingStream(logger),
			grpcserver.MetricsStream(m),
			grpcserver.AuthStream(authSvc),
		),
	}
	if cfg.TLSCert != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			logger.Fatal("failed to load TLS cert/key", zap.Error(err))
		}
		opts = append(opts, grpc.Creds(creds))
	} else {
		logger.Warn("TLS disabled, tokens and files travel in clear text")
	}
	s := grpc.NewServer(opts...)
	grpcserver.Register(s, grpcserver.New(authSvc, fileSvc, logger))

	// Health & reflection (dev)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	hs.SetServingStatus(api.ServiceName, healthpb.HealthCheckResponse_SERVING)
	if cfg.Dev {
		reflection.Register(s)
	}

	// Listen
	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr), zap.Bool("tls", cfg.TLSCert != ""))
		errCh <- s.Serve(lis)
	}()

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	// Wait for stop
	select {
	case <-ctx.Done():
		hs.Shutdown()
		done := make(chan struct{})
		go func() {
			s.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			s.Stop()
		}
		if metricsSrv != nil {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = metricsSrv.Shutdown(shutCtx)
			cancel()
		}
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

func newLogger(dev bool) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if dev {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// openStore returns the metadata store and the attempt limiter. DSN "memory" keeps everything
// in process and loses it on exit.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (repository.Store, limiter.Limiter, func()) {
	l := cfg.Limiter
	if cfg.DSN == "memory" {
		logger.Warn("using in-memory store, data is lost on exit")
		return memory.New(), limiter.NewMemory(l.Window, l.MaxFails, l.BlockFor), func() {}
	}

	if err := migrate.Up(ctx, cfg.DSN); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}
	db, err := postgres.New(ctx, cfg.DSN)
	if err != nil {
		logger.Fatal("pgxpool.New", zap.Error(err))
	}
	if err := db.Pool.Ping(ctx); err != nil {
		logger.Fatal("database ping", zap.Error(err))
	}
	return postgres.NewStore(db), limiter.NewPG(db.Pool, l.Window, l.MaxFails, l.BlockFor), db.Close
}

func openBlobs(ctx context.Context, cfg config.Config, logger *zap.Logger) blob.Store {
	if cfg.S3.Bucket != "" {
		s, err := blob.NewS3(ctx, blob.S3Config{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		})
		if err != nil {
			logger.Fatal("s3", zap.Error(err))
		}
		logger.Info("blob store", zap.String("s3_bucket", cfg.S3.Bucket))
		return s
	}
	fs, err := blob.NewFS(cfg.StorageDir)
	if err != nil {
		logger.Fatal("storage dir", zap.Error(err))
	}
	logger.Info("blob store", zap.String("dir", cfg.StorageDir))
	return fs
}

func newMailer(cfg config.Config, logger *zap.Logger) mail.Mailer {
	if cfg.Mailer == "log" {
		logger.Warn("mailer=log: one-time codes are written to the log")
		return mail.NewLog(logger)
	}
	m := mail.NewSMTP(mail.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		User:     cfg.SMTP.User,
		Password: cfg.SMTP.Password,
	})
	if !m.Configured() {
		logger.Warn("smtp credentials missing, registration and login codes cannot be delivered")
	}
	return m
}
