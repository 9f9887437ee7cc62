package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"wsgateway/internal/gateway/adapter/inmem"
	"wsgateway/internal/gateway/adapter/jwks"
	"wsgateway/internal/gateway/adapter/relay"
	"wsgateway/internal/gateway/adapter/wsconn"
	"wsgateway/internal/gateway/middleware"
	"wsgateway/internal/platform/config"
	"wsgateway/internal/platform/logging"
	"wsgateway/internal/platform/server"
	"wsgateway/internal/platform/telemetry"
)

const (
	jwksMinRefresh = 5 * time.Minute
	limiterSweep   = 5 * time.Minute
	maxBodyBytes   = 1 << 20 // 1MB
)

// Public paths (no auth required)
var publicPaths = []string{"/healthz", "/readyz", "/metrics"}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := config.New()
	var configPath string

	root := &cobra.Command{
		Use:           "wsgateway",
		Short:         "WebSocket gateway relaying XML frames to backend services",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.ReadFile(v, configPath); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, config.FromViper(v))
		},
	}

	flags := root.Flags()
	flags.StringVar(&configPath, "config", "", "config file (yaml, toml or json)")
	flags.String("addr", "", "listen address (overrides "+config.KeyAddr+")")
	flags.String("log-level", "", "debug, info, warn or error")
	bindFlag(v, root, config.KeyAddr, "addr")
	bindFlag(v, root, config.KeyLogLevel, "log-level")
	return root
}

func bindFlag(v *viper.Viper, cmd *cobra.Command, key, name string) {
	// BindPFlag only fails on a nil flag
	_ = v.BindPFlag(key, cmd.Flags().Lookup(name))
}

func run(ctx context.Context, cfg config.Config) error {
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()
	restore := zap.ReplaceGlobals(logger)
	defer restore()

	shutdownTelemetry, err := telemetry.Setup(ctx, "wsgateway")
	if err != nil {
		return fmt.Errorf("telemetry setup: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", zap.Error(err))
		}
	}()

	metrics, err := telemetry.NewGatewayMetrics()
	if err != nil {
		return fmt.Errorf("metrics initialization: %w", err)
	}

	jwksClient := jwks.NewClient(cfg.JWKSEndpoint, jwksMinRefresh,
		jwks.WithLogger(logger),
		jwks.WithMetrics(metrics),
	)

	upgradeLimiter := inmem.NewRateLimiter(cfg.RateLimit.Rate, cfg.RateLimit.Burst, time.Now)
	go upgradeLimiter.RunCleanup(ctx, limiterSweep)
	frameLimiter := inmem.NewRateLimiter(cfg.Session.MessageRate, cfg.Session.MessageBurst, time.Now)
	go frameLimiter.RunCleanup(ctx, limiterSweep)

	router, err := relay.NewRouter(cfg.VectorDBURL, cfg.FileServiceURL, relay.Options{
		Session: wsconn.Options{
			MaxFrameBytes: cfg.Session.MaxFrameBytes,
			QueueSize:     cfg.Session.SendQueue,
			WriteTimeout:  cfg.Session.WriteTimeout,
		},
		BackendTimeout: cfg.BackendTimeout,
		AllowedOrigins: cfg.Session.AllowedOrigins,
		FrameLimiter:   frameLimiter,
		Logger:         logger,
		Metrics:        metrics,
	})
	if err != nil {
		return fmt.Errorf("router initialization: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.MetricsHandler())
	mux.Handle("/", middleware.Chain(
		router,
		middleware.Metrics(metrics),
		middleware.RequestID,
		middleware.Logging(logger),
		middleware.Recovery,
		middleware.MaxBodySize(maxBodyBytes),
		middleware.RateLimit(upgradeLimiter, metrics),
		middleware.Auth(jwksClient, publicPaths, metrics),
	))

	srv := server.New(cfg.GatewayAddr, mux, logger)
	srv.OnShutdown(router.Shutdown)

	logger.Info("gateway starting",
		zap.String("addr", cfg.GatewayAddr),
		zap.String("jwks_endpoint", cfg.JWKSEndpoint),
		zap.String("vectordb_url", cfg.VectorDBURL),
		zap.String("fileservice_url", cfg.FileServiceURL),
		zap.Duration("backend_timeout", cfg.BackendTimeout),
		zap.Int("max_frame_bytes", cfg.Session.MaxFrameBytes),
		zap.Strings("allowed_origins", cfg.Session.AllowedOrigins),
	)

	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	logger.Info("gateway stopped")
	return nil
}
