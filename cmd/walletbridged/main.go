package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	approvalapi "github.com/aegis-sign/walletbridge/internal/api"
	"github.com/aegis-sign/walletbridge/internal/bridge/transport"
	"github.com/aegis-sign/walletbridge/internal/config"
	"github.com/aegis-sign/walletbridge/internal/infra/otel"
	"github.com/aegis-sign/walletbridge/internal/infra/wsbus"
	"github.com/aegis-sign/walletbridge/internal/wallet/actions"
	"github.com/aegis-sign/walletbridge/internal/wallet/store"
)

const serviceName = "walletbridged"

func main() {
	configPath := flag.String("config", os.Getenv("WALLETBRIDGE_CONFIG"), "path to a YAML or HuJSON config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}
	logger := cfg.Log.NewLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("walletbridged exited", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	shutdownTracing, err := otel.Setup(ctx, otel.Config{
		ServiceName: serviceName,
		Endpoint:    cfg.OTel.Endpoint,
		SampleRatio: cfg.OTel.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	st, closeStore, err := configureStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	extensionID := cfg.ExtensionID
	if extensionID == "" {
		extensionID = uuid.NewString()
	}

	hub := wsbus.NewHub(wsbus.WithHubLogger(logger), wsbus.WithHubRegisterer(prometheus.DefaultRegisterer), wsbus.WithOrigins(cfg.Origin))
	defer hub.Close()
	backendTr, err := transport.New(hub, transport.Config{
		Origin:      cfg.Origin,
		ExtensionID: extensionID,
		Logger:      logger,
		Metrics:     transport.NewMetrics(nil),
	})
	if err != nil {
		return fmt.Errorf("create transport: %w", err)
	}
	defer backendTr.Close()

	dispatcher, err := actions.NewDispatcher(backendTr, st, actions.NewDigestExecutor(logger), actions.Config{
		MaxPending:       cfg.Actions.MaxPending,
		Workers:          cfg.Actions.Workers,
		RateLimit:        cfg.Actions.RateLimit,
		RateBurst:        cfg.Actions.RateBurst,
		ResolutionTTL:    cfg.Actions.ResolutionTTL.Std(),
		BreakerThreshold: cfg.Actions.BreakerThreshold,
		BreakerCooldown:  cfg.Actions.BreakerCooldown.Std(),
		Account:          actions.Account{Address: cfg.Account.Address, Network: cfg.Account.Network},
		Logger:           logger,
		Metrics:          actions.NewMetrics(nil),
	})
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}
	defer dispatcher.Close()

	mux := http.NewServeMux()
	mux.Handle("/bus", hub)
	approvalapi.NewHTTPHandler(dispatcher, approvalapi.WithLogger(logger), approvalapi.WithAllowedOrigins(cfg.UIOrigins...)).Register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/debug/actions", dispatcher.DebugHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcSrv := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	approvalapi.RegisterApprovalServiceServer(grpcSrv, approvalapi.NewGRPCServer(dispatcher))
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	healthSrv.SetServingStatus("walletbridge.v1.ApprovalService", healthpb.HealthCheckResponse_SERVING)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP server listening", slog.String("addr", httpSrv.Addr), slog.String("origin", cfg.Origin), slog.String("extension_id", extensionID))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
		g.Go(func() error {
			logger.Info("gRPC server listening", slog.String("addr", cfg.GRPCAddr))
			if err := grpcSrv.Serve(lis); err != nil {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down servers")
		healthSrv.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown error", slog.Any("err", err))
		}
		grpcSrv.GracefulStop()
		return nil
	})
	return g.Wait()
}

func configureStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, func(), error) {
	if cfg.RedisAddr == "" {
		logger.Info("using in-memory action store")
		return store.NewMemoryStore(), func() {}, nil
	}
	rs := store.NewRedisStore(cfg.RedisAddr)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rs.Ping(pingCtx); err != nil {
		_ = rs.Close()
		return nil, func() {}, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
	}
	logger.Info("using redis action store", slog.String("addr", cfg.RedisAddr))
	return rs, func() { _ = rs.Close() }, nil
}
