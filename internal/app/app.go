package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/ordersync/internal/health"
	"github.com/vladislavdragonenkov/ordersync/internal/intake"
	"github.com/vladislavdragonenkov/ordersync/internal/service/ordersync"
	"github.com/vladislavdragonenkov/ordersync/internal/service/scheduler"
	"github.com/vladislavdragonenkov/ordersync/internal/version"
)

const (
	// SyncServiceName — имя сервиса в grpc.health.v1, отражающее состояние циклов.
	SyncServiceName = "ordersync.Sync"

	shutdownTimeout = 5 * time.Second
	readTimeout     = 15 * time.Second
	// staleCycleFactor — через сколько интервалов без цикла /healthz становится unhealthy.
	staleCycleFactor = 3
)

// Run запускает сервис: планировщик циклов, intake API, HTTP метрик/health и
// gRPC health. Возвращает ctx.Err() после остановки по сигналу.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.WithError(err).Warn("failed to release dependencies")
		}
	}()

	cycleHealth := healthcheck.NewCycleChecker(staleCycleFactor * cfg.SyncInterval)
	sched := newScheduler(newEngine(deps), deps, cfg.SyncInterval, cycleHealth.Observe, scheduler.WithStandbyHook(cycleHealth.ObserveStandby))

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("staging", healthcheck.NewPingChecker("staging", deps.Ping))
	healthHandler.RegisterChecker("sync_cycle", cycleHealth)

	grpcServer, healthServer := newGRPCServer(logger)
	cycleHealth.OnChange(func(healthy bool) {
		status := healthpb.HealthCheckResponse_SERVING
		if !healthy {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		healthServer.SetServingStatus(SyncServiceName, status)
	})

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sched.Run(gctx)
	})

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: newOpsHandler(healthHandler), ReadHeaderTimeout: readTimeout}
	g.Go(func() error {
		logger.Infof("metrics available at %s/metrics, health checks at /healthz and /livez", cfg.MetricsAddr)
		return serveHTTP(gctx, metricsSrv, "metrics", logger)
	})

	if cfg.IntakeEnabled {
		handler := intake.NewHandler(deps.Staging, deps.Tenants,
			intake.WithLogger(logger.WithField("component", "intake")),
			intake.WithTrigger(sched),
			intake.WithExternalIDPrefix(cfg.ExternalIDPrefix),
		)
		intakeSrv := &http.Server{Addr: cfg.IntakeAddr, Handler: intake.NewRouter(handler), ReadHeaderTimeout: readTimeout}
		g.Go(func() error {
			logger.Infof("intake API listening on %s", cfg.IntakeAddr)
			return serveHTTP(gctx, intakeSrv, "intake", logger)
		})
	}

	g.Go(func() error {
		logger.Infof("gRPC health server listening on %s", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown requested, stopping gRPC server")
		stopGRPC(grpcServer, healthServer, logger)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// RunOnce выполняет один цикл синхронизации и завершается (режим консоли).
func RunOnce(ctx context.Context, cfg Config) (ordersync.CycleReport, error) {
	logger := log.WithField("component", "app")

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return ordersync.CycleReport{}, err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.WithError(err).Warn("failed to release dependencies")
		}
	}()

	return newScheduler(newEngine(deps), deps, cfg.SyncInterval, nil).RunOnce(ctx)
}

func newEngine(deps *Dependencies) *ordersync.Engine {
	return ordersync.NewEngine(deps.Staging, deps.Connector, deps.Tenants.Targets(),
		ordersync.WithLogger(deps.Logger.WithField("component", "sync-engine")),
		ordersync.WithMetrics(deps.Metrics),
		ordersync.WithPublisher(deps.Publisher()),
	)
}

func newScheduler(engine *ordersync.Engine, deps *Dependencies, interval time.Duration, hook scheduler.CycleHook, extra ...scheduler.Option) *scheduler.Scheduler {
	options := []scheduler.Option{
		scheduler.WithLogger(deps.Logger.WithField("component", "sync-scheduler")),
		scheduler.WithMetrics(deps.Metrics),
		scheduler.WithInterval(interval),
	}
	if deps.Guard != nil {
		options = append(options, scheduler.WithGuard(deps.Guard))
	}
	if hook != nil {
		options = append(options, scheduler.WithCycleHook(hook))
	}
	return scheduler.New(engine, append(options, extra...)...)
}

// newGRPCServer создаёт gRPC-сервер только с health и reflection.
func newGRPCServer(logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(SyncServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	grpcMetrics.InitializeMetrics(grpcServer)
	reflection.Register(grpcServer)
	return grpcServer, healthServer
}

func stopGRPC(grpcServer *grpc.Server, healthServer *health.Server, logger *log.Entry) {
	healthServer.Shutdown()
	stoppedCh := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stoppedCh)
	}()
	select {
	case <-stoppedCh:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop timed out, forcing gRPC server stop")
		grpcServer.Stop()
	}
}

// newOpsHandler отдаёт /metrics для Prometheus, /healthz и /livez.
func newOpsHandler(healthHandler http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	return mux
}

// serveHTTP обслуживает srv до отмены ctx, затем аккуратно останавливает его.
func serveHTTP(ctx context.Context, srv *http.Server, name string, logger *log.Entry) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownHTTP(srv, logger.WithField("server", name))
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%s server: %w", name, err)
	}
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
