package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/secureflow/backend/internal/cache"
	"github.com/secureflow/backend/internal/config"
	"github.com/secureflow/backend/internal/controllers"
	"github.com/secureflow/backend/internal/db"
	"github.com/secureflow/backend/internal/logger"
	"github.com/secureflow/backend/internal/normalizer"
	"github.com/secureflow/backend/internal/observability"
	"github.com/secureflow/backend/internal/routes"
	"github.com/secureflow/backend/internal/services"
	"github.com/secureflow/backend/internal/store"
	"github.com/secureflow/backend/internal/stream"
	"github.com/secureflow/backend/internal/telemetry"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const serviceName = "secureflow-backend"

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := pflag.StringP("config", "c", "", "path to a YAML config file (default $SECUREFLOW_CONFIG)")
	port := pflag.StringP("port", "p", "", "HTTP port, overrides PORT")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Port = *port
	}

	// Initialize logger first
	logger.Initialize(logger.Options{Level: cfg.Log.Level, File: cfg.Log.File})

	if err := run(cfg); err != nil {
		logger.Fatal("Server stopped with error", map[string]interface{}{
			"error": err.Error(),
		})
	}
	logger.Info("Server exited gracefully", nil)
}

func run(cfg *config.Config) error {
	shutdownTracing, err := telemetry.Init(cfg.Tracing, serviceName, controllers.Version)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("Tracer shutdown failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	st, err := db.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("Failed to close store", map[string]interface{}{"error": err.Error()})
		}
	}()

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	workingCache := cache.New(cfg.Cache.Size, cache.WithSizeGauge(metrics.CacheGauge()))
	bus := stream.NewBus(stream.Config{
		PulseInterval: cfg.Stream.PulseInterval,
		Buffer:        cfg.Stream.SubscriberBuffer,
	}, metrics)

	logService := services.NewLogService(st, workingCache, bus, normalizer.New(), metrics)
	kbService := services.NewKBService(st, metrics)
	metricsService := services.NewMetricsService(st, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := logService.WarmCache(ctx); err != nil {
		return fmt.Errorf("warm working cache: %w", err)
	}

	if cfg.GinMode == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}

	deps := routes.Dependencies{
		Logs:            logService,
		KB:              kbService,
		Metrics:         metricsService,
		Gatherer:        prometheus.DefaultGatherer,
		CORSOrigin:      cfg.CORSOrigin,
		IngestRateLimit: cfg.Ingest.RateLimit,
		IngestBurst:     cfg.Ingest.Burst,
	}
	if !cfg.IsLocal() {
		deps.WSOrigin = cfg.CORSOrigin
	}
	if cfg.Tracing != config.TracingNone {
		deps.ServiceName = serviceName
	}
	r := routes.NewRouter(deps)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Starting SecureFlow backend server", map[string]interface{}{
		"port":         cfg.Port,
		"gin_mode":     gin.Mode(),
		"store_driver": cfg.Store.Driver,
		"cache_size":   workingCache.Bound(),
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return bus.Run(gctx)
	})

	if bs, ok := st.(*store.BadgerStore); ok {
		g.Go(func() error {
			return bs.RunGC(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server gracefully...", nil)

		// Open streams end once the bus detaches their subscribers.
		bus.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server forced to shutdown", map[string]interface{}{
				"error": err.Error(),
			})
			return err
		}
		return nil
	})

	return g.Wait()
}
