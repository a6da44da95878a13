package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mohammed-shakir/geoatlas/internal/cache/redisstore"
	"github.com/mohammed-shakir/geoatlas/internal/core/config"
	"github.com/mohammed-shakir/geoatlas/internal/core/health"
	"github.com/mohammed-shakir/geoatlas/internal/core/observability"
	"github.com/mohammed-shakir/geoatlas/internal/core/server"
	"github.com/mohammed-shakir/geoatlas/internal/dataservice"
	"github.com/mohammed-shakir/geoatlas/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/geoatlas/internal/logger"
	"github.com/mohammed-shakir/geoatlas/internal/metrics"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// a missing .env is fine; the environment wins either way
	_ = godotenv.Load()
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Component: "data_service",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	observability.SetComponent("data_service")
	p := metrics.Init(metrics.FromConfig(cfg.Metrics))
	observability.Init(p.Registerer())
	observability.ExposeBuildInfo(Version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if p.Dedicated() {
		go func() {
			if err := p.Serve(ctx, appLog); err != nil {
				appLog.Error("metrics listener stopped", "err", err)
			}
		}()
	}

	store, err := dataservice.Open(ctx, cfg.DatabaseURL,
		dataservice.WithStorageURL(cfg.PhotoStorageURL),
		dataservice.WithPGLogger(appLog))
	if err != nil {
		appLog.Error("database unavailable", "err", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	ready := map[string]health.Pinger{"postgres": store}
	opts := []dataservice.HandlerOption{
		dataservice.WithLogger(appLog),
		dataservice.WithMaxLimit(cfg.MaxPageSize),
	}
	if cfg.LayerCacheOn {
		rctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		rc, err := redisstore.New(rctx, cfg.RedisAddr)
		cancel()
		if err != nil {
			appLog.Error("redis unavailable", "addr", cfg.RedisAddr, "err", err)
			return 1
		}
		defer func() { _ = rc.Close() }()
		ready["redis"] = rc
		opts = append(opts, dataservice.WithResponseCache(rc, cfg.TTLFor, cfg.CacheOpTimeout))
	}
	h := dataservice.NewHandler(store, opts...)

	if cfg.LayerCacheOn && cfg.Invalidation.Enabled {
		kc := kafkaconsumer.FromConfig(cfg)
		kc.GroupID = cfg.Kafka.GroupID + "-server"
		consumer := kafkaconsumer.New(kc, appLog, h, nil)
		go func() {
			if err := consumer.Start(ctx); err != nil {
				appLog.Error("invalidation consumer stopped", "err", err)
			}
		}()
	}

	appLog.Info("starting data service",
		"addr", cfg.Addr, "version", Version, "layer_cache", cfg.LayerCacheOn)

	router := server.NewRouter(cfg, appLog, ready, p.Handler(), h)
	if err := server.Run(ctx, cfg, appLog, router); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
