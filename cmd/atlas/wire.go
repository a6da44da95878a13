package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/mohammed-shakir/geoatlas/internal/app/viewer"
	"github.com/mohammed-shakir/geoatlas/internal/cache/redisstore"
	"github.com/mohammed-shakir/geoatlas/internal/colormap"
	"github.com/mohammed-shakir/geoatlas/internal/core/config"
	"github.com/mohammed-shakir/geoatlas/internal/core/executor"
	"github.com/mohammed-shakir/geoatlas/internal/core/httpclient"
	"github.com/mohammed-shakir/geoatlas/internal/core/model"
	"github.com/mohammed-shakir/geoatlas/internal/layersource"
	"github.com/mohammed-shakir/geoatlas/internal/logger"
	"github.com/mohammed-shakir/geoatlas/internal/photos"
	"github.com/mohammed-shakir/geoatlas/internal/render/headless"
	"github.com/mohammed-shakir/geoatlas/internal/selectionevents"
)

// env holds what every subcommand shares.
type env struct {
	cfg    config.Config
	log    *slog.Logger
	exec   *executor.Executor
	table  *colormap.Table
	closer []func()
}

func loadEnv() (*env, error) {
	_ = godotenv.Load()
	cfg := config.FromEnv()

	// logs go to stderr so command output stays pipeable
	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Component: "cli",
	}, os.Stderr)
	log := logger.NewSlog(&zl)

	exec, err := executor.New(log, httpclient.NewOutbound(cfg.FetchTimeout), cfg.DataServiceURL)
	if err != nil {
		return nil, fmt.Errorf("data service client: %w", err)
	}
	table, err := colormap.Load(cfg.ColorTablePath)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, log: log, exec: exec, table: table}, nil
}

func (e *env) close() {
	for i := len(e.closer) - 1; i >= 0; i-- {
		e.closer[i]()
	}
}

func (e *env) layerSource(ctx context.Context) (*layersource.Source, error) {
	opts := []layersource.Option{layersource.WithLogger(e.log)}
	if e.cfg.LayerCacheOn {
		rctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		rc, err := redisstore.New(rctx, e.cfg.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("layer cache: %w", err)
		}
		e.closer = append(e.closer, func() { _ = rc.Close() })
		opts = append(opts, layersource.WithCache(rc, e.cfg.TTLFor, e.cfg.CacheOpTimeout))
	}
	return layersource.New(e.exec, opts...), nil
}

// session starts a headless viewing session with layers active and waits
// for the first round to publish.
func (e *env) session(ctx context.Context, layers []model.LayerID) (*viewer.Session, *headless.Canvas, *layersource.Source, error) {
	src, err := e.layerSource(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	resolver, err := photos.New(e.exec,
		photos.WithCache(e.cfg.PhotoCacheSize, e.cfg.PhotoCacheTTL),
		photos.WithLogger(e.log))
	if err != nil {
		return nil, nil, nil, err
	}
	e.closer = append(e.closer, resolver.Close)

	deps := viewer.Deps{
		Source: src,
		Photos: resolver,
		Table:  e.table,
		Config: e.cfg,
		Logger: e.log,
	}
	if e.cfg.SelectionEvents.Enabled {
		pub, err := selectionevents.NewPublisher(e.cfg.Kafka.Brokers, e.cfg.SelectionEvents.Topic,
			selectionevents.WithQueueSize(e.cfg.SelectionEvents.QueueSize),
			selectionevents.WithResolution(e.cfg.SelectionEvents.H3Res),
			selectionevents.WithLogger(e.log))
		if err != nil {
			return nil, nil, nil, err
		}
		e.closer = append(e.closer, func() { _ = pub.Close() })
		deps.OnSelect = append(deps.OnSelect, pub.OnSelection)
	}

	canvas := headless.New()
	canvas.AutoReady = true
	deps.Canvas = canvas

	s := viewer.New(ctx, deps)
	e.closer = append(e.closer, s.Close)
	if _, err := s.Start("map"); err != nil {
		return nil, nil, nil, err
	}
	s.SetLayers(layers...)
	s.Wait()
	return s, canvas, src, nil
}
