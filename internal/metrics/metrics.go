// Package metrics owns the Prometheus registry of a binary and, when an
// address is configured, a listener that serves only that registry.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/geoatlas/internal/core/config"
)

type Config struct {
	// Addr of the dedicated listener; empty serves nothing on its own.
	Addr string
	Path string
}

// FromConfig maps the environment settings; a disabled listener keeps the
// registry but drops the address.
func FromConfig(c config.MetricsCfg) Config {
	out := Config{Path: c.Path}
	if c.Enabled {
		out.Addr = c.Addr
	}
	return out
}

type Provider struct {
	reg *prometheus.Registry
	cfg Config
}

func Init(cfg Config) *Provider {
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Provider{reg: reg, cfg: cfg}
}

// Handler serves the registry. Scrape failures are counted in
// promhttp_metric_handler_errors_total.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{Registry: p.reg})
}

func (p *Provider) Register(cs ...prometheus.Collector) {
	for _, c := range cs {
		p.reg.MustRegister(c)
	}
}

func (p *Provider) Registerer() prometheus.Registerer { return p.reg }

func (p *Provider) Dedicated() bool { return p.cfg.Addr != "" }

// Serve runs the dedicated listener until ctx is done. Without an address it
// returns nil immediately.
func (p *Provider) Serve(ctx context.Context, logger *slog.Logger) error {
	if !p.Dedicated() {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(p.cfg.Path, p.Handler())
	srv := &http.Server{
		Addr:              p.cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listen", "addr", p.cfg.Addr, "path", p.cfg.Path)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
