// Package photos resolves photo references to URLs through the data service.
package photos

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/mohammed-shakir/geoatlas/internal/core/executor"
)

type Fetcher interface {
	FetchPhoto(ctx context.Context, reference string) ([]byte, error)
}

// Photo is the data service's photo lookup response.
type Photo struct {
	Reference string `json:"reference"`
	URL       string `json:"url"`
}

type Option func(*Resolver)

// WithCache keeps up to size resolutions in memory for ttl. Misses are cached too.
func WithCache(size int64, ttl time.Duration) Option {
	return func(r *Resolver) {
		r.cacheSize, r.ttl = size, ttl
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

type Resolver struct {
	f         Fetcher
	cache     *ristretto.Cache
	cacheSize int64
	ttl       time.Duration
	logger    *slog.Logger
}

func New(f Fetcher, opts ...Option) (*Resolver, error) {
	r := &Resolver{f: f, logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	if r.cacheSize > 0 {
		c, err := ristretto.NewCache(&ristretto.Config{
			NumCounters:        r.cacheSize * 10,
			MaxCost:            r.cacheSize,
			BufferItems:        64,
			IgnoreInternalCost: true,
		})
		if err != nil {
			return nil, fmt.Errorf("photo cache: %w", err)
		}
		r.cache = c
	}
	return r, nil
}

// Resolve returns the photo URL for ref, or "" when the service knows no photo for it.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", nil
	}
	if r.cache != nil {
		if v, ok := r.cache.Get(ref); ok {
			if url, ok := v.(string); ok {
				return url, nil
			}
		}
	}

	body, err := r.f.FetchPhoto(ctx, ref)
	if err != nil {
		if executor.IsNotFound(err) {
			r.remember(ref, "")
			return "", nil
		}
		return "", fmt.Errorf("resolve photo %q: %w", ref, err)
	}

	var p Photo
	if err := json.Unmarshal(body, &p); err != nil {
		return "", fmt.Errorf("decode photo %q: %w", ref, err)
	}
	url := strings.TrimSpace(p.URL)
	r.remember(ref, url)
	r.logger.DebugContext(ctx, "photo resolved", "reference", ref, "found", url != "")
	return url, nil
}

func (r *Resolver) remember(ref, url string) {
	if r.cache == nil {
		return
	}
	r.cache.SetWithTTL(ref, url, 1, r.ttl)
	r.cache.Wait()
}

func (r *Resolver) Close() {
	if r.cache != nil {
		r.cache.Close()
	}
}
