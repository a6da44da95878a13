// Package layersource retrieves layer feature collections from the data
// service, optionally through a redis response cache.
package layersource

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/geoatlas/internal/aggregate/geojsonagg"
	"github.com/mohammed-shakir/geoatlas/internal/cache"
	"github.com/mohammed-shakir/geoatlas/internal/cache/keys"
	"github.com/mohammed-shakir/geoatlas/internal/core/model"
)

// Fetcher returns the raw GeoJSON body of one layer.
type Fetcher interface {
	FetchLayer(ctx context.Context, id model.LayerID) ([]byte, error)
}

type Option func(*Source)

// WithCache puts store in front of the fetcher. ttl may be nil, in which case
// entries are written with defaultTTL.
func WithCache(store cache.Interface, ttl func(layer string) time.Duration, opTimeout time.Duration) Option {
	return func(s *Source) {
		s.store = store
		s.ttl = ttl
		if opTimeout > 0 {
			s.opTimeout = opTimeout
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Source) {
		if l != nil {
			s.logger = l
		}
	}
}

const defaultTTL = 5 * time.Minute

type Source struct {
	fetch     Fetcher
	store     cache.Interface
	ttl       func(string) time.Duration
	opTimeout time.Duration
	logger    *slog.Logger
}

func New(f Fetcher, opts ...Option) *Source {
	s := &Source{
		fetch:     f,
		opTimeout: 250 * time.Millisecond,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Fetch returns the feature collection for id. Cache failures degrade to a
// direct fetch; only a failed fetch or an undecodable body is an error.
func (s *Source) Fetch(ctx context.Context, id model.LayerID) (*geojson.FeatureCollection, error) {
	key := keys.Layer(string(id))

	if s.store != nil {
		if fc, ok := s.fromCache(ctx, id, key); ok {
			return fc, nil
		}
	}

	body, err := s.fetch.FetchLayer(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch layer %q: %w", id, err)
	}
	fc, err := geojsonagg.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("layer %q: %w", id, err)
	}

	if s.store != nil {
		cctx, cancel := context.WithTimeout(ctx, s.opTimeout)
		if err := s.store.Set(cctx, key, body, s.ttlFor(id)); err != nil {
			s.logger.WarnContext(ctx, "layer cache write failed", "layer", id, "err", err)
		}
		cancel()
	}
	return fc, nil
}

func (s *Source) fromCache(ctx context.Context, id model.LayerID, key string) (*geojson.FeatureCollection, bool) {
	cctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	got, err := s.store.MGet(cctx, []string{key})
	if err != nil {
		s.logger.WarnContext(ctx, "layer cache read failed", "layer", id, "err", err)
		return nil, false
	}
	body, ok := got[key]
	if !ok {
		return nil, false
	}
	fc, err := geojsonagg.Decode(body)
	if err != nil {
		s.logger.WarnContext(ctx, "dropping undecodable cache entry", "layer", id, "err", err)
		_ = s.store.Del(cctx, key)
		return nil, false
	}
	s.logger.DebugContext(ctx, "layer cache hit", "layer", id, "features", len(fc.Features))
	return fc, true
}

// Invalidate removes the cached responses of the given layers.
func (s *Source) Invalidate(ctx context.Context, ids ...model.LayerID) error {
	if s.store == nil || len(ids) == 0 {
		return nil
	}
	ks := make([]string, 0, len(ids))
	for _, id := range ids {
		ks = append(ks, keys.Layer(string(id)))
	}
	cctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	if err := s.store.Del(cctx, ks...); err != nil {
		return fmt.Errorf("invalidate %d layers: %w", len(ids), err)
	}
	return nil
}

func (s *Source) ttlFor(id model.LayerID) time.Duration {
	if s.ttl != nil {
		if d := s.ttl(string(id)); d > 0 {
			return d
		}
	}
	return defaultTTL
}
