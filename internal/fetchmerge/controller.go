// Package fetchmerge turns the active layer set into one merged feature
// collection and publishes it to the renderer.
//
// Every change of the active set starts a new fetch round tagged with a
// generation. Rounds are never cancelled; a round whose generation is no
// longer the latest when it completes is dropped, so the published collection
// always belongs to the most recent active set.
package fetchmerge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/geoatlas/internal/aggregate/geojsonagg"
	"github.com/mohammed-shakir/geoatlas/internal/core/model"
	"github.com/mohammed-shakir/geoatlas/internal/core/observability"
	mylog "github.com/mohammed-shakir/geoatlas/internal/logger"
)

// Source retrieves one layer as a feature collection.
type Source interface {
	Fetch(ctx context.Context, id model.LayerID) (*geojson.FeatureCollection, error)
}

// Sink receives every published merged collection, in generation order.
type Sink interface {
	UpdateData(fc *geojson.FeatureCollection)
}

// RetrievalError records one failed layer retrieval.
type RetrievalError struct {
	Layer model.LayerID
	Err   error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieve layer %q: %v", e.Layer, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// Round summarizes the last published fetch round.
type Round struct {
	Generation uint64
	Layers     []model.LayerID
	Failed     []*RetrievalError
	Features   int
	Duration   time.Duration
}

type Option func(*Controller)

func WithMaxWorkers(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxWorkers = n
		}
	}
}

// WithFetchTimeout bounds each layer retrieval individually.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

type Controller struct {
	src          Source
	sink         Sink
	logger       *slog.Logger
	maxWorkers   int
	fetchTimeout time.Duration

	mu        sync.Mutex
	active    model.ActiveLayerSet
	gen       uint64
	merged    *geojson.FeatureCollection
	lastRound Round

	wg sync.WaitGroup
}

// New builds a controller. sink may be nil when only CurrentMerged is read.
func New(src Source, sink Sink, opts ...Option) *Controller {
	c := &Controller{
		src:          src,
		sink:         sink,
		logger:       slog.Default(),
		maxWorkers:   8,
		fetchTimeout: 15 * time.Second,
		active:       model.ActiveLayerSet{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetActiveLayers replaces the active set and starts a fetch round for it.
// It returns the round's generation without waiting for retrievals.
func (c *Controller) SetActiveLayers(ctx context.Context, ids ...model.LayerID) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLocked(ctx, model.NewActiveLayerSet(ids...))
}

// Toggle flips membership of id in the active set. A blank id changes
// nothing and returns the current generation.
func (c *Controller) Toggle(ctx context.Context, id model.LayerID) uint64 {
	id = model.LayerID(strings.TrimSpace(string(id)))
	c.mu.Lock()
	defer c.mu.Unlock()
	if id == "" {
		return c.gen
	}
	next := c.active.Clone()
	if next.Has(id) {
		delete(next, id)
	} else {
		next[id] = struct{}{}
	}
	return c.startLocked(ctx, next)
}

// Refresh re-runs the current active set if it contains any of ids, or
// unconditionally when ids is empty.
func (c *Controller) Refresh(ctx context.Context, ids ...model.LayerID) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(ids) > 0 {
		hit := false
		for _, id := range ids {
			if c.active.Has(id) {
				hit = true
				break
			}
		}
		if !hit {
			return c.gen, false
		}
	}
	return c.startLocked(ctx, c.active.Clone()), true
}

func (c *Controller) Active() model.ActiveLayerSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active.Clone()
}

// CurrentMerged returns the last published collection, or nil before the first publish.
func (c *Controller) CurrentMerged() *geojson.FeatureCollection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.merged
}

func (c *Controller) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

func (c *Controller) LastRound() Round {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRound
}

// Wait blocks until every started round has finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// caller holds c.mu
func (c *Controller) startLocked(ctx context.Context, set model.ActiveLayerSet) uint64 {
	c.gen++
	g := c.gen
	c.active = set

	if len(set) == 0 {
		c.publishLocked(ctx, Round{Generation: g}, geojsonagg.Empty())
		return g
	}

	layers := set.Sorted()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx, g, layers)
	}()
	return g
}

func (c *Controller) run(ctx context.Context, g uint64, layers []model.LayerID) {
	start := time.Now()
	lctx := mylog.WithGeneration(mylog.WithComponent(ctx, "fetchmerge"), g)

	parts, failed := c.fetchAll(lctx, layers)
	merged := geojsonagg.Flatten(parts...)

	round := Round{
		Generation: g,
		Layers:     layers,
		Failed:     failed,
		Features:   len(merged.Features),
		Duration:   time.Since(start),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if g != c.gen {
		observability.ObserveFetchRound(round.Duration, false, 0)
		c.logger.DebugContext(lctx, "fetch round superseded",
			"latest", c.gen, "layers", len(layers), "dur", round.Duration.String())
		return
	}
	c.publishLocked(lctx, round, merged)
}

// caller holds c.mu
func (c *Controller) publishLocked(ctx context.Context, round Round, merged *geojson.FeatureCollection) {
	c.merged = merged
	c.lastRound = round
	observability.ObserveFetchRound(round.Duration, true, len(merged.Features))
	if c.sink != nil {
		c.sink.UpdateData(merged)
	}
	c.logger.InfoContext(ctx, "merged collection published",
		"generation", round.Generation,
		"layers", len(round.Layers),
		"failed", len(round.Failed),
		"features", len(merged.Features),
		"dur", round.Duration.String())
}

type result struct {
	idx int
	fc  *geojson.FeatureCollection
	err error
}

// fetchAll retrieves every layer concurrently, bounded by maxWorkers. The
// returned parts are indexed like layers; failed layers leave a nil part.
func (c *Controller) fetchAll(ctx context.Context, layers []model.LayerID) ([]*geojson.FeatureCollection, []*RetrievalError) {
	jobs := make(chan int, len(layers))
	results := make(chan result, len(layers))

	workerN := min(c.maxWorkers, len(layers))
	var wg sync.WaitGroup
	wg.Add(workerN)
	for range workerN {
		go func() {
			defer wg.Done()
			for i := range jobs {
				results <- c.fetchOne(ctx, i, layers[i])
			}
		}()
	}
	for i := range layers {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	close(results)

	parts := make([]*geojson.FeatureCollection, len(layers))
	errs := make([]error, len(layers))
	for r := range results {
		parts[r.idx], errs[r.idx] = r.fc, r.err
	}
	var failed []*RetrievalError
	for i, err := range errs {
		if err != nil {
			failed = append(failed, &RetrievalError{Layer: layers[i], Err: err})
		}
	}
	return parts, failed
}

func (c *Controller) fetchOne(ctx context.Context, idx int, id model.LayerID) result {
	fctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	start := time.Now()
	fc, err := c.src.Fetch(fctx, id)
	observability.ObserveLayerFetch(string(id), err)

	lctx := mylog.WithLayer(ctx, string(id))
	if err != nil {
		c.logger.WarnContext(lctx, "layer retrieval failed; contributing no features",
			"err", err, "dur", time.Since(start).String())
		return result{idx: idx, err: err}
	}
	c.logger.DebugContext(lctx, "layer retrieved",
		"features", geojsonagg.Len(fc), "dur", time.Since(start).String())
	return result{idx: idx, fc: fc}
}
