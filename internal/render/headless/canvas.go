// Package headless is an in-memory render.Canvas. It records sources, layers
// and handlers so the engine can be driven without a browser, and lets
// callers fire load and pointer events by hand.
package headless

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/geoatlas/internal/render"
)

var _ render.Canvas = (*Canvas)(nil)

var ErrLoaded = errors.New("headless: canvas already loaded")

type handlerKey struct {
	event render.EventType
	layer string
}

// Counts tallies mutating canvas calls.
type Counts struct {
	AddSource     int
	SetSourceData int
	AddLayer      int
}

type Canvas struct {
	// AutoReady fires the load callback from inside Load.
	AutoReady bool

	mu        sync.Mutex
	container string
	onReady   func()
	loaded    bool
	fired     bool
	sources   map[string]*geojson.FeatureCollection
	layers    []render.StyleLayer
	handlers  map[handlerKey][]func(*geojson.Feature)
	cursor    string
	counts    Counts
}

func New() *Canvas {
	return &Canvas{
		sources:  map[string]*geojson.FeatureCollection{},
		handlers: map[handlerKey][]func(*geojson.Feature){},
	}
}

func (c *Canvas) Load(container string, onReady func()) error {
	c.mu.Lock()
	if c.loaded {
		c.mu.Unlock()
		return ErrLoaded
	}
	c.loaded = true
	c.container = container
	c.onReady = onReady
	auto := c.AutoReady
	c.mu.Unlock()

	if auto {
		c.Ready()
	}
	return nil
}

// Ready fires the load callback. Only the first call has an effect.
func (c *Canvas) Ready() {
	c.mu.Lock()
	if !c.loaded || c.fired || c.onReady == nil {
		c.mu.Unlock()
		return
	}
	c.fired = true
	fn := c.onReady
	c.mu.Unlock()
	fn()
}

func (c *Canvas) AddSource(id string, data *geojson.FeatureCollection) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sources[id]; ok {
		return fmt.Errorf("source %q already exists", id)
	}
	c.sources[id] = data
	c.counts.AddSource++
	return nil
}

func (c *Canvas) SetSourceData(id string, data *geojson.FeatureCollection) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sources[id]; !ok {
		return fmt.Errorf("source %q not found", id)
	}
	c.sources[id] = data
	c.counts.SetSourceData++
	return nil
}

func (c *Canvas) AddLayer(l render.StyleLayer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sources[l.Source]; !ok {
		return fmt.Errorf("layer %q: source %q not found", l.ID, l.Source)
	}
	for _, have := range c.layers {
		if have.ID == l.ID {
			return fmt.Errorf("layer %q already exists", l.ID)
		}
	}
	c.layers = append(c.layers, l)
	c.counts.AddLayer++
	return nil
}

func (c *Canvas) On(event render.EventType, layerID string, fn func(*geojson.Feature)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := handlerKey{event: event, layer: layerID}
	c.handlers[k] = append(c.handlers[k], fn)
}

func (c *Canvas) SetCursor(cursor string) {
	c.mu.Lock()
	c.cursor = cursor
	c.mu.Unlock()
}

// Fire invokes the handlers bound to event on layerID with f.
func (c *Canvas) Fire(event render.EventType, layerID string, f *geojson.Feature) int {
	c.mu.Lock()
	hs := slices.Clone(c.handlers[handlerKey{event: event, layer: layerID}])
	c.mu.Unlock()
	for _, h := range hs {
		h(f)
	}
	return len(hs)
}

func (c *Canvas) Click(layerID string, f *geojson.Feature) int {
	return c.Fire(render.EventClick, layerID, f)
}

func (c *Canvas) Container() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.container
}

func (c *Canvas) Source(id string) (*geojson.FeatureCollection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fc, ok := c.sources[id]
	return fc, ok
}

func (c *Canvas) Layers() []render.StyleLayer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]render.StyleLayer(nil), c.layers...)
}

func (c *Canvas) HandlerCount(event render.EventType, layerID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers[handlerKey{event: event, layer: layerID}])
}

func (c *Canvas) Cursor() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

func (c *Canvas) Counts() Counts {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts
}
