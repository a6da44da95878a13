// Package render owns the map canvas lifecycle and keeps one live data
// source and its style layers in sync with the merged feature collection.
package render

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/geoatlas/internal/aggregate/geojsonagg"
	"github.com/mohammed-shakir/geoatlas/internal/colormap"
	"github.com/mohammed-shakir/geoatlas/internal/core/model"
)

var (
	ErrAlreadyInitialized = errors.New("render: canvas already initialized")
	// ErrNotReady marks an update that arrived before the canvas was ready.
	// It is handled by queueing and never returned to callers.
	ErrNotReady = errors.New("render: canvas not ready")
)

type EventType string

const (
	EventClick      EventType = "click"
	EventMouseEnter EventType = "mouseenter"
	EventMouseLeave EventType = "mouseleave"
)

// Canvas is the map substrate the engine drives.
type Canvas interface {
	// Load constructs the canvas in container and calls onReady once when it has loaded.
	Load(container string, onReady func()) error
	AddSource(id string, data *geojson.FeatureCollection) error
	SetSourceData(id string, data *geojson.FeatureCollection) error
	AddLayer(layer StyleLayer) error
	On(event EventType, layerID string, fn func(*geojson.Feature))
	SetCursor(cursor string)
}

type State int

const (
	Uninitialized State = iota
	Loading
	Ready
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type MapHandle struct {
	Container string
	SourceID  string
}

// PointerHandler receives clicks on rendered features.
type PointerHandler func(kind model.LayerKind, f *geojson.Feature)

type Option func(*Engine)

func WithSourceID(id string) Option {
	return func(e *Engine) {
		if id != "" {
			e.sourceID = id
		}
	}
}

// WithLabelAttribute sets the attribute shown by the label layer; "" disables labels.
func WithLabelAttribute(attr string) Option {
	return func(e *Engine) { e.labelAttr = attr }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

type subscriber struct {
	id int
	fn PointerHandler
}

type Engine struct {
	canvas    Canvas
	table     *colormap.Table
	sourceID  string
	labelAttr string
	logger    *slog.Logger

	mu          sync.Mutex
	state       State
	handle      MapHandle
	pending     *geojson.FeatureCollection
	hasPending  bool
	sourceAdded bool
	layers      map[string]bool // style layer id -> added and bound

	subsMu  sync.RWMutex
	subs    []subscriber
	nextSub int
}

func NewEngine(canvas Canvas, table *colormap.Table, opts ...Option) *Engine {
	if table == nil {
		table = colormap.Default()
	}
	e := &Engine{
		canvas:    canvas,
		table:     table,
		sourceID:  DefaultSourceID,
		labelAttr: DefaultLabelAttribute,
		logger:    slog.Default(),
		layers:    map[string]bool{},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Initialize constructs the canvas once. A second call fails with ErrAlreadyInitialized.
func (e *Engine) Initialize(container string) (MapHandle, error) {
	e.mu.Lock()
	if e.state != Uninitialized {
		e.mu.Unlock()
		return MapHandle{}, ErrAlreadyInitialized
	}
	e.state = Loading
	e.handle = MapHandle{Container: container, SourceID: e.sourceID}
	h := e.handle
	e.mu.Unlock()

	// onReady may run synchronously inside Load, so the lock is not held here.
	if err := e.canvas.Load(container, e.onReady); err != nil {
		e.mu.Lock()
		e.state = Uninitialized
		e.handle = MapHandle{}
		e.mu.Unlock()
		return MapHandle{}, fmt.Errorf("load canvas %q: %w", container, err)
	}
	e.logger.Debug("canvas loading", "container", container)
	return h, nil
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) onReady() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Loading {
		return
	}
	e.state = Ready
	e.logger.Debug("canvas ready", "pending_update", e.hasPending)
	if e.hasPending {
		fc := e.pending
		e.pending, e.hasPending = nil, false
		e.applyLocked(fc)
	}
}

// UpdateData renders fc. Before the canvas is ready only the latest call is
// kept and replayed on ready. A nil collection renders as empty.
func (e *Engine) UpdateData(fc *geojson.FeatureCollection) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Ready {
		e.pending, e.hasPending = fc, true
		e.logger.Debug("update queued", "err", ErrNotReady, "state", e.state.String(),
			"features", geojsonagg.Len(fc))
		return
	}
	e.applyLocked(fc)
}

// caller holds e.mu
func (e *Engine) applyLocked(fc *geojson.FeatureCollection) {
	if fc == nil {
		fc = geojsonagg.Empty()
	}

	if e.sourceAdded {
		if err := e.canvas.SetSourceData(e.sourceID, fc); err != nil {
			e.logger.Error("set source data failed", "source", e.sourceID, "err", err)
		}
	} else {
		if err := e.canvas.AddSource(e.sourceID, fc); err != nil {
			e.logger.Error("add source failed", "source", e.sourceID, "err", err)
			return
		}
		e.sourceAdded = true
	}
	e.ensureLayersLocked()
}

// adds and binds any style layer not yet on the canvas; existing layers are never re-added
func (e *Engine) ensureLayersLocked() {
	for _, l := range StyleLayers(e.sourceID, e.table, e.labelAttr) {
		if e.layers[l.ID] {
			continue
		}
		if err := e.canvas.AddLayer(l); err != nil {
			e.logger.Error("add style layer failed", "layer", l.ID, "err", err)
			continue
		}
		e.bind(l)
		e.layers[l.ID] = true
	}
}

func (e *Engine) bind(l StyleLayer) {
	kind := l.Kind
	e.canvas.On(EventClick, l.ID, func(f *geojson.Feature) { e.dispatch(kind, f) })
	e.canvas.On(EventMouseEnter, l.ID, func(*geojson.Feature) { e.canvas.SetCursor("pointer") })
	e.canvas.On(EventMouseLeave, l.ID, func(*geojson.Feature) { e.canvas.SetCursor("") })
}

// Subscribe registers fn for feature clicks and returns its unsubscribe func.
func (e *Engine) Subscribe(fn PointerHandler) func() {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	e.nextSub++
	id := e.nextSub
	e.subs = append(e.subs, subscriber{id: id, fn: fn})
	return func() {
		e.subsMu.Lock()
		defer e.subsMu.Unlock()
		for i, s := range e.subs {
			if s.id == id {
				e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
				return
			}
		}
	}
}

func (e *Engine) dispatch(kind model.LayerKind, f *geojson.Feature) {
	if f == nil {
		return
	}
	e.subsMu.RLock()
	subs := append([]subscriber(nil), e.subs...)
	e.subsMu.RUnlock()
	for _, s := range subs {
		s.fn(kind, f)
	}
}
