// Package interaction turns feature clicks into the single active selection,
// enriched with a resolved photo URL when the feature references one.
package interaction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/geoatlas/internal/core/model"
	"github.com/mohammed-shakir/geoatlas/internal/core/observability"
	mylog "github.com/mohammed-shakir/geoatlas/internal/logger"
)

const DefaultPhotoAttribute = "Hyperlink"

// PhotoResolver maps a photo reference to a URL. An empty URL with a nil
// error means the reference has no photo.
type PhotoResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

type Option func(*Handler)

func WithPhotoAttribute(attr string) Option {
	return func(h *Handler) {
		if attr != "" {
			h.photoAttr = attr
		}
	}
}

func WithPhotoTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

type subscriber struct {
	id int
	fn func(model.SelectionState)
}

type Handler struct {
	resolver  PhotoResolver
	photoAttr string
	timeout   time.Duration
	logger    *slog.Logger

	// pubMu serializes apply+notify so subscribers see selections in generation order.
	pubMu   sync.Mutex
	mu      sync.Mutex
	gen     uint64
	current model.SelectionState

	subsMu  sync.RWMutex
	subs    []subscriber
	nextSub int
}

// New builds a handler. A nil resolver disables photo lookups.
func New(resolver PhotoResolver, opts ...Option) *Handler {
	h := &Handler{
		resolver:  resolver,
		photoAttr: DefaultPhotoAttribute,
		timeout:   5 * time.Second,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Click is a selection taken by Begin and not yet applied.
type Click struct {
	kind model.LayerKind
	f    *geojson.Feature
	gen  uint64
}

func (c Click) Generation() uint64 { return c.gen }

// OnClick selects f. It blocks while the photo reference is resolved and
// reports applied=false when a later click superseded this one in the
// meantime; the returned state is then not the current selection.
func (h *Handler) OnClick(ctx context.Context, kind model.LayerKind, f *geojson.Feature) (model.SelectionState, bool) {
	c, ok := h.Begin(kind, f)
	if !ok {
		return h.Current(), false
	}
	return h.Complete(ctx, c)
}

// Begin orders a click: it takes the next generation and drops the current
// selection. Callers that finish clicks concurrently must call Begin in
// delivery order so the later click wins.
func (h *Handler) Begin(kind model.LayerKind, f *geojson.Feature) (Click, bool) {
	if f == nil {
		return Click{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.gen++
	h.current = model.SelectionState{}
	return Click{kind: kind, f: f, gen: h.gen}, true
}

// Complete resolves the photo of c and applies it unless a later Begin or
// Clear superseded it.
func (h *Handler) Complete(ctx context.Context, c Click) (model.SelectionState, bool) {
	g, kind, f := c.gen, c.kind, c.f
	ctx = mylog.WithGeneration(mylog.WithComponent(ctx, "interaction"), g)
	props := f.Properties.Clone()
	if props == nil {
		props = geojson.Properties{}
	}

	state := model.SelectionState{
		Active:     true,
		Kind:       kind,
		Properties: props,
		Geometry:   f.Geometry,
		Generation: g,
	}
	if ref := photoReference(props[h.photoAttr]); ref != "" && h.resolver != nil {
		state.PhotoURL = h.resolve(ctx, ref)
	}

	h.pubMu.Lock()
	defer h.pubMu.Unlock()

	h.mu.Lock()
	if g != h.gen {
		latest := h.gen
		h.mu.Unlock()
		observability.IncSelection(string(kind), "superseded")
		h.logger.DebugContext(ctx, "selection superseded", "latest", latest)
		return state, false
	}
	h.current = state
	h.mu.Unlock()

	outcome := "no_photo"
	if state.PhotoURL != nil {
		outcome = "photo"
	}
	observability.IncSelection(string(kind), outcome)
	h.notify(state)
	return state, true
}

// resolve never fails: lookup errors and empty results both yield nil.
func (h *Handler) resolve(ctx context.Context, ref string) *string {
	rctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	url, err := h.resolver.Resolve(rctx, ref)
	switch {
	case err != nil:
		observability.IncPhotoLookup("error")
		h.logger.WarnContext(ctx, "photo lookup failed; selecting without photo",
			"reference", ref, "err", err, "dur", time.Since(start).String())
		return nil
	case url == "":
		observability.IncPhotoLookup("none")
		return nil
	default:
		observability.IncPhotoLookup("ok")
		return &url
	}
}

func (h *Handler) Current() model.SelectionState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// Clear drops the selection and any click still resolving.
func (h *Handler) Clear() {
	h.pubMu.Lock()
	defer h.pubMu.Unlock()

	h.mu.Lock()
	h.gen++
	h.current = model.SelectionState{}
	h.mu.Unlock()
	h.notify(model.SelectionState{})
}

// Subscribe registers fn for every applied selection and every Clear.
// fn must not call OnClick or Clear.
func (h *Handler) Subscribe(fn func(model.SelectionState)) func() {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()
	h.nextSub++
	id := h.nextSub
	h.subs = append(h.subs, subscriber{id: id, fn: fn})
	return func() {
		h.subsMu.Lock()
		defer h.subsMu.Unlock()
		for i, s := range h.subs {
			if s.id == id {
				h.subs = append(h.subs[:i:i], h.subs[i+1:]...)
				return
			}
		}
	}
}

func (h *Handler) notify(s model.SelectionState) {
	h.subsMu.RLock()
	subs := append([]subscriber(nil), h.subs...)
	h.subsMu.RUnlock()
	for _, sub := range subs {
		sub.fn(s)
	}
}

func photoReference(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}
