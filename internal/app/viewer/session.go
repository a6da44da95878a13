// Package viewer wires one map viewing session: the active layer set, the
// rendered map, the current selection and the side panel showing either the
// layer toggles or the selected feature.
package viewer

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/geoatlas/internal/colormap"
	"github.com/mohammed-shakir/geoatlas/internal/core/config"
	"github.com/mohammed-shakir/geoatlas/internal/core/model"
	"github.com/mohammed-shakir/geoatlas/internal/detail"
	"github.com/mohammed-shakir/geoatlas/internal/fetchmerge"
	"github.com/mohammed-shakir/geoatlas/internal/interaction"
	"github.com/mohammed-shakir/geoatlas/internal/render"
)

type Panel int

const (
	PanelLayers Panel = iota
	PanelDetail
)

func (p Panel) String() string {
	if p == PanelDetail {
		return "detail"
	}
	return "layers"
}

type Deps struct {
	Canvas render.Canvas
	Source fetchmerge.Source
	// Photos may be nil; selections then never carry a photo.
	Photos interaction.PhotoResolver
	Table  *colormap.Table
	Config config.Config
	Logger *slog.Logger
	// OnSelect receives every applied selection and every clear.
	OnSelect []func(model.SelectionState)
}

// View is a snapshot of the session for display.
type View struct {
	Panel    Panel
	Active   []model.LayerID
	Features int
	Detail   *detail.Payload
}

type Session struct {
	ctx    context.Context
	logger *slog.Logger

	engine *render.Engine
	ctrl   *fetchmerge.Controller
	sel    *interaction.Handler

	mu     sync.Mutex
	panel  Panel
	detail *detail.Payload

	clicks sync.WaitGroup
	unsub  []func()
}

// New builds a session. ctx bounds the session's background work.
func New(ctx context.Context, d Deps) *Session {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := d.Config

	s := &Session{ctx: ctx, logger: logger}
	s.engine = render.NewEngine(d.Canvas, d.Table,
		render.WithLabelAttribute(cfg.LabelAttribute),
		render.WithLogger(logger))
	s.ctrl = fetchmerge.New(d.Source, s.engine,
		fetchmerge.WithMaxWorkers(cfg.FetchMaxWorkers),
		fetchmerge.WithFetchTimeout(cfg.FetchTimeout),
		fetchmerge.WithLogger(logger))
	s.sel = interaction.New(d.Photos,
		interaction.WithPhotoAttribute(cfg.PhotoAttribute),
		interaction.WithPhotoTimeout(cfg.PhotoTimeout),
		interaction.WithLogger(logger))

	s.unsub = append(s.unsub,
		s.engine.Subscribe(s.onPointer),
		s.sel.Subscribe(s.onSelection))
	for _, fn := range d.OnSelect {
		s.unsub = append(s.unsub, s.sel.Subscribe(fn))
	}
	return s
}

// Start constructs the map canvas in container.
func (s *Session) Start(container string) (render.MapHandle, error) {
	return s.engine.Initialize(container)
}

func (s *Session) SetLayers(ids ...model.LayerID) uint64 {
	return s.ctrl.SetActiveLayers(s.ctx, ids...)
}

func (s *Session) Toggle(id model.LayerID) uint64 {
	return s.ctrl.Toggle(s.ctx, id)
}

func (s *Session) Controller() *fetchmerge.Controller { return s.ctrl }
func (s *Session) Engine() *render.Engine            { return s.engine }
func (s *Session) Selection() *interaction.Handler   { return s.sel }

// Clicks are ordered on the canvas event loop and resolve in the background,
// so the loop never waits on a photo lookup.
func (s *Session) onPointer(kind model.LayerKind, f *geojson.Feature) {
	c, ok := s.sel.Begin(kind, f)
	if !ok {
		return
	}
	s.clicks.Add(1)
	go func() {
		defer s.clicks.Done()
		s.sel.Complete(s.ctx, c)
	}()
}

func (s *Session) onSelection(st model.SelectionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !st.Active {
		s.panel, s.detail = PanelLayers, nil
		return
	}
	p := detail.FromSelection(st)
	s.panel, s.detail = PanelDetail, &p
}

// Back closes the detail panel and drops the selection.
func (s *Session) Back() {
	s.sel.Clear()
}

func (s *Session) View() View {
	v := View{Active: s.ctrl.Active().Sorted()}
	if fc := s.ctrl.CurrentMerged(); fc != nil {
		v.Features = len(fc.Features)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v.Panel = s.panel
	if s.detail != nil {
		p := *s.detail
		v.Detail = &p
	}
	return v
}

// RenderDetail writes the detail panel. It writes nothing while the layer panel is shown.
func (s *Session) RenderDetail(w io.Writer) error {
	v := s.View()
	if v.Panel != PanelDetail || v.Detail == nil {
		return nil
	}
	return detail.Render(w, *v.Detail)
}

// Wait blocks until in-flight fetch rounds and clicks have settled.
func (s *Session) Wait() {
	s.ctrl.Wait()
	s.clicks.Wait()
}

func (s *Session) Close() {
	for _, u := range s.unsub {
		u()
	}
	s.unsub = nil
	s.Wait()
}
