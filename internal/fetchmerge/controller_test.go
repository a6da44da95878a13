package fetchmerge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/geoatlas/internal/core/model"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func layerFC(id model.LayerID, n int) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for i := range n {
		f := geojson.NewFeature(orb.Point{float64(i), 0})
		f.Properties["Name"] = fmt.Sprintf("%s-%d", id, i)
		fc.Append(f)
	}
	return fc
}

// fakeSource serves fixed collections; layers listed in gates block until
// their channel is closed.
type fakeSource struct {
	mu    sync.Mutex
	data  map[model.LayerID]*geojson.FeatureCollection
	fail  map[model.LayerID]error
	gates map[model.LayerID]chan struct{}
	calls []model.LayerID
}

func (s *fakeSource) Fetch(ctx context.Context, id model.LayerID) (*geojson.FeatureCollection, error) {
	s.mu.Lock()
	s.calls = append(s.calls, id)
	gate := s.gates[id]
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := s.fail[id]; err != nil {
		return nil, err
	}
	fc, ok := s.data[id]
	if !ok {
		return nil, errors.New("upstream status 404: unknown layer")
	}
	return fc, nil
}

func (s *fakeSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type recordingSink struct {
	mu      sync.Mutex
	updates []*geojson.FeatureCollection
}

func (r *recordingSink) UpdateData(fc *geojson.FeatureCollection) {
	r.mu.Lock()
	r.updates = append(r.updates, fc)
	r.mu.Unlock()
}

func (r *recordingSink) last(t *testing.T) *geojson.FeatureCollection {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.updates) == 0 {
		t.Fatalf("sink received no updates")
	}
	return r.updates[len(r.updates)-1]
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

func names(fc *geojson.FeatureCollection) []string {
	out := make([]string, 0, len(fc.Features))
	for _, f := range fc.Features {
		out = append(out, f.Properties.MustString("Name", ""))
	}
	return out
}

func TestMergedCollection_ScenarioFaultsAndFanGeology(t *testing.T) {
	src := &fakeSource{data: map[model.LayerID]*geojson.FeatureCollection{
		model.Faults:     layerFC(model.Faults, 10),
		model.FanGeology: layerFC(model.FanGeology, 5),
	}}
	sink := &recordingSink{}
	c := New(src, sink, WithLogger(quiet()))
	ctx := context.Background()

	c.SetActiveLayers(ctx, model.Faults, model.FanGeology)
	c.Wait()
	if got := len(sink.last(t).Features); got != 15 {
		t.Fatalf("merged=%d want 15", got)
	}

	c.Toggle(ctx, model.Faults)
	c.Wait()
	got := names(sink.last(t))
	if len(got) != 5 {
		t.Fatalf("merged=%d want 5", len(got))
	}
	for i, n := range got {
		if n != fmt.Sprintf("fan_geology-%d", i) {
			t.Fatalf("feature %d=%q; only fan_geology features expected in order", i, n)
		}
	}
	if c.CurrentMerged() != sink.last(t) {
		t.Fatalf("CurrentMerged differs from last published collection")
	}
}

func TestMerge_IndependentOfInputOrder_AndPreservesIntraLayerOrder(t *testing.T) {
	data := map[model.LayerID]*geojson.FeatureCollection{
		model.Faults:     layerFC(model.Faults, 3),
		model.FanGeology: layerFC(model.FanGeology, 2),
		model.AtlasMaps:  layerFC(model.AtlasMaps, 4),
	}
	run := func(ids ...model.LayerID) []string {
		c := New(&fakeSource{data: data}, nil, WithLogger(quiet()), WithMaxWorkers(2))
		c.SetActiveLayers(context.Background(), ids...)
		c.Wait()
		return names(c.CurrentMerged())
	}
	a := run(model.Faults, model.FanGeology, model.AtlasMaps)
	b := run(model.AtlasMaps, model.Faults, model.FanGeology, model.Faults)
	if fmt.Sprint(a) != fmt.Sprint(b) {
		t.Fatalf("merge depends on input order:\n a=%v\n b=%v", a, b)
	}
	if len(a) != 9 {
		t.Fatalf("merged=%d want 9", len(a))
	}

	// each layer's features appear in their original relative order
	pos := map[string]int{}
	for i, n := range a {
		pos[n] = i
	}
	for id, fc := range data {
		for i := 1; i < len(fc.Features); i++ {
			prev := fmt.Sprintf("%s-%d", id, i-1)
			cur := fmt.Sprintf("%s-%d", id, i)
			if pos[prev] > pos[cur] {
				t.Fatalf("intra-layer order broken for %s: %v", id, a)
			}
		}
	}
}

func TestPartialFailure_LayerContributesZeroFeatures(t *testing.T) {
	boom := errors.New("upstream status 502: bad gateway")
	src := &fakeSource{
		data: map[model.LayerID]*geojson.FeatureCollection{model.Faults: layerFC(model.Faults, 10)},
		fail: map[model.LayerID]error{model.FanGeology: boom},
	}
	sink := &recordingSink{}
	c := New(src, sink, WithLogger(quiet()))

	c.SetActiveLayers(context.Background(), model.Faults, model.FanGeology, "not_a_layer")
	c.Wait()

	if got := len(sink.last(t).Features); got != 10 {
		t.Fatalf("merged=%d want 10", got)
	}
	r := c.LastRound()
	if len(r.Failed) != 2 {
		t.Fatalf("failed=%d want 2 (%v)", len(r.Failed), r.Failed)
	}
	var fanErr *RetrievalError
	for _, f := range r.Failed {
		if f.Layer == model.FanGeology {
			fanErr = f
		}
	}
	if fanErr == nil || !errors.Is(fanErr, boom) {
		t.Fatalf("fan_geology failure not recorded with cause: %v", r.Failed)
	}
}

func TestEmptySet_PublishesImmediatelyWithoutFetching(t *testing.T) {
	src := &fakeSource{}
	sink := &recordingSink{}
	c := New(src, sink, WithLogger(quiet()))

	c.SetActiveLayers(context.Background())

	if sink.count() != 1 {
		t.Fatalf("expected a synchronous publish, got %d updates", sink.count())
	}
	if n := len(sink.last(t).Features); n != 0 {
		t.Fatalf("empty set published %d features", n)
	}
	if src.callCount() != 0 {
		t.Fatalf("empty set issued %d retrievals", src.callCount())
	}
}

func TestEmptySet_SupersedesInFlightRound(t *testing.T) {
	gate := make(chan struct{})
	src := &fakeSource{
		data:  map[model.LayerID]*geojson.FeatureCollection{model.Faults: layerFC(model.Faults, 3)},
		gates: map[model.LayerID]chan struct{}{model.Faults: gate},
	}
	sink := &recordingSink{}
	c := New(src, sink, WithLogger(quiet()))
	ctx := context.Background()

	c.SetActiveLayers(ctx, model.Faults)
	c.Toggle(ctx, model.Faults)
	close(gate)
	c.Wait()

	if n := len(sink.last(t).Features); n != 0 {
		t.Fatalf("stale round overwrote empty set: %d features", n)
	}
	if sink.count() != 1 {
		t.Fatalf("updates=%d want 1", sink.count())
	}
}

func TestSupersession_OlderRoundFinishingLastIsDiscarded(t *testing.T) {
	gateB := make(chan struct{})
	src := &fakeSource{
		data: map[model.LayerID]*geojson.FeatureCollection{
			model.Faults:     layerFC(model.Faults, 10),
			model.FanGeology: layerFC(model.FanGeology, 5),
		},
		gates: map[model.LayerID]chan struct{}{model.FanGeology: gateB},
	}
	sink := &recordingSink{}
	c := New(src, sink, WithLogger(quiet()))
	ctx := context.Background()

	g1 := c.SetActiveLayers(ctx, model.Faults, model.FanGeology)
	g2 := c.SetActiveLayers(ctx, model.Faults)
	if g2 <= g1 {
		t.Fatalf("generation not increasing: g1=%d g2=%d", g1, g2)
	}

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("g2 never published")
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(gateB)
	c.Wait()

	if sink.count() != 1 {
		t.Fatalf("updates=%d want 1 (g1 must be discarded)", sink.count())
	}
	got := names(sink.last(t))
	if len(got) != 10 {
		t.Fatalf("final merged=%d want 10 (faults only)", len(got))
	}
	if r := c.LastRound(); r.Generation != g2 {
		t.Fatalf("last round generation=%d want %d", r.Generation, g2)
	}
}

// barrierSource blocks every Fetch until n fetches are in flight at once.
type barrierSource struct {
	n       int
	mu      sync.Mutex
	started int
	ready   chan struct{}
}

func (b *barrierSource) Fetch(ctx context.Context, id model.LayerID) (*geojson.FeatureCollection, error) {
	b.mu.Lock()
	b.started++
	if b.started == b.n {
		close(b.ready)
	}
	b.mu.Unlock()
	select {
	case <-b.ready:
		return layerFC(id, 1), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestRetrievals_AreIssuedConcurrently(t *testing.T) {
	ids := []model.LayerID{model.Faults, model.FanGeology, model.AtlasMaps, model.PhotoPanels}
	src := &barrierSource{n: len(ids), ready: make(chan struct{})}
	c := New(src, nil, WithLogger(quiet()), WithFetchTimeout(2*time.Second))

	c.SetActiveLayers(context.Background(), ids...)
	c.Wait()

	r := c.LastRound()
	if len(r.Failed) != 0 {
		t.Fatalf("retrievals were serialized (timed out): %v", r.Failed)
	}
	if r.Features != len(ids) {
		t.Fatalf("features=%d want %d", r.Features, len(ids))
	}
}

func TestToggleOffOn_RendersSameCollection(t *testing.T) {
	src := &fakeSource{data: map[model.LayerID]*geojson.FeatureCollection{
		model.Faults: layerFC(model.Faults, 4),
	}}
	sink := &recordingSink{}
	c := New(src, sink, WithLogger(quiet()))
	ctx := context.Background()

	c.Toggle(ctx, model.Faults)
	c.Wait()
	before := names(sink.last(t))
	c.Toggle(ctx, model.Faults)
	c.Toggle(ctx, model.Faults)
	c.Wait()
	after := names(sink.last(t))
	if fmt.Sprint(before) != fmt.Sprint(after) {
		t.Fatalf("off/on changed result: %v vs %v", before, after)
	}
	if got := c.Active().Sorted(); len(got) != 1 || got[0] != model.Faults {
		t.Fatalf("active=%v", got)
	}
}

func TestToggle_NormalizesIDLikeActiveSet(t *testing.T) {
	src := &fakeSource{data: map[model.LayerID]*geojson.FeatureCollection{
		model.Faults: layerFC(model.Faults, 3),
	}}
	sink := &recordingSink{}
	c := New(src, sink, WithLogger(quiet()))
	ctx := context.Background()

	c.SetActiveLayers(ctx, model.Faults)
	c.Wait()
	g := c.Toggle(ctx, " faults ")
	c.Wait()
	if c.Active().Has(model.Faults) || len(c.Active()) != 0 {
		t.Fatalf("padded toggle did not remove faults: %v", c.Active().Sorted())
	}
	if got := len(sink.last(t).Features); got != 0 {
		t.Fatalf("rendered %d features after toggle off", got)
	}

	calls, updates := src.callCount(), sink.count()
	if got := c.Toggle(ctx, "   "); got != g {
		t.Fatalf("blank toggle started generation %d want %d", got, g)
	}
	c.Wait()
	if len(c.Active()) != 0 || src.callCount() != calls || sink.count() != updates {
		t.Fatalf("blank toggle changed state: active=%v calls=%d updates=%d",
			c.Active().Sorted(), src.callCount(), sink.count())
	}

	c.Toggle(ctx, "faults\t")
	c.Wait()
	if got := c.Active().Sorted(); len(got) != 1 || got[0] != model.Faults {
		t.Fatalf("active=%v want [faults]", got)
	}
}

func TestRefresh_OnlyWhenLayerActive(t *testing.T) {
	src := &fakeSource{data: map[model.LayerID]*geojson.FeatureCollection{
		model.Faults: layerFC(model.Faults, 2),
	}}
	c := New(src, nil, WithLogger(quiet()))
	ctx := context.Background()
	g := c.SetActiveLayers(ctx, model.Faults)
	c.Wait()

	if _, ok := c.Refresh(ctx, model.FanGeology); ok {
		t.Fatalf("refresh of inactive layer must be a no-op")
	}
	g2, ok := c.Refresh(ctx, model.Faults, model.FanGeology)
	if !ok || g2 != g+1 {
		t.Fatalf("refresh=(%d,%v) want (%d,true)", g2, ok, g+1)
	}
	c.Wait()
	if src.callCount() != 2 {
		t.Fatalf("calls=%d want 2", src.callCount())
	}
	active := c.Active().Strings()
	sort.Strings(active)
	if len(active) != 1 || active[0] != "faults" {
		t.Fatalf("active changed by refresh: %v", active)
	}
}
