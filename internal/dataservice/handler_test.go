package dataservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/geoatlas/internal/cache/keys"
	"github.com/mohammed-shakir/geoatlas/internal/cache/redisstore"
)

const faultsFC = `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"LineString","coordinates":[[0,0],[1,1]]},"properties":{"Name":"A"}}]}`

type fakeStore struct {
	mu      sync.Mutex
	layers  map[string]string
	photos  map[string]string
	panels  []Photo
	filters []Filter
	queries []PhotoQuery
	err     error
}

func (s *fakeStore) ListLayers(context.Context) ([]LayerInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	gt := "MULTILINESTRING"
	return []LayerInfo{{Name: "faults", DisplayName: "Faults", FeatureCount: 1, GeometryType: &gt}}, nil
}

func (s *fakeStore) LayerGeoJSON(_ context.Context, layer string, f Filter) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = append(s.filters, f)
	if s.err != nil {
		return nil, s.err
	}
	body, ok := s.layers[layer]
	if !ok {
		return nil, fmt.Errorf("layer %q: %w", layer, ErrNotFound)
	}
	return []byte(body), nil
}

func (s *fakeStore) PhotoURL(_ context.Context, ref string) (string, error) {
	u, ok := s.photos[ref]
	if !ok {
		return "", ErrNotFound
	}
	return u, nil
}

func (s *fakeStore) DescribeLayer(_ context.Context, layer string) (LayerInfo, error) {
	if s.err != nil {
		return LayerInfo{}, s.err
	}
	if _, ok := s.layers[layer]; !ok {
		return LayerInfo{}, fmt.Errorf("layer %q: %w", layer, ErrNotFound)
	}
	gt := "MULTILINESTRING"
	return LayerInfo{Name: layer, DisplayName: "Faults", FeatureCount: 1, GeometryType: &gt}, nil
}

// ListPhotos applies the name filter and paging; bbox is only recorded.
func (s *fakeStore) ListPhotos(_ context.Context, q PhotoQuery) ([]Photo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, q)
	if s.err != nil {
		return nil, s.err
	}
	var matched []Photo
	for _, p := range s.panels {
		if q.Name == "" || strings.Contains(strings.ToLower(p.Name), strings.ToLower(q.Name)) {
			matched = append(matched, p)
		}
	}
	if q.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[q.Offset:]
	if len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

func (s *fakeStore) lastQuery(t *testing.T) PhotoQuery {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queries) == 0 {
		t.Fatal("store saw no photo query")
	}
	return s.queries[len(s.queries)-1]
}

func (s *fakeStore) Ping(context.Context) error { return s.err }

func (s *fakeStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.filters)
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newServer(t *testing.T, s Store, opts ...HandlerOption) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	NewHandler(s, append([]HandlerOption{WithLogger(quiet())}, opts...)...).Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, b
}

func TestListLayers(t *testing.T) {
	srv := newServer(t, &fakeStore{})
	resp, body := get(t, srv.URL+"/layers")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d body=%s", resp.StatusCode, body)
	}
	var out struct {
		Tables []LayerInfo `json:"tables"`
		Total  int         `json:"total"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if out.Total != 1 || out.Tables[0].Name != "faults" || out.Tables[0].DisplayName != "Faults" {
		t.Fatalf("out=%+v", out)
	}
}

func TestGetLayer_StatusMapping(t *testing.T) {
	srv := newServer(t, &fakeStore{layers: map[string]string{"faults": faultsFC}})

	resp, body := get(t, srv.URL+"/layers/faults?limit=5")
	if resp.StatusCode != http.StatusOK || string(body) != faultsFC {
		t.Fatalf("status=%d body=%s", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/geo+json" {
		t.Fatalf("content-type=%q", ct)
	}

	if resp, _ := get(t, srv.URL+"/layers/nope"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown layer status=%d want 404", resp.StatusCode)
	}
	if resp, _ := get(t, srv.URL+"/layers/faults?limit=0"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit status=%d want 400", resp.StatusCode)
	}
	if resp, _ := get(t, srv.URL+"/layers/faults?limit=2000"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("limit over max status=%d want 400", resp.StatusCode)
	}
}

func TestGetLayer_StoreFailureIs500(t *testing.T) {
	srv := newServer(t, &fakeStore{err: errors.New("connection refused")})
	resp, body := get(t, srv.URL+"/layers/faults")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status=%d want 500", resp.StatusCode)
	}
	var e errorBody
	if err := json.Unmarshal(body, &e); err != nil || e.Detail != "internal error" {
		t.Fatalf("body=%s", body)
	}
}

func TestGetLayer_ResponseCache(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mr.Close)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	rc, err := redisstore.New(ctx, mr.Addr())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = rc.Close() })

	st := &fakeStore{layers: map[string]string{"faults": faultsFC}}
	ttl := func(string) time.Duration { return time.Minute }
	srv := newServer(t, st, WithResponseCache(rc, ttl, time.Second))

	resp, _ := get(t, srv.URL+"/layers/faults")
	if resp.Header.Get("X-Cache") != "MISS" {
		t.Fatalf("first X-Cache=%q", resp.Header.Get("X-Cache"))
	}
	resp, body := get(t, srv.URL+"/layers/faults")
	if resp.Header.Get("X-Cache") != "HIT" || string(body) != faultsFC {
		t.Fatalf("second X-Cache=%q body=%s", resp.Header.Get("X-Cache"), body)
	}
	if st.calls() != 1 {
		t.Fatalf("store calls=%d want 1", st.calls())
	}
	if !mr.Exists(keys.Layer("faults")) {
		t.Fatalf("response not stored under %s", keys.Layer("faults"))
	}

	// filters get their own entry; spelling variants share it
	resp, _ = get(t, srv.URL+"/layers/faults?name=San")
	if resp.Header.Get("X-Cache") != "MISS" {
		t.Fatalf("filtered X-Cache=%q", resp.Header.Get("X-Cache"))
	}
	resp, _ = get(t, srv.URL+"/layers/faults?name=san")
	if resp.Header.Get("X-Cache") != "HIT" || st.calls() != 2 {
		t.Fatalf("filtered X-Cache=%q calls=%d", resp.Header.Get("X-Cache"), st.calls())
	}
	filtered := keys.Query("faults", Filter{Name: "san"}.Canonical())
	if !mr.Exists(filtered) {
		t.Fatalf("filtered response not stored under %s", filtered)
	}

	h := NewHandler(st, WithResponseCache(rc, ttl, time.Second))
	if err := h.Invalidate(context.Background(), "faults"); err != nil {
		t.Fatal(err)
	}
	if mr.Exists(keys.Layer("faults")) || mr.Exists(filtered) {
		t.Fatal("Invalidate left cached responses")
	}
	resp, _ = get(t, srv.URL+"/layers/faults")
	if resp.Header.Get("X-Cache") != "MISS" || st.calls() != 3 {
		t.Fatalf("after invalidation X-Cache=%q calls=%d", resp.Header.Get("X-Cache"), st.calls())
	}
}

func TestGetPhoto(t *testing.T) {
	srv := newServer(t, &fakeStore{photos: map[string]string{"IMG 1.jpg": "https://cdn.example/IMG%201.jpg"}})

	resp, body := get(t, srv.URL+"/photos/IMG%201.jpg")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d body=%s", resp.StatusCode, body)
	}
	var out photoResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if out.Reference != "IMG 1.jpg" || out.URL != "https://cdn.example/IMG%201.jpg" {
		t.Fatalf("out=%+v", out)
	}

	if resp, _ := get(t, srv.URL+"/photos/missing.jpg"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing status=%d want 404", resp.StatusCode)
	}
}

func TestLayerInfo(t *testing.T) {
	srv := newServer(t, &fakeStore{layers: map[string]string{"faults": faultsFC}})

	resp, body := get(t, srv.URL+"/layers/faults/info")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d body=%s", resp.StatusCode, body)
	}
	var li LayerInfo
	if err := json.Unmarshal(body, &li); err != nil {
		t.Fatal(err)
	}
	if li.Name != "faults" || li.FeatureCount != 1 || li.GeometryType == nil || *li.GeometryType != "MULTILINESTRING" {
		t.Fatalf("info=%+v", li)
	}

	if resp, _ := get(t, srv.URL+"/layers/nope/info"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown layer status=%d want 404", resp.StatusCode)
	}
}

func panels(names ...string) []Photo {
	out := make([]Photo, 0, len(names))
	for i, n := range names {
		link := n + ".jpg"
		out = append(out, Photo{ID: int64(i + 1), Name: n, Hyperlink: &link})
	}
	return out
}

func TestListPhotos_PagingAndNameFilter(t *testing.T) {
	st := &fakeStore{panels: panels("Sierra Fan", "Delaware Basin", "sierra ridge", "Guadalupe")}
	srv := newServer(t, st)

	var out photoList
	resp, body := get(t, srv.URL+"/photos")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d body=%s", resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if out.Total != 4 || len(out.Photos) != 4 {
		t.Fatalf("total=%d photos=%d want 4", out.Total, len(out.Photos))
	}
	if q := st.lastQuery(t); q.Limit != 100 || q.Offset != 0 || q.BBox != nil {
		t.Fatalf("default query=%+v", q)
	}

	_, body = get(t, srv.URL+"/photos?name=SIERRA&limit=1&offset=1")
	out = photoList{}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if out.Total != 1 || out.Photos[0].Name != "sierra ridge" || *out.Photos[0].Hyperlink != "sierra ridge.jpg" {
		t.Fatalf("filtered page=%+v", out)
	}

	_, body = get(t, srv.URL+"/photos?offset=10")
	if string(body) != "{\"photos\":[],\"total\":0}\n" {
		t.Fatalf("past the end body=%s", body)
	}

	for _, bad := range []string{"limit=0", "limit=1001", "offset=-1", "bbox=1,2,3"} {
		if resp, _ := get(t, srv.URL+"/photos?"+bad); resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s status=%d want 400", bad, resp.StatusCode)
		}
	}
}

func TestListPhotos_BBoxIsPassedToStore(t *testing.T) {
	st := &fakeStore{panels: panels("A")}
	srv := newServer(t, st)

	resp, body := get(t, srv.URL+"/photos?bbox=-104.5,31.5,-103.5,32.5&limit=20")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d body=%s", resp.StatusCode, body)
	}
	q := st.lastQuery(t)
	if q.BBox == nil || q.BBox.X1 != -104.5 || q.BBox.Y1 != 31.5 || q.BBox.X2 != -103.5 || q.BBox.Y2 != 32.5 {
		t.Fatalf("bbox=%+v", q.BBox)
	}
	if q.Limit != 20 {
		t.Fatalf("limit=%d want 20", q.Limit)
	}
}

func TestListPhotos_StoreFailureIs500(t *testing.T) {
	srv := newServer(t, &fakeStore{err: errors.New("connection refused")})
	if resp, _ := get(t, srv.URL+"/photos"); resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status=%d want 500", resp.StatusCode)
	}
}
