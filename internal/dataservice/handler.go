package dataservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/geoatlas/internal/cache"
	"github.com/mohammed-shakir/geoatlas/internal/cache/keys"
	"github.com/mohammed-shakir/geoatlas/internal/core/model"
	"github.com/mohammed-shakir/geoatlas/internal/core/observability"
	mylog "github.com/mohammed-shakir/geoatlas/internal/logger"
)

type HandlerOption func(*Handler)

// WithResponseCache caches layer responses under keys.Query. Invalidate drops
// the unfiltered entry and, when c is a cache.Matcher, every filtered one.
func WithResponseCache(c cache.Interface, ttl func(layer string) time.Duration, opTimeout time.Duration) HandlerOption {
	return func(h *Handler) {
		h.cache = c
		h.ttl = ttl
		if opTimeout > 0 {
			h.opTimeout = opTimeout
		}
	}
}

func WithMaxLimit(n int) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.maxLimit = n
		}
	}
}

func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

type Handler struct {
	store     Store
	cache     cache.Interface
	ttl       func(string) time.Duration
	opTimeout time.Duration
	maxLimit  int
	logger    *slog.Logger
}

func NewHandler(store Store, opts ...HandlerOption) *Handler {
	h := &Handler{
		store:     store,
		opTimeout: 250 * time.Millisecond,
		maxLimit:  1000,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Routes mounts the layer and photo endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/layers", h.listLayers)
	r.Get("/layers/{layerId}", h.getLayer)
	r.Get("/layers/{layerId}/info", h.layerInfo)
	r.Get("/photos", h.listPhotos)
	r.Get("/photos/{reference}", h.getPhoto)
}

type layerList struct {
	Tables []LayerInfo `json:"tables"`
	Total  int         `json:"total"`
}

func (h *Handler) listLayers(w http.ResponseWriter, r *http.Request) {
	layers, err := h.store.ListLayers(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if layers == nil {
		layers = []LayerInfo{}
	}
	writeJSON(w, http.StatusOK, layerList{Tables: layers, Total: len(layers)})
}

func (h *Handler) layerInfo(w http.ResponseWriter, r *http.Request) {
	layer := chi.URLParam(r, "layerId")
	ctx := mylog.WithLayer(r.Context(), layer)
	li, err := h.store.DescribeLayer(ctx, layer)
	if err != nil {
		h.fail(w, r.WithContext(ctx), err)
		return
	}
	writeJSON(w, http.StatusOK, li)
}

func (h *Handler) getLayer(w http.ResponseWriter, r *http.Request) {
	layer := chi.URLParam(r, "layerId")
	ctx := mylog.WithLayer(r.Context(), layer)

	f, err := ParseFilter(r.URL.Query(), h.maxLimit)
	if err != nil {
		h.fail(w, r.WithContext(ctx), err)
		return
	}

	cacheable := h.cache != nil
	key := keys.Query(layer, f.Canonical())
	if cacheable {
		if body, ok := h.cached(ctx, key); ok {
			w.Header().Set("X-Cache", "HIT")
			writeRaw(w, "application/geo+json", body)
			return
		}
	}

	body, err := h.store.LayerGeoJSON(ctx, layer, f)
	if err != nil {
		h.fail(w, r.WithContext(ctx), err)
		return
	}

	if cacheable {
		w.Header().Set("X-Cache", "MISS")
		cctx, cancel := context.WithTimeout(ctx, h.opTimeout)
		if err := h.cache.Set(cctx, key, body, h.ttlFor(layer)); err != nil {
			h.logger.WarnContext(ctx, "layer response cache write failed", "err", err)
		}
		cancel()
	}
	writeRaw(w, "application/geo+json", body)
}

func (h *Handler) cached(ctx context.Context, key string) ([]byte, bool) {
	cctx, cancel := context.WithTimeout(ctx, h.opTimeout)
	defer cancel()
	got, err := h.cache.MGet(cctx, []string{key})
	if err != nil {
		h.logger.WarnContext(ctx, "layer response cache read failed", "err", err)
		return nil, false
	}
	body, ok := got[key]
	if !ok || len(body) == 0 {
		observability.AddCacheMisses(1)
		return nil, false
	}
	observability.AddCacheHits(1)
	return body, true
}

func (h *Handler) ttlFor(layer string) time.Duration {
	if h.ttl == nil {
		return 0
	}
	return h.ttl(layer)
}

// Invalidate drops the cached responses of ids. Without a response cache it
// is a no-op.
func (h *Handler) Invalidate(ctx context.Context, ids ...model.LayerID) error {
	if h.cache == nil || len(ids) == 0 {
		return nil
	}
	ks := make([]string, 0, len(ids))
	for _, id := range ids {
		ks = append(ks, keys.Layer(string(id)))
	}
	cctx, cancel := context.WithTimeout(ctx, h.opTimeout)
	defer cancel()
	if err := h.cache.Del(cctx, ks...); err != nil {
		return fmt.Errorf("drop cached layers: %w", err)
	}
	m, ok := h.cache.(cache.Matcher)
	if !ok {
		return nil
	}
	for _, id := range ids {
		n, err := m.DelMatch(cctx, keys.QueryPattern(string(id)))
		if err != nil {
			return fmt.Errorf("drop filtered responses of %s: %w", id, err)
		}
		h.logger.DebugContext(ctx, "dropped filtered responses", "layer", string(id), "keys", n)
	}
	return nil
}

type photoList struct {
	Photos []Photo `json:"photos"`
	Total  int     `json:"total"`
}

// listPhotos pages through photo panels; total counts the returned page.
func (h *Handler) listPhotos(w http.ResponseWriter, r *http.Request) {
	q, err := ParsePhotoQuery(r.URL.Query())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	photos, err := h.store.ListPhotos(r.Context(), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if photos == nil {
		photos = []Photo{}
	}
	writeJSON(w, http.StatusOK, photoList{Photos: photos, Total: len(photos)})
}

type photoResponse struct {
	Reference string `json:"reference"`
	URL       string `json:"url"`
}

func (h *Handler) getPhoto(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "reference")
	if r.URL.RawPath != "" {
		// chi matched on the escaped path; references may carry "/"
		if u, err := url.PathUnescape(ref); err == nil {
			ref = u
		}
	}
	u, err := h.store.PhotoURL(r.Context(), ref)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, photoResponse{Reference: ref, URL: u})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidFilter):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled):
		// client went away
	default:
		h.logger.ErrorContext(r.Context(), "data service request failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type errorBody struct {
	Detail string `json:"detail"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Detail: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
