// Package dataservice serves geologic layers as GeoJSON and resolves photo
// references, backed by PostGIS.
package dataservice

import (
	"context"
	"net/url"
	"strings"
)

// LayerInfo describes one queryable table.
type LayerInfo struct {
	Name         string  `json:"name"`
	DisplayName  string  `json:"display_name"`
	FeatureCount int64   `json:"feature_count"`
	GeometryType *string `json:"geometry_type"`
}

type Store interface {
	ListLayers(ctx context.Context) ([]LayerInfo, error)
	// DescribeLayer returns ErrNotFound for unknown or excluded layers.
	DescribeLayer(ctx context.Context, layer string) (LayerInfo, error)
	// LayerGeoJSON returns the encoded FeatureCollection for a layer, or
	// ErrNotFound when the layer does not exist or is not public.
	LayerGeoJSON(ctx context.Context, layer string, f Filter) ([]byte, error)
	// PhotoURL returns ErrNotFound when the reference is unknown.
	PhotoURL(ctx context.Context, reference string) (string, error)
	ListPhotos(ctx context.Context, q PhotoQuery) ([]Photo, error)
	Ping(ctx context.Context) error
}

var excludedTables = map[string]struct{}{
	"spatial_ref_sys":   {},
	"geometry_columns":  {},
	"geography_columns": {},
}

func isExcluded(table string) bool {
	_, ok := excludedTables[table]
	return ok
}

// photoURL passes absolute http(s) URLs through and joins bare filenames
// onto base. With no base the filename is returned as is.
func photoURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	lower := strings.ToLower(ref)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return ref
	}
	base = strings.TrimSpace(base)
	if base == "" {
		return ref
	}
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(strings.TrimLeft(ref, "/"))
}
