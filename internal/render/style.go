package render

import (
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/geoatlas/internal/colormap"
	"github.com/mohammed-shakir/geoatlas/internal/core/model"
)

// StyleLayer is one MapLibre style layer.
type StyleLayer struct {
	ID     string          `json:"id" yaml:"id"`
	Type   string          `json:"type" yaml:"type"`
	Source string          `json:"source" yaml:"source"`
	Filter any             `json:"filter,omitempty" yaml:"filter,omitempty"`
	Paint  map[string]any  `json:"paint,omitempty" yaml:"paint,omitempty"`
	Layout map[string]any  `json:"layout,omitempty" yaml:"layout,omitempty"`
	Kind   model.LayerKind `json:"-" yaml:"-"`
}

const (
	DefaultSourceID       = "geoatlas"
	DefaultLabelAttribute = "Name"
)

// LayerID returns the style layer id used for kind.
func LayerID(sourceID string, kind model.LayerKind) string {
	return sourceID + "-" + string(kind)
}

func geometryFilter(types ...string) []any {
	list := make([]any, len(types))
	for i, t := range types {
		list[i] = t
	}
	return []any{"match", []any{"geometry-type"}, list, true, false}
}

// StyleLayers compiles the per-geometry style layers for sourceID. Every
// layer is painted with the same categorical color expression compiled from
// table. An empty labelAttr omits the label layer.
func StyleLayers(sourceID string, table *colormap.Table, labelAttr string) []StyleLayer {
	color := table.MatchExpression()
	polygons := geometryFilter("Polygon", "MultiPolygon")

	layers := []StyleLayer{
		{
			ID:     LayerID(sourceID, model.KindFill),
			Type:   "fill",
			Source: sourceID,
			Filter: polygons,
			Paint: map[string]any{
				"fill-color":   color,
				"fill-opacity": 0.5,
			},
			Kind: model.KindFill,
		},
		{
			ID:     LayerID(sourceID, model.KindOutline),
			Type:   "line",
			Source: sourceID,
			Filter: polygons,
			Paint: map[string]any{
				"line-color": color,
				"line-width": 1,
			},
			Kind: model.KindOutline,
		},
		{
			ID:     LayerID(sourceID, model.KindLine),
			Type:   "line",
			Source: sourceID,
			Filter: geometryFilter("LineString", "MultiLineString"),
			Paint: map[string]any{
				"line-color": color,
				"line-width": 2,
			},
			Layout: map[string]any{
				"line-cap":  "round",
				"line-join": "round",
			},
			Kind: model.KindLine,
		},
		{
			ID:     LayerID(sourceID, model.KindPoint),
			Type:   "circle",
			Source: sourceID,
			Filter: geometryFilter("Point", "MultiPoint"),
			Paint: map[string]any{
				"circle-color":        color,
				"circle-radius":       6,
				"circle-stroke-color": "#ffffff",
				"circle-stroke-width": 1,
			},
			Kind: model.KindPoint,
		},
	}
	if labelAttr == "" {
		return layers
	}
	return append(layers, StyleLayer{
		ID:     LayerID(sourceID, model.KindLabel),
		Type:   "symbol",
		Source: sourceID,
		Filter: []any{"has", labelAttr},
		Layout: map[string]any{
			"text-field":  []any{"get", labelAttr},
			"text-size":   12,
			"text-offset": []any{0, 1.2},
			"text-anchor": "top",
		},
		Paint: map[string]any{
			"text-color":      color,
			"text-halo-color": "#ffffff",
			"text-halo-width": 1,
		},
		Kind: model.KindLabel,
	})
}

// KindFor returns the primary style layer kind that draws g.
func KindFor(g orb.Geometry) model.LayerKind {
	switch g.(type) {
	case orb.Polygon, orb.MultiPolygon, orb.Ring, orb.Bound:
		return model.KindFill
	case orb.LineString, orb.MultiLineString:
		return model.KindLine
	default:
		return model.KindPoint
	}
}
