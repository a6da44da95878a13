// Package model defines core domain types shared across the engine and the data service.
package model

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// LayerID names one retrievable feature collection.
type LayerID string

const (
	AtlasMaps                LayerID = "atlas_maps"
	Faults                   LayerID = "faults"
	FanGeology               LayerID = "fan_geology"
	FanDeliverySystem        LayerID = "fan_delivery_system"
	FieldTripStops           LayerID = "fieldtripstops"
	GISRegionLarge           LayerID = "gis_region_large"
	GISRegionSmall           LayerID = "gis_region_small"
	GradientRegions          LayerID = "gradient_regions"
	MeasuredSectionsAllAreas LayerID = "measured_sections_all_areas"
	PhotoPanels              LayerID = "photo_panels"
)

var displayNames = map[LayerID]string{
	AtlasMaps:                "Atlas Maps",
	"atlasmaps":              "Atlas Maps (Extended)",
	Faults:                   "Faults",
	FanGeology:               "Fan Geology",
	"fangeology":             "Fan Geology (Detailed)",
	FanDeliverySystem:        "Fan Delivery System",
	FieldTripStops:           "Field Trip Stops",
	"ftrip_m":                "Field Trip Markers",
	GISRegionLarge:           "Large GIS Regions",
	GISRegionSmall:           "Small GIS Regions",
	GradientRegions:          "Gradient Regions",
	MeasuredSectionsAllAreas: "Measured Sections",
	PhotoPanels:              "Photo Panels",
	"geospatial_data":        "Geospatial Data (General)",
}

var knownLayers = []LayerID{
	AtlasMaps, Faults, FanDeliverySystem, FanGeology, FieldTripStops,
	GISRegionLarge, GISRegionSmall, GradientRegions, MeasuredSectionsAllAreas, PhotoPanels,
}

// KnownLayers returns the built-in layer identifiers in a stable order.
func KnownLayers() []LayerID {
	return append([]LayerID(nil), knownLayers...)
}

// DisplayName returns a human-readable label for a layer.
func DisplayName(id LayerID) string {
	if n, ok := displayNames[id]; ok {
		return n
	}
	words := strings.Fields(strings.ReplaceAll(string(id), "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

var layerIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Valid reports whether id is a well-formed layer identifier. Well-formed
// ids are safe to use as SQL identifiers.
func (id LayerID) Valid() bool {
	return len(id) <= 63 && layerIDPattern.MatchString(string(id))
}

// ActiveLayerSet is an unordered set of layer ids.
type ActiveLayerSet map[LayerID]struct{}

func NewActiveLayerSet(ids ...LayerID) ActiveLayerSet {
	s := make(ActiveLayerSet, len(ids))
	for _, id := range ids {
		id = LayerID(strings.TrimSpace(string(id)))
		if id == "" {
			continue
		}
		s[id] = struct{}{}
	}
	return s
}

func (s ActiveLayerSet) Has(id LayerID) bool {
	_, ok := s[id]
	return ok
}

func (s ActiveLayerSet) Clone() ActiveLayerSet {
	out := make(ActiveLayerSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// Sorted returns the ids in lexical order. Order carries no meaning for merging.
func (s ActiveLayerSet) Sorted() []LayerID {
	out := make([]LayerID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s ActiveLayerSet) Strings() []string {
	ids := s.Sorted()
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

// LayerKind is the rendering layer a pointer event came from.
type LayerKind string

const (
	KindFill    LayerKind = "fill"
	KindOutline LayerKind = "outline"
	KindLine    LayerKind = "line"
	KindPoint   LayerKind = "point"
	KindLabel   LayerKind = "label"
)

// SelectionState is either empty (Active=false) or one selected feature's
// properties plus its resolved photo URL. Geometry is kept for locating the
// selection and is never shown.
type SelectionState struct {
	Active     bool
	Kind       LayerKind
	Properties geojson.Properties
	Geometry   orb.Geometry
	PhotoURL   *string
	Generation uint64
}

// BBox is a lon/lat envelope in EPSG:4326.
type BBox struct {
	X1, Y1 float64
	X2, Y2 float64
	SRID   string
}

func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f,%s", b.X1, b.Y1, b.X2, b.Y2, b.SRID)
}
