package h3mapper

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/geoatlas/internal/mapper"
)

var _ mapper.Interface = (*Mapper)(nil)

var ErrEmptyGeometry = errors.New("empty geometry")

type Mapper struct{}

func New() *Mapper { return &Mapper{} }

// CellForPoint returns the cell containing p (lon, lat in EPSG:4326).
func (m *Mapper) CellForPoint(p orb.Point, res int) (string, error) {
	if err := validateRes(res); err != nil {
		return "", err
	}
	lon, lat := p.Lon(), p.Lat()
	if math.IsNaN(lon) || math.IsNaN(lat) || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return "", fmt.Errorf("point out of range: %v", p)
	}
	c, err := h3.LatLngToCell(h3.LatLng{Lat: lat, Lng: lon}, res)
	if err != nil {
		return "", fmt.Errorf("h3 cell: %w", err)
	}
	return c.String(), nil
}

// CellForGeometry returns the cell containing the anchor point of g.
func (m *Mapper) CellForGeometry(g orb.Geometry, res int) (string, error) {
	p, err := Anchor(g)
	if err != nil {
		return "", err
	}
	return m.CellForPoint(p, res)
}

// Anchor is the point a geometry is located by: the point itself for points,
// otherwise the planar centroid. Degenerate shapes fall back to the bound center.
func Anchor(g orb.Geometry) (orb.Point, error) {
	if isEmpty(g) {
		return orb.Point{}, ErrEmptyGeometry
	}
	if p, ok := g.(orb.Point); ok {
		return p, nil
	}
	c, _ := planar.CentroidArea(g)
	if math.IsNaN(c[0]) || math.IsNaN(c[1]) {
		return g.Bound().Center(), nil
	}
	return c, nil
}

func isEmpty(g orb.Geometry) bool {
	switch v := g.(type) {
	case nil:
		return true
	case orb.Point:
		return false
	case orb.MultiPoint:
		return len(v) == 0
	case orb.LineString:
		return len(v) == 0
	case orb.MultiLineString:
		return len(v) == 0
	case orb.Ring:
		return len(v) == 0
	case orb.Polygon:
		return len(v) == 0 || len(v[0]) == 0
	case orb.MultiPolygon:
		return len(v) == 0
	case orb.Collection:
		return len(v) == 0
	case orb.Bound:
		return false
	}
	return false
}

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}
