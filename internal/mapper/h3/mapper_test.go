package h3mapper

import (
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"
	h3 "github.com/uber/h3-go/v4"
)

func TestCellForPoint_ResolutionAndDeterminism(t *testing.T) {
	m := New()
	p := orb.Point{-116.35, 33.25}

	c1, err := m.CellForPoint(p, 8)
	if err != nil {
		t.Fatalf("CellForPoint: %v", err)
	}
	c2, _ := m.CellForPoint(p, 8)
	if c1 != c2 {
		t.Fatalf("non-deterministic: %s vs %s", c1, c2)
	}
	var c h3.Cell
	if err := c.UnmarshalText([]byte(c1)); err != nil {
		t.Fatalf("parse %q: %v", c1, err)
	}
	if !c.IsValid() || c.Resolution() != 8 {
		t.Fatalf("cell %s valid=%v res=%d", c1, c.IsValid(), c.Resolution())
	}
}

func TestCellForPoint_Rejects(t *testing.T) {
	m := New()
	if _, err := m.CellForPoint(orb.Point{0, 0}, 16); err == nil {
		t.Fatal("want error for res 16")
	}
	if _, err := m.CellForPoint(orb.Point{0, 95}, 5); err == nil {
		t.Fatal("want error for lat 95")
	}
}

func TestAnchor_Kinds(t *testing.T) {
	square := orb.Polygon{{{0, 0}, {2, 0}, {2, 2}, {0, 2}, {0, 0}}}
	line := orb.LineString{{0, 0}, {4, 0}}

	cases := map[string]struct {
		g    orb.Geometry
		want orb.Point
	}{
		"point":   {orb.Point{1, 2}, orb.Point{1, 2}},
		"polygon": {square, orb.Point{1, 1}},
		"line":    {line, orb.Point{2, 0}},
	}
	for name, tc := range cases {
		got, err := Anchor(tc.g)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if math.Abs(got[0]-tc.want[0]) > 1e-9 || math.Abs(got[1]-tc.want[1]) > 1e-9 {
			t.Fatalf("%s: got %v want %v", name, got, tc.want)
		}
	}
}

func TestAnchor_Empty(t *testing.T) {
	for _, g := range []orb.Geometry{nil, orb.MultiPoint{}, orb.Polygon{}, orb.LineString{}} {
		if _, err := Anchor(g); !errors.Is(err, ErrEmptyGeometry) {
			t.Fatalf("%T: err=%v", g, err)
		}
	}
}

func TestCellForGeometry_PolygonMatchesCentroidCell(t *testing.T) {
	m := New()
	square := orb.Polygon{{{18.00, 59.32}, {18.12, 59.32}, {18.12, 59.38}, {18.00, 59.38}, {18.00, 59.32}}}
	got, err := m.CellForGeometry(square, 9)
	if err != nil {
		t.Fatal(err)
	}
	c, _ := Anchor(square)
	want, _ := m.CellForPoint(c, 9)
	if got != want {
		t.Fatalf("got %s want %s", got, want)
	}
}
