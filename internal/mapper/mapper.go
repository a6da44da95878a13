// Package mapper converts feature geometry to H3 cells.
package mapper

import (
	"github.com/paulmach/orb"
)

type Interface interface {
	CellForPoint(p orb.Point, res int) (string, error)
	CellForGeometry(g orb.Geometry, res int) (string, error)
}
