package isochrone

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/isochrone-cli/internal/network"
)

// minHullPoints is the smallest point set a polygon can be built from.
const minHullPoints = 3

// Reachable returns the locations of every vertex of g within t.Distance
// meters of the vertex named sourceName, source included. It fails with
// ErrSourceNotFound if no vertex carries that name and with
// ErrInsufficientReachablePoints if fewer than three distinct locations are
// reachable.
func Reachable(g RoutableGraph, sourceName string, t Threshold) ([]geom.Coord, error) {
	src, ok := g.FindVertexByName(sourceName)
	if !ok {
		return nil, eris.Wrapf(ErrSourceNotFound, "no vertex named %s", sourceName)
	}

	vertices := g.ShortestDistance(src, t.Distance)
	points := make([]geom.Coord, 0, len(vertices)+1)
	points = append(points, g.VertexGeometry(src))
	seen := map[[2]float64]bool{{points[0].X(), points[0].Y()}: true}
	for _, v := range vertices {
		if v == src {
			continue
		}
		c := g.VertexGeometry(v)
		seen[[2]float64{c.X(), c.Y()}] = true
		points = append(points, c)
	}

	if len(seen) < minHullPoints {
		return nil, eris.Wrapf(ErrInsufficientReachablePoints,
			"%d distinct points reachable within %gm (%g min)", len(seen), t.Distance, t.Budget)
	}
	return points, nil
}

// sourceName is the vertex name a provider gives the snapped source point.
func sourceName(source geom.Coord) string {
	return network.VertexName(source)
}
