package network

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

// DefaultSnapRadius is the distance in meters within which an additional
// node is attached to the nearest edge.
const DefaultSnapRadius = 50.0

type segment struct {
	a, b   geom.Coord
	ia, ib VertexID
	dir    int
}

// Build splits every edge of t into straight segments, adds them to a new
// graph weighted by great-circle length in meters, and snaps each additional
// node onto its nearest segment. A snapped node becomes a vertex named by its
// own location, so it can later be found with FindVertexByName(VertexName(c)).
// Nodes farther than snapRadius meters from every segment are left out.
func Build(t *Table, mode Mode, extra []geom.Coord, snapRadius float64) *Graph {
	g := NewGraph()
	var segs []segment

	for _, e := range t.Edges {
		if e.Geometry == nil {
			continue
		}
		dir := 0
		if mode == Vehicle {
			dir = e.Direction()
		}
		coords := e.Geometry.Coords()
		for i := 1; i < len(coords); i++ {
			a, b := coords[i-1], coords[i]
			if a.X() == b.X() && a.Y() == b.Y() {
				continue
			}
			ia, ib := g.AddVertex(a), g.AddVertex(b)
			w := Length(a, b)
			if dir >= 0 {
				g.AddArc(ia, ib, w)
			}
			if dir <= 0 {
				g.AddArc(ib, ia, w)
			}
			segs = append(segs, segment{a: a, b: b, ia: ia, ib: ib, dir: dir})
		}
	}

	for _, c := range extra {
		if _, ok := g.FindVertexByName(VertexName(c)); ok {
			continue
		}
		if !snap(g, segs, c, snapRadius) {
			zap.L().Debug("network: additional node not snapped",
				zap.String("node", VertexName(c)),
				zap.Float64("snap_radius_m", snapRadius),
			)
		}
	}
	return g
}

func snap(g *Graph, segs []segment, c geom.Coord, radius float64) bool {
	bestIdx := -1
	var bestProj geom.Coord
	bestDist := math.Inf(1)
	for i, s := range segs {
		p := projectOnSegment(c, s.a, s.b)
		if d := Length(c, p); d < bestDist {
			bestIdx, bestProj, bestDist = i, p, d
		}
	}
	if bestIdx < 0 || bestDist > radius {
		return false
	}

	s := segs[bestIdx]
	v := g.AddVertex(c)
	da, db := Length(bestProj, s.a), Length(bestProj, s.b)
	if s.dir >= 0 {
		g.AddArc(v, s.ib, bestDist+db)
		g.AddArc(s.ia, v, da+bestDist)
	}
	if s.dir <= 0 {
		g.AddArc(v, s.ia, bestDist+da)
		g.AddArc(s.ib, v, db+bestDist)
	}
	return true
}

// Length returns the haversine distance between a and b in meters.
func Length(a, b geom.Coord) float64 {
	return geo.DistanceHaversine(orb.Point{a.X(), a.Y()}, orb.Point{b.X(), b.Y()})
}

// projectOnSegment returns the point of segment ab closest to p, using a
// local equirectangular approximation around p.
func projectOnSegment(p, a, b geom.Coord) geom.Coord {
	kx := math.Cos(p.Y() * math.Pi / 180)
	ax, ay := (a.X()-p.X())*kx, a.Y()-p.Y()
	dx, dy := (b.X()-a.X())*kx, b.Y()-a.Y()

	var t float64
	if den := dx*dx + dy*dy; den > 0 {
		t = math.Max(0, math.Min(1, -(ax*dx+ay*dy)/den))
	}
	return geom.Coord{a.X() + (b.X()-a.X())*t, a.Y() + (b.Y()-a.Y())*t}
}
