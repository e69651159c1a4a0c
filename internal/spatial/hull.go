package spatial

import (
	"math"
	"sort"

	sf "github.com/peterstace/simplefeatures/geom"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/isochrone-cli/internal/isochrone"
)

// DefaultConcavity is the edge-length to digging-distance ratio above which
// a boundary edge is pulled inward.
const DefaultConcavity = 2.0

// thinRatio is the half-width of the polygon returned for collinear points,
// relative to the length of their line.
const thinRatio = 1e-6

type point [2]float64

// ConcaveHull builds a concave polygon around a point set by starting from
// the convex hull and repeatedly digging long boundary edges towards the
// nearest interior point. The result is a simple polygon covering every
// input point; when digging cannot guarantee that, the convex hull is
// returned. Smaller Concavity values produce tighter hulls; +Inf yields the
// convex hull.
type ConcaveHull struct {
	Concavity float64
}

// ConvexHull builds the convex hull of a point set with simplefeatures.
type ConvexHull struct{}

// Hull implements isochrone.HullBuilder.
func (ConvexHull) Hull(points []geom.Coord) (*geom.Polygon, error) {
	pts := uniquePoints(points)
	if len(pts) < 3 {
		return nil, eris.Wrapf(isochrone.ErrInsufficientReachablePoints, "spatial: %d distinct points", len(pts))
	}
	poly, _, err := convexHull(pts)
	return poly, err
}

// Hull implements isochrone.HullBuilder.
func (h ConcaveHull) Hull(points []geom.Coord) (*geom.Polygon, error) {
	n := h.Concavity
	if n == 0 {
		n = DefaultConcavity
	}
	if math.IsNaN(n) || n < 0 {
		return nil, eris.Wrapf(isochrone.ErrInvalidParameter, "spatial: concavity must be positive, got %v", h.Concavity)
	}

	pts := uniquePoints(points)
	if len(pts) < 3 {
		return nil, eris.Wrapf(isochrone.ErrInsufficientReachablePoints, "spatial: %d distinct points", len(pts))
	}

	seed, collinear, err := convexHull(pts)
	if err != nil || collinear || math.IsInf(n, 1) {
		return seed, err
	}

	d := newDigger(pts, seed.LinearRing(0).Coords())
	d.dig(n)
	poly := d.polygon()

	ok, err := coversAll(poly, pts)
	if err != nil || !ok {
		zap.L().Debug("spatial: concave hull dropped points, using convex hull",
			zap.Int("points", len(pts)),
			zap.Error(err),
		)
		return seed, nil
	}
	return poly, nil
}

// convexHull returns the convex hull of pts. Collinear points yield a thin
// rectangle around their line and collinear=true.
func convexHull(pts []point) (poly *geom.Polygon, collinear bool, err error) {
	mp, err := multiPoint(pts)
	if err != nil {
		return nil, false, err
	}
	hull := mp.ConvexHull()

	switch {
	case hull.IsPolygon():
		g, err := fromSF(hull)
		if err != nil {
			return nil, false, eris.Wrap(err, "spatial: convex hull")
		}
		poly, ok := g.(*geom.Polygon)
		if !ok {
			return nil, false, eris.Errorf("spatial: convex hull is a %T", g)
		}
		return poly, false, nil
	case hull.IsLineString():
		ls, _ := hull.AsLineString()
		a, _ := ls.StartPoint().XY()
		b, _ := ls.EndPoint().XY()
		return thinPolygon(point{a.X, a.Y}, point{b.X, b.Y}), true, nil
	default:
		return nil, false, eris.Wrapf(isochrone.ErrInsufficientReachablePoints, "spatial: convex hull of %d points is a %s", len(pts), hull.Type())
	}
}

// thinPolygon is a counter-clockwise rectangle around the segment a-b.
func thinPolygon(a, b point) *geom.Polygon {
	l := dist(a, b)
	w := l * thinRatio
	nx, ny := -(b[1]-a[1])/l*w, (b[0]-a[0])/l*w
	return geom.NewPolygonFlat(geom.XY, []float64{
		a[0] - nx, a[1] - ny,
		b[0] - nx, b[1] - ny,
		b[0] + nx, b[1] + ny,
		a[0] + nx, a[1] + ny,
		a[0] - nx, a[1] - ny,
	}, []int{10})
}

func multiPoint(pts []point) (sf.MultiPoint, error) {
	out := make([]sf.Point, 0, len(pts))
	for _, p := range pts {
		sp, err := sf.XY{X: p[0], Y: p[1]}.AsPoint()
		if err != nil {
			return sf.MultiPoint{}, eris.Wrap(err, "spatial: point")
		}
		out = append(out, sp)
	}
	return sf.NewMultiPoint(out), nil
}

// coversAll reports whether poly is a valid polygon with no point of pts
// outside it.
func coversAll(poly *geom.Polygon, pts []point) (bool, error) {
	g, err := toSF(poly)
	if err != nil {
		return false, err
	}
	mp, err := multiPoint(pts)
	if err != nil {
		return false, err
	}
	return sf.Covers(g, mp.AsGeometry())
}

// uniquePoints drops duplicates and returns the points in sorted order.
func uniquePoints(coords []geom.Coord) []point {
	seen := make(map[point]bool, len(coords))
	out := make([]point, 0, len(coords))
	for _, c := range coords {
		if len(c) < 2 || math.IsNaN(c[0]) || math.IsNaN(c[1]) {
			continue
		}
		p := point{c[0], c[1]}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i][0] != out[j][0] {
			return out[i][0] < out[j][0]
		}
		return out[i][1] < out[j][1]
	})
	return out
}

type digger struct {
	pts      []point
	boundary []int // counter-clockwise, not closed
	used     []bool
}

func newDigger(pts []point, ring []geom.Coord) *digger {
	index := make(map[point]int, len(pts))
	for i, p := range pts {
		index[p] = i
	}
	d := &digger{pts: pts, used: make([]bool, len(pts))}
	for i, c := range ring {
		if i == len(ring)-1 && len(ring) > 1 && c[0] == ring[0][0] && c[1] == ring[0][1] {
			break
		}
		if j, ok := index[point{c[0], c[1]}]; ok && !d.used[j] {
			d.boundary = append(d.boundary, j)
			d.used[j] = true
		}
	}
	if signedArea(d.points(d.boundary)) < 0 {
		for i, j := 0, len(d.boundary)-1; i < j; i, j = i+1, j-1 {
			d.boundary[i], d.boundary[j] = d.boundary[j], d.boundary[i]
		}
	}
	d.splitCollinear()
	return d
}

func (d *digger) points(idx []int) []point {
	out := make([]point, len(idx))
	for i, j := range idx {
		out[i] = d.pts[j]
	}
	return out
}

// splitCollinear turns interior points lying on a boundary edge into
// boundary vertices.
func (d *digger) splitCollinear() {
	var out []int
	for i, ai := range d.boundary {
		bi := d.boundary[(i+1)%len(d.boundary)]
		a, b := d.pts[ai], d.pts[bi]
		out = append(out, ai)

		var on []int
		for j, p := range d.pts {
			if !d.used[j] && orient(a, b, p) == 0 && strictlyBetween(a, b, p) {
				on = append(on, j)
			}
		}
		sort.Slice(on, func(x, y int) bool {
			return dist(a, d.pts[on[x]]) < dist(a, d.pts[on[y]])
		})
		for _, j := range on {
			d.used[j] = true
			out = append(out, j)
		}
	}
	d.boundary = out
}

// dig pulls boundary edges inward until no edge can be dug further.
func (d *digger) dig(concavity float64) {
	for i := 0; i < len(d.boundary); {
		a := d.pts[d.boundary[i]]
		b := d.pts[d.boundary[(i+1)%len(d.boundary)]]
		q, ok := d.candidate(i, a, b, concavity)
		if !ok {
			i++
			continue
		}
		d.used[q] = true
		d.boundary = append(d.boundary, 0)
		copy(d.boundary[i+2:], d.boundary[i+1:])
		d.boundary[i+1] = q
	}
}

// candidate returns the interior point edge i may be dug to.
func (d *digger) candidate(i int, a, b point, concavity float64) (int, bool) {
	length := dist(a, b)
	if length == 0 {
		return 0, false
	}
	reach := length / concavity

	type cand struct {
		idx int
		d   float64
	}
	var cands []cand
	for j, p := range d.pts {
		if d.used[j] || orient(a, b, p) <= 0 {
			continue
		}
		if sd := segmentDistance(p, a, b); sd < reach {
			cands = append(cands, cand{j, sd})
		}
	}
	sort.Slice(cands, func(x, y int) bool {
		if cands[x].d != cands[y].d {
			return cands[x].d < cands[y].d
		}
		return cands[x].idx < cands[y].idx
	})

	for _, c := range cands {
		q := d.pts[c.idx]
		if math.Min(dist(a, q), dist(b, q)) >= reach {
			continue
		}
		if d.valid(i, a, b, c.idx) {
			return c.idx, true
		}
	}
	return 0, false
}

// valid reports whether replacing edge i (a, b) by a-q-b keeps the boundary
// simple and leaves no point outside it.
func (d *digger) valid(i int, a, b point, qi int) bool {
	q := d.pts[qi]
	for j, p := range d.pts {
		if j == qi || j == d.boundary[i] || j == d.boundary[(i+1)%len(d.boundary)] {
			continue
		}
		if orient(a, b, p) >= 0 && orient(b, q, p) > 0 && orient(q, a, p) > 0 {
			return false
		}
	}

	n := len(d.boundary)
	for k := 0; k < n; k++ {
		if k == i {
			continue
		}
		u := d.pts[d.boundary[k]]
		v := d.pts[d.boundary[(k+1)%n]]
		if segmentsConflict(a, q, u, v) || segmentsConflict(q, b, u, v) {
			return false
		}
	}
	return true
}

func (d *digger) polygon() *geom.Polygon {
	flat := make([]float64, 0, 2*(len(d.boundary)+1))
	for _, j := range d.boundary {
		flat = append(flat, d.pts[j][0], d.pts[j][1])
	}
	first := d.pts[d.boundary[0]]
	flat = append(flat, first[0], first[1])
	return geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)})
}

// segmentsConflict reports whether s-t and u-v meet anywhere other than a
// single shared endpoint.
func segmentsConflict(s, t, u, v point) bool {
	switch {
	case s == u:
		return overlapsFrom(s, t, v)
	case s == v:
		return overlapsFrom(s, t, u)
	case t == u:
		return overlapsFrom(t, s, v)
	case t == v:
		return overlapsFrom(t, s, u)
	}
	return segmentsIntersect(s, t, u, v)
}

// overlapsFrom reports whether segments x-z and x-w run along each other.
func overlapsFrom(x, z, w point) bool {
	return orient(x, z, w) == 0 && (z[0]-x[0])*(w[0]-x[0])+(z[1]-x[1])*(w[1]-x[1]) > 0
}

func segmentsIntersect(p1, p2, p3, p4 point) bool {
	d1 := orient(p3, p4, p1)
	d2 := orient(p3, p4, p2)
	d3 := orient(p1, p2, p3)
	d4 := orient(p1, p2, p4)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) && ((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	return (d1 == 0 && onSegment(p3, p4, p1)) ||
		(d2 == 0 && onSegment(p3, p4, p2)) ||
		(d3 == 0 && onSegment(p1, p2, p3)) ||
		(d4 == 0 && onSegment(p1, p2, p4))
}

// orient is positive when c lies left of a->b.
func orient(a, b, c point) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

func onSegment(a, b, p point) bool {
	return math.Min(a[0], b[0]) <= p[0] && p[0] <= math.Max(a[0], b[0]) &&
		math.Min(a[1], b[1]) <= p[1] && p[1] <= math.Max(a[1], b[1])
}

func strictlyBetween(a, b, p point) bool {
	return p != a && p != b && onSegment(a, b, p)
}

func dist(a, b point) float64 {
	return math.Hypot(b[0]-a[0], b[1]-a[1])
}

func segmentDistance(p, a, b point) float64 {
	dx, dy := b[0]-a[0], b[1]-a[1]
	l2 := dx*dx + dy*dy
	if l2 == 0 {
		return dist(p, a)
	}
	t := ((p[0]-a[0])*dx + (p[1]-a[1])*dy) / l2
	t = math.Max(0, math.Min(1, t))
	return dist(p, point{a[0] + t*dx, a[1] + t*dy})
}

func signedArea(ring []point) float64 {
	var s float64
	for i := range ring {
		j := (i + 1) % len(ring)
		s += ring[i][0]*ring[j][1] - ring[j][0]*ring[i][1]
	}
	return s / 2
}
