// Package spatial provides the geometry engines behind isochrone
// computation: reprojection, hull construction and polygon overlay.
package spatial

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
	"github.com/rotisserie/eris"

	"github.com/sells-group/isochrone-cli/internal/isochrone"
)

// Web Mercator domain limits.
const (
	maxMercatorLat = 85.05112878
	maxMercatorXY  = 20037508.342789244
)

// Projector reprojects between WGS84 (EPSG:4326) and spherical Web Mercator
// (EPSG:3857). Any other pair fails with isochrone.ErrReprojection.
type Projector struct{}

// Reproject returns a reprojected copy of g. The input is not modified.
func (Projector) Reproject(g orb.Geometry, from, to isochrone.CRS) (orb.Geometry, error) {
	if g == nil {
		return nil, eris.Wrap(isochrone.ErrReprojection, "spatial: nil geometry")
	}
	if from == to {
		return orb.Clone(g), nil
	}

	var proj orb.Projection
	var inDomain func(orb.Point) bool
	switch {
	case from == isochrone.EPSG4326 && to == isochrone.EPSG3857:
		proj = project.WGS84.ToMercator
		inDomain = func(p orb.Point) bool {
			return math.Abs(p.Lat()) <= maxMercatorLat && math.Abs(p.Lon()) <= 180
		}
	case from == isochrone.EPSG3857 && to == isochrone.EPSG4326:
		proj = project.Mercator.ToWGS84
		inDomain = func(p orb.Point) bool {
			return math.Abs(p[0]) <= maxMercatorXY && math.Abs(p[1]) <= maxMercatorXY
		}
	default:
		return nil, eris.Wrapf(isochrone.ErrReprojection, "spatial: unsupported transform EPSG:%d -> EPSG:%d", from, to)
	}

	if err := checkPoints(g, inDomain); err != nil {
		return nil, eris.Wrapf(err, "spatial: EPSG:%d -> EPSG:%d", from, to)
	}
	return project.Geometry(orb.Clone(g), proj), nil
}

func checkPoints(g orb.Geometry, ok func(orb.Point) bool) error {
	var bad *orb.Point
	visit := func(p orb.Point) {
		if bad == nil && (math.IsNaN(p[0]) || math.IsNaN(p[1]) || !ok(p)) {
			q := p
			bad = &q
		}
	}
	walkPoints(g, visit)
	if bad != nil {
		return eris.Wrapf(isochrone.ErrReprojection, "point (%g %g) outside projection domain", bad[0], bad[1])
	}
	return nil
}

func walkPoints(g orb.Geometry, fn func(orb.Point)) {
	switch g := g.(type) {
	case orb.Point:
		fn(g)
	case orb.MultiPoint:
		for _, p := range g {
			fn(p)
		}
	case orb.LineString:
		for _, p := range g {
			fn(p)
		}
	case orb.Ring:
		for _, p := range g {
			fn(p)
		}
	case orb.MultiLineString:
		for _, ls := range g {
			walkPoints(ls, fn)
		}
	case orb.Polygon:
		for _, r := range g {
			walkPoints(r, fn)
		}
	case orb.MultiPolygon:
		for _, p := range g {
			walkPoints(p, fn)
		}
	case orb.Collection:
		for _, c := range g {
			walkPoints(c, fn)
		}
	case orb.Bound:
		fn(g.Min)
		fn(g.Max)
	}
}
