package isochrone

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/isochrone-cli/internal/network"
)

// CRS identifies a coordinate reference system by EPSG code.
type CRS int

// Coordinate systems used by the window builder.
const (
	EPSG4326 CRS = 4326
	EPSG3857 CRS = 3857
)

// DefaultDistanceTolerance inflates the search window beyond the largest
// threshold distance.
const DefaultDistanceTolerance = 1.2

// bufferQuadrantSegments matches the usual 8 segments per quarter circle.
const bufferQuadrantSegments = 8

// Window returns the geographic bounding box that contains every vertex
// reachable from source within maxDistance meters. The source is projected
// to Web Mercator, buffered by maxDistance*tolerance ground meters and the
// buffer projected back; its bounds are the window.
func Window(source geom.Coord, maxDistance, tolerance float64, rp Reprojector) (network.BBox, error) {
	if !positive(maxDistance) {
		return network.BBox{}, eris.Wrapf(ErrInvalidParameter, "window distance must be positive, got %v", maxDistance)
	}
	if !(tolerance > 1) || math.IsInf(tolerance, 0) {
		return network.BBox{}, eris.Wrapf(ErrInvalidParameter, "distance tolerance must be greater than 1, got %v", tolerance)
	}

	projected, err := rp.Reproject(orb.Point{source.X(), source.Y()}, EPSG4326, EPSG3857)
	if err != nil {
		return network.BBox{}, reprojectionError(err, "project source")
	}
	center, ok := projected.(orb.Point)
	if !ok {
		return network.BBox{}, eris.Wrapf(ErrReprojection, "projected source is a %T", projected)
	}

	// Mercator stretches ground distances by 1/cos(lat).
	scale := 1 / math.Cos(source.Y()*math.Pi/180)
	buffer := circle(center, maxDistance*tolerance*scale)

	back, err := rp.Reproject(buffer, EPSG3857, EPSG4326)
	if err != nil {
		return network.BBox{}, reprojectionError(err, "unproject buffer")
	}
	b := back.Bound()
	return network.BBox{MinLng: b.Min.Lon(), MinLat: b.Min.Lat(), MaxLng: b.Max.Lon(), MaxLat: b.Max.Lat()}, nil
}

// circle approximates a disc of radius r around c as a closed polygon.
func circle(c orb.Point, r float64) orb.Polygon {
	n := 4 * bufferQuadrantSegments
	ring := make(orb.Ring, 0, n+1)
	for i := 0; i < n; i++ {
		a := 2 * math.Pi * float64(i) / float64(n)
		ring = append(ring, orb.Point{c[0] + r*math.Cos(a), c[1] + r*math.Sin(a)})
	}
	ring = append(ring, ring[0])
	return orb.Polygon{ring}
}

func reprojectionError(err error, action string) error {
	if eris.Is(err, ErrReprojection) {
		return eris.Wrap(err, "isochrone: "+action)
	}
	return eris.Wrapf(ErrReprojection, "%s: %v", action, err)
}
