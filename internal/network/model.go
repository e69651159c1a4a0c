// Package network holds routable road networks: the edge table, the weighted
// vertex graph built from it, and the providers that load both for a
// bounding box.
package network

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"
)

// Mode selects how edge direction is interpreted when building a graph.
type Mode string

// Supported travel modes.
const (
	Pedestrian Mode = "pedestrian"
	Vehicle    Mode = "vehicle"
)

// ParseMode returns the Mode named s. An empty string means Pedestrian.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(s)) {
	case "", Pedestrian:
		return Pedestrian, nil
	case Vehicle:
		return Vehicle, nil
	default:
		return "", eris.Errorf("network: unknown mode %q", s)
	}
}

// BBox represents a geographic bounding box in EPSG:4326.
type BBox struct {
	MinLng float64 `json:"min_lng"`
	MinLat float64 `json:"min_lat"`
	MaxLng float64 `json:"max_lng"`
	MaxLat float64 `json:"max_lat"`
}

// Intersects reports whether b and o share any area or boundary.
func (b BBox) Intersects(o BBox) bool {
	return b.MinLng <= o.MaxLng && o.MinLng <= b.MaxLng &&
		b.MinLat <= o.MaxLat && o.MinLat <= b.MaxLat
}

// Contains reports whether c lies inside b (boundary included).
func (b BBox) Contains(c geom.Coord) bool {
	return c.X() >= b.MinLng && c.X() <= b.MaxLng && c.Y() >= b.MinLat && c.Y() <= b.MaxLat
}

func (b BBox) String() string {
	return fmt.Sprintf("[%g %g, %g %g]", b.MinLng, b.MinLat, b.MaxLng, b.MaxLat)
}

// Edge is one row of the network geometry table.
type Edge struct {
	ID         string
	Geometry   *geom.LineString
	Properties map[string]any
}

// Bounds returns the bounding box of the edge geometry.
func (e Edge) Bounds() BBox {
	b := e.Geometry.Bounds()
	return BBox{MinLng: b.Min(0), MinLat: b.Min(1), MaxLng: b.Max(0), MaxLat: b.Max(1)}
}

// Direction returns +1 for forward-only edges, -1 for reverse-only edges and
// 0 for edges traversable both ways, following the OSM oneway tag.
func (e Edge) Direction() int {
	switch v := e.Properties["oneway"].(type) {
	case bool:
		if v {
			return 1
		}
	case string:
		switch strings.ToLower(v) {
		case "yes", "true", "1":
			return 1
		case "-1", "reverse":
			return -1
		}
	case float64:
		return int(math.Copysign(math.Min(math.Abs(v), 1), v))
	case int:
		return max(-1, min(v, 1))
	case int64:
		return int(max(-1, min(v, 1)))
	}
	return 0
}

// Table is the network geometry table. Providers own it; the isochrone core
// only reads it.
type Table struct {
	Edges []Edge
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Edges)
}

// Bounds returns the bounding box of every edge in the table.
func (t *Table) Bounds() BBox {
	out := BBox{MinLng: math.Inf(1), MinLat: math.Inf(1), MaxLng: math.Inf(-1), MaxLat: math.Inf(-1)}
	for _, e := range t.Edges {
		if e.Geometry == nil || e.Geometry.Empty() {
			continue
		}
		b := e.Bounds()
		out.MinLng = math.Min(out.MinLng, b.MinLng)
		out.MinLat = math.Min(out.MinLat, b.MinLat)
		out.MaxLng = math.Max(out.MaxLng, b.MaxLng)
		out.MaxLat = math.Max(out.MaxLat, b.MaxLat)
	}
	return out
}

// Clip returns a new table holding the edges whose bounds intersect bbox.
// Edge values are shared with t, not copied.
func (t *Table) Clip(bbox BBox) *Table {
	out := &Table{}
	for _, e := range t.Edges {
		if e.Geometry == nil || e.Geometry.NumCoords() < 2 {
			continue
		}
		if bbox.Intersects(e.Bounds()) {
			out.Edges = append(out.Edges, e)
		}
	}
	return out
}

// Network is a routable graph plus the geometry table it was built from.
type Network struct {
	Graph *Graph
	Edges *Table
}

// VertexName returns the canonical name of a vertex located at c: the WKT of
// the point. Graph vertices and source lookups both go through it, so names
// always match exactly.
func VertexName(c geom.Coord) string {
	s, err := wkt.Marshal(geom.NewPointFlat(geom.XY, []float64{c.X(), c.Y()}))
	if err != nil {
		return fmt.Sprintf("POINT (%v %v)", c.X(), c.Y())
	}
	return s
}

// flatten returns a new XY copy of ls, dropping any Z or M ordinates.
func flatten(ls *geom.LineString) *geom.LineString {
	flat := make([]float64, 0, 2*ls.NumCoords())
	for _, c := range ls.Coords() {
		flat = append(flat, c.X(), c.Y())
	}
	return geom.NewLineStringFlat(geom.XY, flat)
}
