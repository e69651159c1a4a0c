package isochrone

import (
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/isochrone-cli/internal/network"
)

// Hull is the polygon covering one threshold's reachable set.
type Hull struct {
	Threshold
	Polygon *geom.Polygon
}

// Ring is the band of one budget: its hull minus the next smaller hull.
type Ring struct {
	Budget   float64 `json:"budget"`
	Distance float64 `json:"distance"`
	Geometry geom.T  `json:"-"`
}

// TaggedNetwork is a read-only view of a network table plus one label per
// row: the smallest budget whose hull contains the row, or nil.
type TaggedNetwork struct {
	Edges  *network.Table
	Labels []*float64
}

// LabeledEdge is a network row that fell inside some hull.
type LabeledEdge struct {
	network.Edge
	Budget float64
}

// Label returns the label of row i, if any.
func (n TaggedNetwork) Label(i int) (float64, bool) {
	if i < 0 || i >= len(n.Labels) || n.Labels[i] == nil {
		return 0, false
	}
	return *n.Labels[i], true
}

// Labeled returns only the labeled rows, in table order.
func (n TaggedNetwork) Labeled() []LabeledEdge {
	var out []LabeledEdge
	for i, l := range n.Labels {
		if l != nil {
			out = append(out, LabeledEdge{Edge: n.Edges.Edges[i], Budget: *l})
		}
	}
	return out
}

// Counts returns the number of rows carrying each budget label.
func (n TaggedNetwork) Counts() map[float64]int {
	out := make(map[float64]int)
	for _, l := range n.Labels {
		if l != nil {
			out[*l]++
		}
	}
	return out
}

// innerNeighbors maps each budget to the next smaller one. The smallest
// budget has no entry.
func innerNeighbors(ts []Threshold) map[float64]float64 {
	budgets := make([]float64, len(ts))
	for i, t := range ts {
		budgets[i] = t.Budget
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(budgets)))

	inner := make(map[float64]float64, len(budgets))
	for i := 0; i+1 < len(budgets); i++ {
		inner[budgets[i]] = budgets[i+1]
	}
	return inner
}

type assembleOptions struct {
	validateNesting  bool
	nestingTolerance float64
}

// assemble subtracts each hull's inner neighbour from it and tags the edge
// table against the raw hulls. hulls must be ordered outer to inner.
func assemble(hulls []Hull, edges *network.Table, ov Overlay, opts assembleOptions) ([]Ring, TaggedNetwork, error) {
	ts := make([]Threshold, len(hulls))
	byBudget := make(map[float64]*geom.Polygon, len(hulls))
	for i, h := range hulls {
		ts[i] = h.Threshold
		byBudget[h.Budget] = h.Polygon
	}
	inner := innerNeighbors(ts)

	rings := make([]Ring, 0, len(hulls))
	for _, h := range hulls {
		ib, ok := inner[h.Budget]
		if !ok {
			rings = append(rings, Ring{Budget: h.Budget, Distance: h.Distance, Geometry: h.Polygon})
			continue
		}
		innerHull := byBudget[ib]

		if opts.validateNesting {
			if err := checkNesting(ov, h.Polygon, innerHull, opts.nestingTolerance); err != nil {
				return nil, TaggedNetwork{}, eris.Wrapf(err, "isochrone: %g min ring", h.Budget)
			}
		}

		diff, err := ov.Difference(h.Polygon, innerHull)
		if err != nil {
			return nil, TaggedNetwork{}, eris.Wrapf(err, "isochrone: subtract %g min hull from %g min hull", ib, h.Budget)
		}
		rings = append(rings, Ring{Budget: h.Budget, Distance: h.Distance, Geometry: diff})
	}

	tagged, err := tag(hulls, edges, ov)
	if err != nil {
		return nil, TaggedNetwork{}, err
	}
	return rings, tagged, nil
}

// checkNesting fails with ErrNonNestedHulls when more than tolerance of the
// inner hull's area lies outside the outer hull.
func checkNesting(ov Overlay, outer, inner *geom.Polygon, tolerance float64) error {
	outside, err := ov.Difference(inner, outer)
	if err != nil {
		return eris.Wrap(err, "isochrone: nesting check")
	}
	outsideArea, err := ov.Area(outside)
	if err != nil {
		return eris.Wrap(err, "isochrone: nesting check area")
	}
	innerArea, err := ov.Area(inner)
	if err != nil {
		return eris.Wrap(err, "isochrone: nesting check area")
	}
	if innerArea > 0 && outsideArea/innerArea > tolerance {
		return eris.Wrapf(ErrNonNestedHulls, "%.2f%% of inner hull outside outer hull", 100*outsideArea/innerArea)
	}
	return nil
}

// tag labels each row with the smallest budget whose raw hull contains it.
// The table is read, never written; labels go into a fresh slice.
func tag(hulls []Hull, edges *network.Table, ov Overlay) (TaggedNetwork, error) {
	out := TaggedNetwork{Edges: edges, Labels: make([]*float64, edges.Len())}
	if edges.Len() == 0 {
		return out, nil
	}

	ascending := make([]Hull, len(hulls))
	for i, h := range hulls {
		ascending[len(hulls)-1-i] = h
	}
	bounds := make([]*geom.Bounds, len(ascending))
	for i, h := range ascending {
		bounds[i] = h.Polygon.Bounds()
	}

	for i, e := range edges.Edges {
		if e.Geometry == nil || e.Geometry.Empty() {
			continue
		}
		eb := e.Geometry.Bounds()
		for j, h := range ascending {
			if !covers(bounds[j], eb) {
				continue
			}
			within, err := ov.Within(e.Geometry, h.Polygon)
			if err != nil {
				return TaggedNetwork{}, eris.Wrapf(err, "isochrone: tag edge %s", e.ID)
			}
			if within {
				budget := h.Budget
				out.Labels[i] = &budget
				break
			}
		}
	}
	return out, nil
}

// covers reports whether outer's XY extent contains inner's.
func covers(outer, inner *geom.Bounds) bool {
	return outer.Min(0) <= inner.Min(0) && outer.Min(1) <= inner.Min(1) &&
		inner.Max(0) <= outer.Max(0) && inner.Max(1) <= outer.Max(1)
}
