// Package isochrone turns travel-time budgets around a source point into
// nested, disjoint ring polygons and labels the road network edges that fall
// inside each band.
package isochrone

import (
	"math"
	"slices"
	"sort"

	"github.com/rotisserie/eris"
)

const (
	secondsPerMinute = 60
	kmhPerMS         = 3.6
)

// TiePolicy controls what happens when two budgets convert to the same
// distance threshold.
type TiePolicy string

const (
	// TiesDistinct keeps one ring per budget. The inner ring of a tied pair
	// is its full hull and the outer one comes out empty.
	TiesDistinct TiePolicy = "distinct"
	// TiesCollapse keeps only the smallest budget of each tied group.
	TiesCollapse TiePolicy = "collapse"
)

// Threshold pairs a time budget (minutes) with its graph distance (meters).
type Threshold struct {
	Budget   float64 `json:"budget"`
	Distance float64 `json:"distance"`
}

// DistanceFor converts a budget in minutes at speedKMH into meters, rounded up.
func DistanceFor(budget, speedKMH float64) float64 {
	return math.Ceil(budget * secondsPerMinute * (speedKMH / kmhPerMS))
}

// Thresholds validates budgets and speed and returns the (budget, distance)
// pairs sorted by distance descending. Equal distances are ordered by budget
// descending so the outer band always comes first.
func Thresholds(budgets []float64, speedKMH float64, ties TiePolicy) ([]Threshold, error) {
	if !positive(speedKMH) {
		return nil, eris.Wrapf(ErrInvalidParameter, "speed must be positive, got %v", speedKMH)
	}
	if len(budgets) == 0 {
		return nil, eris.Wrap(ErrInvalidParameter, "at least one time budget is required")
	}

	sorted := slices.Clone(budgets)
	sort.Float64s(sorted)
	for i, b := range sorted {
		if !positive(b) {
			return nil, eris.Wrapf(ErrInvalidParameter, "time budget must be positive, got %v", b)
		}
		if i > 0 && sorted[i-1] == b {
			return nil, eris.Wrapf(ErrInvalidParameter, "duplicate time budget %v", b)
		}
	}

	out := make([]Threshold, 0, len(sorted))
	for _, b := range sorted {
		out = append(out, Threshold{Budget: b, Distance: DistanceFor(b, speedKMH)})
	}

	if ties == TiesCollapse {
		// sorted ascending, so the first of each equal-distance run is the smallest budget
		collapsed := out[:0]
		for _, t := range out {
			if n := len(collapsed); n > 0 && collapsed[n-1].Distance == t.Distance {
				continue
			}
			collapsed = append(collapsed, t)
		}
		out = collapsed
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance > out[j].Distance
		}
		return out[i].Budget > out[j].Budget
	})
	return out, nil
}

// MaxDistance returns the largest distance among ts, or 0 when ts is empty.
func MaxDistance(ts []Threshold) float64 {
	var maxDist float64
	for _, t := range ts {
		maxDist = max(maxDist, t.Distance)
	}
	return maxDist
}

// ParseTiePolicy returns the policy named s. An empty string means TiesDistinct.
func ParseTiePolicy(s string) (TiePolicy, error) {
	switch TiePolicy(s) {
	case "", TiesDistinct:
		return TiesDistinct, nil
	case TiesCollapse:
		return TiesCollapse, nil
	default:
		return "", eris.Wrapf(ErrInvalidParameter, "unknown tie policy %q", s)
	}
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
