package isochrone

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/isochrone-cli/internal/network"
)

// starGraph links a source to four arms of increasing length.
func starGraph() (*network.Graph, geom.Coord) {
	g := network.NewGraph()
	src := geom.Coord{10, 50}
	s := g.AddVertex(src)
	arms := []struct {
		c geom.Coord
		w float64
	}{
		{geom.Coord{10.001, 50}, 100},
		{geom.Coord{10, 50.001}, 200},
		{geom.Coord{9.999, 50}, 300},
		{geom.Coord{10, 49.999}, 400},
	}
	for _, a := range arms {
		v := g.AddVertex(a.c)
		g.AddArc(s, v, a.w)
		g.AddArc(v, s, a.w)
	}
	return g, src
}

func TestReachable_IncludesSource(t *testing.T) {
	g, src := starGraph()

	points, err := Reachable(g, sourceName(src), Threshold{Budget: 5, Distance: 250})
	require.NoError(t, err)
	assert.Len(t, points, 3)
	assert.Equal(t, src, points[0])
}

func TestReachable_Monotonic(t *testing.T) {
	g, src := starGraph()

	var prev map[[2]float64]bool
	for _, d := range []float64{200, 300, 400, 1000} {
		points, err := Reachable(g, sourceName(src), Threshold{Budget: d / 50, Distance: d})
		require.NoError(t, err)

		cur := make(map[[2]float64]bool, len(points))
		for _, p := range points {
			cur[[2]float64{p.X(), p.Y()}] = true
		}
		for p := range prev {
			assert.True(t, cur[p], "point %v reachable within a smaller distance but not within %v", p, d)
		}
		prev = cur
	}
	assert.Len(t, prev, 5)
}

func TestReachable_TwoPoints(t *testing.T) {
	g, src := starGraph()

	_, err := Reachable(g, sourceName(src), Threshold{Budget: 2, Distance: 150})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrInsufficientReachablePoints))
	assert.Equal(t, KindInsufficientPoints, Kind(err))
}

func TestReachable_DuplicateLocationsCountOnce(t *testing.T) {
	// two arms ending on the same spot still make only two distinct points
	g := network.NewGraph()
	src := geom.Coord{0, 0}
	s := g.AddVertex(src)
	v := g.AddVertex(geom.Coord{0.001, 0})
	g.AddArc(s, v, 10)
	g.AddArc(s, v, 20)

	_, err := Reachable(g, sourceName(src), Threshold{Budget: 1, Distance: 100})
	assert.True(t, eris.Is(err, ErrInsufficientReachablePoints))
}

func TestReachable_SourceNotFound(t *testing.T) {
	g, _ := starGraph()

	_, err := Reachable(g, sourceName(geom.Coord{120, -30}), Threshold{Budget: 5, Distance: 250})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrSourceNotFound))
	assert.Equal(t, KindSourceNotFound, Kind(err))
}
