package isochrone_test

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	sf "github.com/peterstace/simplefeatures/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	"go.uber.org/zap"

	"github.com/sells-group/isochrone-cli/internal/isochrone"
	"github.com/sells-group/isochrone-cli/internal/network"
	"github.com/sells-group/isochrone-cli/internal/spatial"
)

// Midtown Manhattan, with blocks of roughly 100 m on each side.
const (
	originLng = -73.99
	originLat = 40.75
	stepLng   = 0.0012
	stepLat   = 0.0009
	gridHalf  = 10
)

func gridCoord(i, j int) geom.Coord {
	return geom.Coord{originLng + float64(i)*stepLng, originLat + float64(j)*stepLat}
}

// gridTable returns one edge per block face of a square street grid centred
// on the origin.
func gridTable() *network.Table {
	return streetGrid(gridCoord)
}

// jitteredGrid moves every intersection but the origin by up to 40% of a
// block in each direction.
func jitteredGrid(seed int64) *network.Table {
	r := rand.New(rand.NewSource(seed))
	shifted := make(map[[2]int]geom.Coord)
	return streetGrid(func(i, j int) geom.Coord {
		k := [2]int{i, j}
		if c, ok := shifted[k]; ok {
			return c
		}
		c := gridCoord(i, j)
		if i != 0 || j != 0 {
			c = geom.Coord{c[0] + 0.8*(r.Float64()-0.5)*stepLng, c[1] + 0.8*(r.Float64()-0.5)*stepLat}
		}
		shifted[k] = c
		return c
	})
}

func streetGrid(gridCoord func(i, j int) geom.Coord) *network.Table {
	t := &network.Table{}
	add := func(id string, a, b geom.Coord) {
		t.Edges = append(t.Edges, network.Edge{
			ID:         id,
			Geometry:   geom.NewLineString(geom.XY).MustSetCoords([]geom.Coord{a, b}),
			Properties: map[string]any{"highway": "residential"},
		})
	}
	for j := -gridHalf; j <= gridHalf; j++ {
		for i := -gridHalf; i < gridHalf; i++ {
			add(fmt.Sprintf("h_%d_%d", i, j), gridCoord(i, j), gridCoord(i+1, j))
			add(fmt.Sprintf("v_%d_%d", j, i), gridCoord(j, i), gridCoord(j, i+1))
		}
	}
	return t
}

func walkingRequest() isochrone.Request {
	return isochrone.Request{
		Source:   gridCoord(0, 0),
		Budgets:  []float64{5, 10, 15},
		SpeedKMH: 3,
		Mode:     network.Pedestrian,
	}
}

func newGridCalculator(hb isochrone.HullBuilder, opts ...isochrone.Option) *isochrone.Calculator {
	opts = append([]isochrone.Option{isochrone.WithLogger(zap.NewNop())}, opts...)
	return isochrone.New(network.NewTableProvider(gridTable(), 0), spatial.Projector{}, hb, spatial.Overlay{}, opts...)
}

func area(t *testing.T, g geom.T) float64 {
	t.Helper()
	a, err := spatial.Overlay{}.Area(g)
	require.NoError(t, err)
	return a
}

func TestGrid_WalkingRings(t *testing.T) {
	calc := newGridCalculator(spatial.ConvexHull{}, isochrone.WithNestingValidation(isochrone.DefaultNestingTolerance))

	res, err := calc.Compute(context.Background(), walkingRequest())
	require.NoError(t, err)

	assert.Equal(t, []isochrone.Threshold{{Budget: 15, Distance: 750}, {Budget: 10, Distance: 500}, {Budget: 5, Distance: 250}}, res.Thresholds)
	require.Len(t, res.Rings, 3)

	// the 15 and 10 minute rings have the next hull cut out as a hole
	for _, r := range res.Rings[:2] {
		poly, ok := r.Geometry.(*geom.Polygon)
		require.True(t, ok, "ring %v is a %T", r.Budget, r.Geometry)
		assert.Equal(t, 2, poly.NumLinearRings(), "ring %v", r.Budget)
	}
	// the innermost ring is its hull
	assert.Same(t, res.Hulls[2].Polygon, res.Rings[2].Geometry)
}

func TestGrid_RingUnionLaw(t *testing.T) {
	res, err := newGridCalculator(spatial.ConvexHull{}).Compute(context.Background(), walkingRequest())
	require.NoError(t, err)

	var total float64
	for _, r := range res.Rings {
		total += area(t, r.Geometry)
	}
	outer := area(t, res.Hulls[0].Polygon)
	assert.InEpsilon(t, outer, total, 1e-6)
}

func TestGrid_RingsDisjoint(t *testing.T) {
	res, err := newGridCalculator(spatial.ConvexHull{}).Compute(context.Background(), walkingRequest())
	require.NoError(t, err)

	ov := spatial.Overlay{}
	for i, a := range res.Rings {
		for j, b := range res.Rings {
			if i == j {
				continue
			}
			rest, err := ov.Difference(a.Geometry, b.Geometry)
			require.NoError(t, err)
			full := area(t, a.Geometry)
			assert.InDelta(t, full, area(t, rest), full*1e-6, "rings %v and %v overlap", a.Budget, b.Budget)
		}
	}
}

func TestGrid_LabelingCompleteness(t *testing.T) {
	res, err := newGridCalculator(spatial.ConvexHull{}).Compute(context.Background(), walkingRequest())
	require.NoError(t, err)

	// hulls ordered smallest first
	hulls := []isochrone.Hull{res.Hulls[2], res.Hulls[1], res.Hulls[0]}
	ov := spatial.Overlay{}
	for i, e := range res.Network.Edges.Edges {
		smallest := 0.0
		for _, h := range hulls {
			within, err := ov.Within(e.Geometry, h.Polygon)
			require.NoError(t, err)
			if within {
				smallest = h.Budget
				break
			}
		}

		label, ok := res.Network.Label(i)
		if smallest == 0 {
			assert.False(t, ok, "edge %s outside every hull is labeled %v", e.ID, label)
			continue
		}
		require.True(t, ok, "edge %s inside the %v min hull is unlabeled", e.ID, smallest)
		assert.Equal(t, smallest, label, "edge %s", e.ID)
	}

	counts := res.Network.Counts()
	for _, b := range []float64{5, 10, 15} {
		assert.Positive(t, counts[b], "no edges labeled %v", b)
	}
	assert.Less(t, len(res.Network.Labeled()), res.Network.Edges.Len())
}

func TestGrid_Idempotent(t *testing.T) {
	calc := newGridCalculator(spatial.ConcaveHull{})

	first, err := calc.Compute(context.Background(), walkingRequest())
	require.NoError(t, err)
	second, err := calc.Compute(context.Background(), walkingRequest())
	require.NoError(t, err)

	require.Len(t, second.Rings, len(first.Rings))
	for i := range first.Rings {
		a, err := wkb.Marshal(first.Rings[i].Geometry, wkb.NDR)
		require.NoError(t, err)
		b, err := wkb.Marshal(second.Rings[i].Geometry, wkb.NDR)
		require.NoError(t, err)
		assert.Equal(t, a, b, "ring %v differs", first.Rings[i].Budget)
	}
	assert.Equal(t, first.Network.Counts(), second.Network.Counts())
	assert.Equal(t, first.Window, second.Window)
}

func TestGrid_ConcaveRings(t *testing.T) {
	res, err := newGridCalculator(spatial.ConcaveHull{}).Compute(context.Background(), walkingRequest())
	require.NoError(t, err)
	require.Len(t, res.Rings, 3)
	for _, r := range res.Rings {
		assert.Positive(t, area(t, r.Geometry), "ring %v", r.Budget)
	}
}

func TestGrid_SnapsOffNodeSource(t *testing.T) {
	// 20 m north of the centre intersection, inside the snap radius
	req := walkingRequest()
	req.Source = geom.Coord{originLng, originLat + 0.00018}

	res, err := newGridCalculator(spatial.ConvexHull{}).Compute(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, res.Rings, 3)
}

func TestGrid_TwoReachablePoints(t *testing.T) {
	table := &network.Table{Edges: []network.Edge{{
		ID:       "lonely",
		Geometry: geom.NewLineString(geom.XY).MustSetCoords([]geom.Coord{gridCoord(0, 0), gridCoord(1, 0)}),
	}}}
	calc := isochrone.New(network.NewTableProvider(table, 0), spatial.Projector{}, spatial.ConcaveHull{}, spatial.Overlay{}, isochrone.WithLogger(zap.NewNop()))

	_, err := calc.Compute(context.Background(), isochrone.Request{Source: gridCoord(0, 0), Budgets: []float64{10}, SpeedKMH: 3})
	require.Error(t, err)
	assert.Equal(t, isochrone.KindInsufficientPoints, isochrone.Kind(err))
}

func TestGrid_SourceFarFromNetwork(t *testing.T) {
	req := walkingRequest()
	req.Source = geom.Coord{2.3522, 48.8566}

	_, err := newGridCalculator(spatial.ConcaveHull{}).Compute(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, isochrone.KindSourceNotFound, isochrone.Kind(err))
}

func TestGrid_HullsCoverReachableVertices(t *testing.T) {
	ctx := context.Background()
	req := walkingRequest()
	for seed := int64(0); seed < 20; seed++ {
		provider := network.NewTableProvider(jitteredGrid(seed), 0)
		calc := isochrone.New(provider, spatial.Projector{}, spatial.ConcaveHull{}, spatial.Overlay{}, isochrone.WithLogger(zap.NewNop()))

		res, err := calc.Compute(ctx, req)
		require.NoError(t, err, "seed %d", seed)

		n, err := provider.Network(ctx, res.Window, req.Source, req.Mode)
		require.NoError(t, err)
		for _, h := range res.Hulls {
			hull, err := sf.UnmarshalWKB(mustWKB(t, h.Polygon))
			require.NoError(t, err)

			reached, err := isochrone.Reachable(n.Graph, network.VertexName(req.Source), h.Threshold)
			require.NoError(t, err)
			for _, c := range reached {
				p, err := sf.XY{X: c[0], Y: c[1]}.AsPoint()
				require.NoError(t, err)
				ok, err := sf.Covers(hull, p.AsGeometry())
				require.NoError(t, err)
				assert.True(t, ok, "seed %d: %v min hull misses %v", seed, h.Budget, c)
			}
		}
	}
}

func mustWKB(t *testing.T, g geom.T) []byte {
	t.Helper()
	raw, err := wkb.Marshal(g, wkb.NDR)
	require.NoError(t, err)
	return raw
}
