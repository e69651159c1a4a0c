package network

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

// diamondGraph has two routes from a to d: a-b-d (3) and a-c-d (5).
func diamondGraph() (*Graph, map[string]VertexID) {
	g := NewGraph()
	ids := map[string]VertexID{
		"a": g.AddVertex(geom.Coord{0, 0}),
		"b": g.AddVertex(geom.Coord{1, 1}),
		"c": g.AddVertex(geom.Coord{1, -1}),
		"d": g.AddVertex(geom.Coord{2, 0}),
		"e": g.AddVertex(geom.Coord{3, 0}),
	}
	g.AddArc(ids["a"], ids["b"], 1)
	g.AddArc(ids["b"], ids["d"], 2)
	g.AddArc(ids["a"], ids["c"], 1)
	g.AddArc(ids["c"], ids["d"], 4)
	g.AddArc(ids["d"], ids["e"], 10)
	return g, ids
}

func TestGraph_AddVertexDeduplicates(t *testing.T) {
	g := NewGraph()
	a := g.AddVertex(geom.Coord{1.5, 2.5})
	b := g.AddVertex(geom.Coord{1.5, 2.5, 99})
	assert.Equal(t, a, b)
	assert.Equal(t, 1, g.NumVertices())
	assert.Equal(t, geom.Coord{1.5, 2.5}, g.VertexGeometry(a))

	id, ok := g.FindVertexByName("POINT (1.5 2.5)")
	require.True(t, ok)
	assert.Equal(t, a, id)

	_, ok = g.FindVertexByName("POINT (0 0)")
	assert.False(t, ok)
}

func TestGraph_Distances(t *testing.T) {
	g, ids := diamondGraph()

	dist := g.Distances(ids["a"], 100)
	assert.Equal(t, map[VertexID]float64{
		ids["a"]: 0,
		ids["b"]: 1,
		ids["c"]: 1,
		ids["d"]: 3,
		ids["e"]: 13,
	}, dist)
}

func TestGraph_ShortestDistanceBound(t *testing.T) {
	g, ids := diamondGraph()

	assert.Equal(t, []VertexID{ids["a"]}, g.ShortestDistance(ids["a"], 0))
	assert.Equal(t, []VertexID{ids["a"], ids["b"], ids["c"]}, g.ShortestDistance(ids["a"], 2.9))
	// the bound is inclusive
	assert.Equal(t, []VertexID{ids["a"], ids["b"], ids["c"], ids["d"]}, g.ShortestDistance(ids["a"], 3))
	assert.Len(t, g.ShortestDistance(ids["a"], 13), 5)
}

func TestGraph_Directed(t *testing.T) {
	g, ids := diamondGraph()
	assert.Equal(t, []VertexID{ids["e"]}, g.ShortestDistance(ids["e"], 100))
}

func TestGraph_ShortestDistanceInvalid(t *testing.T) {
	g, ids := diamondGraph()
	assert.Empty(t, g.ShortestDistance(VertexID(42), 10))
	assert.Empty(t, g.ShortestDistance(VertexID(-1), 10))
	assert.Empty(t, g.ShortestDistance(ids["a"], -1))
	assert.Empty(t, g.ShortestDistance(ids["a"], math.NaN()))
}

func TestGraph_NegativeWeightsClamped(t *testing.T) {
	g := NewGraph()
	a := g.AddVertex(geom.Coord{0, 0})
	b := g.AddVertex(geom.Coord{1, 0})
	g.AddArc(a, b, -5)
	g.AddArc(b, a, math.NaN())

	assert.Equal(t, map[VertexID]float64{a: 0, b: 0}, g.Distances(a, 0))
	assert.Equal(t, 2, g.NumArcs())
}

func TestGraph_Deterministic(t *testing.T) {
	g, ids := diamondGraph()
	first := g.ShortestDistance(ids["a"], 5)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, g.ShortestDistance(ids["a"], 5))
	}
}
