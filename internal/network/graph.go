package network

import (
	"container/heap"
	"math"
	"slices"

	"github.com/twpayne/go-geom"
)

// VertexID identifies a vertex inside one Graph.
type VertexID int

type arc struct {
	to     VertexID
	weight float64
}

// Graph is a weighted directed graph whose vertices are named by the WKT of
// their location. It is read-only once built; ShortestDistance never mutates
// it, so one Graph may serve concurrent queries.
type Graph struct {
	names  map[string]VertexID
	coords []geom.Coord
	adj    [][]arc
	arcs   int
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{names: make(map[string]VertexID)}
}

// AddVertex returns the vertex located at c, creating it if needed.
func (g *Graph) AddVertex(c geom.Coord) VertexID {
	name := VertexName(c)
	if id, ok := g.names[name]; ok {
		return id
	}
	id := VertexID(len(g.coords))
	g.names[name] = id
	g.coords = append(g.coords, geom.Coord{c.X(), c.Y()})
	g.adj = append(g.adj, nil)
	return id
}

// AddArc adds a directed arc from -> to. Negative or NaN weights are clamped
// to zero.
func (g *Graph) AddArc(from, to VertexID, weight float64) {
	if !(weight > 0) {
		weight = 0
	}
	g.adj[from] = append(g.adj[from], arc{to: to, weight: weight})
	g.arcs++
}

// FindVertexByName looks a vertex up by exact name.
func (g *Graph) FindVertexByName(name string) (VertexID, bool) {
	id, ok := g.names[name]
	return id, ok
}

// VertexGeometry returns the location of v.
func (g *Graph) VertexGeometry(v VertexID) geom.Coord {
	return g.coords[v]
}

// NumVertices returns the number of vertices.
func (g *Graph) NumVertices() int { return len(g.coords) }

// NumArcs returns the number of directed arcs.
func (g *Graph) NumArcs() int { return g.arcs }

// ShortestDistance returns every vertex whose shortest-path distance from
// source is at most maxDistance, source included, ordered by VertexID.
func (g *Graph) ShortestDistance(source VertexID, maxDistance float64) []VertexID {
	dist := g.Distances(source, maxDistance)
	out := make([]VertexID, 0, len(dist))
	for v := range dist {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// Distances runs Dijkstra from source and stops expanding once the frontier
// passes maxDistance. The result maps each settled vertex to its distance.
func (g *Graph) Distances(source VertexID, maxDistance float64) map[VertexID]float64 {
	if int(source) < 0 || int(source) >= len(g.coords) || maxDistance < 0 || math.IsNaN(maxDistance) {
		return map[VertexID]float64{}
	}

	settled := make(map[VertexID]float64)
	best := map[VertexID]float64{source: 0}
	pq := &queue{{vertex: source, dist: 0}}

	for pq.Len() > 0 {
		item := heap.Pop(pq).(queueItem)
		if _, done := settled[item.vertex]; done {
			continue
		}
		if item.dist > maxDistance {
			break
		}
		settled[item.vertex] = item.dist

		for _, a := range g.adj[item.vertex] {
			if _, done := settled[a.to]; done {
				continue
			}
			d := item.dist + a.weight
			if d > maxDistance {
				continue
			}
			if cur, ok := best[a.to]; ok && cur <= d {
				continue
			}
			best[a.to] = d
			heap.Push(pq, queueItem{vertex: a.to, dist: d})
		}
	}
	return settled
}

type queueItem struct {
	vertex VertexID
	dist   float64
}

// queue is a min-heap on dist, ties broken by vertex id.
type queue []queueItem

func (q queue) Len() int { return len(q) }
func (q queue) Less(i, j int) bool {
	if q[i].dist != q[j].dist {
		return q[i].dist < q[j].dist
	}
	return q[i].vertex < q[j].vertex
}
func (q queue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *queue) Push(x any)   { *q = append(*q, x.(queueItem)) }
func (q *queue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
