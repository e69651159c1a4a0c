package network

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

// Provider returns the routable network covering bbox, with source snapped
// onto it as an additional node.
type Provider interface {
	Network(ctx context.Context, bbox BBox, source geom.Coord, mode Mode) (*Network, error)
}

// TableProvider serves networks cut out of an in-memory edge table, such as
// one loaded from a GeoJSON file or a shapefile.
type TableProvider struct {
	table      *Table
	snapRadius float64
}

// NewTableProvider creates a TableProvider. A non-positive snapRadius means
// DefaultSnapRadius.
func NewTableProvider(t *Table, snapRadius float64) *TableProvider {
	if snapRadius <= 0 {
		snapRadius = DefaultSnapRadius
	}
	return &TableProvider{table: t, snapRadius: snapRadius}
}

// Network clips the table to bbox and builds a graph from the result.
func (p *TableProvider) Network(ctx context.Context, bbox BBox, source geom.Coord, mode Mode) (*Network, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "network: table provider")
	}
	clipped := p.table.Clip(bbox)
	return assemble(clipped, source, mode, p.snapRadius), nil
}

func assemble(t *Table, source geom.Coord, mode Mode, snapRadius float64) *Network {
	g := Build(t, mode, []geom.Coord{source}, snapRadius)
	zap.L().Debug("network: built graph",
		zap.Int("edges", t.Len()),
		zap.Int("vertices", g.NumVertices()),
		zap.Int("arcs", g.NumArcs()),
		zap.String("mode", string(mode)),
	)
	return &Network{Graph: g, Edges: t}
}
