package isochrone

import (
	"context"
	"time"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/isochrone-cli/internal/network"
)

// RoutableGraph is the graph capability the reachability query needs.
type RoutableGraph interface {
	FindVertexByName(name string) (network.VertexID, bool)
	ShortestDistance(source network.VertexID, maxDistance float64) []network.VertexID
	VertexGeometry(v network.VertexID) geom.Coord
}

// NetworkProvider builds the routable network covering bbox with source
// snapped onto it.
type NetworkProvider interface {
	Network(ctx context.Context, bbox network.BBox, source geom.Coord, mode network.Mode) (*network.Network, error)
}

// Reprojector converts geometries between coordinate systems.
type Reprojector interface {
	Reproject(g orb.Geometry, from, to CRS) (orb.Geometry, error)
}

// HullBuilder turns a point set into one enclosing polygon. It must be
// deterministic and tolerate duplicate points.
type HullBuilder interface {
	Hull(points []geom.Coord) (*geom.Polygon, error)
}

// Overlay provides the polygon operations used to assemble rings.
type Overlay interface {
	Difference(a, b geom.T) (geom.T, error)
	Within(a, b geom.T) (bool, error)
	Area(g geom.T) (float64, error)
}

// DefaultNestingTolerance is the share of an inner hull's area allowed
// outside its outer hull when nesting validation is on.
const DefaultNestingTolerance = 0.01

// Request describes one isochrone computation.
type Request struct {
	Source   geom.Coord
	Budgets  []float64
	SpeedKMH float64
	Mode     network.Mode
}

// Result holds everything computed for one request. The caller owns it.
type Result struct {
	Source     geom.Coord
	Window     network.BBox
	Thresholds []Threshold
	Hulls      []Hull
	Rings      []Ring
	Network    TaggedNetwork
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithDistanceTolerance sets the factor applied to the largest distance when
// sizing the network window. It must be greater than 1.
func WithDistanceTolerance(f float64) Option {
	return func(c *Calculator) { c.tolerance = f }
}

// WithTiePolicy sets how budgets with equal distances are handled.
func WithTiePolicy(p TiePolicy) Option {
	return func(c *Calculator) { c.ties = p }
}

// WithNestingValidation makes ring assembly fail with ErrNonNestedHulls when
// more than tolerance of an inner hull lies outside its outer hull.
func WithNestingValidation(tolerance float64) Option {
	return func(c *Calculator) {
		c.nesting = assembleOptions{validateNesting: true, nestingTolerance: tolerance}
	}
}

// WithLogger sets the logger. The global zap logger is used by default.
func WithLogger(l *zap.Logger) Option {
	return func(c *Calculator) { c.log = l }
}

// Calculator computes isochrones. It keeps no per-request state, so one
// Calculator may serve concurrent requests.
type Calculator struct {
	provider  NetworkProvider
	projector Reprojector
	hulls     HullBuilder
	overlay   Overlay
	tolerance float64
	ties      TiePolicy
	nesting   assembleOptions
	log       *zap.Logger
}

// New creates a Calculator from its collaborators.
func New(provider NetworkProvider, rp Reprojector, hb HullBuilder, ov Overlay, opts ...Option) *Calculator {
	c := &Calculator{
		provider:  provider,
		projector: rp,
		hulls:     hb,
		overlay:   ov,
		tolerance: DefaultDistanceTolerance,
		ties:      TiesDistinct,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = zap.L()
	}
	return c
}

// Compute runs the whole pipeline for req. Any failure aborts the request;
// there are no partial results.
func (c *Calculator) Compute(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	log := c.log.With(
		zap.Float64("lng", req.Source.X()),
		zap.Float64("lat", req.Source.Y()),
		zap.Float64s("budgets", req.Budgets),
		zap.Float64("speed_kmh", req.SpeedKMH),
	)

	if len(req.Source) < 2 {
		return nil, eris.Wrap(ErrInvalidParameter, "source point is required")
	}
	thresholds, err := Thresholds(req.Budgets, req.SpeedKMH, c.ties)
	if err != nil {
		return nil, err
	}

	window, err := Window(req.Source, MaxDistance(thresholds), c.tolerance, c.projector)
	if err != nil {
		return nil, err
	}

	net, err := c.provider.Network(ctx, window, req.Source, req.Mode)
	if err != nil {
		return nil, eris.Wrap(err, "isochrone: build network")
	}
	log.Debug("isochrone: network ready",
		zap.Stringer("window", window),
		zap.Int("edges", net.Edges.Len()),
		zap.Int("vertices", net.Graph.NumVertices()),
	)

	name := sourceName(req.Source)
	hulls := make([]Hull, 0, len(thresholds))
	for _, t := range thresholds {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "isochrone: compute")
		}

		points, err := Reachable(net.Graph, name, t)
		if err != nil {
			return nil, err
		}
		poly, err := c.hulls.Hull(points)
		if err != nil {
			if eris.Is(err, ErrInsufficientReachablePoints) {
				return nil, eris.Wrapf(err, "isochrone: %g min hull", t.Budget)
			}
			return nil, eris.Wrapf(err, "isochrone: build %g min hull", t.Budget)
		}
		hulls = append(hulls, Hull{Threshold: t, Polygon: poly})

		log.Debug("isochrone: hull built",
			zap.Float64("budget", t.Budget),
			zap.Float64("distance_m", t.Distance),
			zap.Int("reachable", len(points)),
			zap.Int("hull_vertices", poly.NumCoords()),
		)
	}

	rings, tagged, err := assemble(hulls, net.Edges, c.overlay, c.nesting)
	if err != nil {
		return nil, err
	}

	log.Info("isochrone: computed",
		zap.Int("rings", len(rings)),
		zap.Int("labeled_edges", len(tagged.Labeled())),
		zap.Duration("elapsed", time.Since(start)),
	)

	return &Result{
		Source:     geom.Coord{req.Source.X(), req.Source.Y()},
		Window:     window,
		Thresholds: thresholds,
		Hulls:      hulls,
		Rings:      rings,
		Network:    tagged,
	}, nil
}
