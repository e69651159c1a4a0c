package spatial

import (
	sf "github.com/peterstace/simplefeatures/geom"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
)

// Overlay runs polygon set operations through simplefeatures. Geometries
// cross the boundary as WKB.
type Overlay struct{}

// Difference returns the part of a not covered by b.
func (Overlay) Difference(a, b geom.T) (geom.T, error) {
	ga, err := toSF(a)
	if err != nil {
		return nil, eris.Wrap(err, "spatial: difference")
	}
	gb, err := toSF(b)
	if err != nil {
		return nil, eris.Wrap(err, "spatial: difference")
	}
	diff, err := sf.Difference(ga, gb)
	if err != nil {
		return nil, eris.Wrap(err, "spatial: difference")
	}
	return fromSF(diff)
}

// Within reports whether a lies inside b: no point of a is outside b and
// their interiors meet.
func (Overlay) Within(a, b geom.T) (bool, error) {
	ga, err := toSF(a)
	if err != nil {
		return false, eris.Wrap(err, "spatial: within")
	}
	gb, err := toSF(b)
	if err != nil {
		return false, eris.Wrap(err, "spatial: within")
	}
	ok, err := sf.Within(ga, gb)
	if err != nil {
		return false, eris.Wrap(err, "spatial: within")
	}
	return ok, nil
}

// Area returns the planar area of g in squared coordinate units.
func (Overlay) Area(g geom.T) (float64, error) {
	sg, err := toSF(g)
	if err != nil {
		return 0, eris.Wrap(err, "spatial: area")
	}
	return sg.Area(), nil
}

func toSF(g geom.T) (sf.Geometry, error) {
	if g == nil {
		return sf.Geometry{}, eris.New("nil geometry")
	}
	raw, err := wkb.Marshal(g, wkb.NDR)
	if err != nil {
		return sf.Geometry{}, eris.Wrap(err, "encode wkb")
	}
	out, err := sf.UnmarshalWKB(raw)
	if err != nil {
		return sf.Geometry{}, eris.Wrap(err, "decode wkb")
	}
	return out, nil
}

func fromSF(g sf.Geometry) (geom.T, error) {
	out, err := wkb.Unmarshal(g.AsBinary())
	if err != nil {
		return nil, eris.Wrap(err, "spatial: decode overlay result")
	}
	return out, nil
}
