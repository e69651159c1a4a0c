package network

import (
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

// LoadShapefile reads a PolyLine shapefile into a Table. Each part of each
// record becomes one row; dbf attributes become properties keyed by the
// lower-cased field name. Records with other shape types are skipped.
func LoadShapefile(path string) (*Table, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "network: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = strings.ToLower(strings.TrimRight(f.String(), "\x00"))
	}

	t := &Table{}
	var skipped int
	for reader.Next() {
		n, shape := reader.Shape()
		pl, ok := shape.(*shp.PolyLine)
		if !ok || pl == nil {
			skipped++
			continue
		}

		props := make(map[string]any, len(names))
		for i, name := range names {
			if v := strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00")); v != "" {
				props[name] = v
			}
		}

		id := strconv.Itoa(n)
		if v, ok := props["id"].(string); ok {
			id = v
		}
		parts := polyLineParts(pl)
		for p, ls := range parts {
			rowID := id
			if len(parts) > 1 {
				rowID = id + "-" + strconv.Itoa(p)
			}
			t.Edges = append(t.Edges, Edge{ID: rowID, Geometry: ls, Properties: props})
		}
	}

	if skipped > 0 {
		zap.L().Debug("network: skipped shapefile records",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	return t, nil
}

// polyLineParts splits a shapefile PolyLine into one LineString per part,
// dropping parts with fewer than two points.
func polyLineParts(pl *shp.PolyLine) []*geom.LineString {
	if pl.NumParts == 0 || len(pl.Points) == 0 {
		return nil
	}
	var out []*geom.LineString
	for i := int32(0); i < pl.NumParts; i++ {
		start := pl.Parts[i]
		end := int32(len(pl.Points))
		if i+1 < pl.NumParts {
			end = pl.Parts[i+1]
		}
		if end-start < 2 {
			continue
		}
		flat := make([]float64, 0, 2*(end-start))
		for _, p := range pl.Points[start:end] {
			flat = append(flat, p.X, p.Y)
		}
		out = append(out, geom.NewLineStringFlat(geom.XY, flat))
	}
	return out
}
