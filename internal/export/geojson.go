// Package export renders isochrone results as GeoJSON.
package export

import (
	"encoding/json"
	"io"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/isochrone-cli/internal/isochrone"
)

// Feature property keys and type values.
const (
	PropIsoName   = "iso_name"
	PropDistance  = "distance_m"
	PropType      = "type"
	TypeIsochrone = "isochrone"
	TypeNetwork   = "network"
	TypeOrigin    = "origin"
)

// FeatureCollection converts res into one collection: rings largest first,
// then network rows, then the origin point. With labeledOnly, network rows
// outside every hull are left out.
func FeatureCollection(res *isochrone.Result, labeledOnly bool) *geojson.FeatureCollection {
	fc := &geojson.FeatureCollection{}
	if res == nil {
		return fc
	}

	// Rings are ordered outer to inner already, so larger shapes render
	// underneath.
	for _, r := range res.Rings {
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:       "iso-" + formatBudget(r.Budget),
			Geometry: r.Geometry,
			Properties: map[string]interface{}{
				PropIsoName:  r.Budget,
				PropDistance: r.Distance,
				PropType:     TypeIsochrone,
			},
		})
	}

	if res.Network.Edges != nil {
		for i, e := range res.Network.Edges.Edges {
			budget, ok := res.Network.Label(i)
			if labeledOnly && !ok {
				continue
			}
			props := make(map[string]interface{}, len(e.Properties)+2)
			for k, v := range e.Properties {
				props[k] = v
			}
			props[PropType] = TypeNetwork
			if ok {
				props[PropIsoName] = budget
			} else {
				props[PropIsoName] = nil
			}
			fc.Features = append(fc.Features, &geojson.Feature{ID: e.ID, Geometry: e.Geometry, Properties: props})
		}
	}

	fc.Features = append(fc.Features, &geojson.Feature{
		ID:         TypeOrigin,
		Geometry:   geom.NewPointFlat(geom.XY, []float64{res.Source.X(), res.Source.Y()}),
		Properties: map[string]interface{}{PropType: TypeOrigin},
	})
	return fc
}

// Write encodes fc as JSON to w.
func Write(w io.Writer, fc *geojson.FeatureCollection) error {
	if err := json.NewEncoder(w).Encode(fc); err != nil {
		return eris.Wrap(err, "export: encode geojson")
	}
	return nil
}

// WriteFile writes fc to path, replacing any existing file.
func WriteFile(path string, fc *geojson.FeatureCollection) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", path)
	}
	if err := Write(f, fc); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return eris.Wrapf(err, "export: close %s", path)
	}
	return nil
}

func formatBudget(b float64) string {
	return strconv.FormatFloat(b, 'f', -1, 64)
}
