package network

import (
	"encoding/json"
	"io"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// ReadGeoJSON parses a FeatureCollection of LineString / MultiLineString
// features into a Table. Other geometry types are skipped. MultiLineString
// features yield one row per part with ids suffixed "-<part>".
func ReadGeoJSON(r io.Reader) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "network: read geojson")
	}
	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrap(err, "network: decode geojson")
	}

	t := &Table{}
	for i, f := range fc.Features {
		id := featureID(f, i)
		switch g := f.Geometry.(type) {
		case *geom.LineString:
			if g.NumCoords() >= 2 {
				t.Edges = append(t.Edges, Edge{ID: id, Geometry: g, Properties: f.Properties})
			}
		case *geom.MultiLineString:
			for j := 0; j < g.NumLineStrings(); j++ {
				ls := g.LineString(j)
				if ls.NumCoords() < 2 {
					continue
				}
				t.Edges = append(t.Edges, Edge{ID: id + "-" + strconv.Itoa(j), Geometry: ls, Properties: f.Properties})
			}
		}
	}
	return t, nil
}

// LoadGeoJSON reads a GeoJSON network file from disk.
func LoadGeoJSON(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "network: open %s", path)
	}
	defer func() { _ = f.Close() }()
	return ReadGeoJSON(f)
}

func featureID(f *geojson.Feature, index int) string {
	if f.ID != "" {
		return f.ID
	}
	switch v := f.Properties["id"].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strconv.Itoa(index)
}
