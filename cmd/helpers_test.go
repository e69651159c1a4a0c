//go:build !integration

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/isochrone-cli/internal/config"
)

const (
	testLng = -73.99
	testLat = 40.75
)

func testConfig(driver, path string) *config.Config {
	return &config.Config{
		Isochrone: config.IsochroneConfig{
			SpeedKMH:          3,
			DistanceTolerance: 1.2,
			Concavity:         2,
			TiePolicy:         "distinct",
			NestingTolerance:  0.01,
			Mode:              "pedestrian",
			SnapRadiusM:       50,
			Hull:              "concave",
		},
		Network: config.NetworkConfig{Driver: driver, Path: path},
		Server:  config.ServerConfig{Port: 8080},
		Batch:   config.BatchConfig{MaxConcurrent: 2},
		Log:     config.LogConfig{Level: "info", Format: "json"},
	}
}

// writeGridGeoJSON writes a 13x13 street grid with ~100 m blocks centred on
// (testLng, testLat) and returns its path.
func writeGridGeoJSON(t *testing.T, dir string) string {
	t.Helper()
	at := func(i, j int) geom.Coord {
		return geom.Coord{testLng + float64(i)*0.0012, testLat + float64(j)*0.0009}
	}

	fc := geojson.FeatureCollection{}
	add := func(id string, a, b geom.Coord) {
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         id,
			Geometry:   geom.NewLineString(geom.XY).MustSetCoords([]geom.Coord{a, b}),
			Properties: map[string]any{"highway": "residential"},
		})
	}
	for j := -6; j <= 6; j++ {
		for i := -6; i < 6; i++ {
			add(fmt.Sprintf("h_%d_%d", i, j), at(i, j), at(i+1, j))
			add(fmt.Sprintf("v_%d_%d", j, i), at(j, i), at(j, i+1))
		}
	}

	data, err := json.Marshal(&fc)
	require.NoError(t, err)
	path := filepath.Join(dir, "grid.geojson")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// readFeatureCollection decodes a GeoJSON file written by the export package.
func readFeatureCollection(t *testing.T, path string) *geojson.FeatureCollection {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var fc geojson.FeatureCollection
	require.NoError(t, json.Unmarshal(data, &fc))
	return &fc
}
