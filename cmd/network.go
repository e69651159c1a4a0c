package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/isochrone-cli/internal/config"
	"github.com/sells-group/isochrone-cli/internal/network"
)

var (
	importFormat string
	importUpsert bool
)

var networkCmd = &cobra.Command{
	Use:   "network",
	Short: "Manage road network sources",
}

var networkImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load a GeoJSON or shapefile road network into the configured store",
	Long:  "Reads LineString features from a GeoJSON file or PolyLine records from a shapefile and writes them to the postgres or sqlite network store named by network.driver.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("import"); err != nil {
			return err
		}

		t, err := readNetworkFile(args[0], importFormat)
		if err != nil {
			return err
		}
		zap.L().Info("read network file", zap.String("path", args[0]), zap.Int("edges", t.Len()))

		n, err := importTable(ctx, cfg.Network, t, importUpsert)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d edges into %s store\n", n, cfg.Network.Driver)
		return nil
	},
}

var networkStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the size of the configured network source",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("compute"); err != nil {
			return err
		}
		return printNetworkStats(cmd.Context(), cmd.OutOrStdout(), cfg.Network)
	},
}

func init() {
	networkImportCmd.Flags().StringVar(&importFormat, "format", "", "input format: geojson or shapefile (default from file extension)")
	networkImportCmd.Flags().BoolVar(&importUpsert, "upsert", false, "replace existing edges with the same id (postgres)")
	networkCmd.AddCommand(networkImportCmd)
	networkCmd.AddCommand(networkStatsCmd)
	rootCmd.AddCommand(networkCmd)
}

// readNetworkFile loads an edge table, choosing the reader from format or
// the file extension.
func readNetworkFile(path, format string) (*network.Table, error) {
	if format == "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".shp":
			format = "shapefile"
		case ".geojson", ".json":
			format = "geojson"
		default:
			return nil, eris.Errorf("cannot infer network format of %s, use --format", path)
		}
	}
	switch format {
	case "geojson":
		return network.LoadGeoJSON(path)
	case "shapefile":
		return network.LoadShapefile(path)
	default:
		return nil, eris.Errorf("unsupported network format: %s", format)
	}
}

func importTable(ctx context.Context, nc config.NetworkConfig, t *network.Table, upsert bool) (int64, error) {
	switch nc.Driver {
	case "postgres":
		pool, err := connectPostgres(ctx, nc.DatabaseURL, retryPolicy(nc))
		if err != nil {
			return 0, err
		}
		defer pool.Close()
		if err := network.MigratePostgres(ctx, pool); err != nil {
			return 0, err
		}
		return network.ImportPostgres(ctx, pool, t, upsert)
	case "sqlite":
		s, err := network.OpenSQLite(nc.Path, 0)
		if err != nil {
			return 0, err
		}
		defer func() { _ = s.Close() }()
		return s.Import(ctx, t)
	default:
		return 0, eris.Errorf("network driver %s cannot be imported into", nc.Driver)
	}
}

func printNetworkStats(ctx context.Context, w io.Writer, nc config.NetworkConfig) error {
	var (
		count  int64
		bounds *network.BBox
	)
	switch nc.Driver {
	case "geojson", "shapefile":
		t, err := readNetworkFile(nc.Path, nc.Driver)
		if err != nil {
			return err
		}
		count = int64(t.Len())
		b := t.Bounds()
		bounds = &b
	case "postgres":
		pool, err := connectPostgres(ctx, nc.DatabaseURL, retryPolicy(nc))
		if err != nil {
			return err
		}
		defer pool.Close()
		if count, err = network.CountPostgres(ctx, pool); err != nil {
			return err
		}
	case "sqlite":
		if _, err := os.Stat(nc.Path); err != nil {
			return eris.Wrapf(err, "sqlite network %s", nc.Path)
		}
		s, err := network.OpenSQLite(nc.Path, 0)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()
		if count, err = s.Count(ctx); err != nil {
			return err
		}
	default:
		return eris.Errorf("unsupported network driver: %s", nc.Driver)
	}

	fmt.Fprintf(w, "driver: %s\n", nc.Driver)
	fmt.Fprintf(w, "edges:  %d\n", count)
	if bounds != nil && count > 0 {
		fmt.Fprintf(w, "bounds: %s\n", bounds)
	}
	return nil
}
