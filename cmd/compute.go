package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/isochrone-cli/internal/export"
	"github.com/sells-group/isochrone-cli/internal/isochrone"
	"github.com/sells-group/isochrone-cli/internal/network"
)

var (
	computeLng         float64
	computeLat         float64
	computeBudgets     []float64
	computeSpeed       float64
	computeMode        string
	computeOut         string
	computeLabeledOnly bool
)

var computeCmd = &cobra.Command{
	Use:   "compute",
	Short: "Compute isochrone rings around one point",
	Example: `  isochrone-cli compute --lng -73.9857 --lat 40.7484 --budgets 5,10,15
  isochrone-cli compute --lng 2.3522 --lat 48.8566 --budgets 10 --mode vehicle --speed 30 --out paris.geojson`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		req, err := computeRequest()
		if err != nil {
			return err
		}

		env, err := initCalculator(ctx, "compute")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Calc.Compute(ctx, req)
		if err != nil {
			zap.L().Error("compute failed", zap.String("kind", isochrone.Kind(err)), zap.Error(err))
			return eris.Wrap(err, "compute isochrones")
		}

		fc := export.FeatureCollection(res, computeLabeledOnly)
		if computeOut == "" {
			return export.Write(os.Stdout, fc)
		}
		if err := export.WriteFile(computeOut, fc); err != nil {
			return err
		}
		zap.L().Info("wrote isochrones",
			zap.String("path", computeOut),
			zap.Int("rings", len(res.Rings)),
			zap.Int("labeled_edges", len(res.Network.Labeled())),
		)
		return nil
	},
}

func computeRequest() (isochrone.Request, error) {
	speed := computeSpeed
	if speed == 0 {
		speed = cfg.Isochrone.SpeedKMH
	}
	mode := defaultMode()
	if computeMode != "" {
		m, err := network.ParseMode(computeMode)
		if err != nil {
			return isochrone.Request{}, err
		}
		mode = m
	}
	return isochrone.Request{
		Source:   geom.Coord{computeLng, computeLat},
		Budgets:  computeBudgets,
		SpeedKMH: speed,
		Mode:     mode,
	}, nil
}

func init() {
	computeCmd.Flags().Float64Var(&computeLng, "lng", 0, "source longitude (EPSG:4326)")
	computeCmd.Flags().Float64Var(&computeLat, "lat", 0, "source latitude (EPSG:4326)")
	computeCmd.Flags().Float64SliceVar(&computeBudgets, "budgets", nil, "time budgets in minutes, comma separated")
	computeCmd.Flags().Float64Var(&computeSpeed, "speed", 0, "travel speed in km/h (default from config)")
	computeCmd.Flags().StringVar(&computeMode, "mode", "", "travel mode: pedestrian or vehicle (default from config)")
	computeCmd.Flags().StringVar(&computeOut, "out", "", "write GeoJSON to this file instead of stdout")
	computeCmd.Flags().BoolVar(&computeLabeledOnly, "labeled-only", false, "only include network edges inside some ring")
	_ = computeCmd.MarkFlagRequired("lng")
	_ = computeCmd.MarkFlagRequired("lat")
	_ = computeCmd.MarkFlagRequired("budgets")
	rootCmd.AddCommand(computeCmd)
}
