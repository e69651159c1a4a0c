package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/isochrone-cli/internal/export"
	"github.com/sells-group/isochrone-cli/internal/isochrone"
	"github.com/sells-group/isochrone-cli/internal/network"
)

var (
	batchOutDir      string
	batchConcurrency int
)

var batchCmd = &cobra.Command{
	Use:   "batch <jobs.yaml>",
	Short: "Compute isochrones for every job in a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		jf, err := loadJobFile(args[0])
		if err != nil {
			return err
		}
		outDir := batchOutDir
		if outDir == "" {
			outDir = jf.OutputDir
		}
		if outDir == "" {
			outDir = "."
		}
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return eris.Wrapf(err, "create output dir %s", outDir)
		}

		concurrency := batchConcurrency
		if concurrency <= 0 {
			concurrency = cfg.Batch.MaxConcurrent
		}

		env, err := initCalculator(ctx, "batch")
		if err != nil {
			return err
		}
		defer env.Close()

		sum, err := processBatch(ctx, jf, concurrency, env.Calc.Compute, func(job Job, res *isochrone.Result) error {
			return export.WriteFile(filepath.Join(outDir, job.ID+".geojson"), export.FeatureCollection(res, jf.LabeledOnly))
		})
		if err != nil {
			return err
		}
		if env.Cache != nil {
			st := env.Cache.Stats()
			zap.L().Info("network cache", zap.Int64("hits", st.Hits), zap.Int64("misses", st.Misses))
		}
		if sum.Failed > 0 {
			return eris.Errorf("batch: %d of %d jobs failed", sum.Failed, sum.Failed+sum.Succeeded)
		}
		return nil
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchOutDir, "out-dir", "", "directory for result files (default from job file)")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "parallel jobs (default from config)")
	rootCmd.AddCommand(batchCmd)
}

// JobFile is the YAML document read by the batch command.
type JobFile struct {
	OutputDir   string  `yaml:"output_dir"`
	LabeledOnly bool    `yaml:"labeled_only"`
	SpeedKMH    float64 `yaml:"speed_kmh"`
	Mode        string  `yaml:"mode"`
	Jobs        []Job   `yaml:"jobs"`
}

// Job is one isochrone request in a job file. Zero values fall back to the
// file-level settings, then to config.
type Job struct {
	ID       string    `yaml:"id"`
	Lng      float64   `yaml:"lng"`
	Lat      float64   `yaml:"lat"`
	Budgets  []float64 `yaml:"budgets"`
	SpeedKMH float64   `yaml:"speed_kmh"`
	Mode     string    `yaml:"mode"`
}

func loadJobFile(path string) (*JobFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read job file %s", path)
	}
	var jf JobFile
	if err := yaml.Unmarshal(data, &jf); err != nil {
		return nil, eris.Wrapf(err, "parse job file %s", path)
	}

	seen := make(map[string]bool, len(jf.Jobs))
	for i := range jf.Jobs {
		if jf.Jobs[i].ID == "" {
			jf.Jobs[i].ID = uuid.NewString()
		}
		if id := jf.Jobs[i].ID; id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
			return nil, eris.Errorf("job file %s: job id %q must not contain path separators", path, id)
		}
		if seen[jf.Jobs[i].ID] {
			return nil, eris.Errorf("job file %s: duplicate job id %q", path, jf.Jobs[i].ID)
		}
		seen[jf.Jobs[i].ID] = true
	}
	return &jf, nil
}

// request resolves a job against the file-level and configured defaults.
func (jf *JobFile) request(job Job, defSpeed float64, defMode network.Mode) (isochrone.Request, error) {
	speed := firstPositive(job.SpeedKMH, jf.SpeedKMH, defSpeed)
	mode := defMode
	for _, m := range []string{jf.Mode, job.Mode} {
		if m == "" {
			continue
		}
		parsed, err := network.ParseMode(m)
		if err != nil {
			return isochrone.Request{}, eris.Wrapf(isochrone.ErrInvalidParameter, "job %s: %v", job.ID, err)
		}
		mode = parsed
	}
	return isochrone.Request{
		Source:   geom.Coord{job.Lng, job.Lat},
		Budgets:  job.Budgets,
		SpeedKMH: speed,
		Mode:     mode,
	}, nil
}

func firstPositive(vals ...float64) float64 {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

// computeFunc is the callback signature for running one isochrone request.
type computeFunc func(ctx context.Context, req isochrone.Request) (*isochrone.Result, error)

// batchSummary counts job outcomes.
type batchSummary struct {
	Succeeded int64
	Failed    int64
}

// processBatch runs every job concurrently. A failing job is logged and
// counted but does not stop the others.
func processBatch(ctx context.Context, jf *JobFile, concurrency int, compute computeFunc, write func(Job, *isochrone.Result) error) (batchSummary, error) {
	if len(jf.Jobs) == 0 {
		zap.L().Info("no jobs in job file")
		return batchSummary{}, nil
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	zap.L().Info("processing batch",
		zap.Int("jobs", len(jf.Jobs)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var succeeded, failed atomic.Int64
	defSpeed, defMode := cfg.Isochrone.SpeedKMH, defaultMode()

	for _, job := range jf.Jobs {
		g.Go(func() error {
			log := zap.L().With(zap.String("job", job.ID))

			req, err := jf.request(job, defSpeed, defMode)
			if err == nil {
				var res *isochrone.Result
				if res, err = compute(gctx, req); err == nil {
					err = write(job, res)
				}
			}
			if err != nil {
				failed.Add(1)
				log.Error("job failed", zap.String("kind", isochrone.Kind(err)), zap.Error(err))
				return nil // don't abort batch on individual failure
			}

			succeeded.Add(1)
			log.Info("job complete")
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return batchSummary{}, eris.Wrap(err, "batch processing")
	}

	sum := batchSummary{Succeeded: succeeded.Load(), Failed: failed.Load()}
	zap.L().Info("batch complete",
		zap.Int64("succeeded", sum.Succeeded),
		zap.Int64("failed", sum.Failed),
	)
	return sum, nil
}
