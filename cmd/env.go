package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/isochrone-cli/internal/config"
	"github.com/sells-group/isochrone-cli/internal/db"
	"github.com/sells-group/isochrone-cli/internal/isochrone"
	"github.com/sells-group/isochrone-cli/internal/network"
	"github.com/sells-group/isochrone-cli/internal/resilience"
	"github.com/sells-group/isochrone-cli/internal/spatial"
)

// calcEnv bundles a ready Calculator with the resources behind it.
type calcEnv struct {
	Calc    *isochrone.Calculator
	Cache   *network.CachedProvider
	closers []func()
}

// Close releases the network source.
func (e *calcEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// initProvider opens the network source named by the configured driver.
func initProvider(ctx context.Context, nc config.NetworkConfig, snapRadius float64) (network.Provider, func(), error) {
	switch nc.Driver {
	case "geojson":
		t, err := network.LoadGeoJSON(nc.Path)
		if err != nil {
			return nil, nil, err
		}
		zap.L().Info("loaded network", zap.String("path", nc.Path), zap.Int("edges", t.Len()))
		return network.NewTableProvider(t, snapRadius), func() {}, nil
	case "shapefile":
		t, err := network.LoadShapefile(nc.Path)
		if err != nil {
			return nil, nil, err
		}
		zap.L().Info("loaded network", zap.String("path", nc.Path), zap.Int("edges", t.Len()))
		return network.NewTableProvider(t, snapRadius), func() {}, nil
	case "postgres":
		retry := retryPolicy(nc)
		pool, err := connectPostgres(ctx, nc.DatabaseURL, retry)
		if err != nil {
			return nil, nil, err
		}
		return network.NewPostgresProvider(pool, snapRadius).WithRetry(retry), pool.Close, nil
	case "sqlite":
		s, err := network.OpenSQLite(nc.Path, snapRadius)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, nil, eris.Errorf("unsupported network driver: %s", nc.Driver)
	}
}

func retryPolicy(nc config.NetworkConfig) resilience.Policy {
	p := resilience.DefaultPolicy()
	if nc.RetryAttempts > 0 {
		p.Attempts = nc.RetryAttempts
	}
	return p
}

// connectPostgres opens a pool, retrying while the server is unreachable.
func connectPostgres(ctx context.Context, url string, retry resilience.Policy) (*pgxpool.Pool, error) {
	retry.Operation = "db: connect"
	return resilience.DoVal(ctx, retry, func(ctx context.Context) (*pgxpool.Pool, error) {
		return db.Connect(ctx, url)
	})
}

// calculatorOptions translates the isochrone config section.
func calculatorOptions(ic config.IsochroneConfig) ([]isochrone.Option, error) {
	ties, err := isochrone.ParseTiePolicy(ic.TiePolicy)
	if err != nil {
		return nil, err
	}
	opts := []isochrone.Option{
		isochrone.WithDistanceTolerance(ic.DistanceTolerance),
		isochrone.WithTiePolicy(ties),
	}
	if ic.ValidateNesting {
		opts = append(opts, isochrone.WithNestingValidation(ic.NestingTolerance))
	}
	return opts, nil
}

func hullBuilder(ic config.IsochroneConfig) isochrone.HullBuilder {
	if ic.Hull == "convex" {
		return spatial.ConvexHull{}
	}
	return spatial.ConcaveHull{Concavity: ic.Concavity}
}

func newCalcEnv(provider network.Provider, c *config.Config) (*calcEnv, error) {
	env := &calcEnv{}

	var p isochrone.NetworkProvider = provider
	if c.Network.CacheSize > 0 {
		ttl := c.Network.CacheTTL
		if ttl <= 0 {
			ttl = 10 * time.Minute
		}
		env.Cache = network.NewCachedProvider(provider, c.Network.CacheSize, ttl)
		p = env.Cache
	}

	opts, err := calculatorOptions(c.Isochrone)
	if err != nil {
		return nil, err
	}
	env.Calc = isochrone.New(p, spatial.Projector{}, hullBuilder(c.Isochrone), spatial.Overlay{}, opts...)
	return env, nil
}

// initCalculator wires the configured network source into a Calculator.
func initCalculator(ctx context.Context, mode string) (*calcEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	provider, closeFn, err := initProvider(ctx, cfg.Network, cfg.Isochrone.SnapRadiusM)
	if err != nil {
		return nil, eris.Wrap(err, "init network provider")
	}
	env, err := newCalcEnv(provider, cfg)
	if err != nil {
		closeFn()
		return nil, err
	}
	env.closers = append(env.closers, closeFn)
	return env, nil
}

// defaultMode parses the configured travel mode.
func defaultMode() network.Mode {
	m, err := network.ParseMode(cfg.Isochrone.Mode)
	if err != nil {
		return network.Pedestrian
	}
	return m
}
