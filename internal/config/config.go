package config

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Isochrone IsochroneConfig `yaml:"isochrone" mapstructure:"isochrone"`
	Network   NetworkConfig   `yaml:"network" mapstructure:"network"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// IsochroneConfig holds the calculation defaults used when a request does
// not carry its own values.
type IsochroneConfig struct {
	SpeedKMH          float64 `yaml:"speed_kmh" mapstructure:"speed_kmh" validate:"gt=0"`
	DistanceTolerance float64 `yaml:"distance_tolerance" mapstructure:"distance_tolerance" validate:"gt=1"`
	Concavity         float64 `yaml:"concavity" mapstructure:"concavity" validate:"gt=0"`
	TiePolicy         string  `yaml:"tie_policy" mapstructure:"tie_policy" validate:"oneof=distinct collapse"`
	ValidateNesting   bool    `yaml:"validate_nesting" mapstructure:"validate_nesting"`
	NestingTolerance  float64 `yaml:"nesting_tolerance" mapstructure:"nesting_tolerance" validate:"gte=0,lte=1"`
	Mode              string  `yaml:"mode" mapstructure:"mode" validate:"oneof=pedestrian vehicle"`
	SnapRadiusM       float64 `yaml:"snap_radius_m" mapstructure:"snap_radius_m" validate:"gt=0"`
	Hull              string  `yaml:"hull" mapstructure:"hull" validate:"oneof=concave convex"`
}

// NetworkConfig selects where road networks are loaded from.
type NetworkConfig struct {
	Driver      string        `yaml:"driver" mapstructure:"driver" validate:"oneof=geojson shapefile postgres sqlite"`
	Path        string        `yaml:"path" mapstructure:"path"`
	DatabaseURL string        `yaml:"database_url" mapstructure:"database_url"`
	CacheSize   int           `yaml:"cache_size" mapstructure:"cache_size" validate:"gte=0"`
	CacheTTL    time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl" validate:"gte=0"`
	// RetryAttempts bounds tries per postgres round trip. 1 disables retries.
	RetryAttempts int `yaml:"retry_attempts" mapstructure:"retry_attempts" validate:"gte=0,lte=10"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int           `yaml:"port" mapstructure:"port"`
	CORSOrigins    []string      `yaml:"cors_origins" mapstructure:"cors_origins"`
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout" validate:"gte=0"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format" validate:"omitempty,oneof=json console"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ISOCHRONE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("isochrone.speed_kmh", 3.0)
	v.SetDefault("isochrone.distance_tolerance", 1.2)
	v.SetDefault("isochrone.concavity", 2.0)
	v.SetDefault("isochrone.tie_policy", "distinct")
	v.SetDefault("isochrone.validate_nesting", false)
	v.SetDefault("isochrone.nesting_tolerance", 0.01)
	v.SetDefault("isochrone.mode", "pedestrian")
	v.SetDefault("isochrone.snap_radius_m", 50.0)
	v.SetDefault("isochrone.hull", "concave")
	v.SetDefault("network.driver", "geojson")
	v.SetDefault("network.cache_size", 64)
	v.SetDefault("network.cache_ttl", "10m")
	v.SetDefault("network.retry_attempts", 3)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("batch.max_concurrent", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the configuration needed by a command. mode is one of
// "compute", "batch", "serve" or "import".
func (c *Config) Validate(mode string) error {
	var problems []string

	v := validator.New()
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !eris.As(err, &verrs) {
			return eris.Wrap(err, "config: validate")
		}
		for _, fe := range verrs {
			problems = append(problems, fieldProblem(fe))
		}
	}

	switch mode {
	case "compute", "batch", "serve":
		problems = append(problems, c.networkSourceProblems()...)
	case "import":
		if c.Network.Driver != "postgres" && c.Network.Driver != "sqlite" {
			problems = append(problems, "network.driver must be postgres or sqlite to import")
		}
		problems = append(problems, c.networkSourceProblems()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if mode == "serve" && c.Server.Port <= 0 {
		problems = append(problems, "server.port must be > 0")
	}
	if mode == "batch" && (c.Batch.MaxConcurrent < 1 || c.Batch.MaxConcurrent > 64) {
		problems = append(problems, "batch.max_concurrent must be between 1 and 64")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) networkSourceProblems() []string {
	switch c.Network.Driver {
	case "postgres":
		if c.Network.DatabaseURL == "" {
			return []string{"network.database_url is required for the postgres driver"}
		}
	case "geojson", "shapefile", "sqlite":
		if c.Network.Path == "" {
			return []string{"network.path is required for the " + c.Network.Driver + " driver"}
		}
	}
	return nil
}

// fieldProblem renders a validator error with the config key of the field.
func fieldProblem(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	key := strings.ToLower(snake(ns))
	if fe.Param() != "" {
		return key + " failed " + fe.Tag() + "=" + fe.Param()
	}
	return key + " failed " + fe.Tag()
}

// snake converts "Isochrone.SpeedKMH" to "isochrone.speed_kmh".
func snake(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		upper := r >= 'A' && r <= 'Z'
		if upper && i > 0 && runes[i-1] != '.' {
			prevLower := runes[i-1] >= 'a' && runes[i-1] <= 'z'
			nextLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'
			if prevLower || nextLower {
				b.WriteByte('_')
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
