// Package config loads shaderoute settings from config.yaml and SHADEROUTE_*
// environment variables.
package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the root configuration.
type Config struct {
	Place    PlaceConfig    `yaml:"place" mapstructure:"place"`
	Data     DataConfig     `yaml:"data" mapstructure:"data"`
	Sun      SunConfig      `yaml:"sun" mapstructure:"sun"`
	Shadow   ShadowConfig   `yaml:"shadow" mapstructure:"shadow"`
	Weights  WeightsConfig  `yaml:"weights" mapstructure:"weights"`
	Coverage CoverageConfig `yaml:"coverage" mapstructure:"coverage"`
	Export   ExportConfig   `yaml:"export" mapstructure:"export"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// PlaceConfig locates the study area.
type PlaceConfig struct {
	Name      string  `yaml:"name" mapstructure:"name"`
	Latitude  float64 `yaml:"latitude" mapstructure:"latitude"`
	Longitude float64 `yaml:"longitude" mapstructure:"longitude"`
	Timezone  string  `yaml:"timezone" mapstructure:"timezone"`
	CRS       string  `yaml:"crs" mapstructure:"crs"`
}

// DataConfig points at the input files.
type DataConfig struct {
	Buildings     string  `yaml:"buildings" mapstructure:"buildings"`
	Streets       string  `yaml:"streets" mapstructure:"streets"`
	Format        string  `yaml:"format" mapstructure:"format"`
	SnapTolerance float64 `yaml:"snap_tolerance" mapstructure:"snap_tolerance"`
}

// SunConfig selects the instant. Time is local wall-clock time in the place's
// timezone; empty means now.
type SunConfig struct {
	Time string `yaml:"time" mapstructure:"time"`
}

// ShadowConfig configures the projector.
type ShadowConfig struct {
	Model          string  `yaml:"model" mapstructure:"model"`
	AltitudePolicy string  `yaml:"altitude_policy" mapstructure:"altitude_policy"`
	MinTanAltitude float64 `yaml:"min_tan_altitude" mapstructure:"min_tan_altitude"`
	BufferMeters   float64 `yaml:"buffer_meters" mapstructure:"buffer_meters"`
	QuadSegs       int     `yaml:"quad_segs" mapstructure:"quad_segs"`
}

// WeightsConfig lists the shade divisors, one weight per divisor.
type WeightsConfig struct {
	Divisors []float64 `yaml:"divisors" mapstructure:"divisors"`
}

// CoverageConfig sizes the coverage worker pool. 0 uses GOMAXPROCS.
type CoverageConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// ExportConfig controls GeoJSON output.
type ExportConfig struct {
	Path   string   `yaml:"path" mapstructure:"path"`
	Layers []string `yaml:"layers" mapstructure:"layers"`
}

// StoreConfig selects the run-history database. A postgres:// URL uses
// Postgres, anything else is a SQLite path; empty disables history.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port         int      `yaml:"port" mapstructure:"port"`
	RateLimit    float64  `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateBurst    int      `yaml:"rate_burst" mapstructure:"rate_burst"`
	CacheSize    int      `yaml:"cache_size" mapstructure:"cache_size"`
	CacheTTLSecs int      `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
	CORSOrigins  []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// CacheTTL returns the route cache TTL.
func (s ServerConfig) CacheTTL() time.Duration {
	return time.Duration(s.CacheTTLSecs) * time.Second
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from config.yaml (if present) and environment
// variables. Env vars use the prefix SHADEROUTE_ with underscores replacing
// dots, e.g. SHADEROUTE_PLACE_CRS.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SHADEROUTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("place.timezone", "UTC")
	v.SetDefault("data.format", "auto")
	v.SetDefault("data.snap_tolerance", 0.01)
	v.SetDefault("shadow.model", "distorted")
	v.SetDefault("shadow.altitude_policy", "null")
	v.SetDefault("shadow.min_tan_altitude", 0.1)
	v.SetDefault("shadow.buffer_meters", 0.5)
	v.SetDefault("shadow.quad_segs", 16)
	v.SetDefault("weights.divisors", []float64{1, 10, 50, 80})
	v.SetDefault("coverage.workers", 0)
	v.SetDefault("export.layers", []string{})
	v.SetDefault("store.database_url", "shaderoute.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit", 20.0)
	v.SetDefault("server.rate_burst", 40)
	v.SetDefault("server.cache_size", 1000)
	v.SetDefault("server.cache_ttl_secs", 600)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the settings the given command mode needs. Modes are
// "annotate", "route", "serve", "sun" and "runs". All problems are reported
// together.
func (c *Config) Validate(mode string) error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	checkLocation := func() {
		if c.Place.Latitude < -90 || c.Place.Latitude > 90 {
			add("place.latitude %v out of range", c.Place.Latitude)
		}
		if c.Place.Longitude < -180 || c.Place.Longitude > 180 {
			add("place.longitude %v out of range", c.Place.Longitude)
		}
		if c.Place.Timezone == "" {
			add("place.timezone is required")
		}
		if _, err := c.Sun.Parse(); err != nil {
			add("sun.time: %v", err)
		}
	}

	checkAnnotate := func() {
		checkLocation()
		if c.Place.CRS == "" {
			add("place.crs is required")
		}
		if c.Data.Buildings == "" {
			add("data.buildings is required")
		}
		if c.Data.Streets == "" {
			add("data.streets is required")
		}
		if c.Data.SnapTolerance < 0 {
			add("data.snap_tolerance must be >= 0")
		}
		for _, d := range c.Weights.Divisors {
			if !(d > 0) || math.IsInf(d, 0) {
				add("weights.divisors must be finite and > 0, got %v", d)
				break
			}
		}
		if c.Shadow.BufferMeters < 0 {
			add("shadow.buffer_meters must be >= 0")
		}
		if c.Coverage.Workers < 0 {
			add("coverage.workers must be >= 0")
		}
	}

	switch mode {
	case "annotate", "route":
		checkAnnotate()
	case "serve":
		checkAnnotate()
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server.port must be > 0 and <= 65535")
		}
		if c.Server.RateLimit < 0 {
			add("server.rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
			add("server.rate_burst must be >= 1 when rate limiting")
		}
	case "sun":
		checkLocation()
	case "runs":
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

var sunLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// Parse returns the configured wall-clock time. The zero time means "now".
func (s SunConfig) Parse() (time.Time, error) {
	return ParseLocalTime(s.Time)
}

// ParseLocalTime accepts "2006-01-02T15:04[:05]" with either a T or a space.
// The result carries no zone; callers attach the place's timezone.
func ParseLocalTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range sunLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, eris.Errorf("config: cannot parse time %q (want YYYY-MM-DDTHH:MM)", s)
}

// InitLogger configures the global zap logger based on config.
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
