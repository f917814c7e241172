// Package config loads process settings and the data sources file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/DrSkyle/cloudtail/pkg/engine/watermark"
	"github.com/DrSkyle/cloudtail/pkg/store"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. CLOUDTAIL_DATABASE_DSN.
const EnvPrefix = "CLOUDTAIL"

// Settings are the process-level knobs.
type Settings struct {
	Database     DatabaseSettings  `mapstructure:"database"`
	Log          LogSettings       `mapstructure:"log"`
	Watermark    WatermarkSettings `mapstructure:"watermark"`
	Concurrency  int               `mapstructure:"concurrency"`
	OtelEndpoint string            `mapstructure:"otel_endpoint"`
	// OutputDir is a directory or an s3://bucket/prefix URL for exports.
	OutputDir string `mapstructure:"output_dir"`
	// Strict fails a run that skipped or aborted any unit.
	Strict bool `mapstructure:"strict"`
	// Schedule is the cron expression used by watch.
	Schedule string `mapstructure:"schedule"`
	Verbose  bool   `mapstructure:"verbose"`
}

type DatabaseSettings struct {
	Driver      string        `mapstructure:"driver"`
	DSN         string        `mapstructure:"dsn"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

type LogSettings struct {
	Format string `mapstructure:"format"`
	Level  string `mapstructure:"level"`
}

type WatermarkSettings struct {
	Backfill  time.Duration `mapstructure:"backfill"`
	SafetyLag time.Duration `mapstructure:"safety_lag"`
	MaxWindow time.Duration `mapstructure:"max_window"`
}

// DefaultSettings returns the built-in defaults.
func DefaultSettings() Settings {
	return Settings{
		Database: DatabaseSettings{
			Driver:      "sqlite",
			DSN:         "cloudtail.db",
			BusyTimeout: 5 * time.Second,
		},
		Log: LogSettings{Format: "json", Level: "info"},
		Watermark: WatermarkSettings{
			Backfill:  watermark.DefaultBackfill,
			SafetyLag: watermark.DefaultSafetyLag,
			MaxWindow: watermark.DefaultMaxWindow,
		},
		Concurrency: 4,
		OutputDir:   ".",
		Schedule:    "@every 15m",
	}
}

// SetDefaults registers DefaultSettings on v so every key is known to AutomaticEnv.
func SetDefaults(v *viper.Viper) {
	d := DefaultSettings()
	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.busy_timeout", d.Database.BusyTimeout)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("watermark.backfill", d.Watermark.Backfill)
	v.SetDefault("watermark.safety_lag", d.Watermark.SafetyLag)
	v.SetDefault("watermark.max_window", d.Watermark.MaxWindow)
	v.SetDefault("concurrency", d.Concurrency)
	v.SetDefault("otel_endpoint", d.OtelEndpoint)
	v.SetDefault("output_dir", d.OutputDir)
	v.SetDefault("strict", d.Strict)
	v.SetDefault("schedule", d.Schedule)
	v.SetDefault("verbose", d.Verbose)
}

// BindEnv makes CLOUDTAIL_* variables override v.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// LoadSettings decodes v into Settings and checks them.
func LoadSettings(v *viper.Viper) (Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks values that would only fail later.
func (s Settings) Validate() error {
	switch s.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver %q: %w", s.Database.Driver, store.ErrUnsupportedDriver)
	}
	if s.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if s.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", s.Concurrency)
	}
	if s.Schedule != "" {
		if _, err := cron.ParseStandard(s.Schedule); err != nil {
			return fmt.Errorf("schedule %q: %w", s.Schedule, err)
		}
	}
	return nil
}

// StoreConfig maps the database settings onto the store.
func (s Settings) StoreConfig() store.Config {
	return store.Config{
		Driver:      s.Database.Driver,
		DSN:         s.Database.DSN,
		BusyTimeout: s.Database.BusyTimeout,
	}
}

// Policy maps the watermark settings onto the tracker policy.
func (s Settings) Policy() watermark.Policy {
	return watermark.Policy{
		Backfill:  s.Watermark.Backfill,
		SafetyLag: s.Watermark.SafetyLag,
		MaxWindow: s.Watermark.MaxWindow,
	}
}
