// Package config loads chameleond's runtime configuration via spf13/viper:
// defaults first, then a config file, then CHAMELEON_-prefixed environment
// variables, each layer overriding the last.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron"
	"github.com/spf13/viper"
)

// Config is the full set of tunables for cmd/chameleond.
type Config struct {
	HTTPAddr string `mapstructure:"http_addr"`

	StoreDriver string `mapstructure:"store_driver"` // memory | sqlite | mysql | postgres
	StoreDSN    string `mapstructure:"store_dsn"`

	ZombieThreshold time.Duration `mapstructure:"zombie_threshold"`
	ZombieInterval  time.Duration `mapstructure:"zombie_interval"`
	MemoryRetention time.Duration `mapstructure:"memory_retention"`
	MemoryInterval  time.Duration `mapstructure:"memory_interval"`

	TelemetryFilePath   string        `mapstructure:"telemetry_file_path"`
	TelemetryBatchSize  int           `mapstructure:"telemetry_batch_size"`
	TelemetryDrainEvery time.Duration `mapstructure:"telemetry_drain_every"`

	PilotWaitTimeout time.Duration `mapstructure:"pilot_wait_timeout"`

	// SweeperSchedule is an optional cron expression documenting when
	// operators expect the zombie/decay loops to run, independent of their
	// fixed poll interval. It is parsed for validation and for computing a
	// human-facing "next due" time; the sweeper's own tickers still govern
	// actual execution (see ZombieInterval/MemoryInterval).
	SweeperSchedule string `mapstructure:"sweeper_schedule"`

	ModelWhitelist []string `mapstructure:"model_whitelist"`
	FailoverModel  string   `mapstructure:"failover_model"`

	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // text | json
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8080")

	v.SetDefault("store_driver", "memory")
	v.SetDefault("store_dsn", "")

	v.SetDefault("zombie_threshold", 300*time.Second)
	v.SetDefault("zombie_interval", 60*time.Second)
	v.SetDefault("memory_retention", 90*24*time.Hour)
	v.SetDefault("memory_interval", time.Hour)

	v.SetDefault("telemetry_file_path", "chameleon-events.jsonl")
	v.SetDefault("telemetry_batch_size", 100)
	v.SetDefault("telemetry_drain_every", 2*time.Second)

	v.SetDefault("pilot_wait_timeout", 300*time.Second)
	v.SetDefault("sweeper_schedule", "")

	v.SetDefault("model_whitelist", []string{})
	v.SetDefault("failover_model", "gemini-flash")

	v.SetDefault("cors_allowed_origins", []string{"*"})

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
}

// Load reads configuration from configPath (if non-empty and present), then
// CHAMELEON_-prefixed environment variables, layered over the defaults
// above. An empty configPath is not an error; defaults + env still apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CHAMELEON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if cfg.SweeperSchedule != "" {
		if _, err := cron.Parse(cfg.SweeperSchedule); err != nil {
			return nil, fmt.Errorf("config: sweeper_schedule %q: %w", cfg.SweeperSchedule, err)
		}
	}

	return &cfg, nil
}

// NextSweepDue parses SweeperSchedule and returns the next time it fires
// after from. Returns false if no schedule is configured.
func (c *Config) NextSweepDue(from time.Time) (time.Time, bool, error) {
	if c.SweeperSchedule == "" {
		return time.Time{}, false, nil
	}
	sched, err := cron.Parse(c.SweeperSchedule)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("config: sweeper_schedule %q: %w", c.SweeperSchedule, err)
	}
	return sched.Next(from), true, nil
}
