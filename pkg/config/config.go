// Package config loads supervisor configuration from config.json in the
// data root, with MSM_-prefixed environment overrides and defaults for
// every knob. Components receive their slice of the config at
// construction; there is no ambient config singleton.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all supervisor configuration.
type Config struct {
	Listen    string          `mapstructure:"listen"`
	LogLevel  string          `mapstructure:"log_level"`
	LogJSON   bool            `mapstructure:"log_json"`
	Console   ConsoleConfig   `mapstructure:"console"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	Backup    BackupConfig    `mapstructure:"backup"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Watchdog  WatchdogConfig  `mapstructure:"watchdog"`
}

// ConsoleConfig tunes the per-server console fabric.
type ConsoleConfig struct {
	RingSize          int           `mapstructure:"ring_size"`
	SubscriberBuffer  int           `mapstructure:"subscriber_buffer"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	SweepTTL          time.Duration `mapstructure:"sweep_ttl"`
}

// ReconcileConfig tunes the OS-vs-DB reconciliation loop.
type ReconcileConfig struct {
	Period time.Duration `mapstructure:"period"`
}

// LifecycleConfig tunes start/stop behavior.
type LifecycleConfig struct {
	StopGrace time.Duration `mapstructure:"stop_grace"`
}

// BackupConfig tunes archive management.
type BackupConfig struct {
	KeepCount int `mapstructure:"keep_count"`
}

// FetchConfig tunes artifact downloads.
type FetchConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	OverallTimeout time.Duration `mapstructure:"overall_timeout"`
}

// WatchdogConfig tunes restart-on-crash backoff.
type WatchdogConfig struct {
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
	ResetAfter  time.Duration `mapstructure:"reset_after"`
}

// Load reads config.json from the data root. A missing file is fine;
// defaults and MSM_* environment variables still apply.
func Load(dataRoot string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(dataRoot)

	v.SetEnvPrefix("MSM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config.json is the normal first-run case.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all settings.
func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", "127.0.0.1:8765")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)

	v.SetDefault("console.ring_size", 2000)
	v.SetDefault("console.subscriber_buffer", 64)
	v.SetDefault("console.heartbeat_interval", "20s")
	v.SetDefault("console.sweep_interval", "30s")
	v.SetDefault("console.sweep_ttl", "10m")

	v.SetDefault("reconcile.period", "10s")

	v.SetDefault("lifecycle.stop_grace", "30s")

	v.SetDefault("backup.keep_count", 5)

	v.SetDefault("fetch.max_attempts", 5)
	v.SetDefault("fetch.attempt_timeout", "60s")
	v.SetDefault("fetch.overall_timeout", "10m")

	v.SetDefault("watchdog.base_backoff", "30s")
	v.SetDefault("watchdog.max_backoff", "10m")
	v.SetDefault("watchdog.reset_after", "10m")
}
