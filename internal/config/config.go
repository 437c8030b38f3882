// Fluxgate - On-Premises Data Acquisition Gateway
// Copyright 2026 Fluxgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxgate/fluxgate

// Package config loads and validates the gateway configuration from
// defaults, an optional YAML file, and FLUXGATE_-prefixed environment
// variables, in that order of precedence.
package config

import "time"

// Config is the root gateway configuration.
type Config struct {
	Log       LogConfig         `koanf:"log"`
	Engine    EngineConfig      `koanf:"engine"`
	Watermark WatermarkConfig   `koanf:"watermark"`
	Archive   ArchiveConfig     `koanf:"archive"`
	ScanModes []ScanModeConfig  `koanf:"scan_modes" validate:"dive"`
	Souths    []SouthConfig     `koanf:"souths" validate:"dive"`
	Norths    []NorthConfig     `koanf:"norths" validate:"dive"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// EngineConfig holds gateway-wide settings.
type EngineConfig struct {
	// Name identifies this gateway instance in logs and metrics.
	Name string `koanf:"name" validate:"required"`

	// CacheDir is the root directory for per-connector durable queues.
	CacheDir string `koanf:"cache_dir" validate:"required"`

	// StopTimeout bounds how long shutdown waits for in-flight external
	// calls before canceling them.
	StopTimeout time.Duration `koanf:"stop_timeout" validate:"min=1s"`
}

// WatermarkConfig configures the badger-backed watermark store.
type WatermarkConfig struct {
	// Path is the directory for the store's files. Must be on a durable
	// filesystem, not tmpfs.
	Path string `koanf:"path" validate:"required"`

	// SyncWrites forces fsync after every write. Disable only when a
	// re-read of the last batch after power loss is acceptable.
	SyncWrites bool `koanf:"sync_writes"`
}

// ArchiveConfig configures the archive sweeper.
type ArchiveConfig struct {
	// SweepInterval is the time between sweeper runs.
	SweepInterval time.Duration `koanf:"sweep_interval" validate:"min=1m"`

	// RetentionAge is how long delivered entries are kept in the
	// archived area before being pruned.
	RetentionAge time.Duration `koanf:"retention_age" validate:"min=1m"`

	// MaxErroredCount bounds the errored area per connector; entries
	// beyond it are pruned oldest first. Zero disables the bound.
	MaxErroredCount int `koanf:"max_errored_count" validate:"min=0"`
}

// ScanModeConfig names a schedule that South items bind to. Exactly one of
// Cron or Interval must be set.
type ScanModeConfig struct {
	ID string `koanf:"id" validate:"required"`

	// Cron is a cron expression (standard five-field form).
	Cron string `koanf:"cron"`

	// Interval is a fixed polling period.
	Interval time.Duration `koanf:"interval"`

	// Historical marks the scan mode as driving resumable historical
	// extraction instead of live polling.
	Historical bool `koanf:"historical"`
}

// ItemConfig is one addressable point or file source on a South connector.
type ItemConfig struct {
	ID         string            `koanf:"id" validate:"required"`
	Name       string            `koanf:"name" validate:"required"`
	ScanModeID string            `koanf:"scan_mode_id" validate:"required"`
	Settings   map[string]string `koanf:"settings"`
}

// SouthConfig declares one data producer.
type SouthConfig struct {
	ID       string            `koanf:"id" validate:"required"`
	Type     string            `koanf:"type" validate:"required"`
	Settings map[string]string `koanf:"settings"`
	Items    []ItemConfig      `koanf:"items" validate:"dive"`
}

// CachingConfig holds the per-North queue and retry policy.
type CachingConfig struct {
	// MaxPendingSize is the backpressure bound on pending bytes.
	MaxPendingSize int64 `koanf:"max_pending_size" validate:"min=1"`

	// MaxRetry is the number of failed delivery attempts before an
	// entry is demoted to the errored area.
	MaxRetry int `koanf:"max_retry" validate:"min=0"`

	// RetryInterval is the base delivery backoff.
	RetryInterval time.Duration `koanf:"retry_interval" validate:"min=100ms"`

	// MaxRetryInterval caps the exponential backoff. Zero means the
	// backoff stays fixed at RetryInterval.
	MaxRetryInterval time.Duration `koanf:"max_retry_interval"`

	// MaxSendCount is the maximum number of value records merged into
	// one delivery attempt by compaction.
	MaxSendCount int `koanf:"max_send_count" validate:"min=1"`
}

// NorthConfig declares one data consumer.
type NorthConfig struct {
	ID   string `koanf:"id" validate:"required"`
	Type string `koanf:"type" validate:"required"`

	// Subscriptions lists the South connector ids whose Content this
	// North receives. Empty means all Souths.
	Subscriptions []string `koanf:"subscriptions"`

	Caching  CachingConfig     `koanf:"caching"`
	Settings map[string]string `koanf:"settings"`
}

// Default returns a Config with all default values applied. File and
// environment providers override these.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Engine: EngineConfig{
			Name:        "fluxgate",
			CacheDir:    "/data/fluxgate/cache",
			StopTimeout: 10 * time.Second,
		},
		Watermark: WatermarkConfig{
			Path:       "/data/fluxgate/watermarks",
			SyncWrites: true,
		},
		Archive: ArchiveConfig{
			SweepInterval:   1 * time.Hour,
			RetentionAge:    72 * time.Hour,
			MaxErroredCount: 1000,
		},
	}
}

// DefaultCaching returns the per-North caching defaults applied when a
// North omits its caching block.
func DefaultCaching() CachingConfig {
	return CachingConfig{
		MaxPendingSize:   1 << 30, // 1GB
		MaxRetry:         3,
		RetryInterval:    5 * time.Second,
		MaxRetryInterval: 5 * time.Minute,
		MaxSendCount:     10000,
	}
}
