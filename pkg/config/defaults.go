package config

import (
	"strings"
	"time"

	"github.com/marmos91/dittohfs/pkg/hfsplus"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", nil) are replaced with defaults
//   - Explicit values are preserved
//   - Volume tunables follow hfsplus.DefaultOptions
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyVolumeDefaults(&cfg.Volume)
	applyStoreDefaults(&cfg.Store)
	applyMetricsDefaults(&cfg.Metrics)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyVolumeDefaults fills engine tunables from the engine's own defaults.
func applyVolumeDefaults(cfg *VolumeConfig) {
	def := hfsplus.DefaultOptions()

	if cfg.MaxDirHints == 0 {
		cfg.MaxDirHints = def.MaxDirHints
	}
	if cfg.NodeCacheSize == 0 {
		cfg.NodeCacheSize = def.NodeCacheSize
	}
	if cfg.LargeFileThreshold == 0 {
		cfg.LargeFileThreshold = def.LargeFileThreshold
	}
	if cfg.TruncateStepBlocks == 0 {
		cfg.TruncateStepBlocks = def.TruncateStepBlocks
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.WarnInterval == 0 {
		cfg.WarnInterval = time.Minute
	}
}

// applyStoreDefaults sets catalog store defaults.
func applyStoreDefaults(cfg *StoreConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}

	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}

	// Defaults for every store type, so a generated file documents them all
	setDefault(cfg.Memory, "total_blocks", uint32(1<<20))
	setDefault(cfg.Memory, "block_size", uint32(4096))

	setDefault(cfg.Badger, "db_path", "/tmp/dittohfs-catalog")
	setDefault(cfg.Badger, "total_blocks", uint32(1<<20))
	setDefault(cfg.Badger, "block_size", uint32(4096))
}

func setDefault(m map[string]any, key string, value any) {
	if _, ok := m[key]; !ok {
		m[key] = value
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	// Enabled defaults to false
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Volume: VolumeConfig{
			FolderCount: true,
		},
		Store: StoreConfig{
			Memory: make(map[string]any),
			Badger: make(map[string]any),
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
