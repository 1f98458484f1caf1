package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete DittoHFS configuration.
//
// This structure captures every configurable aspect of a mounted volume:
//   - Logging configuration
//   - Volume engine tunables (case sensitivity, caches, orphan handling)
//   - Catalog store selection and configuration (store-specific)
//   - Metrics exposition
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (DITTOHFS_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
//
// Store Configuration Pattern:
// Each catalog backend defines its own configuration type. The Config struct
// contains type-specific sections (store.memory, store.badger) and only the
// section matching the selected type is used.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Volume contains the engine tunables of the mounted volume
	Volume VolumeConfig `mapstructure:"volume" yaml:"volume"`

	// Store specifies the catalog store type and type-specific configuration
	Store StoreConfig `mapstructure:"store" yaml:"store"`

	// Metrics controls Prometheus metrics exposition
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// VolumeConfig holds the volume engine tunables.
//
// Zero values mean "use the engine default" except for the booleans.
type VolumeConfig struct {
	// CaseSensitive formats new volumes with case-sensitive names (HFSX)
	CaseSensitive bool `mapstructure:"case_sensitive" yaml:"case_sensitive"`

	// FolderCount maintains subdirectory counts on new directories
	FolderCount bool `mapstructure:"folder_count" yaml:"folder_count"`

	// MaxDirHints caps the enumeration hints kept per directory
	MaxDirHints int `mapstructure:"max_dir_hints" yaml:"max_dir_hints" validate:"gte=0,lte=4096"`

	// NodeCacheSize is the number of cached nodes
	NodeCacheSize int `mapstructure:"node_cache_size" yaml:"node_cache_size" validate:"gte=0"`

	// LargeFileThreshold is the data fork size in bytes above which a
	// removal is deferred through the orphan folder
	LargeFileThreshold uint64 `mapstructure:"large_file_threshold" yaml:"large_file_threshold"`

	// TruncateStepBlocks is the number of blocks released per transaction
	// while reclaiming an orphan
	TruncateStepBlocks uint32 `mapstructure:"truncate_step_blocks" yaml:"truncate_step_blocks"`

	// BatchSize is the number of catalog entries fetched per enumeration batch
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size" validate:"gte=0"`

	// WarnInterval is the minimum spacing of repeated corruption warnings
	// about one directory
	WarnInterval time.Duration `mapstructure:"warn_interval" yaml:"warn_interval" validate:"gte=0"`
}

// StoreConfig specifies catalog store configuration.
//
// The Type field determines which store implementation is used.
// Only the corresponding type-specific configuration section is used.
type StoreConfig struct {
	// Type specifies which catalog store implementation to use
	// Valid values: memory, badger
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory badger"`

	// Memory contains memory-specific configuration
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory" yaml:"memory"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger"`
}

// MetricsConfig controls the metrics HTTP endpoint.
type MetricsConfig struct {
	// Enabled turns on Prometheus collection and the /metrics endpoint
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the TCP port the metrics server listens on
	Port int `mapstructure:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DITTOHFS_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use DITTOHFS_ prefix and underscores
	// Example: DITTOHFS_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DITTOHFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Booleans that default to true cannot be told apart from an explicit
	// false after decoding, so they are seeded here
	v.SetDefault("volume.folder_count", true)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/dittohfs/config.yaml
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper, configPath string) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		// An explicit path that does not exist is also fine: defaults apply
		if configPath != "" && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittohfs")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittohfs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
