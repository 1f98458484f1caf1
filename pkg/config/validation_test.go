package config

import (
	"strings"
	"testing"
)

func TestValidate_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "INVALID" },
			wantErr: "oneof",
		},
		{
			name:    "empty log output",
			mutate:  func(c *Config) { c.Logging.Output = "" },
			wantErr: "required",
		},
		{
			name:    "unknown store type",
			mutate:  func(c *Config) { c.Store.Type = "s3" },
			wantErr: "oneof",
		},
		{
			name:    "negative node cache",
			mutate:  func(c *Config) { c.Volume.NodeCacheSize = -1 },
			wantErr: "gte",
		},
		{
			name:    "too many dir hints",
			mutate:  func(c *Config) { c.Volume.MaxDirHints = 100000 },
			wantErr: "lte",
		},
		{
			name:    "metrics port out of range",
			mutate:  func(c *Config) { c.Metrics.Port = 70000 },
			wantErr: "max",
		},
		{
			name: "metrics enabled without port",
			mutate: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.Port = 0
			},
			wantErr: "port is required",
		},
		{
			name: "badger without path",
			mutate: func(c *Config) {
				c.Store.Type = "badger"
				c.Store.Badger = map[string]any{}
			},
			wantErr: "store.badger",
		},
		{
			name: "memory with bad block size",
			mutate: func(c *Config) {
				c.Store.Memory = map[string]any{"block_size": "large"}
			},
			wantErr: "invalid memory config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_BadgerInMemoryNeedsNoPath(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Store.Type = "badger"
	cfg.Store.Badger = map[string]any{"in_memory": true}

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected in-memory badger config to be valid, got: %v", err)
	}
}

func TestValidate_AcceptsLowercaseLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "debug"

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected lowercase level to pass validation, got: %v", err)
	}
}
