package config

import (
	"github.com/marmos91/dittohfs/pkg/metrics"
	promMetrics "github.com/marmos91/dittohfs/pkg/metrics/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// VolumeMetrics is the collector handed to the volume (never nil, uses noop if disabled)
	VolumeMetrics metrics.VolumeMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server
//   - Creates Prometheus-backed volume metrics labelled with the store type
//
// If metrics are disabled:
//   - Returns nil server
//   - Returns no-op metrics implementations (zero overhead)
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{
			VolumeMetrics: metrics.NewNoopVolumeMetrics(),
		}
	}

	metrics.InitRegistry()

	server := metrics.NewServer(metrics.ServerConfig{
		Port: cfg.Metrics.Port,
	})

	return &MetricsResult{
		Server:        server,
		VolumeMetrics: promMetrics.NewVolumeMetrics(cfg.Store.Type),
	}
}
