// Package metrics collects optional Prometheus metrics for DittoHFS volumes.
//
// Nothing is collected until InitRegistry is called; before that every
// constructor hands out the no-op VolumeMetrics.
//
//	metrics.InitRegistry()
//	m := prometheus.NewVolumeMetrics("badger")
//	vol, err := hfsplus.Open(ctx, store, hfsplus.Options{Metrics: m})
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the process-wide registry with the Go runtime and
// process collectors. Later calls do nothing.
func InitRegistry() {
	registryOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: "dittohfs"}),
		)
		registry = reg
	})
}

// GetRegistry returns the registry, or nil before InitRegistry.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
