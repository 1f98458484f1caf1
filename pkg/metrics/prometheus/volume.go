package prometheus

import (
	"time"

	"github.com/marmos91/dittohfs/pkg/metrics"
	"github.com/marmos91/dittohfs/pkg/store/catalog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// volumeMetrics is the Prometheus implementation of metrics.VolumeMetrics.
type volumeMetrics struct {
	storeType         string
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	cacheLookups      *prometheus.CounterVec
	cachedNodes       prometheus.Gauge
	hintLookups       *prometheus.CounterVec
	selfHeals         prometheus.Counter
	orphans           prometheus.Counter
	reclaims          prometheus.Counter
	reclaimedBlocks   prometheus.Counter
	inconsistent      prometheus.Counter
}

// NewVolumeMetrics creates a new Prometheus-backed VolumeMetrics instance.
//
// Parameters:
//   - storeType: Catalog backend (e.g., "memory", "badger"), used as a label
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewVolumeMetrics(storeType string) metrics.VolumeMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopVolumeMetrics()
	}

	reg := metrics.GetRegistry()
	constLabels := prometheus.Labels{"store_type": storeType}

	return &volumeMetrics{
		storeType: storeType,
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittohfs_volume_operations_total",
				Help: "Total number of volume operations by store type, operation, and status",
			},
			[]string{"store_type", "operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittohfs_volume_operation_duration_seconds",
				Help: "Duration of volume operations in seconds",
				Buckets: []float64{
					0.0001, // 100µs
					0.0005, // 500µs
					0.001,  // 1ms
					0.005,  // 5ms
					0.01,   // 10ms
					0.05,   // 50ms
					0.1,    // 100ms
					0.5,    // 500ms
					1.0,    // 1s
				},
			},
			[]string{"store_type", "operation"},
		),
		cacheLookups: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name:        "dittohfs_node_cache_lookups_total",
				Help:        "Node cache lookups by result",
				ConstLabels: constLabels,
			},
			[]string{"result"},
		),
		cachedNodes: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name:        "dittohfs_node_cache_nodes",
				Help:        "Current number of nodes resident in the node cache",
				ConstLabels: constLabels,
			},
		),
		hintLookups: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name:        "dittohfs_dirhint_lookups_total",
				Help:        "Directory hint lookups by result",
				ConstLabels: constLabels,
			},
			[]string{"result"},
		),
		selfHeals: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name:        "dittohfs_valence_self_heals_total",
				Help:        "Zero-valence directories corrected during enumeration",
				ConstLabels: constLabels,
			},
		),
		orphans: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name:        "dittohfs_orphans_total",
				Help:        "Objects moved to the hidden orphan folder",
				ConstLabels: constLabels,
			},
		),
		reclaims: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name:        "dittohfs_orphans_reclaimed_total",
				Help:        "Orphans whose catalog record and storage were released",
				ConstLabels: constLabels,
			},
		),
		reclaimedBlocks: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name:        "dittohfs_reclaimed_blocks_total",
				Help:        "Allocation blocks returned to the free pool by orphan reclamation",
				ConstLabels: constLabels,
			},
		),
		inconsistent: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name:        "dittohfs_volume_inconsistent_total",
				Help:        "Times the volume was marked inconsistent for offline repair",
				ConstLabels: constLabels,
			},
		),
	}
}

func (m *volumeMetrics) RecordOperation(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
		if code, ok := catalog.CodeOf(err); ok {
			status = code.String()
		}
	}

	m.operationsTotal.WithLabelValues(m.storeType, operation, status).Inc()
	m.operationDuration.WithLabelValues(m.storeType, operation).Observe(duration.Seconds())
}

func (m *volumeMetrics) RecordCacheHit() {
	m.cacheLookups.WithLabelValues("hit").Inc()
}

func (m *volumeMetrics) RecordCacheMiss() {
	m.cacheLookups.WithLabelValues("miss").Inc()
}

func (m *volumeMetrics) SetCachedNodes(count int) {
	m.cachedNodes.Set(float64(count))
}

func (m *volumeMetrics) RecordHintLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.hintLookups.WithLabelValues(result).Inc()
}

func (m *volumeMetrics) RecordSelfHeal() {
	m.selfHeals.Inc()
}

func (m *volumeMetrics) RecordOrphan() {
	m.orphans.Inc()
}

func (m *volumeMetrics) RecordReclaim(blocks uint64) {
	m.reclaims.Inc()
	m.reclaimedBlocks.Add(float64(blocks))
}

func (m *volumeMetrics) RecordInconsistent() {
	m.inconsistent.Inc()
}
