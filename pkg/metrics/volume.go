package metrics

import (
	"time"
)

// VolumeMetrics provides observability for HFS+ volume operations.
//
// This interface is optional - if not provided to a volume, operations
// proceed without metrics collection (zero overhead).
//
// Example usage:
//
//	// With metrics enabled
//	metrics.InitRegistry()
//	vol, err := hfsplus.Open(ctx, store, hfsplus.Options{Metrics: prometheus.NewVolumeMetrics("badger")})
//
//	// Without metrics (no-op)
//	vol, err := hfsplus.Open(ctx, store, hfsplus.Options{})
type VolumeMetrics interface {
	// RecordOperation records a completed volume operation.
	//
	// Parameters:
	//   - operation: Operation name (e.g., "create", "remove", "rename", "readdir")
	//   - duration: Time taken to complete the operation
	//   - err: Error if operation failed, nil if successful
	RecordOperation(operation string, duration time.Duration, err error)

	// RecordCacheHit records a node cache hit on lookup.
	RecordCacheHit()

	// RecordCacheMiss records a node cache miss on lookup.
	RecordCacheMiss()

	// SetCachedNodes updates the number of nodes resident in the cache.
	SetCachedNodes(count int)

	// RecordHintLookup records whether an enumeration resumed from a cached
	// directory hint (hit) or had to reposition from the start (miss).
	RecordHintLookup(hit bool)

	// RecordSelfHeal records a zero-valence directory corrected on
	// enumeration.
	RecordSelfHeal()

	// RecordOrphan records an object moved to the hidden orphan folder.
	RecordOrphan()

	// RecordReclaim records an orphan whose storage was finally released.
	//
	// Parameters:
	//   - blocks: Allocation blocks returned to the free pool
	RecordReclaim(blocks uint64)

	// RecordInconsistent records the volume being marked inconsistent.
	RecordInconsistent()
}

// NewNoopVolumeMetrics returns a VolumeMetrics that discards everything.
func NewNoopVolumeMetrics() VolumeMetrics {
	return noopVolumeMetrics{}
}

// noopVolumeMetrics is a no-op implementation of VolumeMetrics with zero overhead.
type noopVolumeMetrics struct{}

func (noopVolumeMetrics) RecordOperation(operation string, duration time.Duration, err error) {}
func (noopVolumeMetrics) RecordCacheHit()                                                     {}
func (noopVolumeMetrics) RecordCacheMiss()                                                    {}
func (noopVolumeMetrics) SetCachedNodes(count int)                                            {}
func (noopVolumeMetrics) RecordHintLookup(hit bool)                                           {}
func (noopVolumeMetrics) RecordSelfHeal()                                                     {}
func (noopVolumeMetrics) RecordOrphan()                                                       {}
func (noopVolumeMetrics) RecordReclaim(blocks uint64)                                         {}
func (noopVolumeMetrics) RecordInconsistent()                                                 {}
