package hfsplus

import (
	"context"
	"errors"
	"time"

	"github.com/marmos91/dittohfs/internal/logger"
)

// Update writes n's in-memory attributes to the catalog if they changed
// since the last write.
func (v *Volume) Update(ctx context.Context, n *Node) error {
	n.lock.Lock()
	defer n.lock.Unlock()
	return v.update(ctx, nil, n)
}

// update flushes a modified node. It piggy-backs on o when the caller
// already has a transaction open, so timestamp-only changes never cost a
// transaction of their own. Caller holds n locked exclusive.
func (v *Volume) update(ctx context.Context, o *op, n *Node) error {
	_, _, flags := n.snapshot()
	if flags&flagModified == 0 || flags&flagNoExists != 0 {
		return nil
	}
	if o != nil {
		if _, staged := o.nodes[n]; staged {
			// The caller writes it with the rest of its changes
			return nil
		}
	}

	start := time.Now()
	err := v.withOp(ctx, o, func(o *op) error {
		o.lock(lockCatalog)
		return o.write(n)
	})
	v.metrics.RecordOperation("update", time.Since(start), err)
	return err
}

// Sync flushes every modified cached node.
func (v *Volume) Sync(ctx context.Context) error {
	var errs []error
	for _, n := range v.cache.dirty() {
		if err := v.Update(ctx, n); err != nil {
			logger.Warn("SYNC: failed to flush node %d: %v", n.id, err)
			errs = append(errs, err)
		}
		v.Release(ctx, n)
	}
	return errors.Join(errs...)
}
