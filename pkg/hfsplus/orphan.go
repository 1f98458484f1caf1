package hfsplus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/marmos91/dittohfs/internal/logger"
	"github.com/marmos91/dittohfs/pkg/store/catalog"
)

// reclaim releases the storage and catalog record of a deleted node whose
// last reference is gone.
//
// Each fork is truncated in steps of TruncateStepBlocks, one transaction
// per step, so a huge file never needs one huge transaction. A final
// transaction removes the extended attributes and the record in the orphan
// folder.
func (v *Volume) reclaim(ctx context.Context, n *Node) error {
	n.lock.Lock()
	defer n.lock.Unlock()

	_, _, flags := n.snapshot()
	if flags&flagDeleted == 0 || flags&flagNoExists != 0 {
		return nil
	}

	var freed uint64
	for _, kind := range []catalog.ForkKind{catalog.DataFork, catalog.ResourceFork} {
		for {
			_, attrs, _ := n.snapshot()
			fork := forkOf(&attrs, kind)
			total := catalog.ExtentBlocks(fork.Extents)
			if total == 0 {
				break
			}
			step := min(total, v.opts.TruncateStepBlocks)
			if err := v.truncateBlocks(ctx, nil, n, kind, total-step); err != nil {
				return err
			}
			freed += uint64(step)
		}
	}

	now := time.Now()
	err := v.withOp(ctx, nil, func(o *op) error {
		o.lock(lockAll)

		s := o.stage(n)
		isDir := s.attrs.Type == catalog.TypeDirectory
		if err := v.store.RemoveAllXattrs(ctx, o.tx, n.id); err != nil {
			return catalog.WrapIO(err, "remove extended attributes")
		}

		desc := s.desc
		desc.ID = n.id
		if err := v.store.Delete(ctx, o.tx, &desc); err != nil {
			return err
		}
		if err := o.updateRecord(desc.ParentID, func(a *catalog.Attributes) {
			a.Valence = addCount(a.Valence, -1)
			if isDir && a.HasFlag(catalog.FlagHasFolderCount) {
				a.DirCount = addCount(a.DirCount, -1)
			}
			dirChanged(a, now)
		}); err != nil {
			return err
		}

		s.desc = catalog.Descriptor{ID: n.id, IsDir: isDir}
		s.attrs.Flags &^= catalog.FlagHasAttributes
		s.setFlags |= flagNoExists
		s.clearFlags |= flagDeleted | flagModified

		o.onCommit(func() {
			v.cache.forget(n)
			v.metrics.RecordReclaim(freed)
		})
		return nil
	})
	if err != nil {
		return err
	}

	logger.Debug("reclaimed orphan %d: %d blocks freed", n.id, freed)
	return nil
}

// truncateBlocks shrinks one fork of n to keep blocks, releasing the tail.
// Caller holds n locked exclusive.
func (v *Volume) truncateBlocks(ctx context.Context, o *op, n *Node, kind catalog.ForkKind, keep uint32) error {
	return v.withOp(ctx, o, func(o *op) error {
		o.lock(lockCatalog | lockBitmap)

		s := o.stage(n)
		fork := forkOf(&s.attrs, kind)
		kept, released := catalog.TrimExtents(fork.Extents, keep)
		if len(released) > 0 {
			if err := v.store.Release(ctx, o.tx, n.id, kind, released); err != nil {
				o.markInconsistent(fmt.Errorf("release %s fork of %d: %w", kind, n.id, err))
			}
		}

		fork.Extents = kept
		fork.Blocks = catalog.ExtentBlocks(kept)
		if limit := uint64(fork.Blocks) * uint64(v.store.BlockSize()); fork.Size > limit {
			fork.Size = limit
		}
		return o.write(n)
	})
}

// cleanupOrphans reclaims every orphan left in the orphan folder by a
// previous session.
func (v *Volume) cleanupOrphans(ctx context.Context) error {
	var orphans []catalog.Record
	var pos catalog.Position
	for {
		batch, eof, err := v.store.GetBatch(ctx, nil, v.fileMetaDir, pos, v.opts.BatchSize)
		if err != nil {
			return err
		}
		for _, rec := range batch {
			if strings.HasPrefix(rec.Desc.Name, orphanPrefix) && rec.Attrs.Type != catalog.TypeHardLink {
				orphans = append(orphans, rec)
			}
		}
		if eof || len(batch) == 0 {
			break
		}
		pos = catalog.Position{LastName: batch[len(batch)-1].Desc.Name}
	}

	for _, rec := range orphans {
		n := newNode(v, rec.Desc.ID, rec.Desc, rec.Attrs)
		n.flags |= flagDeleted
		n = v.cache.insert(n)
		v.Release(ctx, n)
	}
	if len(orphans) > 0 {
		logger.Info("Reclaimed %d orphans left by a previous session", len(orphans))
	}
	return nil
}
