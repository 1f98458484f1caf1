package hfsplus

import (
	"context"
	"time"

	"github.com/marmos91/dittohfs/internal/logger"
	"github.com/marmos91/dittohfs/pkg/store/catalog"
)

// SetAttrs specifies attributes to change. Nil fields are left alone.
type SetAttrs struct {
	// Mode is the new permission bits (only the lower 12 bits are used)
	Mode *uint32

	UID *uint32
	GID *uint32

	// BSDFlags replaces the chflags bits. Clearing immutable or append-only
	// flags is allowed even while they are set.
	BSDFlags *uint32

	// Size truncates or extends the data fork of a regular file
	Size *uint64

	AccessTime *time.Time
	ModifyTime *time.Time
	CreateTime *time.Time
}

// GetAttr returns a snapshot of n's attributes. The root folder's entry
// and folder counts exclude the hidden metadata folders.
func (v *Volume) GetAttr(n *Node) catalog.Attributes {
	n.lock.RLock()
	defer n.lock.RUnlock()

	_, attrs, _ := n.snapshot()
	if n.id == catalog.RootFolderID {
		for _, id := range []catalog.CNID{v.fileMetaDir, v.dirMetaDir} {
			if id != 0 {
				attrs.Valence = addCount(attrs.Valence, -1)
				if attrs.HasFlag(catalog.FlagHasFolderCount) {
					attrs.DirCount = addCount(attrs.DirCount, -1)
				}
			}
		}
	}
	return attrs
}

// SetAttr changes the attributes of n and writes them to the catalog.
func (v *Volume) SetAttr(ctx context.Context, n *Node, req SetAttrs) error {
	start := time.Now()
	err := v.setAttr(ctx, n, req)
	v.metrics.RecordOperation("setattr", time.Since(start), err)
	return err
}

func (v *Volume) setAttr(ctx context.Context, n *Node, req SetAttrs) error {
	if req.Size != nil {
		if err := v.SetSize(ctx, n, catalog.DataFork, *req.Size); err != nil {
			return err
		}
	}

	n.lock.Lock()
	defer n.lock.Unlock()

	desc, attrs, flags := n.snapshot()
	if flags&flagNoExists != 0 {
		return notFound("node no longer exists", desc.Name)
	}

	// Only the flags themselves may change on an immutable object
	if attrs.BSDFlags&catalog.ImmutableAny != 0 &&
		(req.Mode != nil || req.UID != nil || req.GID != nil || req.ModifyTime != nil || req.CreateTime != nil) {
		return catalog.NewError(catalog.ErrPermission, "object is immutable", desc.Name)
	}

	if req.Mode == nil && req.UID == nil && req.GID == nil && req.BSDFlags == nil &&
		req.AccessTime == nil && req.ModifyTime == nil && req.CreateTime == nil {
		return nil
	}

	now := time.Now()
	return v.withOp(ctx, nil, func(o *op) error {
		o.lock(lockCatalog)

		s := o.stage(n)
		a := &s.attrs
		if req.Mode != nil {
			a.Mode = a.Mode&catalog.ModeTypeMask | *req.Mode&catalog.ModePermMask
		}
		if req.UID != nil {
			a.UID = *req.UID
		}
		if req.GID != nil {
			a.GID = *req.GID
		}
		if req.BSDFlags != nil {
			a.BSDFlags = *req.BSDFlags
		}
		if req.AccessTime != nil {
			a.AccessTime = *req.AccessTime
		}
		if req.ModifyTime != nil {
			a.ModifyTime = *req.ModifyTime
		}
		if req.CreateTime != nil {
			a.CreateTime = *req.CreateTime
		}
		a.ChangeTime = now
		return o.write(n)
	})
}

// SetSize sets the logical size of one fork of a regular file, allocating
// or releasing allocation blocks as needed. Shrinking releases blocks in
// steps of TruncateStepBlocks, one transaction per step.
func (v *Volume) SetSize(ctx context.Context, n *Node, kind catalog.ForkKind, size uint64) error {
	start := time.Now()
	err := v.setSize(ctx, n, kind, size)
	v.metrics.RecordOperation("setsize", time.Since(start), err)
	return err
}

func (v *Volume) setSize(ctx context.Context, n *Node, kind catalog.ForkKind, size uint64) error {
	n.lock.Lock()
	defer n.lock.Unlock()

	desc, attrs, flags := n.snapshot()
	switch {
	case flags&flagNoExists != 0:
		return notFound("node no longer exists", desc.Name)
	case attrs.Type == catalog.TypeDirectory:
		return catalog.NewError(catalog.ErrIsDirectory, "cannot size a directory", desc.Name)
	case attrs.Type != catalog.TypeFile:
		return invalid("only regular files can be sized", desc.Name)
	case attrs.BSDFlags&catalog.ImmutableAny != 0:
		return catalog.NewError(catalog.ErrPermission, "object is immutable", desc.Name)
	}

	fork := forkOf(&attrs, kind)
	have := catalog.ExtentBlocks(fork.Extents)
	want := blocksFor(size, v.store.BlockSize())

	if want > have {
		free, err := v.store.FreeBlocks(ctx)
		if err != nil {
			return catalog.WrapIO(err, "read free blocks")
		}
		if free < uint64(want-have) {
			return catalog.NewError(catalog.ErrNoSpace, "not enough free blocks", desc.Name)
		}
	}
	if want < have && attrs.BSDFlags&catalog.AppendAny != 0 {
		return catalog.NewError(catalog.ErrPermission, "object is append-only", desc.Name)
	}

	// Release the tail step by step
	for have > want {
		keep := want
		if have-want > v.opts.TruncateStepBlocks {
			keep = have - v.opts.TruncateStepBlocks
		}
		if err := v.truncateBlocks(ctx, nil, n, kind, keep); err != nil {
			return err
		}
		have = keep
	}

	now := time.Now()
	err := v.withOp(ctx, nil, func(o *op) error {
		o.lock(lockCatalog | lockBitmap)

		s := o.stage(n)
		f := forkOf(&s.attrs, kind)
		if want > have {
			extents, err := v.store.Allocate(ctx, o.tx, n.id, want-have)
			if err != nil {
				return err
			}
			f.Extents = mergeExtents(f.Extents, extents)
			f.Blocks = catalog.ExtentBlocks(f.Extents)
		}
		f.Size = size
		s.attrs.ModifyTime = now
		s.attrs.ChangeTime = now
		return o.write(n)
	})
	if err == nil {
		logger.Debug("SETSIZE succeeded: %s %s=%d blocks=%d", desc, kind, size, want)
	}
	return err
}

// mergeExtents appends extents, coalescing runs that continue the last one.
func mergeExtents(dst, src []catalog.Extent) []catalog.Extent {
	for _, e := range src {
		if k := len(dst); k > 0 && dst[k-1].Start+dst[k-1].Count == e.Start {
			dst[k-1].Count += e.Count
			continue
		}
		dst = append(dst, e)
	}
	return dst
}

// SetXattr sets an extended attribute of n.
func (v *Volume) SetXattr(ctx context.Context, n *Node, name string, value []byte) error {
	if name == "" {
		return invalid("empty attribute name", name)
	}

	n.lock.Lock()
	defer n.lock.Unlock()
	if n.gone() {
		return notFound("node was removed", name)
	}

	return v.withOp(ctx, nil, func(o *op) error {
		o.lock(lockCatalog | lockAttributes)
		if err := v.store.SetXattr(ctx, o.tx, n.id, name, value); err != nil {
			return err
		}

		if hasXattrFlag(n) {
			// Nothing to persist but pending in-memory changes
			return v.update(ctx, o, n)
		}
		s := o.stage(n)
		s.attrs.Flags |= catalog.FlagHasAttributes
		s.attrs.ChangeTime = time.Now()
		return o.write(n)
	})
}

// GetXattr returns the value of an extended attribute of n.
func (v *Volume) GetXattr(ctx context.Context, n *Node, name string) ([]byte, error) {
	n.lock.RLock()
	defer n.lock.RUnlock()

	v.attrLock.RLock()
	defer v.attrLock.RUnlock()
	return v.store.GetXattr(ctx, nil, n.id, name)
}

// RemoveXattr removes an extended attribute of n. The has-attributes flag
// is cleared with the last one.
func (v *Volume) RemoveXattr(ctx context.Context, n *Node, name string) error {
	n.lock.Lock()
	defer n.lock.Unlock()
	if n.gone() {
		return notFound("node was removed", name)
	}

	return v.withOp(ctx, nil, func(o *op) error {
		o.lock(lockCatalog | lockAttributes)
		if err := v.store.RemoveXattr(ctx, o.tx, n.id, name); err != nil {
			return err
		}
		rest, err := v.store.ListXattrs(ctx, o.tx, n.id)
		if err != nil {
			return err
		}
		if len(rest) > 0 {
			return nil
		}

		s := o.stage(n)
		s.attrs.Flags &^= catalog.FlagHasAttributes
		s.attrs.ChangeTime = time.Now()
		return o.write(n)
	})
}

// ListXattrs returns the names of n's extended attributes, sorted.
func (v *Volume) ListXattrs(ctx context.Context, n *Node) ([]string, error) {
	n.lock.RLock()
	defer n.lock.RUnlock()

	v.attrLock.RLock()
	defer v.attrLock.RUnlock()
	return v.store.ListXattrs(ctx, nil, n.id)
}

func hasXattrFlag(n *Node) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.attrs.HasFlag(catalog.FlagHasAttributes)
}
