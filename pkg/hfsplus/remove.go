package hfsplus

import (
	"context"
	"fmt"
	"time"

	"github.com/marmos91/dittohfs/internal/logger"
	"github.com/marmos91/dittohfs/pkg/store/catalog"
)

// RemoveOptions tune the removal protocol.
type RemoveOptions struct {
	// AllowDirs lets Remove delete directories (used for directories that
	// carry extended attributes)
	AllowDirs bool

	// OnlyUnlink always moves the target to the orphan folder instead of
	// deleting it, so its storage is reclaimed when the last reference
	// goes away
	OnlyUnlink bool

	// SkipReserve skips the catalog reservation, for callers that already
	// reserved space in the same transaction
	SkipReserve bool
}

// Remove removes the file n, found as name in dir.
//
// Hard links are unlinked; the indirect node is orphaned with its last
// link. Files with extended attributes, files above the large file
// threshold and OnlyUnlink removals are moved to the orphan folder and
// reclaimed once released. Everything else is deleted in place.
func (v *Volume) Remove(ctx context.Context, dir, n *Node, name string, opts RemoveOptions) error {
	start := time.Now()
	unlock := lockNodes(dir, n)
	err := v.removeFile(ctx, nil, dir, n, name, opts)
	unlock()
	v.metrics.RecordOperation("remove", time.Since(start), err)
	return err
}

// RmDir removes the empty directory n, found as name in dir.
func (v *Volume) RmDir(ctx context.Context, dir, n *Node, name string) error {
	start := time.Now()
	unlock := lockNodes(dir, n)
	err := v.removeDir(ctx, nil, dir, n, name, RemoveOptions{})
	unlock()
	v.metrics.RecordOperation("rmdir", time.Since(start), err)
	return err
}

// lookupEntry reads (parent, name) from the catalog, inside o when given.
func (v *Volume) lookupEntry(ctx context.Context, o *op, parent catalog.CNID, name string) (catalog.Record, error) {
	if o != nil {
		return v.store.Lookup(o.ctx, o.tx, parent, name)
	}
	v.catalogLock.RLock()
	defer v.catalogLock.RUnlock()
	return v.store.Lookup(ctx, nil, parent, name)
}

// verifyEntry checks that n is still the entry named name in dir and
// returns the descriptor of that entry. For hard links the catalog is
// consulted, since the node's descriptor may name a different link.
func (v *Volume) verifyEntry(ctx context.Context, o *op, dir, n *Node, name string) (catalog.Descriptor, error) {
	desc, _, flags := n.snapshot()
	if o != nil {
		if s, ok := o.nodes[n]; ok {
			desc = s.desc
		}
	}

	if flags&flagHardLink == 0 {
		if desc.ParentID != dir.id || !catalog.NamesEqual(desc.Name, name, v.store.CaseSensitive()) {
			return desc, notFound("stale lookup", name)
		}
		return desc, nil
	}

	rec, err := v.lookupEntry(ctx, o, dir.id, name)
	if err != nil {
		if catalog.IsNotFound(err) {
			return desc, notFound("stale lookup", name)
		}
		return desc, err
	}
	if rec.Attrs.Type != catalog.TypeHardLink || rec.Attrs.LinkRef != n.id {
		return desc, notFound("stale lookup", name)
	}
	return rec.Desc, nil
}

// checkRemovable runs the caller-contract checks shared by both removal
// entry points. Caller holds dir and n locked.
func (v *Volume) checkRemovable(dir, n *Node, name string) error {
	_, dattrs, dflags := dir.snapshot()
	_, attrs, flags := n.snapshot()

	if dattrs.Type != catalog.TypeDirectory {
		return catalog.NewError(catalog.ErrNotDirectory, "parent is not a directory", name)
	}
	if dflags&(flagDeleted|flagNoExists) != 0 || flags&(flagDeleted|flagNoExists) != 0 {
		return notFound("already removed", name)
	}
	if n == dir {
		return invalid("cannot remove a directory from itself", name)
	}
	if n.id == catalog.RootFolderID || v.isPrivateDir(n.id) {
		return catalog.NewError(catalog.ErrBusy, "cannot remove a reserved folder", name)
	}
	if attrs.BSDFlags&(catalog.ImmutableAny|catalog.AppendAny) != 0 {
		return catalog.NewError(catalog.ErrPermission, "object is immutable or append-only", name)
	}
	if dattrs.BSDFlags&(catalog.ImmutableAny|catalog.AppendAny) != 0 {
		return catalog.NewError(catalog.ErrPermission, "parent is immutable or append-only", name)
	}
	return nil
}

// removeFile is the removefile protocol. Caller holds dir and n locked.
// With a non-nil o it runs inside that transaction.
func (v *Volume) removeFile(ctx context.Context, o *op, dir, n *Node, name string, opts RemoveOptions) error {
	if err := v.checkRemovable(dir, n, name); err != nil {
		return err
	}
	_, attrs, flags := n.snapshot()
	if attrs.Type == catalog.TypeDirectory && !opts.AllowDirs {
		return catalog.NewError(catalog.ErrIsDirectory, "is a directory", name)
	}

	entry, err := v.verifyEntry(ctx, o, dir, n, name)
	if err != nil {
		return err
	}

	now := time.Now()
	err = v.withOp(ctx, o, func(o *op) error {
		o.lock(lockAll)
		if !opts.SkipReserve {
			if err := v.store.Reserve(ctx, o.tx, catalog.OpDelete); err != nil {
				return err
			}
		}

		if flags&flagHardLink != 0 {
			return v.unlinkHardLink(o, dir, n, entry, now)
		}

		hasXattrs := attrs.HasFlag(catalog.FlagHasAttributes)
		// TODO(open-files): derive from real open-file reference counts
		// once the plugin layer reports opens; until then busy forks never
		// force the orphan path.
		dataForkBusy, rsrcForkBusy := false, false
		large := attrs.DataFork.Size > v.opts.LargeFileThreshold

		if hasXattrs || dataForkBusy || rsrcForkBusy || large || opts.OnlyUnlink {
			return v.orphan(o, dir, n, now)
		}
		return v.hardDelete(o, dir, n, now)
	})
	if err == nil {
		logger.Debug("REMOVE succeeded: %d/%q (id=%d)", dir.id, name, n.id)
	}
	return err
}

// removeDir is the removedir protocol. Plain empty directories are deleted
// in their own transaction; directory hard links and directories with
// extended attributes go through removeFile.
func (v *Volume) removeDir(ctx context.Context, o *op, dir, n *Node, name string, opts RemoveOptions) error {
	_, attrs, flags := n.snapshot()
	if attrs.Type != catalog.TypeDirectory {
		return catalog.NewError(catalog.ErrNotDirectory, "not a directory", name)
	}
	if err := v.checkRemovable(dir, n, name); err != nil {
		return err
	}
	if attrs.Valence != 0 && (flags&flagHardLink == 0 || attrs.LinkCount <= 1) {
		return catalog.NewError(catalog.ErrNotEmpty, "directory not empty", name)
	}

	if flags&flagHardLink != 0 || attrs.HasFlag(catalog.FlagHasAttributes) {
		opts.AllowDirs = true
		return v.removeFile(ctx, o, dir, n, name, opts)
	}

	if _, err := v.verifyEntry(ctx, o, dir, n, name); err != nil {
		return err
	}

	now := time.Now()
	err := v.withOp(ctx, o, func(o *op) error {
		o.lock(lockCatalog | lockAttributes)
		if !opts.SkipReserve {
			if err := v.store.Reserve(ctx, o.tx, catalog.OpDelete); err != nil {
				return err
			}
		}
		return v.hardDelete(o, dir, n, now)
	})
	if err == nil {
		logger.Debug("RMDIR succeeded: %d/%q (id=%d)", dir.id, name, n.id)
	}
	return err
}

// hardDelete removes n's catalog record and releases its storage.
func (v *Volume) hardDelete(o *op, dir, n *Node, now time.Time) error {
	s := o.stage(n)
	isDir := s.attrs.Type == catalog.TypeDirectory

	desc := s.desc
	desc.ID = n.id
	if err := v.store.Delete(o.ctx, o.tx, &desc); err != nil {
		return err
	}

	ps := o.stage(dir)
	ps.attrs.Valence = addCount(ps.attrs.Valence, -1)
	if isDir && ps.attrs.HasFlag(catalog.FlagHasFolderCount) {
		ps.attrs.DirCount = addCount(ps.attrs.DirCount, -1)
	}
	dirChanged(&ps.attrs, now)
	ps.setFlags |= flagDirModification
	if err := o.write(dir); err != nil {
		return err
	}

	if err := o.header(func(h *catalog.VolumeHeader) {
		volumeCount(h, dir.id, isDir, -1)
		h.ModifyDate = now
	}); err != nil {
		return err
	}

	// The record is gone; failing to free its blocks leaves them leaked
	// until the volume is repaired, not the removal undone.
	o.lock(lockBitmap)
	for _, kind := range []catalog.ForkKind{catalog.DataFork, catalog.ResourceFork} {
		fork := forkOf(&s.attrs, kind)
		if len(fork.Extents) == 0 {
			continue
		}
		if err := v.store.Release(o.ctx, o.tx, n.id, kind, fork.Extents); err != nil {
			o.markInconsistent(fmt.Errorf("release %s fork of %d: %w", kind, n.id, err))
		}
	}

	s.attrs.LinkCount = addCount(s.attrs.LinkCount, -1)
	s.attrs.DataFork = catalog.Fork{}
	s.attrs.RsrcFork = catalog.Fork{}
	s.desc = catalog.Descriptor{ID: n.id, IsDir: isDir}
	s.setFlags |= flagNoExists
	s.clearFlags |= flagDeleted | flagModified

	o.onCommit(func() {
		n.dropHints()
		v.cache.forget(n)
	})
	return nil
}

// orphan moves n into the orphan folder under a name derived from its
// CNID. Its storage is reclaimed when its last reference is released.
func (v *Volume) orphan(o *op, dir, n *Node, now time.Time) error {
	s := o.stage(n)
	isDir := s.attrs.Type == catalog.TypeDirectory

	from := s.desc
	from.ID = n.id
	moved, err := v.store.Rename(o.ctx, o.tx, &from, v.fileMetaDir, orphanName(n.id))
	if err != nil {
		return err
	}

	ps := o.stage(dir)
	ps.attrs.Valence = addCount(ps.attrs.Valence, -1)
	if isDir && ps.attrs.HasFlag(catalog.FlagHasFolderCount) {
		ps.attrs.DirCount = addCount(ps.attrs.DirCount, -1)
	}
	dirChanged(&ps.attrs, now)
	ps.setFlags |= flagDirModification
	if err := o.write(dir); err != nil {
		return err
	}

	if err := o.updateRecord(v.fileMetaDir, func(a *catalog.Attributes) {
		a.Valence++
		if isDir && a.HasFlag(catalog.FlagHasFolderCount) {
			a.DirCount++
		}
		dirChanged(a, now)
	}); err != nil {
		return err
	}

	if err := o.header(func(h *catalog.VolumeHeader) {
		volumeCount(h, dir.id, isDir, -1)
		h.ModifyDate = now
	}); err != nil {
		return err
	}

	s.desc = moved
	s.attrs.LinkCount = addCount(s.attrs.LinkCount, -1)
	s.attrs.ChangeTime = now
	s.setFlags |= flagDeleted
	if err := o.write(n); err != nil {
		return err
	}

	o.onCommit(func() {
		n.dropHints()
		v.metrics.RecordOrphan()
		logger.Debug("orphaned %d as %q", n.id, moved.Name)
	})
	return nil
}

// unlinkHardLink removes one link record of n. When it was the last link,
// the indirect node is orphaned.
func (v *Volume) unlinkHardLink(o *op, dir, n *Node, link catalog.Descriptor, now time.Time) error {
	s := o.stage(n)
	isDir := s.attrs.Type == catalog.TypeDirectory

	if err := v.store.Delete(o.ctx, o.tx, &link); err != nil {
		return err
	}

	ps := o.stage(dir)
	ps.attrs.Valence = addCount(ps.attrs.Valence, -1)
	if isDir && ps.attrs.HasFlag(catalog.FlagHasFolderCount) {
		ps.attrs.DirCount = addCount(ps.attrs.DirCount, -1)
	}
	dirChanged(&ps.attrs, now)
	ps.setFlags |= flagDirModification
	if err := o.write(dir); err != nil {
		return err
	}

	if err := o.header(func(h *catalog.VolumeHeader) {
		volumeCount(h, dir.id, isDir, -1)
		h.ModifyDate = now
	}); err != nil {
		return err
	}

	s.attrs.LinkCount = addCount(s.attrs.LinkCount, -1)
	s.attrs.ChangeTime = now
	inodeDir := v.inodeDir(isDir)

	switch {
	case s.attrs.LinkCount == 0:
		inode := catalog.Descriptor{Name: inodeName(n.id, isDir), ParentID: inodeDir, ID: n.id, IsDir: isDir}
		moved, err := v.store.Rename(o.ctx, o.tx, &inode, v.fileMetaDir, orphanName(n.id))
		if err != nil {
			return err
		}
		if inodeDir != v.fileMetaDir {
			if err := o.updateRecord(inodeDir, func(a *catalog.Attributes) {
				a.Valence = addCount(a.Valence, -1)
				if isDir && a.HasFlag(catalog.FlagHasFolderCount) {
					a.DirCount = addCount(a.DirCount, -1)
				}
				dirChanged(a, now)
			}); err != nil {
				return err
			}
		}
		if err := o.updateRecord(v.fileMetaDir, func(a *catalog.Attributes) {
			if inodeDir != v.fileMetaDir {
				a.Valence++
				if isDir && a.HasFlag(catalog.FlagHasFolderCount) {
					a.DirCount++
				}
			}
			dirChanged(a, now)
		}); err != nil {
			return err
		}
		s.desc = moved
		s.setFlags |= flagDeleted
		o.onCommit(v.metrics.RecordOrphan)

	case s.desc.ID == link.ID:
		// The removed link was the one this node was reached through
		s.desc = catalog.Descriptor{Name: inodeName(n.id, isDir), ParentID: inodeDir, ID: n.id, IsDir: isDir}
	}

	if err := o.write(n); err != nil {
		return err
	}
	logger.Debug("unlinked hard link %s of inode %d (links=%d)", link, n.id, s.attrs.LinkCount)
	return nil
}

// inodeDir returns the hidden folder holding indirect nodes of the kind.
func (v *Volume) inodeDir(isDir bool) catalog.CNID {
	if isDir {
		return v.dirMetaDir
	}
	return v.fileMetaDir
}

func orphanName(id catalog.CNID) string {
	return fmt.Sprintf("%s%d", orphanPrefix, id)
}

func inodeName(id catalog.CNID, isDir bool) string {
	if isDir {
		return fmt.Sprintf("%s%d", dirInodePrefix, id)
	}
	return fmt.Sprintf("%s%d", fileInodePrefix, id)
}

// forkOf returns the fork of the given kind.
func forkOf(a *catalog.Attributes, kind catalog.ForkKind) *catalog.Fork {
	if kind == catalog.ResourceFork {
		return &a.RsrcFork
	}
	return &a.DataFork
}
