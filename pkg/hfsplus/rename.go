package hfsplus

import (
	"context"
	"errors"
	"time"

	"github.com/marmos91/dittohfs/internal/logger"
	"github.com/marmos91/dittohfs/pkg/store/catalog"
)

// errDestChanged means the destination entry is not the one the caller
// resolved before locking.
var errDestChanged = errors.New("rename destination changed")

// maxAncestorDepth bounds parent-chain walks on a damaged catalog.
const maxAncestorDepth = 4096

// Rename moves from, found as fromName in fromDir, to toName in toDir.
//
// to is the node currently named toName in toDir, or nil when the caller
// found nothing there. A destination that vanished or appeared between the
// caller's lookup and the locking is resolved again once; a second change
// fails with ErrRetry.
//
// The namespace change is a single catalog rename inside one transaction
// together with the removal of a displaced destination, so no observer sees
// both names or neither.
func (v *Volume) Rename(ctx context.Context, fromDir, from *Node, fromName string, toDir, to *Node, toName string) error {
	start := time.Now()
	err := v.rename(ctx, fromDir, from, fromName, toDir, to, toName)
	v.metrics.RecordOperation("rename", time.Since(start), err)
	return err
}

func (v *Volume) rename(ctx context.Context, fromDir, from *Node, fromName string, toDir, to *Node, toName string) error {
	if err := catalog.ValidateName(toName); err != nil {
		return err
	}

	// Nodes resolved here are ours to release, after every lock is dropped
	var resolved *Node
	defer func() { v.Release(ctx, resolved) }()

	for attempt := 0; ; attempt++ {
		unlock := lockNodes(fromDir, from, toDir, to)
		err := v.renameLocked(ctx, fromDir, from, fromName, toDir, to, toName)
		unlock()

		if !errors.Is(err, errDestChanged) {
			return err
		}
		if attempt > 0 {
			return catalog.NewError(catalog.ErrRetry, "rename destination keeps changing", toName)
		}

		n, err := v.lookup(ctx, toDir, toName)
		switch {
		case catalog.IsNotFound(err):
			to = nil
		case err != nil:
			return err
		default:
			v.Release(ctx, resolved)
			resolved, to = n, n
		}
		logger.Debug("RENAME: destination %d/%q changed, retrying", toDir.id, toName)
	}
}

// renameLocked runs the rename with every involved node locked.
func (v *Volume) renameLocked(ctx context.Context, fromDir, from *Node, fromName string, toDir, to *Node, toName string) error {
	srcEntry, dst, err := v.validateRenameRace(ctx, fromDir, from, fromName, toDir, to, toName)
	if err != nil {
		return err
	}

	if dst.id == from.id {
		if dst.entry.ID != srcEntry.ID {
			// Two links of one inode: the source link just goes away
			return v.removeFile(ctx, nil, fromDir, from, fromName, RemoveOptions{AllowDirs: true})
		}
		if fromDir == toDir && srcEntry.Name == toName {
			return nil
		}
		// Case-only change of the same entry
		to = nil
	}

	if err := v.validateRenameStructure(ctx, fromDir, from, toDir, to, fromName); err != nil {
		return err
	}

	now := time.Now()
	return v.withOp(ctx, nil, func(o *op) error {
		o.lock(lockAll)
		if err := v.store.Reserve(ctx, o.tx, catalog.OpRename); err != nil {
			return err
		}

		if to != nil {
			// Displaced entries are always orphaned, so a caller holding
			// the destination open keeps a valid node until it releases it
			_, toAttrs, _ := to.snapshot()
			opts := RemoveOptions{
				OnlyUnlink:  true,
				SkipReserve: true,
				AllowDirs:   toAttrs.Type == catalog.TypeDirectory,
			}
			if err := v.removeFile(ctx, o, toDir, to, toName, opts); err != nil {
				return err
			}
		}

		moved, err := v.store.Rename(ctx, o.tx, &srcEntry, toDir.id, toName)
		if err != nil {
			if catalog.IsCode(err, catalog.ErrAlreadyExists) {
				return catalog.NewError(catalog.ErrRetry, "destination appeared during rename", toName)
			}
			return err
		}

		// The namespace change is in; bookkeeping failures below are
		// logged and leave the affected nodes dirty for the next flush.
		v.renameIdentity(o, from, srcEntry, moved, now)
		v.renameCounters(o, fromDir, toDir, from, now)

		logger.Debug("RENAME succeeded: %s -> %s", srcEntry, moved)
		return nil
	})
}

// renameTarget is what currently holds the destination name.
type renameTarget struct {
	// id is the node behind the entry (the inode for link records), or 0
	// when the name is free
	id catalog.CNID

	// entry is the catalog entry holding the name
	entry catalog.Descriptor
}

// validateRenameRace checks that both directories still exist and that the
// source and destination are still what the caller resolved. It returns
// the source's catalog entry and the current destination.
func (v *Volume) validateRenameRace(ctx context.Context, fromDir, from *Node, fromName string, toDir, to *Node, toName string) (catalog.Descriptor, renameTarget, error) {
	var dst renameTarget
	for _, d := range []*Node{fromDir, toDir} {
		desc, attrs, flags := d.snapshot()
		if attrs.Type != catalog.TypeDirectory {
			return catalog.Descriptor{}, dst, catalog.NewError(catalog.ErrNotDirectory, "not a directory", desc.Name)
		}
		if flags&(flagDeleted|flagNoExists) != 0 {
			return catalog.Descriptor{}, dst, notFound("directory was removed", desc.Name)
		}
	}
	if from.gone() {
		return catalog.Descriptor{}, dst, notFound("source was removed", fromName)
	}

	srcEntry, err := v.verifyEntry(ctx, nil, fromDir, from, fromName)
	if err != nil {
		return catalog.Descriptor{}, dst, err
	}

	rec, err := v.lookupEntry(ctx, nil, toDir.id, toName)
	switch {
	case catalog.IsNotFound(err):
		if to != nil {
			return srcEntry, dst, errDestChanged
		}
		return srcEntry, dst, nil
	case err != nil:
		return srcEntry, dst, err
	}

	dst.entry = rec.Desc
	dst.id = rec.Desc.ID
	if rec.Attrs.Type == catalog.TypeHardLink {
		dst.id = rec.Attrs.LinkRef
	}
	if v.isPrivateDir(dst.id) {
		return srcEntry, dst, catalog.NewError(catalog.ErrBusy, "destination is a reserved folder", toName)
	}

	switch {
	case dst.id == from.id:
		// Renaming onto itself, whatever the caller passed as to
	case to == nil || to.id != dst.id:
		return srcEntry, dst, errDestChanged
	}
	return srcEntry, dst, nil
}

// validateRenameStructure rejects renames that would break the tree or
// violate flags. to is nil when nothing is displaced.
func (v *Volume) validateRenameStructure(ctx context.Context, fromDir, from, toDir, to *Node, fromName string) error {
	_, attrs, _ := from.snapshot()
	isDir := attrs.Type == catalog.TypeDirectory

	if from.id == catalog.RootFolderID || v.isPrivateDir(from.id) {
		return catalog.NewError(catalog.ErrBusy, "cannot rename a reserved folder", fromName)
	}
	if attrs.BSDFlags&(catalog.ImmutableAny|catalog.AppendAny) != 0 {
		return catalog.NewError(catalog.ErrPermission, "source is immutable or append-only", fromName)
	}
	for _, d := range []*Node{fromDir, toDir} {
		desc, dattrs, _ := d.snapshot()
		if dattrs.BSDFlags&(catalog.ImmutableAny|catalog.AppendAny) != 0 {
			return catalog.NewError(catalog.ErrPermission, "directory is immutable or append-only", desc.Name)
		}
	}

	if isDir {
		// toDir must not be from or live below it
		inside, err := v.isAncestor(ctx, from.id, toDir.id)
		if err != nil {
			return err
		}
		if inside {
			return invalid("cannot move a directory below itself", fromName)
		}
	}

	if to == nil {
		return nil
	}

	tdesc, tattrs, tflags := to.snapshot()
	toIsDir := tattrs.Type == catalog.TypeDirectory
	switch {
	case tattrs.BSDFlags&(catalog.ImmutableAny|catalog.AppendAny) != 0:
		return catalog.NewError(catalog.ErrPermission, "destination is immutable or append-only", tdesc.Name)
	case isDir && !toIsDir:
		return catalog.NewError(catalog.ErrNotDirectory, "destination is not a directory", tdesc.Name)
	case !isDir && toIsDir:
		return catalog.NewError(catalog.ErrIsDirectory, "destination is a directory", tdesc.Name)
	case toIsDir && tattrs.Valence != 0 && (tflags&flagHardLink == 0 || tattrs.LinkCount <= 1):
		return catalog.NewError(catalog.ErrNotEmpty, "destination directory not empty", tdesc.Name)
	}

	if toIsDir {
		// The destination must not contain the source
		inside, err := v.isAncestor(ctx, to.id, fromDir.id)
		if err != nil {
			return err
		}
		if inside {
			return invalid("destination is an ancestor of the source", tdesc.Name)
		}
	}
	return nil
}

// isAncestor reports whether anc is id or one of its ancestors, walking the
// parent chain through the catalog.
func (v *Volume) isAncestor(ctx context.Context, anc, id catalog.CNID) (bool, error) {
	v.catalogLock.RLock()
	defer v.catalogLock.RUnlock()

	cur := id
	for depth := 0; depth < maxAncestorDepth; depth++ {
		if cur == anc {
			return true, nil
		}
		if cur == catalog.RootFolderID || cur == catalog.RootParentID || cur == 0 {
			return false, nil
		}
		rec, err := v.store.LookupByID(ctx, nil, cur)
		if err != nil {
			return false, err
		}
		cur = rec.Desc.ParentID
	}
	return false, catalog.NewError(catalog.ErrIOError, "parent chain too deep", "")
}

// renameIdentity installs the new descriptor on the moved node.
func (v *Volume) renameIdentity(o *op, from *Node, srcEntry, moved catalog.Descriptor, now time.Time) {
	s := o.stage(from)
	if s.desc.ID == srcEntry.ID {
		s.desc = moved
		s.desc.Hint = 0
	}
	s.attrs.ChangeTime = now
	s.setFlags |= flagRenamed | flagModified
	if err := o.write(from); err != nil {
		logger.Warn("RENAME: failed to persist identity of %d: %v", from.id, err)
	}
}

// renameCounters updates both parents and the volume header.
func (v *Volume) renameCounters(o *op, fromDir, toDir, from *Node, now time.Time) {
	_, attrs, flags := from.snapshot()
	isDir := attrs.Type == catalog.TypeDirectory

	dirs := []*Node{fromDir}
	if toDir != fromDir {
		dirs = append(dirs, toDir)

		fs, ts := o.stage(fromDir), o.stage(toDir)
		fs.attrs.Valence = addCount(fs.attrs.Valence, -1)
		ts.attrs.Valence++
		if isDir && fs.attrs.HasFlag(catalog.FlagHasFolderCount) {
			fs.attrs.DirCount = addCount(fs.attrs.DirCount, -1)
		}
		if isDir && ts.attrs.HasFlag(catalog.FlagHasFolderCount) {
			ts.attrs.DirCount++
		}
	}

	for _, d := range dirs {
		s := o.stage(d)
		dirChanged(&s.attrs, now)
		s.setFlags |= flagDirModification | flagModified
		if err := o.write(d); err != nil {
			logger.Warn("RENAME: failed to persist directory %d: %v", d.id, err)
		}
	}

	if toDir == fromDir {
		return
	}
	if err := o.header(func(h *catalog.VolumeHeader) {
		volumeCount(h, fromDir.id, isDir, -1)
		volumeCount(h, toDir.id, isDir, +1)
		h.ModifyDate = now
	}); err != nil {
		logger.Warn("RENAME: failed to update volume counts: %v", err)
	}

	// Directory links, and directories holding them, flag every new ancestor
	if isDir && (flags&flagHardLink != 0 || attrs.HasFlag(catalog.FlagHasChildLink)) {
		if err := v.propagateChildLink(o, toDir.id); err != nil {
			logger.Warn("RENAME: failed to propagate child link flag from %d: %v", toDir.id, err)
		}
	}
}
