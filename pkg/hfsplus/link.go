package hfsplus

import (
	"context"
	"time"

	"github.com/marmos91/dittohfs/internal/logger"
	"github.com/marmos91/dittohfs/pkg/store/catalog"
)

// Finder info of link records.
var (
	fileLinkType    = [4]byte{'h', 'l', 'n', 'k'}
	fileLinkCreator = [4]byte{'h', 'f', 's', '+'}
	dirLinkType     = [4]byte{'f', 'd', 'r', 'p'}
	dirLinkCreator  = [4]byte{'M', 'A', 'C', 'S'}
)

// Link creates a hard link to n named name in dir.
//
// The first link turns n into an indirect node: its record moves into a
// hidden metadata folder as iNode<ID> (dir_<ID> for directories) and a
// link record takes its place under the original name. Every further link
// is one more link record pointing at the indirect node.
func (v *Volume) Link(ctx context.Context, n, dir *Node, name string) error {
	start := time.Now()
	err := v.link(ctx, n, dir, name)
	v.metrics.RecordOperation("link", time.Since(start), err)
	return err
}

func (v *Volume) link(ctx context.Context, n, dir *Node, name string) error {
	if err := catalog.ValidateName(name); err != nil {
		return err
	}
	if n == dir {
		return invalid("cannot link a directory into itself", name)
	}

	unlock := lockNodes(dir, n)
	defer unlock()

	ddesc, dattrs, dflags := dir.snapshot()
	desc, attrs, flags := n.snapshot()
	isDir := attrs.Type == catalog.TypeDirectory

	switch {
	case dattrs.Type != catalog.TypeDirectory:
		return catalog.NewError(catalog.ErrNotDirectory, "not a directory", ddesc.Name)
	case dflags&(flagDeleted|flagNoExists) != 0:
		return notFound("directory was removed", ddesc.Name)
	case flags&(flagDeleted|flagNoExists) != 0:
		return notFound("link target was removed", desc.Name)
	case n.id == catalog.RootFolderID || v.isPrivateDir(n.id):
		return catalog.NewError(catalog.ErrAccessDenied, "cannot link a reserved folder", desc.Name)
	case attrs.BSDFlags&(catalog.ImmutableAny|catalog.AppendAny) != 0:
		return catalog.NewError(catalog.ErrPermission, "link target is immutable or append-only", desc.Name)
	case dattrs.BSDFlags&catalog.ImmutableAny != 0:
		return catalog.NewError(catalog.ErrPermission, "directory is immutable", ddesc.Name)
	}

	if isDir {
		inside, err := v.isAncestor(ctx, n.id, dir.id)
		if err != nil {
			return err
		}
		if inside {
			return invalid("cannot link a directory below itself", name)
		}
	}

	now := time.Now()
	err := v.withOp(ctx, nil, func(o *op) error {
		o.lock(lockCatalog)
		if err := v.store.Reserve(ctx, o.tx, catalog.OpLink); err != nil {
			return err
		}

		// Stage the locked nodes before any helper touches their records
		ds := o.stage(dir)
		s := o.stage(n)

		if flags&flagHardLink == 0 {
			if err := v.makeIndirect(o, dir, n, now); err != nil {
				return err
			}
		}

		if _, err := v.insertLink(o, dir.id, name, n.id, &s.attrs, now); err != nil {
			return err
		}

		ds.attrs.Valence++
		if isDir && ds.attrs.HasFlag(catalog.FlagHasFolderCount) {
			ds.attrs.DirCount++
		}
		dirChanged(&ds.attrs, now)
		ds.setFlags |= flagDirModification
		if err := o.write(dir); err != nil {
			return err
		}

		s.attrs.LinkCount++
		s.attrs.Flags |= catalog.FlagHasLinkChain
		s.attrs.ChangeTime = now
		if err := o.write(n); err != nil {
			return err
		}

		if err := o.header(func(h *catalog.VolumeHeader) {
			volumeCount(h, dir.id, isDir, +1)
			h.ModifyDate = now
		}); err != nil {
			return err
		}

		if isDir {
			return v.propagateChildLink(o, dir.id)
		}
		return nil
	})
	if err == nil {
		logger.Debug("LINK succeeded: %d/%q -> inode %d", dir.id, name, n.id)
	}
	return err
}

// makeIndirect moves n's record into its hidden metadata folder and puts a
// link record under its original name. Caller staged dir and n.
func (v *Volume) makeIndirect(o *op, dir, n *Node, now time.Time) error {
	s := o.stage(n)
	isDir := s.attrs.Type == catalog.TypeDirectory
	orig := s.desc
	orig.ID = n.id

	inodeDir := v.inodeDir(isDir)
	moved, err := v.store.Rename(o.ctx, o.tx, &orig, inodeDir, inodeName(n.id, isDir))
	if err != nil {
		return err
	}
	if err := o.updateRecord(inodeDir, func(a *catalog.Attributes) {
		a.Valence++
		if isDir && a.HasFlag(catalog.FlagHasFolderCount) {
			a.DirCount++
		}
		dirChanged(a, now)
	}); err != nil {
		return err
	}

	link, err := v.insertLink(o, orig.ParentID, orig.Name, n.id, &s.attrs, now)
	if err != nil {
		return err
	}

	// The entry count of the original parent is unchanged, but its
	// entries were replaced
	if orig.ParentID == dir.id {
		dirChanged(&o.stage(dir).attrs, now)
	} else if err := o.updateRecord(orig.ParentID, func(a *catalog.Attributes) {
		dirChanged(a, now)
	}); err != nil {
		return err
	}
	if isDir {
		if err := v.propagateChildLink(o, orig.ParentID); err != nil {
			return err
		}
	}

	s.desc = link
	s.setFlags |= flagHardLink
	logger.Debug("converted %d to indirect node %s", n.id, moved)
	return nil
}

// insertLink adds a link record to inode named name in parent.
func (v *Volume) insertLink(o *op, parent catalog.CNID, name string, inode catalog.CNID, target *catalog.Attributes, now time.Time) (catalog.Descriptor, error) {
	id, err := v.store.AcquireID(o.ctx, o.tx)
	if err != nil {
		return catalog.Descriptor{}, err
	}

	isDir := target.Type == catalog.TypeDirectory
	attrs := catalog.Attributes{
		Type:       catalog.TypeHardLink,
		Mode:       target.Mode,
		UID:        target.UID,
		GID:        target.GID,
		LinkCount:  1,
		CreateTime: now,
		ModifyTime: now,
		ChangeTime: now,
		AccessTime: now,
		Flags:      catalog.FlagHasLinkChain | catalog.FlagThreadExists,
		LinkRef:    inode,
	}
	if isDir {
		copy(attrs.FinderInfo[0:4], dirLinkType[:])
		copy(attrs.FinderInfo[4:8], dirLinkCreator[:])
	} else {
		copy(attrs.FinderInfo[0:4], fileLinkType[:])
		copy(attrs.FinderInfo[4:8], fileLinkCreator[:])
	}

	desc := catalog.Descriptor{Name: name, ParentID: parent, ID: id, IsDir: isDir}
	if err := v.store.Insert(o.ctx, o.tx, &desc, &attrs); err != nil {
		return catalog.Descriptor{}, err
	}
	return desc, nil
}

// propagateChildLink sets HasChildLink on id and every ancestor up to the
// root, stopping at the first one that already has it.
func (v *Volume) propagateChildLink(o *op, id catalog.CNID) error {
	for depth := 0; depth < maxAncestorDepth; depth++ {
		if id == catalog.RootParentID || id == 0 || v.isPrivateDir(id) {
			return nil
		}

		var attrs catalog.Attributes
		var parent catalog.CNID
		if n := o.stagedNode(id); n != nil {
			s := o.nodes[n]
			attrs, parent = s.attrs, s.desc.ParentID
		} else {
			rec, err := v.store.LookupByID(o.ctx, o.tx, id)
			if err != nil {
				return err
			}
			attrs, parent = rec.Attrs, rec.Desc.ParentID
		}
		if attrs.HasFlag(catalog.FlagHasChildLink) {
			return nil
		}

		if err := o.updateRecord(id, func(a *catalog.Attributes) {
			a.Flags |= catalog.FlagHasChildLink
		}); err != nil {
			return err
		}
		if id == catalog.RootFolderID {
			return nil
		}
		id = parent
	}
	return catalog.NewError(catalog.ErrIOError, "parent chain too deep", "")
}
