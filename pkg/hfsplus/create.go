package hfsplus

import (
	"context"
	"time"

	"github.com/marmos91/dittohfs/internal/logger"
	"github.com/marmos91/dittohfs/pkg/store/catalog"
)

// AttrMask selects the fields of an attribute request that are set.
type AttrMask uint32

const (
	AttrType AttrMask = 1 << iota
	AttrMode
	AttrUID
	AttrGID
	AttrLinkCount
	AttrSize
	AttrAllocSize
	AttrFileID
	AttrParentID
	AttrChangeTime
	AttrCreateTime
	AttrModifyTime
	AttrAccessTime
	AttrBSDFlags

	// readOnlyAttrs may never be set by a create request
	readOnlyAttrs = AttrType | AttrLinkCount | AttrAllocSize | AttrFileID | AttrParentID | AttrChangeTime
)

// CreateAttrs is the attribute request of a create call. Only fields whose
// bit is set in Mask are used.
type CreateAttrs struct {
	Mask AttrMask

	Mode uint32
	UID  uint32
	GID  uint32

	// Size is the initial data fork size of a regular file
	Size uint64

	CreateTime time.Time
	ModifyTime time.Time
	AccessTime time.Time
	BSDFlags   uint32
}

// Symlink finder info type and creator codes.
var (
	symlinkType    = [4]byte{'s', 'l', 'n', 'k'}
	symlinkCreator = [4]byte{'r', 'h', 'a', 'p'}
)

// MkDir creates a directory in dir.
func (v *Volume) MkDir(ctx context.Context, dir *Node, name string, attrs CreateAttrs) (*Node, error) {
	start := time.Now()
	n, err := v.create(ctx, dir, name, catalog.TypeDirectory, attrs, "")
	v.metrics.RecordOperation("mkdir", time.Since(start), err)
	return n, err
}

// Create creates a regular file in dir. A non-zero Size in attrs is applied
// after creation; if that fails the file is removed again.
func (v *Volume) Create(ctx context.Context, dir *Node, name string, attrs CreateAttrs) (*Node, error) {
	start := time.Now()
	n, err := v.create(ctx, dir, name, catalog.TypeFile, attrs, "")
	v.metrics.RecordOperation("create", time.Since(start), err)
	return n, err
}

// Symlink creates a symbolic link to target in dir.
func (v *Volume) Symlink(ctx context.Context, dir *Node, name, target string, attrs CreateAttrs) (*Node, error) {
	start := time.Now()
	var n *Node
	var err error
	if target == "" {
		err = invalid("empty symlink target", name)
	} else {
		n, err = v.create(ctx, dir, name, catalog.TypeSymlink, attrs, target)
	}
	v.metrics.RecordOperation("symlink", time.Since(start), err)
	return n, err
}

// validateCreate checks an attribute request before anything is locked.
func validateCreate(name string, typ catalog.NodeType, attrs *CreateAttrs) error {
	if err := catalog.ValidateName(name); err != nil {
		return err
	}
	if attrs.Mask&readOnlyAttrs != 0 {
		return invalid("read-only attribute in create request", name)
	}
	if typ != catalog.TypeDirectory && attrs.Mask&AttrMode == 0 {
		return invalid("mode is required", name)
	}
	if typ != catalog.TypeFile && attrs.Mask&AttrSize != 0 && attrs.Size != 0 {
		return invalid("initial size only applies to regular files", name)
	}
	return nil
}

// newAttributes builds the catalog attributes of a new entry.
func (v *Volume) newAttributes(typ catalog.NodeType, req *CreateAttrs, target string, now time.Time) catalog.Attributes {
	a := catalog.Attributes{
		Type:       typ,
		LinkCount:  1,
		CreateTime: now,
		ModifyTime: now,
		ChangeTime: now,
		AccessTime: now,
	}

	perm := uint32(0o644)
	if typ == catalog.TypeDirectory {
		perm = 0o755
	}
	if req.Mask&AttrMode != 0 {
		perm = req.Mode & catalog.ModePermMask
	}
	if req.Mask&AttrUID != 0 {
		a.UID = req.UID
	}
	if req.Mask&AttrGID != 0 {
		a.GID = req.GID
	}
	if req.Mask&AttrCreateTime != 0 {
		a.CreateTime = req.CreateTime
	}
	if req.Mask&AttrModifyTime != 0 {
		a.ModifyTime = req.ModifyTime
	}
	if req.Mask&AttrAccessTime != 0 {
		a.AccessTime = req.AccessTime
	}
	if req.Mask&AttrBSDFlags != 0 {
		a.BSDFlags = req.BSDFlags
	}

	switch typ {
	case catalog.TypeDirectory:
		a.Mode = catalog.ModeDirectory | perm
		a.DirVersion = 1
		if v.opts.FolderCount {
			a.Flags |= catalog.FlagHasFolderCount
		}
	case catalog.TypeFile:
		a.Mode = catalog.ModeRegular | perm
		a.Flags |= catalog.FlagThreadExists
	case catalog.TypeSymlink:
		a.Mode = catalog.ModeSymlink | perm
		a.Flags |= catalog.FlagThreadExists
		copy(a.FinderInfo[0:4], symlinkType[:])
		copy(a.FinderInfo[4:8], symlinkCreator[:])
		a.SymlinkTarget = target
		a.DataFork.Size = uint64(len(target))
	case catalog.TypeHardLink:
		// Link records are only built by Link
	}
	return a
}

func (v *Volume) create(ctx context.Context, dir *Node, name string, typ catalog.NodeType, req CreateAttrs, target string) (*Node, error) {
	if err := validateCreate(name, typ, &req); err != nil {
		return nil, err
	}

	rec, err := v.createEntry(ctx, dir, name, typ, &req, target)
	if err != nil {
		return nil, err
	}

	// Materialized only after the transaction closed, so evicting another
	// node never happens with this one's transaction open.
	n := v.cache.insert(newNode(v, rec.Desc.ID, rec.Desc, rec.Attrs))
	v.metrics.SetCachedNodes(v.cache.len())

	if typ == catalog.TypeFile && req.Mask&AttrSize != 0 && req.Size > 0 {
		if err := v.SetSize(ctx, n, catalog.DataFork, req.Size); err != nil {
			logger.Warn("CREATE %q: initial size failed, removing: %v", name, err)
			if rmErr := v.Remove(ctx, dir, n, name, RemoveOptions{}); rmErr != nil {
				logger.Error("CREATE %q: failed to remove after size failure: %v", name, rmErr)
			}
			v.Release(ctx, n)
			return nil, err
		}
	}

	logger.Debug("CREATE succeeded: %s type=%s mode=%o", rec.Desc, typ, rec.Attrs.Mode)
	return n, nil
}

// createEntry runs the creation transaction and returns the new record.
func (v *Volume) createEntry(ctx context.Context, dir *Node, name string, typ catalog.NodeType, req *CreateAttrs, target string) (rec catalog.Record, err error) {
	dir.lock.Lock()
	defer dir.lock.Unlock()

	desc, attrs, flags := dir.snapshot()
	if attrs.Type != catalog.TypeDirectory {
		return rec, catalog.NewError(catalog.ErrNotDirectory, "not a directory", desc.Name)
	}
	if flags&(flagDeleted|flagNoExists) != 0 {
		return rec, notFound("parent directory was removed", name)
	}
	if attrs.BSDFlags&catalog.ImmutableAny != 0 {
		return rec, catalog.NewError(catalog.ErrPermission, "parent directory is immutable", name)
	}

	free, err := v.store.FreeBlocks(ctx)
	if err != nil {
		return rec, catalog.WrapIO(err, "read free blocks")
	}
	if free == 0 {
		return rec, catalog.NewError(catalog.ErrNoSpace, "no free blocks", name)
	}

	now := time.Now()
	newAttrs := v.newAttributes(typ, req, target, now)

	o, err := v.beginOp(ctx)
	if err != nil {
		return rec, err
	}
	defer o.finish(&err)

	locks := lockCatalog
	if typ == catalog.TypeSymlink {
		locks |= lockBitmap
	}
	o.lock(locks)

	if err := v.store.Reserve(ctx, o.tx, catalog.OpCreate); err != nil {
		return rec, err
	}
	id, err := v.store.AcquireID(ctx, o.tx)
	if err != nil {
		return rec, err
	}

	if typ == catalog.TypeSymlink {
		blocks := blocksFor(uint64(len(target)), v.store.BlockSize())
		extents, err := v.store.Allocate(ctx, o.tx, id, blocks)
		if err != nil {
			return rec, err
		}
		newAttrs.DataFork.Blocks = blocks
		newAttrs.DataFork.Extents = extents
	}

	newDesc := catalog.Descriptor{
		Name:     name,
		ParentID: dir.id,
		ID:       id,
		IsDir:    typ == catalog.TypeDirectory,
	}
	if err := v.store.Insert(ctx, o.tx, &newDesc, &newAttrs); err != nil {
		return rec, err
	}

	ps := o.stage(dir)
	ps.attrs.Valence++
	if typ == catalog.TypeDirectory && ps.attrs.HasFlag(catalog.FlagHasFolderCount) {
		ps.attrs.DirCount++
	}
	dirChanged(&ps.attrs, now)
	ps.setFlags |= flagDirModification
	if err := o.write(dir); err != nil {
		return rec, err
	}

	if err := o.header(func(h *catalog.VolumeHeader) {
		volumeCount(h, dir.id, typ == catalog.TypeDirectory, +1)
		h.ModifyDate = now
	}); err != nil {
		return rec, err
	}

	return catalog.Record{Desc: newDesc, Attrs: newAttrs}, nil
}

// dirChanged records a content change of a directory.
func dirChanged(a *catalog.Attributes, now time.Time) {
	a.DirVersion++
	a.GenCount++
	a.ModifyTime = now
	a.ChangeTime = now
}

// volumeCount adjusts the volume file or folder count, and the root counts
// when parent is the root folder.
func volumeCount(h *catalog.VolumeHeader, parent catalog.CNID, isDir bool, delta int) {
	if isDir {
		h.FolderCount = addCount(h.FolderCount, delta)
		if parent == catalog.RootFolderID {
			h.RootFolderCount = addCount(h.RootFolderCount, delta)
		}
		return
	}
	h.FileCount = addCount(h.FileCount, delta)
	if parent == catalog.RootFolderID {
		h.RootFileCount = addCount(h.RootFileCount, delta)
	}
}

func addCount(c uint32, delta int) uint32 {
	if delta < 0 && c < uint32(-delta) {
		return 0
	}
	return uint32(int64(c) + int64(delta))
}

// blocksFor returns the allocation blocks needed to hold size bytes.
func blocksFor(size uint64, blockSize uint32) uint32 {
	if size == 0 {
		return 0
	}
	return uint32((size + uint64(blockSize) - 1) / uint64(blockSize))
}
