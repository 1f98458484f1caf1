// Package hfsplus implements the metadata mutation and directory enumeration
// engine of an HFS+ volume.
//
// A Volume sits on top of a catalog.Store and keeps three things consistent
// under concurrent access: the on-disk catalog, the in-memory node cache,
// and the directory hints that let paginated enumeration resume cheaply.
//
// Every mutating operation follows the same shape:
//
//  1. lock the nodes involved (rename locks up to four, in CNID order)
//  2. begin a transaction
//  3. take the catalog/attribute/bitmap locks exclusive
//  4. mutate the catalog, then parent and volume counters
//  5. release the metadata locks and commit
//  6. install the new node state and unlock the nodes
//
// Enumeration never takes a transaction. It reads the catalog under the
// shared catalog lock and relies on the per-directory DirVersion verifier
// to detect cursors invalidated by concurrent mutation.
package hfsplus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/dittohfs/internal/logger"
	"github.com/marmos91/dittohfs/internal/ratelimiter"
	"github.com/marmos91/dittohfs/pkg/metrics"
	"github.com/marmos91/dittohfs/pkg/store/catalog"
)

// Names of the hidden metadata folders at the root of every volume.
const (
	// FileMetadataDirName holds file hard link inodes ("iNode<id>") and
	// orphans ("temp<id>"). The name starts with four U+2400 characters.
	FileMetadataDirName = "\xE2\x90\x80\xE2\x90\x80\xE2\x90\x80\xE2\x90\x80HFS+ Private Data"

	// DirMetadataDirName holds directory hard link inodes ("dir_<id>")
	DirMetadataDirName = ".HFS+ Private Directory Data\r"

	orphanPrefix    = "temp"
	fileInodePrefix = "iNode"
	dirInodePrefix  = "dir_"
)

// Options configures a Volume.
type Options struct {
	// MaxDirHints caps the directory hints kept per directory
	MaxDirHints int

	// NodeCacheSize is the number of nodes kept cached; unreferenced ones
	// beyond it are evicted least recently used first
	NodeCacheSize int

	// LargeFileThreshold is the data fork size above which removal always
	// goes through the orphan folder and truncates in steps
	LargeFileThreshold uint64

	// TruncateStepBlocks is the number of blocks released per transaction
	// when reclaiming an orphan
	TruncateStepBlocks uint32

	// FolderCount enables subdirectory counts on new directories
	FolderCount bool

	// BatchSize is the number of catalog entries fetched per enumeration
	// batch
	BatchSize int

	// WarnRate and WarnBurst throttle repeated corruption warnings per
	// directory
	WarnRate  float64
	WarnBurst uint

	// Metrics collects volume metrics. Nil disables collection.
	Metrics metrics.VolumeMetrics
}

// DefaultOptions returns the options a volume is normally mounted with.
func DefaultOptions() Options {
	opts := Options{FolderCount: true}
	opts.ApplyDefaults()
	return opts
}

// ApplyDefaults fills zero values with defaults.
func (o *Options) ApplyDefaults() {
	if o.MaxDirHints <= 0 {
		o.MaxDirHints = 32
	}
	if o.NodeCacheSize <= 0 {
		o.NodeCacheSize = 1024
	}
	if o.LargeFileThreshold == 0 {
		o.LargeFileThreshold = 1 << 30
	}
	if o.TruncateStepBlocks == 0 {
		o.TruncateStepBlocks = 4096
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 64
	}
	if o.WarnRate <= 0 {
		o.WarnRate = 1.0 / 60
	}
	if o.WarnBurst == 0 {
		o.WarnBurst = 1
	}
	if o.Metrics == nil {
		o.Metrics = metrics.NewNoopVolumeMetrics()
	}
}

// Volume is one mounted HFS+ volume.
//
// It owns the node cache and the volume-wide metadata locks. The volume
// header is not cached: every transaction reads and writes it through the
// catalog, so the counters always move together with the catalog changes
// that justify them.
type Volume struct {
	store   catalog.Store
	opts    Options
	metrics metrics.VolumeMetrics

	// Metadata file locks. Taken exclusive only inside a transaction and
	// released before it commits; enumeration and lookups take the catalog
	// lock shared without a transaction.
	catalogLock sync.RWMutex
	attrLock    sync.RWMutex
	bitmapLock  sync.RWMutex

	cache *nodeCache
	root  *Node

	// CNIDs of the hidden metadata folders
	fileMetaDir catalog.CNID
	dirMetaDir  catalog.CNID

	warn *ratelimiter.Keyed[catalog.CNID]

	closeOnce sync.Once
}

// Open mounts the volume held by store.
//
// The hidden metadata folders are created if missing, and orphans left by
// a previous session are reclaimed before Open returns.
func Open(ctx context.Context, store catalog.Store, opts Options) (*Volume, error) {
	opts.ApplyDefaults()

	v := &Volume{
		store:   store,
		opts:    opts,
		metrics: opts.Metrics,
		cache:   newNodeCache(opts.NodeCacheSize),
		warn:    ratelimiter.NewKeyed[catalog.CNID](opts.WarnRate, opts.WarnBurst, 1024),
	}

	rec, err := store.LookupByID(ctx, nil, catalog.RootFolderID)
	if err != nil {
		return nil, fmt.Errorf("failed to read root folder: %w", err)
	}
	v.root = v.cache.insert(newNode(v, rec.Desc.ID, rec.Desc, rec.Attrs))

	if err := v.mount(ctx); err != nil {
		return nil, err
	}

	if err := v.cleanupOrphans(ctx); err != nil {
		return nil, fmt.Errorf("failed to reclaim orphans: %w", err)
	}

	hdr, err := store.ReadHeader(ctx, nil)
	if err != nil {
		return nil, catalog.WrapIO(err, "read volume header")
	}
	logger.Info("Volume mounted: files=%d folders=%d case_sensitive=%v next_id=%d",
		hdr.FileCount, hdr.FolderCount, store.CaseSensitive(), hdr.NextCatalogID)
	if hdr.Attributes&catalog.VolumeInconsistent != 0 {
		logger.Warn("Volume is marked inconsistent and needs repair")
	}
	return v, nil
}

// mount clears the unmounted bit and makes sure both hidden metadata
// folders exist.
func (v *Volume) mount(ctx context.Context) (err error) {
	v.root.lock.Lock()
	defer v.root.lock.Unlock()

	o, err := v.beginOp(ctx)
	if err != nil {
		return err
	}
	defer o.finish(&err)
	o.lock(lockCatalog)

	fileDir, err := v.privateDir(o, FileMetadataDirName)
	if err != nil {
		return err
	}
	dirDir, err := v.privateDir(o, DirMetadataDirName)
	if err != nil {
		return err
	}
	v.fileMetaDir, v.dirMetaDir = fileDir, dirDir

	return o.header(func(h *catalog.VolumeHeader) {
		h.Attributes &^= catalog.VolumeUnmounted
		h.FileMetadataDirID = fileDir
		h.DirMetadataDirID = dirDir
	})
}

// privateDir returns the CNID of a hidden metadata folder, creating it at
// the root when missing.
func (v *Volume) privateDir(o *op, name string) (catalog.CNID, error) {
	rec, err := v.store.Lookup(o.ctx, o.tx, catalog.RootFolderID, name)
	if err == nil {
		return rec.Desc.ID, nil
	}
	if !catalog.IsNotFound(err) {
		return 0, err
	}

	id, err := v.store.AcquireID(o.ctx, o.tx)
	if err != nil {
		return 0, err
	}
	now := time.Now()
	desc := catalog.Descriptor{Name: name, ParentID: catalog.RootFolderID, ID: id, IsDir: true}
	attrs := catalog.Attributes{
		Type:       catalog.TypeDirectory,
		Mode:       catalog.ModeDirectory,
		LinkCount:  1,
		CreateTime: now,
		ModifyTime: now,
		ChangeTime: now,
		AccessTime: now,
		BSDFlags:   catalog.UFHidden,
		Flags:      catalog.FlagHasFolderCount,
		DirVersion: 1,
	}
	if err := v.store.Insert(o.ctx, o.tx, &desc, &attrs); err != nil {
		return 0, err
	}

	s := o.stage(v.root)
	s.attrs.Valence++
	s.attrs.DirCount++
	if err := o.write(v.root); err != nil {
		return 0, err
	}
	if err := o.header(func(h *catalog.VolumeHeader) {
		h.FolderCount++
	}); err != nil {
		return 0, err
	}

	logger.Info("Created hidden metadata folder %q (id=%d)", strings.TrimSpace(name), id)
	return id, nil
}

// isPrivateDir reports whether id is one of the hidden metadata folders.
func (v *Volume) isPrivateDir(id catalog.CNID) bool {
	return id == v.fileMetaDir || id == v.dirMetaDir
}

// Close flushes every modified node and marks the volume cleanly
// unmounted. The store itself stays open and belongs to the caller.
func (v *Volume) Close(ctx context.Context) error {
	var err error
	v.closeOnce.Do(func() {
		if err = v.Sync(ctx); err != nil {
			return
		}
		err = v.withOp(ctx, nil, func(o *op) error {
			o.lock(lockCatalog)
			return o.header(func(h *catalog.VolumeHeader) {
				h.Attributes |= catalog.VolumeUnmounted
				h.ModifyDate = time.Now()
			})
		})
		if err == nil {
			logger.Info("Volume unmounted")
		}
	})
	return err
}

// Header returns the current volume header.
func (v *Volume) Header(ctx context.Context) (catalog.VolumeHeader, error) {
	v.catalogLock.RLock()
	defer v.catalogLock.RUnlock()
	return v.store.ReadHeader(ctx, nil)
}

// Store returns the catalog store the volume runs on.
func (v *Volume) Store() catalog.Store {
	return v.store
}

// Root returns the root folder with a new reference.
func (v *Volume) Root() *Node {
	return v.cache.get(catalog.RootFolderID)
}

// GetNode returns the node with the given CNID. Deleted but still
// referenced nodes are found by identifier; the hidden metadata folders are
// not.
func (v *Volume) GetNode(ctx context.Context, id catalog.CNID) (*Node, error) {
	if v.isPrivateDir(id) {
		return nil, catalog.NewError(catalog.ErrNotFound, "no such node", "")
	}
	if n := v.cache.get(id); n != nil {
		if n.hasFlags(flagNoExists) {
			v.Release(ctx, n)
			return nil, catalog.NewError(catalog.ErrNotFound, "node no longer exists", "")
		}
		v.metrics.RecordCacheHit()
		return n, nil
	}
	v.metrics.RecordCacheMiss()

	v.catalogLock.RLock()
	rec, err := v.store.LookupByID(ctx, nil, id)
	v.catalogLock.RUnlock()
	if err != nil {
		return nil, err
	}
	return v.materialize(ctx, rec)
}

// Lookup resolves name in dir and returns the node with a new reference.
// "." returns dir itself and ".." its parent.
func (v *Volume) Lookup(ctx context.Context, dir *Node, name string) (*Node, error) {
	start := time.Now()
	n, err := v.lookup(ctx, dir, name)
	v.metrics.RecordOperation("lookup", time.Since(start), err)
	return n, err
}

func (v *Volume) lookup(ctx context.Context, dir *Node, name string) (*Node, error) {
	dir.lock.RLock()
	desc, attrs, flags := dir.snapshot()
	if attrs.Type != catalog.TypeDirectory {
		dir.lock.RUnlock()
		return nil, catalog.NewError(catalog.ErrNotDirectory, "not a directory", desc.Name)
	}
	if flags&(flagDeleted|flagNoExists) != 0 {
		dir.lock.RUnlock()
		return nil, catalog.NewError(catalog.ErrNotFound, "directory was removed", name)
	}

	switch name {
	case ".":
		dir.lock.RUnlock()
		return v.cache.get(dir.id), nil
	case "..":
		dir.lock.RUnlock()
		if dir.id == catalog.RootFolderID {
			return v.Root(), nil
		}
		return v.GetNode(ctx, desc.ParentID)
	}

	v.catalogLock.RLock()
	rec, err := v.store.Lookup(ctx, nil, dir.id, name)
	v.catalogLock.RUnlock()
	dir.lock.RUnlock()
	if err != nil {
		return nil, err
	}

	if v.isPrivateDir(rec.Desc.ID) {
		return nil, catalog.NewError(catalog.ErrNotFound, "no such entry", name)
	}
	return v.materialize(ctx, rec)
}

// materialize returns the cached node for a catalog record, creating it if
// needed. Link records resolve to their indirect node; the returned node
// then carries the link's descriptor.
func (v *Volume) materialize(ctx context.Context, rec catalog.Record) (*Node, error) {
	id := rec.Desc.ID
	attrs := rec.Attrs

	if rec.Attrs.Type == catalog.TypeHardLink {
		id = rec.Attrs.LinkRef
		if n := v.cache.get(id); n != nil {
			n.mu.Lock()
			n.desc = rec.Desc
			n.flags |= flagHardLink
			n.mu.Unlock()
			return n, nil
		}

		v.catalogLock.RLock()
		inode, err := v.store.LookupByID(ctx, nil, id)
		v.catalogLock.RUnlock()
		if err != nil {
			logger.Warn("hard link %s points at missing inode %d: %v", rec.Desc, id, err)
			return nil, err
		}
		attrs = inode.Attrs
	}

	n := v.cache.insert(newNode(v, id, rec.Desc, attrs))
	v.metrics.SetCachedNodes(v.cache.len())
	return n, nil
}

// Release drops a reference obtained from any Volume method.
//
// Releasing the last reference to a removed node reclaims its storage.
// Releasing may also evict unreferenced nodes, flushing them first, so it
// must not be called while holding node locks.
func (v *Volume) Release(ctx context.Context, n *Node) {
	if n == nil {
		return
	}

	reclaim, victims := v.cache.release(n)
	if reclaim {
		if err := v.reclaim(ctx, n); err != nil {
			// The record stays in the orphan folder until the next mount
			logger.Error("failed to reclaim orphan %d: %v", n.id, err)
			v.cache.forget(n)
		} else {
			v.cache.release(n)
		}
	}

	for _, victim := range victims {
		if victim.hasFlags(flagModified) {
			if err := v.Update(ctx, victim); err != nil {
				logger.Warn("failed to flush evicted node %d: %v", victim.id, err)
			}
		}
		v.cache.finishEvict(victim)
	}
	if len(victims) > 0 {
		v.metrics.SetCachedNodes(v.cache.len())
	}
}

// Errno-style helpers shared by the protocols.

func notFound(msg, name string) error {
	return catalog.NewError(catalog.ErrNotFound, msg, name)
}

func invalid(msg, name string) error {
	return catalog.NewError(catalog.ErrInvalidArgument, msg, name)
}
