package hfsplus

import (
	"fmt"
	"sync"
	"testing"

	"github.com/marmos91/dittohfs/pkg/store/catalog"
	"github.com/marmos91/dittohfs/pkg/store/catalog/memory"
	catalogtesting "github.com/marmos91/dittohfs/pkg/store/catalog/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenameSameDirectory(t *testing.T) {
	tv := newTestVolume(t)
	root := tv.root()
	d := tv.mkdir(root, "d")
	f := tv.create(d, "old")
	before := tv.vol.GetAttr(d)
	hdrBefore := tv.header()

	require.NoError(t, tv.vol.Rename(tv.ctx, d, f, "old", d, nil, "new"))

	assert.False(t, tv.exists(d.ID(), "old"))
	assert.True(t, tv.exists(d.ID(), "new"))
	assert.Equal(t, "new", f.Descriptor().Name)
	assert.Equal(t, f.ID(), tv.lookup(d, "new").ID())

	after := tv.vol.GetAttr(d)
	assert.Equal(t, before.Valence, after.Valence)
	assert.Greater(t, after.DirVersion, before.DirVersion)
	assert.Equal(t, hdrBefore.FileCount, tv.header().FileCount)
}

func TestRenameAcrossDirectories(t *testing.T) {
	tv := newTestVolume(t)
	root := tv.root()
	a := tv.mkdir(root, "a")
	b := tv.mkdir(a, "b")
	sub := tv.mkdir(root, "sub")
	hdrBefore := tv.header()

	require.NoError(t, tv.vol.Rename(tv.ctx, root, sub, "sub", b, nil, "moved"))

	assert.Equal(t, b.ID(), sub.Descriptor().ParentID)
	assert.Equal(t, b.ID(), tv.record(sub.ID()).Desc.ParentID)

	rootAttrs := tv.vol.GetAttr(root)
	assert.Equal(t, uint32(1), rootAttrs.Valence)
	assert.Equal(t, uint32(1), rootAttrs.DirCount)
	bAttrs := tv.vol.GetAttr(b)
	assert.Equal(t, uint32(1), bAttrs.Valence)
	assert.Equal(t, uint32(1), bAttrs.DirCount)
	assert.Equal(t, uint32(1), tv.record(b.ID()).Attrs.Valence, "persisted with the rename")

	hdr := tv.header()
	assert.Equal(t, hdrBefore.FolderCount, hdr.FolderCount)
	assert.Equal(t, hdrBefore.RootFolderCount-1, hdr.RootFolderCount)
}

func TestRenameOntoItself(t *testing.T) {
	tv := newTestVolume(t)
	root := tv.root()
	f := tv.create(root, "f")
	version := tv.vol.GetAttr(root).DirVersion

	require.NoError(t, tv.vol.Rename(tv.ctx, root, f, "f", root, f, "f"))
	assert.Equal(t, version, tv.vol.GetAttr(root).DirVersion, "nothing changes")
	assert.True(t, tv.exists(root.ID(), "f"))
}

func TestRenameCaseOnly(t *testing.T) {
	tv := newTestVolume(t)
	root := tv.root()
	f := tv.create(root, "readme")

	to := tv.lookup(root, "README")
	require.Same(t, f, to)

	require.NoError(t, tv.vol.Rename(tv.ctx, root, f, "readme", root, to, "README"))

	assert.False(t, f.IsDeleted(), "a case change never displaces the entry itself")
	assert.Equal(t, "README", f.Descriptor().Name)
	rec, err := tv.store.Lookup(tv.ctx, nil, root.ID(), "readme")
	require.NoError(t, err)
	assert.Equal(t, "README", rec.Desc.Name)
	assert.Equal(t, uint32(1), tv.vol.GetAttr(root).Valence)
}

func TestRenameDisplacesFile(t *testing.T) {
	tv := newTestVolume(t)
	root := tv.root()
	src := tv.create(root, "src")
	dst, err := tv.vol.Create(tv.ctx, root, "dst", CreateAttrs{Mask: AttrMode | AttrSize, Mode: 0o644, Size: 8192})
	require.NoError(t, err)
	free, err := tv.store.FreeBlocks(tv.ctx)
	require.NoError(t, err)
	hdrBefore := tv.header()

	require.NoError(t, tv.vol.Rename(tv.ctx, root, src, "src", root, dst, "dst"))

	assert.False(t, tv.exists(root.ID(), "src"))
	rec, err := tv.store.Lookup(tv.ctx, nil, root.ID(), "dst")
	require.NoError(t, err)
	assert.Equal(t, src.ID(), rec.Desc.ID)

	// The displaced file lives on until released
	assert.True(t, dst.IsDeleted())
	assert.True(t, tv.exists(tv.vol.fileMetaDir, orphanName(dst.ID())))
	assert.Equal(t, hdrBefore.FileCount-1, tv.header().FileCount)
	assert.Equal(t, uint32(1), tv.vol.GetAttr(root).Valence)

	tv.vol.Release(tv.ctx, dst)
	assert.False(t, tv.exists(tv.vol.fileMetaDir, orphanName(dst.ID())))
	freeAfter, err := tv.store.FreeBlocks(tv.ctx)
	require.NoError(t, err)
	assert.Equal(t, free+2, freeAfter)
}

func TestRenameDisplacesEmptyDirectory(t *testing.T) {
	tv := newTestVolume(t)
	root := tv.root()
	a := tv.mkdir(root, "a")
	b := tv.mkdir(root, "b")
	hdrBefore := tv.header()

	require.NoError(t, tv.vol.Rename(tv.ctx, root, a, "a", root, b, "b"))

	assert.True(t, b.IsDeleted())
	assert.Equal(t, "b", a.Descriptor().Name)
	assert.Equal(t, hdrBefore.FolderCount-1, tv.header().FolderCount)
	attrs := tv.vol.GetAttr(root)
	assert.Equal(t, uint32(1), attrs.Valence)
	assert.Equal(t, uint32(1), attrs.DirCount)
}

func TestRenameRejects(t *testing.T) {
	tv := newTestVolume(t)
	root := tv.root()
	a := tv.mkdir(root, "a")
	b := tv.mkdir(a, "b")
	full := tv.mkdir(root, "full")
	tv.create(full, "x")
	f := tv.create(root, "f")
	g := tv.create(root, "g")

	tests := []struct {
		name     string
		fromDir  *Node
		from     *Node
		fromName string
		toDir    *Node
		to       *Node
		toName   string
		code     catalog.ErrorCode
	}{
		{"directory below itself", root, a, "a", b, nil, "a", catalog.ErrInvalidArgument},
		{"directory into itself", root, a, "a", a, nil, "a2", catalog.ErrInvalidArgument},
		{"directory over file", root, a, "a", root, f, "f", catalog.ErrNotDirectory},
		{"file over directory", root, f, "f", root, a, "a", catalog.ErrIsDirectory},
		{"over non-empty directory", a, b, "b", root, full, "full", catalog.ErrNotEmpty},
		{"stale source name", root, f, "g", root, nil, "h", catalog.ErrNotFound},
		{"invalid name", root, f, "f", root, nil, "a/b", catalog.ErrInvalidArgument},
		{"into a file", root, f, "f", g, nil, "h", catalog.ErrNotDirectory},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tv.vol.Rename(tv.ctx, tt.fromDir, tt.from, tt.fromName, tt.toDir, tt.to, tt.toName)
			catalogtesting.AssertErrorCode(t, tt.code, err)
		})
	}

	assert.True(t, tv.exists(root.ID(), "a"))
	assert.True(t, tv.exists(a.ID(), "b"))
	assert.True(t, tv.exists(root.ID(), "f"))
	assert.True(t, tv.exists(full.ID(), "x"))
}

func TestRenameImmutable(t *testing.T) {
	tv := newTestVolume(t)
	root := tv.root()
	f := tv.create(root, "f")
	d := tv.mkdir(root, "d")

	flags := catalog.UFImmutable
	require.NoError(t, tv.vol.SetAttr(tv.ctx, f, SetAttrs{BSDFlags: &flags}))
	err := tv.vol.Rename(tv.ctx, root, f, "f", root, nil, "g")
	catalogtesting.AssertErrorCode(t, catalog.ErrPermission, err)

	clear := uint32(0)
	require.NoError(t, tv.vol.SetAttr(tv.ctx, f, SetAttrs{BSDFlags: &clear}))
	appendOnly := catalog.UFAppend
	require.NoError(t, tv.vol.SetAttr(tv.ctx, d, SetAttrs{BSDFlags: &appendOnly}))
	err = tv.vol.Rename(tv.ctx, root, f, "f", d, nil, "g")
	catalogtesting.AssertErrorCode(t, catalog.ErrPermission, err)
}

func TestRenameDestinationAppeared(t *testing.T) {
	tv := newTestVolume(t)
	root := tv.root()
	src := tv.create(root, "src")
	late := tv.create(root, "late")

	// The caller looked up "late" before it was created
	require.NoError(t, tv.vol.Rename(tv.ctx, root, src, "src", root, nil, "late"))

	assert.True(t, late.IsDeleted(), "resolved again and displaced")
	rec, err := tv.store.Lookup(tv.ctx, nil, root.ID(), "late")
	require.NoError(t, err)
	assert.Equal(t, src.ID(), rec.Desc.ID)
}

func TestRenameDestinationVanished(t *testing.T) {
	tv := newTestVolume(t)
	root := tv.root()
	src := tv.create(root, "src")
	gone := tv.create(root, "gone")
	require.NoError(t, tv.vol.Remove(tv.ctx, root, gone, "gone", RemoveOptions{}))

	require.NoError(t, tv.vol.Rename(tv.ctx, root, src, "src", root, gone, "gone"))
	rec, err := tv.store.Lookup(tv.ctx, nil, root.ID(), "gone")
	require.NoError(t, err)
	assert.Equal(t, src.ID(), rec.Desc.ID)
}

func TestRenameIsAtomicWhenCatalogFull(t *testing.T) {
	// The root and hidden folders use six records, a and b four more
	tv := newTestVolumeWith(t, memory.Config{MaxRecords: 11}, DefaultOptions())
	root := tv.root()
	a := tv.create(root, "a")
	b := tv.create(root, "b")
	version := tv.vol.GetAttr(root).DirVersion

	err := tv.vol.Rename(tv.ctx, root, a, "a", root, b, "b")
	catalogtesting.AssertErrorCode(t, catalog.ErrNoSpace, err)

	assert.True(t, tv.exists(root.ID(), "a"))
	assert.True(t, tv.exists(root.ID(), "b"))
	assert.False(t, b.IsDeleted())
	assert.Equal(t, "a", a.Descriptor().Name)
	assert.Equal(t, version, tv.vol.GetAttr(root).DirVersion)
}

func TestRenameInvalidatesEnumeration(t *testing.T) {
	tv := newTestVolume(t)
	root := tv.root()
	d := tv.mkdir(root, "d")
	f := tv.create(d, "f")

	buf := make([]byte, 4096)
	res, err := tv.vol.ReadDir(tv.ctx, d, CookieStart, VerifierInitial, buf)
	require.NoError(t, err)

	require.NoError(t, tv.vol.Rename(tv.ctx, d, f, "f", d, nil, "g"))

	_, err = tv.vol.ReadDir(tv.ctx, d, res.Cookie, res.Verifier, buf)
	catalogtesting.AssertErrorCode(t, catalog.ErrVerifierMismatch, err)
}

// enumerate reads dir to the end without failing the test from a helper
// goroutine. A verifier mismatch restarts the enumeration.
func enumerate(tv *testVolume, dir *Node) error {
	buf := make([]byte, 512)
	cookie, verifier := CookieStart, VerifierInitial
	for {
		res, err := tv.vol.ReadDir(tv.ctx, dir, cookie, verifier, buf)
		switch {
		case catalog.IsCode(err, catalog.ErrVerifierMismatch):
			cookie, verifier = CookieStart, VerifierInitial
			continue
		case err != nil:
			return err
		}
		if _, err := DecodeDirEntries(buf[:res.Length]); err != nil {
			return err
		}
		if res.EOF {
			return nil
		}
		cookie, verifier = res.Cookie, res.Verifier
	}
}

func TestConcurrentMutationAndEnumeration(t *testing.T) {
	tv := newTestVolume(t)
	root := tv.root()
	a := tv.mkdir(root, "a")
	b := tv.mkdir(root, "b")

	const (
		writers   = 4
		perWriter = 50
	)

	// Writers alternate direction so renames lock a and b in both orders
	writer := func(w int) error {
		src, dst := a, b
		if w%2 == 1 {
			src, dst = b, a
		}
		for i := 0; i < perWriter; i++ {
			name := fmt.Sprintf("w%d-%03d", w, i)
			n, err := tv.vol.Create(tv.ctx, src, name, CreateAttrs{Mask: AttrMode, Mode: 0o644})
			if err != nil {
				return err
			}
			if i%2 == 0 {
				if err := tv.vol.Rename(tv.ctx, src, n, name, dst, nil, name); err != nil {
					tv.vol.Release(tv.ctx, n)
					return err
				}
				if i%4 == 0 {
					if err := tv.vol.Remove(tv.ctx, dst, n, name, RemoveOptions{}); err != nil {
						tv.vol.Release(tv.ctx, n)
						return err
					}
				}
			}
			tv.vol.Release(tv.ctx, n)
		}
		return nil
	}

	done := make(chan struct{})
	var readers sync.WaitGroup
	for _, dir := range []*Node{a, b} {
		readers.Add(1)
		go func(dir *Node) {
			defer readers.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				if err := enumerate(tv, dir); err != nil {
					t.Errorf("enumerate %d: %v", dir.ID(), err)
					return
				}
			}
		}(dir)
	}

	var writersWG sync.WaitGroup
	errs := make(chan error, writers)
	for w := 0; w < writers; w++ {
		writersWG.Add(1)
		go func(w int) {
			defer writersWG.Done()
			if err := writer(w); err != nil {
				errs <- fmt.Errorf("writer %d: %w", w, err)
			}
		}(w)
	}
	writersWG.Wait()
	close(done)
	readers.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	// Each writer leaves 25 files in its source and 12 in its destination
	assert.Equal(t, uint32(74), tv.vol.GetAttr(a).Valence)
	assert.Equal(t, uint32(74), tv.vol.GetAttr(b).Valence)
	assert.Len(t, tv.readAll(a, 4096), 76)
	assert.Len(t, tv.readAll(b, 4096), 76)

	require.NoError(t, tv.vol.Sync(tv.ctx))
	assert.Equal(t, uint32(74), tv.record(a.ID()).Attrs.Valence)
	assert.Equal(t, uint32(74), tv.record(b.ID()).Attrs.Valence)
}
