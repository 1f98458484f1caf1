package hfsplus

import (
	"strings"
	"testing"

	"github.com/marmos91/dittohfs/pkg/store/catalog"
	"github.com/marmos91/dittohfs/pkg/store/catalog/memory"
	catalogtesting "github.com/marmos91/dittohfs/pkg/store/catalog/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMkDirUpdatesCounters(t *testing.T) {
	tv := newTestVolume(t)
	root := tv.root()
	before := tv.header()
	rootBefore := tv.vol.GetAttr(root)

	d := tv.mkdir(root, "d")

	attrs := tv.vol.GetAttr(d)
	assert.Equal(t, catalog.TypeDirectory, attrs.Type)
	assert.Equal(t, catalog.ModeDirectory|0o755, attrs.Mode)
	assert.Equal(t, uint64(1), attrs.DirVersion)
	assert.True(t, attrs.HasFlag(catalog.FlagHasFolderCount))

	rootAfter := tv.vol.GetAttr(root)
	assert.Equal(t, rootBefore.Valence+1, rootAfter.Valence)
	assert.Equal(t, rootBefore.DirCount+1, rootAfter.DirCount)
	assert.Greater(t, rootAfter.DirVersion, rootBefore.DirVersion)

	hdr := tv.header()
	assert.Equal(t, before.FolderCount+1, hdr.FolderCount)
	assert.Equal(t, before.RootFolderCount+1, hdr.RootFolderCount)
	assert.Equal(t, before.FileCount, hdr.FileCount)

	rec := tv.record(d.ID())
	assert.Equal(t, root.ID(), rec.Desc.ParentID)
	assert.Equal(t, "d", rec.Desc.Name)
}

func TestCreateNestedCountsOnlyVolume(t *testing.T) {
	tv := newTestVolume(t)
	root := tv.root()
	d := tv.mkdir(root, "d")
	before := tv.header()

	tv.create(d, "f")

	hdr := tv.header()
	assert.Equal(t, before.FileCount+1, hdr.FileCount)
	assert.Equal(t, before.RootFileCount, hdr.RootFileCount, "not in the root folder")

	attrs := tv.vol.GetAttr(d)
	assert.Equal(t, uint32(1), attrs.Valence)
	assert.Zero(t, attrs.DirCount)
}

func TestCreateRejectsInvalidRequests(t *testing.T) {
	tv := newTestVolume(t)
	root := tv.root()

	tests := []struct {
		name  string
		entry string
		attrs CreateAttrs
		code  catalog.ErrorCode
	}{
		{"empty name", "", CreateAttrs{Mask: AttrMode, Mode: 0o644}, catalog.ErrInvalidArgument},
		{"dot", ".", CreateAttrs{Mask: AttrMode, Mode: 0o644}, catalog.ErrInvalidArgument},
		{"slash", "a/b", CreateAttrs{Mask: AttrMode, Mode: 0o644}, catalog.ErrInvalidArgument},
		{"too long", strings.Repeat("x", 256), CreateAttrs{Mask: AttrMode, Mode: 0o644}, catalog.ErrNameTooLong},
		{"missing mode", "f", CreateAttrs{}, catalog.ErrInvalidArgument},
		{"read-only link count", "f", CreateAttrs{Mask: AttrMode | AttrLinkCount, Mode: 0o644}, catalog.ErrInvalidArgument},
		{"read-only file id", "f", CreateAttrs{Mask: AttrMode | AttrFileID, Mode: 0o644}, catalog.ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tv.vol.Create(tv.ctx, root, tt.entry, tt.attrs)
			catalogtesting.AssertErrorCode(t, tt.code, err)
		})
	}
	assert.Zero(t, tv.vol.GetAttr(root).Valence, "nothing was created")
}

func TestCreateDuplicate(t *testing.T) {
	tv := newTestVolume(t)
	root := tv.root()
	tv.create(root, "Readme")
	before := tv.header()

	_, err := tv.vol.Create(tv.ctx, root, "README", CreateAttrs{Mask: AttrMode, Mode: 0o644})
	catalogtesting.AssertErrorCode(t, catalog.ErrAlreadyExists, err)

	assert.Equal(t, before.FileCount, tv.header().FileCount, "a failed create changes no counter")
	assert.Equal(t, uint32(1), tv.vol.GetAttr(root).Valence)
}

func TestCreateCaseSensitiveVolume(t *testing.T) {
	tv := newTestVolumeWith(t, memory.Config{CaseSensitive: true}, DefaultOptions())
	root := tv.root()

	tv.create(root, "Readme")
	tv.create(root, "README")
	assert.Equal(t, uint32(2), tv.vol.GetAttr(root).Valence)
}

func TestCreateInImmutableDirectory(t *testing.T) {
	tv := newTestVolume(t)
	root := tv.root()
	d := tv.mkdir(root, "d")

	flags := catalog.UFImmutable
	require.NoError(t, tv.vol.SetAttr(tv.ctx, d, SetAttrs{BSDFlags: &flags}))

	_, err := tv.vol.Create(tv.ctx, d, "f", CreateAttrs{Mask: AttrMode, Mode: 0o644})
	catalogtesting.AssertErrorCode(t, catalog.ErrPermission, err)
}

func TestCreateInFile(t *testing.T) {
	tv := newTestVolume(t)
	root := tv.root()
	f := tv.create(root, "f")

	_, err := tv.vol.MkDir(tv.ctx, f, "d", CreateAttrs{})
	catalogtesting.AssertErrorCode(t, catalog.ErrNotDirectory, err)
}

func TestCreateCatalogFull(t *testing.T) {
	// Root, two hidden folders and their threads fill the catalog
	tv := newTestVolumeWith(t, memory.Config{MaxRecords: 7}, DefaultOptions())
	root := tv.root()
	before := tv.header()

	_, err := tv.vol.Create(tv.ctx, root, "f", CreateAttrs{Mask: AttrMode, Mode: 0o644})
	catalogtesting.AssertErrorCode(t, catalog.ErrNoSpace, err)

	after := tv.header()
	assert.Equal(t, before.FileCount, after.FileCount)
	assert.Equal(t, before.NextCatalogID, after.NextCatalogID, "no identifier was consumed")
	assert.False(t, tv.exists(root.ID(), "f"))
}

func TestCreateWithInitialSize(t *testing.T) {
	tv := newTestVolumeWith(t, memory.Config{TotalBlocks: 16, BlockSize: 1024}, DefaultOptions())
	root := tv.root()

	f, err := tv.vol.Create(tv.ctx, root, "f", CreateAttrs{Mask: AttrMode | AttrSize, Mode: 0o644, Size: 3000})
	require.NoError(t, err)
	defer tv.vol.Release(tv.ctx, f)

	rec := tv.record(f.ID())
	assert.Equal(t, uint64(3000), rec.Attrs.DataFork.Size)
	assert.Equal(t, uint32(3), rec.Attrs.DataFork.Blocks)
	assert.Equal(t, uint32(3), catalog.ExtentBlocks(rec.Attrs.DataFork.Extents))

	free, err := tv.store.FreeBlocks(tv.ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(13), free)
}

func TestCreateWithInitialSizeRollsBack(t *testing.T) {
	tv := newTestVolumeWith(t, memory.Config{TotalBlocks: 4, BlockSize: 1024}, DefaultOptions())
	root := tv.root()
	before := tv.header()

	_, err := tv.vol.Create(tv.ctx, root, "f", CreateAttrs{Mask: AttrMode | AttrSize, Mode: 0o644, Size: 1 << 20})
	catalogtesting.AssertErrorCode(t, catalog.ErrNoSpace, err)

	assert.False(t, tv.exists(root.ID(), "f"), "the file is removed again")
	assert.Equal(t, before.FileCount, tv.header().FileCount)
}

func TestSymlink(t *testing.T) {
	tv := newTestVolume(t)
	root := tv.root()

	l, err := tv.vol.Symlink(tv.ctx, root, "l", "/some/target", CreateAttrs{Mask: AttrMode, Mode: 0o755})
	require.NoError(t, err)
	defer tv.vol.Release(tv.ctx, l)

	rec := tv.record(l.ID())
	assert.Equal(t, catalog.TypeSymlink, rec.Attrs.Type)
	assert.Equal(t, "/some/target", rec.Attrs.SymlinkTarget)
	assert.Equal(t, uint64(len("/some/target")), rec.Attrs.DataFork.Size)
	assert.Equal(t, uint32(1), rec.Attrs.DataFork.Blocks)
	assert.Equal(t, "slnk", string(rec.Attrs.FinderInfo[0:4]))

	_, err = tv.vol.Symlink(tv.ctx, root, "empty", "", CreateAttrs{Mask: AttrMode, Mode: 0o755})
	catalogtesting.AssertErrorCode(t, catalog.ErrInvalidArgument, err)
}
