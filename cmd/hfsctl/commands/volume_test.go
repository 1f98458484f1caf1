package commands

import (
	"context"
	"testing"

	"github.com/marmos91/dittohfs/pkg/hfsplus"
	"github.com/marmos91/dittohfs/pkg/store/catalog"
	"github.com/marmos91/dittohfs/pkg/store/catalog/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitPath(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"/", nil},
		{"", nil},
		{"a", []string{"a"}},
		{"/a/b/", []string{"a", "b"}},
		{"//a/./b/../c", []string{"a", "c"}},
		{"/../a", []string{"a"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, splitPath(tt.in), "splitPath(%q)", tt.in)
	}
}

var fileAttrs = hfsplus.CreateAttrs{Mask: hfsplus.AttrMode, Mode: 0o644}

func newSession(t *testing.T) *session {
	t.Helper()
	ctx := context.Background()
	vol, err := hfsplus.Open(ctx, memory.NewMemoryCatalogStore(memory.Config{}), hfsplus.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = vol.Close(ctx) })
	return &session{ctx: ctx, vol: vol}
}

func TestSessionResolve(t *testing.T) {
	s := newSession(t)

	require.NoError(t, s.create("/docs", func(dir *hfsplus.Node, name string) (*hfsplus.Node, error) {
		return s.vol.MkDir(s.ctx, dir, name, hfsplus.CreateAttrs{})
	}))
	require.NoError(t, s.create("/docs/a.txt", func(dir *hfsplus.Node, name string) (*hfsplus.Node, error) {
		return s.vol.Create(s.ctx, dir, name, fileAttrs)
	}))

	n, err := s.resolve("/docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, catalog.TypeFile, n.Type())
	s.vol.Release(s.ctx, n)

	root, err := s.resolve("/")
	require.NoError(t, err)
	assert.Equal(t, catalog.RootFolderID, root.ID())
	s.vol.Release(s.ctx, root)

	_, err = s.resolve("/docs/missing")
	assert.True(t, catalog.IsCode(err, catalog.ErrNotFound))

	_, _, err = s.resolveParent("/")
	assert.True(t, catalog.IsCode(err, catalog.ErrInvalidArgument))
}

func TestSessionRenameAndRemove(t *testing.T) {
	s := newSession(t)

	require.NoError(t, s.create("/a", func(dir *hfsplus.Node, name string) (*hfsplus.Node, error) {
		return s.vol.Create(s.ctx, dir, name, fileAttrs)
	}))
	require.NoError(t, s.create("/b", func(dir *hfsplus.Node, name string) (*hfsplus.Node, error) {
		return s.vol.Create(s.ctx, dir, name, fileAttrs)
	}))

	// b is displaced by the rename
	require.NoError(t, s.rename("/a", "/b"))
	_, err := s.resolve("/a")
	assert.True(t, catalog.IsCode(err, catalog.ErrNotFound))

	require.NoError(t, s.remove("/b", func(dir, n *hfsplus.Node, name string) error {
		return s.vol.Remove(s.ctx, dir, n, name, hfsplus.RemoveOptions{})
	}))
	_, err = s.resolve("/b")
	assert.True(t, catalog.IsCode(err, catalog.ErrNotFound))
}

func TestSessionSymlink(t *testing.T) {
	s := newSession(t)

	require.NoError(t, s.symlink("/l", "../target", 0o755))

	n, err := s.resolve("/l")
	require.NoError(t, err)
	defer s.vol.Release(s.ctx, n)
	assert.Equal(t, catalog.TypeSymlink, n.Type())
	assert.Equal(t, uint32(0o755), s.vol.GetAttr(n).Mode&catalog.ModePermMask)

	err = s.symlink("/l", "other", 0o755)
	assert.True(t, catalog.IsCode(err, catalog.ErrAlreadyExists))
}
