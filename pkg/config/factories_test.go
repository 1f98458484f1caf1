package config

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/dittohfs/pkg/hfsplus"
	"github.com/marmos91/dittohfs/pkg/store/catalog"
	"github.com/marmos91/dittohfs/pkg/store/catalog/badger"
	"github.com/marmos91/dittohfs/pkg/store/catalog/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateStore_Memory(t *testing.T) {
	ctx := context.Background()
	cfg := GetDefaultConfig()
	cfg.Volume.CaseSensitive = true
	cfg.Store.Memory["block_size"] = 512

	store, err := CreateStore(ctx, cfg)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	assert.IsType(t, &memory.MemoryCatalogStore{}, store)
	assert.True(t, store.CaseSensitive())
	assert.Equal(t, uint32(512), store.BlockSize())
}

func TestCreateStore_BadgerOnDisk(t *testing.T) {
	ctx := context.Background()
	cfg := GetDefaultConfig()
	cfg.Store.Type = "badger"
	cfg.Store.Badger["db_path"] = filepath.Join(t.TempDir(), "catalog")
	cfg.Store.Badger["block_cache_size_mb"] = 1
	cfg.Store.Badger["index_cache_size_mb"] = 1

	store, err := CreateStore(ctx, cfg)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	assert.IsType(t, &badger.BadgerCatalogStore{}, store)
	assert.False(t, store.CaseSensitive())
}

func TestCreateStore_BadgerMissingPath(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Store.Type = "badger"
	cfg.Store.Badger = map[string]any{}

	_, err := CreateStore(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db_path is required")
}

func TestCreateStore_UnknownType(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Store.Type = "floppy"

	_, err := CreateStore(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown catalog store type")
}

func TestVolumeOptions(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Volume.MaxDirHints = 5
	cfg.Volume.FolderCount = false
	cfg.Volume.WarnInterval = 10 * time.Second

	opts := VolumeOptions(&cfg.Volume, nil)

	assert.Equal(t, 5, opts.MaxDirHints)
	assert.False(t, opts.FolderCount)
	assert.InDelta(t, 0.1, opts.WarnRate, 1e-9)
	assert.NotNil(t, opts.Metrics, "nil metrics fall back to the no-op collector")
	assert.Equal(t, hfsplus.DefaultOptions().NodeCacheSize, opts.NodeCacheSize)
}

func TestOpenVolume(t *testing.T) {
	ctx := context.Background()
	cfg := GetDefaultConfig()

	vol, store, err := OpenVolume(ctx, cfg, nil)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	defer func() { _ = vol.Close(ctx) }()

	root := vol.Root()
	defer vol.Release(ctx, root)

	d, err := vol.MkDir(ctx, root, "docs", hfsplus.CreateAttrs{})
	require.NoError(t, err)
	vol.Release(ctx, d)

	hdr, err := vol.Header(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), hdr.RootFolderCount)
	assert.NotEqual(t, catalog.CNID(0), hdr.FileMetadataDirID)
}

func TestInitializeMetrics_Disabled(t *testing.T) {
	cfg := GetDefaultConfig()

	result := InitializeMetrics(cfg)
	assert.Nil(t, result.Server)
	require.NotNil(t, result.VolumeMetrics)
	result.VolumeMetrics.RecordOperation("create", time.Millisecond, nil)
}
