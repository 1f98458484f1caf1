package testing

import (
	"context"
	"testing"

	"github.com/marmos91/dittohfs/pkg/store/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunCatalogTests executes entry-level catalog tests.
func (suite *StoreTestSuite) RunCatalogTests(t *testing.T) {
	t.Run("InsertLookup", suite.testInsertLookup)
	t.Run("InsertDuplicate", suite.testInsertDuplicate)
	t.Run("InsertMissingParent", suite.testInsertMissingParent)
	t.Run("CaseInsensitiveLookup", suite.testCaseInsensitiveLookup)
	t.Run("CaseSensitiveLookup", suite.testCaseSensitiveLookup)
	t.Run("Update", suite.testUpdate)
	t.Run("Delete", suite.testDelete)
	t.Run("DeleteNonEmpty", suite.testDeleteNonEmpty)
	t.Run("Rename", suite.testRename)
	t.Run("RenameCollision", suite.testRenameCollision)
	t.Run("RenameCaseOnly", suite.testRenameCaseOnly)
	t.Run("Reserve", suite.testReserve)
}

func (suite *StoreTestSuite) testInsertLookup(t *testing.T) {
	store := suite.NewStore(t, false)
	ctx := context.Background()

	dir := CreateEntry(t, store, catalog.RootFolderID, "docs", catalog.TypeDirectory)
	file := CreateEntry(t, store, dir.ID, "readme.txt", catalog.TypeFile)

	rec, err := store.Lookup(ctx, nil, dir.ID, "readme.txt")
	require.NoError(t, err)
	assert.Equal(t, file.ID, rec.Desc.ID)
	assert.Equal(t, dir.ID, rec.Desc.ParentID)
	assert.Equal(t, catalog.TypeFile, rec.Attrs.Type)

	byID, err := store.LookupByID(ctx, nil, file.ID)
	require.NoError(t, err)
	assert.Equal(t, "readme.txt", byID.Desc.Name)

	dirRec, err := store.Lookup(ctx, nil, catalog.RootFolderID, "docs")
	require.NoError(t, err)
	assert.True(t, dirRec.Desc.IsDir)

	_, err = store.Lookup(ctx, nil, dir.ID, "missing")
	AssertErrorCode(t, catalog.ErrNotFound, err)

	_, err = store.Lookup(ctx, nil, file.ID, "child")
	AssertErrorCode(t, catalog.ErrNotDirectory, err)
}

func (suite *StoreTestSuite) testInsertDuplicate(t *testing.T) {
	store := suite.NewStore(t, false)
	ctx := context.Background()

	CreateEntry(t, store, catalog.RootFolderID, "a", catalog.TypeFile)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Abort()

	id, err := store.AcquireID(ctx, tx)
	require.NoError(t, err)
	desc := catalog.Descriptor{Name: "a", ParentID: catalog.RootFolderID, ID: id}
	attrs := NewAttributes(catalog.TypeFile)
	AssertErrorCode(t, catalog.ErrAlreadyExists, store.Insert(ctx, tx, &desc, &attrs))
}

func (suite *StoreTestSuite) testInsertMissingParent(t *testing.T) {
	store := suite.NewStore(t, false)
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Abort()

	id, err := store.AcquireID(ctx, tx)
	require.NoError(t, err)
	desc := catalog.Descriptor{Name: "orphan", ParentID: 9999, ID: id}
	attrs := NewAttributes(catalog.TypeFile)
	AssertErrorCode(t, catalog.ErrNotFound, store.Insert(ctx, tx, &desc, &attrs))
}

func (suite *StoreTestSuite) testCaseInsensitiveLookup(t *testing.T) {
	store := suite.NewStore(t, false)
	ctx := context.Background()

	file := CreateEntry(t, store, catalog.RootFolderID, "Makefile", catalog.TypeFile)

	rec, err := store.Lookup(ctx, nil, catalog.RootFolderID, "MAKEFILE")
	require.NoError(t, err)
	assert.Equal(t, file.ID, rec.Desc.ID)
	assert.Equal(t, "Makefile", rec.Desc.Name, "stored name keeps its case")
}

func (suite *StoreTestSuite) testCaseSensitiveLookup(t *testing.T) {
	store := suite.NewStore(t, true)
	ctx := context.Background()
	require.True(t, store.CaseSensitive())

	upper := CreateEntry(t, store, catalog.RootFolderID, "Makefile", catalog.TypeFile)
	lower := CreateEntry(t, store, catalog.RootFolderID, "makefile", catalog.TypeFile)
	assert.NotEqual(t, upper.ID, lower.ID)

	_, err := store.Lookup(ctx, nil, catalog.RootFolderID, "MAKEFILE")
	AssertErrorCode(t, catalog.ErrNotFound, err)
}

func (suite *StoreTestSuite) testUpdate(t *testing.T) {
	store := suite.NewStore(t, false)
	ctx := context.Background()

	file := CreateEntry(t, store, catalog.RootFolderID, "f", catalog.TypeFile)

	InTxn(t, store, func(tx catalog.Txn) {
		rec, err := store.LookupByID(ctx, tx, file.ID)
		require.NoError(t, err)
		rec.Attrs.Mode = catalog.ModeRegular | 0o600
		rec.Attrs.UID = 501
		rec.Attrs.Flags |= catalog.FlagHasAttributes
		rec.Attrs.DataFork = catalog.Fork{Size: 10, Blocks: 1, Extents: []catalog.Extent{{Start: 3, Count: 1}}}
		require.NoError(t, store.Update(ctx, tx, &rec.Desc, &rec.Attrs))
	})

	rec, err := store.Lookup(ctx, nil, catalog.RootFolderID, "f")
	require.NoError(t, err)
	assert.Equal(t, catalog.ModeRegular|0o600, rec.Attrs.Mode)
	assert.Equal(t, uint32(501), rec.Attrs.UID)
	assert.True(t, rec.Attrs.HasFlag(catalog.FlagHasAttributes))
	assert.Equal(t, uint64(10), rec.Attrs.DataFork.Size)
	assert.Equal(t, []catalog.Extent{{Start: 3, Count: 1}}, rec.Attrs.DataFork.Extents)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Abort()
	missing := catalog.Descriptor{ID: 12345}
	attrs := NewAttributes(catalog.TypeFile)
	AssertErrorCode(t, catalog.ErrNotFound, store.Update(ctx, tx, &missing, &attrs))
}

func (suite *StoreTestSuite) testDelete(t *testing.T) {
	store := suite.NewStore(t, false)
	ctx := context.Background()

	file := CreateEntry(t, store, catalog.RootFolderID, "gone", catalog.TypeFile)

	InTxn(t, store, func(tx catalog.Txn) {
		require.NoError(t, store.Delete(ctx, tx, &file))
	})

	_, err := store.Lookup(ctx, nil, catalog.RootFolderID, "gone")
	AssertErrorCode(t, catalog.ErrNotFound, err)
	_, err = store.LookupByID(ctx, nil, file.ID)
	AssertErrorCode(t, catalog.ErrNotFound, err)
}

func (suite *StoreTestSuite) testDeleteNonEmpty(t *testing.T) {
	store := suite.NewStore(t, false)
	ctx := context.Background()

	dir := CreateEntry(t, store, catalog.RootFolderID, "full", catalog.TypeDirectory)
	CreateEntry(t, store, dir.ID, "child", catalog.TypeFile)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Abort()
	AssertErrorCode(t, catalog.ErrNotEmpty, store.Delete(ctx, tx, &dir))
}

func (suite *StoreTestSuite) testRename(t *testing.T) {
	store := suite.NewStore(t, false)
	ctx := context.Background()

	src := CreateEntry(t, store, catalog.RootFolderID, "src", catalog.TypeDirectory)
	dst := CreateEntry(t, store, catalog.RootFolderID, "dst", catalog.TypeDirectory)
	file := CreateEntry(t, store, src.ID, "a", catalog.TypeFile)

	var moved catalog.Descriptor
	InTxn(t, store, func(tx catalog.Txn) {
		var err error
		moved, err = store.Rename(ctx, tx, &file, dst.ID, "b")
		require.NoError(t, err)
	})

	assert.Equal(t, file.ID, moved.ID)
	assert.Equal(t, "b", moved.Name)
	assert.Equal(t, dst.ID, moved.ParentID)

	_, err := store.Lookup(ctx, nil, src.ID, "a")
	AssertErrorCode(t, catalog.ErrNotFound, err)

	rec, err := store.Lookup(ctx, nil, dst.ID, "b")
	require.NoError(t, err)
	assert.Equal(t, file.ID, rec.Desc.ID)

	byID, err := store.LookupByID(ctx, nil, file.ID)
	require.NoError(t, err)
	assert.Equal(t, dst.ID, byID.Desc.ParentID)
}

func (suite *StoreTestSuite) testRenameCollision(t *testing.T) {
	store := suite.NewStore(t, false)
	ctx := context.Background()

	a := CreateEntry(t, store, catalog.RootFolderID, "a", catalog.TypeFile)
	CreateEntry(t, store, catalog.RootFolderID, "b", catalog.TypeFile)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Abort()

	_, err = store.Rename(ctx, tx, &a, catalog.RootFolderID, "B")
	AssertErrorCode(t, catalog.ErrAlreadyExists, err)
}

func (suite *StoreTestSuite) testRenameCaseOnly(t *testing.T) {
	store := suite.NewStore(t, false)
	ctx := context.Background()

	a := CreateEntry(t, store, catalog.RootFolderID, "a", catalog.TypeFile)

	InTxn(t, store, func(tx catalog.Txn) {
		moved, err := store.Rename(ctx, tx, &a, catalog.RootFolderID, "A")
		require.NoError(t, err)
		assert.Equal(t, a.ID, moved.ID)
	})

	rec, err := store.Lookup(ctx, nil, catalog.RootFolderID, "a")
	require.NoError(t, err)
	assert.Equal(t, "A", rec.Desc.Name)
	assert.Equal(t, a.ID, rec.Desc.ID)

	batch, _, err := store.GetBatch(ctx, nil, catalog.RootFolderID, catalog.Position{}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, names(batch))
}

func (suite *StoreTestSuite) testReserve(t *testing.T) {
	store := suite.NewStore(t, false)
	ctx := context.Background()

	InTxn(t, store, func(tx catalog.Txn) {
		assert.NoError(t, store.Reserve(ctx, tx, catalog.OpCreate))
		assert.NoError(t, store.Reserve(ctx, tx, catalog.OpDelete))
	})
}
