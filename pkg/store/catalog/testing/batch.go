package testing

import (
	"context"
	"fmt"
	"testing"

	"github.com/marmos91/dittohfs/pkg/store/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunBatchTests executes GetBatch enumeration tests.
func (suite *StoreTestSuite) RunBatchTests(t *testing.T) {
	t.Run("EmptyDirectory", suite.testBatchEmpty)
	t.Run("SortedByFoldedName", suite.testBatchSorted)
	t.Run("PagingByIndex", suite.testBatchPagingByIndex)
	t.Run("PagingByLastName", suite.testBatchPagingByName)
	t.Run("ResumeAfterRemovedName", suite.testBatchResumeAfterRemoved)
	t.Run("NotDirectory", suite.testBatchNotDirectory)
}

func (suite *StoreTestSuite) testBatchEmpty(t *testing.T) {
	store := suite.NewStore(t, false)
	dir := CreateEntry(t, store, catalog.RootFolderID, "empty", catalog.TypeDirectory)

	batch, eof, err := store.GetBatch(context.Background(), nil, dir.ID, catalog.Position{}, 10)
	require.NoError(t, err)
	assert.Empty(t, batch)
	assert.True(t, eof)
}

func (suite *StoreTestSuite) testBatchSorted(t *testing.T) {
	store := suite.NewStore(t, false)
	for _, name := range []string{"delta", "Bravo", "alpha", "Charlie"} {
		CreateEntry(t, store, catalog.RootFolderID, name, catalog.TypeFile)
	}

	batch, eof, err := store.GetBatch(context.Background(), nil, catalog.RootFolderID, catalog.Position{}, 10)
	require.NoError(t, err)
	assert.True(t, eof)
	assert.Equal(t, []string{"alpha", "Bravo", "Charlie", "delta"}, names(batch))
}

func (suite *StoreTestSuite) testBatchPagingByIndex(t *testing.T) {
	store := suite.NewStore(t, false)
	ctx := context.Background()
	dir := CreateEntry(t, store, catalog.RootFolderID, "d", catalog.TypeDirectory)
	for i := 0; i < 7; i++ {
		CreateEntry(t, store, dir.ID, fmt.Sprintf("f%02d", i), catalog.TypeFile)
	}

	var all []string
	for idx := uint32(0); ; {
		batch, eof, err := store.GetBatch(ctx, nil, dir.ID, catalog.Position{Index: idx}, 3)
		require.NoError(t, err)
		all = append(all, names(batch)...)
		idx += uint32(len(batch))
		if eof {
			break
		}
		require.Len(t, batch, 3)
	}
	assert.Equal(t, []string{"f00", "f01", "f02", "f03", "f04", "f05", "f06"}, all)
}

func (suite *StoreTestSuite) testBatchPagingByName(t *testing.T) {
	store := suite.NewStore(t, false)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		CreateEntry(t, store, catalog.RootFolderID, fmt.Sprintf("n%d", i), catalog.TypeFile)
	}

	batch, eof, err := store.GetBatch(ctx, nil, catalog.RootFolderID, catalog.Position{Index: 2, LastName: "N1"}, 2)
	require.NoError(t, err)
	assert.False(t, eof)
	assert.Equal(t, []string{"n2", "n3"}, names(batch))

	batch, eof, err = store.GetBatch(ctx, nil, catalog.RootFolderID, catalog.Position{Index: 4, LastName: "n3"}, 2)
	require.NoError(t, err)
	assert.True(t, eof)
	assert.Equal(t, []string{"n4"}, names(batch))
}

func (suite *StoreTestSuite) testBatchResumeAfterRemoved(t *testing.T) {
	store := suite.NewStore(t, false)
	ctx := context.Background()
	var descs []catalog.Descriptor
	for _, name := range []string{"a", "b", "c", "d"} {
		descs = append(descs, CreateEntry(t, store, catalog.RootFolderID, name, catalog.TypeFile))
	}

	InTxn(t, store, func(tx catalog.Txn) {
		require.NoError(t, store.Delete(ctx, tx, &descs[1]))
	})

	// resuming after a name that no longer exists continues with its successor
	batch, eof, err := store.GetBatch(ctx, nil, catalog.RootFolderID, catalog.Position{Index: 2, LastName: "b"}, 10)
	require.NoError(t, err)
	assert.True(t, eof)
	assert.Equal(t, []string{"c", "d"}, names(batch))
}

func (suite *StoreTestSuite) testBatchNotDirectory(t *testing.T) {
	store := suite.NewStore(t, false)
	file := CreateEntry(t, store, catalog.RootFolderID, "f", catalog.TypeFile)

	_, _, err := store.GetBatch(context.Background(), nil, file.ID, catalog.Position{}, 10)
	AssertErrorCode(t, catalog.ErrNotDirectory, err)
}
