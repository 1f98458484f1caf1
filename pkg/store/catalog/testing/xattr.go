package testing

import (
	"context"
	"testing"

	"github.com/marmos91/dittohfs/pkg/store/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunXattrTests executes extended attribute tests.
func (suite *StoreTestSuite) RunXattrTests(t *testing.T) {
	t.Run("SetGetList", suite.testXattrSetGetList)
	t.Run("Remove", suite.testXattrRemove)
	t.Run("RemoveAll", suite.testXattrRemoveAll)
}

func (suite *StoreTestSuite) testXattrSetGetList(t *testing.T) {
	store := suite.NewStore(t, false)
	ctx := context.Background()
	file := CreateEntry(t, store, catalog.RootFolderID, "f", catalog.TypeFile)

	InTxn(t, store, func(tx catalog.Txn) {
		require.NoError(t, store.SetXattr(ctx, tx, file.ID, "user.b", []byte("2")))
		require.NoError(t, store.SetXattr(ctx, tx, file.ID, "user.a", []byte("1")))
		require.NoError(t, store.SetXattr(ctx, tx, file.ID, "user.a", []byte("one")))
	})

	v, err := store.GetXattr(ctx, nil, file.ID, "user.a")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), v)

	list, err := store.ListXattrs(ctx, nil, file.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"user.a", "user.b"}, list)

	_, err = store.GetXattr(ctx, nil, file.ID, "user.none")
	AssertErrorCode(t, catalog.ErrNotFound, err)
}

func (suite *StoreTestSuite) testXattrRemove(t *testing.T) {
	store := suite.NewStore(t, false)
	ctx := context.Background()
	file := CreateEntry(t, store, catalog.RootFolderID, "f", catalog.TypeFile)

	InTxn(t, store, func(tx catalog.Txn) {
		require.NoError(t, store.SetXattr(ctx, tx, file.ID, "user.a", []byte("1")))
	})
	InTxn(t, store, func(tx catalog.Txn) {
		require.NoError(t, store.RemoveXattr(ctx, tx, file.ID, "user.a"))
		AssertErrorCode(t, catalog.ErrNotFound, store.RemoveXattr(ctx, tx, file.ID, "user.a"))
	})

	list, err := store.ListXattrs(ctx, nil, file.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func (suite *StoreTestSuite) testXattrRemoveAll(t *testing.T) {
	store := suite.NewStore(t, false)
	ctx := context.Background()
	file := CreateEntry(t, store, catalog.RootFolderID, "f", catalog.TypeFile)
	other := CreateEntry(t, store, catalog.RootFolderID, "g", catalog.TypeFile)

	InTxn(t, store, func(tx catalog.Txn) {
		require.NoError(t, store.SetXattr(ctx, tx, file.ID, "user.a", []byte("1")))
		require.NoError(t, store.SetXattr(ctx, tx, file.ID, "user.b", []byte("2")))
		require.NoError(t, store.SetXattr(ctx, tx, other.ID, "user.a", []byte("x")))
	})
	InTxn(t, store, func(tx catalog.Txn) {
		require.NoError(t, store.RemoveAllXattrs(ctx, tx, file.ID))
	})

	list, err := store.ListXattrs(ctx, nil, file.ID)
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = store.ListXattrs(ctx, nil, other.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"user.a"}, list)
}
