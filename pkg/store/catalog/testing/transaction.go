package testing

import (
	"context"
	"testing"
	"time"

	"github.com/marmos91/dittohfs/pkg/store/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunTransactionTests executes journal and rollback tests.
func (suite *StoreTestSuite) RunTransactionTests(t *testing.T) {
	t.Run("AbortRollsBack", suite.testAbortRollsBack)
	t.Run("AbortAfterCommitIsNoop", suite.testAbortAfterCommit)
	t.Run("TransactionsSerialize", suite.testTransactionsSerialize)
	t.Run("MutationWithoutTxn", suite.testMutationWithoutTxn)
	t.Run("ReadsSeeOwnWrites", suite.testReadsSeeOwnWrites)
}

func (suite *StoreTestSuite) testAbortRollsBack(t *testing.T) {
	store := suite.NewStore(t, false)
	ctx := context.Background()

	keep := CreateEntry(t, store, catalog.RootFolderID, "keep", catalog.TypeFile)
	before, err := store.ReadHeader(ctx, nil)
	require.NoError(t, err)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)

	id, err := store.AcquireID(ctx, tx)
	require.NoError(t, err)
	desc := catalog.Descriptor{Name: "temp", ParentID: catalog.RootFolderID, ID: id}
	attrs := NewAttributes(catalog.TypeFile)
	require.NoError(t, store.Insert(ctx, tx, &desc, &attrs))
	_, err = store.Rename(ctx, tx, &keep, catalog.RootFolderID, "renamed")
	require.NoError(t, err)
	_, err = store.Allocate(ctx, tx, id, 4)
	require.NoError(t, err)
	require.NoError(t, store.SetXattr(ctx, tx, keep.ID, "user.k", []byte("v")))
	tx.Abort()

	_, err = store.Lookup(ctx, nil, catalog.RootFolderID, "temp")
	AssertErrorCode(t, catalog.ErrNotFound, err)
	rec, err := store.Lookup(ctx, nil, catalog.RootFolderID, "keep")
	require.NoError(t, err)
	assert.Equal(t, keep.ID, rec.Desc.ID)

	after, err := store.ReadHeader(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, before.NextCatalogID, after.NextCatalogID)

	free, err := store.FreeBlocks(ctx)
	require.NoError(t, err)
	total := suite.freeOnFresh(t)
	assert.Equal(t, total, free)

	xattrs, err := store.ListXattrs(ctx, nil, keep.ID)
	require.NoError(t, err)
	assert.Empty(t, xattrs)
}

func (suite *StoreTestSuite) freeOnFresh(t *testing.T) uint64 {
	fresh := suite.NewStore(t, false)
	free, err := fresh.FreeBlocks(context.Background())
	require.NoError(t, err)
	return free
}

func (suite *StoreTestSuite) testAbortAfterCommit(t *testing.T) {
	store := suite.NewStore(t, false)
	tx, err := store.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	tx.Abort()

	// the journal must be free again
	tx2, err := store.Begin(context.Background())
	require.NoError(t, err)
	tx2.Abort()
}

func (suite *StoreTestSuite) testTransactionsSerialize(t *testing.T) {
	store := suite.NewStore(t, false)
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)

	started := make(chan struct{})
	go func() {
		tx2, err := store.Begin(ctx)
		if err == nil {
			tx2.Abort()
		}
		close(started)
	}()

	select {
	case <-started:
		t.Fatal("second transaction began while the first was open")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, tx.Commit())
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("second transaction never began")
	}
}

func (suite *StoreTestSuite) testMutationWithoutTxn(t *testing.T) {
	store := suite.NewStore(t, false)
	desc := catalog.Descriptor{Name: "x", ParentID: catalog.RootFolderID, ID: 100}
	attrs := NewAttributes(catalog.TypeFile)
	AssertErrorCode(t, catalog.ErrInvalidArgument, store.Insert(context.Background(), nil, &desc, &attrs))
}

func (suite *StoreTestSuite) testReadsSeeOwnWrites(t *testing.T) {
	store := suite.NewStore(t, false)
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Abort()

	id, err := store.AcquireID(ctx, tx)
	require.NoError(t, err)
	desc := catalog.Descriptor{Name: "pending", ParentID: catalog.RootFolderID, ID: id}
	attrs := NewAttributes(catalog.TypeFile)
	require.NoError(t, store.Insert(ctx, tx, &desc, &attrs))

	rec, err := store.Lookup(ctx, tx, catalog.RootFolderID, "pending")
	require.NoError(t, err)
	assert.Equal(t, id, rec.Desc.ID)

	batch, _, err := store.GetBatch(ctx, tx, catalog.RootFolderID, catalog.Position{}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"pending"}, names(batch))
}
