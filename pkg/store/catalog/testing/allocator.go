package testing

import (
	"context"
	"testing"

	"github.com/marmos91/dittohfs/pkg/store/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunAllocatorTests executes block allocation tests.
func (suite *StoreTestSuite) RunAllocatorTests(t *testing.T) {
	t.Run("AllocateRelease", suite.testAllocateRelease)
	t.Run("AllocateTooMuch", suite.testAllocateTooMuch)
	t.Run("DoubleRelease", suite.testDoubleRelease)
}

func (suite *StoreTestSuite) testAllocateRelease(t *testing.T) {
	store := suite.NewStore(t, false)
	ctx := context.Background()
	assert.NotZero(t, store.BlockSize())

	before, err := store.FreeBlocks(ctx)
	require.NoError(t, err)

	var extents []catalog.Extent
	InTxn(t, store, func(tx catalog.Txn) {
		extents, err = store.Allocate(ctx, tx, 100, 8)
		require.NoError(t, err)
	})
	assert.Equal(t, uint32(8), catalog.ExtentBlocks(extents))

	mid, err := store.FreeBlocks(ctx)
	require.NoError(t, err)
	assert.Equal(t, before-8, mid)

	InTxn(t, store, func(tx catalog.Txn) {
		require.NoError(t, store.Release(ctx, tx, 100, catalog.DataFork, extents))
	})

	after, err := store.FreeBlocks(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func (suite *StoreTestSuite) testAllocateTooMuch(t *testing.T) {
	store := suite.NewStore(t, false)
	ctx := context.Background()

	free, err := store.FreeBlocks(ctx)
	require.NoError(t, err)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Abort()

	_, err = store.Allocate(ctx, tx, 100, uint32(free)+1)
	AssertErrorCode(t, catalog.ErrNoSpace, err)
}

func (suite *StoreTestSuite) testDoubleRelease(t *testing.T) {
	store := suite.NewStore(t, false)
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Abort()

	err = store.Release(ctx, tx, 100, catalog.DataFork, []catalog.Extent{{Start: 0, Count: 1}})
	AssertErrorCode(t, catalog.ErrIOError, err)
}
