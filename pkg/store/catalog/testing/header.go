package testing

import (
	"context"
	"testing"

	"github.com/marmos91/dittohfs/pkg/store/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunHeaderTests executes volume header and identifier tests.
func (suite *StoreTestSuite) RunHeaderTests(t *testing.T) {
	t.Run("FreshVolume", suite.testFreshVolume)
	t.Run("WriteHeader", suite.testWriteHeader)
	t.Run("AcquireID", suite.testAcquireID)
}

func (suite *StoreTestSuite) testFreshVolume(t *testing.T) {
	store := suite.NewStore(t, false)
	ctx := context.Background()

	hdr, err := store.ReadHeader(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, catalog.FirstUserCatalogNodeID, hdr.NextCatalogID)
	assert.Zero(t, hdr.FileCount)

	root, err := store.LookupByID(ctx, nil, catalog.RootFolderID)
	require.NoError(t, err)
	assert.True(t, root.Attrs.IsDir())
	assert.Equal(t, catalog.RootParentID, root.Desc.ParentID)
	assert.False(t, store.CaseSensitive())
}

func (suite *StoreTestSuite) testWriteHeader(t *testing.T) {
	store := suite.NewStore(t, false)
	ctx := context.Background()

	InTxn(t, store, func(tx catalog.Txn) {
		hdr, err := store.ReadHeader(ctx, tx)
		require.NoError(t, err)
		hdr.FileCount = 7
		hdr.RootFolderCount = 2
		hdr.Attributes |= catalog.VolumeInconsistent
		require.NoError(t, store.WriteHeader(ctx, tx, &hdr))
	})

	hdr, err := store.ReadHeader(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), hdr.FileCount)
	assert.Equal(t, uint32(2), hdr.RootFolderCount)
	assert.NotZero(t, hdr.Attributes&catalog.VolumeInconsistent)
	assert.NotZero(t, hdr.WriteCount)
}

func (suite *StoreTestSuite) testAcquireID(t *testing.T) {
	store := suite.NewStore(t, false)
	ctx := context.Background()

	seen := make(map[catalog.CNID]bool)
	InTxn(t, store, func(tx catalog.Txn) {
		for i := 0; i < 5; i++ {
			id, err := store.AcquireID(ctx, tx)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, id, catalog.FirstUserCatalogNodeID)
			assert.False(t, seen[id], "identifier %d handed out twice", id)
			seen[id] = true
		}
	})

	hdr, err := store.ReadHeader(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, catalog.FirstUserCatalogNodeID+5, hdr.NextCatalogID)
}
