package memory

import (
	"testing"

	"github.com/marmos91/dittohfs/pkg/store/catalog"
	catalogtesting "github.com/marmos91/dittohfs/pkg/store/catalog/testing"
)

func TestMemoryCatalogStore(t *testing.T) {
	suite := &catalogtesting.StoreTestSuite{
		NewStore: func(t *testing.T, caseSensitive bool) catalog.Store {
			return NewMemoryCatalogStore(Config{
				CaseSensitive: caseSensitive,
				TotalBlocks:   1024,
				BlockSize:     4096,
			})
		},
	}
	suite.Run(t)
}

func TestMemoryCatalogStoreCatalogFull(t *testing.T) {
	store := NewMemoryCatalogStore(Config{MaxRecords: 4})
	catalogtesting.CreateEntry(t, store, catalog.RootFolderID, "one", catalog.TypeFile)

	catalogtesting.InTxn(t, store, func(tx catalog.Txn) {
		err := store.Reserve(t.Context(), tx, catalog.OpCreate)
		catalogtesting.AssertErrorCode(t, catalog.ErrNoSpace, err)
	})
}
