package testing

import (
	"context"
	"testing"
	"time"

	"github.com/marmos91/dittohfs/pkg/store/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite is a conformance suite for catalog.Store implementations.
// It tests the collaborator contract the volume engine relies on, not
// implementation details, so every backend runs the same checks.
type StoreTestSuite struct {
	// NewStore creates a fresh, formatted store for each test.
	NewStore func(t *testing.T, caseSensitive bool) catalog.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(test *testing.T) {
	test.Run("Header", suite.RunHeaderTests)
	test.Run("Catalog", suite.RunCatalogTests)
	test.Run("Batch", suite.RunBatchTests)
	test.Run("Transaction", suite.RunTransactionTests)
	test.Run("Allocator", suite.RunAllocatorTests)
	test.Run("Xattr", suite.RunXattrTests)
}

// ============================================================================
// Helpers
// ============================================================================

// InTxn runs fn inside a transaction and commits it.
func InTxn(t *testing.T, store catalog.Store, fn func(tx catalog.Txn)) {
	t.Helper()
	tx, err := store.Begin(context.Background())
	require.NoError(t, err)
	fn(tx)
	require.NoError(t, tx.Commit())
}

// CreateEntry inserts a file or directory under parent and returns its
// descriptor.
func CreateEntry(t *testing.T, store catalog.Store, parent catalog.CNID, name string, typ catalog.NodeType) catalog.Descriptor {
	t.Helper()
	ctx := context.Background()
	var desc catalog.Descriptor

	InTxn(t, store, func(tx catalog.Txn) {
		require.NoError(t, store.Reserve(ctx, tx, catalog.OpCreate))
		id, err := store.AcquireID(ctx, tx)
		require.NoError(t, err)

		desc = catalog.Descriptor{Name: name, ParentID: parent, ID: id, IsDir: typ == catalog.TypeDirectory}
		attrs := NewAttributes(typ)
		require.NoError(t, store.Insert(ctx, tx, &desc, &attrs))
	})
	return desc
}

// NewAttributes returns a minimal attribute block for typ.
func NewAttributes(typ catalog.NodeType) catalog.Attributes {
	now := time.Now()
	attrs := catalog.Attributes{
		Type:       typ,
		LinkCount:  1,
		CreateTime: now,
		ModifyTime: now,
		ChangeTime: now,
		AccessTime: now,
	}
	switch typ {
	case catalog.TypeDirectory:
		attrs.Mode = catalog.ModeDirectory | 0o755
		attrs.Flags = catalog.FlagHasFolderCount
		attrs.DirVersion = 1
	case catalog.TypeSymlink:
		attrs.Mode = catalog.ModeSymlink | 0o755
		attrs.Flags = catalog.FlagThreadExists
	default:
		attrs.Mode = catalog.ModeRegular | 0o644
		attrs.Flags = catalog.FlagThreadExists
	}
	return attrs
}

// AssertErrorCode asserts that err is a StoreError with the given code.
func AssertErrorCode(t *testing.T, code catalog.ErrorCode, err error) {
	t.Helper()
	require.Error(t, err)
	got, ok := catalog.CodeOf(err)
	require.True(t, ok, "expected StoreError, got %T: %v", err, err)
	assert.Equal(t, code, got, "unexpected error code: %v", err)
}

// names collects the names of a batch in order.
func names(batch []catalog.Record) []string {
	out := make([]string, len(batch))
	for i, r := range batch {
		out[i] = r.Desc.Name
	}
	return out
}
