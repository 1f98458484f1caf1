package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Txn is a scope bounding catalog mutations that commit or fail together.
//
// A Txn is owned by the operation that began it and is never shared across
// concurrent operations. Exactly one of Commit or Abort must be called.
type Txn interface {
	// ID identifies the transaction in logs.
	ID() uuid.UUID

	// Commit makes every mutation made through the transaction durable.
	Commit() error

	// Abort discards every mutation made through the transaction.
	// Calling Abort after Commit is a no-op.
	Abort()
}

// Journal opens transactions.
//
// Implementations serialize transactions per volume: Begin blocks while
// another transaction is open.
type Journal interface {
	Begin(ctx context.Context) (Txn, error)
}

// Catalog is the name-indexed directory structure of a volume.
//
// Read methods accept a nil Txn for reads outside any transaction. Passing
// the open Txn makes the read observe that transaction's own writes.
//
// Entries are keyed by (parent, name). Name comparison follows the volume's
// case sensitivity (see FoldName). GetBatch returns entries in key order.
type Catalog interface {
	// CaseSensitive reports whether names are compared case-sensitively.
	CaseSensitive() bool

	// ReadHeader returns the volume header.
	ReadHeader(ctx context.Context, tx Txn) (VolumeHeader, error)

	// WriteHeader replaces the volume header.
	WriteHeader(ctx context.Context, tx Txn, hdr *VolumeHeader) error

	// Lookup finds the entry named name in parent.
	// Returns ErrNotFound if there is none.
	Lookup(ctx context.Context, tx Txn, parent CNID, name string) (Record, error)

	// LookupByID finds an entry by its identifier through its thread record.
	LookupByID(ctx context.Context, tx Txn, id CNID) (Record, error)

	// Insert adds a new entry. desc.ID must already be acquired.
	// Returns ErrAlreadyExists if the name is taken and ErrNotFound if the
	// parent does not exist.
	Insert(ctx context.Context, tx Txn, desc *Descriptor, attrs *Attributes) error

	// Update replaces the attributes of the entry identified by desc.ID.
	Update(ctx context.Context, tx Txn, desc *Descriptor, attrs *Attributes) error

	// Delete removes the entry identified by desc.
	// Returns ErrNotEmpty if the entry is a directory with children.
	Delete(ctx context.Context, tx Txn, desc *Descriptor) error

	// Rename atomically replaces the (parent, name) of the entry identified
	// by from.ID with (toParent, toName) and returns the new descriptor.
	// Returns ErrAlreadyExists if another entry holds the destination key.
	// Renaming onto the entry's own key (a case-only change) updates the
	// stored name in place.
	Rename(ctx context.Context, tx Txn, from *Descriptor, toParent CNID, toName string) (Descriptor, error)

	// GetBatch returns up to max entries of parent starting at pos, and
	// whether the directory was exhausted by this batch.
	GetBatch(ctx context.Context, tx Txn, parent CNID, pos Position, max int) ([]Record, bool, error)

	// Reserve ensures catalog space for one operation of the given kind.
	// Returns ErrNoSpace if the catalog is full.
	Reserve(ctx context.Context, tx Txn, op Operation) error

	// AcquireID allocates a new unique CNID, wrapping around and marking
	// the volume IDsReused when the identifier space is exhausted.
	AcquireID(ctx context.Context, tx Txn) (CNID, error)
}

// Allocator manages the volume's allocation blocks.
type Allocator interface {
	// BlockSize returns the allocation block size in bytes.
	BlockSize() uint32

	// FreeBlocks returns the number of unallocated blocks.
	FreeBlocks(ctx context.Context) (uint64, error)

	// Allocate reserves blocks for fileID and returns the extents.
	// Returns ErrNoSpace if not enough blocks are free.
	Allocate(ctx context.Context, tx Txn, fileID CNID, blocks uint32) ([]Extent, error)

	// Release returns the extents of one fork of fileID to the free pool.
	Release(ctx context.Context, tx Txn, fileID CNID, fork ForkKind, extents []Extent) error
}

// XattrStore holds extended attributes keyed by (CNID, name).
type XattrStore interface {
	SetXattr(ctx context.Context, tx Txn, id CNID, name string, value []byte) error
	GetXattr(ctx context.Context, tx Txn, id CNID, name string) ([]byte, error)
	RemoveXattr(ctx context.Context, tx Txn, id CNID, name string) error
	ListXattrs(ctx context.Context, tx Txn, id CNID) ([]string, error)
	RemoveAllXattrs(ctx context.Context, tx Txn, id CNID) error
}

// Store bundles every collaborator a volume consumes.
type Store interface {
	Catalog
	Journal
	Allocator
	XattrStore

	// Close releases the store's resources.
	Close() error
}
