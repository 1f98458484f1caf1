package hfsplus

import (
	"container/list"
	"sync"

	"github.com/marmos91/dittohfs/pkg/store/catalog"
)

// nodeFlags is the status of a cached Node.
type nodeFlags uint32

const (
	// flagModified means the in-memory attributes are newer than the catalog
	flagModified nodeFlags = 1 << iota

	// flagDeleted means the node was removed from the namespace but its
	// record is kept in the orphan folder until the last reference goes
	flagDeleted

	// flagNoExists means the catalog record is gone. No further catalog
	// mutation may target the node.
	flagNoExists

	// flagHardLink means the node was reached through a hard link record
	flagHardLink

	// flagDirModification marks a directory whose entries changed since it
	// was last flushed
	flagDirModification

	// flagRenamed means the node moved since it was materialized
	flagRenamed
)

// Node is the in-memory representation of one catalog entry (a cnode).
//
// A Node is shared by every caller that looks up the same entry, and lives
// in the volume's node cache until it is evicted with no references left.
// Callers own one reference for every Node a Volume method returns and must
// hand it back with Volume.Release.
//
// For a hard link, the Node represents the indirect node: ID returns the
// indirect node's CNID, while the descriptor is the one of the link record
// it was reached through.
//
// Locking:
//   - lock is the operation lock. Mutating operations hold it exclusive,
//     lookups and attribute reads shared. Directory hints require it
//     exclusive.
//   - mu guards desc, attrs and flags for short snoops, so enumeration can
//     overlay fresher in-memory attributes of other nodes without taking
//     their operation lock.
type Node struct {
	vol *Volume
	id  catalog.CNID

	lock sync.RWMutex

	mu    sync.Mutex
	desc  catalog.Descriptor
	attrs catalog.Attributes
	flags nodeFlags

	// Cache bookkeeping, guarded by the cache mutex
	refs     int
	elem     *list.Element
	evicting bool

	// Directory hints, guarded by lock held exclusive
	hints   []*DirHint
	hintTag uint8
}

func newNode(v *Volume, id catalog.CNID, desc catalog.Descriptor, attrs catalog.Attributes) *Node {
	n := &Node{vol: v, id: id, desc: desc, attrs: attrs}
	if desc.ID != id {
		n.flags |= flagHardLink
	}
	return n
}

// ID returns the node's catalog identifier. For hard links this is the
// indirect node shared by every link.
func (n *Node) ID() catalog.CNID {
	return n.id
}

// Descriptor returns a copy of the node's current descriptor.
func (n *Node) Descriptor() catalog.Descriptor {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.desc
}

// Type returns the node's type.
func (n *Node) Type() catalog.NodeType {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.attrs.Type
}

// IsDir reports whether the node is a directory.
func (n *Node) IsDir() bool {
	return n.Type() == catalog.TypeDirectory
}

// IsHardLink reports whether the node was reached through a hard link.
func (n *Node) IsHardLink() bool {
	return n.hasFlags(flagHardLink)
}

// IsDeleted reports whether the node was removed from the namespace.
// Deleted nodes stay readable until their last reference is released.
func (n *Node) IsDeleted() bool {
	return n.hasFlags(flagDeleted) || n.hasFlags(flagNoExists)
}

// IsModified reports whether the node has changes not yet written to the
// catalog.
func (n *Node) IsModified() bool {
	return n.hasFlags(flagModified)
}

func (n *Node) hasFlags(f nodeFlags) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.flags&f == f
}

func (n *Node) setFlags(set, clear nodeFlags) {
	n.mu.Lock()
	n.flags = (n.flags | set) &^ clear
	n.mu.Unlock()
}

// snapshot returns copies of the descriptor, attributes and flags.
func (n *Node) snapshot() (catalog.Descriptor, catalog.Attributes, nodeFlags) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.desc, n.attrs.Clone(), n.flags
}

// gone reports whether the node was deleted or no longer exists.
func (n *Node) gone() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.flags&(flagDeleted|flagNoExists) != 0
}

// touchDirty applies fn to the in-memory attributes and marks the node
// modified, without writing the catalog.
func (n *Node) touchDirty(fn func(a *catalog.Attributes)) {
	n.mu.Lock()
	fn(&n.attrs)
	n.flags |= flagModified
	n.mu.Unlock()
}
