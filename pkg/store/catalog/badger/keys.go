package badger

import (
	"encoding/binary"

	"github.com/marmos91/dittohfs/pkg/store/catalog"
)

// Database Key Namespace Design
// ==============================
//
// The catalog is laid out over BadgerDB with prefixed keys, one namespace
// per record class. Identifiers are encoded big-endian so that keys of one
// parent sort together and in numeric order.
//
// Data Type         Prefix  Key Format                         Value
// ========================================================================
// Volume header     "h:"    h:volume                           wireHeader (XDR)
// Free bitmap       "b:"    b:free                             roaring bitmap
// Record count      "n:"    n:records                          uint64 (binary)
// Thread/record     "r:"    r:<cnid BE32>                      wireRecord (XDR)
// Name index        "k:"    k:<parent BE32><folded name>       cnid (BE32)
// Extended attrs    "x:"    x:<cnid BE32><name>                raw bytes
//
// 1. Records (r:)
//   - One per entry, keyed by CNID: this is the thread lookup used by
//     LookupByID. The record carries its own descriptor, so a rename only
//     rewrites the record and moves one name-index key.
//
// 2. Name index (k:)
//   - One key per directory entry. A prefix scan over k:<parent> returns
//     the children sorted by folded name, which is the enumeration order.
//   - Seeking to k:<parent><folded last name> resumes an enumeration.
//
// 3. Extended attributes (x:)
//   - Prefix scan over x:<cnid> lists or removes all attributes of a node.
const (
	prefixRecord = "r:"
	prefixChild  = "k:"
	prefixXattr  = "x:"
)

var (
	keyHeader      = []byte("h:volume")
	keyBitmap      = []byte("b:free")
	keyRecordCount = []byte("n:records")
)

func encodeID(id catalog.CNID) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(id))
	return b[:]
}

func decodeID(b []byte) catalog.CNID {
	return catalog.CNID(binary.BigEndian.Uint32(b))
}

// keyRecord returns r:<id>.
func keyRecord(id catalog.CNID) []byte {
	return append([]byte(prefixRecord), encodeID(id)...)
}

// keyChildPrefix returns k:<parent>, the scan prefix of a directory.
func keyChildPrefix(parent catalog.CNID) []byte {
	return append([]byte(prefixChild), encodeID(parent)...)
}

// keyChild returns k:<parent><folded>.
func keyChild(parent catalog.CNID, folded string) []byte {
	return append(keyChildPrefix(parent), folded...)
}

// keyXattrPrefix returns x:<id>.
func keyXattrPrefix(id catalog.CNID) []byte {
	return append([]byte(prefixXattr), encodeID(id)...)
}

// keyXattr returns x:<id><name>.
func keyXattr(id catalog.CNID, name string) []byte {
	return append(keyXattrPrefix(id), name...)
}
