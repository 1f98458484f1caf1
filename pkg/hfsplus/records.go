package hfsplus

import (
	"encoding/binary"
	"time"

	"github.com/marmos91/dittohfs/pkg/store/catalog"
	"golang.org/x/sys/unix"
)

// Directory entry wire format.
//
// Records are little-endian and 8-byte aligned. Every record starts with a
// fixed header:
//
//	FileID u64 | NextCookie u64 | RecLen u16 | NextOffset u16 | NameLen u16 | Type u8 | pad u8
//
// Attribute records follow the header with a fixed attribute block:
//
//	ValidMask u64 | Mode u32 | UID u32 | GID u32 | LinkCount u32 |
//	Size u64 | AllocSize u64 | Atime i64 | Mtime i64 | Ctime i64 | Birthtime i64 |
//	BSDFlags u32 | pad u32 | ParentID u64
//
// The name comes last, unterminated. NextOffset chains records and is 0 in
// the last record of a buffer. Times are nanoseconds since the Unix epoch,
// 0 for unset.
const (
	entryHeaderSize = 24
	attrBlockSize   = 88
	recordAlign     = 8
)

// Validity bits of an attribute record.
const (
	ValidMode uint64 = 1 << iota
	ValidUID
	ValidGID
	ValidLinkCount
	ValidSize
	ValidAllocSize
	ValidAccessTime
	ValidModifyTime
	ValidChangeTime
	ValidBirthTime
	ValidBSDFlags
	ValidFileID
	ValidParentID

	// ValidAll is every field the engine populates
	ValidAll = ValidParentID<<1 - 1
)

// DirEntry is one decoded directory entry.
type DirEntry struct {
	FileID catalog.CNID
	Cookie uint64
	Type   catalog.NodeType
	Name   string

	// Attr is set for attribute records only
	Attr *EntryAttr
}

// EntryAttr is the attribute block of an attribute record.
type EntryAttr struct {
	ValidMask  uint64
	Mode       uint32
	UID        uint32
	GID        uint32
	LinkCount  uint32
	Size       uint64
	AllocSize  uint64
	AccessTime time.Time
	ModifyTime time.Time
	ChangeTime time.Time
	BirthTime  time.Time
	BSDFlags   uint32
	ParentID   catalog.CNID
}

// dirEntry is an enumeration candidate before it is packed.
type dirEntry struct {
	id     catalog.CNID
	name   string
	parent catalog.CNID
	attrs  catalog.Attributes
}

// packer serializes entries into a caller buffer.
type packer struct {
	buf       []byte
	off       int
	last      int
	count     int
	withAttrs bool
	blockSize uint32
}

func newPacker(buf []byte, withAttrs bool, blockSize uint32) *packer {
	return &packer{buf: buf, last: -1, withAttrs: withAttrs, blockSize: blockSize}
}

func recordSize(nameLen int, withAttrs bool) int {
	size := entryHeaderSize + nameLen
	if withAttrs {
		size += attrBlockSize
	}
	return (size + recordAlign - 1) &^ (recordAlign - 1)
}

// add packs e with the cookie that resumes after it. It returns false,
// packing nothing, when the record does not fit.
func (p *packer) add(e *dirEntry, next uint64) bool {
	size := recordSize(len(e.name), p.withAttrs)
	if p.off+size > len(p.buf) {
		return false
	}

	rec := p.buf[p.off : p.off+size]
	clear(rec)
	le := binary.LittleEndian
	le.PutUint64(rec[0:], uint64(e.id))
	le.PutUint64(rec[8:], next)
	le.PutUint16(rec[16:], uint16(size))
	le.PutUint16(rec[18:], uint16(size))
	le.PutUint16(rec[20:], uint16(len(e.name)))
	rec[22] = direntType(e.attrs.Type)

	nameOff := entryHeaderSize
	if p.withAttrs {
		a := &e.attrs
		b := rec[entryHeaderSize:]
		alloc := uint64(a.DataFork.Blocks+a.RsrcFork.Blocks) * uint64(p.blockSize)
		le.PutUint64(b[0:], ValidAll)
		le.PutUint32(b[8:], a.Mode)
		le.PutUint32(b[12:], a.UID)
		le.PutUint32(b[16:], a.GID)
		le.PutUint32(b[20:], a.LinkCount)
		le.PutUint64(b[24:], a.DataFork.Size)
		le.PutUint64(b[32:], alloc)
		le.PutUint64(b[40:], uint64(unixNano(a.AccessTime)))
		le.PutUint64(b[48:], uint64(unixNano(a.ModifyTime)))
		le.PutUint64(b[56:], uint64(unixNano(a.ChangeTime)))
		le.PutUint64(b[64:], uint64(unixNano(a.CreateTime)))
		le.PutUint32(b[72:], a.BSDFlags)
		le.PutUint64(b[80:], uint64(e.parent))
		nameOff += attrBlockSize
	}
	copy(rec[nameOff:], e.name)

	p.last = p.off
	p.off += size
	p.count++
	return true
}

// finish terminates the record chain.
func (p *packer) finish() {
	if p.last >= 0 {
		binary.LittleEndian.PutUint16(p.buf[p.last+18:], 0)
	}
}

// DecodeDirEntries parses a buffer filled by ReadDir.
func DecodeDirEntries(buf []byte) ([]DirEntry, error) {
	return decodeEntries(buf, false)
}

// DecodeDirEntriesAttr parses a buffer filled by ReadDirAttr.
func DecodeDirEntriesAttr(buf []byte) ([]DirEntry, error) {
	return decodeEntries(buf, true)
}

func decodeEntries(buf []byte, withAttrs bool) ([]DirEntry, error) {
	le := binary.LittleEndian
	var out []DirEntry

	for off := 0; off < len(buf); {
		if off+entryHeaderSize > len(buf) {
			return out, invalid("truncated directory entry header", "")
		}
		rec := buf[off:]
		recLen := int(le.Uint16(rec[16:]))
		next := int(le.Uint16(rec[18:]))
		nameLen := int(le.Uint16(rec[20:]))
		if recLen < recordSize(nameLen, withAttrs) || off+recLen > len(buf) {
			return out, invalid("malformed directory entry", "")
		}

		e := DirEntry{
			FileID: catalog.CNID(le.Uint64(rec[0:])),
			Cookie: le.Uint64(rec[8:]),
			Type:   nodeTypeOf(rec[22]),
		}
		nameOff := entryHeaderSize
		if withAttrs {
			b := rec[entryHeaderSize:]
			e.Attr = &EntryAttr{
				ValidMask:  le.Uint64(b[0:]),
				Mode:       le.Uint32(b[8:]),
				UID:        le.Uint32(b[12:]),
				GID:        le.Uint32(b[16:]),
				LinkCount:  le.Uint32(b[20:]),
				Size:       le.Uint64(b[24:]),
				AllocSize:  le.Uint64(b[32:]),
				AccessTime: fromUnixNano(int64(le.Uint64(b[40:]))),
				ModifyTime: fromUnixNano(int64(le.Uint64(b[48:]))),
				ChangeTime: fromUnixNano(int64(le.Uint64(b[56:]))),
				BirthTime:  fromUnixNano(int64(le.Uint64(b[64:]))),
				BSDFlags:   le.Uint32(b[72:]),
				ParentID:   catalog.CNID(le.Uint64(b[80:])),
			}
			nameOff += attrBlockSize
		}
		e.Name = string(rec[nameOff : nameOff+nameLen])
		out = append(out, e)

		if next == 0 {
			break
		}
		off += next
	}
	return out, nil
}

// direntType maps a node type to its DT_* value.
func direntType(t catalog.NodeType) uint8 {
	switch t {
	case catalog.TypeDirectory:
		return unix.DT_DIR
	case catalog.TypeFile:
		return unix.DT_REG
	case catalog.TypeSymlink:
		return unix.DT_LNK
	default:
		return unix.DT_UNKNOWN
	}
}

func nodeTypeOf(dt uint8) catalog.NodeType {
	switch dt {
	case unix.DT_DIR:
		return catalog.TypeDirectory
	case unix.DT_REG:
		return catalog.TypeFile
	case unix.DT_LNK:
		return catalog.TypeSymlink
	default:
		return 0
	}
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
