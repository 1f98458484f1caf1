package catalog

import (
	"fmt"
	"time"
)

// CNID is a catalog node identifier. Every catalog entry, including hard
// link records and the hidden metadata folders, has a unique CNID.
type CNID uint32

// Reserved CNIDs.
const (
	// RootParentID is the parent of the root folder
	RootParentID CNID = 1

	// RootFolderID is the root folder of every volume
	RootFolderID CNID = 2

	// FirstUserCatalogNodeID is the first CNID handed out to user entries.
	// IDs 3-15 belong to the volume's special files.
	FirstUserCatalogNodeID CNID = 16

	// MaxCNID is the largest representable identifier
	MaxCNID CNID = 0xffffffff
)

// NodeType is the kind of a catalog entry.
//
// A HardLink is a link record pointing at an indirect node stored in one of
// the hidden metadata folders. Link records never carry data of their own.
type NodeType uint8

const (
	TypeFile NodeType = iota + 1
	TypeDirectory
	TypeSymlink
	TypeHardLink
)

func (t NodeType) String() string {
	switch t {
	case TypeFile:
		return "file"
	case TypeDirectory:
		return "directory"
	case TypeSymlink:
		return "symlink"
	case TypeHardLink:
		return "hardlink"
	default:
		return fmt.Sprintf("NodeType(%d)", uint8(t))
	}
}

// Mode type bits (S_IFMT and friends).
const (
	ModeTypeMask  uint32 = 0o170000
	ModeDirectory uint32 = 0o040000
	ModeRegular   uint32 = 0o100000
	ModeSymlink   uint32 = 0o120000
	ModePermMask  uint32 = 0o7777
)

// RecordFlags are the per-record flag bits stored with catalog attributes.
type RecordFlags uint16

const (
	FlagFileLocked     RecordFlags = 0x0001
	FlagThreadExists   RecordFlags = 0x0002
	FlagHasAttributes  RecordFlags = 0x0004
	FlagHasSecurity    RecordFlags = 0x0008
	FlagHasFolderCount RecordFlags = 0x0010
	FlagHasLinkChain   RecordFlags = 0x0020
	FlagHasChildLink   RecordFlags = 0x0040
)

// BSD flags (chflags).
const (
	UFNoDump     uint32 = 0x00000001
	UFImmutable  uint32 = 0x00000002
	UFAppend     uint32 = 0x00000004
	UFOpaque     uint32 = 0x00000008
	UFHidden     uint32 = 0x00008000
	SFArchived   uint32 = 0x00010000
	SFImmutable  uint32 = 0x00020000
	SFAppend     uint32 = 0x00040000
	ImmutableAny        = UFImmutable | SFImmutable
	AppendAny           = UFAppend | SFAppend
)

// ForkKind selects one of a file's two data streams.
type ForkKind uint8

const (
	DataFork ForkKind = iota
	ResourceFork
)

func (k ForkKind) String() string {
	if k == ResourceFork {
		return "rsrc"
	}
	return "data"
}

// Extent is a run of contiguous allocation blocks.
type Extent struct {
	Start uint32
	Count uint32
}

// Fork describes one data stream of a file.
type Fork struct {
	// Size is the logical size in bytes
	Size uint64

	// Blocks is the number of allocation blocks backing the fork
	Blocks uint32

	// Extents lists the allocated runs, in file order
	Extents []Extent
}

// Clone returns a deep copy of the fork.
func (f Fork) Clone() Fork {
	if f.Extents != nil {
		f.Extents = append([]Extent(nil), f.Extents...)
	}
	return f
}

// Descriptor identifies an entry's place in the catalog namespace.
type Descriptor struct {
	Name     string
	ParentID CNID
	ID       CNID
	IsDir    bool

	// Encoding is the text-encoding hint recorded with the name
	Encoding uint32

	// Hint is the entry's last known position in its parent, used to speed
	// up the next catalog search. Zero means unknown.
	Hint uint32
}

// String renders the descriptor for logs.
func (d Descriptor) String() string {
	return fmt.Sprintf("%d/%q(%d)", d.ParentID, d.Name, d.ID)
}

// Attributes is the attribute block of a catalog record.
type Attributes struct {
	Type      NodeType
	Mode      uint32
	UID       uint32
	GID       uint32
	LinkCount uint32

	// Valence is the number of entries in a directory
	Valence uint32

	// DirCount is the number of subdirectories, tracked when
	// FlagHasFolderCount is set
	DirCount uint32

	CreateTime time.Time
	ModifyTime time.Time
	ChangeTime time.Time
	AccessTime time.Time
	BackupTime time.Time

	BSDFlags   uint32
	FinderInfo [32]byte
	Flags      RecordFlags

	// LinkRef is the indirect node a hard link record points at
	LinkRef CNID

	// DirVersion is the per-directory change counter used as the
	// enumeration verifier
	DirVersion uint64

	// GenCount is bumped on every content change of a directory
	GenCount uint32

	// SymlinkTarget is the target path of a symlink. Its length is the
	// data fork's logical size.
	SymlinkTarget string

	DataFork Fork
	RsrcFork Fork
}

// Clone returns a deep copy of the attributes.
func (a Attributes) Clone() Attributes {
	a.DataFork = a.DataFork.Clone()
	a.RsrcFork = a.RsrcFork.Clone()
	return a
}

// IsDir reports whether the attributes describe a directory.
func (a Attributes) IsDir() bool {
	return a.Type == TypeDirectory
}

// HasFlag reports whether every bit of f is set.
func (a Attributes) HasFlag(f RecordFlags) bool {
	return a.Flags&f == f
}

// Record is one catalog entry as returned by lookups and batches.
type Record struct {
	Desc  Descriptor
	Attrs Attributes
}

// Position tells GetBatch where to resume an enumeration.
//
// When LastName is set the batch starts with the first entry sorting after
// it, which survives concurrent inserts and removals. Otherwise the batch
// skips Index entries from the start of the directory.
type Position struct {
	Index    uint32
	LastName string
	LastID   CNID
}

// Operation is the kind of mutation a Reserve call makes room for.
type Operation uint8

const (
	OpCreate Operation = iota + 1
	OpDelete
	OpRename
	OpLink
)

// RecordsNeeded is the worst-case number of catalog records each operation
// may add (entry plus thread record).
func (op Operation) RecordsNeeded() int {
	switch op {
	case OpCreate:
		return 2
	case OpLink:
		return 4
	case OpRename:
		return 2
	default:
		return 0
	}
}

// VolumeAttributes are the volume header attribute bits.
type VolumeAttributes uint32

const (
	VolumeUnmounted    VolumeAttributes = 0x00000100
	VolumeInconsistent VolumeAttributes = 0x00000800
	VolumeIDsReused    VolumeAttributes = 0x00001000
	VolumeJournaled    VolumeAttributes = 0x00002000
)

// VolumeHeader holds the volume-wide counters and identifiers.
type VolumeHeader struct {
	Attributes VolumeAttributes
	CreateDate time.Time
	ModifyDate time.Time

	FileCount       uint32
	FolderCount     uint32
	RootFileCount   uint32
	RootFolderCount uint32

	// NextCatalogID is the next CNID the allocator will try
	NextCatalogID CNID

	// WriteCount is bumped every time the header is written
	WriteCount uint32

	// FileMetadataDirID and DirMetadataDirID identify the hidden folders
	// holding file link inodes and orphans, and directory link inodes
	FileMetadataDirID CNID
	DirMetadataDirID  CNID

	CaseSensitive bool
}
