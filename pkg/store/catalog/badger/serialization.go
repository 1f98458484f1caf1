package badger

import (
	"bytes"
	"fmt"
	"time"

	"github.com/marmos91/dittohfs/pkg/store/catalog"
	xdr "github.com/rasky/go-xdr/xdr2"
)

// Catalog records are stored XDR encoded. The wire structs below flatten
// the catalog types into fields XDR can represent: times become Unix
// nanoseconds and enums become uint32.

type wireExtent struct {
	Start uint32
	Count uint32
}

type wireFork struct {
	Size    uint64
	Blocks  uint32
	Extents []wireExtent
}

type wireRecord struct {
	// Key is the folded name under the parent, kept so the name index can
	// be found from the record alone
	Key string

	Name     string
	ParentID uint32
	ID       uint32
	IsDir    bool
	Encoding uint32

	Type       uint32
	Mode       uint32
	UID        uint32
	GID        uint32
	LinkCount  uint32
	Valence    uint32
	DirCount   uint32
	CreateTime int64
	ModifyTime int64
	ChangeTime int64
	AccessTime int64
	BackupTime int64
	BSDFlags   uint32
	FinderInfo [32]byte
	Flags      uint32
	LinkRef    uint32
	DirVersion uint64
	GenCount   uint32
	Target     string
	DataFork   wireFork
	RsrcFork   wireFork
}

type wireHeader struct {
	Attributes      uint32
	CreateDate      int64
	ModifyDate      int64
	FileCount       uint32
	FolderCount     uint32
	RootFileCount   uint32
	RootFolderCount uint32
	NextCatalogID   uint32
	WriteCount      uint32
	FileMetaDirID   uint32
	DirMetaDirID    uint32
	CaseSensitive   bool

	// Geometry is fixed at format time
	BlockSize   uint32
	TotalBlocks uint32
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func toWireFork(f catalog.Fork) wireFork {
	w := wireFork{Size: f.Size, Blocks: f.Blocks}
	for _, e := range f.Extents {
		w.Extents = append(w.Extents, wireExtent{Start: e.Start, Count: e.Count})
	}
	return w
}

func fromWireFork(w wireFork) catalog.Fork {
	f := catalog.Fork{Size: w.Size, Blocks: w.Blocks}
	for _, e := range w.Extents {
		f.Extents = append(f.Extents, catalog.Extent{Start: e.Start, Count: e.Count})
	}
	return f
}

func toWireRecord(key string, d *catalog.Descriptor, a *catalog.Attributes) *wireRecord {
	return &wireRecord{
		Key:        key,
		Name:       d.Name,
		ParentID:   uint32(d.ParentID),
		ID:         uint32(d.ID),
		IsDir:      a.Type == catalog.TypeDirectory,
		Encoding:   d.Encoding,
		Type:       uint32(a.Type),
		Mode:       a.Mode,
		UID:        a.UID,
		GID:        a.GID,
		LinkCount:  a.LinkCount,
		Valence:    a.Valence,
		DirCount:   a.DirCount,
		CreateTime: toNanos(a.CreateTime),
		ModifyTime: toNanos(a.ModifyTime),
		ChangeTime: toNanos(a.ChangeTime),
		AccessTime: toNanos(a.AccessTime),
		BackupTime: toNanos(a.BackupTime),
		BSDFlags:   a.BSDFlags,
		FinderInfo: a.FinderInfo,
		Flags:      uint32(a.Flags),
		LinkRef:    uint32(a.LinkRef),
		DirVersion: a.DirVersion,
		GenCount:   a.GenCount,
		Target:     a.SymlinkTarget,
		DataFork:   toWireFork(a.DataFork),
		RsrcFork:   toWireFork(a.RsrcFork),
	}
}

func (w *wireRecord) record() catalog.Record {
	return catalog.Record{
		Desc: catalog.Descriptor{
			Name:     w.Name,
			ParentID: catalog.CNID(w.ParentID),
			ID:       catalog.CNID(w.ID),
			IsDir:    w.IsDir,
			Encoding: w.Encoding,
		},
		Attrs: catalog.Attributes{
			Type:          catalog.NodeType(w.Type),
			Mode:          w.Mode,
			UID:           w.UID,
			GID:           w.GID,
			LinkCount:     w.LinkCount,
			Valence:       w.Valence,
			DirCount:      w.DirCount,
			CreateTime:    fromNanos(w.CreateTime),
			ModifyTime:    fromNanos(w.ModifyTime),
			ChangeTime:    fromNanos(w.ChangeTime),
			AccessTime:    fromNanos(w.AccessTime),
			BackupTime:    fromNanos(w.BackupTime),
			BSDFlags:      w.BSDFlags,
			FinderInfo:    w.FinderInfo,
			Flags:         catalog.RecordFlags(w.Flags),
			LinkRef:       catalog.CNID(w.LinkRef),
			DirVersion:    w.DirVersion,
			GenCount:      w.GenCount,
			SymlinkTarget: w.Target,
			DataFork:      fromWireFork(w.DataFork),
			RsrcFork:      fromWireFork(w.RsrcFork),
		},
	}
}

func (w *wireHeader) header() catalog.VolumeHeader {
	return catalog.VolumeHeader{
		Attributes:        catalog.VolumeAttributes(w.Attributes),
		CreateDate:        fromNanos(w.CreateDate),
		ModifyDate:        fromNanos(w.ModifyDate),
		FileCount:         w.FileCount,
		FolderCount:       w.FolderCount,
		RootFileCount:     w.RootFileCount,
		RootFolderCount:   w.RootFolderCount,
		NextCatalogID:     catalog.CNID(w.NextCatalogID),
		WriteCount:        w.WriteCount,
		FileMetadataDirID: catalog.CNID(w.FileMetaDirID),
		DirMetadataDirID:  catalog.CNID(w.DirMetaDirID),
		CaseSensitive:     w.CaseSensitive,
	}
}

// setHeader copies h into w, keeping the format-time geometry.
func (w *wireHeader) setHeader(h *catalog.VolumeHeader) {
	w.Attributes = uint32(h.Attributes)
	w.CreateDate = toNanos(h.CreateDate)
	w.ModifyDate = toNanos(h.ModifyDate)
	w.FileCount = h.FileCount
	w.FolderCount = h.FolderCount
	w.RootFileCount = h.RootFileCount
	w.RootFolderCount = h.RootFolderCount
	w.NextCatalogID = uint32(h.NextCatalogID)
	w.WriteCount = h.WriteCount
	w.FileMetaDirID = uint32(h.FileMetadataDirID)
	w.DirMetaDirID = uint32(h.DirMetadataDirID)
	w.CaseSensitive = h.CaseSensitive
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, v); err != nil {
		return nil, fmt.Errorf("xdr encode %T: %w", v, err)
	}
	return buf.Bytes(), nil
}

func decode(data []byte, v any) error {
	if _, err := xdr.Unmarshal(bytes.NewReader(data), v); err != nil {
		return fmt.Errorf("xdr decode %T: %w", v, err)
	}
	return nil
}
