package catalog

import "time"

// NewVolumeHeader returns the header of a freshly formatted volume, which
// holds only the root folder.
func NewVolumeHeader(caseSensitive bool, now time.Time) VolumeHeader {
	return VolumeHeader{
		Attributes:    VolumeUnmounted | VolumeJournaled,
		CreateDate:    now,
		ModifyDate:    now,
		NextCatalogID: FirstUserCatalogNodeID,
		CaseSensitive: caseSensitive,
	}
}

// RootRecord returns the catalog record of an empty root folder.
func RootRecord(now time.Time) Record {
	return Record{
		Desc: Descriptor{
			Name:     "",
			ParentID: RootParentID,
			ID:       RootFolderID,
			IsDir:    true,
		},
		Attrs: Attributes{
			Type:       TypeDirectory,
			Mode:       ModeDirectory | 0o755,
			LinkCount:  1,
			CreateTime: now,
			ModifyTime: now,
			ChangeTime: now,
			AccessTime: now,
			Flags:      FlagHasFolderCount,
			DirVersion: 1,
		},
	}
}

// NextCNID picks the next free identifier starting at hdr.NextCatalogID and
// advances the header past it.
//
// When the identifier space wraps, VolumeIDsReused is set and every further
// candidate is checked with inUse. Returns ErrNoSpace if no identifier is
// free.
func NextCNID(hdr *VolumeHeader, inUse func(CNID) (bool, error)) (CNID, error) {
	id := hdr.NextCatalogID
	if id < FirstUserCatalogNodeID {
		id = FirstUserCatalogNodeID
	}

	for tries := uint64(0); tries <= uint64(MaxCNID-FirstUserCatalogNodeID); tries++ {
		if hdr.Attributes&VolumeIDsReused != 0 {
			used, err := inUse(id)
			if err != nil {
				return 0, err
			}
			if used {
				id = nextAfter(hdr, id)
				continue
			}
		}
		hdr.NextCatalogID = nextAfter(hdr, id)
		return id, nil
	}
	return 0, NewError(ErrNoSpace, "catalog identifiers exhausted", "")
}

func nextAfter(hdr *VolumeHeader, id CNID) CNID {
	if id == MaxCNID {
		hdr.Attributes |= VolumeIDsReused
		return FirstUserCatalogNodeID
	}
	return id + 1
}
