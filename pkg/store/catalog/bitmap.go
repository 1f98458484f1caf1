package catalog

import (
	"github.com/RoaringBitmap/roaring/v2"
)

// NewFreeBitmap returns a bitmap with blocks [0, total) free.
func NewFreeBitmap(total uint32) *roaring.Bitmap {
	free := roaring.New()
	free.AddRange(0, uint64(total))
	return free
}

// TakeExtents removes n blocks from the free bitmap, lowest first, and
// returns them as contiguous runs. The bitmap is left untouched when fewer
// than n blocks are free.
func TakeExtents(free *roaring.Bitmap, n uint32) ([]Extent, error) {
	if n == 0 {
		return nil, nil
	}
	if free.GetCardinality() < uint64(n) {
		return nil, NewError(ErrNoSpace, "not enough free blocks", "")
	}

	var extents []Extent
	it := free.Iterator()
	remaining := n
	for remaining > 0 && it.HasNext() {
		b := it.Next()
		if k := len(extents); k > 0 && extents[k-1].Start+extents[k-1].Count == b {
			extents[k-1].Count++
		} else {
			extents = append(extents, Extent{Start: b, Count: 1})
		}
		remaining--
	}

	for _, e := range extents {
		free.RemoveRange(uint64(e.Start), uint64(e.Start)+uint64(e.Count))
	}
	return extents, nil
}

// ReturnExtents adds extents back to the free bitmap.
func ReturnExtents(free *roaring.Bitmap, extents []Extent) {
	for _, e := range extents {
		free.AddRange(uint64(e.Start), uint64(e.Start)+uint64(e.Count))
	}
}

// TrimExtents splits extents so that only the first keep blocks remain.
// It returns the kept extents and the released tail.
func TrimExtents(extents []Extent, keep uint32) (kept, released []Extent) {
	for _, e := range extents {
		switch {
		case keep >= e.Count:
			kept = append(kept, e)
			keep -= e.Count
		case keep > 0:
			kept = append(kept, Extent{Start: e.Start, Count: keep})
			released = append(released, Extent{Start: e.Start + keep, Count: e.Count - keep})
			keep = 0
		default:
			released = append(released, e)
		}
	}
	return kept, released
}

// ExtentBlocks returns the number of blocks covered by extents.
func ExtentBlocks(extents []Extent) uint32 {
	var n uint32
	for _, e := range extents {
		n += e.Count
	}
	return n
}
