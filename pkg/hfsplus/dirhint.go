package hfsplus

import (
	"time"

	"github.com/marmos91/dittohfs/pkg/store/catalog"
)

// DirHint remembers where an enumeration of a directory stopped, so the
// next call can resume with a keyed catalog search instead of skipping
// entries from the start.
//
// Hints belong to their directory's Node and are only touched while that
// Node's lock is held exclusive.
type DirHint struct {
	// Index is the cookie index of the last entry returned
	Index uint32

	// Tag is the generation tag handed out in the cookie
	Tag uint8

	// LastName and LastID identify the last catalog entry consumed.
	// An empty LastName means the hint is not positioned yet.
	LastName string
	LastID   catalog.CNID

	// ThreadHint is the catalog's position hint for LastID
	ThreadHint uint32

	// Time is when the hint was last used
	Time time.Time
}

func (h *DirHint) positioned() bool {
	return h.LastName != ""
}

// nextHintTag returns a fresh non-zero tag. Caller holds n.lock exclusive.
func (n *Node) nextHintTag() uint8 {
	for {
		n.hintTag = (n.hintTag + 1) & tagMask
		if n.hintTag != 0 {
			return n.hintTag
		}
	}
}

// takeHint detaches the hint that resumes an enumeration at index, or
// allocates an unpositioned one. A hint matches when it was left at
// index-1 under the same tag. When the directory already holds maxHints,
// the least recently used hint is recycled. Caller holds n.lock exclusive.
func (n *Node) takeHint(index uint32, tag uint8, maxHints int) (*DirHint, bool) {
	if index > 0 && tag != 0 {
		for i, h := range n.hints {
			if h.Tag == tag && h.Index == index-1 {
				n.hints = append(n.hints[:i], n.hints[i+1:]...)
				return h, true
			}
		}
	}

	if maxHints > 0 && len(n.hints) >= maxHints {
		// Recycle the oldest
		n.hints = n.hints[:len(n.hints)-1]
	}
	return &DirHint{Time: time.Now()}, false
}

// putHint reattaches h as the most recently used hint. Caller holds n.lock
// exclusive.
func (n *Node) putHint(h *DirHint, maxHints int) {
	h.Time = time.Now()
	n.hints = append([]*DirHint{h}, n.hints...)
	if maxHints > 0 && len(n.hints) > maxHints {
		n.hints = n.hints[:maxHints]
	}
}

// dropHints forgets every hint of the directory. Caller holds n.lock
// exclusive.
func (n *Node) dropHints() {
	n.hints = nil
}
