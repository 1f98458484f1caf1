package hfsplus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextHintTagSkipsZero(t *testing.T) {
	n := &Node{}
	seen := make(map[uint8]bool)
	for i := 0; i < 3*tagMask; i++ {
		tag := n.nextHintTag()
		require.NotZero(t, tag)
		require.LessOrEqual(t, tag, uint8(tagMask))
		seen[tag] = true
	}
	assert.Len(t, seen, tagMask)
}

func TestTakeHintMatchesPreviousIndex(t *testing.T) {
	n := &Node{}
	n.putHint(&DirHint{Index: 4, Tag: 3, LastName: "e"}, 8)
	n.putHint(&DirHint{Index: 9, Tag: 5, LastName: "j"}, 8)

	h, found := n.takeHint(5, 3, 8)
	require.True(t, found)
	assert.Equal(t, "e", h.LastName)
	assert.Len(t, n.hints, 1, "a taken hint is detached")

	_, found = n.takeHint(10, 3, 8)
	assert.False(t, found, "tag must match too")

	_, found = n.takeHint(10, 0, 8)
	assert.False(t, found, "untagged cookies never match")
}

func TestTakeHintRecyclesOldest(t *testing.T) {
	n := &Node{}
	for i := uint32(0); i < 3; i++ {
		n.putHint(&DirHint{Index: i, Tag: uint8(i + 1)}, 3)
	}
	require.Len(t, n.hints, 3)

	h, found := n.takeHint(40, 9, 3)
	assert.False(t, found)
	assert.False(t, h.positioned())
	require.Len(t, n.hints, 2)
	for _, kept := range n.hints {
		assert.NotEqual(t, uint32(0), kept.Index, "the least recently used hint goes first")
	}
}

func TestPutHintCaps(t *testing.T) {
	n := &Node{}
	for i := uint32(0); i < 10; i++ {
		n.putHint(&DirHint{Index: i, Tag: 1}, 4)
	}
	require.Len(t, n.hints, 4)
	assert.Equal(t, uint32(9), n.hints[0].Index, "most recent first")

	n.dropHints()
	assert.Empty(t, n.hints)
}
