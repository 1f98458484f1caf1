package hfsplus

import (
	"testing"

	"github.com/marmos91/dittohfs/pkg/store/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cachedNode(id catalog.CNID) *Node {
	return newNode(nil, id, catalog.Descriptor{ID: id, Name: "n"}, catalog.Attributes{Type: catalog.TypeFile})
}

func TestNodeCacheInsertReturnsExisting(t *testing.T) {
	c := newNodeCache(4)
	a := c.insert(cachedNode(20))
	b := c.insert(cachedNode(20))

	assert.Same(t, a, b)
	assert.Equal(t, 2, a.refs)
	assert.Same(t, a, c.get(20))
	assert.Equal(t, 3, a.refs)
	assert.Nil(t, c.get(21))
}

func TestNodeCacheReleaseEvictsLRU(t *testing.T) {
	c := newNodeCache(3)
	a := c.insert(cachedNode(20))
	b := c.insert(cachedNode(21))
	c.insert(cachedNode(22))

	_, victims := c.release(a)
	assert.Empty(t, victims, "within capacity")

	c.insert(cachedNode(23))
	_, victims = c.release(b)
	require.Len(t, victims, 1)
	assert.Same(t, a, victims[0], "least recently released goes first")
	c.finishEvict(victims[0])
	assert.Nil(t, c.peek(20))
	assert.Equal(t, 3, c.len())
}

func TestNodeCacheReferenceCancelsEviction(t *testing.T) {
	c := newNodeCache(1)
	a := c.insert(cachedNode(20))
	b := c.insert(cachedNode(21))

	_, victims := c.release(a)
	require.Len(t, victims, 1)

	// Looked up again while the volume flushes it
	again := c.get(20)
	require.Same(t, a, again)
	c.finishEvict(victims[0])
	assert.Same(t, a, c.peek(20))

	_, _ = c.release(b)
}

func TestNodeCacheReleaseDeleted(t *testing.T) {
	c := newNodeCache(4)
	n := c.insert(cachedNode(20))
	n.setFlags(flagDeleted, 0)

	reclaim, victims := c.release(n)
	assert.True(t, reclaim)
	assert.Empty(t, victims)
	assert.Equal(t, 1, n.refs, "the reclaimer inherits the last reference")
}

func TestNodeCacheReleaseNoExists(t *testing.T) {
	c := newNodeCache(4)
	n := c.insert(cachedNode(20))
	n.setFlags(flagNoExists, 0)

	reclaim, _ := c.release(n)
	assert.False(t, reclaim)
	assert.Nil(t, c.peek(20))
}

func TestNodeCacheDirty(t *testing.T) {
	c := newNodeCache(4)
	clean := c.insert(cachedNode(20))
	dirty := c.insert(cachedNode(21))
	dirty.setFlags(flagModified, 0)

	got := c.dirty()
	require.Len(t, got, 1)
	assert.Same(t, dirty, got[0])
	assert.Equal(t, 2, dirty.refs)
	assert.Equal(t, 1, clean.refs)
}
