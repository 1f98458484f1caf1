package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTakeExtents(t *testing.T) {
	free := NewFreeBitmap(100)
	free.RemoveRange(10, 20)

	extents, err := TakeExtents(free, 15)
	require.NoError(t, err)
	assert.Equal(t, []Extent{{Start: 0, Count: 10}, {Start: 20, Count: 5}}, extents)
	assert.Equal(t, uint64(75), free.GetCardinality())

	_, err = TakeExtents(free, 1000)
	assert.True(t, IsCode(err, ErrNoSpace))
	assert.Equal(t, uint64(75), free.GetCardinality())

	ReturnExtents(free, extents)
	assert.Equal(t, uint64(90), free.GetCardinality())
}

func TestTrimExtents(t *testing.T) {
	extents := []Extent{{Start: 0, Count: 4}, {Start: 10, Count: 4}}

	kept, released := TrimExtents(extents, 6)
	assert.Equal(t, []Extent{{Start: 0, Count: 4}, {Start: 10, Count: 2}}, kept)
	assert.Equal(t, []Extent{{Start: 12, Count: 2}}, released)

	kept, released = TrimExtents(extents, 0)
	assert.Empty(t, kept)
	assert.Equal(t, uint32(8), ExtentBlocks(released))
}
