package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextCNID(t *testing.T) {
	never := func(CNID) (bool, error) { return false, nil }

	t.Run("Sequential", func(t *testing.T) {
		hdr := NewVolumeHeader(false, time.Now())
		a, err := NextCNID(&hdr, never)
		require.NoError(t, err)
		b, err := NextCNID(&hdr, never)
		require.NoError(t, err)
		assert.Equal(t, FirstUserCatalogNodeID, a)
		assert.Equal(t, FirstUserCatalogNodeID+1, b)
		assert.Zero(t, hdr.Attributes&VolumeIDsReused)
	})

	t.Run("WrapMarksReused", func(t *testing.T) {
		hdr := NewVolumeHeader(false, time.Now())
		hdr.NextCatalogID = MaxCNID
		id, err := NextCNID(&hdr, never)
		require.NoError(t, err)
		assert.Equal(t, MaxCNID, id)
		assert.NotZero(t, hdr.Attributes&VolumeIDsReused)
		assert.Equal(t, FirstUserCatalogNodeID, hdr.NextCatalogID)
	})

	t.Run("ReusedSkipsLiveIDs", func(t *testing.T) {
		hdr := NewVolumeHeader(false, time.Now())
		hdr.Attributes |= VolumeIDsReused
		live := map[CNID]bool{16: true, 17: true}
		id, err := NextCNID(&hdr, func(c CNID) (bool, error) { return live[c], nil })
		require.NoError(t, err)
		assert.Equal(t, CNID(18), id)
		assert.Equal(t, CNID(19), hdr.NextCatalogID)
	})
}

func TestRootRecord(t *testing.T) {
	rec := RootRecord(time.Now())
	assert.Equal(t, RootFolderID, rec.Desc.ID)
	assert.Equal(t, RootParentID, rec.Desc.ParentID)
	assert.True(t, rec.Attrs.IsDir())
	assert.NotEqual(t, uint64(0), rec.Attrs.DirVersion)
}
