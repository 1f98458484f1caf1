package hfsplus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCookieRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		index uint32
		tag   uint8
	}{
		{"first entry", 1, 1},
		{"max tag", 42, tagMask},
		{"max index", IndexMask, 7},
		{"no tag", 5, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			index, tag := DecodeCookie(EncodeCookie(tt.index, tt.tag))
			assert.Equal(t, tt.index, index)
			assert.Equal(t, tt.tag, tag)
		})
	}
}

func TestCookieTruncatesOverflow(t *testing.T) {
	index, tag := DecodeCookie(EncodeCookie(IndexMask+3, tagMask+2))
	assert.Equal(t, uint32(2), index)
	assert.Equal(t, uint8(1), tag)
}

func TestCookieSentinels(t *testing.T) {
	index, tag := DecodeCookie(CookieStart)
	assert.Zero(t, index)
	assert.Zero(t, tag)

	assert.NotEqual(t, CookieEOF, EncodeCookie(IndexMask, tagMask), "EOF never collides with a real cookie")
	assert.Less(t, EncodeCookie(IndexMask, tagMask), uint64(1)<<(IndexBits+TagBits))
}
