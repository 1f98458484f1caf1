package hfsplus

// Enumeration cookies.
//
// A cookie packs the index of the next entry to return (counting the
// synthesized "." and ".." entries) into its low IndexBits bits, and the
// generation tag of the directory hint that remembers the catalog position
// into the TagBits above them. The two sentinels CookieStart and CookieEOF
// never decode to a resumable position.
const (
	IndexBits = 26
	TagBits   = 6

	IndexMask = 1<<IndexBits - 1
	tagMask   = 1<<TagBits - 1

	// CookieStart begins an enumeration
	CookieStart uint64 = 0

	// CookieEOF is returned once a directory is exhausted. Enumerating with
	// it always yields no entries and never touches the catalog.
	CookieEOF uint64 = ^uint64(0)

	// VerifierInitial is the verifier a caller passes with CookieStart when
	// it has no verifier yet. Directory versions start at 1, so it never
	// equals a real DirVersion.
	VerifierInitial uint64 = 0
)

// dotEntries is the number of synthesized entries ("." and "..") at the
// head of a plain or attribute enumeration.
const dotEntries = 2

// EncodeCookie builds a cookie from an entry index and a hint tag.
func EncodeCookie(index uint32, tag uint8) uint64 {
	return uint64(index&IndexMask) | uint64(tag&tagMask)<<IndexBits
}

// DecodeCookie splits a cookie into its entry index and hint tag.
func DecodeCookie(cookie uint64) (index uint32, tag uint8) {
	return uint32(cookie & IndexMask), uint8((cookie >> IndexBits) & tagMask)
}
