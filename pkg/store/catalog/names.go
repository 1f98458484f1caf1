package catalog

import (
	"strings"
	"sync"
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// MaxNameUnits is the longest name HFS+ can store, in UTF-16 code units.
const MaxNameUnits = 255

// Casers carry state and must not be shared between goroutines.
var folders = sync.Pool{
	New: func() any {
		c := cases.Fold()
		return &c
	},
}

// FoldName returns the catalog key form of name.
//
// Names are stored decomposed (NFD). On case-insensitive volumes the key is
// additionally case folded, so "Readme" and "README" collide.
func FoldName(name string, caseSensitive bool) string {
	if caseSensitive {
		return norm.NFD.String(name)
	}
	c := folders.Get().(*cases.Caser)
	folded := c.String(name)
	c.Reset()
	folders.Put(c)
	return norm.NFD.String(folded)
}

// NamesEqual compares two names the way the catalog does.
func NamesEqual(a, b string, caseSensitive bool) bool {
	if a == b {
		return true
	}
	return FoldName(a, caseSensitive) == FoldName(b, caseSensitive)
}

// UTF16Len returns the length of name in UTF-16 code units after
// decomposition, which is what the on-disk key stores.
func UTF16Len(name string) int {
	n := 0
	for _, r := range norm.NFD.String(name) {
		n += utf16.RuneLen(r)
	}
	return n
}

// ValidateName checks that name can be stored as a catalog entry name.
func ValidateName(name string) error {
	switch {
	case name == "":
		return NewError(ErrInvalidArgument, "empty name", name)
	case name == "." || name == "..":
		return NewError(ErrInvalidArgument, "reserved name", name)
	case strings.ContainsAny(name, "/\x00"):
		return NewError(ErrInvalidArgument, "name contains '/' or NUL", name)
	case !utf8.ValidString(name):
		return NewError(ErrInvalidArgument, "name is not valid UTF-8", name)
	case UTF16Len(name) > MaxNameUnits:
		return NewError(ErrNameTooLong, "name exceeds 255 UTF-16 units", name)
	}
	return nil
}
