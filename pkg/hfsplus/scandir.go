package hfsplus

import (
	"context"
	"strings"
	"time"

	"github.com/marmos91/dittohfs/pkg/store/catalog"
)

// ScanCriteria filters a ScanDir enumeration. Every set filter must match.
type ScanCriteria struct {
	// AllowHidden includes entries whose name starts with "." or that
	// carry the UF_HIDDEN flag
	AllowHidden bool

	// NameContains matches names containing any of the substrings
	NameContains []string

	// NameSuffix matches names ending in any of the suffixes
	NameSuffix []string

	// Types matches entries of any of the listed types
	Types []catalog.NodeType

	// ModifiedSince matches entries modified at or after the time
	ModifiedSince time.Time
}

// ScanResult is the single entry returned by one ScanDir call.
type ScanResult struct {
	// Entry carries the attribute block of the returned entry
	Entry DirEntry

	// Matched reports that Entry passed every filter
	Matched bool

	// Push reports that Entry is a directory the caller may descend into,
	// whether or not it matched
	Push bool

	Cookie   uint64
	Verifier uint64
	EOF      bool
}

// ScanDir returns the next entry of dir, starting at cookie, that matches
// criteria or is a directory. It never returns "." or "..".
//
// Once the directory is exhausted the result has EOF set with CookieEOF,
// and the error is an ErrEndOfDirectory StoreError.
func (v *Volume) ScanDir(ctx context.Context, dir *Node, cookie, verifier uint64, criteria ScanCriteria) (ScanResult, error) {
	start := time.Now()
	res, err := v.scanDir(ctx, dir, cookie, verifier, &criteria)
	if catalog.IsCode(err, catalog.ErrEndOfDirectory) {
		v.metrics.RecordOperation("scandir", time.Since(start), nil)
	} else {
		v.metrics.RecordOperation("scandir", time.Since(start), err)
	}
	return res, err
}

func (v *Volume) scanDir(ctx context.Context, dir *Node, cookie, verifier uint64, criteria *ScanCriteria) (ScanResult, error) {
	dir.lock.Lock()
	defer dir.lock.Unlock()

	var res ScanResult
	version, index, tag, done, err := v.verifyCookie(dir, cookie, verifier, 0)
	res.Verifier = version
	if err != nil {
		return res, err
	}
	if done {
		return endOfScan(res)
	}

	newTag := dir.nextHintTag()
	caseSensitive := v.store.CaseSensitive()
	c := v.openCursor(ctx, dir, index, tag, 0, 0)
	for {
		e, err := c.peek(ctx)
		if err != nil {
			c.close(false, 0)
			return res, err
		}
		if e == nil {
			break
		}
		c.advance()

		// Hidden entries never match, but a hidden directory is still
		// returned so the caller can descend into it
		matched := (criteria.AllowHidden || !isHidden(e)) && criteria.matches(e, caseSensitive)
		isDir := e.attrs.Type == catalog.TypeDirectory
		if !matched && !isDir {
			continue
		}

		res.Cookie = EncodeCookie(c.index, newTag)
		res.Entry = DirEntry{
			FileID: e.id,
			Cookie: res.Cookie,
			Type:   e.attrs.Type,
			Name:   e.name,
			Attr:   entryAttr(e, v.store.BlockSize()),
		}
		res.Matched = matched
		res.Push = isDir
		c.close(true, newTag)

		now := time.Now()
		dir.touchDirty(func(a *catalog.Attributes) { a.AccessTime = now })
		return res, nil
	}

	c.close(false, 0)
	return endOfScan(res)
}

func endOfScan(res ScanResult) (ScanResult, error) {
	res.EOF = true
	res.Cookie = CookieEOF
	return res, catalog.NewError(catalog.ErrEndOfDirectory, "end of directory", "")
}

func isHidden(e *dirEntry) bool {
	return strings.HasPrefix(e.name, ".") || e.attrs.BSDFlags&catalog.UFHidden != 0
}

// matches applies the name, type and time filters.
func (c *ScanCriteria) matches(e *dirEntry, caseSensitive bool) bool {
	if len(c.Types) > 0 {
		ok := false
		for _, t := range c.Types {
			if t == e.attrs.Type {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if !c.ModifiedSince.IsZero() && e.attrs.ModifyTime.Before(c.ModifiedSince) {
		return false
	}
	if len(c.NameContains) == 0 && len(c.NameSuffix) == 0 {
		return true
	}

	name := catalog.FoldName(e.name, caseSensitive)
	if len(c.NameContains) > 0 && !anyName(name, c.NameContains, caseSensitive, strings.Contains) {
		return false
	}
	if len(c.NameSuffix) > 0 && !anyName(name, c.NameSuffix, caseSensitive, strings.HasSuffix) {
		return false
	}
	return true
}

func anyName(name string, patterns []string, caseSensitive bool, match func(s, p string) bool) bool {
	for _, p := range patterns {
		if match(name, catalog.FoldName(p, caseSensitive)) {
			return true
		}
	}
	return false
}

// entryAttr builds the attribute block reported for e.
func entryAttr(e *dirEntry, blockSize uint32) *EntryAttr {
	a := &e.attrs
	return &EntryAttr{
		ValidMask:  ValidAll,
		Mode:       a.Mode,
		UID:        a.UID,
		GID:        a.GID,
		LinkCount:  a.LinkCount,
		Size:       a.DataFork.Size,
		AllocSize:  uint64(a.DataFork.Blocks+a.RsrcFork.Blocks) * uint64(blockSize),
		AccessTime: a.AccessTime,
		ModifyTime: a.ModifyTime,
		ChangeTime: a.ChangeTime,
		BirthTime:  a.CreateTime,
		BSDFlags:   a.BSDFlags,
		ParentID:   e.parent,
	}
}
