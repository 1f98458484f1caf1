package hfsplus

import (
	"context"
	"time"

	"github.com/marmos91/dittohfs/internal/logger"
	"github.com/marmos91/dittohfs/pkg/store/catalog"
)

// ReadDirResult describes the outcome of one enumeration call.
type ReadDirResult struct {
	// Count is the number of records packed into the buffer
	Count int

	// Length is the number of buffer bytes used
	Length int

	// Cookie resumes the enumeration after the last packed record. It is
	// CookieEOF once a call finds nothing left, and echoes the request
	// cookie when the buffer could not hold a single record.
	Cookie uint64

	// Verifier is the directory version the cookie is valid for
	Verifier uint64

	// EOF reports that the directory was exhausted by this call
	EOF bool
}

// ReadDirAttrOptions tune ReadDirAttr.
type ReadDirAttrOptions struct {
	// ResumeID is the CNID of the last entry the caller received. When the
	// cookie's hint is gone, the enumeration resumes after that entry.
	ResumeID catalog.CNID
}

// ReadDir packs plain directory records into buf, starting at cookie.
//
// The first call passes CookieStart with VerifierInitial (or the current
// verifier). Every later call passes the cookie and verifier returned by
// the previous one; a verifier that no longer matches the directory's
// version fails with ErrVerifierMismatch.
func (v *Volume) ReadDir(ctx context.Context, dir *Node, cookie, verifier uint64, buf []byte) (ReadDirResult, error) {
	start := time.Now()
	res, err := v.readDir(ctx, dir, cookie, verifier, buf, false, 0)
	v.metrics.RecordOperation("readdir", time.Since(start), err)
	return res, err
}

// ReadDirAttr is ReadDir with an attribute block in every record.
func (v *Volume) ReadDirAttr(ctx context.Context, dir *Node, cookie, verifier uint64, buf []byte, opts ReadDirAttrOptions) (ReadDirResult, error) {
	start := time.Now()
	res, err := v.readDir(ctx, dir, cookie, verifier, buf, true, opts.ResumeID)
	v.metrics.RecordOperation("readdirattr", time.Since(start), err)
	return res, err
}

func (v *Volume) readDir(ctx context.Context, dir *Node, cookie, verifier uint64, buf []byte, withAttrs bool, resumeID catalog.CNID) (ReadDirResult, error) {
	dir.lock.Lock()
	defer dir.lock.Unlock()

	var res ReadDirResult
	version, index, tag, done, err := v.verifyCookie(dir, cookie, verifier, dotEntries)
	res.Verifier = version
	if err != nil {
		return res, err
	}
	if done {
		res.Cookie = CookieEOF
		res.EOF = true
		return res, nil
	}

	p := newPacker(buf, withAttrs, v.store.BlockSize())
	newTag := dir.nextHintTag()
	full := false

	for index < dotEntries {
		e := v.dotEntry(ctx, dir, index)
		if !p.add(&e, EncodeCookie(index+1, newTag)) {
			full = true
			break
		}
		index++
	}

	atEnd := false
	if !full {
		c := v.openCursor(ctx, dir, index, tag, dotEntries, resumeID)
		for {
			e, err := c.peek(ctx)
			if err != nil {
				c.close(false, 0)
				return res, err
			}
			if e == nil {
				break
			}
			if !p.add(e, EncodeCookie(c.index+1, newTag)) {
				break
			}
			c.advance()
		}
		index = c.index
		atEnd = c.atEnd()
		c.close(!atEnd && p.count > 0, newTag)
	}
	p.finish()

	res.Count = p.count
	res.Length = p.off
	switch {
	case p.count == 0 && atEnd:
		res.Cookie = CookieEOF
		res.EOF = true
	case p.count == 0:
		// Not even one record fit
		res.Cookie = cookie
	default:
		res.Cookie = EncodeCookie(index, newTag)
		res.EOF = atEnd
	}

	now := time.Now()
	dir.touchDirty(func(a *catalog.Attributes) { a.AccessTime = now })
	return res, nil
}

// verifyCookie validates an enumeration request against dir's current
// version. done reports that the enumeration is over without reading the
// catalog: the EOF cookie, or a directory that was removed while open.
// Caller holds dir.lock exclusive.
func (v *Volume) verifyCookie(dir *Node, cookie, verifier uint64, base uint32) (version uint64, index uint32, tag uint8, done bool, err error) {
	desc, attrs, flags := dir.snapshot()
	version = attrs.DirVersion

	switch {
	case attrs.Type != catalog.TypeDirectory:
		return version, 0, 0, false, catalog.NewError(catalog.ErrNotDirectory, "not a directory", desc.Name)
	case flags&flagNoExists != 0:
		return version, 0, 0, false, notFound("directory no longer exists", desc.Name)
	case cookie == CookieEOF:
		return version, 0, 0, true, nil
	case cookie == CookieStart:
		if verifier != VerifierInitial && verifier != version {
			return version, 0, 0, false, catalog.NewError(catalog.ErrVerifierMismatch, "verifier mismatch", desc.Name)
		}
	case verifier != version:
		return version, 0, 0, false, catalog.NewError(catalog.ErrVerifierMismatch, "verifier mismatch", desc.Name)
	}

	if flags&flagDeleted != 0 {
		return version, 0, 0, true, nil
	}

	index, tag = DecodeCookie(cookie)
	if uint64(index) > uint64(attrs.Valence)+uint64(base) {
		return version, 0, 0, false, catalog.NewError(catalog.ErrBadCookie, "cookie beyond end of directory", desc.Name)
	}
	return version, index, tag, false, nil
}

// dotEntry synthesizes "." (index 0) or ".." (index 1).
func (v *Volume) dotEntry(ctx context.Context, dir *Node, index uint32) dirEntry {
	desc, attrs, _ := dir.snapshot()
	if index == 0 {
		return dirEntry{id: dir.id, name: ".", parent: desc.ParentID, attrs: attrs}
	}

	e := dirEntry{id: desc.ParentID, name: "..", attrs: attrs}
	if dir.id == catalog.RootFolderID {
		return e
	}
	if pn := v.cache.peek(desc.ParentID); pn != nil {
		pdesc, pattrs, _ := pn.snapshot()
		e.parent, e.attrs = pdesc.ParentID, pattrs
		return e
	}
	v.catalogLock.RLock()
	rec, err := v.store.LookupByID(ctx, nil, desc.ParentID)
	v.catalogLock.RUnlock()
	if err == nil {
		e.parent, e.attrs = rec.Desc.ParentID, rec.Attrs
	}
	return e
}

// cursor walks a directory's catalog entries for one enumeration call.
//
// The cursor index counts in cookie space: base synthesized entries come
// first, then every catalog entry including the hidden metadata folders,
// which are skipped but still counted.
type cursor struct {
	v     *Volume
	dir   *Node
	base  uint32
	index uint32

	hint  *DirHint
	found bool

	pos     catalog.Position
	pending []catalog.Record
	eof     bool
	valence uint32
}

// openCursor positions a cursor at cookie index using the directory hint
// left by the previous call, the resume identifier, or a plain offset.
// Caller holds dir.lock exclusive.
func (v *Volume) openCursor(ctx context.Context, dir *Node, index uint32, tag uint8, base uint32, resumeID catalog.CNID) *cursor {
	_, attrs, _ := dir.snapshot()
	c := &cursor{v: v, dir: dir, base: base, index: index, valence: attrs.Valence}

	c.hint, c.found = dir.takeHint(index, tag, v.opts.MaxDirHints)
	if index > base {
		v.metrics.RecordHintLookup(c.found)
	}

	switch {
	case c.found && c.hint.positioned():
		c.pos = catalog.Position{LastName: c.hint.LastName, LastID: c.hint.LastID}
	case resumeID != 0 && index > base:
		v.catalogLock.RLock()
		rec, err := v.store.LookupByID(ctx, nil, resumeID)
		v.catalogLock.RUnlock()
		if err == nil && rec.Desc.ParentID == dir.id {
			c.pos = catalog.Position{LastName: rec.Desc.Name, LastID: rec.Desc.ID}
			break
		}
		c.pos = catalog.Position{Index: index - base}
	default:
		c.pos = catalog.Position{Index: index - base}
	}
	return c
}

// fetch reads the next batch under the shared catalog lock.
func (c *cursor) fetch(ctx context.Context) error {
	v := c.v
	v.catalogLock.RLock()
	batch, eof, err := v.store.GetBatch(ctx, nil, c.dir.id, c.pos, v.opts.BatchSize)
	v.catalogLock.RUnlock()
	if err != nil {
		return err
	}

	if len(batch) > 0 && c.valence == 0 {
		c.heal()
	}

	c.pending = batch
	c.eof = eof || len(batch) == 0
	if n := len(batch); n > 0 {
		last := batch[n-1].Desc
		c.pos = catalog.Position{LastName: last.Name, LastID: last.ID}
	}
	return nil
}

// heal corrects a directory whose entry count reads zero although the
// catalog holds entries. The count is raised to exactly one and left for
// offline repair to recompute.
func (c *cursor) heal() {
	c.valence = 1
	c.dir.touchDirty(func(a *catalog.Attributes) {
		if a.Valence == 0 {
			a.Valence = 1
		}
	})
	if c.v.warn.Allow(c.dir.id) {
		logger.Warn("directory %d has valence 0 but holds entries, set to 1", c.dir.id)
	}
	c.v.metrics.RecordSelfHeal()
}

// peek returns the next visible entry without consuming it, or nil once
// the directory is exhausted.
func (c *cursor) peek(ctx context.Context) (*dirEntry, error) {
	for {
		if len(c.pending) == 0 {
			if c.eof {
				return nil, nil
			}
			if err := c.fetch(ctx); err != nil {
				return nil, err
			}
			continue
		}

		rec := c.pending[0]
		if c.dir.id == catalog.RootFolderID && c.v.isPrivateDir(rec.Desc.ID) {
			c.advance()
			continue
		}
		return c.v.resolveEntry(ctx, rec), nil
	}
}

// advance consumes the entry returned by the last peek.
func (c *cursor) advance() {
	rec := c.pending[0]
	c.pending = c.pending[1:]
	c.index++

	c.hint.LastName = rec.Desc.Name
	c.hint.LastID = rec.Desc.ID
	c.hint.ThreadHint = rec.Desc.Hint
	c.hint.Index = c.index - 1
}

func (c *cursor) atEnd() bool {
	return c.eof && len(c.pending) == 0
}

// close reattaches the hint under tag when retain is set. A hint that was
// found but not advanced is put back unchanged; anything else is dropped.
func (c *cursor) close(retain bool, tag uint8) {
	switch {
	case retain:
		c.hint.Tag = tag
		c.hint.Index = c.index - 1
		c.dir.putHint(c.hint, c.v.opts.MaxDirHints)
	case c.found && !c.atEnd():
		c.dir.putHint(c.hint, c.v.opts.MaxDirHints)
	}
}

// resolveEntry turns a catalog record into an enumeration entry. Link
// records report their indirect node, and cached nodes override the
// catalog snapshot with their possibly newer in-memory attributes.
func (v *Volume) resolveEntry(ctx context.Context, rec catalog.Record) *dirEntry {
	e := &dirEntry{id: rec.Desc.ID, name: rec.Desc.Name, parent: rec.Desc.ParentID, attrs: rec.Attrs}

	if rec.Attrs.Type == catalog.TypeHardLink {
		e.id = rec.Attrs.LinkRef
		if n := v.cache.peek(e.id); n == nil {
			v.catalogLock.RLock()
			inode, err := v.store.LookupByID(ctx, nil, e.id)
			v.catalogLock.RUnlock()
			if err != nil {
				logger.Warn("hard link %s points at missing inode %d: %v", rec.Desc, e.id, err)
				return e
			}
			e.attrs = inode.Attrs
			return e
		}
	}

	if n := v.cache.peek(e.id); n != nil {
		n.mu.Lock()
		e.attrs = n.attrs.Clone()
		n.mu.Unlock()
	}
	return e
}
