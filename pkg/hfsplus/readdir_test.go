package hfsplus

import (
	"fmt"
	"testing"

	"github.com/marmos91/dittohfs/pkg/store/catalog"
	catalogtesting "github.com/marmos91/dittohfs/pkg/store/catalog/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entryNames(entries []DirEntry) []string {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names
}

// readAll enumerates dir to the end with buffers of bufSize bytes.
func (tv *testVolume) readAll(dir *Node, bufSize int) []DirEntry {
	tv.t.Helper()
	var out []DirEntry
	cookie, verifier := CookieStart, VerifierInitial
	for i := 0; i < 10000; i++ {
		buf := make([]byte, bufSize)
		res, err := tv.vol.ReadDir(tv.ctx, dir, cookie, verifier, buf)
		require.NoError(tv.t, err)
		if res.Count > 0 {
			entries, err := DecodeDirEntries(buf[:res.Length])
			require.NoError(tv.t, err)
			require.Len(tv.t, entries, res.Count)
			out = append(out, entries...)
		}
		if res.EOF {
			return out
		}
		require.NotZero(tv.t, res.Count, "no progress with cookie %#x", cookie)
		cookie, verifier = res.Cookie, res.Verifier
	}
	tv.t.Fatal("enumeration did not terminate")
	return nil
}

func TestReadDirScenario(t *testing.T) {
	tv := newTestVolume(t)
	root := tv.root()

	d := tv.mkdir(root, "D")
	f, err := tv.vol.Create(tv.ctx, d, "f", CreateAttrs{Mask: AttrMode, Mode: 0o644})
	require.NoError(t, err)

	buf := make([]byte, 4096)
	res, err := tv.vol.ReadDir(tv.ctx, d, CookieStart, VerifierInitial, buf)
	require.NoError(t, err)
	require.Equal(t, 3, res.Count)
	entries, err := DecodeDirEntries(buf[:res.Length])
	require.NoError(t, err)
	assert.Equal(t, []string{".", "..", "f"}, entryNames(entries))
	assert.Equal(t, d.ID(), entries[0].FileID)
	assert.Equal(t, catalog.RootFolderID, entries[1].FileID)
	assert.Equal(t, f.ID(), entries[2].FileID)
	assert.Equal(t, catalog.TypeFile, entries[2].Type)
	v1 := res.Verifier
	returned := res.Cookie

	require.NoError(t, tv.vol.Remove(tv.ctx, d, f, "f", RemoveOptions{}))
	tv.vol.Release(tv.ctx, f)

	_, err = tv.vol.ReadDir(tv.ctx, d, returned, v1, buf)
	catalogtesting.AssertErrorCode(t, catalog.ErrVerifierMismatch, err)

	_, err = tv.vol.ReadDir(tv.ctx, d, CookieStart, v1, buf)
	catalogtesting.AssertErrorCode(t, catalog.ErrVerifierMismatch, err)

	v2 := tv.vol.GetAttr(d).DirVersion
	require.NotEqual(t, v1, v2)
	res, err = tv.vol.ReadDir(tv.ctx, d, CookieStart, v2, buf)
	require.NoError(t, err)
	entries, err = DecodeDirEntries(buf[:res.Length])
	require.NoError(t, err)
	assert.Equal(t, []string{".", ".."}, entryNames(entries))
	assert.True(t, res.EOF)
}

func TestReadDirVerifierGate(t *testing.T) {
	tv := newTestVolume(t)
	root := tv.root()
	d := tv.mkdir(root, "d")
	buf := make([]byte, 4096)

	version := tv.vol.GetAttr(d).DirVersion
	_, err := tv.vol.ReadDir(tv.ctx, d, CookieStart, version+7, buf)
	catalogtesting.AssertErrorCode(t, catalog.ErrVerifierMismatch, err)

	_, err = tv.vol.ReadDir(tv.ctx, d, CookieStart, version, buf)
	require.NoError(t, err)
}

func TestReadDirEOFCookie(t *testing.T) {
	tv := newTestVolume(t)
	root := tv.root()
	d := tv.mkdir(root, "d")
	tv.create(d, "x")

	buf := make([]byte, 4096)
	res, err := tv.vol.ReadDir(tv.ctx, d, CookieEOF, 12345, buf)
	require.NoError(t, err)
	assert.Zero(t, res.Count)
	assert.True(t, res.EOF)
	assert.Equal(t, CookieEOF, res.Cookie)
}

func TestReadDirBadCookie(t *testing.T) {
	tv := newTestVolume(t)
	root := tv.root()
	d := tv.mkdir(root, "d")
	tv.create(d, "x")

	version := tv.vol.GetAttr(d).DirVersion
	_, err := tv.vol.ReadDir(tv.ctx, d, EncodeCookie(10, 1), version, make([]byte, 4096))
	catalogtesting.AssertErrorCode(t, catalog.ErrBadCookie, err)
}

func TestReadDirNotDirectory(t *testing.T) {
	tv := newTestVolume(t)
	root := tv.root()
	f := tv.create(root, "f")

	_, err := tv.vol.ReadDir(tv.ctx, f, CookieStart, VerifierInitial, make([]byte, 4096))
	catalogtesting.AssertErrorCode(t, catalog.ErrNotDirectory, err)
}

func TestReadDirMonotonic(t *testing.T) {
	tv := newTestVolume(t)
	root := tv.root()
	d := tv.mkdir(root, "d")

	var want []string
	for i := 0; i < 150; i++ {
		name := fmt.Sprintf("entry-%03d", i)
		n, err := tv.vol.Create(tv.ctx, d, name, CreateAttrs{Mask: AttrMode, Mode: 0o644})
		require.NoError(t, err)
		tv.vol.Release(tv.ctx, n)
		want = append(want, name)
	}

	for _, size := range []int{48, 100, 256, 4096} {
		t.Run(fmt.Sprintf("buf%d", size), func(t *testing.T) {
			entries := tv.readAll(d, size)
			names := entryNames(entries)
			require.Equal(t, []string{".", ".."}, names[:2])
			assert.Equal(t, want, names[2:], "every entry exactly once, in order")
		})
	}

	// A second pass returns the same order
	assert.Equal(t, entryNames(tv.readAll(d, 128)), entryNames(tv.readAll(d, 128)))
}

func TestReadDirCookiesResume(t *testing.T) {
	tv := newTestVolume(t)
	root := tv.root()
	d := tv.mkdir(root, "d")
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		tv.create(d, name)
	}

	buf := make([]byte, 4096)
	res, err := tv.vol.ReadDir(tv.ctx, d, CookieStart, VerifierInitial, buf)
	require.NoError(t, err)
	entries, err := DecodeDirEntries(buf[:res.Length])
	require.NoError(t, err)
	require.Len(t, entries, 7)

	// Every per-entry cookie resumes right after that entry, even without
	// a hint for it
	for i, e := range entries[:len(entries)-1] {
		res, err := tv.vol.ReadDir(tv.ctx, d, e.Cookie, res.Verifier, buf)
		require.NoError(t, err)
		rest, err := DecodeDirEntries(buf[:res.Length])
		require.NoError(t, err)
		assert.Equal(t, entryNames(entries[i+1:]), entryNames(rest), "resume after %q", e.Name)
	}
}

func TestReadDirBufferTooSmall(t *testing.T) {
	tv := newTestVolume(t)
	root := tv.root()
	d := tv.mkdir(root, "d")
	tv.create(d, "a-rather-long-file-name")

	buf := make([]byte, 64)
	res, err := tv.vol.ReadDir(tv.ctx, d, CookieStart, VerifierInitial, buf)
	require.NoError(t, err)
	require.Equal(t, 2, res.Count)
	require.False(t, res.EOF)

	// The long name needs a 48-byte record
	res2, err := tv.vol.ReadDir(tv.ctx, d, res.Cookie, res.Verifier, buf[:40])
	require.NoError(t, err)
	assert.Zero(t, res2.Count)
	assert.False(t, res2.EOF)
	assert.Equal(t, res.Cookie, res2.Cookie, "cookie is echoed when nothing fits")

	big := make([]byte, 4096)
	res3, err := tv.vol.ReadDir(tv.ctx, d, res2.Cookie, res2.Verifier, big)
	require.NoError(t, err)
	entries, err := DecodeDirEntries(big[:res3.Length])
	require.NoError(t, err)
	assert.Equal(t, []string{"a-rather-long-file-name"}, entryNames(entries))
	assert.True(t, res3.EOF)
}

func TestReadDirSkipsPrivateFolders(t *testing.T) {
	tv := newTestVolume(t)
	root := tv.root()
	tv.create(root, "visible")

	entries := tv.readAll(root, 4096)
	assert.Equal(t, []string{".", "..", "visible"}, entryNames(entries))

	// The same holds when every entry needs its own call
	entries = tv.readAll(root, 40)
	assert.Equal(t, []string{".", "..", "visible"}, entryNames(entries))
}

func TestReadDirSelfHealsValence(t *testing.T) {
	tv := newTestVolume(t)
	root := tv.root()
	d := tv.mkdir(root, "d")
	tv.create(d, "a")
	tv.create(d, "b")
	tv.create(d, "c")

	d.mu.Lock()
	d.attrs.Valence = 0
	d.mu.Unlock()

	entries := tv.readAll(d, 4096)
	assert.Len(t, entries, 5)

	attrs := tv.vol.GetAttr(d)
	assert.Equal(t, uint32(1), attrs.Valence, "raised to exactly one, never recounted")
	assert.True(t, d.IsModified())
}

func TestReadDirTouchesAccessTime(t *testing.T) {
	tv := newTestVolume(t)
	root := tv.root()
	d := tv.mkdir(root, "d")
	before := tv.vol.GetAttr(d)

	_, err := tv.vol.ReadDir(tv.ctx, d, CookieStart, VerifierInitial, make([]byte, 4096))
	require.NoError(t, err)

	after := tv.vol.GetAttr(d)
	assert.False(t, after.AccessTime.Before(before.AccessTime))
	assert.Equal(t, before.DirVersion, after.DirVersion, "enumeration never changes the verifier")
	assert.True(t, d.IsModified())
}

func TestReadDirAttr(t *testing.T) {
	tv := newTestVolume(t)
	root := tv.root()
	d := tv.mkdir(root, "d")
	f, err := tv.vol.Create(tv.ctx, d, "f", CreateAttrs{Mask: AttrMode | AttrUID | AttrGID | AttrSize, Mode: 0o600, UID: 501, GID: 20, Size: 5000})
	require.NoError(t, err)
	defer tv.vol.Release(tv.ctx, f)
	sub := tv.mkdir(d, "sub")

	buf := make([]byte, 4096)
	res, err := tv.vol.ReadDirAttr(tv.ctx, d, CookieStart, VerifierInitial, buf, ReadDirAttrOptions{})
	require.NoError(t, err)
	entries, err := DecodeDirEntriesAttr(buf[:res.Length])
	require.NoError(t, err)
	require.Equal(t, []string{".", "..", "f", "sub"}, entryNames(entries))

	fe := entries[2]
	require.NotNil(t, fe.Attr)
	assert.Equal(t, ValidAll, fe.Attr.ValidMask)
	assert.Equal(t, catalog.ModeRegular|0o600, fe.Attr.Mode)
	assert.Equal(t, uint32(501), fe.Attr.UID)
	assert.Equal(t, uint32(20), fe.Attr.GID)
	assert.Equal(t, uint64(5000), fe.Attr.Size)
	assert.Equal(t, uint64(2*4096), fe.Attr.AllocSize)
	assert.Equal(t, d.ID(), fe.Attr.ParentID)
	assert.Equal(t, uint32(1), fe.Attr.LinkCount)

	se := entries[3]
	assert.Equal(t, sub.ID(), se.FileID)
	assert.Equal(t, catalog.TypeDirectory, se.Type)

	dot := entries[0]
	assert.Equal(t, catalog.RootFolderID, dot.Attr.ParentID)
	dotdot := entries[1]
	assert.Equal(t, catalog.RootParentID, dotdot.Attr.ParentID)
}

func TestReadDirAttrOverlaysCachedAttributes(t *testing.T) {
	tv := newTestVolume(t)
	root := tv.root()
	d := tv.mkdir(root, "d")
	f := tv.create(d, "f")

	f.touchDirty(func(a *catalog.Attributes) { a.UID = 4242 })

	buf := make([]byte, 4096)
	res, err := tv.vol.ReadDirAttr(tv.ctx, d, CookieStart, VerifierInitial, buf, ReadDirAttrOptions{})
	require.NoError(t, err)
	entries, err := DecodeDirEntriesAttr(buf[:res.Length])
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, uint32(4242), entries[2].Attr.UID, "unflushed in-memory attributes win")
}

func TestReadDirAttrResumeID(t *testing.T) {
	tv := newTestVolume(t)
	root := tv.root()
	d := tv.mkdir(root, "d")
	var ids []catalog.CNID
	for _, name := range []string{"a", "b", "c", "d"} {
		ids = append(ids, tv.create(d, name).ID())
	}

	buf := make([]byte, 4096)
	res, err := tv.vol.ReadDirAttr(tv.ctx, d, CookieStart, VerifierInitial, buf, ReadDirAttrOptions{})
	require.NoError(t, err)
	require.True(t, res.EOF)

	// By offset, index 3 resumes at "b". The identifier of "b" says the
	// caller already has it.
	res, err = tv.vol.ReadDirAttr(tv.ctx, d, EncodeCookie(3, 9), res.Verifier, buf, ReadDirAttrOptions{ResumeID: ids[1]})
	require.NoError(t, err)
	entries, err := DecodeDirEntriesAttr(buf[:res.Length])
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "d"}, entryNames(entries))
	assert.True(t, res.EOF)
}

func TestReadDirDeletedDirectory(t *testing.T) {
	tv := newTestVolume(t)
	root := tv.root()
	d := tv.mkdir(root, "d")
	require.NoError(t, tv.vol.SetXattr(tv.ctx, d, "user.tag", []byte("x")))

	// Directories with extended attributes are orphaned, so they stay
	// open after removal
	require.NoError(t, tv.vol.RmDir(tv.ctx, root, d, "d"))
	require.True(t, d.IsDeleted())

	res, err := tv.vol.ReadDir(tv.ctx, d, CookieStart, VerifierInitial, make([]byte, 4096))
	require.NoError(t, err)
	assert.Zero(t, res.Count)
	assert.True(t, res.EOF)
}

func TestReadDirHints(t *testing.T) {
	tv := newTestVolume(t)
	root := tv.root()
	d := tv.mkdir(root, "d")
	for i := 0; i < 10; i++ {
		tv.create(d, fmt.Sprintf("f%d", i))
	}

	buf := make([]byte, 100)
	res, err := tv.vol.ReadDir(tv.ctx, d, CookieStart, VerifierInitial, buf)
	require.NoError(t, err)
	require.False(t, res.EOF)

	d.lock.Lock()
	require.Len(t, d.hints, 1)
	index, tag := DecodeCookie(res.Cookie)
	assert.Equal(t, index-1, d.hints[0].Index)
	assert.Equal(t, tag, d.hints[0].Tag)
	assert.True(t, d.hints[0].positioned())
	d.lock.Unlock()

	res, err = tv.vol.ReadDir(tv.ctx, d, res.Cookie, res.Verifier, make([]byte, 4096))
	require.NoError(t, err)
	require.True(t, res.EOF)
	d.lock.Lock()
	assert.Empty(t, d.hints, "finished enumerations drop their hint")
	d.lock.Unlock()
}
