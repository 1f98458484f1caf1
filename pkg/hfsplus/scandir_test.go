package hfsplus

import (
	"testing"
	"time"

	"github.com/marmos91/dittohfs/pkg/store/catalog"
	catalogtesting "github.com/marmos91/dittohfs/pkg/store/catalog/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scanAll runs ScanDir to the end and returns every result.
func (tv *testVolume) scanAll(dir *Node, criteria ScanCriteria) []ScanResult {
	tv.t.Helper()
	var out []ScanResult
	cookie, verifier := CookieStart, VerifierInitial
	for i := 0; i < 1000; i++ {
		res, err := tv.vol.ScanDir(tv.ctx, dir, cookie, verifier, criteria)
		if catalog.IsCode(err, catalog.ErrEndOfDirectory) {
			require.True(tv.t, res.EOF)
			require.Equal(tv.t, CookieEOF, res.Cookie)
			return out
		}
		require.NoError(tv.t, err)
		out = append(out, res)
		cookie, verifier = res.Cookie, res.Verifier
	}
	tv.t.Fatal("scan did not terminate")
	return nil
}

func scanNames(results []ScanResult, matchedOnly bool) []string {
	var names []string
	for _, r := range results {
		if matchedOnly && !r.Matched {
			continue
		}
		names = append(names, r.Entry.Name)
	}
	return names
}

func TestScanDirFiltersBySuffix(t *testing.T) {
	tv := newTestVolume(t)
	root := tv.root()
	d := tv.mkdir(root, "d")
	for _, name := range []string{"a.txt", "b.log", "C.TXT", "sub"} {
		if name == "sub" {
			tv.mkdir(d, name)
			continue
		}
		tv.create(d, name)
	}

	results := tv.scanAll(d, ScanCriteria{NameSuffix: []string{".txt"}})
	assert.Equal(t, []string{"a.txt", "C.TXT", "sub"}, scanNames(results, false), "directories are always returned")
	assert.Equal(t, []string{"a.txt", "C.TXT"}, scanNames(results, true), "case-insensitive volume")

	for _, r := range results {
		assert.Equal(t, r.Entry.Name == "sub", r.Push)
		require.NotNil(t, r.Entry.Attr)
		assert.Equal(t, d.ID(), r.Entry.Attr.ParentID)
	}
}

func TestScanDirHidesDotFiles(t *testing.T) {
	tv := newTestVolume(t)
	root := tv.root()
	d := tv.mkdir(root, "d")
	tv.create(d, ".hidden")
	tv.create(d, "shown")
	flagged := tv.create(d, "flagged")
	hidden := catalog.UFHidden
	require.NoError(t, tv.vol.SetAttr(tv.ctx, flagged, SetAttrs{BSDFlags: &hidden}))

	assert.Equal(t, []string{"shown"}, scanNames(tv.scanAll(d, ScanCriteria{}), true))
	assert.Equal(t, []string{".hidden", "flagged", "shown"},
		scanNames(tv.scanAll(d, ScanCriteria{AllowHidden: true}), true))
}

func TestScanDirPushesHiddenDirectories(t *testing.T) {
	tv := newTestVolume(t)
	root := tv.root()
	d := tv.mkdir(root, "d")
	tv.mkdir(d, ".cache")
	tv.create(d, ".rc")
	tv.create(d, "shown")

	results := tv.scanAll(d, ScanCriteria{})
	assert.Equal(t, []string{".cache", "shown"}, scanNames(results, false))
	assert.Equal(t, []string{"shown"}, scanNames(results, true))
	for _, r := range results {
		if r.Entry.Name == ".cache" {
			assert.True(t, r.Push)
			assert.False(t, r.Matched)
		}
	}

	results = tv.scanAll(d, ScanCriteria{AllowHidden: true})
	assert.Equal(t, []string{".cache", ".rc", "shown"}, scanNames(results, true))
}

func TestScanDirTypeAndTime(t *testing.T) {
	tv := newTestVolume(t)
	root := tv.root()
	d := tv.mkdir(root, "d")
	old := tv.create(d, "old")
	tv.create(d, "new")
	_, err := tv.vol.Symlink(tv.ctx, d, "link", "new", CreateAttrs{Mask: AttrMode, Mode: 0o755})
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour)
	require.NoError(t, tv.vol.SetAttr(tv.ctx, old, SetAttrs{ModifyTime: &past}))

	since := time.Now().Add(-time.Minute)
	results := tv.scanAll(d, ScanCriteria{Types: []catalog.NodeType{catalog.TypeFile}, ModifiedSince: since})
	assert.Equal(t, []string{"new"}, scanNames(results, true))

	results = tv.scanAll(d, ScanCriteria{Types: []catalog.NodeType{catalog.TypeSymlink}})
	assert.Equal(t, []string{"link"}, scanNames(results, true))
}

func TestScanDirNameContains(t *testing.T) {
	tv := newTestVolume(t)
	root := tv.root()
	d := tv.mkdir(root, "d")
	for _, name := range []string{"report-2024", "REPORT-final", "notes"} {
		tv.create(d, name)
	}

	results := tv.scanAll(d, ScanCriteria{NameContains: []string{"report", "xyz"}})
	assert.Equal(t, []string{"report-2024", "REPORT-final"}, scanNames(results, true))
}

func TestScanDirEmptyAndVerifier(t *testing.T) {
	tv := newTestVolume(t)
	root := tv.root()
	d := tv.mkdir(root, "d")

	res, err := tv.vol.ScanDir(tv.ctx, d, CookieStart, VerifierInitial, ScanCriteria{})
	catalogtesting.AssertErrorCode(t, catalog.ErrEndOfDirectory, err)
	assert.True(t, res.EOF)
	assert.Equal(t, CookieEOF, res.Cookie)

	tv.create(d, "f")
	res, err = tv.vol.ScanDir(tv.ctx, d, CookieStart, VerifierInitial, ScanCriteria{})
	require.NoError(t, err)
	tv.create(d, "g")

	_, err = tv.vol.ScanDir(tv.ctx, d, res.Cookie, res.Verifier, ScanCriteria{})
	catalogtesting.AssertErrorCode(t, catalog.ErrVerifierMismatch, err)

	_, err = tv.vol.ScanDir(tv.ctx, d, CookieEOF, 0, ScanCriteria{})
	catalogtesting.AssertErrorCode(t, catalog.ErrEndOfDirectory, err)
}

func TestScanDirRootSkipsPrivateFolders(t *testing.T) {
	tv := newTestVolume(t)
	root := tv.root()
	tv.mkdir(root, "visible")

	results := tv.scanAll(root, ScanCriteria{AllowHidden: true})
	assert.Equal(t, []string{"visible"}, scanNames(results, false))
}
