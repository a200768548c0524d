package blobstore_test

import (
	"path/filepath"
	"testing"

	"github.com/rudransh-shrivastava/scrapyard/internal/blobstore"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *blobstore.Store {
	t.Helper()
	s, err := blobstore.Open(filepath.Join(t.TempDir(), "blobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_PutGet(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put("site-1", "index.html", []byte("<h1>hi</h1>"), "text/html"))

	got, err := s.Get("site-1", "index.html")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "text/html", got.ContentType)
	require.Equal(t, []byte("<h1>hi</h1>"), got.Bytes)
	require.EqualValues(t, len("<h1>hi</h1>"), got.ByteLength)
}

func TestStore_GetMissingReturnsNil(t *testing.T) {
	s := openTestStore(t)

	got, err := s.Get("site-1", "missing.html")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestStore_ListOnlyReturnsSiteBlobs(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put("site-1", "index.html", []byte("a"), "text/html"))
	require.NoError(t, s.Put("site-1", "assets/app.js", []byte("bb"), "application/javascript"))
	require.NoError(t, s.Put("site-2", "index.html", []byte("ccc"), "text/html"))

	blobs, err := s.List("site-1")
	require.NoError(t, err)
	require.Len(t, blobs, 2)

	total, err := s.Size("site-1")
	require.NoError(t, err)
	require.EqualValues(t, 3, total)
}

func TestStore_DeleteSiteIsIdempotent(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put("site-1", "index.html", []byte("a"), "text/html"))
	require.NoError(t, s.DeleteSite("site-1"))
	require.NoError(t, s.DeleteSite("site-1"))

	blobs, err := s.List("site-1")
	require.NoError(t, err)
	require.Empty(t, blobs)
}

func TestStore_CopySiteDuplicatesBlobs(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put("site-1", "index.html", []byte("hello"), "text/html"))
	require.NoError(t, s.Put("site-1", "assets/app.js", []byte("js"), "application/javascript"))

	require.NoError(t, s.CopySite("site-1", "site-2"))

	orig, err := s.List("site-1")
	require.NoError(t, err)
	copied, err := s.List("site-2")
	require.NoError(t, err)
	require.Len(t, copied, len(orig))

	got, err := s.Get("site-2", "index.html")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, []byte("hello"), got.Bytes)
}

func TestStore_TotalSizeAcrossSites(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put("site-1", "a.txt", []byte("12345"), "text/plain"))
	require.NoError(t, s.Put("site-2", "b.txt", []byte("1234567"), "text/plain"))

	total, err := s.TotalSize()
	require.NoError(t, err)
	require.EqualValues(t, 12, total)
}
