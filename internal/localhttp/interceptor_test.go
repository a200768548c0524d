package localhttp_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rudransh-shrivastava/scrapyard/internal/blobstore"
	"github.com/rudransh-shrivastava/scrapyard/internal/localhttp"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *blobstore.Store {
	t.Helper()
	s, err := blobstore.Open(t.TempDir() + "/blobs.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestResolve_RootFallsBackToIndexHTML(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Put("site-1", "index.html", []byte("<h1>home</h1>"), "text/html"))
	require.NoError(t, store.Put("site-1", "assets/app.js", []byte("console.log(1)"), "application/javascript"))

	b, err := localhttp.Resolve(store, "site-1", "")
	require.NoError(t, err)
	require.Equal(t, "text/html", b.ContentType)
	require.Equal(t, []byte("<h1>home</h1>"), b.Bytes)
}

func TestResolve_DirectTextFile(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Put("site-1", "index.html", []byte("home"), "text/html"))
	require.NoError(t, store.Put("site-1", "assets/app.js", []byte("js"), "application/javascript"))

	b, err := localhttp.Resolve(store, "site-1", "assets/app.js")
	require.NoError(t, err)
	require.Equal(t, []byte("js"), b.Bytes)
}

func TestResolve_MissingPathReturnsNotFound(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Put("site-1", "index.html", []byte("home"), "text/html"))

	_, err := localhttp.Resolve(store, "site-1", "missing")
	require.Error(t, err)
	var nf *localhttp.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestResolve_DirectoryPrefixFallsBackToHTMLSuffix(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Put("site-1", "about.html", []byte("about page"), "text/html"))

	b, err := localhttp.Resolve(store, "site-1", "about")
	require.NoError(t, err)
	require.Equal(t, []byte("about page"), b.Bytes)
}

func TestResolve_DirectoryPrefixFallsBackToIndexInside(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Put("site-1", "blog/index.html", []byte("blog home"), "text/html"))

	b, err := localhttp.Resolve(store, "site-1", "blog")
	require.NoError(t, err)
	require.Equal(t, []byte("blog home"), b.Bytes)
}

func TestHandler_ServesFilesAnd404s(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Put("site-1", "index.html", []byte("<h1>home</h1>"), "text/html"))
	require.NoError(t, store.Put("site-1", "assets/app.js", []byte("console.log(1)"), "application/javascript"))

	h := localhttp.Handler(store)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/local/site-1/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/html", rec.Header().Get("Content-Type"))
	require.Equal(t, "cached", rec.Header().Get("X-Origin"))
	require.Equal(t, "<h1>home</h1>", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/local/site-1/assets/app.js", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "console.log(1)", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/local/site-1/missing", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
