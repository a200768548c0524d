// Package localhttp implements the Local HTTP Interceptor contract of spec
// §4.G: resolving a /local/{siteId}/{rest...} request path to a blob in the
// Local Content Store, applying the index-file fallbacks §4.G enumerates.
//
// The interceptor itself is a thin collaborator (spec §1): this package is
// the resolution logic and an http.Handler wrapping it; the actual browser
// registration of a custom scheme/protocol handler is external to this
// module's scope, same as the UI.
package localhttp

import (
	"fmt"
	"net/http"
	"path"
	"sort"
	"strings"

	"github.com/rudransh-shrivastava/scrapyard/internal/blobstore"
	"github.com/rudransh-shrivastava/scrapyard/internal/scraperr"
)

// Store is the subset of blobstore.Store the interceptor needs, named here
// so callers can supply a fake in tests.
type Store interface {
	Get(siteID, path string) (*blobstore.Blob, error)
	List(siteID string) ([]blobstore.Blob, error)
}

// Resolve implements spec §4.G's six-step resolution for a given siteID and
// the path remainder after /local/{siteId}/. It returns the resolved blob,
// or an error wrapping scraperr.ErrNotFound with a diagnostic listing of
// available paths as its message when nothing matches.
func Resolve(store Store, siteID, rest string) (*blobstore.Blob, error) {
	fp := rest
	if fp == "" {
		fp = "index.html"
	}
	if strings.HasSuffix(fp, "/") {
		fp += "index.html"
	}

	if b, err := store.Get(siteID, fp); err != nil {
		return nil, err
	} else if b != nil {
		return b, nil
	}

	if looksLikeDirectory(fp) {
		if b, err := store.Get(siteID, fp+".html"); err != nil {
			return nil, err
		} else if b != nil {
			return b, nil
		}
		if b, err := store.Get(siteID, path.Join(fp, "index.html")); err != nil {
			return nil, err
		} else if b != nil {
			return b, nil
		}
	}

	if rest == "" || rest == "index.html" {
		if b, err := rootFallback(store, siteID); err != nil {
			return nil, err
		} else if b != nil {
			return b, nil
		}
	}

	available, err := store.List(siteID)
	if err != nil {
		return nil, err
	}
	return nil, notFoundError(siteID, fp, available)
}

func looksLikeDirectory(fp string) bool {
	base := path.Base(fp)
	return !strings.Contains(base, ".")
}

// rootFallback picks any top-level index.html (case-insensitive) or any
// top-level .html file as a last resort for the site root, per spec §4.G
// step 5.
func rootFallback(store Store, siteID string) (*blobstore.Blob, error) {
	blobs, err := store.List(siteID)
	if err != nil {
		return nil, err
	}

	var htmlCandidates []blobstore.Blob
	for _, b := range blobs {
		if strings.Contains(b.Path, "/") {
			continue
		}
		if strings.EqualFold(b.Path, "index.html") {
			copyOf := b
			return &copyOf, nil
		}
		if strings.HasSuffix(strings.ToLower(b.Path), ".html") {
			htmlCandidates = append(htmlCandidates, b)
		}
	}
	if len(htmlCandidates) == 0 {
		return nil, nil
	}
	sort.Slice(htmlCandidates, func(i, j int) bool { return htmlCandidates[i].Path < htmlCandidates[j].Path })
	return &htmlCandidates[0], nil
}

// NotFoundError carries the diagnostic body spec §6 requires for a missing
// path: a human-readable listing of the site's available files.
type NotFoundError struct {
	SiteID    string
	Path      string
	Available []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s/%s (available: %s)", e.SiteID, e.Path, strings.Join(e.Available, ", "))
}

// Unwrap reports scraperr.ErrNotFound, so errors.Is matches a NotFoundError.
func (e *NotFoundError) Unwrap() error { return scraperr.ErrNotFound }

func notFoundError(siteID, fp string, blobs []blobstore.Blob) error {
	paths := make([]string, 0, len(blobs))
	for _, b := range blobs {
		paths = append(paths, b.Path)
	}
	sort.Strings(paths)
	return &NotFoundError{SiteID: siteID, Path: fp, Available: paths}
}

// Handler serves GET /local/{siteId}/{rest...} from store.
func Handler(store Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		siteID, rest, ok := splitLocalPath(r.URL.Path)
		if !ok {
			http.NotFound(w, r)
			return
		}

		blob, err := Resolve(store, siteID, rest)
		if err != nil {
			var nf *NotFoundError
			if asNotFound(err, &nf) {
				w.Header().Set("X-Origin", "cached")
				w.WriteHeader(http.StatusNotFound)
				fmt.Fprintf(w, "not found: %s\n\navailable paths:\n", nf.Path)
				for _, p := range nf.Available {
					fmt.Fprintf(w, "  %s\n", p)
				}
				return
			}
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", blob.ContentType)
		w.Header().Set("X-Origin", "cached")
		_, _ = w.Write(blob.Bytes)
	})
}

func asNotFound(err error, target **NotFoundError) bool {
	nf, ok := err.(*NotFoundError)
	if ok {
		*target = nf
	}
	return ok
}

// splitLocalPath parses "/local/{siteId}/{rest...}" into its two parts.
func splitLocalPath(urlPath string) (siteID, rest string, ok bool) {
	const prefix = "/local/"
	if !strings.HasPrefix(urlPath, prefix) {
		return "", "", false
	}
	trimmed := strings.TrimPrefix(urlPath, prefix)
	parts := strings.SplitN(trimmed, "/", 2)
	if parts[0] == "" {
		return "", "", false
	}
	if len(parts) == 1 {
		return parts[0], "", true
	}
	return parts[0], parts[1], true
}
