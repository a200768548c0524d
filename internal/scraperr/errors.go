// Package scraperr declares the sentinel error taxonomy shared across the
// catalog, signaling, session, file-transfer, and blob-store layers.
package scraperr

import "errors"

var (
	// ErrNotInitialized is returned when an API is called before init completes.
	ErrNotInitialized = errors.New("scrapyard: not initialized")
	// ErrConfigurationMissing is returned when Connect is called without a URL or token.
	ErrConfigurationMissing = errors.New("scrapyard: configuration missing")
	// ErrTransportUnavailable is returned when signaling cannot be established on initial connect.
	ErrTransportUnavailable = errors.New("scrapyard: transport unavailable")
	// ErrPeerGone is returned when a request is outstanding when the peer's channel closes.
	ErrPeerGone = errors.New("scrapyard: peer gone")
	// ErrTimeout is returned when a file-list or file request exceeds its deadline.
	ErrTimeout = errors.New("scrapyard: timeout")
	// ErrNotFound is returned when an entity id is not present in the catalog or blob store.
	ErrNotFound = errors.New("scrapyard: not found")
	// ErrStoreFailure wraps an underlying database or blob-store error.
	ErrStoreFailure = errors.New("scrapyard: store failure")
)
