// Package blobstore implements the Local Content Store described in spec
// §4.F: a keyed blob store holding site file bytes, primary-keyed by
// siteId+"/"+path and range-scannable by siteId prefix for the secondary
// index. It is local-only — nothing here is replicated by the CRDT layer.
//
// Grounded on the teacher's internal/store package shape (one struct
// wrapping a single database handle, one method per operation, typed
// sentinel errors on miss) but backed by go.etcd.io/bbolt instead of sqlite,
// since a blob store has no relational shape and the examples pack
// (sumanthd032-CollabText's agent) carries bbolt as exactly this kind of
// embedded local key-value store.
package blobstore

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rudransh-shrivastava/scrapyard/internal/scraperr"
	bolt "go.etcd.io/bbolt"
)

var blobsBucket = []byte("blobs")

// Blob is one stored file: its bytes plus the metadata spec §3 requires.
type Blob struct {
	SiteID      string    `json:"site_id"`
	Path        string    `json:"path"`
	ContentType string    `json:"content_type"`
	Bytes       []byte    `json:"bytes"`
	ByteLength  int64     `json:"byte_length"`
	CachedAt    time.Time `json:"cached_at"`
}

// Store is the embedded bbolt-backed blob store. All operations open their
// own bbolt transaction; bbolt itself serializes writers, matching the
// single-writer-per-path discipline spec §4.F and §5 require.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the blob store at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: opening blob store: %v", scraperr.ErrStoreFailure, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(blobsBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: initializing blob store: %v", scraperr.ErrStoreFailure, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func blobKey(siteID, path string) []byte {
	return []byte(siteID + "/" + path)
}

// Put overwrites the blob at (siteID, path), stamping CachedAt to now.
func (s *Store) Put(siteID, path string, bytes []byte, contentType string) error {
	b := Blob{
		SiteID:      siteID,
		Path:        path,
		ContentType: contentType,
		Bytes:       bytes,
		ByteLength:  int64(len(bytes)),
		CachedAt:    time.Now().UTC(),
	}
	enc, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("%w: encoding blob: %v", scraperr.ErrStoreFailure, err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(blobsBucket).Put(blobKey(siteID, path), enc)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", scraperr.ErrStoreFailure, err)
	}
	return nil
}

// Get returns the blob at (siteID, path), or (nil, nil) if absent.
func (s *Store) Get(siteID, path string) (*Blob, error) {
	var out *Blob
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(blobsBucket).Get(blobKey(siteID, path))
		if v == nil {
			return nil
		}
		var b Blob
		if err := json.Unmarshal(v, &b); err != nil {
			return err
		}
		out = &b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", scraperr.ErrStoreFailure, err)
	}
	return out, nil
}

// List returns every blob stored under siteID, in key (path) order.
func (s *Store) List(siteID string) ([]Blob, error) {
	prefix := []byte(siteID + "/")
	var out []Blob
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(blobsBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			var b Blob
			if err := json.Unmarshal(v, &b); err != nil {
				return err
			}
			out = append(out, b)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", scraperr.ErrStoreFailure, err)
	}
	return out, nil
}

// DeleteSite removes every blob stored under siteID. Idempotent.
func (s *Store) DeleteSite(siteID string) error {
	prefix := []byte(siteID + "/")
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(blobsBucket)
		c := bucket.Cursor()
		var keys [][]byte
		for k, _ := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", scraperr.ErrStoreFailure, err)
	}
	return nil
}

// CopySite duplicates every blob under fromID to a new toID, used after
// Adopt before the caller discards the originals (spec's open question on
// site identity across adoption: this implementation keeps the double-copy
// as specified, rather than renaming storage keys atomically).
func (s *Store) CopySite(fromID, toID string) error {
	blobs, err := s.List(fromID)
	if err != nil {
		return err
	}
	for _, b := range blobs {
		if err := s.Put(toID, b.Path, b.Bytes, b.ContentType); err != nil {
			return err
		}
	}
	return nil
}

// Size returns the total byte count of every blob stored under siteID.
func (s *Store) Size(siteID string) (int64, error) {
	blobs, err := s.List(siteID)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, b := range blobs {
		total += b.ByteLength
	}
	return total, nil
}

// TotalSize returns the total byte count across every site in the store.
func (s *Store) TotalSize() (int64, error) {
	var total int64
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(blobsBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var b Blob
			if err := json.Unmarshal(v, &b); err != nil {
				return err
			}
			total += b.ByteLength
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", scraperr.ErrStoreFailure, err)
	}
	return total, nil
}
