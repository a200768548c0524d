// Package crdt implements the embedded relational store described in
// spec §4.A: a gorm-backed sqlite database where individual columns of a
// declared table are tracked as independent last-writer-wins registers,
// so that concurrent column updates from different replicas converge
// deterministically without a central authority.
//
// The teacher's internal/shared/store package wraps gorm.DB per entity
// (FileStore, ChunkStore, PeerStore); Store follows the same "thin wrapper
// around *gorm.DB" shape but adds the per-column version bookkeeping and
// change log a CRDT register-map needs.
package crdt

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/glebarez/sqlite"
	"github.com/rudransh-shrivastava/scrapyard/internal/scraperr"
	"gorm.io/gorm"
)

// Store is a single embedded database enhanced with per-table CRDT
// tracking. All access is serialized behind mu, matching spec §5's
// single-writer discipline for the CRDT store.
type Store struct {
	mu sync.Mutex

	db     *gorm.DB
	nodeID string

	version     uint64
	seq         uint64
	crdtTables  map[string]bool
	subscribers map[int]func(table, pk string)
	nextSubID   int
}

// Open opens or creates a persistent database at dbName, migrating the
// bookkeeping tables and computing this replica's stable node id on first
// open.
func Open(dbName string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("%w: opening store: %v", scraperr.ErrStoreFailure, err)
	}

	if err := db.AutoMigrate(&node{}, &columnVersion{}, &change{}); err != nil {
		return nil, fmt.Errorf("%w: migrating store: %v", scraperr.ErrStoreFailure, err)
	}

	s := &Store{
		db:          db,
		crdtTables:  make(map[string]bool),
		subscribers: make(map[int]func(table, pk string)),
	}

	if err := s.loadOrCreateIdentity(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) loadOrCreateIdentity() error {
	var n node
	err := s.db.First(&n).Error
	if err == nil {
		s.nodeID = n.NodeID
		s.version = n.Version
		return nil
	}
	if err != gorm.ErrRecordNotFound {
		return fmt.Errorf("%w: loading node identity: %v", scraperr.ErrStoreFailure, err)
	}

	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return fmt.Errorf("%w: generating node id: %v", scraperr.ErrStoreFailure, err)
	}
	n = node{NodeID: hex.EncodeToString(raw), Version: 0}
	if err := s.db.Create(&n).Error; err != nil {
		return fmt.Errorf("%w: persisting node identity: %v", scraperr.ErrStoreFailure, err)
	}
	s.nodeID = n.NodeID
	s.version = 0
	return nil
}

// NodeID returns this replica's stable hex-encoded identifier.
func (s *Store) NodeID() string {
	return s.nodeID
}

// Version returns the current monotone per-replica version scalar.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// DB exposes the underlying *gorm.DB for read-only typed queries against
// CRDT-enabled tables (all-sites listing, lookups by column, etc). Writes
// to CRDT-enabled tables must go through PutRow/UpdateColumns/DeleteRow so
// they are tracked.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// EnableCRDT declares table as a replicated register-map. Every write
// through PutRow/UpdateColumns/DeleteRow against this table after this
// call is tracked and replicated; writes against an undeclared table are
// rejected.
func (s *Store) EnableCRDT(table string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.crdtTables[table] = true
	return nil
}

func (s *Store) requireEnabled(table string) error {
	if !s.crdtTables[table] {
		return fmt.Errorf("%w: table %q is not CRDT-enabled", scraperr.ErrStoreFailure, table)
	}
	return nil
}

// Subscribe installs a hook invoked once per local row mutation (table,
// pk) caused by PutRow, UpdateColumns, or DeleteRow. Columns merged in by
// ApplyChanges do not fire it, and neither do the internal bookkeeping
// tables. The returned function removes the subscription.
func (s *Store) Subscribe(f func(table, pk string)) func() {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = f
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify(table, pk string) {
	for _, f := range s.subscribers {
		f(table, pk)
	}
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("%w: %v", scraperr.ErrStoreFailure, err)
	}
	return sqlDB.Close()
}
