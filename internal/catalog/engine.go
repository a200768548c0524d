// Package catalog implements the Catalog Engine described in spec §4.D: it
// wires the CRDT relational store (internal/crdt) to the Peer Session
// Manager (internal/session), running the causal-version sync protocol over
// each peer's ledger channel and exposing the catalog API consumers call
// locally.
//
// Grounded on the teacher's internal/node/node.go, which wires its store,
// tracker client, and WebRTC peer table together behind a single struct with
// one constructor and a handful of Handle* dispatch methods; Engine follows
// the same shape, generalized from the teacher's tracker-addressed protocol
// to this spec's CRDT sync-request/sync-response/changes envelopes.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rudransh-shrivastava/scrapyard/internal/config"
	"github.com/rudransh-shrivastava/scrapyard/internal/crdt"
	"github.com/rudransh-shrivastava/scrapyard/internal/scraperr"
	"github.com/rudransh-shrivastava/scrapyard/internal/session"
	"github.com/rudransh-shrivastava/scrapyard/internal/signaling"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const sitesTable = "sites"

// broadcastCoalesceWindow batches consecutive local writes behind a single
// changes broadcast, per spec §4.D's coalescing note.
const broadcastCoalesceWindow = 50 * time.Millisecond

// syncRequestMsg, syncResponseMsg, and changesMsg mirror the catalog
// envelopes of spec §6 exactly; WireChangeRecord already carries the
// base64-framed pk/site_id fields.
type syncRequestMsg struct {
	Type    string `json:"type"`
	Version uint64 `json:"version"`
}

type syncResponseMsg struct {
	Type    string                   `json:"type"`
	Changes []crdt.WireChangeRecord  `json:"changes"`
	Version uint64                  `json:"version"`
}

type changesMsg struct {
	Type    string                  `json:"type"`
	Changes []crdt.WireChangeRecord `json:"changes"`
	Version uint64                  `json:"version"`
}

// SyncEvent is emitted after a batch of inbound changes is folded into the
// local store (spec §4.D step 2: "emit sync{count, fromPeer}").
type SyncEvent struct {
	Count    int
	FromPeer string
}

// Engine is the initialized, optionally connected node: a CRDT store and,
// once Connect succeeds, a signaling client and peer session manager.
type Engine struct {
	log *logrus.Entry
	cfg config.Config

	store *crdt.Store

	mu                   sync.Mutex
	sig                  *signaling.Client
	sessions             *session.Manager
	lastBroadcastVersion uint64
	broadcastTimer       *time.Timer
	connected            bool

	onSync []func(SyncEvent)

	initialized bool
}

// notInitialized reports whether e is a nil or zero-value Engine that
// never went through New — spec §7's "API called before init completes"
// (this port's init is New's synchronous store-open, so the only way to
// observe that state is to hold an Engine that skipped it).
func (e *Engine) notInitialized() bool {
	return e == nil || !e.initialized
}

// New opens the local store (spec §4.A's open(db-name)) and declares the
// sites table CRDT-enabled, but does not connect to any signaling room.
func New(log *logrus.Logger, cfg config.Config) (*Engine, error) {
	store, err := crdt.Open(cfg.DBName)
	if err != nil {
		return nil, err
	}
	if err := store.DB().AutoMigrate(&Site{}); err != nil {
		return nil, fmt.Errorf("%w: migrating sites table: %v", scraperr.ErrStoreFailure, err)
	}
	if err := store.EnableCRDT(sitesTable); err != nil {
		return nil, err
	}

	e := &Engine{
		log:   log.WithField("component", "catalog"),
		cfg:   cfg,
		store: store,
	}
	e.lastBroadcastVersion = store.Version()
	e.initialized = true
	store.Subscribe(e.onLocalUpdate)
	return e, nil
}

// NodeID returns the local replica's stable identifier.
func (e *Engine) NodeID() string { return e.store.NodeID() }

// OnSync registers handler to be invoked once per inbound change batch
// successfully folded into the local store.
func (e *Engine) OnSync(handler func(SyncEvent)) {
	e.mu.Lock()
	e.onSync = append(e.onSync, handler)
	e.mu.Unlock()
}

// Sessions exposes the underlying Peer Session Manager so other
// collaborators (the File-Transfer Protocol) can register their own
// message handlers on the same ledger channel. Nil until Connect succeeds.
func (e *Engine) Sessions() *session.Manager {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions
}

// Connect joins the signaling room at url with token, wires the catalog
// sync protocol onto every peer's ledger channel, and records the current
// store version as the high-water mark for future broadcasts.
func (e *Engine) Connect(ctx context.Context, url, token string) error {
	if e.notInitialized() {
		return scraperr.ErrNotInitialized
	}

	cfg := config.Config{SignalingURL: url, Token: token, ICEServers: e.cfg.ICEServers}
	if err := cfg.Validate(); err != nil {
		return err
	}

	sig := signaling.New(e.logrusLogger(), url, token)
	sessions := session.New(e.logrusLogger(), e.store.NodeID(), cfg.IceServersOrDefault(), sig)
	sessions.Start()

	sessions.OnPeerReady(func(peerID string) {
		_ = sessions.Send(peerID, syncRequestMsg{Type: "sync-request", Version: e.store.Version()})
	})
	sessions.OnMessage("sync-request", e.handleSyncRequest(sessions))
	sessions.OnMessage("sync-response", e.handleIncomingChanges(sessions))
	sessions.OnMessage("changes", e.handleIncomingChanges(sessions))

	if err := sig.Connect(ctx, e.store.NodeID()); err != nil {
		return err
	}

	e.mu.Lock()
	e.sig = sig
	e.sessions = sessions
	e.lastBroadcastVersion = e.store.Version()
	e.connected = true
	e.mu.Unlock()

	return nil
}

// Close tears down the signaling connection, if any.
func (e *Engine) Close() error {
	e.mu.Lock()
	sig := e.sig
	e.connected = false
	e.mu.Unlock()
	if sig == nil {
		return nil
	}
	return sig.Close()
}

func (e *Engine) logrusLogger() *logrus.Logger {
	return e.log.Logger
}

func (e *Engine) handleSyncRequest(sessions *session.Manager) func(peerID string, raw json.RawMessage) {
	return func(peerID string, raw json.RawMessage) {
		var msg syncRequestMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			e.log.WithError(err).WithField("peer", peerID).Warn("dropping malformed sync-request")
			return
		}
		changes, err := e.store.ChangesSince(msg.Version)
		if err != nil {
			e.log.WithError(err).WithField("peer", peerID).Error("failed to compute changes for sync-response")
			return
		}
		resp := syncResponseMsg{Type: "sync-response", Changes: changes, Version: e.store.Version()}
		if err := sessions.Send(peerID, resp); err != nil {
			e.log.WithError(err).WithField("peer", peerID).Warn("failed to send sync-response")
		}
	}
}

func (e *Engine) handleIncomingChanges(sessions *session.Manager) func(peerID string, raw json.RawMessage) {
	return func(peerID string, raw json.RawMessage) {
		var msg changesMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			e.log.WithError(err).WithField("peer", peerID).Warn("dropping malformed changes message")
			return
		}
		if err := e.store.ApplyChanges(msg.Changes); err != nil {
			e.log.WithError(err).WithField("peer", peerID).Error("failed to apply change batch; peer will be re-synced next round")
			return
		}
		if p := sessions.Peer(peerID); p != nil {
			p.SetLastSyncedVersion(msg.Version)
		}
		e.log.WithFields(logrus.Fields{"peer": peerID, "count": len(msg.Changes)}).Info("applied inbound change batch")

		e.mu.Lock()
		handlers := append([]func(SyncEvent){}, e.onSync...)
		e.mu.Unlock()
		for _, h := range handlers {
			h(SyncEvent{Count: len(msg.Changes), FromPeer: peerID})
		}
	}
}

// onLocalUpdate is the crdt.Store subscription hook (spec §4.D: "On every
// local-update hook fire..."). It debounces behind broadcastCoalesceWindow
// so a burst of local writes produces one changes broadcast, not one per row.
func (e *Engine) onLocalUpdate(table, pk string) {
	if table != sitesTable {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.connected {
		return
	}
	if e.broadcastTimer != nil {
		return
	}
	e.broadcastTimer = time.AfterFunc(broadcastCoalesceWindow, e.flushBroadcast)
}

func (e *Engine) flushBroadcast() {
	e.mu.Lock()
	e.broadcastTimer = nil
	sessions := e.sessions
	from := e.lastBroadcastVersion
	e.mu.Unlock()

	if sessions == nil {
		return
	}

	changes, err := e.store.ChangesSince(from)
	if err != nil {
		e.log.WithError(err).Error("failed to compute changes for broadcast")
		return
	}
	if len(changes) == 0 {
		return
	}

	version := e.store.Version()
	sessions.Broadcast(changesMsg{Type: "changes", Changes: changes, Version: version})

	e.mu.Lock()
	e.lastBroadcastVersion = version
	e.mu.Unlock()
}

// --- Catalog API ---

// AllSites returns every non-deleted site row.
func (e *Engine) AllSites() ([]Site, error) {
	if e.notInitialized() {
		return nil, scraperr.ErrNotInitialized
	}
	var rows []Site
	if err := e.store.DB().Where("deleted_at IS NULL").Order("added_at asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", scraperr.ErrStoreFailure, err)
	}
	return rows, nil
}

// MySites returns sites owned by this node.
func (e *Engine) MySites() ([]Site, error) {
	if e.notInitialized() {
		return nil, scraperr.ErrNotInitialized
	}
	var rows []Site
	err := e.store.DB().Where("deleted_at IS NULL AND owner_id = ?", e.store.NodeID()).
		Order("added_at asc").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", scraperr.ErrStoreFailure, err)
	}
	return rows, nil
}

// AvailableSites returns foreign sites (owner != me) with a non-empty file
// set — candidates for import, per spec §4.D.
func (e *Engine) AvailableSites() ([]Site, error) {
	if e.notInitialized() {
		return nil, scraperr.ErrNotInitialized
	}
	var rows []Site
	err := e.store.DB().
		Where("deleted_at IS NULL AND owner_id <> ? AND file_count > 0", e.store.NodeID()).
		Order("added_at asc").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", scraperr.ErrStoreFailure, err)
	}
	return rows, nil
}

// Get returns the site with id, or (Site{}, ErrNotFound) if absent.
func (e *Engine) Get(id string) (Site, error) {
	if e.notInitialized() {
		return Site{}, scraperr.ErrNotInitialized
	}
	var row Site
	err := e.store.DB().Where("deleted_at IS NULL AND id = ?", id).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return Site{}, scraperr.ErrNotFound
	}
	if err != nil {
		return Site{}, fmt.Errorf("%w: %v", scraperr.ErrStoreFailure, err)
	}
	return row, nil
}

// Add creates a new owned site row, stamping id, owner_id, added_at, and
// updated_at.
func (e *Engine) Add(fields Fields) (Site, error) {
	if e.notInitialized() {
		return Site{}, scraperr.ErrNotInitialized
	}
	now := time.Now().UTC().Format(time.RFC3339)
	id := uuid.NewString()

	columns := map[string]any{
		"name":         fields.Name,
		"description":  fields.Description,
		"url":          fields.URL,
		"thumbnail":    fields.Thumbnail,
		"owner_id":     e.store.NodeID(),
		"content_hash": fields.ContentHash,
		"file_count":   int64(0),
		"file_size":    int64(0),
		"added_at":     now,
		"updated_at":   now,
	}
	if err := e.store.PutRow(sitesTable, id, columns); err != nil {
		return Site{}, err
	}
	return e.Get(id)
}

// Update patches an existing site's display fields, stamping updated_at.
// Updating a missing id returns (nil, nil), per spec §4.D edge cases.
func (e *Engine) Update(id string, patch map[string]any) (*Site, error) {
	if _, err := e.Get(id); err != nil {
		if err == scraperr.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}

	columns := make(map[string]any, len(patch)+1)
	for k, v := range patch {
		columns[k] = v
	}
	columns["updated_at"] = time.Now().UTC().Format(time.RFC3339)

	if err := e.store.UpdateColumns(sitesTable, id, columns); err != nil {
		return nil, err
	}
	row, err := e.Get(id)
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Remove tombstones a site row. Idempotent: removing an already-deleted or
// unknown id is not an error.
func (e *Engine) Remove(id string) error {
	if e.notInitialized() {
		return scraperr.ErrNotInitialized
	}
	return e.store.DeleteRow(sitesTable, id)
}

// UpdateFileStats records the owner's current local file count and total
// size for a site, as reported by ingestion or re-scan.
func (e *Engine) UpdateFileStats(id string, count, size int64) error {
	_, err := e.Update(id, map[string]any{"file_count": count, "file_size": size})
	return err
}

// FindMineByHash returns the first owned site whose content_hash matches
// hash, used to deduplicate repeated uploads of the same source bundle.
func (e *Engine) FindMineByHash(hash string) (*Site, error) {
	if e.notInitialized() {
		return nil, scraperr.ErrNotInitialized
	}
	var row Site
	err := e.store.DB().
		Where("deleted_at IS NULL AND owner_id = ? AND content_hash = ?", e.store.NodeID(), hash).
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", scraperr.ErrStoreFailure, err)
	}
	return &row, nil
}

// Adopt copies a foreign row's metadata into a new row owned by this node,
// per spec §4.D/§8 (Adoption identity): the caller is responsible for
// copying the associated blobs under the returned new id.
func (e *Engine) Adopt(originalID string) (newSite Site, original string, err error) {
	orig, err := e.Get(originalID)
	if err != nil {
		return Site{}, "", err
	}

	fields := Fields{
		Name:        orig.Name,
		Description: orig.Description,
		URL:         orig.URL,
		Thumbnail:   orig.Thumbnail,
		ContentHash: orig.ContentHash,
	}
	created, err := e.Add(fields)
	if err != nil {
		return Site{}, "", err
	}
	if err := e.UpdateFileStats(created.ID, orig.FileCount, orig.FileSize); err != nil {
		return Site{}, "", err
	}
	created, err = e.Get(created.ID)
	if err != nil {
		return Site{}, "", err
	}
	return created, originalID, nil
}
