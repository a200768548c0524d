package crdt

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/rudransh-shrivastava/scrapyard/internal/scraperr"
	"gorm.io/gorm"
)

// WireChangeRecord is the base64-framed form of a change record, as it
// travels inside a `changes`/`sync-response` peer-channel envelope (spec
// §6). pk and site_id are byte strings on the wire; everything else is a
// JSON primitive.
type WireChangeRecord struct {
	Table      string `json:"table"`
	PK         string `json:"pk"`
	CID        string `json:"cid"`
	Val        any    `json:"val"`
	ColVersion uint64 `json:"col_version"`
	DBVersion  uint64 `json:"db_version"`
	SiteID     string `json:"site_id"`
	CL         uint64 `json:"cl"`
	Seq        uint64 `json:"seq"`
}

func toWire(c change) (WireChangeRecord, error) {
	var val any
	if c.ValJSON != "" {
		if err := json.Unmarshal([]byte(c.ValJSON), &val); err != nil {
			return WireChangeRecord{}, fmt.Errorf("%w: decoding change value: %v", scraperr.ErrStoreFailure, err)
		}
	}
	return WireChangeRecord{
		Table:      c.TargetTable,
		PK:         base64.StdEncoding.EncodeToString(c.RowPK),
		CID:        c.ColumnID,
		Val:        val,
		ColVersion: c.ColVersion,
		DBVersion:  c.DBVersion,
		SiteID:     base64.StdEncoding.EncodeToString(c.SiteID),
		CL:         c.CL,
		Seq:        c.Seq,
	}, nil
}

func fromWire(w WireChangeRecord) (change, error) {
	pk, err := base64.StdEncoding.DecodeString(w.PK)
	if err != nil {
		return change{}, fmt.Errorf("%w: decoding pk: %v", scraperr.ErrStoreFailure, err)
	}
	siteID, err := base64.StdEncoding.DecodeString(w.SiteID)
	if err != nil {
		return change{}, fmt.Errorf("%w: decoding site_id: %v", scraperr.ErrStoreFailure, err)
	}
	valJSON := ""
	if w.Val != nil {
		b, err := json.Marshal(w.Val)
		if err != nil {
			return change{}, fmt.Errorf("%w: encoding change value: %v", scraperr.ErrStoreFailure, err)
		}
		valJSON = string(b)
	}
	return change{
		TargetTable: w.Table,
		RowPK:       pk,
		ColumnID:    w.CID,
		ValJSON:     valJSON,
		ColVersion:  w.ColVersion,
		DBVersion:   w.DBVersion,
		SiteID:      siteID,
		CL:          w.CL,
		Seq:         w.Seq,
	}, nil
}

// PutRow writes a complete (or partial) new row: every entry in columns
// becomes its own tracked register, sharing one bumped db_version.
func (s *Store) PutRow(table, pk string, columns map[string]any) error {
	return s.writeColumns(table, pk, columns)
}

// UpdateColumns overwrites a subset of an existing row's columns,
// tracked the same way as PutRow.
func (s *Store) UpdateColumns(table, pk string, columns map[string]any) error {
	return s.writeColumns(table, pk, columns)
}

// DeleteRow tombstones a row by writing its hidden deleted_at register,
// visible to all peers on the next sync.
func (s *Store) DeleteRow(table, pk string) error {
	return s.writeColumns(table, pk, map[string]any{"deleted_at": nowISO()})
}

func (s *Store) writeColumns(table, pk string, columns map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireEnabled(table); err != nil {
		return err
	}
	if len(columns) == 0 {
		return nil
	}

	siteID, err := hexToBytes(s.nodeID)
	if err != nil {
		return fmt.Errorf("%w: %v", scraperr.ErrStoreFailure, err)
	}

	newVersion := s.version + 1

	err = s.db.Transaction(func(tx *gorm.DB) error {
		for cid, val := range columns {
			cv, err := nextLocalColumnVersion(tx, table, pk, cid)
			if err != nil {
				return err
			}
			if err := applyColumnToTable(tx, table, pk, cid, val); err != nil {
				return err
			}
			if err := upsertColumnVersion(tx, table, pk, cid, cv, s.nodeID); err != nil {
				return err
			}
			s.seq++
			rec := change{
				TargetTable: table,
				RowPK:       []byte(pk),
				ColumnID:    cid,
				ColVersion:  cv,
				DBVersion:   newVersion,
				SiteID:      siteID,
				CL:          newVersion,
				Seq:         s.seq,
			}
			if val != nil {
				b, err := json.Marshal(val)
				if err != nil {
					return err
				}
				rec.ValJSON = string(b)
			}
			if err := tx.Create(&rec).Error; err != nil {
				return err
			}
		}
		return tx.Model(&node{}).Where("id = ?", 1).Update("version", newVersion).Error
	})
	if err != nil {
		return fmt.Errorf("%w: %v", scraperr.ErrStoreFailure, err)
	}

	s.version = newVersion
	s.notify(table, pk)
	return nil
}

func nextLocalColumnVersion(tx *gorm.DB, table, pk, cid string) (uint64, error) {
	var cur columnVersion
	err := tx.Where("target_table = ? AND row_pk = ? AND column_id = ?", table, pk, cid).First(&cur).Error
	if err == nil {
		return cur.ColVersion + 1, nil
	}
	if err == gorm.ErrRecordNotFound {
		return 1, nil
	}
	return 0, err
}

// columnWins reports whether an incoming (colVersion, siteID) beats the
// currently recorded winner for (table, pk, cid): a strictly higher
// col_version wins outright; a tied col_version is broken by comparing
// site_id lexicographically, the same deterministic tiebreak used by
// last-writer-wins CRDT registers throughout the examples pack.
func columnWins(tx *gorm.DB, table, pk, cid string, colVersion uint64, siteID string) (bool, error) {
	var cur columnVersion
	err := tx.Where("target_table = ? AND row_pk = ? AND column_id = ?", table, pk, cid).First(&cur).Error
	if err == gorm.ErrRecordNotFound {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if colVersion != cur.ColVersion {
		return colVersion > cur.ColVersion, nil
	}
	return siteID > cur.SiteID, nil
}

func upsertColumnVersion(tx *gorm.DB, table, pk, cid string, colVersion uint64, siteID string) error {
	cv := columnVersion{
		TargetTable: table,
		RowPK:       pk,
		ColumnID:    cid,
		ColVersion:  colVersion,
		SiteID:      siteID,
	}
	var existing columnVersion
	err := tx.Where("target_table = ? AND row_pk = ? AND column_id = ?", table, pk, cid).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		return tx.Create(&cv).Error
	}
	if err != nil {
		return err
	}
	existing.ColVersion = colVersion
	existing.SiteID = siteID
	return tx.Save(&existing).Error
}

// applyColumnToTable performs the underlying per-column upsert against
// the replicated table itself: insert a new sparse row if pk is unknown,
// otherwise update the single column.
func applyColumnToTable(tx *gorm.DB, table, pk, cid string, val any) error {
	var count int64
	if err := tx.Table(table).Where("id = ?", pk).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return tx.Table(table).Create(map[string]any{"id": pk, cid: val}).Error
	}
	return tx.Table(table).Where("id = ?", pk).Update(cid, val).Error
}

// ChangesSince returns the ordered set of change records with
// db_version > v, ready to send in a sync-response or changes envelope.
func (s *Store) ChangesSince(v uint64) ([]WireChangeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []change
	if err := s.db.Where("db_version > ?", v).Order("id asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", scraperr.ErrStoreFailure, err)
	}

	out := make([]WireChangeRecord, 0, len(rows))
	for _, r := range rows {
		w, err := toWire(r)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// ApplyChanges idempotently folds a batch of change records from another
// replica. The batch is applied atomically: either every record is
// recorded and any winning column update committed, or none are, so a
// failed apply never advances the local version and the batch will be
// re-requested on the next sync.
//
// Unlike PutRow/UpdateColumns/DeleteRow, a winning column here does not
// fire Subscribe's hook: Subscribe is scoped to locally-originated
// mutations (spec §4.A), and the Catalog Engine's broadcast-eligibility
// check is keyed off that hook (spec §4.D). Notifying on merge-applied
// columns would make every peer re-broadcast the batch it just received
// right back out to the room, growing the change log by a duplicate
// batch on every sync round with no relay benefit.
func (s *Store) ApplyChanges(records []WireChangeRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	newVersion := s.version

	err := s.db.Transaction(func(tx *gorm.DB) error {
		for _, w := range records {
			rec, err := fromWire(w)
			if err != nil {
				return err
			}

			newVersion++

			won, err := columnWins(tx, rec.TargetTable, string(rec.RowPK), rec.ColumnID, rec.ColVersion, hexEncode(rec.SiteID))
			if err != nil {
				return err
			}
			if won {
				var val any
				if rec.ValJSON != "" {
					if err := json.Unmarshal([]byte(rec.ValJSON), &val); err != nil {
						return err
					}
				}
				if err := applyColumnToTable(tx, rec.TargetTable, string(rec.RowPK), rec.ColumnID, val); err != nil {
					return err
				}
				if err := upsertColumnVersion(tx, rec.TargetTable, string(rec.RowPK), rec.ColumnID, rec.ColVersion, hexEncode(rec.SiteID)); err != nil {
					return err
				}
			}

			rec.DBVersion = newVersion
			if err := tx.Create(&rec).Error; err != nil {
				return err
			}
		}
		return tx.Model(&node{}).Where("id = ?", 1).Update("version", newVersion).Error
	})
	if err != nil {
		return fmt.Errorf("%w: applying change batch: %v", scraperr.ErrStoreFailure, err)
	}

	s.version = newVersion
	return nil
}
