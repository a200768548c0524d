package crdt

import "time"

// node is the singleton bookkeeping row carrying this replica's identity
// and monotone version counter. Excluded from Subscribe notifications and
// from ChangesSince, same as columnVersion and change below.
type node struct {
	ID      uint `gorm:"primaryKey"`
	NodeID  string
	Version uint64
}

func (node) TableName() string { return "crdt_node" }

// columnVersion is the current winning (col_version, site_id) for one
// (table, pk, cid) register, used to resolve last-writer-wins on apply.
type columnVersion struct {
	ID          uint   `gorm:"primaryKey"`
	TargetTable string `gorm:"column:target_table;uniqueIndex:crdt_colver_key"`
	RowPK       string `gorm:"column:row_pk;uniqueIndex:crdt_colver_key"`
	ColumnID    string `gorm:"column:column_id;uniqueIndex:crdt_colver_key"`
	ColVersion  uint64
	SiteID      string
}

func (columnVersion) TableName() string { return "crdt_column_version" }

// change is one persisted change record: the ordered, append-only log that
// ChangesSince replays and ApplyChanges appends to.
type change struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	TargetTable string `gorm:"column:target_table"`
	RowPK       []byte `gorm:"column:row_pk"`
	ColumnID    string `gorm:"column:column_id"`
	ValJSON     string
	ColVersion  uint64
	DBVersion   uint64 `gorm:"index"`
	SiteID      []byte
	CL          uint64
	Seq         uint64
	CreatedAt   time.Time
}

func (change) TableName() string { return "crdt_change" }
