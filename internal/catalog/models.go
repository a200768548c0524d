package catalog

// Site is the replicated catalog row described in spec §3. deletedAt is a
// hidden CRDT register written by DeleteRow's tombstone and excluded from
// every JSON view of a site.
type Site struct {
	ID          string  `gorm:"column:id;primaryKey" json:"id"`
	Name        string  `gorm:"column:name" json:"name"`
	Description string  `gorm:"column:description" json:"description"`
	URL         string  `gorm:"column:url" json:"url"`
	Thumbnail   string  `gorm:"column:thumbnail" json:"thumbnail"`
	OwnerID     string  `gorm:"column:owner_id" json:"owner_id"`
	ContentHash string  `gorm:"column:content_hash" json:"content_hash"`
	FileCount   int64   `gorm:"column:file_count" json:"file_count"`
	FileSize    int64   `gorm:"column:file_size" json:"file_size"`
	AddedAt     string  `gorm:"column:added_at" json:"added_at"`
	UpdatedAt   string  `gorm:"column:updated_at" json:"updated_at"`
	DeletedAt   *string `gorm:"column:deleted_at" json:"-"`
}

func (Site) TableName() string { return "sites" }

// Fields are the caller-supplied attributes for Add; id, owner_id,
// added_at, and updated_at are stamped by the engine.
type Fields struct {
	Name        string
	Description string
	URL         string
	Thumbnail   string
	ContentHash string
}
