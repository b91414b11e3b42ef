package store

import "time"

// Document is the authoritative durable record of current content.
type Document struct {
	ID           string `gorm:"primaryKey;size:64"`
	Content      string `gorm:"type:longtext"`
	Version      uint64 `gorm:"not null;default:0"`
	LastEditorID uint64
	UpdatedAt    time.Time
}

// Operation rows are append-only; (doc_id, resulting_version) is the total
// order within a document.
type Operation struct {
	ID               string `gorm:"primaryKey;size:36"`
	DocID            string `gorm:"size:64;uniqueIndex:idx_ops_doc_rev,priority:1"`
	ResultingVersion uint64 `gorm:"uniqueIndex:idx_ops_doc_rev,priority:2"`
	Type             string `gorm:"size:16"`
	Position         int
	Length           int
	Text             string `gorm:"type:longtext"`
	UserID           uint64
	CreatedAt        time.Time
}

// VersionSnapshot rows are append-only history, deduplicated by content hash
// at write time (manager-side), never mutated or reordered.
type VersionSnapshot struct {
	ID                string `gorm:"primaryKey;size:36"`
	DocID             string `gorm:"size:64;uniqueIndex:idx_snap_doc_ver,priority:1"`
	VersionNumber     uint64 `gorm:"uniqueIndex:idx_snap_doc_ver,priority:2"`
	Title             string `gorm:"size:255"`
	Content           string `gorm:"type:longtext"`
	ContentHash       string `gorm:"size:64"`
	ChangedBy         uint64
	ChangeDescription string `gorm:"size:255"`
	CreatedAt         time.Time
}
