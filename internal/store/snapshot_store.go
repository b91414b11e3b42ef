package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/nexcode-project/nexcode-sub000/internal/engine"
	"github.com/nexcode-project/nexcode-sub000/internal/snapshot"
)

// SnapshotStore implements snapshot.Store on MySQL.
type SnapshotStore struct{ db *gorm.DB }

func NewSnapshotStore(db *gorm.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

func (s *SnapshotStore) Insert(ctx context.Context, snap snapshot.Snapshot) error {
	row := VersionSnapshot{
		ID:                snap.ID,
		DocID:             snap.DocID,
		VersionNumber:     snap.VersionNumber,
		Title:             snap.Title,
		Content:           snap.Content,
		ContentHash:       snap.ContentHash,
		ChangedBy:         snap.ChangedBy,
		ChangeDescription: snap.ChangeDescription,
		CreatedAt:         snap.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *SnapshotStore) Latest(ctx context.Context, docID string) (snapshot.Snapshot, error) {
	var row VersionSnapshot
	err := s.db.WithContext(ctx).
		Where("doc_id = ?", docID).
		Order("version_number DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return snapshot.Snapshot{}, engine.ErrNotFound
	}
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	return rowToSnapshot(&row), nil
}

func (s *SnapshotStore) Get(ctx context.Context, docID string, versionNumber uint64) (snapshot.Snapshot, error) {
	var row VersionSnapshot
	err := s.db.WithContext(ctx).
		Where("doc_id = ? AND version_number = ?", docID, versionNumber).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return snapshot.Snapshot{}, engine.ErrNotFound
	}
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	return rowToSnapshot(&row), nil
}

func (s *SnapshotStore) List(ctx context.Context, docID string, limit int) ([]snapshot.Snapshot, error) {
	q := s.db.WithContext(ctx).
		Where("doc_id = ?", docID).
		Order("version_number DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []VersionSnapshot
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]snapshot.Snapshot, 0, len(rows))
	for i := range rows {
		out = append(out, rowToSnapshot(&rows[i]))
	}
	return out, nil
}

func (s *SnapshotStore) MaxVersionNumber(ctx context.Context, docID string) (uint64, error) {
	var max *uint64
	err := s.db.WithContext(ctx).Model(&VersionSnapshot{}).
		Where("doc_id = ?", docID).
		Select("MAX(version_number)").
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	if max == nil {
		return 0, nil
	}
	return *max, nil
}

func rowToSnapshot(row *VersionSnapshot) snapshot.Snapshot {
	return snapshot.Snapshot{
		ID:                row.ID,
		DocID:             row.DocID,
		VersionNumber:     row.VersionNumber,
		Title:             row.Title,
		Content:           row.Content,
		ContentHash:       row.ContentHash,
		ChangedBy:         row.ChangedBy,
		ChangeDescription: row.ChangeDescription,
		CreatedAt:         row.CreatedAt,
	}
}
