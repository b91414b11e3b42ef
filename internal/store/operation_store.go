package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/nexcode-project/nexcode-sub000/internal/ot"
)

// OperationStore reads and trims the durable op log. Writes happen inside
// DocumentStore.CommitMutation so they share the mutation transaction.
type OperationStore struct{ db *gorm.DB }

func NewOperationStore(db *gorm.DB) *OperationStore {
	return &OperationStore{db: db}
}

func (s *OperationStore) ListSince(ctx context.Context, docID string, fromVersion uint64, limit int) ([]ot.Operation, error) {
	q := s.db.WithContext(ctx).
		Where("doc_id = ? AND resulting_version > ?", docID, fromVersion).
		Order("resulting_version ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []Operation
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]ot.Operation, 0, len(rows))
	for i := range rows {
		out = append(out, rowToOp(&rows[i]))
	}
	return out, nil
}

// CleanupKeepNewest deletes every op row for docID except the keep most
// recent ones. Snapshot rows are a different table and are never touched.
func (s *OperationStore) CleanupKeepNewest(ctx context.Context, docID string, keep int) error {
	if keep < 0 {
		keep = 0
	}
	var cutoff struct{ ResultingVersion uint64 }
	err := s.db.WithContext(ctx).Model(&Operation{}).
		Where("doc_id = ?", docID).
		Order("resulting_version DESC").
		Offset(keep).
		Limit(1).
		Take(&cutoff).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil // fewer than keep rows, nothing to trim
	}
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Where("doc_id = ? AND resulting_version <= ?", docID, cutoff.ResultingVersion).
		Delete(&Operation{}).Error
}

func rowToOp(row *Operation) ot.Operation {
	return ot.Operation{
		ID:               row.ID,
		DocID:            row.DocID,
		ResultingVersion: row.ResultingVersion,
		Type:             ot.Type(row.Type),
		Position:         row.Position,
		Length:           row.Length,
		Text:             row.Text,
		UserID:           row.UserID,
		Timestamp:        row.CreatedAt,
	}
}
