package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nexcode-project/nexcode-sub000/internal/engine"
	"github.com/nexcode-project/nexcode-sub000/internal/ot"
)

// DocumentStore implements engine.ContentStore on MySQL.
type DocumentStore struct{ db *gorm.DB }

func NewDocumentStore(db *gorm.DB) *DocumentStore {
	return &DocumentStore{db: db}
}

func (s *DocumentStore) Load(ctx context.Context, docID string) (string, uint64, error) {
	var doc Document
	err := s.db.WithContext(ctx).First(&doc, "id = ?", docID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", 0, engine.ErrNotFound
	}
	if err != nil {
		return "", 0, err
	}
	return doc.Content, doc.Version, nil
}

// CommitMutation writes the new content/version and the op row in one
// transaction. The engine relies on the all-or-nothing behavior to keep the
// in-memory state honest after a failure.
func (s *DocumentStore) CommitMutation(ctx context.Context, docID, content string, version, editorID uint64, op *ot.Operation) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		doc := Document{
			ID:           docID,
			Content:      content,
			Version:      version,
			LastEditorID: editorID,
			UpdatedAt:    time.Now().UTC(),
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"content", "version", "last_editor_id", "updated_at"}),
		}).Create(&doc).Error; err != nil {
			return err
		}
		if op != nil {
			return tx.Create(opToRow(op)).Error
		}
		return nil
	})
}

func opToRow(op *ot.Operation) *Operation {
	return &Operation{
		ID:               op.ID,
		DocID:            op.DocID,
		ResultingVersion: op.ResultingVersion,
		Type:             string(op.Type),
		Position:         op.Position,
		Length:           op.Length,
		Text:             op.Text,
		UserID:           op.UserID,
		CreatedAt:        op.Timestamp,
	}
}
