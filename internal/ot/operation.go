package ot

import (
	"log"
	"time"
)

type Type string

const (
	TypeInsert     Type = "insert"
	TypeDelete     Type = "delete"
	TypeReplace    Type = "replace"
	TypeFullUpdate Type = "full_update"
)

// Operation is one committed content mutation. ResultingVersion is the
// document version the operation produced; within a document the log is
// totally ordered by it.
type Operation struct {
	ID               string    `json:"id,omitempty"`
	DocID            string    `json:"docId,omitempty"`
	ResultingVersion uint64    `json:"resultingVersion,omitempty"`
	Type             Type      `json:"type"`
	Position         int       `json:"position"`
	Length           int       `json:"length,omitempty"`
	Text             string    `json:"text,omitempty"`
	UserID           uint64    `json:"userId,omitempty"`
	Timestamp        time.Time `json:"timestamp,omitempty"`
}

// Apply runs op against content and returns the new content. Positions are
// rune offsets clamped to [0, len(content)]; a negative length counts as 0.
// An unknown op type is a logged no-op.
func Apply(content string, op Operation) string {
	if op.Type == TypeFullUpdate {
		return op.Text
	}

	r := []rune(content)
	pos := clamp(op.Position, len(r))
	n := op.Length
	if n < 0 {
		n = 0
	}
	end := pos + n
	if end > len(r) {
		end = len(r)
	}

	switch op.Type {
	case TypeInsert:
		return string(r[:pos]) + op.Text + string(r[pos:])
	case TypeDelete:
		return string(r[:pos]) + string(r[end:])
	case TypeReplace:
		return string(r[:pos]) + op.Text + string(r[end:])
	default:
		log.Printf("ot: unknown op type %q on doc %s, skipping", op.Type, op.DocID)
		return content
	}
}

func clamp(pos, max int) int {
	if pos < 0 {
		return 0
	}
	if pos > max {
		return max
	}
	return pos
}
