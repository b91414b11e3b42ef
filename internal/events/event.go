package events

import (
	"time"

	"github.com/nexcode-project/nexcode-sub000/internal/ot"
)

const (
	EventOpApplied = "OP_APPLIED"
	EventDocSynced = "DOC_SYNCED"
)

// DocEvent is published once per committed mutation, keyed by docID so the
// metadata service consumes each document's events in version order.
type DocEvent struct {
	EventType   string        `json:"eventType"`
	DocID       string        `json:"docId"`
	OperationID string        `json:"operationId"`
	Version     uint64        `json:"version"`
	AuthorID    uint64        `json:"authorId"`
	ClientID    string        `json:"clientId,omitempty"`
	ClientSeq   uint64        `json:"clientSeq,omitempty"`
	BaseVersion uint64        `json:"baseVersion"`
	Op          *ot.Operation `json:"op,omitempty"`
	AppliedAt   time.Time     `json:"appliedAt"`
}
