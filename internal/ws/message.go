package ws

import (
	"encoding/json"

	"github.com/nexcode-project/nexcode-sub000/internal/cache"
	"github.com/nexcode-project/nexcode-sub000/internal/ot"
)

// Inbound frame types.
const (
	TypeOperation     = "operation"
	TypeContentUpdate = "content_update"
	TypeCursor        = "cursor"
	TypePing          = "ping"
)

// Outbound frame types.
const (
	TypeConnected   = "connected"
	TypeOpApplied   = "op_applied"
	TypeUserJoined  = "user_joined"
	TypeUserLeft    = "user_left"
	TypeOnlineUsers = "online_users"
	TypePong        = "pong"
	TypeError       = "error"
)

type ClientMessage struct {
	Type        string          `json:"type"`
	BaseVersion uint64          `json:"baseVersion,omitempty"`
	ClientID    string          `json:"clientId,omitempty"`
	ClientSeq   uint64          `json:"clientSeq,omitempty"`
	Op          *ot.Operation   `json:"op,omitempty"`
	Content     string          `json:"content,omitempty"`
	Cursor      json.RawMessage `json:"cursor,omitempty"`
}

type ServerMessage struct {
	Type     string          `json:"type"`
	DocID    string          `json:"docId,omitempty"`
	UserID   uint64          `json:"userId,omitempty"`
	Username string          `json:"username,omitempty"`
	Version  uint64          `json:"version,omitempty"`
	Content  string          `json:"content,omitempty"`
	Op       *ot.Operation   `json:"op,omitempty"`
	Users    []cache.Member  `json:"users,omitempty"`
	Cursor   json.RawMessage `json:"cursor,omitempty"`

	// Error payload; MissingOperations carries the rebase material on a
	// version_mismatch.
	Code              string         `json:"code,omitempty"`
	Message           string         `json:"message,omitempty"`
	CurrentVersion    uint64         `json:"currentVersion,omitempty"`
	MissingOperations []ot.Operation `json:"missingOperations,omitempty"`
}
