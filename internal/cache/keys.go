package cache

import "fmt"

// Key semantics:
// - roomKey(docID):  online members (ZSet<userId, expireAtUnix>, score = logical TTL)
// - namesKey(docID): userId -> username (Hash)
// - cursorKey:       latest cursor payload per (doc, user), real TTL
const (
	keyRoomFmt   = "presence:room:{docID:%s}"
	keyNamesFmt  = "presence:room:names:{docID:%s}"
	keyCursorFmt = "presence:cursor:%s:%d"
)

func roomKey(docID string) string  { return fmt.Sprintf(keyRoomFmt, docID) }
func namesKey(docID string) string { return fmt.Sprintf(keyNamesFmt, docID) }

func cursorKey(docID string, userID uint64) string {
	return fmt.Sprintf(keyCursorFmt, docID, userID)
}
