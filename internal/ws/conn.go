package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nexcode-project/nexcode-sub000/internal/engine"
)

type connState int

const (
	stateConnecting connState = iota
	stateAuthenticating
	stateAuthorizing
	stateActive
	stateClosed
)

const (
	opTimeout     = 2 * time.Second
	cursorTTL     = 30 * time.Second
	maxStrikes    = 3
	sendQueueSize = 32
)

// errPolicyClose ends the read loop after a fatal policy violation.
var errPolicyClose = errors.New("policy violation")

// Conn is one client connection's session state machine. All writes to the
// socket go through the send channel and the single write loop.
type Conn struct {
	id    string
	ws    *websocket.Conn
	mgr   *Manager
	docID string

	userID   uint64
	username string
	canEdit  bool

	state    connState
	strikes  int
	joinedAt time.Time

	send chan ServerMessage
}

func newConn(ws *websocket.Conn, mgr *Manager, docID string) *Conn {
	return &Conn{
		id:    uuid.NewString(),
		ws:    ws,
		mgr:   mgr,
		docID: docID,
		state: stateConnecting,
		send:  make(chan ServerMessage, sendQueueSize),
	}
}

// enqueue never blocks; a slow consumer loses frames rather than stalling
// the broadcaster.
func (c *Conn) enqueue(msg ServerMessage) {
	select {
	case c.send <- msg:
	default:
	}
}

// run drives the connection through its lifecycle. token authenticates the
// client; authorization is delegated to the permission service. Any failure
// before ACTIVE closes the socket with a policy-violation code and no
// presence side effects.
func (c *Conn) run(ctx context.Context, token string) {
	defer c.ws.Close()

	c.state = stateAuthenticating
	claims, err := c.mgr.verifier.Parse(token)
	if err != nil {
		c.closePolicy("authentication failed")
		return
	}
	c.userID, c.username = claims.UserID, claims.Username

	c.state = stateAuthorizing
	canRead, err := c.mgr.authz.CanRead(ctx, c.userID, c.docID)
	if err != nil || !canRead {
		c.closePolicy("read capability required")
		return
	}
	c.canEdit, err = c.mgr.authz.CanEdit(ctx, c.userID, c.docID)
	if err != nil {
		c.canEdit = false
	}

	c.state = stateActive
	c.joinedAt = time.Now()
	c.mgr.hub.Join(c.docID, c)
	if err := c.mgr.presence.AddMember(ctx, c.docID, c.userID, c.username, c.mgr.presenceTTL); err != nil {
		log.Printf("ws: presence add (doc=%s user=%d): %v", c.docID, c.userID, err)
	}

	go c.writeLoop()

	c.mgr.hub.BroadcastToOthers(c.docID, c, ServerMessage{
		Type: TypeUserJoined, DocID: c.docID, UserID: c.userID, Username: c.username,
	})
	c.sendWelcome(ctx)

	c.readLoop(ctx)
	c.teardown(ctx)
}

// sendWelcome hands the new connection the current document state and the
// full online-user list.
func (c *Conn) sendWelcome(ctx context.Context) {
	content, version, err := c.mgr.engine.Get(ctx, c.docID)
	if err != nil {
		log.Printf("ws: load doc %s: %v", c.docID, err)
		c.enqueue(ServerMessage{Type: TypeError, DocID: c.docID, Code: "STORE_UNAVAILABLE", Message: "document load failed"})
	} else {
		c.enqueue(ServerMessage{Type: TypeConnected, DocID: c.docID, Version: version, Content: content})
	}

	users, err := c.mgr.presence.AliveMembers(ctx, c.docID)
	if err != nil {
		log.Printf("ws: presence list (doc=%s): %v", c.docID, err)
		return
	}
	c.enqueue(ServerMessage{Type: TypeOnlineUsers, DocID: c.docID, Users: users})
}

func (c *Conn) readLoop(ctx context.Context) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			// Transport drop or explicit close.
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if c.strike("unparseable frame") {
				return
			}
			continue
		}

		if err := c.dispatch(ctx, msg); err != nil {
			return
		}
	}
}

func (c *Conn) dispatch(ctx context.Context, msg ClientMessage) error {
	switch msg.Type {
	case TypeOperation:
		c.strikes = 0
		return c.handleOperation(ctx, msg)
	case TypeContentUpdate:
		c.strikes = 0
		return c.handleContentUpdate(msg)
	case TypeCursor:
		c.strikes = 0
		c.handleCursor(ctx, msg)
		return nil
	case TypePing:
		c.strikes = 0
		// Heartbeat doubles as the presence refresh; without it a long-lived
		// connection ages out of the room's logical TTL.
		if err := c.mgr.presence.AddMember(ctx, c.docID, c.userID, c.username, c.mgr.presenceTTL); err != nil {
			log.Printf("ws: presence refresh (doc=%s user=%d): %v", c.docID, c.userID, err)
		}
		c.enqueue(ServerMessage{Type: TypePong})
		return nil
	default:
		if c.strike("unknown frame type %q", msg.Type) {
			return errPolicyClose
		}
		return nil
	}
}

func (c *Conn) handleOperation(ctx context.Context, msg ClientMessage) error {
	if msg.Op == nil {
		if c.strike("operation frame without op") {
			return errPolicyClose
		}
		return nil
	}
	if !c.canEdit {
		c.enqueue(ServerMessage{Type: TypeError, DocID: c.docID, Code: "PERMISSION_DENIED", Message: "edit capability required"})
		c.closePolicy("edit capability required")
		return errPolicyClose
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if c.mgr.sem != nil {
		if err := c.mgr.sem.Acquire(opCtx); err != nil {
			c.enqueue(ServerMessage{Type: TypeError, DocID: c.docID, Code: "BUSY", Message: "server busy, retry"})
			return nil
		}
		defer c.mgr.sem.Release()
	}

	res, err := c.mgr.engine.ApplyOperation(opCtx, c.docID, msg.BaseVersion, *msg.Op, c.userID, msg.ClientID, msg.ClientSeq)
	if err != nil {
		c.enqueue(errorFrame(c.docID, err))
		return nil
	}

	// The submitter gets an ack carrying the committed version so it can
	// advance its base version; peers get the op itself.
	c.enqueue(ServerMessage{Type: TypeOpApplied, DocID: c.docID, Version: res.Version, Op: &res.Op})
	c.mgr.hub.BroadcastToOthers(c.docID, c, ServerMessage{
		Type: TypeOperation, DocID: c.docID, UserID: c.userID, Version: res.Version, Op: &res.Op,
	})
	return nil
}

func (c *Conn) handleContentUpdate(msg ClientMessage) error {
	if !c.canEdit {
		c.enqueue(ServerMessage{Type: TypeError, DocID: c.docID, Code: "PERMISSION_DENIED", Message: "edit capability required"})
		c.closePolicy("edit capability required")
		return errPolicyClose
	}

	c.mgr.saver.EnqueueSave(c.docID, c.userID, msg.Content)
	c.mgr.hub.BroadcastToOthers(c.docID, c, ServerMessage{
		Type: TypeContentUpdate, DocID: c.docID, UserID: c.userID, Content: msg.Content,
	})
	return nil
}

// handleCursor is ephemeral state: cached with a TTL for late joiners,
// broadcast to others, never persisted.
func (c *Conn) handleCursor(ctx context.Context, msg ClientMessage) {
	if len(msg.Cursor) > 0 {
		if err := c.mgr.presence.SetCursor(ctx, c.docID, c.userID, msg.Cursor, cursorTTL); err != nil {
			log.Printf("ws: cursor cache (doc=%s user=%d): %v", c.docID, c.userID, err)
		}
	}
	c.mgr.hub.BroadcastToOthers(c.docID, c, ServerMessage{
		Type: TypeCursor, DocID: c.docID, UserID: c.userID, Username: c.username, Cursor: msg.Cursor,
	})
}

// strike counts consecutive malformed frames; the third one is fatal.
func (c *Conn) strike(format string, args ...any) bool {
	c.strikes++
	log.Printf("ws: malformed message (doc=%s user=%d strike=%d): "+format,
		append([]any{c.docID, c.userID, c.strikes}, args...)...)
	if c.strikes >= maxStrikes {
		c.closePolicy("too many malformed messages")
		return true
	}
	return false
}

// closePolicy signals a fatal auth/abuse condition distinctly from a normal
// close, so clients know a plain reconnect will not help.
func (c *Conn) closePolicy(reason string) {
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, deadline)
}

// teardown runs exactly once, after the read loop ends for any reason.
func (c *Conn) teardown(ctx context.Context) {
	c.state = stateClosed

	remaining := c.mgr.hub.Leave(c.docID, c)
	close(c.send) // safe: after Leave no broadcast can reach this conn

	if c.mgr.hub.UserConnCount(c.docID, c.userID) == 0 {
		if err := c.mgr.presence.RemoveMember(ctx, c.docID, c.userID); err != nil {
			log.Printf("ws: presence remove (doc=%s user=%d): %v", c.docID, c.userID, err)
		}
	}

	c.mgr.hub.BroadcastToOthers(c.docID, c, ServerMessage{
		Type: TypeUserLeft, DocID: c.docID, UserID: c.userID, Username: c.username,
	})

	if remaining == 0 {
		// Last one out: per-document in-memory state is recreated from the
		// durable row on next access.
		c.mgr.engine.Release(c.docID)
	}
}

func (c *Conn) writeLoop() {
	for msg := range c.send {
		if err := c.ws.WriteJSON(msg); err != nil {
			// Keep draining so enqueuers and close() are unaffected.
			continue
		}
	}
}

func errorFrame(docID string, err error) ServerMessage {
	var conflict *engine.ConflictError
	switch {
	case errors.As(err, &conflict):
		return ServerMessage{
			Type:              TypeError,
			DocID:             docID,
			Code:              "version_mismatch",
			Message:           "stale base version, rebase with missingOperations",
			CurrentVersion:    conflict.CurrentVersion,
			MissingOperations: conflict.MissingOps,
		}
	case errors.Is(err, engine.ErrDuplicateOp):
		return ServerMessage{Type: TypeError, DocID: docID, Code: "DUPLICATE_OR_OUT_OF_ORDER", Message: "clientSeq already processed"}
	case errors.Is(err, engine.ErrStoreUnavailable):
		return ServerMessage{Type: TypeError, DocID: docID, Code: "STORE_UNAVAILABLE", Message: "persistence failed, retry"}
	default:
		return ServerMessage{Type: TypeError, DocID: docID, Code: "INTERNAL", Message: err.Error()}
	}
}
