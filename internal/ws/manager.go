package ws

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/nexcode-project/nexcode-sub000/internal/auth"
	"github.com/nexcode-project/nexcode-sub000/internal/cache"
	"github.com/nexcode-project/nexcode-sub000/internal/engine"
	"github.com/nexcode-project/nexcode-sub000/internal/sema"
)

// Saver is the async full-document path.
type Saver interface {
	EnqueueSave(docID string, userID uint64, content string)
}

// Manager owns the WebSocket endpoint and everything a connection needs.
type Manager struct {
	hub      *Hub
	engine   *engine.Engine
	saver    Saver
	presence cache.PresenceCache
	verifier *auth.Verifier
	authz    auth.Authorizer
	sem      *sema.Semaphore

	presenceTTL time.Duration
	upgrader    websocket.Upgrader
}

func NewManager(hub *Hub, eng *engine.Engine, saver Saver, presence cache.PresenceCache,
	verifier *auth.Verifier, authz auth.Authorizer, sem *sema.Semaphore, allowedOrigins []string) *Manager {
	m := &Manager{
		hub:         hub,
		engine:      eng,
		saver:       saver,
		presence:    presence,
		verifier:    verifier,
		authz:       authz,
		sem:         sem,
		presenceTTL: 10 * time.Minute,
	}
	m.upgrader = websocket.Upgrader{CheckOrigin: originChecker(allowedOrigins)}
	return m
}

// originChecker accepts absent Origin headers (non-browser clients) and any
// origin matching a configured prefix. An empty allowlist accepts all.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || origin == "null" {
			return true
		}
		if len(allowed) == 0 {
			return true
		}
		for _, p := range allowed {
			if strings.HasPrefix(origin, p) {
				return true
			}
		}
		return false
	}
}

// WebSocketConnect upgrades and runs one connection: GET /ws?docId=...&token=...
func (m *Manager) WebSocketConnect(c *gin.Context) {
	docID := c.Query("docId")
	if docID == "" {
		c.String(http.StatusBadRequest, "missing docId")
		return
	}

	token := extractToken(c)

	ws, err := m.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws: upgrade failed (origin=%s): %v", c.Request.Header.Get("Origin"), err)
		return
	}

	conn := newConn(ws, m, docID)
	conn.run(c.Request.Context(), token)
}

func extractToken(c *gin.Context) string {
	const prefix = "Bearer "
	header := c.GetHeader("Authorization")
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return strings.TrimSpace(c.Query("token"))
}
