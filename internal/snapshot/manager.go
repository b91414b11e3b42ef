package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/nexcode-project/nexcode-sub000/internal/engine"
)

// Snapshot is one durable historical copy of document content, distinct from
// the live version counter. Rows are append-only and deduplicated by content
// hash against the latest row for the document.
type Snapshot struct {
	ID                string    `json:"id"`
	DocID             string    `json:"docId"`
	VersionNumber     uint64    `json:"versionNumber"`
	Title             string    `json:"title"`
	Content           string    `json:"content,omitempty"`
	ContentHash       string    `json:"contentHash"`
	ChangedBy         uint64    `json:"changedBy"`
	ChangeDescription string    `json:"changeDescription"`
	CreatedAt         time.Time `json:"createdAt"`
}

// Store persists snapshot rows. Latest and Get return engine.ErrNotFound
// when nothing matches; MaxVersionNumber returns 0 for a document with no
// history yet.
type Store interface {
	Insert(ctx context.Context, snap Snapshot) error
	Latest(ctx context.Context, docID string) (Snapshot, error)
	Get(ctx context.Context, docID string, versionNumber uint64) (Snapshot, error)
	List(ctx context.Context, docID string, limit int) ([]Snapshot, error)
	MaxVersionNumber(ctx context.Context, docID string) (uint64, error)
}

// OperationCleaner trims the durable op log. Satisfied by the gorm store.
type OperationCleaner interface {
	CleanupKeepNewest(ctx context.Context, docID string, keep int) error
}

// LiveState is the engine surface the manager needs: reading current content
// and replacing it through the single serialized write path, so a restore or
// a drained auto-save can never race a concurrent edit.
type LiveState interface {
	Get(ctx context.Context, docID string) (string, uint64, error)
	Sync(ctx context.Context, docID string, baseVersion uint64, content string, userID uint64, createSnapshot bool) (engine.Result, error)
}

type saveRequest struct {
	docID   string
	userID  uint64
	content string
}

// Manager owns durable version history. Saves arrive on a bounded queue
// drained by one background worker per process, keeping durable-store round
// trips off the latency-sensitive broadcast path.
type Manager struct {
	store   Store
	cleaner OperationCleaner
	live    LiveState

	mu    sync.Mutex // serializes version-number allocation
	queue chan saveRequest
	done  chan struct{}

	// closeMu fences EnqueueSave against Close: WebSocket connections can
	// outlive the HTTP server's shutdown and must not hit a closed queue.
	closeMu sync.RWMutex
	closed  bool
}

func NewManager(store Store, cleaner OperationCleaner, live LiveState, queueSize int) *Manager {
	if queueSize <= 0 {
		queueSize = 1024
	}
	m := &Manager{
		store:   store,
		cleaner: cleaner,
		live:    live,
		queue:   make(chan saveRequest, queueSize),
		done:    make(chan struct{}),
	}
	go m.workerLoop()
	return m
}

// Close stops accepting saves and waits for the worker to drain the queue.
// Safe to call with stragglers still enqueueing; their saves are dropped.
func (m *Manager) Close() {
	m.closeMu.Lock()
	if m.closed {
		m.closeMu.Unlock()
		return
	}
	m.closed = true
	m.closeMu.Unlock()

	close(m.queue)
	<-m.done
}

// EnqueueSave hands content to the background worker. Never blocks: when the
// queue is full the save is dropped and logged, which is safe because the
// next save for the document carries the newest content anyway.
func (m *Manager) EnqueueSave(docID string, userID uint64, content string) {
	m.closeMu.RLock()
	defer m.closeMu.RUnlock()
	if m.closed {
		log.Printf("snapshot: save queue closed, dropping save for doc %s", docID)
		return
	}
	select {
	case m.queue <- saveRequest{docID: docID, userID: userID, content: content}:
	default:
		log.Printf("snapshot: save queue full, dropping save for doc %s", docID)
	}
}

func (m *Manager) workerLoop() {
	defer close(m.done)
	for req := range m.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := m.processSave(ctx, req); err != nil {
			// Not retried here; the next save re-triggers and dedup makes
			// reruns harmless.
			log.Printf("snapshot: save for doc %s: %v", req.docID, err)
		}
		cancel()
	}
}

func (m *Manager) processSave(ctx context.Context, req saveRequest) error {
	current, version, err := m.live.Get(ctx, req.docID)
	if err != nil {
		return err
	}
	if current == req.content {
		return nil
	}

	// Archive the content being replaced before it disappears.
	if _, err := m.CreateSnapshot(ctx, req.docID, req.userID, "auto-save", current); err != nil {
		return err
	}
	_, err = m.live.Sync(ctx, req.docID, version, req.content, req.userID, false)
	return err
}

// CreateSnapshot persists content as a new history row unless its hash
// matches the latest row for the document, in which case it is a success
// no-op. Empty content means "snapshot whatever is live right now".
func (m *Manager) CreateSnapshot(ctx context.Context, docID string, userID uint64, description, content string) (bool, error) {
	if content == "" {
		live, _, err := m.live.Get(ctx, docID)
		if err != nil {
			return false, err
		}
		content = live
	}
	hash := contentHash(content)

	m.mu.Lock()
	defer m.mu.Unlock()

	latest, err := m.store.Latest(ctx, docID)
	switch {
	case err == nil:
		if latest.ContentHash == hash {
			return false, nil
		}
	case errors.Is(err, engine.ErrNotFound):
		// First snapshot for this document.
	default:
		return false, err
	}

	maxV, err := m.store.MaxVersionNumber(ctx, docID)
	if err != nil {
		return false, err
	}
	vn := maxV + 1
	snap := Snapshot{
		ID:                uuid.NewString(),
		DocID:             docID,
		VersionNumber:     vn,
		Title:             fmt.Sprintf("Version %d", vn),
		Content:           content,
		ContentHash:       hash,
		ChangedBy:         userID,
		ChangeDescription: description,
		CreatedAt:         time.Now().UTC(),
	}
	if err := m.store.Insert(ctx, snap); err != nil {
		return false, err
	}
	return true, nil
}

// RestoreVersion rewinds live content to a stored snapshot. The current
// content is archived first as a pre-restore backup, then the replacement
// goes through the engine's serialized write path so the version keeps
// moving forward.
func (m *Manager) RestoreVersion(ctx context.Context, docID string, versionNumber, userID uint64) (string, uint64, error) {
	target, err := m.store.Get(ctx, docID, versionNumber)
	if err != nil {
		return "", 0, err
	}

	current, version, err := m.live.Get(ctx, docID)
	if err != nil {
		return "", 0, err
	}
	if _, err := m.CreateSnapshot(ctx, docID, userID, "pre-restore backup", current); err != nil {
		return "", 0, err
	}

	res, err := m.live.Sync(ctx, docID, version, target.Content, userID, false)
	if err != nil {
		return "", 0, err
	}

	if _, err := m.CreateSnapshot(ctx, docID, userID, fmt.Sprintf("restored from v%d", versionNumber), target.Content); err != nil {
		log.Printf("snapshot: restore marker for doc %s v%d: %v", docID, versionNumber, err)
	}
	return res.Content, res.Version, nil
}

// DiffLine is one chunk of a line-level diff between two snapshots.
type DiffLine struct {
	Op   string `json:"op"` // "equal" | "insert" | "delete"
	Text string `json:"text"`
}

// DiffVersions is pure and read-only.
func (m *Manager) DiffVersions(ctx context.Context, docID string, v1, v2 uint64) ([]DiffLine, error) {
	a, err := m.store.Get(ctx, docID, v1)
	if err != nil {
		return nil, err
	}
	b, err := m.store.Get(ctx, docID, v2)
	if err != nil {
		return nil, err
	}

	dmp := diffmatchpatch.New()
	c1, c2, lines := dmp.DiffLinesToChars(a.Content, b.Content)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(c1, c2, false), lines)

	out := make([]DiffLine, 0, len(diffs))
	for _, d := range diffs {
		line := DiffLine{Text: d.Text}
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			line.Op = "equal"
		case diffmatchpatch.DiffInsert:
			line.Op = "insert"
		case diffmatchpatch.DiffDelete:
			line.Op = "delete"
		}
		out = append(out, line)
	}
	return out, nil
}

// List returns the newest snapshots first, content omitted.
func (m *Manager) List(ctx context.Context, docID string, limit int) ([]Snapshot, error) {
	snaps, err := m.store.List(ctx, docID, limit)
	if err != nil {
		return nil, err
	}
	for i := range snaps {
		snaps[i].Content = ""
	}
	return snaps, nil
}

// GetContent returns one stored snapshot including its content.
func (m *Manager) GetContent(ctx context.Context, docID string, versionNumber uint64) (Snapshot, error) {
	return m.store.Get(ctx, docID, versionNumber)
}

// CleanupOperations retains only the newest keepCount op-log rows for a
// document. Snapshot rows are never touched.
func (m *Manager) CleanupOperations(ctx context.Context, docID string, keepCount int) error {
	return m.cleaner.CleanupKeepNewest(ctx, docID, keepCount)
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
