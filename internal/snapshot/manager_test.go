package snapshot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nexcode-project/nexcode-sub000/internal/engine"
)

// memSnapStore is an in-memory Store for manager tests.
type memSnapStore struct {
	mu   sync.Mutex
	rows map[string][]Snapshot
	kept map[string]int // CleanupKeepNewest calls, docID -> keep
}

func newMemSnapStore() *memSnapStore {
	return &memSnapStore{rows: make(map[string][]Snapshot), kept: make(map[string]int)}
}

func (s *memSnapStore) Insert(ctx context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[snap.DocID] = append(s.rows[snap.DocID], snap)
	return nil
}

func (s *memSnapStore) Latest(ctx context.Context, docID string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.rows[docID]
	if len(rows) == 0 {
		return Snapshot{}, engine.ErrNotFound
	}
	best := rows[0]
	for _, r := range rows[1:] {
		if r.VersionNumber > best.VersionNumber {
			best = r
		}
	}
	return best, nil
}

func (s *memSnapStore) Get(ctx context.Context, docID string, versionNumber uint64) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows[docID] {
		if r.VersionNumber == versionNumber {
			return r, nil
		}
	}
	return Snapshot{}, engine.ErrNotFound
}

func (s *memSnapStore) List(ctx context.Context, docID string, limit int) ([]Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := append([]Snapshot{}, s.rows[docID]...)
	for i := 0; i < len(rows); i++ {
		for j := i + 1; j < len(rows); j++ {
			if rows[j].VersionNumber > rows[i].VersionNumber {
				rows[i], rows[j] = rows[j], rows[i]
			}
		}
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (s *memSnapStore) MaxVersionNumber(ctx context.Context, docID string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var max uint64
	for _, r := range s.rows[docID] {
		if r.VersionNumber > max {
			max = r.VersionNumber
		}
	}
	return max, nil
}

func (s *memSnapStore) CleanupKeepNewest(ctx context.Context, docID string, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kept[docID] = keep
	return nil
}

func (s *memSnapStore) count(docID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows[docID])
}

// fakeLive is a minimal LiveState that behaves like the engine's full-sync
// path: last write wins, version always advances.
type fakeLive struct {
	mu      sync.Mutex
	content map[string]string
	version map[string]uint64
}

func newFakeLive() *fakeLive {
	return &fakeLive{content: make(map[string]string), version: make(map[string]uint64)}
}

func (f *fakeLive) set(docID, content string, version uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.content[docID] = content
	f.version[docID] = version
}

func (f *fakeLive) Get(ctx context.Context, docID string) (string, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.content[docID], f.version[docID], nil
}

func (f *fakeLive) Sync(ctx context.Context, docID string, baseVersion uint64, content string, userID uint64, createSnapshot bool) (engine.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.content[docID] = content
	f.version[docID]++
	return engine.Result{Version: f.version[docID], Content: content}, nil
}

func newTestManager(t *testing.T) (*Manager, *memSnapStore, *fakeLive) {
	t.Helper()
	store := newMemSnapStore()
	live := newFakeLive()
	m := NewManager(store, store, live, 16)
	t.Cleanup(m.Close)
	return m, store, live
}

func TestCreateSnapshotAssignsSequentialVersions(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()

	created, err := m.CreateSnapshot(ctx, "doc-1", 1, "manual", "draft one")
	if err != nil || !created {
		t.Fatalf("first = (%v, %v)", created, err)
	}
	created, err = m.CreateSnapshot(ctx, "doc-1", 1, "manual", "draft two")
	if err != nil || !created {
		t.Fatalf("second = (%v, %v)", created, err)
	}

	snap, err := store.Latest(ctx, "doc-1")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if snap.VersionNumber != 2 || snap.Title != "Version 2" {
		t.Fatalf("latest = %+v", snap)
	}
}

func TestCreateSnapshotDedupByHash(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.CreateSnapshot(ctx, "doc-1", 1, "manual", "same body"); err != nil {
		t.Fatalf("first: %v", err)
	}
	created, err := m.CreateSnapshot(ctx, "doc-1", 2, "manual again", "same body")
	if err != nil {
		t.Fatalf("duplicate: %v", err)
	}
	if created {
		t.Fatalf("identical content must be a success no-op")
	}
	if got := store.count("doc-1"); got != 1 {
		t.Fatalf("rows = %d, want 1", got)
	}

	// Dedup compares against the latest row only, so A, B, A yields 3 rows.
	if _, err := m.CreateSnapshot(ctx, "doc-1", 1, "manual", "other body"); err != nil {
		t.Fatalf("third: %v", err)
	}
	created, err = m.CreateSnapshot(ctx, "doc-1", 1, "manual", "same body")
	if err != nil || !created {
		t.Fatalf("A after B = (%v, %v), want created", created, err)
	}
	if got := store.count("doc-1"); got != 3 {
		t.Fatalf("rows = %d, want 3", got)
	}
}

func TestCreateSnapshotEmptyContentUsesLive(t *testing.T) {
	m, store, live := newTestManager(t)
	live.set("doc-1", "live body", 4)

	created, err := m.CreateSnapshot(context.Background(), "doc-1", 1, "manual", "")
	if err != nil || !created {
		t.Fatalf("create = (%v, %v)", created, err)
	}
	snap, err := store.Latest(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if snap.Content != "live body" {
		t.Fatalf("content = %q", snap.Content)
	}
}

func TestSaveWorkerArchivesAndSyncs(t *testing.T) {
	m, store, live := newTestManager(t)
	live.set("doc-1", "old body", 3)

	m.EnqueueSave("doc-1", 7, "new body")
	waitFor(t, func() bool {
		content, _, _ := live.Get(context.Background(), "doc-1")
		return content == "new body"
	})

	// The replaced content was archived before the sync.
	snap, err := store.Latest(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if snap.Content != "old body" || snap.ChangeDescription != "auto-save" {
		t.Fatalf("archived = %+v", snap)
	}
	if _, version, _ := live.Get(context.Background(), "doc-1"); version != 4 {
		t.Fatalf("live version = %d, want 4", version)
	}
}

func TestSaveWorkerSkipsIdenticalContent(t *testing.T) {
	m, store, live := newTestManager(t)
	live.set("doc-1", "unchanged", 3)

	m.EnqueueSave("doc-1", 7, "unchanged")
	m.EnqueueSave("doc-2", 7, "something") // sentinel to prove the queue drained past doc-1
	waitFor(t, func() bool {
		content, _, _ := live.Get(context.Background(), "doc-2")
		return content == "something"
	})

	if got := store.count("doc-1"); got != 0 {
		t.Fatalf("doc-1 rows = %d, want 0", got)
	}
	if _, version, _ := live.Get(context.Background(), "doc-1"); version != 3 {
		t.Fatalf("doc-1 version moved to %d", version)
	}
}

func TestRestoreVersionRoundTrip(t *testing.T) {
	m, store, live := newTestManager(t)
	ctx := context.Background()
	live.set("doc-1", "version one body", 1)

	if _, err := m.CreateSnapshot(ctx, "doc-1", 1, "manual", "version one body"); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	live.set("doc-1", "version two body", 2)

	content, newVersion, err := m.RestoreVersion(ctx, "doc-1", 1, 9)
	if err != nil {
		t.Fatalf("RestoreVersion: %v", err)
	}
	if content != "version one body" || newVersion != 3 {
		t.Fatalf("restore = (%q, %d), want (version one body, 3)", content, newVersion)
	}

	// Pre-restore backup of "version two body" exists.
	found := false
	snaps, _ := store.List(ctx, "doc-1", 0)
	for _, s := range snaps {
		if s.ChangeDescription == "pre-restore backup" && s.Content == "version two body" {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing pre-restore backup among %d rows", len(snaps))
	}
}

func TestRestoreVersionUnknownTarget(t *testing.T) {
	m, _, live := newTestManager(t)
	live.set("doc-1", "live body", 5)

	_, _, err := m.RestoreVersion(context.Background(), "doc-1", 999, 1)
	if !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	// Nothing moved.
	content, version, _ := live.Get(context.Background(), "doc-1")
	if content != "live body" || version != 5 {
		t.Fatalf("live state = (%q, %d)", content, version)
	}
}

func TestDiffVersions(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.CreateSnapshot(ctx, "doc-1", 1, "manual", "alpha\nbeta\n"); err != nil {
		t.Fatalf("v1: %v", err)
	}
	if _, err := m.CreateSnapshot(ctx, "doc-1", 1, "manual", "alpha\ngamma\n"); err != nil {
		t.Fatalf("v2: %v", err)
	}

	diff, err := m.DiffVersions(ctx, "doc-1", 1, 2)
	if err != nil {
		t.Fatalf("DiffVersions: %v", err)
	}
	var sawDelete, sawInsert bool
	for _, d := range diff {
		if d.Op == "delete" && d.Text == "beta\n" {
			sawDelete = true
		}
		if d.Op == "insert" && d.Text == "gamma\n" {
			sawInsert = true
		}
	}
	if !sawDelete || !sawInsert {
		t.Fatalf("diff = %+v", diff)
	}
}

func TestListOmitsContent(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	if _, err := m.CreateSnapshot(ctx, "doc-1", 1, "manual", "secret body"); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	snaps, err := m.List(ctx, "doc-1", 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(snaps) != 1 || snaps[0].Content != "" {
		t.Fatalf("list = %+v", snaps)
	}

	full, err := m.GetContent(ctx, "doc-1", snaps[0].VersionNumber)
	if err != nil {
		t.Fatalf("GetContent: %v", err)
	}
	if full.Content != "secret body" {
		t.Fatalf("content = %q", full.Content)
	}
}

func TestEnqueueSaveAfterCloseIsDropped(t *testing.T) {
	store := newMemSnapStore()
	live := newFakeLive()
	live.set("doc-1", "old", 1)
	m := NewManager(store, store, live, 16)
	m.Close()

	// Connections can outlive the HTTP server's shutdown; a late save must
	// be dropped, not panic on the closed queue.
	m.EnqueueSave("doc-1", 7, "late save")

	if content, _, _ := live.Get(context.Background(), "doc-1"); content != "old" {
		t.Fatalf("late save was processed: %q", content)
	}

	// Close is idempotent.
	m.Close()
}

func TestCleanupOperationsDelegates(t *testing.T) {
	m, store, _ := newTestManager(t)
	if err := m.CleanupOperations(context.Background(), "doc-1", 500); err != nil {
		t.Fatalf("CleanupOperations: %v", err)
	}
	if store.kept["doc-1"] != 500 {
		t.Fatalf("keep = %d", store.kept["doc-1"])
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached within deadline")
}
