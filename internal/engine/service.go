package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexcode-project/nexcode-sub000/internal/events"
	"github.com/nexcode-project/nexcode-sub000/internal/ot"
)

// ContentStore is the durable record of a document's current state.
// CommitMutation must persist the content, the version and the op row as one
// unit: either everything lands or nothing does.
type ContentStore interface {
	Load(ctx context.Context, docID string) (content string, version uint64, err error)
	CommitMutation(ctx context.Context, docID, content string, version, editorID uint64, op *ot.Operation) error
}

// OperationStore reads back the append-only per-document op log.
type OperationStore interface {
	ListSince(ctx context.Context, docID string, fromVersion uint64, limit int) ([]ot.Operation, error)
}

// EventPublisher receives one event per committed mutation, off the latency
// path. Satisfied by events.Dispatcher.
type EventPublisher interface {
	Enqueue(ctx context.Context, evt events.DocEvent) error
}

// Snapshotter persists a deduplicated durable snapshot on request.
// Satisfied by snapshot.Manager.
type Snapshotter interface {
	CreateSnapshot(ctx context.Context, docID string, userID uint64, description, content string) (bool, error)
}

// Result is the outcome of a successful mutating call.
type Result struct {
	Version uint64
	Content string
	Op      ot.Operation
}

type docState struct {
	mu       sync.Mutex
	loaded   bool
	released bool
	version  uint64
	buf      *PieceTable
	ring     []ot.Operation
	// 去重窗口: latest clientSeq seen per clientId.
	lastSeqByClient map[string]uint64
}

// Engine owns all live document state. Each document's mutating path is
// serialized behind its own docState mutex; unrelated documents never
// contend. The registry lock is held only long enough to look up or create a
// docState, never across a mutation.
type Engine struct {
	mu      sync.RWMutex
	docs    map[string]*docState
	ringCap int

	store     ContentStore
	ops       OperationStore
	publisher EventPublisher
	snapshots Snapshotter
}

func New(store ContentStore, ops OperationStore) *Engine {
	return &Engine{
		docs:    make(map[string]*docState),
		ringCap: 1024,
		store:   store,
		ops:     ops,
	}
}

// SetPublisher wires the doc-event dispatcher. Optional.
func (e *Engine) SetPublisher(p EventPublisher) { e.publisher = p }

// SetSnapshotter wires the snapshot manager. Optional; without it
// createSnapshot requests on Sync are ignored.
func (e *Engine) SetSnapshotter(s Snapshotter) { e.snapshots = s }

// getOrCreateDoc returns the docState for docID, creating it lazily. The
// double check avoids handing out two states for one document under a race.
func (e *Engine) getOrCreateDoc(docID string) *docState {
	e.mu.RLock()
	ds := e.docs[docID]
	e.mu.RUnlock()
	if ds != nil {
		return ds
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if ds = e.docs[docID]; ds == nil {
		ds = &docState{
			buf:             NewPieceTable(""),
			ring:            make([]ot.Operation, 0, e.ringCap),
			lastSeqByClient: make(map[string]uint64),
		}
		e.docs[docID] = ds
	}
	return ds
}

// lockDoc resolves and locks the live docState for docID. A state that
// Release retired between lookup and lock is skipped and the lookup retried,
// so no caller ever mutates a retired state.
func (e *Engine) lockDoc(docID string) *docState {
	for {
		ds := e.getOrCreateDoc(docID)
		ds.mu.Lock()
		if !ds.released {
			return ds
		}
		ds.mu.Unlock()
	}
}

func (e *Engine) peekDoc(docID string) *docState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.docs[docID]
}

// ensureLoaded hydrates a fresh docState from the durable row. Caller holds
// ds.mu.
func (e *Engine) ensureLoaded(ctx context.Context, docID string, ds *docState) error {
	if ds.loaded {
		return nil
	}
	content, version, err := e.store.Load(ctx, docID)
	switch {
	case err == nil:
		ds.buf.Reset(content)
		ds.version = version
	case errors.Is(err, ErrNotFound):
		// First access creates an empty record at version 0.
	default:
		return fmt.Errorf("%w: load doc %s: %v", ErrStoreUnavailable, docID, err)
	}
	ds.loaded = true
	return nil
}

// Get returns the current content and version, creating an empty record on
// first access.
func (e *Engine) Get(ctx context.Context, docID string) (string, uint64, error) {
	ds := e.lockDoc(docID)
	defer ds.mu.Unlock()
	if err := e.ensureLoaded(ctx, docID, ds); err != nil {
		return "", 0, err
	}
	return ds.buf.String(), ds.version, nil
}

// ApplyOperation is the low-latency keystroke path: compare-and-swap on
// baseVersion, apply through the piece table, persist, append to the log.
// A stale baseVersion is rejected with a *ConflictError carrying the ops the
// caller has not seen; no mutation occurs. clientID/clientSeq are optional
// idempotence keys (zero seq disables the check).
func (e *Engine) ApplyOperation(ctx context.Context, docID string, baseVersion uint64, op ot.Operation, userID uint64, clientID string, clientSeq uint64) (Result, error) {
	ds := e.lockDoc(docID)
	defer ds.mu.Unlock()

	if err := e.ensureLoaded(ctx, docID, ds); err != nil {
		return Result{}, err
	}

	if clientID != "" && clientSeq > 0 {
		if last := ds.lastSeqByClient[clientID]; clientSeq <= last {
			return Result{}, ErrDuplicateOp
		}
	}

	if baseVersion != ds.version {
		missing, err := e.opsSinceLocked(ctx, docID, ds, baseVersion, 0)
		if err != nil {
			log.Printf("engine: list missing ops for doc %s: %v", docID, err)
		}
		return Result{}, &ConflictError{CurrentVersion: ds.version, MissingOps: missing}
	}

	op.ID = uuid.NewString()
	op.DocID = docID
	op.UserID = userID
	op.ResultingVersion = ds.version + 1
	op.Timestamp = time.Now().UTC()

	m := ds.buf.Mark()
	ds.buf.ApplyOp(op)
	content := ds.buf.String()

	if err := e.store.CommitMutation(ctx, docID, content, op.ResultingVersion, userID, &op); err != nil {
		ds.buf.Rollback(m)
		return Result{}, fmt.Errorf("%w: commit doc %s v%d: %v", ErrStoreUnavailable, docID, op.ResultingVersion, err)
	}

	ds.version = op.ResultingVersion
	e.appendToRing(ds, op)
	if clientID != "" && clientSeq > 0 {
		ds.lastSeqByClient[clientID] = clientSeq
	}

	e.publish(ctx, events.DocEvent{
		EventType:   events.EventOpApplied,
		DocID:       docID,
		OperationID: op.ID,
		Version:     op.ResultingVersion,
		AuthorID:    userID,
		ClientID:    clientID,
		ClientSeq:   clientSeq,
		BaseVersion: baseVersion,
		Op:          &op,
		AppliedAt:   op.Timestamp,
	})

	return Result{Version: ds.version, Content: content, Op: op}, nil
}

// Sync is the full-document path: last-write-wins at document granularity.
// baseVersion is accepted but never used to reject; the version still moves
// through the same counter as ApplyOperation, behind the same lock.
func (e *Engine) Sync(ctx context.Context, docID string, baseVersion uint64, content string, userID uint64, createSnapshot bool) (Result, error) {
	res, err := e.syncLocked(ctx, docID, baseVersion, content, userID)
	if err != nil {
		return Result{}, err
	}

	// Outside the doc lock: the snapshotter is free to read live state.
	if createSnapshot && e.snapshots != nil {
		if _, err := e.snapshots.CreateSnapshot(ctx, docID, userID, "sync save", content); err != nil {
			log.Printf("engine: snapshot on sync for doc %s: %v", docID, err)
		}
	}
	return res, nil
}

func (e *Engine) syncLocked(ctx context.Context, docID string, baseVersion uint64, content string, userID uint64) (Result, error) {
	ds := e.lockDoc(docID)
	defer ds.mu.Unlock()

	if err := e.ensureLoaded(ctx, docID, ds); err != nil {
		return Result{}, err
	}

	op := ot.Operation{
		ID:               uuid.NewString(),
		DocID:            docID,
		ResultingVersion: ds.version + 1,
		Type:             ot.TypeFullUpdate,
		Text:             content,
		UserID:           userID,
		Timestamp:        time.Now().UTC(),
	}

	if err := e.store.CommitMutation(ctx, docID, content, op.ResultingVersion, userID, &op); err != nil {
		return Result{}, fmt.Errorf("%w: sync doc %s v%d: %v", ErrStoreUnavailable, docID, op.ResultingVersion, err)
	}

	ds.buf.Reset(content)
	ds.version = op.ResultingVersion
	e.appendToRing(ds, op)

	e.publish(ctx, events.DocEvent{
		EventType:   events.EventDocSynced,
		DocID:       docID,
		OperationID: op.ID,
		Version:     op.ResultingVersion,
		AuthorID:    userID,
		BaseVersion: baseVersion,
		AppliedAt:   op.Timestamp,
	})

	return Result{Version: ds.version, Content: content, Op: op}, nil
}

// OpsSince returns the applied ops with ResultingVersion > fromVersion, in
// version order. The in-memory ring answers when it reaches back far enough;
// otherwise the durable log does.
func (e *Engine) OpsSince(ctx context.Context, docID string, fromVersion uint64, limit int) ([]ot.Operation, error) {
	ds := e.peekDoc(docID)
	if ds == nil {
		return e.ops.ListSince(ctx, docID, fromVersion, limit)
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.released {
		return e.ops.ListSince(ctx, docID, fromVersion, limit)
	}
	return e.opsSinceLocked(ctx, docID, ds, fromVersion, limit)
}

func (e *Engine) opsSinceLocked(ctx context.Context, docID string, ds *docState, fromVersion uint64, limit int) ([]ot.Operation, error) {
	if len(ds.ring) > 0 && ds.ring[0].ResultingVersion <= fromVersion+1 {
		var out []ot.Operation
		for _, op := range ds.ring {
			if op.ResultingVersion > fromVersion {
				out = append(out, op)
				if limit > 0 && len(out) >= limit {
					break
				}
			}
		}
		return out, nil
	}
	return e.ops.ListSince(ctx, docID, fromVersion, limit)
}

// Release drops the in-memory state for a document nobody is connected to.
// A state whose lock is held stays put; it will be recreated from the
// durable row on next access either way. The released flag retires the old
// pointer so a caller that resolved it before the delete re-resolves instead
// of mutating stale state.
func (e *Engine) Release(docID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ds := e.docs[docID]
	if ds == nil {
		return
	}
	if !ds.mu.TryLock() {
		return
	}
	ds.released = true
	delete(e.docs, docID)
	ds.mu.Unlock()
}

func (e *Engine) appendToRing(ds *docState, op ot.Operation) {
	if e.ringCap > 0 && len(ds.ring) == e.ringCap {
		copy(ds.ring, ds.ring[1:])
		ds.ring = ds.ring[:len(ds.ring)-1]
	}
	ds.ring = append(ds.ring, op)
}

func (e *Engine) publish(ctx context.Context, evt events.DocEvent) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Enqueue(ctx, evt); err != nil {
		log.Printf("engine: enqueue %s event for doc %s: %v", evt.EventType, evt.DocID, err)
	}
}
