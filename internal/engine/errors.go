package engine

import (
	"errors"
	"fmt"

	"github.com/nexcode-project/nexcode-sub000/internal/ot"
)

var (
	// ErrVersionConflict is returned when a caller's base version is stale.
	// The concrete error is a *ConflictError carrying the rebase material.
	ErrVersionConflict = errors.New("VERSION_CONFLICT")

	// ErrNotFound covers unknown documents and unknown snapshot versions.
	ErrNotFound = errors.New("NOT_FOUND")

	// ErrDuplicateOp is returned for a clientSeq that was already processed
	// (or arrived out of order) for a given clientId.
	ErrDuplicateOp = errors.New("DUPLICATE_OR_OUT_OF_ORDER")

	// ErrPermissionDenied means the capability check failed. Fatal to the
	// connection attempt; requires fresh authorization before reconnecting.
	ErrPermissionDenied = errors.New("PERMISSION_DENIED")

	// ErrMalformedMessage marks an unparseable frame. Recovered locally.
	ErrMalformedMessage = errors.New("MALFORMED_MESSAGE")

	// ErrStoreUnavailable wraps a failed durable write. Nothing is recorded
	// when it is returned; the call is safe to retry.
	ErrStoreUnavailable = errors.New("STORE_UNAVAILABLE")
)

// ConflictError rejects a stale base version and hands the caller everything
// it needs to rebase: the authoritative version and the operations it missed.
type ConflictError struct {
	CurrentVersion uint64
	MissingOps     []ot.Operation
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict: current=%d missing=%d", e.CurrentVersion, len(e.MissingOps))
}

func (e *ConflictError) Is(target error) bool { return target == ErrVersionConflict }
