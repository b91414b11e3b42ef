package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nexcode-project/nexcode-sub000/internal/auth"
	"github.com/nexcode-project/nexcode-sub000/internal/engine"
	"github.com/nexcode-project/nexcode-sub000/internal/snapshot"
)

// Handler serves the REST surface: document sync, the CAS fallback for
// clients without a socket, and version history.
type Handler struct {
	engine *engine.Engine
	snaps  *snapshot.Manager
	authz  auth.Authorizer
}

func NewHandler(eng *engine.Engine, snaps *snapshot.Manager, authz auth.Authorizer) *Handler {
	return &Handler{engine: eng, snaps: snaps, authz: authz}
}

// RegisterRoutes mounts everything under /v1/docs. The auth middleware runs
// before any of these, so userId is always present.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	docs := r.Group("/v1/docs")
	docs.GET("/:docId", h.GetDocument)
	docs.POST("/:docId/sync", h.SyncDocument)
	docs.POST("/:docId/operations", h.ApplyOperation)
	docs.GET("/:docId/operations", h.ListOperations)
	docs.POST("/:docId/snapshots", h.CreateSnapshot)
	docs.GET("/:docId/snapshots", h.ListSnapshots)
	docs.GET("/:docId/snapshots/:version", h.GetSnapshot)
	docs.POST("/:docId/snapshots/:version/restore", h.RestoreSnapshot)
	docs.GET("/:docId/diff", h.DiffSnapshots)
	docs.POST("/:docId/operations/cleanup", h.CleanupOperations)
}

func userID(c *gin.Context) uint64 {
	v, _ := c.Get("userId")
	id, _ := v.(uint64)
	return id
}

// requireRead and requireEdit abort with the right status themselves; the
// caller just returns on false.
func (h *Handler) requireRead(c *gin.Context, docID string) bool {
	return h.requireCapability(c, docID, h.authz.CanRead)
}

func (h *Handler) requireEdit(c *gin.Context, docID string) bool {
	return h.requireCapability(c, docID, h.authz.CanEdit)
}

func (h *Handler) requireCapability(c *gin.Context, docID string, check func(ctx context.Context, userID uint64, docID string) (bool, error)) bool {
	allowed, err := check(c.Request.Context(), userID(c), docID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"code":    "PERMISSION_CHECK_FAILED",
			"message": "permission service unavailable",
		})
		return false
	}
	if !allowed {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"code":    "PERMISSION_DENIED",
			"message": "missing capability for document",
		})
		return false
	}
	return true
}

// writeError maps domain sentinels onto HTTP statuses with a {code, message}
// body. Version conflicts carry the rebase material inline.
func writeError(c *gin.Context, err error) {
	var conflict *engine.ConflictError
	switch {
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{
			"success":           false,
			"error":             "version_mismatch",
			"currentVersion":    conflict.CurrentVersion,
			"missingOperations": conflict.MissingOps,
		})
	case errors.Is(err, engine.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "message": "document or version not found"})
	case errors.Is(err, engine.ErrDuplicateOp):
		c.JSON(http.StatusConflict, gin.H{"code": "DUPLICATE_OR_OUT_OF_ORDER", "message": "clientSeq already processed"})
	case errors.Is(err, engine.ErrStoreUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "STORE_UNAVAILABLE", "message": "persistence failed, retry"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "message": err.Error()})
	}
}
