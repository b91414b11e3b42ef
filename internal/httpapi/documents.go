package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nexcode-project/nexcode-sub000/internal/ot"
)

type syncRequest struct {
	BaseVersion    uint64 `json:"baseVersion"`
	Content        string `json:"content"`
	CreateSnapshot bool   `json:"createSnapshot"`
}

type applyRequest struct {
	BaseVersion uint64       `json:"baseVersion"`
	ClientID    string       `json:"clientId"`
	ClientSeq   uint64       `json:"clientSeq"`
	Op          ot.Operation `json:"op"`
}

// GetDocument returns current content and version, creating an empty record
// on first access.
func (h *Handler) GetDocument(c *gin.Context) {
	docID := c.Param("docId")
	if !h.requireRead(c, docID) {
		return
	}

	content, version, err := h.engine.Get(c.Request.Context(), docID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"docId":   docID,
		"version": version,
		"content": content,
	})
}

// SyncDocument is the full-document save: last write wins, never a conflict.
func (h *Handler) SyncDocument(c *gin.Context) {
	docID := c.Param("docId")
	if !h.requireEdit(c, docID) {
		return
	}

	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "MALFORMED_MESSAGE", "message": err.Error()})
		return
	}

	res, err := h.engine.Sync(c.Request.Context(), docID, req.BaseVersion, req.Content, userID(c), req.CreateSnapshot)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"version": res.Version,
		"content": res.Content,
	})
}

// ApplyOperation is the compare-and-swap fallback for clients without a live
// socket. A stale base version comes back as 409 with the missing ops.
func (h *Handler) ApplyOperation(c *gin.Context) {
	docID := c.Param("docId")
	if !h.requireEdit(c, docID) {
		return
	}

	var req applyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "MALFORMED_MESSAGE", "message": err.Error()})
		return
	}

	res, err := h.engine.ApplyOperation(c.Request.Context(), docID, req.BaseVersion, req.Op, userID(c), req.ClientID, req.ClientSeq)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"version": res.Version,
		"op":      res.Op,
	})
}

// ListOperations returns the op log after sinceVersion, in version order.
func (h *Handler) ListOperations(c *gin.Context) {
	docID := c.Param("docId")
	if !h.requireRead(c, docID) {
		return
	}

	since, err := strconv.ParseUint(c.DefaultQuery("sinceVersion", "0"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "MALFORMED_MESSAGE", "message": "sinceVersion must be an unsigned integer"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"code": "MALFORMED_MESSAGE", "message": "limit must be a non-negative integer"})
		return
	}

	ops, err := h.engine.OpsSince(c.Request.Context(), docID, since, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if ops == nil {
		ops = []ot.Operation{}
	}
	c.JSON(http.StatusOK, gin.H{"docId": docID, "operations": ops})
}
