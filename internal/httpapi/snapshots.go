package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type createSnapshotRequest struct {
	Description string `json:"description"`
	Content     string `json:"content"` // empty means snapshot live content
}

type cleanupRequest struct {
	KeepCount int `json:"keepCount"`
}

// CreateSnapshot archives a version. Identical content against the latest
// row is a success no-op and reported as created=false.
func (h *Handler) CreateSnapshot(c *gin.Context) {
	docID := c.Param("docId")
	if !h.requireEdit(c, docID) {
		return
	}

	var req createSnapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "MALFORMED_MESSAGE", "message": err.Error()})
		return
	}
	if req.Description == "" {
		req.Description = "manual save"
	}

	created, err := h.snaps.CreateSnapshot(c.Request.Context(), docID, userID(c), req.Description, req.Content)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "created": created})
}

// ListSnapshots returns history rows newest first, content omitted.
func (h *Handler) ListSnapshots(c *gin.Context) {
	docID := c.Param("docId")
	if !h.requireRead(c, docID) {
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"code": "MALFORMED_MESSAGE", "message": "limit must be a non-negative integer"})
		return
	}

	snaps, err := h.snaps.List(c.Request.Context(), docID, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"docId": docID, "versions": snaps})
}

// GetSnapshot returns one stored version including its content.
func (h *Handler) GetSnapshot(c *gin.Context) {
	docID := c.Param("docId")
	if !h.requireRead(c, docID) {
		return
	}
	versionNumber, ok := parseVersionParam(c)
	if !ok {
		return
	}

	snap, err := h.snaps.GetContent(c.Request.Context(), docID, versionNumber)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// RestoreSnapshot rewinds live content to a stored version. The version
// counter keeps moving forward; a restore is a new mutation, not a rollback.
func (h *Handler) RestoreSnapshot(c *gin.Context) {
	docID := c.Param("docId")
	if !h.requireEdit(c, docID) {
		return
	}
	versionNumber, ok := parseVersionParam(c)
	if !ok {
		return
	}

	content, newVersion, err := h.snaps.RestoreVersion(c.Request.Context(), docID, versionNumber, userID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"version": newVersion,
		"content": content,
	})
}

// DiffSnapshots returns a line-level diff between two stored versions.
func (h *Handler) DiffSnapshots(c *gin.Context) {
	docID := c.Param("docId")
	if !h.requireRead(c, docID) {
		return
	}

	from, err1 := strconv.ParseUint(c.Query("from"), 10, 64)
	to, err2 := strconv.ParseUint(c.Query("to"), 10, 64)
	if err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "MALFORMED_MESSAGE", "message": "from and to must be version numbers"})
		return
	}

	diff, err := h.snaps.DiffVersions(c.Request.Context(), docID, from, to)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"docId": docID, "from": from, "to": to, "diff": diff})
}

// CleanupOperations trims the op log, keeping the newest keepCount rows.
// History rows are never touched.
func (h *Handler) CleanupOperations(c *gin.Context) {
	docID := c.Param("docId")
	if !h.requireEdit(c, docID) {
		return
	}

	req := cleanupRequest{KeepCount: 1000}
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "MALFORMED_MESSAGE", "message": err.Error()})
		return
	}
	if req.KeepCount <= 0 {
		req.KeepCount = 1000
	}

	if err := h.snaps.CleanupOperations(c.Request.Context(), docID, req.KeepCount); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func parseVersionParam(c *gin.Context) (uint64, bool) {
	v, err := strconv.ParseUint(c.Param("version"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "MALFORMED_MESSAGE", "message": "version must be an unsigned integer"})
		return 0, false
	}
	return v, true
}
