package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/syntrixbase/indexsync/internal/indexsync/deadletter"
	"github.com/syntrixbase/indexsync/internal/indexsync/reindex"
	"github.com/syntrixbase/indexsync/internal/indexsync/types"
)

const maxListLimit = 1000

func (h *handler) enqueue(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_JOB", err.Error())
		return
	}
	var job types.Job
	if err := types.DecodeJSON(body, &job); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_JOB", err.Error())
		return
	}

	if err := h.deps.Enqueuer.Enqueue(c.Request.Context(), &job); err != nil {
		if errors.Is(err, types.ErrInvalidJob) {
			writeError(c, http.StatusBadRequest, "INVALID_JOB", err.Error())
			return
		}
		h.logger.Error("Enqueue failed", "tenantId", job.TenantID, "indexName", job.IndexName, "documentId", job.DocumentID, "error", err)
		writeError(c, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE", err.Error())
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": job.ID})
}

func (h *handler) listDeadLetters(c *gin.Context) {
	f := deadletter.Filter{
		TenantID:  c.Query("tenantId"),
		IndexName: c.Query("indexName"),
		Limit:     100,
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxListLimit {
			writeError(c, http.StatusBadRequest, "INVALID_LIMIT", "limit must be between 1 and 1000")
			return
		}
		f.Limit = limit
	}

	entries, err := h.deps.DeadLetters.List(c.Request.Context(), f)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if entries == nil {
		entries = []*deadletter.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (h *handler) getDeadLetter(c *gin.Context) {
	entry, err := h.deps.DeadLetters.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *handler) deleteDeadLetter(c *gin.Context) {
	if err := h.deps.DeadLetters.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.storeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) storeError(c *gin.Context, err error) {
	if errors.Is(err, deadletter.ErrNotFound) {
		writeError(c, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
}

type replayRequest struct {
	IDs []string `json:"ids"`
	// All replays every entry matching TenantID and IndexName.
	All       bool   `json:"all"`
	TenantID  string `json:"tenantId"`
	IndexName string `json:"indexName"`
}

func (h *handler) replay(c *gin.Context) {
	var req replayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if !req.All && len(req.IDs) == 0 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "ids or all is required")
		return
	}
	if req.All && len(req.IDs) > 0 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "ids and all are mutually exclusive")
		return
	}

	var (
		n   int
		err error
	)
	if req.All {
		n, err = h.deps.Replayer.ReplayAll(c.Request.Context(), deadletter.Filter{TenantID: req.TenantID, IndexName: req.IndexName})
	} else {
		n, err = h.deps.Replayer.Replay(c.Request.Context(), req.IDs)
	}
	if err != nil {
		status := http.StatusInternalServerError
		if n == 0 && errors.Is(err, deadletter.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.AbortWithStatusJSON(status, gin.H{"replayed": n, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"replayed": n})
}

func (h *handler) entities(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"entities": h.deps.Reindexer.Entities()})
}

type reindexRequest struct {
	Tenant   string `json:"tenant" binding:"required"`
	Entity   string `json:"entity"`
	PageSize int    `json:"pageSize" binding:"gte=0"`
	Resume   bool   `json:"resume"`
}

// reindex runs synchronously; large backfills belong to the CLI, which is
// not bound by the server's write timeout.
func (h *handler) reindex(c *gin.Context) {
	var req reindexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if req.Entity == "" {
		req.Entity = reindex.All
	}
	if req.PageSize == 0 {
		req.PageSize = h.pageSize
	}

	h.logger.Info("Reindex requested", "tenant", req.Tenant, "entity", req.Entity, "subject", c.GetString(subjectKey))
	n, err := h.deps.Reindexer.Run(c.Request.Context(), req.Tenant, req.Entity, req.PageSize, reindex.RunOptions{Resume: req.Resume})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, reindex.ErrUnknownEntity) {
			status = http.StatusBadRequest
		}
		c.AbortWithStatusJSON(status, gin.H{"enqueued": n, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"enqueued": n})
}
