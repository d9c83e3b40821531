package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/playlist/internal/archive"
	"github.com/orrn/playlist/internal/core"
	"github.com/orrn/playlist/internal/db"
)

type ListHistoryQuery struct {
	FileName string `form:"file"`
	Status   string `form:"status"`
	Limit    int    `form:"limit" binding:"omitempty,min=0,max=500"`
	Offset   int    `form:"offset" binding:"omitempty,min=0"`
}

type HistoryResponse struct {
	Runs   []core.JobRun            `json:"runs"`
	Totals map[core.RunStatus]int64 `json:"totals"`
}

type ListAuditQuery struct {
	Action     string `form:"action"`
	EntityType string `form:"entity_type"`
	Limit      int    `form:"limit" binding:"omitempty,min=0,max=500"`
	Offset     int    `form:"offset" binding:"omitempty,min=0"`
}

type ArchiveLister interface {
	ListArchives() ([]*archive.ArchiveFile, error)
}

type HistoryHandler struct {
	runs     *db.RunOperations
	audit    *db.AuditOperations
	archives ArchiveLister
}

// NewHistoryHandler serves job history. archives may be nil when history
// archiving is disabled.
func NewHistoryHandler(runs *db.RunOperations, audit *db.AuditOperations, archives ArchiveLister) *HistoryHandler {
	return &HistoryHandler{runs: runs, audit: audit, archives: archives}
}

func (h *HistoryHandler) ListRuns(c *gin.Context) {
	var query ListHistoryQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	if query.Status != "" {
		switch core.RunStatus(query.Status) {
		case core.RunStatusRunning, core.RunStatusFinished, core.RunStatusFailed:
		default:
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "validation_error",
				Message: "status must be running, finished or failed",
			})
			return
		}
	}
	if query.Limit <= 0 {
		query.Limit = 50
	}

	ctx := c.Request.Context()
	runs, err := h.runs.ListRuns(ctx, db.RunFilter{
		FileName: query.FileName,
		Status:   query.Status,
		Limit:    query.Limit,
		Offset:   query.Offset,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to retrieve job history",
		})
		return
	}

	totals, err := h.runs.CountByStatus(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to count job history",
		})
		return
	}

	c.JSON(http.StatusOK, HistoryResponse{Runs: runs, Totals: totals})
}

func (h *HistoryHandler) ListAuditLogs(c *gin.Context) {
	var query ListAuditQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}
	if query.Limit <= 0 {
		query.Limit = 50
	}

	logs, err := h.audit.ListAuditLogs(c.Request.Context(), db.AuditFilter{
		Action:     query.Action,
		EntityType: query.EntityType,
	}, query.Limit, query.Offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to retrieve audit log",
		})
		return
	}

	c.JSON(http.StatusOK, logs)
}

func (h *HistoryHandler) ListArchives(c *gin.Context) {
	if h.archives == nil {
		c.JSON(http.StatusOK, []*archive.ArchiveFile{})
		return
	}
	archives, err := h.archives.ListArchives()
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "archive_error",
			Message: "Failed to list archives",
		})
		return
	}
	c.JSON(http.StatusOK, archives)
}

func RegisterHistoryRoutes(read, write *gin.RouterGroup, h *HistoryHandler) {
	read.GET("/history", h.ListRuns)
	write.GET("/history/archives", h.ListArchives)
	write.GET("/audit", h.ListAuditLogs)
}
