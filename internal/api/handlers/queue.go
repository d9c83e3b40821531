package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/orrn/playlist/internal/core"
	"github.com/orrn/playlist/internal/db"
)

const maxQueueBody = 1 << 20

// QueueService is the orchestrator surface used by the queue endpoints.
type QueueService interface {
	Snapshot() core.QueueSnapshot
	SubmitQueue(ctx context.Context, jobs []core.Job) error
	StartQueue(ctx context.Context, jobs []core.Job) error
	SavePlaylist(ctx context.Context, jobs []core.Job) error
}

type SettingsReader interface {
	LoadSettings(ctx context.Context) (core.Settings, error)
}

type AuditRecorder interface {
	CreateAuditLog(ctx context.Context, log *db.AuditLog) error
}

type QueueResponse struct {
	Playlist      []core.Job `json:"playlist"`
	CurrentFileID string     `json:"current_file"`
	Skipped       int        `json:"skipped,omitempty"`
}

type QueueHandler struct {
	queue    QueueService
	settings SettingsReader
	audit    AuditRecorder
	log      logrus.FieldLogger
}

func NewQueueHandler(queue QueueService, settings SettingsReader, audit AuditRecorder, log logrus.FieldLogger) *QueueHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &QueueHandler{
		queue:    queue,
		settings: settings,
		audit:    audit,
		log:      log.WithField("component", "api"),
	}
}

// GetSavedQueue returns the persisted playlist.
func (h *QueueHandler) GetSavedQueue(c *gin.Context) {
	s, err := h.settings.LoadSettings(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to load playlist",
		})
		return
	}
	c.JSON(http.StatusOK, QueueResponse{Playlist: s.Playlist})
}

func (h *QueueHandler) GetLiveQueue(c *gin.Context) {
	snap := h.queue.Snapshot()
	c.JSON(http.StatusOK, QueueResponse{Playlist: snap.Playlist, CurrentFileID: snap.CurrentFileID})
}

func (h *QueueHandler) SubmitQueue(c *gin.Context) {
	h.apply(c, "queue_submitted", h.queue.SubmitQueue)
}

func (h *QueueHandler) StartQueue(c *gin.Context) {
	h.apply(c, "queue_started", h.queue.StartQueue)
}

func (h *QueueHandler) SavePlaylist(c *gin.Context) {
	h.apply(c, "playlist_saved", h.queue.SavePlaylist)
}

func (h *QueueHandler) apply(c *gin.Context, action string, fn func(context.Context, []core.Job) error) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxQueueBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_body",
			Message: "Failed to read request body",
		})
		return
	}

	jobs, skipped, err := ParseJobs(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_body",
			Message: err.Error(),
		})
		return
	}
	if skipped > 0 {
		h.log.WithFields(logrus.Fields{"action": action, "skipped": skipped}).Warn("skipped malformed queue entries")
	}

	if err := fn(c.Request.Context(), jobs); err != nil {
		if errors.Is(err, core.ErrDuplicateJobID) || errors.Is(err, core.ErrEmptyFileName) {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "validation_error",
				Message: err.Error(),
			})
			return
		}
		h.log.WithField("action", action).WithError(err).Error("queue update failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "queue_error",
			Message: "Failed to update queue",
		})
		return
	}

	h.recordAudit(c, action, jobs)

	snap := h.queue.Snapshot()
	c.JSON(http.StatusOK, QueueResponse{
		Playlist:      snap.Playlist,
		CurrentFileID: snap.CurrentFileID,
		Skipped:       skipped,
	})
}

func (h *QueueHandler) recordAudit(c *gin.Context, action string, jobs []core.Job) {
	if h.audit == nil {
		return
	}
	files := make([]string, 0, len(jobs))
	for _, j := range jobs {
		files = append(files, j.FileName)
	}
	details, _ := json.Marshal(map[string]interface{}{"files": files})

	err := h.audit.CreateAuditLog(c.Request.Context(), &db.AuditLog{
		Action:      action,
		EntityType:  "queue",
		EntityID:    "live",
		DetailsJSON: string(details),
		IPAddress:   c.ClientIP(),
	})
	if err != nil {
		h.log.WithField("action", action).WithError(err).Warn("failed to write audit log")
	}
}

type jobEntry struct {
	ID       json.RawMessage `json:"id"`
	FileName string          `json:"fileName"`
}

// ParseJobs decodes a JSON array of {id, fileName} entries. Entries that do
// not decode or carry no file are skipped and counted; only a body that is
// not an array is an error. Numeric ids are kept as their decimal text.
func ParseJobs(body []byte) ([]core.Job, int, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, 0, errors.New("body must be a JSON array of jobs")
	}

	jobs := make([]core.Job, 0, len(raw))
	skipped := 0
	for _, r := range raw {
		var e jobEntry
		if err := json.Unmarshal(r, &e); err != nil || strings.TrimSpace(e.FileName) == "" {
			skipped++
			continue
		}
		id, ok := parseJobID(e.ID)
		if !ok {
			skipped++
			continue
		}
		jobs = append(jobs, core.Job{ID: id, FileName: e.FileName})
	}
	return jobs, skipped, nil
}

func parseJobID(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}
	return "", false
}

func RegisterQueueRoutes(read, write *gin.RouterGroup, h *QueueHandler) {
	read.GET("/queue", h.GetSavedQueue)
	read.GET("/queue/live", h.GetLiveQueue)
	write.POST("/queue", h.SubmitQueue)
	write.POST("/start", h.StartQueue)
	write.PUT("/queue/saved", h.SavePlaylist)
}
