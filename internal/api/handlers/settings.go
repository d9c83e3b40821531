package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/orrn/playlist/internal/config"
	"github.com/orrn/playlist/internal/core"
)

type SettingsStore interface {
	LoadSettings(ctx context.Context) (core.Settings, error)
	SaveSettings(ctx context.Context, s core.Settings) error
}

// UpdateSettingsRequest leaves the saved playlist alone when Playlist is
// omitted.
type UpdateSettingsRequest struct {
	BedClearScript    string      `json:"bed_clear_script"`
	StripStartMarker  string      `json:"strip_start_marker"`
	StripEndMarker    string      `json:"strip_end_marker"`
	AutoStartQueue    bool        `json:"auto_start_queue"`
	AutoQueueFiles    bool        `json:"auto_queue_files"`
	Playlist          *[]core.Job `json:"playlist"`
	StartTime         string      `json:"start_time"`
	BlackoutStartTime string      `json:"blackout_start_time"`
	BlackoutStopTime  string      `json:"blackout_stop_time"`
	AutoRepeatQueue   bool        `json:"auto_repeat_queue"`
}

type ServerConfigResponse struct {
	Port                int    `json:"port"`
	DatabasePath        string `json:"database_path"`
	PrinterAddress      string `json:"printer_address"`
	PrinterPort         int    `json:"printer_port"`
	UploadsDir          string `json:"uploads_dir"`
	HealthCheckInterval string `json:"health_check_interval"`
	ConnectionTimeout   string `json:"connection_timeout"`
	AckTimeout          string `json:"ack_timeout"`
	PollInterval        string `json:"poll_interval"`
	LogLevel            string `json:"log_level"`
	LogFormat           string `json:"log_format"`
}

type SettingsHandler struct {
	store   SettingsStore
	publish func(core.Event)
	config  *config.Config
	log     logrus.FieldLogger
}

// NewSettingsHandler wires publish, normally Orchestrator.Post, so saved
// changes reach the running scheduler and queue.
func NewSettingsHandler(store SettingsStore, publish func(core.Event), cfg *config.Config, log logrus.FieldLogger) *SettingsHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &SettingsHandler{
		store:   store,
		publish: publish,
		config:  cfg,
		log:     log.WithField("component", "api"),
	}
}

func (h *SettingsHandler) GetSettings(c *gin.Context) {
	s, err := h.store.LoadSettings(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to load settings",
		})
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *SettingsHandler) UpdateSettings(c *gin.Context) {
	var req UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	for name, v := range map[string]string{
		"start_time":          req.StartTime,
		"blackout_start_time": req.BlackoutStartTime,
		"blackout_stop_time":  req.BlackoutStopTime,
	} {
		if v == "" {
			continue
		}
		if _, _, _, err := core.ParseTimeOfDay(v); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "validation_error",
				Message: fmt.Sprintf("%s: %v", name, err),
			})
			return
		}
	}

	ctx := c.Request.Context()
	current, err := h.store.LoadSettings(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to load settings",
		})
		return
	}

	next := core.Settings{
		BedClearScript:    req.BedClearScript,
		StripStartMarker:  req.StripStartMarker,
		StripEndMarker:    req.StripEndMarker,
		AutoStartQueue:    req.AutoStartQueue,
		AutoQueueFiles:    req.AutoQueueFiles,
		Playlist:          current.Playlist,
		StartTime:         req.StartTime,
		BlackoutStartTime: req.BlackoutStartTime,
		BlackoutStopTime:  req.BlackoutStopTime,
		AutoRepeatQueue:   req.AutoRepeatQueue,
	}
	if req.Playlist != nil {
		if err := core.ValidateJobs(*req.Playlist); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "validation_error",
				Message: err.Error(),
			})
			return
		}
		next.Playlist = core.AssignIDs(*req.Playlist, uuid.NewString)
	}

	if err := h.store.SaveSettings(ctx, next); err != nil {
		h.log.WithError(err).Error("failed to save settings")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to save settings",
		})
		return
	}

	if h.publish != nil {
		h.publish(core.SettingsUpdated{})
	}
	c.JSON(http.StatusOK, next)
}

func (h *SettingsHandler) GetServerConfig(c *gin.Context) {
	cfg := h.config
	c.JSON(http.StatusOK, ServerConfigResponse{
		Port:                cfg.Server.Port,
		DatabasePath:        cfg.Database.Path,
		PrinterAddress:      cfg.Printer.Address,
		PrinterPort:         cfg.Printer.Port,
		UploadsDir:          cfg.Printer.UploadsDir,
		HealthCheckInterval: cfg.Printer.HealthCheckInterval.String(),
		ConnectionTimeout:   cfg.Printer.ConnectionTimeout.String(),
		AckTimeout:          cfg.Printer.AckTimeout.String(),
		PollInterval:        cfg.Scheduler.PollInterval.String(),
		LogLevel:            cfg.Logging.Level,
		LogFormat:           cfg.Logging.Format,
	})
}

func RegisterSettingsRoutes(read, write *gin.RouterGroup, h *SettingsHandler) {
	read.GET("/settings", h.GetSettings)
	write.PUT("/settings", h.UpdateSettings)
	write.GET("/settings/server", h.GetServerConfig)
}
