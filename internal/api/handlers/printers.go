package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/orrn/playlist/internal/core"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// PrinterControl is the part of the print engine exposed over HTTP.
type PrinterControl interface {
	Status() core.PrinterStatus
	CheckStatus() core.PrinterStatus
	Pause() error
	Resume() error
	Cancel() error
}

type PrinterStatusResponse struct {
	State       string    `json:"state"`
	CurrentFile string    `json:"current_file,omitempty"`
	LinesSent   int64     `json:"lines_sent"`
	IsOnline    bool      `json:"is_online"`
	CanPrint    bool      `json:"can_print"`
	LastChecked time.Time `json:"last_checked"`
}

type PrinterActionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type PrinterHandler struct {
	printer PrinterControl
	log     logrus.FieldLogger
}

func NewPrinterHandler(printer PrinterControl, log logrus.FieldLogger) *PrinterHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &PrinterHandler{
		printer: printer,
		log:     log.WithField("component", "api"),
	}
}

func (h *PrinterHandler) GetPrinterStatus(c *gin.Context) {
	var status core.PrinterStatus
	if c.Query("refresh") == "true" {
		status = h.printer.CheckStatus()
	} else {
		status = h.printer.Status()
	}

	c.JSON(http.StatusOK, PrinterStatusResponse{
		State:       status.StateName,
		CurrentFile: status.CurrentFile,
		LinesSent:   status.LinesSent,
		IsOnline:    status.IsOnline,
		CanPrint:    status.IsOnline && status.State == core.EngineIdle,
		LastChecked: status.LastChecked,
	})
}

func (h *PrinterHandler) PausePrinter(c *gin.Context) {
	h.control(c, "pause", h.printer.Pause, "Printer paused")
}

func (h *PrinterHandler) ResumePrinter(c *gin.Context) {
	h.control(c, "resume", h.printer.Resume, "Printer resumed")
}

func (h *PrinterHandler) CancelPrint(c *gin.Context) {
	h.control(c, "cancel", h.printer.Cancel, "Print cancelled")
}

// control runs one engine action. A request that does not fit the current
// state is a no-op and is reported, not raised.
func (h *PrinterHandler) control(c *gin.Context, action string, fn func() error, done string) {
	err := fn()
	switch {
	case err == nil:
		c.JSON(http.StatusOK, PrinterActionResponse{Success: true, Message: done})
	case errors.Is(err, core.ErrNotPrinting), errors.Is(err, core.ErrNotPaused):
		h.log.WithField("action", action).WithError(err).Info("printer action ignored")
		c.JSON(http.StatusOK, PrinterActionResponse{Success: false, Message: err.Error()})
	default:
		h.log.WithField("action", action).WithError(err).Error("printer action failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   action + "_error",
			Message: err.Error(),
		})
	}
}

func RegisterPrinterRoutes(read, write *gin.RouterGroup, h *PrinterHandler) {
	read.GET("/printer", h.GetPrinterStatus)
	write.POST("/printer/pause", h.PausePrinter)
	write.POST("/printer/resume", h.ResumePrinter)
	write.POST("/printer/cancel", h.CancelPrint)
}
