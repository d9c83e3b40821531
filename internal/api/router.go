package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/orrn/playlist/internal/api/handlers"
	"github.com/orrn/playlist/internal/api/middleware"
	"github.com/orrn/playlist/internal/config"
	"github.com/orrn/playlist/internal/core"
	"github.com/orrn/playlist/internal/db"
	"github.com/orrn/playlist/internal/metrics"
)

type Deps struct {
	Config   *config.Config
	Store    *db.Store
	Queue    handlers.QueueService
	Publish  func(core.Event)
	Printer  handlers.PrinterControl
	Hub      handlers.Subscriber
	Webhooks handlers.WebhookTester
	Auth     *middleware.AuthMiddleware
	Metrics  *metrics.Collector
	Archives handlers.ArchiveLister
	Log      logrus.FieldLogger
}

// NewRouter mounts the HTTP API. Reads are open; anything that changes the
// queue, the settings or the printer needs a login.
func NewRouter(d Deps) *gin.Engine {
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(d.Log.WithField("component", "http")))

	if d.Metrics != nil {
		r.Use(d.Metrics.GinMiddleware())
		if d.Config.Metrics.Enabled {
			r.GET(d.Config.Metrics.Path, gin.WrapH(d.Metrics.Handler()))
		}
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	read := r.Group("/api")
	write := r.Group("/api", d.Auth.RequireAuth())

	middleware.RegisterAuthRoutes(read, d.Auth)

	queue := handlers.NewQueueHandler(d.Queue, d.Store.Settings, d.Store.Audit, d.Log)
	handlers.RegisterQueueRoutes(read, write, queue)

	settings := handlers.NewSettingsHandler(d.Store.Settings, d.Publish, d.Config, d.Log)
	handlers.RegisterSettingsRoutes(read, write, settings)

	printer := handlers.NewPrinterHandler(d.Printer, d.Log)
	handlers.RegisterPrinterRoutes(read, write, printer)

	history := handlers.NewHistoryHandler(d.Store.Runs, d.Store.Audit, d.Archives)
	handlers.RegisterHistoryRoutes(read, write, history)

	handlers.RegisterWebhookRoutes(write, handlers.NewWebhookHandler(d.Store.Webhooks, d.Webhooks))
	handlers.RegisterEventRoutes(read, handlers.NewEventsHandler(d.Hub))

	return r
}

func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"client":   c.ClientIP(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request failed")
			return
		}
		entry.Debug("request")
	}
}
