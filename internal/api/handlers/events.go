package handlers

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/playlist/internal/notify"
)

const keepAliveInterval = 30 * time.Second

type Subscriber interface {
	Subscribe() *notify.Subscription
}

type EventsHandler struct {
	hub       Subscriber
	keepAlive time.Duration
}

func NewEventsHandler(hub Subscriber) *EventsHandler {
	return &EventsHandler{hub: hub, keepAlive: keepAliveInterval}
}

// Stream pushes queue notifications as server-sent events. A new stream
// receives the current queue first.
func (h *EventsHandler) Stream(c *gin.Context) {
	sub := h.hub.Subscribe()
	defer sub.Close()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	events := sub.Events()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case msg, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(msg.Event, msg.Data)
			return true
		case <-ticker.C:
			c.SSEvent("ping", time.Now().Unix())
			return true
		}
	})
}

func RegisterEventRoutes(r *gin.RouterGroup, h *EventsHandler) {
	r.GET("/events", h.Stream)
}
