package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/playlist/internal/db"
	"github.com/orrn/playlist/internal/webhook"
)

// WebhookTester sends a test delivery to one registered webhook.
type WebhookTester interface {
	SendTest(ctx context.Context, webhookID int64) error
}

type WebhookHandler struct {
	store  *db.WebhookOperations
	tester WebhookTester
}

type CreateWebhookRequest struct {
	Name   string   `json:"name" binding:"required"`
	URL    string   `json:"url" binding:"required,url"`
	Secret string   `json:"secret"`
	Events []string `json:"events" binding:"required"`
}

type UpdateWebhookRequest struct {
	Name    string   `json:"name"`
	URL     string   `json:"url" binding:"omitempty,url"`
	Secret  string   `json:"secret"`
	Events  []string `json:"events"`
	Enabled *bool    `json:"enabled"`
}

type WebhookResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Events    []string  `json:"events"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

type TestWebhookResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func NewWebhookHandler(store *db.WebhookOperations, tester WebhookTester) *WebhookHandler {
	return &WebhookHandler{
		store:  store,
		tester: tester,
	}
}

func (h *WebhookHandler) ListWebhooks(c *gin.Context) {
	webhooks, err := h.store.ListWebhooks(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to retrieve webhooks",
		})
		return
	}

	responses := make([]WebhookResponse, 0, len(webhooks))
	for _, w := range webhooks {
		responses = append(responses, webhookToResponse(w))
	}

	c.JSON(http.StatusOK, responses)
}

func (h *WebhookHandler) CreateWebhook(c *gin.Context) {
	var req CreateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	if len(req.Events) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "At least one event must be specified",
		})
		return
	}

	eventsJSON, ok := encodeEvents(c, req.Events)
	if !ok {
		return
	}

	w := &db.Webhook{
		Name:       req.Name,
		URL:        req.URL,
		Secret:     req.Secret,
		EventsJSON: eventsJSON,
		Enabled:    true,
	}

	if err := h.store.CreateWebhook(c.Request.Context(), w); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to create webhook",
		})
		return
	}

	c.JSON(http.StatusCreated, webhookToResponse(w))
}

func (h *WebhookHandler) GetWebhook(c *gin.Context) {
	w, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, webhookToResponse(w))
}

func (h *WebhookHandler) UpdateWebhook(c *gin.Context) {
	w, ok := h.lookup(c)
	if !ok {
		return
	}

	var req UpdateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	if req.Name != "" {
		w.Name = req.Name
	}
	if req.URL != "" {
		w.URL = req.URL
	}
	if req.Secret != "" {
		w.Secret = req.Secret
	}
	if len(req.Events) > 0 {
		eventsJSON, ok := encodeEvents(c, req.Events)
		if !ok {
			return
		}
		w.EventsJSON = eventsJSON
	}
	if req.Enabled != nil {
		w.Enabled = *req.Enabled
	}

	if err := h.store.UpdateWebhook(c.Request.Context(), w); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to update webhook",
		})
		return
	}

	c.JSON(http.StatusOK, webhookToResponse(w))
}

func (h *WebhookHandler) DeleteWebhook(c *gin.Context) {
	w, ok := h.lookup(c)
	if !ok {
		return
	}

	if err := h.store.DeleteWebhook(c.Request.Context(), w.ID); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to delete webhook",
		})
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *WebhookHandler) TestWebhook(c *gin.Context) {
	w, ok := h.lookup(c)
	if !ok {
		return
	}

	if err := h.tester.SendTest(c.Request.Context(), w.ID); err != nil {
		c.JSON(http.StatusOK, TestWebhookResponse{
			Success: false,
			Message: fmt.Sprintf("Failed to send webhook: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, TestWebhookResponse{
		Success: true,
		Message: "Webhook test successful",
	})
}

func (h *WebhookHandler) lookup(c *gin.Context) (*db.Webhook, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_id",
			Message: "Invalid webhook ID",
		})
		return nil, false
	}

	w, err := h.store.GetWebhookByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "Webhook not found",
			})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to retrieve webhook",
		})
		return nil, false
	}
	return w, true
}

func encodeEvents(c *gin.Context, events []string) (string, bool) {
	for _, event := range events {
		if !webhook.IsValidEvent(event) {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_event",
				Message: fmt.Sprintf("Invalid event type: %s", event),
			})
			return "", false
		}
	}
	data, err := json.Marshal(events)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "json_error",
			Message: "Failed to serialize events",
		})
		return "", false
	}
	return string(data), true
}

func webhookToResponse(w *db.Webhook) WebhookResponse {
	var events []string
	if w.EventsJSON != "" {
		_ = json.Unmarshal([]byte(w.EventsJSON), &events)
	}
	if events == nil {
		events = []string{}
	}

	return WebhookResponse{
		ID:        w.ID,
		Name:      w.Name,
		URL:       w.URL,
		Events:    events,
		Enabled:   w.Enabled,
		CreatedAt: w.CreatedAt,
	}
}

func RegisterWebhookRoutes(r *gin.RouterGroup, h *WebhookHandler) {
	r.GET("/webhooks", h.ListWebhooks)
	r.POST("/webhooks", h.CreateWebhook)
	r.GET("/webhooks/:id", h.GetWebhook)
	r.PUT("/webhooks/:id", h.UpdateWebhook)
	r.DELETE("/webhooks/:id", h.DeleteWebhook)
	r.POST("/webhooks/:id/test", h.TestWebhook)
}
