package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/orrn/makerspool/internal/api/middleware"
	"github.com/orrn/makerspool/internal/webhook"
)

type WebhookResponse struct {
	Index     int      `json:"index"`
	URL       string   `json:"url"`
	Events    []string `json:"events"`
	HasSecret bool     `json:"has_secret"`
}

type TestWebhookResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// WebhookHandler exposes the webhook targets from the config file. Targets
// are not editable at runtime.
type WebhookHandler struct {
	sender *webhook.Sender
}

func NewWebhookHandler(sender *webhook.Sender) *WebhookHandler {
	return &WebhookHandler{sender: sender}
}

func (h *WebhookHandler) ListWebhooks(c *gin.Context) {
	targets := h.sender.Targets()
	resp := make([]WebhookResponse, 0, len(targets))
	for i, t := range targets {
		events := t.Events
		if events == nil {
			events = []string{}
		}
		resp = append(resp, WebhookResponse{
			Index:     i,
			URL:       t.URL,
			Events:    events,
			HasSecret: t.Secret != "",
		})
	}
	c.JSON(http.StatusOK, gin.H{"webhooks": resp, "count": len(resp)})
}

func (h *WebhookHandler) TestWebhook(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		badRequest(c, "Invalid webhook index")
		return
	}

	err = h.sender.Ping(c.Request.Context(), index, middleware.CallerFrom(c).Identity)
	if errors.Is(err, webhook.ErrUnknownTarget) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "Webhook not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusOK, TestWebhookResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, TestWebhookResponse{Success: true, Message: "Webhook test successful"})
}

func (h *WebhookHandler) RegisterRoutes(read, write *gin.RouterGroup) {
	read.GET("/webhooks", h.ListWebhooks)
	write.POST("/webhooks/:index/test", h.TestWebhook)
}
