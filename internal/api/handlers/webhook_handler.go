package handlers

import (
	"encoding/json"
	"net/http"

	"example.com/backstage/services/transactions/internal/models"
	"example.com/backstage/services/transactions/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// WebhookHandler handles inbound processor notifications
type WebhookHandler struct {
	webhooks services.WebhookService
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(webhooks services.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks}
}

// WebhookRequest is the body of POST /v1/webhooks/transaction-update.
type WebhookRequest struct {
	EventID       string `json:"eventId"`
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
	EventType     string `json:"eventType"`
}

// HandleTransactionUpdate processes one webhook delivery. Webhook endpoints
// always respond 200 so the sender does not retry; a processing failure is
// reported in the body only.
func (h *WebhookHandler) HandleTransactionUpdate(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Validation Error", "message": "unreadable request body"})
		return
	}

	var req WebhookRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Validation Error", "message": "invalid JSON body"})
		return
	}
	if req.EventID == "" || req.TransactionID == "" || req.Status == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Validation Error", "message": "eventId, transactionId and status are required"})
		return
	}
	transactionID, err := uuid.Parse(req.TransactionID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Validation Error", "message": "invalid transactionId"})
		return
	}

	// Keep the original body verbatim for audit
	var payload models.Metadata
	if err := json.Unmarshal(raw, &payload); err != nil {
		payload = models.Metadata{}
	}

	result, err := h.webhooks.Process(c.Request.Context(), services.WebhookInput{
		EventID:       req.EventID,
		TransactionID: transactionID,
		Status:        models.TransactionStatus(req.Status),
		EventType:     req.EventType,
		Payload:       payload,
	})
	if err != nil {
		log.Error().Err(err).Str("event_id", req.EventID).Msg("Webhook processing failed")
		c.JSON(http.StatusOK, gin.H{
			"success": false,
			"message": "Webhook received but processing failed",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"processed": result.Processed,
		"message":   result.Message,
		"event":     result.Event,
	})
}

// HandleGetEvent returns a recorded webhook event by event id.
func (h *WebhookHandler) HandleGetEvent(c *gin.Context) {
	event, err := h.webhooks.GetEvent(c.Request.Context(), c.Param("eventId"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "event": event})
}

// RegisterRoutes registers the handler's routes
func (h *WebhookHandler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/v1/webhooks")
	v1.POST("/transaction-update", h.HandleTransactionUpdate)
	v1.GET("/:eventId", h.HandleGetEvent)
}
