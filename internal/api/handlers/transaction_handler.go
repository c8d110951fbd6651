package handlers

import (
	"net/http"

	"example.com/backstage/services/transactions/internal/apperrors"
	"example.com/backstage/services/transactions/internal/models"
	"example.com/backstage/services/transactions/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// TransactionHandler handles transaction-related HTTP requests
type TransactionHandler struct {
	transactions services.TransactionService
	webhooks     services.WebhookService
}

// NewTransactionHandler creates a new transaction handler
func NewTransactionHandler(transactions services.TransactionService, webhooks services.WebhookService) *TransactionHandler {
	return &TransactionHandler{
		transactions: transactions,
		webhooks:     webhooks,
	}
}

// CreateTransactionRequest is the body of POST /v1/transactions.
type CreateTransactionRequest struct {
	ExternalID string          `json:"externalId" binding:"required"`
	Amount     int64           `json:"amount" binding:"required,gt=0"`
	Currency   string          `json:"currency" binding:"required,oneof=USD EUR GBP JPY CAD AUD CHF"`
	Type       string          `json:"type" binding:"required,oneof=PAYMENT REFUND ADJUSTMENT"`
	Metadata   models.Metadata `json:"metadata"`
}

// UpdateTransactionRequest is the body of PATCH /v1/transactions/:id.
type UpdateTransactionRequest struct {
	Status   string          `json:"status" binding:"omitempty,oneof=PENDING PROCESSING COMPLETE FAILED"`
	Metadata models.Metadata `json:"metadata"`
}

// ListTransactionsQuery holds the query parameters of GET /v1/transactions.
type ListTransactionsQuery struct {
	Limit    int    `form:"limit"`
	Offset   int    `form:"offset"`
	Status   string `form:"status" binding:"omitempty,oneof=PENDING PROCESSING COMPLETE FAILED"`
	Currency string `form:"currency" binding:"omitempty,oneof=USD EUR GBP JPY CAD AUD CHF"`
}

// HandleCreateTransaction creates a new transaction.
func (h *TransactionHandler) HandleCreateTransaction(c *gin.Context) {
	var req CreateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Validation Error", "message": err.Error()})
		return
	}

	txn, err := h.transactions.Create(c.Request.Context(), services.CreateTransactionInput{
		ExternalID: req.ExternalID,
		Amount:     req.Amount,
		Currency:   req.Currency,
		Type:       models.TransactionType(req.Type),
		Metadata:   req.Metadata,
	})
	if err != nil {
		var dup *apperrors.DuplicateExternalIDError
		if errors.As(err, &dup) {
			c.JSON(http.StatusConflict, gin.H{
				"success":              false,
				"error":                "Duplicate Transaction",
				"message":              dup.Error(),
				"existing_transaction": dup.Existing,
			})
			return
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "transaction": txn})
}

// HandleGetTransaction returns a single active transaction.
func (h *TransactionHandler) HandleGetTransaction(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	txn, err := h.transactions.GetByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "transaction": txn})
}

// HandleListTransactions lists active transactions with filters and paging.
func (h *TransactionHandler) HandleListTransactions(c *gin.Context) {
	var query ListTransactionsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Validation Error", "message": err.Error()})
		return
	}

	filter := services.ListTransactionsFilter{
		Limit:  query.Limit,
		Offset: query.Offset,
	}
	if query.Status != "" {
		status := models.TransactionStatus(query.Status)
		filter.Status = &status
	}
	if query.Currency != "" {
		currency := query.Currency
		filter.Currency = &currency
	}

	page, err := h.transactions.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"data":       page.Transactions,
		"pagination": page.Pagination,
	})
}

// HandleUpdateTransaction applies a status transition and/or metadata merge.
func (h *TransactionHandler) HandleUpdateTransaction(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req UpdateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Validation Error", "message": err.Error()})
		return
	}

	input := services.UpdateTransactionInput{Metadata: req.Metadata}
	if req.Status != "" {
		status := models.TransactionStatus(req.Status)
		input.Status = &status
	}

	txn, err := h.transactions.Update(c.Request.Context(), id, input)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "transaction": txn})
}

// HandleDeleteTransaction soft-deletes a transaction.
func (h *TransactionHandler) HandleDeleteTransaction(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.transactions.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Transaction deleted successfully"})
}

// HandleGetStatistics returns active transaction counts by status.
func (h *TransactionHandler) HandleGetStatistics(c *gin.Context) {
	stats, err := h.transactions.Statistics(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "statistics": stats})
}

// HandleListTransactionWebhooks returns the webhook events recorded against
// a transaction.
func (h *TransactionHandler) HandleListTransactionWebhooks(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	events, err := h.webhooks.ListTransactionEvents(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if events == nil {
		events = []models.WebhookEvent{}
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "events": events})
}

// RegisterRoutes registers the handler's routes
func (h *TransactionHandler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/v1/transactions")
	v1.POST("", h.HandleCreateTransaction)
	v1.GET("", h.HandleListTransactions)
	v1.GET("/stats", h.HandleGetStatistics)
	v1.GET("/:id", h.HandleGetTransaction)
	v1.PATCH("/:id", h.HandleUpdateTransaction)
	v1.DELETE("/:id", h.HandleDeleteTransaction)
	v1.GET("/:id/webhooks", h.HandleListTransactionWebhooks)
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Validation Error", "message": "invalid transaction id"})
		return uuid.Nil, false
	}
	return id, true
}

// respondError maps service errors onto HTTP responses.
func respondError(c *gin.Context, err error) {
	var inv *apperrors.InvalidTransitionError
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Not Found", "message": "The requested resource does not exist"})
	case errors.As(err, &inv):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "error": "Invalid Status Transition", "message": inv.Error()})
	case errors.Is(err, apperrors.ErrConcurrentUpdate):
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": "Conflict", "message": "Transaction was modified concurrently, retry the request"})
	default:
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Unhandled error")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Internal Server Error"})
	}
}
