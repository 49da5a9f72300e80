package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"wallet-service/internal/adapter/http/dto"
	"wallet-service/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// WebhookHandler receives gateway notifications. The signature has already
// been verified by middleware, so every response is a 200 whose status tells
// the gateway whether the event was applied.
type WebhookHandler struct {
	depositSvc ports.DepositService
	log        zerolog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(depositSvc ports.DepositService, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{depositSvc: depositSvc, log: log}
}

// Paystack handles POST /api/v1/wallet/paystack/webhook.
func (h *WebhookHandler) Paystack(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to read webhook body")
		c.JSON(http.StatusOK, dto.WebhookAck{Status: false})
		return
	}

	var payload ports.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.log.Warn().Err(err).Msg("malformed webhook payload")
		c.JSON(http.StatusOK, dto.WebhookAck{Status: false})
		return
	}

	applied := h.depositSvc.ProcessWebhook(c.Request.Context(), payload)
	c.JSON(http.StatusOK, dto.WebhookAck{Status: applied})
}
