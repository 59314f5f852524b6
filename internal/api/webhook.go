package api

import (
	"io"
	"net/http"

	"storefront-api/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxWebhookBody bounds the raw payload read; provider events are small.
const maxWebhookBody = 1 << 20

// paymentWebhook receives provider payment events. The exact raw body is
// verified against the signature header before any parsing; a failed
// signature is the only outcome reported back as an error, so the provider
// keeps retrying tampered deliveries and nothing else.
func (h *Handler) paymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}

	event, err := h.verifier.Verify(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		util.WebhookSignatureFailuresTotal.Inc()
		h.logger.Warn("Webhook signature verification failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
		return
	}

	if err := h.orderService.HandlePaymentEvent(c.Request.Context(), event); err != nil {
		// Reconciliation no-ops are not errors; anything surfacing here is
		// internal and still acked so the provider does not retry forever.
		h.logger.Error("Payment event handling failed",
			zap.String("event_id", event.ID), zap.Error(err))
	}

	c.Status(http.StatusOK)
}
