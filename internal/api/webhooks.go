package api

import (
	"crypto/subtle"
	"net/http"
	"time"

	"fulfillment-service/internal/errs"
	"fulfillment-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const webhookDedupeTTL = 24 * time.Hour

type paymentWebhookRequest struct {
	EventID           string `json:"event_id" binding:"required"`
	Type              string `json:"type" binding:"required,oneof=payment_confirmed payment_failed"`
	ExternalReference string `json:"external_reference" binding:"required"`
	Reason            string `json:"reason"`
}

// paymentWebhook applies a gateway callback. The event id is recorded only
// once the callback applied, so a rejected or contended event can be sent
// again; a replay of an applied one is answered without touching the payment.
func (h *Handler) paymentWebhook(c *gin.Context) {
	if h.webhookSecret != "" {
		got := c.GetHeader("X-Webhook-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.webhookSecret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorEnvelope{Error: apiError{
				Code:    "UNAUTHENTICATED",
				Message: "invalid webhook secret",
			}})
			return
		}
	}

	var req paymentWebhookRequest
	if !bindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	key := "webhook:" + req.EventID
	logger := util.GetLogger().With(
		zap.String("event_id", req.EventID),
		zap.String("type", req.Type),
		zap.String("reference", req.ExternalReference))

	if h.deduper != nil {
		seen, err := h.deduper.CheckIdempotencyKey(ctx, key)
		if err != nil {
			writeError(c, errs.Wrap(errs.CodeInternal, err, "check webhook"))
			return
		}
		if seen {
			logger.Info("Duplicate payment webhook")
			c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
			return
		}
	}

	var err error
	switch req.Type {
	case "payment_confirmed":
		_, err = h.orders.HandlePaymentConfirmed(ctx, req.ExternalReference)
	case "payment_failed":
		_, err = h.orders.HandlePaymentFailed(ctx, req.ExternalReference, req.Reason)
	}
	if err != nil {
		writeError(c, err)
		return
	}

	if h.deduper != nil {
		if _, err := h.deduper.MarkProcessed(ctx, key, webhookDedupeTTL); err != nil {
			logger.Error("Failed to record webhook", zap.Error(err))
		}
	}
	logger.Info("Payment webhook applied")
	c.JSON(http.StatusOK, gin.H{"status": "processed"})
}
