package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/ai-broker/internal/common"
	"github.com/suPer8Hu/ai-broker/internal/httpapi/middleware"
	"github.com/suPer8Hu/ai-broker/internal/payment"
	"github.com/suPer8Hu/ai-broker/internal/store/rabbitmq"
)

// PaymentCallback verifies a gateway success callback and queues it. The
// worker applies it; redelivery is harmless.
func (h *Handler) PaymentCallback(c *gin.Context) {
	var cb payment.Callback
	if err := c.ShouldBindJSON(&cb); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	claims, err := h.App.Payments.Verify(cb)
	if err != nil {
		slog.Warn("payment callback rejected",
			"user_id", cb.UserID, "charge_id", cb.ExternalChargeID,
			"request_id", middleware.GetRequestID(c), "error", err)
		common.Fail(c, http.StatusBadRequest, 10030, "invalid invoice")
		return
	}

	ctx := c.Request.Context()
	if h.Publisher == nil {
		if err := h.App.ProcessPayment(ctx, cb); err != nil {
			slog.Error("payment not applied", "user_id", cb.UserID, "charge_id", cb.ExternalChargeID, "error", err)
			common.Fail(c, http.StatusInternalServerError, 20030, "payment not applied")
			return
		}
		common.OK(c, gin.H{"accepted": true, "kind": claims.Kind})
		return
	}

	msg := rabbitmq.PaymentMessage{
		UserID:           cb.UserID,
		Invoice:          cb.Invoice,
		ExternalChargeID: cb.ExternalChargeID,
		ReceivedAt:       time.Now().UTC(),
	}
	if err := h.Publisher.PublishPayment(ctx, msg); err != nil {
		slog.Error("payment publish failed", "charge_id", cb.ExternalChargeID, "error", err)
		// the gateway retries on 5xx
		common.Fail(c, http.StatusServiceUnavailable, 20031, "queue unavailable")
		return
	}
	c.JSON(http.StatusAccepted, common.Response{Code: 0, Message: "ok", Data: gin.H{"accepted": true, "kind": claims.Kind}})
}
