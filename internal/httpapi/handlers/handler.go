package handlers

import (
	"context"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/ai-broker/internal/app"
	"github.com/suPer8Hu/ai-broker/internal/store/rabbitmq"
)

// PaymentPublisher queues verified payment callbacks for the worker.
type PaymentPublisher interface {
	PublishPayment(ctx context.Context, m rabbitmq.PaymentMessage) error
}

type Handler struct {
	App *app.App
	// nil applies callbacks inline
	Publisher PaymentPublisher
}

func NewHandler(a *app.App, pub PaymentPublisher) *Handler {
	return &Handler{App: a, Publisher: pub}
}

var errBadUserID = errors.New("invalid user id")

func userIDParam(c *gin.Context) (uint64, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, errBadUserID
	}
	return id, nil
}
