package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/ai-broker/internal/action"
	"github.com/suPer8Hu/ai-broker/internal/common"
)

type eventReq struct {
	UserID uint64 `json:"user_id"`
	Text   string `json:"text"`
	Token  string `json:"token"`
}

func (h *Handler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}

// HandleEvent answers one inbound chat event. Button presses carry a token,
// typed messages carry text.
func (h *Handler) HandleEvent(c *gin.Context) {
	var req eventReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.UserID == 0 {
		common.Fail(c, http.StatusBadRequest, 10002, "user_id required")
		return
	}

	var in action.Action
	switch {
	case strings.TrimSpace(req.Token) != "":
		in = action.Parse(req.Token)
	case strings.TrimSpace(req.Text) != "":
		in = action.FromText(req.Text)
	default:
		common.Fail(c, http.StatusBadRequest, 10003, "text or token required")
		return
	}

	reply := h.App.Dispatcher.HandleEvent(c.Request.Context(), req.UserID, in)
	common.OK(c, reply)
}
