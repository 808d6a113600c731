package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/ai-broker/internal/common"
	"github.com/suPer8Hu/ai-broker/internal/profile"
)

func (h *Handler) GetAccount(c *gin.Context) {
	id, err := userIDParam(c)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10004, err.Error())
		return
	}
	acct, err := h.App.Ledger.Get(c.Request.Context(), id)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, gin.H{
		"account":    acct,
		"subscribed": acct.Subscribed(time.Now()),
	})
}

// ListHistory returns recent entries, or favorites with ?favorites=1.
func (h *Handler) ListHistory(c *gin.Context) {
	id, err := userIDParam(c)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10004, err.Error())
		return
	}
	limit := 20
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 100 {
			common.Fail(c, http.StatusBadRequest, 10005, "limit must be 1..100")
			return
		}
		limit = n
	}

	ctx := c.Request.Context()
	list := h.App.History.ListRecent
	if c.Query("favorites") == "1" {
		list = h.App.History.ListFavorites
	}
	entries, err := list(ctx, id, limit)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, gin.H{"items": entries})
}

func (h *Handler) ListDrafts(c *gin.Context) {
	id, err := userIDParam(c)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10004, err.Error())
		return
	}
	drafts, err := h.App.Drafts.ListByUser(c.Request.Context(), id)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, gin.H{"items": drafts})
}

func (h *Handler) GetProfile(c *gin.Context) {
	id, err := userIDParam(c)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10004, err.Error())
		return
	}
	p, err := h.App.Profiles.Get(c.Request.Context(), id)
	if errors.Is(err, profile.ErrNotFound) {
		common.Fail(c, http.StatusNotFound, 10006, "profile not found")
		return
	}
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, p)
}

// ReloadRuntime re-reads the override file. A broken file keeps the previous
// snapshot.
func (h *Handler) ReloadRuntime(c *gin.Context) {
	if c.GetHeader("X-Admin-Token") != h.App.Cfg.AdminToken {
		common.Fail(c, http.StatusUnauthorized, 40100, "unauthorized")
		return
	}
	rt, err := h.App.Runtime.Reload()
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10040, err.Error())
		return
	}
	common.OK(c, gin.H{"free_quota": rt.FreeQuota, "plans": len(rt.Plans)})
}
