package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/ai-broker/internal/app"
	"github.com/suPer8Hu/ai-broker/internal/common"
	"github.com/suPer8Hu/ai-broker/internal/httpapi/handlers"
	"github.com/suPer8Hu/ai-broker/internal/httpapi/middleware"
)

// NewRouter builds the HTTP surface. A nil pub applies payment callbacks
// inline instead of queueing them.
func NewRouter(a *app.App, pub handlers.PaymentPublisher) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	h := handlers.NewHandler(a, pub)

	r.GET("/ping", h.Ping)

	v1 := r.Group("/v1")

	// everything a transport relays acts on behalf of a user
	transport := v1.Group("/")
	transport.Use(middleware.TransportAuth(a.Cfg.TransportSecret))
	transport.POST("/events", h.HandleEvent)
	// payment gateway success, relayed by the transport
	transport.POST("/payments/callback", h.PaymentCallback)

	users := transport.Group("/users/:id")
	users.GET("/account", h.GetAccount)
	users.GET("/history", h.ListHistory)
	users.GET("/drafts", h.ListDrafts)
	users.GET("/profile", h.GetProfile)

	if a.Cfg.AdminToken != "" {
		v1.POST("/admin/runtime/reload", h.ReloadRuntime)
	}
	return r
}
