package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/ai-broker/internal/auth"
	"github.com/suPer8Hu/ai-broker/internal/common"
)

const transportKey = "transport"

// TransportAuth admits requests carrying a transport token signed with secret.
func TransportAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || raw == "" {
			common.Fail(c, http.StatusUnauthorized, 40100, "missing bearer token")
			return
		}
		claims, err := auth.ParseTransportToken(secret, raw)
		if err != nil {
			common.Fail(c, http.StatusUnauthorized, 40101, "invalid token")
			return
		}
		c.Set(transportKey, claims.Name)
		c.Next()
	}
}

func GetTransport(c *gin.Context) string {
	return c.GetString(transportKey)
}
