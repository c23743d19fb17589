package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yeremiapane/restaurant-sync/utils"
)

// WebSocketAuthMiddleware rejects the upgrade with a bare status code, since
// websocket clients never read a JSON body from a failed handshake.
func WebSocketAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := authenticate(c); err != nil {
			utils.InfoLogger.WithField("client_id", c.Query("client_id")).Debugf("websocket auth failed: %v", err)
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
}
