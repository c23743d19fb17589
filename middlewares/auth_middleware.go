package middlewares

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yeremiapane/restaurant-sync/models"
	"github.com/yeremiapane/restaurant-sync/utils"
)

const (
	ctxActor = "actor"
	ctxToken = "token"
)

// bearerToken takes the Authorization header first and falls back to the
// token query parameter, which browsers need for websocket upgrades.
func bearerToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return c.Query("token")
}

func authenticate(c *gin.Context) (*utils.CustomClaims, error) {
	token := bearerToken(c)
	if token == "" {
		return nil, errors.New("Authorization header missing")
	}
	if utils.IsTokenBlacklisted(token) {
		return nil, errors.New("Token has been revoked")
	}
	claims, err := utils.ParseToken(token)
	if err != nil {
		return nil, err
	}
	if claims.UserID == 0 {
		return nil, errors.New("Invalid user ID in token")
	}
	c.Set(ctxToken, token)
	c.Set(ctxActor, claims.Actor())
	c.Set("user_id", claims.UserID)
	c.Set("role", claims.Role)
	c.Set("sub_role", claims.SubRole)
	return claims, nil
}

func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := authenticate(c); err != nil {
			utils.RespondError(c, http.StatusUnauthorized, err)
			c.Abort()
			return
		}
		c.Next()
	}
}

// ActorFrom returns the authenticated staff member.
func ActorFrom(c *gin.Context) (models.Actor, bool) {
	v, ok := c.Get(ctxActor)
	if !ok {
		return models.Actor{}, false
	}
	actor, ok := v.(models.Actor)
	return actor, ok
}

// TokenFrom returns the raw bearer token of the request.
func TokenFrom(c *gin.Context) string {
	return c.GetString(ctxToken)
}
