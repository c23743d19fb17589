package middlewares

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yeremiapane/restaurant-sync/models"
	"github.com/yeremiapane/restaurant-sync/utils"
)

// RequireSubRole lets the request through only for restaurant staff with one
// of the given sub-roles. Managers always pass.
func RequireSubRole(subRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := ActorFrom(c)
		if !ok {
			utils.RespondError(c, http.StatusUnauthorized, fmt.Errorf("unauthorized"))
			c.Abort()
			return
		}
		if actor.Role != models.RoleRestaurant {
			utils.RespondError(c, http.StatusForbidden, fmt.Errorf("restaurant staff access required"))
			c.Abort()
			return
		}
		if actor.SubRole == models.SubRoleManager {
			c.Next()
			return
		}
		for _, sr := range subRoles {
			if actor.SubRole == sr {
				c.Next()
				return
			}
		}
		utils.RespondError(c, http.StatusForbidden, fmt.Errorf("%s access required", strings.Join(subRoles, " or ")))
		c.Abort()
	}
}
