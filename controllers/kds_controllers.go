package controllers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/yeremiapane/restaurant-sync/kds"
	"github.com/yeremiapane/restaurant-sync/utils"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// staff devices connect from the floor network, origins vary
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// KDSHandler -> websocket endpoint. Rooms come from ?rooms=a,b, defaulting
// to the sub-role's rooms.
func KDSHandler(hub *kds.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorOrAbort(c)
		if !ok {
			return
		}

		var rooms []string
		for _, room := range strings.Split(c.Query("rooms"), ",") {
			room = strings.TrimSpace(room)
			if kds.KnownRoom(room) {
				rooms = append(rooms, room)
			}
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			utils.ErrorLogger.Printf("websocket upgrade failed: %v", err)
			return
		}
		// blocks until the client goes away
		hub.Serve(ws, actor, rooms)
	}
}
