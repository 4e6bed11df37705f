package websocket

import (
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"codeberg.org/recipechat/server/internal/config"
	"codeberg.org/recipechat/server/internal/errors"
	"codeberg.org/recipechat/server/internal/logger"
	ws "codeberg.org/recipechat/server/internal/websocket"
)

// handles WebSocket connections for the chat frontend. each connection gets
// its own generated client ID and its own conversation state in the stream
// registry, wired up via the hub's connect callback.
func WebSocketHandler(hub *ws.Hub, cfg *config.Config) gin.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     ws.CheckOrigin(cfg),
	}

	return func(c *gin.Context) {
		ipAddress := c.ClientIP()

		// check connection limits before accepting the upgrade
		canAccept, reason := hub.CanAcceptConnection()
		if !canAccept {
			errors.TooManyRequests(c, reason)
			return
		}

		clientID, err := ws.GenerateClientID()
		if err != nil {
			errors.InternalError(c, "failed to generate client ID", err)
			return
		}

		// upgrade HTTP connection to WebSocket
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.ErrorErr(err, "failed to upgrade connection",
				"ip", ipAddress,
			)

			return
		}

		client := ws.NewClient(clientID, ipAddress, conn, hub)

		hub.Register <- client

		go client.WritePump()
		go client.ReadPump()

		logger.Info("websocket connection established",
			"client_id", clientID,
			"ip", ipAddress,
		)
	}
}
