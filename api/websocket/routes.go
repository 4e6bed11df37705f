package websocket

import (
	"github.com/gin-gonic/gin"

	"codeberg.org/recipechat/server/internal/config"
	ws "codeberg.org/recipechat/server/internal/websocket"
)

func RegisterRoutes(router *gin.RouterGroup, hub *ws.Hub, cfg *config.Config) {
	router.GET("/ws", WebSocketHandler(hub, cfg))
}
