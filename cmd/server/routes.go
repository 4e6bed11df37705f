package main

import (
	"github.com/gin-gonic/gin"

	"codeberg.org/recipechat/server/api/rest/health"
	"codeberg.org/recipechat/server/api/websocket"
	"codeberg.org/recipechat/server/internal/errors"
)

// sets up all API routes and middleware
func RegisterRoutes(router *gin.Engine, server *Server) {
	router.Use(CORSMiddleware(server.config))
	router.GET("/health", health.Handler)

	router.NoRoute(func(c *gin.Context) {
		errors.NotFound(c, "")
	})

	v1 := router.Group("/api/v1")

	{
		v1.GET("/ping", health.PingHandler)

		websocket.RegisterRoutes(v1, server.hub, server.config)
	}
}
