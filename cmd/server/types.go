package main

import (
	"github.com/gin-gonic/gin"

	"codeberg.org/recipechat/server/internal/config"
	"codeberg.org/recipechat/server/internal/llm"
	"codeberg.org/recipechat/server/internal/stream"
	"codeberg.org/recipechat/server/internal/transcript"
	ws "codeberg.org/recipechat/server/internal/websocket"
)

// holds all dependencies and state for the API server
type Server struct {
	config      *config.Config
	completions llm.CompletionStreamer
	transcripts transcript.Source
	registry    *stream.Registry
	hub         *ws.Hub
	router      *gin.Engine
}
