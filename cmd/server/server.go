package main

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"codeberg.org/recipechat/server/internal/config"
	"codeberg.org/recipechat/server/internal/llm"
	"codeberg.org/recipechat/server/internal/logger"
	"codeberg.org/recipechat/server/internal/stream"
	"codeberg.org/recipechat/server/internal/transcript"
	ws "codeberg.org/recipechat/server/internal/websocket"
)

// creates and configures a new server instance with all dependencies
func NewServer(cfg *config.Config) (*Server, error) {
	completions, err := llm.NewClientWithConfig(&llm.Config{
		Provider: llm.ProviderTogether,
		APIKey:   cfg.TogetherAPIKey,
		Model:    cfg.TogetherModel,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	transcripts := transcript.NewYouTubeClient()

	registry := stream.NewRegistry(transcripts, completions, stream.Options{})

	hub := ws.NewHub()

	// register websocket message handlers
	hub.RegisterHandler(ws.TypeGenerateText, ws.GenerateTextHandler(registry))
	hub.RegisterHandler(ws.TypeFetchRecipe, ws.FetchRecipeHandler(registry))
	hub.RegisterHandler(ws.TypeStopStream, ws.StopStreamHandler(registry))
	hub.RegisterHandler(ws.TypeResetConversation, ws.ResetConversationHandler(registry))
	hub.RegisterHandler(ws.TypePing, ws.PingHandler())

	// allocate conversation state before the first message can arrive
	hub.OnClientConnect(func(client *ws.Client) {
		registry.Register(client.ID)
	})

	// tear down conversation state and cancel any running stream
	hub.OnClientDisconnect(func(client *ws.Client) {
		registry.Unregister(client.ID)

		logger.Debug("client state released",
			"client_id", client.ID,
		)
	})

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	server := &Server{
		config:      cfg,
		completions: completions,
		transcripts: transcripts,
		registry:    registry,
		hub:         hub,
		router:      router,
	}

	RegisterRoutes(router, server)

	return server, nil
}
