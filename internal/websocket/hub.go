package websocket

import (
	"time"

	apperrors "codeberg.org/recipechat/server/internal/errors"
	"codeberg.org/recipechat/server/internal/logger"
)

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Inbound:    make(chan *Message, 256),
		handlers:   make(map[string]MessageHandler),
		running:    false,
		shutdown:   make(chan struct{}),
	}
}

// registers a handler for a specific message type
func (h *Hub) RegisterHandler(messageType string, handler MessageHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[messageType] = handler
}

// sets callback to be called when a client connects.
// runs synchronously in the hub loop so per-client state exists before
// the client's first message is dispatched.
func (h *Hub) OnClientConnect(callback func(client *Client)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onClientConnect = callback
}

// sets callback to be called when a client disconnects
func (h *Hub) OnClientDisconnect(callback func(client *Client)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onClientDisconnect = callback
}

// starts the hub's main loop
func (h *Hub) Run() {
	h.running = true
	defer func() {
		h.running = false
	}()

	for {
		select {
		case client := <-h.Register:
			h.registerClient(client)

		case client := <-h.Unregister:
			h.unregisterClient(client)

		case message := <-h.Inbound:
			h.handleMessage(message)

		case <-h.shutdown:
			h.closeAllConnections()
			return
		}
	}
}

// registerClient adds a client to the hub
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	callback := h.onClientConnect
	h.mu.Unlock()

	logger.Info("client registered",
		"client_id", client.ID,
		"ip", client.IPAddress,
	)

	if callback != nil {
		callback(client)
	}
}

// removes a client from the hub
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()

	// capture callback reference under lock
	callback := h.onClientDisconnect

	if _, exists := h.clients[client.ID]; !exists {
		h.mu.Unlock()
		return
	}

	delete(h.clients, client.ID)
	client.Close()

	h.mu.Unlock()

	logger.Info("client unregistered",
		"client_id", client.ID,
	)

	// call disconnect callback outside lock (cancels in-flight streams)
	if callback != nil {
		callback(client)
	}
}

// processes an incoming message
func (h *Hub) handleMessage(msg *Message) {
	h.mu.RLock()
	sender, exists := h.clients[msg.ClientID]
	h.mu.RUnlock()

	if !exists {
		logger.Warn("sender client not found for message",
			"client_id", msg.ClientID,
			"message_type", msg.Type,
		)
		return
	}

	h.mu.RLock()
	handler, exists := h.handlers[msg.Type]
	h.mu.RUnlock()

	if exists {
		// run handler asynchronously to avoid blocking the hub
		go func() {
			if err := handler(h, sender, msg); err != nil {
				logger.ErrorErr(err, "handler error",
					"message_type", msg.Type,
					"client_id", sender.ID,
				)

				sender.SendError(apperrors.CodeServerError, "failed to process message", err.Error())
			}
		}()
	} else {
		// reject unhandled message types
		logger.Warn("unhandled message type received",
			"message_type", msg.Type,
			"client_id", sender.ID,
		)

		sender.SendError(apperrors.CodeBadRequest, "unsupported message type", "message type not recognized")
	}
}

// returns a connected client by ID
func (h *Hub) GetClient(clientID string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	client, exists := h.clients[clientID]

	return client, exists
}

// reports whether a new connection may be accepted, checked before the
// upgrade so rejections can still go out as plain HTTP
func (h *Hub) CanAcceptConnection() (bool, string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.clients) >= maxConcurrentConnections {
		return false, "server at connection capacity"
	}

	return true, ""
}

// returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Shutdown() {
	if h.running {
		close(h.shutdown)
	}
}

func (h *Hub) closeAllConnections() {
	h.mu.Lock()

	logger.Info("notifying clients of server shutdown")

	shutdownMsg, err := NewMessage(TypeServerShutdown, ServerShutdownPayload{
		Reason: "server is shutting down for maintenance",
	})
	if err == nil {
		for _, client := range h.clients {
			if sendErr := client.Send(shutdownMsg); sendErr != nil {
				logger.ErrorErr(sendErr, "failed to send shutdown notification",
					"client_id", client.ID,
				)
			}
		}
	}

	h.mu.Unlock()

	// give clients time to receive the shutdown message
	time.Sleep(500 * time.Millisecond)

	h.mu.Lock()
	defer h.mu.Unlock()

	logger.Info("closing all websocket connections")

	for clientID, client := range h.clients {
		client.Close()
		logger.Debug("closed client",
			"client_id", clientID,
		)
	}

	h.clients = make(map[string]*Client)
}
