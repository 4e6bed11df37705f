package websocket

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// message type constants for websocket communication
const (
	// is sent by clients to ask a question about the loaded recipe
	TypeGenerateText = "generate_text"

	// is sent by clients to start recipe extraction for a video URL
	TypeFetchRecipe = "fetch_recipe_stream"

	// is sent by clients to cancel an in-flight stream
	TypeStopStream = "stop_stream"

	// is sent by clients to clear their conversation history
	TypeResetConversation = "reset_conversation"

	// carries question-answer stream events to the client
	TypeResponse = "response"

	// carries recipe extraction stream events to the client
	TypeRecipeStream = "recipe_stream"

	// acknowledges a stop request
	TypeStopResult = "stop_result"

	// is sent when an error occurs
	TypeError = "error"

	// is sent by clients to keep the connection alive
	TypePing = "ping"

	// is sent by server in response to ping
	TypePong = "pong"

	// is sent by server before shutdown
	TypeServerShutdown = "server_shutdown"
)

// client connection constants
const (
	// time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// maximum message size allowed from peer
	maxMessageSize = 64 * 1024 // 64 KB

	// rate limiting constants
	maxStreamStartsPerMinute = 10   // maximum generate/fetch requests per minute
	maxConcurrentConnections = 1000 // maximum simultaneous clients

	// content size limits
	maxPromptSize   = 5000 // characters in one question
	maxVideoURLSize = 2048 // characters in a video URL
)

// errors
var (
	ErrInvalidMessage   = errors.New("invalid message format")
	ErrConnectionClosed = errors.New("connection closed")
)

// represents a websocket message with typed payload
type Message struct {
	Type      string          `json:"type"`
	ClientID  string          `json:"-"` // internal only, not sent to clients
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// contains a follow-up question about the loaded recipe
type GenerateTextPayload struct {
	Prompt string `json:"prompt"`
}

// contains the video URL to extract a recipe from
type FetchRecipePayload struct {
	VideoURL string `json:"video_url"`
}

// names the stream to cancel; empty targets the active stream
type StopStreamPayload struct {
	MessageID string `json:"message_id,omitempty"`
}

// acknowledges an accepted generate/fetch request before any chunk
type StreamStartedPayload struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// contains one incremental text fragment
type StreamChunkPayload struct {
	Data      string `json:"data"`
	Streaming bool   `json:"streaming"`
	MessageID string `json:"message_id"`
}

// signals successful end of a stream
type StreamCompletePayload struct {
	Complete  bool   `json:"complete"`
	MessageID string `json:"message_id"`
}

// signals that a stream was cancelled
type StreamStoppedPayload struct {
	Stopped   bool   `json:"stopped"`
	MessageID string `json:"message_id"`
}

// signals that a stream ended in an error
type StreamErrorPayload struct {
	Error     string `json:"error"`
	MessageID string `json:"message_id,omitempty"`
}

// reports the outcome of a stop request
type StopResultPayload struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
}

// contains information about server shutdown
type ServerShutdownPayload struct {
	Reason string `json:"reason"`
}

// represents a websocket client connection
type Client struct {
	// unique identifier for this client (one per physical connection)
	ID string

	// IP address of the client (for logging)
	IPAddress string

	// websocket connection
	conn *websocket.Conn

	// hub reference for message dispatch
	hub *Hub

	// buffered channel of outbound messages
	send chan []byte

	// mutex for thread-safe operations
	mu sync.RWMutex

	// flag indicating if client is closed
	closed bool

	// rate limiting: stream start timestamps (sliding window)
	streamStartTimestamps []time.Time
}

// maintains the set of connected clients and dispatches their messages
type Hub struct {
	// connected clients by client ID
	clients map[string]*Client

	// register requests from clients
	Register chan *Client

	// unregister requests from clients
	Unregister chan *Client

	// inbound messages to dispatch to handlers
	Inbound chan *Message

	// mutex for thread-safe access to clients
	mu sync.RWMutex

	// message handlers for different message types
	handlers map[string]MessageHandler

	// flag indicating if hub is running
	running bool

	// channel to signal shutdown
	shutdown chan struct{}

	// callback invoked synchronously when a client connects
	// (allocates per-client session state before any message is handled)
	onClientConnect func(client *Client)

	// callback for client disconnect (cancels in-flight streams)
	onClientDisconnect func(client *Client)
}

// processes a specific message type
type MessageHandler func(hub *Hub, client *Client, msg *Message) error
