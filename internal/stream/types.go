package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/recipechat/server/internal/conversation"
	"codeberg.org/recipechat/server/internal/llm"
	"codeberg.org/recipechat/server/internal/transcript"
)

// event kinds emitted for one request, in order: started, zero or more
// chunks, then exactly one of complete/stopped/error (or nothing after a
// hard disconnect)
const (
	EventStarted  = "started"
	EventChunk    = "chunk"
	EventComplete = "complete"
	EventStopped  = "stopped"
	EventError    = "error"
)

// identifies which outbound stream a task feeds
type StreamKind string

const (
	// recipe extraction events
	StreamRecipe StreamKind = "recipe"

	// question answering events
	StreamAnswer StreamKind = "answer"
)

// task lifecycle states
type taskState int32

const (
	statePending taskState = iota
	stateRunning
	stateCompleted
	stateStopped
	stateFailed
)

// one emission belonging to a request
type Event struct {
	Kind      string
	Stream    StreamKind
	RequestID string
	Data      string // fragment text for EventChunk
	Err       string // message for EventError
}

// delivers events to the client that owns a request. Implementations must
// preserve per-client ordering; an error reports that the client is gone.
type Sink interface {
	Send(ev Event) error
}

// represents one in-flight generation request
type Task struct {
	// request correlation id, never reused
	ID string

	// owning client
	ClientID string

	// which outbound stream the task feeds
	Stream StreamKind

	// cancellation control shared between the registry and the task body
	cancel context.CancelFunc

	// lifecycle state; terminal transitions are CAS-guarded so exactly
	// one side (supersession, stop, disconnect, or natural completion)
	// performs the terminal emission and finalization
	state atomic.Int32

	// event destination for this task's client
	sink Sink

	// closed when the task body has fully finished (used by tests)
	done chan struct{}
}

// per-client registry entry: conversation state plus the currently
// tracked active task, if any
type clientEntry struct {
	conv   *conversation.State
	active *Task

	// serializes the supersede-then-ack sequence of start and the stop
	// path, so a request's started ack can never trail its terminal event
	startMu sync.Mutex
}

// tracks per-client conversation state and in-flight streaming tasks.
// policy: supersession is scoped to a single client connection. Starting
// a new request stops only that client's prior request, never another
// tab's; per-user scoping is unreliable behind shared NAT and racy when
// two tabs start simultaneously.
type Registry struct {
	transcripts transcript.Source
	completions CompletionSource

	mu      sync.Mutex
	clients map[string]*clientEntry

	// delay between forwarded fragments, keeps concurrent tasks fair
	pacing time.Duration

	// hard cap on one request's duration
	taskTimeout time.Duration
}

// streams a completion for a prompt; the callback error is a drop cause
// that aborts the underlying stream
type CompletionSource interface {
	StreamCompletion(ctx context.Context, prompt string, fn llm.ChunkFunc) (string, error)
}

// tunables for the registry
type Options struct {
	// delay inserted between forwarded fragments (0 disables pacing)
	Pacing time.Duration

	// maximum duration of one request before it is forcibly failed
	TaskTimeout time.Duration
}
