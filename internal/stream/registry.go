package stream

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"codeberg.org/recipechat/server/internal/conversation"
	"codeberg.org/recipechat/server/internal/logger"
	"codeberg.org/recipechat/server/internal/prompt"
	"codeberg.org/recipechat/server/internal/transcript"
)

const (
	defaultPacing      = 25 * time.Millisecond
	defaultTaskTimeout = 5 * time.Minute

	// streamed when a question arrives before any recipe has been loaded
	noRecipeGuidance = "Please fetch a recipe first by providing a video URL."
)

func NewRegistry(transcripts transcript.Source, completions CompletionSource, opts Options) *Registry {
	if opts.Pacing == 0 {
		opts.Pacing = defaultPacing
	}

	if opts.TaskTimeout == 0 {
		opts.TaskTimeout = defaultTaskTimeout
	}

	return &Registry{
		transcripts: transcripts,
		completions: completions,
		clients:     make(map[string]*clientEntry),
		pacing:      opts.Pacing,
		taskTimeout: opts.TaskTimeout,
	}
}

// allocates conversation state for a newly connected client
func (r *Registry) Register(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.clients[clientID]; exists {
		return
	}

	r.clients[clientID] = &clientEntry{conv: conversation.New()}
}

// cancels the client's active task and purges its state. The channel is
// gone, so the task emits nothing further.
func (r *Registry) Unregister(clientID string) {
	r.mu.Lock()

	entry, ok := r.clients[clientID]
	if ok {
		delete(r.clients, clientID)
	}

	r.mu.Unlock()

	if !ok {
		return
	}

	if t := entry.active; t != nil {
		t.finish(stateStopped)
		t.cancel()

		logger.Info("active task canceled on disconnect",
			"client_id", clientID,
			"request_id", t.ID,
		)
	}
}

// starts a recipe extraction task for a video URL
func (r *Registry) StartRecipe(clientID, videoURL string, sink Sink) (string, error) {
	if strings.TrimSpace(videoURL) == "" {
		return "", ErrEmptyVideoURL
	}

	return r.start(clientID, StreamRecipe, sink, func(ctx context.Context, t *Task, conv *conversation.State) {
		r.runRecipe(ctx, t, conv, videoURL)
	})
}

// starts a question-answering task
func (r *Registry) StartQuestion(clientID, question string, sink Sink) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", ErrEmptyPrompt
	}

	return r.start(clientID, StreamAnswer, sink, func(ctx context.Context, t *Task, conv *conversation.State) {
		r.runQuestion(ctx, t, conv, question)
	})
}

// requests cancellation of a task. An empty requestID targets the
// client's active task. Idempotent: stopping an unknown or already
// terminal task reports false, never an error.
func (r *Registry) Stop(clientID, requestID string) bool {
	r.mu.Lock()
	entry, ok := r.clients[clientID]
	r.mu.Unlock()

	if !ok {
		return false
	}

	// serialize with start so the stopped emission cannot land between a
	// racing start's task swap and its started ack
	entry.startMu.Lock()
	defer entry.startMu.Unlock()

	r.mu.Lock()
	t := entry.active
	r.mu.Unlock()

	if t == nil {
		return false
	}

	if requestID != "" && requestID != t.ID {
		return false
	}

	return r.stopTask(t)
}

// clears the client's conversation history; recipe text is retained
func (r *Registry) ResetConversation(clientID string) bool {
	conv, ok := r.Conversation(clientID)
	if !ok {
		return false
	}

	conv.Reset()

	return true
}

// returns the client's conversation state
func (r *Registry) Conversation(clientID string) (*conversation.State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.clients[clientID]
	if !ok {
		return nil, false
	}

	return entry.conv, true
}

// returns the client's active task, if any (used by tests)
func (r *Registry) ActiveTask(clientID string) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.clients[clientID]
	if !ok || entry.active == nil {
		return nil, false
	}

	return entry.active, true
}

// returns the number of registered clients
func (r *Registry) ClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.clients)
}

// returns the number of tasks currently tracked as active
func (r *Registry) ActiveTaskCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0

	for _, entry := range r.clients {
		if entry.active != nil {
			count++
		}
	}

	return count
}

// registers a new task for the client, superseding any prior active task,
// and acknowledges it before the first chunk can be emitted
func (r *Registry) start(clientID string, kind StreamKind, sink Sink, body func(context.Context, *Task, *conversation.State)) (string, error) {
	r.mu.Lock()
	entry, ok := r.clients[clientID]
	r.mu.Unlock()

	if !ok {
		return "", ErrClientNotRegistered
	}

	// one supersede-then-ack sequence at a time per client: a concurrent
	// start must not slip its stopped emission between another start's
	// task swap and started ack
	entry.startMu.Lock()
	defer entry.startMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.taskTimeout)

	t := &Task{
		ID:       uuid.NewString(),
		ClientID: clientID,
		Stream:   kind,
		cancel:   cancel,
		sink:     sink,
		done:     make(chan struct{}),
	}
	t.state.Store(int32(stateRunning))

	r.mu.Lock()

	// the client may have disconnected while we waited for the sequence lock
	if r.clients[clientID] != entry {
		r.mu.Unlock()
		cancel()
		return "", ErrClientNotRegistered
	}

	// swap under the lock: no window with two active tasks for one client
	prev := entry.active
	entry.active = t
	conv := entry.conv

	r.mu.Unlock()

	// supersede the previous request before acknowledging the new one, so
	// its stopped event reaches the client ahead of the new ack
	if prev != nil {
		r.stopTask(prev)
	}

	r.emit(t, Event{Kind: EventStarted})

	logger.Info("streaming task started",
		"client_id", clientID,
		"request_id", t.ID,
		"stream", string(kind),
	)

	go r.execute(ctx, t, conv, body)

	return t.ID, nil
}

// runs the task body and guarantees registry cleanup on every exit path
func (r *Registry) execute(ctx context.Context, t *Task, conv *conversation.State, body func(context.Context, *Task, *conversation.State)) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("streaming task panicked",
				"client_id", t.ClientID,
				"request_id", t.ID,
				"panic", rec,
			)

			if t.finish(stateFailed) {
				r.emit(t, Event{Kind: EventError, Err: "internal error"})
			}
		}

		t.cancel()

		r.mu.Lock()
		if entry, ok := r.clients[t.ClientID]; ok && entry.active == t {
			entry.active = nil
		}
		r.mu.Unlock()

		close(t.done)

		logger.Debug("streaming task finished",
			"client_id", t.ClientID,
			"request_id", t.ID,
			"state", t.terminalState(),
		)
	}()

	body(ctx, t, conv)
}

// fetches the transcript, streams the extraction completion, and stores
// the recipe text on success
func (r *Registry) runRecipe(ctx context.Context, t *Task, conv *conversation.State, videoURL string) {
	tr, err := r.transcripts.Fetch(ctx, videoURL)
	if err != nil {
		r.finishFailure(t, err)
		return
	}

	full, err := r.completions.StreamCompletion(ctx, prompt.BuildExtraction(tr.Text), r.forwarder(ctx, t))
	if err != nil {
		r.finishFailure(t, err)
		return
	}

	if t.finish(stateCompleted) {
		conv.RecordExtraction(full)
		r.emit(t, Event{Kind: EventComplete})
	}
}

// streams an answer to a follow-up question, recording the turn on success
func (r *Registry) runQuestion(ctx context.Context, t *Task, conv *conversation.State, question string) {
	recipeText, ok := conv.Recipe()

	if !ok {
		// no recipe loaded yet: answer with fixed guidance, skip the model
		if t.terminal() {
			return
		}

		r.emit(t, Event{Kind: EventChunk, Data: noRecipeGuidance})

		if t.finish(stateCompleted) {
			r.emit(t, Event{Kind: EventComplete})
		}

		return
	}

	p := prompt.BuildQuestion(recipeText, conv.History(), question)

	full, err := r.completions.StreamCompletion(ctx, p, r.forwarder(ctx, t))
	if err != nil {
		r.finishFailure(t, err)
		return
	}

	if t.finish(stateCompleted) {
		conv.RecordTurn(question, full)
		r.emit(t, Event{Kind: EventComplete})
	}
}

// returns the chunk callback for a task: checks cancellation before
// forwarding each fragment and paces consecutive emissions
func (r *Registry) forwarder(ctx context.Context, t *Task) func(chunk string) error {
	return func(chunk string) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		if t.terminal() {
			return context.Canceled
		}

		r.emit(t, Event{Kind: EventChunk, Data: chunk})

		if r.pacing > 0 {
			select {
			case <-time.After(r.pacing):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		return nil
	}
}

// performs the terminal transition for a task that did not complete.
// Cancellation is never reported through the error channel; the side that
// marked the task stopped already emitted the stopped event.
func (r *Registry) finishFailure(t *Task, err error) {
	if errors.Is(err, context.Canceled) {
		// stop/supersession/disconnect path: terminal transition and the
		// stopped emission belong to whoever canceled the task
		if t.finish(stateStopped) {
			r.emit(t, Event{Kind: EventStopped})
		}

		return
	}

	message := err.Error()

	if errors.Is(err, context.DeadlineExceeded) {
		message = "request timed out"
	}

	if t.finish(stateFailed) {
		r.emit(t, Event{Kind: EventError, Err: message})

		logger.Warn("streaming task failed",
			"client_id", t.ClientID,
			"request_id", t.ID,
			"error", err,
		)
	}
}

// marks a task stopped, cancels it, and emits its stopped event when this
// caller won the terminal transition
func (r *Registry) stopTask(t *Task) bool {
	won := t.finish(stateStopped)

	t.cancel()

	if won {
		r.emit(t, Event{Kind: EventStopped})

		logger.Info("streaming task stopped",
			"client_id", t.ClientID,
			"request_id", t.ID,
		)
	}

	return won
}

// tags and delivers one event for a task; delivery failures mean the
// client is gone and are not fatal to the task
func (r *Registry) emit(t *Task, ev Event) {
	ev.Stream = t.Stream
	ev.RequestID = t.ID

	if err := t.sink.Send(ev); err != nil {
		logger.Debug("event delivery failed",
			"client_id", t.ClientID,
			"request_id", t.ID,
			"kind", ev.Kind,
		)
	}
}
