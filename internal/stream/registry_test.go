package stream

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/recipechat/server/internal/llm"
	"codeberg.org/recipechat/server/internal/transcript"
)

// canned transcript source
type fakeTranscripts struct {
	text string
	err  error
}

func (f *fakeTranscripts) Fetch(ctx context.Context, videoURL string) (*transcript.Transcript, error) {
	if f.err != nil {
		return nil, f.err
	}

	return &transcript.Transcript{
		VideoID:  "vid123",
		Language: "en",
		Kind:     "manual",
		Text:     f.text,
	}, nil
}

// completion source that replays scripted fragments. failAfter >= 0 fails
// the stream after that many fragments; block parks the stream until the
// task context is canceled.
type scriptedCompletions struct {
	fragments []string
	failAfter int
	failErr   error
	block     bool

	mu      sync.Mutex
	calls   int
	prompts []string
}

func newScriptedCompletions(fragments ...string) *scriptedCompletions {
	return &scriptedCompletions{fragments: fragments, failAfter: -1}
}

func (s *scriptedCompletions) StreamCompletion(ctx context.Context, prompt string, fn llm.ChunkFunc) (string, error) {
	s.mu.Lock()
	s.calls++
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()

	var full strings.Builder

	for i, fragment := range s.fragments {
		if s.failAfter >= 0 && i == s.failAfter {
			return full.String(), s.failErr
		}

		if err := ctx.Err(); err != nil {
			return full.String(), err
		}

		full.WriteString(fragment)

		if err := fn(fragment); err != nil {
			return full.String(), err
		}
	}

	if s.block {
		<-ctx.Done()
		return full.String(), ctx.Err()
	}

	return full.String(), nil
}

func (s *scriptedCompletions) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls
}

// sink that records every event in delivery order
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Send(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, ev)

	return nil
}

func (s *recordingSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Event(nil), s.events...)
}

func (s *recordingSink) count(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0

	for _, ev := range s.events {
		if ev.Kind == kind {
			n++
		}
	}

	return n
}

// blocks until the sink has seen a terminal event for the request
func waitForTerminal(t *testing.T, sink *recordingSink, requestID string) {
	t.Helper()

	require.Eventually(t, func() bool {
		for _, ev := range sink.snapshot() {
			if ev.RequestID != requestID {
				continue
			}

			if ev.Kind == EventComplete || ev.Kind == EventStopped || ev.Kind == EventError {
				return true
			}
		}

		return false
	}, 2*time.Second, 5*time.Millisecond)
}

func newTestRegistry(transcripts transcript.Source, completions CompletionSource) *Registry {
	return NewRegistry(transcripts, completions, Options{Pacing: time.Millisecond})
}

func TestRecipeStreamHappyPath(t *testing.T) {
	completions := newScriptedCompletions("Pasta ", "Carbonara:\n", "boil, fry, mix")
	registry := newTestRegistry(&fakeTranscripts{text: "today we make pasta carbonara with eggs and guanciale"}, completions)

	registry.Register("client-1")

	sink := &recordingSink{}

	id, err := registry.StartRecipe("client-1", "https://youtu.be/vid123", sink)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	waitForTerminal(t, sink, id)

	events := sink.snapshot()
	require.GreaterOrEqual(t, len(events), 5)

	// ack first, then fragments, then exactly one completion
	assert.Equal(t, EventStarted, events[0].Kind)
	assert.Equal(t, StreamRecipe, events[0].Stream)
	assert.Equal(t, id, events[0].RequestID)

	assert.Equal(t, EventChunk, events[1].Kind)
	assert.Equal(t, "Pasta ", events[1].Data)

	last := events[len(events)-1]
	assert.Equal(t, EventComplete, last.Kind)
	assert.Equal(t, id, last.RequestID)

	assert.Equal(t, 1, sink.count(EventComplete))
	assert.Zero(t, sink.count(EventStopped))
	assert.Zero(t, sink.count(EventError))

	// the accumulated text is stored as the recipe
	conv, ok := registry.Conversation("client-1")
	require.True(t, ok)

	recipe, ok := conv.Recipe()
	require.True(t, ok)
	assert.Equal(t, "Pasta Carbonara:\nboil, fry, mix", recipe)

	// task slot is released
	require.Eventually(t, func() bool {
		return registry.ActiveTaskCount() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestRecipeStreamTranscriptFailure(t *testing.T) {
	completions := newScriptedCompletions("should never stream")
	registry := newTestRegistry(&fakeTranscripts{err: transcript.ErrNoCaptions}, completions)

	registry.Register("client-1")

	sink := &recordingSink{}

	id, err := registry.StartRecipe("client-1", "https://youtu.be/vid123", sink)
	require.NoError(t, err)

	waitForTerminal(t, sink, id)

	events := sink.snapshot()
	require.Len(t, events, 2)

	assert.Equal(t, EventStarted, events[0].Kind)
	assert.Equal(t, EventError, events[1].Kind)
	assert.Contains(t, events[1].Err, "no captions")

	// the model is never consulted and no recipe is stored
	assert.Zero(t, completions.callCount())

	conv, _ := registry.Conversation("client-1")
	_, ok := conv.Recipe()
	assert.False(t, ok)
}

func TestQuestionBeforeRecipe(t *testing.T) {
	completions := newScriptedCompletions("should never stream")
	registry := newTestRegistry(&fakeTranscripts{}, completions)

	registry.Register("client-1")

	sink := &recordingSink{}

	id, err := registry.StartQuestion("client-1", "how long do I boil it?", sink)
	require.NoError(t, err)

	waitForTerminal(t, sink, id)

	events := sink.snapshot()
	require.Len(t, events, 3)

	assert.Equal(t, EventStarted, events[0].Kind)
	assert.Equal(t, StreamAnswer, events[0].Stream)

	assert.Equal(t, EventChunk, events[1].Kind)
	assert.Contains(t, events[1].Data, "fetch a recipe first")

	assert.Equal(t, EventComplete, events[2].Kind)

	assert.Zero(t, completions.callCount())
}

func TestQuestionRecordsTurn(t *testing.T) {
	completions := newScriptedCompletions("about ", "ten minutes")
	registry := newTestRegistry(&fakeTranscripts{}, completions)

	registry.Register("client-1")

	conv, _ := registry.Conversation("client-1")
	conv.RecordExtraction("Pasta Carbonara recipe text")

	sink := &recordingSink{}

	id, err := registry.StartQuestion("client-1", "how long do I boil it?", sink)
	require.NoError(t, err)

	waitForTerminal(t, sink, id)

	assert.Equal(t, 1, sink.count(EventComplete))

	history := conv.History()
	require.Len(t, history, 2)
	assert.Equal(t, "how long do I boil it?", history[0].Content)
	assert.Equal(t, "about ten minutes", history[1].Content)
}

func TestSupersessionStopsPriorStreamFirst(t *testing.T) {
	completions := newScriptedCompletions("first fragment")
	completions.block = true

	registry := newTestRegistry(&fakeTranscripts{text: "a transcript long enough to extract a recipe from"}, completions)

	registry.Register("client-1")

	sink := &recordingSink{}

	firstID, err := registry.StartRecipe("client-1", "https://youtu.be/vid123", sink)
	require.NoError(t, err)

	// wait until the first task is mid-stream
	require.Eventually(t, func() bool {
		return sink.count(EventChunk) > 0
	}, time.Second, 5*time.Millisecond)

	secondID, err := registry.StartQuestion("client-1", "actually, a question", sink)
	require.NoError(t, err)
	require.NotEqual(t, firstID, secondID)

	waitForTerminal(t, sink, firstID)

	// the superseded stream's stopped event lands before the new ack
	events := sink.snapshot()

	stoppedIdx, startedIdx := -1, -1

	for i, ev := range events {
		if ev.Kind == EventStopped && ev.RequestID == firstID && stoppedIdx == -1 {
			stoppedIdx = i
		}

		if ev.Kind == EventStarted && ev.RequestID == secondID {
			startedIdx = i
		}
	}

	require.NotEqual(t, -1, stoppedIdx)
	require.NotEqual(t, -1, startedIdx)
	assert.Less(t, stoppedIdx, startedIdx)

	// first task terminates exactly once, with no error or completion
	assert.Equal(t, 1, sink.count(EventStopped))

	for _, ev := range sink.snapshot() {
		if ev.RequestID == firstID {
			assert.NotEqual(t, EventComplete, ev.Kind)
			assert.NotEqual(t, EventError, ev.Kind)
		}
	}

	// only the new task may remain active
	assert.LessOrEqual(t, registry.ActiveTaskCount(), 1)

	if task, ok := registry.ActiveTask("client-1"); ok {
		assert.Equal(t, secondID, task.ID)
	}
}

func TestStopActiveStream(t *testing.T) {
	completions := newScriptedCompletions("fragment")
	completions.block = true

	registry := newTestRegistry(&fakeTranscripts{text: "some transcript text for the extraction"}, completions)

	registry.Register("client-1")

	sink := &recordingSink{}

	id, err := registry.StartRecipe("client-1", "https://youtu.be/vid123", sink)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return sink.count(EventChunk) > 0
	}, time.Second, 5*time.Millisecond)

	task, ok := registry.ActiveTask("client-1")
	require.True(t, ok)
	require.Equal(t, id, task.ID)

	// empty request id targets the active stream
	assert.True(t, registry.Stop("client-1", ""))

	<-task.Done()

	assert.Equal(t, 1, sink.count(EventStopped))
	assert.Zero(t, sink.count(EventComplete))
	assert.Zero(t, sink.count(EventError))
}

func TestStopIsIdempotent(t *testing.T) {
	completions := newScriptedCompletions()
	completions.block = true

	registry := newTestRegistry(&fakeTranscripts{text: "some transcript text for the extraction"}, completions)

	registry.Register("client-1")

	sink := &recordingSink{}

	id, err := registry.StartRecipe("client-1", "https://youtu.be/vid123", sink)
	require.NoError(t, err)

	task, ok := registry.ActiveTask("client-1")
	require.True(t, ok)

	assert.True(t, registry.Stop("client-1", id))

	<-task.Done()

	// second stop finds nothing to do
	assert.False(t, registry.Stop("client-1", id))
	assert.False(t, registry.Stop("client-1", ""))

	assert.Equal(t, 1, sink.count(EventStopped))
}

func TestStopWrongRequestID(t *testing.T) {
	completions := newScriptedCompletions()
	completions.block = true

	registry := newTestRegistry(&fakeTranscripts{text: "some transcript text for the extraction"}, completions)

	registry.Register("client-1")

	sink := &recordingSink{}

	id, err := registry.StartRecipe("client-1", "https://youtu.be/vid123", sink)
	require.NoError(t, err)

	// a stale request id never cancels the current stream
	assert.False(t, registry.Stop("client-1", "not-the-current-request"))

	task, ok := registry.ActiveTask("client-1")
	require.True(t, ok)
	assert.Equal(t, id, task.ID)

	registry.Stop("client-1", id)
	<-task.Done()
}

func TestStopUnknownClient(t *testing.T) {
	registry := newTestRegistry(&fakeTranscripts{}, newScriptedCompletions())

	assert.False(t, registry.Stop("nobody", ""))
}

func TestUnregisterCancelsAndPurges(t *testing.T) {
	completions := newScriptedCompletions("fragment")
	completions.block = true

	registry := newTestRegistry(&fakeTranscripts{text: "some transcript text for the extraction"}, completions)

	registry.Register("client-1")

	sink := &recordingSink{}

	_, err := registry.StartRecipe("client-1", "https://youtu.be/vid123", sink)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return sink.count(EventChunk) > 0
	}, time.Second, 5*time.Millisecond)

	task, ok := registry.ActiveTask("client-1")
	require.True(t, ok)

	registry.Unregister("client-1")

	assert.Zero(t, registry.ClientCount())

	<-task.Done()

	// nobody is listening anymore, so no terminal event goes out
	assert.Zero(t, sink.count(EventStopped))
	assert.Zero(t, sink.count(EventComplete))
	assert.Zero(t, sink.count(EventError))
}

func TestUnregisterIdleClient(t *testing.T) {
	registry := newTestRegistry(&fakeTranscripts{}, newScriptedCompletions())

	registry.Register("client-1")
	require.Equal(t, 1, registry.ClientCount())

	registry.Unregister("client-1")
	assert.Zero(t, registry.ClientCount())

	// unknown client is a no-op
	registry.Unregister("client-1")
}

func TestTaskTimeout(t *testing.T) {
	completions := newScriptedCompletions("partial")
	completions.block = true

	registry := NewRegistry(
		&fakeTranscripts{text: "some transcript text for the extraction"},
		completions,
		Options{Pacing: time.Millisecond, TaskTimeout: 100 * time.Millisecond},
	)

	registry.Register("client-1")

	sink := &recordingSink{}

	id, err := registry.StartRecipe("client-1", "https://youtu.be/vid123", sink)
	require.NoError(t, err)

	waitForTerminal(t, sink, id)

	events := sink.snapshot()
	last := events[len(events)-1]

	assert.Equal(t, EventError, last.Kind)
	assert.Equal(t, "request timed out", last.Err)

	assert.Zero(t, sink.count(EventStopped))
	assert.Zero(t, sink.count(EventComplete))
}

func TestMidStreamFailureKeepsHistoryClean(t *testing.T) {
	completions := newScriptedCompletions("one ", "two ", "three ", "never")
	completions.failAfter = 3
	completions.failErr = errors.New("upstream connection reset")

	registry := newTestRegistry(&fakeTranscripts{}, completions)

	registry.Register("client-1")

	conv, _ := registry.Conversation("client-1")
	conv.RecordExtraction("the recipe")

	sink := &recordingSink{}

	id, err := registry.StartQuestion("client-1", "a question", sink)
	require.NoError(t, err)

	waitForTerminal(t, sink, id)

	// delivered fragments stay delivered, then a single error closes out
	assert.Equal(t, 3, sink.count(EventChunk))
	assert.Equal(t, 1, sink.count(EventError))
	assert.Zero(t, sink.count(EventComplete))

	// the failed exchange is not recorded
	assert.Empty(t, conv.History())
}

func TestStartValidation(t *testing.T) {
	registry := newTestRegistry(&fakeTranscripts{}, newScriptedCompletions())

	registry.Register("client-1")

	sink := &recordingSink{}

	_, err := registry.StartRecipe("client-1", "   ", sink)
	assert.ErrorIs(t, err, ErrEmptyVideoURL)

	_, err = registry.StartQuestion("client-1", "", sink)
	assert.ErrorIs(t, err, ErrEmptyPrompt)

	// validation failures never produce events
	assert.Empty(t, sink.snapshot())
}

func TestStartUnregisteredClient(t *testing.T) {
	registry := newTestRegistry(&fakeTranscripts{}, newScriptedCompletions())

	_, err := registry.StartRecipe("nobody", "https://youtu.be/vid123", &recordingSink{})
	assert.ErrorIs(t, err, ErrClientNotRegistered)
}

func TestResetConversation(t *testing.T) {
	registry := newTestRegistry(&fakeTranscripts{}, newScriptedCompletions())

	registry.Register("client-1")

	conv, _ := registry.Conversation("client-1")
	conv.RecordExtraction("the recipe")
	conv.RecordTurn("q", "a")

	assert.True(t, registry.ResetConversation("client-1"))

	assert.Empty(t, conv.History())

	_, ok := conv.Recipe()
	assert.True(t, ok)

	assert.False(t, registry.ResetConversation("nobody"))
}

func TestConcurrentStartsAckBeforeTerminal(t *testing.T) {
	completions := newScriptedCompletions("fragment one ", "fragment two")
	registry := newTestRegistry(&fakeTranscripts{}, completions)

	registry.Register("client-1")

	conv, _ := registry.Conversation("client-1")
	conv.RecordExtraction("the recipe")

	sink := &recordingSink{}

	// hammer the same client from many goroutines, the way the gateway's
	// per-message handler goroutines can
	var wg sync.WaitGroup

	for i := range 8 {
		wg.Add(1)

		go func(n int) {
			defer wg.Done()

			_, err := registry.StartQuestion("client-1", "concurrent question", sink)
			assert.NoError(t, err, "start %d", n)
		}(i)
	}

	wg.Wait()

	// every request terminates, the last winner by completing
	require.Eventually(t, func() bool {
		return registry.ActiveTaskCount() == 0 && sink.count(EventComplete) >= 1
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		terminal := sink.count(EventComplete) + sink.count(EventStopped) + sink.count(EventError)
		return terminal == sink.count(EventStarted)
	}, 2*time.Second, 5*time.Millisecond)

	// per request: the started ack always precedes the terminal event
	terminalSeen := make(map[string]bool)

	for _, ev := range sink.snapshot() {
		switch ev.Kind {
		case EventStarted:
			assert.False(t, terminalSeen[ev.RequestID],
				"started ack for %s delivered after its terminal event", ev.RequestID)
		case EventComplete, EventStopped, EventError:
			terminalSeen[ev.RequestID] = true
		}
	}

	assert.Len(t, terminalSeen, 8)
}

func TestConcurrentClientsAreIndependent(t *testing.T) {
	completions := newScriptedCompletions("answer")
	registry := newTestRegistry(&fakeTranscripts{text: "a transcript long enough for extraction"}, completions)

	registry.Register("client-1")
	registry.Register("client-2")

	sink1 := &recordingSink{}
	sink2 := &recordingSink{}

	id1, err := registry.StartRecipe("client-1", "https://youtu.be/vid123", sink1)
	require.NoError(t, err)

	id2, err := registry.StartRecipe("client-2", "https://youtu.be/vid456", sink2)
	require.NoError(t, err)

	waitForTerminal(t, sink1, id1)
	waitForTerminal(t, sink2, id2)

	// starting on one client never supersedes the other
	assert.Zero(t, sink1.count(EventStopped))
	assert.Zero(t, sink2.count(EventStopped))
	assert.Equal(t, 1, sink1.count(EventComplete))
	assert.Equal(t, 1, sink2.count(EventComplete))
}
