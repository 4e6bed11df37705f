package conversation

import (
	"sync"
)

// message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// maximum retained question/answer pairs
const MaxTurns = 3

// one history entry
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// holds one client's recipe text and bounded conversation history.
// the owning streaming task appends on successful completion; the gateway
// may reset concurrently, so access is mutex-guarded.
type State struct {
	mu      sync.RWMutex
	recipe  string
	history []Message
}

func New() *State {
	return &State{
		history: make([]Message, 0, 2*MaxTurns),
	}
}

// records a successfully extracted recipe. Loading a new recipe abandons
// the previous conversation, so history is cleared as well.
func (s *State) RecordExtraction(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recipe = text
	s.history = s.history[:0]
}

// appends one question/answer pair, evicting the oldest pair(s) to keep
// at most MaxTurns pairs. Never called for turns that ended in an error.
func (s *State) RecordTurn(question, answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history,
		Message{Role: RoleUser, Content: question},
		Message{Role: RoleAssistant, Content: answer},
	)

	if excess := len(s.history) - 2*MaxTurns; excess > 0 {
		s.history = append(s.history[:0], s.history[excess:]...)
	}
}

// clears the conversation history; recipe text is retained
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = s.history[:0]
}

// returns the current recipe text and whether one has been loaded
func (s *State) Recipe() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.recipe, s.recipe != ""
}

// returns a copy of the current history
func (s *State) History() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, len(s.history))
	copy(out, s.history)

	return out
}
