package agent

import (
	"sync"

	"github.com/google/uuid"

	"witlab/internal/llm"
)

// Session is the conversation carried between turns. Only the newest window
// messages are kept, and the kept slice always starts at a user message so a
// tool result is never separated from the call that produced it.
type Session struct {
	mu       sync.RWMutex
	id       string
	window   int
	messages []llm.Message
	turns    int
}

// NewSession creates a session with a fresh ID. window <= 0 keeps everything.
func NewSession(window int) *Session {
	return &Session{id: uuid.NewString(), window: window}
}

// ID returns the session identifier used in audit and history records.
func (s *Session) ID() string { return s.id }

// Turns returns how many turns have completed.
func (s *Session) Turns() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.turns
}

// Messages returns a copy of the retained history.
func (s *Session) Messages() []llm.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]llm.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of retained messages.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

func (s *Session) append(msgs ...llm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msgs...)
}

// truncate drops everything after n messages.
func (s *Session) truncate(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < len(s.messages) {
		s.messages = s.messages[:n]
	}
}

// endTurn counts the turn and applies the window.
func (s *Session) endTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns++
	if s.window <= 0 || len(s.messages) <= s.window {
		return
	}
	start := len(s.messages) - s.window
	for start < len(s.messages) && s.messages[start].Role != llm.RoleUser {
		start++
	}
	if start == len(s.messages) {
		// The last turn alone is longer than the window; keep all of it.
		for start > 0 && s.messages[start-1].Role != llm.RoleUser {
			start--
		}
		if start > 0 {
			start--
		}
	}
	kept := make([]llm.Message, len(s.messages)-start)
	copy(kept, s.messages[start:])
	s.messages = kept
}

// Reset clears the history and starts a new session ID.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = uuid.NewString()
	s.messages = nil
	s.turns = 0
}
