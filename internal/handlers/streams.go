package handlers

import (
	"sync"
	"time"
)

// streamState is the latest rendering of one in-flight response. It lets a browser that subscribes after the
// first events were published catch up.
type streamState struct {
	HTML  string `json:"html"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

type streamRegistry struct {
	mu     sync.Mutex
	states map[string]streamState

	// retention is how long a finished stream stays available for late subscribers.
	retention time.Duration
}

func newStreamRegistry() *streamRegistry {
	return &streamRegistry{
		states:    make(map[string]streamState),
		retention: time.Minute,
	}
}

func (s *streamRegistry) update(id string, state streamState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[id] = state
	if state.Done || state.Error != "" {
		time.AfterFunc(s.retention, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.states, id)
		})
	}
}

func (s *streamRegistry) get(id string) (streamState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[id]
	return st, ok
}
