package session

import "sync"

// Store holds the current step of every user with an unfinished flow.
// Entries are created on the first step and dropped when the flow ends.
type Store struct {
	mu    sync.RWMutex
	steps map[int64]Step
}

func NewStore() *Store {
	return &Store{steps: make(map[int64]Step)}
}

// Get returns the user's step, or nil when idle.
func (s *Store) Get(userID int64) Step {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.steps[userID]
}

func (s *Store) State(userID int64) State {
	if step := s.Get(userID); step != nil {
		return step.State()
	}
	return Idle
}

// Set replaces the user's step. A nil step resets the user to Idle.
func (s *Store) Set(userID int64, step Step) {
	if step == nil {
		s.Reset(userID)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps[userID] = step
}

// Reset drops whatever flow the user was in.
func (s *Store) Reset(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.steps, userID)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.steps)
}
