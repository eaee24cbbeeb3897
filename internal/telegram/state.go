package telegram

import "sync"

// StateManager serializes message handling per user: while one request is in
// flight, further messages from the same user are turned away instead of
// queued behind a slow model call.
type StateManager struct {
	mu   sync.Mutex
	busy map[int64]bool
}

func NewStateManager() *StateManager {
	return &StateManager{
		busy: make(map[int64]bool),
	}
}

// TryAcquire marks the user busy. It returns false when a request is already
// in flight for them.
func (m *StateManager) TryAcquire(userID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy[userID] {
		return false
	}
	m.busy[userID] = true
	return true
}

func (m *StateManager) Release(userID int64) {
	m.mu.Lock()
	delete(m.busy, userID)
	m.mu.Unlock()
}
