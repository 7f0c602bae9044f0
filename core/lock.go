package core

import (
	"errors"
	"sync"
)

// ErrGenerationInFlight is returned when a turn is requested for a
// conversation that already has one running.
var ErrGenerationInFlight = errors.New("generation already in flight for conversation")

// InFlightLock is the per-conversation generation guard: at most one turn
// may run per conversation key. Acquisition never waits — a busy key rejects
// the turn so the caller can surface ErrGenerationInFlight immediately.
type InFlightLock struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewInFlightLock constructs an empty lock table.
func NewInFlightLock() *InFlightLock {
	return &InFlightLock{held: make(map[string]bool)}
}

// TryAcquire claims the key, reporting false when a turn already holds it.
func (l *InFlightLock) TryAcquire(key ConversationKey) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key.String()
	if l.held[k] {
		return false
	}
	l.held[k] = true
	return true
}

// Release frees the key for the next turn.
func (l *InFlightLock) Release(key ConversationKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key.String())
}
