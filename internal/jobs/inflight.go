package jobs

import (
	"sync"

	"github.com/google/uuid"
)

// InFlight tracks which keys, typically user ids, have a job running.
// It is shared by every path that works on a user so that at most one job
// per user runs at a time.
type InFlight struct {
	mu      sync.Mutex
	running map[string]uuid.UUID
}

// NewInFlight creates an empty InFlight set.
func NewInFlight() *InFlight {
	return &InFlight{running: make(map[string]uuid.UUID)}
}

// Acquire marks key as busy and returns a new job id. If key is already
// busy it returns the running job's id and false.
func (f *InFlight) Acquire(key string) (uuid.UUID, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if id, ok := f.running[key]; ok {
		return id, false
	}
	id := uuid.New()
	f.running[key] = id
	return id, true
}

// Release marks key as idle.
func (f *InFlight) Release(key string) {
	f.mu.Lock()
	delete(f.running, key)
	f.mu.Unlock()
}

// Busy reports whether key has a job running.
func (f *InFlight) Busy(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.running[key]
	return ok
}
