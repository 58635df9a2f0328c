// Package guard provides non-blocking reentrancy guards keyed by an
// operation name or a request key.
package guard

import (
	"errors"
	"sync"
)

var ErrAlreadyInProgress = errors.New("already in progress")

// Set is the process-wide set of keys currently held.
type Set struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func NewSet() *Set {
	return &Set{running: make(map[string]struct{})}
}

// Guard is held until Release. Release is safe to call more than once,
// so callers can defer it right after a successful acquire.
type Guard struct {
	set  *Set
	key  string
	once sync.Once
}

// Acquire inserts key into the set, failing immediately when it is present.
func (s *Set) Acquire(key string) (*Guard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.running[key]; ok {
		return nil, ErrAlreadyInProgress
	}
	s.running[key] = struct{}{}
	return &Guard{set: s, key: key}, nil
}

// AcquireTask guards a periodic task against overlapping runs.
func (s *Set) AcquireTask(name string) (*Guard, error) {
	return s.Acquire("task/" + name)
}

// AcquireKey guards one request, e.g. an external tx id.
func (s *Set) AcquireKey(kind, key string) (*Guard, error) {
	return s.Acquire(kind + "/" + key)
}

func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

func (g *Guard) Key() string {
	return g.key
}

func (g *Guard) Release() {
	g.once.Do(func() {
		g.set.mu.Lock()
		delete(g.set.running, g.key)
		g.set.mu.Unlock()
	})
}
