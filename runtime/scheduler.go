package runtime

import (
	"sync"
	"time"
)

// Scheduler runs delayed tasks tagged with a generation token.
// Advance invalidates the current generation and stops every pending timer,
// so a context switch provably leaves nothing behind.
type Scheduler struct {
	mu         sync.Mutex
	generation uint64
	nextID     uint64
	timers     map[uint64]*time.Timer
}

func NewScheduler() *Scheduler {
	return &Scheduler{timers: make(map[uint64]*time.Timer)}
}

func (s *Scheduler) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Advance cancels all pending tasks and returns the new generation.
func (s *Scheduler) Advance() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.generation++
	return s.generation
}

// After runs fn once d has elapsed, unless generation is no longer current
// by then. The returned cancel func is idempotent.
// Scheduling against a stale generation returns a no-op cancel and never runs fn.
func (s *Scheduler) After(generation uint64, d time.Duration, fn func()) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if generation != s.generation {
		return func() {}
	}
	s.nextID++
	id := s.nextID
	s.timers[id] = time.AfterFunc(d, func() {
		s.mu.Lock()
		_, pending := s.timers[id]
		delete(s.timers, id)
		current := s.generation == generation
		s.mu.Unlock()
		if pending && current {
			fn()
		}
	})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if t, ok := s.timers[id]; ok {
			t.Stop()
			delete(s.timers, id)
		}
	}
}

// Pending returns the number of armed tasks.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
