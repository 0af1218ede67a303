package segment

import (
	"sync"
	"time"
)

// scheduler keeps at most one pending finalize timer per speaker. Every armed
// timer carries a generation; a callback whose generation is no longer the
// pending one was cancelled or superseded and never reaches onFire.
type scheduler struct {
	clock Clock

	mu      sync.Mutex
	gen     uint64
	pending map[string]pendingTimer
}

type pendingTimer struct {
	gen   uint64
	timer Timer
}

func newScheduler(clock Clock) *scheduler {
	return &scheduler{clock: clock, pending: make(map[string]pendingTimer)}
}

// schedule cancels any pending timer for id and arms a new one. When the
// timer fires it is removed from the pending set first, then onFire runs
// with the generation returned here.
func (s *scheduler) schedule(id string, delay time.Duration, onFire func(gen uint64)) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.pending[id]; ok {
		p.timer.Stop()
	}
	s.gen++
	gen := s.gen
	t := s.clock.AfterFunc(delay, func() {
		s.mu.Lock()
		p, ok := s.pending[id]
		if !ok || p.gen != gen {
			s.mu.Unlock()
			return
		}
		delete(s.pending, id)
		s.mu.Unlock()
		onFire(gen)
	})
	s.pending[id] = pendingTimer{gen: gen, timer: t}
	return gen
}

// scheduleIfIdle arms a timer only when none is pending. It returns the
// generation of the new timer and whether one was armed.
func (s *scheduler) scheduleIfIdle(id string, delay time.Duration, onFire func(gen uint64)) (uint64, bool) {
	s.mu.Lock()
	_, busy := s.pending[id]
	s.mu.Unlock()
	if busy {
		return 0, false
	}
	return s.schedule(id, delay, onFire), true
}

// cancel stops the pending timer for id, if any.
func (s *scheduler) cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[id]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(s.pending, id)
	return true
}

// cancelAll stops every pending timer.
func (s *scheduler) cancelAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.pending)
	for id, p := range s.pending {
		p.timer.Stop()
		delete(s.pending, id)
	}
	return n
}

func (s *scheduler) isPending(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[id]
	return ok
}

// current returns the generation of the pending timer for id, or 0.
func (s *scheduler) current(id string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[id].gen
}
