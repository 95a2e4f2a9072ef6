// Package expiry arms one-shot deferred cleanup actions.
//
// The scheduler never decides anything itself. The fire function supplied by
// the caller must re-read authoritative store state when it runs, because the
// challenge it was armed for can have been consumed or replaced in the
// meantime. Cancellation of stale timers is an optimization only; a firing
// whose challenge is gone must be a harmless no-op.
package expiry

import (
	"context"
	"sync"
	"time"
)

// Scheduler arms at most one pending timer per key. Re-arming a key replaces
// its pending timer.
type Scheduler struct {
	timers map[string]*time.Timer
	lock   sync.Mutex
	wg     sync.WaitGroup
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		timers: map[string]*time.Timer{},
	}
}

// Arm schedules fire to run after delay. The previous pending timer for the
// key, if any, is dropped: the newest challenge for a principal owns the
// cleanup slot.
func (s *Scheduler) Arm(key string, delay time.Duration, fire func(ctx context.Context)) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if old, ok := s.timers[key]; ok {
		if old.Stop() {
			s.wg.Done()
		}
	}

	s.wg.Add(1)
	var tm *time.Timer
	tm = time.AfterFunc(delay, func() {
		defer s.wg.Done()

		// Only unregister self: the key may already belong to a newer timer.
		s.lock.Lock()
		if cur, ok := s.timers[key]; ok && cur == tm {
			delete(s.timers, key)
		}
		s.lock.Unlock()

		fire(context.Background())
	})
	s.timers[key] = tm
}

// Disarm drops the pending timer for key, if any. Purely an optimization:
// callers supply fire functions that no-op on stale state anyway.
func (s *Scheduler) Disarm(key string) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if t, ok := s.timers[key]; ok {
		if t.Stop() {
			s.wg.Done()
		}
		delete(s.timers, key)
	}
}

// Stop drops every pending timer and waits for in-flight firings to finish.
func (s *Scheduler) Stop() {
	s.lock.Lock()
	for key, t := range s.timers {
		if t.Stop() {
			s.wg.Done()
		}
		delete(s.timers, key)
	}
	s.lock.Unlock()

	s.wg.Wait()
}

// Pending counts armed timers.
func (s *Scheduler) Pending() int {
	s.lock.Lock()
	defer s.lock.Unlock()

	return len(s.timers)
}
