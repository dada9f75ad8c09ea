// Package looptest provides a deterministic loop.Scheduler for tests.
package looptest

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/devyyj/joyopi/go/internal/session/loop"
)

// Scheduler fires timers synchronously from Advance, in due order, on the
// calling goroutine. It stands in for loop.ClockScheduler in coordinator tests.
type Scheduler struct {
	clock   clockwork.Clock
	advance func(time.Duration)
	timers  []*timer
	seq     int
}

type timer struct {
	due     time.Time
	period  time.Duration
	fn      func()
	seq     int
	stopped bool
}

func (t *timer) Stop() { t.stopped = true }

// New returns a scheduler over a fresh clockwork fake clock.
func New() *Scheduler {
	clock := clockwork.NewFakeClock()
	return &Scheduler{clock: clock, advance: clock.Advance}
}

// Clock exposes the fake clock so code under test can share it.
func (s *Scheduler) Clock() clockwork.Clock { return s.clock }

// Now implements loop.Scheduler.
func (s *Scheduler) Now() time.Time { return s.clock.Now() }

// Every implements loop.Scheduler.
func (s *Scheduler) Every(d time.Duration, fn func()) loop.Handle {
	return s.add(d, d, fn)
}

// After implements loop.Scheduler.
func (s *Scheduler) After(d time.Duration, fn func()) loop.Handle {
	return s.add(d, 0, fn)
}

func (s *Scheduler) add(d, period time.Duration, fn func()) *timer {
	s.seq++
	t := &timer{due: s.clock.Now().Add(d), period: period, fn: fn, seq: s.seq}
	s.timers = append(s.timers, t)
	return t
}

// Advance moves time forward by d, firing every timer that comes due.
func (s *Scheduler) Advance(d time.Duration) {
	target := s.clock.Now().Add(d)
	for {
		next := s.next(target)
		if next == nil {
			break
		}
		if step := next.due.Sub(s.clock.Now()); step > 0 {
			s.advance(step)
		}
		if next.period > 0 {
			next.due = next.due.Add(next.period)
		} else {
			next.stopped = true
		}
		next.fn()
	}
	if rest := target.Sub(s.clock.Now()); rest > 0 {
		s.advance(rest)
	}
}

// Live counts timers that have not been stopped or fired.
func (s *Scheduler) Live() int {
	s.compact()
	return len(s.timers)
}

// LiveEvery counts live repeating timers.
func (s *Scheduler) LiveEvery() int {
	s.compact()
	n := 0
	for _, t := range s.timers {
		if t.period > 0 {
			n++
		}
	}
	return n
}

func (s *Scheduler) next(limit time.Time) *timer {
	s.compact()
	var best *timer
	for _, t := range s.timers {
		if t.due.After(limit) {
			continue
		}
		if best == nil || t.due.Before(best.due) || (t.due.Equal(best.due) && t.seq < best.seq) {
			best = t
		}
	}
	return best
}

func (s *Scheduler) compact() {
	live := s.timers[:0]
	for _, t := range s.timers {
		if !t.stopped {
			live = append(live, t)
		}
	}
	s.timers = live
}
