package loop

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Handle cancels a scheduled callback. Stop must be idempotent.
type Handle interface {
	Stop()
}

// Scheduler arms timers whose callbacks run on the session loop.
type Scheduler interface {
	// Every runs fn every d until the handle is stopped.
	Every(d time.Duration, fn func()) Handle
	// After runs fn once after d unless the handle is stopped first.
	After(d time.Duration, fn func()) Handle
	// Now reports the scheduler's clock.
	Now() time.Time
}

// ClockScheduler is the production Scheduler: clockwork drives the timing and
// every fire is posted onto the loop.
type ClockScheduler struct {
	clock clockwork.Clock
	loop  *Loop
}

// NewClockScheduler binds a clock to a loop.
func NewClockScheduler(clock clockwork.Clock, l *Loop) *ClockScheduler {
	return &ClockScheduler{clock: clock, loop: l}
}

// Now implements Scheduler.
func (s *ClockScheduler) Now() time.Time { return s.clock.Now() }

// Every implements Scheduler.
func (s *ClockScheduler) Every(d time.Duration, fn func()) Handle {
	h := newHandle()
	ticker := s.clock.NewTicker(d)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-h.quit:
				return
			case <-s.loop.Done():
				return
			case <-ticker.Chan():
				s.loop.Post(h.guard(fn))
			}
		}
	}()
	return h
}

// After implements Scheduler.
func (s *ClockScheduler) After(d time.Duration, fn func()) Handle {
	h := newHandle()
	timer := s.clock.NewTimer(d)
	go func() {
		select {
		case <-h.quit:
			stopAndDrainTimer(timer)
		case <-s.loop.Done():
			stopAndDrainTimer(timer)
		case <-timer.Chan():
			s.loop.Post(h.guard(fn))
		}
	}()
	return h
}

// stopAndDrainTimer stops a timer and drains its channel so nothing stays blocked on it.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}

// clockHandle is stopped from the loop goroutine. A fire that was already
// queued when Stop ran is swallowed by guard, so a stopped timer never ticks.
type clockHandle struct {
	quit    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	stopped bool
}

func newHandle() *clockHandle {
	return &clockHandle{quit: make(chan struct{})}
}

func (h *clockHandle) Stop() {
	h.once.Do(func() {
		h.mu.Lock()
		h.stopped = true
		h.mu.Unlock()
		close(h.quit)
	})
}

func (h *clockHandle) guard(fn func()) func() {
	return func() {
		h.mu.Lock()
		stopped := h.stopped
		h.mu.Unlock()
		if !stopped {
			fn()
		}
	}
}

// Slot holds at most one live handle per concern. Replacing always stops the
// previous handle first, which makes duplicate tickers impossible.
type Slot struct {
	h Handle
}

// Replace stops the current handle, if any, and keeps h.
func (s *Slot) Replace(h Handle) {
	s.Stop()
	s.h = h
}

// Stop cancels the current handle. Calling it on an empty slot is a no-op.
func (s *Slot) Stop() {
	if s.h != nil {
		s.h.Stop()
		s.h = nil
	}
}

// Active reports whether the slot holds a live handle.
func (s *Slot) Active() bool { return s.h != nil }
