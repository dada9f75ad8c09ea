// Package loop runs every callback of a session on one goroutine.
//
// Socket events, timer callbacks and UI intents are all funneled through a
// single Loop so the coordinators never need locks and are processed strictly
// in arrival order.
package loop

import (
	"context"
	"errors"
	"sync"
)

// ErrStopped is returned by Do when the loop is no longer running.
var ErrStopped = errors.New("loop stopped")

// Loop is a serial task queue.
type Loop struct {
	tasks    chan func()
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a loop with the given queue depth.
func New(buffer int) *Loop {
	return &Loop{
		tasks: make(chan func(), buffer),
		done:  make(chan struct{}),
	}
}

// Done is closed once the loop stopped accepting work.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Post enqueues fn. It never blocks past loop shutdown and reports whether fn
// was accepted.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Do runs fn on the loop and waits for its result.
func (l *Loop) Do(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	if !l.Post(func() { reply <- fn() }) {
		return ErrStopped
	}
	select {
	case err := <-reply:
		return err
	case <-l.done:
		// The task may still have been run right before shutdown.
		select {
		case err := <-reply:
			return err
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the queue until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	defer l.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.tasks:
			fn()
		}
	}
}

// Stop marks the loop as finished. Safe to call more than once.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.done) })
}
