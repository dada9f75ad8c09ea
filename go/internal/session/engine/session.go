// Package engine owns one feature session: the connection manager, the
// codec and the feature handler, all driven from a single loop goroutine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/devyyj/joyopi/go/internal/session/conn"
	"github.com/devyyj/joyopi/go/internal/session/loop"
	"github.com/devyyj/joyopi/go/internal/session/notify"
	"github.com/devyyj/joyopi/go/internal/session/protocol"
)

var (
	// ErrSessionUsed is returned by Run on a session that already ran.
	ErrSessionUsed = errors.New("session already started")
	// ErrSessionClosed is returned by Run after Close.
	ErrSessionClosed = errors.New("session closed")
)

// Handler is the feature state machine. Every method is called on the loop
// goroutine.
type Handler interface {
	// OnOpen runs once the socket is confirmed open.
	OnOpen()
	// Handle receives every decoded inbound message except PONG.
	Handle(msg protocol.Message)
	// OnStale runs once when a confirmed session is lost.
	OnStale(reason conn.StaleReason)
	// Teardown stops every timer and resource the handler owns.
	Teardown()
}

// Options configures a Session.
type Options struct {
	Feature    string
	URL        string
	Dialer     conn.Dialer
	Monitor    conn.NetworkMonitor
	Clock      clockwork.Clock
	Conn       conn.Config
	Sink       notify.Sink
	LoopBuffer int
}

// Session is the single owned connection of a feature run.
type Session struct {
	id      string
	feature string
	url     string
	sink    notify.Sink
	clock   clockwork.Clock

	loop  *loop.Loop
	sched *loop.ClockScheduler
	mgr   *conn.Manager

	mu        sync.Mutex
	started   bool
	closed    bool
	cancel    context.CancelFunc
	finished  chan struct{}
	closeOnce sync.Once
}

// New builds a session. Nothing is dialed until Run.
func New(opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Dialer == nil {
		opts.Dialer = conn.NewWebsocketDialer()
	}
	if opts.LoopBuffer <= 0 {
		opts.LoopBuffer = 128
	}
	if opts.Sink == nil {
		opts.Sink = notify.LogSink{}
	}

	l := loop.New(opts.LoopBuffer)
	return &Session{
		id:       uuid.New().String(),
		feature:  opts.Feature,
		url:      opts.URL,
		sink:     opts.Sink,
		clock:    opts.Clock,
		loop:     l,
		sched:    loop.NewClockScheduler(opts.Clock, l),
		mgr:      conn.NewManager(opts.Dialer, opts.Monitor, opts.Clock, opts.Conn),
		finished: make(chan struct{}),
	}
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

// Scheduler returns the timer source whose callbacks run on the loop.
func (s *Session) Scheduler() loop.Scheduler { return s.sched }

// State returns the connection state.
func (s *Session) State() conn.State { return s.mgr.State() }

// LastHeartbeat returns the time of the last heartbeat sent.
func (s *Session) LastHeartbeat() time.Time { return s.mgr.LastHeartbeat() }

// Send encodes msg and queues it. Intents are fire-and-forget: false means
// the frame was dropped because the socket is not open.
func (s *Session) Send(msg protocol.Message) bool {
	data, err := protocol.Encode(msg)
	if err != nil {
		log.Error().
			Err(err).
			Str("session_id", s.id).
			Str("message_type", string(msg.Type())).
			Msg("failed to encode message")
		return false
	}
	if !s.mgr.Send(data) {
		log.Debug().
			Str("session_id", s.id).
			Str("message_type", string(msg.Type())).
			Msg("socket not open, intent dropped")
		return false
	}
	return true
}

// GoOffline forwards an explicit offline signal to the connection.
func (s *Session) GoOffline() { s.mgr.GoOffline() }

// Do runs fn on the loop and waits for its result. It must not be called
// from the loop itself.
func (s *Session) Do(ctx context.Context, fn func() error) error {
	return s.loop.Do(ctx, fn)
}

// Run dials the socket and drives h until ctx is cancelled or Close is
// called. A session runs at most once.
func (s *Session) Run(ctx context.Context, h Handler) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.started {
		s.mu.Unlock()
		return ErrSessionUsed
	}
	s.started = true
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()
	defer close(s.finished)
	defer cancel()

	if err := s.mgr.Connect(ctx, s.url); err != nil {
		s.loop.Stop()
		return fmt.Errorf("connect %s: %w", s.url, err)
	}

	log.Info().
		Str("session_id", s.id).
		Str("feature", s.feature).
		Str("connection_id", s.mgr.ID()).
		Str("url", s.url).
		Msg("session started")

	pumped := make(chan struct{})
	go func() {
		defer close(pumped)
		s.pump(ctx, h)
	}()

	s.loop.Run(ctx)

	// The loop has stopped, so nothing else touches h from here on.
	h.Teardown()
	_ = s.mgr.Close()
	<-pumped

	log.Info().Str("session_id", s.id).Str("feature", s.feature).Msg("session closed")
	return nil
}

// Close tears the session down without raising the stale signal and waits
// for Run to return. Safe to call more than once, never from the loop.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		started := s.started
		cancel := s.cancel
		s.mu.Unlock()

		if !started {
			s.loop.Stop()
			_ = s.mgr.Close()
			return
		}
		if cancel != nil {
			cancel()
		}
		<-s.finished
	})
	return nil
}

// pump moves connection events onto the loop in the order they arrived.
func (s *Session) pump(ctx context.Context, h Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.mgr.Done():
			return
		case ev := <-s.mgr.Events():
			if !s.loop.Post(func() { s.dispatch(h, ev) }) {
				return
			}
		}
	}
}

func (s *Session) dispatch(h Handler, ev conn.Event) {
	switch e := ev.(type) {
	case conn.Opened:
		h.OnOpen()
	case conn.Frame:
		msg, err := protocol.Decode(e.Data)
		if err != nil {
			log.Debug().
				Err(err).
				Str("session_id", s.id).
				Int("size", len(e.Data)).
				Msg("dropping inbound frame")
			return
		}
		if msg.Type() == protocol.TypePong {
			return
		}
		h.Handle(msg)
	case conn.Failed:
		log.Debug().Err(e.Err).Str("session_id", s.id).Msg("connect failed, staying in CONNECTING")
	case conn.Stale:
		h.OnStale(e.Reason)
		s.sink.Notify(notify.Notice{
			Feature:  s.feature,
			Kind:     notify.KindConnectionLost,
			Severity: notify.SeverityError,
			Message:  notify.MsgConnectionLost,
			Blocking: true,
			At:       s.clock.Now(),
		})
	}
}
