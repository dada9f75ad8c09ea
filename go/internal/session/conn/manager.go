// Package conn owns one socket's lifecycle: dialing, the application
// heartbeat, close detection and the one-shot stale-session signal.
package conn

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ErrAlreadyConnected is returned when Connect is called twice on a Manager.
var ErrAlreadyConnected = errors.New("connection manager already started")

// State is the socket state as the application sees it.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	default:
		return "CLOSED"
	}
}

// StaleReason says why a confirmed session went stale.
type StaleReason string

const (
	ReasonClosed  StaleReason = "closed"
	ReasonOffline StaleReason = "offline"
)

// Event is emitted on the manager's event channel, in order.
type Event interface{ isConnEvent() }

// Opened fires once the socket is confirmed open.
type Opened struct{}

// Frame carries one inbound frame.
type Frame struct {
	Data []byte
}

// Failed reports a dial failure. The manager stays CONNECTING.
type Failed struct {
	Err error
}

// Stale fires at most once per manager, after a confirmed-open session was
// lost for any reason other than Close.
type Stale struct {
	Reason StaleReason
	Err    error
}

func (Opened) isConnEvent() {}
func (Frame) isConnEvent()  {}
func (Failed) isConnEvent() {}
func (Stale) isConnEvent()  {}

// Config holds connection configuration.
type Config struct {
	// HeartbeatInterval is the period of the application-level ping.
	HeartbeatInterval time.Duration
	// Heartbeat is the frame sent on every heartbeat tick.
	Heartbeat []byte
	// OfflinePollInterval enables a periodic network check; zero disables it.
	OfflinePollInterval time.Duration
	SendBuffer          int
	EventBuffer         int
}

// DefaultConfig returns defaults for the given heartbeat frame.
func DefaultConfig(heartbeat []byte) Config {
	return Config{
		HeartbeatInterval:   30 * time.Second,
		Heartbeat:           heartbeat,
		OfflinePollInterval: 0,
		SendBuffer:          64,
		EventBuffer:         64,
	}
}

// Manager owns exactly one socket.
type Manager struct {
	id      string
	dialer  Dialer
	monitor NetworkMonitor
	clock   clockwork.Clock
	config  Config

	mu         sync.Mutex
	started    bool
	state      State
	confirmed  bool
	stale      bool
	detached   bool
	transport  Transport
	cancelDial context.CancelFunc
	lastBeat   time.Time

	send      chan []byte
	events    chan Event
	offlineCh chan struct{}

	stop      chan struct{}
	stopOnce  sync.Once
	closed    chan struct{}
	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
	tclose    sync.Once
}

// NewManager creates a manager. A nil monitor means always online; a nil
// clock means the real clock.
func NewManager(dialer Dialer, monitor NetworkMonitor, clock clockwork.Clock, config Config) *Manager {
	if monitor == nil {
		monitor = AlwaysOnline{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if config.SendBuffer <= 0 {
		config.SendBuffer = 64
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = 64
	}
	return &Manager{
		id:        uuid.New().String()[:8],
		dialer:    dialer,
		monitor:   monitor,
		clock:     clock,
		config:    config,
		state:     StateConnecting,
		send:      make(chan []byte, config.SendBuffer),
		events:    make(chan Event, config.EventBuffer),
		offlineCh: make(chan struct{}, 1),
		stop:      make(chan struct{}),
		closed:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// ID identifies the connection in logs.
func (m *Manager) ID() string { return m.id }

// Events delivers Opened, Frame, Failed and Stale in order.
func (m *Manager) Events() <-chan Event { return m.events }

// Done is closed after Close once every goroutine of the manager exited.
func (m *Manager) Done() <-chan struct{} { return m.done }

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect starts dialing url. Transport failures never come back as errors;
// they are reported as events.
func (m *Manager) Connect(ctx context.Context, url string) error {
	m.mu.Lock()
	if m.started || m.detached {
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	m.started = true
	dialCtx, cancel := context.WithCancel(ctx)
	m.cancelDial = cancel
	m.mu.Unlock()

	m.wg.Add(2)
	go m.dial(dialCtx, url)
	go m.watchNetwork()
	return nil
}

func (m *Manager) dial(ctx context.Context, url string) {
	defer m.wg.Done()

	t, err := m.dialer.Dial(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Warn().
			Err(err).
			Str("connection_id", m.id).
			Str("url", url).
			Msg("failed to open socket")
		m.emit(Failed{Err: err})
		return
	}

	m.mu.Lock()
	if m.detached {
		m.mu.Unlock()
		_ = t.Close()
		return
	}
	m.transport = t
	m.state = StateOpen
	m.confirmed = true
	m.mu.Unlock()

	log.Info().
		Str("connection_id", m.id).
		Str("url", url).
		Msg("socket opened")
	m.emit(Opened{})

	m.wg.Add(2)
	go m.writePump(t)
	go m.readPump(t)
}

// LastHeartbeat returns when the last heartbeat was written, zero before the first.
func (m *Manager) LastHeartbeat() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastBeat
}

// Send queues a frame. Frames are dropped unless the socket is OPEN.
func (m *Manager) Send(data []byte) bool {
	m.mu.Lock()
	open := m.state == StateOpen
	m.mu.Unlock()
	if !open {
		return false
	}

	select {
	case m.send <- data:
		return true
	case <-m.stop:
		return false
	default:
		log.Warn().Str("connection_id", m.id).Msg("send buffer full, dropping frame")
		return false
	}
}

// GoOffline reports an explicit offline signal from the host environment.
func (m *Manager) GoOffline() {
	select {
	case m.offlineCh <- struct{}{}:
	default:
	}
}

// Close is the clean unmount: handlers are detached, the socket is closed
// and no stale signal is raised. It waits for the manager's goroutines and
// is safe to call repeatedly.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.detached = true
		m.state = StateClosed
		t := m.transport
		cancel := m.cancelDial
		m.mu.Unlock()

		close(m.closed)
		m.halt()
		if cancel != nil {
			cancel()
		}
		if t != nil {
			m.closeTransport(t)
		}

		m.wg.Wait()
		close(m.done)
		log.Debug().Str("connection_id", m.id).Msg("connection manager closed")
	})
	return nil
}

// lost handles every close that is not a clean unmount.
func (m *Manager) lost(reason StaleReason, err error) {
	m.mu.Lock()
	if m.detached || !m.confirmed {
		m.mu.Unlock()
		return
	}
	m.state = StateClosed
	raise := !m.stale
	m.stale = true
	t := m.transport
	m.mu.Unlock()

	m.halt()
	if t != nil {
		m.closeTransport(t)
	}
	if !raise {
		return
	}

	log.Warn().
		Err(err).
		Str("connection_id", m.id).
		Str("reason", string(reason)).
		Msg("session went stale")
	m.emit(Stale{Reason: reason, Err: err})
}

func (m *Manager) halt() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Manager) closeTransport(t Transport) {
	m.tclose.Do(func() {
		if err := t.Close(); err != nil {
			log.Debug().Err(err).Str("connection_id", m.id).Msg("close transport")
		}
	})
}

func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	case <-m.closed:
	}
}

// writePump sends queued frames and the heartbeat.
func (m *Manager) writePump(t Transport) {
	ticker := m.clock.NewTicker(m.config.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		m.wg.Done()
	}()

	for {
		select {
		case <-m.stop:
			return
		case data := <-m.send:
			if err := t.WriteMessage(data); err != nil {
				log.Error().Err(err).Str("connection_id", m.id).Msg("failed to write frame")
				m.lost(ReasonClosed, err)
				return
			}
		case <-ticker.Chan():
			if len(m.config.Heartbeat) == 0 {
				continue
			}
			if err := t.WriteMessage(m.config.Heartbeat); err != nil {
				log.Error().Err(err).Str("connection_id", m.id).Msg("failed to send heartbeat")
				m.lost(ReasonClosed, err)
				return
			}
			m.mu.Lock()
			m.lastBeat = m.clock.Now()
			m.mu.Unlock()
		}
	}
}

// readPump forwards inbound frames until the socket closes.
func (m *Manager) readPump(t Transport) {
	defer m.wg.Done()

	for {
		data, err := t.ReadMessage()
		if err != nil {
			if IsNormalClose(err) {
				log.Info().Str("connection_id", m.id).Msg("socket closed by server")
			}
			m.lost(ReasonClosed, err)
			return
		}
		select {
		case m.events <- Frame{Data: data}:
		case <-m.closed:
			return
		}
	}
}

// watchNetwork raises the stale signal on an explicit offline event or when
// the periodic check finds the network gone.
func (m *Manager) watchNetwork() {
	defer m.wg.Done()

	var tick <-chan time.Time
	if m.config.OfflinePollInterval > 0 {
		ticker := m.clock.NewTicker(m.config.OfflinePollInterval)
		defer ticker.Stop()
		tick = ticker.Chan()
	}

	for {
		select {
		case <-m.stop:
			return
		case <-m.offlineCh:
			m.lost(ReasonOffline, nil)
		case <-tick:
			if !m.monitor.Online() {
				log.Debug().Str("connection_id", m.id).Msg("periodic check: offline detected")
				m.lost(ReasonOffline, nil)
			}
		}
	}
}
