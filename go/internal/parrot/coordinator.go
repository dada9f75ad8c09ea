// Package parrot coordinates remote sound playback: a GENERAL peer asks for
// a playback window and every PARROT peer plays it, reporting progress back.
package parrot

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/devyyj/joyopi/go/internal/session/conn"
	"github.com/devyyj/joyopi/go/internal/session/loop"
	"github.com/devyyj/joyopi/go/internal/session/membership"
	"github.com/devyyj/joyopi/go/internal/session/notify"
	"github.com/devyyj/joyopi/go/internal/session/protocol"
	"github.com/devyyj/joyopi/go/internal/session/reconcile"
)

const (
	feature = "parrot"

	MinCount    = 1
	MaxCount    = 100
	MinDuration = 1
	MaxDuration = 360

	tick = time.Second
)

var (
	ErrInvalidRole        = errors.New("role must be GENERAL or PARROT")
	ErrInvalidMode        = errors.New("mode must be COUNT or DURATION")
	ErrInvalidCount       = fmt.Errorf("count must be between %d and %d", MinCount, MaxCount)
	ErrInvalidDuration    = fmt.Errorf("duration must be between %d and %d minutes", MinDuration, MaxDuration)
	ErrTriggerDisabled    = errors.New("a parrot cannot request playback")
	ErrActivityInProgress = errors.New("playback already in progress")
	ErrNotPlaying         = errors.New("nothing is playing")
	ErrNotConnected       = errors.New("not connected")
)

// Status is the playback state.
type Status string

const (
	StatusIdle    Status = "IDLE"
	StatusPlaying Status = "PLAYING"
)

// Label is the text shown for the status.
func (s Status) Label() string {
	if s == StatusPlaying {
		return "재생 중"
	}
	return "대기 중"
}

// Sender queues an outbound intent and reports whether it was accepted.
type Sender interface {
	Send(msg protocol.Message) bool
}

// Config holds the coordinator's local preferences.
type Config struct {
	Role      protocol.Role
	SoundFile string
}

// Coordinator is the playback state machine. It is owned by the session
// loop and must not be called from any other goroutine.
type Coordinator struct {
	send   Sender
	sched  loop.Scheduler
	player Player
	sink   notify.Sink

	role      protocol.Role
	soundFile string
	members   *membership.Store

	status reconcile.Value[Status]
	mode   protocol.PlaybackMode

	// remaining units of the current window; seconds in DURATION mode
	remaining    int
	hasRemaining bool

	total  int
	played int

	ticker loop.Slot
	gen    int

	// stopped is set by STOP_SOUND and cleared by the next TRIGGER_SOUND.
	// Progress relayed in between belongs to the closed window.
	stopped bool
}

// NewCoordinator wires a coordinator to its collaborators.
func NewCoordinator(cfg Config, send Sender, sched loop.Scheduler, player Player, sink notify.Sink) *Coordinator {
	if cfg.Role == "" {
		cfg.Role = protocol.RoleGeneral
	}
	if cfg.SoundFile == "" {
		cfg.SoundFile = "footsteps.mp3"
	}
	if sink == nil {
		sink = notify.LogSink{}
	}
	return &Coordinator{
		send:      send,
		sched:     sched,
		player:    player,
		sink:      sink,
		role:      cfg.Role,
		soundFile: cfg.SoundFile,
		members:   membership.NewStore(),
	}
}

// OnOpen announces the local role.
func (c *Coordinator) OnOpen() {
	c.send.Send(protocol.Join{Role: c.role})
}

// SetRole changes the local role and re-announces it. A playback window in
// progress is left alone.
func (c *Coordinator) SetRole(role protocol.Role) error {
	if role != protocol.RoleGeneral && role != protocol.RoleParrot {
		return ErrInvalidRole
	}
	c.role = role
	c.send.Send(protocol.Join{Role: role})
	log.Info().Str("role", string(role)).Msg("role changed")
	return nil
}

// Role returns the local role.
func (c *Coordinator) Role() protocol.Role { return c.role }

// RequestTrigger asks every parrot to play. amount is a repeat count in
// COUNT mode and minutes in DURATION mode.
func (c *Coordinator) RequestTrigger(mode protocol.PlaybackMode, amount int) error {
	if c.role == protocol.RoleParrot {
		return ErrTriggerDisabled
	}
	msg := protocol.TriggerSound{Mode: mode, SoundFile: c.soundFile}
	switch mode {
	case protocol.ModeCount:
		if amount < MinCount || amount > MaxCount {
			return ErrInvalidCount
		}
		msg.Count = amount
	case protocol.ModeDuration:
		if amount < MinDuration || amount > MaxDuration {
			return ErrInvalidDuration
		}
		msg.Duration = amount
	default:
		return ErrInvalidMode
	}
	if c.Playing() {
		return ErrActivityInProgress
	}
	if !c.send.Send(msg) {
		return ErrNotConnected
	}
	return nil
}

// RequestStop asks everyone to stop. A parrot may only stop while playing,
// and silences itself right away instead of waiting for the echo.
func (c *Coordinator) RequestStop() error {
	if c.role == protocol.RoleParrot && !c.Playing() {
		return ErrNotPlaying
	}
	sent := c.send.Send(protocol.StopSound{})
	if c.role == protocol.RoleParrot {
		c.halt()
		c.status.Propose(StatusIdle)
	}
	if !sent {
		return ErrNotConnected
	}
	return nil
}

// Handle applies one inbound message.
func (c *Coordinator) Handle(msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.Welcome:
		c.members.SetSelf(m.SessionID)
		log.Info().Str("participant_id", m.SessionID).Msg("welcomed")
	case protocol.UserList:
		c.onUserList(m)
	case protocol.TriggerSound:
		c.stopped = false
		if c.role == protocol.RoleParrot {
			c.startPlayback(m)
		} else {
			c.startMonitoring(m)
		}
	case protocol.StopSound:
		c.stopped = true
		c.halt()
		if !c.status.Confirm(StatusIdle) {
			log.Debug().Msg("stop confirmed")
		}
	case protocol.ProgressUpdate:
		c.onProgress(m)
	case protocol.Error:
		c.notice(notify.KindServerError, notify.SeverityError, m.Message)
	default:
		log.Debug().Str("message_type", string(msg.Type())).Msg("ignoring message")
	}
}

// OnStale drops the playback window: without a connection it can no longer
// be coordinated.
func (c *Coordinator) OnStale(reason conn.StaleReason) {
	c.halt()
	c.status.Reset()
}

// Teardown releases the timers and the player.
func (c *Coordinator) Teardown() {
	c.halt()
}

// Playing reports whether a playback window is active.
func (c *Coordinator) Playing() bool { return c.status.Is(StatusPlaying) }

func (c *Coordinator) onUserList(m protocol.UserList) {
	next := make([]membership.Participant, 0, len(m.Users))
	for _, u := range m.Users {
		next = append(next, membership.Participant{
			ID:         u.ID,
			Label:      shortID(u.ID),
			Privileged: u.Role == protocol.RoleParrot,
		})
	}
	d := c.members.Replace(next)
	switch {
	case d.Joined:
		c.notice(notify.KindJoined, notify.SeverityInfo, notify.MsgJoined)
	case d.Left:
		c.notice(notify.KindLeft, notify.SeverityInfo, notify.MsgLeft)
	}
}

// startPlayback runs the window on the executing peer.
func (c *Coordinator) startPlayback(m protocol.TriggerSound) {
	c.halt()
	gen := c.gen
	c.status.Confirm(StatusPlaying)
	c.mode = m.Mode

	log.Info().
		Str("mode", string(m.Mode)).
		Int("count", m.Count).
		Int("duration", m.Duration).
		Msg("playback started")

	switch m.Mode {
	case protocol.ModeCount:
		c.total = m.Count
		c.played = 0
		c.playCycle(gen)
	default:
		c.remaining = m.Duration * 60
		c.hasRemaining = true
		c.ticker.Replace(c.sched.Every(tick, c.tickPlayback))
		c.loopSound(gen)
	}
}

// playCycle starts the next COUNT cycle. Progress goes out when a cycle
// starts so monitors are in sync while it plays.
func (c *Coordinator) playCycle(gen int) {
	if gen != c.gen {
		return
	}
	if c.played >= c.total {
		c.finish()
		return
	}
	c.played++
	c.remaining = c.total - c.played
	c.hasRemaining = true
	c.send.Send(protocol.CountProgress(c.remaining))
	c.player.Play(func() { c.playCycle(gen) })
}

func (c *Coordinator) loopSound(gen int) {
	if gen != c.gen {
		return
	}
	c.player.Play(func() { c.loopSound(gen) })
}

func (c *Coordinator) tickPlayback() {
	prev := minutes(c.remaining)
	c.remaining--
	if c.remaining <= 0 {
		c.finish()
		return
	}
	if cur := minutes(c.remaining); cur != prev {
		c.send.Send(protocol.DurationProgress(cur))
	}
}

// finish ends the window on the executing peer's own authority.
func (c *Coordinator) finish() {
	c.send.Send(protocol.StopSound{})
	c.halt()
	c.status.Propose(StatusIdle)
	log.Info().Msg("playback finished")
}

// startMonitoring shows the window on a peer that does not play.
func (c *Coordinator) startMonitoring(m protocol.TriggerSound) {
	c.halt()
	c.status.Confirm(StatusPlaying)
	c.mode = m.Mode
	c.hasRemaining = true

	switch m.Mode {
	case protocol.ModeCount:
		// One cycle is assumed to have started. Further decrements come
		// from the executing peer only.
		c.remaining = max(m.Count-1, 0)
	default:
		c.remaining = m.Duration * 60
		c.ticker.Replace(c.sched.Every(tick, c.tickMonitor))
	}
}

func (c *Coordinator) tickMonitor() {
	c.remaining--
	if c.remaining <= 0 {
		c.halt()
		c.status.Propose(StatusIdle)
	}
}

func (c *Coordinator) onProgress(m protocol.ProgressUpdate) {
	if c.role == protocol.RoleParrot {
		return
	}
	if c.stopped {
		log.Debug().Msg("progress after stop, ignoring")
		return
	}
	if !c.Playing() {
		c.status.Confirm(StatusPlaying)
	}

	switch {
	case m.RemainingCount != nil:
		c.mode = protocol.ModeCount
		c.remaining = max(*m.RemainingCount, 0)
		c.hasRemaining = true
	case m.RemainingDuration != nil:
		reported := max(*m.RemainingDuration, 0)
		if c.mode != protocol.ModeDuration || !c.ticker.Active() {
			c.mode = protocol.ModeDuration
			c.remaining = reported * 60
			c.ticker.Replace(c.sched.Every(tick, c.tickMonitor))
		} else if minutes(c.remaining) != reported {
			log.Debug().
				Int("local_seconds", c.remaining).
				Int("reported_minutes", reported).
				Msg("resyncing countdown")
			c.remaining = reported * 60
		}
		c.hasRemaining = true
	}
}

// halt stops every timer and the player. Callbacks of the window that was
// running are ignored from here on.
func (c *Coordinator) halt() {
	c.gen++
	c.ticker.Stop()
	c.player.Stop()
	c.hasRemaining = false
	c.remaining = 0
}

func (c *Coordinator) notice(kind notify.Kind, sev notify.Severity, msg string) {
	c.sink.Notify(notify.Notice{
		Feature:  feature,
		Kind:     kind,
		Severity: sev,
		Message:  msg,
		At:       c.sched.Now(),
	})
}

// Snapshot is the coordinator state as observers see it.
type Snapshot struct {
	Role         protocol.Role            `json:"role"`
	SelfID       string                   `json:"selfId,omitempty"`
	Status       Status                   `json:"status"`
	StatusLabel  string                   `json:"statusLabel"`
	Provisional  bool                     `json:"provisional"`
	Mode         protocol.PlaybackMode    `json:"mode,omitempty"`
	Remaining    string                   `json:"remaining,omitempty"`
	Participants []membership.Participant `json:"participants"`
}

// Snapshot returns the current state.
func (c *Coordinator) Snapshot() Snapshot {
	status := StatusIdle
	if c.Playing() {
		status = StatusPlaying
	}
	s := Snapshot{
		Role:         c.role,
		SelfID:       c.members.SelfID(),
		Status:       status,
		StatusLabel:  status.Label(),
		Provisional:  c.status.Provisional(),
		Participants: c.members.Participants(),
	}
	if status == StatusPlaying {
		s.Mode = c.mode
		s.Remaining = c.remainingLabel()
	}
	return s
}

func (c *Coordinator) remainingLabel() string {
	if !c.hasRemaining {
		return ""
	}
	if c.mode == protocol.ModeCount {
		return fmt.Sprintf("%d회 남음", c.remaining)
	}
	return fmt.Sprintf("%d분 남음", minutes(c.remaining))
}

// minutes rounds seconds up to whole minutes.
func minutes(seconds int) int {
	if seconds <= 0 {
		return 0
	}
	return (seconds + 59) / 60
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
