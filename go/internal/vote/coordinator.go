// Package vote runs turn-based anonymous voting rooms. The turn holder opens
// a round, every participant may vote once while the local countdown runs,
// and the server publishes the tally.
package vote

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/devyyj/joyopi/go/internal/session/conn"
	"github.com/devyyj/joyopi/go/internal/session/loop"
	"github.com/devyyj/joyopi/go/internal/session/membership"
	"github.com/devyyj/joyopi/go/internal/session/notify"
	"github.com/devyyj/joyopi/go/internal/session/protocol"
	"github.com/devyyj/joyopi/go/internal/session/reconcile"
	"github.com/devyyj/joyopi/go/internal/session/sharelink"
)

const (
	feature = "vote"

	// VoteYes is the only value a participant can cast.
	VoteYes = "YES"

	tick = time.Second
)

var (
	ErrInvalidRoomCode = errors.New("room code must be 4 digits")
	ErrAlreadyInRoom   = errors.New("already in a room")
	ErrNotInRoom       = errors.New("not in a room")
	ErrNotTurnHolder   = errors.New("not your turn")
	ErrVoteInProgress  = errors.New("a vote is already in progress")
	ErrNoActiveVote    = errors.New("no vote in progress")
	ErrAlreadyVoted    = errors.New("already voted this round")
	ErrNotConnected    = errors.New("not connected")
)

// Phase is the round state.
type Phase string

const (
	PhaseNoActivity   Phase = "NO_ACTIVITY"
	PhaseCountingDown Phase = "COUNTING_DOWN"
)

// Sender queues an outbound intent and reports whether it was accepted.
type Sender interface {
	Send(msg protocol.Message) bool
}

// Coordinator is the turn-vote state machine. It is owned by the session
// loop and must not be called from any other goroutine.
type Coordinator struct {
	send  Sender
	sched loop.Scheduler
	sink  notify.Sink
	alert *notify.Alerter
	link  *sharelink.Link

	members   *membership.Store
	roomCount int
	roomCode  string
	inRoom    bool

	phase      Phase
	countdown  int
	timer      loop.Slot
	finishSent bool

	voted   reconcile.Value[bool]
	tally   int
	results protocol.Results
}

// NewCoordinator wires a coordinator. alert may be nil, in which case the
// turn notice only goes to sink. A nil link starts room-less.
func NewCoordinator(send Sender, sched loop.Scheduler, sink notify.Sink, alert *notify.Alerter, link *sharelink.Link) *Coordinator {
	if sink == nil {
		sink = notify.LogSink{}
	}
	if link == nil {
		link = &sharelink.Link{}
	}
	return &Coordinator{
		send:    send,
		sched:   sched,
		sink:    sink,
		alert:   alert,
		link:    link,
		members: membership.NewStore(),
		phase:   PhaseNoActivity,
	}
}

// OnOpen asks for the room count and rejoins the room the link points at.
func (c *Coordinator) OnOpen() {
	c.send.Send(protocol.GetRoomCount{})
	if code := c.link.Code(); code != "" {
		log.Info().Str("room_code", code).Msg("joining room from link")
		c.send.Send(protocol.JoinRoom{RoomCode: code})
	}
}

// RequestRoomCount refreshes the number of active rooms.
func (c *Coordinator) RequestRoomCount() error {
	return c.sendIntent(protocol.GetRoomCount{})
}

// CreateRoom asks for a new room.
func (c *Coordinator) CreateRoom() error {
	if c.inRoom {
		return ErrAlreadyInRoom
	}
	return c.sendIntent(protocol.CreateRoom{})
}

// JoinRoom joins an existing room by code.
func (c *Coordinator) JoinRoom(code string) error {
	if !sharelink.ValidCode(code) {
		return ErrInvalidRoomCode
	}
	if c.inRoom {
		return ErrAlreadyInRoom
	}
	return c.sendIntent(protocol.JoinRoom{RoomCode: code})
}

// LeaveRoom leaves the room and resets local state right away.
func (c *Coordinator) LeaveRoom() error {
	if !c.inRoom {
		return ErrNotInRoom
	}
	c.send.Send(protocol.LeaveRoom{})
	c.Reset()
	return nil
}

// StartVote opens a round. Only the turn holder may do so.
func (c *Coordinator) StartVote() error {
	if !c.inRoom {
		return ErrNotInRoom
	}
	if !c.myTurn() {
		return ErrNotTurnHolder
	}
	if c.phase == PhaseCountingDown {
		return ErrVoteInProgress
	}
	return c.sendIntent(protocol.StartVote{})
}

// SubmitVote casts the local vote, at most once per round.
func (c *Coordinator) SubmitVote() error {
	if !c.inRoom {
		return ErrNotInRoom
	}
	if c.phase != PhaseCountingDown {
		return ErrNoActiveVote
	}
	if c.voted.Is(true) {
		return ErrAlreadyVoted
	}
	c.voted.Propose(true)
	return c.sendIntent(protocol.SubmitVote{Value: VoteYes})
}

// SkipTurn passes the turn on. A host that does not hold the turn forces
// the skip, which is announced with a warning.
func (c *Coordinator) SkipTurn() error {
	if !c.inRoom {
		return ErrNotInRoom
	}
	self, _ := c.members.Self()
	if !self.Privileged && !self.IsHost {
		return ErrNotTurnHolder
	}
	if self.IsHost && !self.Privileged {
		c.notice(notify.KindForcedSkip, notify.SeverityWarning, notify.MsgForcedSkip)
	}
	return c.sendIntent(protocol.SkipTurn{})
}

// Reset clears the room and the round and points the link back at no room.
func (c *Coordinator) Reset() {
	c.timer.Stop()
	c.phase = PhaseNoActivity
	c.countdown = 0
	c.finishSent = false
	c.voted.Reset()
	c.tally = 0
	c.results = nil

	c.members.Reset()
	c.roomCode = ""
	c.inRoom = false
	c.link.Clear()
	log.Debug().Msg("room state reset")
}

// Handle applies one inbound message.
func (c *Coordinator) Handle(msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.RoomCount:
		c.roomCount = m.Count
	case protocol.RoomCreated:
		c.enter(m.RoomCode, m.MyUserID)
	case protocol.JoinSuccess:
		c.enter(m.RoomCode, m.MyUserID)
	case protocol.RoomInfo:
		c.onRoomInfo(m)
	case protocol.VoteStarted, protocol.VoteSubmitted, protocol.VoteFinished:
		if !c.inRoom {
			log.Debug().Str("message_type", string(msg.Type())).Msg("round message outside a room, ignoring")
			return
		}
		c.onRound(m)
	case protocol.Error:
		c.notice(notify.KindServerError, notify.SeverityError, m.Message)
	default:
		log.Debug().Str("message_type", string(msg.Type())).Msg("ignoring message")
	}
}

func (c *Coordinator) onRound(msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.VoteStarted:
		c.onVoteStarted(m)
	case protocol.VoteSubmitted:
		c.tally = m.CurrentVotes
	case protocol.VoteFinished:
		c.timer.Stop()
		c.phase = PhaseNoActivity
		c.countdown = 0
		c.results = m.Results
		if v, ok := c.voted.Get(); ok {
			c.voted.Confirm(v)
		}
		log.Info().Int("yes", m.Results.Yes()).Msg("vote finished")
	}
}

// OnStale leaves the room when the network went away. A closed socket only
// stops the countdown: nothing could be sent when it ends.
func (c *Coordinator) OnStale(reason conn.StaleReason) {
	if reason == conn.ReasonOffline && c.inRoom {
		c.notice(notify.KindOfflineLeft, notify.SeverityWarning, notify.MsgOfflineLeft)
		c.Reset()
		return
	}
	c.timer.Stop()
}

// Teardown stops the countdown.
func (c *Coordinator) Teardown() {
	c.timer.Stop()
}

func (c *Coordinator) enter(code, myID string) {
	c.inRoom = true
	c.roomCode = code
	c.members.SetSelf(myID)
	c.link.Set(code)
	log.Info().
		Str("room_code", code).
		Str("participant_id", myID).
		Msg("entered room")
}

func (c *Coordinator) onRoomInfo(m protocol.RoomInfo) {
	if !c.inRoom {
		log.Debug().Msg("room info outside a room, ignoring")
		return
	}

	next := make([]membership.Participant, 0, len(m.Users))
	holders := 0
	for _, u := range m.Users {
		if u.IsCurrentTurn {
			holders++
		}
		next = append(next, membership.Participant{
			ID:         u.ID,
			Label:      u.Nickname,
			IsHost:     u.IsHost,
			Privileged: u.IsCurrentTurn,
		})
	}
	if holders > 1 {
		log.Warn().Int("turn_holders", holders).Msg("room info lists more than one turn holder")
	}

	d := c.members.Replace(next)
	if d.First {
		return
	}
	switch {
	case d.Joined:
		c.notice(notify.KindJoined, notify.SeverityInfo, notify.MsgJoined)
	case d.Left:
		c.notice(notify.KindLeft, notify.SeverityInfo, notify.MsgLeft)
	}
	if d.PrivilegeGained {
		n := c.newNotice(notify.KindYourTurn, notify.SeveritySuccess, notify.MsgYourTurn)
		if c.alert != nil {
			c.alert.Alert(n, notify.MsgYourTurnOS)
		} else {
			c.sink.Notify(n)
		}
	}
}

func (c *Coordinator) onVoteStarted(m protocol.VoteStarted) {
	c.phase = PhaseCountingDown
	c.countdown = m.Duration
	c.finishSent = false
	c.voted.Reset()
	c.tally = 0
	c.results = nil
	c.timer.Replace(c.sched.Every(tick, c.tick))
	log.Info().Int("duration", m.Duration).Msg("vote started")
}

func (c *Coordinator) tick() {
	c.countdown--
	if c.countdown > 0 {
		return
	}
	c.countdown = 0
	c.timer.Stop()
	if !c.finishSent {
		c.finishSent = true
		c.send.Send(protocol.FinishVote{})
		log.Debug().Msg("countdown elapsed, finish sent")
	}
}

func (c *Coordinator) myTurn() bool {
	self, ok := c.members.Self()
	return ok && self.Privileged
}

func (c *Coordinator) sendIntent(msg protocol.Message) error {
	if !c.send.Send(msg) {
		return ErrNotConnected
	}
	return nil
}

func (c *Coordinator) newNotice(kind notify.Kind, sev notify.Severity, msg string) notify.Notice {
	return notify.Notice{
		Feature:  feature,
		Kind:     kind,
		Severity: sev,
		Message:  msg,
		At:       c.sched.Now(),
	}
}

func (c *Coordinator) notice(kind notify.Kind, sev notify.Severity, msg string) {
	c.sink.Notify(c.newNotice(kind, sev, msg))
}
