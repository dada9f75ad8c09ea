package vote

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devyyj/joyopi/go/internal/session/conn"
	"github.com/devyyj/joyopi/go/internal/session/loop/looptest"
	"github.com/devyyj/joyopi/go/internal/session/notify"
	"github.com/devyyj/joyopi/go/internal/session/protocol"
	"github.com/devyyj/joyopi/go/internal/session/sharelink"
)

type sentLog struct {
	msgs    []protocol.Message
	offline bool
}

func (s *sentLog) Send(m protocol.Message) bool {
	if s.offline {
		return false
	}
	s.msgs = append(s.msgs, m)
	return true
}

func (s *sentLog) count(t protocol.MessageType) int {
	n := 0
	for _, m := range s.msgs {
		if m.Type() == t {
			n++
		}
	}
	return n
}

type noticeLog []notify.Notice

func (n *noticeLog) Notify(x notify.Notice) { *n = append(*n, x) }

func (n *noticeLog) kinds() []notify.Kind {
	out := make([]notify.Kind, 0, len(*n))
	for _, x := range *n {
		out = append(out, x.Kind)
	}
	return out
}

type fakeDesktop struct {
	permission notify.Permission
	shown      []string
}

func (d *fakeDesktop) Permission() notify.Permission { return d.permission }
func (d *fakeDesktop) RequestPermission()            {}
func (d *fakeDesktop) Show(title, body string) error {
	d.shown = append(d.shown, body)
	return nil
}

type fixture struct {
	c       *Coordinator
	sent    *sentLog
	sched   *looptest.Scheduler
	notices *noticeLog
	link    *sharelink.Link
	desktop *fakeDesktop
	links   []string
}

func newFixture(t *testing.T, page string) *fixture {
	t.Helper()
	link, err := sharelink.Parse(page)
	require.NoError(t, err)

	f := &fixture{
		sent:    &sentLog{},
		sched:   looptest.New(),
		notices: &noticeLog{},
		link:    link,
		desktop: &fakeDesktop{permission: notify.PermissionGranted},
	}
	link.OnChange(func(s string) { f.links = append(f.links, s) })
	alert := &notify.Alerter{
		Sink:    f.notices,
		Desktop: f.desktop,
		Focus:   notify.FocusFunc(func() bool { return false }),
		Title:   "JOY OPI SECRET VOTE",
	}
	f.c = NewCoordinator(f.sent, f.sched, f.notices, alert, link)
	return f
}

func users(turn string, ids ...string) protocol.RoomInfo {
	info := protocol.RoomInfo{RoomCode: "1234"}
	for i, id := range ids {
		info.Users = append(info.Users, protocol.RoomUser{
			ID:            id,
			Nickname:      "익명" + id,
			IsHost:        i == 0,
			IsCurrentTurn: id == turn,
		})
	}
	return info
}

// inRoom puts the fixture into room 1234 as participant me.
func (f *fixture) inRoom(me, turn string, ids ...string) {
	f.c.Handle(protocol.JoinSuccess{RoomCode: "1234", MyUserID: me})
	f.c.Handle(users(turn, ids...))
	f.sent.msgs = nil
}

func TestCoordinator_OnOpenWithoutCode(t *testing.T) {
	f := newFixture(t, "https://joyopi.example/vote")
	f.c.OnOpen()
	assert.Equal(t, []protocol.Message{protocol.GetRoomCount{}}, f.sent.msgs)
}

func TestCoordinator_OnOpenRejoinsFromLink(t *testing.T) {
	f := newFixture(t, "https://joyopi.example/vote?code=4321")
	f.c.OnOpen()
	assert.Equal(t, []protocol.Message{
		protocol.GetRoomCount{},
		protocol.JoinRoom{RoomCode: "4321"},
	}, f.sent.msgs)
}

func TestCoordinator_JoinSuccessUpdatesLinkAndSelf(t *testing.T) {
	f := newFixture(t, "https://joyopi.example/vote")
	require.NoError(t, f.c.JoinRoom("1234"))
	assert.Equal(t, []protocol.Message{protocol.JoinRoom{RoomCode: "1234"}}, f.sent.msgs)

	f.c.Handle(protocol.JoinSuccess{RoomCode: "1234", MyUserID: "abc"})

	assert.Equal(t, "1234", f.link.Code())
	assert.Equal(t, []string{"https://joyopi.example/vote?code=1234"}, f.links)
	snap := f.c.Snapshot()
	assert.Equal(t, ViewRoom, snap.View)
	assert.Equal(t, "1234", snap.RoomCode)
	assert.Equal(t, "abc", snap.SelfID)

	assert.ErrorIs(t, f.c.JoinRoom("5678"), ErrAlreadyInRoom)
	assert.ErrorIs(t, f.c.CreateRoom(), ErrAlreadyInRoom)
}

func TestCoordinator_JoinRoomRejectsBadCodes(t *testing.T) {
	f := newFixture(t, "https://joyopi.example/vote")
	for _, code := range []string{"", "123", "12345", "12a4", " 123"} {
		assert.ErrorIs(t, f.c.JoinRoom(code), ErrInvalidRoomCode, "code=%q", code)
	}
	assert.Empty(t, f.sent.msgs)
}

func TestCoordinator_RoomCreatedEntersRoom(t *testing.T) {
	f := newFixture(t, "https://joyopi.example/vote")
	require.NoError(t, f.c.CreateRoom())
	f.c.Handle(protocol.RoomCreated{RoomCode: "0042", MyUserID: "host"})
	assert.Equal(t, "0042", f.link.Code())
	assert.Equal(t, "host", f.c.Snapshot().SelfID)
}

func TestCoordinator_RoomCount(t *testing.T) {
	f := newFixture(t, "https://joyopi.example/vote")
	require.NoError(t, f.c.RequestRoomCount())
	f.c.Handle(protocol.RoomCount{Count: 7})
	assert.Equal(t, 7, f.c.Snapshot().RoomCount)

	f.sent.offline = true
	assert.ErrorIs(t, f.c.RequestRoomCount(), ErrNotConnected)
}

func TestCoordinator_CountdownSendsFinishOnce(t *testing.T) {
	f := newFixture(t, "https://joyopi.example/vote")
	f.inRoom("a", "a", "a", "b", "c")

	require.NoError(t, f.c.StartVote())
	assert.Equal(t, []protocol.Message{protocol.StartVote{}}, f.sent.msgs)

	f.c.Handle(protocol.VoteStarted{Duration: 10})
	assert.Equal(t, PhaseCountingDown, f.c.Snapshot().Phase)
	assert.ErrorIs(t, f.c.StartVote(), ErrVoteInProgress)

	f.sched.Advance(9 * time.Second)
	assert.Equal(t, 0, f.sent.count(protocol.TypeFinishVote))
	assert.Equal(t, 1, f.c.Snapshot().Countdown)

	f.sched.Advance(time.Second)
	assert.Equal(t, 1, f.sent.count(protocol.TypeFinishVote))
	assert.Equal(t, 0, f.c.Snapshot().Countdown)
	assert.Equal(t, 0, f.sched.LiveEvery())

	f.sched.Advance(time.Minute)
	assert.Equal(t, 1, f.sent.count(protocol.TypeFinishVote))
}

func TestCoordinator_RestartedRoundReplacesCountdown(t *testing.T) {
	f := newFixture(t, "https://joyopi.example/vote")
	f.inRoom("a", "a", "a", "b")

	f.c.Handle(protocol.VoteStarted{Duration: 10})
	f.sched.Advance(4 * time.Second)
	f.c.Handle(protocol.VoteStarted{Duration: 10})
	assert.Equal(t, 1, f.sched.LiveEvery())

	f.sched.Advance(9 * time.Second)
	assert.Equal(t, 0, f.sent.count(protocol.TypeFinishVote))
	f.sched.Advance(time.Second)
	assert.Equal(t, 1, f.sent.count(protocol.TypeFinishVote))
}

func TestCoordinator_SubmitAtMostOncePerRound(t *testing.T) {
	f := newFixture(t, "https://joyopi.example/vote")
	f.inRoom("b", "a", "a", "b")

	assert.ErrorIs(t, f.c.SubmitVote(), ErrNoActiveVote)

	f.c.Handle(protocol.VoteStarted{Duration: 10})
	require.NoError(t, f.c.SubmitVote())
	assert.ErrorIs(t, f.c.SubmitVote(), ErrAlreadyVoted)
	assert.ErrorIs(t, f.c.SubmitVote(), ErrAlreadyVoted)
	assert.Equal(t, 1, f.sent.count(protocol.TypeSubmitVote))
	assert.Equal(t, protocol.SubmitVote{Value: VoteYes}, f.sent.msgs[0])
	assert.True(t, f.c.Snapshot().Voted)

	f.c.Handle(protocol.VoteSubmitted{CurrentVotes: 1})
	assert.Equal(t, 1, f.c.Snapshot().CurrentVotes)

	f.c.Handle(protocol.VoteStarted{Duration: 10})
	assert.False(t, f.c.Snapshot().Voted)
	assert.Equal(t, 0, f.c.Snapshot().CurrentVotes)
	require.NoError(t, f.c.SubmitVote())
	assert.Equal(t, 2, f.sent.count(protocol.TypeSubmitVote))
}

func TestCoordinator_StartVoteNeedsTurn(t *testing.T) {
	f := newFixture(t, "https://joyopi.example/vote")
	assert.ErrorIs(t, f.c.StartVote(), ErrNotInRoom)

	f.inRoom("b", "a", "a", "b")
	assert.ErrorIs(t, f.c.StartVote(), ErrNotTurnHolder)
	assert.False(t, f.c.Snapshot().CanStart)
	assert.Empty(t, f.sent.msgs)
}

func TestCoordinator_VoteFinishedKeepsResults(t *testing.T) {
	f := newFixture(t, "https://joyopi.example/vote")
	f.inRoom("a", "a", "a", "b", "c")

	f.c.Handle(protocol.VoteStarted{Duration: 10})
	require.NoError(t, f.c.SubmitVote())
	f.sched.Advance(3 * time.Second)
	f.c.Handle(protocol.VoteFinished{Results: protocol.Results{"YES": 2}})

	snap := f.c.Snapshot()
	assert.Equal(t, PhaseNoActivity, snap.Phase)
	assert.Equal(t, 0, f.sched.LiveEvery())
	require.NotNil(t, snap.Results)
	assert.Equal(t, ResultView{Yes: 2, Total: 3}, *snap.Results)
	assert.True(t, snap.CanStart)

	f.c.Handle(protocol.VoteFinished{Results: protocol.Results{"YES": 1, "totalParticipants": 5}})
	assert.Equal(t, 5, f.c.Snapshot().Results.Total)

	f.c.Handle(protocol.VoteStarted{Duration: 10})
	assert.Nil(t, f.c.Snapshot().Results)
}

func TestCoordinator_MembershipNotices(t *testing.T) {
	f := newFixture(t, "https://joyopi.example/vote")
	f.c.Handle(protocol.JoinSuccess{RoomCode: "1234", MyUserID: "b"})

	// First snapshot: no notices, even though it is already my turn.
	f.c.Handle(users("b", "a", "b"))
	assert.Empty(t, *f.notices)

	f.c.Handle(users("b", "a", "b", "c"))
	f.c.Handle(users("a", "a", "b", "c"))
	f.c.Handle(users("a", "a", "b"))
	f.c.Handle(users("b", "a", "b"))
	f.c.Handle(users("b", "a", "b"))

	assert.Equal(t, []notify.Kind{
		notify.KindJoined,
		notify.KindLeft,
		notify.KindYourTurn,
	}, f.notices.kinds())
	assert.Equal(t, []string{notify.MsgYourTurnOS}, f.desktop.shown)
}

func TestCoordinator_YourTurnWhenFocusedSkipsDesktop(t *testing.T) {
	f := newFixture(t, "https://joyopi.example/vote")
	f.c.alert.Focus = notify.FocusFunc(func() bool { return true })
	f.inRoom("b", "a", "a", "b")

	f.c.Handle(users("b", "a", "b"))
	assert.Equal(t, []notify.Kind{notify.KindYourTurn}, f.notices.kinds())
	assert.Empty(t, f.desktop.shown)
}

func TestCoordinator_SkipTurn(t *testing.T) {
	cases := []struct {
		name   string
		me     string
		turn   string
		err    error
		forced bool
	}{
		{"turn holder", "b", "b", nil, false},
		{"host forcing", "a", "b", nil, true},
		{"host holding", "a", "a", nil, false},
		{"bystander", "c", "b", ErrNotTurnHolder, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, "https://joyopi.example/vote")
			f.inRoom(tc.me, tc.turn, "a", "b", "c")

			err := f.c.SkipTurn()
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				assert.Empty(t, f.sent.msgs)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []protocol.Message{protocol.SkipTurn{}}, f.sent.msgs)
			if tc.forced {
				assert.Equal(t, []notify.Kind{notify.KindForcedSkip}, f.notices.kinds())
			} else {
				assert.Empty(t, *f.notices)
			}
		})
	}
}

func TestCoordinator_LeaveRoomResetsEverything(t *testing.T) {
	f := newFixture(t, "https://joyopi.example/vote")
	f.inRoom("a", "a", "a", "b")
	f.c.Handle(protocol.VoteStarted{Duration: 10})
	require.NoError(t, f.c.SubmitVote())
	f.sent.msgs = nil

	require.NoError(t, f.c.LeaveRoom())
	assert.Equal(t, []protocol.Message{protocol.LeaveRoom{}}, f.sent.msgs)

	snap := f.c.Snapshot()
	assert.Equal(t, ViewLanding, snap.View)
	assert.Equal(t, PhaseNoActivity, snap.Phase)
	assert.False(t, snap.Voted)
	assert.Empty(t, snap.Participants)
	assert.Equal(t, "https://joyopi.example/vote", snap.ShareLink)
	assert.Empty(t, f.link.Code())
	assert.Equal(t, 0, f.sched.Live())

	f.sched.Advance(time.Minute)
	assert.Equal(t, 0, f.sent.count(protocol.TypeFinishVote))

	assert.ErrorIs(t, f.c.LeaveRoom(), ErrNotInRoom)
}

func TestCoordinator_RoomInfoOutsideRoomIgnored(t *testing.T) {
	f := newFixture(t, "https://joyopi.example/vote")
	f.c.Handle(users("a", "a", "b"))
	assert.Empty(t, f.c.Snapshot().Participants)
}

func TestCoordinator_RoundMessagesAfterLeaveIgnored(t *testing.T) {
	f := newFixture(t, "https://joyopi.example/vote")
	f.inRoom("a", "a", "a", "b")
	require.NoError(t, f.c.LeaveRoom())
	f.sent.msgs = nil

	f.c.Handle(protocol.VoteStarted{Duration: 3})
	f.c.Handle(protocol.VoteSubmitted{CurrentVotes: 1})
	f.sched.Advance(5 * time.Second)

	snap := f.c.Snapshot()
	assert.Equal(t, ViewLanding, snap.View)
	assert.Equal(t, PhaseNoActivity, snap.Phase)
	assert.Equal(t, 0, snap.Countdown)
	assert.Equal(t, 0, snap.CurrentVotes)
	assert.Equal(t, 0, f.sched.LiveEvery())
	assert.Equal(t, 0, f.sent.count(protocol.TypeFinishVote))
	assert.ErrorIs(t, f.c.SubmitVote(), ErrNotInRoom)

	f.c.Handle(protocol.VoteFinished{Results: protocol.Results{"YES": 1, "totalParticipants": 2}})
	assert.Nil(t, f.c.Snapshot().Results)
	assert.Empty(t, f.sent.msgs)
}

func TestCoordinator_OfflineInRoomLeaves(t *testing.T) {
	f := newFixture(t, "https://joyopi.example/vote")
	f.inRoom("a", "a", "a", "b")
	f.c.Handle(protocol.VoteStarted{Duration: 10})

	f.c.OnStale(conn.ReasonOffline)

	assert.Equal(t, []notify.Kind{notify.KindOfflineLeft}, f.notices.kinds())
	assert.Equal(t, notify.SeverityWarning, (*f.notices)[0].Severity)
	assert.Equal(t, ViewLanding, f.c.Snapshot().View)
	assert.Empty(t, f.link.Code())
	assert.Equal(t, 0, f.sched.Live())
}

func TestCoordinator_ClosedSocketKeepsRoom(t *testing.T) {
	f := newFixture(t, "https://joyopi.example/vote")
	f.inRoom("a", "a", "a", "b")
	f.c.Handle(protocol.VoteStarted{Duration: 10})

	f.c.OnStale(conn.ReasonClosed)
	assert.Empty(t, *f.notices)
	assert.Equal(t, ViewRoom, f.c.Snapshot().View)
	assert.Equal(t, 0, f.sched.Live())

	g := newFixture(t, "https://joyopi.example/vote")
	g.c.OnStale(conn.ReasonOffline)
	assert.Empty(t, *g.notices)
}

func TestCoordinator_ServerErrorNotice(t *testing.T) {
	f := newFixture(t, "https://joyopi.example/vote")
	f.c.Handle(protocol.Error{Message: "존재하지 않는 방입니다."})
	require.Len(t, *f.notices, 1)
	assert.Equal(t, notify.KindServerError, (*f.notices)[0].Kind)
	assert.Equal(t, notify.SeverityError, (*f.notices)[0].Severity)
}
