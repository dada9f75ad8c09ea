package vote

import "github.com/devyyj/joyopi/go/internal/session/membership"

// View is the screen the client shows.
type View string

const (
	ViewLanding View = "LANDING"
	ViewRoom    View = "ROOM"
)

// ResultView is a finished round's tally.
type ResultView struct {
	Yes   int `json:"yes"`
	Total int `json:"total"`
}

// Snapshot is the coordinator state as observers see it.
type Snapshot struct {
	View         View                     `json:"view"`
	RoomCount    int                      `json:"roomCount"`
	RoomCode     string                   `json:"roomCode,omitempty"`
	SelfID       string                   `json:"selfId,omitempty"`
	Participants []membership.Participant `json:"participants"`
	Phase        Phase                    `json:"phase"`
	Countdown    int                      `json:"countdown"`
	Voted        bool                     `json:"voted"`
	CurrentVotes int                      `json:"currentVotes"`
	Results      *ResultView              `json:"results,omitempty"`
	CanStart     bool                     `json:"canStart"`
	CanSkip      bool                     `json:"canSkip"`
	ForcesSkip   bool                     `json:"forcesSkip"`
	ShareLink    string                   `json:"shareLink"`
}

// Snapshot returns the current state.
func (c *Coordinator) Snapshot() Snapshot {
	s := Snapshot{
		View:         ViewLanding,
		RoomCount:    c.roomCount,
		Participants: c.members.Participants(),
		Phase:        c.phase,
		Countdown:    c.countdown,
		Voted:        c.voted.Is(true),
		CurrentVotes: c.tally,
		ShareLink:    c.link.String(),
	}
	if !c.inRoom {
		return s
	}

	s.View = ViewRoom
	s.RoomCode = c.roomCode
	s.SelfID = c.members.SelfID()
	if c.results != nil {
		s.Results = &ResultView{
			Yes:   c.results.Yes(),
			Total: c.results.Total(c.members.Count()),
		}
	}

	self, _ := c.members.Self()
	s.CanStart = self.Privileged && c.phase == PhaseNoActivity
	s.CanSkip = self.Privileged || self.IsHost
	s.ForcesSkip = self.IsHost && !self.Privileged
	return s
}
