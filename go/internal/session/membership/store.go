// Package membership keeps the server-authoritative participant snapshot and
// derives what changed between two snapshots.
package membership

// Participant is one member of a room as the server last described it.
type Participant struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	IsHost bool   `json:"isHost"`
	// Privileged is the feature's exclusive flag: the current turn in Vote,
	// the PARROT role in Parrot.
	Privileged bool `json:"privileged"`
}

// Delta describes the change from the previous snapshot to the current one.
type Delta struct {
	First           bool
	Joined          bool
	Left            bool
	PrivilegeGained bool
}

// Store holds the latest snapshot. It is not safe for concurrent use; it is
// owned by the session loop.
type Store struct {
	selfID       string
	participants []Participant
	seen         bool
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// SetSelf records the locally assigned participant id.
func (s *Store) SetSelf(id string) { s.selfID = id }

// SelfID returns the local participant id, empty before the server assigned one.
func (s *Store) SelfID() string { return s.selfID }

// Replace swaps in a full snapshot and reports the delta against the previous
// one. No notice-worthy change is reported for the first snapshot.
func (s *Store) Replace(next []Participant) Delta {
	prev := s.participants
	first := !s.seen

	s.participants = append([]Participant(nil), next...)
	s.seen = true

	if first {
		return Delta{First: true}
	}

	d := Delta{
		Joined: len(next) > len(prev),
		Left:   len(next) < len(prev),
	}
	if s.selfID != "" {
		was := privileged(prev, s.selfID)
		is := privileged(next, s.selfID)
		d.PrivilegeGained = is && !was
	}
	return d
}

// Participants returns a copy of the current snapshot in server order.
func (s *Store) Participants() []Participant {
	return append([]Participant(nil), s.participants...)
}

// Count returns the number of participants.
func (s *Store) Count() int { return len(s.participants) }

// Self returns the local participant record, if present in the snapshot.
func (s *Store) Self() (Participant, bool) {
	return s.find(s.selfID)
}

// Privileged returns the participant holding the exclusive flag, if any.
func (s *Store) Privileged() (Participant, bool) {
	for _, p := range s.participants {
		if p.Privileged {
			return p, true
		}
	}
	return Participant{}, false
}

// Reset forgets the snapshot and the local id. The next Replace counts as first.
func (s *Store) Reset() {
	s.selfID = ""
	s.participants = nil
	s.seen = false
}

func (s *Store) find(id string) (Participant, bool) {
	if id == "" {
		return Participant{}, false
	}
	for _, p := range s.participants {
		if p.ID == id {
			return p, true
		}
	}
	return Participant{}, false
}

func privileged(ps []Participant, id string) bool {
	for _, p := range ps {
		if p.ID == id {
			return p.Privileged
		}
	}
	return false
}
