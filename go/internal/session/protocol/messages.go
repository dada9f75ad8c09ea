// Package protocol translates between socket frames and typed messages.
//
// Every frame is a JSON object tagged by "type". The codec is purely
// structural: it knows shapes, not rules.
package protocol

// MessageType is the "type" tag of a frame.
type MessageType string

const (
	TypeJoin           MessageType = "JOIN"
	TypePing           MessageType = "PING"
	TypePong           MessageType = "PONG"
	TypeWelcome        MessageType = "WELCOME"
	TypeUserList       MessageType = "USER_LIST"
	TypeTriggerSound   MessageType = "TRIGGER_SOUND"
	TypeStopSound      MessageType = "STOP_SOUND"
	TypeProgressUpdate MessageType = "PROGRESS_UPDATE"

	TypeCreateRoom    MessageType = "CREATE_ROOM"
	TypeJoinRoom      MessageType = "JOIN_ROOM"
	TypeLeaveRoom     MessageType = "LEAVE_ROOM"
	TypeStartVote     MessageType = "START_VOTE"
	TypeSubmitVote    MessageType = "SUBMIT_VOTE"
	TypeSkipTurn      MessageType = "SKIP_TURN"
	TypeFinishVote    MessageType = "FINISH_VOTE"
	TypeGetRoomCount  MessageType = "GET_ROOM_COUNT"
	TypeRoomCount     MessageType = "ROOM_COUNT"
	TypeRoomCreated   MessageType = "ROOM_CREATED"
	TypeJoinSuccess   MessageType = "JOIN_SUCCESS"
	TypeRoomInfo      MessageType = "ROOM_INFO"
	TypeVoteStarted   MessageType = "VOTE_STARTED"
	TypeVoteSubmitted MessageType = "VOTE_SUBMITTED"
	TypeVoteFinished  MessageType = "VOTE_FINISHED"
	TypeError         MessageType = "ERROR"
)

// Message is any frame payload.
type Message interface {
	Type() MessageType
}

// Role of a Parrot participant.
type Role string

const (
	RoleGeneral Role = "GENERAL"
	RoleParrot  Role = "PARROT"
)

// PlaybackMode selects how a playback window is bounded.
type PlaybackMode string

const (
	ModeCount    PlaybackMode = "COUNT"
	ModeDuration PlaybackMode = "DURATION"
)

// Join announces the local role (client → server).
type Join struct {
	Role Role `json:"role"`
}

// Ping is the heartbeat (client → server).
type Ping struct{}

// Pong answers a ping; clients discard it.
type Pong struct{}

// Welcome carries the server-issued Parrot session id.
type Welcome struct {
	SessionID string `json:"sessionId"`
}

// ParrotUser is one entry of a USER_LIST.
type ParrotUser struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// UserList is the full Parrot membership snapshot.
type UserList struct {
	Users []ParrotUser `json:"users"`
}

// TriggerSound starts a playback window. It travels in both directions; the
// server relays the requester's frame to everyone.
type TriggerSound struct {
	Mode      PlaybackMode `json:"mode"`
	Count     int          `json:"count"`
	Duration  int          `json:"duration"`
	SoundFile string       `json:"soundFile,omitempty"`
}

// StopSound ends the playback window.
type StopSound struct{}

// ProgressUpdate relays remaining units from the executing peer. Exactly one
// field is set.
type ProgressUpdate struct {
	RemainingCount    *int `json:"remainingCount,omitempty"`
	RemainingDuration *int `json:"remainingDuration,omitempty"`
}

// CountProgress builds a COUNT-mode update.
func CountProgress(n int) ProgressUpdate { return ProgressUpdate{RemainingCount: &n} }

// DurationProgress builds a DURATION-mode update, in minutes.
func DurationProgress(minutes int) ProgressUpdate {
	return ProgressUpdate{RemainingDuration: &minutes}
}

// CreateRoom asks for a new vote room.
type CreateRoom struct{}

// JoinRoom joins a vote room by its 4-digit code.
type JoinRoom struct {
	RoomCode string `json:"roomCode"`
}

// LeaveRoom leaves the current vote room.
type LeaveRoom struct{}

// StartVote begins a round; only the turn holder may send it.
type StartVote struct{}

// SubmitVote casts the local vote.
type SubmitVote struct {
	Value string `json:"value"`
}

// SkipTurn gives up (or force-skips) the current turn.
type SkipTurn struct{}

// FinishVote declares the round over once the local countdown elapsed.
type FinishVote struct{}

// GetRoomCount asks how many vote rooms are active.
type GetRoomCount struct{}

// RoomCount answers GetRoomCount.
type RoomCount struct {
	Count int `json:"count"`
}

// RoomCreated confirms CreateRoom.
type RoomCreated struct {
	RoomCode string `json:"roomCode"`
	MyUserID string `json:"myUserId"`
}

// JoinSuccess confirms JoinRoom.
type JoinSuccess struct {
	RoomCode string `json:"roomCode"`
	MyUserID string `json:"myUserId"`
}

// RoomUser is one participant of a vote room.
type RoomUser struct {
	ID            string `json:"id"`
	Nickname      string `json:"nickname"`
	IsHost        bool   `json:"isHost"`
	IsCurrentTurn bool   `json:"isCurrentTurn"`
}

// RoomInfo is the full vote room snapshot.
type RoomInfo struct {
	RoomCode string     `json:"roomCode,omitempty"`
	Users    []RoomUser `json:"users"`
}

// VoteStarted opens a round with a countdown in seconds.
type VoteStarted struct {
	Duration int `json:"duration"`
}

// VoteSubmitted reports the running number of votes.
type VoteSubmitted struct {
	CurrentVotes int `json:"currentVotes"`
}

// Results is the server-computed tally of a finished round.
type Results map[string]int

// Yes returns the YES count.
func (r Results) Yes() int { return r["YES"] }

// Total returns totalParticipants, or fallback when the server omitted it.
func (r Results) Total(fallback int) int {
	if n, ok := r["totalParticipants"]; ok && n > 0 {
		return n
	}
	return fallback
}

// VoteFinished closes a round.
type VoteFinished struct {
	Results Results `json:"results"`
}

// Error reports a rejected action.
type Error struct {
	Message string `json:"message"`
}

func (Join) Type() MessageType           { return TypeJoin }
func (Ping) Type() MessageType           { return TypePing }
func (Pong) Type() MessageType           { return TypePong }
func (Welcome) Type() MessageType        { return TypeWelcome }
func (UserList) Type() MessageType       { return TypeUserList }
func (TriggerSound) Type() MessageType   { return TypeTriggerSound }
func (StopSound) Type() MessageType      { return TypeStopSound }
func (ProgressUpdate) Type() MessageType { return TypeProgressUpdate }
func (CreateRoom) Type() MessageType     { return TypeCreateRoom }
func (JoinRoom) Type() MessageType       { return TypeJoinRoom }
func (LeaveRoom) Type() MessageType      { return TypeLeaveRoom }
func (StartVote) Type() MessageType      { return TypeStartVote }
func (SubmitVote) Type() MessageType     { return TypeSubmitVote }
func (SkipTurn) Type() MessageType       { return TypeSkipTurn }
func (FinishVote) Type() MessageType     { return TypeFinishVote }
func (GetRoomCount) Type() MessageType   { return TypeGetRoomCount }
func (RoomCount) Type() MessageType      { return TypeRoomCount }
func (RoomCreated) Type() MessageType    { return TypeRoomCreated }
func (JoinSuccess) Type() MessageType    { return TypeJoinSuccess }
func (RoomInfo) Type() MessageType       { return TypeRoomInfo }
func (VoteStarted) Type() MessageType    { return TypeVoteStarted }
func (VoteSubmitted) Type() MessageType  { return TypeVoteSubmitted }
func (VoteFinished) Type() MessageType   { return TypeVoteFinished }
func (Error) Type() MessageType          { return TypeError }
