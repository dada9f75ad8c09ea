package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrUnknownType marks a well-formed frame whose tag this client does not know.
	ErrUnknownType = errors.New("unknown message type")
	// ErrMalformed marks a frame that is not a tagged JSON object.
	ErrMalformed = errors.New("malformed message")
)

type envelope struct {
	Type MessageType `json:"type"`
}

// Decode parses a frame into its typed message.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	switch env.Type {
	case TypeJoin:
		return decodeAs[Join](data)
	case TypePing:
		return Ping{}, nil
	case TypePong:
		return Pong{}, nil
	case TypeWelcome:
		return decodeAs[Welcome](data)
	case TypeUserList:
		return decodeAs[UserList](data)
	case TypeTriggerSound:
		return decodeAs[TriggerSound](data)
	case TypeStopSound:
		return StopSound{}, nil
	case TypeProgressUpdate:
		return decodeAs[ProgressUpdate](data)
	case TypeCreateRoom:
		return CreateRoom{}, nil
	case TypeJoinRoom:
		return decodeAs[JoinRoom](data)
	case TypeLeaveRoom:
		return LeaveRoom{}, nil
	case TypeStartVote:
		return StartVote{}, nil
	case TypeSubmitVote:
		return decodeAs[SubmitVote](data)
	case TypeSkipTurn:
		return SkipTurn{}, nil
	case TypeFinishVote:
		return FinishVote{}, nil
	case TypeGetRoomCount:
		return GetRoomCount{}, nil
	case TypeRoomCount:
		return decodeAs[RoomCount](data)
	case TypeRoomCreated:
		return decodeAs[RoomCreated](data)
	case TypeJoinSuccess:
		return decodeAs[JoinSuccess](data)
	case TypeRoomInfo:
		return decodeAs[RoomInfo](data)
	case TypeVoteStarted:
		return decodeAs[VoteStarted](data)
	case TypeVoteSubmitted:
		return decodeAs[VoteSubmitted](data)
	case TypeVoteFinished:
		return decodeAs[VoteFinished](data)
	case TypeError:
		return decodeAs[Error](data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, env.Type)
	}
}

func decodeAs[T Message](data []byte) (Message, error) {
	var m T
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, m.Type(), err)
	}
	return m, nil
}

// Encode serializes m as a tagged frame.
func Encode(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", m.Type(), err)
	}

	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("flatten %s: %w", m.Type(), err)
	}
	tag, err := json.Marshal(m.Type())
	if err != nil {
		return nil, err
	}
	fields["type"] = tag

	return json.Marshal(fields)
}

// MustEncode is Encode for frames built from constants, such as the heartbeat.
func MustEncode(m Message) []byte {
	data, err := Encode(m)
	if err != nil {
		panic(err)
	}
	return data
}
