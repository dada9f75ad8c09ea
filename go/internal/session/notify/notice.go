// Package notify carries user-facing notices out of the session engine.
package notify

import (
	"time"

	"github.com/rs/zerolog/log"
)

// Kind identifies what happened.
type Kind string

const (
	KindJoined         Kind = "joined"
	KindLeft           Kind = "left"
	KindYourTurn       Kind = "your_turn"
	KindForcedSkip     Kind = "forced_skip"
	KindServerError    Kind = "server_error"
	KindOfflineLeft    Kind = "offline_left"
	KindConnectionLost Kind = "connection_lost"
	KindRejected       Kind = "rejected"
)

// Severity mirrors the snackbar levels of the web client.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notice is one transient message for the user. Blocking is set only for the
// connection-lost prompt, which offers reload as the single way forward.
type Notice struct {
	Feature  string    `json:"feature"`
	Kind     Kind      `json:"kind"`
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
	Blocking bool      `json:"blocking,omitempty"`
	At       time.Time `json:"at"`
}

// Sink receives notices. Implementations must not block the session loop.
type Sink interface {
	Notify(n Notice)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Notice)

// Notify implements Sink.
func (f SinkFunc) Notify(n Notice) { f(n) }

// Multi fans a notice out to several sinks.
type Multi []Sink

// Notify implements Sink.
func (m Multi) Notify(n Notice) {
	for _, s := range m {
		if s != nil {
			s.Notify(n)
		}
	}
}

// LogSink writes notices to the global zerolog logger.
type LogSink struct{}

// Notify implements Sink.
func (LogSink) Notify(n Notice) {
	ev := log.Info()
	switch n.Severity {
	case SeverityWarning:
		ev = log.Warn()
	case SeverityError:
		ev = log.Error()
	}
	ev.Str("feature", n.Feature).
		Str("kind", string(n.Kind)).
		Bool("blocking", n.Blocking).
		Msg(n.Message)
}

// Messages shown to the user.
const (
	MsgJoined         = "새로운 참여자가 입장했습니다. 👋"
	MsgLeft           = "참여자가 나갔습니다. 🏃‍♂️"
	MsgYourTurn       = "🔔 당신의 차례입니다! 투표를 시작해 주세요."
	MsgYourTurnOS     = "당신의 차례입니다! 투표를 시작해 주세요."
	MsgForcedSkip     = "차례를 강제로 넘깁니다..."
	MsgOfflineLeft    = "네트워크 연결이 끊겨 방에서 나갑니다. 🔌"
	MsgConnectionLost = "서버와의 연결이 끊어졌습니다. 서비스를 계속 이용하시려면 페이지를 새로고침 해주세요."
)
