package parrot

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/devyyj/joyopi/go/internal/session/loop"
)

// Player is the exclusive audio resource of the executing peer. Play starts
// one cycle of the sound and calls done on the session loop when it ended.
// Play while a cycle is running replaces it; Stop is idempotent.
type Player interface {
	Play(done func())
	Stop()
}

// TimedPlayer stands in for audio output: a cycle is a fixed span on the
// scheduler.
type TimedPlayer struct {
	sched     loop.Scheduler
	cycle     time.Duration
	soundFile string
	current   loop.Slot
	cycles    int
}

// NewTimedPlayer returns a player whose cycles last cycle.
func NewTimedPlayer(sched loop.Scheduler, cycle time.Duration, soundFile string) *TimedPlayer {
	if cycle <= 0 {
		cycle = 2 * time.Second
	}
	return &TimedPlayer{sched: sched, cycle: cycle, soundFile: soundFile}
}

// Play implements Player.
func (p *TimedPlayer) Play(done func()) {
	p.cycles++
	log.Debug().
		Str("sound_file", p.soundFile).
		Int("cycle", p.cycles).
		Msg("playing sound")

	p.current.Replace(p.sched.After(p.cycle, func() {
		p.current.Stop()
		done()
	}))
}

// Stop implements Player.
func (p *TimedPlayer) Stop() {
	if p.current.Active() {
		log.Debug().Str("sound_file", p.soundFile).Msg("sound stopped")
	}
	p.current.Stop()
}

// Playing reports whether a cycle is in progress.
func (p *TimedPlayer) Playing() bool { return p.current.Active() }

// Cycles counts every cycle started so far.
func (p *TimedPlayer) Cycles() int { return p.cycles }
