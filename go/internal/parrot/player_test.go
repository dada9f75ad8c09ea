package parrot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/devyyj/joyopi/go/internal/session/loop/looptest"
)

func TestTimedPlayer_CycleCallsDoneOnce(t *testing.T) {
	sched := looptest.New()
	p := NewTimedPlayer(sched, 3*time.Second, "footsteps.mp3")

	done := 0
	p.Play(func() { done++ })
	assert.True(t, p.Playing())

	sched.Advance(2 * time.Second)
	assert.Equal(t, 0, done)
	sched.Advance(time.Second)
	assert.Equal(t, 1, done)
	assert.False(t, p.Playing())

	sched.Advance(time.Minute)
	assert.Equal(t, 1, done)
}

func TestTimedPlayer_PlayReplacesRunningCycle(t *testing.T) {
	sched := looptest.New()
	p := NewTimedPlayer(sched, 2*time.Second, "footsteps.mp3")

	first, second := 0, 0
	p.Play(func() { first++ })
	sched.Advance(time.Second)
	p.Play(func() { second++ })
	sched.Advance(5 * time.Second)

	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
	assert.Equal(t, 2, p.Cycles())
}

func TestTimedPlayer_StopCancels(t *testing.T) {
	sched := looptest.New()
	p := NewTimedPlayer(sched, 0, "footsteps.mp3")

	done := false
	p.Play(func() { done = true })
	p.Stop()
	p.Stop()
	sched.Advance(time.Minute)

	assert.False(t, done)
	assert.Equal(t, 0, sched.Live())
}
