package system

import (
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordSystem struct {
	phase Phase
	name  string
	log   *[]string
	work  func()
}

func (s *recordSystem) Phase() Phase { return s.phase }
func (s *recordSystem) Update(time.Duration) {
	*s.log = append(*s.log, s.name)
	if s.work != nil {
		s.work()
	}
}

func TestRunnerPhaseOrder(t *testing.T) {
	var log []string
	r := NewRunner(testclock.NewClock(time.Unix(0, 0)), 0)
	r.Register(&recordSystem{phase: PhaseCleanup, name: "cleanup", log: &log})
	r.Register(&recordSystem{phase: PhaseInput, name: "input", log: &log})
	r.Register(&recordSystem{phase: PhaseUpdate, name: "update", log: &log})

	r.Tick(200 * time.Millisecond)
	assert.Equal(t, []string{"input", "update", "cleanup"}, log)
	assert.Equal(t, int64(1), r.CurrentTick())

	log = nil
	r.TickPhase(PhaseInput, 0)
	assert.Equal(t, []string{"input"}, log)
	assert.Equal(t, int64(1), r.CurrentTick(), "TickPhase must not advance the tick")
}

func TestRunnerBudget(t *testing.T) {
	clk := testclock.NewClock(time.Unix(0, 0))
	r := NewRunner(clk, 50*time.Millisecond)

	var exhausted []bool
	r.Register(&recordSystem{phase: PhaseCleanup, name: "gc", log: new([]string), work: func() {
		exhausted = append(exhausted, r.Exhausted())
		clk.Advance(50 * time.Millisecond)
		exhausted = append(exhausted, r.Exhausted())
	}})

	r.Tick(0)
	assert.Equal(t, []bool{false, true}, exhausted)
}

func TestRunnerPostponeBorrowsFromNextTick(t *testing.T) {
	clk := testclock.NewClock(time.Unix(0, 0))
	r := NewRunner(clk, 50*time.Millisecond)

	r.Tick(0)
	r.Postpone(30 * time.Millisecond)
	r.Tick(0)
	clk.Advance(20 * time.Millisecond)
	assert.True(t, r.Exhausted())

	// borrowing is one-shot
	r.Tick(0)
	clk.Advance(20 * time.Millisecond)
	assert.False(t, r.Exhausted())

	// capped at the budget
	r.Postpone(time.Hour)
	r.Tick(0)
	assert.True(t, r.Exhausted())
}

func TestRunnerReplace(t *testing.T) {
	var log []string
	r := NewRunner(nil, 0)
	old := &recordSystem{phase: PhaseCleanup, name: "old", log: &log}
	r.Register(old)
	require.True(t, r.Replace(old, &recordSystem{phase: PhaseCleanup, name: "new", log: &log}))
	assert.False(t, r.Replace(old, old))
	r.Tick(0)
	assert.Equal(t, []string{"new"}, log)
}
