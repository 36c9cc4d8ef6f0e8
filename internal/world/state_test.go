package world

import (
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/l1jgo/reclaimer/internal/core/ecs"
	"github.com/l1jgo/reclaimer/internal/reclaim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// host drives a real engine over a State with a hand-cranked tick.
type host struct {
	tick int64
}

func (h *host) CurrentTick() int64 { return h.tick }
func (h *host) Exhausted() bool    { return false }
func (h *host) Postpone(time.Duration) {}

type fixedHints map[string]reclaim.Hint

func (f fixedHints) DestroyHint(kind string, _ bool) (reclaim.Hint, bool) {
	h, ok := f[kind]
	return h, ok
}

func newWorld(t *testing.T) (*State, *reclaim.Engine, *host) {
	t.Helper()
	clk := testclock.NewClock(time.Unix(0, 0))
	s := NewState(clk, zaptest.NewLogger(t))
	h := &host{}
	cfg := reclaim.DefaultConfig()
	cfg.FilterDwell, cfg.CheckDwell, cfg.HardDeleteDwell = 1, 2, 0
	e := reclaim.New(cfg, reclaim.Deps{
		Registry:  s,
		Scheduler: h,
		Clock:     clk,
		Roots:     s,
		Log:       zaptest.NewLogger(t),
	})
	s.SetDestroyer(e.RequestDestroy)
	return s, e, h
}

func (h *host) step(s *State, e *reclaim.Engine) {
	h.tick++
	s.Collect()
	e.Fire()
}

func TestUnreferencedObjectIsCollected(t *testing.T) {
	s, e, h := newWorld(t)
	o := s.Spawn("Goblin", reclaim.HintQueue, 0)

	e.RequestDestroy(o, false)
	for i := 0; i < 5; i++ {
		h.step(s, e)
	}
	_, ok := s.Get(o.ID())
	assert.False(t, ok)
	assert.Equal(t, int64(1), e.Status().TotalCollected)
	assert.Equal(t, uint64(1), s.Stats().Collected)
}

func TestLeakedObjectIsHardDeleted(t *testing.T) {
	s, e, h := newWorld(t)
	w := s.AddWatcher("alice")
	o := s.Spawn("Corpse", reclaim.HintQueue, 0)
	s.Watch(w, o)

	e.RequestDestroy(o, false)
	s.Collect()
	require.Equal(t, []*Object{o}, s.Leaked(10))
	assert.Equal(t, 1, s.Stats().Leaked)

	for i := 0; i < 6; i++ {
		h.step(s, e)
	}
	_, ok := s.Get(o.ID())
	assert.False(t, ok)
	assert.Empty(t, w.Watching)
	assert.Equal(t, uint64(1), s.Stats().HardDeleted)
	assert.Equal(t, int64(1), e.Status().TotalDeleted)
}

func TestContainerDestroysContents(t *testing.T) {
	s, e, _ := newWorld(t)
	corpse := s.Spawn("Corpse", reclaim.HintQueue, 0)
	loot := s.Spawn("Loot", reclaim.HintDone, 0)
	s.PutInto(loot, corpse)
	assert.Equal(t, 1, loot.Refs())

	e.RequestDestroy(corpse, false)
	assert.Nil(t, loot.Container)
	assert.Empty(t, corpse.Contents)
	assert.True(t, loot.Mark().Pending(), "contents are destroyed with their container")

	assert.Equal(t, 2, s.Collect())
}

func TestScriptsOverrideDefaultHint(t *testing.T) {
	s, e, _ := newWorld(t)
	s.SetScripts(fixedHints{"Pet": reclaim.HintLetLive})
	pet := s.Spawn("Pet", reclaim.HintQueue, 0)
	s.SetLifetime(pet, 0, 10)

	e.RequestDestroy(pet, false)
	assert.False(t, pet.Mark().Pending())
	assert.Equal(t, []*Object{pet}, s.Expired(10), "let_live keeps the lifetime")

	e.RequestDestroy(pet, true)
	assert.True(t, pet.Mark().Pending())
	assert.Empty(t, s.Expired(10))
}

func TestSelfManagedObjectsArePooled(t *testing.T) {
	s, e, _ := newWorld(t)
	p := s.Spawn("Projectile", reclaim.HintSelfManaged, 0)
	id := p.ID()

	e.RequestDestroy(p, false)
	assert.Zero(t, s.Collect())
	assert.Equal(t, 1, s.Stats().Pooled)

	again := s.Spawn("Projectile", reclaim.HintSelfManaged, 0)
	assert.Same(t, p, again)
	assert.Equal(t, id, again.ID())
	assert.Zero(t, s.Stats().Pooled)
}

func TestHardDeleteWaitsForCost(t *testing.T) {
	clk := testclock.NewClock(time.Unix(0, 0))
	s := NewState(clk, zaptest.NewLogger(t))
	o := s.Spawn("Dragon", reclaim.HintQueue, 50*time.Millisecond)
	s.SetSpotlight(o)

	done := make(chan struct{})
	go func() {
		s.HardDelete(o)
		close(done)
	}()
	require.NoError(t, clk.WaitAdvance(50*time.Millisecond, time.Second, 1))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("hard delete did not finish")
	}
	assert.Nil(t, s.Spotlight())
	assert.Zero(t, o.Refs())
}

func TestScanFindsWatcherAndGlobals(t *testing.T) {
	s, e, h := newWorld(t)
	w := s.AddWatcher("bob")
	o := s.Spawn("Familiar", reclaim.HintQueue, 0)
	s.Watch(w, o)
	s.SetSpotlight(o)
	s.AttachOverlay(o, s.Spawn("Goblin", reclaim.HintQueue, 0))

	require.NoError(t, e.FindReferences(o, true))
	h.step(s, e)
	require.False(t, e.Paused())

	var paths []string
	for _, f := range e.Scanner().Findings() {
		paths = append(paths, f.Path)
	}
	assert.ElementsMatch(t, []string{
		"Globals -> globals.Spotlight",
		"Sessions -> bob.Watching[0]",
		"Sessions -> bob.Recent[0]",
	}, paths)
}

func TestExpiredIsOrderedAndSkipsPending(t *testing.T) {
	s, e, _ := newWorld(t)
	a := s.Spawn("Arrow", reclaim.HintDone, 0)
	b := s.Spawn("Arrow", reclaim.HintDone, 0)
	c := s.Spawn("Arrow", reclaim.HintDone, 0)
	s.SetLifetime(c, 0, 1)
	s.SetLifetime(a, 0, 1)
	s.SetLifetime(b, 0, 5)

	assert.Equal(t, []*Object{a, c}, s.Expired(1))
	e.RequestDestroy(a, false)
	assert.Equal(t, []*Object{c}, s.Expired(1))
	assert.Equal(t, []ecs.EntityID{a.ID()}, s.globals.RecentlyDestroyed[:1])
}
