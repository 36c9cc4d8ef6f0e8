package system

import (
	"sync/atomic"
	"time"

	coresys "github.com/l1jgo/reclaimer/internal/core/system"
	"github.com/l1jgo/reclaimer/internal/reclaim"
	"github.com/l1jgo/reclaimer/internal/world"
)

// ReclaimSystem fires the reclamation engine at tick end. Phase 6
// (Cleanup). The engine can be swapped on hot restart; everything that
// destroys entities goes through RequestDestroy so it always reaches the
// current one.
type ReclaimSystem struct {
	eng atomic.Pointer[reclaim.Engine]
}

func NewReclaimSystem(eng *reclaim.Engine) *ReclaimSystem {
	s := &ReclaimSystem{}
	s.eng.Store(eng)
	return s
}

func (s *ReclaimSystem) Phase() coresys.Phase { return coresys.PhaseCleanup }

func (s *ReclaimSystem) Update(_ time.Duration) {
	s.eng.Load().Fire()
}

// Engine returns the current engine.
func (s *ReclaimSystem) Engine() *reclaim.Engine { return s.eng.Load() }

// Swap installs next, carrying over every pending queue entry of the
// previous engine, and returns the previous engine. Game loop only.
func (s *ReclaimSystem) Swap(next *reclaim.Engine) *reclaim.Engine {
	prev := s.eng.Swap(next)
	next.Recover(prev.QueueState())
	return prev
}

func (s *ReclaimSystem) RequestDestroy(e reclaim.Entity, force bool) {
	s.eng.Load().RequestDestroy(e, force)
}

// Published returns the current engine's snapshot. Safe for concurrent use.
func (s *ReclaimSystem) Published() *reclaim.Snapshot {
	return s.eng.Load().Published()
}

// CollectSystem is the host collector: it frees destroyed objects nothing
// holds any more, before the engine checks its queues. Phase 3
// (PostUpdate).
type CollectSystem struct {
	world *world.State
	last  int
}

func NewCollectSystem(ws *world.State) *CollectSystem {
	return &CollectSystem{world: ws}
}

func (s *CollectSystem) Phase() coresys.Phase { return coresys.PhasePostUpdate }

func (s *CollectSystem) Update(_ time.Duration) {
	s.last = s.world.Collect()
}

// LastCollected returns how many objects the last tick freed.
func (s *CollectSystem) LastCollected() int { return s.last }
