package system

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/l1jgo/reclaimer/internal/core/ecs"
	coresys "github.com/l1jgo/reclaimer/internal/core/system"
	"github.com/l1jgo/reclaimer/internal/data"
	"github.com/l1jgo/reclaimer/internal/reclaim"
	"github.com/l1jgo/reclaimer/internal/world"
	"go.uber.org/zap"
)

// watchChance is the probability that a new object gets a watcher.
const watchChance = 0.5

// ChurnSystem drives the simulated workload: every tick it destroys the
// objects whose lifetime ended and spawns new ones from the churn table.
// Phase 2 (Update).
type ChurnSystem struct {
	world    *world.State
	table    *data.ChurnTable
	ticks    interface{ CurrentTick() int64 }
	destroy  func(e reclaim.Entity, force bool)
	rng      *rand.Rand
	perTick  int
	watchers []*world.Watcher
	log      *zap.Logger

	watchedBy map[ecs.EntityID]*world.Watcher
	spared    map[ecs.EntityID]struct{} // let_live objects given one more lifetime
	lastHost  *world.Object             // overlay target

	spawned   int64
	destroyed int64
}

// ChurnOptions configures a ChurnSystem.
type ChurnOptions struct {
	PerTick  int
	Sessions int
	Seed     int64
}

func NewChurnSystem(
	ws *world.State,
	table *data.ChurnTable,
	ticks interface{ CurrentTick() int64 },
	destroy func(e reclaim.Entity, force bool),
	opts ChurnOptions,
	log *zap.Logger,
) *ChurnSystem {
	s := &ChurnSystem{
		world:     ws,
		table:     table,
		ticks:     ticks,
		destroy:   destroy,
		rng:       rand.New(rand.NewSource(opts.Seed)),
		perTick:   opts.PerTick,
		log:       log,
		watchedBy: make(map[ecs.EntityID]*world.Watcher),
		spared:    make(map[ecs.EntityID]struct{}),
	}
	existing := ws.Watchers()
	for i := 0; i < opts.Sessions; i++ {
		if i < len(existing) {
			s.watchers = append(s.watchers, existing[i])
			continue
		}
		s.watchers = append(s.watchers, ws.AddWatcher(fmt.Sprintf("session-%d", i+1)))
	}
	return s
}

func (s *ChurnSystem) Phase() coresys.Phase { return coresys.PhaseUpdate }

func (s *ChurnSystem) Update(_ time.Duration) {
	tick := s.ticks.CurrentTick()
	for _, o := range s.world.Expired(tick) {
		s.expire(o, tick)
	}
	for i := 0; i < s.perTick; i++ {
		s.spawn(tick)
	}
}

// expire destroys o. A watcher that leaks keeps o reachable; a let_live
// object is spared once and forced the second time.
func (s *ChurnSystem) expire(o *world.Object, tick int64) {
	id := o.ID()
	entry := s.table.Get(o.Kind())
	if w, ok := s.watchedBy[id]; ok {
		delete(s.watchedBy, id)
		if entry == nil || s.rng.Float64() >= entry.LeakChance {
			s.world.Unwatch(w, o)
		}
	}

	_, force := s.spared[id]
	delete(s.spared, id)
	s.destroy(o, force)
	s.destroyed++

	if !force && !o.Mark().Pending() && !o.Pooled() {
		if _, live := s.world.Get(id); live {
			s.spared[id] = struct{}{}
			s.world.SetLifetime(o, tick, tick+lifetime(entry))
		}
	}
}

func (s *ChurnSystem) spawn(tick int64) {
	entry := s.table.Pick(s.rng.Float64())
	if entry == nil {
		return
	}
	o := s.world.Spawn(entry.Kind, entry.DefaultHint(), entry.DeleteCost())
	s.world.SetLifetime(o, tick, tick+lifetime(entry))
	s.spawned++

	for i := 0; i < entry.Contents; i++ {
		hint, cost := reclaim.HintQueue, time.Duration(0)
		if ce := s.table.Get(entry.ContentKind); ce != nil {
			hint, cost = ce.DefaultHint(), ce.DeleteCost()
		}
		s.world.PutInto(s.world.Spawn(entry.ContentKind, hint, cost), o)
		s.spawned++
	}

	if entry.Overlay {
		if h := s.lastHost; h != nil && !h.Mark().Pending() && !h.Pooled() {
			if _, live := s.world.Get(h.ID()); live {
				s.world.AttachOverlay(o, h)
			}
		}
	} else {
		s.lastHost = o
	}

	if entry.Spotlight {
		s.world.SetSpotlight(o)
	}

	if len(s.watchers) > 0 && s.rng.Float64() < watchChance {
		w := s.watchers[s.rng.Intn(len(s.watchers))]
		s.world.Watch(w, o)
		s.watchedBy[o.ID()] = w
	}
}

// WithTable returns a successor that spawns from table at perTick and
// inherits the watchers and bookkeeping of s. Used on hot restart with
// Runner.Replace.
func (s *ChurnSystem) WithTable(table *data.ChurnTable, perTick int) *ChurnSystem {
	next := *s
	next.table = table
	next.perTick = perTick
	next.lastHost = nil
	return &next
}

// Totals returns how many objects were spawned and destroyed so far.
func (s *ChurnSystem) Totals() (spawned, destroyed int64) {
	return s.spawned, s.destroyed
}

func lifetime(e *data.ChurnEntry) int64 {
	if e == nil || e.LifetimeTicks <= 0 {
		return 1
	}
	return int64(e.LifetimeTicks)
}
