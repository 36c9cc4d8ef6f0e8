package system

import (
	"sort"
	"time"

	"github.com/l1jgo/reclaimer/internal/core/event"
	coresys "github.com/l1jgo/reclaimer/internal/core/system"
	"github.com/l1jgo/reclaimer/internal/reclaim"
	"go.uber.org/zap"
)

// EventRecorder implements reclaim.Recorder by emitting onto the bus.
// Subscribers see the events one tick later.
type EventRecorder struct {
	bus *event.Bus
}

func NewEventRecorder(bus *event.Bus) *EventRecorder {
	return &EventRecorder{bus: bus}
}

func (r *EventRecorder) Destroyed(e reclaim.Entity, tick reclaim.Tick) {
	event.Emit(r.bus, event.EntityDestroyed{EntityID: e.ID(), Kind: e.Kind(), Tick: int64(tick)})
}

func (r *EventRecorder) Suspended(kind string, overruns int) {
	event.Emit(r.bus, event.KindSuspended{Kind: kind, Overruns: overruns})
}

// EventDispatchSystem swaps the bus buffers and delivers last tick's
// events. Phase 1 (PreUpdate).
type EventDispatchSystem struct {
	bus *event.Bus
}

func NewEventDispatchSystem(bus *event.Bus) *EventDispatchSystem {
	return &EventDispatchSystem{bus: bus}
}

func (s *EventDispatchSystem) Phase() coresys.Phase { return coresys.PhasePreUpdate }

func (s *EventDispatchSystem) Update(_ time.Duration) {
	s.bus.SwapBuffers()
	s.bus.DispatchAll()
}

// ReplayLog is a bus subscriber that keeps a per-kind count of destroyed
// entities and logs suspensions, standing in for a replay recorder. It also
// observes the engine directly to count forced requests, which never veto.
type ReplayLog struct {
	destroyed map[string]int64
	forced    map[string]int64
	suspended []string
	log       *zap.Logger
}

func NewReplayLog(bus *event.Bus, log *zap.Logger) *ReplayLog {
	r := &ReplayLog{
		destroyed: make(map[string]int64),
		forced:    make(map[string]int64),
		log:       log,
	}
	event.Subscribe(bus, r.onDestroyed)
	event.Subscribe(bus, r.onSuspended)
	return r
}

func (r *ReplayLog) onDestroyed(ev event.EntityDestroyed) {
	r.destroyed[ev.Kind]++
}

func (r *ReplayLog) onSuspended(ev event.KindSuspended) {
	r.suspended = append(r.suspended, ev.Kind)
	r.log.Warn("硬刪除已暫停", zap.String("kind", ev.Kind), zap.Int("overruns", ev.Overruns))
}

func (r *ReplayLog) PreDestroy(reclaim.Entity, bool) bool { return false }

func (r *ReplayLog) Destroying(e reclaim.Entity, force bool) {
	if force {
		r.forced[e.Kind()]++
	}
}

// Forced returns how many forced destruction requests kind received.
func (r *ReplayLog) Forced(kind string) int64 { return r.forced[kind] }

// Destroyed returns how many entities of kind were destroyed.
func (r *ReplayLog) Destroyed(kind string) int64 { return r.destroyed[kind] }

// Suspended returns the suspended kinds in order of suspension.
func (r *ReplayLog) Suspended() []string { return r.suspended }

// Kinds returns every kind seen so far, sorted.
func (r *ReplayLog) Kinds() []string {
	out := make([]string, 0, len(r.destroyed))
	for k := range r.destroyed {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
