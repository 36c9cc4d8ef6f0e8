package world

import (
	"sort"
	"time"

	"github.com/juju/clock"
	"github.com/l1jgo/reclaimer/internal/core/ecs"
	"github.com/l1jgo/reclaimer/internal/reclaim"
	"go.uber.org/zap"
)

// HintSource supplies scripted dispositions per kind.
type HintSource interface {
	DestroyHint(kind string, force bool) (reclaim.Hint, bool)
}

// Lifetime schedules the automatic destruction of a simulated object.
type Lifetime struct {
	Born    int64
	Expires int64
}

// Watcher is a simulated client session that keeps objects in view.
type Watcher struct {
	Name     string
	Watching []*Object
	// Recent holds IDs the watcher interacted with. IDs are not counted.
	Recent []ecs.EntityID
}

// Globals is process-wide state. It is the first root of every reference
// scan.
type Globals struct {
	Spotlight         *Object
	RecentlyDestroyed [16]ecs.EntityID
	next              int
}

// State tracks every simulated object and watcher.
// Single-goroutine access only (game loop).
type State struct {
	world     *ecs.World
	objects   *ecs.PtrComponentStore[Object]
	lifetimes *ecs.PtrComponentStore[Lifetime]
	watchers  []*Watcher
	globals   Globals
	pool      map[string][]*Object // kind → 閒置的 self_managed 物件

	scripts HintSource
	destroy func(e reclaim.Entity, force bool)
	clock   clock.Clock
	log     *zap.Logger

	collected   uint64
	hardDeleted uint64
}

func NewState(clk clock.Clock, log *zap.Logger) *State {
	if clk == nil {
		clk = clock.WallClock
	}
	if log == nil {
		log = zap.NewNop()
	}
	w := ecs.NewWorld()
	s := &State{
		world:     w,
		objects:   ecs.NewPtrComponentStore[Object](),
		lifetimes: ecs.NewPtrComponentStore[Lifetime](),
		pool:      make(map[string][]*Object),
		clock:     clk,
		log:       log,
	}
	w.Track(s.objects, s.lifetimes)
	return s
}

// SetScripts installs the scripted hint source.
func (s *State) SetScripts(h HintSource) { s.scripts = h }

// SetDestroyer installs the function cleanup hooks use to destroy the
// contents of a container.
func (s *State) SetDestroyer(fn func(e reclaim.Entity, force bool)) { s.destroy = fn }

// Spawn creates an object of kind, reusing a pooled instance if one exists.
func (s *State) Spawn(kind string, hint reclaim.Hint, deleteCost time.Duration) *Object {
	if free := s.pool[kind]; len(free) > 0 {
		o := free[len(free)-1]
		free[len(free)-1] = nil
		s.pool[kind] = free[:len(free)-1]
		o.pooled = false
		o.hint = hint
		o.deleteCost = deleteCost
		return o
	}
	o := &Object{
		id:         s.world.CreateEntity(),
		kind:       kind,
		hint:       hint,
		deleteCost: deleteCost,
		state:      s,
	}
	s.objects.Set(o.id, o)
	return o
}

// SetLifetime schedules o for destruction at tick expires.
func (s *State) SetLifetime(o *Object, born, expires int64) {
	s.lifetimes.Set(o.id, &Lifetime{Born: born, Expires: expires})
}

// Expired returns the objects whose lifetime ended at or before tick, in ID
// order.
func (s *State) Expired(tick int64) []*Object {
	var out []*Object
	ecs.Each2Sorted(s.objects, s.lifetimes, func(_ ecs.EntityID, o *Object, lt *Lifetime) {
		if lt.Expires <= tick && !o.mark.Pending() {
			out = append(out, o)
		}
	})
	return out
}

// Get returns a live object by ID.
func (s *State) Get(id ecs.EntityID) (*Object, bool) {
	return s.objects.Get(id)
}

// Objects returns every live object in ID order.
func (s *State) Objects() []*Object {
	out := make([]*Object, 0, s.objects.Len())
	s.objects.EachSorted(func(_ ecs.EntityID, o *Object) {
		out = append(out, o)
	})
	return out
}

// PutInto places child inside parent. The container holds a counted
// reference.
func (s *State) PutInto(child, parent *Object) {
	if child.Container != nil {
		s.takeOut(child)
	}
	child.Container = parent
	child.refs++
	parent.Contents = append(parent.Contents, child)
}

func (s *State) takeOut(child *Object) {
	parent := child.Container
	if parent == nil {
		return
	}
	for i, c := range parent.Contents {
		if c == child {
			parent.Contents = append(parent.Contents[:i], parent.Contents[i+1:]...)
			break
		}
	}
	child.Container = nil
	child.refs--
}

// AttachOverlay adds o to target's cosmetic overlays. Not counted.
func (s *State) AttachOverlay(o, target *Object) {
	target.Overlays = append(target.Overlays, o)
}

// AddWatcher registers a simulated session.
func (s *State) AddWatcher(name string) *Watcher {
	w := &Watcher{Name: name}
	s.watchers = append(s.watchers, w)
	return w
}

func (s *State) Watchers() []*Watcher { return s.watchers }

// Watch makes w hold a counted reference to o.
func (s *State) Watch(w *Watcher, o *Object) {
	for _, x := range w.Watching {
		if x == o {
			return
		}
	}
	w.Watching = append(w.Watching, o)
	o.refs++
	w.Recent = append(w.Recent, o.id)
	if len(w.Recent) > 8 {
		w.Recent = w.Recent[1:]
	}
}

// Unwatch drops w's reference to o.
func (s *State) Unwatch(w *Watcher, o *Object) bool {
	for i, x := range w.Watching {
		if x == o {
			w.Watching = append(w.Watching[:i], w.Watching[i+1:]...)
			o.refs--
			return true
		}
	}
	return false
}

// SetSpotlight points the global spotlight at o (which may be nil).
func (s *State) SetSpotlight(o *Object) {
	if old := s.globals.Spotlight; old != nil {
		old.refs--
	}
	s.globals.Spotlight = o
	if o != nil {
		o.refs++
	}
}

func (s *State) Spotlight() *Object { return s.globals.Spotlight }

func (s *State) remember(id ecs.EntityID) {
	g := &s.globals
	g.RecentlyDestroyed[g.next] = id
	g.next = (g.next + 1) % len(g.RecentlyDestroyed)
}

// Resolve implements reclaim.Registry.
func (s *State) Resolve(id ecs.EntityID) (reclaim.Entity, bool) {
	o, ok := s.objects.Get(id)
	if !ok {
		return nil, false
	}
	return o, true
}

// HardDelete implements reclaim.Registry: every counted reference to e is
// dropped and its ID retired.
func (s *State) HardDelete(e reclaim.Entity) {
	o, ok := e.(*Object)
	if !ok || o.state != s {
		s.log.Error("hard delete of foreign entity", zap.Stringer("id", e.ID()))
		return
	}
	for _, w := range s.watchers {
		s.Unwatch(w, o)
	}
	if o.Container != nil {
		s.takeOut(o)
	}
	for len(o.Contents) > 0 {
		s.takeOut(o.Contents[len(o.Contents)-1])
	}
	if s.globals.Spotlight == o {
		s.SetSpotlight(nil)
	}
	if o.deleteCost > 0 {
		<-s.clock.After(o.deleteCost)
	}
	s.world.Free(o.id)
	s.hardDeleted++
}

// Collect frees every object whose destruction was requested and that
// nothing holds any more. It returns the number freed.
func (s *State) Collect() int {
	n := 0
	for _, id := range s.objects.IDs() {
		o, _ := s.objects.Get(id)
		m := o.Mark()
		if !m.Pending() || m.Destroying() || o.refs > 0 || o.pooled {
			continue
		}
		s.world.Free(id)
		n++
	}
	s.collected += uint64(n)
	return n
}

// ScanRoots implements reclaim.RootSource.
func (s *State) ScanRoots() []reclaim.RootGroup {
	world := make([]reclaim.Root, 0, s.objects.Len())
	s.objects.EachSorted(func(id ecs.EntityID, o *Object) {
		world = append(world, reclaim.Root{Name: o.kind + " " + id.String(), Value: o})
	})
	sessions := make([]reclaim.Root, len(s.watchers))
	for i, w := range s.watchers {
		sessions[i] = reclaim.Root{Name: w.Name, Value: w}
	}
	return []reclaim.RootGroup{
		{Name: "Globals", Roots: []reclaim.Root{{Name: "globals", Value: &s.globals}}},
		{Name: "World", Roots: world},
		{Name: "Sessions", Roots: sessions},
	}
}

// Stats summarises the simulated world.
type Stats struct {
	Live        int
	Pending     int
	Leaked      int
	Pooled      int
	Collected   uint64
	HardDeleted uint64
	ByKind      map[string]int
}

func (s *State) Stats() Stats {
	st := Stats{
		Live:        s.objects.Len(),
		Collected:   s.collected,
		HardDeleted: s.hardDeleted,
		ByKind:      make(map[string]int),
	}
	s.objects.Each(func(_ ecs.EntityID, o *Object) {
		st.ByKind[o.kind]++
		switch {
		case o.pooled:
			st.Pooled++
		case o.mark.Pending() && o.refs > 0:
			st.Leaked++
			st.Pending++
		case o.mark.Pending():
			st.Pending++
		}
	})
	return st
}

// Leaked returns up to limit objects that were destroyed but are still
// held, in ID order.
func (s *State) Leaked(limit int) []*Object {
	var out []*Object
	for _, id := range s.objects.IDs() {
		o, _ := s.objects.Get(id)
		if o.mark.Pending() && o.refs > 0 {
			out = append(out, o)
			if len(out) == limit {
				break
			}
		}
	}
	return out
}

// Kinds returns the live kinds, sorted.
func (s *State) Kinds() []string {
	st := s.Stats()
	out := make([]string, 0, len(st.ByKind))
	for k := range st.ByKind {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
