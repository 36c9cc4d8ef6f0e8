package reclaim

import (
	"sort"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/l1jgo/reclaimer/internal/core/ecs"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type testObj struct {
	id   ecs.EntityID
	kind string
	mark Mark
	hint Hint

	calls     int
	forced    []bool
	onDestroy func(force bool)

	Refs     []*testObj
	Holding  ecs.EntityID
	Overlays []*testObj
	Cache    *testObj `reclaim:"-"`
}

func (o *testObj) ID() ecs.EntityID { return o.id }
func (o *testObj) Kind() string     { return o.kind }
func (o *testObj) Mark() *Mark      { return &o.mark }
func (o *testObj) Destroy(force bool) Hint {
	o.calls++
	o.forced = append(o.forced, force)
	if o.onDestroy != nil {
		o.onDestroy(force)
	}
	return o.hint
}

// fakeHost is a Registry, Scheduler, RootSource and Notifier in one. Objects
// stay resolvable until collect or HardDelete removes them.
type fakeHost struct {
	clk  *testclock.Clock
	pool *ecs.EntityPool
	tick int64

	// budget is the number of work units per tick before Exhausted reports
	// true; negative means unlimited.
	budget int
	used   int

	live       map[ecs.EntityID]*testObj
	deleteCost map[string]time.Duration
	deleted    []ecs.EntityID
	postponed  []time.Duration

	globals  []Root
	sessions []Root

	notes map[string][]string
	scans []string
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		clk:        testclock.NewClock(time.Unix(1700000000, 0)),
		pool:       ecs.NewEntityPool(),
		budget:     -1,
		live:       make(map[ecs.EntityID]*testObj),
		deleteCost: make(map[string]time.Duration),
		notes:      make(map[string][]string),
	}
}

func (h *fakeHost) spawn(kind string, hint Hint) *testObj {
	o := &testObj{id: h.pool.Create(), kind: kind, hint: hint}
	h.live[o.id] = o
	return o
}

// collect simulates the host dropping its last reference.
func (h *fakeHost) collect(o *testObj) {
	delete(h.live, o.id)
	h.pool.Destroy(o.id)
}

func (h *fakeHost) Resolve(id ecs.EntityID) (Entity, bool) {
	o, ok := h.live[id]
	if !ok {
		return nil, false
	}
	return o, true
}

func (h *fakeHost) HardDelete(e Entity) {
	h.clk.Advance(h.deleteCost[e.Kind()])
	h.deleted = append(h.deleted, e.ID())
	h.collect(e.(*testObj))
}

func (h *fakeHost) CurrentTick() int64 { return h.tick }

func (h *fakeHost) Exhausted() bool {
	if h.budget < 0 {
		return false
	}
	h.used++
	return h.used >= h.budget
}

func (h *fakeHost) Postpone(d time.Duration) { h.postponed = append(h.postponed, d) }

func (h *fakeHost) ScanRoots() []RootGroup {
	ids := make([]ecs.EntityID, 0, len(h.live))
	for id := range h.live {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	world := make([]Root, len(ids))
	for i, id := range ids {
		world[i] = Root{Name: id.String(), Value: h.live[id]}
	}
	return []RootGroup{
		{Name: "Globals", Roots: h.globals},
		{Name: "World", Roots: world},
		{Name: "Sessions", Roots: h.sessions},
	}
}

func (h *fakeHost) NotifyAdmins(kind, msg string) { h.notes[kind] = append(h.notes[kind], msg) }
func (h *fakeHost) ReportScan(line string)        { h.scans = append(h.scans, line) }

// advance moves to the next tick and refills the budget.
func (h *fakeHost) advance() {
	h.tick++
	h.used = 0
}

// fireAt runs Fire at the given tick.
func (h *fakeHost) fireAt(e *Engine, tick int64) {
	h.tick = tick
	h.used = 0
	e.Fire()
}

type recorder struct {
	destroyed []ecs.EntityID
	suspended []string
}

func (r *recorder) Destroyed(e Entity, _ Tick)   { r.destroyed = append(r.destroyed, e.ID()) }
func (r *recorder) Suspended(kind string, _ int) { r.suspended = append(r.suspended, kind) }

func newTestEngine(t *testing.T, cfg Config, opts ...func(*Deps)) (*Engine, *fakeHost) {
	t.Helper()
	h := newFakeHost()
	deps := Deps{
		Registry:  h,
		Scheduler: h,
		Clock:     h.clk,
		Log:       zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel)),
		Roots:     h,
		Notifier:  h,
	}
	for _, o := range opts {
		o(&deps)
	}
	return New(cfg, deps), h
}

// testConfig has short dwell times and no budget-driven features.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.FilterDwell = 0
	cfg.CheckDwell = 2
	cfg.HardDeleteDwell = 0
	cfg.PostponeThreshold = 0
	return cfg
}
