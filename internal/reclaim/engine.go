package reclaim

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"github.com/l1jgo/reclaimer/internal/core/ecs"
	"go.uber.org/zap"
)

var (
	// ErrScanNotConfirmed is returned when a reference scan was requested
	// without skipConfirmation and nobody confirmed it.
	ErrScanNotConfirmed = errors.New("reclaim: reference scan not confirmed")
	// ErrScanUnavailable is returned when the engine has no root source.
	ErrScanUnavailable = errors.New("reclaim: reference scanning is not configured")
)

// Deps are the collaborators an Engine needs. Registry and Scheduler are
// required; the rest are optional.
type Deps struct {
	Registry  Registry
	Scheduler Scheduler
	Clock     clock.Clock
	Log       *zap.Logger
	Roots     RootSource
	Notifier  Notifier
	Recorder  Recorder
	Policies  map[string]Policy
	// Confirm is asked before an unconfirmed reference scan starts.
	Confirm func(target Entity) bool
}

// Engine owns the escalation queues and the statistics table. All methods
// must be called from the game-loop goroutine, except Published.
type Engine struct {
	cfg       Config
	reg       Registry
	sched     Scheduler
	clock     clock.Clock
	log       *zap.Logger
	notify    Notifier
	rec       Recorder
	confirm   func(Entity) bool
	observers []Observer

	queues     [StageCount]*queue
	stats      *StatsTable
	scanner    *Scanner
	findOnFail map[ecs.EntityID]struct{}

	// 本 tick 的計數；countTick 換了才歸零，更新階段的立即硬刪除也算進去
	countTick         Tick
	deletedThisTick   int
	collectedThisTick int
	totalDeleted      int64
	totalCollected    int64
	passCounts        [StageCount]int64
	failCounts        [StageCount]int64
	slowest           time.Duration
	slowestKind       string

	published atomic.Pointer[Snapshot]
}

func New(cfg Config, deps Deps) *Engine {
	if deps.Clock == nil {
		deps.Clock = clock.WallClock
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	e := &Engine{
		cfg:        cfg,
		reg:        deps.Registry,
		sched:      deps.Scheduler,
		clock:      deps.Clock,
		log:        deps.Log,
		notify:     deps.Notifier,
		rec:        deps.Recorder,
		confirm:    deps.Confirm,
		stats:      NewStatsTable(deps.Policies),
		findOnFail: make(map[ecs.EntityID]struct{}),
	}
	for st := StageFilter; st < StageCount; st++ {
		e.queues[st] = newQueue(st, cfg.dwell(st))
	}
	if deps.Roots != nil {
		e.scanner = NewScanner(deps.Roots, cfg.ScanDepth, cfg.ScanSkipFields, e.log, e.reportScan)
	}
	e.publish()
	return e
}

// Observe registers o for every subsequent destruction request.
func (e *Engine) Observe(o Observer) {
	e.observers = append(e.observers, o)
}

func (e *Engine) Config() Config     { return e.cfg }
func (e *Engine) Stats() *StatsTable { return e.stats }
func (e *Engine) Scanner() *Scanner  { return e.scanner }

func (e *Engine) now() Tick { return Tick(e.sched.CurrentTick()) }

// rollTick zeroes the per-tick counters once the scheduler has moved on.
func (e *Engine) rollTick() {
	if now := e.now(); now != e.countTick {
		e.countTick = now
		e.deletedThisTick = 0
		e.collectedThisTick = 0
	}
}

// Paused reports whether a reference scan has suspended queue processing.
func (e *Engine) Paused() bool { return e.scanner != nil && e.scanner.Active() }

// QueueLen returns the number of entries waiting in st.
func (e *Engine) QueueLen(st Stage) int { return e.queues[st].Len() }

// Fire is the per-tick step. While a reference scan runs it only advances
// the scan. Otherwise it drains Filter, Check and HardDelete in order and
// stops the whole pass once the budget is gone; the next Fire starts over at
// Filter rather than resuming the interrupted stage.
func (e *Engine) Fire() {
	e.rollTick()
	defer e.publish()

	if e.Paused() {
		e.scanner.Step(e.sched.Exhausted)
		return
	}
	for st := StageFilter; st < StageCount; st++ {
		if !e.drain(st) {
			return
		}
	}
}

// FindReferences starts a reference scan for target. Calling it while a
// scan is running cancels that scan instead.
func (e *Engine) FindReferences(target Entity, skipConfirmation bool) error {
	if e.scanner == nil {
		return ErrScanUnavailable
	}
	if e.scanner.Active() {
		e.scanner.Cancel()
		return nil
	}
	if target == nil {
		return nil
	}
	if !skipConfirmation && (e.confirm == nil || !e.confirm(target)) {
		return ErrScanNotConfirmed
	}
	e.scanner.Start(target)
	return nil
}

// FlagFindOnFailure asks for a reference scan if id fails the Check stage.
func (e *Engine) FlagFindOnFailure(id ecs.EntityID) {
	e.findOnFail[id] = struct{}{}
}

func (e *Engine) startScan(target Entity) bool {
	if e.scanner == nil || e.scanner.Active() {
		return false
	}
	e.scanner.Start(target)
	return true
}

func (e *Engine) reportScan(line string) {
	if e.notify != nil {
		e.notify.ReportScan(line)
	}
}

// QueueState copies the pending entries of every stage.
func (e *Engine) QueueState() QueueState {
	var s QueueState
	for st := StageFilter; st < StageCount; st++ {
		s.Stages[st] = e.queues[st].pending()
	}
	return s
}

// Recover merges the queue state of a previous engine instance into this
// one. Entries already present are not duplicated and each stage stays in
// admission order.
func (e *Engine) Recover(prev QueueState) {
	merged := 0
	for st := StageFilter; st < StageCount; st++ {
		q := e.queues[st]
		q.trim()
		have := make(map[QueueEntry]struct{}, len(q.items))
		for _, it := range q.items {
			have[it] = struct{}{}
		}
		for _, it := range prev.Stages[st] {
			if _, dup := have[it]; dup {
				continue
			}
			have[it] = struct{}{}
			q.items = append(q.items, it)
			merged++
		}
		slices.SortStableFunc(q.items, func(a, b QueueEntry) int {
			switch {
			case a.At < b.At:
				return -1
			case a.At > b.At:
				return 1
			}
			return 0
		})
	}
	e.log.Info("recovered reclamation queues", zap.Int("merged", merged))
	e.publish()
}

// Status is the operator-facing summary of the engine.
type Status struct {
	Queued            [StageCount]int
	DeletedThisTick   int
	CollectedThisTick int
	TotalDeleted      int64
	TotalCollected    int64
	Passes            [StageCount]int64
	Failures          [StageCount]int64
	Slowest           time.Duration
	SlowestKind       string
	Scanning          bool
}

func (e *Engine) Status() Status {
	s := Status{
		DeletedThisTick:   e.deletedThisTick,
		CollectedThisTick: e.collectedThisTick,
		TotalDeleted:      e.totalDeleted,
		TotalCollected:    e.totalCollected,
		Passes:            e.passCounts,
		Failures:          e.failCounts,
		Slowest:           e.slowest,
		SlowestKind:       e.slowestKind,
		Scanning:          e.Paused(),
	}
	for st := StageFilter; st < StageCount; st++ {
		s.Queued[st] = e.queues[st].Len()
	}
	return s
}

// Ratio is the share of finished destructions that were collected without
// a hard delete, in percent.
func (s Status) Ratio() (float64, bool) {
	total := s.TotalDeleted + s.TotalCollected
	if total == 0 {
		return 0, false
	}
	return float64(s.TotalCollected) / float64(total) * 100, true
}

// String renders the one-line status, e.g.
// "Q:3|1|0|D:0|G:2|GR:100.00%|TD:0|TG:2|P:2,0,0|F:1,0,0".
func (s Status) String() string {
	ratio := "n/a"
	if r, ok := s.Ratio(); ok {
		ratio = fmt.Sprintf("%.2f%%", r)
	}
	return fmt.Sprintf("Q:%d|%d|%d|D:%d|G:%d|GR:%s|TD:%d|TG:%d|P:%s|F:%s",
		s.Queued[StageFilter], s.Queued[StageCheck], s.Queued[StageHardDelete],
		s.DeletedThisTick, s.CollectedThisTick, ratio,
		s.TotalDeleted, s.TotalCollected,
		joinCounts(s.Passes), joinCounts(s.Failures))
}

func joinCounts(c [StageCount]int64) string {
	parts := make([]string, len(c))
	for i, v := range c {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ",")
}

// Snapshot is what the engine publishes for readers on other goroutines.
type Snapshot struct {
	Tick   Tick
	Status Status
	Kinds  []TypeStats
}

// Published returns the snapshot taken at the end of the last Fire. Safe
// for concurrent use.
func (e *Engine) Published() *Snapshot {
	return e.published.Load()
}

func (e *Engine) publish() {
	sorted := e.stats.Sorted()
	kinds := make([]TypeStats, len(sorted))
	for i, s := range sorted {
		kinds[i] = *s
	}
	var tick Tick
	if e.sched != nil {
		tick = e.now()
	}
	e.published.Store(&Snapshot{Tick: tick, Status: e.Status(), Kinds: kinds})
}

func zapKind(kind string) zap.Field   { return zap.String("kind", kind) }
func zapID(id ecs.EntityID) zap.Field { return zap.Stringer("id", id) }
func zapStage(st Stage) zap.Field     { return zap.Stringer("stage", st) }
