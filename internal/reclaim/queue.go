package reclaim

import (
	"slices"

	"github.com/l1jgo/reclaimer/internal/core/ecs"
)

// Stage is one escalation level.
type Stage int

const (
	StageFilter Stage = iota
	StageCheck
	StageHardDelete

	StageCount
)

func (s Stage) String() string {
	switch s {
	case StageFilter:
		return "filter"
	case StageCheck:
		return "check"
	case StageHardDelete:
		return "harddelete"
	}
	return "beyond"
}

// QueueEntry records when an entity was admitted to a stage. The tick is
// also stamped on the entity's Mark; a mismatch on drain means the token
// now belongs to someone else.
type QueueEntry struct {
	At Tick
	ID ecs.EntityID
}

// compactMin is the backing capacity below which trimming never reallocates.
const compactMin = 4096

// queue is append-only at the tail and drained from the head, so entries are
// in non-decreasing At order.
type queue struct {
	stage Stage
	dwell Tick
	items []QueueEntry
	// done counts head entries already processed but not yet trimmed. It
	// survives a drain interrupted by the tick budget.
	done int
}

func newQueue(st Stage, dwell Tick) *queue {
	return &queue{stage: st, dwell: dwell, items: make([]QueueEntry, 0, 256)}
}

func (q *queue) push(e QueueEntry) {
	q.items = append(q.items, e)
}

func (q *queue) Len() int { return len(q.items) - q.done }

// trim drops the processed prefix in one operation. Reslicing keeps it O(1);
// the backing array is swapped for a right-sized one once most of it is dead.
func (q *queue) trim() {
	n := q.done
	if n == 0 {
		return
	}
	q.done = 0
	if n >= len(q.items) {
		clear(q.items)
		q.items = q.items[:0]
		return
	}
	rest := len(q.items) - n
	if cap(q.items) > compactMin && rest < cap(q.items)/4 {
		fresh := make([]QueueEntry, rest, rest*2)
		copy(fresh, q.items[n:])
		q.items = fresh
		return
	}
	clear(q.items[:n])
	q.items = q.items[n:]
}

func (q *queue) pending() []QueueEntry {
	return slices.Clone(q.items[q.done:])
}

// QueueState is a copy of every stage's pending entries.
type QueueState struct {
	Stages [StageCount][]QueueEntry
}

// Len returns the total number of entries.
func (s QueueState) Len() int {
	n := 0
	for _, q := range s.Stages {
		n += len(q)
	}
	return n
}

// Admit records ent in stage st. Stages past the last one hard delete.
func (e *Engine) Admit(ent Entity, st Stage) {
	if ent == nil {
		return
	}
	if st < StageFilter {
		st = StageFilter
	}
	if st >= StageCount {
		e.HardDelete(ent)
		return
	}
	now := e.now()
	ent.Mark().stamp(now)
	e.queues[st].push(QueueEntry{At: now, ID: ent.ID()})
}

// drain processes the eligible prefix of stage st. It reports false when the
// pass has to stop: budget exhausted or a reference scan was started.
func (e *Engine) drain(st Stage) bool {
	q := e.queues[st]
	q.trim()
	cutoff := e.now() - q.dwell
	// parked entries re-enter this queue; never look at them in the same drain
	limit := len(q.items)
	for q.done < limit {
		it := q.items[q.done]
		if it.At > cutoff {
			break
		}
		q.done++

		ent, ok := e.reg.Resolve(it.ID)
		switch {
		case !ok || !ent.Mark().stampedAt(it.At):
			e.collected(st, it.ID)
		case st == StageHardDelete:
			// 硬刪除階段不檢查可達性，也不算失敗
			e.HardDelete(ent)
		case !e.failed(st, ent):
			return false
		}
		if e.sched.Exhausted() {
			return false
		}
	}
	q.trim()
	return true
}

func (e *Engine) collected(st Stage, id ecs.EntityID) {
	e.rollTick()
	e.passCounts[st]++
	e.collectedThisTick++
	e.totalCollected++
	delete(e.findOnFail, id)
}

// failed handles an entity still reachable after its dwell in the Filter
// or Check stage. It reports false when a reference scan was started and
// the pass must end.
func (e *Engine) failed(st Stage, ent Entity) bool {
	ts := e.stats.Get(ent.Kind())
	e.failCounts[st]++
	ts.Failures[st]++

	switch st {
	case StageFilter:
		e.Admit(ent, StageCheck)
	case StageCheck:
		id := ent.ID()
		e.log.Warn("entity was unable to be collected",
			zapKind(ts.Kind), zapID(id), zapStage(st))
		scan := false
		if e.cfg.Diagnostics {
			_, flagged := e.findOnFail[id]
			delete(e.findOnFail, id)
			scan = flagged || ts.AutoFindRefs || e.cfg.HardLookup
		}
		if ts.SuspendedForLag {
			e.Admit(ent, StageCheck)
		} else {
			e.Admit(ent, StageHardDelete)
		}
		if scan && e.startScan(ent) {
			return false
		}
	}
	return true
}
