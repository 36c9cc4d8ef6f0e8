package reclaim

import (
	"fmt"

	"go.uber.org/zap"
)

// HardDelete irrecoverably destroys ent and applies the overrun policy.
func (e *Engine) HardDelete(ent Entity) {
	if ent == nil {
		return
	}
	id := ent.ID()
	ts := e.stats.Get(ent.Kind())

	start := e.clock.Now()
	e.reg.HardDelete(ent)
	took := e.clock.Now().Sub(start)

	delete(e.findOnFail, id)
	e.rollTick()
	e.deletedThisTick++
	e.totalDeleted++
	ts.HardDeletes++
	ts.HardDeleteTime += took
	if took > ts.HardDeleteMax {
		ts.HardDeleteMax = took
	}
	if took > e.slowest {
		e.slowest = took
		e.slowestKind = ts.Kind
	}

	if e.cfg.PostponeThreshold > 0 && took > e.cfg.PostponeThreshold {
		e.sched.Postpone(took)
	}

	if e.cfg.OverrunThreshold <= 0 || took <= e.cfg.OverrunThreshold {
		return
	}
	e.log.Warn("hard delete overran threshold",
		zapKind(ts.Kind), zapID(id),
		zap.Duration("took", took),
		zap.Duration("threshold", e.cfg.OverrunThreshold))
	if !ts.AdminWarned {
		ts.AdminWarned = true
		if e.notify != nil {
			e.notify.NotifyAdmins(ts.Kind, fmt.Sprintf(
				"hard delete of %s took %s (threshold %s); this kind is lagging the server",
				ts.Kind, took.Round(0), e.cfg.OverrunThreshold))
		}
	}
	ts.Overruns++

	limit := e.cfg.OverrunLimit
	if ts.overrunLimit > 0 {
		limit = ts.overrunLimit
	}
	if limit > 0 && ts.Overruns >= limit && !ts.SuspendedForLag {
		ts.SuspendedForLag = true
		e.log.Warn("kind suspended for lag; failures will be parked at check",
			zapKind(ts.Kind), zap.Int("overruns", ts.Overruns))
		if e.rec != nil {
			e.rec.Suspended(ts.Kind, ts.Overruns)
		}
	}
}
