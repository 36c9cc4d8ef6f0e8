package reclaim

import "fmt"

// RequestDestroy is the single entry point for destroying an entity. It runs
// the cleanup hook once and routes the entity according to the returned Hint.
// Requests for an entity already pending are counted and otherwise ignored;
// a request made while the entity's own hook is running panics with
// *ReentrantDestroyError.
func (e *Engine) RequestDestroy(ent Entity, force bool) {
	if ent == nil {
		return
	}
	ts := e.stats.Get(ent.Kind())
	ts.Requests++

	m := ent.Mark()
	if m.Destroying() {
		err := &ReentrantDestroyError{Kind: ts.Kind, ID: ent.ID()}
		e.log.Error("destroy loop detected", zapKind(ts.Kind), zapID(ent.ID()))
		panic(err)
	}
	if m.Pending() {
		return
	}

	for _, o := range e.observers {
		if o.PreDestroy(ent, force) {
			return
		}
	}

	m.enterHook()
	startTick := e.now()
	start := e.clock.Now()
	for _, o := range e.observers {
		o.Destroying(ent, force)
	}
	hint := ent.Destroy(force)
	if e.now() != startTick {
		ts.SleptInHook++
	} else {
		ts.HookTime += e.clock.Now().Sub(start)
	}

	if e.rec != nil {
		e.rec.Destroyed(ent, e.now())
	}
	if _, ok := e.reg.Resolve(ent.ID()); !ok {
		// the host reclaimed it synchronously inside the hook
		delete(e.findOnFail, ent.ID())
		return
	}

	switch hint {
	case HintDone:
		// 不會進入 Check，失敗時搜尋的旗標沒有意義
		m.stamp(e.now())
		delete(e.findOnFail, ent.ID())
	case HintQueue:
		e.Admit(ent, StageFilter)
	case HintSelfManaged:
		m.clear()
		delete(e.findOnFail, ent.ID())
	case HintLetLive:
		if !force {
			m.clear()
			delete(e.findOnFail, ent.ID())
			return
		}
		ts.IgnoredForce++
		if e.cfg.Diagnostics && !ts.warnedForce {
			ts.warnedForce = true
			e.log.Warn("kind was force deleted but returned let_live; it does not respect the force flag, further instances will be queued",
				zapKind(ts.Kind))
		}
		e.Admit(ent, StageFilter)
	case HintHardDelete:
		e.Admit(ent, StageHardDelete)
	case HintHardDeleteNow:
		e.HardDelete(ent)
	case HintFindReference:
		e.Admit(ent, StageFilter)
		if e.cfg.Diagnostics {
			e.startScan(ent)
		}
	case HintFindReferenceOnFailure:
		e.Admit(ent, StageFilter)
		if e.cfg.Diagnostics {
			e.findOnFail[ent.ID()] = struct{}{}
		}
	case HintNone:
		ts.NoHint++
		if e.cfg.Diagnostics && !ts.warnedNoHint {
			ts.warnedNoHint = true
			e.log.Warn("cleanup hook returned no hint; queued", zapKind(ts.Kind))
		}
		e.Admit(ent, StageFilter)
	default:
		panic(fmt.Sprintf("reclaim: %s returned invalid hint %d", ts.Kind, uint8(hint)))
	}
}
