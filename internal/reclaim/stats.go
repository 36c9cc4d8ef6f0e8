package reclaim

import (
	"sort"
	"time"
)

// TypeStats aggregates everything the engine knows about one entity kind.
// Entries live until the process exits or the table is reset.
type TypeStats struct {
	Kind string

	Requests    int64
	HookTime    time.Duration
	SleptInHook int64 // hook spanned a tick boundary; time not aggregated

	Failures [StageCount]int64 // 依階段計；HardDelete 階段不檢查可達性，恆為 0

	HardDeletes    int64
	HardDeleteTime time.Duration
	HardDeleteMax  time.Duration
	Overruns       int

	IgnoredForce int64 // 強制刪除卻回傳 let_live
	NoHint       int64 // 清理函式沒有給提示

	SuspendedForLag bool // 超時次數達上限；之後 Check 失敗一律停在 Check
	AdminWarned     bool // 每種類型只通知 GM 一次
	AutoFindRefs    bool // 策略表：Check 失敗時自動搜尋參考

	overrunLimit int
	warnedNoHint bool
	warnedForce  bool
}

// AvgHardDelete is the mean hard delete duration, zero when none ran.
func (s *TypeStats) AvgHardDelete() time.Duration {
	if s.HardDeletes == 0 {
		return 0
	}
	return s.HardDeleteTime / time.Duration(s.HardDeletes)
}

// StatsTable is the per-kind statistics registry.
type StatsTable struct {
	byKind   map[string]*TypeStats
	policies map[string]Policy
}

func NewStatsTable(policies map[string]Policy) *StatsTable {
	return &StatsTable{
		byKind:   make(map[string]*TypeStats, 128),
		policies: policies,
	}
}

// Get returns the stats for kind, creating them (with policy applied) on
// first use.
func (t *StatsTable) Get(kind string) *TypeStats {
	if s, ok := t.byKind[kind]; ok {
		return s
	}
	s := &TypeStats{Kind: kind}
	if p, ok := t.policies[kind]; ok {
		s.AutoFindRefs = p.AutoFindRefs
		s.overrunLimit = p.OverrunLimit
	}
	t.byKind[kind] = s
	return s
}

func (t *StatsTable) Lookup(kind string) (*TypeStats, bool) {
	s, ok := t.byKind[kind]
	return s, ok
}

func (t *StatsTable) Len() int { return len(t.byKind) }

// Sorted returns the entries ordered by kind.
func (t *StatsTable) Sorted() []*TypeStats {
	out := make([]*TypeStats, 0, len(t.byKind))
	for _, s := range t.byKind {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// Reset drops every entry, including the suspended-for-lag flags.
func (t *StatsTable) Reset() {
	clear(t.byKind)
}
