package data

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/l1jgo/reclaimer/internal/reclaim"
	"gopkg.in/yaml.v3"
)

// ChurnEntry describes how the simulated world spawns and destroys one kind.
type ChurnEntry struct {
	Kind string `yaml:"kind"`
	// Weight is the relative spawn frequency.
	Weight int `yaml:"weight"`
	// Hint is used when no script decides. Defaults to "queue".
	Hint string `yaml:"hint"`
	// LifetimeTicks is how long an instance lives before it is destroyed.
	LifetimeTicks int `yaml:"lifetime_ticks"`
	// LeakChance is the probability that a session keeps watching a
	// destroyed instance, keeping it reachable.
	// 模擬洩漏：1 = 每個實例都會走到 HardDelete。
	LeakChance float64 `yaml:"leak_chance"`
	// DeleteCostMs is how long a hard delete of this kind takes.
	DeleteCostMs int `yaml:"delete_cost_ms"`
	// Contents spawns that many ContentKind objects inside each instance.
	Contents    int    `yaml:"contents"`
	ContentKind string `yaml:"content_kind"`
	// Overlay attaches each instance to a random live object as a cosmetic
	// overlay, which holds no ownership.
	Overlay bool `yaml:"overlay"`
	// Spotlight points the global spotlight at each new instance. The
	// spotlight holds a counted reference until the next one spawns.
	Spotlight bool `yaml:"spotlight"`

	hint reclaim.Hint
}

// DefaultHint is the parsed Hint field.
func (e *ChurnEntry) DefaultHint() reclaim.Hint { return e.hint }

// DeleteCost is DeleteCostMs as a duration.
func (e *ChurnEntry) DeleteCost() time.Duration {
	return time.Duration(e.DeleteCostMs) * time.Millisecond
}

// ChurnTable is the weighted list of simulated kinds.
type ChurnTable struct {
	entries []*ChurnEntry
	byKind  map[string]*ChurnEntry
	total   int
}

// LoadChurnTable loads churn.yaml.
func LoadChurnTable(path string) (*ChurnTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read churn table: %w", err)
	}
	return parseChurnTable(raw)
}

func parseChurnTable(raw []byte) (*ChurnTable, error) {
	var entries []ChurnEntry
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse churn table: %w", err)
	}
	t := &ChurnTable{
		byKind: make(map[string]*ChurnEntry, len(entries)),
	}
	for i := range entries {
		e := &entries[i]
		if e.Kind == "" {
			return nil, fmt.Errorf("churn entry %d: missing kind", i)
		}
		if e.Weight <= 0 {
			return nil, fmt.Errorf("churn %s: weight must be positive", e.Kind)
		}
		if e.LeakChance < 0 || e.LeakChance > 1 {
			return nil, fmt.Errorf("churn %s: leak_chance out of range", e.Kind)
		}
		if e.Contents > 0 && e.ContentKind == "" {
			return nil, fmt.Errorf("churn %s: contents without content_kind", e.Kind)
		}
		if e.Hint == "" {
			e.Hint = reclaim.HintQueue.String()
		}
		h, ok := reclaim.ParseHint(e.Hint)
		if !ok {
			return nil, fmt.Errorf("churn %s: unknown hint %q", e.Kind, e.Hint)
		}
		e.hint = h
		t.byKind[e.Kind] = e
		t.entries = append(t.entries, e)
		t.total += e.Weight
	}
	sort.SliceStable(t.entries, func(i, j int) bool { return t.entries[i].Kind < t.entries[j].Kind })
	return t, nil
}

// Get returns the entry for kind, or nil if none.
func (t *ChurnTable) Get(kind string) *ChurnEntry {
	return t.byKind[kind]
}

// Count returns the number of kinds.
func (t *ChurnTable) Count() int {
	return len(t.entries)
}

// Pick maps r in [0,1) onto an entry by weight.
func (t *ChurnTable) Pick(r float64) *ChurnEntry {
	if len(t.entries) == 0 {
		return nil
	}
	n := int(r * float64(t.total))
	for _, e := range t.entries {
		if n < e.Weight {
			return e
		}
		n -= e.Weight
	}
	return t.entries[len(t.entries)-1]
}
