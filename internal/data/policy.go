package data

import (
	"fmt"
	"os"

	"github.com/l1jgo/reclaimer/internal/reclaim"
	"gopkg.in/yaml.v3"
)

// PolicyEntry overrides reclamation behaviour for one entity kind.
type PolicyEntry struct {
	Kind         string `yaml:"kind"`
	AutoFindRefs bool   `yaml:"auto_find_refs"`
	OverrunLimit int    `yaml:"overrun_limit"`
	Note         string `yaml:"note"`
}

// PolicyTable provides lookup of per-kind reclamation policies.
type PolicyTable struct {
	byKind map[string]*PolicyEntry
}

// LoadPolicyTable loads reclaim_policy.yaml.
func LoadPolicyTable(path string) (*PolicyTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read reclaim policy: %w", err)
	}
	return parsePolicyTable(raw)
}

func parsePolicyTable(raw []byte) (*PolicyTable, error) {
	var entries []PolicyEntry
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse reclaim policy: %w", err)
	}
	t := &PolicyTable{
		byKind: make(map[string]*PolicyEntry, len(entries)),
	}
	for i := range entries {
		e := &entries[i]
		if e.Kind == "" {
			return nil, fmt.Errorf("reclaim policy entry %d: missing kind", i)
		}
		if e.OverrunLimit < 0 {
			return nil, fmt.Errorf("reclaim policy %s: negative overrun_limit", e.Kind)
		}
		if _, dup := t.byKind[e.Kind]; dup {
			return nil, fmt.Errorf("reclaim policy %s: duplicate kind", e.Kind)
		}
		t.byKind[e.Kind] = e
	}
	return t, nil
}

// Get returns the policy for kind, or nil if none.
func (t *PolicyTable) Get(kind string) *PolicyEntry {
	return t.byKind[kind]
}

// Count returns the total number of policies loaded.
func (t *PolicyTable) Count() int {
	return len(t.byKind)
}

// Policies converts the table into the engine's policy map.
func (t *PolicyTable) Policies() map[string]reclaim.Policy {
	out := make(map[string]reclaim.Policy, len(t.byKind))
	for kind, e := range t.byKind {
		out[kind] = reclaim.Policy{AutoFindRefs: e.AutoFindRefs, OverrunLimit: e.OverrunLimit}
	}
	return out
}
