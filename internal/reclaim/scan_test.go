package reclaim

import (
	"testing"

	"github.com/l1jgo/reclaimer/internal/core/ecs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type globalState struct {
	Boss   *testObj
	Index  map[string]*testObj
	Owners map[ecs.EntityID]string
	Self   *globalState
}

type session struct {
	Name     string
	Watching []ecs.EntityID
}

type chain struct {
	Next   *chain
	Target *testObj
}

func findingPaths(fs []Finding) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.Path
	}
	return out
}

func scanFixture(t *testing.T) (*Engine, *fakeHost, *testObj, []Finding) {
	cfg := testConfig()
	cfg.Diagnostics = true
	e, h := newTestEngine(t, cfg)

	target := h.spawn("Ring", HintQueue)
	holder := h.spawn("Bag", HintQueue)
	holder.Refs = []*testObj{h.spawn("Gem", HintQueue), target}
	byID := h.spawn("Quest", HintQueue)
	byID.Holding = target.id
	ignored := h.spawn("Mirror", HintQueue)
	ignored.Overlays = []*testObj{target}
	ignored.Cache = target

	g := &globalState{Boss: target, Index: map[string]*testObj{"ring": target}}
	g.Self = g
	h.globals = []Root{{Name: "state", Value: g}}
	h.sessions = []Root{{Name: "alice", Value: &session{Name: "alice", Watching: []ecs.EntityID{7, target.id}}}}

	want := []Finding{
		{Path: "Globals -> state.Boss"},
		{Path: "Globals -> state.Index[ring]"},
		{Path: "World -> " + holder.id.String() + ".Refs[1]"},
		{Path: "World -> " + byID.id.String() + ".Holding", ByID: true},
		{Path: "Sessions -> alice.Watching[1]", ByID: true},
	}
	return e, h, target, want
}

func TestFindReferences(t *testing.T) {
	e, h, target, want := scanFixture(t)

	require.NoError(t, e.FindReferences(target, true))
	assert.True(t, e.Paused())
	h.fireAt(e, 1)
	assert.False(t, e.Paused())

	got := e.Scanner().Findings()
	assert.ElementsMatch(t, want, got)
	assert.Contains(t, h.scans[0], "Beginning search")
	assert.Contains(t, h.scans[len(h.scans)-1], "5 found")
}

func TestFindReferencesResumesAcrossTicks(t *testing.T) {
	e, h, target, want := scanFixture(t)
	h.budget = 1

	require.NoError(t, e.FindReferences(target, true))
	fires := 0
	for e.Paused() && fires < 1000 {
		fires++
		h.fireAt(e, int64(fires))
	}
	assert.Greater(t, fires, 10)
	assert.ElementsMatch(t, findingPaths(want), findingPaths(e.Scanner().Findings()))
}

func TestScanPausesQueues(t *testing.T) {
	e, h, target, _ := scanFixture(t)
	h.budget = 1
	o := h.spawn("Leaf", HintQueue)
	h.tick = 1
	e.RequestDestroy(o, false)

	require.NoError(t, e.FindReferences(target, true))
	h.fireAt(e, 1)
	assert.True(t, e.Paused())
	assert.Equal(t, 1, e.QueueLen(StageFilter), "queues are not drained while scanning")
	assert.True(t, e.Status().Scanning)
}

func TestSecondFindReferencesCancels(t *testing.T) {
	e, h, target, _ := scanFixture(t)
	h.budget = 1

	require.NoError(t, e.FindReferences(target, true))
	h.fireAt(e, 1)
	require.True(t, e.Paused())

	require.NoError(t, e.FindReferences(target, true))
	assert.False(t, e.Paused())
	assert.Contains(t, h.scans[len(h.scans)-1], "Cancelled")

	before := len(h.scans)
	h.budget = -1
	h.fireAt(e, 2)
	assert.Len(t, h.scans, before, "a cancelled scan does no further work")
}

func TestFindReferencesConfirmation(t *testing.T) {
	e, _, target, _ := scanFixture(t)
	assert.ErrorIs(t, e.FindReferences(target, false), ErrScanNotConfirmed)
	assert.False(t, e.Paused())

	var asked []ecs.EntityID
	e2, _ := newTestEngine(t, testConfig(), func(d *Deps) {
		d.Confirm = func(ent Entity) bool {
			asked = append(asked, ent.ID())
			return true
		}
	})
	require.NoError(t, e2.FindReferences(target, false))
	assert.Equal(t, []ecs.EntityID{target.id}, asked)
	assert.True(t, e2.Paused())

	e3 := New(testConfig(), Deps{Registry: newFakeHost(), Scheduler: newFakeHost()})
	assert.ErrorIs(t, e3.FindReferences(target, true), ErrScanUnavailable)
}

func TestScanDepthLimit(t *testing.T) {
	for _, tc := range []struct {
		depth int
		found bool
	}{
		{depth: 1, found: false},
		{depth: 2, found: true},
	} {
		cfg := testConfig()
		cfg.ScanDepth = tc.depth
		e, h := newTestEngine(t, cfg)
		target := h.spawn("Key", HintQueue)
		h.globals = []Root{{Name: "deep", Value: &chain{Next: &chain{Target: target}}}}

		require.NoError(t, e.FindReferences(target, true))
		h.fireAt(e, 1)
		paths := findingPaths(e.Scanner().Findings())
		if tc.found {
			assert.Equal(t, []string{"Globals -> deep.Next.Target"}, paths)
		} else {
			assert.Empty(t, paths)
		}
	}
}

func TestMapKeysMatchByID(t *testing.T) {
	e, h := newTestEngine(t, testConfig())
	target := h.spawn("Key", HintQueue)
	h.globals = []Root{{Name: "owners", Value: &globalState{Owners: map[ecs.EntityID]string{target.id: "bob"}}}}

	require.NoError(t, e.FindReferences(target, true))
	h.fireAt(e, 1)
	fs := e.Scanner().Findings()
	require.Len(t, fs, 1)
	assert.True(t, fs[0].ByID)
	assert.Contains(t, fs[0].Path, "(key)")
}

func TestFindReferenceHint(t *testing.T) {
	cfg := testConfig()
	e, h := newTestEngine(t, cfg)
	e.RequestDestroy(h.spawn("Ghost", HintFindReference), false)
	assert.False(t, e.Paused(), "reference hints are inert without diagnostics")

	cfg.Diagnostics = true
	e, h = newTestEngine(t, cfg)
	o := h.spawn("Ghost", HintFindReference)
	e.RequestDestroy(o, false)
	assert.True(t, e.Paused())
	assert.Equal(t, 1, e.QueueLen(StageFilter))
}

func TestScanOnCheckFailure(t *testing.T) {
	for _, tc := range []struct {
		name  string
		setup func(e *Engine, o *testObj)
		hint  Hint
		deps  func(*Deps)
	}{
		{name: "hint", hint: HintFindReferenceOnFailure},
		{name: "flag", hint: HintQueue, setup: func(e *Engine, o *testObj) { e.FlagFindOnFailure(o.id) }},
		{name: "policy", hint: HintQueue, deps: func(d *Deps) {
			d.Policies = map[string]Policy{"Leech": {AutoFindRefs: true}}
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Diagnostics = true
			var opts []func(*Deps)
			if tc.deps != nil {
				opts = append(opts, tc.deps)
			}
			e, h := newTestEngine(t, cfg, opts...)
			o := h.spawn("Leech", tc.hint)
			if tc.setup != nil {
				tc.setup(e, o)
			}

			h.tick = 1
			e.RequestDestroy(o, false)
			h.fireAt(e, 1)
			assert.False(t, e.Paused())

			h.fireAt(e, 3)
			assert.True(t, e.Paused(), "check failure starts a scan")
			assert.Equal(t, 1, e.QueueLen(StageHardDelete))
			assert.Empty(t, h.deleted, "the pass ends when the scan starts")

			h.fireAt(e, 4)
			assert.False(t, e.Paused())
			assert.Empty(t, h.deleted)

			h.fireAt(e, 5)
			assert.Equal(t, []ecs.EntityID{o.id}, h.deleted)
		})
	}
}

func TestHardLookupWithoutDiagnosticsIsInert(t *testing.T) {
	cfg := testConfig()
	cfg.HardLookup = true
	e, h := newTestEngine(t, cfg)
	o := h.spawn("Leech", HintQueue)

	h.tick = 1
	e.RequestDestroy(o, false)
	h.fireAt(e, 1)
	h.fireAt(e, 3)
	assert.False(t, e.Paused())
	assert.Equal(t, []ecs.EntityID{o.id}, h.deleted)
}
