package system

import (
	"bufio"
	"context"
	stdnet "net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock/testclock"
	"github.com/l1jgo/reclaimer/internal/config"
	"github.com/l1jgo/reclaimer/internal/core/event"
	coresys "github.com/l1jgo/reclaimer/internal/core/system"
	"github.com/l1jgo/reclaimer/internal/data"
	"github.com/l1jgo/reclaimer/internal/handler"
	"github.com/l1jgo/reclaimer/internal/net"
	"github.com/l1jgo/reclaimer/internal/persist"
	"github.com/l1jgo/reclaimer/internal/reclaim"
	"github.com/l1jgo/reclaimer/internal/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

type sim struct {
	runner  *coresys.Runner
	world   *world.State
	reclaim *ReclaimSystem
	churn   *ChurnSystem
	bus     *event.Bus
	replay  *ReplayLog
}

func churnTable(t *testing.T, src string) *data.ChurnTable {
	t.Helper()
	p := filepath.Join(t.TempDir(), "churn.yaml")
	require.NoError(t, os.WriteFile(p, []byte(src), 0o644))
	tbl, err := data.LoadChurnTable(p)
	require.NoError(t, err)
	return tbl
}

func engineConfig() reclaim.Config {
	cfg := reclaim.DefaultConfig()
	cfg.FilterDwell, cfg.CheckDwell, cfg.HardDeleteDwell = 1, 2, 0
	cfg.PostponeThreshold = 0
	return cfg
}

func newSim(t *testing.T, churn string, opts ChurnOptions) *sim {
	t.Helper()
	log := zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))
	clk := testclock.NewClock(time.Unix(0, 0))
	runner := coresys.NewRunner(clk, 0)
	ws := world.NewState(clk, log)
	bus := event.NewBus()
	replay := NewReplayLog(bus, log)

	eng := reclaim.New(engineConfig(), reclaim.Deps{
		Registry:  ws,
		Scheduler: runner,
		Clock:     clk,
		Roots:     ws,
		Recorder:  NewEventRecorder(bus),
		Log:       log,
	})
	eng.Observe(replay)
	rs := NewReclaimSystem(eng)
	ws.SetDestroyer(rs.RequestDestroy)
	cs := NewChurnSystem(ws, churnTable(t, churn), runner, rs.RequestDestroy, opts, log)

	runner.Register(rs)
	runner.Register(NewCollectSystem(ws))
	runner.Register(cs)
	runner.Register(NewEventDispatchSystem(bus))

	return &sim{
		runner:  runner,
		world:   ws,
		reclaim: rs,
		churn:   cs,
		bus:     bus,
		replay:  replay,
	}
}

func (s *sim) run(ticks int) {
	for i := 0; i < ticks; i++ {
		s.runner.Tick(200 * time.Millisecond)
	}
}

func TestChurnReachesSteadyState(t *testing.T) {
	s := newSim(t, `
- kind: Goblin
  weight: 3
  lifetime_ticks: 5
- kind: Arrow
  weight: 2
  hint: done
  lifetime_ticks: 2
- kind: Projectile
  weight: 1
  hint: self_managed
  lifetime_ticks: 1
`, ChurnOptions{PerTick: 5, Sessions: 2, Seed: 7})

	s.run(60)
	spawned, destroyed := s.churn.Totals()
	assert.Equal(t, int64(300), spawned)
	assert.Positive(t, destroyed)

	st := s.reclaim.Engine().Status()
	assert.Positive(t, st.TotalCollected)
	assert.Zero(t, st.TotalDeleted, "no leaks configured")
	assert.Len(t, s.world.Watchers(), 2)
	assert.Less(t, s.world.Stats().Live, 300, "expired objects are collected or pooled")
	assert.Equal(t, []string{"Arrow", "Goblin", "Projectile"}, s.replay.Kinds())
}

func TestChurnLetLiveIsSparedOnceThenForced(t *testing.T) {
	s := newSim(t, `
- kind: Pet
  weight: 1
  hint: let_live
  lifetime_ticks: 2
`, ChurnOptions{PerTick: 1, Seed: 1})

	s.run(1)
	s.churn.perTick = 0
	pets := s.world.Objects()
	require.Len(t, pets, 1)
	pet := pets[0]

	s.run(2) // tick 3: first expiry
	assert.False(t, pet.Mark().Pending())
	ts, ok := s.reclaim.Engine().Stats().Lookup("Pet")
	require.True(t, ok)
	assert.Equal(t, int64(1), ts.Requests)
	assert.Zero(t, ts.IgnoredForce)
	assert.Zero(t, s.replay.Forced("Pet"))

	s.run(2) // tick 5: forced
	assert.Equal(t, int64(2), ts.Requests)
	assert.Equal(t, int64(1), ts.IgnoredForce)
	assert.Equal(t, int64(1), s.replay.Forced("Pet"))
	assert.True(t, pet.Mark().Pending())
}

func TestChurnLeaksAreHardDeleted(t *testing.T) {
	s := newSim(t, `
- kind: Corpse
  weight: 1
  lifetime_ticks: 1
  leak_chance: 1
`, ChurnOptions{PerTick: 4, Sessions: 1, Seed: 3})

	s.run(20)
	st := s.reclaim.Engine().Status()
	assert.Positive(t, st.TotalDeleted)
	assert.Equal(t, uint64(st.TotalDeleted), s.world.Stats().HardDeleted)
	for _, w := range s.world.Watchers() {
		for _, o := range w.Watching {
			_, live := s.world.Get(o.ID())
			assert.True(t, live, "hard delete drops the watcher's reference")
		}
	}
}

func TestChurnContentsOverlayAndSpotlight(t *testing.T) {
	s := newSim(t, `
- kind: Dragon
  weight: 1
  lifetime_ticks: 100
  contents: 2
  content_kind: Loot
  spotlight: true
`, ChurnOptions{PerTick: 2, Seed: 1})

	s.run(1)
	spawned, _ := s.churn.Totals()
	assert.Equal(t, int64(6), spawned)

	objs := s.world.Objects()
	var dragons []*world.Object
	for _, o := range objs {
		if o.Kind() == "Dragon" {
			dragons = append(dragons, o)
			assert.Len(t, o.Contents, 2)
		}
	}
	require.Len(t, dragons, 2)
	assert.Same(t, dragons[1], s.world.Spotlight())
	assert.Equal(t, 0, dragons[0].Refs())
	assert.Equal(t, 1, dragons[1].Refs())
}

func TestReclaimSystemSwapCarriesQueues(t *testing.T) {
	s := newSim(t, "- kind: Goblin\n  weight: 1\n", ChurnOptions{})
	o := s.world.Spawn("Goblin", reclaim.HintQueue, 0)
	s.reclaim.RequestDestroy(o, false)
	old := s.reclaim.Engine()
	require.Equal(t, 1, old.QueueLen(reclaim.StageFilter))

	next := reclaim.New(engineConfig(), reclaim.Deps{Registry: s.world, Scheduler: s.runner, Roots: s.world})
	prev := s.reclaim.Swap(next)
	assert.Same(t, old, prev)
	assert.Same(t, next, s.reclaim.Engine())
	assert.Equal(t, 1, next.QueueLen(reclaim.StageFilter))
	assert.Same(t, next.Published(), s.reclaim.Published())

	o2 := s.world.Spawn("Goblin", reclaim.HintQueue, 0)
	s.reclaim.RequestDestroy(o2, false)
	assert.Equal(t, 2, next.QueueLen(reclaim.StageFilter))
	assert.Equal(t, 1, old.QueueLen(reclaim.StageFilter))

	s.run(3)
	assert.Equal(t, int64(2), next.Status().TotalCollected)
}

func TestEventsArriveNextTick(t *testing.T) {
	s := newSim(t, "- kind: Goblin\n  weight: 1\n", ChurnOptions{})
	rec := NewEventRecorder(s.bus)
	o := s.world.Spawn("Goblin", reclaim.HintQueue, 0)

	rec.Destroyed(o, 4)
	rec.Suspended("Dragon", 3)
	assert.Zero(t, s.replay.Destroyed("Goblin"))

	NewEventDispatchSystem(s.bus).Update(0)
	assert.Equal(t, int64(1), s.replay.Destroyed("Goblin"))
	assert.Equal(t, []string{"Dragon"}, s.replay.Suspended())
}

type fakeSaver struct {
	saved []persist.RunReport
}

func (f *fakeSaver) Save(_ context.Context, rep persist.RunReport) error {
	f.saved = append(f.saved, rep)
	return nil
}

func TestPersistenceSystemCheckpoints(t *testing.T) {
	eng := reclaim.New(reclaim.DefaultConfig(), reclaim.Deps{})
	saver := &fakeSaver{}
	base := persist.RunReport{RunID: uuid.New(), ServerID: 2, StartedAt: time.Unix(10, 0)}
	end := time.Unix(99, 0)
	ps := NewPersistenceSystem(saver, eng.Published, base, func() time.Time { return end }, zaptest.NewLogger(t), 2)

	for i := 0; i < 5; i++ {
		ps.Update(0)
	}
	require.Len(t, saver.saved, 2)
	require.NoError(t, ps.SaveFinal())
	require.Len(t, saver.saved, 3)
	for _, rep := range saver.saved {
		assert.Equal(t, base.RunID, rep.RunID)
		assert.Equal(t, 2, rep.ServerID)
		assert.Equal(t, end, rep.EndedAt)
		assert.NotNil(t, rep.Snapshot)
	}

	never := NewPersistenceSystem(saver, eng.Published, base, time.Now, zaptest.NewLogger(t), 0)
	never.Update(0)
	assert.Len(t, saver.saved, 3)
}

func TestInputSystemServesConsole(t *testing.T) {
	log := zaptest.NewLogger(t)
	srv, err := net.NewServer("127.0.0.1:0", net.Limits{InQueueSize: 8, OutQueueSize: 64, LinesPerSec: 100}, log)
	require.NoError(t, err)
	go srv.AcceptLoop()
	defer srv.Shutdown()

	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)
	cfg := &config.Config{}
	cfg.Admin.MinAccessLevel = 100
	consoles := handler.NewBroadcaster(100, 0, log)
	deps := &handler.Deps{
		Accounts: handler.NewStaticAccounts([]config.AdminAccount{{Name: "gm", PasswordHash: string(hash), AccessLevel: 100}}),
		Config:   cfg,
		Log:      log,
		Consoles: consoles,
	}
	in := NewInputSystem(srv, deps, 4, log)
	out := NewOutputSystem(consoles)

	conn, err := stdnet.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	r := bufio.NewReader(conn)
	readLine := func() string {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		l, err := r.ReadString('\n')
		require.NoError(t, err)
		return strings.TrimRight(l, "\r\n")
	}
	assert.Equal(t, "reclaimer admin console. login <name> <password>", readLine())

	_, err = conn.Write([]byte("login gm secret\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		in.Update(0)
		out.Update(0)
		ss := consoles.Sessions()
		return len(ss) == 1 && ss[0].State() == net.StateAuthenticated
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, "welcome gm (access level 100)", readLine())
	assert.Equal(t, "you will receive reclamation alerts; .help lists commands", readLine())
	assert.Equal(t, 1, in.SessionCount())

	consoles.NotifyAdmins("Dragon", "Dragon hard deletes are suspended")
	out.Update(0)
	assert.Equal(t, "[reclaim] Dragon hard deletes are suspended", readLine())

	_, err = conn.Write([]byte("quit\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		in.Update(0)
		return in.SessionCount() == 0
	}, 5*time.Second, 5*time.Millisecond)
}

func TestChurnWithTableKeepsBookkeeping(t *testing.T) {
	s := newSim(t, "- kind: Goblin\n  weight: 1\n  lifetime_ticks: 50\n", ChurnOptions{PerTick: 2, Sessions: 1, Seed: 5})
	s.run(2)

	next := s.churn.WithTable(churnTable(t, "- kind: Arrow\n  weight: 1\n  hint: done\n"), 1)
	require.True(t, s.runner.Replace(s.churn, next))
	s.run(1)

	spawned, _ := next.Totals()
	assert.Equal(t, int64(5), spawned)
	before, _ := s.churn.Totals()
	assert.Equal(t, int64(4), before)
	assert.Equal(t, s.churn.watchers, next.watchers)
	assert.Equal(t, 1, s.world.Stats().ByKind["Arrow"])
}
