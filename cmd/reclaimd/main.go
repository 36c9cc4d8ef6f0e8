package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joeycumines/go-catrate"
	"github.com/juju/clock"
	"github.com/l1jgo/reclaimer/internal/config"
	"github.com/l1jgo/reclaimer/internal/core/event"
	coresys "github.com/l1jgo/reclaimer/internal/core/system"
	"github.com/l1jgo/reclaimer/internal/data"
	"github.com/l1jgo/reclaimer/internal/handler"
	"github.com/l1jgo/reclaimer/internal/metrics"
	gonet "github.com/l1jgo/reclaimer/internal/net"
	"github.com/l1jgo/reclaimer/internal/persist"
	"github.com/l1jgo/reclaimer/internal/reclaim"
	"github.com/l1jgo/reclaimer/internal/scripting"
	"github.com/l1jgo/reclaimer/internal/system"
	"github.com/l1jgo/reclaimer/internal/world"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(serverName string, serverID int) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m             reclaimer  v0.1.0             \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m     deferred object reclamation daemon    \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1m伺服器:\033[0m %s \033[90m(編號: %d)\033[0m\n\n", serverName, serverID)
}

func printSection(title string) {
	// Use rune count for CJK width calculation (each CJK char = 2 columns)
	displayWidth := 0
	for _, r := range title {
		if r > 0x7F {
			displayWidth += 2
		} else {
			displayWidth++
		}
	}
	lineLen := max(46-displayWidth-1, 3)
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	displayWidth := 0
	for _, r := range label {
		if r > 0x7F {
			displayWidth += 2
		} else {
			displayWidth++
		}
	}
	dotsLen := max(42-displayWidth-len(numStr), 3)
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main server logic ─────────────────────────────────────────────

// engineParts is what a new engine is built from; hot restart rebuilds it
// from the reloaded config.
type engineParts struct {
	world    *world.State
	runner   *coresys.Runner
	consoles *handler.Broadcaster
	recorder reclaim.Recorder
	replay   *system.ReplayLog
	log      *zap.Logger
}

func (p engineParts) build(cfg *config.Config) (*reclaim.Engine, error) {
	var policies map[string]reclaim.Policy
	if cfg.Reclaim.PolicyFile != "" {
		tbl, err := data.LoadPolicyTable(cfg.Reclaim.PolicyFile)
		if err != nil {
			return nil, fmt.Errorf("load policy table: %w", err)
		}
		policies = tbl.Policies()
		printStat("回收策略", tbl.Count())
	}
	eng := reclaim.New(cfg.Reclaim.Engine(), reclaim.Deps{
		Registry:  p.world,
		Scheduler: p.runner,
		Clock:     clock.WallClock,
		Log:       p.log.Named("reclaim"),
		Roots:     p.world,
		Notifier:  p.consoles,
		Recorder:  p.recorder,
		Policies:  policies,
	})
	eng.Observe(p.replay)
	return eng, nil
}

func run() error {
	// 1. Load config
	cfgPath := config.Path("config/server.toml")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Name, cfg.Server.ID)
	runID := uuid.New()
	log.Info("啟動", zap.Stringer("run", runID), zap.String("config", cfgPath))

	// 3. Connect to PostgreSQL and run migrations (optional)
	printSection("資料庫")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var (
		db         *persist.DB
		reportRepo *persist.ReportRepo
		accounts   handler.Authenticator = handler.NewStaticAccounts(cfg.Admin.Accounts)
	)
	if cfg.Database.DSN != "" {
		db, err = persist.NewDB(ctx, cfg.Database, log)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		printOK("PostgreSQL 連線成功")

		if err := persist.RunMigrations(ctx, db.Pool, log); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		printOK("資料庫遷移完成")

		reportRepo = persist.NewReportRepo(db)
		accounts = persist.NewAccountRepo(db)
		suspended, err := reportRepo.SuspendedLastRun(ctx)
		if err != nil {
			return fmt.Errorf("load last run: %w", err)
		}
		if len(suspended) > 0 {
			log.Warn("上次執行結束時仍暫停硬刪除的類型", zap.Strings("kinds", suspended))
		}
	} else {
		printOK("未設定資料庫，統計只寫入日誌")
	}
	fmt.Println()

	// 4. Scripts and data tables
	printSection("資料載入")

	luaEngine, err := scripting.NewEngine(cfg.Scripting.Dir, log)
	if err != nil {
		return fmt.Errorf("lua engine: %w", err)
	}
	defer luaEngine.Close()
	printOK("Lua 腳本載入完成")

	// 5. World, runner and the reclamation engine
	runner := coresys.NewRunner(clock.WallClock, cfg.Network.TickBudget)
	worldState := world.NewState(clock.WallClock, log.Named("world"))
	worldState.SetScripts(luaEngine)

	bus := event.NewBus()
	replay := system.NewReplayLog(bus, log)
	consoles := handler.NewBroadcaster(cfg.Admin.MinAccessLevel, cfg.Admin.BroadcastsPerMinute, log)
	parts := engineParts{
		world:    worldState,
		runner:   runner,
		consoles: consoles,
		recorder: system.NewEventRecorder(bus),
		replay:   replay,
		log:      log,
	}
	eng, err := parts.build(cfg)
	if err != nil {
		return err
	}
	reclaimSys := system.NewReclaimSystem(eng)
	worldState.SetDestroyer(reclaimSys.RequestDestroy)

	var churnSys *system.ChurnSystem
	if cfg.Simulation.Enabled {
		churn, err := data.LoadChurnTable(cfg.Simulation.ChurnFile)
		if err != nil {
			return fmt.Errorf("load churn table: %w", err)
		}
		printStat("模擬類型", churn.Count())
		seed := cfg.Simulation.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		churnSys = system.NewChurnSystem(worldState, churn, runner, reclaimSys.RequestDestroy,
			system.ChurnOptions{PerTick: cfg.Simulation.SpawnPerTick, Sessions: cfg.Simulation.Sessions, Seed: seed},
			log.Named("churn"))
	}
	fmt.Println()

	// 6. Admin console
	var netServer *gonet.Server
	var deps *handler.Deps
	if cfg.Admin.Enabled {
		deps = &handler.Deps{
			Accounts: accounts,
			Config:   cfg,
			Log:      log.Named("console"),
			World:    worldState,
			Engine:   reclaimSys.Engine,
			Consoles: consoles,
		}
		if cfg.RateLimit.Enabled && cfg.RateLimit.LoginAttemptsPerMinute > 0 {
			deps.LoginLimit = catrate.NewLimiter(map[time.Duration]int{
				time.Minute: cfg.RateLimit.LoginAttemptsPerMinute,
			})
		}
		netServer, err = gonet.NewServer(cfg.Admin.BindAddress, gonet.Limits{
			InQueueSize:  cfg.Admin.InQueueSize,
			OutQueueSize: cfg.Admin.OutQueueSize,
			LinesPerSec:  cfg.Admin.MaxLinesPerTick * int(time.Second/cfg.Network.TickRate),
			ReadTimeout:  cfg.Admin.ReadTimeout,
			WriteTimeout: cfg.Admin.WriteTimeout,
		}, log.Named("net"))
		if err != nil {
			return fmt.Errorf("admin server: %w", err)
		}
		go netServer.AcceptLoop()
	}

	// 7. Metrics
	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		reg := metrics.NewRegistry(metrics.NewCollector(reclaimSys.Published))
		metricsSrv = metrics.NewServer(cfg.Metrics.BindAddress, cfg.Metrics.Path, reg)
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics 伺服器錯誤", zap.Error(err))
			}
		}()
	}

	// 8. Register systems
	var persistSys *system.PersistenceSystem
	if netServer != nil {
		runner.Register(system.NewInputSystem(netServer, deps, cfg.Admin.MaxLinesPerTick, log))
		runner.Register(system.NewOutputSystem(consoles))
	}
	runner.Register(system.NewEventDispatchSystem(bus))
	if churnSys != nil {
		runner.Register(churnSys)
	}
	runner.Register(system.NewCollectSystem(worldState))
	if reportRepo != nil {
		persistSys = system.NewPersistenceSystem(reportRepo, reclaimSys.Published,
			persist.RunReport{RunID: runID, ServerID: cfg.Server.ID, StartedAt: time.Unix(cfg.Server.StartTime, 0)},
			time.Now, log, int(cfg.Reclaim.ReportInterval/cfg.Network.TickRate))
		runner.Register(persistSys)
	}
	runner.Register(reclaimSys)

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	ticker := time.NewTicker(cfg.Network.TickRate)
	defer ticker.Stop()
	// 高頻輸入輪詢：在系統 tick 之間只跑 Phase 0
	inputTicker := time.NewTicker(10 * time.Millisecond)
	defer inputTicker.Stop()

	printSection("伺服器就緒")
	if netServer != nil {
		printReady(fmt.Sprintf("管理介面 %s", netServer.Addr().String()))
	}
	if metricsSrv != nil {
		printReady(fmt.Sprintf("metrics http://%s%s", cfg.Metrics.BindAddress, cfg.Metrics.Path))
	}
	printReady(fmt.Sprintf("遊戲迴圈啟動 (tick: %s, budget: %s)", cfg.Network.TickRate, cfg.Network.TickBudget))
	fmt.Println()

	for {
		select {
		case <-ticker.C:
			runner.Tick(cfg.Network.TickRate)
		case <-inputTicker.C:
			if netServer != nil {
				runner.TickPhase(coresys.PhaseInput, 0)
			}
		case sig := <-signalCh:
			if sig == syscall.SIGHUP {
				if next, err := hotRestart(cfgPath, parts, reclaimSys, runner, churnSys, log); err != nil {
					log.Error("熱重啟失敗，沿用目前設定", zap.Error(err))
				} else if next != nil {
					churnSys = next
				}
				continue
			}
			log.Info("收到關閉信號", zap.String("signal", sig.String()))
			shutdown(reclaimSys.Engine(), replay, persistSys, netServer, metricsSrv, log)
			log.Info("伺服器已停止")
			return nil
		}
	}
}

// hotRestart reloads the config, builds a fresh engine that takes over the
// pending queues, and swaps in a churn system for the reloaded table.
func hotRestart(cfgPath string, parts engineParts, rs *system.ReclaimSystem, runner *coresys.Runner, churn *system.ChurnSystem, log *zap.Logger) (*system.ChurnSystem, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	next, err := parts.build(cfg)
	if err != nil {
		return nil, err
	}
	prev := rs.Swap(next)
	log.Info("回收引擎熱重啟",
		zap.Int("carried", prev.QueueState().Len()),
		zap.String("status", next.Status().String()))

	if churn == nil || !cfg.Simulation.Enabled {
		return nil, nil
	}
	table, err := data.LoadChurnTable(cfg.Simulation.ChurnFile)
	if err != nil {
		return nil, fmt.Errorf("reload churn table: %w", err)
	}
	successor := churn.WithTable(table, cfg.Simulation.SpawnPerTick)
	if !runner.Replace(churn, successor) {
		return nil, errors.New("churn system not registered")
	}
	return successor, nil
}

func shutdown(eng *reclaim.Engine, replay *system.ReplayLog, ps *system.PersistenceSystem, netServer *gonet.Server, metricsSrv *http.Server, log *zap.Logger) {
	log.Info("最終回收狀態", zap.String("status", eng.Status().String()))
	for _, line := range eng.ReportLines() {
		log.Info(line)
	}
	for _, kind := range replay.Kinds() {
		log.Debug("已銷毀", zap.String("kind", kind),
			zap.Int64("count", replay.Destroyed(kind)), zap.Int64("forced", replay.Forced(kind)))
	}
	if ps != nil {
		if err := ps.SaveFinal(); err != nil {
			log.Error("最終統計存檔失敗", zap.Error(err))
		}
	}
	if netServer != nil {
		netServer.Shutdown()
	}
	if metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(ctx); err != nil {
			log.Warn("metrics 伺服器關閉錯誤", zap.Error(err))
		}
	}
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
