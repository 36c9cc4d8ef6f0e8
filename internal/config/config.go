package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/l1jgo/reclaimer/internal/reclaim"
)

// EnvPath names the environment variable that overrides the config path.
const EnvPath = "RECLAIMER_CONFIG"

type Config struct {
	Server     ServerConfig     `toml:"server"`
	Database   DatabaseConfig   `toml:"database"`
	Network    NetworkConfig    `toml:"network"`
	Reclaim    ReclaimConfig    `toml:"reclaim"`
	Logging    LoggingConfig    `toml:"logging"`
	Admin      AdminConfig      `toml:"admin"`
	RateLimit  RateLimitConfig  `toml:"rate_limit"`
	Metrics    MetricsConfig    `toml:"metrics"`
	Simulation SimulationConfig `toml:"simulation"`
	Scripting  ScriptingConfig  `toml:"scripting"`
}

type ServerConfig struct {
	Name      string `toml:"name"`
	ID        int    `toml:"id"`
	StartTime int64  // set at boot, not from config
}

// DatabaseConfig: an empty DSN runs without persistence.
type DatabaseConfig struct {
	DSN             string        `toml:"dsn"`
	MaxOpenConns    int           `toml:"max_open_conns"`
	MaxIdleConns    int           `toml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime"`
}

type NetworkConfig struct {
	TickRate time.Duration `toml:"tick_rate"`
	// TickBudget is the share of each tick the reclaim pass may use before
	// yielding; 0 means unlimited.
	TickBudget time.Duration `toml:"tick_budget"`
}

type ReclaimConfig struct {
	FilterDwell       int64         `toml:"filter_dwell"` // ticks
	CheckDwell        int64         `toml:"check_dwell"`
	HardDeleteDwell   int64         `toml:"hard_delete_dwell"`
	PostponeThreshold time.Duration `toml:"postpone_threshold"`
	OverrunThreshold  time.Duration `toml:"overrun_threshold"`
	OverrunLimit      int           `toml:"overrun_limit"`
	Diagnostics       bool          `toml:"diagnostics"`
	HardLookup        bool          `toml:"hard_lookup"`
	ScanDepth         int           `toml:"scan_depth"`
	ScanSkipFields    []string      `toml:"scan_skip_fields"`
	PolicyFile        string        `toml:"policy_file"`
	// ReportInterval checkpoints the statistics to the database. Zero
	// writes only the final report at shutdown.
	ReportInterval time.Duration `toml:"report_interval"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

type AdminConfig struct {
	Enabled         bool          `toml:"enabled"`
	BindAddress     string        `toml:"bind_address"`
	MinAccessLevel  int           `toml:"min_access_level"`
	InQueueSize     int           `toml:"in_queue_size"`
	OutQueueSize    int           `toml:"out_queue_size"`
	MaxLinesPerTick int           `toml:"max_lines_per_tick"`
	WriteTimeout    time.Duration `toml:"write_timeout"`
	ReadTimeout     time.Duration `toml:"read_timeout"`
	// BroadcastsPerMinute caps overrun broadcasts per entity kind.
	BroadcastsPerMinute int `toml:"broadcasts_per_minute"`
	// Accounts are accepted when no database is configured.
	Accounts []AdminAccount `toml:"accounts"`
}

// AdminAccount is a static console login. PasswordHash is a bcrypt hash.
type AdminAccount struct {
	Name         string `toml:"name"`
	PasswordHash string `toml:"password_hash"`
	AccessLevel  int    `toml:"access_level"`
}

type RateLimitConfig struct {
	Enabled                bool `toml:"enabled"`
	LoginAttemptsPerMinute int  `toml:"login_attempts_per_minute"`
}

type MetricsConfig struct {
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind_address"`
	Path        string `toml:"path"`
}

type SimulationConfig struct {
	Enabled      bool   `toml:"enabled"`
	ChurnFile    string `toml:"churn_file"`
	SpawnPerTick int    `toml:"spawn_per_tick"`
	Sessions     int    `toml:"sessions"`
	Seed         int64  `toml:"seed"` // 0 picks one at boot
}

type ScriptingConfig struct {
	Dir string `toml:"dir"`
}

// Path returns the config file path: $RECLAIMER_CONFIG, else def.
func Path(def string) string {
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	return def
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := defaults()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.Server.StartTime = time.Now().Unix()
	return cfg, nil
}

// Validate rejects settings the game loop cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Network.TickRate <= 0 {
		errs = append(errs, errors.New("network.tick_rate must be positive"))
	}
	if c.Network.TickBudget < 0 || c.Network.TickBudget > c.Network.TickRate {
		errs = append(errs, errors.New("network.tick_budget must be within [0, tick_rate]"))
	}
	r := c.Reclaim
	if r.FilterDwell < 0 || r.CheckDwell < 0 || r.HardDeleteDwell < 0 {
		errs = append(errs, errors.New("reclaim dwell times must not be negative"))
	}
	if r.OverrunLimit < 0 {
		errs = append(errs, errors.New("reclaim.overrun_limit must not be negative"))
	}
	for i, a := range c.Admin.Accounts {
		if a.Name == "" || a.PasswordHash == "" {
			errs = append(errs, fmt.Errorf("admin.accounts[%d]: name and password_hash are required", i))
		}
	}
	if c.Simulation.Enabled && c.Simulation.ChurnFile == "" {
		errs = append(errs, errors.New("simulation.churn_file is required when the simulation is enabled"))
	}
	return errors.Join(errs...)
}

// Engine converts the reclaim section into engine tunables.
func (r ReclaimConfig) Engine() reclaim.Config {
	cfg := reclaim.DefaultConfig()
	cfg.FilterDwell = reclaim.Tick(r.FilterDwell)
	cfg.CheckDwell = reclaim.Tick(r.CheckDwell)
	cfg.HardDeleteDwell = reclaim.Tick(r.HardDeleteDwell)
	cfg.PostponeThreshold = r.PostponeThreshold
	cfg.OverrunThreshold = r.OverrunThreshold
	cfg.OverrunLimit = r.OverrunLimit
	cfg.Diagnostics = r.Diagnostics
	cfg.HardLookup = r.HardLookup
	if r.ScanDepth > 0 {
		cfg.ScanDepth = r.ScanDepth
	}
	if r.ScanSkipFields != nil {
		cfg.ScanSkipFields = r.ScanSkipFields
	}
	return cfg
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Name: "Reclaimer",
			ID:   1,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Network: NetworkConfig{
			TickRate:   200 * time.Millisecond,
			TickBudget: 20 * time.Millisecond,
		},
		Reclaim: ReclaimConfig{
			FilterDwell:       5,
			CheckDwell:        1500,
			HardDeleteDwell:   50,
			PostponeThreshold: 100 * time.Millisecond,
			OverrunThreshold:  500 * time.Millisecond,
			OverrunLimit:      3,
			ScanDepth:         64,
			PolicyFile:        "data/yaml/reclaim_policy.yaml",
			ReportInterval:    5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Admin: AdminConfig{
			Enabled:             true,
			BindAddress:         "127.0.0.1:7070",
			MinAccessLevel:      200,
			InQueueSize:         32,
			OutQueueSize:        256,
			MaxLinesPerTick:     8,
			WriteTimeout:        10 * time.Second,
			ReadTimeout:         10 * time.Minute,
			BroadcastsPerMinute: 1,
		},
		RateLimit: RateLimitConfig{
			Enabled:                true,
			LoginAttemptsPerMinute: 10,
		},
		Metrics: MetricsConfig{
			Enabled:     true,
			BindAddress: "127.0.0.1:9107",
			Path:        "/metrics",
		},
		Simulation: SimulationConfig{
			Enabled:      true,
			ChurnFile:    "data/yaml/churn.yaml",
			SpawnPerTick: 20,
			Sessions:     4,
		},
		Scripting: ScriptingConfig{
			Dir: "scripts",
		},
	}
}
