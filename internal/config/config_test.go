package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/l1jgo/reclaimer/internal/reclaim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "server.toml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadOverridesDefaults(t *testing.T) {
	p := writeConfig(t, `
[network]
tick_rate = "100ms"
tick_budget = "10ms"

[reclaim]
filter_dwell = 0
check_dwell = 2
overrun_threshold = "50ms"
diagnostics = true
scan_skip_fields = ["Overlays"]

[admin]
bind_address = "127.0.0.1:0"
`)
	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, 100*time.Millisecond, cfg.Network.TickRate)
	assert.Equal(t, "127.0.0.1:0", cfg.Admin.BindAddress)
	assert.Equal(t, 200, cfg.Admin.MinAccessLevel, "untouched keys keep defaults")
	assert.NotZero(t, cfg.Server.StartTime)

	eng := cfg.Reclaim.Engine()
	assert.Equal(t, reclaim.Tick(0), eng.FilterDwell)
	assert.Equal(t, reclaim.Tick(2), eng.CheckDwell)
	assert.Equal(t, reclaim.Tick(50), eng.HardDeleteDwell)
	assert.Equal(t, 50*time.Millisecond, eng.OverrunThreshold)
	assert.True(t, eng.Diagnostics)
	assert.Equal(t, []string{"Overlays"}, eng.ScanSkipFields)
	assert.Equal(t, 64, eng.ScanDepth)
}

func TestLoadRejectsInvalid(t *testing.T) {
	p := writeConfig(t, `
[network]
tick_rate = "100ms"
tick_budget = "1s"

[reclaim]
check_dwell = -1
`)
	_, err := Load(p)
	require.Error(t, err)
	assert.ErrorContains(t, err, "tick_budget")
	assert.ErrorContains(t, err, "dwell")
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.ErrorContains(t, err, "read config")

	_, err = Load(writeConfig(t, "[network\n"))
	assert.ErrorContains(t, err, "parse config")
}

func TestPath(t *testing.T) {
	t.Setenv(EnvPath, "")
	assert.Equal(t, "config/server.toml", Path("config/server.toml"))
	t.Setenv(EnvPath, "/etc/reclaimer.toml")
	assert.Equal(t, "/etc/reclaimer.toml", Path("config/server.toml"))
}

func TestShippedConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config", "server.toml"))
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
}

func TestAdminAccounts(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
[[admin.accounts]]
name = "gm"
password_hash = "$2a$04$abcdefghijklmnopqrstuu"
access_level = 250
`))
	require.NoError(t, err)
	require.Len(t, cfg.Admin.Accounts, 1)
	assert.Equal(t, AdminAccount{Name: "gm", PasswordHash: "$2a$04$abcdefghijklmnopqrstuu", AccessLevel: 250}, cfg.Admin.Accounts[0])

	_, err = Load(writeConfig(t, `
[[admin.accounts]]
name = "gm"
`))
	assert.ErrorContains(t, err, "admin.accounts[0]")
}
