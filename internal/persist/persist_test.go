package persist

import (
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/l1jgo/reclaimer/internal/config"
	"github.com/l1jgo/reclaimer/internal/reclaim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestMigrationsEmbedded(t *testing.T) {
	files, err := fs.Glob(migrations, "migrations/*.sql")
	require.NoError(t, err)
	require.Len(t, files, 2)
	for _, f := range files {
		raw, err := fs.ReadFile(migrations, f)
		require.NoError(t, err)
		body := string(raw)
		assert.True(t, strings.HasPrefix(body, "-- +goose Up"), f)
		assert.Contains(t, body, "-- +goose Down", f)
	}
}

func TestTypeStatsRow(t *testing.T) {
	ts := &reclaim.TypeStats{
		Kind:            "Corpse",
		Requests:        7,
		HookTime:        1500 * time.Microsecond,
		HardDeletes:     2,
		HardDeleteTime:  3 * time.Millisecond,
		HardDeleteMax:   2 * time.Millisecond,
		Overruns:        1,
		SuspendedForLag: true,
	}
	ts.Failures[reclaim.StageFilter] = 4
	ts.Failures[reclaim.StageCheck] = 2

	row := typeStatsRow(ts)
	assert.Equal(t, TypeStatsRow{
		Kind:            "Corpse",
		Requests:        7,
		HookTimeUs:      1500,
		FilterFailures:  4,
		CheckFailures:   2,
		HardDeletes:     2,
		HardDeleteUs:    3000,
		HardDeleteMaxUs: 2000,
		Overruns:        1,
		SuspendedForLag: true,
	}, row)
}

func TestValidatePassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)

	r := NewAccountRepo(nil)
	assert.True(t, r.ValidatePassword(string(hash), "hunter2"))
	assert.False(t, r.ValidatePassword(string(hash), "hunter3"))
}

func TestPoolConfig(t *testing.T) {
	_, err := poolConfig(config.DatabaseConfig{})
	assert.Error(t, err)

	pc, err := poolConfig(config.DatabaseConfig{
		DSN:             "postgres://reclaim:pw@db.local:5432/reclaim",
		MaxOpenConns:    8,
		MaxIdleConns:    20,
		ConnMaxLifetime: 10 * time.Minute,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 8, pc.MaxConns)
	assert.EqualValues(t, 8, pc.MinConns)
	assert.Equal(t, 10*time.Minute, pc.MaxConnLifetime)
	assert.Equal(t, "db.local", pc.ConnConfig.Host)
	assert.Equal(t, "reclaim", pc.ConnConfig.Database)
}
