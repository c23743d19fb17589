package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeremiapane/restaurant-sync/models"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.DB.Driver)
	assert.Equal(t, 10*time.Second, cfg.Sync.PollDegraded)
	assert.Equal(t, 60*time.Second, cfg.Sync.PollConnected)
	assert.Equal(t, 2, cfg.Sync.RetryAttempts)
	assert.Equal(t, 3*time.Second, cfg.Sync.RetryBackoff)
	assert.Equal(t, 6*time.Second, cfg.Sync.AlertTTL)
	assert.Equal(t, []string{"kitchen", "food", "ingredients"}, cfg.Sync.KitchenCategories)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("RESTO_SYNC_POLL_DEGRADED", "5s")
	t.Setenv("RESTO_SERVER_PORT", "9090")
	t.Setenv("RESTO_DB_DRIVER", "mysql")

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Sync.PollDegraded)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "mysql", cfg.DB.Driver)
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resto.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api:\n  base_url: http://pos.local\nsync:\n  poll_connected: 0s\n"), 0o600))

	cfg, err := Load(New(), path)
	require.NoError(t, err)
	assert.Equal(t, "http://pos.local", cfg.API.BaseURL)
	assert.Zero(t, cfg.Sync.PollConnected)
}

func TestValidate(t *testing.T) {
	v := New()
	v.Set("db.driver", "postgres")
	v.Set("sync.poll_degraded", "0s")
	v.Set("sync.poll_connected", "0s")

	_, err := Load(v, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db.driver")
	assert.Contains(t, err.Error(), "cannot both be disabled")
}

func TestInitDBAndSeed(t *testing.T) {
	db, err := InitDB(DBConfig{Driver: "sqlite", DSN: "file::memory:"})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))

	user, err := SeedStaff(db, "Rina", "rina@resto.test", "secret", models.SubRoleChef)
	require.NoError(t, err)
	assert.Equal(t, models.RoleRestaurant, user.Role)
	assert.NotEqual(t, "secret", user.Password)

	again, err := SeedStaff(db, "Rina", "rina@resto.test", "other", models.SubRoleChef)
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID)

	_, err = InitDB(DBConfig{Driver: "oracle"})
	assert.Error(t, err)
}
