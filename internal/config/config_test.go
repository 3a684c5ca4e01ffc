package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "Asia/Tokyo", cfg.Scheduler.Timezone)
	assert.Equal(t, 10, cfg.Budget.DailyCap)
	assert.Equal(t, 4, cfg.Budget.MorningCap)
	assert.Equal(t, 6, cfg.Budget.CloseCap)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Scheduler.MorningCron, cfg.Scheduler.MorningCron)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
budget:
  daily_cap: 20
  morning_cap: 8
  close_cap: 12
scheduler:
  timezone: UTC
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 20, cfg.Budget.DailyCap)
	assert.Equal(t, "UTC", cfg.Scheduler.Timezone)
	// Untouched sections keep their defaults.
	assert.Equal(t, Default().Recovery.LookbackBusinessDays, cfg.Recovery.LookbackBusinessDays)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv("SCREENER_DAILY_CAP", "30")
	t.Setenv("SCREENER_MORNING_CAP", "10")
	t.Setenv("SCREENER_CLOSE_CAP", "20")
	t.Setenv("SCREENER_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Budget.DailyCap)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestValidateRejectsOversubscribedCaps(t *testing.T) {
	cfg := Default()
	cfg.Budget.MorningCap = 6
	cfg.Budget.CloseCap = 6 // 12 > daily 10

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds daily cap")
}

func TestValidateRejectsBadCron(t *testing.T) {
	cfg := Default()
	cfg.Scheduler.CloseCron = "every day at three"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadTimezone(t *testing.T) {
	cfg := Default()
	cfg.Scheduler.Timezone = "Mars/Olympus"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadRecovery(t *testing.T) {
	cfg := Default()
	cfg.Recovery.LookbackBusinessDays = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Recovery.MaxDaysPerRun = 0
	assert.Error(t, cfg.Validate())

	// Disabled recovery does not care about its tuning.
	cfg = Default()
	cfg.Recovery.Enabled = false
	cfg.Recovery.LookbackBusinessDays = 0
	assert.NoError(t, cfg.Validate())
}
