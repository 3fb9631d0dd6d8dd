// ABOUTME: Tests for configuration loading, env expansion, and validation
// ABOUTME: Uses temp-dir YAML fixtures written per test

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig writes YAML content to a temp file and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "turns.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Minimal(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "/tmp/turns.db"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/turns.db", cfg.Database.Path)

	// Defaults filled in
	assert.Equal(t, DefaultTickInterval, cfg.Scheduler.TickInterval)
	assert.Equal(t, DefaultTickJitter, cfg.Scheduler.TickJitter)
	assert.Equal(t, DefaultSuppressionWindow, cfg.Scheduler.SuppressionWindow)
	assert.Equal(t, DefaultSweepBudget, cfg.Scheduler.SweepBudget)
	assert.Equal(t, DefaultMaxTurnsPerTick, cfg.Scheduler.MaxTurnsPerTick)
	assert.Equal(t, DefaultChannelScanLimit, cfg.Scheduler.ChannelScanLimit)
}

func TestLoad_Durations(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "/tmp/turns.db"
scheduler:
  tick_interval: "2m"
  tick_jitter: "10s"
  suppression_window: "6s"
  human_activity_window: "5m"
  agent_cooldown: "30m"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Minute, cfg.Scheduler.TickInterval)
	assert.Equal(t, 10*time.Second, cfg.Scheduler.TickJitter)
	assert.Equal(t, 6*time.Second, cfg.Scheduler.SuppressionWindow)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.HumanActivityWindow)
	assert.Equal(t, 30*time.Minute, cfg.Scheduler.AgentCooldown)
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "/tmp/turns.db"
scheduler:
  tick_interval: "ninety seconds"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tick_interval")
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TURNS_TEST_DB", "/data/expanded.db")

	path := writeConfig(t, `
database:
  path: "${TURNS_TEST_DB}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/expanded.db", cfg.Database.Path)
}

func TestLoad_EnvExpansion_Unset(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "${TURNS_TEST_DB_DEFINITELY_UNSET}"
`)

	// Unset variable expands to empty, which fails validation
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.path")
}

func TestLoad_Communities(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "/tmp/turns.db"
communities:
  - id: "homestead"
    channels: ["lounge", "workshop"]
    agents:
      - id: "rook"
        display_name: "Rook"
        emoji: "🐦"
      - id: "wren"
        display_name: "Wren"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Communities, 1)
	community := cfg.Communities[0]
	assert.Equal(t, "homestead", community.ID)
	assert.Equal(t, []string{"lounge", "workshop"}, community.Channels)
	require.Len(t, community.Agents, 2)
	assert.Equal(t, "🐦", community.Agents[0].Emoji)
	assert.Equal(t, "Wren", community.Agents[1].DisplayName)
}

func TestValidate_JitterExceedsInterval(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "/tmp/turns.db"
scheduler:
  tick_interval: "10s"
  tick_jitter: "30s"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tick_jitter")
}

func TestValidate_DuplicateAgent(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "/tmp/turns.db"
communities:
  - id: "one"
    agents:
      - {id: "rook", display_name: "Rook"}
  - id: "two"
    agents:
      - {id: "rook", display_name: "Rook Again"}
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rook")
}

func TestValidate_DuplicateChannel(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "/tmp/turns.db"
communities:
  - id: "one"
    channels: ["lounge"]
  - id: "two"
    channels: ["lounge"]
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lounge")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
