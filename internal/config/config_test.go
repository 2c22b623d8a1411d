package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"guildpulse/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// clearEnv blanks every override so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DISCORD_TOKEN", "LOG_LEVEL", "STORAGE_DRIVER", "DATA_DIR", "DATABASE_PATH", "DATABASE_URL",
		"HEALTH_ENABLED", "HEALTH_ADDR", "STAT_REFRESH_MINUTES", "TICKET_CLOSE_DELAY_SECONDS", "BRAND_FOOTER",
		"EMBED_COLOR_PRIMARY", "EMBED_COLOR_SUCCESS", "EMBED_COLOR_WARNING", "EMBED_COLOR_ERROR",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, storage.DriverFile, cfg.Storage.Driver)
	assert.Equal(t, "data", cfg.Storage.DataDir)
	assert.Equal(t, 5*time.Minute, cfg.StatRefreshInterval())
	assert.Equal(t, 10*time.Second, cfg.TicketCloseDelay())
	assert.ErrorIs(t, cfg.Validate(), ErrMissingToken)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
discord_token: from-file
log_level: debug
storage:
  driver: BoltDB
  database_path: /var/lib/guildpulse.db
stat_channels:
  refresh_minutes: 2
embeds:
  brand: Test Brand
`)
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("DISCORD_TOKEN", "from-env")
	t.Setenv("TICKET_CLOSE_DELAY_SECONDS", "3")
	t.Setenv("EMBED_COLOR_PRIMARY", "0x123456")
	t.Setenv("HEALTH_ENABLED", "yes")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.DiscordToken)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, storage.DriverBolt, cfg.Storage.Driver)
	assert.Equal(t, "/var/lib/guildpulse.db", cfg.StorageOptions().Path)
	assert.Equal(t, 2*time.Minute, cfg.StatRefreshInterval())
	assert.Equal(t, 3*time.Second, cfg.TicketCloseDelay())
	assert.Equal(t, 0x123456, cfg.Embeds.Colors.Primary)
	assert.Equal(t, "Test Brand", cfg.Embeds.Brand)
	assert.True(t, cfg.Health.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoadRejectsBadYAML(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_PATH", writeConfig(t, "storage: [unclosed"))
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadClampsIntervals(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("STAT_REFRESH_MINUTES", "0")
	t.Setenv("TICKET_CLOSE_DELAY_SECONDS", "-4")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.StatChannels.RefreshMinutes)
	assert.Zero(t, cfg.TicketCloseDelay())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("verbose"))

	logger, err := BuildLogger("WARN")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
}
