package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoad_defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("journald")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "MUSEBAR-REG-001", cfg.Journal.RegisterID)
	assert.Equal(t, 3, cfg.Journal.AppendRetries)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.SettingsCacheTTL)
	assert.True(t, cfg.Scheduler.Autostart)
	assert.Empty(t, cfg.File)
}

func TestLoad_fileThenEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "configs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "configs", "journald.yaml"), []byte(`
server:
  port: 9090
journal:
  register_id: BAR-2
scheduler:
  interval: 1m
`), 0o600))
	t.Setenv("JOURNAL_REGISTER_ID", "BAR-ENV")
	t.Setenv("EXPORT_SIGNING_SECRET", "s3cret")

	cfg, err := Load("journald")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "BAR-ENV", cfg.Journal.RegisterID)
	assert.Equal(t, "s3cret", cfg.Export.SigningSecret)
	assert.Equal(t, time.Minute, cfg.Scheduler.Interval)
	assert.NotEmpty(t, cfg.File)
}

func TestLoad_dotenv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DATABASE_URL=postgres://from-dotenv/db\n"), 0o600))
	// godotenv never overrides a variable that is already set.
	t.Setenv("DATABASE_URL", "")
	require.NoError(t, os.Unsetenv("DATABASE_URL"))

	cfg, err := Load("journald")
	require.NoError(t, err)
	assert.Equal(t, "postgres://from-dotenv/db", cfg.Database.URL)
}

func TestNewLogger_rejectsUnknownLevel(t *testing.T) {
	cfg := &Config{}
	cfg.Log.Level = "loud"
	_, err := cfg.NewLogger()
	assert.Error(t, err)

	cfg.Log.Level = "debug"
	logger, err := cfg.NewLogger()
	require.NoError(t, err)
	assert.NotNil(t, logger)
}
