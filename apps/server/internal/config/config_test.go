package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PLAYPROFILE_RULES_DIR", "rules")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "memory", cfg.StoreMode)
	assert.Equal(t, 0.02, cfg.TrendEpsilon)
	assert.Equal(t, 0, cfg.HistoryWindow)
	assert.Equal(t, "union", cfg.Overlap)
	assert.Equal(t, 720*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 20, cfg.RecentLimit)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PLAYPROFILE_RULES_FILE", "rules.json")
	t.Setenv("PLAYPROFILE_STORE_MODE", "local")
	t.Setenv("PLAYPROFILE_HISTORY_WINDOW", "5")
	t.Setenv("PLAYPROFILE_TREND_EPSILON", "0.05")
	t.Setenv("PLAYPROFILE_WS_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.StoreMode)
	assert.Equal(t, 5, cfg.HistoryWindow)
	assert.Equal(t, 0.05, cfg.TrendEpsilon)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("PLAYPROFILE_RULES_DIR=from-file\nPLAYPROFILE_ADDR=:9999\n"), 0o644))
	t.Setenv("PLAYPROFILE_ADDR", ":7000")
	// registered with t.Setenv so the value loaded from the file is unset afterwards
	t.Setenv("PLAYPROFILE_RULES_DIR", "")
	require.NoError(t, os.Unsetenv("PLAYPROFILE_RULES_DIR"))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.RulesDir)
	// already-set variables win over the file
	assert.Equal(t, ":7000", cfg.Addr)
}

func TestLoadMissingEnvFileIsIgnored(t *testing.T) {
	t.Setenv("PLAYPROFILE_RULES_DIR", "rules")
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
}

func TestValidate(t *testing.T) {
	t.Setenv("PLAYPROFILE_RULES_DIR", "")
	t.Setenv("PLAYPROFILE_RULES_FILE", "")
	_, err := Load("")
	assert.Error(t, err)

	t.Setenv("PLAYPROFILE_RULES_DIR", "rules")
	t.Setenv("PLAYPROFILE_STORE_MODE", "postgres")
	_, err = Load("")
	assert.ErrorContains(t, err, "PLAYPROFILE_DATABASE_DSN")

	t.Setenv("PLAYPROFILE_STORE_MODE", "redis")
	_, err = Load("")
	assert.Error(t, err)

	t.Setenv("PLAYPROFILE_STORE_MODE", "memory")
	t.Setenv("PLAYPROFILE_OVERLAP_POLICY", "max")
	_, err = Load("")
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	cfg := Config{LogLevel: "debug", LogFormat: "json"}
	logger, err := cfg.NewLogger()
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	_, err = Config{LogLevel: "loud"}.NewLogger()
	assert.Error(t, err)
}
