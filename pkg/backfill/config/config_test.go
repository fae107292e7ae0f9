package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearBackfillEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"BACKFILL_CONFIG_FILE", "BACKFILL_STORAGE_BACKEND", "BACKFILL_DATA_DIR",
		"BACKFILL_ADMIN_ADDR", "BACKFILL_METRICS_ADDR", "BACKFILL_LOG_LEVEL",
		"BACKFILL_LOG_JSON", "BACKFILL_MAX_REQUESTS_PER_MINUTE", "BACKFILL_MAX_CONCURRENT",
		"BACKFILL_MIN_DELAY_MS", "BACKFILL_MAX_DELAY_MS",
	} {
		os.Unsetenv(key)
	}
}

func TestLoad_DefaultsWithNoOverrides(t *testing.T) {
	clearBackfillEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendLocal, cfg.Backend)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, 5, cfg.MaxRetries)
}

func TestLoad_EnvOverridesWinOverDefaults(t *testing.T) {
	clearBackfillEnv(t)
	t.Setenv("BACKFILL_DATA_DIR", "/var/backfill")
	t.Setenv("BACKFILL_ADMIN_ADDR", "0.0.0.0:9999")
	t.Setenv("BACKFILL_MAX_CONCURRENT", "7")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/var/backfill", cfg.DataDir)
	assert.Equal(t, "0.0.0.0:9999", cfg.AdminAddr)
	assert.Equal(t, 7, cfg.RateLimit.MaxConcurrent)
}

func TestLoad_YAMLOverlayAppliesBeforeEnv(t *testing.T) {
	clearBackfillEnv(t)

	overlay := filepath.Join(t.TempDir(), "backfill.yaml")
	require.NoError(t, os.WriteFile(overlay, []byte("dataDir: /from/yaml\nmaxRetries: 9\n"), 0o644))
	t.Setenv("BACKFILL_CONFIG_FILE", overlay)
	t.Setenv("BACKFILL_DATA_DIR", "/from/env")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/from/env", cfg.DataDir, "env override must win over yaml overlay")
	assert.Equal(t, 9, cfg.MaxRetries, "yaml overlay applies where no env override exists")
}

func TestLoad_MissingOverlayFileIsAnError(t *testing.T) {
	clearBackfillEnv(t)
	t.Setenv("BACKFILL_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate_RejectsUnknownBackend(t *testing.T) {
	cfg := Default()
	cfg.Backend = "tape"
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsInvertedDelayBounds(t *testing.T) {
	cfg := Default()
	cfg.RateLimit.MinDelayMS = 500
	cfg.RateLimit.MaxDelayMS = 100
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsEmptyDataDir(t *testing.T) {
	cfg := Default()
	cfg.DataDir = ""
	assert.Error(t, cfg.Validate())
}
