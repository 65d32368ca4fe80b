package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "gemini-2.0-flash", cfg.GenerationModel)
	assert.Equal(t, "zen_backend.db", cfg.DatabasePath)
	assert.Equal(t, "uploads", cfg.UploadsDir)
	assert.Equal(t, int64(DefaultMaxUploadSize), cfg.MaxUploadSize)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.GenerationAPIKey)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("GENERATION_MODEL", "gemini-2.5-pro")
	t.Setenv("MAX_UPLOAD_SIZE", "1024")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9999", cfg.HTTPPort)
	assert.Equal(t, "gemini-2.5-pro", cfg.GenerationModel)
	assert.Equal(t, int64(1024), cfg.MaxUploadSize)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadRejectsNonPositiveUploadSize(t *testing.T) {
	t.Setenv("MAX_UPLOAD_SIZE", "-1")
	_, err := Load()
	assert.Error(t, err)
}

func TestProjectIDFromCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"project_id":"demo-project"}`), 0o600))

	t.Run("read from the credentials file", func(t *testing.T) {
		t.Setenv("IDENTITY_CREDENTIALS_PATH", path)
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "demo-project", cfg.IdentityProjectID)
	})

	t.Run("env var wins over the file", func(t *testing.T) {
		t.Setenv("IDENTITY_CREDENTIALS_PATH", path)
		t.Setenv("IDENTITY_PROJECT_ID", "env-project")
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "env-project", cfg.IdentityProjectID)
	})

	t.Run("missing file is an error", func(t *testing.T) {
		t.Setenv("IDENTITY_CREDENTIALS_PATH", filepath.Join(t.TempDir(), "missing.json"))
		_, err := Load()
		assert.Error(t, err)
	})
}
