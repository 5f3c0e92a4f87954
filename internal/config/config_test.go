package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// clearEnv unsets every variable Load reads so individual cases start clean.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"REUNION_CONFIG_PATH", "PORT", "MONGO_URI", "DB_NAME", "JWT_SECRET", "LOG_LEVEL"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.Server.Port)
	require.Equal(t, "mongodb://mongo:27017", cfg.Mongo.URI)
	require.Equal(t, "reunionlive", cfg.Mongo.Database)
	require.Equal(t, "info", cfg.Log.Level)
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	clearEnv(t)

	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "JWT_SECRET")
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("PORT", "9090")
	t.Setenv("MONGO_URI", "mongodb://localhost:27017")
	t.Setenv("DB_NAME", "staging")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "9090", cfg.Server.Port)
	require.Equal(t, "mongodb://localhost:27017", cfg.Mongo.URI)
	require.Equal(t, "staging", cfg.Mongo.Database)
	require.Equal(t, "debug", cfg.Log.Level)
}

func TestEmptyMongoURISelectsMemoryBackend(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("MONGO_URI", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Empty(t, cfg.Mongo.URI, "an explicitly empty MONGO_URI must not fall back to the default")
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "7000"
mongo:
  database: filedb
auth:
  jwt_secret: file-secret
`), 0o600))
	t.Setenv("REUNION_CONFIG_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "7000", cfg.Server.Port)
	require.Equal(t, "filedb", cfg.Mongo.Database)
	require.Equal(t, "file-secret", cfg.Auth.JWTSecret)
	// Keys absent from the file keep their defaults.
	require.Equal(t, "mongodb://mongo:27017", cfg.Mongo.URI)
}

func TestEnvWinsOverFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: \"7000\"\nauth:\n  jwt_secret: file-secret\n"), 0o600))
	t.Setenv("REUNION_CONFIG_PATH", path)
	t.Setenv("PORT", "9999")
	t.Setenv("JWT_SECRET", "env-secret")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "9999", cfg.Server.Port)
	require.Equal(t, "env-secret", cfg.Auth.JWTSecret)
}

func TestBadFileFails(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "s3cret")

	t.Run("missing file", func(t *testing.T) {
		t.Setenv("REUNION_CONFIG_PATH", filepath.Join(t.TempDir(), "nope.yaml"))
		_, err := Load()
		require.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("server: [broken"), 0o600))
		t.Setenv("REUNION_CONFIG_PATH", path)
		_, err := Load()
		require.Error(t, err)
	})
}
