package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithEnvSecret(t *testing.T) {
	t.Setenv("CENTRAL_SECRET", "from-env")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Secret)
	assert.Equal(t, ":8000", cfg.ListenAddr)
	assert.Equal(t, 60*time.Second, cfg.LivenessThreshold())
	assert.Equal(t, 300*time.Second, cfg.RotateAfter())
	assert.Zero(t, cfg.MonitorInterval(), "unset interval derived downstream")
}

func TestLoad_MissingSecret(t *testing.T) {
	t.Setenv("CENTRAL_SECRET", "")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secret")
}

func TestLoad_File(t *testing.T) {
	t.Setenv("CENTRAL_SECRET", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: ":9000"
secret: "file-secret"
liveness_threshold_seconds: 30
rotate_after_seconds: 120
rotate_interval_seconds: 15
state_dir: /tmp/state
archive_dir: /tmp/archive
nats_url: nats://localhost:4222
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, "file-secret", cfg.Secret)
	assert.Equal(t, 30*time.Second, cfg.LivenessThreshold())
	assert.Equal(t, 120*time.Second, cfg.RotateAfter())
	assert.Equal(t, 15*time.Second, cfg.RotateInterval())
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
}

func TestLoad_EnvOverridesFileSecret(t *testing.T) {
	t.Setenv("CENTRAL_SECRET", "env-wins")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("secret: file-secret\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-wins", cfg.Secret)
}

func TestLoad_SameDirsRejected(t *testing.T) {
	t.Setenv("CENTRAL_SECRET", "s")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
state_dir: /tmp/same
archive_dir: /tmp/same
`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must differ")
}
