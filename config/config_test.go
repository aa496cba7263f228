package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8001", cfg.Address)
	assert.Equal(t, "https://claude.talkai.info/chat/send/", cfg.UpstreamURL)
	assert.Equal(t, "client_api_keys.json", cfg.UpstreamKeyFile)
	assert.Equal(t, 300*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 0.7, cfg.DefaultTemperature)
}

func TestLoadEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("TALKAI_ADDRESS", ":9999")
	t.Setenv("TALKAI_IDLE_TIMEOUT", "5s")
	t.Setenv("PASSWORD", "secret-a,secret-b")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Address)
	assert.Equal(t, 5*time.Second, cfg.IdleTimeout)
	assert.Equal(t, "secret-a,secret-b", cfg.Password)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte("address: \":7000\"\nlog_format: text\nrequest_timeout: 10s\n"), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Address)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
}

func TestValidate(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("TALKAI_LOG_FORMAT", "xml")

	_, err := Load()
	assert.ErrorContains(t, err, "log_format")
}
