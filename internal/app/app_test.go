package app

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelbrown/crucible/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Toolchain: config.ToolchainConfig{
			Binary:   "cargo",
			Timeout:  time.Second,
			Backend:  config.BackendProcess,
			TempRoot: t.TempDir(),
		},
		Storage: config.StorageConfig{DBPath: filepath.Join(t.TempDir(), "history.db")},
		Server:  config.ServerConfig{MaxParallel: 1},
		Log:     config.LogConfig{Level: "info", Format: "text"},
	}
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNewWithoutHistory(t *testing.T) {
	a, err := New(testConfig(t), quietLogger())
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.Runner)
	assert.Nil(t, a.Store)
}

func TestNewWithHistory(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Enabled = true

	a, err := New(cfg, quietLogger())
	require.NoError(t, err)
	require.NotNil(t, a.Store)
	assert.FileExists(t, cfg.Storage.DBPath)
	assert.NoError(t, a.Close())
}

func TestNewDockerBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Toolchain.Backend = config.BackendDocker
	cfg.Docker = config.DockerConfig{Image: "rust:1-slim", Network: "none"}

	// client construction does not contact the daemon
	a, err := New(cfg, quietLogger())
	require.NoError(t, err)
	assert.NoError(t, a.Close())
}
