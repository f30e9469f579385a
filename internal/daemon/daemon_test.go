package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchboard/internal/config"
	"switchboard/internal/logger"
)

const testCatalog = `models:
  - name: claude-sonnet-4
    provider: anthropic
    agent: claude
    aliases: [sonnet]
  - name: gpt-5-codex
    provider: openai
    agent: codex
`

// createTestDaemon builds a daemon on a throwaway data directory with the
// gateway bound to a test port.
func createTestDaemon(t *testing.T, port int) (*Daemon, *logger.Logger) {
	t.Helper()
	tmpDir := t.TempDir()

	catalogPath := filepath.Join(tmpDir, "models.yaml")
	require.NoError(t, os.WriteFile(catalogPath, []byte(testCatalog), 0o600))

	cfg := config.DefaultConfig()
	cfg.DataDir = filepath.Join(tmpDir, "data")
	cfg.CatalogPath = catalogPath
	cfg.Gateway.Port = port
	cfg.Gateway.SharedSecret = "test-secret"

	log, err := logger.New(logger.Config{Level: "info", Console: false})
	require.NoError(t, err)

	d, err := New(cfg, log)
	require.NoError(t, err)
	return d, log
}

func TestNew(t *testing.T) {
	d, log := createTestDaemon(t, 18372)
	defer log.Close()

	assert.NotNil(t, d.registry)
	assert.NotNil(t, d.catalog)
	assert.NotNil(t, d.bridge)
	assert.NotNil(t, d.sessions)
	assert.NotNil(t, d.orchestrator)
	assert.NotNil(t, d.gateway)
	assert.NotNil(t, d.maintenance)

	require.NoError(t, d.bridge.Close())
}

func TestDaemonStartStop(t *testing.T) {
	d, log := createTestDaemon(t, 18373)
	defer log.Close()

	require.NoError(t, d.Start())

	status := d.Status()
	assert.True(t, status.Running)
	assert.False(t, status.StartTime.IsZero())

	time.Sleep(50 * time.Millisecond)

	require.NoError(t, d.Stop())
	assert.False(t, d.Status().Running)
}

func TestDaemonStatusBeforeStart(t *testing.T) {
	d, log := createTestDaemon(t, 18374)
	defer log.Close()

	status := d.Status()
	assert.False(t, status.Running)
	assert.Equal(t, time.Duration(0), status.Uptime)

	require.NoError(t, d.bridge.Close())
}

func TestDaemonDoubleStart(t *testing.T) {
	d, log := createTestDaemon(t, 18375)
	defer log.Close()

	require.NoError(t, d.Start())
	defer d.Stop()

	assert.Error(t, d.Start())
}
