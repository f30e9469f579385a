package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	l, err := New(DefaultConfig())
	require.NoError(t, err)
	defer l.Close()

	assert.NotNil(t, l.GetZerolog())
}

func TestNew_InvalidLevelFallsBackToInfo(t *testing.T) {
	l, err := New(Config{Level: "nonsense", Console: true})
	require.NoError(t, err)
	defer l.Close()
}

func TestNew_FileWriter(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "logs", "switchboard.log")

	l, err := New(Config{Level: "debug", File: logPath})
	require.NoError(t, err)

	zl := l.GetZerolog()
	zl.Info().Str("component", "test").Msg("hello from test")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from test")
}

func TestNew_FileWriterRedaction(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "switchboard.log")

	l, err := New(Config{Level: "info", File: logPath, Redaction: true})
	require.NoError(t, err)

	zl := l.GetZerolog()
	zl.Info().
		Str("key", "sk-ant-REDACTED").
		Msg("agent environment prepared")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-ant-REDACTED")
	assert.Contains(t, string(data), "[REDACTED]")
}
