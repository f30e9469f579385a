package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCommand(t *testing.T) {
	t.Run("help text", func(t *testing.T) {
		cmd := GetRootCmd()
		cmd.SetArgs([]string{"status", "--help"})

		output := &bytes.Buffer{}
		cmd.SetOut(output)

		err := cmd.Execute()
		require.NoError(t, err)

		assert.Contains(t, output.String(), "status")
	})
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected string
	}{
		{"seconds only", 45 * time.Second, "45s"},
		{"minutes and seconds", 2*time.Minute + 30*time.Second, "2m30s"},
		{"hours minutes seconds", 3*time.Hour + 15*time.Minute + 20*time.Second, "3h15m20s"},
		{"zero", 0, "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatDuration(tt.duration))
		})
	}
}

func TestPIDFileHelpers(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file is not running", func(t *testing.T) {
		assert.False(t, isRunning(filepath.Join(dir, "absent.pid")))
	})

	t.Run("own pid is running", func(t *testing.T) {
		pidFile := filepath.Join(dir, "self.pid")
		require.NoError(t, os.WriteFile(pidFile, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644))

		assert.True(t, isRunning(pidFile))

		pid, err := readPID(pidFile)
		require.NoError(t, err)
		assert.Equal(t, os.Getpid(), pid)
	})

	t.Run("garbage pid file", func(t *testing.T) {
		pidFile := filepath.Join(dir, "garbage.pid")
		require.NoError(t, os.WriteFile(pidFile, []byte("not-a-pid"), 0o644))

		assert.False(t, isRunning(pidFile))

		_, err := readPID(pidFile)
		assert.Error(t, err)
	})

	t.Run("write pid file", func(t *testing.T) {
		pidFile := filepath.Join(dir, "nested", "write.pid")
		require.NoError(t, writePIDFile(pidFile))

		pid, err := readPID(pidFile)
		require.NoError(t, err)
		assert.Equal(t, os.Getpid(), pid)
	})
}
