package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	return New(Config{
		DefaultTimeout: 10 * time.Second,
		MaxOutputBytes: 1 << 16,
		Logger:         zerolog.Nop(),
	})
}

// writeScript writes an executable shell script acting as a fake agent binary.
func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func TestExecutor_Execute_Success(t *testing.T) {
	e := newTestExecutor(t)
	script := writeScript(t, "agent", `echo "hello $1"`)

	result, err := e.Execute(context.Background(), Request{
		Command: script,
		Args:    []string{"world"},
	})

	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.False(t, result.TimedOut)
	assert.Equal(t, "hello world\n", string(result.Stdout))
	assert.Greater(t, result.Duration, time.Duration(0))
}

func TestExecutor_Execute_NonZeroExit(t *testing.T) {
	e := newTestExecutor(t)
	script := writeScript(t, "agent", `echo "boom" >&2; exit 3`)

	result, err := e.Execute(context.Background(), Request{Command: script})

	require.NoError(t, err)
	assert.Equal(t, 3, result.ExitCode)
	assert.Contains(t, string(result.Stderr), "boom")
}

func TestExecutor_Execute_EnvironmentIsExplicit(t *testing.T) {
	e := newTestExecutor(t)
	t.Setenv("AMBIENT_SECRET", "leak-me")
	script := writeScript(t, "agent", `echo "HOME=$HOME AMBIENT=$AMBIENT_SECRET OVERLAY=$OVERLAY_VAR"`)

	result, err := e.Execute(context.Background(), Request{
		Command: script,
		Env: map[string]string{
			"HOME":        "/tmp/private",
			"OVERLAY_VAR": "present",
		},
	})

	require.NoError(t, err)
	out := string(result.Stdout)
	assert.Contains(t, out, "HOME=/tmp/private")
	assert.Contains(t, out, "OVERLAY=present")
	assert.Contains(t, out, "AMBIENT= ")
}

func TestExecutor_Execute_Timeout(t *testing.T) {
	e := newTestExecutor(t)
	script := writeScript(t, "agent", `echo "partial"; sleep 30`)

	start := time.Now()
	result, err := e.Execute(context.Background(), Request{
		Command: script,
		Timeout: 300 * time.Millisecond,
	})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.True(t, result.TimedOut)
	assert.Equal(t, -1, result.ExitCode)
	assert.Contains(t, string(result.Stdout), "partial")
	assert.Less(t, elapsed, 10*time.Second)
}

func TestExecutor_Execute_CancellationKillsChild(t *testing.T) {
	e := newTestExecutor(t)
	script := writeScript(t, "agent", `sleep 30`)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := e.Execute(ctx, Request{Command: script})
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, context.Canceled)
	// The kill must land within a bounded grace period, not after the sleep
	assert.Less(t, elapsed, 10*time.Second)
}

func TestExecutor_Execute_OutputCapped(t *testing.T) {
	e := New(Config{
		DefaultTimeout: 10 * time.Second,
		MaxOutputBytes: 1024,
		Logger:         zerolog.Nop(),
	})
	script := writeScript(t, "agent", `i=0; while [ $i -lt 1000 ]; do echo "0123456789012345678901234567890123456789"; i=$((i+1)); done`)

	result, err := e.Execute(context.Background(), Request{Command: script})

	require.NoError(t, err)
	assert.Equal(t, 1024, len(result.Stdout))
}

func TestExecutor_Execute_AgentNotInstalled(t *testing.T) {
	e := newTestExecutor(t)

	_, err := e.Execute(context.Background(), Request{Command: "definitely-not-a-real-agent-binary"})

	assert.ErrorIs(t, err, ErrAgentNotInstalled)
}

func TestCappedBuffer(t *testing.T) {
	b := newCappedBuffer(10)

	n, err := b.Write([]byte("0123456789abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 16, n)
	assert.Equal(t, "0123456789", string(b.Bytes()))
	assert.Equal(t, int64(6), b.Dropped())

	n, err = b.Write([]byte("more"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, int64(10), b.Dropped())
}
