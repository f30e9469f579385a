package isolator

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIsolator(t *testing.T) *Isolator {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "isolation"), zerolog.Nop())
}

func TestIsolator_Prepare_CreatesPrivateHome(t *testing.T) {
	i := newTestIsolator(t)

	env, err := i.Prepare("s1", "claude")
	require.NoError(t, err)

	home := env["HOME"]
	require.NotEmpty(t, home)
	assert.DirExists(t, home)
	assert.Equal(t, i.Dir("s1", "claude"), home)

	// The capability-free settings file is written
	settings := filepath.Join(home, ".claude", "settings.json")
	assert.FileExists(t, settings)
	data, err := os.ReadFile(settings)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"allow": []`)

	assert.Equal(t, filepath.Join(home, ".claude"), env["CLAUDE_CONFIG_DIR"])
}

func TestIsolator_Prepare_AgentsDoNotOverlap(t *testing.T) {
	i := newTestIsolator(t)

	envA, err := i.Prepare("s1", "claude")
	require.NoError(t, err)
	envB, err := i.Prepare("s1", "codex")
	require.NoError(t, err)

	assert.NotEqual(t, envA["HOME"], envB["HOME"])
	assert.NotContains(t, envA["HOME"], envB["HOME"])
	assert.NotContains(t, envB["HOME"], envA["HOME"])
}

func TestIsolator_Prepare_SessionsDoNotOverlap(t *testing.T) {
	i := newTestIsolator(t)

	envA, err := i.Prepare("s1", "claude")
	require.NoError(t, err)
	envB, err := i.Prepare("s2", "claude")
	require.NoError(t, err)

	assert.NotEqual(t, envA["HOME"], envB["HOME"])
}

func TestIsolator_Prepare_Reuse(t *testing.T) {
	i := newTestIsolator(t)

	env1, err := i.Prepare("s1", "codex")
	require.NoError(t, err)

	// Simulate the agent mutating its own config
	configPath := filepath.Join(env1["HOME"], ".codex", "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte("# touched by agent\n"), 0600))

	env2, err := i.Prepare("s1", "codex")
	require.NoError(t, err)
	assert.Equal(t, env1["HOME"], env2["HOME"])

	// Reuse must not clobber the agent's own config changes
	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, "# touched by agent\n", string(data))
}

func TestIsolator_Prepare_RejectsTraversal(t *testing.T) {
	i := newTestIsolator(t)

	tests := []struct {
		session string
		agent   string
	}{
		{"../escape", "claude"},
		{"s1", "../escape"},
		{"a/b", "claude"},
		{"", "claude"},
		{"s1", ""},
	}

	for _, tt := range tests {
		_, err := i.Prepare(tt.session, tt.agent)
		assert.Error(t, err, "session=%q agent=%q", tt.session, tt.agent)
	}
}

func TestIsolator_RemoveAndList(t *testing.T) {
	i := newTestIsolator(t)

	_, err := i.Prepare("s1", "claude")
	require.NoError(t, err)
	_, err = i.Prepare("s2", "gemini")
	require.NoError(t, err)

	keys, err := i.ListSessions()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"s1", "s2"}, keys)

	require.NoError(t, i.Remove("s1"))
	keys, err = i.ListSessions()
	require.NoError(t, err)
	assert.Equal(t, []string{"s2"}, keys)
}

func TestIsolator_ModTime(t *testing.T) {
	i := newTestIsolator(t)

	_, err := i.Prepare("s1", "claude")
	require.NoError(t, err)

	mtime, err := i.ModTime("s1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), mtime, time.Minute)

	_, err = i.ModTime("absent")
	assert.Error(t, err)

	_, err = i.ModTime("../escape")
	assert.Error(t, err)
}
