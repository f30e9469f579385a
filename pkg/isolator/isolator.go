package isolator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Isolator allocates a private filesystem namespace per (logical session,
// agent) pair and redirects the agent's configuration root into it. Two
// different sessions, or two agents under one session, never share a
// directory.
type Isolator struct {
	root   string
	logger zerolog.Logger
}

// New creates an isolator rooted at root
func New(root string, logger zerolog.Logger) *Isolator {
	return &Isolator{
		root:   root,
		logger: logger,
	}
}

// Prepare creates (if absent) the private directory for (sessionKey, agent)
// and returns the environment overlay pointing the agent's home and config
// root into it. The overlay carries no ambient credentials; callers add the
// specific variables an invocation is entitled to.
func (i *Isolator) Prepare(sessionKey, agent string) (map[string]string, error) {
	if err := validateKey(sessionKey); err != nil {
		return nil, fmt.Errorf("invalid session key: %w", err)
	}
	if err := validateKey(agent); err != nil {
		return nil, fmt.Errorf("invalid agent name: %w", err)
	}

	dir := i.Dir(sessionKey, agent)
	created := false
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		created = true
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create isolation directory: %w", err)
	}

	if err := writeAgentConfig(dir, agent); err != nil {
		return nil, err
	}

	env := map[string]string{
		"HOME":            dir,
		"XDG_CONFIG_HOME": filepath.Join(dir, ".config"),
		"XDG_CACHE_HOME":  filepath.Join(dir, ".cache"),
	}

	switch agent {
	case "claude":
		env["CLAUDE_CONFIG_DIR"] = filepath.Join(dir, ".claude")
	case "codex":
		env["CODEX_HOME"] = filepath.Join(dir, ".codex")
	case "gemini":
		env["GEMINI_SYSTEM_MD"] = "" // no ambient system prompt override
	}

	if created {
		i.logger.Debug().
			Str("session_key", sessionKey).
			Str("agent", agent).
			Str("dir", dir).
			Msg("Isolation directory created")
	}

	return env, nil
}

// Dir returns the isolation directory for (sessionKey, agent) without
// creating it.
func (i *Isolator) Dir(sessionKey, agent string) string {
	return filepath.Join(i.root, sessionKey, agent)
}

// Remove deletes the isolation tree for a logical session (all agents).
func (i *Isolator) Remove(sessionKey string) error {
	if err := validateKey(sessionKey); err != nil {
		return fmt.Errorf("invalid session key: %w", err)
	}
	return os.RemoveAll(filepath.Join(i.root, sessionKey))
}

// ModTime returns when a session's isolation tree was last modified.
func (i *Isolator) ModTime(sessionKey string) (time.Time, error) {
	if err := validateKey(sessionKey); err != nil {
		return time.Time{}, fmt.Errorf("invalid session key: %w", err)
	}
	info, err := os.Stat(filepath.Join(i.root, sessionKey))
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// ListSessions returns session keys that currently hold isolation trees.
func (i *Isolator) ListSessions() ([]string, error) {
	entries, err := os.ReadDir(i.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read isolation root: %w", err)
	}

	var keys []string
	for _, entry := range entries {
		if entry.IsDir() {
			keys = append(keys, entry.Name())
		}
	}
	return keys, nil
}

// writeAgentConfig writes the minimal, capability-free configuration for an
// agent dialect: no tool integrations, no implicit credentials.
func writeAgentConfig(dir, agent string) error {
	var configPath, content string

	switch agent {
	case "claude":
		configPath = filepath.Join(dir, ".claude", "settings.json")
		content = `{
  "permissions": {
    "allow": [],
    "deny": []
  },
  "enableAllProjectMcpServers": false,
  "includeCoAuthoredBy": false
}
`
	case "codex":
		configPath = filepath.Join(dir, ".codex", "config.toml")
		content = "# managed configuration, no external integrations\n" +
			"[mcp_servers]\n\n" +
			"[tools]\n" +
			"web_search = false\n"
	case "gemini":
		configPath = filepath.Join(dir, ".gemini", "settings.json")
		content = `{
  "mcpServers": {},
  "telemetry": {
    "enabled": false
  }
}
`
	default:
		// Unknown agents get a bare home with no config file.
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return fmt.Errorf("failed to create agent config dir: %w", err)
	}

	// Do not clobber a config the agent itself has since modified.
	if _, err := os.Stat(configPath); err == nil {
		return nil
	}

	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write agent config: %w", err)
	}
	return nil
}

// validateKey rejects values that could escape the isolation root.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("cannot be empty")
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("cannot contain '..'")
	}
	if strings.ContainsAny(key, "/\\") {
		return fmt.Errorf("cannot contain path separators")
	}
	if strings.Contains(key, "\x00") {
		return fmt.Errorf("cannot contain null bytes")
	}
	return nil
}
