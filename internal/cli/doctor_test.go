package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckMinVersion(t *testing.T) {
	tests := []struct {
		name       string
		installed  string
		constraint string
		wantErr    bool
	}{
		{"satisfies", "1.2.3", ">= 1.0.0", false},
		{"exact boundary", "1.0.0", ">= 1.0.0", false},
		{"too old", "0.9.9", ">= 1.0.0", true},
		{"no constraint", "1.2.3", "", false},
		{"bad version", "abc", ">= 1.0.0", true},
		{"bad constraint", "1.2.3", "not-a-constraint", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkMinVersion(tt.installed, tt.constraint)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestProbeVersion(t *testing.T) {
	dir := t.TempDir()

	write := func(name, script string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
		return path
	}

	t.Run("extracts semver token", func(t *testing.T) {
		path := write("versioned", "#!/bin/sh\necho \"fake-cli 2.14.3 (build abc)\"\n")
		v, err := probeVersion(path)
		require.NoError(t, err)
		assert.Equal(t, "2.14.3", v)
	})

	t.Run("no version in output", func(t *testing.T) {
		path := write("silent", "#!/bin/sh\necho \"no numbers here\"\n")
		_, err := probeVersion(path)
		assert.Error(t, err)
	})

	t.Run("binary exits nonzero", func(t *testing.T) {
		path := write("broken", "#!/bin/sh\nexit 1\n")
		_, err := probeVersion(path)
		assert.Error(t, err)
	})
}

func TestVersionRegex(t *testing.T) {
	assert.Equal(t, "1.0.44", versionRegex.FindString("claude 1.0.44 (Claude Code)"))
	assert.Equal(t, "", versionRegex.FindString("dev build"))
}
