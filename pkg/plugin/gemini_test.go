package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeminiPlugin_BuildNewSessionArgs(t *testing.T) {
	p := NewGeminiPlugin()

	args := p.BuildNewSessionArgs("ping", nil)
	assert.Equal(t, []string{"--output-format", "json", "ping"}, args)

	args = p.BuildNewSessionArgs("ping", []string{"/srv/app", "/srv/lib"})
	assert.Equal(t, []string{
		"--output-format", "json",
		"--include-directories", "/srv/app,/srv/lib",
		"ping",
	}, args)
}

func TestGeminiPlugin_BuildResumeArgs(t *testing.T) {
	p := NewGeminiPlugin()

	args := p.BuildResumeArgs("gem-5", "continue")
	assert.Equal(t, []string{"--resume", "gem-5", "--output-format", "json", "continue"}, args)
	assert.NotEqual(t, p.BuildNewSessionArgs("continue", nil), args)
}

func TestGeminiPlugin_ParseOutput(t *testing.T) {
	p := NewGeminiPlugin()

	stdout := `{"response":"all good","sessionId":"gem-17","stats":{"tokens":120}}`
	resp := p.ParseOutput(stdout, "", 0)

	require.False(t, resp.ParseFailed)
	assert.Equal(t, "all good", resp.Content)
	assert.Equal(t, "gem-17", resp.NativeSessionToken)
	assert.NotNil(t, resp.Metadata["stats"])
}

func TestGeminiPlugin_ParseOutput_LeadingNoise(t *testing.T) {
	p := NewGeminiPlugin()

	stdout := "Loaded cached credentials.\n" + `{"response":"ok","sessionId":"gem-2"}`
	resp := p.ParseOutput(stdout, "", 0)

	require.False(t, resp.ParseFailed)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, "gem-2", resp.NativeSessionToken)
}

func TestGeminiPlugin_ParseOutput_AgentError(t *testing.T) {
	p := NewGeminiPlugin()

	stdout := `{"error":{"type":"QuotaError","message":"rate limited"},"sessionId":"gem-3"}`
	resp := p.ParseOutput(stdout, "", 1)

	require.False(t, resp.ParseFailed)
	assert.Equal(t, "rate limited", resp.Content)
	assert.Equal(t, "rate limited", resp.Metadata["agent_error"])
}

func TestGeminiPlugin_ParseOutput_MalformedDegrades(t *testing.T) {
	p := NewGeminiPlugin()

	tests := []struct {
		name   string
		stdout string
	}{
		{"truncated", `{"response":"cut of`},
		{"wrong shape", `{"unexpected":true}`},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := p.ParseOutput(tt.stdout, "fallback stderr", 1)
			assert.True(t, resp.ParseFailed)
			assert.NotEmpty(t, resp.Content)
		})
	}
}
