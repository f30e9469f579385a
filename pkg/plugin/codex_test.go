package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodexPlugin_BuildNewSessionArgs(t *testing.T) {
	p := NewCodexPlugin()

	args := p.BuildNewSessionArgs("ping", nil)
	assert.Equal(t, []string{"exec", "--json", "ping"}, args)

	args = p.BuildNewSessionArgs("ping", []string{"/srv/app", "/srv/ignored"})
	assert.Equal(t, []string{"exec", "--json", "--cd", "/srv/app", "ping"}, args)
}

func TestCodexPlugin_BuildResumeArgs_IsSubcommand(t *testing.T) {
	p := NewCodexPlugin()

	args := p.BuildResumeArgs("thread-42", "continue")
	assert.Equal(t, []string{"exec", "resume", "thread-42", "--json", "continue"}, args)

	// Resume is a subcommand, not new-session args plus a flag
	newArgs := p.BuildNewSessionArgs("continue", nil)
	assert.NotEqual(t, newArgs, args)
	assert.Equal(t, "resume", args[1])
}

func TestCodexPlugin_ParseOutput_EventStream(t *testing.T) {
	p := NewCodexPlugin()

	stdout := `{"type":"thread.started","thread_id":"thread-9"}
{"type":"turn.started"}
{"type":"item.completed","item":{"type":"reasoning","text":"thinking"}}
{"type":"item.completed","item":{"type":"agent_message","text":"first"}}
{"type":"item.completed","item":{"type":"agent_message","text":"final answer"}}
{"type":"turn.completed"}`

	resp := p.ParseOutput(stdout, "", 0)

	require.False(t, resp.ParseFailed)
	assert.Equal(t, "final answer", resp.Content)
	assert.Equal(t, "thread-9", resp.NativeSessionToken)
	assert.Equal(t, 6, resp.Metadata["events"])
}

func TestCodexPlugin_ParseOutput_ErrorEvent(t *testing.T) {
	p := NewCodexPlugin()

	stdout := `{"type":"thread.started","thread_id":"thread-1"}
{"type":"error","error":{"message":"model overloaded"}}`

	resp := p.ParseOutput(stdout, "", 1)

	require.False(t, resp.ParseFailed)
	assert.Equal(t, "model overloaded", resp.Content)
	assert.Equal(t, "thread-1", resp.NativeSessionToken)
	assert.Equal(t, "model overloaded", resp.Metadata["agent_error"])
}

func TestCodexPlugin_ParseOutput_MixedFramingTolerated(t *testing.T) {
	p := NewCodexPlugin()

	// Garbage lines interleaved with valid events must not break parsing
	stdout := `not json at all
{"type":"thread.started","thread_id":"thread-2"}
{"broken":
{"type":"item.completed","item":{"type":"agent_message","text":"survived"}}`

	resp := p.ParseOutput(stdout, "", 0)

	require.False(t, resp.ParseFailed)
	assert.Equal(t, "survived", resp.Content)
	assert.Equal(t, "thread-2", resp.NativeSessionToken)
}

func TestCodexPlugin_ParseOutput_NoAgentMessageDegrades(t *testing.T) {
	p := NewCodexPlugin()

	stdout := `{"type":"thread.started","thread_id":"thread-3"}
{"type":"turn.started"}`

	resp := p.ParseOutput(stdout, "", 0)

	assert.True(t, resp.ParseFailed)
	assert.NotEmpty(t, resp.Content)
	// The thread id must survive so the session can still be resumed
	assert.Equal(t, "thread-3", resp.NativeSessionToken)
}

func TestCodexPlugin_ParseOutput_MalformedDegrades(t *testing.T) {
	p := NewCodexPlugin()

	resp := p.ParseOutput("complete garbage, no json", "", 1)
	assert.True(t, resp.ParseFailed)
	assert.NotEmpty(t, resp.Content)
}
