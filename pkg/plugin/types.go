package plugin

import "strings"

// Response is the normalized result of one agent invocation, regardless of
// which agent produced the raw output.
type Response struct {
	// Content is the main textual content extracted from the agent output.
	Content string `json:"content"`

	// NativeSessionToken is the agent's own session identifier, used to
	// resume the agent's context on a later invocation. Empty when the
	// agent did not report one.
	NativeSessionToken string `json:"native_session_token,omitempty"`

	// Summary is an embedded summary marker some agents emit when they
	// compacted their own history mid-run.
	Summary string `json:"summary,omitempty"`

	// ParseFailed is set when the raw output could not be parsed and
	// Content degraded to truncated raw stdout.
	ParseFailed bool `json:"parse_failed,omitempty"`

	// Metadata carries parser-specific diagnostics (event counts, usage,
	// parse error text).
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// AgentPlugin describes one supported external CLI agent: how to build its
// command lines and how to parse its output. Implementations are pure and
// immutable after registration.
type AgentPlugin interface {
	// Name returns the unique agent name used as the registry key.
	Name() string

	// Executable returns the program name looked up on PATH.
	Executable() string

	// MinVersion returns a semver constraint the installed CLI must satisfy,
	// or empty when any version is acceptable.
	MinVersion() string

	// InstallHint returns actionable text shown when the executable is missing.
	InstallHint() string

	// BuildNewSessionArgs builds the argument vector for a fresh session.
	BuildNewSessionArgs(task string, contextDirs []string) []string

	// BuildResumeArgs builds the argument vector that resumes the agent's
	// own prior context. Resume is not necessarily a flag on the new-session
	// invocation; it may be a distinct subcommand.
	BuildResumeArgs(nativeToken, task string) []string

	// ParseOutput parses raw agent output into a normalized Response. It
	// never returns an error: malformed output degrades to truncated raw
	// stdout with ParseFailed set.
	ParseOutput(stdout, stderr string, exitCode int) *Response
}

// maxRawContentChars caps the content kept from unparseable output.
const maxRawContentChars = 4000

// truncateRaw bounds raw output used as fallback content.
func truncateRaw(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxRawContentChars {
		return s
	}
	return s[:maxRawContentChars] + "\n[output truncated]"
}

// degraded builds the fallback Response for unparseable output.
func degraded(stdout, stderr, reason string) *Response {
	content := truncateRaw(stdout)
	if content == "" {
		content = truncateRaw(stderr)
	}
	return &Response{
		Content:     content,
		ParseFailed: true,
		Metadata: map[string]interface{}{
			"parse_error": reason,
		},
	}
}
