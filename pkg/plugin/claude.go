package plugin

import (
	"bufio"
	"encoding/json"
	"strings"
)

// ClaudePlugin drives the claude CLI. Output is a single JSON result
// document; the native token lives under "session_id". The CLI can also be
// configured for stream-json output, so the parser falls back to
// line-delimited framing when the document parse fails.
type ClaudePlugin struct{}

// NewClaudePlugin creates the claude agent plugin
func NewClaudePlugin() *ClaudePlugin {
	return &ClaudePlugin{}
}

// Name returns the agent name
func (p *ClaudePlugin) Name() string { return "claude" }

// Executable returns the CLI program name
func (p *ClaudePlugin) Executable() string { return "claude" }

// MinVersion returns the minimum supported CLI version constraint
func (p *ClaudePlugin) MinVersion() string { return ">= 1.0.0" }

// InstallHint returns install instructions for a missing CLI
func (p *ClaudePlugin) InstallHint() string {
	return "install the claude CLI with: npm install -g @anthropic-ai/claude-code"
}

// BuildNewSessionArgs builds the fresh-session argument vector
func (p *ClaudePlugin) BuildNewSessionArgs(task string, contextDirs []string) []string {
	args := []string{"--print"}
	for _, dir := range contextDirs {
		args = append(args, "--add-dir", dir)
	}
	args = append(args, "-p", task, "--output-format", "json")
	return args
}

// BuildResumeArgs builds the resume argument vector
func (p *ClaudePlugin) BuildResumeArgs(nativeToken, task string) []string {
	return []string{"--print", "--resume", nativeToken, "-p", task, "--output-format", "json"}
}

// claudeResult is the shape of the claude CLI json result document.
type claudeResult struct {
	Type           string `json:"type"`
	Subtype        string `json:"subtype"`
	Result         string `json:"result"`
	SessionID      string `json:"session_id"`
	CompactSummary string `json:"compact_summary"`
	IsError        bool   `json:"is_error"`
	NumTurns       int    `json:"num_turns"`
	TotalCostUSD   float64 `json:"total_cost_usd"`
}

// ParseOutput parses claude CLI output
func (p *ClaudePlugin) ParseOutput(stdout, stderr string, exitCode int) *Response {
	trimmed := strings.TrimSpace(stdout)
	if trimmed == "" {
		return degraded(stdout, stderr, "empty stdout")
	}

	var res claudeResult
	if err := json.Unmarshal([]byte(trimmed), &res); err == nil && res.Type != "" {
		return p.toResponse(res)
	}

	// Fall back to stream-json framing: scan lines, keep the final result
	// event.
	var last *claudeResult
	scanner := bufio.NewScanner(strings.NewReader(trimmed))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var evt claudeResult
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			continue
		}
		if evt.Type == "result" {
			last = &evt
		}
	}
	if last != nil {
		return p.toResponse(*last)
	}

	return degraded(stdout, stderr, "no result document in stdout")
}

func (p *ClaudePlugin) toResponse(res claudeResult) *Response {
	metadata := map[string]interface{}{
		"subtype":   res.Subtype,
		"num_turns": res.NumTurns,
	}
	if res.TotalCostUSD > 0 {
		metadata["total_cost_usd"] = res.TotalCostUSD
	}
	if res.IsError {
		metadata["agent_reported_error"] = true
	}
	return &Response{
		Content:            res.Result,
		NativeSessionToken: res.SessionID,
		Summary:            res.CompactSummary,
		Metadata:           metadata,
	}
}
