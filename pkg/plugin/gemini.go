package plugin

import (
	"encoding/json"
	"strings"
)

// GeminiPlugin drives the gemini CLI. Output is a single JSON document; the
// native token lives under "sessionId" and the main text under "response".
type GeminiPlugin struct{}

// NewGeminiPlugin creates the gemini agent plugin
func NewGeminiPlugin() *GeminiPlugin {
	return &GeminiPlugin{}
}

// Name returns the agent name
func (p *GeminiPlugin) Name() string { return "gemini" }

// Executable returns the CLI program name
func (p *GeminiPlugin) Executable() string { return "gemini" }

// MinVersion returns the minimum supported CLI version constraint
func (p *GeminiPlugin) MinVersion() string { return ">= 0.2.0" }

// InstallHint returns install instructions for a missing CLI
func (p *GeminiPlugin) InstallHint() string {
	return "install the gemini CLI with: npm install -g @google/gemini-cli"
}

// BuildNewSessionArgs builds the fresh-session argument vector
func (p *GeminiPlugin) BuildNewSessionArgs(task string, contextDirs []string) []string {
	args := []string{"--output-format", "json"}
	if len(contextDirs) > 0 {
		args = append(args, "--include-directories", strings.Join(contextDirs, ","))
	}
	args = append(args, task)
	return args
}

// BuildResumeArgs builds the resume argument vector
func (p *GeminiPlugin) BuildResumeArgs(nativeToken, task string) []string {
	return []string{"--resume", nativeToken, "--output-format", "json", task}
}

// geminiResult is the shape of the gemini CLI json document.
type geminiResult struct {
	Response  string                 `json:"response"`
	SessionID string                 `json:"sessionId"`
	Stats     map[string]interface{} `json:"stats"`
	Error     *geminiError           `json:"error"`
}

type geminiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ParseOutput parses gemini CLI output
func (p *GeminiPlugin) ParseOutput(stdout, stderr string, exitCode int) *Response {
	trimmed := strings.TrimSpace(stdout)
	if trimmed == "" {
		return degraded(stdout, stderr, "empty stdout")
	}

	// The CLI sometimes prints startup noise before the document; parse
	// from the first opening brace.
	if idx := strings.Index(trimmed, "{"); idx > 0 {
		trimmed = trimmed[idx:]
	}

	var res geminiResult
	if err := json.Unmarshal([]byte(trimmed), &res); err != nil {
		return degraded(stdout, stderr, "invalid json document: "+err.Error())
	}

	if res.Response == "" && res.Error == nil {
		return degraded(stdout, stderr, "document missing response field")
	}

	metadata := map[string]interface{}{}
	if res.Stats != nil {
		metadata["stats"] = res.Stats
	}

	content := res.Response
	if res.Error != nil {
		metadata["agent_error"] = res.Error.Message
		if content == "" {
			content = res.Error.Message
		}
	}

	return &Response{
		Content:            content,
		NativeSessionToken: res.SessionID,
		Metadata:           metadata,
	}
}
