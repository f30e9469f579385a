package plugin

import (
	"bufio"
	"encoding/json"
	"strings"
)

// CodexPlugin drives the codex CLI. Invocation goes through the exec
// subcommand; resume is a distinct subcommand (exec resume <token>), not a
// flag. Output is a line-delimited JSON event stream; the native token lives
// under "thread_id" on the thread.started event.
type CodexPlugin struct{}

// NewCodexPlugin creates the codex agent plugin
func NewCodexPlugin() *CodexPlugin {
	return &CodexPlugin{}
}

// Name returns the agent name
func (p *CodexPlugin) Name() string { return "codex" }

// Executable returns the CLI program name
func (p *CodexPlugin) Executable() string { return "codex" }

// MinVersion returns the minimum supported CLI version constraint
func (p *CodexPlugin) MinVersion() string { return ">= 0.20.0" }

// InstallHint returns install instructions for a missing CLI
func (p *CodexPlugin) InstallHint() string {
	return "install the codex CLI with: npm install -g @openai/codex"
}

// BuildNewSessionArgs builds the fresh-session argument vector
func (p *CodexPlugin) BuildNewSessionArgs(task string, contextDirs []string) []string {
	args := []string{"exec", "--json"}
	// codex takes a single working directory rather than a directory list.
	if len(contextDirs) > 0 {
		args = append(args, "--cd", contextDirs[0])
	}
	args = append(args, task)
	return args
}

// BuildResumeArgs builds the resume argument vector
func (p *CodexPlugin) BuildResumeArgs(nativeToken, task string) []string {
	return []string{"exec", "resume", nativeToken, "--json", task}
}

// codexEvent is one line of the codex exec --json event stream.
type codexEvent struct {
	Type     string     `json:"type"`
	ThreadID string     `json:"thread_id"`
	Item     *codexItem `json:"item"`
	Error    *codexErr  `json:"error"`
}

type codexItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type codexErr struct {
	Message string `json:"message"`
}

// ParseOutput parses the codex event stream
func (p *CodexPlugin) ParseOutput(stdout, stderr string, exitCode int) *Response {
	trimmed := strings.TrimSpace(stdout)
	if trimmed == "" {
		return degraded(stdout, stderr, "empty stdout")
	}

	var (
		threadID   string
		lastText   string
		errMessage string
		events     int
	)

	scanner := bufio.NewScanner(strings.NewReader(trimmed))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var evt codexEvent
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			continue
		}
		events++

		switch evt.Type {
		case "thread.started":
			threadID = evt.ThreadID
		case "item.completed":
			if evt.Item != nil && evt.Item.Type == "agent_message" {
				lastText = evt.Item.Text
			}
		case "error":
			if evt.Error != nil {
				errMessage = evt.Error.Message
			}
		}
	}

	if events == 0 {
		return degraded(stdout, stderr, "no parseable events in stdout")
	}

	metadata := map[string]interface{}{
		"events": events,
	}
	if errMessage != "" {
		metadata["agent_error"] = errMessage
	}

	content := lastText
	if content == "" && errMessage != "" {
		content = errMessage
	}
	if content == "" {
		// Events parsed but no agent message; surface raw output rather
		// than an empty response, keeping any thread id we saw.
		resp := degraded(stdout, stderr, "no agent_message event in stream")
		resp.NativeSessionToken = threadID
		return resp
	}

	return &Response{
		Content:            content,
		NativeSessionToken: threadID,
		Metadata:           metadata,
	}
}
