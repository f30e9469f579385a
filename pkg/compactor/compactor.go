package compactor

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"switchboard/pkg/session"
	"switchboard/pkg/summarizer"
)

// Summarizer is the single-shot summarization capability the compactor
// falls back to when prior turns exceed the token budget.
type Summarizer interface {
	Summarize(ctx context.Context, text string, targetChars int) (string, error)
}

// Result is the context block produced for injection into a fresh agent
// session. Summarized and Truncated record which path produced it.
type Result struct {
	Block      string
	Summarized bool
	Truncated  bool
}

// Compactor turns prior conversation history into an injected context block
// for an agent that has no native session to resume.
type Compactor struct {
	summarizer Summarizer
	logger     zerolog.Logger
}

// New creates a compactor
func New(sum Summarizer, logger zerolog.Logger) *Compactor {
	return &Compactor{
		summarizer: sum,
		logger:     logger.With().Str("component", "compactor").Logger(),
	}
}

// estimateTokens approximates token count from character count. Four chars
// per token is the usual rule of thumb for English prose and code.
func estimateTokens(text string) int {
	return len(text) / 4
}

// CompactForAgent decides between verbatim injection and summarization for
// the given prior turns. Returns nil when there is nothing to inject.
// Turns are never dropped: over-budget history is summarized, and if the
// summarizer is unavailable it is truncated with an explicit marker.
func (c *Compactor) CompactForAgent(ctx context.Context, turns []session.Turn, targetAgent string, tokenBudget int) (*Result, error) {
	if len(turns) == 0 {
		return nil, nil
	}

	serialized := formatTurns(turns)

	if estimateTokens(serialized) <= tokenBudget {
		c.logger.Debug().
			Str("agent", targetAgent).
			Int("turns", len(turns)).
			Msg("Prior history fits budget, injecting verbatim")
		return &Result{Block: labelBlock(serialized)}, nil
	}

	// One summarizer call per invocation, never more.
	targetChars := tokenBudget * 4
	summary, err := c.summarizer.Summarize(ctx, serialized, targetChars)
	if err != nil {
		c.logger.Warn().
			Err(err).
			Str("agent", targetAgent).
			Msg("History summarization failed, truncating with marker")
		return &Result{
			Block:     labelBlock(summarizer.Truncate(serialized, targetChars)),
			Truncated: true,
		}, nil
	}

	return &Result{Block: labelBlock(summary), Summarized: true}, nil
}

// formatTurns serializes turns into a stable line-per-turn transcript.
func formatTurns(turns []session.Turn) string {
	var b strings.Builder
	for _, turn := range turns {
		tool := turn.Tool
		if tool == "" {
			tool = "unknown"
		}
		fmt.Fprintf(&b, "[%s via %s]: %s\n", turn.Role, tool, strings.TrimSpace(turn.Content))
	}
	return strings.TrimRight(b.String(), "\n")
}

func labelBlock(body string) string {
	return "=== Prior conversation context ===\n" + body + "\n=== End of prior context ==="
}

// PrefixTask prepends an injected context block onto the task text.
func PrefixTask(block, task string) string {
	if block == "" {
		return task
	}
	return block + "\n\n" + task
}
