package summarizer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"switchboard/internal/observability"
)

// Provider is a single-shot summarization backend: text in, shorter text out.
type Provider interface {
	// Summarize compresses text to approximately targetChars characters.
	Summarize(ctx context.Context, text string, targetChars int) (string, error)

	// Name returns the provider name
	Name() string
}

// Config holds summarizer configuration
type Config struct {
	Provider    string // anthropic, openai
	Model       string
	APIKey      string
	TargetChars int
	Logger      zerolog.Logger
}

// Summarizer wraps a Provider with the degrade-to-truncation policy: a
// failed summarization call never fails the request, it yields a truncated
// text with an explicit marker instead.
type Summarizer struct {
	provider    Provider
	targetChars int
	logger      zerolog.Logger
}

// New creates a summarizer from config
func New(cfg Config) (*Summarizer, error) {
	observability.EnsureRegistered()

	if cfg.TargetChars == 0 {
		cfg.TargetChars = 2000
	}

	var provider Provider
	switch cfg.Provider {
	case "anthropic":
		provider = NewAnthropicProvider(cfg.APIKey, cfg.Model)
	case "openai":
		provider = NewOpenAIProvider(cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unsupported summarizer provider: %s", cfg.Provider)
	}

	return &Summarizer{
		provider:    provider,
		targetChars: cfg.TargetChars,
		logger:      cfg.Logger,
	}, nil
}

// NewWithProvider creates a summarizer around an existing provider. Tests
// substitute fakes through this path.
func NewWithProvider(provider Provider, targetChars int, logger zerolog.Logger) *Summarizer {
	observability.EnsureRegistered()
	if targetChars == 0 {
		targetChars = 2000
	}
	return &Summarizer{
		provider:    provider,
		targetChars: targetChars,
		logger:      logger,
	}
}

// TargetChars returns the configured target length.
func (s *Summarizer) TargetChars() int {
	return s.targetChars
}

// Summarize compresses text via the provider. The error return reports the
// provider failure; the string return is always usable (summary on success,
// marked truncation on failure).
func (s *Summarizer) Summarize(ctx context.Context, text string, targetChars int) (string, error) {
	if targetChars == 0 {
		targetChars = s.targetChars
	}

	// Nothing to compress.
	if len(text) <= targetChars {
		return text, nil
	}

	start := time.Now()
	summary, err := s.provider.Summarize(ctx, text, targetChars)
	observability.RecordSummarizerDuration(time.Since(start))

	if err != nil {
		observability.RecordSummarizerFailure()
		s.logger.Warn().
			Err(err).
			Str("provider", s.provider.Name()).
			Msg("Summarization failed, degrading to truncation")
		return Truncate(text, targetChars), fmt.Errorf("summarization failed: %w", err)
	}

	return strings.TrimSpace(summary), nil
}

// Truncate bounds text to roughly max characters, keeping head and tail with
// an explicit marker so the cut is never silent.
func Truncate(text string, max int) string {
	if len(text) <= max {
		return text
	}
	const marker = "\n[...truncated...]\n"
	if max <= len(marker)+2 {
		return text[:max]
	}

	keep := max - len(marker)
	head := keep * 2 / 3
	tail := keep - head
	return text[:head] + marker + text[len(text)-tail:]
}

// summaryPrompt builds the instruction both providers share.
func summaryPrompt(targetChars int) string {
	return fmt.Sprintf(
		"Summarize the following conversation or output in at most %d characters. "+
			"Preserve decisions, file paths, identifiers and open questions. "+
			"Reply with the summary only.", targetChars)
}
