package advisory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"switchboard/internal/observability"
	"switchboard/internal/tracing"
	"switchboard/pkg/catalog"
	"switchboard/pkg/session"
)

// ErrProviderNotConfigured means the resolved provider has no API key.
var ErrProviderNotConfigured = errors.New("advisory provider not configured")

// Provider performs one stateless completion against a model API.
type Provider interface {
	Name() string
	Complete(ctx context.Context, model string, turns []session.Turn, query string, maxTokens int) (string, error)
}

// ModelLookup resolves a model name to its catalog entry.
type ModelLookup interface {
	Get(model string) (*catalog.ModelSpec, error)
}

// TurnStore is the shared conversation history. Advisory calls read and
// append the same turns the CLI agents do, so a conversation moves between
// an autonomous agent and a stateless API call without losing context.
type TurnStore interface {
	LoadTurns(ctx context.Context, sessionKey string) ([]session.Turn, error)
	AppendTurn(ctx context.Context, sessionKey string, turn session.Turn) error
}

// Request is one advisory query.
type Request struct {
	Project    string
	SessionKey string
	Model      string
	Query      string
}

// Response is the advisory result.
type Response struct {
	Content  string `json:"content"`
	Model    string `json:"model"`
	Provider string `json:"provider"`
}

// Config holds advisory configuration
type Config struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	MaxTokens       int
}

// Service answers advisory queries with direct model API calls.
type Service struct {
	lookup    ModelLookup
	store     TurnStore
	providers map[string]Provider
	maxTokens int
	logger    zerolog.Logger
}

// New creates the advisory service with the standard providers. Providers
// without an API key are left unregistered and fail with a configuration
// error at query time.
func New(lookup ModelLookup, store TurnStore, cfg Config, logger zerolog.Logger) *Service {
	providers := make(map[string]Provider)
	if cfg.AnthropicAPIKey != "" {
		providers["anthropic"] = NewAnthropicProvider(cfg.AnthropicAPIKey)
	}
	if cfg.OpenAIAPIKey != "" {
		providers["openai"] = NewOpenAIProvider(cfg.OpenAIAPIKey)
	}
	return newService(lookup, store, providers, cfg.MaxTokens, logger)
}

// NewWithProviders creates the service around explicit providers.
func NewWithProviders(lookup ModelLookup, store TurnStore, providers map[string]Provider, maxTokens int, logger zerolog.Logger) *Service {
	return newService(lookup, store, providers, maxTokens, logger)
}

func newService(lookup ModelLookup, store TurnStore, providers map[string]Provider, maxTokens int, logger zerolog.Logger) *Service {
	observability.EnsureRegistered()

	if maxTokens == 0 {
		maxTokens = 1024
	}

	return &Service{
		lookup:    lookup,
		store:     store,
		providers: providers,
		maxTokens: maxTokens,
		logger:    logger.With().Str("component", "advisory").Logger(),
	}
}

// Query resolves the model's provider, replays the session history into the
// call, and appends the answer as a new turn.
func (s *Service) Query(ctx context.Context, req Request) (*Response, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"switchboard.advisory",
		"advisory.query",
		attribute.String("model", req.Model),
		attribute.String("session_key", req.SessionKey),
	)
	defer span.End()

	if err := session.ValidateSessionKey(req.SessionKey); err != nil {
		return nil, err
	}

	spec, err := s.lookup.Get(req.Model)
	if err != nil {
		return nil, err
	}

	provider, ok := s.providers[spec.Provider]
	if !ok {
		observability.RecordAdvisoryCall(spec.Provider, "unconfigured")
		return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, spec.Provider)
	}

	turns, err := s.store.LoadTurns(ctx, req.SessionKey)
	if err != nil {
		return nil, fmt.Errorf("loading session history: %w", err)
	}

	// Per-model catalog cap bounds the configured default when tighter.
	maxTokens := s.maxTokens
	if spec.MaxTokens > 0 && spec.MaxTokens < maxTokens {
		maxTokens = spec.MaxTokens
	}

	logger := tracing.LoggerFromContext(ctx, s.logger)
	start := time.Now()
	content, err := provider.Complete(ctx, req.Model, turns, req.Query, maxTokens)
	if err != nil {
		observability.RecordAdvisoryCall(spec.Provider, "error")
		observability.RecordAdvisoryAudit(ctx, req.Model, req.Project, "failure", nil)
		return nil, fmt.Errorf("advisory call to %s: %w", spec.Provider, err)
	}

	logger.Debug().
		Str("model", req.Model).
		Str("provider", spec.Provider).
		Dur("duration", time.Since(start)).
		Msg("Advisory query answered")

	turn := session.Turn{
		Role:    "agent",
		Content: content,
		Tool:    req.Model,
		Metadata: map[string]interface{}{
			"task":     req.Query,
			"provider": spec.Provider,
			"advisory": true,
		},
	}
	if err := s.store.AppendTurn(ctx, req.SessionKey, turn); err != nil {
		logger.Error().Err(err).Msg("Failed to append advisory turn")
	}

	observability.RecordAdvisoryCall(spec.Provider, "success")
	observability.RecordAdvisoryAudit(ctx, req.Model, req.Project, "success", map[string]interface{}{
		"session_key": req.SessionKey,
	})

	return &Response{
		Content:  content,
		Model:    req.Model,
		Provider: spec.Provider,
	}, nil
}
