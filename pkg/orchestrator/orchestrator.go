package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"switchboard/internal/observability"
	"switchboard/internal/tracing"
	"switchboard/pkg/commandqueue"
	"switchboard/pkg/compactor"
	"switchboard/pkg/executor"
	"switchboard/pkg/plugin"
	"switchboard/pkg/session"
)

// State names one step of the invocation state machine.
type State string

const (
	StateResolving   State = "RESOLVING"
	StateIsolating   State = "ISOLATING"
	StateResuming    State = "RESUMING"
	StateCompacting  State = "COMPACTING-THEN-STARTING"
	StateStarting    State = "STARTING"
	StateExecuting   State = "EXECUTING"
	StateNormalizing State = "NORMALIZING"
	StatePersisting  State = "PERSISTING"
	StateSummarizing State = "SUMMARIZING"
	StateDone        State = "DONE"
	StateFailed      State = "FAILED"
)

// Degraded reasons carried on partial-success responses.
const (
	DegradedTimeout        = "timeout"
	DegradedParseFailed    = "parse_failed"
	DegradedResumeFallback = "resume_fallback"
	DegradedSummarizer     = "summarizer_unavailable"
	DegradedAgentCrashed   = "agent_crashed"
)

// ModelResolver maps a caller-supplied model name to an agent name.
type ModelResolver interface {
	ResolveAgent(model string) (string, error)
}

// Summarizer bounds the final response content.
type Summarizer interface {
	Summarize(ctx context.Context, text string, targetChars int) (string, error)
}

// Request is one agentic task invocation.
type Request struct {
	Project     string
	SessionKey  string
	Model       string
	Task        string
	ContextDirs []string

	// Agent bypasses model resolution when set. Escape hatch for callers
	// that address an agent directly.
	Agent string

	// ExtraArgs are appended verbatim to the agent command line. Opaque to
	// the plugin, rejected unless the server enables AllowExtraArgs.
	ExtraArgs []string

	// Timeout overrides the configured agent timeout when non-zero.
	Timeout time.Duration
}

// Response is the final, bounded result returned to the caller.
type Response struct {
	Content            string                 `json:"content"`
	Agent              string                 `json:"agent"`
	Model              string                 `json:"model,omitempty"`
	SessionKey         string                 `json:"session_key"`
	NativeSessionToken string                 `json:"native_session_token,omitempty"`
	Resumed            bool                   `json:"resumed"`
	Degraded           bool                   `json:"degraded"`
	DegradedReason     string                 `json:"degraded_reason,omitempty"`
	TimedOut           bool                   `json:"timed_out,omitempty"`
	ExitCode           int                    `json:"exit_code"`
	Duration           time.Duration          `json:"duration"`
	Path               []State                `json:"path"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
}

func (r *Response) enter(s State) {
	r.Path = append(r.Path, s)
}

func (r *Response) degrade(reason string) {
	r.Degraded = true
	if r.DegradedReason == "" {
		r.DegradedReason = reason
	}
}

// Config holds orchestrator limits, taken from the agents section of the
// server configuration.
type Config struct {
	AgentTimeout       time.Duration
	ContextTokenBudget int
	ResponseMaxChars   int

	// AllowExtraArgs permits per-request extra agent arguments. Off by
	// default.
	AllowExtraArgs bool
}

// Isolator prepares the per-(session, agent) environment overlay.
type Isolator interface {
	Prepare(sessionKey, agent string) (map[string]string, error)
	Dir(sessionKey, agent string) string
}

// Bridge is the native-token mapping store.
type Bridge interface {
	GetNativeToken(ctx context.Context, project, sessionKey, agent string) (string, bool, error)
	PutNativeToken(ctx context.Context, project, sessionKey, agent, token string) error
	DeleteToken(ctx context.Context, project, sessionKey, agent string) error
}

// TurnStore is the conversation history the compactor reads and the
// orchestrator appends to.
type TurnStore interface {
	LoadTurns(ctx context.Context, sessionKey string) ([]session.Turn, error)
	AppendTurn(ctx context.Context, sessionKey string, turn session.Turn) error
	HasTurns(ctx context.Context, sessionKey string) (bool, error)
}

// Compactor produces the injected context block for fresh sessions.
type Compactor interface {
	CompactForAgent(ctx context.Context, turns []session.Turn, targetAgent string, tokenBudget int) (*compactor.Result, error)
}

// Service drives one agent invocation through the full state machine:
// resolve, isolate, resume-or-start, execute, normalize, persist, summarize.
type Service struct {
	resolver   ModelResolver
	registry   *plugin.Registry
	isolator   Isolator
	bridge     Bridge
	store      TurnStore
	compactor  Compactor
	summarizer Summarizer
	executor   *executor.Executor
	queue      *commandqueue.Queue
	cfg        Config
	logger     zerolog.Logger
}

// New creates the orchestrating service
func New(
	resolver ModelResolver,
	registry *plugin.Registry,
	iso Isolator,
	bridge Bridge,
	store TurnStore,
	comp Compactor,
	sum Summarizer,
	exe *executor.Executor,
	queue *commandqueue.Queue,
	cfg Config,
	logger zerolog.Logger,
) *Service {
	observability.EnsureRegistered()

	if cfg.AgentTimeout == 0 {
		cfg.AgentTimeout = 5 * time.Minute
	}
	if cfg.ContextTokenBudget == 0 {
		cfg.ContextTokenBudget = 6000
	}
	if cfg.ResponseMaxChars == 0 {
		cfg.ResponseMaxChars = 8000
	}

	return &Service{
		resolver:   resolver,
		registry:   registry,
		isolator:   iso,
		bridge:     bridge,
		store:      store,
		compactor:  comp,
		summarizer: sum,
		executor:   exe,
		queue:      queue,
		cfg:        cfg,
		logger:     logger.With().Str("component", "orchestrator").Logger(),
	}
}

// Invoke runs one agentic task. Timeout, parse failure, and resume fallback
// yield a degraded-but-successful Response; only resolution failures, a
// missing agent binary, and exhaustion of the resume fallback are errors.
func (s *Service) Invoke(ctx context.Context, req Request) (*Response, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"switchboard.orchestrator",
		"orchestrator.invoke",
		attribute.String("model", req.Model),
		attribute.String("session_key", req.SessionKey),
	)
	defer span.End()

	ctx = tracing.WithProject(ctx, req.Project)
	ctx = tracing.WithSessionKey(ctx, req.SessionKey)

	start := time.Now()
	resp, err := s.invoke(ctx, req)
	duration := time.Since(start)

	agent := req.Agent
	if resp != nil {
		resp.Duration = duration
		agent = resp.Agent
	}

	outcome := "success"
	switch {
	case err != nil:
		outcome = "failed"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case resp.Degraded:
		outcome = "degraded"
	}
	observability.RecordInvocation(agent, outcome, duration)
	observability.RecordInvocationAudit(ctx, agent, req.Project, outcome, map[string]interface{}{
		"session_key": req.SessionKey,
		"model":       req.Model,
	})

	return resp, err
}

func (s *Service) invoke(ctx context.Context, req Request) (*Response, error) {
	if err := session.ValidateSessionKey(req.SessionKey); err != nil {
		return nil, err
	}

	logger := tracing.LoggerFromContext(ctx, s.logger)
	resp := &Response{
		Model:      req.Model,
		SessionKey: req.SessionKey,
		Metadata:   make(map[string]interface{}),
	}

	// RESOLVING
	resp.enter(StateResolving)
	agent := req.Agent
	if agent == "" {
		resolved, err := s.resolver.ResolveAgent(req.Model)
		if err != nil {
			resp.enter(StateFailed)
			return nil, err
		}
		agent = resolved
	}
	resp.Agent = agent

	p, ok := s.registry.Lookup(agent)
	if !ok {
		resp.enter(StateFailed)
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, agent)
	}

	// ISOLATING
	resp.enter(StateIsolating)
	env, err := s.isolator.Prepare(req.SessionKey, agent)
	if err != nil {
		resp.enter(StateFailed)
		return nil, fmt.Errorf("preparing isolated environment: %w", err)
	}

	// Branch: resume when a native token exists; otherwise a fresh session,
	// with prior history compacted in when the session has any.
	token, haveToken, err := s.bridge.GetNativeToken(ctx, req.Project, req.SessionKey, agent)
	if err != nil {
		resp.enter(StateFailed)
		return nil, fmt.Errorf("bridge lookup: %w", err)
	}

	var args []string
	if haveToken {
		resp.enter(StateResuming)
		resp.Resumed = true
		args = p.BuildResumeArgs(token, req.Task)
		logger.Debug().Str("agent", agent).Msg("Resuming native agent session")
	} else {
		args, err = s.buildFreshArgs(ctx, req, p, resp)
		if err != nil {
			resp.enter(StateFailed)
			return nil, err
		}
	}

	if len(req.ExtraArgs) > 0 {
		if !s.cfg.AllowExtraArgs {
			resp.enter(StateFailed)
			return nil, ErrExtraArgsDisabled
		}
		args = append(args, req.ExtraArgs...)
	}

	// EXECUTING
	resp.enter(StateExecuting)
	result, err := s.execute(ctx, req, p, args, env)
	if err != nil {
		if errors.Is(err, executor.ErrAgentNotInstalled) {
			resp.enter(StateFailed)
			return nil, fmt.Errorf("%w (%s)", err, p.InstallHint())
		}
		resp.enter(StateFailed)
		return nil, err
	}

	// A resume the agent rejected at runtime falls back to a fresh session
	// with prior history injected. The rejected attempt's output is
	// discarded without normalization so its diagnostics and metrics never
	// leak into the final response. Only the fallback failing in turn is a
	// hard error.
	if resp.Resumed && result.ExitCode != 0 && !result.TimedOut {
		logger.Warn().
			Str("agent", agent).
			Int("exit_code", result.ExitCode).
			Msg("Agent rejected resume token, retrying as fresh session")
		observability.RecordResumeFallback(agent)

		if err := s.bridge.DeleteToken(ctx, req.Project, req.SessionKey, agent); err != nil {
			logger.Warn().Err(err).Msg("Failed to drop stale native token")
		}

		args, err = s.buildFreshArgs(ctx, req, p, resp)
		if err != nil {
			resp.enter(StateFailed)
			return nil, err
		}
		if len(req.ExtraArgs) > 0 {
			args = append(args, req.ExtraArgs...)
		}
		resp.Resumed = false
		resp.degrade(DegradedResumeFallback)

		resp.enter(StateExecuting)
		result, err = s.execute(ctx, req, p, args, env)
		if err != nil {
			resp.enter(StateFailed)
			return nil, fmt.Errorf("%w: %v", ErrResumeRejected, err)
		}
	}

	// NORMALIZING
	resp.enter(StateNormalizing)
	parsed := s.normalize(p, result, resp)

	if result.ExitCode != 0 && !result.TimedOut {
		if parsed.Content == "" {
			resp.enter(StateFailed)
			if resp.DegradedReason == DegradedResumeFallback {
				return nil, fmt.Errorf("%w: exit code %d: %s",
					ErrResumeRejected, result.ExitCode, truncateForError(string(result.Stderr)))
			}
			return nil, fmt.Errorf("%w: exit code %d: %s",
				ErrAgentFailed, result.ExitCode, truncateForError(string(result.Stderr)))
		}
		// Crashed but left parseable content: recovered, never silent.
		resp.degrade(DegradedAgentCrashed)
	}

	// PERSISTING
	resp.enter(StatePersisting)
	if parsed.NativeSessionToken != "" {
		if err := s.bridge.PutNativeToken(ctx, req.Project, req.SessionKey, agent, parsed.NativeSessionToken); err != nil {
			logger.Error().Err(err).Msg("Failed to persist native session token")
		} else {
			resp.NativeSessionToken = parsed.NativeSessionToken
		}
	}

	turn := session.Turn{
		Role:    "agent",
		Content: parsed.Content,
		Tool:    agent,
		Metadata: map[string]interface{}{
			"task":        req.Task,
			"exit_code":   result.ExitCode,
			"timed_out":   result.TimedOut,
			"duration_ms": result.Duration.Milliseconds(),
			"raw_stdout":  string(result.Stdout),
		},
	}
	if err := s.store.AppendTurn(ctx, req.SessionKey, turn); err != nil {
		logger.Error().Err(err).Msg("Failed to append conversation turn")
	}

	// SUMMARIZING: unconditional, so callers get a bounded response shape
	// regardless of which agent produced the raw output.
	resp.enter(StateSummarizing)
	content, err := s.summarizer.Summarize(ctx, parsed.Content, s.cfg.ResponseMaxChars)
	if err != nil {
		resp.degrade(DegradedSummarizer)
	}
	resp.Content = content

	resp.enter(StateDone)
	return resp, nil
}

// buildFreshArgs builds new-session args, injecting compacted prior history
// when the logical session already has turns from other tools.
func (s *Service) buildFreshArgs(ctx context.Context, req Request, p plugin.AgentPlugin, resp *Response) ([]string, error) {
	hasTurns, err := s.store.HasTurns(ctx, req.SessionKey)
	if err != nil {
		return nil, fmt.Errorf("checking session history: %w", err)
	}

	task := req.Task
	if hasTurns {
		resp.enter(StateCompacting)
		turns, err := s.store.LoadTurns(ctx, req.SessionKey)
		if err != nil {
			return nil, fmt.Errorf("loading session history: %w", err)
		}
		block, err := s.compactor.CompactForAgent(ctx, turns, p.Name(), s.cfg.ContextTokenBudget)
		if err != nil {
			return nil, fmt.Errorf("compacting session history: %w", err)
		}
		if block != nil {
			task = compactor.PrefixTask(block.Block, task)
			resp.Metadata["context_injected"] = true
			resp.Metadata["context_summarized"] = block.Summarized
			if block.Truncated {
				resp.degrade(DegradedSummarizer)
			}
		}
	} else {
		resp.enter(StateStarting)
	}

	return p.BuildNewSessionArgs(task, req.ContextDirs), nil
}

// execute runs the agent subprocess inside the agents lane so the global
// subprocess ceiling holds across all concurrent invocations.
func (s *Service) execute(ctx context.Context, req Request, p plugin.AgentPlugin, args []string, env map[string]string) (executor.Result, error) {
	timeout := req.Timeout
	if timeout == 0 {
		timeout = s.cfg.AgentTimeout
	}

	workDir := ""
	if len(req.ContextDirs) > 0 {
		workDir = req.ContextDirs[0]
	}

	value, err := s.queue.Run(ctx, commandqueue.LaneAgents, func(taskCtx context.Context) (interface{}, error) {
		return s.executor.Execute(taskCtx, executor.Request{
			Command:    p.Executable(),
			Args:       args,
			WorkingDir: workDir,
			Env:        env,
			Timeout:    timeout,
		})
	})
	if err != nil {
		return executor.Result{}, err
	}
	return value.(executor.Result), nil
}

// normalize parses agent output and attaches uniform diagnostics.
func (s *Service) normalize(p plugin.AgentPlugin, result executor.Result, resp *Response) *plugin.Response {
	parsed := p.ParseOutput(string(result.Stdout), string(result.Stderr), result.ExitCode)

	resp.ExitCode = result.ExitCode
	resp.TimedOut = result.TimedOut
	resp.Metadata["exit_code"] = result.ExitCode
	resp.Metadata["duration_ms"] = result.Duration.Milliseconds()
	for k, v := range parsed.Metadata {
		resp.Metadata[k] = v
	}

	if result.TimedOut {
		resp.degrade(DegradedTimeout)
		observability.RecordTimeout(p.Name())
	}
	if parsed.ParseFailed {
		resp.degrade(DegradedParseFailed)
		observability.RecordParseFailure(p.Name())
	}

	return parsed
}

func truncateForError(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 500 {
		return s[:500]
	}
	return s
}
