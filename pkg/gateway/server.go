package gateway

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"switchboard/internal/observability"
	"switchboard/pkg/advisory"
	"switchboard/pkg/catalog"
	"switchboard/pkg/jobs"
	"switchboard/pkg/orchestrator"
	"switchboard/pkg/plugin"
)

const maxRequestBytes = 1 << 20

// Orchestrator runs agentic tasks.
type Orchestrator interface {
	Invoke(ctx context.Context, req orchestrator.Request) (*orchestrator.Response, error)
}

// Advisor answers advisory queries.
type Advisor interface {
	Query(ctx context.Context, req advisory.Request) (*advisory.Response, error)
}

// ModelLister exposes the model catalog.
type ModelLister interface {
	List() []catalog.ModelSpec
}

// Config holds server configuration
type Config struct {
	Host               string
	Port               int
	SharedSecret       string
	RateLimitPerMinute int

	// RequestTimeout bounds one HTTP request end to end.
	RequestTimeout time.Duration

	// SyncBudget is how long /v1/agent waits before handing back a job id
	// instead of the result.
	SyncBudget time.Duration

	Orchestrator Orchestrator
	Advisor      Advisor
	Jobs         *jobs.Manager
	Models       ModelLister
	Registry     *plugin.Registry
	Logger       zerolog.Logger
}

// Server is the HTTP and WebSocket API in front of the orchestrator.
type Server struct {
	cfg         Config
	server      *http.Server
	upgrader    websocket.Upgrader
	broadcaster *Broadcaster
	limiter     *RateLimiter
	logger      zerolog.Logger

	inFlight       sync.WaitGroup
	shutdownMu     sync.RWMutex
	isShuttingDown bool
}

// NewServer creates a new API server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.SharedSecret == "" {
		return nil, fmt.Errorf("shared secret is required")
	}
	if cfg.Orchestrator == nil || cfg.Jobs == nil {
		return nil, fmt.Errorf("orchestrator and job manager are required")
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 120
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 55 * time.Second
	}
	if cfg.SyncBudget <= 0 {
		cfg.SyncBudget = 45 * time.Second
	}

	observability.EnsureRegistered()

	s := &Server{
		cfg:         cfg,
		broadcaster: NewBroadcaster(cfg.Logger),
		limiter:     NewRateLimiter(cfg.RateLimitPerMinute),
		logger:      cfg.Logger.With().Str("component", "gateway").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	// Push job lifecycle events to WebSocket clients. Final results only;
	// partial agent output is never streamed.
	cfg.Jobs.OnEvent(s.broadcaster.BroadcastJobEvent)

	return s, nil
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", observability.Handler())
	mux.HandleFunc("GET /ws", s.protected("/ws", s.handleWebSocket))

	mux.HandleFunc("POST /v1/agent", s.protected("/v1/agent", s.handleAgent))
	mux.HandleFunc("POST /v1/advisory", s.protected("/v1/advisory", s.handleAdvisory))
	mux.HandleFunc("GET /v1/jobs/{id}", s.protected("/v1/jobs", s.handleJobGet))
	mux.HandleFunc("DELETE /v1/jobs/{id}", s.protected("/v1/jobs", s.handleJobCancel))
	mux.HandleFunc("GET /v1/models", s.protected("/v1/models", s.handleModels))
	mux.HandleFunc("GET /v1/agents", s.protected("/v1/agents", s.handleAgents))

	return mux
}

// Start begins serving in the background.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting API server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()

	return nil
}

// Stop drains in-flight requests and shuts the server down.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down API server")

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Shutdown drain timeout reached")
	}

	s.broadcaster.CloseAll()
	s.limiter.Stop()

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// protected wraps a handler with shutdown check, auth, rate limiting, and
// request metrics.
func (s *Server) protected(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.shutdownMu.RLock()
		if s.isShuttingDown {
			s.shutdownMu.RUnlock()
			http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
			return
		}
		s.shutdownMu.RUnlock()

		if !s.authorized(r) {
			observability.RecordGatewayRequest(route, "401")
			writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
			return
		}

		remote := remoteIP(r)
		if !s.limiter.Allow(remote) {
			observability.RecordGatewayRequest(route, "429")
			w.Header().Set("Retry-After", strconv.Itoa(s.limiter.RetryAfter(remote)))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		s.inFlight.Add(1)
		defer s.inFlight.Done()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		observability.RecordGatewayRequest(route, strconv.Itoa(rec.status))
	}
}

func (s *Server) authorized(r *http.Request) bool {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	token := header[len(prefix):]
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.SharedSecret)) == 1
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type agentRequest struct {
	Project     string   `json:"project"`
	SessionKey  string   `json:"session_key"`
	Model       string   `json:"model"`
	Agent       string   `json:"agent,omitempty"`
	Task        string   `json:"task"`
	ContextDirs []string `json:"context_dirs,omitempty"`
	ExtraArgs   []string `json:"extra_args,omitempty"`
	Async       bool     `json:"async,omitempty"`
}

// handleAgent starts the invocation as a job and answers synchronously when
// it finishes inside the sync budget, otherwise with the job id.
func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	var req agentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Task == "" || req.SessionKey == "" {
		writeError(w, http.StatusBadRequest, "task and session_key are required")
		return
	}
	if req.Model == "" && req.Agent == "" {
		writeError(w, http.StatusBadRequest, "model or agent is required")
		return
	}

	invReq := orchestrator.Request{
		Project:     req.Project,
		SessionKey:  req.SessionKey,
		Model:       req.Model,
		Agent:       req.Agent,
		Task:        req.Task,
		ContextDirs: req.ContextDirs,
		ExtraArgs:   req.ExtraArgs,
	}

	jobID, err := s.cfg.Jobs.Start("agent", map[string]interface{}{
		"session_key": req.SessionKey,
		"model":       req.Model,
	}, func(ctx context.Context) (interface{}, error) {
		return s.cfg.Orchestrator.Invoke(ctx, invReq)
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if req.Async {
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"job_id": jobID,
			"status": string(jobs.StatusRunning),
		})
		return
	}

	job, finished := s.waitForJob(r.Context(), jobID, s.cfg.SyncBudget)
	if !finished {
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"job_id": jobID,
			"status": string(jobs.StatusRunning),
		})
		return
	}

	switch job.Status {
	case jobs.StatusDone:
		writeJSON(w, http.StatusOK, job.Result)
	default:
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"job_id": job.ID,
			"status": string(job.Status),
			"error":  job.Error,
		})
	}
}

// waitForJob polls the registry until the job is terminal or the budget is
// spent. The job keeps running either way.
func (s *Server) waitForJob(ctx context.Context, jobID string, budget time.Duration) (jobs.Job, bool) {
	deadline := time.NewTimer(budget)
	defer deadline.Stop()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		job, err := s.cfg.Jobs.Get(jobID)
		if err == nil && job.Status.IsTerminal() {
			return job, true
		}

		select {
		case <-ticker.C:
		case <-deadline.C:
			return jobs.Job{}, false
		case <-ctx.Done():
			return jobs.Job{}, false
		}
	}
}

type advisoryRequest struct {
	Project    string `json:"project"`
	SessionKey string `json:"session_key"`
	Model      string `json:"model"`
	Query      string `json:"query"`
}

func (s *Server) handleAdvisory(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Advisor == nil {
		writeError(w, http.StatusNotImplemented, "advisory path not configured")
		return
	}

	var req advisoryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Query == "" || req.SessionKey == "" || req.Model == "" {
		writeError(w, http.StatusBadRequest, "model, query and session_key are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	resp, err := s.cfg.Advisor.Query(ctx, advisory.Request{
		Project:    req.Project,
		SessionKey: req.SessionKey,
		Model:      req.Model,
		Query:      req.Query,
	})
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, catalog.ErrUnknownModel) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleJobGet(w http.ResponseWriter, r *http.Request) {
	job, err := s.cfg.Jobs.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleJobCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.cfg.Jobs.Cancel(id); err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
		} else {
			writeError(w, http.StatusConflict, err.Error())
		}
		return
	}
	observability.RecordAdminAudit(r.Context(), "job_cancelled", remoteIP(r), "success", map[string]interface{}{
		"job_id": id,
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id, "status": "cancelling"})
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	models := []catalog.ModelSpec{}
	if s.cfg.Models != nil {
		models = s.cfg.Models.List()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"models": models})
}

func (s *Server) handleAgents(w http.ResponseWriter, _ *http.Request) {
	type agentInfo struct {
		Name        string `json:"name"`
		Executable  string `json:"executable"`
		MinVersion  string `json:"min_version,omitempty"`
		InstallHint string `json:"install_hint"`
	}

	agents := []agentInfo{}
	if s.cfg.Registry != nil {
		for _, name := range s.cfg.Registry.Names() {
			p, ok := s.cfg.Registry.Lookup(name)
			if !ok {
				continue
			}
			agents = append(agents, agentInfo{
				Name:        p.Name(),
				Executable:  p.Executable(),
				MinVersion:  p.MinVersion(),
				InstallHint: p.InstallHint(),
			})
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"agents": agents})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	id := s.broadcaster.Add(conn)
	defer func() {
		s.broadcaster.Remove(id)
		conn.Close()
	}()

	// Drain the read side so pings and close frames are processed; clients
	// only receive, never send.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack forwards to the underlying writer so the websocket upgrade works
// through the middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
