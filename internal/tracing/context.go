package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// RequestIDKey is the context key for request ID
	RequestIDKey ContextKey = "request_id"
	// ProjectKey is the context key for the caller's project
	ProjectKey ContextKey = "project"
	// SessionKeyKey is the context key for the logical session id
	SessionKeyKey ContextKey = "session_key"
	// AgentNameKey is the context key for the resolved agent name
	AgentNameKey ContextKey = "agent_name"
	// JobIDKey is the context key for the async job id
	JobIDKey ContextKey = "job_id"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID    string
	RequestID  string
	Project    string
	SessionKey string
	AgentName  string
	JobID      string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewRequestID generates a new request ID
func NewRequestID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithProject adds a project to the context
func WithProject(ctx context.Context, project string) context.Context {
	return context.WithValue(ctx, ProjectKey, project)
}

// WithSessionKey adds a logical session id to the context
func WithSessionKey(ctx context.Context, sessionKey string) context.Context {
	return context.WithValue(ctx, SessionKeyKey, sessionKey)
}

// WithAgentName adds an agent name to the context
func WithAgentName(ctx context.Context, agentName string) context.Context {
	return context.WithValue(ctx, AgentNameKey, agentName)
}

// WithJobID adds an async job id to the context
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, JobIDKey, jobID)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetRequestID retrieves the request ID from the context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetProject retrieves the project from the context
func GetProject(ctx context.Context) string {
	if project, ok := ctx.Value(ProjectKey).(string); ok {
		return project
	}
	return ""
}

// GetSessionKey retrieves the logical session id from the context
func GetSessionKey(ctx context.Context) string {
	if sessionKey, ok := ctx.Value(SessionKeyKey).(string); ok {
		return sessionKey
	}
	return ""
}

// GetAgentName retrieves the agent name from the context
func GetAgentName(ctx context.Context) string {
	if agentName, ok := ctx.Value(AgentNameKey).(string); ok {
		return agentName
	}
	return ""
}

// GetJobID retrieves the async job id from the context
func GetJobID(ctx context.Context) string {
	if jobID, ok := ctx.Value(JobIDKey).(string); ok {
		return jobID
	}
	return ""
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:    GetTraceID(ctx),
		RequestID:  GetRequestID(ctx),
		Project:    GetProject(ctx),
		SessionKey: GetSessionKey(ctx),
		AgentName:  GetAgentName(ctx),
		JobID:      GetJobID(ctx),
	}
}

// NewContext creates a new context with tracing information
func NewContext(ctx context.Context, tc *TraceContext) context.Context {
	if tc.TraceID != "" {
		ctx = WithTraceID(ctx, tc.TraceID)
	}
	if tc.RequestID != "" {
		ctx = WithRequestID(ctx, tc.RequestID)
	}
	if tc.Project != "" {
		ctx = WithProject(ctx, tc.Project)
	}
	if tc.SessionKey != "" {
		ctx = WithSessionKey(ctx, tc.SessionKey)
	}
	if tc.AgentName != "" {
		ctx = WithAgentName(ctx, tc.AgentName)
	}
	if tc.JobID != "" {
		ctx = WithJobID(ctx, tc.JobID)
	}
	return ctx
}

// NewRequestContext creates a new context for a request with fresh trace and request IDs
func NewRequestContext(ctx context.Context) context.Context {
	ctx = WithTraceID(ctx, NewTraceID())
	return WithRequestID(ctx, NewRequestID())
}
