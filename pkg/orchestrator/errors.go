package orchestrator

import "errors"

var (
	// ErrUnknownAgent means the catalog resolved a model to an agent that
	// has no registered plugin.
	ErrUnknownAgent = errors.New("no plugin registered for agent")

	// ErrResumeRejected means the agent rejected its native session token
	// and the fresh-session fallback also produced no usable content.
	ErrResumeRejected = errors.New("agent rejected resume and fresh session fallback failed")

	// ErrAgentFailed means the agent exited without producing any usable
	// content.
	ErrAgentFailed = errors.New("agent produced no usable output")

	// ErrExtraArgsDisabled means the request carried extra agent arguments
	// but the server configuration does not allow them.
	ErrExtraArgsDisabled = errors.New("extra agent arguments are disabled")
)
