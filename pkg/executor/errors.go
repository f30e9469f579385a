package executor

import "errors"

var (
	// ErrAgentNotInstalled indicates the agent executable was not found
	ErrAgentNotInstalled = errors.New("agent executable not installed")

	// ErrSpawnFailed indicates the subprocess could not be started
	ErrSpawnFailed = errors.New("failed to spawn agent process")
)
