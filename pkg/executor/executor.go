package executor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"switchboard/internal/observability"
)

// Request describes one subprocess execution
type Request struct {
	Command    string
	Args       []string
	WorkingDir string

	// Env is the complete child environment. The ambient process
	// environment is never inherited; agents see only what the isolator
	// put in the overlay.
	Env map[string]string

	// Timeout is the wall-clock limit. Zero uses the executor default.
	Timeout time.Duration
}

// Result is the outcome of one subprocess execution
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// Config holds executor configuration
type Config struct {
	DefaultTimeout time.Duration
	MaxOutputBytes int
	Logger         zerolog.Logger
}

// Executor spawns and supervises agent subprocesses. Each child runs in its
// own process group so that timeout or cancellation kills the whole tree,
// not just the direct child.
type Executor struct {
	defaultTimeout time.Duration
	maxOutputBytes int
	logger         zerolog.Logger
}

// New creates a new process executor
func New(cfg Config) *Executor {
	observability.EnsureRegistered()

	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = 5 * time.Minute
	}
	if cfg.MaxOutputBytes == 0 {
		cfg.MaxOutputBytes = 1 << 20
	}

	return &Executor{
		defaultTimeout: cfg.DefaultTimeout,
		maxOutputBytes: cfg.MaxOutputBytes,
		logger:         cfg.Logger,
	}
}

// Execute runs the subprocess to completion, kill, or cancellation.
//
// Timeout expiry is not an error: the Result carries TimedOut plus whatever
// partial output was captured. Cancellation of ctx kills the process group
// and returns ctx's error, so a cancelled invocation can never leave a
// dangling child behind or observe a late completion.
func (e *Executor) Execute(ctx context.Context, req Request) (Result, error) {
	timeout := req.Timeout
	if timeout == 0 {
		timeout = e.defaultTimeout
	}

	if _, err := exec.LookPath(req.Command); err != nil {
		return Result{}, fmt.Errorf("%w: %s", ErrAgentNotInstalled, req.Command)
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, req.Command, req.Args...)
	if req.WorkingDir != "" {
		cmd.Dir = req.WorkingDir
	}
	cmd.Env = buildEnviron(req.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// On context cancellation kill the whole process group. WaitDelay
	// bounds how long Wait blocks on lingering pipe readers after the kill.
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	stdout := newCappedBuffer(e.maxOutputBytes)
	stderr := newCappedBuffer(e.maxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return Result{}, fmt.Errorf("%w: %s", ErrAgentNotInstalled, req.Command)
		}
		return Result{}, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	err := cmd.Wait()
	duration := time.Since(start)

	result := Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: duration,
	}

	// Caller cancellation wins over timeout classification.
	if ctx.Err() != nil {
		e.logger.Debug().
			Str("command", req.Command).
			Dur("duration", duration).
			Msg("Subprocess killed by caller cancellation")
		return result, ctx.Err()
	}

	if execCtx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = -1
		e.logger.Warn().
			Str("command", req.Command).
			Dur("timeout", timeout).
			Int("partial_stdout_bytes", len(result.Stdout)).
			Msg("Subprocess exceeded wall-clock timeout")
		return result, nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return result, fmt.Errorf("subprocess wait failed: %w", err)
		}
	}

	e.logger.Debug().
		Str("command", req.Command).
		Int("exit_code", result.ExitCode).
		Dur("duration", duration).
		Int("stdout_bytes", len(result.Stdout)).
		Msg("Subprocess completed")

	return result, nil
}

// buildEnviron converts the overlay map into the child environment slice.
func buildEnviron(env map[string]string) []string {
	// Minimal base; the overlay decides everything else.
	environ := []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
	}
	for key, value := range env {
		environ = append(environ, fmt.Sprintf("%s=%s", key, value))
	}
	return environ
}

// cappedBuffer keeps at most cap bytes; overflow is counted and dropped so
// a runaway agent cannot exhaust memory.
type cappedBuffer struct {
	buf     []byte
	max     int
	dropped int64
	mu      sync.Mutex
}

func newCappedBuffer(max int) *cappedBuffer {
	return &cappedBuffer{max: max}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	remaining := b.max - len(b.buf)
	if remaining > 0 {
		n := len(p)
		if n > remaining {
			n = remaining
		}
		b.buf = append(b.buf, p[:n]...)
		b.dropped += int64(len(p) - n)
	} else {
		b.dropped += int64(len(p))
	}
	// Report full length so the child never sees a write error.
	return len(p), nil
}

func (b *cappedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf
}

// Dropped returns how many bytes were discarded beyond the cap.
func (b *cappedBuffer) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
