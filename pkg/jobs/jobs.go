package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"switchboard/internal/observability"
)

// ErrJobNotFound means the job id is unknown to the registry.
var ErrJobNotFound = errors.New("job not found")

// Status is a job lifecycle state
type Status string

const (
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"

	// StatusInterrupted marks jobs that were still running when the
	// process last exited.
	StatusInterrupted Status = "interrupted"
)

// IsTerminal reports whether the status is final.
func (s Status) IsTerminal() bool {
	return s != StatusRunning
}

// Job is one background invocation tracked by the registry.
type Job struct {
	ID          string                 `json:"id"`
	Kind        string                 `json:"kind"`
	Status      Status                 `json:"status"`
	StartedAt   int64                  `json:"started_at"`
	CompletedAt *int64                 `json:"completed_at,omitempty"`
	Result      interface{}            `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// RunFunc is the work a job performs. The context is cancelled by Cancel
// and by manager shutdown.
type RunFunc func(ctx context.Context) (interface{}, error)

// Event is a job lifecycle notification.
type Event struct {
	Type string `json:"type"` // "started", "finished"
	Job  Job    `json:"job"`
}

// EventHandler receives job lifecycle events.
type EventHandler func(Event)

type registryFile struct {
	Version int    `json:"version"`
	Jobs    []*Job `json:"jobs"`
}

// Manager runs invocations in the background and persists their registry to
// JSON so status queries survive restarts.
type Manager struct {
	registryPath string
	jobs         map[string]*Job
	cancels      map[string]context.CancelFunc
	mu           sync.Mutex
	wg           sync.WaitGroup
	handlers     []EventHandler
	handlerMu    sync.RWMutex
	logger       zerolog.Logger
}

// New creates a job manager and loads any persisted registry. Jobs that
// were running when the previous process exited are marked interrupted.
func New(registryPath string, logger zerolog.Logger) (*Manager, error) {
	observability.EnsureRegistered()

	m := &Manager{
		registryPath: registryPath,
		jobs:         make(map[string]*Job),
		cancels:      make(map[string]context.CancelFunc),
		logger:       logger.With().Str("component", "jobs").Logger(),
	}

	if err := m.load(); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.registryPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading job registry: %w", err)
	}

	var reg registryFile
	if err := json.Unmarshal(data, &reg); err != nil {
		m.logger.Error().Err(err).Msg("Job registry unreadable, starting empty")
		return nil
	}

	interrupted := 0
	for _, job := range reg.Jobs {
		if !job.Status.IsTerminal() {
			job.Status = StatusInterrupted
			now := time.Now().UnixMilli()
			job.CompletedAt = &now
			interrupted++
		}
		m.jobs[job.ID] = job
	}

	m.logger.Info().
		Int("jobs", len(m.jobs)).
		Int("interrupted", interrupted).
		Msg("Job registry loaded")

	if interrupted > 0 {
		return m.save()
	}
	return nil
}

// save persists the registry atomically. Caller holds m.mu or is the only
// accessor.
func (m *Manager) save() error {
	if err := os.MkdirAll(filepath.Dir(m.registryPath), 0o755); err != nil {
		return fmt.Errorf("creating registry directory: %w", err)
	}

	reg := registryFile{Version: 1, Jobs: make([]*Job, 0, len(m.jobs))}
	for _, job := range m.jobs {
		reg.Jobs = append(reg.Jobs, job)
	}

	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling job registry: %w", err)
	}

	tempPath := m.registryPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("writing job registry: %w", err)
	}
	return os.Rename(tempPath, m.registryPath)
}

// Start launches fn in the background and returns the job id immediately.
// The job's context is detached from the caller's: a job outlives the
// request that started it and is stopped only by Cancel or shutdown.
func (m *Manager) Start(kind string, metadata map[string]interface{}, fn RunFunc) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("generating job id: %w", err)
	}

	job := &Job{
		ID:        id,
		Kind:      kind,
		Status:    StatusRunning,
		StartedAt: time.Now().UnixMilli(),
		Metadata:  metadata,
	}

	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	m.jobs[id] = job
	m.cancels[id] = cancel
	active := m.activeLocked()
	if err := m.save(); err != nil {
		m.logger.Error().Err(err).Msg("Failed to save job registry after start")
	}
	m.mu.Unlock()

	observability.SetJobsActive(active)
	m.emit(Event{Type: "started", Job: *job})

	m.logger.Info().Str("job_id", id).Str("kind", kind).Msg("Job started")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()

		result, err := fn(ctx)
		m.finish(id, result, err)
	}()

	return id, nil
}

func (m *Manager) finish(id string, result interface{}, err error) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return
	}

	now := time.Now().UnixMilli()
	job.CompletedAt = &now
	switch {
	case err == nil:
		job.Status = StatusDone
		job.Result = result
	case errors.Is(err, context.Canceled):
		job.Status = StatusCancelled
		job.Error = "cancelled"
	default:
		job.Status = StatusFailed
		job.Error = err.Error()
	}

	delete(m.cancels, id)
	active := m.activeLocked()
	if saveErr := m.save(); saveErr != nil {
		m.logger.Error().Err(saveErr).Msg("Failed to save job registry after completion")
	}
	snapshot := *job
	m.mu.Unlock()

	observability.SetJobsActive(active)
	observability.RecordJobFinished(string(snapshot.Status))
	m.emit(Event{Type: "finished", Job: snapshot})

	m.logger.Info().
		Str("job_id", id).
		Str("status", string(snapshot.Status)).
		Msg("Job finished")
}

func (m *Manager) activeLocked() int {
	return len(m.cancels)
}

// Get returns a snapshot of the job.
func (m *Manager) Get(id string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return *job, nil
}

// List returns snapshots of all tracked jobs.
func (m *Manager) List() []Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		out = append(out, *job)
	}
	return out
}

// Cancel propagates cancellation into the job's context, which kills any
// live subprocess underneath it. Cancelling a finished job is an error.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	cancel, running := m.cancels[id]
	m.mu.Unlock()

	if !running {
		return fmt.Errorf("job %s already %s", id, job.Status)
	}

	cancel()
	m.logger.Info().Str("job_id", id).Msg("Job cancellation requested")
	return nil
}

// Compact drops terminal jobs older than maxAge from the registry.
func (m *Manager) Compact(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge).UnixMilli()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, job := range m.jobs {
		if job.Status.IsTerminal() && job.CompletedAt != nil && *job.CompletedAt < cutoff {
			delete(m.jobs, id)
			removed++
		}
	}

	if removed > 0 {
		if err := m.save(); err != nil {
			m.logger.Error().Err(err).Msg("Failed to save job registry after compaction")
		}
		m.logger.Info().Int("removed", removed).Msg("Job registry compacted")
	}

	return removed
}

// OnEvent registers a lifecycle event handler.
func (m *Manager) OnEvent(handler EventHandler) {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()
	m.handlers = append(m.handlers, handler)
}

func (m *Manager) emit(event Event) {
	m.handlerMu.RLock()
	handlers := make([]EventHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.handlerMu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// Close cancels running jobs and waits for them to settle.
func (m *Manager) Close() error {
	m.mu.Lock()
	for _, cancel := range m.cancels {
		cancel()
	}
	m.mu.Unlock()

	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.save()
}
