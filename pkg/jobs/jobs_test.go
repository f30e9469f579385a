package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T) (*Manager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.json")
	m, err := New(path, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m, path
}

func waitForStatus(t *testing.T, m *Manager, id string, status Status) Job {
	t.Helper()
	var job Job
	require.Eventually(t, func() bool {
		j, err := m.Get(id)
		if err != nil {
			return false
		}
		job = j
		return j.Status == status
	}, 2*time.Second, 10*time.Millisecond)
	return job
}

func TestStartAndComplete(t *testing.T) {
	m, _ := newManager(t)

	id, err := m.Start("agent", map[string]interface{}{"session_key": "s1"}, func(ctx context.Context) (interface{}, error) {
		return "result", nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	job := waitForStatus(t, m, id, StatusDone)
	assert.Equal(t, "result", job.Result)
	assert.Equal(t, "agent", job.Kind)
	assert.NotNil(t, job.CompletedAt)
}

func TestFailedJobKeepsError(t *testing.T) {
	m, _ := newManager(t)

	id, err := m.Start("agent", nil, func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("agent exploded")
	})
	require.NoError(t, err)

	job := waitForStatus(t, m, id, StatusFailed)
	assert.Equal(t, "agent exploded", job.Error)
}

func TestCancelPropagates(t *testing.T) {
	m, _ := newManager(t)

	started := make(chan struct{})
	id, err := m.Start("agent", nil, func(ctx context.Context) (interface{}, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, err)

	<-started
	require.NoError(t, m.Cancel(id))

	job := waitForStatus(t, m, id, StatusCancelled)
	assert.Equal(t, "cancelled", job.Error)

	// A second cancel is an error.
	assert.Error(t, m.Cancel(id))
}

func TestCancelUnknownJob(t *testing.T) {
	m, _ := newManager(t)
	assert.ErrorIs(t, m.Cancel("nope"), ErrJobNotFound)
}

func TestRegistrySurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")

	m, err := New(path, zerolog.Nop())
	require.NoError(t, err)
	id, err := m.Start("agent", nil, func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	waitForStatus(t, m, id, StatusDone)
	require.NoError(t, m.Close())

	reloaded, err := New(path, zerolog.Nop())
	require.NoError(t, err)
	defer reloaded.Close()

	job, err := reloaded.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, job.Status)
}

func TestRunningJobsMarkedInterruptedOnLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")

	// Simulate a registry left behind by a crashed process.
	reg := registryFile{Version: 1, Jobs: []*Job{
		{ID: "j1", Kind: "agent", Status: StatusRunning, StartedAt: time.Now().UnixMilli()},
	}}
	data, err := json.Marshal(reg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	m, err := New(path, zerolog.Nop())
	require.NoError(t, err)
	defer m.Close()

	job, err := m.Get("j1")
	require.NoError(t, err)
	assert.Equal(t, StatusInterrupted, job.Status)
	assert.NotNil(t, job.CompletedAt)
}

func TestEventsEmitted(t *testing.T) {
	m, _ := newManager(t)

	var mu sync.Mutex
	var events []Event
	m.OnEvent(func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	id, err := m.Start("agent", nil, func(ctx context.Context) (interface{}, error) {
		return "done", nil
	})
	require.NoError(t, err)
	waitForStatus(t, m, id, StatusDone)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 2
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "started", events[0].Type)
	assert.Equal(t, "finished", events[1].Type)
	assert.Equal(t, StatusDone, events[1].Job.Status)
	assert.Equal(t, "done", events[1].Job.Result)
}

func TestCompactRemovesOldTerminalJobs(t *testing.T) {
	m, _ := newManager(t)

	id, err := m.Start("agent", nil, func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})
	require.NoError(t, err)
	waitForStatus(t, m, id, StatusDone)

	// Recent terminal jobs stay.
	assert.Equal(t, 0, m.Compact(time.Hour))

	// Backdate completion.
	m.mu.Lock()
	old := time.Now().Add(-48 * time.Hour).UnixMilli()
	m.jobs[id].CompletedAt = &old
	m.mu.Unlock()

	assert.Equal(t, 1, m.Compact(time.Hour))
	_, err = m.Get(id)
	assert.ErrorIs(t, err, ErrJobNotFound)
}
