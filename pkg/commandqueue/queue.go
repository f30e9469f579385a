package commandqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"switchboard/internal/observability"
	"switchboard/internal/tracing"
)

// Lane names fixed at startup. All agent subprocess executions run in
// LaneAgents whose concurrency is the configured ceiling on outstanding
// subprocesses; maintenance work is serialized in its own lane.
const (
	LaneAgents      = "agents"
	LaneMaintenance = "maintenance"
)

// Task is a unit of work executed inside a lane slot.
type Task func(ctx context.Context) (interface{}, error)

type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	enqueuedAt time.Time
	result     chan taskResult
}

type taskResult struct {
	value interface{}
	err   error
}

// laneState manages execution state for a single lane
type laneState struct {
	concurrency int
	queue       []*taskRecord
	running     int
	mu          sync.Mutex
}

// Queue provides lane-based task scheduling with per-lane concurrency
// ceilings. It does not serialize per session: concurrent callers on the
// same session key are a caller error resolved by last-write-wins further
// down the stack.
type Queue struct {
	lanes     map[string]*laneState
	taskIDSeq int
	mu        sync.RWMutex
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a queue with the standard lanes. agentConcurrency bounds the
// number of simultaneously live agent subprocesses.
func New(agentConcurrency int) *Queue {
	observability.EnsureRegistered()

	if agentConcurrency < 1 {
		agentConcurrency = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	q := &Queue{
		lanes:  make(map[string]*laneState),
		ctx:    ctx,
		cancel: cancel,
	}

	q.initLane(LaneAgents, agentConcurrency)
	q.initLane(LaneMaintenance, 1)

	return q
}

func (q *Queue) initLane(lane string, concurrency int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.lanes[lane]; !exists {
		q.lanes[lane] = &laneState{
			concurrency: concurrency,
			queue:       make([]*taskRecord, 0),
		}
		log.Debug().Str("lane", lane).Int("concurrency", concurrency).Msg("Lane initialized")
	}
}

// Run enqueues a task in the given lane and waits for its result. The wait
// itself is cancellable: if ctx is done before the task starts, the task is
// abandoned in place and never executed.
func (q *Queue) Run(ctx context.Context, lane string, task Task) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"switchboard.commandqueue",
		"commandqueue.run",
		attribute.String("lane", lane),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, log.Logger)

	q.ensureLane(lane)

	q.mu.Lock()
	q.taskIDSeq++
	taskID := fmt.Sprintf("%s-%d", lane, q.taskIDSeq)
	ls := q.lanes[lane]
	q.mu.Unlock()

	record := &taskRecord{
		id:         taskID,
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		result:     make(chan taskResult, 1),
	}

	ls.mu.Lock()
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	logger.Debug().
		Str("lane", lane).
		Str("task_id", taskID).
		Int("queue_size", queueSize).
		Msg("Task enqueued")

	observability.RecordEnqueue(lane)
	observability.SetQueueSize(lane, queueSize)

	go q.processLane(lane)

	select {
	case result := <-record.result:
		if result.err != nil {
			span.RecordError(result.err)
			span.SetStatus(codes.Error, result.err.Error())
		}
		return result.value, result.err
	case <-ctx.Done():
		// The worker checks record.ctx before starting, so a task
		// abandoned here is never executed.
		span.SetStatus(codes.Error, ctx.Err().Error())
		return nil, ctx.Err()
	}
}

func (q *Queue) ensureLane(lane string) {
	q.mu.RLock()
	_, exists := q.lanes[lane]
	q.mu.RUnlock()

	if !exists {
		q.initLane(lane, 1)
	}
}

// processLane starts queued tasks while the lane has free slots.
func (q *Queue) processLane(lane string) {
	q.mu.RLock()
	ls := q.lanes[lane]
	q.mu.RUnlock()

	ls.mu.Lock()
	defer ls.mu.Unlock()

	for ls.running < ls.concurrency && len(ls.queue) > 0 {
		record := ls.queue[0]
		ls.queue = ls.queue[1:]
		observability.SetQueueSize(lane, len(ls.queue))

		// The caller gave up while waiting.
		if record.ctx.Err() != nil {
			observability.RecordDequeue(lane, "abandoned")
			record.result <- taskResult{err: record.ctx.Err()}
			close(record.result)
			continue
		}

		observability.RecordDequeue(lane, "started")

		ls.running++

		q.wg.Add(1)
		go q.executeTask(lane, ls, record)
	}
}

func (q *Queue) executeTask(lane string, ls *laneState, record *taskRecord) {
	defer q.wg.Done()

	logger := tracing.LoggerFromContext(record.ctx, log.Logger)
	logger.Debug().
		Str("lane", lane).
		Str("task_id", record.id).
		Dur("waited", time.Since(record.enqueuedAt)).
		Msg("Task started")

	runCtx, cancel := context.WithCancel(record.ctx)
	stopCancel := context.AfterFunc(q.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	start := time.Now()
	value, err := record.task(runCtx)
	duration := time.Since(start)

	ls.mu.Lock()
	ls.running--
	ls.mu.Unlock()

	record.result <- taskResult{value: value, err: err}
	close(record.result)

	if err != nil {
		logger.Debug().
			Str("lane", lane).
			Str("task_id", record.id).
			Dur("duration", duration).
			Err(err).
			Msg("Task failed")
	} else {
		logger.Debug().
			Str("lane", lane).
			Str("task_id", record.id).
			Dur("duration", duration).
			Msg("Task completed")
	}

	go q.processLane(lane)
}

// QueueSize returns the number of queued (not yet running) tasks in a lane.
func (q *Queue) QueueSize(lane string) int {
	q.mu.RLock()
	ls, exists := q.lanes[lane]
	q.mu.RUnlock()

	if !exists {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.queue)
}

// RunningCount returns the number of currently executing tasks in a lane.
func (q *Queue) RunningCount(lane string) int {
	q.mu.RLock()
	ls, exists := q.lanes[lane]
	q.mu.RUnlock()

	if !exists {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.running
}

// Stats returns queued/running/concurrency counters per lane.
func (q *Queue) Stats() map[string]map[string]int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := make(map[string]map[string]int)
	for lane, ls := range q.lanes {
		ls.mu.Lock()
		stats[lane] = map[string]int{
			"queued":      len(ls.queue),
			"running":     ls.running,
			"concurrency": ls.concurrency,
		}
		ls.mu.Unlock()
	}

	return stats
}

// Drain waits up to timeout for all running tasks to finish.
func (q *Queue) Drain(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		idle := true

		q.mu.RLock()
		for _, ls := range q.lanes {
			ls.mu.Lock()
			if ls.running > 0 || len(ls.queue) > 0 {
				idle = false
			}
			ls.mu.Unlock()
		}
		q.mu.RUnlock()

		if idle {
			return true
		}

		if time.Now().After(deadline) {
			log.Warn().Dur("timeout", timeout).Msg("Timeout draining command queue")
			return false
		}

		<-ticker.C
	}
}

// Close cancels running tasks and waits for workers to exit.
func (q *Queue) Close() error {
	q.cancel()
	q.wg.Wait()
	return nil
}
