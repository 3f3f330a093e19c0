package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobState tracks a queued job through its short in-memory life.
type JobState string

const (
	StateQueued    JobState = "queued"
	StateActive    JobState = "active"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
)

// Job is one unit of work tagged with a processor name.
type Job struct {
	ID        string
	Name      string
	Data      any
	State     JobState
	Result    any
	Error     error
	CreatedAt time.Time
}

// Processor handles jobs registered under a name.
type Processor func(ctx context.Context, job *Job) (any, error)

// CompletedFn observes successful jobs; FailedFn observes failures.
type CompletedFn func(job *Job, result any)
type FailedFn func(job *Job, err error)

// SimpleQueue sequences work inside one process. Add dispatches the matching
// processor on its own goroutine immediately; there is no concurrency limit,
// no backpressure and no durability. It is a sequencing aid, not a real
// dispatcher: a restart loses everything.
type SimpleQueue struct {
	mu         sync.Mutex
	processors map[string]Processor
	jobs       map[string]*Job
	onComplete []CompletedFn
	onFail     []FailedFn
	wg         sync.WaitGroup
	closed     bool
	logger     *slog.Logger
}

var ErrNoProcessor = errors.New("no processor registered for job name")
var ErrQueueClosed = errors.New("queue is closed")

func NewSimpleQueue(logger *slog.Logger) *SimpleQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &SimpleQueue{
		processors: make(map[string]Processor),
		jobs:       make(map[string]*Job),
		logger:     logger,
	}
}

// Process registers the handler invoked for jobs added under name.
func (q *SimpleQueue) Process(name string, p Processor) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processors[name] = p
}

// OnCompleted registers a completion listener.
func (q *SimpleQueue) OnCompleted(fn CompletedFn) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onComplete = append(q.onComplete, fn)
}

// OnFailed registers a failure listener.
func (q *SimpleQueue) OnFailed(fn FailedFn) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onFail = append(q.onFail, fn)
}

// Add enqueues a job and schedules its processor right away. Returns the
// tracked job; errors if the queue is closed or nothing is registered for
// the name. A processor error is reported through the failed listeners
// only, never retried or re-queued — reacting is the caller's problem.
func (q *SimpleQueue) Add(name string, data any) (*Job, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrQueueClosed
	}
	p, ok := q.processors[name]
	if !ok {
		q.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNoProcessor, name)
	}

	job := &Job{
		ID:        uuid.NewString(),
		Name:      name,
		Data:      data,
		State:     StateQueued,
		CreatedAt: time.Now(),
	}
	q.jobs[job.ID] = job
	q.wg.Add(1)
	q.mu.Unlock()

	go q.run(job, p)

	return job, nil
}

func (q *SimpleQueue) run(job *Job, p Processor) {
	defer q.wg.Done()

	q.mu.Lock()
	job.State = StateActive
	q.mu.Unlock()

	result, err := p(context.Background(), job)

	q.mu.Lock()
	if err != nil {
		job.State = StateFailed
		job.Error = err
	} else {
		job.State = StateCompleted
		job.Result = result
	}
	complete := append([]CompletedFn(nil), q.onComplete...)
	fail := append([]FailedFn(nil), q.onFail...)
	q.mu.Unlock()

	if err != nil {
		q.logger.Warn("queue job failed", "job_id", job.ID, "name", job.Name, "error", err)
		for _, fn := range fail {
			fn(job, err)
		}
		return
	}
	for _, fn := range complete {
		fn(job, result)
	}
}

// Jobs returns tracked jobs, filtered to the given states. No states means
// all jobs.
func (q *SimpleQueue) Jobs(states ...JobState) []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	want := make(map[JobState]bool, len(states))
	for _, s := range states {
		want[s] = true
	}

	out := make([]*Job, 0, len(q.jobs))
	for _, j := range q.jobs {
		if len(want) == 0 || want[j.State] {
			out = append(out, j)
		}
	}
	return out
}

// Remove drops a job from tracking if it has not started running.
// Best-effort: jobs dispatch immediately, so this usually no-ops.
func (q *SimpleQueue) Remove(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[jobID]
	if !ok || j.State == StateActive {
		return false
	}
	delete(q.jobs, jobID)
	return true
}

// Wait blocks until every dispatched job has finished.
func (q *SimpleQueue) Wait() {
	q.wg.Wait()
}

// Close waits for in-flight jobs, then clears all state and listeners.
func (q *SimpleQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.wg.Wait()

	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = make(map[string]*Job)
	q.processors = make(map[string]Processor)
	q.onComplete = nil
	q.onFail = nil
}
