package workflow

import (
	"sync"
	"time"

	"github.com/mkalinski-dev/materio/internal/models"
)

// Checkpoint marks one completed stage inside a workflow run.
type Checkpoint struct {
	Stage     string
	Timestamp time.Time
	Result    any
}

// RollbackPoint snapshots enough stage data to rewind a job to an earlier
// stage. One is taken after every second checkpoint.
type RollbackPoint struct {
	Stage     string
	Timestamp time.Time
	StageData map[string]any
}

// WorkflowState is the orchestrator's private replay/rollback bookkeeping
// for one job. It is owned exclusively by the orchestrator and never leaves
// this package.
type WorkflowState struct {
	Request        *ProcessRequest
	CurrentStage   string
	StageData      map[string]any
	Checkpoints    []Checkpoint
	RollbackPoints []RollbackPoint
}

func newWorkflowState() *WorkflowState {
	return &WorkflowState{StageData: make(map[string]any)}
}

// cloneStageData copies the blob so rollback points are not aliased by
// later stage writes.
func cloneStageData(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// JobStore tracks workflow jobs by ID. The default is an unbounded
// in-memory map; a bounded or durable implementation can be injected so
// "is this job trackable" stops meaning "is the process still running".
type JobStore interface {
	Get(id string) (*models.WorkflowJob, bool)
	Put(job *models.WorkflowJob)
	Delete(id string)
	List() []*models.WorkflowJob
	Clear()
}

type memoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]*models.WorkflowJob
}

// NewMemoryJobStore returns the default in-memory job store.
func NewMemoryJobStore() JobStore {
	return &memoryJobStore{jobs: make(map[string]*models.WorkflowJob)}
}

func (s *memoryJobStore) Get(id string) (*models.WorkflowJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	return j, ok
}

func (s *memoryJobStore) Put(job *models.WorkflowJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *memoryJobStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
}

func (s *memoryJobStore) List() []*models.WorkflowJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.WorkflowJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out
}

func (s *memoryJobStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = make(map[string]*models.WorkflowJob)
}
