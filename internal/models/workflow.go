package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the coarse status of a workflow job, mirroring the stage
// currently executing.
type JobStatus string

const (
	JobPending        JobStatus = "pending"
	JobProcessing     JobStatus = "processing"
	JobChunking       JobStatus = "chunking"
	JobEmbedding      JobStatus = "embedding"
	JobTransforming   JobStatus = "transforming"
	JobRAGIntegrating JobStatus = "rag-integrating"
	JobCompleted      JobStatus = "completed"
	JobFailed         JobStatus = "failed"
	JobCancelled      JobStatus = "cancelled"
	JobRollback       JobStatus = "rollback"
)

// StageStatus is the sub-status of one named stage.
type StageStatus string

const (
	StagePending    StageStatus = "pending"
	StageProcessing StageStatus = "processing"
	StageCompleted  StageStatus = "completed"
	StageFailed     StageStatus = "failed"
	StageSkipped    StageStatus = "skipped"
)

// Stage names, in execution order.
const (
	StageValidation     = "validation"
	StageChunking       = "chunking"
	StageEmbedding      = "embedding"
	StageTransformation = "transformation"
	StageRAGIntegration = "rag-integration"
)

// StageOrder is the fixed stage list every workflow job is built with.
// The order is set at construction and never changes afterwards.
var StageOrder = []string{
	StageValidation,
	StageChunking,
	StageEmbedding,
	StageTransformation,
	StageRAGIntegration,
}

// WorkflowStage is one named stage record inside a job.
type WorkflowStage struct {
	Name        string        `json:"name"`
	Status      StageStatus   `json:"status"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Error       string        `json:"error,omitempty"`
	Result      any           `json:"result,omitempty"`
	Metrics     *StageMetrics `json:"metrics,omitempty"`
}

// StageMetrics samples duration and resource use for one stage run.
type StageMetrics struct {
	Duration    time.Duration `json:"duration"`
	MemoryBytes uint64        `json:"memory_bytes"`
	Goroutines  int           `json:"goroutines"`
}

// WorkflowMetrics aggregates stage metrics for the whole job.
type WorkflowMetrics struct {
	TotalDuration   time.Duration `json:"total_duration"`
	StagesCompleted int           `json:"stages_completed"`
	ChunksProduced  int           `json:"chunks_produced"`
	ChunksStored    int           `json:"chunks_stored"`
	ChunksFailed    int           `json:"chunks_failed"`
}

// WorkflowJob is one execution of the ingestion pipeline for one document.
// Mutated in place as stages execute; guarded by the orchestrator.
type WorkflowJob struct {
	ID          string          `json:"id"`
	RequestID   string          `json:"request_id"`
	WorkspaceID string          `json:"workspace_id"`
	Status      JobStatus       `json:"status"`
	Stages      []WorkflowStage `json:"stages"`
	Error       string          `json:"error,omitempty"`
	Metrics     WorkflowMetrics `json:"metrics"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// NewWorkflowJob builds a job with every stage pending, in fixed order.
func NewWorkflowJob(requestID, workspaceID string) *WorkflowJob {
	stages := make([]WorkflowStage, 0, len(StageOrder))
	for _, name := range StageOrder {
		stages = append(stages, WorkflowStage{Name: name, Status: StagePending})
	}
	now := time.Now()
	return &WorkflowJob{
		ID:          uuid.NewString(),
		RequestID:   requestID,
		WorkspaceID: workspaceID,
		Status:      JobPending,
		Stages:      stages,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Stage returns the stage record with the given name, or nil.
func (j *WorkflowJob) Stage(name string) *WorkflowStage {
	for i := range j.Stages {
		if j.Stages[i].Name == name {
			return &j.Stages[i]
		}
	}
	return nil
}

// StageIndex returns the position of the named stage, or -1.
func (j *WorkflowJob) StageIndex(name string) int {
	for i := range j.Stages {
		if j.Stages[i].Name == name {
			return i
		}
	}
	return -1
}

// Clone returns a copy safe to read or marshal while the original is still
// being mutated by its owner.
func (j *WorkflowJob) Clone() *WorkflowJob {
	out := *j
	out.Stages = make([]WorkflowStage, len(j.Stages))
	copy(out.Stages, j.Stages)
	for i := range out.Stages {
		out.Stages[i].StartedAt = copyTime(j.Stages[i].StartedAt)
		out.Stages[i].CompletedAt = copyTime(j.Stages[i].CompletedAt)
		if j.Stages[i].Metrics != nil {
			m := *j.Stages[i].Metrics
			out.Stages[i].Metrics = &m
		}
	}
	out.CompletedAt = copyTime(j.CompletedAt)
	return &out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
