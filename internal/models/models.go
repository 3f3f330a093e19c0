package models

import (
	"time"
)

// User represents an authenticated user of the system.
type User struct {
	ID           string    `db:"id" json:"id"`
	FirstName    string    `db:"first_name" json:"first_name"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Document represents one uploaded catalog document (PDF, XML catalog, image set).
type Document struct {
	ID          string    `db:"id" json:"id"`
	WorkspaceID string    `db:"workspace_id" json:"workspace_id"`
	UserID      string    `db:"user_id" json:"user_id"`
	FileName    string    `db:"file_name" json:"file_name"`
	StorageURL  string    `db:"storage_url" json:"storage_url"` // S3 URL or original link
	SourceType  string    `db:"source_type" json:"source_type"` // "upload" or "url"
	ContentType string    `db:"content_type" json:"content_type"`
	Status      string    `db:"status" json:"status"` // uploaded | processing | ready | failed
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// DocumentChunk represents one stored text chunk with its embedding.
type DocumentChunk struct {
	ID          string            `db:"id" json:"id"`
	DocumentID  string            `db:"document_id" json:"document_id"`
	WorkspaceID string            `db:"workspace_id" json:"workspace_id"`
	Content     string            `db:"content" json:"content"`
	ChunkIndex  int               `db:"chunk_index" json:"chunk_index"`
	Metadata    map[string]string `db:"metadata" json:"metadata,omitempty"`
	Embedding   []float32         `db:"embedding" json:"embedding"` // pgvector column
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
}

// KnowledgeEntry is the user-visible record a completed workflow produces.
// The UI composes import jobs with the entry ID to show ingestion results.
type KnowledgeEntry struct {
	ID          string    `db:"id" json:"id"`
	WorkspaceID string    `db:"workspace_id" json:"workspace_id"`
	DocumentID  string    `db:"document_id" json:"document_id"`
	Title       string    `db:"title" json:"title"`
	Status      string    `db:"status" json:"status"` // pending | indexed | failed
	ChunkCount  int       `db:"chunk_count" json:"chunk_count"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// ImportJob is a persisted, user-visible import run. Unlike workflow jobs it
// survives a restart; an optional cron expression re-runs it on a schedule.
type ImportJob struct {
	ID               string     `db:"id" json:"id"`
	WorkspaceID      string     `db:"workspace_id" json:"workspace_id"`
	UserID           string     `db:"user_id" json:"user_id"`
	Name             string     `db:"name" json:"name"`
	SourceURL        string     `db:"source_url" json:"source_url"`
	Status           string     `db:"status" json:"status"` // pending | running | completed | failed
	ProcessedCount   int        `db:"processed_count" json:"processed_count"`
	FailedCount      int        `db:"failed_count" json:"failed_count"`
	CronSchedule     string     `db:"cron_schedule" json:"cron_schedule,omitempty"`
	KnowledgeEntryID string     `db:"knowledge_entry_id" json:"knowledge_entry_id,omitempty"`
	Error            string     `db:"error" json:"error,omitempty"`
	LastRunAt        *time.Time `db:"last_run_at" json:"last_run_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}
