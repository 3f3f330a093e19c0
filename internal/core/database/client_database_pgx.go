package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/mkalinski-dev/materio/internal/config"
	"github.com/mkalinski-dev/materio/internal/core"
	"github.com/mkalinski-dev/materio/internal/models"
)

// DatabaseClient is the Postgres/pgvector implementation of both the
// relational store and the vector store.
type DatabaseClient struct {
	db *sql.DB
}

var (
	_ core.DbClient    = (*DatabaseClient)(nil)
	_ core.VectorStore = (*DatabaseClient)(nil)
)

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Sensible pool settings for an API service; adjust as needed.
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// users

func (c *DatabaseClient) CreateUser(ctx context.Context, user *models.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	const q = `
		INSERT INTO users (id, first_name, email, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()), COALESCE($6, now()))
	`
	_, err := c.db.ExecContext(ctx, q,
		user.ID, user.FirstName, user.Email, user.PasswordHash, user.CreatedAt, user.UpdatedAt)
	return err
}

func (c *DatabaseClient) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	const q = `
		SELECT id, first_name, email, password_hash, created_at, updated_at
		FROM users WHERE email = $1
	`
	var u models.User
	err := c.db.QueryRowContext(ctx, q, email).Scan(
		&u.ID, &u.FirstName, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// documents

func (c *DatabaseClient) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	const q = `
		INSERT INTO documents
			(id, workspace_id, user_id, file_name, storage_url, source_type, content_type, status, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, now()), COALESCE($10, now()))
	`
	_, err := c.db.ExecContext(ctx, q,
		doc.ID, doc.WorkspaceID, doc.UserID, doc.FileName, doc.StorageURL, doc.SourceType, doc.ContentType, doc.Status, doc.CreatedAt, doc.UpdatedAt)
	return err
}

func (c *DatabaseClient) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	const q = `
		SELECT id, workspace_id, user_id, file_name, storage_url, source_type, content_type, status, created_at, updated_at
		FROM documents
		WHERE id = $1
	`
	var d models.Document
	err := c.db.QueryRowContext(ctx, q, id).Scan(
		&d.ID, &d.WorkspaceID, &d.UserID, &d.FileName, &d.StorageURL, &d.SourceType, &d.ContentType, &d.Status, &d.CreatedAt, &d.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *DatabaseClient) ListDocumentsByWorkspace(ctx context.Context, workspaceID string) ([]models.Document, error) {
	const q = `
		SELECT id, workspace_id, user_id, file_name, storage_url, source_type, content_type, status, created_at, updated_at
		FROM documents
		WHERE workspace_id = $1
		ORDER BY created_at DESC
	`
	rows, err := c.db.QueryContext(ctx, q, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(
			&d.ID, &d.WorkspaceID, &d.UserID, &d.FileName, &d.StorageURL, &d.SourceType, &d.ContentType, &d.Status, &d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) UpdateDocumentStatus(ctx context.Context, id string, status string) error {
	const q = `
		UPDATE documents
		SET status = $2, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, status)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document not found: %s", id)
	}
	return nil
}

// import jobs

func (c *DatabaseClient) CreateImportJob(ctx context.Context, job *models.ImportJob) error {
	if job == nil {
		return errors.New("nil import job")
	}
	const q = `
		INSERT INTO import_jobs
			(id, workspace_id, user_id, name, source_url, status, processed_count, failed_count,
			 cron_schedule, knowledge_entry_id, error, last_run_at, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, COALESCE($13, now()), COALESCE($14, now()))
	`
	_, err := c.db.ExecContext(ctx, q,
		job.ID, job.WorkspaceID, job.UserID, job.Name, job.SourceURL, job.Status,
		job.ProcessedCount, job.FailedCount, job.CronSchedule, job.KnowledgeEntryID,
		job.Error, job.LastRunAt, job.CreatedAt, job.UpdatedAt)
	return err
}

func (c *DatabaseClient) GetImportJob(ctx context.Context, id string) (*models.ImportJob, error) {
	const q = importJobSelect + ` WHERE id = $1`
	row := c.db.QueryRowContext(ctx, q, id)
	job, err := scanImportJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (c *DatabaseClient) ListImportJobs(ctx context.Context, workspaceID string) ([]models.ImportJob, error) {
	const q = importJobSelect + ` WHERE workspace_id = $1 ORDER BY created_at DESC`
	return c.queryImportJobs(ctx, q, workspaceID)
}

func (c *DatabaseClient) ListScheduledImportJobs(ctx context.Context) ([]models.ImportJob, error) {
	const q = importJobSelect + ` WHERE cron_schedule <> '' ORDER BY created_at`
	return c.queryImportJobs(ctx, q)
}

func (c *DatabaseClient) UpdateImportJob(ctx context.Context, job *models.ImportJob) error {
	if job == nil {
		return errors.New("nil import job")
	}
	const q = `
		UPDATE import_jobs
		SET status = $2, processed_count = $3, failed_count = $4, knowledge_entry_id = $5,
		    error = $6, last_run_at = $7, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q,
		job.ID, job.Status, job.ProcessedCount, job.FailedCount, job.KnowledgeEntryID, job.Error, job.LastRunAt)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("import job not found: %s", job.ID)
	}
	return nil
}

const importJobSelect = `
	SELECT id, workspace_id, user_id, name, source_url, status, processed_count, failed_count,
	       cron_schedule, knowledge_entry_id, error, last_run_at, created_at, updated_at
	FROM import_jobs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanImportJob(row rowScanner) (*models.ImportJob, error) {
	var j models.ImportJob
	err := row.Scan(
		&j.ID, &j.WorkspaceID, &j.UserID, &j.Name, &j.SourceURL, &j.Status,
		&j.ProcessedCount, &j.FailedCount, &j.CronSchedule, &j.KnowledgeEntryID,
		&j.Error, &j.LastRunAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (c *DatabaseClient) queryImportJobs(ctx context.Context, q string, args ...any) ([]models.ImportJob, error) {
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ImportJob
	for rows.Next() {
		job, err := scanImportJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

// knowledge entries

func (c *DatabaseClient) CreateKnowledgeEntry(ctx context.Context, entry *models.KnowledgeEntry) error {
	if entry == nil {
		return errors.New("nil knowledge entry")
	}
	const q = `
		INSERT INTO knowledge_entries (id, workspace_id, document_id, title, status, chunk_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()), COALESCE($8, now()))
	`
	_, err := c.db.ExecContext(ctx, q,
		entry.ID, entry.WorkspaceID, entry.DocumentID, entry.Title, entry.Status, entry.ChunkCount, entry.CreatedAt, entry.UpdatedAt)
	return err
}

func (c *DatabaseClient) GetKnowledgeEntry(ctx context.Context, id string) (*models.KnowledgeEntry, error) {
	const q = `
		SELECT id, workspace_id, document_id, title, status, chunk_count, created_at, updated_at
		FROM knowledge_entries WHERE id = $1
	`
	var e models.KnowledgeEntry
	err := c.db.QueryRowContext(ctx, q, id).Scan(
		&e.ID, &e.WorkspaceID, &e.DocumentID, &e.Title, &e.Status, &e.ChunkCount, &e.CreatedAt, &e.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (c *DatabaseClient) UpdateKnowledgeEntryStatus(ctx context.Context, id, status string, chunkCount int) error {
	const q = `
		UPDATE knowledge_entries
		SET status = $2, chunk_count = $3, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, status, chunkCount)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("knowledge entry not found: %s", id)
	}
	return nil
}

// vector store

// StoreBatch upserts chunk records one row at a time so a bad record fails
// alone instead of poisoning the whole batch. Counts come back per item.
func (c *DatabaseClient) StoreBatch(ctx context.Context, records []models.VectorRecord) (*models.VectorBatchResult, error) {
	result := &models.VectorBatchResult{}
	if len(records) == 0 {
		return result, nil
	}

	const q = `
		INSERT INTO document_chunks (id, document_id, workspace_id, content, chunk_index, metadata, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (id) DO UPDATE
		SET content = EXCLUDED.content, chunk_index = EXCLUDED.chunk_index,
		    metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding
	`
	stmt, err := c.db.PrepareContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("prepare chunk upsert: %w", err)
	}
	defer stmt.Close()

	for i := range records {
		rec := &records[i]

		meta, err := json.Marshal(rec.Metadata)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: marshal metadata: %v", rec.ID, err))
			continue
		}

		vec := pgvector.NewVector(rec.Embedding)
		if _, err := stmt.ExecContext(ctx,
			rec.ID, rec.DocumentID, rec.WorkspaceID, rec.Content, rec.ChunkIndex, meta, vec,
		); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", rec.ID, err))
			continue
		}
		result.Stored++
	}

	return result, nil
}

func (c *DatabaseClient) GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error) {
	const q = `
		SELECT id, document_id, workspace_id, content, chunk_index, metadata, embedding, created_at
		FROM document_chunks
		WHERE document_id = $1
		ORDER BY chunk_index ASC
	`
	rows, err := c.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DocumentChunk
	for rows.Next() {
		var (
			ch   models.DocumentChunk
			meta []byte
			emb  pgvector.Vector
		)
		if err := rows.Scan(
			&ch.ID, &ch.DocumentID, &ch.WorkspaceID, &ch.Content, &ch.ChunkIndex, &meta, &emb, &ch.CreatedAt,
		); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &ch.Metadata); err != nil {
				return nil, fmt.Errorf("chunk %s: decode metadata: %w", ch.ID, err)
			}
		}
		ch.Embedding = emb.Slice()
		out = append(out, ch)
	}
	return out, rows.Err()
}

// SearchChunks finds the top-k most similar chunks in a workspace for a
// query embedding.
func (c *DatabaseClient) SearchChunks(ctx context.Context, workspaceID string, queryVec []float32, limit int) ([]models.DocumentChunk, error) {
	const q = `
		SELECT id, document_id, workspace_id, content, chunk_index, embedding
		FROM document_chunks
		WHERE workspace_id = $1
		ORDER BY embedding <-> $2
		LIMIT $3
	`
	vec := pgvector.NewVector(queryVec)
	rows, err := c.db.QueryContext(ctx, q, workspaceID, vec, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DocumentChunk
	for rows.Next() {
		var (
			ch  models.DocumentChunk
			emb pgvector.Vector
		)
		if err := rows.Scan(&ch.ID, &ch.DocumentID, &ch.WorkspaceID, &ch.Content, &ch.ChunkIndex, &emb); err != nil {
			return nil, err
		}
		ch.Embedding = emb.Slice()
		out = append(out, ch)
	}
	return out, rows.Err()
}
