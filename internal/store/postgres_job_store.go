package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/voxflow/voxflow/internal/domain"
	_ "github.com/lib/pq"
)

const jobSchemaSQL = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	file_name TEXT NOT NULL DEFAULT '',
	file_size BIGINT NOT NULL DEFAULT 0,
	content_type TEXT NOT NULL DEFAULT '',
	doctor_name TEXT NOT NULL DEFAULT '',
	patient_name TEXT NOT NULL DEFAULT '',
	document_type TEXT NOT NULL DEFAULT '',
	correlation_id TEXT NOT NULL DEFAULT '',
	webhook_url TEXT NOT NULL DEFAULT '',
	result_text TEXT NOT NULL DEFAULT '',
	result_url TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(ctx context.Context, dsn string) (*PostgresJobStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresJobStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresJobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, jobSchemaSQL); err != nil {
		return fmt.Errorf("ensure jobs schema: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}

func (s *PostgresJobStore) Create(ctx context.Context, job domain.Job) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (id, status, file_name, file_size, content_type, doctor_name, patient_name,
		                   document_type, correlation_id, webhook_url, result_text, result_url, error,
		                   created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		job.ID,
		job.Status,
		job.FileName,
		job.FileSize,
		job.ContentType,
		job.DoctorName,
		job.PatientName,
		job.DocumentType,
		job.CorrelationID,
		job.WebhookURL,
		job.ResultText,
		job.ResultURL,
		job.Error,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id string) (domain.Job, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, status, file_name, file_size, content_type, doctor_name, patient_name,
		        document_type, correlation_id, webhook_url, result_text, result_url, error,
		        created_at, updated_at
		 FROM jobs
		 WHERE id = $1`,
		id,
	)

	var job domain.Job
	if err := row.Scan(
		&job.ID,
		&job.Status,
		&job.FileName,
		&job.FileSize,
		&job.ContentType,
		&job.DoctorName,
		&job.PatientName,
		&job.DocumentType,
		&job.CorrelationID,
		&job.WebhookURL,
		&job.ResultText,
		&job.ResultURL,
		&job.Error,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return domain.Job{}, false, nil
		}
		return domain.Job{}, false, fmt.Errorf("query job: %w", err)
	}

	return job, true, nil
}

// UpdateStatus carries the same terminal guard as ApplyResult: a finished row
// is never moved back to a live status.
func (s *PostgresJobStore) UpdateStatus(ctx context.Context, id, status string) (domain.Job, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
		 SET status = $1, updated_at = $2
		 WHERE id = $3 AND status NOT IN ($4, $5)`,
		status,
		now,
		id,
		domain.JobStatusCompleted,
		domain.JobStatusFailed,
	)
	if err != nil {
		return domain.Job{}, fmt.Errorf("update job status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Job{}, fmt.Errorf("update job status: %w", err)
	}

	job, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}
	if affected == 0 {
		return job, ErrJobTerminal
	}

	return job, nil
}

// ApplyResult writes a callback outcome as a single conditional update. The
// status guard makes the write a no-op once the row is terminal, so a late or
// duplicate callback can never roll a finished job back.
func (s *PostgresJobStore) ApplyResult(ctx context.Context, id string, result domain.Result) (domain.Job, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
		 SET status = $1,
		     result_text = CASE WHEN $2 = '' THEN result_text ELSE $2 END,
		     result_url = CASE WHEN $3 = '' THEN result_url ELSE $3 END,
		     error = CASE WHEN $4 = '' THEN error ELSE $4 END,
		     updated_at = $5
		 WHERE id = $6 AND status NOT IN ($7, $8)`,
		result.Status,
		result.ResultText,
		result.ResultURL,
		result.ErrorDetail,
		now,
		id,
		domain.JobStatusCompleted,
		domain.JobStatusFailed,
	)
	if err != nil {
		return domain.Job{}, fmt.Errorf("apply job result: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Job{}, fmt.Errorf("apply job result: %w", err)
	}

	job, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}
	if affected == 0 {
		return job, ErrJobTerminal
	}

	return job, nil
}
