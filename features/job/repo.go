package job

import (
	"context"
	"database/sql"
)

type Repository interface {
	Save(ctx context.Context, job *Job) error
	// List returns failed jobs newest first, optionally for one document.
	List(ctx context.Context, documentID string) ([]Job, error)
	Get(ctx context.Context, id string) (*Job, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

const columns = `id, document_id, handler, payload, error, retries, created_at`

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(s scanner) (*Job, error) {
	var j Job
	var payload []byte
	if err := s.Scan(&j.ID, &j.DocumentID, &j.Handler, &payload, &j.Error, &j.Retries, &j.CreatedAt); err != nil {
		return nil, err
	}
	j.Payload = payload
	return &j, nil
}

func (r *PostgresRepo) Save(ctx context.Context, job *Job) error {
	query := `INSERT INTO failed_jobs (document_id, handler, payload, error, retries) VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`
	return r.db.QueryRowContext(ctx, query, job.DocumentID, job.Handler, []byte(job.Payload), job.Error, job.Retries).
		Scan(&job.ID, &job.CreatedAt)
}

func (r *PostgresRepo) List(ctx context.Context, documentID string) ([]Job, error) {
	query := `SELECT ` + columns + ` FROM failed_jobs WHERE ($1::text = '' OR document_id::text = $1::text) ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Job, error) {
	query := `SELECT ` + columns + ` FROM failed_jobs WHERE id = $1`
	return scanJob(r.db.QueryRowContext(ctx, query, id))
}

// Delete reports sql.ErrNoRows when the job does not exist.
func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM failed_jobs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM failed_jobs`).Scan(&count)
	return count, err
}
