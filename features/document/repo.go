package document

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"docqa/internal/domain"
)

const columns = `id, filename, original_filename, document_type, status, file_path, file_size, content_hash, text_content, duration, timestamps, processing_error, summary, created_at, updated_at`

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) ExistsByHash(ctx context.Context, hash string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM documents WHERE content_hash = $1)`
	if err := r.db.QueryRowContext(ctx, query, hash).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *PostgresRepo) Save(ctx context.Context, doc *domain.Document) error {
	query := `INSERT INTO documents (filename, original_filename, document_type, status, file_path, file_size, content_hash) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at, updated_at`
	return r.db.QueryRowContext(ctx, query,
		doc.Filename, doc.OriginalFilename, doc.Type, doc.Status, doc.FilePath, doc.FileSize, doc.ContentHash,
	).Scan(&doc.ID, &doc.CreatedAt, &doc.UpdatedAt)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(s scanner) (*domain.Document, error) {
	var (
		d          domain.Document
		text       sql.NullString
		duration   sql.NullFloat64
		timestamps []byte
		procErr    sql.NullString
		summary    sql.NullString
	)
	err := s.Scan(&d.ID, &d.Filename, &d.OriginalFilename, &d.Type, &d.Status, &d.FilePath, &d.FileSize,
		&d.ContentHash, &text, &duration, &timestamps, &procErr, &summary, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if text.Valid {
		d.Text = &text.String
	}
	if duration.Valid {
		d.Duration = &duration.Float64
	}
	if procErr.Valid {
		d.Error = &procErr.String
	}
	if summary.Valid {
		d.Summary = &summary.String
	}
	d.Timestamps = []domain.TimestampSegment{}
	if len(timestamps) > 0 {
		if err := json.Unmarshal(timestamps, &d.Timestamps); err != nil {
			return nil, fmt.Errorf("decode timestamps: %w", err)
		}
	}
	return &d, nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*domain.Document, error) {
	query := `SELECT ` + columns + ` FROM documents WHERE id = $1`
	return scanDocument(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepo) List(ctx context.Context, f ListFilter) ([]domain.Document, int, error) {
	var total int
	countQuery := `SELECT COUNT(*) FROM documents WHERE ($1 = '' OR status = $1)`
	if err := r.db.QueryRowContext(ctx, countQuery, string(f.Status)).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + columns + ` FROM documents WHERE ($1 = '' OR status = $1) ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.db.QueryContext(ctx, query, string(f.Status), f.PageSize, (f.Page-1)*f.PageSize)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	docs := []domain.Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, 0, err
		}
		docs = append(docs, *d)
	}
	return docs, total, rows.Err()
}

// UpdateStatus writes one state transition. Entering processing clears the
// derived fields of any earlier run, the cached summary included.
func (r *PostgresRepo) UpdateStatus(ctx context.Context, id string, u domain.StatusUpdate) error {
	var (
		res sql.Result
		err error
	)
	switch u.Status {
	case domain.StatusProcessing, domain.StatusPending:
		query := `UPDATE documents SET status = $1, text_content = NULL, duration = NULL, timestamps = '[]', processing_error = NULL, summary = NULL, updated_at = NOW() WHERE id = $2`
		res, err = r.db.ExecContext(ctx, query, u.Status, id)
	case domain.StatusCompleted:
		timestamps := u.Timestamps
		if timestamps == nil {
			timestamps = []domain.TimestampSegment{}
		}
		encoded, mErr := json.Marshal(timestamps)
		if mErr != nil {
			return fmt.Errorf("encode timestamps: %w", mErr)
		}
		var duration any
		if u.Duration != nil {
			duration = *u.Duration
		}
		query := `UPDATE documents SET status = $1, text_content = $2, duration = $3, timestamps = $4, processing_error = NULL, updated_at = NOW() WHERE id = $5`
		res, err = r.db.ExecContext(ctx, query, u.Status, u.Text, duration, string(encoded), id)
	case domain.StatusFailed:
		query := `UPDATE documents SET status = $1, processing_error = $2, updated_at = NOW() WHERE id = $3`
		res, err = r.db.ExecContext(ctx, query, u.Status, u.Error, id)
	default:
		return fmt.Errorf("unknown status %q", u.Status)
	}
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

// Transition sets the status only when the current one is in from. It reports
// whether a row changed; derived fields are left alone.
func (r *PostgresRepo) Transition(ctx context.Context, id string, from []domain.Status, to domain.Status) (bool, error) {
	states := make([]string, len(from))
	for i, st := range from {
		states[i] = string(st)
	}
	query := `UPDATE documents SET status = $1, updated_at = NOW() WHERE id = $2 AND status = ANY($3)`
	res, err := r.db.ExecContext(ctx, query, to, id, pq.Array(states))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SaveSummary caches a generated summary on a completed document. A document
// that left completed in the meantime keeps no summary.
func (r *PostgresRepo) SaveSummary(ctx context.Context, id, summary string) error {
	query := `UPDATE documents SET summary = $1, updated_at = NOW() WHERE id = $2 AND status = 'completed'`
	_, err := r.db.ExecContext(ctx, query, summary, id)
	return err
}

func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
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

func (r *PostgresRepo) CountByStatus(ctx context.Context) (map[domain.Status]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM documents GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[domain.Status]int{}
	for rows.Next() {
		var (
			s domain.Status
			n int
		)
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		counts[s] = n
	}
	return counts, rows.Err()
}
