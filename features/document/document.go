package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"docqa/internal/domain"
	"docqa/internal/ingest"
	"docqa/internal/middleware"
)

var (
	ErrDuplicate         = errors.New("duplicate document")
	ErrIngestionInFlight = errors.New("ingestion already in progress")
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type ListFilter struct {
	Status   domain.Status
	Page     int
	PageSize int
}

type Repository interface {
	Save(ctx context.Context, doc *domain.Document) error
	ExistsByHash(ctx context.Context, hash string) (bool, error)
	Get(ctx context.Context, id string) (*domain.Document, error)
	List(ctx context.Context, f ListFilter) ([]domain.Document, int, error)
	UpdateStatus(ctx context.Context, id string, u domain.StatusUpdate) error
	Transition(ctx context.Context, id string, from []domain.Status, to domain.Status) (bool, error)
	SaveSummary(ctx context.Context, id, summary string) error
	Delete(ctx context.Context, id string) error
	CountByStatus(ctx context.Context) (map[domain.Status]int, error)
}

type IndexDeleter interface {
	DeleteIndex(ctx context.Context, documentID string) error
}

// Upload describes a file already written to the upload directory.
type Upload struct {
	Path             string
	Filename         string
	OriginalFilename string
	Size             int64
	Hash             string
	Type             domain.DocumentType
}

type Service struct {
	repo       Repository
	indexes    IndexDeleter
	dispatcher ingest.Dispatcher
}

func NewService(repo Repository, indexes IndexDeleter, dispatcher ingest.Dispatcher) *Service {
	return &Service{repo: repo, indexes: indexes, dispatcher: dispatcher}
}

// Create records an uploaded file as pending and starts its ingestion.
func (s *Service) Create(ctx context.Context, up Upload) (*domain.Document, error) {
	exists, err := s.repo.ExistsByHash(ctx, up.Hash)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicate
	}

	doc := &domain.Document{
		Filename:         up.Filename,
		OriginalFilename: up.OriginalFilename,
		Type:             up.Type,
		Status:           domain.StatusPending,
		FilePath:         up.Path,
		FileSize:         up.Size,
		ContentHash:      up.Hash,
		Timestamps:       []domain.TimestampSegment{},
	}
	if err := s.repo.Save(ctx, doc); err != nil {
		return nil, err
	}

	if err := s.dispatch(ctx, doc); err != nil {
		if delErr := s.repo.Delete(ctx, doc.ID); delErr != nil {
			slog.ErrorContext(ctx, "failed to roll back document after dispatch error", "error", delErr, "document_id", doc.ID)
		}
		return nil, err
	}

	slog.InfoContext(ctx, "document queued for ingestion", "document_id", doc.ID, "type", doc.Type)
	return doc, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Document, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) SaveSummary(ctx context.Context, id, summary string) error {
	return s.repo.SaveSummary(ctx, id, summary)
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]domain.Document, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, fmt.Errorf("invalid status filter %q", f.Status)
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
	return s.repo.List(ctx, f)
}

// Delete removes the index, the record and the stored file. Documents that
// are pending or processing cannot be deleted.
func (s *Service) Delete(ctx context.Context, id string) error {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !doc.Status.IsTerminal() {
		return ErrIngestionInFlight
	}

	if err := s.indexes.DeleteIndex(ctx, id); err != nil {
		return fmt.Errorf("delete index: %w", err)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if err := os.Remove(doc.FilePath); err != nil && !os.IsNotExist(err) {
		slog.WarnContext(ctx, "failed to remove stored file", "error", err, "document_id", id)
	}
	return nil
}

// Reprocess starts a fresh run for a document whose last run has finished.
func (s *Service) Reprocess(ctx context.Context, id string) (*domain.Document, error) {
	doc, err := s.Claim(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.dispatch(ctx, doc); err != nil {
		s.Release(ctx, doc)
		return nil, err
	}
	queued := *doc
	queued.Status = domain.StatusPending
	return &queued, nil
}

var terminal = []domain.Status{domain.StatusCompleted, domain.StatusFailed}

// Claim moves a finished document back to pending. Only one of several
// concurrent callers wins; the others get ErrIngestionInFlight. The returned
// document still carries the status it had before the claim.
func (s *Service) Claim(ctx context.Context, id string) (*domain.Document, error) {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !doc.Status.IsTerminal() {
		return nil, ErrIngestionInFlight
	}
	ok, err := s.repo.Transition(ctx, id, terminal, domain.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("claim document: %w", err)
	}
	if !ok {
		return nil, ErrIngestionInFlight
	}
	return doc, nil
}

// Release restores the status a claimed document had when no run was
// started for it.
func (s *Service) Release(ctx context.Context, doc *domain.Document) {
	ctx = context.WithoutCancel(ctx)
	if _, err := s.repo.Transition(ctx, doc.ID, []domain.Status{domain.StatusPending}, doc.Status); err != nil {
		slog.ErrorContext(ctx, "failed to release document", "error", err, "document_id", doc.ID)
	}
}

func (s *Service) dispatch(ctx context.Context, doc *domain.Document) error {
	task := ingest.Task{
		DocumentID:    doc.ID,
		FilePath:      doc.FilePath,
		Type:          doc.Type,
		CorrelationID: middleware.GetCorrelationID(ctx),
	}
	if err := s.dispatcher.Dispatch(ctx, task); err != nil {
		slog.ErrorContext(ctx, "failed to dispatch ingestion", "error", err, "document_id", doc.ID)
		return fmt.Errorf("dispatch ingestion: %w", err)
	}
	return nil
}
