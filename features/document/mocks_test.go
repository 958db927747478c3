package document_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"docqa/features/document"
	"docqa/internal/domain"
	"docqa/internal/ingest"
)

type MockRepo struct {
	mock.Mock
}

func (m *MockRepo) Save(ctx context.Context, doc *domain.Document) error {
	args := m.Called(ctx, doc)
	if args.Error(0) == nil {
		doc.ID = "doc-1"
	}
	return args.Error(0)
}

func (m *MockRepo) ExistsByHash(ctx context.Context, hash string) (bool, error) {
	args := m.Called(ctx, hash)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepo) Get(ctx context.Context, id string) (*domain.Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockRepo) List(ctx context.Context, f document.ListFilter) ([]domain.Document, int, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]domain.Document), args.Int(1), args.Error(2)
}

func (m *MockRepo) UpdateStatus(ctx context.Context, id string, u domain.StatusUpdate) error {
	return m.Called(ctx, id, u).Error(0)
}

func (m *MockRepo) Transition(ctx context.Context, id string, from []domain.Status, to domain.Status) (bool, error) {
	args := m.Called(ctx, id, from, to)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepo) SaveSummary(ctx context.Context, id, summary string) error {
	return m.Called(ctx, id, summary).Error(0)
}

func (m *MockRepo) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockRepo) CountByStatus(ctx context.Context) (map[domain.Status]int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[domain.Status]int), args.Error(1)
}

type MockIndexes struct {
	mock.Mock
}

func (m *MockIndexes) DeleteIndex(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Dispatch(ctx context.Context, task ingest.Task) error {
	return m.Called(ctx, task).Error(0)
}
