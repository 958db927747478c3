package job_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docqa/features/document"
	"docqa/features/job"
	"docqa/internal/domain"
	"docqa/internal/ingest"
)

// MockRepo implements job.Repository
type MockRepo struct {
	mock.Mock
}

func (m *MockRepo) Save(ctx context.Context, j *job.Job) error {
	args := m.Called(ctx, j)
	return args.Error(0)
}
func (m *MockRepo) List(ctx context.Context, documentID string) ([]job.Job, error) {
	args := m.Called(ctx, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]job.Job), args.Error(1)
}
func (m *MockRepo) Get(ctx context.Context, id string) (*job.Job, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*job.Job), args.Error(1)
}
func (m *MockRepo) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
func (m *MockRepo) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type MockDocuments struct {
	mock.Mock
}

func (m *MockDocuments) Claim(ctx context.Context, id string) (*domain.Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockDocuments) Release(ctx context.Context, doc *domain.Document) {
	m.Called(ctx, doc)
}

// claimed returns a MockDocuments that grants the claim for doc-1.
func claimed() *MockDocuments {
	docs := new(MockDocuments)
	docs.On("Claim", mock.Anything, "doc-1").Return(&domain.Document{ID: "doc-1", Status: domain.StatusFailed}, nil)
	docs.On("Release", mock.Anything, mock.Anything).Return()
	return docs
}

type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Dispatch(ctx context.Context, task ingest.Task) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

func TestHandler_List(t *testing.T) {
	mockRepo := new(MockRepo)
	handler := job.NewHandler(job.NewService(mockRepo, nil, nil))

	mockRepo.On("List", mock.Anything, "doc-1").Return([]job.Job{{ID: "1", DocumentID: "doc-1"}}, nil)

	req := httptest.NewRequest("GET", "/jobs/failed?document_id=doc-1", nil)
	w := httptest.NewRecorder()
	handler.List(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data []job.Job      `json:"data"`
		Meta map[string]int `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "doc-1", resp.Data[0].DocumentID)
	assert.Equal(t, 1, resp.Meta["count"])
}

func TestHandler_List_Empty(t *testing.T) {
	mockRepo := new(MockRepo)
	handler := job.NewHandler(job.NewService(mockRepo, nil, nil))
	mockRepo.On("List", mock.Anything, "").Return(nil, nil)

	w := httptest.NewRecorder()
	handler.List(w, httptest.NewRequest("GET", "/jobs/failed", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"data":[]`)
}

func TestHandler_List_ServiceError(t *testing.T) {
	mockRepo := new(MockRepo)
	handler := job.NewHandler(job.NewService(mockRepo, nil, nil))
	mockRepo.On("List", mock.Anything, "").Return(nil, errors.New("database error"))

	w := httptest.NewRecorder()
	handler.List(w, httptest.NewRequest("GET", "/jobs/failed", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "database error")
}

func TestHandler_Retry(t *testing.T) {
	payload := []byte(`{"document_id":"doc-1","file_path":"/up/a.pdf","document_type":"pdf"}`)

	tests := []struct {
		name   string
		setup  func(*MockRepo, *MockDocuments, *MockDispatcher)
		status int
	}{
		{
			name: "Accepted",
			setup: func(r *MockRepo, docs *MockDocuments, d *MockDispatcher) {
				r.On("Get", mock.Anything, "job-1").Return(&job.Job{ID: "job-1", Payload: payload}, nil)
				docs.On("Claim", mock.Anything, "doc-1").Return(&domain.Document{ID: "doc-1", Status: domain.StatusFailed}, nil)
				d.On("Dispatch", mock.Anything, mock.Anything).Return(nil)
				r.On("Delete", mock.Anything, "job-1").Return(nil)
			},
			status: http.StatusAccepted,
		},
		{
			name: "Dismissed while dispatching",
			setup: func(r *MockRepo, docs *MockDocuments, d *MockDispatcher) {
				r.On("Get", mock.Anything, "job-1").Return(&job.Job{ID: "job-1", Payload: payload}, nil)
				docs.On("Claim", mock.Anything, "doc-1").Return(&domain.Document{ID: "doc-1", Status: domain.StatusFailed}, nil)
				d.On("Dispatch", mock.Anything, mock.Anything).Return(nil)
				r.On("Delete", mock.Anything, "job-1").Return(sql.ErrNoRows)
			},
			status: http.StatusAccepted,
		},
		{
			name: "Not found",
			setup: func(r *MockRepo, docs *MockDocuments, d *MockDispatcher) {
				r.On("Get", mock.Anything, "job-1").Return(nil, sql.ErrNoRows)
			},
			status: http.StatusNotFound,
		},
		{
			name: "Document already running",
			setup: func(r *MockRepo, docs *MockDocuments, d *MockDispatcher) {
				r.On("Get", mock.Anything, "job-1").Return(&job.Job{ID: "job-1", Payload: payload}, nil)
				docs.On("Claim", mock.Anything, "doc-1").Return(nil, document.ErrIngestionInFlight)
			},
			status: http.StatusConflict,
		},
		{
			name: "Dispatch error",
			setup: func(r *MockRepo, docs *MockDocuments, d *MockDispatcher) {
				r.On("Get", mock.Anything, "job-1").Return(&job.Job{ID: "job-1", Payload: payload}, nil)
				docs.On("Claim", mock.Anything, "doc-1").Return(&domain.Document{ID: "doc-1", Status: domain.StatusFailed}, nil)
				d.On("Dispatch", mock.Anything, mock.Anything).Return(errors.New("nsq error"))
				docs.On("Release", mock.Anything, mock.Anything).Return()
			},
			status: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := new(MockRepo)
			docs := new(MockDocuments)
			d := new(MockDispatcher)
			tt.setup(r, docs, d)
			handler := job.NewHandler(job.NewService(r, docs, d))

			req := httptest.NewRequest("POST", "/jobs/job-1/retry", nil)
			req.SetPathValue("id", "job-1")
			w := httptest.NewRecorder()
			handler.Retry(w, req)

			assert.Equal(t, tt.status, w.Code)
			r.AssertExpectations(t)
			docs.AssertExpectations(t)
			if tt.status == http.StatusConflict {
				d.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestHandler_Dismiss(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"Deleted", nil, http.StatusNoContent},
		{"Not found", sql.ErrNoRows, http.StatusNotFound},
		{"Database error", errors.New("connection reset"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := new(MockRepo)
			r.On("Delete", mock.Anything, "job-1").Return(tt.err)
			handler := job.NewHandler(job.NewService(r, nil, nil))

			req := httptest.NewRequest("DELETE", "/jobs/job-1", nil)
			req.SetPathValue("id", "job-1")
			w := httptest.NewRecorder()
			handler.Dismiss(w, req)

			assert.Equal(t, tt.status, w.Code)
			r.AssertExpectations(t)
		})
	}
}
