package stats

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
)

type MockDocumentRepo struct{ mock.Mock }

func (m *MockDocumentRepo) CountByStatus(ctx context.Context) (map[domain.Status]int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[domain.Status]int), args.Error(1)
}

type MockJobRepo struct{ mock.Mock }

func (m *MockJobRepo) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type fixedRegistry int

func (f fixedRegistry) Resident() int { return int(f) }

func TestGetStats(t *testing.T) {
	docs := new(MockDocumentRepo)
	jobs := new(MockJobRepo)
	docs.On("CountByStatus", mock.Anything).Return(map[domain.Status]int{
		domain.StatusCompleted: 7,
		domain.StatusFailed:    2,
	}, nil)
	jobs.On("Count", mock.Anything).Return(3, nil)

	h := NewHandler(docs, jobs, fixedRegistry(4))
	w := httptest.NewRecorder()
	h.GetStats(w, httptest.NewRequest("GET", "/stats", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data StatsResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 9, resp.Data.Documents)
	assert.Equal(t, 0, resp.Data.ByStatus[domain.StatusPending])
	assert.Equal(t, 7, resp.Data.ByStatus[domain.StatusCompleted])
	assert.Equal(t, 3, resp.Data.FailedJobs)
	assert.Equal(t, 4, resp.Data.ResidentIndexes)
	assert.Zero(t, resp.Data.InFlight)
}

func TestGetStats_Errors(t *testing.T) {
	t.Run("Documents", func(t *testing.T) {
		docs := new(MockDocumentRepo)
		docs.On("CountByStatus", mock.Anything).Return(nil, errors.New("db error"))

		w := httptest.NewRecorder()
		NewHandler(docs, new(MockJobRepo), fixedRegistry(0)).GetStats(w, httptest.NewRequest("GET", "/stats", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("Jobs", func(t *testing.T) {
		docs := new(MockDocumentRepo)
		jobs := new(MockJobRepo)
		docs.On("CountByStatus", mock.Anything).Return(map[domain.Status]int{}, nil)
		jobs.On("Count", mock.Anything).Return(0, errors.New("db error"))

		w := httptest.NewRecorder()
		NewHandler(docs, jobs, fixedRegistry(0)).GetStats(w, httptest.NewRequest("GET", "/stats", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, w.Body.String(), "failed to count jobs")
	})
}
