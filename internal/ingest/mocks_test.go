package ingest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"docqa/internal/domain"
	"docqa/internal/media"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) UpdateStatus(ctx context.Context, id string, u domain.StatusUpdate) error {
	return m.Called(ctx, id, u).Error(0)
}

type MockPDF struct {
	mock.Mock
}

func (m *MockPDF) Extract(ctx context.Context, path string) (*media.PDFResult, error) {
	args := m.Called(ctx, path)
	if r := args.Get(0); r != nil {
		return r.(*media.PDFResult), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockTranscriber struct {
	mock.Mock
}

func (m *MockTranscriber) TranscribeAudio(ctx context.Context, path string) (*media.Transcript, error) {
	args := m.Called(ctx, path)
	if r := args.Get(0); r != nil {
		return r.(*media.Transcript), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockTranscriber) TranscribeVideo(ctx context.Context, path string) (*media.Transcript, error) {
	args := m.Called(ctx, path)
	if r := args.Get(0); r != nil {
		return r.(*media.Transcript), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if r := args.Get(0); r != nil {
		return r.([][]float32), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockIndex struct {
	mock.Mock
}

func (m *MockIndex) CreateIndex(ctx context.Context, id string, chunks []domain.Chunk, embeddings [][]float32) error {
	return m.Called(ctx, id, chunks, embeddings).Error(0)
}

type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) RecordFailure(ctx context.Context, task Task, cause error) error {
	return m.Called(ctx, task, cause).Error(0)
}

func statusIs(s domain.Status) interface{} {
	return mock.MatchedBy(func(u domain.StatusUpdate) bool { return u.Status == s })
}
